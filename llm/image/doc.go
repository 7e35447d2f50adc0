// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 image 提供图像生成客户端：向远端生成服务（OpenAI Images API 兼容）
提交请求，解析返回的图像引用，下载二进制，并在有限的尝试预算内
处理限流、瞬时错误与畸形响应。

# 概述

生成客户端是整条流水线中唯一包含网络 I/O 与重试的组件。请求尺寸与
响应格式来自配置而不是调用方，保证下游标准化后的尺寸一致。

# 核心类型

  - Client：Generate(ctx, prompt) 返回 StandardizedImage。
  - Service：远端传输层，Submit 提交生成请求，Fetch 下载二进制。
    OpenAIService 是默认实现。
  - Normalizer：把 RawImage 转为规范格式的纯函数。
  - ArtifactWriter：成功路径上持久化原始字节（唯一 ID，原子写入）。

# 重试语义

  - 429 记为 RateLimited，其余非 2xx、网络错误、单次调用超时记为
    TransientError；2xx 但缺少图像引用、下载失败同样计入预算。
  - 所有失败类型共享同一个尝试预算，退避只发生在两次尝试之间。
  - 预算耗尽时：最后一次为限流返回 RATE_LIMIT_EXHAUSTED，下载失败返回
    DOWNLOAD_FAILED，其余返回 REMOTE_UNAVAILABLE。
  - 调用方取消时在下一个挂起点（限速等待、退避等待、网络调用）中止。
*/
package image
