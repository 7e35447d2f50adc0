// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存管理能力，以及提示词到已存储图像
位置的索引。

# 核心类型

  - Manager：缓存管理器，持有 Redis 客户端与连接池配置，
    提供 Get/Set/Delete 基础操作与 GetJSON/SetJSON 便捷方法，
    后台定时 Ping 做健康检查。
  - ImageIndex：以规范化提示词与输出变体（尺寸、格式、模型）的
    哈希为键，记录已通过审核的图像位置，命中时流水线跳过生成。
  - Entry：缓存条目，包含工件 ID、位置、评分与阈值。

# 错误语义

未命中返回 ErrCacheMiss，可用 IsCacheMiss 判断。
*/
package cache
