// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 pipeline 把生成客户端、审核门与存储串成一条流水线。

# 流程

Orchestrator.Run 对单个提示词依次执行：

 1. 查询提示词缓存（可选），命中且文件仍存在时直接返回 cached；
 2. 调用 Generator 生成标准化图像，重试预算完全由客户端掌控；
 3. 调用 Moderator 按 score < threshold 做出判定；
 4. 放行则写入 Store 并登记缓存，拒绝则丢弃原始字节；
 5. 写入审计日志（可选）并上报指标。

拒绝是数据（Outcome=rejected），不是错误。任一步失败即短路，返回
*types.Error，已失败的生成不会被再次尝试。每一步都会产生 OpenTelemetry
span 并通过 zap 记录状态转换。

# 批量

RunBatch 借助 errgroup 按 Config.Concurrency 并发运行多个提示词，
结果顺序与输入一致，单个失败不会取消其他提示词。
*/
package pipeline
