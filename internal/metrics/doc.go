// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖图像生成、
内容审核、流水线、缓存与审计数据库。

# 概述

Collector 使用 promauto 自动注册到默认 Registry，所有指标按
namespace 隔离。它实现 image.AttemptObserver 与
moderation.DecisionObserver，直接挂到生成客户端与审核门上。

# 主要能力

  - 生成指标：按 outcome 与状态码类别统计尝试次数与耗时。
  - 审核指标：放行/拒绝计数与评分分布。
  - 流水线指标：按结果（stored/rejected/cached/failed）统计运行次数与耗时。
  - 缓存指标：命中与未命中计数。
  - 数据库指标：连接数 Gauge 与查询耗时 Histogram。
*/
package metrics
