// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 imagegate 命令行入口。

# 概述

cmd/imagegate 读取 YAML 配置与 IMAGEGATE_* 环境变量，装配生成客户端、
审核闸门、文件存储与编排器，并以 JSON 行输出每个提示词的结果。

# 主要能力

  - 子命令：generate（单个提示词）、batch（并发批量）、version、help
  - 可选组件：Redis 结果缓存、审计数据库（sqlite / postgres）、
    Prometheus 指标端点、OpenTelemetry 追踪
  - 退出码：全部成功为 0，任一提示词失败为 1，参数错误为 2
  - 收到 SIGINT/SIGTERM 时取消进行中的退避等待并释放资源
*/
package main
