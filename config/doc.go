// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package config 提供 imagegate 的配置加载功能。
//
// 配置按 默认值 → YAML 文件 → IMAGEGATE_* 环境变量 的顺序合并，
// 加载完成后只读。生成服务 API Key 为空时回退到 OPENAI_API_KEY。
package config
