// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 CLI 在批量运行期间暴露的指标端点。

Manager 封装 net/http.Server：Start 非阻塞监听，Shutdown 在超时内
排空连接且可重复调用，Errors 返回异步服务错误。NewMetricsHandler
挂载 promhttp 的 /metrics 与简单的 /healthz。
*/
package server
