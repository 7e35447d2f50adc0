// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 types 提供 imagegate 各包共享的结构化错误。

types 不依赖任何内部包。Error 携带错误码、HTTP 状态码、是否可重试、
已用尝试次数与底层原因；调用方用 errors.Is 与哨兵错误比较错误码，
用 GetErrorCode 读取错误码，用 IsRetryable 判断是否值得重试。
*/
package types
