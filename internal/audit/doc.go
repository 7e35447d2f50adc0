// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 audit 把每一次审核判定写入数据库，形成可追溯的审计日志。

Recorder 基于 database.PoolManager，启动时通过 GORM AutoMigrate
建表 moderation_records。写入走 WithTransactionRetry，锁冲突与
连接抖动会按指数退避重试。List 支持按放行状态、artifact ID 与
起始时间过滤，结果按创建时间倒序。
*/
package audit
