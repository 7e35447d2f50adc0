// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供审计库的 GORM 连接打开与连接池管理。

# 概述

Open 按 config.DatabaseConfig 选择驱动：sqlite 使用纯 Go 的
glebarez/sqlite，postgres 使用 gorm.io/driver/postgres。PoolManager
封装底层 sql.DB 的连接池参数，后台健康检查定时探活，并把连接数
上报给 StatsObserver（通常是 metrics.Collector）。

# 核心类型

  - PoolManager：持有 GORM DB 与 sql.DB，提供 DB()、Ping()、Stats()、Close()。
  - PoolConfig：最大空闲/打开连接数、生命周期、健康检查间隔。
  - PoolStats：友好格式的连接池统计信息。
  - TransactionFunc：事务回调函数类型。

# 事务

WithTransaction 执行单次事务；WithTransactionRetry 复用 llm/retry
的指数退避，只对死锁、序列化失败、SQLite 写锁与连接类错误重试。
*/
package database
