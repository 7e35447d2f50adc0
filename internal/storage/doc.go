// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 storage 提供图像工件的本地文件存储。

FileStore 同时实现 Store（存放通过审核的标准化图像）与
image.ArtifactWriter（存放下载得到的原始字节）。每个工件使用
唯一 ID 命名，写入同目录临时文件后原子重命名，并发写入互不干扰，
取消的写入不会留下可见文件。
*/
package storage
