// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 imaging 把下载得到的原始图像转换为应用的规范格式。

Normalizer 解码 PNG、JPEG、GIF 与 WebP 输入，使用 Catmull-Rom
插值缩放到配置的规范尺寸，再编码为 PNG（默认）或 JPEG。它是
纯函数：不做 I/O，也不持有可变状态。
*/
package imaging
