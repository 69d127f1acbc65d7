// Package transform 聚合图片下载后的转换步骤，并提供统一的注册入口。
//
// 转换作者需要：
//   1. 在 internal/transform/<key>/ 目录下实现 Func；
//   2. 在 init() 中通过 MustRegister 注册；
//   3. 在 internal/config/modules.go 中空导入该包，使配置里的 DefaultTransform 可以引用它。
//
// 转换结果会写入缓存，Func 必须返回新的 Image（或原样返回输入），不得修改输入的 Data。
package transform
