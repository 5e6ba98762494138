// Package objstore 定义对象存储网关（list/get/put + 对象自身的内容哈希），
// 并提供存储后端驱动的统一注册入口。
//
// 驱动作者需要：
//  1. 在 internal/objstore/<driver>/ 目录下实现 Gateway；
//  2. 在 init() 中通过 MustRegister 注册 Driver；
//  3. 保证 ObjectInfo.ContentHash 是存储端自身报告的哈希，而不是调用方传入的元数据。
//
// 运行时通过配置中的 Backend 字段选择驱动，不存在运行期替换方法的行为。
package objstore
