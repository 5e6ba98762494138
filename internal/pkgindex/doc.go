// Package pkgindex 把对象存储、本地缓存与包格式串起来：
// Reconciler 由桶列举结果更新本地索引，Fetcher 下载并双重校验负载，
// Publisher 逐成员上传构建产物（meta.json 最后）。Index 把三者组合成一个 Backend。
package pkgindex
