// Package cache 记录本地已物化的包：每个包身份对应 StoragePath/<name-version>/ 目录，
// 目录中保存远端 meta.json 的原样副本以及拉取后的负载文件。
//
// 索引记录（身份、meta.json 的存储端哈希、远端位置）可以保存在目录内的
// .entry.json（fs 索引），也可以集中保存在 StoragePath/.index 下的 badger 库中。
// 同一身份至多一条记录；哈希变化时的更新会清空旧目录。
package cache
