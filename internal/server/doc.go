// Package server 用 Fiber 把本地目录桶以 REST 协议暴露出来，供 rest 存储后端访问。
// 桶由配置中的 [[ServeBucket]] 声明，启动时构建一次 BucketRegistry 并在请求间复用。
// 诊断接口统一挂在 /-/ 前缀下（见 routes 子包）。
package server
