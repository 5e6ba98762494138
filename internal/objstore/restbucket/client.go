package restbucket

import (
	"net"
	"net/http"
	"time"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewHTTPClient 返回访问 REST 桶服务的 http.Client。
// timeout 只约束等待响应头的时间，大文件传输本身不受限制，调用方用 context 控制整体时长。
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := defaultTransport.Clone()
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}
