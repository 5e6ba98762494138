package objstore

import (
	"context"
	"errors"
	"io"
	"iter"
	"net/textproto"
	"time"
)

// ContentHashMeta 是上传成员时附带的预计算哈希元数据键。
const ContentHashMeta = "Content-Hash"

// ErrNotFound 表示对象不存在。
var ErrNotFound = errors.New("object not found")

// ProgressFunc 以 (已传输字节, 总字节) 报告传输进度；total 未知时为 -1。
type ProgressFunc func(done, total int64)

// ObjectInfo 描述一个对象；ContentHash 由存储端报告（ETag 等价物），无需下载正文即可获得。
type ObjectInfo struct {
	Key         string            `json:"key"`
	ContentHash string            `json:"content_hash"`
	Size        int64             `json:"size"`
	ModTime     time.Time         `json:"mod_time"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Meta 以大小写不敏感的方式读取元数据。
func (o ObjectInfo) Meta(key string) string {
	if v, ok := o.Metadata[key]; ok {
		return v
	}
	canonical := textproto.CanonicalMIMEHeaderKey(key)
	for k, v := range o.Metadata {
		if textproto.CanonicalMIMEHeaderKey(k) == canonical {
			return v
		}
	}
	return ""
}

// Gateway 是桶内对象的读写入口。所有实现都应当是无状态的薄适配层，
// 重试策略（若有）由实现或调用方自行决定。
type Gateway interface {
	// List 惰性枚举 prefix 下的全部对象；遇到错误时以 (零值, err) 产出并结束。
	List(ctx context.Context, prefix string) iter.Seq2[ObjectInfo, error]

	// Stat 返回对象信息而不下载正文。
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// Get 返回对象正文，调用方负责 Close。
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Download 将对象直接写入本地 dst，并返回传输时存储端报告的对象信息。
	Download(ctx context.Context, key, dst string, progress ProgressFunc) (ObjectInfo, error)

	// Put 写入对象并附带元数据；size 未知时为 -1。
	Put(ctx context.Context, key string, body io.Reader, size int64, metadata map[string]string, progress ProgressFunc) (ObjectInfo, error)
}
