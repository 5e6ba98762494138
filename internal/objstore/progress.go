package objstore

import "io"

// ProgressReader 包装 io.Reader，每次读取后回调累计字节数。
type ProgressReader struct {
	R     io.Reader
	Total int64
	Fn    ProgressFunc

	done int64
}

// NewProgressReader 在 fn 为空时直接返回 r。
func NewProgressReader(r io.Reader, total int64, fn ProgressFunc) io.Reader {
	if fn == nil {
		return r
	}
	return &ProgressReader{R: r, Total: total, Fn: fn}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.R.Read(b)
	if n > 0 {
		p.done += int64(n)
		p.Fn(p.done, p.Total)
	}
	return n, err
}

// ProgressSink 是“只计数”的 Reader：被读取多少字节就报告多少进度，
// 供上传 SDK 通过 Progress 读取器回报已发送的字节。
type ProgressSink struct {
	Total int64
	Fn    ProgressFunc

	done int64
}

func (s *ProgressSink) Read(b []byte) (int, error) {
	s.done += int64(len(b))
	if s.Fn != nil {
		s.Fn(s.done, s.Total)
	}
	return len(b), nil
}

// Done 返回已报告的字节数。
func (s *ProgressSink) Done() int64 { return s.done }
