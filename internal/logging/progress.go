package logging

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// TransferProgress 返回一个进度回调：按 interval 节流输出
// "~x MB transferred (y%)"，传输完成时无论节流与否都会输出最后一行。
// interval <= 0 时每次回调都输出。
func TransferProgress(logger logrus.FieldLogger, fields logrus.Fields, interval time.Duration) func(done, total int64) {
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func(done, total int64) {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		finished := total > 0 && done >= total
		if !finished && interval > 0 && !last.IsZero() && now.Sub(last) < interval {
			return
		}
		last = now

		entry := logger.WithFields(fields).WithFields(logrus.Fields{
			"bytes": done,
			"total": total,
		})
		entry.Info(FormatProgress(done, total))
	}
}

// FormatProgress 渲染进度文本；总量未知时改为附带可读的字节数。
func FormatProgress(done, total int64) string {
	mb := float64(done) / (1 << 20)
	if total <= 0 {
		return fmt.Sprintf("~%1.1f MB transferred (%s)", mb, humanize.IBytes(uint64(done)))
	}
	return fmt.Sprintf("~%1.1f MB transferred (%1.1f%%)", mb, float64(done)/float64(total)*100)
}
