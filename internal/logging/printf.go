package logging

import "github.com/sirupsen/logrus"

// PrintfLogger 把 Errorf/Warningf/Infof/Debugf 风格的接口（例如 badger.Logger）
// 接到 logrus 上；依赖库的 Info 级输出过于频繁，统一降为 Debug。
type PrintfLogger struct {
	Entry *logrus.Entry
}

// NewPrintfLogger 以 component 字段区分来源。
func NewPrintfLogger(logger logrus.FieldLogger, component string) *PrintfLogger {
	return &PrintfLogger{Entry: logger.WithField("component", component)}
}

func (l *PrintfLogger) Errorf(format string, args ...interface{}) {
	l.Entry.Errorf(format, args...)
}

func (l *PrintfLogger) Warningf(format string, args ...interface{}) {
	l.Entry.Warnf(format, args...)
}

func (l *PrintfLogger) Infof(format string, args ...interface{}) {
	l.Entry.Debugf(format, args...)
}

func (l *PrintfLogger) Debugf(format string, args ...interface{}) {
	l.Entry.Debugf(format, args...)
}
