// Package logging wraps logrus with the per-level method shape the teacher
// repo's internal/common/logger.go used (Info/Warn/Error/Debug), so the
// rest of the module logs through one familiar call shape while getting
// logrus's structured fields and levels underneath.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is a thin, component-scoped facade over *logrus.Entry.
type Logger struct {
	entry *logrus.Entry
}

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.DebugLevel)
	return l
}

// For returns a Logger tagged with component=name, e.g. "dict", "rdb",
// "aof", "coordinator".
func For(component string) *Logger {
	return &Logger{entry: base.WithField("component", component)}
}

func (l *Logger) Info(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *Logger) Debug(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

// With returns a child Logger carrying an additional structured field,
// e.g. log.With("db", 0) or log.With("phase", "draining").
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}
