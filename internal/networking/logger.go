package networking

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// Below slog.LevelDebug, so pion's trace output is dropped at any level the
// client can be configured with.
const levelTrace = slog.Level(-8)

// Route pion's internal logging through slog, with the pion scope as an attribute.
type SlogLoggerFactory struct {
	Logger *slog.Logger
}

func (f SlogLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &slogLeveledLogger{logger: logger.With("pion", scope)}
}

type slogLeveledLogger struct {
	logger *slog.Logger
}

func (l *slogLeveledLogger) log(level slog.Level, msg string) {
	l.logger.Log(context.Background(), level, msg)
}

func (l *slogLeveledLogger) logf(level slog.Level, format string, args ...interface{}) {
	if !l.logger.Enabled(context.Background(), level) {
		return
	}
	l.logger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l *slogLeveledLogger) Trace(msg string) { l.log(levelTrace, msg) }
func (l *slogLeveledLogger) Tracef(format string, args ...interface{}) {
	l.logf(levelTrace, format, args...)
}
func (l *slogLeveledLogger) Debug(msg string) { l.log(slog.LevelDebug, msg) }
func (l *slogLeveledLogger) Debugf(format string, args ...interface{}) {
	l.logf(slog.LevelDebug, format, args...)
}
func (l *slogLeveledLogger) Info(msg string) { l.log(slog.LevelInfo, msg) }
func (l *slogLeveledLogger) Infof(format string, args ...interface{}) {
	l.logf(slog.LevelInfo, format, args...)
}
func (l *slogLeveledLogger) Warn(msg string) { l.log(slog.LevelWarn, msg) }
func (l *slogLeveledLogger) Warnf(format string, args ...interface{}) {
	l.logf(slog.LevelWarn, format, args...)
}
func (l *slogLeveledLogger) Error(msg string) { l.log(slog.LevelError, msg) }
func (l *slogLeveledLogger) Errorf(format string, args ...interface{}) {
	l.logf(slog.LevelError, format, args...)
}
