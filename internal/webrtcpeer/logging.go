package webrtcpeer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// LevelTrace is below slog.LevelDebug; pion's trace output lands here.
const LevelTrace = slog.LevelDebug - 4

type slogLoggerFactory struct {
	log *slog.Logger
}

// NewSlogLoggerFactory routes pion logs into log, tagging each record with
// the pion scope.
func NewSlogLoggerFactory(log *slog.Logger) logging.LoggerFactory {
	if log == nil {
		log = slog.Default()
	}
	return slogLoggerFactory{log: log}
}

func (f slogLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return slogLeveledLogger{log: f.log.With("pion_scope", scope)}
}

type slogLeveledLogger struct {
	log *slog.Logger
}

func (l slogLeveledLogger) logf(level slog.Level, format string, args ...interface{}) {
	ctx := context.Background()
	if !l.log.Enabled(ctx, level) {
		return
	}
	l.log.Log(ctx, level, fmt.Sprintf(format, args...))
}

func (l slogLeveledLogger) Trace(msg string) { l.log.Log(context.Background(), LevelTrace, msg) }
func (l slogLeveledLogger) Tracef(format string, args ...interface{}) {
	l.logf(LevelTrace, format, args...)
}
func (l slogLeveledLogger) Debug(msg string) { l.log.Debug(msg) }
func (l slogLeveledLogger) Debugf(format string, args ...interface{}) {
	l.logf(slog.LevelDebug, format, args...)
}
func (l slogLeveledLogger) Info(msg string) { l.log.Info(msg) }
func (l slogLeveledLogger) Infof(format string, args ...interface{}) {
	l.logf(slog.LevelInfo, format, args...)
}
func (l slogLeveledLogger) Warn(msg string) { l.log.Warn(msg) }
func (l slogLeveledLogger) Warnf(format string, args ...interface{}) {
	l.logf(slog.LevelWarn, format, args...)
}
func (l slogLeveledLogger) Error(msg string) { l.log.Error(msg) }
func (l slogLeveledLogger) Errorf(format string, args ...interface{}) {
	l.logf(slog.LevelError, format, args...)
}
