package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type ZapLogger struct {
	log *zap.SugaredLogger
}

var zapLogger *ZapLogger

// NewLogger builds config and installs the result as the global logger.
// fields are attached to every entry.
func NewLogger(config zap.Config, fields ...any) (*ZapLogger, error) {
	logger, err := config.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, err
	}
	zapLogger = &ZapLogger{log: logger.Sugar().With(fields...)}
	return zapLogger, nil
}

// NewNop swaps the global logger for one that discards everything.
func NewNop() *ZapLogger {
	zapLogger = &ZapLogger{log: zap.NewNop().Sugar()}
	return zapLogger
}

// NewObserved swaps the global logger for an in-memory one recording entries
// at level and above. Tests use it to assert on alerts.
func NewObserved(level zapcore.Level) (*ZapLogger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	zapLogger = &ZapLogger{log: zap.New(core).Sugar()}
	return zapLogger, logs
}

func GetLogger() *ZapLogger {
	if zapLogger == nil {
		panic("logger not initialized")
	}
	return zapLogger
}

func (l *ZapLogger) Panic(message string, values ...any) { l.log.Panicw(message, values...) }
func (l *ZapLogger) Fatal(err error, values ...any)      { l.log.Fatalw(err.Error(), values...) }
func (l *ZapLogger) Info(message string, values ...any)  { l.log.Infow(message, values...) }
func (l *ZapLogger) Warn(message string, values ...any)  { l.log.Warnw(message, values...) }
func (l *ZapLogger) Error(message string, values ...any) { l.log.Errorw(message, values...) }
func (l *ZapLogger) Debug(message string, values ...any) { l.log.Debugw(message, values...) }

// Printf lets the logger back fasthttp.Server.Logger.
func (l *ZapLogger) Printf(format string, args ...interface{}) {
	l.log.Infof(format, args...)
}
