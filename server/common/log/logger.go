package log

import (
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	envLogFilePath = "LOG_FILE_PATH"
	envLogFormat   = "LOG_FORMAT"
	envLogLevel    = "LOG_LEVEL"
	logFormatJSON  = "json"
)

var global atomic.Pointer[zap.SugaredLogger]

func init() {
	logger, err := newLoggerFromEnv()
	if err != nil {
		logger = zap.NewNop()
	}
	Use(logger)
}

func newLoggerFromEnv() (*zap.Logger, error) {
	format := strings.ToLower(strings.TrimSpace(os.Getenv(envLogFormat)))

	var cfg zap.Config
	if format == logFormatJSON {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.OutputPaths = []string{"stdout"}
	if path := strings.TrimSpace(os.Getenv(envLogFilePath)); path != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, path)
	}
	if raw := strings.TrimSpace(os.Getenv(envLogLevel)); raw != "" {
		lv, err := zapcore.ParseLevel(raw)
		if err == nil {
			cfg.Level = zap.NewAtomicLevelAt(lv)
		}
	}
	return cfg.Build(zap.AddCallerSkip(1))
}

// Use replaces the process logger. The caller keeps ownership of logger and
// is responsible for syncing it.
func Use(logger *zap.Logger) {
	global.Store(logger.Sugar())
}

// L returns the underlying sugared logger for callers that want structured
// fields instead of formatted lines.
func L() *zap.SugaredLogger {
	return global.Load()
}

func Sync() {
	_ = global.Load().Sync()
}

func Debugf(format string, args ...any) {
	global.Load().Debugf(format, args...)
}

func Infof(format string, args ...any) {
	global.Load().Infof(format, args...)
}

func Warnf(format string, args ...any) {
	global.Load().Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	global.Load().Errorf(format, args...)
}

// Exceptionf logs at error level with a stack trace attached.
func Exceptionf(format string, args ...any) {
	global.Load().With(zap.Stack("stack")).Errorf(format, args...)
}
