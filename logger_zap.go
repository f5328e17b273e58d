package tenantauth

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a zap logger to Logger. Key/value arguments are passed
// through the sugared API.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

var _ Logger = (*ZapLogger)(nil)

// NewZapLogger wraps an existing zap logger
func NewZapLogger(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{sugar: l.Sugar()}
}

// NewZapLoggerFor builds a zap logger for an environment. "dev" uses the
// console encoder, everything else JSON on stdout.
func NewZapLoggerFor(environment, level, service string) *ZapLogger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	var encoder zapcore.Encoder
	if environment == "dev" {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "time"
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeDuration = zapcore.SecondsDurationEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zap.NewAtomicLevelAt(zapLevel))
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zap.ErrorLevel)).
		With(zap.String("service", service), zap.String("environment", environment))

	return NewZapLogger(logger)
}

func (z *ZapLogger) Debug(msg string, args ...any) { z.sugar.Debugw(msg, args...) }
func (z *ZapLogger) Info(msg string, args ...any)  { z.sugar.Infow(msg, args...) }
func (z *ZapLogger) Warn(msg string, args ...any)  { z.sugar.Warnw(msg, args...) }
func (z *ZapLogger) Error(msg string, args ...any) { z.sugar.Errorw(msg, args...) }

// With returns a logger carrying the given key/value pairs
func (z *ZapLogger) With(args ...any) *ZapLogger {
	return &ZapLogger{sugar: z.sugar.With(args...)}
}

// Sync flushes buffered entries
func (z *ZapLogger) Sync() error {
	return z.sugar.Sync()
}
