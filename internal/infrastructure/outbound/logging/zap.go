package logging

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sophialabs/stubport/internal/infrastructure/ports"
)

var _ ports.Logger = (*ZapLogger)(nil)

// ZapLogger adapts a sugared zap logger to ports.Logger. Arguments are
// alternating keys and values, as with slog.
type ZapLogger struct {
	logger *zap.SugaredLogger
}

// NewZap builds a zap logger writing JSON or console lines to w.
func NewZap(level, format string, w io.Writer) (*ZapLogger, error) {
	lvl, err := parseZapLevel(normalizeLevel(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(format) {
	case "", "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "text", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), zap.NewAtomicLevelAt(lvl))
	return &ZapLogger{logger: zap.New(core).Sugar()}, nil
}

func (l *ZapLogger) Info(msg string, args ...any)  { l.logger.Infow(msg, args...) }
func (l *ZapLogger) Warn(msg string, args ...any)  { l.logger.Warnw(msg, args...) }
func (l *ZapLogger) Error(msg string, args ...any) { l.logger.Errorw(msg, args...) }
func (l *ZapLogger) Debug(msg string, args ...any) { l.logger.Debugw(msg, args...) }

// Sync flushes buffered log entries.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

func parseZapLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("supported levels are: debug, info, warn, error")
	}
}
