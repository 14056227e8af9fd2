package logging

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sophialabs/stubport/internal/infrastructure/ports"
)

// Rotation limits for file output.
const (
	fileMaxSizeMB  = 50
	fileMaxBackups = 5
	fileMaxAgeDays = 14
)

// Output returns where log lines go: stdout, or a size-rotated file when path
// is set. Close releases the file.
func Output(path string) io.WriteCloser {
	if path == "" {
		return nopCloser{os.Stdout}
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    fileMaxSizeMB,
		MaxBackups: fileMaxBackups,
		MaxAge:     fileMaxAgeDays,
		LocalTime:  true,
	}
}

// Build creates the logger for backend ("slog" or "zap").
func Build(backend, level, format string, w io.Writer) (ports.Logger, error) {
	switch backend {
	case "", "slog":
		l, err := NewSlog(level, format, w)
		if err != nil {
			return nil, err
		}
		return l, nil
	case "zap":
		l, err := NewZap(level, format, w)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unsupported log backend %q", backend)
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
