package observability

import (
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"

	"github.com/randalmurphal/eventcore/pkg/eventcore/config"
)

// NewLogger builds a slog.Logger backed by zap. Output goes to stderr with
// RFC3339 timestamps. The returned sync function flushes buffered entries.
func NewLogger(s config.LogSettings) (*slog.Logger, func() error, error) {
	z, err := newZapLogger(s, []string{"stderr"})
	if err != nil {
		return nil, nil, err
	}
	return slog.New(zapslog.NewHandler(z.Core())), z.Sync, nil
}

func newZapLogger(s config.LogSettings, outputs []string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(s.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	encoding := s.Encoding
	if encoding == "" {
		encoding = "json"
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		DisableStacktrace: true,
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
	}
	if s.Sampling {
		zapConfig.Sampling = &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		}
	}
	return zapConfig.Build()
}
