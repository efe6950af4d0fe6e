package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger. Format "console" gives a colored development encoder,
// anything else the production JSON encoder. Unknown levels fall back to info.
func New(level, format string) *zap.Logger {
	var zapConfig zap.Config

	lvl := zap.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zap.InfoLevel
	}

	if format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := zapConfig.Build()
	if err != nil {
		fmt.Printf("Failed to create logger: %v. Using example logger.\n", err)
		return zap.NewExample()
	}
	return logger
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
