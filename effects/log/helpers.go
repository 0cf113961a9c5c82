package log

import (
	"os"

	"github.com/on-the-ground/effect_stack/effects"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewTestLogger returns a debug-level console logger writing to stdout.
func NewTestLogger() *zap.Logger {
	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.Lock(os.Stdout),
		zap.DebugLevel,
	)
	return zap.New(consoleCore)
}

// TestHandler is a ZapHandler backed by NewTestLogger.
func TestHandler() effects.Handler {
	return ZapHandler(NewTestLogger())
}
