// Package logger builds the zap logger shared by the microservices.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log file rotation settings.
const (
	maxSizeMB  = 100
	maxBackups = 5
	maxAgeDays = 28
)

// New returns a JSON logger at the given level ("debug", "info", "warn", "error"). When file is not empty the
// output is written to it and rotated, otherwise it goes to stderr.
func New(level, file string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var ws zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	if file != "" {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   file,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   true,
		})
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), ws, lvl)

	return zap.New(core, zap.AddCaller()), nil
}
