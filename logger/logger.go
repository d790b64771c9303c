package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the process-wide logger. It is a no-op until Init is called so
// packages can log from tests without setup.
var Log = zap.NewNop().Sugar()

// Options controls where log output goes.
type Options struct {
	Level string // debug, info, warn, error
	File  string // optional rotating file, stdout only when empty

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init builds the production logger. When opts.File is set the JSON output is
// also written to a lumberjack rotated file.
func Init(opts Options) error {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.Set(opts.Level); err != nil {
			return err
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	if opts.File != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 7),
		}))
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.NewMultiWriteSyncer(sinks...),
		level,
	)
	Log = zap.New(core, zap.AddCaller()).Sugar()
	return nil
}

// Sync flushes buffered entries.
func Sync() {
	_ = Log.Sync()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
