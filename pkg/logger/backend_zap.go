package logger

import (
	"log/slog"
	"os"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newZapHandler writes JSON lines through zap. Outside dev, repeated
// messages are sampled per cfg.Sampling so a reconnect storm cannot flood
// the output.
func newZapHandler(cfg Config) slog.Handler {
	lvl := cfg.level()

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder
	if cfg.AddSource {
		enc.EncodeCaller = zapcore.ShortCallerEncoder
	} else {
		enc.CallerKey = zapcore.OmitKey
	}

	var core zapcore.Core = zapcore.NewCore(
		zapcore.NewJSONEncoder(enc),
		zapcore.Lock(zapcore.AddSync(cfg.Output)),
		zap.NewAtomicLevelAt(toZapLevel(lvl)),
	)
	if s := cfg.Sampling.withDefaults(); cfg.Env != EnvDev && !s.Off {
		core = zapcore.NewSamplerWithOptions(core, s.Tick, s.Initial, s.Thereafter)
	}

	opts := []zap.Option{zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if cfg.AddSource {
		// Skip the slog adapter frame.
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return slogzap.Option{Level: lvl, Logger: zap.New(core, opts...)}.NewZapHandler()
}

// toZapLevel maps slog's steps of four onto zap's steps of one.
func toZapLevel(lvl slog.Level) zapcore.Level {
	return min(max(zapcore.Level(lvl/4), zapcore.DebugLevel), zapcore.ErrorLevel)
}
