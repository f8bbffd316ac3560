package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type Backend string

const (
	BackendStd Backend = "std" // slog text handler
	BackendZap Backend = "zap" // zap JSON core behind slog
)

type Env string

const (
	EnvDev   Env = "dev"
	EnvStage Env = "stage"
	EnvProd  Env = "prod"
)

type Config struct {
	Service    string
	Version    string
	InstanceID string

	Level   slog.Level
	Env     Env
	Backend Backend // zap outside dev when empty
	Debug   bool

	// Sampling applies to the zap backend outside dev.
	Sampling Sampling

	AddSource bool

	// Output defaults to stdout.
	Output io.Writer
}

// Sampling lets the first Initial entries with the same message through in
// every Tick, then one in Thereafter.
type Sampling struct {
	Off        bool
	Tick       time.Duration
	Initial    int
	Thereafter int
}

func (s Sampling) withDefaults() Sampling {
	if s.Tick <= 0 {
		s.Tick = time.Second
	}
	if s.Initial <= 0 {
		s.Initial = 100
	}
	if s.Thereafter <= 0 {
		s.Thereafter = 10
	}
	return s
}

// DetectEnv maps APP_ENV onto one of the known environments.
func DetectEnv() Env {
	return ParseEnv(os.Getenv("APP_ENV"))
}

func ParseEnv(raw string) Env {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production":
		return EnvProd
	case "stage", "staging", "preprod":
		return EnvStage
	default:
		return EnvDev
	}
}

// ParseLevel accepts debug, info, warn and error. Anything else is info.
func ParseLevel(raw string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func (c Config) level() slog.Level {
	if c.Debug && c.Level == 0 {
		return slog.LevelDebug
	}
	return c.Level
}
