package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Server struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

type Postgres struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslMode"`
	MaxConns int32  `yaml:"maxConns"`
}

func (p Postgres) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     p.Host + ":" + p.Port,
		Path:     "/" + p.Name,
		RawQuery: "sslmode=" + p.SSLMode,
	}
	return u.String()
}

type Redis struct {
	// Empty URL keeps room fan-out in process.
	URL string `yaml:"url"`
}

type Auth struct {
	JWTSecret string `yaml:"jwtSecret"`
	Issuer    string `yaml:"issuer"`
}

type Messaging struct {
	EditWindow time.Duration `yaml:"editWindow"`
}

type Realtime struct {
	SendBuffer     int           `yaml:"sendBuffer"`
	MaxMessageSize int64         `yaml:"maxMessageSize"`
	PingInterval   time.Duration `yaml:"pingInterval"`
	TypingRate     float64       `yaml:"typingRate"` // events per second per connection
	TypingBurst    int           `yaml:"typingBurst"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Media struct {
	Endpoint       string `yaml:"endpoint"`
	AccessKey      string `yaml:"accessKey"`
	SecretKey      string `yaml:"secretKey"`
	Bucket         string `yaml:"bucket"`
	UseSSL         bool   `yaml:"useSSL"`
	PublicURL      string `yaml:"publicURL"`
	MaxUploadBytes int64  `yaml:"maxUploadBytes"`
}

type Telemetry struct {
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

type Logging struct {
	Env       string `yaml:"env"`
	Service   string `yaml:"service"`
	Version   string `yaml:"version"`
	Backend   string `yaml:"backend"`
	Level     string `yaml:"level"`
	AddSource bool   `yaml:"addSource"`
	Debug     bool   `yaml:"debug"`

	Sampling LogSampling `yaml:"sampling"`
}

// LogSampling mirrors logger.Sampling; zero values take the logger's defaults.
type LogSampling struct {
	Off        bool          `yaml:"off"`
	Tick       time.Duration `yaml:"tick"`
	Initial    int           `yaml:"initial"`
	Thereafter int           `yaml:"thereafter"`
}

type Config struct {
	Server    Server    `yaml:"server"`
	Postgres  Postgres  `yaml:"postgres"`
	Redis     Redis     `yaml:"redis"`
	Auth      Auth      `yaml:"auth"`
	Messaging Messaging `yaml:"messaging"`
	Realtime  Realtime  `yaml:"realtime"`
	Kafka     Kafka     `yaml:"kafka"`
	Media     Media     `yaml:"media"`
	Telemetry Telemetry `yaml:"telemetry"`
	Logging   Logging   `yaml:"logging"`
}

// Load reads CONFIG_PATH (optional), then .env, then environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	path := getEnv("CONFIG_PATH", "./config/config.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("SERVER_PORT", c.Server.Port)
	if v := getEnv("CORS_ORIGINS", ""); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}

	c.Postgres.Host = getEnv("DB_HOST", c.Postgres.Host)
	c.Postgres.Port = getEnv("DB_PORT", c.Postgres.Port)
	c.Postgres.User = getEnv("DB_USER", c.Postgres.User)
	c.Postgres.Password = getEnv("DB_PASSWORD", c.Postgres.Password)
	c.Postgres.Name = getEnv("DB_NAME", c.Postgres.Name)
	c.Postgres.SSLMode = getEnv("DB_SSLMODE", c.Postgres.SSLMode)

	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.Issuer = getEnv("JWT_ISSUER", c.Auth.Issuer)

	if v := getEnv("EDIT_WINDOW", ""); v != "" {
		c.Messaging.EditWindow = parseDurationOr(c.Messaging.EditWindow, v)
	}

	if v := getEnv("KAFKA_BROKERS", ""); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)

	c.Media.Endpoint = getEnv("MINIO_ENDPOINT", c.Media.Endpoint)
	c.Media.AccessKey = getEnv("MINIO_ACCESS_KEY", c.Media.AccessKey)
	c.Media.SecretKey = getEnv("MINIO_SECRET_KEY", c.Media.SecretKey)
	c.Media.Bucket = getEnv("MINIO_BUCKET", c.Media.Bucket)
	c.Media.PublicURL = getEnv("MINIO_PUBLIC_URL", c.Media.PublicURL)
	if v := getEnv("MINIO_USE_SSL", ""); v != "" {
		c.Media.UseSSL, _ = strconv.ParseBool(v)
	}

	c.Telemetry.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)

	c.Logging.Env = getEnv("APP_ENV", c.Logging.Env)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Backend = getEnv("LOG_BACKEND", c.Logging.Backend)
	if strings.EqualFold(getEnv("LOG_SAMPLING", ""), "off") {
		c.Logging.Sampling.Off = true
	}
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret is required")
	}

	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:3000"}
	}

	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == "" {
		c.Postgres.Port = "5432"
	}
	if c.Postgres.User == "" {
		c.Postgres.User = "pulse"
	}
	if c.Postgres.Name == "" {
		c.Postgres.Name = "pulse"
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}

	if c.Messaging.EditWindow <= 0 {
		c.Messaging.EditWindow = 60 * time.Second
	}

	if c.Realtime.SendBuffer <= 0 {
		c.Realtime.SendBuffer = 256
	}
	if c.Realtime.MaxMessageSize <= 0 {
		c.Realtime.MaxMessageSize = 4096
	}
	if c.Realtime.PingInterval <= 0 {
		c.Realtime.PingInterval = 30 * time.Second
	}
	if c.Realtime.TypingRate <= 0 {
		c.Realtime.TypingRate = 4
	}
	if c.Realtime.TypingBurst <= 0 {
		c.Realtime.TypingBurst = 8
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "messages.events"
	}

	if c.Media.Bucket == "" {
		c.Media.Bucket = "pulse-media"
	}
	if c.Media.MaxUploadBytes <= 0 {
		c.Media.MaxUploadBytes = 10 << 20
	}

	if c.Telemetry.SampleRatio <= 0 || c.Telemetry.SampleRatio > 1 {
		c.Telemetry.SampleRatio = 1
	}

	if c.Logging.Service == "" {
		c.Logging.Service = "pulsechat"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	return nil
}

func getEnv(key, fallback string) string {
	val, exists := os.LookupEnv(key)

	if exists {
		return val
	}

	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDurationOr(def time.Duration, s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
