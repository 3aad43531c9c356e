package config

import (
	"crypto/rand"
	"encoding/base64"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the process's full runtime configuration, populated from
// environment variables (and an optional .env file) by Load.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthEnabled        bool   `env:"AUTH_ENABLED" envDefault:"true"`
	AuthToken          string `env:"AUTH_TOKEN"`
	AuthTokenGenerated bool   // true when auto-generated (not from env/config)
	WriteToken         string `env:"WRITE_TOKEN"` // separate token for write operations; if not set, writes use AuthToken

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`
	CORSOrigins    string  `env:"CORS_ORIGINS"` // comma-separated allowed origins; empty = allow all (*)
	LogLevel       string  `env:"LOG_LEVEL" envDefault:"info"`
	MetricsEnabled bool    `env:"METRICS_ENABLED" envDefault:"true"`

	PollInterval          time.Duration `env:"POLL_INTERVAL" envDefault:"250ms"`
	PollTransportTimeout  time.Duration `env:"POLL_TRANSPORT_TIMEOUT" envDefault:"2s"`
	ReconnectBackoffMin   time.Duration `env:"RECONNECT_BACKOFF_MIN" envDefault:"1s"`
	ReconnectBackoffMax   time.Duration `env:"RECONNECT_BACKOFF_MAX" envDefault:"30s"`
	ScheduleInterval      time.Duration `env:"SCHEDULE_INTERVAL" envDefault:"10s"`
	CleanupInterval       time.Duration `env:"CLEANUP_INTERVAL" envDefault:"60s"`
	WriteRetention        time.Duration `env:"WRITE_RETENTION" envDefault:"168h"`
	AlarmRetention        time.Duration `env:"ALARM_RETENTION" envDefault:"720h"`
	DefaultNotifyCooldown time.Duration `env:"DEFAULT_NOTIFICATION_COOLDOWN" envDefault:"60s"`

	MQTTBrokerURL  string `env:"MQTT_BROKER_URL"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"modbustiles"`
	MQTTClientID   string `env:"MQTT_CLIENT_ID" envDefault:"modbus-supervisor"`
	MQTTUsername   string `env:"MQTT_USERNAME"`
	MQTTPassword   string `env:"MQTT_PASSWORD"`

	// DeviceConfigWatch, when set, points at a JSON device/tag seed file
	// hot-reloaded via fsnotify on write (internal/devicecfg).
	DeviceConfigWatch string `env:"DEVICE_CONFIG_WATCH"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
}

// Load reads configuration from .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}

	// When auth is explicitly disabled, clear any tokens so middleware passes everything through.
	if !cfg.AuthEnabled {
		cfg.AuthToken = ""
		cfg.WriteToken = ""
	} else if cfg.AuthToken == "" {
		// Auto-generate AUTH_TOKEN if not configured, so the API is never
		// left open to automated scanners by default. Changes on every
		// restart; set AUTH_TOKEN for a persistent one.
		b := make([]byte, 32)
		if _, err := rand.Read(b); err == nil {
			cfg.AuthToken = base64.URLEncoding.EncodeToString(b)
			cfg.AuthTokenGenerated = true
		}
	}

	return cfg, nil
}
