package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env    string
	Port   string
	Mongo  MongoConfig
	Redis  RedisConfig
	OTel   OTelConfig
	Engine EngineConfig
	Alerts AlertsConfig
}

type MongoConfig struct {
	URI      string
	Database string
}

type RedisConfig struct {
	URL         string
	MetaChannel string
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type EngineConfig struct {
	// StageTimeout bounds each propagation stage's database work. Expiry is
	// treated as stage failure, not a pipeline halt.
	StageTimeout time.Duration
	// CheckpointFlushDelay is the debounce window of the checkpoint store.
	CheckpointFlushDelay time.Duration
	// CheckpointMaxPending forces a flush once this many positions are
	// waiting.
	CheckpointMaxPending int
	// FanOut bounds concurrent writes within one stage.
	FanOut int
	// MetaReloadDebounce delays graph rebuilds after a metadata change
	// notification.
	MetaReloadDebounce time.Duration
}

type AlertsConfig struct {
	// WebhookURLs receive alert payloads as fire-and-forget POSTs. When
	// empty, alerts are queued as mail messages instead.
	WebhookURLs []string
	MailFrom    string
	// OnReplay re-dispatches alerts for entries at or below the recovered
	// checkpoint position. Off by default: replayed entries have already
	// notified once.
	OnReplay bool
}

// Load loads configuration from environment variables. In development it
// loads from .env first.
func Load() (Config, error) {
	if getEnv("RIPPLE_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	cfg := Config{
		Env:  getEnv("RIPPLE_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		Mongo: MongoConfig{
			URI:      getEnv("MONGO_URL", ""),
			Database: getEnv("MONGO_DATABASE", "ripple"),
		},
		Redis: RedisConfig{
			URL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
			MetaChannel: getEnv("META_CHANGE_CHANNEL", "ripple:meta-change"),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "ripple"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Engine: EngineConfig{
			StageTimeout:         getEnvDuration("STAGE_TIMEOUT", 30*time.Second),
			CheckpointFlushDelay: getEnvDuration("CHECKPOINT_FLUSH_DELAY", 100*time.Millisecond),
			CheckpointMaxPending: getEnvInt("CHECKPOINT_MAX_PENDING", 1000),
			FanOut:               getEnvInt("STAGE_FAN_OUT", 4),
			MetaReloadDebounce:   getEnvDuration("META_RELOAD_DEBOUNCE", 500*time.Millisecond),
		},
		Alerts: AlertsConfig{
			WebhookURLs: splitList(getEnv("ALERT_WEBHOOK_URLS", "")),
			MailFrom:    getEnv("ALERT_MAIL_FROM", "Ripple Alerts <alerts@localhost>"),
			OnReplay:    getEnvBool("ALERTS_ON_REPLAY", false),
		},
	}

	if cfg.Mongo.URI == "" {
		return Config{}, fmt.Errorf("MONGO_URL is required")
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
