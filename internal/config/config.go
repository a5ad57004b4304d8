package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	MQTTBrokerURL string
	LogLevel      string
	Postgres      DBConfig
	RedisAddr     string
	RedisPassword string

	// PollInterval is how often the durable device listing is re-read when
	// no local mutation has invalidated it.
	PollInterval time.Duration

	// RTDBOnlyDeviceID is the single legacy device whose display status is
	// taken from the realtime feed even while in maintenance. See the merge
	// engine for details.
	RTDBOnlyDeviceID string

	TelegramBotToken string
	TelegramChatID   string
}

type DBConfig struct {
	User     string
	Password string
	DBName   string
	Host     string
	Port     string
}

func Load() *Config {
	// Local development keeps settings in a .env file; absence is fine.
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("DEVICE_STATUS_PORT", "8085"),
		MQTTBrokerURL: getEnv("MQTT_BROKER_URL", "mqtt://mosquitto:1883"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Postgres: DBConfig{
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DBName:   getEnv("POSTGRES_DB", "devicestatus"),
			Host:     getEnv("POSTGRES_HOST", "postgres"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
		},
		RedisAddr:        getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		PollInterval:     getDuration("DEVICE_STATUS_POLL_INTERVAL", 5*time.Second),
		RTDBOnlyDeviceID: getEnv("DEVICE_STATUS_RTDB_ONLY_ID", "5abs449wgqcPsQEWIHO7"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
	}
	slog.Info("device-status-central config loaded", "port", cfg.Port, "mqtt", cfg.MQTTBrokerURL, "poll_interval", cfg.PollInterval)
	return cfg
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration env var, using default", "key", k, "value", v, "default", def)
		return def
	}
	return d
}
