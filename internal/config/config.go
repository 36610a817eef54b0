package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the chat dock service.
type Config struct {
	AppName          string
	AppEnv           string
	AppPort          string
	DatabaseURL      string
	RedisURL         string
	NATSURL          string
	JWTSecret        string
	ChannelBase      string
	LastMessageTTL   time.Duration
	PresenceTTL      time.Duration
	SessionSendDepth int
	DefaultViewport  int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("AIFEED")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "AI Feed Chat Dock")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("channel.base", "aifeed")
	v.SetDefault("last_message_ttl", "30m")
	v.SetDefault("presence_ttl", "2m")
	v.SetDefault("session_send_depth", 32)
	v.SetDefault("default_viewport_px", 1280)

	lastTTL, err := time.ParseDuration(v.GetString("last_message_ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid last message ttl: %w", err)
	}

	presenceTTL, err := time.ParseDuration(v.GetString("presence_ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid presence ttl: %w", err)
	}

	cfg := Config{
		AppName:          v.GetString("app.name"),
		AppEnv:           v.GetString("app.env"),
		AppPort:          v.GetString("app.port"),
		DatabaseURL:      v.GetString("database.url"),
		RedisURL:         v.GetString("redis.url"),
		NATSURL:          v.GetString("nats.url"),
		JWTSecret:        v.GetString("jwt.secret"),
		ChannelBase:      v.GetString("channel.base"),
		LastMessageTTL:   lastTTL,
		PresenceTTL:      presenceTTL,
		SessionSendDepth: v.GetInt("session_send_depth"),
		DefaultViewport:  v.GetInt("default_viewport_px"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.SessionSendDepth <= 0 {
		cfg.SessionSendDepth = 32
	}

	return cfg, nil
}
