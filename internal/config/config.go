package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppName  string `mapstructure:"APP_NAME"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	Server    ServerConfig
	Auth      AuthConfig
	Realtime  RealtimeConfig
	Backend   BackendConfig
	Payment   PaymentConfig
	AMQP      AMQPConfig
	Telemetry TelemetryConfig
	State     StateConfig
}

type ServerConfig struct {
	Host string `mapstructure:"SERVER_HOST"`
	Port int    `mapstructure:"SERVER_PORT"`
}

type AuthConfig struct {
	JWTSecretKey string `mapstructure:"JWT_SECRET_KEY"`
}

type RealtimeConfig struct {
	URL      string `mapstructure:"REALTIME_URL"`
	PageSize int    `mapstructure:"REALTIME_PAGE_SIZE"`
}

type BackendConfig struct {
	BaseURL           string  `mapstructure:"BACKEND_BASE_URL"`
	Token             string  `mapstructure:"BACKEND_TOKEN"`
	RequestsPerSecond float64 `mapstructure:"BACKEND_REQUESTS_PER_SECOND"`
}

type PaymentConfig struct {
	BaseURL     string        `mapstructure:"PAYMENT_BASE_URL"`
	KeyID       string        `mapstructure:"PAYMENT_KEY_ID"`
	KeySecret   string        `mapstructure:"PAYMENT_KEY_SECRET"`
	SettleDelay time.Duration `mapstructure:"PAYMENT_SETTLE_DELAY"`
	ReopenDelay time.Duration `mapstructure:"PAYMENT_REOPEN_DELAY"`
}

type AMQPConfig struct {
	URL      string `mapstructure:"AMQP_URL"`
	Exchange string `mapstructure:"AMQP_EXCHANGE"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	Environment  string `mapstructure:"ENVIRONMENT"`
}

type StateConfig struct {
	Path string `mapstructure:"STATE_PATH"`
}

// Load reads configuration from the environment, with an optional .env file
// for local development. Environment variables win over file values.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		AppName:  v.GetString("APP_NAME"),
		LogLevel: v.GetString("LOG_LEVEL"),
		Server: ServerConfig{
			Host: v.GetString("SERVER_HOST"),
			Port: v.GetInt("SERVER_PORT"),
		},
		Auth: AuthConfig{
			JWTSecretKey: v.GetString("JWT_SECRET_KEY"),
		},
		Realtime: RealtimeConfig{
			URL:      v.GetString("REALTIME_URL"),
			PageSize: v.GetInt("REALTIME_PAGE_SIZE"),
		},
		Backend: BackendConfig{
			BaseURL:           v.GetString("BACKEND_BASE_URL"),
			Token:             v.GetString("BACKEND_TOKEN"),
			RequestsPerSecond: v.GetFloat64("BACKEND_REQUESTS_PER_SECOND"),
		},
		Payment: PaymentConfig{
			BaseURL:     v.GetString("PAYMENT_BASE_URL"),
			KeyID:       v.GetString("PAYMENT_KEY_ID"),
			KeySecret:   v.GetString("PAYMENT_KEY_SECRET"),
			SettleDelay: v.GetDuration("PAYMENT_SETTLE_DELAY"),
			ReopenDelay: v.GetDuration("PAYMENT_REOPEN_DELAY"),
		},
		AMQP: AMQPConfig{
			URL:      v.GetString("AMQP_URL"),
			Exchange: v.GetString("AMQP_EXCHANGE"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: v.GetString("OTLP_ENDPOINT"),
			Environment:  v.GetString("ENVIRONMENT"),
		},
		State: StateConfig{
			Path: v.GetString("STATE_PATH"),
		},
	}

	if cfg.Auth.JWTSecretKey == "" {
		return Config{}, fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if cfg.Realtime.URL == "" {
		return Config{}, fmt.Errorf("REALTIME_URL is required")
	}
	if cfg.Backend.BaseURL == "" {
		return Config{}, fmt.Errorf("BACKEND_BASE_URL is required")
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "tradechat")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("REALTIME_PAGE_SIZE", 20)
	v.SetDefault("BACKEND_REQUESTS_PER_SECOND", 10)
	v.SetDefault("PAYMENT_SETTLE_DELAY", "1s")
	v.SetDefault("PAYMENT_REOPEN_DELAY", "300ms")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("STATE_PATH", "data/state.json")
}

// Addr returns the listen address for the HTTP server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
