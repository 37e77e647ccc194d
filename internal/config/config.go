package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var ErrConfiguration = errors.New("configuration error")

const (
	StoreMongo  = "mongo"
	StoreSQLite = "sqlite"
)

type Config struct {
	Port          int    `mapstructure:"port" validate:"min=1,max=65535"`
	LogLevel      string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat     string `mapstructure:"log_format" validate:"oneof=json text"`
	AllowedOrigin string `mapstructure:"allowed_origin"`

	StoreDriver    string        `mapstructure:"store_driver" validate:"oneof=mongo sqlite"`
	MongoURI       string        `mapstructure:"mongodb_uri" validate:"required_if=StoreDriver mongo"`
	MongoDatabase  string        `mapstructure:"mongodb_database" validate:"required_if=StoreDriver mongo"`
	SQLitePath     string        `mapstructure:"sqlite_path" validate:"required_if=StoreDriver sqlite"`
	StoreTimeout   time.Duration `mapstructure:"store_timeout" validate:"gt=0"`
	HealthInterval time.Duration `mapstructure:"health_check_interval" validate:"gt=0"`

	// Cross-node fan-out is enabled when RedisAddr is set.
	RedisAddr string `mapstructure:"redis_addr"`
	ServerID  string `mapstructure:"server_id" validate:"required"`

	JWTSecret   string `mapstructure:"jwt_secret" validate:"required_if=RequireAuth true"`
	RequireAuth bool   `mapstructure:"require_auth"`

	MaxTextLength   int           `mapstructure:"max_text_length" validate:"min=1"`
	HistoryLimit    int           `mapstructure:"history_limit" validate:"min=1"`
	TypingTTL       time.Duration `mapstructure:"typing_ttl" validate:"gt=0"`
	TypingSweep     time.Duration `mapstructure:"typing_sweep_interval" validate:"gt=0"`
	SendBufferSize  int           `mapstructure:"send_buffer_size" validate:"min=1"`
	MaxSendFailures int           `mapstructure:"max_send_failures" validate:"min=1"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("allowed_origin", "http://localhost:3000")

	v.SetDefault("store_driver", StoreMongo)
	v.SetDefault("mongodb_uri", "mongodb://localhost:27017")
	v.SetDefault("mongodb_database", "staffchat")
	v.SetDefault("sqlite_path", "staffchat.db")
	v.SetDefault("store_timeout", 5*time.Second)
	v.SetDefault("health_check_interval", 10*time.Second)

	v.SetDefault("redis_addr", "")
	v.SetDefault("server_id", "server-1")

	v.SetDefault("jwt_secret", "")
	v.SetDefault("require_auth", false)

	v.SetDefault("max_text_length", 1000)
	v.SetDefault("history_limit", 100)
	v.SetDefault("typing_ttl", 3*time.Second)
	v.SetDefault("typing_sweep_interval", time.Second)
	v.SetDefault("send_buffer_size", 256)
	v.SetDefault("max_send_failures", 8)
}

// Load reads .env (when present) and the environment over the defaults.
func Load() (*Config, error) {
	// A missing .env is fine; variables may come from the environment.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrConfiguration, err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
