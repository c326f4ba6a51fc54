package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime settings for the API server. Values are loaded
// from SRP_-prefixed environment variables, with an optional .env file for
// local development.
type Config struct {
	HTTPAddr        string `mapstructure:"SRP_HTTP_ADDR"`
	DatabaseURL     string `mapstructure:"SRP_DATABASE_URL"`
	AMQPURL         string `mapstructure:"SRP_AMQP_URL"`
	TokenTTLMinutes int    `mapstructure:"SRP_TOKEN_TTL_MINUTES"`
	RateLimitRPS    int    `mapstructure:"SRP_RATE_LIMIT_RPS"`
	RateLimitBurst  int    `mapstructure:"SRP_RATE_LIMIT_BURST"`
	MaxBodyBytes    int64  `mapstructure:"SRP_MAX_BODY_BYTES"`
	CORSOrigin      string `mapstructure:"SRP_CORS_ORIGIN"`
	ShutdownSeconds int    `mapstructure:"SRP_SHUTDOWN_SECONDS"`

	// Bootstrap credentials for the initial admin account. Empty disables
	// bootstrapping.
	AdminName     string `mapstructure:"SRP_ADMIN_NAME"`
	AdminPassword string `mapstructure:"SRP_ADMIN_PASSWORD"`
}

// TokenTTL returns the access token lifetime as a duration.
func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}

// ShutdownTimeout returns the graceful shutdown window as a duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownSeconds) * time.Second
}

// Load reads configuration from environment variables, consulting an
// optional .env file in the given path.
func Load(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("SRP_HTTP_ADDR", ":8080")
	v.SetDefault("SRP_TOKEN_TTL_MINUTES", 60)
	v.SetDefault("SRP_RATE_LIMIT_RPS", 50)
	v.SetDefault("SRP_RATE_LIMIT_BURST", 100)
	v.SetDefault("SRP_MAX_BODY_BYTES", int64(1<<20))
	v.SetDefault("SRP_SHUTDOWN_SECONDS", 10)

	for _, key := range []string{
		"SRP_HTTP_ADDR",
		"SRP_DATABASE_URL",
		"SRP_AMQP_URL",
		"SRP_TOKEN_TTL_MINUTES",
		"SRP_RATE_LIMIT_RPS",
		"SRP_RATE_LIMIT_BURST",
		"SRP_MAX_BODY_BYTES",
		"SRP_CORS_ORIGIN",
		"SRP_SHUTDOWN_SECONDS",
		"SRP_ADMIN_NAME",
		"SRP_ADMIN_PASSWORD",
	} {
		_ = v.BindEnv(key)
	}

	// The .env file is optional; only unexpected read errors matter.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.TokenTTLMinutes <= 0 {
		cfg.TokenTTLMinutes = 60
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 50
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = cfg.RateLimitRPS * 2
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.ShutdownSeconds <= 0 {
		cfg.ShutdownSeconds = 10
	}
	cfg.HTTPAddr = strings.TrimSpace(cfg.HTTPAddr)
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	return cfg, nil
}
