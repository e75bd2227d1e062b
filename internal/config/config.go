package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode              string        `mapstructure:"mode"`
	Port              int           `mapstructure:"port"`
	ReadLimit         int64         `mapstructure:"read_limit"`
	PingPeriod        time.Duration `mapstructure:"ping_period"`
	AccessSecret      string        `mapstructure:"access_secret"`
	RedisURL          string        `mapstructure:"redis_url"`
	PresencePrefix    string        `mapstructure:"presence_prefix"`
	InternalToken     string        `mapstructure:"internal_token"`
	OfferRateLimit    int           `mapstructure:"offer_rate_limit"`
	OfferRateInterval time.Duration `mapstructure:"offer_rate_interval"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("access_secret", "dev-access-secret")
	v.SetDefault("redis_url", "redis://localhost:6379")
	v.SetDefault("presence_prefix", "online:user:")
	v.SetDefault("offer_rate_limit", 10)
	v.SetDefault("offer_rate_interval", "1m")

	// Secrets come from the environment in deployments.
	_ = v.BindEnv("access_secret", "JWT_ACCESS_SECRET")
	_ = v.BindEnv("redis_url", "REDIS_URL")
	_ = v.BindEnv("internal_token", "INTERNAL_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Redis: %s\n", cfg.Mode, cfg.Port, cfg.RedisURL)
	return &cfg, nil
}
