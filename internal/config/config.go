package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	AppEnv                 string
	LogLevel               string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	PricingCacheTTLSeconds int
	KafkaBrokers           []string
	KafkaStockTopic        string
	KafkaShiftTopic        string
	DefaultShopID          string
	AuthSecret             string
	AccessTokenTTLMinutes  int
}

// Load reads configuration from the environment. Unset keys fall back to
// development defaults; AUTH_SECRET never gets a default.
func Load() Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("PRICING_CACHE_TTL_SECONDS", 60)
	v.SetDefault("KAFKA_STOCK_TOPIC", "stock-transactions")
	v.SetDefault("KAFKA_SHIFT_TOPIC", "shift-events")
	v.SetDefault("DEFAULT_SHOP_ID", "main-shop")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)

	ttl := v.GetInt("PRICING_CACHE_TTL_SECONDS")
	if ttl < 1 {
		ttl = 60
	}
	tokenTTL := v.GetInt("ACCESS_TOKEN_TTL_MINUTES")
	if tokenTTL < 1 {
		tokenTTL = 480
	}

	return Config{
		Port:                   v.GetString("PORT"),
		AllowedOrigin:          v.GetString("ALLOWED_ORIGIN"),
		AppEnv:                 strings.ToLower(v.GetString("APP_ENV")),
		LogLevel:               v.GetString("LOG_LEVEL"),
		DatabaseURL:            strings.TrimSpace(v.GetString("DATABASE_URL")),
		RedisAddr:              strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:          v.GetString("REDIS_PASSWORD"),
		RedisDB:                v.GetInt("REDIS_DB"),
		PricingCacheTTLSeconds: ttl,
		KafkaBrokers:           splitList(v.GetString("KAFKA_BROKERS")),
		KafkaStockTopic:        v.GetString("KAFKA_STOCK_TOPIC"),
		KafkaShiftTopic:        v.GetString("KAFKA_SHIFT_TOPIC"),
		DefaultShopID:          v.GetString("DEFAULT_SHOP_ID"),
		AuthSecret:             strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes:  tokenTTL,
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsDevelopment() bool {
	return c.AppEnv == "" || c.AppEnv == "development" || c.AppEnv == "dev"
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
