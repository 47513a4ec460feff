package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,,")
	t.Setenv("PRICING_CACHE_TTL_SECONDS", "-4")
	t.Setenv("DEFAULT_SHOP_ID", "nairobi-cbd")

	cfg := Load()
	if cfg.Address() != ":9090" {
		t.Fatalf("expected :9090, got %s", cfg.Address())
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.PricingCacheTTLSeconds != 60 {
		t.Fatalf("expected invalid ttl to fall back to 60, got %d", cfg.PricingCacheTTLSeconds)
	}
	if cfg.DefaultShopID != "nairobi-cbd" {
		t.Fatalf("unexpected shop %s", cfg.DefaultShopID)
	}
}
