package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage != StoragePostgres {
		t.Errorf("storage = %q, want %q", cfg.Storage, StoragePostgres)
	}
	if cfg.Conversation.MaxRadiusKm != 100 {
		t.Errorf("max radius = %d, want 100", cfg.Conversation.MaxRadiusKm)
	}
	if cfg.Dispatch.OrderTTL != 24*time.Hour {
		t.Errorf("order ttl = %s, want 24h", cfg.Dispatch.OrderTTL)
	}
	if cfg.Matching.Comparator != "id" {
		t.Errorf("comparator = %q, want id", cfg.Matching.Comparator)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DRILLFLOW_STORAGE", "memory")
	t.Setenv("DRILLFLOW_SESSION_TTL", "90s")
	t.Setenv("DRILLFLOW_AUTO_BUSY", "no")
	t.Setenv("DRILLFLOW_MATCH_COMPARATOR", "distance")
	t.Setenv("DRILLFLOW_MAX_ORDERS_PER_DAY", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage != StorageMemory {
		t.Errorf("storage = %q", cfg.Storage)
	}
	if cfg.Conversation.SessionTTL != 90*time.Second {
		t.Errorf("session ttl = %s", cfg.Conversation.SessionTTL)
	}
	if cfg.Dispatch.AutoBusyOnAccept {
		t.Error("auto busy should be disabled")
	}
	if cfg.Matching.Comparator != "distance" || cfg.Matching.MaxOrdersPerDay != 2 {
		t.Errorf("matching = %+v", cfg.Matching)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"DRILLFLOW_STORAGE":           "sqlite",
		"DRILLFLOW_DEFAULT_RADIUS_KM": "500",
		"DRILLFLOW_RATING_ALPHA":      "1.5",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}
