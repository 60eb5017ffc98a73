package database

import (
	"testing"
	"time"
)

func TestConfigApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.MaxConnections != 25 {
		t.Errorf("Expected default pool size, got %d", cfg.MaxConnections)
	}
	if cfg.MaxConnLifetime != time.Hour {
		t.Errorf("Expected default connection lifetime, got %v", cfg.MaxConnLifetime)
	}
	if cfg.MaxConnIdleTime != 30*time.Minute {
		t.Errorf("Expected default idle time, got %v", cfg.MaxConnIdleTime)
	}
}

func TestConfigApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		MaxConnections:  5,
		MaxConnLifetime: 10 * time.Minute,
		MaxConnIdleTime: time.Minute,
	}
	cfg.applyDefaults()

	if cfg.MaxConnections != 5 || cfg.MaxConnLifetime != 10*time.Minute || cfg.MaxConnIdleTime != time.Minute {
		t.Errorf("Expected explicit settings untouched, got %+v", cfg)
	}
}
