package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestLoadReadsViperKeys(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("cache_path", "/tmp/acs.db")
	viper.Set("log_level", "debug")
	viper.Set("log_format", "json")

	cfg := Load()
	if cfg.CachePath != "/tmp/acs.db" {
		t.Fatalf("CachePath = %q, want /tmp/acs.db", cfg.CachePath)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.SetEnvPrefix("CWMPACS")
	viper.AutomaticEnv()
	t.Setenv("CWMPACS_LOG_LEVEL", "warn")

	if got := Load().LogLevel; got != "warn" {
		t.Fatalf("LogLevel = %q, want warn", got)
	}
}
