package config

import "github.com/spf13/viper"

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds all runtime configuration for the ACS tooling.
type Config struct {
	CachePath string
	LogLevel  string
	LogFormat string
}

// Load reads configuration from viper, which merges flag values, env vars,
// and defaults (set up by the cobra command in cmd/cwmpacs).
func Load() Config {
	return Config{
		CachePath: viper.GetString("cache_path"),
		LogLevel:  viper.GetString("log_level"),
		LogFormat: viper.GetString("log_format"),
	}
}
