package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the sweeper service.
type Config struct {
	LogLevel     string
	MetricsAddr  string
	RedisAddr    string
	Schedule     string
	StaleAfter   time.Duration
	OTelEndpoint string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:     v.GetString("log_level"),
		MetricsAddr:  v.GetString("metrics_addr"),
		RedisAddr:    v.GetString("redis_addr"),
		Schedule:     v.GetString("schedule"),
		StaleAfter:   v.GetDuration("stale_after"),
		OTelEndpoint: v.GetString("otel_endpoint"),
	}
}
