package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the orchestrator service.
type Config struct {
	LogLevel        string
	MetricsAddr     string
	KafkaBrokers    string
	RedisAddr       string
	PostgresDSN     string
	BrowserAgentURL string
	TaskTimeout     time.Duration
	OTelEndpoint    string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:        v.GetString("log_level"),
		MetricsAddr:     v.GetString("metrics_addr"),
		KafkaBrokers:    v.GetString("kafka_brokers"),
		RedisAddr:       v.GetString("redis_addr"),
		PostgresDSN:     v.GetString("postgres_dsn"),
		BrowserAgentURL: v.GetString("browser_agent_url"),
		TaskTimeout:     v.GetDuration("task_timeout"),
		OTelEndpoint:    v.GetString("otel_endpoint"),
	}
}
