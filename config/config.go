// Package config loads process configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every setting the order service reads at startup.
type Config struct {
	Port    string `env:"PORT" envDefault:"8080"`
	DBPath  string `env:"DB_PATH" envDefault:"orders.db"`
	LogMode string `env:"LOG_MODE" envDefault:"dev"`

	// ContractAPI is the host:port of the person directory.
	ContractAPI        string        `env:"CONTRACT_API" envDefault:"localhost:8080"`
	PersonFetchTimeout time.Duration `env:"PERSON_FETCH_TIMEOUT" envDefault:"200ms"`

	// RedisAddr enables the person event ingestor when set.
	RedisAddr        string `env:"REDIS_ADDR"`
	EventsStream     string `env:"PERSON_EVENTS_STREAM" envDefault:"personevents"`
	EventsGroup      string `env:"PERSON_EVENTS_GROUP" envDefault:"order-group"`
	EventsConsumer   string `env:"PERSON_EVENTS_CONSUMER" envDefault:"order-service"`
	EventsDeadLetter string `env:"PERSON_EVENTS_DEADLETTER" envDefault:"personevents-deadletter"`

	CORSAllowOrigins []string `env:"CORS_ALLOW_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load parses Config from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
