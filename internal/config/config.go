// Package config содержит логику чтения конфигурации сервиса билетов.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	defaultRunAddress = "localhost:8080"
	defaultKafkaTopic = "raffle.ledger.events"
	defaultLogLevel   = "info"
)

// Config содержит параметры конфигурации сервиса билетов.
// Пустые DatabaseURI, RedisAddress и KafkaBrokers отключают соответствующие компоненты.
type Config struct {
	RunAddress           string   `env:"RUN_ADDRESS"`
	DatabaseURI          string   `env:"DATABASE_URI"`
	PaymentSystemAddress string   `env:"PAYMENT_SYSTEM_ADDRESS"`
	RedisAddress         string   `env:"REDIS_ADDRESS"`
	KafkaBrokers         []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic           string   `env:"KAFKA_TOPIC"`
	AuthSecret           string   `env:"AUTH_SECRET"`
	LogLevel             string   `env:"LOG_LEVEL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения, в том числе из файла .env, имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	fromEnv := &Config{}
	if err := env.Parse(fromEnv); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}
	var brokers string

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, empty for in-memory storage")
	flag.StringVar(&cfg.PaymentSystemAddress, "p", "", "payment provider address")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address for entry result cache")
	flag.StringVar(&brokers, "k", "", "comma-separated kafka brokers")
	flag.StringVar(&cfg.KafkaTopic, "t", defaultKafkaTopic, "kafka topic for ledger events")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for session cookies")
	flag.StringVar(&cfg.LogLevel, "l", defaultLogLevel, "log level")

	flag.Parse()

	if brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	override(&cfg.RunAddress, fromEnv.RunAddress)
	override(&cfg.DatabaseURI, fromEnv.DatabaseURI)
	override(&cfg.PaymentSystemAddress, fromEnv.PaymentSystemAddress)
	override(&cfg.RedisAddress, fromEnv.RedisAddress)
	override(&cfg.KafkaTopic, fromEnv.KafkaTopic)
	override(&cfg.AuthSecret, fromEnv.AuthSecret)
	override(&cfg.LogLevel, fromEnv.LogLevel)
	if len(fromEnv.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = fromEnv.KafkaBrokers
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	return cfg, nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
