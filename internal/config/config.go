package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	AppPort        string   `env:"APP_PORT" envDefault:"8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	// хранилище сессий
	StoreDriver string `env:"STORE_DRIVER" envDefault:"memory"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"resource_wars.db"`

	// redis для rate limit (пустой адрес - лимитер в памяти)
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// зеркало событий для внешних потребителей (леджер)
	NatsURL string `env:"NATS_URL"`

	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-only-change-me"`

	RoundDuration     time.Duration `env:"ROUND_DURATION" envDefault:"3m"`
	MaxRounds         int           `env:"MAX_ROUNDS" envDefault:"5"`
	InactivityTimeout time.Duration `env:"INACTIVITY_TIMEOUT" envDefault:"20m"`
	MarketInterval    time.Duration `env:"MARKET_INTERVAL" envDefault:"5s"`
	RoundPause        time.Duration `env:"ROUND_PAUSE" envDefault:"10s"`
	CleanupInterval   time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
	StaleAfter        time.Duration `env:"STALE_AFTER" envDefault:"24h"`

	// сколько player-action разрешено одному соединению за окно
	ActionRateLimit  int           `env:"ACTION_RATE_LIMIT" envDefault:"20"`
	ActionRateWindow time.Duration `env:"ACTION_RATE_WINDOW" envDefault:"1s"`
	APIRateLimit     int           `env:"API_RATE_LIMIT" envDefault:"60"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load читает .env (если есть) и переменные окружения
func Load() (*Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse разбирает только окружение процесса, без .env
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	switch c.StoreDriver {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.RoundDuration < time.Second {
		return fmt.Errorf("ROUND_DURATION must be at least 1s")
	}
	if c.MaxRounds < 1 {
		return fmt.Errorf("MAX_ROUNDS must be positive")
	}
	return nil
}

// JSONLogs - включен ли json формат логов
func (c *Config) JSONLogs() bool {
	return strings.EqualFold(c.LogFormat, "json")
}
