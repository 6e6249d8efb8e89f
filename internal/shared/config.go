package shared

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"prod"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"METRICS_ADDR"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"mysql"` // mysql|memory
	MySQLDSN      string `env:"MYSQL_DSN" envDefault:"root:root@tcp(localhost:3306)/handyhub?parseTime=true&charset=utf8mb4&loc=UTC"`
	// memory driver only: "id:Display Name[:provider]" entries
	SeedAccounts []string `env:"SEED_ACCOUNTS" envSeparator:","`

	RedisAddr string `env:"REDIS_ADDR"`
	RedisPass string `env:"REDIS_PASSWORD"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	JWTSecret string `env:"JWT_SECRET"`

	ProfilesBase string `env:"PROFILES_BASE_URL"`
	ProfilesKey  string `env:"PROFILES_API_KEY"`
	ProfilesRPS  int    `env:"PROFILES_RPS" envDefault:"20"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	CacheTTL       time.Duration `env:"CACHE_TTL" envDefault:"15m"`
	FanoutBuffer   int           `env:"FANOUT_BUFFER" envDefault:"64"`
	RerateWorkers  int           `env:"RERATE_WORKERS" envDefault:"8"`

	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint string `env:"OTEL_ENDPOINT" envDefault:"localhost:4318"`
}

// Parse reads the environment into a Config.
func Parse() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	switch c.StorageDriver {
	case "mysql", "memory":
	default:
		return Config{}, fmt.Errorf("STORAGE_DRIVER must be mysql or memory, got %q", c.StorageDriver)
	}
	if c.FanoutBuffer < 1 {
		c.FanoutBuffer = 1
	}
	return c, nil
}

// Load is Parse for process entry points: it exits on a bad environment.
func Load() Config {
	c, err := Parse()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if c.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET is empty")
	}
	return c
}
