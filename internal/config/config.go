package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/DoyleJ11/planning-poker/internal/fanout"
	"github.com/DoyleJ11/planning-poker/internal/room"
	"github.com/DoyleJ11/planning-poker/internal/store"
)

type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"memory"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"poker.db"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB     int    `env:"REDIS_DB" envDefault:"0"`

	StoreTimeout         time.Duration `env:"ROOM_STORE_TIMEOUT" envDefault:"5s"`
	RoomIdleTimeout      time.Duration `env:"ROOM_IDLE_TIMEOUT" envDefault:"10m"`
	FanoutWriteTimeout   time.Duration `env:"FANOUT_WRITE_TIMEOUT" envDefault:"3s"`
	FanoutMaxConcurrency int           `env:"FANOUT_MAX_CONCURRENCY" envDefault:"32"`

	RoomCodeLength   int      `env:"ROOM_CODE_LENGTH" envDefault:"5"`
	WSOriginPatterns []string `env:"WS_ORIGIN_PATTERNS" envSeparator:","`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch store.Driver(c.StoreDriver) {
	case store.DriverMemory, store.DriverSQLite, store.DriverRedis:
	case store.DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("STORE_DRIVER=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat)
	}
	if c.StoreTimeout <= 0 || c.FanoutWriteTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.RoomIdleTimeout < 0 {
		return errors.New("ROOM_IDLE_TIMEOUT must not be negative")
	}
	if c.RoomCodeLength < 4 || c.RoomCodeLength > 16 {
		return fmt.Errorf("ROOM_CODE_LENGTH must be between 4 and 16, got %d", c.RoomCodeLength)
	}
	return nil
}

func (c Config) StoreOptions() store.Options {
	return store.Options{
		Driver:      store.Driver(c.StoreDriver),
		SQLitePath:  c.SQLitePath,
		DatabaseURL: c.DatabaseURL,
		RedisAddr:   c.RedisAddr,
		RedisDB:     c.RedisDB,
	}
}

// RoomOptions leaves Store and Logger for the caller to fill in.
func (c Config) RoomOptions() room.Options {
	return room.Options{
		StoreTimeout: c.StoreTimeout,
		IdleTimeout:  c.RoomIdleTimeout,
		Fanout: fanout.Options{
			WriteTimeout:   c.FanoutWriteTimeout,
			MaxConcurrency: c.FanoutMaxConcurrency,
		},
	}
}
