package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"taskmgr/internal/queue"
	"taskmgr/internal/scheduler"
)

type Config struct {
	Store     Store     `yaml:"store"`
	Scheduler Scheduler `yaml:"scheduler"`
	Locks     Locks     `yaml:"locks"`
	HTTP      HTTP      `yaml:"http"`
	Log       Log       `yaml:"log"`
}

type Store struct {
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `yaml:"dsn"`
}

type Scheduler struct {
	ProcessPeriod   time.Duration `yaml:"process_period"`
	CleanupSchedule string        `yaml:"cleanup_schedule"`
	Retention       time.Duration `yaml:"retention"`
}

type Locks struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
}

type HTTP struct {
	Addr  string `yaml:"addr"`
	Debug bool   `yaml:"debug"`
}

type Log struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

const (
	LocksSQL   = "sql"
	LocksLocal = "local"
)

func Default() Config {
	return Config{
		Store: Store{Driver: "sqlite", DSN: "taskmgr.db"},
		Scheduler: Scheduler{
			ProcessPeriod:   5 * time.Second,
			CleanupSchedule: "@every 1h",
			Retention:       24 * time.Hour,
		},
		Locks: Locks{Backend: LocksSQL, TTL: 30 * time.Second},
		HTTP:  HTTP{Addr: ":8080"},
		Log:   Log{Level: "info", Console: true},
	}
}

// Load reads a YAML file over Default. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := queue.ParseDialect(c.Store.Driver); err != nil {
		return err
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if c.Scheduler.ProcessPeriod <= 0 {
		return fmt.Errorf("scheduler.process_period must be positive")
	}
	if err := scheduler.ValidateCronExpression(c.Scheduler.CleanupSchedule); err != nil {
		return fmt.Errorf("scheduler.cleanup_schedule: %w", err)
	}
	if c.Scheduler.Retention <= 0 {
		return fmt.Errorf("scheduler.retention must be positive")
	}
	switch c.Locks.Backend {
	case LocksSQL:
		if c.Locks.TTL <= 0 {
			return fmt.Errorf("locks.ttl must be positive")
		}
	case LocksLocal:
	default:
		return fmt.Errorf("locks.backend: unknown backend %q", c.Locks.Backend)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// SetupLogging configures the global logger.
func (l Log) SetupLogging(out io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if l.Console {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	}
	zerolog.DefaultContextLogger = &log.Logger
}
