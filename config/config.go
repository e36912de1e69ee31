/*
Package config loads the coverd configuration.

SOURCES (later wins):
  1. Defaults (Default())
  2. YAML file, if a path is given
  3. Environment variables:
       COVER_PORT             server.port
       COVER_DB               database.path
       COVER_LOG_LEVEL        log.level
       COVER_RESERVE_ACCOUNT  reserve.account
  4. Command-line flags (applied by cmd/server)

EXAMPLE FILE:
  server:
    port: 8080
  database:
    path: cover.db
  log:
    level: info
  reserve:
    account: reserve
    initial_deposit: 1000000
  chain:
    block_interval: 10s
    produce: true
  limits:
    location: {min: 1, max: 500}
    duration: {min: 144, max: 52560}
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/warp/parametric-cover/cover"
	"github.com/warp/parametric-cover/funds"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Reserve  ReserveConfig  `yaml:"reserve"`
	Chain    ChainConfig    `yaml:"chain"`
	Limits   cover.Limits   `yaml:"limits"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	// Path is the SQLite file. ":memory:" keeps everything in process.
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type ReserveConfig struct {
	Account cover.Principal `yaml:"account"`
	// InitialDeposit funds an empty reserve at startup so early refunds can
	// be paid before premiums accumulate. Zero disables it.
	InitialDeposit cover.Amount `yaml:"initial_deposit"`
}

type ChainConfig struct {
	BlockInterval time.Duration `yaml:"block_interval"`
	Produce       bool          `yaml:"produce"`
	StartHeight   uint64        `yaml:"start_height"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Database: DatabaseConfig{Path: "cover.db"},
		Log:      LogConfig{Level: "info"},
		Reserve:  ReserveConfig{Account: "reserve"},
		Chain: ChainConfig{
			BlockInterval: 10 * time.Second,
			Produce:       true,
		},
	}
}

// Load reads defaults, then the YAML file at path (if non-empty), then the
// environment, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("COVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("COVER_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := getenv("COVER_DB"); v != "" {
		c.Database.Path = v
	}
	if v := getenv("COVER_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("COVER_RESERVE_ACCOUNT"); v != "" {
		c.Reserve.Account = cover.Principal(v)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Reserve.Account == "" {
		errs = append(errs, errors.New("reserve.account is required"))
	}
	if c.Reserve.Account == funds.External {
		errs = append(errs, fmt.Errorf("reserve.account cannot be %q", funds.External))
	}
	if c.Chain.Produce && c.Chain.BlockInterval <= 0 {
		errs = append(errs, errors.New("chain.block_interval must be positive when producing blocks"))
	}
	for name, r := range map[string]cover.Range{
		"location":  c.Limits.Location,
		"threshold": c.Limits.Threshold,
		"duration":  c.Limits.Duration,
	} {
		if r.Max != 0 && r.Max < r.Min {
			errs = append(errs, fmt.Errorf("limits.%s: max %d below min %d", name, r.Max, r.Min))
		}
	}
	return errors.Join(errs...)
}
