// Package config loads server configuration from the environment (with an
// optional .env file) and market economics from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/veridict/veridict/pkg/lmsr"
)

type Config struct {
	ListenAddr       string
	DBPath           string
	DBMigrationsPath string
	JWTSecret        string
	AdminUsers       []string
	CORSOrigins      []string
	LogLevel         string
	Economics        Economics
}

// Economics holds the tunable currency parameters of the market. They are
// read once at startup; changing them does not retroactively affect
// existing balances or markets.
type Economics struct {
	StartingBalance  float64 `yaml:"starting_balance"`
	DailyBonus       float64 `yaml:"daily_bonus"`
	DefaultLiquidity float64 `yaml:"default_liquidity"`
}

func defaultEconomics() Economics {
	return Economics{
		StartingBalance:  1000,
		DailyBonus:       50,
		DefaultLiquidity: lmsr.DefaultLiquidity,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first if present. economicsPath may be
// empty, in which case built-in economics defaults are used.
func Load(economicsPath string) (*Config, error) {
	// Missing .env is fine; explicit env vars win either way.
	godotenv.Load()

	cfg := &Config{
		ListenAddr:       envOr("LISTEN_ADDR", ":8087"),
		DBPath:           envOr("DB_PATH", "veridict.db"),
		DBMigrationsPath: envOr("DB_MIGRATIONS_PATH", "file://db/migrations"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		Economics:        defaultEconomics(),
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	if admins := os.Getenv("ADMIN_USERS"); admins != "" {
		for _, a := range strings.Split(admins, ",") {
			if a = strings.TrimSpace(a); a != "" {
				cfg.AdminUsers = append(cfg.AdminUsers, a)
			}
		}
	}

	if economicsPath != "" {
		bts, err := os.ReadFile(economicsPath)
		if err != nil {
			return nil, fmt.Errorf("read economics config: %w", err)
		}
		if err := yaml.Unmarshal(bts, &cfg.Economics); err != nil {
			return nil, fmt.Errorf("parse economics config: %w", err)
		}
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	if c.Economics.StartingBalance < 0 {
		return errors.New("starting_balance must not be negative")
	}
	if c.Economics.DailyBonus < 0 {
		return errors.New("daily_bonus must not be negative")
	}
	if c.Economics.DefaultLiquidity <= 0 {
		return errors.New("default_liquidity must be positive")
	}
	return nil
}
