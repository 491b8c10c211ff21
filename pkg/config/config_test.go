package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/matryer/is"
)

func TestLoadDefaults(t *testing.T) {
	is := is.New(t)
	t.Setenv("JWT_SECRET", "s3kr1t")
	t.Setenv("CORS_ORIGINS", "")
	t.Setenv("ADMIN_USERS", "")

	cfg, err := Load("")
	is.NoErr(err)
	is.Equal(cfg.ListenAddr, ":8087")
	is.Equal(cfg.Economics.StartingBalance, 1000.0)
	is.Equal(cfg.Economics.DailyBonus, 50.0)
	is.Equal(cfg.Economics.DefaultLiquidity, 100.0)
	is.NoErr(cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	is := is.New(t)
	t.Setenv("JWT_SECRET", "s3kr1t")
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("ADMIN_USERS", "alice,bob")

	cfg, err := Load("")
	is.NoErr(err)
	is.Equal(cfg.ListenAddr, ":9999")
	is.Equal(cfg.CORSOrigins, []string{"https://a.example", "https://b.example"})
	is.Equal(cfg.AdminUsers, []string{"alice", "bob"})
}

func TestLoadEconomicsFile(t *testing.T) {
	is := is.New(t)
	t.Setenv("JWT_SECRET", "s3kr1t")

	path := filepath.Join(t.TempDir(), "economics.yaml")
	err := os.WriteFile(path, []byte(
		"starting_balance: 250\ndaily_bonus: 10\ndefault_liquidity: 400\n"), 0o644)
	is.NoErr(err)

	cfg, err := Load(path)
	is.NoErr(err)
	is.Equal(cfg.Economics.StartingBalance, 250.0)
	is.Equal(cfg.Economics.DailyBonus, 10.0)
	is.Equal(cfg.Economics.DefaultLiquidity, 400.0)
}

func TestValidate(t *testing.T) {
	is := is.New(t)
	cfg := &Config{JWTSecret: "", Economics: defaultEconomics()}
	is.True(cfg.Validate() != nil)

	cfg.JWTSecret = "x"
	is.NoErr(cfg.Validate())

	cfg.Economics.DefaultLiquidity = 0
	is.True(cfg.Validate() != nil)
}
