// Package rentownd parses agreement server flags and starts the service.
package rentownd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	entrypoint "github.com/louisbranch/rentown/internal/platform/cmd"
	"github.com/louisbranch/rentown/internal/services/rentown"
)

// Config holds rentownd command configuration.
type Config struct {
	Port      int     `env:"RENTOWN_PORT" envDefault:"8080"`
	Addr      string  `env:"RENTOWN_ADDR"`
	DBPath    string  `env:"RENTOWN_DB_PATH" envDefault:"rentown.db"`
	JWTSecret string  `env:"RENTOWN_JWT_SECRET"`
	RateLimit float64 `env:"RENTOWN_RATE_LIMIT"`
	RateBurst int     `env:"RENTOWN_RATE_BURST"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The agreement server port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The agreement server listen address (overrides -port)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "The SQLite database path")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the agreement service.
func Run(ctx context.Context, cfg Config) error {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("RENTOWN_JWT_SECRET is required")
	}

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.Port)
	}

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRentown, func(context.Context) error {
		return rentown.Run(ctx, rentown.Config{
			Addr:      addr,
			DBPath:    cfg.DBPath,
			JWTSecret: []byte(cfg.JWTSecret),
			RateLimit: cfg.RateLimit,
			RateBurst: cfg.RateBurst,
		})
	})
}
