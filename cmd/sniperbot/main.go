// sniperbot trades crypto pairs on Binance from RSI/MACD/trend signals.
//
// Usage:
//
//	sniperbot run [--paper] [--replay --speed=100]
//	sniperbot backtest [--from=2024-01-01 --to=2024-02-01 --balance=10000]
//	sniperbot fetch [--limit=1000]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"sniperbot/config"
	"sniperbot/internal/logger"
	"sniperbot/internal/store/sqlstore"
)

var version = "0.1.0"

// app carries what every subcommand needs after config is loaded.
type app struct {
	configPath string
	cfg        *config.Config
	log        zerolog.Logger
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:           "sniperbot",
		Short:         "Signal-driven crypto trading bot",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logger.Init("sniperbot", cfg.Log.Level, cfg.Log.Format)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "config.yaml", "Path to the config document")

	root.AddCommand(a.runCmd())
	root.AddCommand(a.backtestCmd())
	root.AddCommand(a.fetchCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openStore opens the configured SQL store.
func (a *app) openStore(ctx context.Context) (*sqlstore.Store, error) {
	target := a.cfg.Storage.Path
	if a.cfg.Storage.Driver == "postgres" {
		target = a.cfg.Storage.DSN
	}
	if a.cfg.Storage.Driver == "sqlite" {
		if i := strings.LastIndex(target, "/"); i > 0 {
			if err := os.MkdirAll(target[:i], 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
	}
	return sqlstore.Open(ctx, a.cfg.Storage.Driver, target, a.log)
}

// parseTime accepts RFC3339 or a plain date. Empty means zero.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q (want RFC3339 or YYYY-MM-DD)", s)
}
