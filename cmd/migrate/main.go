package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"beaconattend/internal/app"
	"beaconattend/internal/config"
	"beaconattend/internal/store"
)

func main() {
	cfg := config.Load()
	pflag.StringVar(&cfg.DBDriver, "driver", cfg.DBDriver, "database driver (pgx or sqlite3)")
	pflag.StringVar(&cfg.DatabaseURL, "dsn", cfg.DatabaseURL, "database connection string")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: migrate [flags] up|down|status|version\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	logger := app.NewLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(2)
	}
	if err := run(context.Background(), cfg, pflag.Arg(0), logger); err != nil {
		logger.Fatal("migrate failed", zap.String("command", pflag.Arg(0)), zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.App, command string, logger *zap.Logger) error {
	if cfg.DBDriver == "memory" {
		return fmt.Errorf("DB_DRIVER is memory; nothing to migrate")
	}
	db, err := store.NewDB(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	mg, err := app.NewMigrator(db, logger)
	if err != nil {
		return err
	}
	switch command {
	case "up":
		return mg.Run(ctx)
	case "down":
		return mg.Down(ctx)
	case "status":
		return mg.Status(ctx)
	case "version":
		v, err := mg.Version(ctx)
		if err != nil {
			return err
		}
		logger.Info("database version", zap.Int64("version", v))
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
