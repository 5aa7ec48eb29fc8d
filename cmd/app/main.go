package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"inventory-ledger/internal/adapters/cli"
	"inventory-ledger/internal/adapters/repl"
	"inventory-ledger/internal/bootstrap"
	"inventory-ledger/internal/config"
	"inventory-ledger/internal/db"
	"inventory-ledger/internal/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("INVLEDGER_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	// keep stdout for command output
	log := logger.NewWithWriter(os.Stderr, cfg.App.Env, "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, cfg, log, os.Args[1:]); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, cli.ErrUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "migrate":
			return migrate(ctx, cfg)
		case "seed":
			return seed(ctx, cfg, log)
		}
	}

	cfg.Migrations.Auto = false
	rt, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()
	if len(args) == 0 {
		return repl.Run(ctx, rt.Service, os.Stdin, os.Stdout)
	}
	return cli.Run(ctx, rt.Service, args, os.Stdout)
}

func migrate(ctx context.Context, cfg config.Config) error {
	pool, err := db.NewPool(ctx, cfg.Postgres.DSN, 2)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}
	version, err := db.MigrationVersion(ctx, pool)
	if err != nil {
		return err
	}
	fmt.Printf("Database at migration version %d.\n", version)
	return nil
}

func seed(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	pool, err := db.NewPool(ctx, cfg.Postgres.DSN, 2)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}
	res, err := db.Seed(ctx, pool, log)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
