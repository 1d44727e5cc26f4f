package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pulsegrid/mcpcore/internal/config"
	"github.com/pulsegrid/mcpcore/internal/migrate"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	runner := migrate.NewRunner(pool)
	if err := runner.EnsureLedger(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure migration ledger")
	}

	migrations, err := migrate.Discover(cfg.MigrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to discover migrations")
	}

	applied, err := runner.Apply(ctx, migrations)
	if err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	if len(applied) == 0 {
		fmt.Println("no pending migrations")
		return
	}
	for _, id := range applied {
		fmt.Printf("applied %s\n", id)
	}
}
