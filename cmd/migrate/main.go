// Command migrate applies the envelopes table schema to DATABASE_URL. It
// is idempotent (CREATE TABLE/INDEX IF NOT EXISTS) and safe to run before
// every deployment; cmd/relay also applies it at startup, so this exists
// for operators who want the migration to run as a separate, auditable
// step ahead of a rollout.
package main

import (
	"context"
	"database/sql"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/wadcom/minimailgun/internal/pkg/logger"
	"github.com/wadcom/minimailgun/internal/store/postgres"
)

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		logger.Error("database open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, postgres.SchemaDDL); err != nil {
		logger.Error("schema apply failed", "error", err)
		os.Exit(1)
	}

	logger.Info("migrate: schema applied")
}
