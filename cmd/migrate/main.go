// Command migrate applies database schema migrations for the backtester's
// job store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantledger/backtester/internal/db"
)

func main() {
	command := flag.String("command", "migrate", "Command to run: migrate or status")
	dbURL := flag.String("db", os.Getenv("DATABASE_URL"), "Database connection URL")
	migrationsDir := flag.String("migrations", "migrations", "Path to migrations directory")
	flag.Parse()

	if *dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL not set and -db not provided")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, *dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to ping database: %v\n", err)
		os.Exit(1)
	}

	db.SetMigrationsDir(*migrationsDir)
	migrator := db.NewMigrator(pool)

	switch *command {
	case "migrate":
		if err := migrator.Migrate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
			os.Exit(1)
		}
	case "status":
		if err := migrator.Status(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "status check failed: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", *command)
		fmt.Fprintln(os.Stderr, "usage: migrate -command=[migrate|status]")
		os.Exit(1)
	}
}
