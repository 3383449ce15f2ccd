// migrate applies the SQL schema migrations in order and records them in
// the schema_version table.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"github.com/ajitpratap0/tradepilot/internal/store"
)

const (
	exitOK      = 0
	exitConfig  = 1
	exitRuntime = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		command = flag.String("command", "migrate", "migrate or status")
		dsn     = flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres connection string")
		dir     = flag.String("migrations", "migrations", "migrations directory")
	)
	flag.Parse()

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "migrate: -dsn or DATABASE_URL is required")
		return exitConfig
	}

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: open: %v\n", err)
		return exitConfig
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: ping: %v\n", err)
		return exitRuntime
	}

	migrator := store.NewMigrator(db, *dir)

	switch *command {
	case "migrate":
		if err := migrator.Migrate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			return exitRuntime
		}
	case "status":
		if err := migrator.Status(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "migrate: status: %v\n", err)
			return exitRuntime
		}
	default:
		fmt.Fprintf(os.Stderr, "migrate: unknown command %q (use migrate or status)\n", *command)
		return exitConfig
	}
	return exitOK
}
