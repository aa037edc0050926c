package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"asset-tracker-api/internal/config"
	"asset-tracker-api/internal/store/sqlstore"

	"github.com/spf13/pflag"
)

func main() {
	cfg := config.Load()
	var (
		driver = pflag.String("driver", cfg.DBDriver, "Database driver: postgres or sqlite")
		dsn    = pflag.String("dsn", cfg.DBDSN, "Postgres connection string")
		path   = pflag.String("path", cfg.SQLitePath, "SQLite database file")
		status = pflag.Bool("status", false, "List migrations without applying them")
	)
	pflag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := sqlstore.Open(ctx, sqlstore.Config{Driver: *driver, DSN: *dsn, Path: *path, MaxConns: 2})
	if err != nil {
		log.Fatal("Failed to open database connection: ", err)
	}
	defer db.Close()

	fmt.Printf("Connected to %s database\n", db.Dialect())

	if !*status {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			log.Fatal("Failed to apply migrations: ", err)
		}
	}

	migrations, err := db.Migrations(ctx)
	if err != nil {
		db.Close()
		log.Fatal("Failed to read migration status: ", err)
	}
	fmt.Printf("Found %d migration files\n", len(migrations))
	pending := 0
	for _, m := range migrations {
		state := "applied"
		if !m.Applied {
			state = "pending"
			pending++
		}
		fmt.Printf("  %-40s %s  %s\n", m.Filename, m.Checksum[:12], state)
	}
	if pending == 0 {
		fmt.Println("All migrations applied successfully")
	}
}
