package sqlstore

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

//go:embed migrations
var migrationsFS embed.FS

// Migration is one schema file and whether it was already applied
type Migration struct {
	Filename string
	Checksum string
	Applied  bool
}

func (s *Store) migrationFiles() ([]string, error) {
	dir := "migrations/" + s.dialect.name()
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, dir+"/"+e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func (s *Store) ensureMigrationsTable(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS schema_migrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filename TEXT NOT NULL UNIQUE,
		checksum TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`
	if s.dialect.name() == Postgres {
		ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (
			id BIGSERIAL PRIMARY KEY,
			filename TEXT NOT NULL UNIQUE,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL
		)`
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return nil
}

func (s *Store) appliedMigrations(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT filename, checksum FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := map[string]string{}
	for rows.Next() {
		var name, sum string
		if err := rows.Scan(&name, &sum); err != nil {
			return nil, err
		}
		applied[name] = sum
	}
	return applied, rows.Err()
}

// Migrations lists the embedded schema files for the active dialect
func (s *Store) Migrations(ctx context.Context) ([]Migration, error) {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	files, err := s.migrationFiles()
	if err != nil {
		return nil, err
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Migration, 0, len(files))
	for _, path := range files {
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return nil, err
		}
		name := path[strings.LastIndex(path, "/")+1:]
		_, done := applied[name]
		out = append(out, Migration{Filename: name, Checksum: checksum(content), Applied: done})
	}
	return out, nil
}

// Migrate applies every pending schema file in filename order, each in its
// own transaction. An applied file whose content changed is an error.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return err
	}
	files, err := s.migrationFiles()
	if err != nil {
		return err
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, path := range files {
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", path, err)
		}
		name := path[strings.LastIndex(path, "/")+1:]
		sum := checksum(content)
		if prev, ok := applied[name]; ok {
			if prev != sum {
				return fmt.Errorf("migration %s was modified after being applied", name)
			}
			continue
		}
		if err := s.apply(ctx, name, sum, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, name, sum, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", name, err)
	}
	defer tx.Rollback()

	for _, stmt := range statements(content) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	c := conn{q: tx, d: s.dialect}
	if _, err := c.exec(ctx, "INSERT INTO schema_migrations (filename, checksum, applied_at) VALUES (?, ?, ?)",
		name, sum, s.dialect.timeArg(time.Now())); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	return tx.Commit()
}

// statements splits a schema file on semicolons. The files hold no string
// literals containing one.
func statements(content string) []string {
	var out []string
	for _, part := range strings.Split(content, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
