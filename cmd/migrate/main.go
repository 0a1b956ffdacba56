// Command migrate applies migrations/*.sql to the Postgres document store
// in file-name order. Applied files are recorded in schema_migrations and
// skipped on later runs.
//
//	migrate [dir]      apply pending migrations (default ./migrations)
//	migrate --list     count stored documents by type
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/ignite/recruit-cdp/internal/config"
	"github.com/ignite/recruit-cdp/internal/pkg/logger"
)

const trackingTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	name       TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

func main() {
	dir, listOnly := "migrations", false
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		} else {
			dir = a
		}
	}

	if err := run(context.Background(), dir, listOnly); err != nil {
		logger.Error("migrate failed", "error", err)
		os.Exit(1)
	}
}

func dsn() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	path := "config/config.yaml"
	if p := os.Getenv("CDP_CONFIG"); p != "" {
		path = p
	}
	if cfg, err := config.LoadFromEnv(path); err == nil {
		return cfg.Store.DatabaseURL
	}
	return ""
}

func run(ctx context.Context, dir string, listOnly bool) error {
	url := dsn()
	if url == "" {
		return errors.New("DATABASE_URL or store.database_url is required")
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	if listOnly {
		return listDocuments(ctx, db)
	}
	return apply(ctx, db, dir)
}

func apply(ctx context.Context, db *sql.DB, dir string) error {
	if _, err := db.ExecContext(ctx, trackingTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)

	var applied, skipped int
	for _, path := range files {
		name := filepath.Base(path)
		var done bool
		if err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, name).Scan(&done); err != nil {
			return err
		}
		if done {
			skipped++
			continue
		}

		body, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(body)) == "" {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			tx.Rollback()
			return fmt.Errorf("%s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			tx.Rollback()
			return fmt.Errorf("%s: record: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%s: commit: %w", name, err)
		}
		logger.Info("migration applied", "file", name)
		applied++
	}

	logger.Info("migrations complete", "applied", applied, "skipped", skipped)
	return nil
}

func listDocuments(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx,
		`SELECT doc_type, COUNT(*) FROM cdp_documents GROUP BY doc_type ORDER BY doc_type`)
	if err != nil {
		return err
	}
	defer rows.Close()

	total := 0
	for rows.Next() {
		var docType string
		var n int
		if err := rows.Scan(&docType, &n); err != nil {
			return err
		}
		fmt.Printf("  %-24s %d\n", docType, n)
		total += n
	}
	fmt.Printf("Total: %d documents\n", total)
	return rows.Err()
}
