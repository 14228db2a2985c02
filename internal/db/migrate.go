package db

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Migrate applies every not-yet-applied .sql file in dir, in name order. Each file
// and its schema_migrations row commit together.
func Migrate(ctx context.Context, pool *Pool, dir string) (int, error) {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (filename TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return 0, fmt.Errorf("ensure schema table: %w", err)
	}

	files, err := ListSQLFiles(dir)
	if err != nil {
		return 0, fmt.Errorf("list migrations: %w", err)
	}

	applied := 0
	for _, file := range files {
		name := filepath.Base(file)
		var exists bool
		if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename=$1)`, name).Scan(&exists); err != nil {
			return applied, fmt.Errorf("check migration %s: %w", name, err)
		}
		if exists {
			continue
		}
		if err := applyMigration(ctx, pool, file, name); err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", name, err)
		}
		slog.Default().InfoContext(ctx, "migration applied", "file", name)
		applied++
	}
	return applied, nil
}

func applyMigration(ctx context.Context, pool *Pool, file, name string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if sql := strings.TrimSpace(string(data)); sql != "" {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func ListSQLFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
