// Package migrations embeds the fingerprint index schema and applies it.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

// Dialects with a migration directory of the same name.
const (
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// FS contains the embedded SQL migration files, one directory per dialect.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

var gooseDialects = map[string]string{
	SQLite:   "sqlite3",
	Postgres: "postgres",
}

// goose keeps its base FS and dialect in package state.
var mu sync.Mutex

// Run applies all pending migrations for dialect to db.
func Run(ctx context.Context, db *sql.DB, dialect string) error {
	gooseDialect, ok := gooseDialects[dialect]
	if !ok {
		return fmt.Errorf("no migrations for dialect %q", dialect)
	}

	mu.Lock()
	defer mu.Unlock()

	goose.SetBaseFS(FS)
	if err := goose.SetDialect(gooseDialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, dialect); err != nil {
		return fmt.Errorf("run %s migrations: %w", dialect, err)
	}

	return nil
}
