package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/qcekey/iget/internal/model"
	"github.com/qcekey/iget/internal/store/migrations"
)

var _ model.FingerprintIndex = (*SQLiteIndex)(nil)

// SQLiteIndex keeps fingerprints in a SQLite database.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex opens (or creates) the database at dbPath and applies the
// schema migrations.
func NewSQLiteIndex(dbPath string) (*SQLiteIndex, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	if err := migrations.Run(context.Background(), db, migrations.SQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating sqlite db: %w", err)
	}

	return &SQLiteIndex{db: db}, nil
}

// Record inserts the fingerprint unless it already exists.
func (s *SQLiteIndex) Record(ctx context.Context, fp string, seenAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO fingerprints (fingerprint, first_seen) VALUES (?, ?)",
		fp, seenAt.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("recording fingerprint %s: %w", fp, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("recording fingerprint %s: %w", fp, err)
	}
	return n == 1, nil
}

// RecordBatch inserts the fingerprints in one transaction.
func (s *SQLiteIndex) RecordBatch(ctx context.Context, fps []string, seenAt time.Time) ([]bool, error) {
	added := make([]bool, len(fps))
	if len(fps) == 0 {
		return added, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning fingerprint batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO fingerprints (fingerprint, first_seen) VALUES (?, ?)")
	if err != nil {
		return nil, fmt.Errorf("preparing fingerprint batch: %w", err)
	}
	defer stmt.Close()

	for i, fp := range fps {
		res, err := stmt.ExecContext(ctx, fp, seenAt.Unix())
		if err != nil {
			return nil, fmt.Errorf("recording fingerprint %s: %w", fp, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("recording fingerprint %s: %w", fp, err)
		}
		added[i] = n == 1
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing fingerprint batch: %w", err)
	}
	return added, nil
}

// Contains reports whether the fingerprint has been recorded.
func (s *SQLiteIndex) Contains(ctx context.Context, fp string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM fingerprints WHERE fingerprint = ?", fp).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking fingerprint %s: %w", fp, err)
	}
	return true, nil
}

// Evict deletes fingerprints first seen before the given time.
func (s *SQLiteIndex) Evict(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM fingerprints WHERE first_seen < ?", before.Unix())
	if err != nil {
		return 0, fmt.Errorf("evicting fingerprints before %v: %w", before, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("evicting fingerprints: %w", err)
	}
	return n, nil
}

// Stats returns the number of entries and the oldest first-seen time.
func (s *SQLiteIndex) Stats(ctx context.Context) (model.IndexStats, error) {
	var (
		count  int64
		oldest sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*), MIN(first_seen) FROM fingerprints").Scan(&count, &oldest)
	if err != nil {
		return model.IndexStats{}, fmt.Errorf("reading index stats: %w", err)
	}
	stats := model.IndexStats{Size: count}
	if oldest.Valid {
		stats.Oldest = time.Unix(oldest.Int64, 0).UTC()
	}
	return stats, nil
}

// Close closes the underlying database connection.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}
