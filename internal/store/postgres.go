package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/qcekey/iget/internal/model"
	"github.com/qcekey/iget/internal/store/migrations"
)

var _ model.FingerprintIndex = (*PostgresIndex)(nil)

// PostgresIndex keeps fingerprints in a PostgreSQL table.
type PostgresIndex struct {
	pool *pgxpool.Pool
}

// NewPostgresIndex connects to databaseURL and applies the schema migrations.
func NewPostgresIndex(ctx context.Context, databaseURL string) (*PostgresIndex, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	// Closing the database/sql view leaves the pool open.
	db := stdlib.OpenDBFromPool(pool)
	err = migrations.Run(ctx, db, migrations.Postgres)
	db.Close()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrating postgres db: %w", err)
	}
	return &PostgresIndex{pool: pool}, nil
}

func (p *PostgresIndex) Record(ctx context.Context, fp string, seenAt time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO iget_fingerprints (fingerprint, first_seen) VALUES ($1, $2)
		 ON CONFLICT (fingerprint) DO NOTHING`,
		fp, seenAt,
	)
	if err != nil {
		return false, fmt.Errorf("recording fingerprint %s: %w", fp, err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordBatch inserts the fingerprints in one transaction.
func (p *PostgresIndex) RecordBatch(ctx context.Context, fps []string, seenAt time.Time) ([]bool, error) {
	added := make([]bool, len(fps))
	if len(fps) == 0 {
		return added, nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning fingerprint batch: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, fp := range fps {
		tag, err := tx.Exec(ctx,
			`INSERT INTO iget_fingerprints (fingerprint, first_seen) VALUES ($1, $2)
			 ON CONFLICT (fingerprint) DO NOTHING`,
			fp, seenAt,
		)
		if err != nil {
			return nil, fmt.Errorf("recording fingerprint %s: %w", fp, err)
		}
		added[i] = tag.RowsAffected() == 1
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing fingerprint batch: %w", err)
	}
	return added, nil
}

func (p *PostgresIndex) Contains(ctx context.Context, fp string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM iget_fingerprints WHERE fingerprint = $1)", fp,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking fingerprint %s: %w", fp, err)
	}
	return exists, nil
}

func (p *PostgresIndex) Evict(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, "DELETE FROM iget_fingerprints WHERE first_seen < $1", before)
	if err != nil {
		return 0, fmt.Errorf("evicting fingerprints before %v: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresIndex) Stats(ctx context.Context) (model.IndexStats, error) {
	var (
		count  int64
		oldest *time.Time
	)
	err := p.pool.QueryRow(ctx, "SELECT COUNT(*), MIN(first_seen) FROM iget_fingerprints").Scan(&count, &oldest)
	if err != nil {
		return model.IndexStats{}, fmt.Errorf("reading index stats: %w", err)
	}
	stats := model.IndexStats{Size: count}
	if oldest != nil {
		stats.Oldest = oldest.UTC()
	}
	return stats, nil
}

func (p *PostgresIndex) Close() error {
	p.pool.Close()
	return nil
}
