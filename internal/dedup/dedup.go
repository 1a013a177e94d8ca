// Package dedup drops vacancies whose fingerprint was already seen, within a
// batch and across cycles.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/qcekey/iget/internal/model"
)

// Deduplicator is the only writer of the fingerprint index.
type Deduplicator struct {
	index  model.FingerprintIndex
	now    func() time.Time
	logger *slog.Logger
}

func New(index model.FingerprintIndex, logger *slog.Logger) *Deduplicator {
	return &Deduplicator{
		index:  index,
		now:    time.Now,
		logger: logger,
	}
}

// Apply returns, for each vacancy in batch order, whether it is new. The first
// occurrence of a fingerprint in the batch wins; later ones are duplicates even
// before the index commits. The batch is committed as a unit: on an index
// failure nothing is recorded and the whole batch is aborted.
func (d *Deduplicator) Apply(ctx context.Context, batch []model.Vacancy) ([]bool, error) {
	fresh := make([]bool, len(batch))
	inBatch := make(map[string]struct{}, len(batch))
	var (
		firsts []int
		fps    []string
	)

	for i, v := range batch {
		if _, dup := inBatch[v.Fingerprint]; dup {
			d.logger.Debug("duplicate within batch", "source", v.Source, "id", v.ID, "fingerprint", v.Fingerprint)
			continue
		}
		inBatch[v.Fingerprint] = struct{}{}
		firsts = append(firsts, i)
		fps = append(fps, v.Fingerprint)
	}
	if len(fps) == 0 {
		return fresh, nil
	}

	added, err := d.index.RecordBatch(ctx, fps, d.now())
	if err != nil {
		return nil, fmt.Errorf("dedup batch of %d: %w", len(fps), err)
	}
	for j, i := range firsts {
		if !added[j] {
			v := batch[i]
			d.logger.Debug("duplicate of earlier cycle", "source", v.Source, "id", v.ID, "fingerprint", v.Fingerprint)
			continue
		}
		fresh[i] = true
	}
	return fresh, nil
}

// Evict drops fingerprints older than retention. Run it between cycles.
func (d *Deduplicator) Evict(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	n, err := d.index.Evict(ctx, d.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("evict fingerprints: %w", err)
	}
	if n > 0 {
		d.logger.Info("evicted fingerprints", "count", n, "retention", retention.String())
	}
	return n, nil
}

// Stats reports the index size and the age of its oldest entry.
type Stats struct {
	Size           int64
	OldestEntryAge time.Duration
}

func (d *Deduplicator) Stats(ctx context.Context) (Stats, error) {
	s, err := d.index.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("index stats: %w", err)
	}
	out := Stats{Size: s.Size}
	if !s.Oldest.IsZero() {
		out.OldestEntryAge = d.now().Sub(s.Oldest)
	}
	return out, nil
}
