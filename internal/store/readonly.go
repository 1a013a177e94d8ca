package store

import (
	"context"
	"time"

	"github.com/qcekey/iget/internal/model"
)

var _ model.FingerprintIndex = (*ReadOnlyIndex)(nil)

// ReadOnlyIndex answers membership from an underlying index but never writes
// to it. Used by dry runs so a check does not consume fingerprints.
type ReadOnlyIndex struct {
	inner model.FingerprintIndex
}

func NewReadOnlyIndex(inner model.FingerprintIndex) *ReadOnlyIndex {
	return &ReadOnlyIndex{inner: inner}
}

// Record reports whether fp is absent from the underlying index without recording it.
func (r *ReadOnlyIndex) Record(ctx context.Context, fp string, _ time.Time) (bool, error) {
	seen, err := r.inner.Contains(ctx, fp)
	if err != nil {
		return false, err
	}
	return !seen, nil
}

func (r *ReadOnlyIndex) RecordBatch(ctx context.Context, fps []string, seenAt time.Time) ([]bool, error) {
	added := make([]bool, len(fps))
	for i, fp := range fps {
		ok, err := r.Record(ctx, fp, seenAt)
		if err != nil {
			return nil, err
		}
		added[i] = ok
	}
	return added, nil
}

func (r *ReadOnlyIndex) Contains(ctx context.Context, fp string) (bool, error) {
	return r.inner.Contains(ctx, fp)
}

func (r *ReadOnlyIndex) Evict(context.Context, time.Time) (int64, error) { return 0, nil }

func (r *ReadOnlyIndex) Stats(ctx context.Context) (model.IndexStats, error) {
	return r.inner.Stats(ctx)
}
