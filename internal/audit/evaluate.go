// Package audit is an interactive view of one source's postings as the
// filter chain sees them.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/qcekey/iget/internal/filter"
	"github.com/qcekey/iget/internal/model"
	"github.com/qcekey/iget/internal/normalize"
)

// Entry is one normalized posting with the chain's verdict on it.
type Entry struct {
	Vacancy   model.Vacancy
	Outcome   filter.Outcome
	Seen      bool // fingerprint already in the index
	Stale     bool // posted before the lookback window
	Malformed string
}

// Accepted reports whether the entry would be emitted by a real cycle.
func (e Entry) Accepted() bool {
	return e.Outcome.Accepted && !e.Seen && !e.Stale && e.Malformed == ""
}

// Evaluate fetches from adapter and runs every posting through chain without
// recording anything. index may be nil. A fetch error is returned alongside
// whatever the adapter produced; an error with no postings is fatal.
func Evaluate(ctx context.Context, adapter model.Adapter, window model.Window, chain *filter.Chain, index model.FingerprintIndex) ([]Entry, error) {
	raws, fetchErr := adapter.Fetch(ctx, window)
	if fetchErr != nil && len(raws) == 0 {
		return nil, fmt.Errorf("fetch %s: %w", adapter.Name(), fetchErr)
	}

	now := time.Now()
	entries := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		v, err := normalize.Normalize(raw)
		if err != nil {
			var mErr *model.MalformedPostingError
			reason := err.Error()
			if errors.As(err, &mErr) {
				reason = mErr.Reason
			}
			entries = append(entries, Entry{
				Vacancy:   model.Vacancy{ID: raw.ID, Source: raw.Source, Title: raw.Title, URL: raw.URL},
				Malformed: reason,
			})
			continue
		}

		e := Entry{Vacancy: v, Stale: !window.Contains(v.PostedAt, now)}
		if index != nil {
			seen, err := index.Contains(ctx, v.Fingerprint)
			if err != nil {
				return nil, fmt.Errorf("check fingerprint: %w", err)
			}
			e.Seen = seen
		}
		e.Outcome = chain.Run(ctx, v)
		entries = append(entries, e)
	}

	sortByDate(entries)
	if fetchErr != nil {
		return entries, fmt.Errorf("fetch %s (partial): %w", adapter.Name(), fetchErr)
	}
	return entries, nil
}

// Split returns the accepted subset.
func Split(entries []Entry) []Entry {
	var accepted []Entry
	for _, e := range entries {
		if e.Accepted() {
			accepted = append(accepted, e)
		}
	}
	return accepted
}

func sortByDate(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Vacancy.PostedAt.After(entries[j].Vacancy.PostedAt)
	})
}
