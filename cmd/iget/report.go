package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/qcekey/iget/internal/pipeline"
)

// printReport writes a per-source table of a finished cycle.
func printReport(w io.Writer, r *pipeline.CycleReport) {
	fmt.Fprintf(w, "\nCycle %s (%s)\n", r.ID, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "%-14s %-14s %7s %9s %6s %6s %8s %8s\n",
		"Source", "Status", "Fetched", "Malformed", "Stale", "Dupes", "Filtered", "Accepted")
	fmt.Fprintln(w, strings.Repeat("─", 80))

	for _, s := range r.Sources {
		fmt.Fprintf(w, "%-14s %-14s %7d %9d %6d %6d %8d %8d\n",
			s.Name, s.Status, s.Fetched, s.Malformed, s.Stale, s.Duplicate, s.Filtered, s.Accepted)
		if s.Err != nil {
			fmt.Fprintf(w, "  error: %v\n", s.Err)
		}
		if !s.BlockedUntil.IsZero() {
			fmt.Fprintf(w, "  backing off until %s\n", s.BlockedUntil.Format(time.RFC3339))
		}
	}

	t := r.Totals()
	fmt.Fprintln(w, strings.Repeat("─", 80))
	fmt.Fprintf(w, "%-14s %-14s %7d %9d %6d %6d %8d %8d\n",
		"total", "", t.Fetched, t.Malformed, t.Stale, t.Duplicate, t.Filtered, t.Accepted)

	if r.TimedOut {
		fmt.Fprintln(w, "\nCycle deadline hit, partial results kept.")
	}
	if r.EmitError != nil {
		fmt.Fprintf(w, "\nEmit failed: %v\n", r.EmitError)
	}
	fmt.Fprintf(w, "\nEmitted %d new vacancies.\n", len(r.Emitted))
}
