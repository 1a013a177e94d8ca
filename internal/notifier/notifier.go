// Package notifier emits the accepted vacancies of a cycle to a sink.
package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qcekey/iget/internal/model"
)

// SendTestMessage sends a dummy vacancy to verify the integration works.
func SendTestMessage(ctx context.Context, n model.Notifier) error {
	now := time.Now().UTC()
	test := model.Screened{
		Vacancy: model.Vacancy{
			ID:          "test-001",
			Source:      model.SourceJobBoard,
			Title:       "Test Notification: Integration Verified",
			Company:     "iget",
			Location:    "Everywhere",
			Description: "If you can read this, notifications work.",
			URL:         "https://hh.ru/vacancy/0",
			PostedAt:    now,
			Fingerprint: "sha256:test",
		},
		Annotations: []model.Annotation{
			{Stage: "analysis", Accepted: true, Score: 10, Rationale: "test message"},
		},
	}
	return n.Notify(ctx, []model.Screened{test})
}

// verdictLine summarizes the deep-analysis annotation, if any.
func verdictLine(s model.Screened) string {
	for _, a := range s.Annotations {
		if a.Stage != "analysis" {
			continue
		}
		if a.FailedOpen {
			return "Analysis unavailable, passed unchecked"
		}
		line := fmt.Sprintf("Fit %d/10", a.Score)
		if a.Rationale != "" {
			line += ": " + a.Rationale
		}
		return line
	}
	return ""
}

// snippet returns the first n runes of s on a single line.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
