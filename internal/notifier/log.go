package notifier

import (
	"context"
	"log/slog"

	"github.com/qcekey/iget/internal/model"
)

// Ensure LogNotifier implements model.Notifier.
var _ model.Notifier = (*LogNotifier)(nil)

// LogNotifier writes accepted vacancies to the given logger as structured messages.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier that logs each vacancy via slog.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs each vacancy. Returns nil (stdout logging does not fail).
func (n *LogNotifier) Notify(_ context.Context, batch []model.Screened) error {
	for _, s := range batch {
		v := s.Vacancy
		args := []any{
			"source", v.Source,
			"company", v.Company,
			"title", v.Title,
			"location", v.Location,
			"url", v.URL,
			"posted_at", v.PostedAt,
		}
		if line := verdictLine(s); line != "" {
			args = append(args, "verdict", line)
		}
		n.logger.Info("new vacancy", args...)
	}
	return nil
}
