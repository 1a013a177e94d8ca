// Package filter holds the ordered filter chain applied to deduplicated vacancies.
package filter

import (
	"context"
	"log/slog"

	"github.com/qcekey/iget/internal/model"
)

// Chain runs stages left to right and stops at the first rejection.
type Chain struct {
	stages []model.Stage
	logger *slog.Logger
}

func NewChain(logger *slog.Logger, stages ...model.Stage) *Chain {
	return &Chain{stages: stages, logger: logger}
}

// Outcome is the chain's decision for one vacancy.
type Outcome struct {
	Accepted    bool
	RejectedBy  string
	Annotations []model.Annotation
}

// Run evaluates v against every stage until one rejects it.
func (c *Chain) Run(ctx context.Context, v model.Vacancy) Outcome {
	var out Outcome
	for _, s := range c.stages {
		verdict := s.Evaluate(ctx, v)
		if verdict.Annotation != nil {
			out.Annotations = append(out.Annotations, *verdict.Annotation)
		}
		if !verdict.Accept {
			out.RejectedBy = s.Name()
			c.logger.Debug("vacancy rejected", "stage", s.Name(), "source", v.Source, "id", v.ID, "title", v.Title)
			return out
		}
	}
	out.Accepted = true
	return out
}

// Names lists the stage names in order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	return names
}
