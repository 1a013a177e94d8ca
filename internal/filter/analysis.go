package filter

import (
	"context"
	"log/slog"
	"time"

	"github.com/qcekey/iget/internal/model"
)

var _ model.Stage = (*AnalysisStage)(nil)

// AnalysisStage asks a text analyzer for a verdict. When the analyzer fails
// (timeout, transport error, unparseable answer) the vacancy is accepted and
// the annotation is marked FailedOpen.
type AnalysisStage struct {
	analyzer    model.TextAnalyzer
	userContext string
	timeout     time.Duration
	logger      *slog.Logger
}

// NewAnalysisStage creates the stage. userContext is passed to the analyzer
// with every request; timeout bounds each call (zero means no extra bound).
func NewAnalysisStage(analyzer model.TextAnalyzer, userContext string, timeout time.Duration, logger *slog.Logger) *AnalysisStage {
	return &AnalysisStage{
		analyzer:    analyzer,
		userContext: userContext,
		timeout:     timeout,
		logger:      logger,
	}
}

func (s *AnalysisStage) Name() string { return "analysis" }

func (s *AnalysisStage) Evaluate(ctx context.Context, v model.Vacancy) model.Verdict {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	j, err := s.analyzer.Analyze(ctx, model.AnalysisRequest{
		Title:       v.Title,
		Description: v.Description,
		Context:     s.userContext,
	})
	if err != nil {
		return s.failOpen(v, &model.AnalysisUnavailableError{Err: err})
	}

	return model.Verdict{
		Accept: j.Accept,
		Annotation: &model.Annotation{
			Stage:     s.Name(),
			Accepted:  j.Accept,
			Score:     j.Score,
			Rationale: j.Rationale,
		},
	}
}

func (s *AnalysisStage) failOpen(v model.Vacancy, err *model.AnalysisUnavailableError) model.Verdict {
	s.logger.Warn("deep analysis unavailable, accepting",
		"source", v.Source,
		"id", v.ID,
		"error", err,
	)
	return model.Verdict{
		Accept: true,
		Annotation: &model.Annotation{
			Stage:      s.Name(),
			Accepted:   true,
			Rationale:  err.Error(),
			FailedOpen: true,
		},
	}
}
