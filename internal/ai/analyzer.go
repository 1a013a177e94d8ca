// Package ai implements the text-analysis collaborator of the deep-analysis
// filter stage on top of an OpenAI-compatible chat completions API.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"text/template"
	"unicode/utf8"

	"github.com/qcekey/iget/internal/model"
)

var _ model.TextAnalyzer = (*Screener)(nil)

// maxDescriptionRunes bounds the vacancy text sent to the model.
const maxDescriptionRunes = 6000

// Screener implements model.TextAnalyzer using an LLM.
type Screener struct {
	provider Completer
	tmpl     *template.Template
	logger   *slog.Logger
}

// NewScreener creates an analyzer that asks the LLM whether a vacancy fits.
func NewScreener(provider Completer, tmpl *template.Template, logger *slog.Logger) *Screener {
	return &Screener{
		provider: provider,
		tmpl:     tmpl,
		logger:   logger,
	}
}

// Analyze renders the prompt, calls the provider and parses the verdict.
// Any failure is returned as an error; the caller decides how to degrade.
func (s *Screener) Analyze(ctx context.Context, req model.AnalysisRequest) (model.Judgment, error) {
	var promptBuf bytes.Buffer
	if err := s.tmpl.Execute(&promptBuf, model.AnalysisRequest{
		Title:       req.Title,
		Description: truncate(req.Description, maxDescriptionRunes),
		Context:     req.Context,
	}); err != nil {
		return model.Judgment{}, fmt.Errorf("render prompt: %w", err)
	}

	raw, err := s.provider.Complete(ctx, promptBuf.String())
	if err != nil {
		return model.Judgment{}, fmt.Errorf("llm complete: %w", err)
	}

	j, err := parseVerdict(raw)
	if err != nil {
		return model.Judgment{}, fmt.Errorf("parse verdict: %w", err)
	}
	if s.logger != nil {
		s.logger.Debug("vacancy screened", "title", req.Title, "suitable", j.Accept, "score", j.Score)
	}
	return j, nil
}

// rawVerdict is the JSON shape returned by the LLM (matches screeningSchema).
type rawVerdict struct {
	Suitable *bool  `json:"suitable"`
	Score    int    `json:"score"`
	Reason   string `json:"reason"`
}

// parseVerdict deserializes the LLM response. A missing "suitable" field is
// treated as malformed rather than as a rejection.
func parseVerdict(raw string) (model.Judgment, error) {
	var rv rawVerdict
	if err := json.Unmarshal([]byte(raw), &rv); err != nil {
		return model.Judgment{}, fmt.Errorf("unmarshal verdict JSON: %w", err)
	}
	if rv.Suitable == nil {
		return model.Judgment{}, fmt.Errorf("verdict JSON missing \"suitable\"")
	}

	score := rv.Score
	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}
	return model.Judgment{
		Accept:    *rv.Suitable,
		Score:     score,
		Rationale: rv.Reason,
	}, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
