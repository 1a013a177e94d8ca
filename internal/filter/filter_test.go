package filter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/qcekey/iget/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func vac(title, desc string) model.Vacancy {
	return model.Vacancy{ID: "1", Source: model.SourceChannelFeed, Title: title, Description: desc}
}

func TestParseExpression(t *testing.T) {
	got := ParseExpression("Go AND Remote, python | Rust OR java,  ")
	want := Expression{{"go", "remote"}, {"python"}, {"rust"}, {"java"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseExpression mismatch (-want +got):\n%s", diff)
	}
	if len(ParseExpression("")) != 0 {
		t.Error("expected empty expression for empty input")
	}
}

func TestKeywordStage(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		exclude  []string
		patterns []string
		v        model.Vacancy
		want     bool
	}{
		{
			name: "empty config passes everything",
			v:    vac("Barista", "coffee"),
			want: true,
		},
		{
			name: "substring in title",
			expr: "golang",
			v:    vac("Senior Golang Developer", ""),
			want: true,
		},
		{
			name: "substring in description is case insensitive",
			expr: "kubernetes",
			v:    vac("Platform Engineer", "We run KUBERNETES everywhere"),
			want: true,
		},
		{
			name: "no keyword matched",
			expr: "golang, rust",
			v:    vac("Java Developer", "Spring"),
			want: false,
		},
		{
			name: "and group requires all terms",
			expr: "go AND remote",
			v:    vac("Go Developer", "office only"),
			want: false,
		},
		{
			name: "and group satisfied",
			expr: "go AND remote",
			v:    vac("Go Developer", "Fully remote"),
			want: true,
		},
		{
			name:    "exclude wins over keyword",
			expr:    "go",
			exclude: []string{"crypto"},
			v:       vac("Go Developer", "Crypto exchange"),
			want:    false,
		},
		{
			name:     "regex accepts without keyword",
			expr:     "python",
			patterns: []string{`\bgo(lang)?\b`},
			v:        vac("Golang engineer", ""),
			want:     true,
		},
		{
			name:     "exclude applies before regex",
			patterns: []string{"engineer"},
			exclude:  []string{"intern"},
			v:        vac("Engineer intern", ""),
			want:     false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewKeywordStage(tt.expr, tt.exclude, tt.patterns)
			if err != nil {
				t.Fatalf("NewKeywordStage: %v", err)
			}
			got := s.Evaluate(context.Background(), tt.v)
			if got.Accept != tt.want {
				t.Errorf("Accept = %v, want %v", got.Accept, tt.want)
			}
		})
	}
}

func TestKeywordStage_InvalidRegex(t *testing.T) {
	if _, err := NewKeywordStage("", nil, []string{"("}); err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

type stubAnalyzer struct {
	judgment model.Judgment
	err      error
	delay    time.Duration
	calls    int
}

func (s *stubAnalyzer) Analyze(ctx context.Context, _ model.AnalysisRequest) (model.Judgment, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return model.Judgment{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.judgment, s.err
}

func TestAnalysisStage_UsesJudgment(t *testing.T) {
	a := &stubAnalyzer{judgment: model.Judgment{Accept: false, Score: 2, Rationale: "frontend role"}}
	s := NewAnalysisStage(a, "backend only", time.Second, discardLogger())

	got := s.Evaluate(context.Background(), vac("React Developer", ""))
	if got.Accept {
		t.Error("expected rejection from analyzer judgment")
	}
	want := &model.Annotation{Stage: "analysis", Accepted: false, Score: 2, Rationale: "frontend role"}
	if diff := cmp.Diff(want, got.Annotation); diff != "" {
		t.Errorf("annotation mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalysisStage_FailsOpenOnError(t *testing.T) {
	s := NewAnalysisStage(&stubAnalyzer{err: errors.New("503 from provider")}, "", time.Second, discardLogger())

	got := s.Evaluate(context.Background(), vac("Go Developer", ""))
	if !got.Accept {
		t.Fatal("expected analyzer failure to accept the vacancy")
	}
	if got.Annotation == nil || !got.Annotation.FailedOpen {
		t.Errorf("expected FailedOpen annotation, got %+v", got.Annotation)
	}
}

func TestAnalysisStage_FailsOpenOnTimeout(t *testing.T) {
	a := &stubAnalyzer{judgment: model.Judgment{Accept: false}, delay: time.Second}
	s := NewAnalysisStage(a, "", 20*time.Millisecond, discardLogger())

	got := s.Evaluate(context.Background(), vac("Go Developer", ""))
	if !got.Accept || got.Annotation == nil || !got.Annotation.FailedOpen {
		t.Errorf("expected timeout to fail open, got %+v", got)
	}
}

func TestChain_StopsAtFirstRejection(t *testing.T) {
	kw, err := NewKeywordStage("golang", nil, nil)
	if err != nil {
		t.Fatalf("NewKeywordStage: %v", err)
	}
	a := &stubAnalyzer{judgment: model.Judgment{Accept: true}}
	c := NewChain(discardLogger(), kw, NewAnalysisStage(a, "", time.Second, discardLogger()))

	out := c.Run(context.Background(), vac("Java Developer", ""))
	if out.Accepted {
		t.Fatal("expected rejection by keyword stage")
	}
	if out.RejectedBy != "keyword" {
		t.Errorf("RejectedBy = %q, want keyword", out.RejectedBy)
	}
	if a.calls != 0 {
		t.Errorf("analysis stage called %d times after keyword rejection", a.calls)
	}
}

func TestChain_KeywordPassThenAnalysisOutageStillAccepts(t *testing.T) {
	kw, _ := NewKeywordStage("golang", nil, nil)
	a := &stubAnalyzer{err: errors.New("connection refused")}
	c := NewChain(discardLogger(), kw, NewAnalysisStage(a, "", time.Second, discardLogger()))

	out := c.Run(context.Background(), vac("Golang Developer", ""))
	if !out.Accepted {
		t.Fatal("expected acceptance when analysis is unavailable")
	}
	if len(out.Annotations) != 1 || !out.Annotations[0].FailedOpen {
		t.Errorf("annotations = %+v, want one FailedOpen entry", out.Annotations)
	}
}

func TestChain_Empty(t *testing.T) {
	c := NewChain(discardLogger())
	if !c.Run(context.Background(), vac("anything", "")).Accepted {
		t.Error("expected empty chain to accept")
	}
	if len(c.Names()) != 0 {
		t.Errorf("Names = %v, want none", c.Names())
	}
}
