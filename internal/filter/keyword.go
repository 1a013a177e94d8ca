package filter

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/qcekey/iget/internal/model"
)

var _ model.Stage = (*KeywordStage)(nil)

var (
	orSeparator  = regexp.MustCompile(`(?i)\s+or\s+|[,|]`)
	andSeparator = regexp.MustCompile(`(?i)\s+and\s+`)
)

// Expression is a keyword expression in disjunctive form: it matches when
// every term of at least one group occurs in the text.
type Expression [][]string

// ParseExpression parses "go AND remote, python | rust OR java" into groups.
// Groups are separated by ",", "|" or OR; terms inside a group by AND.
// Terms are lowercased. An empty string yields an empty expression.
func ParseExpression(s string) Expression {
	var expr Expression
	for _, group := range orSeparator.Split(s, -1) {
		var terms []string
		for _, term := range andSeparator.Split(group, -1) {
			term = strings.ToLower(strings.TrimSpace(term))
			if term != "" {
				terms = append(terms, term)
			}
		}
		if len(terms) > 0 {
			expr = append(expr, terms)
		}
	}
	return expr
}

// Match reports whether text (already lowercased) satisfies the expression.
// An empty expression matches everything.
func (e Expression) Match(text string) bool {
	if len(e) == 0 {
		return true
	}
	for _, group := range e {
		all := true
		for _, term := range group {
			if !strings.Contains(text, term) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// KeywordStage matches title and description, case-insensitively.
// Order: any exclude term rejects, any regex accepts, then the keyword
// expression decides. With nothing configured it passes everything.
type KeywordStage struct {
	expr    Expression
	exclude []string
	regexes []*regexp.Regexp
}

// NewKeywordStage compiles the stage. Regex patterns are matched case-insensitively.
func NewKeywordStage(expression string, exclude []string, patterns []string) (*KeywordStage, error) {
	s := &KeywordStage{expr: ParseExpression(expression)}
	for _, e := range exclude {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			s.exclude = append(s.exclude, e)
		}
	}
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", p, err)
		}
		s.regexes = append(s.regexes, re)
	}
	return s, nil
}

func (s *KeywordStage) Name() string { return "keyword" }

// Empty reports whether the stage has nothing configured.
func (s *KeywordStage) Empty() bool {
	return len(s.expr) == 0 && len(s.exclude) == 0 && len(s.regexes) == 0
}

func (s *KeywordStage) Evaluate(_ context.Context, v model.Vacancy) model.Verdict {
	text := strings.ToLower(v.Title + "\n" + v.Description)

	for _, e := range s.exclude {
		if strings.Contains(text, e) {
			return s.verdict(false, fmt.Sprintf("excluded by %q", e))
		}
	}
	for _, re := range s.regexes {
		if re.MatchString(text) {
			return s.verdict(true, fmt.Sprintf("matched pattern %q", re.String()))
		}
	}
	if s.expr.Match(text) {
		return model.Verdict{Accept: true}
	}
	return s.verdict(false, "no keyword matched")
}

func (s *KeywordStage) verdict(accept bool, reason string) model.Verdict {
	return model.Verdict{
		Accept: accept,
		Annotation: &model.Annotation{
			Stage:     s.Name(),
			Accepted:  accept,
			Rationale: reason,
		},
	}
}
