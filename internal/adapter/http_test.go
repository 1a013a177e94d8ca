package adapter

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qcekey/iget/internal/model"
	"github.com/qcekey/iget/internal/retry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// noRetry keeps tests fast; retry behavior is covered in the retry package.
var noRetry = retry.Policy{MaxRetries: 0, BaseDelay: time.Millisecond}

func TestParseRetryAfter(t *testing.T) {
	tests := map[string]time.Duration{
		"":     0,
		"120":  2 * time.Minute,
		"soon": 0,
		"0":    0,
	}
	for in, want := range tests {
		if got := parseRetryAfter(in); got != want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCheckResponse(t *testing.T) {
	tests := []struct {
		status      int
		rateLimited bool
	}{
		{http.StatusOK, false},
		{http.StatusTooManyRequests, true},
		{http.StatusForbidden, true},
		{statusBlocked, true},
		{http.StatusNotFound, false},
		{http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		rec.Header().Set("Retry-After", "30")
		rec.WriteHeader(tt.status)
		resp := rec.Result()

		err := checkResponse("src", resp)
		if tt.status == http.StatusOK {
			if err != nil {
				t.Errorf("status %d: unexpected error %v", tt.status, err)
			}
			continue
		}

		var rlErr *model.RateLimitedError
		var httpErr *model.HTTPError
		switch {
		case tt.rateLimited:
			if !errors.As(err, &rlErr) || rlErr.StatusCode != tt.status || rlErr.RetryAfter != 30*time.Second {
				t.Errorf("status %d: got %v, want RateLimitedError with Retry-After", tt.status, err)
			}
		default:
			if !errors.As(err, &httpErr) || httpErr.StatusCode != tt.status {
				t.Errorf("status %d: got %v, want HTTPError", tt.status, err)
			}
		}
	}
}

func TestSourceError_KeepsSpecificErrors(t *testing.T) {
	rl := &model.RateLimitedError{Source: "x", StatusCode: 429}
	if got := sourceError("x", rl); got != error(rl) {
		t.Errorf("rate limited error was re-wrapped: %v", got)
	}
	cfg := &model.ConfigError{Source: "x", Field: "query", Reason: "required"}
	if got := sourceError("x", cfg); got != error(cfg) {
		t.Errorf("config error was re-wrapped: %v", got)
	}

	var srcErr *model.SourceError
	if !errors.As(sourceError("x", errors.New("boom")), &srcErr) || srcErr.Source != "x" {
		t.Error("generic error should become a SourceError")
	}
	if sourceError("x", nil) != nil {
		t.Error("nil should stay nil")
	}
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "encoded HTML",
			input: "This is the job description. &lt;p&gt;Any HTML included.&lt;/p&gt;",
			want:  "This is the job description. Any HTML included.",
		},
		{
			name:  "block tags become lines",
			input: "<p>We are hiring.</p>\n<ul>\n  <li>Write <b>Go</b></li>\n  <li>Review PRs</li>\n</ul>",
			want:  "We are hiring.\nWrite Go\nReview PRs",
		},
		{
			name:  "highlight tags from search snippets",
			input: "Опыт <highlighttext>Go</highlighttext> от 3 лет",
			want:  "Опыт Go от 3 лет",
		},
		{
			name:  "plain text with no HTML",
			input: "No tags here.",
			want:  "No tags here.",
		},
		{
			name:  "empty string",
			input: "",
			want:  "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := extractText(tc.input)
			if got != tc.want {
				t.Errorf("extractText(%q)\n got  %q\n want %q", tc.input, got, tc.want)
			}
		})
	}
}

// --- helpers ---

// routes serves fixed bodies by path prefix and counts hits per path.
type routes struct {
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	hits     map[string]int
}

func newRoutes() *routes {
	return &routes{handlers: map[string]http.HandlerFunc{}, hits: map[string]int{}}
}

func (r *routes) handle(prefix string, h http.HandlerFunc) {
	r.handlers[prefix] = h
}

func (r *routes) count(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits[path]
}

func (r *routes) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	r.hits[req.URL.Path]++
	r.mu.Unlock()
	best := ""
	for prefix := range r.handlers {
		if strings.HasPrefix(req.URL.Path, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		http.NotFound(w, req)
		return
	}
	r.handlers[best](w, req)
}
