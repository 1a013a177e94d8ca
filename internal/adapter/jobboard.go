package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qcekey/iget/internal/config"
	"github.com/qcekey/iget/internal/model"
	"github.com/qcekey/iget/internal/retry"
)

const (
	jobBoardName = "job_board"

	// hhMaxPeriodDays is the largest "period" the search API accepts.
	hhMaxPeriodDays = 30
	hhNoEmployer    = "Не указано"
	hhVacancyURL    = "https://hh.ru/vacancy/%s"
	hhTimeLayout    = "2006-01-02T15:04:05-0700"
)

type hhNamed struct {
	Name string `json:"name"`
}

type hhSalary struct {
	From     *int   `json:"from"`
	To       *int   `json:"to"`
	Currency string `json:"currency"`
}

type hhSnippet struct {
	Requirement    string `json:"requirement"`
	Responsibility string `json:"responsibility"`
}

// hhVacancy is a vacancy in both the search and the detail responses.
// Description is only present in the detail response.
type hhVacancy struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Employer     *hhNamed   `json:"employer"`
	Area         *hhNamed   `json:"area"`
	AlternateURL string     `json:"alternate_url"`
	PublishedAt  string     `json:"published_at"`
	Snippet      *hhSnippet `json:"snippet"`
	Salary       *hhSalary  `json:"salary"`
	Experience   *hhNamed   `json:"experience"`
	Employment   *hhNamed   `json:"employment"`
	Schedule     *hhNamed   `json:"schedule"`
	Description  string     `json:"description"`
}

type hhSearchResponse struct {
	Items   []hhVacancy `json:"items"`
	Found   int         `json:"found"`
	Pages   int         `json:"pages"`
	Page    int         `json:"page"`
	PerPage int         `json:"per_page"`
}

var _ model.Adapter = (*JobBoardAdapter)(nil)

// JobBoardAdapter fetches vacancies from a HeadHunter-shaped JSON API:
// a paged search followed by one detail request per vacancy.
type JobBoardAdapter struct {
	cfg    config.JobBoardConfig
	client model.HTTPClient
	policy retry.Policy
	logger *slog.Logger
	now    func() time.Time
}

// NewJobBoardAdapter creates a job-board adapter bound to cfg.
func NewJobBoardAdapter(cfg config.JobBoardConfig, client model.HTTPClient, logger *slog.Logger) *JobBoardAdapter {
	return &JobBoardAdapter{
		cfg:    cfg,
		client: client,
		policy: retry.DefaultPolicy,
		logger: logger,
		now:    time.Now,
	}
}

func (a *JobBoardAdapter) Name() string         { return jobBoardName }
func (a *JobBoardAdapter) Source() model.Source { return model.SourceJobBoard }

// Fetch pages through the search results newest first and stops at the
// configured page limit, an empty or short page, the last page, or a page
// reaching past the window. Details are fetched concurrently afterwards.
func (a *JobBoardAdapter) Fetch(ctx context.Context, window model.Window) ([]model.RawPosting, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}

	fetchedAt := a.now()
	cutoff := window.Cutoff(fetchedAt)

	var (
		items   []hhVacancy
		pageErr error
	)
	for page := 0; page < a.cfg.MaxPages; page++ {
		resp, err := retry.Do(ctx, a.policy, a.logger, func(ctx context.Context) (hhSearchResponse, error) {
			return a.searchPage(ctx, window, page)
		})
		if err != nil {
			pageErr = fmt.Errorf("search page %d: %w", page, err)
			break
		}
		items = append(items, resp.Items...)

		a.logger.Debug("job board page fetched", "page", page, "items", len(resp.Items), "pages", resp.Pages)

		if len(resp.Items) == 0 || page >= resp.Pages-1 || len(resp.Items) < a.cfg.PerPage {
			break
		}
		if oldest := parseHHTime(resp.Items[len(resp.Items)-1].PublishedAt); !cutoff.IsZero() && oldest != nil && oldest.Before(cutoff) {
			break
		}
	}

	if len(items) == 0 {
		return nil, sourceError(a.Name(), pageErr)
	}

	postings, detailErr := a.withDetails(ctx, items, fetchedAt)
	if pageErr == nil {
		pageErr = detailErr
	}
	return postings, sourceError(a.Name(), pageErr)
}

func (a *JobBoardAdapter) searchPage(ctx context.Context, window model.Window, page int) (hhSearchResponse, error) {
	q := url.Values{}
	q.Set("text", a.cfg.Query)
	q.Set("area", a.cfg.Area)
	q.Set("per_page", strconv.Itoa(a.cfg.PerPage))
	q.Set("page", strconv.Itoa(page))
	q.Set("order_by", "publication_time")
	if window.Days > 0 && window.Days <= hhMaxPeriodDays {
		q.Set("period", strconv.Itoa(window.Days))
	}

	body, _, err := get(ctx, a.client, a.Name(), a.cfg.BaseURL+"/vacancies?"+q.Encode(), a.cfg.UserAgent, "application/json")
	if err != nil {
		return hhSearchResponse{}, err
	}

	var resp hhSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return hhSearchResponse{}, fmt.Errorf("decode search response: %w", err)
	}
	return resp, nil
}

func (a *JobBoardAdapter) detail(ctx context.Context, id string) (hhVacancy, error) {
	body, _, err := get(ctx, a.client, a.Name(), a.cfg.BaseURL+"/vacancies/"+url.PathEscape(id), a.cfg.UserAgent, "application/json")
	if err != nil {
		return hhVacancy{}, err
	}
	var v hhVacancy
	if err := json.Unmarshal(body, &v); err != nil {
		return hhVacancy{}, fmt.Errorf("decode vacancy %s: %w", id, err)
	}
	return v, nil
}

// withDetails enriches each listing with its detail response, bounded by
// DetailConcurrency. A failed detail call falls back to the listing itself.
// After the first rate-limit signal the remaining detail calls are skipped and
// the signal is returned along with the postings.
func (a *JobBoardAdapter) withDetails(ctx context.Context, items []hhVacancy, fetchedAt time.Time) ([]model.RawPosting, error) {
	postings := make([]model.RawPosting, len(items))

	var (
		mu      sync.Mutex
		limited error
	)
	isLimited := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return limited != nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.DetailConcurrency)
	for i, item := range items {
		g.Go(func() error {
			full := item
			if !isLimited() && gctx.Err() == nil {
				d, err := retry.Do(gctx, a.policy, a.logger, func(ctx context.Context) (hhVacancy, error) {
					return a.detail(ctx, item.ID)
				})
				var rlErr *model.RateLimitedError
				switch {
				case err == nil:
					full = d
				case errors.As(err, &rlErr):
					mu.Lock()
					if limited == nil {
						limited = fmt.Errorf("vacancy %s detail: %w", item.ID, err)
					}
					mu.Unlock()
				default:
					a.logger.Warn("vacancy detail failed, using listing", "source", a.Name(), "id", item.ID, "error", err)
				}
			}
			postings[i] = a.toRaw(item, full, fetchedAt)
			return nil
		})
	}
	_ = g.Wait()

	return postings, limited
}

// toRaw maps a listing and its (possibly identical) detail to a RawPosting.
func (a *JobBoardAdapter) toRaw(listing, full hhVacancy, fetchedAt time.Time) model.RawPosting {
	if full.ID == "" {
		full = listing
	}

	company := hhNoEmployer
	if full.Employer != nil && strings.TrimSpace(full.Employer.Name) != "" {
		company = full.Employer.Name
	}
	var location string
	if full.Area != nil {
		location = full.Area.Name
	}
	link := full.AlternateURL
	if link == "" && listing.ID != "" {
		link = fmt.Sprintf(hhVacancyURL, listing.ID)
	}

	return model.RawPosting{
		Source:      model.SourceJobBoard,
		ID:          "hh_" + listing.ID,
		Title:       full.Name,
		Company:     company,
		Location:    location,
		Description: hhDescription(listing, full),
		URL:         link,
		PostedAt:    parseHHTime(full.PublishedAt),
		FetchedAt:   fetchedAt,
	}
}

func hhDescription(listing, full hhVacancy) string {
	var parts []string
	if text := extractText(full.Description); text != "" {
		parts = append(parts, text)
	} else if listing.Snippet != nil {
		for _, s := range []string{listing.Snippet.Requirement, listing.Snippet.Responsibility} {
			if text := extractText(s); text != "" {
				parts = append(parts, text)
			}
		}
	}

	if s := formatSalary(full.Salary); s != "" {
		parts = append(parts, "Salary: "+s)
	}
	if full.Experience != nil && full.Experience.Name != "" {
		parts = append(parts, "Experience: "+full.Experience.Name)
	}
	if full.Employment != nil && full.Employment.Name != "" {
		parts = append(parts, "Employment: "+full.Employment.Name)
	}
	if full.Schedule != nil && full.Schedule.Name != "" {
		parts = append(parts, "Schedule: "+full.Schedule.Name)
	}
	return strings.Join(parts, "\n")
}

func formatSalary(s *hhSalary) string {
	if s == nil {
		return ""
	}
	var out string
	switch {
	case s.From != nil && s.To != nil:
		out = fmt.Sprintf("%d-%d", *s.From, *s.To)
	case s.From != nil:
		out = fmt.Sprintf("from %d", *s.From)
	case s.To != nil:
		out = fmt.Sprintf("up to %d", *s.To)
	default:
		return ""
	}
	if s.Currency != "" {
		out += " " + s.Currency
	}
	return out
}

// parseHHTime parses "2024-01-15T10:30:00+0300"; nil when absent or invalid.
func parseHHTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{hhTimeLayout, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
