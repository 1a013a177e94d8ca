package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/qcekey/iget/internal/config"
	"github.com/qcekey/iget/internal/model"
	"github.com/qcekey/iget/internal/retry"
)

const (
	webScrapeName = "web_scrape"

	liSearchPath = "/jobs-guest/jobs/api/seeMoreJobPostings/search"
	liDetailPath = "/jobs-guest/jobs/api/jobPosting/"
	liViewURL    = "https://www.linkedin.com/jobs/view/%s/"
)

// Card containers tried in order; the first selector that matches wins.
var liCardSelectors = []string{
	"div.base-card.base-search-card",
	"div.job-search-card",
	"li[data-occludable-job-id]",
	"div.job-card-container",
	"li.result-card",
}

var liDescriptionSelectors = []string{
	"div.show-more-less-html__markup",
	"div.description__text",
	"section.job-details-section__content",
}

var (
	reLinkedInJobID = regexp.MustCompile(`(?:/jobs/view/(?:[^/?]*-)?|jobPosting:)(\d+)`)
	reAuthwall      = regexp.MustCompile(`/(authwall|checkpoint)`)
)

// liCard is one search result card.
type liCard struct {
	ID       string
	Title    string
	Company  string
	Location string
	URL      string
	PostedAt *time.Time
}

var _ model.Adapter = (*WebScrapeAdapter)(nil)

// WebScrapeAdapter scrapes LinkedIn's guest job search HTML.
type WebScrapeAdapter struct {
	cfg    config.WebScrapeConfig
	client model.HTTPClient
	policy retry.Policy
	logger *slog.Logger
	now    func() time.Time
}

// NewWebScrapeAdapter creates a web-scrape adapter bound to cfg.
func NewWebScrapeAdapter(cfg config.WebScrapeConfig, client model.HTTPClient, logger *slog.Logger) *WebScrapeAdapter {
	return &WebScrapeAdapter{
		cfg:    cfg,
		client: client,
		policy: retry.DefaultPolicy,
		logger: logger,
		now:    time.Now,
	}
}

func (a *WebScrapeAdapter) Name() string         { return webScrapeName }
func (a *WebScrapeAdapter) Source() model.Source { return model.SourceWebScrape }

// Fetch pages through the search results until an empty page or MaxPages.
// An anti-automation response ends the fetch with a RateLimitedError and the
// cards collected so far.
func (a *WebScrapeAdapter) Fetch(ctx context.Context, window model.Window) ([]model.RawPosting, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}

	fetchedAt := a.now()
	seen := make(map[string]bool)
	var (
		cards   []liCard
		pageErr error
	)
	start := 0
	for page := 0; page < a.cfg.MaxPages; page++ {
		pageCards, err := retry.Do(ctx, a.policy, a.logger, func(ctx context.Context) ([]liCard, error) {
			return a.searchPage(ctx, window, start)
		})
		if err != nil {
			pageErr = fmt.Errorf("search page %d: %w", page, err)
			break
		}
		a.logger.Debug("web scrape page fetched", "page", page, "cards", len(pageCards))
		if len(pageCards) == 0 {
			break
		}
		start += len(pageCards)

		fresh := 0
		for _, c := range pageCards {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			cards = append(cards, c)
			fresh++
		}
		// LinkedIn repeats the last page past the end of the results.
		if fresh == 0 {
			break
		}
	}

	if len(cards) == 0 {
		return nil, sourceError(a.Name(), pageErr)
	}

	descriptions := make([]string, len(cards))
	if a.cfg.FetchDetails {
		if err := a.fetchDescriptions(ctx, cards, descriptions); err != nil && pageErr == nil {
			pageErr = err
		}
	}

	postings := make([]model.RawPosting, 0, len(cards))
	for i, c := range cards {
		postings = append(postings, model.RawPosting{
			Source:      model.SourceWebScrape,
			ID:          "li_" + c.ID,
			Title:       c.Title,
			Company:     c.Company,
			Location:    c.Location,
			Description: descriptions[i],
			URL:         c.URL,
			PostedAt:    dayPostedAt(c.PostedAt, fetchedAt),
			FetchedAt:   fetchedAt,
		})
	}
	return postings, sourceError(a.Name(), pageErr)
}

func (a *WebScrapeAdapter) searchPage(ctx context.Context, window model.Window, start int) ([]liCard, error) {
	q := url.Values{}
	q.Set("keywords", a.cfg.Query)
	if a.cfg.Location != "" {
		q.Set("location", a.cfg.Location)
	}
	if window.Days > 0 {
		q.Set("f_TPR", "r"+strconv.Itoa(int(window.Duration().Seconds())))
	}
	q.Set("start", strconv.Itoa(start))

	body, resp, err := get(ctx, a.client, a.Name(), a.cfg.BaseURL+liSearchPath+"?"+q.Encode(), a.cfg.UserAgent, "text/html")
	if err != nil {
		return nil, err
	}
	if err := a.checkAuthwall(resp); err != nil {
		return nil, err
	}
	return a.parseCards(body)
}

// checkAuthwall reports a redirect to the login or checkpoint page as a block.
func (a *WebScrapeAdapter) checkAuthwall(resp *http.Response) error {
	if resp == nil || resp.Request == nil || resp.Request.URL == nil {
		return nil
	}
	if reAuthwall.MatchString(resp.Request.URL.Path) {
		return &model.RateLimitedError{
			Source:     a.Name(),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("redirected to %s", resp.Request.URL.Path),
		}
	}
	return nil
}

func (a *WebScrapeAdapter) parseCards(body []byte) ([]liCard, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse search html: %w", err)
	}

	var sel *goquery.Selection
	for _, s := range liCardSelectors {
		if found := doc.Find(s); found.Length() > 0 {
			sel = found
			break
		}
	}
	if sel == nil {
		// Fall back to bare job links and their enclosing element.
		sel = doc.Find(`a[href*="/jobs/view/"]`).Parent()
	}

	var cards []liCard
	sel.Each(func(_ int, card *goquery.Selection) {
		c, ok := a.parseCard(card)
		if ok {
			cards = append(cards, c)
		}
	})
	return cards, nil
}

func (a *WebScrapeAdapter) parseCard(card *goquery.Selection) (liCard, bool) {
	link := card.Find(`a.base-card__full-link, a[href*="/jobs/view/"]`).First()
	if link.Length() == 0 && goquery.NodeName(card) == "a" {
		link = card
	}
	href, _ := link.Attr("href")

	id := ""
	if urn, ok := card.Attr("data-entity-urn"); ok {
		id = firstMatch(reLinkedInJobID, urn)
	}
	if id == "" {
		if v, ok := card.Attr("data-occludable-job-id"); ok {
			id = strings.TrimSpace(v)
		}
	}
	if id == "" {
		id = firstMatch(reLinkedInJobID, href)
	}
	if id == "" {
		return liCard{}, false
	}

	title := textOf(card, "h3.base-search-card__title, a.job-card-list__title, h3, strong")
	if title == "" {
		title = cleanSpaces(link.Text())
	}
	if title == "" {
		return liCard{}, false
	}

	c := liCard{
		ID:       id,
		Title:    title,
		Company:  textOf(card, "h4.base-search-card__subtitle, a.job-card-container__company-name, span.base-search-card__subtitle, h4"),
		Location: textOf(card, "span.job-search-card__location, li.job-card-container__metadata-item"),
		URL:      fmt.Sprintf(liViewURL, id),
	}
	if dt, ok := card.Find("time").First().Attr("datetime"); ok {
		if t, err := time.Parse("2006-01-02", strings.TrimSpace(dt)); err == nil {
			c.PostedAt = &t
		}
	}
	return c, true
}

// dayPostedAt turns a date-only listing date into the latest instant of that
// day that is not after the fetch. Midnight would put postings from the
// oldest day of the search window outside the lookback window.
func dayPostedAt(day *time.Time, fetchedAt time.Time) *time.Time {
	if day == nil {
		return nil
	}
	t := day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	if t.After(fetchedAt) {
		t = fetchedAt
	}
	return &t
}

// fetchDescriptions fills descriptions from the guest detail endpoint,
// bounded by DetailConcurrency. Individual failures leave the description
// empty; the first rate-limit signal stops the remaining calls.
func (a *WebScrapeAdapter) fetchDescriptions(ctx context.Context, cards []liCard, descriptions []string) error {
	var (
		mu      sync.Mutex
		limited error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.DetailConcurrency)
	for i, c := range cards {
		g.Go(func() error {
			mu.Lock()
			stop := limited != nil
			mu.Unlock()
			if stop || gctx.Err() != nil {
				return nil
			}

			text, err := retry.Do(gctx, a.policy, a.logger, func(ctx context.Context) (string, error) {
				return a.description(ctx, c.ID)
			})
			var rlErr *model.RateLimitedError
			switch {
			case err == nil:
				descriptions[i] = text
			case errors.As(err, &rlErr):
				mu.Lock()
				if limited == nil {
					limited = fmt.Errorf("job %s detail: %w", c.ID, err)
				}
				mu.Unlock()
			default:
				a.logger.Warn("job detail failed", "source", a.Name(), "id", c.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return limited
}

func (a *WebScrapeAdapter) description(ctx context.Context, id string) (string, error) {
	body, resp, err := get(ctx, a.client, a.Name(), a.cfg.BaseURL+liDetailPath+url.PathEscape(id), a.cfg.UserAgent, "text/html")
	if err != nil {
		return "", err
	}
	if err := a.checkAuthwall(resp); err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse detail html: %w", err)
	}
	for _, s := range liDescriptionSelectors {
		if el := doc.Find(s).First(); el.Length() > 0 {
			h, err := el.Html()
			if err != nil {
				return "", fmt.Errorf("render description: %w", err)
			}
			return extractText(h), nil
		}
	}
	return "", nil
}

func textOf(card *goquery.Selection, selector string) string {
	return cleanSpaces(card.Find(selector).First().Text())
}

func cleanSpaces(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\u00a0", " ")), " ")
}

func firstMatch(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); len(m) == 2 {
		return m[1]
	}
	return ""
}
