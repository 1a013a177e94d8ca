package session

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/qcekey/iget/internal/model"
)

var (
	rePostID = regexp.MustCompile(`/(\d+)/?$`)
	reBreak  = regexp.MustCompile(`(?i)<br\s*/?>|</p>`)
)

var _ model.ChannelSession = (*FeedSession)(nil)

// FeedSession reads public channels through an RSS mirror that serves
// {baseURL}/{channel} (RSSHub's /telegram/channel route and compatibles).
type FeedSession struct {
	baseURL   string
	client    model.HTTPClient
	userAgent string
	logger    *slog.Logger
}

// NewFeedSession creates a session reading channels from baseURL.
func NewFeedSession(baseURL string, client model.HTTPClient, logger *slog.Logger) *FeedSession {
	return &FeedSession{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
		userAgent: "iget/1.0 (channel mirror reader)",
		logger:    logger,
	}
}

// IsAuthorized is always true: public mirrors need no credentials.
func (s *FeedSession) IsAuthorized(_ context.Context) bool { return true }

// History fetches the channel's feed and returns its posts.
func (s *FeedSession) History(ctx context.Context, channel string, since time.Time, limit int) ([]model.ChannelMessage, error) {
	key := channelKey(channel)
	feed, err := s.fetch(ctx, s.baseURL+"/"+key)
	if err != nil {
		return nil, err
	}

	msgs := make([]model.ChannelMessage, 0, len(feed.Items))
	for _, item := range feed.Items {
		text := feedText(item)
		if text == "" {
			continue
		}
		m := model.ChannelMessage{
			ID:       postID(item),
			Channel:  channel,
			Username: key,
			Title:    feed.Title,
			Text:     text,
		}
		if item.PublishedParsed != nil {
			m.Date = item.PublishedParsed.UTC()
		} else if item.UpdatedParsed != nil {
			m.Date = item.UpdatedParsed.UTC()
		}
		msgs = append(msgs, m)
	}
	s.logger.Debug("channel feed read", "channel", key, "items", len(feed.Items))
	return newestFirst(msgs, since, limit), nil
}

func (s *FeedSession) fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return nil, &model.RateLimitedError{
			Source:     "channel_feed",
			StatusCode: resp.StatusCode,
			RetryAfter: time.Duration(retryAfter) * time.Second,
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &model.HTTPError{StatusCode: resp.StatusCode, Err: fmt.Errorf("feed %s: unexpected status", url)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// feedText returns the post body as plain text with line breaks kept.
func feedText(item *gofeed.Item) string {
	raw := item.Description
	if raw == "" {
		raw = item.Content
	}
	if raw == "" {
		return strings.TrimSpace(item.Title)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(reBreak.ReplaceAllString(raw, "\n")))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(doc.Text())
}

// postID takes the message number from a t.me style link, falling back to a
// hash of the GUID.
func postID(item *gofeed.Item) int64 {
	for _, s := range []string{item.Link, item.GUID} {
		if m := rePostID.FindStringSubmatch(s); len(m) == 2 {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				return id
			}
		}
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(item.GUID + item.Link))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}
