package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/qcekey/iget/internal/config"
	"github.com/qcekey/iget/internal/model"
)

const channelFeedName = "channel_feed"

var (
	reCompanyLabel  = regexp.MustCompile(`(?im)^\s*(?:company|компания)\s*[:\-–]\s*(.+)$`)
	reLocationLabel = regexp.MustCompile(`(?im)^\s*(?:location|локация|город)\s*[:\-–]\s*(.+)$`)
)

var _ model.Adapter = (*ChannelFeedAdapter)(nil)

// ChannelFeedAdapter reads vacancy posts from messaging channels through a
// ChannelSession.
type ChannelFeedAdapter struct {
	cfg     config.ChannelFeedConfig
	session model.ChannelSession
	logger  *slog.Logger
	now     func() time.Time
}

// NewChannelFeedAdapter creates a channel-feed adapter bound to cfg.
func NewChannelFeedAdapter(cfg config.ChannelFeedConfig, session model.ChannelSession, logger *slog.Logger) *ChannelFeedAdapter {
	return &ChannelFeedAdapter{
		cfg:     cfg,
		session: session,
		logger:  logger,
		now:     time.Now,
	}
}

func (a *ChannelFeedAdapter) Name() string         { return channelFeedName }
func (a *ChannelFeedAdapter) Source() model.Source { return model.SourceChannelFeed }

// Fetch reads each configured channel in turn. A failing channel is logged
// and skipped; the error is returned with the other channels' postings.
func (a *ChannelFeedAdapter) Fetch(ctx context.Context, window model.Window) ([]model.RawPosting, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	if !a.session.IsAuthorized(ctx) {
		return nil, &model.SourceError{Source: a.Name(), Err: model.ErrNotAuthorized}
	}

	fetchedAt := a.now()
	since := window.Cutoff(fetchedAt)

	var (
		postings []model.RawPosting
		errs     []error
	)
	for _, channel := range a.cfg.Channels {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		msgs, err := a.session.History(ctx, channel, since, a.cfg.HistoryLimit)
		if err != nil {
			var rlErr *model.RateLimitedError
			if errors.As(err, &rlErr) {
				// The whole session is throttled, not just this channel.
				errs = append(errs, err)
				break
			}
			a.logger.Error("channel read failed", "source", a.Name(), "channel", channel, "error", err)
			errs = append(errs, fmt.Errorf("channel %s: %w", channel, err))
			continue
		}

		kept := 0
		for _, m := range msgs {
			if len([]rune(strings.TrimSpace(m.Text))) < a.cfg.MinTextLength {
				continue
			}
			postings = append(postings, a.toRaw(m, fetchedAt))
			kept++
		}
		a.logger.Debug("channel read", "channel", channel, "messages", len(msgs), "kept", kept)
	}

	return postings, sourceError(a.Name(), errors.Join(errs...))
}

func (a *ChannelFeedAdapter) toRaw(m model.ChannelMessage, fetchedAt time.Time) model.RawPosting {
	username := strings.TrimPrefix(m.Username, "@")
	if username == "" {
		username = strings.TrimPrefix(m.Channel, "@")
	}

	var postedAt *time.Time
	if !m.Date.IsZero() {
		d := m.Date
		postedAt = &d
	}

	// Without a company label the channel stands in for the employer, so
	// unlabelled posts only collide with posts of the same channel.
	company := firstMatch(reCompanyLabel, m.Text)
	if company == "" {
		company = strings.TrimSpace(m.Title)
	}
	if company == "" {
		company = username
	}

	return model.RawPosting{
		Source:      model.SourceChannelFeed,
		ID:          username + "_" + strconv.FormatInt(m.ID, 10),
		Company:     company,
		Location:    firstMatch(reLocationLabel, m.Text),
		Description: m.Text,
		URL:         fmt.Sprintf("https://t.me/%s/%d", username, m.ID),
		PostedAt:    postedAt,
		FetchedAt:   fetchedAt,
	}
}
