package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/qcekey/iget/internal/model"
)

const (
	// maxDrainBatches bounds how many getUpdates calls one History call makes.
	maxDrainBatches = 20
	// maxBufferedPerChat caps a chat buffer when History is called without a limit.
	maxBufferedPerChat = 1000
)

type botAPI interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

var _ model.ChannelSession = (*BotSession)(nil)

// BotSession reads channel posts delivered to a Telegram bot that is an
// administrator of the channels. The Bot API has no history call, so posts
// are buffered from getUpdates and served from the buffer.
type BotSession struct {
	newAPI func() (botAPI, error)
	logger *slog.Logger

	mu     sync.Mutex
	api    botAPI
	offset int
	buffer map[string][]model.ChannelMessage
}

// NewBotSession creates a session for the bot token. The token is checked
// lazily by IsAuthorized.
func NewBotSession(token string, client model.HTTPClient, logger *slog.Logger) *BotSession {
	return newBotSession(func() (botAPI, error) {
		return tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	}, logger)
}

func newBotSession(newAPI func() (botAPI, error), logger *slog.Logger) *BotSession {
	return &BotSession{
		newAPI: newAPI,
		logger: logger,
		buffer: make(map[string][]model.ChannelMessage),
	}
}

// IsAuthorized reports whether the bot token was accepted (getMe succeeded).
func (s *BotSession) IsAuthorized(_ context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.api != nil {
		return true
	}
	api, err := s.newAPI()
	if err != nil {
		s.logger.Error("telegram bot authorization failed", "error", err)
		return false
	}
	s.api = api
	return true
}

// History drains pending channel posts into the buffer, then returns the
// buffered posts of channel.
func (s *BotSession) History(ctx context.Context, channel string, since time.Time, limit int) ([]model.ChannelMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.api == nil {
		return nil, model.ErrNotAuthorized
	}
	if err := s.drain(ctx); err != nil {
		return nil, err
	}

	s.prune(since, limit)

	msgs := s.buffer[channelKey(channel)]
	out := make([]model.ChannelMessage, len(msgs))
	copy(out, msgs)
	for i := range out {
		out[i].Channel = channel
	}
	return out, nil
}

// prune trims every chat buffer, including chats nobody asks for, to posts at
// or after since and to the newest limit posts. Trimmed posts fall outside
// any later window, since the window only moves forward.
func (s *BotSession) prune(since time.Time, limit int) {
	if limit <= 0 || limit > maxBufferedPerChat {
		limit = maxBufferedPerChat
	}
	for key, msgs := range s.buffer {
		kept := newestFirst(msgs, since, limit)
		if len(kept) == 0 {
			delete(s.buffer, key)
			continue
		}
		s.buffer[key] = kept
	}
}

func (s *BotSession) drain(ctx context.Context) error {
	for i := 0; i < maxDrainBatches; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		updates, err := s.api.GetUpdates(tgbotapi.UpdateConfig{
			Offset:         s.offset,
			Limit:          100,
			AllowedUpdates: []string{"channel_post"},
		})
		if err != nil {
			return classifyTelegramError(err)
		}
		if len(updates) == 0 {
			return nil
		}
		for _, u := range updates {
			if u.UpdateID >= s.offset {
				s.offset = u.UpdateID + 1
			}
			if m, ok := fromTelegram(u.ChannelPost); ok {
				s.buffer[m.Username] = append(s.buffer[m.Username], m)
				if idKey := strconv.FormatInt(u.ChannelPost.Chat.ID, 10); idKey != m.Username {
					s.buffer[idKey] = append(s.buffer[idKey], m)
				}
			}
		}
		s.logger.Debug("telegram updates drained", "count", len(updates), "offset", s.offset)
	}
	return nil
}

func fromTelegram(msg *tgbotapi.Message) (model.ChannelMessage, bool) {
	if msg == nil || msg.Chat == nil {
		return model.ChannelMessage{}, false
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text == "" {
		return model.ChannelMessage{}, false
	}
	username := channelKey(msg.Chat.UserName)
	if username == "" {
		username = strconv.FormatInt(msg.Chat.ID, 10)
	}
	return model.ChannelMessage{
		ID:       int64(msg.MessageID),
		Username: username,
		Title:    msg.Chat.Title,
		Text:     text,
		Date:     msg.Time().UTC(),
	}, true
}

func classifyTelegramError(err error) error {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		switch tgErr.Code {
		case 429:
			return &model.RateLimitedError{
				Source:     "channel_feed",
				StatusCode: tgErr.Code,
				RetryAfter: time.Duration(tgErr.RetryAfter) * time.Second,
				Err:        err,
			}
		case 401:
			return fmt.Errorf("%w: %v", model.ErrNotAuthorized, err)
		}
	}
	return fmt.Errorf("telegram getUpdates: %w", err)
}
