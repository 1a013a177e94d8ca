// Package session provides the messaging-platform handles the channel-feed
// adapter reads from: a Telegram bot receiving channel posts, and public RSS
// mirrors of channels.
package session

import (
	"sort"
	"strings"
	"time"

	"github.com/qcekey/iget/internal/model"
)

// channelKey normalizes "@Name", "name" and "https://t.me/name" to "name".
func channelKey(channel string) string {
	c := strings.TrimSpace(channel)
	c = strings.TrimPrefix(c, "https://t.me/")
	c = strings.TrimPrefix(c, "t.me/")
	c = strings.TrimPrefix(c, "@")
	return strings.ToLower(strings.TrimRight(c, "/"))
}

// newestFirst keeps messages posted at or after since, sorted newest first,
// capped at limit.
func newestFirst(msgs []model.ChannelMessage, since time.Time, limit int) []model.ChannelMessage {
	out := make([]model.ChannelMessage, 0, len(msgs))
	for _, m := range msgs {
		if !since.IsZero() && m.Date.Before(since) {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
