package twitchirc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/you/chatcore/internal/core"
)

const RecentMessagesURL = "https://recent-messages.robotty.de/api/v2/recent-messages"

// RecentLoader fetches the backlog kept by the recent-messages service.
type RecentLoader struct {
	BaseURL string
	HTTP    *http.Client
	Limit   int
}

// Load returns the backlog of channel as parsed events, oldest first. Lines
// that do not parse are skipped.
func (l *RecentLoader) Load(ctx context.Context, channel string) ([]core.Event, error) {
	base := l.BaseURL
	if base == "" {
		base = RecentMessagesURL
	}
	limit := l.Limit
	if limit <= 0 {
		limit = 100
	}
	client := l.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	channel = strings.ToLower(strings.TrimPrefix(channel, "#"))
	u := strings.TrimSuffix(base, "/") + "/" + url.PathEscape(channel) + "?limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("twitchirc: recent messages: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twitchirc: recent messages: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("twitchirc: recent messages: status %d", resp.StatusCode)
	}
	var body struct {
		Messages []string `json:"messages"`
		Error    string   `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("twitchirc: recent messages: %w", err)
	}
	if body.Error != "" {
		return nil, fmt.Errorf("twitchirc: recent messages: %s", body.Error)
	}
	events := make([]core.Event, 0, len(body.Messages))
	for _, line := range body.Messages {
		if ev, ok := ParseLine(line); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}
