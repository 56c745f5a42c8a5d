package helix

import (
	"context"
	"net/http"
	"net/url"
)

type BadgeVersion struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	ImageURL1x string `json:"image_url_1x"`
	ImageURL2x string `json:"image_url_2x"`
	ImageURL4x string `json:"image_url_4x"`
}

type BadgeSet struct {
	SetID    string         `json:"set_id"`
	Versions []BadgeVersion `json:"versions"`
}

func (c *Client) GlobalBadges(ctx context.Context) ([]BadgeSet, error) {
	var resp struct {
		Data []BadgeSet `json:"data"`
	}
	_, err := c.do(ctx, http.MethodGet, "/chat/badges/global", nil, nil, &resp)
	return resp.Data, err
}

func (c *Client) ChannelBadges(ctx context.Context, broadcasterID string) ([]BadgeSet, error) {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	var resp struct {
		Data []BadgeSet `json:"data"`
	}
	_, err := c.do(ctx, http.MethodGet, "/chat/badges", q, nil, &resp)
	return resp.Data, err
}

type CheermoteTier struct {
	MinBits int    `json:"min_bits"`
	ID      string `json:"id"`
	Color   string `json:"color"`
	Images  struct {
		Dark struct {
			Animated map[string]string `json:"animated"`
			Static   map[string]string `json:"static"`
		} `json:"dark"`
	} `json:"images"`
}

type Cheermote struct {
	Prefix string          `json:"prefix"`
	Tiers  []CheermoteTier `json:"tiers"`
}

func (c *Client) Cheermotes(ctx context.Context, broadcasterID string) ([]Cheermote, error) {
	q := url.Values{}
	if broadcasterID != "" {
		q.Set("broadcaster_id", broadcasterID)
	}
	var resp struct {
		Data []Cheermote `json:"data"`
	}
	_, err := c.do(ctx, http.MethodGet, "/bits/cheermotes", q, nil, &resp)
	return resp.Data, err
}

type Emote struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	EmoteType  string   `json:"emote_type"`
	EmoteSetID string   `json:"emote_set_id"`
	OwnerID    string   `json:"owner_id"`
	Format     []string `json:"format"`
}

type page struct {
	Cursor string `json:"cursor"`
}

// UserEmotes lists every emote the authenticated user may use, following
// pagination.
func (c *Client) UserEmotes(ctx context.Context, broadcasterID string) ([]Emote, error) {
	var out []Emote
	after := ""
	for {
		q := url.Values{}
		q.Set("user_id", c.cfg.UserID)
		if broadcasterID != "" {
			q.Set("broadcaster_id", broadcasterID)
		}
		if after != "" {
			q.Set("after", after)
		}
		var resp struct {
			Data       []Emote `json:"data"`
			Pagination page    `json:"pagination"`
		}
		if _, err := c.do(ctx, http.MethodGet, "/chat/emotes/user", q, nil, &resp); err != nil {
			return out, err
		}
		out = append(out, resp.Data...)
		if resp.Pagination.Cursor == "" || len(resp.Data) == 0 {
			return out, nil
		}
		after = resp.Pagination.Cursor
	}
}

const emoteSetChunk = 25

// EmoteSets resolves emote set ids in chunks of 25.
func (c *Client) EmoteSets(ctx context.Context, setIDs []string) ([]Emote, error) {
	var out []Emote
	for start := 0; start < len(setIDs); start += emoteSetChunk {
		end := min(start+emoteSetChunk, len(setIDs))
		q := url.Values{}
		for _, id := range setIDs[start:end] {
			q.Add("emote_set_id", id)
		}
		var resp struct {
			Data []Emote `json:"data"`
		}
		if _, err := c.do(ctx, http.MethodGet, "/chat/emotes/set", q, nil, &resp); err != nil {
			return out, err
		}
		out = append(out, resp.Data...)
	}
	return out, nil
}

// EmoteURL builds the CDN url for a Twitch emote at scale 1.0, 2.0 or 3.0.
func EmoteURL(id string, animated bool, scale string) string {
	format := "static"
	if animated {
		format = "animated"
	}
	return "https://static-cdn.jtvnw.net/emoticons/v2/" + id + "/" + format + "/dark/" + scale
}
