// Package helix wraps the authenticated Twitch REST endpoints the chat
// session needs: sending, moderation commands, subscriptions and assets.
package helix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://api.twitch.tv/helix"

const (
	maxRetries  = 5
	baseBackoff = time.Second
	maxBackoff  = 30 * time.Second
)

var ErrNoToken = errors.New("helix: no token configured")

type Config struct {
	BaseURL  string
	ClientID string
	Token    string
	// UserID is the authenticated account; it acts as sender and moderator.
	UserID string
	HTTP   *http.Client
	// Limiter throttles outgoing requests. Nil means unthrottled.
	Limiter *rate.Limiter
}

type Client struct {
	cfg  Config
	base string
	http *http.Client
}

// APIError is a non-2xx helix response.
type APIError struct {
	Status  int    `json:"status"`
	Kind    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("helix: status %d %s", e.Status, e.Kind)
}

func New(cfg Config) *Client {
	base := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := cfg.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	cfg.Token = strings.TrimPrefix(strings.TrimSpace(cfg.Token), "oauth:")
	return &Client{cfg: cfg, base: base, http: hc}
}

// HasToken reports whether authenticated requests can be made.
func (c *Client) HasToken() bool { return c != nil && c.cfg.Token != "" }

func (c *Client) UserID() string { return c.cfg.UserID }

// do sends one request, retrying on 429 with the server's reset hint.
// body is marshalled again on every attempt.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, target any) (int, error) {
	if !c.HasToken() {
		return 0, ErrNoToken
	}
	endpoint := c.base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return 0, fmt.Errorf("helix: encode body: %w", err)
		}
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if c.cfg.Limiter != nil {
			if err := c.cfg.Limiter.Wait(ctx); err != nil {
				return 0, err
			}
		}
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
		if err != nil {
			return 0, fmt.Errorf("helix: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		req.Header.Set("Client-Id", c.cfg.ClientID)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return 0, fmt.Errorf("helix: %s %s: %w", method, path, err)
		}
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()
		if err != nil {
			return resp.StatusCode, fmt.Errorf("helix: read body: %w", err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if target == nil || len(bytes.TrimSpace(raw)) == 0 {
				return resp.StatusCode, nil
			}
			if err := json.Unmarshal(raw, target); err != nil {
				return resp.StatusCode, fmt.Errorf("helix: decode %s: %w", path, err)
			}
			return resp.StatusCode, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			wait := waitDuration(resp.Header.Get("Ratelimit-Reset"), time.Now())
			if wait <= 0 {
				wait = time.Duration(attempt) * baseBackoff
			}
			wait = min(wait, maxBackoff)
			slog.Warn("helix: rate limited", "path", path, "attempt", attempt, "wait", wait)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return resp.StatusCode, ctx.Err()
			case <-timer.C:
			}

		default:
			apiErr := &APIError{Status: resp.StatusCode}
			if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
				apiErr.Message = strings.TrimSpace(string(raw))
			}
			apiErr.Status = resp.StatusCode
			slog.Debug("helix: request failed", "method", method, "path", path, "status", resp.StatusCode, "err", apiErr.Message)
			return resp.StatusCode, apiErr
		}
	}
	return http.StatusTooManyRequests, fmt.Errorf("helix: %s still rate limited after %d attempts", path, maxRetries)
}

// waitDuration converts a Ratelimit-Reset unix timestamp into a delay.
func waitDuration(reset string, now time.Time) time.Duration {
	if reset == "" {
		return 0
	}
	ts, err := strconv.ParseInt(reset, 10, 64)
	if err != nil {
		return 0
	}
	at := time.Unix(ts, 0)
	if !at.After(now) {
		return 0
	}
	return at.Sub(now)
}

type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

// GetUser looks up a user by login, or by id when the value is numeric.
func (c *Client) GetUser(ctx context.Context, loginOrID string) (User, error) {
	v := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(loginOrID), "@"))
	q := url.Values{}
	if isNumeric(v) {
		q.Set("id", v)
	} else {
		q.Set("login", v)
	}
	var resp struct {
		Data []User `json:"data"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/users", q, nil, &resp); err != nil {
		return User{}, err
	}
	if len(resp.Data) == 0 {
		return User{}, fmt.Errorf("helix: user %s not found", v)
	}
	return resp.Data[0], nil
}

func (c *Client) userID(ctx context.Context, login string) (string, error) {
	u, err := c.GetUser(ctx, login)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

func isNumeric(v string) bool {
	if v == "" {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}
