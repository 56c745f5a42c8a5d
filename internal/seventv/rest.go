// Package seventv talks to the 7TV REST and event APIs: emote sets,
// cosmetics, entitlements and presences.
package seventv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/you/chatcore/internal/core"
)

const DefaultBaseURL = "https://7tv.io/v3"

// Emote flags.
const (
	flagZeroWidth     = 1
	dataFlagZeroWidth = 256
)

type User struct {
	ID         string   `json:"id"`
	Platform   string   `json:"platform"`
	Username   string   `json:"username"`
	EmoteSetID string   `json:"emote_set_id"`
	EmoteSet   EmoteSet `json:"emote_set"`
	User       struct {
		ID string `json:"id"`
	} `json:"user"`
}

type EmoteSet struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Emotes []Emote `json:"emotes"`
}

type Emote struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Flags int       `json:"flags"`
	Data  EmoteData `json:"data"`
}

type EmoteData struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Flags    int    `json:"flags"`
	Animated bool   `json:"animated"`
	Owner    *struct {
		ID string `json:"id"`
	} `json:"owner"`
	Host Host `json:"host"`
}

type Host struct {
	URL   string `json:"url"`
	Files []struct {
		Name   string `json:"name"`
		Format string `json:"format"`
	} `json:"files"`
}

// Images builds 1x..4x urls preferring webp files.
func (h Host) Images() core.ImageSet {
	if h.URL == "" {
		return core.ImageSet{}
	}
	base := h.URL
	if strings.HasPrefix(base, "//") {
		base = "https:" + base
	}
	ext := ".webp"
	if len(h.Files) > 0 {
		hasWebp := false
		for _, f := range h.Files {
			if strings.EqualFold(f.Format, "WEBP") {
				hasWebp = true
				break
			}
		}
		if !hasWebp {
			ext = "." + strings.ToLower(h.Files[0].Format)
		}
	}
	return core.ImageSet{
		URL1x: base + "/1x" + ext,
		URL2x: base + "/2x" + ext,
		URL3x: base + "/3x" + ext,
		URL4x: base + "/4x" + ext,
	}
}

// Core converts an active emote of setID.
func (e Emote) Core(setID string) core.Emote {
	name := e.Name
	if name == "" {
		name = e.Data.Name
	}
	id := e.ID
	if id == "" {
		id = e.Data.ID
	}
	out := core.Emote{
		Name:      name,
		ID:        id,
		Provider:  core.ProviderSevenTV,
		Images:    e.Data.Host.Images(),
		Animated:  e.Data.Animated,
		ZeroWidth: e.Flags&flagZeroWidth != 0 || e.Data.Flags&dataFlagZeroWidth != 0,
		SetID:     setID,
	}
	if e.Data.Owner != nil {
		out.OwnerID = e.Data.Owner.ID
	}
	return out
}

// Core converts every emote of the set.
func (s EmoteSet) Core() []core.Emote {
	out := make([]core.Emote, 0, len(s.Emotes))
	for _, e := range s.Emotes {
		if ce := e.Core(s.ID); ce.Name != "" {
			out = append(out, ce)
		}
	}
	return out
}

// API is the 7TV REST client.
type API struct {
	BaseURL string
	HTTP    *http.Client
}

func NewAPI() *API {
	return &API{BaseURL: DefaultBaseURL, HTTP: &http.Client{Timeout: 15 * time.Second}}
}

func (a *API) base() string {
	if a.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimSuffix(a.BaseURL, "/")
}

func (a *API) client() *http.Client {
	if a.HTTP != nil {
		return a.HTTP
	}
	return http.DefaultClient
}

func (a *API) get(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base()+path, nil)
	if err != nil {
		return fmt.Errorf("seventv: build request: %w", err)
	}
	resp, err := a.client().Do(req)
	if err != nil {
		return fmt.Errorf("seventv: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("seventv: %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("seventv: decode %s: %w", path, err)
	}
	return nil
}

// TwitchUser returns the 7TV connection of a Twitch account.
func (a *API) TwitchUser(ctx context.Context, twitchID string) (User, error) {
	var u User
	err := a.get(ctx, "/users/twitch/"+twitchID, &u)
	return u, err
}

func (a *API) GlobalSet(ctx context.Context) (EmoteSet, error) {
	var s EmoteSet
	err := a.get(ctx, "/emote-sets/global", &s)
	return s, err
}

func (a *API) EmoteSet(ctx context.Context, id string) (EmoteSet, error) {
	var s EmoteSet
	err := a.get(ctx, "/emote-sets/"+id, &s)
	return s, err
}

type presenceRequest struct {
	Kind      int    `json:"kind"`
	Passive   bool   `json:"passive"`
	SessionID string `json:"session_id,omitempty"`
	Data      struct {
		Platform string `json:"platform"`
		ID       string `json:"id"`
	} `json:"data"`
}

// SendPresence announces stvUserID in channelID. Self presences carry the
// event session so the server replays cosmetics to it.
func (a *API) SendPresence(ctx context.Context, stvUserID, channelID, sessionID string, self bool) error {
	body := presenceRequest{Kind: 1, Passive: self}
	if self {
		body.SessionID = sessionID
	}
	body.Data.Platform = "TWITCH"
	body.Data.ID = channelID
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base()+"/users/"+stvUserID+"/presences", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("seventv: build presence: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client().Do(req)
	if err != nil {
		return fmt.Errorf("seventv: presence: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("seventv: presence: status %d", resp.StatusCode)
	}
	return nil
}
