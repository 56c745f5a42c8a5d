package twitchbadges

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/you/chatcore/internal/core"
	"github.com/you/chatcore/internal/emotes"
	"github.com/you/chatcore/internal/helix"
)

func TestSourceConvertsBadges(t *testing.T) {
	globalCalls := &atomic.Int64{}
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/badges/global", func(w http.ResponseWriter, r *http.Request) {
		globalCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{
					"set_id": "partner",
					"versions": []map[string]any{
						{"id": "1", "title": "Verified", "image_url_1x": "https://cdn/partner/1x.png"},
					},
				},
			},
		})
	})
	mux.HandleFunc("/chat/badges", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("broadcaster_id") != "1234" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{
					"set_id": "subscriber",
					"versions": []map[string]any{
						{"id": "17", "image_url_1x": "https://cdn/sub/17/1x.png", "image_url_2x": "https://cdn/sub/17/2x.png"},
						{"id": "0", "image_url_1x": "https://cdn/sub/0/1x.png"},
					},
				},
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	api := helix.New(helix.Config{BaseURL: srv.URL, ClientID: "client", Token: "tok", HTTP: srv.Client()})
	s := NewSource(api)

	for i := 0; i < 2; i++ {
		global, err := s.GlobalBadges(context.Background())
		if err != nil {
			t.Fatalf("global badges: %v", err)
		}
		if len(global) != 1 || global[0].Title != "Verified" {
			t.Fatalf("unexpected global badges: %+v", global)
		}
	}
	if got := globalCalls.Load(); got != 2 {
		t.Fatalf("expected a fetch per call, fetched %d times", got)
	}

	channel, err := s.ChannelBadges(context.Background(), "1234")
	if err != nil {
		t.Fatalf("channel badges: %v", err)
	}
	if len(channel) != 2 {
		t.Fatalf("expected 2 channel badges, got %d", len(channel))
	}
	if channel[0].Version != "0" || channel[1].Images.URL2x != "https://cdn/sub/17/2x.png" {
		t.Fatalf("unexpected channel badges: %+v", channel)
	}
}

func TestSourceChannelBadgesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewSource(helix.New(helix.Config{BaseURL: srv.URL, Token: "tok", HTTP: srv.Client()}))
	if _, err := s.ChannelBadges(context.Background(), "1"); err == nil {
		t.Fatal("expected error")
	}
	badges, err := s.ChannelBadges(context.Background(), "")
	if err != nil || badges != nil {
		t.Fatalf("empty channel should be a no-op, got %v %v", badges, err)
	}
}

type fakeAPI struct {
	API
	cheers []helix.Cheermote
	emotes []helix.Emote
}

func (f fakeAPI) Cheermotes(context.Context, string) ([]helix.Cheermote, error) { return f.cheers, nil }
func (f fakeAPI) UserEmotes(context.Context, string) ([]helix.Emote, error)     { return f.emotes, nil }

func TestCheerEmotesFlattenTiers(t *testing.T) {
	var mote helix.Cheermote
	if err := json.Unmarshal([]byte(`{"prefix":"Cheer","tiers":[
		{"min_bits":1,"color":"#979797","images":{"dark":{"animated":{"1":"a1","2":"a2"},"static":{"1":"s1"}}}},
		{"min_bits":100,"color":"#9c3ee8","images":{"dark":{"static":{"1":"s100"}}}}]}`), &mote); err != nil {
		t.Fatal(err)
	}
	s := NewSource(fakeAPI{cheers: []helix.Cheermote{mote}})
	got, err := s.CheerEmotes(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 tiers, got %d", len(got))
	}
	if got[0].Images.URL1x != "a1" || got[1].Images.URL1x != "s100" || got[1].MinBits != 100 {
		t.Fatalf("unexpected tiers: %+v", got)
	}
}

func TestUserEmotesConvert(t *testing.T) {
	s := NewSource(fakeAPI{emotes: []helix.Emote{
		{ID: "25", Name: "Kappa", EmoteSetID: "0", Format: []string{"static"}},
		{ID: "x", Name: "Dance", EmoteSetID: "300", OwnerID: "1234", Format: []string{"static", "animated"}},
		{ID: "", Name: "broken"},
	}})
	got, err := s.UserEmotes(context.Background(), "1234")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 emotes, got %d", len(got))
	}
	if got[0].Provider != core.ProviderTwitch || got[0].Animated {
		t.Fatalf("unexpected first emote: %+v", got[0])
	}
	if !got[1].Animated || got[1].OwnerID != "1234" || got[1].Images.URL1x != "https://static-cdn.jtvnw.net/emoticons/v2/x/animated/dark/1.0" {
		t.Fatalf("unexpected second emote: %+v", got[1])
	}
}

func TestCatalogRefetchesBadges(t *testing.T) {
	var globalCalls, channelCalls atomic.Int64
	badgeSet := map[string]any{
		"data": []map[string]any{
			{"set_id": "subscriber", "versions": []map[string]any{{"id": "0", "image_url_1x": "https://cdn/sub/0/1x.png"}}},
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/badges/global", func(w http.ResponseWriter, r *http.Request) {
		globalCalls.Add(1)
		_ = json.NewEncoder(w).Encode(badgeSet)
	})
	mux.HandleFunc("/chat/badges", func(w http.ResponseWriter, r *http.Request) {
		channelCalls.Add(1)
		_ = json.NewEncoder(w).Encode(badgeSet)
	})
	mux.HandleFunc("/bits/cheermotes", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewSource(helix.New(helix.Config{BaseURL: srv.URL, Token: "tok", HTTP: srv.Client()}))
	c := emotes.New(emotes.Options{Badges: s, Cache: emotes.NewGlobalCache()})
	ctx := context.Background()

	c.Load(ctx, "1234", "chan")
	c.Reset()
	c.Load(ctx, "1234", "chan")
	if got := globalCalls.Load(); got != 1 {
		t.Fatalf("global badges should come from the catalog cache, fetched %d times", got)
	}
	if got := channelCalls.Load(); got != 2 {
		t.Fatalf("channel badges should be fetched per load, fetched %d times", got)
	}

	c.Reload(ctx, "1234", "chan")
	if got := globalCalls.Load(); got != 2 {
		t.Fatalf("reload should refetch global badges, fetched %d times", got)
	}
	if got := channelCalls.Load(); got != 3 {
		t.Fatalf("reload should refetch channel badges, fetched %d times", got)
	}
	if len(c.Badges()) != 1 || len(c.ChannelBadges()) != 1 {
		t.Fatalf("unexpected badges after reload: %+v %+v", c.Badges(), c.ChannelBadges())
	}
}
