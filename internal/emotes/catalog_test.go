package emotes

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/chatcore/internal/core"
)

type fakeProvider struct {
	name        core.Provider
	global      []core.Emote
	channel     core.EmoteSet
	globalErr   error
	channelErr  error
	delay       time.Duration
	globalCalls atomic.Int32
}

func (f *fakeProvider) Name() core.Provider { return f.name }

func (f *fakeProvider) Global(ctx context.Context) ([]core.Emote, error) {
	f.globalCalls.Add(1)
	time.Sleep(f.delay)
	return f.global, f.globalErr
}

func (f *fakeProvider) Channel(ctx context.Context, channelID, login string) (core.EmoteSet, error) {
	time.Sleep(f.delay)
	return f.channel, f.channelErr
}

type fakeBadges struct {
	global  []core.Badge
	channel []core.Badge
	cheer   []core.CheerEmote
	err     error
}

func (f *fakeBadges) GlobalBadges(context.Context) ([]core.Badge, error) { return f.global, f.err }
func (f *fakeBadges) ChannelBadges(context.Context, string) ([]core.Badge, error) {
	return f.channel, f.err
}
func (f *fakeBadges) CheerEmotes(context.Context, string) ([]core.CheerEmote, error) {
	return f.cheer, nil
}

func emote(p core.Provider, name string) core.Emote {
	return core.Emote{Name: name, Provider: p}
}

func names(list []core.Emote) []string {
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.Name)
	}
	return out
}

func TestLoadFirstProviderWins(t *testing.T) {
	first := &fakeProvider{name: core.ProviderSevenTV, global: []core.Emote{emote(core.ProviderSevenTV, "Kappa")}}
	second := &fakeProvider{
		name:   core.ProviderBTTV,
		global: []core.Emote{emote(core.ProviderBTTV, "Kappa"), emote(core.ProviderBTTV, "catJAM")},
		delay:  50 * time.Millisecond,
	}
	c := New(Options{Providers: []Provider{first, second}, Cache: NewGlobalCache()})
	c.Load(context.Background(), "", "")

	pool := c.Autocomplete()
	assert.Equal(t, []string{"Kappa", "catJAM"}, names(pool))
	kappa, ok := c.Lookup("Kappa")
	require.True(t, ok)
	assert.Equal(t, core.ProviderSevenTV, kappa.Provider)
}

func TestGlobalCacheAndReload(t *testing.T) {
	cache := NewGlobalCache()
	p := &fakeProvider{name: core.ProviderFFZ, global: []core.Emote{emote(core.ProviderFFZ, "LilZ")}}

	New(Options{Providers: []Provider{p}, Cache: cache}).Load(context.Background(), "", "")
	c := New(Options{Providers: []Provider{p}, Cache: cache})
	c.Load(context.Background(), "", "")
	assert.EqualValues(t, 1, p.globalCalls.Load())
	assert.Equal(t, []string{"LilZ"}, names(c.Global(core.ProviderFFZ)))

	c.Reload(context.Background(), "", "")
	assert.EqualValues(t, 2, p.globalCalls.Load())
}

func TestLoadIsolatesFailures(t *testing.T) {
	var integrity, changes atomic.Int32
	bad := &fakeProvider{name: core.ProviderBTTV, globalErr: errors.New("boom"), channelErr: fmt.Errorf("wrapped: %w", core.ErrIntegrity)}
	good := &fakeProvider{
		name:    core.ProviderSevenTV,
		global:  []core.Emote{emote(core.ProviderSevenTV, "Clap")},
		channel: core.EmoteSet{ID: "set-1", Emotes: []core.Emote{emote(core.ProviderSevenTV, "Chan")}},
	}
	badges := &fakeBadges{
		global:  []core.Badge{{SetID: "staff", Version: "1"}},
		channel: []core.Badge{{SetID: "subscriber", Version: "0"}},
		cheer:   []core.CheerEmote{{Name: "Cheer", MinBits: 1}},
	}
	c := New(Options{
		Providers:   []Provider{bad, good},
		Badges:      badges,
		Cache:       NewGlobalCache(),
		OnIntegrity: func() { integrity.Add(1) },
		OnChange:    func() { changes.Add(1) },
	})
	c.Load(context.Background(), "100", "streamer")

	assert.ElementsMatch(t, []string{"Clap", "Chan"}, names(c.Autocomplete()))
	assert.Equal(t, "set-1", c.ChannelStvSetID())
	assert.EqualValues(t, 1, integrity.Load())
	assert.Len(t, c.Badges(), 1)
	assert.Len(t, c.ChannelBadges(), 1)
	assert.Len(t, c.CheerEmotes(), 1)
	assert.EqualValues(t, 5, changes.Load())
}

func TestSetUserEmotesOrdering(t *testing.T) {
	c := New(Options{Cache: NewGlobalCache()})
	c.SetUserEmotes([]core.Emote{
		{Name: "old", SetID: "100", OwnerID: "1"},
		{Name: "new", SetID: "300", OwnerID: "2"},
		{Name: "mine", SetID: "200", OwnerID: "9"},
		{Name: "mid", SetID: "250", OwnerID: "3"},
	}, "9")

	assert.Equal(t, []string{"mine", "new", "mid", "old"}, names(c.UserEmotes()))
	assert.Equal(t, []string{"new", "mid", "mine", "old"}, names(c.Autocomplete()))
}

func TestApplySetUpdate(t *testing.T) {
	stv := &fakeProvider{
		name:    core.ProviderSevenTV,
		channel: core.EmoteSet{ID: "set-1", Emotes: []core.Emote{emote(core.ProviderSevenTV, "Gone"), emote(core.ProviderSevenTV, "Stay"), emote(core.ProviderSevenTV, "OldName")}},
	}
	c := New(Options{Providers: []Provider{stv}, Cache: NewGlobalCache()})
	c.Load(context.Background(), "100", "")

	c.ApplySetUpdate([]string{"Gone", "OldName"}, []core.Emote{emote(core.ProviderSevenTV, "NewName"), emote(core.ProviderSevenTV, "Stay")})

	assert.Equal(t, []string{"Stay", "NewName"}, names(c.Autocomplete()))
	assert.Equal(t, []string{"Stay", "NewName", "Stay"}, names(c.Channel(core.ProviderSevenTV)))
	_, ok := c.Lookup("Gone")
	assert.False(t, ok)
}

func TestRecentEmotesBounded(t *testing.T) {
	c := New(Options{Cache: NewGlobalCache()})
	list := make([]core.Emote, 0, 60)
	for i := range 60 {
		list = append(list, emote(core.ProviderTwitch, fmt.Sprintf("e%d", i)))
	}
	c.SetUserEmotes(list, "")
	for i := range 60 {
		c.AddRecent(fmt.Sprintf("e%d", i))
	}
	c.AddRecent("e10", "missing")

	recent := c.RecentEmotes()
	require.Len(t, recent, maxRecent)
	assert.Equal(t, "e10", recent[0].Name)
	assert.Equal(t, "e59", recent[1].Name)
}

func TestLocalAssets(t *testing.T) {
	c := New(Options{Cache: NewGlobalCache()})
	ref := &core.AssetRef{Offset: 10, Length: 4}
	c.SetLocalAssets(
		[]core.Emote{{Name: "25", Local: ref}},
		[]core.Badge{{SetID: "sub", Version: "1", Local: ref}},
		nil,
		[]core.Emote{{Name: "Pog", Local: ref, Provider: core.ProviderLocal}},
	)
	assert.Len(t, c.LocalTwitchEmotes(), 1)
	assert.Len(t, c.ChannelBadges(), 1)
	e, ok := c.Lookup("Pog")
	require.True(t, ok)
	assert.Equal(t, ref, e.Local)
}

func TestResetKeepsRecentAndCache(t *testing.T) {
	cache := NewGlobalCache()
	bttv := &fakeProvider{name: core.ProviderBTTV, global: []core.Emote{emote(core.ProviderBTTV, "catJAM")}, channel: core.EmoteSet{Emotes: []core.Emote{emote(core.ProviderBTTV, "pepeD")}}}
	c := New(Options{Providers: []Provider{bttv}, Cache: cache})
	c.Load(context.Background(), "1", "chan")
	c.AddRecent("pepeD")
	require.Len(t, c.Autocomplete(), 2)

	c.Reset()
	assert.Empty(t, c.Autocomplete())
	assert.Equal(t, []string{"pepeD"}, names(c.RecentEmotes()))

	c.Load(context.Background(), "", "")
	assert.Equal(t, []string{"catJAM"}, names(c.Autocomplete()))
	assert.EqualValues(t, 1, bttv.globalCalls.Load())
}
