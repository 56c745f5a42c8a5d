package emotes

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/you/chatcore/internal/core"
)

const maxRecent = 50

// Provider loads one source of third-party emotes.
type Provider interface {
	Name() core.Provider
	Global(ctx context.Context) ([]core.Emote, error)
	Channel(ctx context.Context, channelID, login string) (core.EmoteSet, error)
}

// BadgeSource loads Twitch badges and cheermotes.
type BadgeSource interface {
	GlobalBadges(ctx context.Context) ([]core.Badge, error)
	ChannelBadges(ctx context.Context, channelID string) ([]core.Badge, error)
	CheerEmotes(ctx context.Context, channelID string) ([]core.CheerEmote, error)
}

type Options struct {
	Providers []Provider
	Badges    BadgeSource
	// Cache defaults to the process-wide cache.
	Cache *GlobalCache
	// OnIntegrity is called when a load fails the integrity check.
	OnIntegrity func()
	// OnChange is called after any load changes what renderers see.
	OnChange func()
}

// Catalog is the per-session view over every emote and badge source.
type Catalog struct {
	opts Options

	mu            sync.RWMutex
	pool          []core.Emote
	names         map[string]struct{}
	global        map[core.Provider][]core.Emote
	channel       map[core.Provider][]core.Emote
	stvSetID      string
	badges        []core.Badge
	channelBadges []core.Badge
	cheer         []core.CheerEmote
	user          []core.Emote
	localTwitch   []core.Emote
	recent        []core.Emote
}

func New(opts Options) *Catalog {
	if opts.Cache == nil {
		opts.Cache = DefaultCache()
	}
	return &Catalog{
		opts:    opts,
		names:   map[string]struct{}{},
		global:  map[core.Provider][]core.Emote{},
		channel: map[core.Provider][]core.Emote{},
	}
}

func (c *Catalog) changed() {
	if c.opts.OnChange != nil {
		c.opts.OnChange()
	}
}

func (c *Catalog) failed(what string, p core.Provider, err error) {
	slog.Warn("emotes: load failed", "what", what, "provider", p, "err", err)
	if core.IsIntegrity(err) && c.opts.OnIntegrity != nil {
		c.opts.OnIntegrity()
	}
}

// addLocked appends emotes whose names are not in the pool yet.
func (c *Catalog) addLocked(list []core.Emote) {
	for _, e := range list {
		if e.Name == "" {
			continue
		}
		if _, ok := c.names[e.Name]; ok {
			continue
		}
		c.names[e.Name] = struct{}{}
		c.pool = append(c.pool, e)
	}
}

// Load fetches every source concurrently and returns when all have settled.
// Global sets come from the cache when present. Results join the pool in the
// order they arrive.
func (c *Catalog) Load(ctx context.Context, channelID, login string) {
	var wg sync.WaitGroup
	run := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	for _, p := range c.opts.Providers {
		run(func() { c.loadGlobal(ctx, p) })
		if channelID != "" {
			run(func() { c.loadChannel(ctx, p, channelID, login) })
		}
	}
	if b := c.opts.Badges; b != nil {
		run(func() { c.loadGlobalBadges(ctx, b) })
		if channelID != "" {
			run(func() {
				list, err := b.ChannelBadges(ctx, channelID)
				if err != nil {
					c.failed("channel badges", core.ProviderTwitch, err)
					return
				}
				if len(list) == 0 {
					return
				}
				c.mu.Lock()
				c.channelBadges = list
				c.mu.Unlock()
				c.changed()
			})
			run(func() {
				list, err := b.CheerEmotes(ctx, channelID)
				if err != nil {
					c.failed("cheermotes", core.ProviderTwitch, err)
					return
				}
				if len(list) == 0 {
					return
				}
				c.mu.Lock()
				c.cheer = list
				c.mu.Unlock()
				c.changed()
			})
		}
	}
	wg.Wait()
}

func (c *Catalog) loadGlobal(ctx context.Context, p Provider) {
	name := p.Name()
	list, ok := c.opts.Cache.Emotes(name)
	if !ok {
		var err error
		list, err = p.Global(ctx)
		if err != nil {
			c.failed("global", name, err)
			return
		}
		c.opts.Cache.SetEmotes(name, list)
	}
	if len(list) == 0 {
		return
	}
	c.mu.Lock()
	c.global[name] = list
	c.addLocked(list)
	c.mu.Unlock()
	c.changed()
}

func (c *Catalog) loadChannel(ctx context.Context, p Provider, channelID, login string) {
	name := p.Name()
	set, err := p.Channel(ctx, channelID, login)
	if err != nil {
		c.failed("channel", name, err)
		return
	}
	if len(set.Emotes) == 0 {
		return
	}
	c.mu.Lock()
	c.channel[name] = set.Emotes
	if name == core.ProviderSevenTV {
		c.stvSetID = set.ID
	}
	c.addLocked(set.Emotes)
	c.mu.Unlock()
	c.changed()
}

func (c *Catalog) loadGlobalBadges(ctx context.Context, b BadgeSource) {
	list, ok := c.opts.Cache.Badges()
	if !ok {
		var err error
		list, err = b.GlobalBadges(ctx)
		if err != nil {
			c.failed("global badges", core.ProviderTwitch, err)
			return
		}
		c.opts.Cache.SetBadges(list)
	}
	if len(list) == 0 {
		return
	}
	c.mu.Lock()
	c.badges = list
	c.mu.Unlock()
	c.changed()
}

// Reload clears the global cache and loads everything again.
func (c *Catalog) Reload(ctx context.Context, channelID, login string) {
	c.opts.Cache.Reload()
	c.Load(ctx, channelID, login)
}

// Reset forgets everything loaded for the previous channel. The global cache
// and recent emotes are kept.
func (c *Catalog) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pool = nil
	c.names = map[string]struct{}{}
	c.global = map[core.Provider][]core.Emote{}
	c.channel = map[core.Provider][]core.Emote{}
	c.stvSetID = ""
	c.channelBadges = nil
	c.cheer = nil
	c.localTwitch = nil
	c.user = nil
}

// Autocomplete returns the de-duplicated pool in arrival order.
func (c *Catalog) Autocomplete() []core.Emote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.pool)
}

func (c *Catalog) Lookup(name string) (core.Emote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.names[name]; !ok {
		return core.Emote{}, false
	}
	for _, e := range c.pool {
		if e.Name == name {
			return e, true
		}
	}
	return core.Emote{}, false
}

func (c *Catalog) Global(p core.Provider) []core.Emote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.global[p])
}

func (c *Catalog) Channel(p core.Provider) []core.Emote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.channel[p])
}

// ChannelStvSetID is the 7TV set id of the loaded channel, if any.
func (c *Catalog) ChannelStvSetID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stvSetID
}

// SetUserEmotes records the viewer's own emotes. Emotes owned by channelID
// come first, the rest by set id with the newest grant first.
func (c *Catalog) SetUserEmotes(list []core.Emote, channelID string) {
	sorted := slices.Clone(list)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SetID > sorted[j].SetID })
	c.mu.Lock()
	c.addLocked(sorted)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OwnerID == channelID && sorted[j].OwnerID != channelID
	})
	c.user = sorted
	c.mu.Unlock()
	c.changed()
}

func (c *Catalog) UserEmotes() []core.Emote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.user)
}

// ApplySetUpdate applies a live update of the channel's 7TV set.
func (c *Catalog) ApplySetUpdate(removed []string, added []core.Emote) {
	gone := make(map[string]struct{}, len(removed))
	for _, n := range removed {
		gone[n] = struct{}{}
	}
	drop := func(e core.Emote) bool {
		_, ok := gone[e.Name]
		return ok
	}
	c.mu.Lock()
	c.pool = slices.DeleteFunc(c.pool, drop)
	for n := range gone {
		delete(c.names, n)
	}
	c.addLocked(added)
	set := slices.DeleteFunc(slices.Clone(c.channel[core.ProviderSevenTV]), drop)
	c.channel[core.ProviderSevenTV] = append(set, added...)
	c.mu.Unlock()
	c.changed()
}

func (c *Catalog) Badges() []core.Badge {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.badges)
}

func (c *Catalog) ChannelBadges() []core.Badge {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.channelBadges)
}

func (c *Catalog) CheerEmotes() []core.CheerEmote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.cheer)
}

func (c *Catalog) LocalTwitchEmotes() []core.Emote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.localTwitch)
}

// SetLocalAssets installs the assets embedded in a transcript in place of the
// channel sets. Emotes replace the channel's 7TV set.
func (c *Catalog) SetLocalAssets(twitch []core.Emote, badges []core.Badge, cheer []core.CheerEmote, emotes []core.Emote) {
	c.mu.Lock()
	c.localTwitch = twitch
	c.channelBadges = badges
	c.cheer = cheer
	c.channel[core.ProviderSevenTV] = emotes
	c.addLocked(emotes)
	c.mu.Unlock()
	c.changed()
}

// AddRecent moves names to the front of the recently used list. Unknown names
// are ignored.
func (c *Catalog) AddRecent(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range names {
		var found core.Emote
		ok := false
		for _, e := range c.pool {
			if e.Name == n {
				found, ok = e, true
				break
			}
		}
		if !ok {
			continue
		}
		c.recent = slices.DeleteFunc(c.recent, func(e core.Emote) bool { return e.Name == n })
		c.recent = slices.Insert(c.recent, 0, found)
		if len(c.recent) > maxRecent {
			c.recent = c.recent[:maxRecent]
		}
	}
}

func (c *Catalog) RecentEmotes() []core.Emote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.recent)
}
