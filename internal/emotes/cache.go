// Package emotes merges emotes and badges from every provider into the
// catalog the renderer and autocomplete read from.
package emotes

import (
	"github.com/maypok86/otter/v2"

	"github.com/you/chatcore/internal/core"
)

// GlobalCache holds process-wide global sets. Entries never expire; Reload is
// the only invalidation.
type GlobalCache struct {
	emotes *otter.Cache[core.Provider, []core.Emote]
	badges *otter.Cache[string, []core.Badge]
}

const globalBadgesKey = "twitch"

func NewGlobalCache() *GlobalCache {
	return &GlobalCache{
		emotes: otter.Must(&otter.Options[core.Provider, []core.Emote]{MaximumSize: 16}),
		badges: otter.Must(&otter.Options[string, []core.Badge]{MaximumSize: 4}),
	}
}

var defaultCache = NewGlobalCache()

// DefaultCache is shared by every catalog that is not given its own.
func DefaultCache() *GlobalCache { return defaultCache }

func (g *GlobalCache) Emotes(p core.Provider) ([]core.Emote, bool) {
	return g.emotes.GetIfPresent(p)
}

// SetEmotes stores a non-empty global set.
func (g *GlobalCache) SetEmotes(p core.Provider, list []core.Emote) {
	if len(list) == 0 {
		return
	}
	g.emotes.Set(p, list)
}

func (g *GlobalCache) Badges() ([]core.Badge, bool) {
	return g.badges.GetIfPresent(globalBadgesKey)
}

func (g *GlobalCache) SetBadges(list []core.Badge) {
	if len(list) == 0 {
		return
	}
	g.badges.Set(globalBadgesKey, list)
}

// Reload drops every global set so the next load fetches them again.
func (g *GlobalCache) Reload() {
	g.emotes.InvalidateAll()
	g.badges.InvalidateAll()
}
