package chat

import (
	"slices"

	"github.com/maypok86/otter/v2"

	"github.com/you/chatcore/internal/core"
)

const (
	maxCosmetics = 10_000
	maxWearers   = 100_000
)

type CosmeticKind string

const (
	CosmeticPaint        CosmeticKind = "paint"
	CosmeticBadge        CosmeticKind = "badge"
	CosmeticEmoteSet     CosmeticKind = "emote_set"
	CosmeticUserPaint    CosmeticKind = "user_paint"
	CosmeticUserBadge    CosmeticKind = "user_badge"
	CosmeticUserEmoteSet CosmeticKind = "user_emote_set"
	// CosmeticViewerSet republishes the signed-in viewer's personal set.
	CosmeticViewerSet CosmeticKind = "viewer_emote_set"
)

// CosmeticUpdate announces something consumers have not seen yet.
type CosmeticUpdate struct {
	Kind   CosmeticKind
	ID     string
	UserID string
	Paint  *core.Paint
	Badge  *core.CosmeticBadge
	Set    *core.PersonalEmoteSet
}

// Cosmetics holds provider cosmetics by id and which user wears which.
type Cosmetics struct {
	paints    *otter.Cache[string, core.Paint]
	badges    *otter.Cache[string, core.CosmeticBadge]
	sets      *otter.Cache[string, core.PersonalEmoteSet]
	userPaint *otter.Cache[string, string]
	userBadge *otter.Cache[string, string]
	userSet   *otter.Cache[string, string]
}

func newCosmetics() *Cosmetics {
	return &Cosmetics{
		paints:    otter.Must(&otter.Options[string, core.Paint]{MaximumSize: maxCosmetics}),
		badges:    otter.Must(&otter.Options[string, core.CosmeticBadge]{MaximumSize: maxCosmetics}),
		sets:      otter.Must(&otter.Options[string, core.PersonalEmoteSet]{MaximumSize: maxCosmetics}),
		userPaint: otter.Must(&otter.Options[string, string]{MaximumSize: maxWearers}),
		userBadge: otter.Must(&otter.Options[string, string]{MaximumSize: maxWearers}),
		userSet:   otter.Must(&otter.Options[string, string]{MaximumSize: maxWearers}),
	}
}

func (c *Cosmetics) Paint(id string) (core.Paint, bool) { return c.paints.GetIfPresent(id) }

func (c *Cosmetics) Badge(id string) (core.CosmeticBadge, bool) { return c.badges.GetIfPresent(id) }

func (c *Cosmetics) EmoteSet(id string) (core.PersonalEmoteSet, bool) {
	return c.sets.GetIfPresent(id)
}

// UserPaint returns the paint worn by userID.
func (c *Cosmetics) UserPaint(userID string) (core.Paint, bool) {
	id, ok := c.userPaint.GetIfPresent(userID)
	if !ok {
		return core.Paint{}, false
	}
	return c.paints.GetIfPresent(id)
}

func (c *Cosmetics) UserBadge(userID string) (core.CosmeticBadge, bool) {
	id, ok := c.userBadge.GetIfPresent(userID)
	if !ok {
		return core.CosmeticBadge{}, false
	}
	return c.badges.GetIfPresent(id)
}

func (c *Cosmetics) UserEmoteSet(userID string) (core.PersonalEmoteSet, bool) {
	id, ok := c.userSet.GetIfPresent(userID)
	if !ok {
		return core.PersonalEmoteSet{}, false
	}
	set, ok := c.sets.GetIfPresent(id)
	if !ok {
		return core.PersonalEmoteSet{ID: id, OwnerID: userID}, true
	}
	return set, true
}

func (c *Cosmetics) putPaint(p core.Paint) { c.paints.Set(p.ID, p) }

func (c *Cosmetics) putBadge(b core.CosmeticBadge) { c.badges.Set(b.ID, b) }

// updateSet drops removed names from the stored set and appends added.
func (c *Cosmetics) updateSet(id string, removed []string, added []core.Emote) core.PersonalEmoteSet {
	set, _ := c.sets.GetIfPresent(id)
	set.ID = id
	set.Emotes = slices.DeleteFunc(slices.Clone(set.Emotes), func(e core.Emote) bool {
		return slices.Contains(removed, e.Name)
	})
	set.Emotes = append(set.Emotes, added...)
	c.sets.Set(id, set)
	return set
}

// assign records that userID wears id. It reports false when nothing changed.
func assign(m *otter.Cache[string, string], userID, id string) bool {
	if cur, ok := m.GetIfPresent(userID); ok && cur == id {
		return false
	}
	m.Set(userID, id)
	return true
}
