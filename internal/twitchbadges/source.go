// Package twitchbadges loads first-party chat badges, cheermotes and the
// viewer's emote sets. Results are not cached here; callers own caching.
package twitchbadges

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/you/chatcore/internal/core"
	"github.com/you/chatcore/internal/helix"
)

// API is the subset of helix.Client used here.
type API interface {
	GlobalBadges(ctx context.Context) ([]helix.BadgeSet, error)
	ChannelBadges(ctx context.Context, broadcasterID string) ([]helix.BadgeSet, error)
	Cheermotes(ctx context.Context, broadcasterID string) ([]helix.Cheermote, error)
	UserEmotes(ctx context.Context, broadcasterID string) ([]helix.Emote, error)
	EmoteSets(ctx context.Context, setIDs []string) ([]helix.Emote, error)
}

type Source struct {
	API API
}

func NewSource(api API) *Source {
	return &Source{API: api}
}

// GlobalBadges returns the badges available in every channel.
func (s *Source) GlobalBadges(ctx context.Context) ([]core.Badge, error) {
	sets, err := s.API.GlobalBadges(ctx)
	if err != nil {
		return nil, err
	}
	badges := convertBadgeSets(sets)
	slog.Debug("twitchbadges: fetched badge metadata", "scope", "global", "sets", len(sets), "badges", len(badges))
	return badges, nil
}

// ChannelBadges returns the subscriber and bits badges of one channel.
func (s *Source) ChannelBadges(ctx context.Context, channelID string) ([]core.Badge, error) {
	if channelID == "" {
		return nil, nil
	}
	sets, err := s.API.ChannelBadges(ctx, channelID)
	if err != nil {
		return nil, err
	}
	badges := convertBadgeSets(sets)
	slog.Debug("twitchbadges: fetched badge metadata", "scope", channelID, "sets", len(sets), "badges", len(badges))
	return badges, nil
}

// CheerEmotes flattens cheermote tiers into one entry per prefix and tier.
func (s *Source) CheerEmotes(ctx context.Context, channelID string) ([]core.CheerEmote, error) {
	motes, err := s.API.Cheermotes(ctx, channelID)
	if err != nil {
		return nil, err
	}
	var out []core.CheerEmote
	for _, m := range motes {
		for _, t := range m.Tiers {
			imgs := t.Images.Dark.Animated
			if len(imgs) == 0 {
				imgs = t.Images.Dark.Static
			}
			out = append(out, core.CheerEmote{
				Name:    m.Prefix,
				MinBits: t.MinBits,
				Color:   t.Color,
				Images: core.ImageSet{
					URL1x: imgs["1"],
					URL2x: imgs["2"],
					URL3x: imgs["3"],
					URL4x: imgs["4"],
				},
			})
		}
	}
	return out, nil
}

// UserEmotes lists every emote the viewer may use, including follower
// emotes of channelID.
func (s *Source) UserEmotes(ctx context.Context, channelID string) ([]core.Emote, error) {
	list, err := s.API.UserEmotes(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return convertEmotes(list), nil
}

// EmoteSets resolves emote set ids acknowledged by the chat server.
func (s *Source) EmoteSets(ctx context.Context, setIDs []string) ([]core.Emote, error) {
	list, err := s.API.EmoteSets(ctx, setIDs)
	if err != nil {
		return nil, err
	}
	return convertEmotes(list), nil
}

func convertEmotes(list []helix.Emote) []core.Emote {
	out := make([]core.Emote, 0, len(list))
	for _, e := range list {
		if e.ID == "" || e.Name == "" {
			continue
		}
		animated := false
		for _, f := range e.Format {
			if f == "animated" {
				animated = true
			}
		}
		out = append(out, core.Emote{
			Name:     e.Name,
			ID:       e.ID,
			Provider: core.ProviderTwitch,
			Animated: animated,
			SetID:    e.EmoteSetID,
			OwnerID:  e.OwnerID,
			Images: core.ImageSet{
				URL1x: helix.EmoteURL(e.ID, animated, "1.0"),
				URL2x: helix.EmoteURL(e.ID, animated, "2.0"),
				URL3x: helix.EmoteURL(e.ID, animated, "3.0"),
			},
		})
	}
	return out
}

func convertBadgeSets(sets []helix.BadgeSet) []core.Badge {
	var out []core.Badge
	for _, set := range sets {
		if strings.TrimSpace(set.SetID) == "" {
			continue
		}
		for _, v := range set.Versions {
			if v.ID == "" {
				continue
			}
			out = append(out, core.Badge{
				SetID:   set.SetID,
				Version: v.ID,
				Title:   v.Title,
				Images: core.ImageSet{
					URL1x: v.ImageURL1x,
					URL2x: v.ImageURL2x,
					URL4x: v.ImageURL4x,
				},
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SetID != out[j].SetID {
			return out[i].SetID < out[j].SetID
		}
		return out[i].Version < out[j].Version
	})
	return out
}
