package chat

import (
	"context"
	"log/slog"

	"github.com/you/chatcore/internal/core"
	"github.com/you/chatcore/internal/pubsub"
	"github.com/you/chatcore/internal/reward"
)

// pointsHandler applies points, raid, poll and prediction events.
type pointsHandler struct {
	s *Session
}

var _ pubsub.Handler = (*pointsHandler)(nil)

func (h *pointsHandler) Playback(p pubsub.Playback) {
	if p.Live == nil {
		return
	}
	login := h.s.Channel().Login
	if *p.Live {
		h.s.emit(core.NewSystem(h.s.text("stream_live", login)))
	} else {
		h.s.emit(core.NewSystem(h.s.text("stream_offline", login)))
	}
}

func (h *pointsHandler) Reward(m core.ChatMessage) {
	h.s.offerReward(h.s.sessionContext(), m, reward.RedemptionHalf)
}

func (h *pointsHandler) PointsEarned(points int, timestamp int64) {
	e := core.NewSystem(h.s.text("points_earned", points))
	if timestamp > 0 {
		e.Timestamp = timestamp
	}
	h.s.emit(e)
}

// ClaimAvailable claims the bonus through the points context so a stale
// claim id is never sent.
func (h *pointsHandler) ClaimAvailable(claimID string) {
	s := h.s
	points := s.opts.Points
	if points == nil || !points.HasToken() || !s.Settings().CollectPoints {
		return
	}
	ch := s.Channel()
	ctx := s.sessionContext()
	go func() {
		pc, err := points.ChannelPointsContext(ctx, ch.Login)
		if err != nil {
			s.failed("points context", err)
			return
		}
		id := pc.ClaimID
		if id == "" {
			id = claimID
		}
		if id == "" {
			return
		}
		if err := points.ClaimPoints(ctx, ch.ID, id); err != nil {
			s.failed("claim points", err)
			return
		}
		slog.Debug("chat: claimed channel points", "channel", ch.Login, "claim", id)
	}()
}

// Raid adopts r only when its id differs from the last one. Adoption joins
// the raid once when enabled.
func (h *pointsHandler) Raid(r core.Raid) {
	s := h.s
	s.mu.Lock()
	adopt := r.ID != s.raidID
	if adopt {
		s.raidID = r.ID
		s.raidClosed = false
	}
	s.raid = &r
	join := adopt && s.settings.JoinRaids
	s.mu.Unlock()

	points := s.opts.Points
	if !join || points == nil || !points.HasToken() {
		return
	}
	ctx := s.sessionContext()
	go func() {
		if err := points.JoinRaid(ctx, r.ID); err != nil {
			s.failed("join raid", err)
			return
		}
		target := r.TargetName
		if target == "" {
			target = r.TargetLogin
		}
		s.emit(core.NewSystem(s.text("raid_joined", target)))
	}()
}

func (h *pointsHandler) Poll(p core.Poll) {
	h.s.mu.Lock()
	h.s.poll = &p
	h.s.mu.Unlock()
}

func (h *pointsHandler) Prediction(p core.Prediction) {
	h.s.mu.Lock()
	h.s.prediction = &p
	h.s.mu.Unlock()
}

// cosmeticsHandler applies 7TV cosmetic, entitlement and emote set events.
type cosmeticsHandler struct {
	s *Session
}

func (h *cosmeticsHandler) notify(u CosmeticUpdate) {
	if h.s.opts.OnCosmetic != nil {
		h.s.opts.OnCosmetic(u)
	}
}

func (h *cosmeticsHandler) Paint(p core.Paint) {
	if !h.s.Settings().ShowPaints {
		return
	}
	h.s.cosmetics.putPaint(p)
	h.notify(CosmeticUpdate{Kind: CosmeticPaint, ID: p.ID, Paint: &p})
}

func (h *cosmeticsHandler) Badge(b core.CosmeticBadge) {
	if !h.s.Settings().ShowStvBadges {
		return
	}
	h.s.cosmetics.putBadge(b)
	h.notify(CosmeticUpdate{Kind: CosmeticBadge, ID: b.ID, Badge: &b})
}

// EmoteSetUpdate applies live changes to the channel set, or to a personal
// set when setID is any other set.
func (h *cosmeticsHandler) EmoteSetUpdate(setID string, removed []string, added []core.Emote) {
	s := h.s
	settings := s.Settings()
	if setID != "" && setID == s.opts.Catalog.ChannelStvSetID() {
		if !settings.StvLiveUpdates {
			return
		}
		s.opts.Catalog.ApplySetUpdate(removed, added)
		s.opts.Sink.Refresh()
		return
	}
	if !settings.ShowPersonal {
		return
	}
	set := s.cosmetics.updateSet(setID, removed, added)
	h.notify(CosmeticUpdate{Kind: CosmeticEmoteSet, ID: setID, Set: &set})
	if acc := s.opts.Account; acc.LoggedIn() && acc.ID != "" {
		if own, ok := s.cosmetics.userSet.GetIfPresent(acc.ID); ok && own == setID {
			set.OwnerID = acc.ID
			h.notify(CosmeticUpdate{Kind: CosmeticViewerSet, ID: setID, UserID: acc.ID, Set: &set})
		}
	}
}

func (h *cosmeticsHandler) UserPaint(userID, paintID string) {
	if !h.s.Settings().ShowPaints || !assign(h.s.cosmetics.userPaint, userID, paintID) {
		return
	}
	h.notify(CosmeticUpdate{Kind: CosmeticUserPaint, ID: paintID, UserID: userID})
}

func (h *cosmeticsHandler) UserBadge(userID, badgeID string) {
	if !h.s.Settings().ShowStvBadges || !assign(h.s.cosmetics.userBadge, userID, badgeID) {
		return
	}
	h.notify(CosmeticUpdate{Kind: CosmeticUserBadge, ID: badgeID, UserID: userID})
}

func (h *cosmeticsHandler) UserEmoteSet(userID, setID string) {
	s := h.s
	if !s.Settings().ShowPersonal || !assign(s.cosmetics.userSet, userID, setID) {
		return
	}
	h.notify(CosmeticUpdate{Kind: CosmeticUserEmoteSet, ID: setID, UserID: userID})
	if acc := s.opts.Account; acc.LoggedIn() && acc.ID != "" && userID == acc.ID {
		set, _ := s.cosmetics.UserEmoteSet(userID)
		h.notify(CosmeticUpdate{Kind: CosmeticViewerSet, ID: setID, UserID: userID, Set: &set})
	}
}

func (h *cosmeticsHandler) Presence(sessionID string) {
	h.s.updatePresence(h.s.sessionContext(), sessionID, true)
}

// updatePresence reports the viewer in the channel at most once per
// presence interval. Self presence needs the event session id.
func (s *Session) updatePresence(ctx context.Context, sessionID string, self bool) {
	s.mu.Lock()
	stvID, channelID, enabled := s.stvUserID, s.channel.ID, s.settings.SevenTV
	s.mu.Unlock()
	if s.opts.Presence == nil || !enabled || stvID == "" || channelID == "" {
		return
	}
	if self && sessionID == "" {
		return
	}
	if !s.presence.Allow() {
		return
	}
	go func() {
		if err := s.opts.Presence.SendPresence(ctx, stvID, channelID, sessionID, self); err != nil {
			slog.Debug("chat: presence not sent", "err", err)
		}
	}()
}

func (s *Session) resolveStvUser(ctx context.Context) {
	u, err := s.opts.Presence.TwitchUser(ctx, s.opts.Account.ID)
	if err != nil {
		slog.Debug("chat: 7tv user not resolved", "err", err)
		return
	}
	id := u.User.ID
	if id == "" {
		return
	}
	s.mu.Lock()
	s.stvUserID = id
	s.mu.Unlock()
}

func (s *Session) sessionContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}
