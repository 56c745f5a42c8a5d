package chat

import (
	"context"
	"log/slog"
	"slices"

	"github.com/you/chatcore/internal/core"
	"github.com/you/chatcore/internal/reward"
)

// Notice codes that also hide the raid banner.
var raidNoticeCodes = map[string]bool{
	"raid_error_already_raiding":  true,
	"raid_error_forbidden":        true,
	"raid_error_self":             true,
	"raid_error_too_many_viewers": true,
	"raid_error_unexpected":       true,
	"raid_notice_mature":          true,
	"raid_notice_restricted_chat": true,
	"unraid_error_no_active_raid": true,
	"unraid_error_unexpected":     true,
	"unraid_success":              true,
	"msg_banned":                  true,
	"msg_ban_evasion":             true,
	"msg_channel_suspended":       true,
}

// dispatch is the single consumer of one live session's transport events.
func (s *Session) dispatch(ctx context.Context, events <-chan core.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			s.handle(ctx, ev)
		}
	}
}

func (s *Session) handle(ctx context.Context, ev core.Event) {
	settings := s.Settings()
	login := s.Channel().Login
	switch ev := ev.(type) {
	case core.Connected:
		s.emit(core.NewSystem(s.text("chat_join", login)))
	case core.Disconnected:
		reason := "connection closed"
		if ev.Err != nil {
			reason = ev.Err.Error()
		}
		s.emit(core.NewSystem(s.text("chat_disconnect", login, reason)))
	case core.SendError:
		s.emit(core.NewSystem(s.text("send_error", ev.Err)))
	case core.ChatEvent:
		s.onChat(ctx, ev.Message, settings)
	case core.UserNoticeEvent:
		if settings.ShowUserNotice {
			s.onChat(ctx, ev.Message, settings)
		}
	case core.ClearMsgEvent:
		s.emit(s.clearedMessage(ev, settings))
	case core.ClearChatEvent:
		if settings.ShowClearChat {
			s.emit(core.WithClearChatText(ev.Entry, s.strings))
		}
	case core.NoticeEvent:
		s.emit(s.notice(ev))
		if raidNoticeCodes[ev.Code] {
			s.mu.Lock()
			s.hideRaid = true
			s.mu.Unlock()
		}
	case core.RoomStateEvent:
		s.mu.Lock()
		s.roomState = ev.State
		s.mu.Unlock()
	case core.UserStateEvent:
		s.onUserState(ctx, ev)
	}
}

func (s *Session) clearedMessage(ev core.ClearMsgEvent, settings Settings) core.ClearedMessage {
	target, _ := s.opts.Sink.FindChat(ev.TargetID)
	return core.NewClearedMessage(ev, target, s.strings, settings.NameDisplay)
}

func (s *Session) notice(ev core.NoticeEvent) core.Notice {
	h := ev.Header
	if h.Timestamp == 0 {
		h.Timestamp = core.NowMillis()
	}
	return core.Notice{Header: h, Code: ev.Code, Text: core.NoticeText(s.strings, ev.Code, ev.Text)}
}

// onChat routes reward halves through the reconciler when the points bus is
// on; without it the redemption half never arrives.
func (s *Session) onChat(ctx context.Context, m core.ChatMessage, settings Settings) {
	if settings.PubSub && m.RewardID() != "" {
		s.offerReward(ctx, m, reward.TextHalf)
		return
	}
	s.emitChat(ctx, m)
}

func (s *Session) offerReward(ctx context.Context, m core.ChatMessage, half reward.Half) {
	merged, ok := s.opts.Reconciler.Offer(m, half)
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObservePendingRewards(s.opts.Reconciler.Pending())
	}
	if ok {
		s.emitChat(ctx, merged)
	}
}

func (s *Session) emitChat(ctx context.Context, m core.ChatMessage) {
	if m.Timestamp == 0 {
		m.Timestamp = core.NowMillis()
	}
	s.emit(m)
	s.addChatter(core.Chatter{ID: m.UserID, Login: m.UserLogin, Name: m.UserName})
	if acc := s.opts.Account; acc.LoggedIn() && acc.ID != "" && m.UserID == acc.ID {
		s.updatePresence(ctx, "", false)
	}
}

// onUserState loads the acknowledged emote sets once, the first time they
// differ from the cached list, unless the viewer's emotes are already loaded.
func (s *Session) onUserState(ctx context.Context, ev core.UserStateEvent) {
	if len(ev.EmoteSets) == 0 {
		return
	}
	s.mu.Lock()
	if slices.Equal(s.savedEmoteSets, ev.EmoteSets) {
		s.mu.Unlock()
		return
	}
	s.savedEmoteSets = slices.Clone(ev.EmoteSets)
	load := !s.userEmotesLoaded && !s.emoteSetsLoading
	if load {
		s.emoteSetsLoading = true
	}
	sets, channelID := s.savedEmoteSets, s.channel.ID
	s.mu.Unlock()
	if !load || s.opts.UserEmotes == nil || s.opts.Commands == nil || !s.opts.Commands.HasToken() {
		return
	}
	go func() {
		list, err := s.opts.UserEmotes.EmoteSets(ctx, sets)
		if err != nil {
			s.failed("emote sets", err)
			return
		}
		if len(list) == 0 {
			return
		}
		s.opts.Catalog.SetUserEmotes(list, channelID)
		s.mu.Lock()
		s.userEmotesLoaded = true
		s.mu.Unlock()
	}()
}

func (s *Session) loadEmotes(ctx context.Context, ch Channel) {
	s.opts.Catalog.Load(ctx, ch.ID, ch.Login)
	if ctx.Err() != nil {
		return
	}
	id := s.opts.Catalog.ChannelStvSetID()
	s.mu.Lock()
	stv := s.stv
	s.mu.Unlock()
	if id != "" && stv != nil {
		stv.WatchEmoteSet(id)
	}
	s.opts.Sink.Refresh()
}

func (s *Session) loadUserEmotes(ctx context.Context, channelID string) {
	list, err := s.opts.UserEmotes.UserEmotes(ctx, channelID)
	if err != nil {
		s.failed("user emotes", err)
		return
	}
	s.opts.Catalog.SetUserEmotes(list, channelID)
	s.mu.Lock()
	s.userEmotesLoaded = true
	s.mu.Unlock()
}

// loadRecent prepends the channel backlog, translated like live events.
func (s *Session) loadRecent(ctx context.Context, ch Channel) {
	events, err := s.opts.Recent.Load(ctx, ch.Login)
	if err != nil {
		slog.Warn("chat: recent messages not loaded", "channel", ch.Login, "err", err)
		return
	}
	if ctx.Err() != nil {
		return
	}
	settings := s.Settings()
	entries := make([]core.Entry, 0, len(events))
	for _, ev := range events {
		switch ev := ev.(type) {
		case core.ChatEvent:
			entries = append(entries, ev.Message)
		case core.UserNoticeEvent:
			if settings.ShowUserNotice {
				entries = append(entries, ev.Message)
			}
		case core.ClearMsgEvent:
			entries = append(entries, backlogCleared(ev, entries, s.strings, settings))
		case core.ClearChatEvent:
			if settings.ShowClearChat {
				entries = append(entries, core.WithClearChatText(ev.Entry, s.strings))
			}
		case core.NoticeEvent:
			entries = append(entries, s.notice(ev))
		}
	}
	if len(entries) > recentLimit {
		entries = entries[len(entries)-recentLimit:]
	}
	if len(entries) > 0 {
		s.opts.Sink.Prepend(entries)
	}
	slog.Debug("chat: recent messages loaded", "channel", ch.Login, "count", len(entries))
}

// backlogCleared resolves a deletion against the backlog read so far.
func backlogCleared(ev core.ClearMsgEvent, backlog []core.Entry, str core.Strings, settings Settings) core.ClearedMessage {
	var target *core.ChatMessage
	for i := len(backlog) - 1; i >= 0; i-- {
		if m, ok := backlog[i].(core.ChatMessage); ok && m.ID == ev.TargetID {
			target = &m
			break
		}
	}
	return core.NewClearedMessage(ev, target, str, settings.NameDisplay)
}
