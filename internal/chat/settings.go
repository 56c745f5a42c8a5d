package chat

import (
	"github.com/you/chatcore/internal/core"
	"github.com/you/chatcore/internal/prefs"
	"github.com/you/chatcore/internal/sink"
)

// Settings are read from preferences when a live session starts.
type Settings struct {
	MessageLimit   int
	NameDisplay    core.NameDisplay
	PubSub         bool
	SevenTV        bool
	RecentMessages bool
	ShowUserNotice bool
	ShowClearChat  bool
	UseWebSocket   bool
	UseEventSub    bool
	SendViaAPI     bool
	CollectPoints  bool
	JoinRaids      bool
	StvLiveUpdates bool
	ShowPaints     bool
	ShowStvBadges  bool
	ShowPersonal   bool
}

// DefaultSettings enables every optional feature on the line-protocol transport.
func DefaultSettings() Settings {
	return Settings{
		MessageLimit:   sink.DefaultLimit,
		NameDisplay:    core.NameBoth,
		PubSub:         true,
		SevenTV:        true,
		RecentMessages: true,
		ShowUserNotice: true,
		ShowClearChat:  true,
		CollectPoints:  true,
		JoinRaids:      true,
		StvLiveUpdates: true,
		ShowPaints:     true,
		ShowStvBadges:  true,
		ShowPersonal:   true,
	}
}

func loadSettings(p *prefs.Store, def Settings) Settings {
	if def.MessageLimit <= 0 {
		def.MessageLimit = sink.DefaultLimit
	}
	if def.NameDisplay == "" {
		def.NameDisplay = core.NameBoth
	}
	return Settings{
		MessageLimit:   p.Int(prefs.MessageLimit, def.MessageLimit),
		NameDisplay:    core.NameDisplay(p.String(prefs.NameDisplay, string(def.NameDisplay))),
		PubSub:         p.Bool(prefs.EnablePubSub, def.PubSub),
		SevenTV:        p.Bool(prefs.Enable7TV, def.SevenTV),
		RecentMessages: p.Bool(prefs.EnableRecent, def.RecentMessages),
		ShowUserNotice: p.Bool(prefs.ShowUserNotice, def.ShowUserNotice),
		ShowClearChat:  p.Bool(prefs.ShowClearChat, def.ShowClearChat),
		UseWebSocket:   p.Bool(prefs.UseWebSocket, def.UseWebSocket),
		UseEventSub:    p.Bool(prefs.UseEventSub, def.UseEventSub),
		SendViaAPI:     p.Bool(prefs.SendViaAPI, def.SendViaAPI),
		CollectPoints:  p.Bool(prefs.CollectPoints, def.CollectPoints),
		JoinRaids:      p.Bool(prefs.JoinRaids, def.JoinRaids),
		StvLiveUpdates: p.Bool(prefs.StvLiveUpdates, def.StvLiveUpdates),
		ShowPaints:     p.Bool(prefs.ShowPaints, def.ShowPaints),
		ShowStvBadges:  p.Bool(prefs.ShowStvBadges, def.ShowStvBadges),
		ShowPersonal:   p.Bool(prefs.ShowPersonal, def.ShowPersonal),
	}
}

// cosmeticsEnabled reports whether the cosmetics bus has anything to do.
func (s Settings) cosmeticsEnabled() bool {
	return s.SevenTV && (s.ShowPaints || s.ShowStvBadges || s.ShowPersonal || s.StvLiveUpdates)
}
