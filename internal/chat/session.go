// Package chat supervises one channel's live chat: it owns the read and
// write transports and the auxiliary buses, and translates their events into
// sink entries and ambient channel state.
package chat

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
	"golang.org/x/time/rate"

	"github.com/you/chatcore/internal/core"
	"github.com/you/chatcore/internal/emotes"
	"github.com/you/chatcore/internal/gql"
	"github.com/you/chatcore/internal/prefs"
	"github.com/you/chatcore/internal/pubsub"
	"github.com/you/chatcore/internal/reward"
	"github.com/you/chatcore/internal/seventv"
	"github.com/you/chatcore/internal/sink"
)

const (
	eventBuffer      = 256
	recentLimit      = 100
	presenceInterval = 10 * time.Second
	maxChatters      = 50_000
)

type Channel struct {
	ID       string `json:"id"`
	Login    string `json:"login"`
	Name     string `json:"name,omitempty"`
	StreamID string `json:"stream_id,omitempty"`
}

// Account is the signed-in viewer. An empty Login means anonymous.
type Account struct {
	ID        string
	Login     string
	ChatToken string
	GQLToken  string
}

func (a Account) LoggedIn() bool { return a.Login != "" && a.ChatToken != "" }

// Bus is an auxiliary event connection.
type Bus interface {
	Connect(ctx context.Context)
	Disconnect()
	IsActive() bool
}

// CosmeticsBus is a Bus that can follow additional emote sets.
type CosmeticsBus interface {
	Bus
	WatchEmoteSet(id string)
}

// RecentLoader returns backlog events for a channel.
type RecentLoader interface {
	Load(ctx context.Context, channel string) ([]core.Event, error)
}

// UserEmoteSource resolves the viewer's own emotes.
type UserEmoteSource interface {
	UserEmotes(ctx context.Context, channelID string) ([]core.Emote, error)
	EmoteSets(ctx context.Context, setIDs []string) ([]core.Emote, error)
}

// PointsRepository performs authenticated channel points requests.
type PointsRepository interface {
	HasToken() bool
	ChannelPointsContext(ctx context.Context, channelLogin string) (gql.PointsContext, error)
	ClaimPoints(ctx context.Context, channelID, claimID string) error
	JoinRaid(ctx context.Context, raidID string) error
}

// PresenceClient reports the viewer to the cosmetics provider.
type PresenceClient interface {
	TwitchUser(ctx context.Context, twitchID string) (seventv.User, error)
	SendPresence(ctx context.Context, stvUserID, channelID, sessionID string, self bool) error
}

// Metrics receives session counters. Implementations must be nil-safe.
type Metrics interface {
	core.TransportObserver
	ObservePendingRewards(n int)
}

type Options struct {
	Sink       *sink.Sink
	Prefs      *prefs.Store
	Defaults   Settings
	Strings    core.Strings
	Catalog    *emotes.Catalog
	Reconciler *reward.Reconciler
	Account    Account

	Transports Transports
	PubSub     func(pubsub.Config) Bus
	SevenTV    func(seventv.EventConfig) CosmeticsBus

	Recent     RecentLoader
	UserEmotes UserEmoteSource
	Commands   Commands
	Points     PointsRepository
	Presence   PresenceClient

	// OnCosmetic is called for every newly seen cosmetic or assignment.
	OnCosmetic func(CosmeticUpdate)
	Metrics    Metrics
}

// Session is the live chat supervisor for one channel at a time.
type Session struct {
	opts      Options
	strings   core.Strings
	chatters  *otter.Cache[string, core.Chatter]
	cosmetics *Cosmetics
	presence  *rate.Limiter

	mu       sync.Mutex
	channel  Channel
	settings Settings
	ctx      context.Context
	cancel   context.CancelFunc
	kind     TransportKind
	read     Transport
	write    Writer
	pubsub   Bus
	stv      CosmeticsBus
	replay   Engine

	roomState  core.RoomState
	raid       *core.Raid
	raidID     string
	raidClosed bool
	hideRaid   bool
	poll       *core.Poll
	prediction *core.Prediction

	savedEmoteSets   []string
	emoteSetsLoading bool
	userEmotesLoaded bool
	stvUserID        string

	imu       sync.Mutex
	integrity chan struct{}
	signalled bool
}

func NewSession(opts Options) *Session {
	if opts.Sink == nil {
		opts.Sink = sink.New(sink.Options{})
	}
	if opts.Prefs == nil {
		opts.Prefs = prefs.Memory(nil)
	}
	if opts.Reconciler == nil {
		opts.Reconciler = reward.New()
	}
	if opts.Catalog == nil {
		opts.Catalog = emotes.New(emotes.Options{})
	}
	if opts.Defaults == (Settings{}) {
		opts.Defaults = DefaultSettings()
	}
	s := &Session{
		opts:      opts,
		strings:   opts.Strings,
		chatters:  otter.Must(&otter.Options[string, core.Chatter]{MaximumSize: maxChatters}),
		cosmetics: newCosmetics(),
		presence:  rate.NewLimiter(rate.Every(presenceInterval), 1),
		integrity: make(chan struct{}),
	}
	if s.strings == nil {
		s.strings = core.EnglishStrings
	}
	return s
}

func (s *Session) text(key string, args ...any) string {
	return s.strings.Text(key, args...)
}

// StartLive connects to ch unless a read transport already exists.
func (s *Session) StartLive(ctx context.Context, ch Channel) {
	s.mu.Lock()
	if s.read != nil {
		s.mu.Unlock()
		return
	}
	replay := s.replay
	s.replay = nil
	s.channel = ch
	s.settings = loadSettings(s.opts.Prefs, s.opts.Defaults)
	s.roomState = core.RoomState{}
	s.raid, s.raidID, s.raidClosed, s.hideRaid = nil, "", false, false
	s.poll, s.prediction = nil, nil
	s.savedEmoteSets, s.emoteSetsLoading, s.userEmotesLoaded = nil, false, false
	settings := s.settings
	s.mu.Unlock()

	if replay != nil {
		replay.Stop()
	}
	s.opts.Sink.SetLimit(settings.MessageLimit)
	s.opts.Catalog.Reset()
	s.opts.Reconciler.Reset()
	s.addChatter(core.Chatter{ID: ch.ID, Login: ch.Login, Name: ch.Name})

	sctx := s.startLiveChat(ctx)
	go s.loadEmotes(sctx, ch)
	if settings.RecentMessages && s.opts.Recent != nil && ch.Login != "" {
		go s.loadRecent(sctx, ch)
	}
	if s.opts.Account.LoggedIn() && s.opts.UserEmotes != nil {
		go s.loadUserEmotes(sctx, ch.ID)
	}
}

// ResumeLive reopens the previous selection if a read transport was ever
// created for the current channel.
func (s *Session) ResumeLive(ctx context.Context) {
	s.mu.Lock()
	known := s.read != nil
	s.mu.Unlock()
	if known {
		s.startLiveChat(ctx)
	}
}

// startLiveChat replaces any open connections and returns the new session
// context.
func (s *Session) startLiveChat(ctx context.Context) context.Context {
	s.mu.Lock()
	stop := s.detachLocked()
	s.mu.Unlock()
	stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	sctx, cancel := context.WithCancel(ctx)
	s.ctx, s.cancel = sctx, cancel
	events := make(chan core.Event, eventBuffer)

	s.kind = s.selectKind()
	factory := s.opts.Transports.factory(s.kind)
	if factory == nil {
		slog.Error("chat: no transport factory", "kind", s.kind)
		cancel()
		return sctx
	}
	cfg := TransportConfig{Kind: s.kind, Channel: s.channel, Account: s.opts.Account}
	s.read = factory(cfg)
	if s.kind != KindEventSub && s.opts.Account.LoggedIn() {
		wcfg := cfg
		wcfg.Write = true
		if w, ok := factory(wcfg).(Writer); ok {
			s.write = w
		}
	}

	go s.dispatch(sctx, events)
	s.read.Connect(sctx, events)
	if s.write != nil {
		s.write.Connect(sctx, events)
	}
	slog.Info("chat: live chat started", "channel", s.channel.Login, "transport", s.kind, "writer", s.write != nil)

	if s.channel.ID == "" {
		return sctx
	}
	if s.settings.PubSub && s.opts.PubSub != nil {
		s.pubsub = s.opts.PubSub(pubsub.Config{
			ChannelID: s.channel.ID,
			UserID:    s.opts.Account.ID,
			Token:     s.opts.Account.GQLToken,
			Handler:   &pointsHandler{s: s},
			Metrics:   s.opts.Metrics,
		})
		s.pubsub.Connect(sctx)
	}
	if s.settings.cosmeticsEnabled() && s.opts.SevenTV != nil {
		s.stv = s.opts.SevenTV(seventv.EventConfig{
			ChannelID:  s.channel.ID,
			EmoteSetID: s.opts.Catalog.ChannelStvSetID(),
			Handler:    &cosmeticsHandler{s: s},
			Metrics:    s.opts.Metrics,
		})
		s.stv.Connect(sctx)
		if s.opts.Account.ID != "" && s.opts.Presence != nil && s.stvUserID == "" {
			go s.resolveStvUser(sctx)
		}
	}
	return sctx
}

func (s *Session) selectKind() TransportKind {
	switch {
	case s.settings.UseEventSub && s.opts.Commands != nil && s.opts.Commands.HasToken() && s.opts.Transports.EventSub != nil:
		return KindEventSub
	case s.settings.UseWebSocket:
		return KindWebSocket
	}
	return KindIRC
}

// StopLiveChat disconnects every transport and bus. The read handle is kept
// so IsActive and ResumeLive still see the previous selection.
func (s *Session) StopLiveChat() {
	s.mu.Lock()
	stop := s.detachLocked()
	s.mu.Unlock()
	stop()
}

// detachLocked cancels the session context and takes the connection handles.
// The returned func disconnects them and must run without s.mu held, since
// bus read loops may be waiting on it.
func (s *Session) detachLocked() func() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	var closers []func()
	if s.read != nil {
		closers = append(closers, s.read.Disconnect)
	}
	if s.write != nil {
		closers = append(closers, s.write.Disconnect)
	}
	if s.pubsub != nil {
		closers = append(closers, s.pubsub.Disconnect)
	}
	if s.stv != nil {
		closers = append(closers, s.stv.Disconnect)
	}
	s.write, s.pubsub, s.stv = nil, nil, nil
	return func() {
		for _, c := range closers {
			c()
		}
	}
}

// IsActive is nil when no read transport was ever created.
func (s *Session) IsActive() *bool {
	s.mu.Lock()
	read := s.read
	s.mu.Unlock()
	if read == nil {
		return nil
	}
	return core.Bool(read.IsActive())
}

// Disconnect is the user-initiated hard stop. It does nothing unless the read
// transport is active.
func (s *Session) Disconnect() {
	if a := s.IsActive(); a == nil || !*a {
		return
	}
	s.mu.Lock()
	stop := s.detachLocked()
	s.raidID = ""
	s.raidClosed = true
	s.hideRaid = true
	s.roomState = core.DisconnectedRoomState()
	s.mu.Unlock()
	stop()
	s.opts.Sink.Replace([]core.Entry{core.NewSystem(s.text("disconnected"))})
}

func (s *Session) emit(entries ...core.Entry) {
	s.opts.Sink.Append(entries...)
}

func (s *Session) addChatter(c core.Chatter) {
	key := c.Login
	if key == "" {
		key = c.Name
	}
	if key == "" {
		return
	}
	if _, ok := s.chatters.GetIfPresent(key); ok {
		return
	}
	s.chatters.Set(key, c)
}

// Chatters lists every user seen since the session was created.
func (s *Session) Chatters() []core.Chatter {
	out := make([]core.Chatter, 0, s.chatters.EstimatedSize())
	for _, c := range s.chatters.All() {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b core.Chatter) int {
		switch {
		case a.Login < b.Login:
			return -1
		case a.Login > b.Login:
			return 1
		}
		return 0
	})
	return out
}

func (s *Session) Channel() Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Kind is the transport family of the current or last live session.
func (s *Session) Kind() TransportKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind
}

func (s *Session) Sink() *sink.Sink { return s.opts.Sink }

func (s *Session) Catalog() *emotes.Catalog { return s.opts.Catalog }

func (s *Session) Cosmetics() *Cosmetics { return s.cosmetics }

func (s *Session) RoomState() core.RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomState
}

func (s *Session) Raid() *core.Raid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raid
}

// RaidClosed is set once the viewer dismissed or disconnected from the
// current raid.
func (s *Session) RaidClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raidClosed
}

// CloseRaid hides the current raid until a raid with another id arrives.
func (s *Session) CloseRaid() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raidClosed = true
}

func (s *Session) HideRaid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hideRaid
}

func (s *Session) Poll() *core.Poll {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poll
}

func (s *Session) Prediction() *core.Prediction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prediction
}

// Integrity is closed the first time an authenticated request fails the
// integrity check.
func (s *Session) Integrity() <-chan struct{} {
	s.imu.Lock()
	defer s.imu.Unlock()
	return s.integrity
}

func (s *Session) NeedsRefresh() bool {
	s.imu.Lock()
	defer s.imu.Unlock()
	return s.signalled
}

// SignalIntegrity raises the refresh signal. Only the first call after a
// reset has an effect.
func (s *Session) SignalIntegrity() {
	s.imu.Lock()
	defer s.imu.Unlock()
	if s.signalled {
		return
	}
	s.signalled = true
	close(s.integrity)
	slog.Warn("chat: integrity check failed, refresh needed")
}

func (s *Session) ResetIntegrity() {
	s.imu.Lock()
	defer s.imu.Unlock()
	if !s.signalled {
		return
	}
	s.signalled = false
	s.integrity = make(chan struct{})
}

// failed reports err from an authenticated request.
func (s *Session) failed(what string, err error) {
	if core.IsIntegrity(err) {
		s.SignalIntegrity()
		return
	}
	slog.Warn("chat: request failed", "op", what, "err", err)
}
