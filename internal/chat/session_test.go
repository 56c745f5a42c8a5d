package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/chatcore/internal/core"
	"github.com/you/chatcore/internal/emotes"
	"github.com/you/chatcore/internal/gql"
	"github.com/you/chatcore/internal/helix"
	"github.com/you/chatcore/internal/prefs"
	"github.com/you/chatcore/internal/pubsub"
	"github.com/you/chatcore/internal/reward"
	"github.com/you/chatcore/internal/seventv"
	"github.com/you/chatcore/internal/sink"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeTransport struct {
	cfg TransportConfig

	mu          sync.Mutex
	events      chan<- core.Event
	active      bool
	connects    int
	disconnects int
	sent        []string
}

func (f *fakeTransport) Connect(ctx context.Context, events chan<- core.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = events
	f.active = true
	f.connects++
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	f.disconnects++
}

func (f *fakeTransport) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeTransport) Send(ctx context.Context, text, replyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeTransport) push(ev core.Event) {
	f.mu.Lock()
	events := f.events
	f.mu.Unlock()
	events <- ev
}

func (f *fakeTransport) sentLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeFactory struct {
	mu   sync.Mutex
	made []*fakeTransport
}

func (f *fakeFactory) build(tc TransportConfig) Transport {
	t := &fakeTransport{cfg: tc}
	f.mu.Lock()
	f.made = append(f.made, t)
	f.mu.Unlock()
	return t
}

// last returns the most recent reader or writer.
func (f *fakeFactory) last(write bool) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.made) - 1; i >= 0; i-- {
		if f.made[i].cfg.Write == write {
			return f.made[i]
		}
	}
	return nil
}

func (f *fakeFactory) count(write bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.made {
		if t.cfg.Write == write {
			n++
		}
	}
	return n
}

type fakeBus struct {
	mu      sync.Mutex
	active  bool
	watched []string
}

func (b *fakeBus) Connect(context.Context) { b.set(true) }

func (b *fakeBus) Disconnect() { b.set(false) }

func (b *fakeBus) set(active bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = active
}

func (b *fakeBus) IsActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *fakeBus) WatchEmoteSet(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watched = append(b.watched, id)
}

func (b *fakeBus) watching() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.watched...)
}

type fakeCommands struct {
	token bool
	err   error

	mu    sync.Mutex
	calls []string
}

func (c *fakeCommands) record(format string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
	return c.err
}

func (c *fakeCommands) log() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeCommands) HasToken() bool { return c.token }

func (c *fakeCommands) SendMessage(_ context.Context, b, text, reply string) error {
	return c.record("send %s %s", b, text)
}

func (c *fakeCommands) SendAnnouncement(_ context.Context, b, text, color string) error {
	return c.record("announce %s %q", color, text)
}

func (c *fakeCommands) BanUser(_ context.Context, b, target string, secs int, reason string) error {
	return c.record("ban %s %d %s", target, secs, reason)
}

func (c *fakeCommands) UnbanUser(_ context.Context, b, target string) error {
	return c.record("unban %s", target)
}

func (c *fakeCommands) DeleteMessages(_ context.Context, b, id string) error {
	return c.record("delete %q", id)
}

func (c *fakeCommands) UpdateChatColor(_ context.Context, color string) error {
	return c.record("color %s", color)
}

func (c *fakeCommands) StartCommercial(_ context.Context, b string, length int) (helix.Commercial, error) {
	return helix.Commercial{Length: length}, c.record("commercial %d", length)
}

func (c *fakeCommands) CreateStreamMarker(_ context.Context, b, desc string) (helix.Marker, error) {
	return helix.Marker{PositionSeconds: 42}, c.record("marker %s", desc)
}

func (c *fakeCommands) AddModerator(_ context.Context, b, t string) error {
	return c.record("mod %s", t)
}

func (c *fakeCommands) RemoveModerator(_ context.Context, b, t string) error {
	return c.record("unmod %s", t)
}

func (c *fakeCommands) AddVIP(_ context.Context, b, t string) error {
	return c.record("vip %s", t)
}

func (c *fakeCommands) RemoveVIP(_ context.Context, b, t string) error {
	return c.record("unvip %s", t)
}

func (c *fakeCommands) StartRaid(_ context.Context, b, t string) error {
	return c.record("raid %s", t)
}

func (c *fakeCommands) CancelRaid(_ context.Context, b string) error {
	return c.record("unraid")
}

func (c *fakeCommands) UpdateChatSettings(_ context.Context, b string, s helix.ChatSettings) error {
	parts := []string{"settings"}
	if s.SlowMode != nil {
		parts = append(parts, fmt.Sprintf("slow=%t", *s.SlowMode))
	}
	if s.SlowModeWaitTimeSeconds != nil {
		parts = append(parts, fmt.Sprintf("wait=%d", *s.SlowModeWaitTimeSeconds))
	}
	if s.FollowerMode != nil {
		parts = append(parts, fmt.Sprintf("followers=%t", *s.FollowerMode))
	}
	if s.FollowerModeDurationMinutes != nil {
		parts = append(parts, fmt.Sprintf("minutes=%d", *s.FollowerModeDurationMinutes))
	}
	if s.EmoteMode != nil {
		parts = append(parts, fmt.Sprintf("emote=%t", *s.EmoteMode))
	}
	return c.record("%s", strings.Join(parts, " "))
}

func (c *fakeCommands) SendWhisper(_ context.Context, t, text string) error {
	return c.record("whisper %s %s", t, text)
}

type fakePoints struct {
	claimErr error
	joins    atomic.Int32
	claims   atomic.Int32
}

func (p *fakePoints) HasToken() bool { return true }

func (p *fakePoints) ChannelPointsContext(context.Context, string) (gql.PointsContext, error) {
	return gql.PointsContext{Balance: 10, ClaimID: "claim-from-context"}, nil
}

func (p *fakePoints) ClaimPoints(context.Context, string, string) error {
	p.claims.Add(1)
	return p.claimErr
}

func (p *fakePoints) JoinRaid(context.Context, string) error {
	p.joins.Add(1)
	return nil
}

type fakePresence struct {
	sent atomic.Int32
}

func (p *fakePresence) TwitchUser(context.Context, string) (seventv.User, error) {
	var u seventv.User
	u.User.ID = "stv-viewer"
	return u, nil
}

func (p *fakePresence) SendPresence(context.Context, string, string, string, bool) error {
	p.sent.Add(1)
	return nil
}

type fakeRecent struct {
	events []core.Event
}

func (r fakeRecent) Load(context.Context, string) ([]core.Event, error) { return r.events, nil }

type fakeProvider struct {
	name    core.Provider
	global  []core.Emote
	channel core.EmoteSet
}

func (f *fakeProvider) Name() core.Provider { return f.name }

func (f *fakeProvider) Global(context.Context) ([]core.Emote, error) {
	return f.global, nil
}

func (f *fakeProvider) Channel(context.Context, string, string) (core.EmoteSet, error) {
	return f.channel, nil
}

type harness struct {
	s         *Session
	factory   *fakeFactory
	pubsubBus *fakeBus
	stvBus    *fakeBus
	points    pubsub.Handler
	cosmetics seventv.Handler
	mu        sync.Mutex
}

func (h *harness) pointsHandler() pubsub.Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.points
}

func (h *harness) cosmeticsHandler() seventv.Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cosmetics
}

// newHarness wires a session to fakes. mutate may adjust the options.
func newHarness(t *testing.T, values map[string]string, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{factory: &fakeFactory{}, pubsubBus: &fakeBus{}, stvBus: &fakeBus{}}
	opts := Options{
		Sink:       sink.New(sink.Options{}),
		Prefs:      prefs.Memory(values),
		Catalog:    emotes.New(emotes.Options{Cache: emotes.NewGlobalCache()}),
		Reconciler: reward.New(),
		Transports: Transports{IRC: h.factory.build, WebSocket: h.factory.build, EventSub: h.factory.build},
		PubSub: func(cfg pubsub.Config) Bus {
			h.mu.Lock()
			h.points = cfg.Handler
			h.mu.Unlock()
			return h.pubsubBus
		},
		SevenTV: func(cfg seventv.EventConfig) CosmeticsBus {
			h.mu.Lock()
			h.cosmetics = cfg.Handler
			h.mu.Unlock()
			return h.stvBus
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.s = NewSession(opts)
	t.Cleanup(h.s.StopLiveChat)
	return h
}

var testChannel = Channel{ID: "100", Login: "streamer", Name: "Streamer"}

var viewer = Account{ID: "200", Login: "viewer", ChatToken: "tok"}

func systemTexts(s *sink.Sink) []string {
	var out []string
	for _, e := range s.Snapshot() {
		if m, ok := e.(core.SystemMessage); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func chatMessages(s *sink.Sink) []core.ChatMessage {
	var out []core.ChatMessage
	for _, e := range s.Snapshot() {
		if m, ok := e.(core.ChatMessage); ok {
			out = append(out, m)
		}
	}
	return out
}

func TestStartLiveSelectsTransport(t *testing.T) {
	tests := []struct {
		name      string
		values    map[string]string
		token     bool
		want      TransportKind
		wantWrite bool
	}{
		{name: "default", want: KindIRC, wantWrite: true},
		{name: "websocket", values: map[string]string{prefs.UseWebSocket: "true"}, want: KindWebSocket, wantWrite: true},
		{name: "eventsub", values: map[string]string{prefs.UseEventSub: "true"}, token: true, want: KindEventSub},
		{name: "eventsub without token", values: map[string]string{prefs.UseEventSub: "true"}, want: KindIRC, wantWrite: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.values, func(o *Options) {
				o.Account = viewer
				o.Commands = &fakeCommands{token: tt.token}
			})
			h.s.StartLive(context.Background(), testChannel)

			assert.Equal(t, tt.want, h.s.Kind())
			require.NotNil(t, h.factory.last(false))
			assert.Equal(t, tt.want, h.factory.last(false).cfg.Kind)
			assert.Equal(t, tt.wantWrite, h.factory.last(true) != nil)
		})
	}
}

func TestStartLiveAnonymousHasNoWriter(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.s.StartLive(context.Background(), testChannel)
	assert.Nil(t, h.factory.last(true))
	assert.Equal(t, 1, h.factory.count(false))

	// A second start while a reader exists is a no-op.
	h.s.StartLive(context.Background(), testChannel)
	assert.Equal(t, 1, h.factory.count(false))
}

func TestIsActiveTriState(t *testing.T) {
	h := newHarness(t, nil, nil)
	assert.Nil(t, h.s.IsActive())

	h.s.ResumeLive(context.Background())
	assert.Nil(t, h.s.IsActive(), "resume without a previous session is a no-op")

	h.s.StartLive(context.Background(), testChannel)
	require.NotNil(t, h.s.IsActive())
	assert.True(t, *h.s.IsActive())

	h.s.StopLiveChat()
	h.s.StopLiveChat()
	require.NotNil(t, h.s.IsActive())
	assert.False(t, *h.s.IsActive())

	h.s.ResumeLive(context.Background())
	assert.True(t, *h.s.IsActive())
	assert.Equal(t, 2, h.factory.count(false))
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.s.Disconnect()
	assert.Zero(t, h.s.Sink().Len(), "disconnect without a session does nothing")

	h.s.StartLive(context.Background(), testChannel)
	h.s.Sink().Append(core.NewSystem("before"))
	h.s.Disconnect()

	assert.Equal(t, []string{"Disconnected"}, systemTexts(h.s.Sink()))
	assert.Equal(t, 1, h.s.Sink().Len())
	assert.Equal(t, core.DisconnectedRoomState(), h.s.RoomState())
	assert.True(t, h.s.HideRaid())
	assert.True(t, h.s.RaidClosed())
	assert.False(t, *h.s.IsActive())
	assert.False(t, h.pubsubBus.IsActive())
}

func TestRewardHalvesMerge(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.s.StartLive(context.Background(), testChannel)
	require.NotNil(t, h.pointsHandler())

	h.factory.last(false).push(core.ChatEvent{Message: core.ChatMessage{
		Header:   core.Header{ID: "m1", Timestamp: 1},
		UserID:   "u1",
		UserName: "Fan",
		Text:     "play the song",
		Reward:   &core.Reward{ID: "r1"},
	}})
	require.Eventually(t, func() bool { return h.s.opts.Reconciler.Pending() == 1 }, waitFor, tick)
	assert.Empty(t, chatMessages(h.s.Sink()))

	h.pointsHandler().Reward(core.ChatMessage{
		UserID: "u1",
		Text:   "play the song",
		Reward: &core.Reward{ID: "r1", Title: "Song request", Cost: 500},
	})

	msgs := chatMessages(h.s.Sink())
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "Fan", msgs[0].UserName)
	assert.Equal(t, "Song request", msgs[0].Reward.Title)
	assert.Equal(t, 500, msgs[0].Reward.Cost)
	assert.Zero(t, h.s.opts.Reconciler.Pending())
}

func TestRewardWithoutPubSubPassesThrough(t *testing.T) {
	h := newHarness(t, map[string]string{prefs.EnablePubSub: "false"}, nil)
	h.s.StartLive(context.Background(), testChannel)
	assert.Nil(t, h.pointsHandler())

	h.factory.last(false).push(core.ChatEvent{Message: core.ChatMessage{
		Header: core.Header{ID: "m1"},
		Text:   "hi",
		Reward: &core.Reward{ID: "r1"},
	}})
	require.Eventually(t, func() bool { return len(chatMessages(h.s.Sink())) == 1 }, waitFor, tick)
}

func TestClearMsgShiftsEmoteSpans(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.s.StartLive(context.Background(), testChannel)
	read := h.factory.last(false)

	read.push(core.ChatEvent{Message: core.ChatMessage{
		Header:    core.Header{ID: "m1", Timestamp: 1},
		UserID:    "u1",
		UserLogin: "viewer",
		UserName:  "Viewer",
		Text:      "hi Kappa",
		Emotes:    []core.EmoteSpan{{ID: "25", Begin: 3, End: 7}},
	}})
	read.push(core.ClearMsgEvent{Header: core.Header{ID: "c1", Timestamp: 2}, TargetID: "m1", Login: "viewer"})

	require.Eventually(t, func() bool { return h.s.Sink().Len() == 2 }, waitFor, tick)
	cleared, ok := h.s.Sink().Snapshot()[1].(core.ClearedMessage)
	require.True(t, ok)
	assert.Equal(t, "u1", cleared.UserID)
	prefix := strings.Index(cleared.Text, "hi Kappa")
	require.Positive(t, prefix)
	require.Len(t, cleared.Emotes, 1)
	assert.Equal(t, prefix+3, cleared.Emotes[0].Begin)
	assert.Equal(t, prefix+7, cleared.Emotes[0].End)
}

func TestClearChatAndUserNoticeFlags(t *testing.T) {
	h := newHarness(t, map[string]string{
		prefs.ShowClearChat:  "false",
		prefs.ShowUserNotice: "false",
	}, nil)
	h.s.StartLive(context.Background(), testChannel)
	read := h.factory.last(false)

	read.push(core.ClearChatEvent{Entry: core.ClearChat{TargetLogin: "troll", DurationSec: 10}})
	read.push(core.UserNoticeEvent{Message: core.ChatMessage{Header: core.Header{ID: "sub"}}})
	read.push(core.NoticeEvent{Code: "msg_slowmode"})

	require.Eventually(t, func() bool { return h.s.Sink().Len() == 1 }, waitFor, tick)
	n, ok := h.s.Sink().Snapshot()[0].(core.Notice)
	require.True(t, ok)
	assert.Equal(t, "msg_slowmode", n.Code)
}

func TestRaidNoticeHidesRaid(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.s.StartLive(context.Background(), testChannel)
	h.factory.last(false).push(core.NoticeEvent{Code: "unraid_success", Text: "The raid was cancelled"})
	require.Eventually(t, h.s.HideRaid, waitFor, tick)
}

func TestRoomStateReplacedWholesale(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.s.StartLive(context.Background(), testChannel)
	read := h.factory.last(false)

	five, ten := 5, 10
	read.push(core.RoomStateEvent{State: core.RoomState{SlowSeconds: &five}})
	read.push(core.RoomStateEvent{State: core.RoomState{FollowersOnly: &ten}})

	require.Eventually(t, func() bool { return h.s.RoomState().FollowersOnly != nil }, waitFor, tick)
	assert.Equal(t, 10, *h.s.RoomState().FollowersOnly)
	assert.Nil(t, h.s.RoomState().SlowSeconds)
}

func TestRaidAdoptedOncePerID(t *testing.T) {
	points := &fakePoints{}
	h := newHarness(t, nil, func(o *Options) { o.Points = points })
	h.s.StartLive(context.Background(), testChannel)
	handler := h.pointsHandler()
	require.NotNil(t, handler)

	handler.Raid(core.Raid{ID: "raid-1", TargetLogin: "other", ViewerCount: 5})
	require.Eventually(t, func() bool { return points.joins.Load() == 1 }, waitFor, tick)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"Joined raid to other"}, systemTexts(h.s.Sink()))
	}, waitFor, tick)

	h.s.CloseRaid()
	handler.Raid(core.Raid{ID: "raid-1", TargetLogin: "other", ViewerCount: 50})
	assert.True(t, h.s.RaidClosed(), "an update of the same raid keeps it closed")
	assert.Equal(t, 50, h.s.Raid().ViewerCount)
	assert.Never(t, func() bool { return points.joins.Load() > 1 }, 100*time.Millisecond, tick)

	handler.Raid(core.Raid{ID: "raid-2", TargetLogin: "third"})
	assert.False(t, h.s.RaidClosed())
	require.Eventually(t, func() bool { return points.joins.Load() == 2 }, waitFor, tick)
}

func TestPollAndPredictionReplaced(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.s.StartLive(context.Background(), testChannel)
	handler := h.pointsHandler()

	handler.Poll(core.Poll{ID: "p1", Title: "first"})
	handler.Poll(core.Poll{ID: "p1", Title: "second", TotalVotes: 3})
	handler.Prediction(core.Prediction{ID: "x", Status: "ACTIVE"})

	assert.Equal(t, "second", h.s.Poll().Title)
	assert.Equal(t, "ACTIVE", h.s.Prediction().Status)
}

func TestPlaybackAndPointsEarned(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.s.StartLive(context.Background(), testChannel)
	handler := h.pointsHandler()

	handler.Playback(pubsub.Playback{Live: core.Bool(true)})
	handler.Playback(pubsub.Playback{Viewers: 10})
	handler.PointsEarned(50, 1234)

	assert.Equal(t, []string{"streamer is live", "+50 channel points"}, systemTexts(h.s.Sink()))
	assert.Equal(t, int64(1234), h.s.Sink().Snapshot()[1].Meta().Timestamp)
}

func TestIntegritySignalledOnce(t *testing.T) {
	points := &fakePoints{claimErr: core.ErrIntegrity}
	h := newHarness(t, nil, func(o *Options) { o.Points = points })
	h.s.StartLive(context.Background(), testChannel)
	handler := h.pointsHandler()

	ch := h.s.Integrity()
	handler.ClaimAvailable("claim-1")
	handler.ClaimAvailable("claim-2")

	select {
	case <-ch:
	case <-time.After(waitFor):
		t.Fatal("integrity signal not raised")
	}
	require.Eventually(t, func() bool { return points.claims.Load() == 2 }, waitFor, tick)
	assert.True(t, h.s.NeedsRefresh())
	assert.NotPanics(t, h.s.SignalIntegrity)

	h.s.ResetIntegrity()
	assert.False(t, h.s.NeedsRefresh())
	select {
	case <-h.s.Integrity():
		t.Fatal("signal still raised after reset")
	default:
	}
}

func TestClaimSkippedWhenDisabled(t *testing.T) {
	points := &fakePoints{}
	h := newHarness(t, map[string]string{prefs.CollectPoints: "false"}, func(o *Options) { o.Points = points })
	h.s.StartLive(context.Background(), testChannel)
	h.pointsHandler().ClaimAvailable("claim-1")
	assert.Never(t, func() bool { return points.claims.Load() > 0 }, 50*time.Millisecond, tick)
}

func TestPresenceThrottled(t *testing.T) {
	presence := &fakePresence{}
	h := newHarness(t, nil, func(o *Options) {
		o.Account = viewer
		o.Presence = presence
	})
	h.s.StartLive(context.Background(), testChannel)
	handler := h.cosmeticsHandler()
	require.NotNil(t, handler)

	handler.Presence("")
	assert.Never(t, func() bool { return presence.sent.Load() > 0 }, 50*time.Millisecond, tick)

	require.Eventually(t, func() bool {
		handler.Presence("session-1")
		return presence.sent.Load() == 1
	}, waitFor, tick)
	for range 5 {
		handler.Presence("session-1")
	}
	assert.Never(t, func() bool { return presence.sent.Load() > 1 }, 100*time.Millisecond, tick)
}

func TestSevenTVChannelSetUpdate(t *testing.T) {
	stv := &fakeProvider{
		name:    core.ProviderSevenTV,
		channel: core.EmoteSet{ID: "set-1", Emotes: []core.Emote{{Name: "OldEmote", Provider: core.ProviderSevenTV}}},
	}
	h := newHarness(t, nil, func(o *Options) {
		o.Catalog = emotes.New(emotes.Options{Providers: []emotes.Provider{stv}, Cache: emotes.NewGlobalCache()})
	})
	h.s.StartLive(context.Background(), testChannel)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"set-1"}, h.stvBus.watching())
	}, waitFor, tick)

	h.cosmeticsHandler().EmoteSetUpdate("set-1", []string{"OldEmote"}, []core.Emote{{Name: "NewEmote", Provider: core.ProviderSevenTV}})

	_, ok := h.s.Catalog().Lookup("NewEmote")
	assert.True(t, ok)
	_, ok = h.s.Catalog().Lookup("OldEmote")
	assert.False(t, ok)
}

func TestPersonalSetsAndAssignments(t *testing.T) {
	var mu sync.Mutex
	var updates []CosmeticUpdate
	h := newHarness(t, nil, func(o *Options) {
		o.Account = viewer
		o.OnCosmetic = func(u CosmeticUpdate) {
			mu.Lock()
			updates = append(updates, u)
			mu.Unlock()
		}
	})
	h.s.StartLive(context.Background(), testChannel)
	handler := h.cosmeticsHandler()
	kinds := func() []CosmeticKind {
		mu.Lock()
		defer mu.Unlock()
		out := make([]CosmeticKind, 0, len(updates))
		for _, u := range updates {
			out = append(out, u.Kind)
		}
		return out
	}

	handler.Paint(core.Paint{ID: "paint-1", Name: "Sunset"})
	handler.UserPaint("u1", "paint-1")
	handler.UserPaint("u1", "paint-1")
	handler.UserEmoteSet(viewer.ID, "personal-1")
	handler.EmoteSetUpdate("personal-1", nil, []core.Emote{{Name: "Mine"}})

	assert.Equal(t, []CosmeticKind{
		CosmeticPaint,
		CosmeticUserPaint,
		CosmeticUserEmoteSet,
		CosmeticViewerSet,
		CosmeticEmoteSet,
		CosmeticViewerSet,
	}, kinds())

	paint, ok := h.s.Cosmetics().UserPaint("u1")
	require.True(t, ok)
	assert.Equal(t, "Sunset", paint.Name)
	set, ok := h.s.Cosmetics().UserEmoteSet(viewer.ID)
	require.True(t, ok)
	require.Len(t, set.Emotes, 1)
	assert.Equal(t, "Mine", set.Emotes[0].Name)
}

func TestSendCommands(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"/ban troll being rude", "ban troll 0 being rude"},
		{"/timeout troll 10m", "ban troll 600 "},
		{"/timeout troll spam", "ban troll 600 spam"},
		{"/unban troll", "unban troll"},
		{"/announce hello all", `announce  "hello all"`},
		{"/announceblue hi", `announce blue "hi"`},
		{"/clear", `delete ""`},
		{"/delete abc", `delete "abc"`},
		{"/slow 30", "settings slow=true wait=30"},
		{"/slowoff", "settings slow=false"},
		{"/followers 1h", "settings followers=true minutes=60"},
		{"/emoteonlyoff", "settings emote=false"},
		{"/commercial 60", "commercial 60"},
		{"/marker clip this", "marker clip this"},
		{"/vip friend", "vip friend"},
		{"/unraid", "unraid"},
		{"/w friend psst there", "whisper friend psst there"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			cmds := &fakeCommands{token: true}
			h := newHarness(t, nil, func(o *Options) {
				o.Account = viewer
				o.Commands = cmds
			})
			h.s.StartLive(context.Background(), testChannel)

			require.NoError(t, h.s.Send(context.Background(), tt.text, ""))
			assert.Equal(t, []string{tt.want}, cmds.log())
			assert.Empty(t, h.factory.last(true).sentLines())
		})
	}
}

func TestSendCommandFailure(t *testing.T) {
	cmds := &fakeCommands{token: true, err: errors.New("forbidden")}
	h := newHarness(t, nil, func(o *Options) {
		o.Account = viewer
		o.Commands = cmds
	})
	h.s.StartLive(context.Background(), testChannel)

	require.Error(t, h.s.Send(context.Background(), "/mod someone", ""))
	assert.Equal(t, []string{"Command failed: /mod: forbidden"}, systemTexts(h.s.Sink()))

	require.Error(t, h.s.Send(context.Background(), "/ban", ""))
}

func TestSendIntegrityFailureRaisesRefresh(t *testing.T) {
	cmds := &fakeCommands{token: true, err: fmt.Errorf("helix: %w", core.ErrIntegrity)}
	h := newHarness(t, map[string]string{prefs.SendViaAPI: "true"}, func(o *Options) {
		o.Account = viewer
		o.Commands = cmds
	})
	h.s.StartLive(context.Background(), testChannel)

	require.Error(t, h.s.Send(context.Background(), "/mod someone", ""))
	assert.True(t, h.s.NeedsRefresh())
	require.Error(t, h.s.Send(context.Background(), "hi there", ""))
	assert.Empty(t, systemTexts(h.s.Sink()), "integrity failures are not shown as chat notices")
	assert.Equal(t, []string{"mod someone", "send 100 hi there"}, cmds.log())
}

func TestSendMessageRouting(t *testing.T) {
	kappa := &fakeProvider{name: core.ProviderBTTV, global: []core.Emote{{Name: "Kappa", Provider: core.ProviderBTTV}}}
	cmds := &fakeCommands{token: false}
	h := newHarness(t, nil, func(o *Options) {
		o.Account = viewer
		o.Commands = cmds
		o.Catalog = emotes.New(emotes.Options{Providers: []emotes.Provider{kappa}, Cache: emotes.NewGlobalCache()})
	})
	h.s.StartLive(context.Background(), testChannel)
	require.Eventually(t, func() bool {
		_, ok := h.s.Catalog().Lookup("Kappa")
		return ok
	}, waitFor, tick)

	require.NoError(t, h.s.Send(context.Background(), "hello Kappa", ""))
	require.NoError(t, h.s.Send(context.Background(), "/ban troll", ""))
	require.NoError(t, h.s.Send(context.Background(), "/ban troll", "parent-1"))

	assert.Equal(t, []string{"hello Kappa", "/ban troll", "/ban troll"}, h.factory.last(true).sentLines())
	assert.Empty(t, cmds.log(), "commands need a token")
	recent := h.s.Catalog().RecentEmotes()
	require.Len(t, recent, 1)
	assert.Equal(t, "Kappa", recent[0].Name)
}

func TestSendViaAPI(t *testing.T) {
	cmds := &fakeCommands{token: true}
	h := newHarness(t, map[string]string{prefs.SendViaAPI: "true"}, func(o *Options) {
		o.Account = viewer
		o.Commands = cmds
	})
	h.s.StartLive(context.Background(), testChannel)

	require.NoError(t, h.s.Send(context.Background(), "hi there", ""))
	assert.Equal(t, []string{"send 100 hi there"}, cmds.log())
	assert.Empty(t, h.factory.last(true).sentLines())
}

func TestSendDisconnectCommand(t *testing.T) {
	h := newHarness(t, nil, func(o *Options) { o.Account = viewer })
	h.s.StartLive(context.Background(), testChannel)

	require.NoError(t, h.s.Send(context.Background(), "/dc", ""))
	assert.False(t, *h.s.IsActive())
	assert.Equal(t, []string{"Disconnected"}, systemTexts(h.s.Sink()))
}

func TestSendWithoutWriter(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.s.StartLive(context.Background(), testChannel)
	require.Error(t, h.s.Send(context.Background(), "hello", ""))
	require.Len(t, systemTexts(h.s.Sink()), 1)
}

func TestRecentMessagesPrepended(t *testing.T) {
	var events []core.Event
	for i := range 150 {
		events = append(events, core.ChatEvent{Message: core.ChatMessage{
			Header: core.Header{ID: fmt.Sprintf("m%d", i), Timestamp: int64(i + 1)},
			Text:   "old",
		}})
	}
	events = append(events, core.ClearMsgEvent{Header: core.Header{ID: "c1", Timestamp: 200}, TargetID: "m149", Login: "someone"})
	h := newHarness(t, nil, func(o *Options) { o.Recent = fakeRecent{events: events} })
	h.s.StartLive(context.Background(), testChannel)

	require.Eventually(t, func() bool { return h.s.Sink().Len() == recentLimit }, waitFor, tick)
	snap := h.s.Sink().Snapshot()
	assert.Equal(t, "m51", snap[0].Meta().ID)
	cleared, ok := snap[len(snap)-1].(core.ClearedMessage)
	require.True(t, ok)
	assert.Equal(t, "m149", cleared.TargetID)
}

func TestChattersRegistry(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.s.StartLive(context.Background(), testChannel)
	read := h.factory.last(false)
	read.push(core.ChatEvent{Message: core.ChatMessage{Header: core.Header{ID: "1"}, UserID: "9", UserLogin: "zed", UserName: "Zed"}})
	read.push(core.ChatEvent{Message: core.ChatMessage{Header: core.Header{ID: "2"}, UserID: "9", UserLogin: "zed", UserName: "Renamed"}})
	read.push(core.ChatEvent{Message: core.ChatMessage{Header: core.Header{ID: "3"}, UserID: "8", UserLogin: "amy"}})

	require.Eventually(t, func() bool { return len(h.s.Chatters()) == 3 }, waitFor, tick)
	chatters := h.s.Chatters()
	assert.Equal(t, []string{"amy", "streamer", "zed"}, []string{chatters[0].Login, chatters[1].Login, chatters[2].Login})
	assert.Equal(t, "Zed", chatters[2].Name)
}
