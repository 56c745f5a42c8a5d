package seventv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/you/chatcore/internal/core"
)

const DefaultEventURL = "wss://events.7tv.io/v3"

// Opcodes.
const (
	opDispatch    = 0
	opHello       = 1
	opHeartbeat   = 2
	opReconnect   = 4
	opAck         = 5
	opError       = 6
	opEndOfStream = 7
	opSubscribe   = 35
)

const (
	maxBackoff       = 60 * time.Second
	defaultHeartbeat = 45 * time.Second
)

var errReconnect = errors.New("seventv: reconnect requested")

// Handler receives decoded events from the read loop, one at a time.
type Handler interface {
	Paint(p core.Paint)
	Badge(b core.CosmeticBadge)
	// EmoteSetUpdate carries the names removed from setID (including the
	// old side of renames) and the emotes added (including the new side).
	EmoteSetUpdate(setID string, removed []string, added []core.Emote)
	UserPaint(userID, paintID string)
	UserBadge(userID, badgeID string)
	UserEmoteSet(userID, setID string)
	// Presence is called once per session with the event session id.
	Presence(sessionID string)
}

type EventConfig struct {
	URL       string
	ChannelID string
	// EmoteSetID is the channel's emote set; it may be set later.
	EmoteSetID string
	Handler    Handler
	Metrics    core.TransportObserver
}

type message struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type subscription struct {
	Type      string            `json:"type"`
	Condition map[string]string `json:"condition"`
}

// EventClient subscribes to cosmetic, entitlement and emote set events.
type EventClient struct {
	cfg EventConfig

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool
	sessionID string
	sets      map[string]bool
	outbox    chan subscription
}

func NewEventClient(cfg EventConfig) *EventClient {
	if cfg.URL == "" {
		cfg.URL = DefaultEventURL
	}
	c := &EventClient{cfg: cfg, sets: map[string]bool{}}
	if cfg.EmoteSetID != "" {
		c.sets[cfg.EmoteSetID] = true
	}
	return c
}

func (c *EventClient) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.outbox = make(chan subscription, 16)
	done := c.done
	go func() {
		defer close(done)
		c.run(ctx)
	}()
}

func (c *EventClient) Disconnect() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *EventClient) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *EventClient) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// WatchEmoteSet subscribes to updates of set id. It is remembered across
// reconnects.
func (c *EventClient) WatchEmoteSet(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	if c.sets[id] {
		c.mu.Unlock()
		return
	}
	c.sets[id] = true
	outbox, connected := c.outbox, c.connected
	c.mu.Unlock()
	if !connected {
		return
	}
	select {
	case outbox <- setSubscription(id):
	default:
		slog.Warn("seventv: subscription queue full", "set", id)
	}
}

func setSubscription(id string) subscription {
	return subscription{Type: "emote_set.update", Condition: map[string]string{"object_id": id}}
}

func (c *EventClient) subscriptions() []subscription {
	channel := map[string]string{"ctx": "channel", "platform": "TWITCH", "id": c.cfg.ChannelID}
	subs := []subscription{
		{Type: "cosmetic.*", Condition: channel},
		{Type: "entitlement.*", Condition: channel},
	}
	c.mu.Lock()
	for id := range c.sets {
		subs = append(subs, setSubscription(id))
	}
	c.mu.Unlock()
	return subs
}

func (c *EventClient) observe(event string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ObserveTransport("7tv", event)
	}
}

func (c *EventClient) run(ctx context.Context) {
	defer c.setSession("", false)
	backoff := time.Second
	for {
		err := c.session(ctx)
		c.setSession("", false)
		if ctx.Err() != nil {
			return
		}
		c.observe("disconnect")
		if errors.Is(err, errReconnect) {
			backoff = time.Second
		}
		slog.Warn("seventv: disconnected", "err", err, "retry_in", backoff)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *EventClient) setSession(id string, connected bool) {
	c.mu.Lock()
	c.sessionID = id
	c.connected = connected
	c.mu.Unlock()
}

func (c *EventClient) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("seventv: dial: %w", err)
	}
	defer ws.Close()

	msgs := make(chan message, 32)
	readErr := make(chan error, 1)
	heartbeat := defaultHeartbeat
	go func() {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			var m message
			if err := json.Unmarshal(data, &m); err != nil {
				slog.Debug("seventv: undecodable message", "err", err)
				continue
			}
			select {
			case msgs <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	send := func(op int, d any) error {
		return ws.WriteJSON(map[string]any{"op": op, "d": d})
	}

	c.mu.Lock()
	outbox := c.outbox
	c.mu.Unlock()

	watchdog := time.NewTimer(3 * heartbeat)
	defer watchdog.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return fmt.Errorf("seventv: read: %w", err)
		case <-watchdog.C:
			return errors.New("seventv: heartbeat timeout")
		case sub := <-outbox:
			if err := send(opSubscribe, sub); err != nil {
				return fmt.Errorf("seventv: subscribe: %w", err)
			}
		case m := <-msgs:
			watchdog.Reset(3 * heartbeat)
			switch m.Op {
			case opHello:
				var hello struct {
					HeartbeatInterval int64  `json:"heartbeat_interval"`
					SessionID         string `json:"session_id"`
				}
				if err := json.Unmarshal(m.D, &hello); err != nil {
					return fmt.Errorf("seventv: hello: %w", err)
				}
				if hello.HeartbeatInterval > 0 {
					heartbeat = time.Duration(hello.HeartbeatInterval) * time.Millisecond
					watchdog.Reset(3 * heartbeat)
				}
				c.setSession(hello.SessionID, true)
				c.observe("connect")
				for _, sub := range c.subscriptions() {
					if err := send(opSubscribe, sub); err != nil {
						return fmt.Errorf("seventv: subscribe: %w", err)
					}
				}
				if c.cfg.Handler != nil {
					c.cfg.Handler.Presence(hello.SessionID)
				}
			case opHeartbeat, opAck:
			case opReconnect:
				return errReconnect
			case opError, opEndOfStream:
				return fmt.Errorf("seventv: server closed session: %s", strings.TrimSpace(string(m.D)))
			case opDispatch:
				c.observe("message")
				c.dispatch(m.D)
			}
		}
	}
}

type dispatchBody struct {
	Type string `json:"type"`
	Body struct {
		ID      string          `json:"id"`
		Object  json.RawMessage `json:"object"`
		Pushed  []change        `json:"pushed"`
		Pulled  []change        `json:"pulled"`
		Updated []change        `json:"updated"`
	} `json:"body"`
}

type change struct {
	Key      string `json:"key"`
	Value    *Emote `json:"value"`
	OldValue *Emote `json:"old_value"`
}

type cosmeticObject struct {
	ID   string          `json:"id"`
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type entitlementObject struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	RefID string `json:"ref_id"`
	User  struct {
		ID          string `json:"id"`
		Connections []struct {
			ID       string `json:"id"`
			Platform string `json:"platform"`
		} `json:"connections"`
	} `json:"user"`
}

func (c *EventClient) dispatch(raw json.RawMessage) {
	h := c.cfg.Handler
	if h == nil {
		return
	}
	var d dispatchBody
	if err := json.Unmarshal(raw, &d); err != nil {
		slog.Debug("seventv: bad dispatch", "err", err)
		return
	}
	switch d.Type {
	case "cosmetic.create":
		var obj cosmeticObject
		if err := json.Unmarshal(d.Body.Object, &obj); err != nil {
			slog.Debug("seventv: bad cosmetic", "err", err)
			return
		}
		switch obj.Kind {
		case "PAINT":
			if p, err := parsePaint(obj); err == nil {
				h.Paint(p)
			}
		case "BADGE":
			if b, err := parseBadge(obj); err == nil {
				h.Badge(b)
			}
		}

	case "entitlement.create":
		var obj entitlementObject
		if err := json.Unmarshal(d.Body.Object, &obj); err != nil {
			slog.Debug("seventv: bad entitlement", "err", err)
			return
		}
		userID := ""
		for _, conn := range obj.User.Connections {
			if strings.EqualFold(conn.Platform, "TWITCH") {
				userID = conn.ID
				break
			}
		}
		if userID == "" || obj.RefID == "" {
			return
		}
		switch obj.Kind {
		case "PAINT":
			h.UserPaint(userID, obj.RefID)
		case "BADGE":
			h.UserBadge(userID, obj.RefID)
		case "EMOTE_SET":
			c.WatchEmoteSet(obj.RefID)
			h.UserEmoteSet(userID, obj.RefID)
		}

	case "emote_set.update":
		var removed []string
		var added []core.Emote
		for _, ch := range d.Body.Pulled {
			if ch.Key == "emotes" && ch.OldValue != nil {
				removed = append(removed, ch.OldValue.Core(d.Body.ID).Name)
			}
		}
		for _, ch := range d.Body.Updated {
			if ch.Key != "emotes" {
				continue
			}
			if ch.OldValue != nil {
				removed = append(removed, ch.OldValue.Core(d.Body.ID).Name)
			}
			if ch.Value != nil {
				added = append(added, ch.Value.Core(d.Body.ID))
			}
		}
		for _, ch := range d.Body.Pushed {
			if ch.Key == "emotes" && ch.Value != nil {
				added = append(added, ch.Value.Core(d.Body.ID))
			}
		}
		if len(removed) > 0 || len(added) > 0 {
			h.EmoteSetUpdate(d.Body.ID, removed, added)
		}
	}
}

type paintData struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Color    *int64 `json:"color"`
	Function string `json:"function"`
	Angle    int    `json:"angle"`
	Repeat   bool   `json:"repeat"`
	ImageURL string `json:"image_url"`
	Stops    []struct {
		At    float64 `json:"at"`
		Color int64   `json:"color"`
	} `json:"stops"`
	Shadows []struct {
		X      float64 `json:"x_offset"`
		Y      float64 `json:"y_offset"`
		Radius float64 `json:"radius"`
		Color  int64   `json:"color"`
	} `json:"shadows"`
}

func parsePaint(obj cosmeticObject) (core.Paint, error) {
	var d paintData
	if err := json.Unmarshal(obj.Data, &d); err != nil {
		return core.Paint{}, err
	}
	id := d.ID
	if id == "" {
		id = obj.ID
	}
	p := core.Paint{
		ID:       id,
		Name:     d.Name,
		Function: d.Function,
		Color:    d.Color,
		Angle:    d.Angle,
		Repeat:   d.Repeat,
		ImageURL: d.ImageURL,
	}
	for _, s := range d.Stops {
		p.Stops = append(p.Stops, core.PaintStop{At: s.At, Color: s.Color})
	}
	for _, s := range d.Shadows {
		p.Shadows = append(p.Shadows, core.PaintShade{X: s.X, Y: s.Y, Radius: s.Radius, Color: s.Color})
	}
	return p, nil
}

func parseBadge(obj cosmeticObject) (core.CosmeticBadge, error) {
	var d struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Tooltip string `json:"tooltip"`
		Host    Host   `json:"host"`
	}
	if err := json.Unmarshal(obj.Data, &d); err != nil {
		return core.CosmeticBadge{}, err
	}
	id := d.ID
	if id == "" {
		id = obj.ID
	}
	return core.CosmeticBadge{ID: id, Name: d.Name, Tooltip: d.Tooltip, Images: d.Host.Images()}, nil
}
