package eventsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/you/chatcore/internal/core"
)

const (
	DefaultURL = "wss://eventsub.wss.twitch.tv/ws"

	handshakeTimeout = 10 * time.Second
	defaultKeepalive = 10 * time.Second
	maxBackoff       = 60 * time.Second
)

// Subscriber creates one websocket-transport subscription for sessionID.
type Subscriber interface {
	CreateEventSubSubscription(ctx context.Context, eventType, version string, condition map[string]string, sessionID string) error
}

type Config struct {
	URL        string
	ChannelID  string
	UserID     string
	Subscriber Subscriber
	Metrics    core.TransportObserver
}

// Subscriptions created after each session_welcome.
var Subscriptions = []string{
	"channel.chat.clear",
	"channel.chat.message",
	"channel.chat.notification",
	"channel.chat_settings.update",
	"channel.chat.message_delete",
	"channel.chat.clear_user_messages",
}

var errReconnect = errors.New("eventsub: reconnect requested")

// Client reads chat notifications from an EventSub websocket session.
type Client struct {
	cfg Config

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool
	sessionID string
}

func New(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	return &Client{cfg: cfg}
}

// Connect starts the session loop and returns immediately.
func (c *Client) Connect(ctx context.Context, events chan<- core.Event) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(ctx, events)
	}()
}

func (c *Client) Disconnect() {
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

func (c *Client) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SessionID returns the id of the current session, or "".
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) setSession(id string, connected bool) {
	c.mu.Lock()
	c.sessionID = id
	c.connected = connected
	c.mu.Unlock()
}

func (c *Client) observe(event string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ObserveTransport("eventsub", event)
	}
}

func emit(ctx context.Context, events chan<- core.Event, ev core.Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func (c *Client) run(ctx context.Context, events chan<- core.Event) {
	defer c.setSession("", false)
	url := c.cfg.URL
	backoff := time.Second
	for {
		next, err := c.session(ctx, url, events)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errReconnect) && next != "" {
			// Subscriptions carry over to the reconnect URL.
			slog.Info("eventsub: session reconnect", "url", next)
			url = next
			c.observe("reconnect")
			continue
		}
		c.setSession("", false)
		url = c.cfg.URL
		c.observe("disconnect")
		slog.Warn("eventsub: disconnected", "err", err, "retry_in", backoff)
		emit(ctx, events, core.Disconnected{Err: err})

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

// session runs one websocket connection. It returns the reconnect URL when
// the server asked to migrate.
func (c *Client) session(ctx context.Context, url string, events chan<- core.Event) (string, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return "", fmt.Errorf("eventsub: dial: %w", err)
	}
	defer ws.Close()

	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	keepalive := defaultKeepalive
	for {
		_ = ws.SetReadDeadline(time.Now().Add(keepalive + 10*time.Second))
		_, data, err := ws.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("eventsub: read: %w", err)
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("eventsub: undecodable message", "err", err)
			continue
		}

		switch env.Metadata.MessageType {
		case "session_welcome":
			var p sessionPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return "", fmt.Errorf("eventsub: welcome: %w", err)
			}
			if p.Session.KeepaliveTimeoutSeconds > 0 {
				keepalive = time.Duration(p.Session.KeepaliveTimeoutSeconds) * time.Second
			}
			wasConnected := c.SessionID() != ""
			c.setSession(p.Session.ID, true)
			c.observe("connect")
			emit(ctx, events, core.Connected{})
			if !wasConnected {
				go c.subscribe(ctx, p.Session.ID, events)
			}
		case "session_keepalive":
		case "session_reconnect":
			var p sessionPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return "", fmt.Errorf("eventsub: reconnect: %w", err)
			}
			return p.Session.ReconnectURL, errReconnect
		case "revocation":
			var p notificationPayload
			_ = json.Unmarshal(env.Payload, &p)
			slog.Warn("eventsub: subscription revoked", "type", p.Subscription.Type)
		case "notification":
			c.observe("message")
			if ev, ok := c.translate(env); ok {
				emit(ctx, events, ev)
			}
		}
	}
}

func (c *Client) subscribe(ctx context.Context, sessionID string, events chan<- core.Event) {
	if c.cfg.Subscriber == nil {
		return
	}
	for _, typ := range Subscriptions {
		cond := map[string]string{
			"broadcaster_user_id": c.cfg.ChannelID,
			"user_id":             c.cfg.UserID,
		}
		if err := c.cfg.Subscriber.CreateEventSubSubscription(ctx, typ, "1", cond, sessionID); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("eventsub: subscribe failed", "type", typ, "err", err)
			emit(ctx, events, core.NoticeEvent{
				Header: core.Header{Timestamp: core.NowMillis()},
				Code:   "eventsub_subscribe",
				Text:   err.Error(),
			})
		}
	}
}

func (c *Client) translate(env envelope) (core.Event, bool) {
	var p notificationPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		slog.Warn("eventsub: bad notification", "err", err)
		return nil, false
	}
	h := core.Header{Timestamp: core.NowMillis()}
	if !env.Metadata.MessageTimestamp.IsZero() {
		h.Timestamp = env.Metadata.MessageTimestamp.UnixMilli()
	}

	decode := func(v any) bool {
		if err := json.Unmarshal(p.Event, v); err != nil {
			slog.Warn("eventsub: bad event", "type", p.Subscription.Type, "err", err)
			return false
		}
		return true
	}

	switch p.Subscription.Type {
	case "channel.chat.message":
		var e chatMessageEvent
		if !decode(&e) {
			return nil, false
		}
		return core.ChatEvent{Message: e.toMessage(h)}, true
	case "channel.chat.notification":
		var e notificationEvent
		if !decode(&e) {
			return nil, false
		}
		return core.UserNoticeEvent{Message: e.toMessage(h)}, true
	case "channel.chat.clear":
		return core.ClearChatEvent{Entry: core.ClearChat{Header: h}}, true
	case "channel.chat.clear_user_messages":
		var e clearUserEvent
		if !decode(&e) {
			return nil, false
		}
		return core.ClearChatEvent{Entry: core.ClearChat{Header: h, TargetUserID: e.TargetUserID, TargetLogin: e.TargetUserLogin}}, true
	case "channel.chat.message_delete":
		var e messageDeleteEvent
		if !decode(&e) {
			return nil, false
		}
		return core.ClearMsgEvent{Header: h, TargetID: e.TargetMessageID, Login: e.TargetUserLogin}, true
	case "channel.chat_settings.update":
		var e chatSettingsEvent
		if !decode(&e) {
			return nil, false
		}
		return core.RoomStateEvent{State: e.toRoomState()}, true
	}
	return nil, false
}
