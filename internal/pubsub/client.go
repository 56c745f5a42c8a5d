// Package pubsub listens to channel-points, raid, poll, prediction and
// playback topics over the legacy pubsub websocket.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/you/chatcore/internal/core"
)

const DefaultURL = "wss://pubsub-edge.twitch.tv"

const (
	pingInterval = 4 * time.Minute
	pongTimeout  = 10 * time.Second
	maxBackoff   = 60 * time.Second
)

var (
	errPongTimeout = errors.New("pubsub: pong timeout")
	errReconnect   = errors.New("pubsub: reconnect requested")
)

type Config struct {
	URL       string
	ChannelID string
	// UserID and Token enable the per-user points topic.
	UserID  string
	Token   string
	Handler Handler
	Metrics core.TransportObserver
	// PingInterval overrides the keepalive period.
	PingInterval time.Duration
}

// Topics lists the subscriptions for cfg.
func Topics(cfg Config) []string {
	topics := []string{
		"video-playback-by-id." + cfg.ChannelID,
		"community-points-channel-v1." + cfg.ChannelID,
		"raid." + cfg.ChannelID,
		"polls." + cfg.ChannelID,
		"predictions-channel-v1." + cfg.ChannelID,
	}
	if cfg.UserID != "" && cfg.Token != "" {
		topics = append(topics, "community-points-user-v1."+cfg.UserID)
	}
	return topics
}

type Client struct {
	cfg Config

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool
}

func New(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = pingInterval
	}
	return &Client{cfg: cfg}
}

// Connect starts the listen loop and returns immediately.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	go func() {
		defer close(done)
		c.run(ctx)
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

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) observe(event string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ObserveTransport("pubsub", event)
	}
}

func (c *Client) run(ctx context.Context) {
	defer c.setConnected(false)
	backoff := time.Second
	for {
		err := c.session(ctx)
		c.setConnected(false)
		if ctx.Err() != nil {
			return
		}
		c.observe("disconnect")
		if errors.Is(err, errReconnect) {
			backoff = time.Second
		}
		slog.Warn("pubsub: disconnected", "channel", c.cfg.ChannelID, "err", err, "retry_in", backoff)
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

func (c *Client) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("pubsub: dial: %w", err)
	}
	defer ws.Close()

	listen := listenFrame{Type: "LISTEN", Nonce: uuid.NewString()}
	listen.Data.Topics = Topics(c.cfg)
	listen.Data.AuthToken = c.cfg.Token
	if err := ws.WriteJSON(listen); err != nil {
		return fmt.Errorf("pubsub: listen: %w", err)
	}
	c.setConnected(true)
	c.observe("connect")

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	frames := make(chan frame, 32)
	readErr := make(chan error, 1)
	go readFrames(sessCtx, ws.ReadMessage, frames, readErr)

	// Jitter keeps many clients from pinging in lockstep.
	ping := time.NewTimer(c.cfg.PingInterval + time.Duration(rand.IntN(1000))*time.Millisecond)
	defer ping.Stop()
	var pongDeadline <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return ctx.Err()
		case err := <-readErr:
			return fmt.Errorf("pubsub: read: %w", err)
		case <-ping.C:
			if err := ws.WriteJSON(frame{Type: "PING"}); err != nil {
				return fmt.Errorf("pubsub: ping: %w", err)
			}
			pongDeadline = time.After(pongTimeout)
		case <-pongDeadline:
			return errPongTimeout
		case f := <-frames:
			switch f.Type {
			case "PONG":
				pongDeadline = nil
				ping.Reset(c.cfg.PingInterval)
			case "RECONNECT":
				return errReconnect
			case "RESPONSE":
				if f.Error != "" {
					slog.Warn("pubsub: listen rejected", "nonce", f.Nonce, "err", f.Error)
				}
			case "MESSAGE":
				if f.Data == nil || c.cfg.Handler == nil {
					continue
				}
				c.observe("message")
				if err := dispatch(c.cfg.Handler, f.Data.Topic, f.Data.Message); err != nil {
					slog.Debug("pubsub: bad message", "topic", f.Data.Topic, "err", err)
				}
			}
		}
	}
}

// readFrames decodes frames until read fails or ctx ends. ctx must end when
// the session returns so the reader never blocks on frames afterwards.
func readFrames(ctx context.Context, read func() (int, []byte, error), frames chan<- frame, readErr chan<- error) {
	for {
		var f frame
		_, data, err := read()
		if err != nil {
			readErr <- err
			return
		}
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Debug("pubsub: undecodable frame", "err", err)
			continue
		}
		select {
		case frames <- f:
		case <-ctx.Done():
			return
		}
	}
}
