package twitchirc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/you/chatcore/internal/core"
)

// Role selects which events a connection forwards.
type Role int

const (
	// Reader forwards chat, clears, notices and room state.
	Reader Role = iota
	// Writer sends messages and forwards notices and user-state acks.
	Writer
)

type Config struct {
	Channel string
	// Login and Token authenticate the connection. Readers connect
	// anonymously when Login is empty.
	Login  string
	Token  string
	UseTLS bool
	// Addr overrides the server address (host:port or ws URL).
	Addr    string
	Metrics core.TransportObserver
}

var (
	errAuthFailed   = errors.New("twitchirc: authentication failed")
	errNotConnected = errors.New("twitchirc: not connected")
	errPingTimeout  = errors.New("twitchirc: ping timeout")
)

const (
	pingInterval = 4 * time.Minute
	maxBackoff   = 60 * time.Second
	outboxSize   = 16
)

// Client is a line-protocol chat connection over TCP or websocket frames. It
// reconnects with exponential backoff until Disconnect is called.
type Client struct {
	cfg  Config
	role Role
	name string
	dial dialFunc

	mu        sync.Mutex
	cancel    context.CancelFunc
	connected bool
	outbox    chan string
	done      chan struct{}
}

// NewTCP returns a client using the plain socket protocol.
func NewTCP(cfg Config, role Role) *Client {
	return newClient(cfg, role, "irc", dialTCP)
}

// NewWebSocket returns a client using websocket framing.
func NewWebSocket(cfg Config, role Role) *Client {
	return newClient(cfg, role, "irc-ws", dialWebSocket)
}

func newClient(cfg Config, role Role, name string, dial dialFunc) *Client {
	cfg.Channel = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cfg.Channel), "#"))
	cfg.Token = strings.TrimPrefix(strings.TrimSpace(cfg.Token), "oauth:")
	if role == Writer {
		name += "-write"
	}
	return &Client{cfg: cfg, role: role, name: name, dial: dial}
}

// Connect starts the connection loop and returns immediately. Events are
// delivered on events until ctx is done or Disconnect is called.
func (c *Client) Connect(ctx context.Context, events chan<- core.Event) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.outbox = make(chan string, outboxSize)
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(ctx, events)
	}()
}

// Disconnect stops the loop and waits for it to exit.
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

// IsActive reports whether a server session is currently established.
func (c *Client) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send queues a chat message. replyID threads it under another message.
func (c *Client) Send(ctx context.Context, text, replyID string) error {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if text == "" {
		return nil
	}
	line := "PRIVMSG #" + c.cfg.Channel + " :" + text
	if replyID != "" {
		line = "@reply-parent-msg-id=" + replyID + " " + line
	}
	c.mu.Lock()
	outbox, ok := c.outbox, c.connected
	c.mu.Unlock()
	if !ok {
		return errNotConnected
	}
	select {
	case outbox <- line:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) emit(ctx context.Context, events chan<- core.Event, ev core.Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func (c *Client) observe(event string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ObserveTransport(c.name, event)
	}
}

func (c *Client) run(ctx context.Context, events chan<- core.Event) {
	defer c.setConnected(false)
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		err := c.runOnce(ctx, events)
		c.setConnected(false)
		if ctx.Err() != nil {
			return
		}
		c.observe("disconnect")
		if err == nil {
			err = errors.New("connection closed")
		}
		slog.Warn("twitchirc: disconnected", "transport", c.name, "channel", c.cfg.Channel, "err", err, "retry_in", backoff)
		if c.role == Writer {
			c.emit(ctx, events, core.SendError{Err: err})
		} else {
			c.emit(ctx, events, core.Disconnected{Err: err})
		}
		if errors.Is(err, errAuthFailed) {
			return
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

func (c *Client) credentials() (nick, pass string) {
	if c.cfg.Login != "" && c.cfg.Token != "" {
		return strings.ToLower(c.cfg.Login), "oauth:" + c.cfg.Token
	}
	return "justinfan" + strconv.Itoa(1000+rand.IntN(89000)), "SCHMOOPIIE"
}

func (c *Client) runOnce(ctx context.Context, events chan<- core.Event) error {
	if c.cfg.Channel == "" {
		return errors.New("twitchirc: channel is required")
	}
	conn, err := c.dial(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	nick, pass := c.credentials()
	for _, line := range []string{
		"CAP REQ :twitch.tv/tags twitch.tv/commands",
		"PASS " + pass,
		"NICK " + nick,
		"JOIN #" + c.cfg.Channel,
	} {
		if err := conn.WriteLine(cctx, line); err != nil {
			return fmt.Errorf("send %s: %w", strings.Fields(line)[0], err)
		}
	}
	slog.Info("twitchirc: joined", "transport", c.name, "channel", c.cfg.Channel, "nick", nick)
	c.setConnected(true)
	c.observe("connect")
	if c.role == Reader {
		c.emit(ctx, events, core.Connected{})
	}

	lines := make(chan string, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			batch, err := conn.ReadLines(cctx)
			if err != nil {
				readErr <- err
				return
			}
			for _, l := range batch {
				select {
				case lines <- l:
				case <-cctx.Done():
					return
				}
			}
		}
	}()

	drops := newDropLogger(time.Now(), readDropDebugEnv(), dropSummaryInterval)
	defer drops.flush(time.Now())
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	lastRecv := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return fmt.Errorf("read: %w", err)
		case out := <-c.outbox:
			if err := conn.WriteLine(cctx, out); err != nil {
				c.emit(ctx, events, core.SendError{Err: err})
				return fmt.Errorf("write: %w", err)
			}
			c.observe("send")
		case now := <-ping.C:
			if now.Sub(lastRecv) > 2*pingInterval {
				return errPingTimeout
			}
			if err := conn.WriteLine(cctx, "PING :tmi.twitch.tv"); err != nil {
				return fmt.Errorf("send PING: %w", err)
			}
		case line := <-lines:
			lastRecv = time.Now()
			if line == "" {
				continue
			}
			if err := c.handleLine(ctx, conn, line, events, drops); err != nil {
				return err
			}
		}
	}
}

func (c *Client) handleLine(ctx context.Context, conn lineConn, line string, events chan<- core.Event, drops *dropLogger) error {
	now := time.Now()
	m, ok := Tokenize(line)
	if !ok {
		drops.note(now, "unparsed", line)
		return nil
	}
	switch m.Command {
	case "PING":
		return conn.WriteLine(ctx, "PONG :"+m.Trailing)
	case "PONG", "CAP", "JOIN", "PART":
		return nil
	case "RECONNECT":
		return errors.New("server requested reconnect")
	case "NOTICE":
		if authFailure(m.Trailing) {
			return errAuthFailed
		}
	}

	if ch := m.Channel(); ch != "" && !strings.EqualFold(ch, c.cfg.Channel) {
		drops.note(now, "other_channel", line)
		return nil
	}
	if !c.forwards(m.Command) {
		drops.note(now, "ignored", line)
		return nil
	}
	ev, ok := Translate(m)
	if !ok {
		drops.note(now, "ignored", line)
		return nil
	}
	c.observe(strings.ToLower(m.Command))
	c.emit(ctx, events, ev)
	return nil
}

func (c *Client) forwards(command string) bool {
	if c.role == Writer {
		return command == "NOTICE" || command == "USERSTATE" || command == "GLOBALUSERSTATE"
	}
	switch command {
	case "PRIVMSG", "USERNOTICE", "CLEARMSG", "CLEARCHAT", "NOTICE", "ROOMSTATE":
		return true
	}
	return false
}
