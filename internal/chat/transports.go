package chat

import (
	"context"

	"github.com/you/chatcore/internal/core"
	"github.com/you/chatcore/internal/eventsub"
	"github.com/you/chatcore/internal/twitchirc"
)

type TransportKind string

const (
	KindIRC       TransportKind = "irc"
	KindWebSocket TransportKind = "websocket"
	KindEventSub  TransportKind = "eventsub"
)

// Transport is a live chat connection. Connect returns immediately and
// delivers events until ctx is done or Disconnect is called.
type Transport interface {
	Connect(ctx context.Context, events chan<- core.Event)
	Disconnect()
	IsActive() bool
}

// Writer is the write companion of a read transport.
type Writer interface {
	Transport
	Send(ctx context.Context, text, replyID string) error
}

type TransportConfig struct {
	Kind    TransportKind
	Channel Channel
	Account Account
	// Write asks for the write companion instead of the reader.
	Write bool
}

// Transports builds connections per kind. A nil factory disables that kind.
type Transports struct {
	IRC       func(TransportConfig) Transport
	WebSocket func(TransportConfig) Transport
	EventSub  func(TransportConfig) Transport
}

func (t Transports) factory(kind TransportKind) func(TransportConfig) Transport {
	switch kind {
	case KindEventSub:
		return t.EventSub
	case KindWebSocket:
		return t.WebSocket
	}
	return t.IRC
}

type TwitchOptions struct {
	TLS bool
	// IRCAddr and WSAddr override the chat server addresses.
	IRCAddr  string
	WSAddr   string
	EventSub eventsub.Config
	Metrics  core.TransportObserver
}

// TwitchTransports wires the line-protocol, framed websocket and EventSub
// clients. EventSub is left nil when opts.EventSub has no subscriber.
func TwitchTransports(opts TwitchOptions) Transports {
	irc := func(addr string, dial func(twitchirc.Config, twitchirc.Role) *twitchirc.Client) func(TransportConfig) Transport {
		return func(tc TransportConfig) Transport {
			cfg := twitchirc.Config{
				Channel: tc.Channel.Login,
				UseTLS:  opts.TLS,
				Addr:    addr,
				Metrics: opts.Metrics,
			}
			role := twitchirc.Reader
			if tc.Write {
				role = twitchirc.Writer
			}
			if tc.Write || tc.Account.LoggedIn() {
				cfg.Login, cfg.Token = tc.Account.Login, tc.Account.ChatToken
			}
			return dial(cfg, role)
		}
	}
	t := Transports{
		IRC:       irc(opts.IRCAddr, twitchirc.NewTCP),
		WebSocket: irc(opts.WSAddr, twitchirc.NewWebSocket),
	}
	if opts.EventSub.Subscriber != nil {
		t.EventSub = func(tc TransportConfig) Transport {
			cfg := opts.EventSub
			cfg.ChannelID = tc.Channel.ID
			cfg.UserID = tc.Account.ID
			if cfg.Metrics == nil {
				cfg.Metrics = opts.Metrics
			}
			return eventsub.New(cfg)
		}
	}
	return t
}
