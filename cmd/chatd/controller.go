package main

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/you/chatcore/internal/chat"
	"github.com/you/chatcore/internal/logging"
)

// controller adapts the session to the admin routes.
type controller struct {
	// ctx outlives admin requests; resumed connections are bound to it.
	ctx     context.Context
	session *chat.Session
	logger  *logging.Logger
}

func (c *controller) ReloadEmotes(ctx context.Context) error {
	ch := c.session.Channel()
	if ch.Login == "" {
		return errors.New("no channel joined")
	}
	c.session.Catalog().Reload(ctx, ch.ID, ch.Login)
	return nil
}

func (c *controller) Disconnect() { c.session.Disconnect() }

func (c *controller) Resume() { c.session.ResumeLive(c.ctx) }

func (c *controller) Send(ctx context.Context, text, replyID string) error {
	return c.session.Send(ctx, text, replyID)
}

func (c *controller) SetLogLevel(level string) error {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return errors.Errorf("unknown log level %q", level)
	}
	c.logger.SetLevel(level)
	return nil
}
