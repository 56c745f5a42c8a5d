package twitchirc

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// lineConn is one established IRC session carrying CRLF-terminated lines.
type lineConn interface {
	ReadLines(ctx context.Context) ([]string, error)
	WriteLine(ctx context.Context, line string) error
	Close() error
}

type dialFunc func(ctx context.Context, cfg Config) (lineConn, error)

const (
	defaultHost    = "irc.chat.twitch.tv"
	defaultWSHost  = "irc-ws.chat.twitch.tv"
	dialTimeout    = 10 * time.Second
	wsReadLimit    = 1 << 20
	wsWriteTimeout = 10 * time.Second
)

type tcpConn struct {
	conn net.Conn
	r    *bufio.Reader

	wmu sync.Mutex
	w   *bufio.Writer
}

func dialTCP(ctx context.Context, cfg Config) (lineConn, error) {
	addr := defaultHost + ":6667"
	if cfg.UseTLS {
		addr = defaultHost + ":6697"
	}
	if strings.TrimSpace(cfg.Addr) != "" {
		addr = strings.TrimSpace(cfg.Addr)
	}

	d := &net.Dialer{Timeout: dialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if cfg.UseTLS {
		td := &tls.Dialer{NetDialer: d, Config: &tls.Config{ServerName: defaultHost}}
		conn, err = td.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &tcpConn{conn: conn, r: bufio.NewReader(conn), w: bufio.NewWriter(conn)}, nil
}

func (c *tcpConn) ReadLines(context.Context) ([]string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []string{strings.TrimRight(line, "\r\n")}, nil
}

func (c *tcpConn) WriteLine(_ context.Context, line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.WriteString(line + "\r\n"); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *tcpConn) Close() error { return c.conn.Close() }

// wsConn carries IRC over websocket frames; one frame may hold several lines.
type wsConn struct {
	c *websocket.Conn
}

func dialWebSocket(ctx context.Context, cfg Config) (lineConn, error) {
	url := "wss://" + defaultWSHost + ":443"
	if !cfg.UseTLS {
		url = "ws://" + defaultWSHost + ":80"
	}
	if strings.TrimSpace(cfg.Addr) != "" {
		url = strings.TrimSpace(cfg.Addr)
	}
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	c, _, err := websocket.Dial(dctx, url, &websocket.DialOptions{Subprotocols: []string{"irc"}})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c.SetReadLimit(wsReadLimit)
	return &wsConn{c: c}, nil
}

func (w *wsConn) ReadLines(ctx context.Context) ([]string, error) {
	_, data, err := w.c.Read(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, l := range strings.Split(string(data), "\n") {
		l = strings.TrimRight(l, "\r")
		if l != "" {
			out = append(out, l)
		}
	}
	return out, nil
}

func (w *wsConn) WriteLine(ctx context.Context, line string) error {
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return w.c.Write(wctx, websocket.MessageText, []byte(line))
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}
