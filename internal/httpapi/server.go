package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/you/chatcore/internal/chat"
	"github.com/you/chatcore/internal/core"
	"github.com/you/chatcore/internal/emotes"
	"github.com/you/chatcore/internal/sink"
)

// Session is the read side of a chat session exposed over HTTP.
type Session interface {
	Sink() *sink.Sink
	Channel() chat.Channel
	Kind() chat.TransportKind
	IsActive() *bool
	NeedsRefresh() bool
	RoomState() core.RoomState
	Raid() *core.Raid
	RaidClosed() bool
	HideRaid() bool
	Poll() *core.Poll
	Prediction() *core.Prediction
	Chatters() []core.Chatter
	Catalog() *emotes.Catalog
}

// Archive answers historical queries. It is optional.
type Archive interface {
	Count(ctx context.Context, q sink.Query) (int64, error)
	List(ctx context.Context, q sink.Query) ([]sink.Record, error)
}

type Options struct {
	Addr            string
	CORSOrigins     []string
	RateLimitRPS    int
	RateLimitBurst  int
	EnableMetrics   bool
	EnableAccessLog bool
	EnablePprof     bool
	Build           BuildInfo
	// ConfigSnapshot is served verbatim on /config; it must already be redacted.
	ConfigSnapshot  []byte
	Metrics         *Metrics
	Archive         Archive
}

type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	session    Session
	opts       Options

	metrics *Metrics
	limiter *ipRateLimiter
	cors    *corsPolicy

	mu      sync.Mutex
	streams map[chan struct{}]struct{}
	closed  bool
}

func New(session Session, opts Options) *Server {
	srv := &Server{
		session: session,
		opts:    opts,
		metrics: opts.Metrics,
		limiter: newIPRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		cors:    newCORSPolicy(opts.CORSOrigins),
		streams: make(map[chan struct{}]struct{}),
	}
	if opts.EnableMetrics && srv.metrics == nil {
		srv.metrics = NewMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	mux.HandleFunc("GET /info", srv.handleInfo)
	mux.HandleFunc("GET /config", srv.handleConfig)
	mux.HandleFunc("GET /messages", srv.handleMessages)
	mux.HandleFunc("GET /archive", srv.handleArchive)
	mux.HandleFunc("GET /archive/count", srv.handleArchiveCount)
	mux.HandleFunc("GET /stream", srv.handleStream)
	mux.HandleFunc("GET /state", srv.handleState)
	mux.HandleFunc("GET /emotes", srv.handleEmotes)
	mux.HandleFunc("GET /chatters", srv.handleChatters)
	if opts.EnableMetrics {
		mux.Handle("GET /metrics", srv.metrics.Handler())
	}
	if opts.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	srv.mux = mux

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           srv.wrap(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

// Mux exposes the router so other packages can register routes.
func (s *Server) Mux() *http.ServeMux { return s.mux }

// Handler is the fully wrapped root handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// wireEntry tags an entry with its variant so clients can decode it.
type wireEntry struct {
	Kind  string     `json:"kind"`
	Entry core.Entry `json:"entry"`
}

func encodeEntries(entries []core.Entry) []wireEntry {
	out := make([]wireEntry, len(entries))
	for i, e := range entries {
		out[i] = wireEntry{Kind: e.Kind().String(), Entry: e}
	}
	return out
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	if len(s.opts.ConfigSnapshot) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(s.opts.ConfigSnapshot)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries := filters.Apply(s.session.Sink().Snapshot())
	writeJSON(w, http.StatusOK, encodeEntries(entries))
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.opts.Archive == nil {
		writeError(w, http.StatusNotFound, "archive disabled")
		return
	}
	filters, err := FiltersFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.opts.Archive.List(r.Context(), filters.Query())
	if err != nil {
		slog.Warn("httpapi: archive list failed", "err", err)
		writeError(w, http.StatusInternalServerError, "list error")
		return
	}
	if rows == nil {
		rows = []sink.Record{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleArchiveCount(w http.ResponseWriter, r *http.Request) {
	if s.opts.Archive == nil {
		writeError(w, http.StatusNotFound, "archive disabled")
		return
	}
	filters, err := FiltersFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	count, err := s.opts.Archive.Count(r.Context(), filters.Query())
	if err != nil {
		slog.Warn("httpapi: archive count failed", "err", err)
		writeError(w, http.StatusInternalServerError, "count error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

type stateResponse struct {
	Channel      chat.Channel     `json:"channel"`
	Transport    string           `json:"transport,omitempty"`
	Active       *bool            `json:"active"`
	NeedsRefresh bool             `json:"needs_refresh"`
	Entries      int              `json:"entries"`
	Limit        int              `json:"limit"`
	RoomState    core.RoomState   `json:"room_state"`
	Raid         *core.Raid       `json:"raid,omitempty"`
	Poll         *core.Poll       `json:"poll,omitempty"`
	Prediction   *core.Prediction `json:"prediction,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	snk := s.session.Sink()
	resp := stateResponse{
		Channel:      s.session.Channel(),
		Transport:    string(s.session.Kind()),
		Active:       s.session.IsActive(),
		NeedsRefresh: s.session.NeedsRefresh(),
		Entries:      snk.Len(),
		Limit:        snk.Limit(),
		RoomState:    s.session.RoomState(),
		Poll:         s.session.Poll(),
		Prediction:   s.session.Prediction(),
	}
	if !s.session.RaidClosed() && !s.session.HideRaid() {
		resp.Raid = s.session.Raid()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEmotes(w http.ResponseWriter, r *http.Request) {
	catalog := s.session.Catalog()
	var list []core.Emote
	switch r.URL.Query().Get("scope") {
	case "", "autocomplete":
		list = catalog.Autocomplete()
	case "recent":
		list = catalog.RecentEmotes()
	case "user":
		list = catalog.UserEmotes()
	default:
		writeError(w, http.StatusBadRequest, "scope must be autocomplete, recent or user")
		return
	}
	if list == nil {
		list = []core.Emote{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleChatters(w http.ResponseWriter, _ *http.Request) {
	list := s.session.Chatters()
	if list == nil {
		list = []core.Chatter{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}
	filters, err := FiltersFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filters = filters.CloneForStream()

	done := make(chan struct{})
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.streams[done] = struct{}{}
	s.mu.Unlock()
	s.metrics.IncSSEClients(1)

	changes, cancel := s.session.Sink().Subscribe(256)
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.streams, done)
		s.mu.Unlock()
		s.metrics.IncSSEClients(-1)
	}()

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, ":ok\n\n")
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			fmt.Fprintf(w, ":ping\n\n")
			flusher.Flush()
		case change, ok := <-changes:
			if !ok {
				return
			}
			if !writeChange(w, change, filters) {
				continue
			}
			flusher.Flush()
		}
	}
}

type streamEvent struct {
	Entries []wireEntry `json:"entries,omitempty"`
	Evicted int         `json:"evicted,omitempty"`
}

// writeChange emits one SSE event per sink change. Append and prepend
// changes are filtered; structural changes always go out.
func writeChange(w http.ResponseWriter, c sink.Change, f Filters) bool {
	entries := c.Entries
	switch c.Kind {
	case sink.ChangeAppend, sink.ChangePrepend:
		kept := entries[:0:0]
		for _, e := range entries {
			if f.Matches(e) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 && c.Evicted == 0 {
			return false
		}
		entries = kept
	}
	data, err := json.Marshal(streamEvent{Entries: encodeEntries(entries), Evicted: c.Evicted})
	if err != nil {
		return false
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", c.Kind, data)
	return true
}

func (s *Server) Start() error {
	slog.Info("httpapi: listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

// Shutdown ends every open stream and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for ch := range s.streams {
		close(ch)
	}
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}
