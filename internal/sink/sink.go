package sink

import (
	"log/slog"
	"sync"

	"github.com/you/chatcore/internal/core"
	"github.com/you/chatcore/internal/ingesttrace"
)

const DefaultLimit = 600

type ChangeKind int

const (
	ChangeAppend ChangeKind = iota
	ChangePrepend
	ChangeReplace
	ChangeClear
	// ChangeRefresh asks consumers to re-render without a content change,
	// e.g. after emote sets were updated.
	ChangeRefresh
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAppend:
		return "append"
	case ChangePrepend:
		return "prepend"
	case ChangeReplace:
		return "replace"
	case ChangeClear:
		return "clear"
	case ChangeRefresh:
		return "refresh"
	}
	return "unknown"
}

// Change is delivered to subscribers after every mutation.
type Change struct {
	Kind    ChangeKind
	Entries []core.Entry
	Evicted int
}

// Observer receives sink activity counters. Implementations must be nil-safe.
type Observer interface {
	ObserveSink(op string, n int)
}

type Options struct {
	Limit   int
	Archive Writer
	Metrics Observer
}

// Sink is the ordered, bounded message buffer shared by all producers.
// Entries are kept in arrival order; the oldest are evicted past the limit.
type Sink struct {
	mu      sync.RWMutex
	entries []core.Entry
	limit   int

	subMu   sync.Mutex
	subs    map[uint64]chan Change
	nextSub uint64

	archive Writer
	metrics Observer
}

func New(opts Options) *Sink {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Sink{
		limit:   limit,
		subs:    make(map[uint64]chan Change),
		archive: opts.Archive,
		metrics: opts.Metrics,
	}
}

// SetLimit changes the capacity, evicting immediately if needed.
func (s *Sink) SetLimit(limit int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s.mu.Lock()
	s.limit = limit
	evicted := s.evictLocked()
	s.mu.Unlock()
	if evicted > 0 {
		s.observe("evict", evicted)
	}
}

func (s *Sink) Limit() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limit
}

func (s *Sink) Append(entries ...core.Entry) {
	s.AppendTraced(nil, entries...)
}

// AppendTraced appends entries and forwards them to the archive with trace.
func (s *Sink) AppendTraced(trace *ingesttrace.MessageTrace, entries ...core.Entry) {
	if len(entries) == 0 {
		return
	}
	s.mu.Lock()
	s.entries = append(s.entries, entries...)
	evicted := s.evictLocked()
	s.publish(Change{Kind: ChangeAppend, Entries: entries, Evicted: evicted})
	s.mu.Unlock()

	s.observe("append", len(entries))
	if evicted > 0 {
		s.observe("evict", evicted)
	}

	if trace != nil {
		trace.IncCounter(ingesttrace.StageEmitted)
	}
	if s.archive != nil {
		for _, e := range entries {
			if err := s.archive.Write(e, trace); err != nil {
				slog.Warn("sink: archive write failed", "err", err)
			}
		}
	}
}

// Prepend inserts history ahead of the live entries.
func (s *Sink) Prepend(entries []core.Entry) {
	if len(entries) == 0 {
		return
	}
	s.mu.Lock()
	merged := make([]core.Entry, 0, len(entries)+len(s.entries))
	merged = append(merged, entries...)
	merged = append(merged, s.entries...)
	s.entries = merged
	evicted := s.evictLocked()
	s.publish(Change{Kind: ChangePrepend, Entries: entries, Evicted: evicted})
	s.mu.Unlock()

	s.observe("prepend", len(entries))
}

// Replace swaps the whole content.
func (s *Sink) Replace(entries []core.Entry) {
	s.mu.Lock()
	s.entries = append([]core.Entry(nil), entries...)
	evicted := s.evictLocked()
	s.publish(Change{Kind: ChangeReplace, Entries: append([]core.Entry(nil), entries...), Evicted: evicted})
	s.mu.Unlock()

	s.observe("replace", len(entries))
}

func (s *Sink) Clear() {
	s.mu.Lock()
	n := len(s.entries)
	s.entries = nil
	s.publish(Change{Kind: ChangeClear})
	s.mu.Unlock()

	s.observe("clear", n)
}

func (s *Sink) Refresh() {
	s.mu.Lock()
	s.publish(Change{Kind: ChangeRefresh})
	s.mu.Unlock()
}

func (s *Sink) Snapshot() []core.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Entry(nil), s.entries...)
}

func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Find returns the most recent entry with id.
func (s *Sink) Find(id string) (core.Entry, bool) {
	if id == "" {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Meta().ID == id {
			return s.entries[i], true
		}
	}
	return nil, false
}

// FindChat returns the most recent chat message with id.
func (s *Sink) FindChat(id string) (*core.ChatMessage, bool) {
	e, ok := s.Find(id)
	if !ok {
		return nil, false
	}
	msg, ok := e.(core.ChatMessage)
	if !ok {
		return nil, false
	}
	return &msg, true
}

// Subscribe registers a change listener. Changes arrive in the order they were
// applied. Deliveries never block producers; a full buffer drops the change
// for that subscriber.
func (s *Sink) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Change, buffer)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// publish runs under mu so subscribers see changes in Snapshot order.
func (s *Sink) publish(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
			s.observe("drop", 1)
		}
	}
}

func (s *Sink) evictLocked() int {
	over := len(s.entries) - s.limit
	if over <= 0 {
		return 0
	}
	// Reslice; append reallocates with only the live entries once the
	// backing array runs out.
	clear(s.entries[:over])
	s.entries = s.entries[over:]
	return over
}

func (s *Sink) observe(op string, n int) {
	if s.metrics != nil {
		s.metrics.ObserveSink(op, n)
	}
}
