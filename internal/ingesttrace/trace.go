package ingesttrace

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
)

// Stage names one step an entry passes on its way into the sink.
type Stage string

const (
	StageReceived Stage = "received"
	StagePending  Stage = "reward_pending"
	StageMerged   Stage = "reward_merged"
	StageEmitted  Stage = "emitted"
	StageArchived Stage = "archived"

	StageDroppedPrefix = "dropped_"
)

// StageDropped is the stage for an entry discarded for reason.
func StageDropped(reason string) Stage {
	return Stage(StageDroppedPrefix + reason)
}

// MessageTrace counts how often one logical message reached each stage.
type MessageTrace struct {
	Source  string
	Channel string
	User    string
	Snippet string
	TraceID string

	mu       sync.Mutex
	counters map[Stage]int64
}

// New starts a trace for a message received from source.
func New(source, channel, user, text string) *MessageTrace {
	snippet := text
	if r := []rune(snippet); len(r) > 48 {
		snippet = string(r[:48])
	}
	t := &MessageTrace{
		Source:   source,
		Channel:  channel,
		User:     user,
		Snippet:  snippet,
		TraceID:  traceID(source, channel, user, text),
		counters: map[Stage]int64{StageReceived: 1},
	}
	return t
}

func (t *MessageTrace) IncCounter(stage Stage) int64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters[stage]++
	return t.counters[stage]
}

func (t *MessageTrace) Count(stage Stage) int64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters[stage]
}

func (t *MessageTrace) LogTrace(logger *slog.Logger, msg string) {
	if t == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug(msg,
		"trace_id", t.TraceID,
		"source", t.Source,
		"channel", t.Channel,
		"user", t.User,
		"snippet", t.Snippet,
		"counters", t.snapshot(),
	)
}

func (t *MessageTrace) snapshot() map[Stage]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Stage]int64, len(t.counters))
	for k, v := range t.counters {
		out[k] = v
	}
	return out
}

func traceID(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
