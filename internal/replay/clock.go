// Package replay emits recorded chat in step with an external playback
// position, from a remote archive or a parsed transcript.
package replay

import (
	"sort"
	"sync"

	"github.com/you/chatcore/internal/core"
)

// Sink receives replayed entries.
type Sink interface {
	Append(entries ...core.Entry)
	Clear()
}

// Scheduled is an entry at its offset from the start of the recording.
type Scheduled struct {
	OffsetMs int64
	Entry    core.Entry
}

// Clock holds offset-ordered entries and the index of the next one due.
type Clock struct {
	sink Sink

	mu      sync.Mutex
	entries []Scheduled
	ids     map[string]struct{}
	cursor  int
}

func NewClock(sink Sink) *Clock {
	return &Clock{sink: sink, ids: map[string]struct{}{}}
}

// Add merges entries into the schedule. Entries whose id is already
// scheduled are dropped.
func (c *Clock) Add(entries ...Scheduled) {
	c.mu.Lock()
	defer c.mu.Unlock()
	added := false
	for _, s := range entries {
		if id := s.Entry.Meta().ID; id != "" {
			if _, dup := c.ids[id]; dup {
				continue
			}
			c.ids[id] = struct{}{}
		}
		c.entries = append(c.entries, s)
		added = true
	}
	if !added {
		return
	}
	// Entries before the cursor stay put so emitted ones are never replayed.
	pending := c.entries[c.cursor:]
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].OffsetMs < pending[j].OffsetMs })
}

// Reset drops every scheduled entry.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.ids = map[string]struct{}{}
	c.cursor = 0
}

// Advance moves the clock to pos. A position behind an already emitted entry
// is a backward seek: the sink is cleared and everything at or before pos
// counts as emitted. Every pending entry at or before pos is then emitted.
func (c *Clock) Advance(pos int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursor > 0 && c.entries[c.cursor-1].OffsetMs > pos {
		c.sink.Clear()
		sort.SliceStable(c.entries, func(i, j int) bool { return c.entries[i].OffsetMs < c.entries[j].OffsetMs })
		c.cursor = sort.Search(len(c.entries), func(i int) bool { return c.entries[i].OffsetMs > pos })
		return 0
	}
	start := c.cursor
	for c.cursor < len(c.entries) && c.entries[c.cursor].OffsetMs <= pos {
		c.cursor++
	}
	if c.cursor == start {
		return 0
	}
	due := make([]core.Entry, 0, c.cursor-start)
	for _, s := range c.entries[start:c.cursor] {
		due = append(due, s.Entry)
	}
	c.sink.Append(due...)
	return len(due)
}

// Next returns the offset of the next pending entry.
func (c *Clock) Next() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursor >= len(c.entries) {
		return 0, false
	}
	return c.entries[c.cursor].OffsetMs, true
}

// Last returns the offset of the latest scheduled entry.
func (c *Clock) Last() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return 0, false
	}
	return c.entries[len(c.entries)-1].OffsetMs, true
}

// Emitted reports how many entries are behind the cursor.
func (c *Clock) Emitted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}
