package replay

import (
	"context"

	"github.com/you/chatcore/internal/core"
)

// Local replays a parsed transcript. An entry is due at its timestamp minus
// the recording start.
type Local struct {
	*runner
}

func NewLocal(entries []core.Entry, startTimeMs int64, sink Sink, pb Playback) *Local {
	clock := NewClock(sink)
	scheduled := make([]Scheduled, 0, len(entries))
	for _, e := range entries {
		scheduled = append(scheduled, Scheduled{OffsetMs: e.Meta().Timestamp - startTimeMs, Entry: e})
	}
	clock.Add(scheduled...)
	return &Local{runner: newRunner(clock, pb)}
}

func (l *Local) Start(ctx context.Context) { l.start(ctx) }
func (l *Local) Stop() { l.stop() }
func (l *Local) UpdatePosition(ms int64) { l.updatePosition(ms) }
func (l *Local) UpdateSpeed(speed float64) { l.updateSpeed(speed) }
func (l *Local) Clock() *Clock { return l.clock }
