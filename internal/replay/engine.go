package replay

import (
	"context"
	"sync"
	"time"
)

const (
	minSleep = 50 * time.Millisecond
	maxSleep = time.Second
)

// Playback reads the external player state. Either accessor may be nil; the
// values passed to UpdatePosition and UpdateSpeed are used instead.
type Playback struct {
	Position func() int64
	Speed    func() float64
}

// runner drives a Clock from the playback position. before runs on every
// iteration ahead of Advance.
type runner struct {
	clock    *Clock
	playback Playback
	before   func(ctx context.Context, pos int64, speed float64)

	mu     sync.Mutex
	pos    int64
	speed  float64
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}
}

func newRunner(clock *Clock, pb Playback) *runner {
	return &runner{clock: clock, playback: pb, speed: 1, wake: make(chan struct{}, 1)}
}

func (r *runner) start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	go func() {
		defer close(done)
		r.loop(ctx)
	}()
}

func (r *runner) stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *runner) position() int64 {
	if r.playback.Position != nil {
		return r.playback.Position()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

func (r *runner) currentSpeed() float64 {
	s := 0.0
	if r.playback.Speed != nil {
		s = r.playback.Speed()
	} else {
		r.mu.Lock()
		s = r.speed
		r.mu.Unlock()
	}
	if s <= 0 {
		return 1
	}
	return s
}

func (r *runner) updatePosition(ms int64) {
	r.mu.Lock()
	r.pos = ms
	r.mu.Unlock()
	r.clock.Advance(ms)
	r.poke()
}

func (r *runner) updateSpeed(f float64) {
	r.mu.Lock()
	r.speed = f
	r.mu.Unlock()
	r.poke()
}

func (r *runner) poke() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *runner) loop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}
		pos, speed := r.position(), r.currentSpeed()
		if r.before != nil {
			r.before(ctx, pos, speed)
		}
		r.clock.Advance(pos)
		next, ok := r.clock.Next()
		timer.Reset(sleepFor(next, ok, pos, speed))
	}
}

// sleepFor is the wall time until the next entry is due, clamped.
func sleepFor(next int64, ok bool, pos int64, speed float64) time.Duration {
	if !ok {
		return maxSleep
	}
	d := time.Duration(float64(next-pos)/speed) * time.Millisecond
	return min(max(d, minSleep), maxSleep)
}
