package sink

import (
	"errors"
	"sync"
	"time"

	"github.com/you/chatcore/internal/core"
	"github.com/you/chatcore/internal/ingesttrace"
)

// Writer persists emitted entries.
type Writer interface {
	Write(core.Entry, *ingesttrace.MessageTrace) error
}

// BatchWriter is implemented by writers that can persist several entries at once.
type BatchWriter interface {
	WriteBatch([]TracedEntry) error
}

type TracedEntry struct {
	Entry core.Entry
	Trace *ingesttrace.MessageTrace
}

// BufferedWriter collects entries and flushes them to base when the batch is
// full or the flush interval elapses.
type BufferedWriter struct {
	base          Writer
	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	pending []TracedEntry
	timer   *time.Timer
	closed  bool
	lastErr error
}

type BufferedOptions struct {
	BatchSize     int
	FlushInterval time.Duration
}

var ErrWriterClosed = errors.New("sink: buffered writer closed")

func NewBufferedWriter(base Writer, opts BufferedOptions) *BufferedWriter {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 1
	}
	return &BufferedWriter{
		base:          base,
		batchSize:     batch,
		flushInterval: opts.FlushInterval,
	}
}

// Write queues e. An error from an earlier timer flush is reported here.
func (b *BufferedWriter) Write(e core.Entry, trace *ingesttrace.MessageTrace) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrWriterClosed
	}

	earlier := b.lastErr
	b.lastErr = nil

	b.pending = append(b.pending, TracedEntry{Entry: e, Trace: trace})
	if len(b.pending) == 1 {
		b.armLocked()
	}
	if len(b.pending) < b.batchSize {
		b.mu.Unlock()
		return earlier
	}

	batch := b.takeLocked()
	b.mu.Unlock()

	if err := b.flush(batch); err != nil {
		return err
	}
	return earlier
}

// Flush writes whatever is queued.
func (b *BufferedWriter) Flush() error {
	b.mu.Lock()
	batch := b.takeLocked()
	b.mu.Unlock()
	return b.flush(batch)
}

func (b *BufferedWriter) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	batch := b.takeLocked()
	earlier := b.lastErr
	b.lastErr = nil
	b.mu.Unlock()

	if err := b.flush(batch); err != nil {
		return err
	}
	return earlier
}

func (b *BufferedWriter) onTimer() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	batch := b.takeLocked()
	b.mu.Unlock()

	if err := b.flush(batch); err != nil {
		b.mu.Lock()
		b.lastErr = err
		b.mu.Unlock()
	}
}

func (b *BufferedWriter) armLocked() {
	if b.flushInterval <= 0 {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.flushInterval, b.onTimer)
}

func (b *BufferedWriter) takeLocked() []TracedEntry {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		return nil
	}
	batch := append([]TracedEntry(nil), b.pending...)
	b.pending = b.pending[:0]
	return batch
}

func (b *BufferedWriter) flush(batch []TracedEntry) error {
	if len(batch) == 0 {
		return nil
	}
	if bw, ok := b.base.(BatchWriter); ok {
		return bw.WriteBatch(batch)
	}
	for _, te := range batch {
		if err := b.base.Write(te.Entry, te.Trace); err != nil {
			return err
		}
	}
	return nil
}
