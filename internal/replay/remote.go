package replay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/you/chatcore/internal/core"
	"github.com/you/chatcore/internal/gql"
)

const (
	lookahead     = 15 * time.Second
	retryBackoff  = 5 * time.Second
	fetchDeadline = 30 * time.Second
)

type Page struct {
	Entries []Scheduled
	Cursor  string
	HasNext bool
}

// PageFetcher loads one page of an archive, starting at offsetSeconds or
// continuing from cursor when it is set.
type PageFetcher interface {
	FetchPage(ctx context.Context, videoID string, offsetSeconds int, cursor string) (Page, error)
}

// GQLFetcher reads archived comments through the GraphQL client.
type GQLFetcher struct {
	Client *gql.Client
}

func (f GQLFetcher) FetchPage(ctx context.Context, videoID string, offsetSeconds int, cursor string) (Page, error) {
	p, err := f.Client.VideoComments(ctx, videoID, offsetSeconds, cursor)
	if err != nil {
		return Page{}, err
	}
	out := Page{Cursor: p.Cursor, HasNext: p.HasNext, Entries: make([]Scheduled, 0, len(p.Comments))}
	for _, c := range p.Comments {
		out.Entries = append(out.Entries, Scheduled{OffsetMs: c.OffsetMs, Entry: c.Message})
	}
	return out, nil
}

type RemoteConfig struct {
	VideoID      string
	StartSeconds int
	Fetcher      PageFetcher
	Playback     Playback
	// OnIntegrity is called when a fetch fails the integrity check.
	OnIntegrity func()
}

// Remote replays a server-side archive, paging ahead of the position.
type Remote struct {
	*runner
	cfg  RemoteConfig
	sink Sink

	mu sync.Mutex
	// gen invalidates in-flight fetches after a window reset.
	gen         int
	fetching    bool
	loaded      bool
	windowStart int64
	windowEnd   int64
	cursor      string
	hasNext     bool
	retryAt     time.Time
}

func NewRemote(cfg RemoteConfig, sink Sink) *Remote {
	r := &Remote{cfg: cfg, sink: sink}
	r.runner = newRunner(NewClock(sink), cfg.Playback)
	r.runner.pos = int64(cfg.StartSeconds) * 1000
	r.runner.before = r.ensure
	return r
}

func (r *Remote) Start(ctx context.Context) { r.start(ctx) }
func (r *Remote) Stop() { r.stop() }
func (r *Remote) UpdatePosition(ms int64) { r.updatePosition(ms) }
func (r *Remote) UpdateSpeed(speed float64) { r.updateSpeed(speed) }
func (r *Remote) Clock() *Clock { return r.clock }

// ensure keeps the loaded window around pos: a position outside it starts
// over from that offset, and nearing its end fetches the next page.
func (r *Remote) ensure(ctx context.Context, pos int64, speed float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ahead := int64(float64(lookahead.Milliseconds()) * speed)
	switch {
	case !r.loaded:
	case pos < r.windowStart:
		r.sink.Clear()
		r.resetLocked()
	case pos > r.windowEnd+ahead:
		r.resetLocked()
	case r.hasNext && pos+ahead > r.windowEnd:
		r.fetchLocked(ctx, 0, r.cursor)
		return
	default:
		return
	}
	if !r.loaded && !r.fetching {
		r.windowStart = max(pos, 0)
		r.fetchLocked(ctx, int(r.windowStart/1000), "")
	}
}

func (r *Remote) resetLocked() {
	r.gen++
	r.loaded = false
	r.fetching = false
	r.cursor = ""
	r.hasNext = false
	r.clock.Reset()
}

func (r *Remote) fetchLocked(ctx context.Context, offsetSeconds int, cursor string) {
	if r.fetching || time.Now().Before(r.retryAt) {
		return
	}
	r.fetching = true
	gen := r.gen
	go func() {
		fctx, cancel := context.WithTimeout(ctx, fetchDeadline)
		defer cancel()
		page, err := r.cfg.Fetcher.FetchPage(fctx, r.cfg.VideoID, offsetSeconds, cursor)
		r.mu.Lock()
		defer r.mu.Unlock()
		if gen != r.gen {
			return
		}
		r.fetching = false
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("replay: page fetch failed", "video", r.cfg.VideoID, "offset", offsetSeconds, "err", err)
			if core.IsIntegrity(err) && r.cfg.OnIntegrity != nil {
				r.cfg.OnIntegrity()
			}
			r.retryAt = time.Now().Add(retryBackoff)
			return
		}
		r.loaded = true
		r.cursor = page.Cursor
		r.hasNext = page.HasNext && page.Cursor != ""
		r.clock.Add(page.Entries...)
		if last, ok := r.clock.Last(); ok {
			r.windowEnd = max(last, r.windowStart)
		} else {
			r.windowEnd = r.windowStart
		}
		r.poke()
	}()
}
