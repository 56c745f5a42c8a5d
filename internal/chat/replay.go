package chat

import (
	"context"
	"log/slog"

	"github.com/you/chatcore/internal/replay"
	"github.com/you/chatcore/internal/transcript"
)

// Engine is a running replay.
type Engine interface {
	Start(ctx context.Context)
	Stop()
	UpdatePosition(ms int64)
	UpdateSpeed(speed float64)
}

// StartLocalReplay plays a parsed transcript into the sink, replacing live
// chat and any previous replay.
func (s *Session) StartLocalReplay(ctx context.Context, t *transcript.Transcript, pb replay.Playback) Engine {
	s.prepareReplay()
	s.opts.Catalog.SetLocalAssets(t.TwitchEmotes, t.Badges, t.CheerEmotes, t.Emotes)
	e := replay.NewLocal(t.Entries, t.StartTimeMs, s.opts.Sink, pb)
	s.runReplay(ctx, e)
	slog.Info("chat: local replay started", "entries", len(t.Entries))
	return e
}

// StartRemoteReplay pages a video archive through fetcher starting at
// startSeconds.
func (s *Session) StartRemoteReplay(ctx context.Context, videoID string, startSeconds int, fetcher replay.PageFetcher, pb replay.Playback) Engine {
	s.prepareReplay()
	e := replay.NewRemote(replay.RemoteConfig{
		VideoID:      videoID,
		StartSeconds: startSeconds,
		Fetcher:      fetcher,
		Playback:     pb,
		OnIntegrity:  s.SignalIntegrity,
	}, s.opts.Sink)
	s.runReplay(ctx, e)
	slog.Info("chat: remote replay started", "video", videoID, "start", startSeconds)
	return e
}

func (s *Session) prepareReplay() {
	s.StopLiveChat()
	s.StopReplay()
	s.mu.Lock()
	s.settings = loadSettings(s.opts.Prefs, s.opts.Defaults)
	limit := s.settings.MessageLimit
	s.mu.Unlock()
	s.opts.Sink.SetLimit(limit)
	s.opts.Sink.Clear()
}

func (s *Session) runReplay(ctx context.Context, e Engine) {
	s.mu.Lock()
	s.replay = e
	s.mu.Unlock()
	e.Start(ctx)
}

// StopReplay stops the current replay, if any.
func (s *Session) StopReplay() {
	s.mu.Lock()
	e := s.replay
	s.replay = nil
	s.mu.Unlock()
	if e != nil {
		e.Stop()
	}
}

// Replay returns the running replay or nil.
func (s *Session) Replay() Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replay
}
