package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/you/chatcore/internal/chat"
	"github.com/you/chatcore/internal/config"
	"github.com/you/chatcore/internal/emotes"
	"github.com/you/chatcore/internal/eventsub"
	"github.com/you/chatcore/internal/gql"
	"github.com/you/chatcore/internal/helix"
	httpadmin "github.com/you/chatcore/internal/http"
	"github.com/you/chatcore/internal/httpapi"
	"github.com/you/chatcore/internal/logging"
	"github.com/you/chatcore/internal/prefs"
	"github.com/you/chatcore/internal/providers"
	"github.com/you/chatcore/internal/pubsub"
	"github.com/you/chatcore/internal/replay"
	"github.com/you/chatcore/internal/seventv"
	"github.com/you/chatcore/internal/sink"
	"github.com/you/chatcore/internal/transcript"
	"github.com/you/chatcore/internal/twitchbadges"
	"github.com/you/chatcore/internal/twitchirc"
	"github.com/you/chatcore/internal/version"
)

func fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

func main() {
	var (
		versionFlag     bool
		channel         string
		transport       string
		archivePath     string
		prefsFile       string
		logLevel        string
		logFile         string
		replayFile      string
		replayVideo     string
		replayStart     int
		httpAddr        string
		httpCorsOrigins string
		httpRateRPS     int
		httpRateBurst   int
		httpMetrics     bool
		httpAccessLog   bool
		httpPprof       bool
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&channel, "channel", "", "Twitch channel login to join")
	flag.StringVar(&transport, "transport", "", "Chat transport: irc, websocket or eventsub")
	flag.StringVar(&archivePath, "archive", "", "Path to SQLite archive file (empty disables)")
	flag.StringVar(&prefsFile, "prefs", "", "Path to preferences JSON file")
	flag.StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	flag.StringVar(&logFile, "log-file", "", "Path to rotated JSON log file")
	flag.StringVar(&replayFile, "replay-file", "", "Replay a downloaded chat transcript instead of joining live chat")
	flag.StringVar(&replayVideo, "replay-video", "", "Replay the chat of an archived video id")
	flag.IntVar(&replayStart, "replay-start", 0, "Start offset in seconds for -replay-video")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP inspection API address (e.g., :8765)")
	flag.StringVar(&httpCorsOrigins, "http-cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&httpRateRPS, "http-rate-rps", 20, "Maximum HTTP requests per second per client")
	flag.IntVar(&httpRateBurst, "http-rate-burst", 40, "Burst size for HTTP rate limiter")
	flag.BoolVar(&httpMetrics, "http-metrics", true, "Expose Prometheus metrics endpoint")
	flag.BoolVar(&httpAccessLog, "http-access-log", true, "Log HTTP access records")
	flag.BoolVar(&httpPprof, "http-pprof", false, "Expose pprof handlers under /debug/pprof")
	flag.Parse()

	if versionFlag {
		fmt.Printf("chatd version: %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildTime)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()
	if overrides["channel"] {
		cfg.Channel.Login = strings.ToLower(strings.TrimSpace(channel))
		cfg.Channel.ID = ""
		cfg.Channel.Name = cfg.Channel.Login
	}
	if overrides["transport"] {
		cfg.Transport = strings.ToLower(strings.TrimSpace(transport))
	}
	if overrides["archive"] {
		cfg.Archive.Path = strings.TrimSpace(archivePath)
	}
	if overrides["prefs"] {
		cfg.PrefsFile = strings.TrimSpace(prefsFile)
	}
	if overrides["log-level"] {
		cfg.Log.Level = logLevel
	}
	if overrides["log-file"] {
		cfg.Log.File = strings.TrimSpace(logFile)
	}
	if overrides["replay-file"] {
		cfg.Replay.TranscriptPath = strings.TrimSpace(replayFile)
	}
	if overrides["replay-video"] {
		cfg.Replay.VideoID = strings.TrimSpace(replayVideo)
	}
	if overrides["replay-start"] {
		cfg.Replay.StartSeconds = replayStart
	}
	if overrides["http-addr"] {
		cfg.HTTPAddr = strings.TrimSpace(httpAddr)
	}

	logger := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	logger.Install()
	defer func() { _ = logger.Close() }()

	slog.Info("chatd: starting", "version", version.Version, "commit", version.Commit)
	slog.Debug("chatd: config", "config", string(cfg.RedactedJSON()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("chatd: shutting down", "signal", sig.String())
		cancel()
	}()

	var metrics *httpapi.Metrics
	if httpMetrics {
		metrics = httpapi.NewMetrics()
	}

	store, err := prefs.Open(cfg.PrefsFile)
	if err != nil {
		fatal("chatd: open prefs", "path", cfg.PrefsFile, "err", err)
	}
	go func() {
		if err := store.Watch(ctx); err != nil {
			slog.Warn("chatd: prefs watch stopped", "err", err)
		}
	}()

	limiter := rate.NewLimiter(rate.Limit(10), 20)
	lookup := helix.New(helix.Config{ClientID: cfg.Helix.ClientID, Token: cfg.Helix.Token, Limiter: limiter})
	if err := resolveIDs(ctx, lookup, &cfg); err != nil {
		slog.Warn("chatd: resolve ids", "err", err)
	}
	helixClient := helix.New(helix.Config{
		ClientID: cfg.Helix.ClientID,
		Token:    cfg.Helix.Token,
		UserID:   cfg.Account.ID,
		Limiter:  limiter,
	})
	gqlClient := gql.New(gql.Config{
		ClientID: cfg.GQL.ClientID,
		Token:    cfg.GQL.Token,
		DeviceID: strings.ReplaceAll(uuid.NewString(), "-", ""),
	})

	var (
		archive  *sink.SQLiteArchive
		buffered *sink.BufferedWriter
		writer   sink.Writer
	)
	if cfg.Archive.Path != "" {
		archive, err = openArchive(cfg.Archive.Path, cfg.Channel.Login)
		if err != nil {
			fatal("chatd: archive", "err", err)
		}
		defer func() {
			if err := archive.Close(); err != nil {
				slog.Warn("chatd: closing archive", "err", err)
			}
		}()
		writer = archive
		if cfg.Batch() > 1 || cfg.FlushInterval() > 0 {
			buffered = sink.NewBufferedWriter(archive, sink.BufferedOptions{
				BatchSize:     cfg.Batch(),
				FlushInterval: cfg.FlushInterval(),
			})
			writer = buffered
		}
		slog.Info("chatd: archive enabled", "path", cfg.Archive.Path, "batch", cfg.Batch(), "flush", cfg.FlushInterval())
	}

	opts := sink.Options{Limit: store.Int(prefs.MessageLimit, cfg.Limit), Archive: writer}
	if metrics != nil {
		opts.Metrics = metrics
	}
	snk := sink.New(opts)
	store.OnChange(func(map[string]string) {
		snk.SetLimit(store.Int(prefs.MessageLimit, cfg.Limit))
		slog.Info("chatd: preferences reloaded; transport settings apply on resume")
	})

	stvAPI := seventv.NewAPI()
	badges := twitchbadges.NewSource(helixClient)

	var session *chat.Session
	catalogOpts := emotes.Options{
		Providers: []emotes.Provider{
			providers.NewSevenTV(stvAPI),
			providers.NewBTTV(),
			providers.NewFFZ(),
		},
		OnIntegrity: func() {
			if session != nil {
				session.SignalIntegrity()
			}
		},
		OnChange: snk.Refresh,
	}
	if helixClient.HasToken() {
		catalogOpts.Badges = badges
	}
	catalog := emotes.New(catalogOpts)

	var esCfg eventsub.Config
	if helixClient.HasToken() {
		esCfg.Subscriber = helixClient
	}

	sessionOpts := chat.Options{
		Sink:     snk,
		Prefs:    store,
		Defaults: defaultSettings(cfg),
		Catalog:  catalog,
		Account: chat.Account{
			ID:        cfg.Account.ID,
			Login:     cfg.Account.Login,
			ChatToken: cfg.Account.Token,
			GQLToken:  cfg.GQL.Token,
		},
		Transports: chat.TwitchTransports(chat.TwitchOptions{
			TLS:      cfg.TLS,
			EventSub: esCfg,
			Metrics:  metrics,
		}),
		PubSub: func(c pubsub.Config) chat.Bus {
			return pubsub.New(c)
		},
		SevenTV: func(c seventv.EventConfig) chat.CosmeticsBus {
			return seventv.NewEventClient(c)
		},
		Recent:   &twitchirc.RecentLoader{},
		Points:   gqlClient,
		Presence: stvAPI,
		OnCosmetic: func(u chat.CosmeticUpdate) {
			slog.Debug("chatd: cosmetic", "kind", u.Kind, "id", u.ID, "user", u.UserID)
		},
	}
	if helixClient.HasToken() {
		sessionOpts.UserEmotes = badges
		sessionOpts.Commands = helixClient
	}
	if metrics != nil {
		sessionOpts.Metrics = metrics
	}
	session = chat.NewSession(sessionOpts)

	go func() {
		select {
		case <-session.Integrity():
			slog.Warn("chatd: integrity check failed; a token refresh is required")
		case <-ctx.Done():
		}
	}()

	var api *httpapi.Server
	if cfg.HTTPAddr != "" {
		build := httpapi.BuildInfo{Version: version.Version, Revision: version.Commit}
		if t, err := time.Parse(time.RFC3339, version.BuildTime); err == nil {
			build.BuiltAt = t
		}
		apiOpts := httpapi.Options{
			Addr:            cfg.HTTPAddr,
			CORSOrigins:     splitList(httpCorsOrigins),
			RateLimitRPS:    httpRateRPS,
			RateLimitBurst:  httpRateBurst,
			EnableMetrics:   httpMetrics,
			EnableAccessLog: httpAccessLog,
			EnablePprof:     httpPprof,
			Build:           build,
			ConfigSnapshot:  cfg.RedactedJSON(),
			Metrics:         metrics,
		}
		if archive != nil {
			apiOpts.Archive = archive
		}
		api = httpapi.New(session, apiOpts)
		httpadmin.New(&controller{ctx: ctx, session: session, logger: logger}).Register(api.Mux())
		go func() {
			if err := api.Start(); err != nil {
				fatal("chatd: http api", "err", err)
			}
		}()
	}

	if err := start(ctx, cfg, session, gqlClient); err != nil {
		fatal("chatd: start", "err", err)
	}

	<-ctx.Done()

	session.StopReplay()
	session.StopLiveChat()
	if api != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		if err := api.Shutdown(shutdownCtx); err != nil {
			slog.Warn("chatd: http api shutdown", "err", err)
		}
		cancelShutdown()
	}
	if buffered != nil {
		if err := buffered.Close(); err != nil {
			slog.Warn("chatd: flush archive", "err", err)
		}
	}
	slog.Info("chatd: shutdown complete")
}

// start begins live chat or the configured replay.
func start(ctx context.Context, cfg config.Config, session *chat.Session, gqlClient *gql.Client) error {
	switch {
	case cfg.Replay.TranscriptPath != "":
		f, err := os.Open(cfg.Replay.TranscriptPath)
		if err != nil {
			return errors.Wrap(err, "open transcript")
		}
		t, err := transcript.Parse(f)
		_ = f.Close()
		if err != nil {
			return errors.Wrapf(err, "parse transcript %s", cfg.Replay.TranscriptPath)
		}
		session.StartLocalReplay(ctx, t, wallClock(0))
	case cfg.Replay.VideoID != "":
		start := cfg.Replay.StartSeconds
		session.StartRemoteReplay(ctx, cfg.Replay.VideoID, start, replay.GQLFetcher{Client: gqlClient}, wallClock(int64(start)*1000))
	default:
		if cfg.Channel.Login == "" {
			return errors.New("no channel configured; set CHATCORE_CHANNEL or -channel")
		}
		session.StartLive(ctx, chat.Channel{
			ID:       cfg.Channel.ID,
			Login:    cfg.Channel.Login,
			Name:     cfg.Channel.Name,
			StreamID: cfg.Channel.StreamID,
		})
		slog.Info("chatd: live chat started", "channel", cfg.Channel.Login, "transport", session.Kind())
	}
	return nil
}

// wallClock plays back in real time from fromMs.
func wallClock(fromMs int64) replay.Playback {
	t0 := time.Now()
	return replay.Playback{
		Position: func() int64 { return fromMs + time.Since(t0).Milliseconds() },
	}
}

func defaultSettings(cfg config.Config) chat.Settings {
	s := chat.DefaultSettings()
	s.MessageLimit = cfg.Limit
	s.PubSub = cfg.Features.PubSub
	s.SevenTV = cfg.Features.SevenTVEvents
	s.RecentMessages = cfg.Features.RecentMessages
	s.ShowUserNotice = cfg.Features.UserNotices
	s.ShowClearChat = cfg.Features.ClearChat
	s.SendViaAPI = cfg.Features.SendViaAPI
	s.UseWebSocket = cfg.Transport == config.TransportWebSocket
	s.UseEventSub = cfg.Transport == config.TransportEventSub
	return s
}

// resolveIDs fills missing channel and account ids through helix.
func resolveIDs(ctx context.Context, c *helix.Client, cfg *config.Config) error {
	if !c.HasToken() {
		return nil
	}
	if cfg.Channel.ID == "" && cfg.Channel.Login != "" {
		u, err := c.GetUser(ctx, cfg.Channel.Login)
		if err != nil {
			return errors.Wrapf(err, "channel %s", cfg.Channel.Login)
		}
		cfg.Channel.ID = u.ID
		if u.DisplayName != "" {
			cfg.Channel.Name = u.DisplayName
		}
	}
	if cfg.Account.ID == "" && cfg.Account.Login != "" {
		u, err := c.GetUser(ctx, cfg.Account.Login)
		if err != nil {
			return errors.Wrapf(err, "account %s", cfg.Account.Login)
		}
		cfg.Account.ID = u.ID
	}
	return nil
}

func openArchive(path, channel string) (*sink.SQLiteArchive, error) {
	archive, err := sink.OpenSQLite(path, channel)
	if err != nil {
		return nil, err
	}
	if err := archive.Ping(); err != nil {
		_ = archive.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}
	return archive, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
