package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Channel   ChannelConfig
	Transport string
	TLS       bool
	Account   AccountConfig
	Helix     APIConfig
	GQL       APIConfig
	Features  Features
	Limit     int
	HTTPAddr  string
	Archive   ArchiveConfig
	Log       LogConfig
	PrefsFile string
	Replay    ReplayConfig
}

type ChannelConfig struct {
	ID       string
	Login    string
	Name     string
	StreamID string
}

type AccountConfig struct {
	ID    string
	Login string
	Token string
}

type APIConfig struct {
	ClientID string
	Token    string
}

type Features struct {
	PubSub         bool
	SevenTVEvents  bool
	RecentMessages bool
	UserNotices    bool
	ClearChat      bool
	SendViaAPI     bool
}

type ArchiveConfig struct {
	Path       string
	BatchSize  int
	FlushMaxMS int
}

type LogConfig struct {
	File  string
	Level string
}

type ReplayConfig struct {
	TranscriptPath string
	VideoID        string
	StartSeconds   int
}

const (
	TransportIRC       = "irc"
	TransportWebSocket = "websocket"
	TransportEventSub  = "eventsub"
)

const (
	defaultLimit     = 600
	defaultHTTPAddr  = ":8765"
	defaultBatchSize = 1
	defaultLogFile   = "logs/main.log"
	defaultPrefsFile = "prefs.json"
)

// Load reads CHATCORE_* variables, after merging an optional .env file into
// the environment. Variables already set take precedence over .env values.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config: .env not loaded", "err", err)
	}

	cfg := Config{}
	cfg.Channel.ID = readString("CHATCORE_CHANNEL_ID", "")
	cfg.Channel.Login = strings.ToLower(readString("CHATCORE_CHANNEL", ""))
	cfg.Channel.Name = readString("CHATCORE_CHANNEL_NAME", cfg.Channel.Login)
	cfg.Channel.StreamID = readString("CHATCORE_STREAM_ID", "")

	cfg.Transport = strings.ToLower(readString("CHATCORE_TRANSPORT", TransportIRC))
	switch cfg.Transport {
	case TransportIRC, TransportWebSocket, TransportEventSub:
	default:
		slog.Warn("config: unknown transport, using irc", "transport", cfg.Transport)
		cfg.Transport = TransportIRC
	}
	cfg.TLS = readBool("CHATCORE_IRC_TLS", true)

	cfg.Account.ID = readString("CHATCORE_ACCOUNT_ID", "")
	cfg.Account.Login = strings.ToLower(readString("CHATCORE_ACCOUNT_LOGIN", ""))
	cfg.Account.Token = strings.TrimPrefix(readString("CHATCORE_CHAT_TOKEN", ""), "oauth:")

	cfg.Helix.ClientID = readString("CHATCORE_HELIX_CLIENT_ID", "")
	cfg.Helix.Token = readString("CHATCORE_HELIX_TOKEN", cfg.Account.Token)
	cfg.GQL.ClientID = readString("CHATCORE_GQL_CLIENT_ID", "")
	cfg.GQL.Token = readString("CHATCORE_GQL_TOKEN", "")

	cfg.Features = Features{
		PubSub:         readBool("CHATCORE_PUBSUB", true),
		SevenTVEvents:  readBool("CHATCORE_7TV_EVENTS", true),
		RecentMessages: readBool("CHATCORE_RECENT_MESSAGES", true),
		UserNotices:    readBool("CHATCORE_USER_NOTICES", true),
		ClearChat:      readBool("CHATCORE_CLEAR_CHAT", true),
		SendViaAPI:     readBool("CHATCORE_SEND_VIA_API", false),
	}

	cfg.Limit = readInt("CHATCORE_MESSAGE_LIMIT", defaultLimit)
	cfg.HTTPAddr = readString("CHATCORE_HTTP_ADDR", defaultHTTPAddr)

	cfg.Archive.Path = readString("CHATCORE_ARCHIVE_PATH", "")
	cfg.Archive.BatchSize = readInt("CHATCORE_ARCHIVE_BATCH_SIZE", defaultBatchSize)
	cfg.Archive.FlushMaxMS = readInt("CHATCORE_ARCHIVE_FLUSH_MAX_MS", 0)

	cfg.Log.File = readString("CHATCORE_LOG_FILE", defaultLogFile)
	cfg.Log.Level = readString("CHATCORE_LOG_LEVEL", "info")
	cfg.PrefsFile = readString("CHATCORE_PREFS_FILE", defaultPrefsFile)

	cfg.Replay.TranscriptPath = readString("CHATCORE_REPLAY_FILE", "")
	cfg.Replay.VideoID = readString("CHATCORE_REPLAY_VIDEO_ID", "")
	cfg.Replay.StartSeconds = readInt("CHATCORE_REPLAY_START_SECS", 0)

	return cfg
}

// Replaying reports whether the process runs a replay instead of live chat.
func (c Config) Replaying() bool {
	return c.Replay.TranscriptPath != "" || c.Replay.VideoID != ""
}

// LoggedIn reports whether an account can write to chat.
func (c Config) LoggedIn() bool {
	return c.Account.Login != "" && c.Account.Token != ""
}

func (c Config) FlushInterval() time.Duration {
	if c.Archive.FlushMaxMS <= 0 {
		return 0
	}
	return time.Duration(c.Archive.FlushMaxMS) * time.Millisecond
}

func (c Config) Batch() int {
	if c.Archive.BatchSize <= 0 {
		return defaultBatchSize
	}
	return c.Archive.BatchSize
}

func readString(name, def string) string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	return raw
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < 0 {
		return def
	}
	return n
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func (c Config) Redacted() map[string]any {
	return map[string]any{
		"channel": map[string]any{
			"id":    c.Channel.ID,
			"login": c.Channel.Login,
			"name":  c.Channel.Name,
		},
		"transport": c.Transport,
		"tls":       c.TLS,
		"account": map[string]any{
			"id":    c.Account.ID,
			"login": c.Account.Login,
			"token": redactString(c.Account.Token),
		},
		"helix": map[string]any{
			"client_id": redactString(c.Helix.ClientID),
			"token":     redactString(c.Helix.Token),
		},
		"gql": map[string]any{
			"client_id": redactString(c.GQL.ClientID),
			"token":     redactString(c.GQL.Token),
		},
		"features": map[string]any{
			"pubsub":          c.Features.PubSub,
			"seventv_events":  c.Features.SevenTVEvents,
			"recent_messages": c.Features.RecentMessages,
			"user_notices":    c.Features.UserNotices,
			"clear_chat":      c.Features.ClearChat,
			"send_via_api":    c.Features.SendViaAPI,
		},
		"limit":     c.Limit,
		"http_addr": c.HTTPAddr,
		"archive": map[string]any{
			"path":       c.Archive.Path,
			"batch_size": c.Archive.BatchSize,
			"flush_ms":   c.Archive.FlushMaxMS,
		},
		"log": map[string]any{
			"file":  c.Log.File,
			"level": c.Log.Level,
		},
		"prefs_file": c.PrefsFile,
		"replay": map[string]any{
			"file":       c.Replay.TranscriptPath,
			"video_id":   c.Replay.VideoID,
			"start_secs": c.Replay.StartSeconds,
		},
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}
