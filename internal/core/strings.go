package core

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Strings resolves localized text for synthetic entries.
type Strings interface {
	Text(key string, args ...any) string
}

// StringTable is a Strings backed by printf-style templates.
type StringTable map[string]string

func (t StringTable) Text(key string, args ...any) string {
	tmpl, ok := t[key]
	if !ok {
		if len(args) == 0 {
			return key
		}
		return key + ": " + fmt.Sprint(args...)
	}
	return fmt.Sprintf(tmpl, args...)
}

// EnglishStrings is the default table.
var EnglishStrings = StringTable{
	"chat_join":          "Joined %s",
	"chat_disconnect":    "Disconnected from %s: %s",
	"chat_clearmsg":      "%s's message was deleted: %s",
	"chat_clear":         "Chat was cleared by a moderator",
	"chat_timeout":       "%s has been timed out for %d seconds",
	"chat_ban":           "%s has been permanently banned",
	"disconnected":       "Disconnected",
	"stream_live":        "%s is live",
	"stream_offline":     "%s is offline",
	"points_earned":      "+%d channel points",
	"send_error":         "Failed to send message: %s",
	"raid_joined":        "Joined raid to %s",
	"command_done":       "%s",
	"command_failed":     "Command failed: %s",
	"msg_banned":         "You are permanently banned from talking in this channel",
	"msg_slowmode":       "This room is in slow mode",
	"msg_followersonly":  "This room is in followers-only mode",
	"msg_subsonly":       "This room is in subscribers-only mode",
	"msg_emoteonly":      "This room is in emote-only mode",
	"msg_duplicate":      "Your message was not sent because it is identical to the previous one",
	"msg_ratelimit":      "Your message was not sent because you are sending messages too quickly",
	"msg_channel_closed": "This channel has been closed",
}

// NoticeText returns the localized text for a server notice code, falling
// back to the server-provided text when the table has no plain entry for it.
func NoticeText(s Strings, code, serverText string) string {
	t, ok := s.(StringTable)
	if !ok || code == "" {
		return serverText
	}
	if tmpl, ok := t[code]; ok && !strings.Contains(tmpl, "%") {
		return tmpl
	}
	return serverText
}

// NameDisplay selects how user names are rendered in synthetic text.
type NameDisplay string

const (
	NameBoth        NameDisplay = "0"
	NameDisplayOnly NameDisplay = "1"
	NameLoginOnly   NameDisplay = "2"
)

// FormatName renders a user name according to mode.
func FormatName(mode NameDisplay, name, login string) string {
	switch mode {
	case NameDisplayOnly:
		if name != "" {
			return name
		}
		return login
	case NameLoginOnly:
		if login != "" {
			return login
		}
		return name
	default:
		if name != "" && login != "" && !strings.EqualFold(name, login) {
			return name + "(" + login + ")"
		}
		if name != "" {
			return name
		}
		return login
	}
}

// NewClearedMessage synthesizes the deletion marker for ev. When target is the
// deleted message its identity is reused and its emote spans are shifted past
// the localized prefix.
func NewClearedMessage(ev ClearMsgEvent, target *ChatMessage, s Strings, mode NameDisplay) ClearedMessage {
	if s == nil {
		s = EnglishStrings
	}
	login := ev.Login
	name := ""
	userID := ""
	text := ev.Text
	if target != nil {
		if target.UserLogin != "" {
			login = target.UserLogin
		}
		name = target.UserName
		userID = target.UserID
		if text == "" {
			text = target.Text
		}
	}

	body := s.Text("chat_clearmsg", FormatName(mode, name, login), text)
	prefix := 0
	if idx := strings.Index(body, ": "); idx >= 0 {
		prefix = utf8.RuneCountInString(body[:idx+2])
	}

	var spans []EmoteSpan
	if target != nil && len(target.Emotes) > 0 {
		spans = make([]EmoteSpan, len(target.Emotes))
		for i, e := range target.Emotes {
			spans[i] = EmoteSpan{ID: e.ID, Begin: e.Begin + prefix, End: e.End + prefix}
		}
	}

	ts := ev.Timestamp
	if ts == 0 {
		ts = NowMillis()
	}
	return ClearedMessage{
		Header:    Header{ID: ev.ID, Timestamp: ts, Raw: ev.Raw},
		TargetID:  ev.TargetID,
		UserID:    userID,
		UserLogin: login,
		UserName:  name,
		Text:      body,
		Emotes:    spans,
	}
}

// WithClearChatText fills the localized text of a clear-chat entry.
func WithClearChatText(c ClearChat, s Strings) ClearChat {
	if s == nil {
		s = EnglishStrings
	}
	switch {
	case c.TargetLogin == "":
		c.Text = s.Text("chat_clear")
	case c.DurationSec > 0:
		c.Text = s.Text("chat_timeout", c.TargetLogin, c.DurationSec)
	default:
		c.Text = s.Text("chat_ban", c.TargetLogin)
	}
	return c
}
