package twitchirc

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/you/chatcore/internal/core"
)

// Message is one tokenized IRC line.
type Message struct {
	Tags     map[string]string
	Prefix   string
	Command  string
	Params   []string
	Trailing string
	Raw      string
}

// Channel returns the first #channel parameter without the hash.
func (m Message) Channel() string {
	for _, p := range m.Params {
		if strings.HasPrefix(p, "#") {
			return p[1:]
		}
	}
	return ""
}

// Tokenize splits a raw IRC line into tags, prefix, command and parameters.
func Tokenize(line string) (Message, bool) {
	line = strings.TrimRight(line, "\r\n")
	m := Message{Raw: line, Tags: map[string]string{}}
	rest := line

	if strings.HasPrefix(rest, "@") {
		idx := strings.IndexByte(rest, ' ')
		if idx == -1 {
			return Message{}, false
		}
		for _, kv := range strings.Split(rest[1:idx], ";") {
			if kv == "" {
				continue
			}
			k, v, _ := strings.Cut(kv, "=")
			m.Tags[k] = unescapeIRC(v)
		}
		rest = strings.TrimLeft(rest[idx+1:], " ")
	}

	if strings.HasPrefix(rest, ":") {
		idx := strings.IndexByte(rest, ' ')
		if idx == -1 {
			return Message{}, false
		}
		m.Prefix = rest[1:idx]
		rest = strings.TrimLeft(rest[idx+1:], " ")
	}

	if idx := strings.Index(rest, " :"); idx != -1 {
		m.Trailing = rest[idx+2:]
		rest = rest[:idx]
	} else if strings.HasPrefix(rest, ":") {
		m.Trailing = rest[1:]
		rest = ""
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return Message{}, false
	}
	m.Command = strings.ToUpper(fields[0])
	m.Params = fields[1:]
	return m, true
}

// ParseLine translates one raw IRC line into a chat event. Lines that do not
// map to an event (PING, JOIN, numerics) return false.
func ParseLine(line string) (core.Event, bool) {
	m, ok := Tokenize(line)
	if !ok {
		return nil, false
	}
	return Translate(m)
}

func Translate(m Message) (core.Event, bool) {
	switch m.Command {
	case "PRIVMSG":
		return core.ChatEvent{Message: chatMessage(m, false)}, true
	case "USERNOTICE":
		return core.UserNoticeEvent{Message: chatMessage(m, true)}, true
	case "CLEARMSG":
		return core.ClearMsgEvent{
			Header:   header(m),
			TargetID: m.Tags["target-msg-id"],
			Login:    m.Tags["login"],
			Text:     m.Trailing,
		}, true
	case "CLEARCHAT":
		c := core.ClearChat{
			Header:       header(m),
			TargetUserID: m.Tags["target-user-id"],
			TargetLogin:  m.Trailing,
		}
		if d, err := strconv.Atoi(m.Tags["ban-duration"]); err == nil {
			c.DurationSec = d
		}
		return core.ClearChatEvent{Entry: c}, true
	case "NOTICE":
		return core.NoticeEvent{Header: header(m), Code: m.Tags["msg-id"], Text: m.Trailing}, true
	case "ROOMSTATE":
		return core.RoomStateEvent{State: roomState(m.Tags)}, true
	case "USERSTATE", "GLOBALUSERSTATE":
		ev := core.UserStateEvent{Color: m.Tags["color"], Name: m.Tags["display-name"]}
		if raw, ok := m.Tags["emote-sets"]; ok {
			ev.EmoteSets = splitList(raw, ",")
			if ev.EmoteSets == nil {
				ev.EmoteSets = []string{}
			}
		}
		return ev, true
	}
	return nil, false
}

func header(m Message) core.Header {
	h := core.Header{ID: m.Tags["id"], Raw: m.Raw}
	if ms, err := strconv.ParseInt(m.Tags["tmi-sent-ts"], 10, 64); err == nil {
		h.Timestamp = ms
	} else {
		h.Timestamp = core.NowMillis()
	}
	return h
}

func chatMessage(m Message, userNotice bool) core.ChatMessage {
	text := m.Trailing
	isAction := false
	if strings.HasPrefix(text, "\x01ACTION ") {
		text = strings.TrimSuffix(strings.TrimPrefix(text, "\x01ACTION "), "\x01")
		isAction = true
	}

	login := m.Tags["login"]
	if login == "" {
		login = extractUser(m.Prefix)
	}
	msg := core.ChatMessage{
		Header:        header(m),
		UserID:        m.Tags["user-id"],
		UserLogin:     login,
		UserName:      m.Tags["display-name"],
		Text:          text,
		Color:         m.Tags["color"],
		Emotes:        parseEmotes(m.Tags["emotes"], utf8.RuneCountInString(text)),
		Badges:        parseBadges(m.Tags["badges"]),
		IsAction:      isAction,
		IsFirst:       m.Tags["first-msg"] == "1",
		ReplyParentID: m.Tags["reply-parent-msg-id"],
	}
	if bits, err := strconv.Atoi(m.Tags["bits"]); err == nil {
		msg.Bits = bits
	}
	if rid := m.Tags["custom-reward-id"]; rid != "" {
		msg.Reward = &core.Reward{ID: rid}
	}
	if userNotice {
		msg.SystemText = m.Tags["system-msg"]
		msg.NoticeType = m.Tags["msg-id"]
	}
	return msg
}

// parseEmotes decodes "id:b-e,b-e/id:b-e" into spans ordered by position.
// Spans outside a text of n code points are dropped.
func parseEmotes(raw string, n int) []core.EmoteSpan {
	if raw == "" {
		return nil
	}
	var out []core.EmoteSpan
	for _, group := range strings.Split(raw, "/") {
		id, ranges, ok := strings.Cut(group, ":")
		if !ok || id == "" {
			continue
		}
		for _, r := range strings.Split(ranges, ",") {
			b, e, ok := strings.Cut(r, "-")
			if !ok {
				continue
			}
			begin, err1 := strconv.Atoi(b)
			end, err2 := strconv.Atoi(e)
			if err1 != nil || err2 != nil || begin < 0 || end < begin || end >= n {
				continue
			}
			out = append(out, core.EmoteSpan{ID: id, Begin: begin, End: end})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Begin < out[j].Begin })
	return out
}

func parseBadges(raw string) []core.BadgeRef {
	var out []core.BadgeRef
	for _, b := range splitList(raw, ",") {
		set, version, _ := strings.Cut(b, "/")
		if set == "" {
			continue
		}
		out = append(out, core.BadgeRef{SetID: set, Version: version})
	}
	return out
}

// roomState builds a snapshot holding only the settings present in tags.
func roomState(tags map[string]string) core.RoomState {
	var rs core.RoomState
	flag := func(key string) *bool {
		v, ok := tags[key]
		if !ok {
			return nil
		}
		return core.Bool(v == "1")
	}
	num := func(key string) *int {
		n, err := strconv.Atoi(tags[key])
		if err != nil {
			return nil
		}
		return core.Int(n)
	}
	rs.EmoteOnly = flag("emote-only")
	rs.FollowersOnly = num("followers-only")
	rs.UniqueChat = flag("r9k")
	rs.SlowSeconds = num("slow")
	rs.SubsOnly = flag("subs-only")
	return rs
}

func extractUser(prefix string) string {
	prefix = strings.TrimPrefix(prefix, ":")
	if idx := strings.Index(prefix, "!"); idx != -1 {
		return prefix[:idx]
	}
	if strings.Contains(prefix, ".") {
		return ""
	}
	return prefix
}

func unescapeIRC(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 's':
			b.WriteByte(' ')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case ':':
			b.WriteByte(';')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func splitList(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// authFailure reports server notices that mean the token was rejected.
func authFailure(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "login authentication failed") ||
		strings.Contains(lower, "improperly formatted auth")
}
