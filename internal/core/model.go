package core

import "time"

// Kind discriminates the Entry variants.
type Kind int

const (
	KindChat Kind = iota
	KindSystem
	KindCleared
	KindClearChat
	KindNotice
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindSystem:
		return "system"
	case KindCleared:
		return "cleared"
	case KindClearChat:
		return "clearchat"
	case KindNotice:
		return "notice"
	}
	return "unknown"
}

// Header is shared by every entry variant.
type Header struct {
	ID        string `json:"id,omitempty"`
	Timestamp int64  `json:"ts"`
	Raw       string `json:"raw,omitempty"`
}

// Meta returns the header of the entry.
func (h Header) Meta() Header { return h }

// Entry is one item of the ordered message stream.
type Entry interface {
	Kind() Kind
	Meta() Header
}

type EmoteSpan struct {
	ID    string `json:"id"`
	Begin int    `json:"begin"`
	End   int    `json:"end"`
}

type BadgeRef struct {
	SetID   string `json:"set_id"`
	Version string `json:"version"`
}

type ChatMessage struct {
	Header
	UserID        string      `json:"user_id,omitempty"`
	UserLogin     string      `json:"user_login,omitempty"`
	UserName      string      `json:"user_name,omitempty"`
	Text          string      `json:"text,omitempty"`
	Color         string      `json:"color,omitempty"`
	Emotes        []EmoteSpan `json:"emotes,omitempty"`
	Badges        []BadgeRef  `json:"badges,omitempty"`
	Bits          int         `json:"bits,omitempty"`
	IsAction      bool        `json:"is_action,omitempty"`
	IsFirst       bool        `json:"is_first,omitempty"`
	Reward        *Reward     `json:"reward,omitempty"`
	SystemText    string      `json:"system_text,omitempty"`
	NoticeType    string      `json:"notice_type,omitempty"`
	ReplyParentID string      `json:"reply_parent_id,omitempty"`
}

func (ChatMessage) Kind() Kind { return KindChat }

// RewardID returns the attached channel-point reward id or "".
func (m ChatMessage) RewardID() string {
	if m.Reward == nil {
		return ""
	}
	return m.Reward.ID
}

type SystemMessage struct {
	Header
	Text string `json:"text"`
}

func (SystemMessage) Kind() Kind { return KindSystem }

// ClearedMessage marks a single deleted chat message.
type ClearedMessage struct {
	Header
	TargetID  string      `json:"target_id,omitempty"`
	UserID    string      `json:"user_id,omitempty"`
	UserLogin string      `json:"user_login,omitempty"`
	UserName  string      `json:"user_name,omitempty"`
	Text      string      `json:"text"`
	Emotes    []EmoteSpan `json:"emotes,omitempty"`
}

func (ClearedMessage) Kind() Kind { return KindCleared }

// ClearChat is a full-channel clear when TargetLogin is empty, a timeout when
// DurationSec > 0, and a ban otherwise.
type ClearChat struct {
	Header
	TargetUserID string `json:"target_user_id,omitempty"`
	TargetLogin  string `json:"target_login,omitempty"`
	DurationSec  int    `json:"duration_sec,omitempty"`
	Text         string `json:"text"`
}

func (ClearChat) Kind() Kind { return KindClearChat }

type Notice struct {
	Header
	Code string `json:"code,omitempty"`
	Text string `json:"text"`
}

func (Notice) Kind() Kind { return KindNotice }

// NowMillis is the default timestamp for entries without a server time.
func NowMillis() int64 { return time.Now().UnixMilli() }

// NewSystem builds a system entry stamped with the current time.
func NewSystem(text string) SystemMessage {
	return SystemMessage{Header: Header{Timestamp: NowMillis()}, Text: text}
}

// EntryText returns the visible text of any entry variant.
func EntryText(e Entry) string {
	switch v := e.(type) {
	case ChatMessage:
		if v.Text == "" {
			return v.SystemText
		}
		return v.Text
	case SystemMessage:
		return v.Text
	case ClearedMessage:
		return v.Text
	case ClearChat:
		return v.Text
	case Notice:
		return v.Text
	}
	return ""
}
