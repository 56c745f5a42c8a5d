package eventsub

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/you/chatcore/internal/core"
)

type envelope struct {
	Metadata struct {
		MessageID        string    `json:"message_id"`
		MessageType      string    `json:"message_type"`
		MessageTimestamp time.Time `json:"message_timestamp"`
		SubscriptionType string    `json:"subscription_type"`
	} `json:"metadata"`
	Payload json.RawMessage `json:"payload"`
}

type sessionPayload struct {
	Session struct {
		ID                      string `json:"id"`
		Status                  string `json:"status"`
		KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
		ReconnectURL            string `json:"reconnect_url"`
	} `json:"session"`
}

type notificationPayload struct {
	Subscription struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Version string `json:"version"`
	} `json:"subscription"`
	Event json.RawMessage `json:"event"`
}

type fragment struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emote *struct {
		ID         string `json:"id"`
		EmoteSetID string `json:"emote_set_id"`
	} `json:"emote"`
}

type messageBody struct {
	Text      string     `json:"text"`
	Fragments []fragment `json:"fragments"`
}

type badge struct {
	SetID string `json:"set_id"`
	ID    string `json:"id"`
	Info  string `json:"info"`
}

type chatMessageEvent struct {
	ChatterUserID    string      `json:"chatter_user_id"`
	ChatterUserLogin string      `json:"chatter_user_login"`
	ChatterUserName  string      `json:"chatter_user_name"`
	MessageID        string      `json:"message_id"`
	Message          messageBody `json:"message"`
	MessageType      string      `json:"message_type"`
	Color            string      `json:"color"`
	Badges           []badge     `json:"badges"`
	Cheer            *struct {
		Bits int `json:"bits"`
	} `json:"cheer"`
	Reply *struct {
		ParentMessageID string `json:"parent_message_id"`
	} `json:"reply"`
	ChannelPointsCustomRewardID string `json:"channel_points_custom_reward_id"`
}

type notificationEvent struct {
	ChatterUserID    string      `json:"chatter_user_id"`
	ChatterUserLogin string      `json:"chatter_user_login"`
	ChatterUserName  string      `json:"chatter_user_name"`
	ChatterAnonymous bool        `json:"chatter_is_anonymous"`
	Color            string      `json:"color"`
	Badges           []badge     `json:"badges"`
	SystemMessage    string      `json:"system_message"`
	MessageID        string      `json:"message_id"`
	Message          messageBody `json:"message"`
	NoticeType       string      `json:"notice_type"`
}

type chatSettingsEvent struct {
	EmoteMode                   bool `json:"emote_mode"`
	FollowerMode                bool `json:"follower_mode"`
	FollowerModeDurationMinutes *int `json:"follower_mode_duration_minutes"`
	SlowMode                    bool `json:"slow_mode"`
	SlowModeWaitTimeSeconds     *int `json:"slow_mode_wait_time_seconds"`
	SubscriberMode              bool `json:"subscriber_mode"`
	UniqueChatMode              bool `json:"unique_chat_mode"`
}

type messageDeleteEvent struct {
	TargetUserID    string `json:"target_user_id"`
	TargetUserLogin string `json:"target_user_login"`
	TargetMessageID string `json:"target_message_id"`
}

type clearUserEvent struct {
	TargetUserID    string `json:"target_user_id"`
	TargetUserLogin string `json:"target_user_login"`
}

// spans rebuilds code-point emote offsets from message fragments.
func spans(frags []fragment) []core.EmoteSpan {
	var out []core.EmoteSpan
	pos := 0
	for _, f := range frags {
		n := utf8.RuneCountInString(f.Text)
		if f.Type == "emote" && f.Emote != nil && n > 0 {
			out = append(out, core.EmoteSpan{ID: f.Emote.ID, Begin: pos, End: pos + n - 1})
		}
		pos += n
	}
	return out
}

func badges(in []badge) []core.BadgeRef {
	if len(in) == 0 {
		return nil
	}
	out := make([]core.BadgeRef, 0, len(in))
	for _, b := range in {
		out = append(out, core.BadgeRef{SetID: b.SetID, Version: b.ID})
	}
	return out
}

func (e chatMessageEvent) toMessage(h core.Header) core.ChatMessage {
	h.ID = e.MessageID
	msg := core.ChatMessage{
		Header:    h,
		UserID:    e.ChatterUserID,
		UserLogin: e.ChatterUserLogin,
		UserName:  e.ChatterUserName,
		Text:      e.Message.Text,
		Color:     e.Color,
		Emotes:    spans(e.Message.Fragments),
		Badges:    badges(e.Badges),
		IsFirst:   e.MessageType == "user_intro",
	}
	if e.Cheer != nil {
		msg.Bits = e.Cheer.Bits
	}
	if e.Reply != nil {
		msg.ReplyParentID = e.Reply.ParentMessageID
	}
	if e.ChannelPointsCustomRewardID != "" {
		msg.Reward = &core.Reward{ID: e.ChannelPointsCustomRewardID}
	}
	return msg
}

func (e notificationEvent) toMessage(h core.Header) core.ChatMessage {
	h.ID = e.MessageID
	msg := core.ChatMessage{
		Header:     h,
		Text:       e.Message.Text,
		Color:      e.Color,
		Emotes:     spans(e.Message.Fragments),
		Badges:     badges(e.Badges),
		SystemText: e.SystemMessage,
		NoticeType: e.NoticeType,
	}
	if !e.ChatterAnonymous {
		msg.UserID = e.ChatterUserID
		msg.UserLogin = e.ChatterUserLogin
		msg.UserName = e.ChatterUserName
	}
	return msg
}

func (e chatSettingsEvent) toRoomState() core.RoomState {
	followers := -1
	if e.FollowerMode {
		followers = 0
		if e.FollowerModeDurationMinutes != nil {
			followers = *e.FollowerModeDurationMinutes
		}
	}
	slow := 0
	if e.SlowMode && e.SlowModeWaitTimeSeconds != nil {
		slow = *e.SlowModeWaitTimeSeconds
	}
	return core.RoomState{
		EmoteOnly:     core.Bool(e.EmoteMode),
		FollowersOnly: core.Int(followers),
		UniqueChat:    core.Bool(e.UniqueChatMode),
		SlowSeconds:   core.Int(slow),
		SubsOnly:      core.Bool(e.SubscriberMode),
	}
}
