package twitchirc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/chatcore/internal/core"
)

func TestParsePrivmsg(t *testing.T) {
	line := `@badge-info=subscriber/8;badges=subscriber/6,premium/1;color=#1E90FF;display-name=Viewer;emotes=25:0-4,12-16/1902:6-10;first-msg=1;id=abc-123;tmi-sent-ts=1700000000000;user-id=42 :viewer!viewer@viewer.tmi.twitch.tv PRIVMSG #somechannel :Kappa Keepo Kappa`

	ev, ok := ParseLine(line)
	require.True(t, ok)
	chat, ok := ev.(core.ChatEvent)
	require.True(t, ok)
	msg := chat.Message

	assert.Equal(t, "abc-123", msg.ID)
	assert.EqualValues(t, 1700000000000, msg.Timestamp)
	assert.Equal(t, "42", msg.UserID)
	assert.Equal(t, "viewer", msg.UserLogin)
	assert.Equal(t, "Viewer", msg.UserName)
	assert.Equal(t, "#1E90FF", msg.Color)
	assert.Equal(t, "Kappa Keepo Kappa", msg.Text)
	assert.True(t, msg.IsFirst)
	assert.Equal(t, []core.EmoteSpan{
		{ID: "25", Begin: 0, End: 4},
		{ID: "1902", Begin: 6, End: 10},
		{ID: "25", Begin: 12, End: 16},
	}, msg.Emotes)
	assert.Equal(t, []core.BadgeRef{{SetID: "subscriber", Version: "6"}, {SetID: "premium", Version: "1"}}, msg.Badges)
	assert.Equal(t, line, msg.Raw)
}

func TestParseActionRewardBitsReply(t *testing.T) {
	line := "@bits=100;custom-reward-id=r-1;reply-parent-msg-id=parent;display-name=A;user-id=1 :a!a@a.tmi.twitch.tv PRIVMSG #c :\x01ACTION cheer100 hello\x01"
	ev, ok := ParseLine(line)
	require.True(t, ok)
	msg := ev.(core.ChatEvent).Message

	assert.True(t, msg.IsAction)
	assert.Equal(t, "cheer100 hello", msg.Text)
	assert.Equal(t, 100, msg.Bits)
	assert.Equal(t, "r-1", msg.RewardID())
	assert.Equal(t, "parent", msg.ReplyParentID)
}

func TestParseEmotesDropsOutOfRange(t *testing.T) {
	spans := parseEmotes("25:0-4,10-20", 6)
	assert.Equal(t, []core.EmoteSpan{{ID: "25", Begin: 0, End: 4}}, spans)
	assert.Nil(t, parseEmotes("", 10))
}

func TestParseUserNotice(t *testing.T) {
	line := `@login=viewer;display-name=Viewer;msg-id=resub;system-msg=Viewer\ssubscribed\sfor\s6\smonths!;tmi-sent-ts=5 :tmi.twitch.tv USERNOTICE #c :great stream`
	ev, ok := ParseLine(line)
	require.True(t, ok)
	msg := ev.(core.UserNoticeEvent).Message
	assert.Equal(t, "Viewer subscribed for 6 months!", msg.SystemText)
	assert.Equal(t, "resub", msg.NoticeType)
	assert.Equal(t, "great stream", msg.Text)
	assert.Equal(t, "viewer", msg.UserLogin)
}

func TestParseClearMsgAndClearChat(t *testing.T) {
	ev, ok := ParseLine("@login=viewer;target-msg-id=abc;tmi-sent-ts=10 :tmi.twitch.tv CLEARMSG #c :bad words")
	require.True(t, ok)
	cm := ev.(core.ClearMsgEvent)
	assert.Equal(t, "abc", cm.TargetID)
	assert.Equal(t, "viewer", cm.Login)
	assert.Equal(t, "bad words", cm.Text)

	ev, ok = ParseLine("@ban-duration=600;target-user-id=42;tmi-sent-ts=11 :tmi.twitch.tv CLEARCHAT #c :viewer")
	require.True(t, ok)
	cc := ev.(core.ClearChatEvent).Entry
	assert.Equal(t, "viewer", cc.TargetLogin)
	assert.Equal(t, "42", cc.TargetUserID)
	assert.Equal(t, 600, cc.DurationSec)

	ev, ok = ParseLine("@tmi-sent-ts=12 :tmi.twitch.tv CLEARCHAT #c")
	require.True(t, ok)
	assert.Empty(t, ev.(core.ClearChatEvent).Entry.TargetLogin)
}

func TestParseRoomStateOnlyPresentFields(t *testing.T) {
	ev, ok := ParseLine("@room-id=1;slow=5 :tmi.twitch.tv ROOMSTATE #c")
	require.True(t, ok)
	rs := ev.(core.RoomStateEvent).State
	require.NotNil(t, rs.SlowSeconds)
	assert.Equal(t, 5, *rs.SlowSeconds)
	assert.Nil(t, rs.FollowersOnly)
	assert.Nil(t, rs.EmoteOnly)

	ev, _ = ParseLine("@emote-only=1;followers-only=-1;r9k=0;slow=0;subs-only=0 :tmi.twitch.tv ROOMSTATE #c")
	rs = ev.(core.RoomStateEvent).State
	assert.True(t, *rs.EmoteOnly)
	assert.Equal(t, -1, *rs.FollowersOnly)
	assert.False(t, *rs.UniqueChat)
	assert.False(t, *rs.SubsOnly)
}

func TestParseNoticeAndUserState(t *testing.T) {
	ev, ok := ParseLine("@msg-id=msg_slowmode :tmi.twitch.tv NOTICE #c :This room is in slow mode.")
	require.True(t, ok)
	n := ev.(core.NoticeEvent)
	assert.Equal(t, "msg_slowmode", n.Code)
	assert.Equal(t, "This room is in slow mode.", n.Text)

	ev, ok = ParseLine("@color=#FF0000;display-name=Me;emote-sets=0,300,42 :tmi.twitch.tv USERSTATE #c")
	require.True(t, ok)
	us := ev.(core.UserStateEvent)
	assert.Equal(t, []string{"0", "300", "42"}, us.EmoteSets)
	assert.Equal(t, "Me", us.Name)
}

func TestParseIgnoresOtherCommands(t *testing.T) {
	for _, line := range []string{
		"PING :tmi.twitch.tv",
		":tmi.twitch.tv 001 justinfan123 :Welcome, GLHF!",
		":justinfan123!justinfan123@justinfan123.tmi.twitch.tv JOIN #c",
		"",
		"@only-tags",
	} {
		_, ok := ParseLine(line)
		assert.False(t, ok, line)
	}
}

func TestTokenizeTrailingAndParams(t *testing.T) {
	m, ok := Tokenize(":tmi.twitch.tv CAP * ACK :twitch.tv/tags twitch.tv/commands")
	require.True(t, ok)
	assert.Equal(t, "CAP", m.Command)
	assert.Equal(t, []string{"*", "ACK"}, m.Params)
	assert.Equal(t, "twitch.tv/tags twitch.tv/commands", m.Trailing)
	assert.Equal(t, "tmi.twitch.tv", m.Prefix)
}
