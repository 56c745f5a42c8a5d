package transcript

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/chatcore/internal/core"
)

func fixture(t *testing.T, emotePayload, badgePayload string) []byte {
	t.Helper()
	doc := `{
  "video": {"id": "v1", "nested": [1, 2.5, {"deep": [true, null, "x\"y"]}], "title": "café \\ night"},
  "startTime": 30,
  "comments": [
    {"id": "c2", "commenter": {"id": "2", "login": "b", "displayName": "B"}, "contentOffsetSeconds": 40,
     "message": {"fragments": [{"text": "hi "}, {"text": "Kappa", "emote": {"emoteID": "25"}}], "userBadges": [{"setID": "sub", "version": "3"}], "userColor": "#FF0000"}},
    {"id": "c1", "commenter": {"id": "1", "login": "a", "displayName": "A"}, "contentOffsetSeconds": 35, "message": {"fragments": [{"text": "first"}]}},
    {"id": "broken", "contentOffsetSeconds": "soon"},
    {"bogus": 1},
    {"id": "empty", "contentOffsetSeconds": 50, "message": {"fragments": []}}
  ],
  "twitchEmotes": [{"id": "25", "data": "` + emotePayload + `", "extra": {"a": [1]}}],
  "twitchBadges": [{"setId": "sub", "version": "3", "data"  :  "` + badgePayload + `"}, {"setId": "nodata", "version": "1"}],
  "cheerEmotes": [{"name": "Cheer", "minBits": 100, "color": "#9c3ee8", "data": "` + badgePayload + `"}],
  "emotes": [{"name": "Pog", "isZeroWidth": true, "data": "` + emotePayload + `"}]
}`
	return []byte(doc)
}

func TestParseRecordsAssetOffsets(t *testing.T) {
	emoteBytes := bytes.Repeat([]byte{0xff, 0x00, 0x7f, 0x10}, 40000)
	badgeBytes := []byte("badge image bytes?")
	emotePayload := base64.RawStdEncoding.EncodeToString(emoteBytes)
	badgePayload := strings.ReplaceAll(base64.StdEncoding.EncodeToString(badgeBytes), "/", `\/`)
	doc := fixture(t, emotePayload, badgePayload)

	tr, err := Parse(bytes.NewReader(doc))
	require.NoError(t, err)

	assert.EqualValues(t, 30000, tr.StartTimeMs)
	require.Len(t, tr.TwitchEmotes, 1)
	require.Len(t, tr.Badges, 1)
	require.Len(t, tr.CheerEmotes, 1)
	require.Len(t, tr.Emotes, 1)
	assert.True(t, tr.Emotes[0].ZeroWidth)
	assert.Equal(t, 100, tr.CheerEmotes[0].MinBits)

	ref := *tr.TwitchEmotes[0].Local
	assert.Equal(t, emotePayload, string(doc[ref.Offset:ref.Offset+int64(ref.Length)]))
	got, err := ReadAssetAt(bytes.NewReader(doc), ref)
	require.NoError(t, err)
	assert.Equal(t, emoteBytes, got)

	got, err = ReadAssetAt(bytes.NewReader(doc), *tr.Badges[0].Local)
	require.NoError(t, err)
	assert.Equal(t, badgeBytes, got)

	got, err = ReadAssetAt(bytes.NewReader(doc), *tr.Emotes[0].Local)
	require.NoError(t, err)
	assert.Equal(t, emoteBytes, got)
}

func TestParseStructuredComments(t *testing.T) {
	tr, err := Parse(bytes.NewReader(fixture(t, "AAAA", "AAAA")))
	require.NoError(t, err)

	require.Len(t, tr.Entries, 2)
	first := tr.Entries[0].(core.ChatMessage)
	second := tr.Entries[1].(core.ChatMessage)
	assert.Equal(t, "c1", first.ID)
	assert.EqualValues(t, 35000, first.Timestamp)
	assert.Equal(t, "hi Kappa", second.Text)
	assert.Equal(t, []core.EmoteSpan{{ID: "25", Begin: 3, End: 7}}, second.Emotes)
	assert.Equal(t, []core.BadgeRef{{SetID: "sub", Version: "3"}}, second.Badges)
	assert.Equal(t, "#FF0000", second.Color)
}

func TestParseLiveComments(t *testing.T) {
	lines := []string{
		"@id=m1;user-id=1;display-name=Alice;emotes=25:0-4;tmi-sent-ts=1700000001000 :alice!alice@alice.tmi.twitch.tv PRIVMSG #chan :Kappa hi",
		"@login=alice;target-msg-id=m1;tmi-sent-ts=1700000002000 :tmi.twitch.tv CLEARMSG #chan :Kappa hi",
		"@ban-duration=60;target-user-id=1;tmi-sent-ts=1700000003000 :tmi.twitch.tv CLEARCHAT #chan :alice",
		"@msg-id=slow_on;tmi-sent-ts=1700000004000 :tmi.twitch.tv NOTICE #chan :slow",
		"garbage",
	}
	encoded, err := json.Marshal(lines)
	require.NoError(t, err)
	doc := `{"liveStartTime":"2023-11-14T22:13:20Z","liveComments":` + string(encoded) + `}`

	tr, err := ParseWith(strings.NewReader(doc), Options{NameDisplay: core.NameDisplayOnly})
	require.NoError(t, err)
	assert.EqualValues(t, 1700000000000, tr.StartTimeMs)
	require.Len(t, tr.Entries, 3)

	cleared := tr.Entries[1].(core.ClearedMessage)
	assert.Equal(t, "Alice's message was deleted: Kappa hi", cleared.Text)
	prefix := len("Alice's message was deleted: ")
	assert.Equal(t, []core.EmoteSpan{{ID: "25", Begin: prefix, End: prefix + 4}}, cleared.Emotes)

	timeout := tr.Entries[2].(core.ClearChat)
	assert.Equal(t, "alice has been timed out for 60 seconds", timeout.Text)
}

func TestParseRejectsNonObject(t *testing.T) {
	_, err := Parse(strings.NewReader(`[1,2]`))
	assert.Error(t, err)
	_, err = Parse(strings.NewReader(`{"comments": [`))
	assert.Error(t, err)
}

func TestSkipValueSpan(t *testing.T) {
	value := `{"a": [1, "two", {"b": null}], "c": "x\"y"}`
	dec := json.NewDecoder(strings.NewReader(value + ` 7`))
	span, err := skipValue(dec)
	require.NoError(t, err)
	assert.EqualValues(t, len(value), span)

	var next int
	require.NoError(t, dec.Decode(&next))
	assert.Equal(t, 7, next)
}

func TestReadAssetFromFile(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("png"))
	doc := fixture(t, payload, payload)
	path := filepath.Join(t.TempDir(), "chat.json")
	require.NoError(t, os.WriteFile(path, doc, 0o600))

	f, err := os.Open(path)
	require.NoError(t, err)
	tr, err := Parse(f)
	f.Close()
	require.NoError(t, err)

	got, err := ReadAsset(path, *tr.Badges[0].Local)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), got)

	_, err = ReadAsset(path, core.AssetRef{Offset: int64(len(doc)) + 10, Length: 4})
	assert.Error(t, err)
}
