package httpapi

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/chatcore/internal/core"
)

func TestParseFilters(t *testing.T) {
	f, err := ParseFilters(url.Values{
		"kind":     {"msg,ban", "chat"},
		"username": {"Alice, bob", "alice"},
		"limit":    {"5000"},
		"order":    {"ASC"},
		"since":    {"1700000000"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"chat", "clearchat"}, f.Kinds)
	assert.Equal(t, []string{"alice", "bob"}, f.Usernames)
	assert.Equal(t, maxLimit, f.Limit)
	assert.Equal(t, OrderAsc, f.Order)
	require.NotNil(t, f.Since)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), *f.Since)

	f, err = ParseFilters(url.Values{"kind": {"chat,all"}})
	require.NoError(t, err)
	assert.Empty(t, f.Kinds, "all disables the kind filter")

	for _, bad := range []url.Values{
		{"limit": {"0"}},
		{"order": {"sideways"}},
		{"since": {"yesterday"}},
		{"kind": {"emote"}},
	} {
		_, err := ParseFilters(bad)
		assert.Error(t, err, bad.Encode())
	}
}

func TestFiltersMatchUsers(t *testing.T) {
	f := Filters{Usernames: []string{"ali"}, Limit: 10}
	assert.True(t, f.Matches(core.ChatMessage{UserLogin: "Alice"}))
	assert.True(t, f.Matches(core.ClearChat{TargetLogin: "alice"}))
	assert.False(t, f.Matches(core.ClearChat{}), "channel-wide clears have no user")
	assert.False(t, f.Matches(core.NewSystem("hi")))
}

func TestFiltersQuery(t *testing.T) {
	since := time.Unix(10, 0)
	q := Filters{Kinds: []string{"chat"}, Usernames: []string{"bob"}, Since: &since, Limit: 3, Order: OrderDesc}.Query()
	assert.Equal(t, []string{"chat"}, q.Kinds)
	assert.Equal(t, []string{"bob"}, q.Users)
	assert.Equal(t, 3, q.Limit)
	assert.False(t, q.Ascending)
}
