package twitchirc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/chatcore/internal/core"
)

func TestRecentLoaderParsesBacklog(t *testing.T) {
	var gotPath, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLimit = r.URL.Query().Get("limit")
		_, _ = w.Write([]byte(`{"messages":[
			"@id=a;user-id=1;tmi-sent-ts=10 :a!a@a.tmi.twitch.tv PRIVMSG #chan :hello",
			"not an irc line",
			":tmi.twitch.tv 001 justinfan :Welcome",
			"@target-msg-id=a;login=a;tmi-sent-ts=11 :tmi.twitch.tv CLEARMSG #chan :hello"
		],"error":null}`))
	}))
	defer srv.Close()

	l := &RecentLoader{BaseURL: srv.URL, HTTP: srv.Client(), Limit: 50}
	events, err := l.Load(context.Background(), "#Chan")
	require.NoError(t, err)
	assert.Equal(t, "/chan", gotPath)
	assert.Equal(t, "50", gotLimit)
	require.Len(t, events, 2)
	assert.Equal(t, "hello", events[0].(core.ChatEvent).Message.Text)
	assert.Equal(t, "a", events[1].(core.ClearMsgEvent).TargetID)
}

func TestRecentLoaderReportsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"messages":[],"error":"channel_ignored"}`))
	}))
	defer srv.Close()

	_, err := (&RecentLoader{BaseURL: srv.URL}).Load(context.Background(), "chan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_ignored")
}
