package gql

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/chatcore/internal/core"
)

func serve(t *testing.T, check func(op operation, r *http.Request), body string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var op operation
		require.NoError(t, json.NewDecoder(r.Body).Decode(&op))
		if check != nil {
			check(op, r)
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return New(Config{URL: srv.URL, ClientID: "cid", Token: "oauth:tok", Integrity: "int", HTTP: srv.Client()})
}

const commentsPage = `{"data":{"video":{"comments":{"edges":[
{"cursor":"c1","node":{"id":"a","commenter":{"id":"1","login":"viewer","displayName":"Viewer"},"contentOffsetSeconds":12.5,
"createdAt":"2024-01-01T00:00:12.5Z","message":{"fragments":[{"text":"hi ","emote":null},{"text":"Kappa","emote":{"emoteID":"25"}}],
"userBadges":[{"setID":"subscriber","version":"3"},{"setID":"","version":""}],"userColor":"#00FF00"}}},
{"cursor":"c2","node":{"id":"b","commenter":null,"contentOffsetSeconds":14,"message":{"fragments":[{"text":"anon"}]}}}
],"pageInfo":{"hasNextPage":true}}}}}`

func TestVideoCommentsPage(t *testing.T) {
	c := serve(t, func(op operation, r *http.Request) {
		assert.Equal(t, "VideoCommentsByOffsetOrCursor", op.OperationName)
		assert.Equal(t, hashVideoComments, op.Extensions.PersistedQuery.SHA256Hash)
		assert.Equal(t, "v1", op.Variables["videoID"])
		assert.EqualValues(t, 10, op.Variables["contentOffsetSeconds"])
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "int", r.Header.Get("Client-Integrity"))
	}, commentsPage)

	p, err := c.VideoComments(context.Background(), "v1", 10, "")
	require.NoError(t, err)
	require.Len(t, p.Comments, 2)
	assert.True(t, p.HasNext)
	assert.Equal(t, "c2", p.Cursor)

	first := p.Comments[0]
	assert.EqualValues(t, 12500, first.OffsetMs)
	assert.Equal(t, "hi Kappa", first.Message.Text)
	assert.Equal(t, []core.EmoteSpan{{ID: "25", Begin: 3, End: 7}}, first.Message.Emotes)
	assert.Equal(t, []core.BadgeRef{{SetID: "subscriber", Version: "3"}}, first.Message.Badges)
	assert.Equal(t, "Viewer", first.Message.UserName)
	assert.EqualValues(t, 1704067212500, first.Message.Timestamp)

	assert.Empty(t, p.Comments[1].Message.UserLogin)
	assert.EqualValues(t, 14000, p.Comments[1].Message.Timestamp)
}

func TestVideoCommentsCursor(t *testing.T) {
	c := serve(t, func(op operation, _ *http.Request) {
		assert.Equal(t, "next", op.Variables["cursor"])
		assert.NotContains(t, op.Variables, "contentOffsetSeconds")
	}, `{"data":{"video":{"comments":{"edges":[],"pageInfo":{"hasNextPage":false}}}}}`)
	p, err := c.VideoComments(context.Background(), "v1", 0, "next")
	require.NoError(t, err)
	assert.Empty(t, p.Comments)
	assert.Empty(t, p.Cursor)
}

func TestIntegrityErrorIsSentinel(t *testing.T) {
	c := serve(t, nil, `{"errors":[{"message":"failed integrity check"}],"data":null}`)
	err := c.JoinRaid(context.Background(), "raid")
	assert.ErrorIs(t, err, core.ErrIntegrity)
	assert.True(t, core.IsIntegrity(err))
}

func TestClaimPoints(t *testing.T) {
	c := serve(t, func(op operation, r *http.Request) {
		assert.Equal(t, "OAuth tok", r.Header.Get("Authorization"))
		input := op.Variables["input"].(map[string]any)
		assert.Equal(t, "100", input["channelID"])
		assert.Equal(t, "claim", input["claimID"])
	}, `{"data":{"claimCommunityPoints":{"error":null}}}`)
	require.NoError(t, c.ClaimPoints(context.Background(), "100", "claim"))

	failing := serve(t, nil, `{"data":{"claimCommunityPoints":{"error":{"code":"NOT_FOUND"}}}}`)
	assert.EqualError(t, failing.ClaimPoints(context.Background(), "100", "claim"), "gql: claim points: NOT_FOUND")
}

func TestChannelPointsContext(t *testing.T) {
	c := serve(t, nil, `{"data":{"community":{"channel":{"self":{"communityPoints":{"balance":1200,"availableClaim":{"id":"claim-1"}}}}}}}`)
	pc, err := c.ChannelPointsContext(context.Background(), "chan")
	require.NoError(t, err)
	assert.Equal(t, 1200, pc.Balance)
	assert.Equal(t, "claim-1", pc.ClaimID)
}

func TestOtherErrorsJoined(t *testing.T) {
	c := serve(t, nil, `{"errors":[{"message":"a"},{"message":"b"}]}`)
	err := c.JoinRaid(context.Background(), "r")
	assert.EqualError(t, err, "gql: a; b")
	assert.False(t, core.IsIntegrity(err))
}
