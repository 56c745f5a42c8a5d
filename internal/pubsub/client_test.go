package pubsub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/chatcore/internal/core"
)

type recorder struct {
	mu          sync.Mutex
	playback    []Playback
	rewards     []core.ChatMessage
	points      []int
	claims      []string
	raids       []core.Raid
	polls       []core.Poll
	predictions []core.Prediction
}

func (r *recorder) lock(f func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f()
}

func (r *recorder) Playback(p Playback) { r.lock(func() { r.playback = append(r.playback, p) }) }
func (r *recorder) Reward(m core.ChatMessage) { r.lock(func() { r.rewards = append(r.rewards, m) }) }
func (r *recorder) PointsEarned(p int, _ int64) { r.lock(func() { r.points = append(r.points, p) }) }
func (r *recorder) ClaimAvailable(id string) { r.lock(func() { r.claims = append(r.claims, id) }) }
func (r *recorder) Raid(x core.Raid) { r.lock(func() { r.raids = append(r.raids, x) }) }
func (r *recorder) Poll(p core.Poll) { r.lock(func() { r.polls = append(r.polls, p) }) }
func (r *recorder) Prediction(p core.Prediction) {
	r.lock(func() { r.predictions = append(r.predictions, p) })
}

func message(topic string, payload any) string {
	b, _ := json.Marshal(payload)
	f, _ := json.Marshal(map[string]any{"type": "MESSAGE", "data": map[string]string{"topic": topic, "message": string(b)}})
	return string(f)
}

const rewardJSON = `{"type":"reward-redeemed","data":{"timestamp":"2024-01-01T00:00:00Z","redemption":{"id":"red-1",
"user":{"id":"42","login":"viewer","display_name":"Viewer"},"redeemed_at":"2024-01-01T00:00:01Z",
"reward":{"id":"reward-1","title":"Hydrate","cost":500,"image":null,"default_image":{"url_1x":"https://img/1x.png"}},"user_input":"drink water"}}}`

func TestListenAndDispatch(t *testing.T) {
	listened := make(chan listenFrame, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		var l listenFrame
		if err := ws.ReadJSON(&l); err != nil {
			return
		}
		listened <- l
		frames := []string{
			`{"type":"RESPONSE","nonce":"` + l.Nonce + `","error":""}`,
			`{"type":"MESSAGE","data":{"topic":"community-points-channel-v1.100","message":` + strconvQuote(rewardJSON) + `}}`,
			message("raid.100", map[string]any{"type": "raid_update_v2", "raid": map[string]any{"id": "raid-1", "target_login": "friend", "target_display_name": "Friend", "viewer_count": 12}}),
			message("video-playback-by-id.100", map[string]any{"type": "stream-up"}),
			message("community-points-user-v1.42", map[string]any{"type": "claim-available", "data": map[string]any{"claim": map[string]string{"id": "claim-1"}}}),
		}
		for _, f := range frames {
			_ = ws.WriteMessage(websocket.TextMessage, []byte(f))
		}
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	rec := &recorder{}
	c := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), ChannelID: "100", UserID: "42", Token: "tok", Handler: rec})
	c.Connect(context.Background())
	defer c.Disconnect()

	select {
	case l := <-listened:
		assert.Equal(t, "LISTEN", l.Type)
		assert.NotEmpty(t, l.Nonce)
		assert.Equal(t, "tok", l.Data.AuthToken)
		assert.Contains(t, l.Data.Topics, "community-points-user-v1.42")
		assert.Len(t, l.Data.Topics, 6)
	case <-time.After(3 * time.Second):
		t.Fatal("no LISTEN frame")
	}

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.claims) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.True(t, c.IsActive())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.rewards, 1)
	reward := rec.rewards[0]
	assert.Equal(t, "drink water", reward.Text)
	assert.Equal(t, "reward-1", reward.RewardID())
	assert.Equal(t, "https://img/1x.png", reward.Reward.Images.URL1x)
	assert.EqualValues(t, 1704067201000, reward.Timestamp)

	require.Len(t, rec.raids, 1)
	assert.Equal(t, "raid-1", rec.raids[0].ID)
	assert.False(t, rec.raids[0].Running)

	require.Len(t, rec.playback, 1)
	assert.True(t, *rec.playback[0].Live)
	assert.Equal(t, []string{"claim-1"}, rec.claims)
}

func strconvQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestTopicsAnonymous(t *testing.T) {
	topics := Topics(Config{ChannelID: "1"})
	assert.Len(t, topics, 5)
	assert.NotContains(t, strings.Join(topics, ","), "community-points-user-v1")
}

func TestDispatchPollAndPrediction(t *testing.T) {
	rec := &recorder{}
	poll := `{"type":"POLL_UPDATE","data":{"poll":{"poll_id":"p","title":"Best?","status":"ACTIVE",
"choices":[{"choice_id":"a","title":"A","votes":{"total":3},"total_voters":2}],"votes":{"total":3},"remaining_duration_milliseconds":5000}}}`
	require.NoError(t, dispatch(rec, "polls.1", poll))
	require.Len(t, rec.polls, 1)
	assert.Equal(t, 3, rec.polls[0].TotalVotes)
	assert.Equal(t, core.PollChoice{ID: "a", Title: "A", Votes: 3, Voters: 2}, rec.polls[0].Choices[0])

	pred := `{"type":"event-updated","data":{"event":{"id":"e","title":"Win?","status":"LOCKED",
"outcomes":[{"id":"o1","title":"Yes","color":"BLUE","total_points":100,"total_users":4}],"prediction_window_seconds":60,"created_at":"2024-01-01T00:00:00Z"}}}`
	require.NoError(t, dispatch(rec, "predictions-channel-v1.1", pred))
	require.Len(t, rec.predictions, 1)
	assert.Equal(t, "LOCKED", rec.predictions[0].Status)
	assert.EqualValues(t, 1704067200000, rec.predictions[0].CreatedAtMS)

	require.NoError(t, dispatch(rec, "community-points-user-v1.1", `{"type":"points-earned","data":{"point_gain":{"total_points":50}}}`))
	assert.Equal(t, []int{50}, rec.points)

	require.NoError(t, dispatch(rec, "raid.1", `{"type":"raid_cancel_v2","raid":{"id":"x"}}`))
	assert.Empty(t, rec.raids)

	assert.Error(t, dispatch(rec, "polls.1", "{"))
}

func TestReadFramesStopsWithSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	read := func() (int, []byte, error) {
		return websocket.TextMessage, []byte(`{"type":"PONG"}`), nil
	}
	frames := make(chan frame)
	done := make(chan struct{})
	go func() {
		readFrames(ctx, read, frames, make(chan error, 1))
		close(done)
	}()

	f := <-frames
	assert.Equal(t, "PONG", f.Type)

	// Nobody drains frames once the session has returned.
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reader still blocked after the session ended")
	}
}
