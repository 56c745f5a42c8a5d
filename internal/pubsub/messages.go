package pubsub

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/you/chatcore/internal/core"
)

// Playback is a stream state change. Live is nil for viewer count updates.
type Playback struct {
	Live    *bool
	Viewers int
}

// Handler receives decoded topic messages. Calls are made from the client's
// read loop, one at a time.
type Handler interface {
	Playback(p Playback)
	// Reward is a redemption half; its Text is the user input, if any.
	Reward(msg core.ChatMessage)
	PointsEarned(points int, timestamp int64)
	ClaimAvailable(claimID string)
	Raid(r core.Raid)
	Poll(p core.Poll)
	Prediction(p core.Prediction)
}

type frame struct {
	Type  string `json:"type"`
	Nonce string `json:"nonce,omitempty"`
	Error string `json:"error,omitempty"`
	Data  *struct {
		Topic   string `json:"topic"`
		Message string `json:"message"`
	} `json:"data,omitempty"`
}

type listenFrame struct {
	Type  string `json:"type"`
	Nonce string `json:"nonce"`
	Data  struct {
		Topics    []string `json:"topics"`
		AuthToken string   `json:"auth_token,omitempty"`
	} `json:"data"`
}

type typed struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type imageSet struct {
	URL1x string `json:"url_1x"`
	URL2x string `json:"url_2x"`
	URL4x string `json:"url_4x"`
}

type redemption struct {
	Timestamp  time.Time `json:"timestamp"`
	Redemption struct {
		ID   string `json:"id"`
		User struct {
			ID          string `json:"id"`
			Login       string `json:"login"`
			DisplayName string `json:"display_name"`
		} `json:"user"`
		RedeemedAt time.Time `json:"redeemed_at"`
		Reward     struct {
			ID           string    `json:"id"`
			Title        string    `json:"title"`
			Cost         int       `json:"cost"`
			Image        *imageSet `json:"image"`
			DefaultImage *imageSet `json:"default_image"`
		} `json:"reward"`
		UserInput string `json:"user_input"`
	} `json:"redemption"`
}

func (r redemption) message(raw string) core.ChatMessage {
	rd := r.Redemption
	img := rd.Reward.Image
	if img == nil {
		img = rd.Reward.DefaultImage
	}
	reward := &core.Reward{ID: rd.Reward.ID, Title: rd.Reward.Title, Cost: rd.Reward.Cost}
	if img != nil {
		reward.Images = core.ImageSet{URL1x: img.URL1x, URL2x: img.URL2x, URL4x: img.URL4x}
	}
	ts := rd.RedeemedAt
	if ts.IsZero() {
		ts = r.Timestamp
	}
	msg := core.ChatMessage{
		Header:    core.Header{ID: rd.ID, Timestamp: core.NowMillis(), Raw: raw},
		UserID:    rd.User.ID,
		UserLogin: rd.User.Login,
		UserName:  rd.User.DisplayName,
		Text:      rd.UserInput,
		Reward:    reward,
	}
	if !ts.IsZero() {
		msg.Timestamp = ts.UnixMilli()
	}
	return msg
}

type raidPayload struct {
	Type string `json:"type"`
	Raid struct {
		ID                 string `json:"id"`
		TargetID           string `json:"target_id"`
		TargetLogin        string `json:"target_login"`
		TargetDisplayName  string `json:"target_display_name"`
		TargetProfileImage string `json:"target_profile_image"`
		ViewerCount        int    `json:"viewer_count"`
	} `json:"raid"`
}

type pollPayload struct {
	Poll struct {
		PollID  string `json:"poll_id"`
		Title   string `json:"title"`
		Status  string `json:"status"`
		Choices []struct {
			ChoiceID string `json:"choice_id"`
			Title    string `json:"title"`
			Votes    struct {
				Total int `json:"total"`
			} `json:"votes"`
			TotalVoters int `json:"total_voters"`
		} `json:"choices"`
		Votes struct {
			Total int `json:"total"`
		} `json:"votes"`
		RemainingDurationMilliseconds int64 `json:"remaining_duration_milliseconds"`
	} `json:"poll"`
}

type predictionPayload struct {
	Event struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Status   string `json:"status"`
		Outcomes []struct {
			ID          string `json:"id"`
			Title       string `json:"title"`
			Color       string `json:"color"`
			TotalPoints int    `json:"total_points"`
			TotalUsers  int    `json:"total_users"`
		} `json:"outcomes"`
		WinningOutcomeID        string    `json:"winning_outcome_id"`
		PredictionWindowSeconds int       `json:"prediction_window_seconds"`
		CreatedAt               time.Time `json:"created_at"`
	} `json:"event"`
}

// dispatch decodes one topic message and calls h. Unknown types are ignored.
func dispatch(h Handler, topic, message string) error {
	kind, _, _ := strings.Cut(topic, ".")
	switch kind {
	case "video-playback-by-id":
		var p struct {
			Type    string `json:"type"`
			Viewers int    `json:"viewers"`
		}
		if err := json.Unmarshal([]byte(message), &p); err != nil {
			return err
		}
		switch p.Type {
		case "stream-up":
			h.Playback(Playback{Live: core.Bool(true)})
		case "stream-down":
			h.Playback(Playback{Live: core.Bool(false)})
		case "viewcount":
			h.Playback(Playback{Viewers: p.Viewers})
		}
		return nil

	case "raid":
		var p raidPayload
		if err := json.Unmarshal([]byte(message), &p); err != nil {
			return err
		}
		if p.Type != "raid_update_v2" && p.Type != "raid_go_v2" {
			return nil
		}
		h.Raid(core.Raid{
			ID:           p.Raid.ID,
			TargetID:     p.Raid.TargetID,
			TargetLogin:  p.Raid.TargetLogin,
			TargetName:   p.Raid.TargetDisplayName,
			TargetAvatar: p.Raid.TargetProfileImage,
			ViewerCount:  p.Raid.ViewerCount,
			Running:      p.Type == "raid_go_v2",
		})
		return nil
	}

	var t typed
	if err := json.Unmarshal([]byte(message), &t); err != nil {
		return err
	}
	switch {
	case kind == "community-points-channel-v1" && t.Type == "reward-redeemed":
		var r redemption
		if err := json.Unmarshal(t.Data, &r); err != nil {
			return err
		}
		h.Reward(r.message(message))

	case kind == "community-points-user-v1" && t.Type == "points-earned":
		var p struct {
			Timestamp time.Time `json:"timestamp"`
			PointGain struct {
				TotalPoints int `json:"total_points"`
			} `json:"point_gain"`
		}
		if err := json.Unmarshal(t.Data, &p); err != nil {
			return err
		}
		ts := core.NowMillis()
		if !p.Timestamp.IsZero() {
			ts = p.Timestamp.UnixMilli()
		}
		h.PointsEarned(p.PointGain.TotalPoints, ts)

	case kind == "community-points-user-v1" && t.Type == "claim-available":
		var p struct {
			Claim struct {
				ID string `json:"id"`
			} `json:"claim"`
		}
		if err := json.Unmarshal(t.Data, &p); err != nil {
			return err
		}
		h.ClaimAvailable(p.Claim.ID)

	case kind == "polls":
		var p pollPayload
		if err := json.Unmarshal(t.Data, &p); err != nil {
			return err
		}
		poll := core.Poll{
			ID:          p.Poll.PollID,
			Title:       p.Poll.Title,
			Status:      p.Poll.Status,
			TotalVotes:  p.Poll.Votes.Total,
			RemainingMS: p.Poll.RemainingDurationMilliseconds,
		}
		for _, c := range p.Poll.Choices {
			poll.Choices = append(poll.Choices, core.PollChoice{ID: c.ChoiceID, Title: c.Title, Votes: c.Votes.Total, Voters: c.TotalVoters})
		}
		h.Poll(poll)

	case kind == "predictions-channel-v1" && (t.Type == "event-created" || t.Type == "event-updated"):
		var p predictionPayload
		if err := json.Unmarshal(t.Data, &p); err != nil {
			return err
		}
		pred := core.Prediction{
			ID:               p.Event.ID,
			Title:            p.Event.Title,
			Status:           p.Event.Status,
			WinningOutcomeID: p.Event.WinningOutcomeID,
			WindowSeconds:    p.Event.PredictionWindowSeconds,
		}
		if !p.Event.CreatedAt.IsZero() {
			pred.CreatedAtMS = p.Event.CreatedAt.UnixMilli()
		}
		for _, o := range p.Event.Outcomes {
			pred.Outcomes = append(pred.Outcomes, core.PredictionOutcome{ID: o.ID, Title: o.Title, Color: o.Color, Points: o.TotalPoints, Users: o.TotalUsers})
		}
		h.Prediction(pred)
	}
	return nil
}
