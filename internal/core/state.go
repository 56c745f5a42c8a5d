package core

// RoomState is a snapshot of channel chat settings. A nil field was absent in
// the update that produced the snapshot; snapshots are replaced, never merged.
type RoomState struct {
	EmoteOnly     *bool `json:"emote_only,omitempty"`
	FollowersOnly *int  `json:"followers_only,omitempty"`
	UniqueChat    *bool `json:"unique_chat,omitempty"`
	SlowSeconds   *int  `json:"slow_seconds,omitempty"`
	SubsOnly      *bool `json:"subs_only,omitempty"`
}

// DisconnectedRoomState is the sentinel applied after a user-initiated disconnect.
func DisconnectedRoomState() RoomState {
	return RoomState{
		EmoteOnly:     Bool(false),
		FollowersOnly: Int(-1),
		UniqueChat:    Bool(false),
		SlowSeconds:   Int(0),
		SubsOnly:      Bool(false),
	}
}

func Bool(v bool) *bool { return &v }
func Int(v int) *int    { return &v }

type Raid struct {
	ID           string `json:"id"`
	TargetID     string `json:"target_id"`
	TargetLogin  string `json:"target_login"`
	TargetName   string `json:"target_name"`
	TargetAvatar string `json:"target_avatar,omitempty"`
	ViewerCount  int    `json:"viewer_count"`
	Running      bool   `json:"running"`
}

type PollChoice struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Votes  int    `json:"votes"`
	Voters int    `json:"voters"`
}

type Poll struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Status      string       `json:"status"`
	Choices     []PollChoice `json:"choices"`
	TotalVotes  int          `json:"total_votes"`
	RemainingMS int64        `json:"remaining_ms"`
}

type PredictionOutcome struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Color  string `json:"color,omitempty"`
	Points int    `json:"points"`
	Users  int    `json:"users"`
}

type Prediction struct {
	ID               string              `json:"id"`
	Title            string              `json:"title"`
	Status           string              `json:"status"`
	Outcomes         []PredictionOutcome `json:"outcomes"`
	WinningOutcomeID string              `json:"winning_outcome_id,omitempty"`
	WindowSeconds    int                 `json:"window_seconds"`
	CreatedAtMS      int64               `json:"created_at_ms"`
}

// Paint is a 7TV name cosmetic.
type Paint struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Function string       `json:"function"`
	Color    *int64       `json:"color,omitempty"`
	Angle    int          `json:"angle"`
	Repeat   bool         `json:"repeat"`
	ImageURL string       `json:"image_url,omitempty"`
	Stops    []PaintStop  `json:"stops,omitempty"`
	Shadows  []PaintShade `json:"shadows,omitempty"`
}

type PaintStop struct {
	At    float64 `json:"at"`
	Color int64   `json:"color"`
}

type PaintShade struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
	Color  int64   `json:"color"`
}

// CosmeticBadge is a provider badge worn next to a user name.
type CosmeticBadge struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Tooltip string   `json:"tooltip"`
	Images  ImageSet `json:"images"`
}

type PersonalEmoteSet struct {
	ID      string  `json:"id"`
	OwnerID string  `json:"owner_id,omitempty"`
	Emotes  []Emote `json:"emotes"`
}

// Chatter is a user seen in the current channel.
type Chatter struct {
	ID    string `json:"id,omitempty"`
	Login string `json:"login,omitempty"`
	Name  string `json:"name,omitempty"`
}
