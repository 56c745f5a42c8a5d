// Package reward pairs the two halves of a channel-point redemption that
// carries user text: the chat line and the redemption notification arrive
// independently and in either order.
package reward

import (
	"sync"

	"github.com/you/chatcore/internal/core"
)

type Half int

const (
	TextHalf Half = iota
	RedemptionHalf
)

func (h Half) String() string {
	if h == RedemptionHalf {
		return "redemption"
	}
	return "text"
}

type key struct {
	rewardID string
	userID   string
}

type pending struct {
	msg  core.ChatMessage
	half Half
}

// Reconciler holds halves waiting for their counterpart. Pending halves never
// expire.
type Reconciler struct {
	mu      sync.Mutex
	waiting map[key]pending
}

func New() *Reconciler {
	return &Reconciler{waiting: make(map[key]pending)}
}

// Offer submits one half. It returns the merged message and true once both
// halves for the same (reward id, user id) have arrived. Messages without a
// reward id pass straight through, as do redemptions without user input
// since no chat line will follow them. A second half of the same kind
// replaces the waiting one.
func (r *Reconciler) Offer(msg core.ChatMessage, half Half) (core.ChatMessage, bool) {
	rid := msg.RewardID()
	if rid == "" || (half == RedemptionHalf && msg.Text == "") {
		return msg, true
	}
	k := key{rewardID: rid, userID: msg.UserID}

	r.mu.Lock()
	defer r.mu.Unlock()
	other, ok := r.waiting[k]
	if !ok || other.half == half {
		r.waiting[k] = pending{msg: msg, half: half}
		return core.ChatMessage{}, false
	}
	delete(r.waiting, k)
	if half == TextHalf {
		return merge(msg, other.msg), true
	}
	return merge(other.msg, msg), true
}

// Pending reports how many halves are waiting.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiting)
}

// Reset drops all waiting halves.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.waiting = make(map[key]pending)
	r.mu.Unlock()
}

func merge(text, redemption core.ChatMessage) core.ChatMessage {
	out := text
	out.ID = or(text.ID, redemption.ID)
	out.Timestamp = text.Timestamp
	if out.Timestamp == 0 {
		out.Timestamp = redemption.Timestamp
	}
	out.Raw = or(text.Raw, redemption.Raw)
	out.UserID = or(text.UserID, redemption.UserID)
	out.UserLogin = or(text.UserLogin, redemption.UserLogin)
	out.UserName = or(text.UserName, redemption.UserName)
	out.Text = or(text.Text, redemption.Text)
	out.Color = or(text.Color, redemption.Color)
	if len(out.Emotes) == 0 {
		out.Emotes = redemption.Emotes
	}
	if len(out.Badges) == 0 {
		out.Badges = redemption.Badges
	}
	if out.Bits == 0 {
		out.Bits = redemption.Bits
	}
	out.IsAction = text.IsAction || redemption.IsAction
	out.IsFirst = text.IsFirst || redemption.IsFirst
	out.SystemText = or(text.SystemText, redemption.SystemText)
	out.NoticeType = or(text.NoticeType, redemption.NoticeType)
	out.ReplyParentID = or(text.ReplyParentID, redemption.ReplyParentID)

	rw := core.Reward{ID: text.RewardID()}
	if redemption.Reward != nil {
		rw = *redemption.Reward
	}
	if text.Reward != nil {
		rw.ID = or(rw.ID, text.Reward.ID)
		rw.Title = or(rw.Title, text.Reward.Title)
		if rw.Cost == 0 {
			rw.Cost = text.Reward.Cost
		}
		if rw.Images == (core.ImageSet{}) {
			rw.Images = text.Reward.Images
		}
	}
	out.Reward = &rw
	return out
}

func or(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
