package gql

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/you/chatcore/internal/core"
)

// CommentNode is one archived chat comment. Downloaded transcripts store the
// same shape in their "comments" array.
type CommentNode struct {
	ID        string `json:"id"`
	Commenter *struct {
		ID          string `json:"id"`
		Login       string `json:"login"`
		DisplayName string `json:"displayName"`
	} `json:"commenter"`
	ContentOffsetSeconds float64   `json:"contentOffsetSeconds"`
	CreatedAt            time.Time `json:"createdAt"`
	Message              struct {
		Fragments []struct {
			Text  string `json:"text"`
			Emote *struct {
				EmoteID string `json:"emoteID"`
			} `json:"emote"`
		} `json:"fragments"`
		UserBadges []struct {
			SetID   string `json:"setID"`
			Version string `json:"version"`
		} `json:"userBadges"`
		UserColor string `json:"userColor"`
	} `json:"message"`
}

// OffsetMillis is the comment position relative to the start of the video.
func (n CommentNode) OffsetMillis() int64 {
	return int64(n.ContentOffsetSeconds * 1000)
}

// ChatMessage converts the node. The timestamp is createdAt when present,
// otherwise startMs plus the content offset.
func (n CommentNode) ChatMessage(startMs int64) core.ChatMessage {
	msg := core.ChatMessage{Header: core.Header{ID: n.ID}}
	if n.Commenter != nil {
		msg.UserID = n.Commenter.ID
		msg.UserLogin = n.Commenter.Login
		msg.UserName = n.Commenter.DisplayName
	}
	if !n.CreatedAt.IsZero() {
		msg.Timestamp = n.CreatedAt.UnixMilli()
	} else {
		msg.Timestamp = startMs + n.OffsetMillis()
	}
	msg.Color = n.Message.UserColor

	var text []byte
	pos := 0
	for _, f := range n.Message.Fragments {
		count := utf8.RuneCountInString(f.Text)
		if f.Emote != nil && f.Emote.EmoteID != "" && count > 0 {
			msg.Emotes = append(msg.Emotes, core.EmoteSpan{ID: f.Emote.EmoteID, Begin: pos, End: pos + count - 1})
		}
		text = append(text, f.Text...)
		pos += count
	}
	msg.Text = string(text)
	for _, b := range n.Message.UserBadges {
		if b.SetID == "" {
			continue
		}
		msg.Badges = append(msg.Badges, core.BadgeRef{SetID: b.SetID, Version: b.Version})
	}
	return msg
}

type Comment struct {
	OffsetMs int64
	Message  core.ChatMessage
}

type Page struct {
	Comments []Comment
	// Cursor continues after the last comment; empty when HasNext is false.
	Cursor  string
	HasNext bool
}

// VideoComments fetches one page of archived chat starting at offsetSeconds,
// or continuing from cursor when it is non-empty.
func (c *Client) VideoComments(ctx context.Context, videoID string, offsetSeconds int, cursor string) (Page, error) {
	vars := map[string]any{"videoID": videoID}
	if cursor != "" {
		vars["cursor"] = cursor
	} else {
		vars["contentOffsetSeconds"] = offsetSeconds
	}
	var data struct {
		Video *struct {
			Comments *struct {
				Edges []struct {
					Cursor string      `json:"cursor"`
					Node   CommentNode `json:"node"`
				} `json:"edges"`
				PageInfo struct {
					HasNextPage bool `json:"hasNextPage"`
				} `json:"pageInfo"`
			} `json:"comments"`
		} `json:"video"`
	}
	if err := c.do(ctx, "VideoCommentsByOffsetOrCursor", hashVideoComments, vars, false, &data); err != nil {
		return Page{}, err
	}
	var p Page
	if data.Video == nil || data.Video.Comments == nil {
		return p, nil
	}
	edges := data.Video.Comments.Edges
	for _, e := range edges {
		p.Comments = append(p.Comments, Comment{OffsetMs: e.Node.OffsetMillis(), Message: e.Node.ChatMessage(0)})
	}
	p.HasNext = data.Video.Comments.PageInfo.HasNextPage
	if p.HasNext && len(edges) > 0 {
		p.Cursor = edges[len(edges)-1].Cursor
	}
	return p, nil
}
