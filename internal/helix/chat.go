package helix

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

type sendMessageRequest struct {
	BroadcasterID        string `json:"broadcaster_id"`
	SenderID             string `json:"sender_id"`
	Message              string `json:"message"`
	ReplyParentMessageID string `json:"reply_parent_message_id,omitempty"`
}

type sendMessageResponse struct {
	Data []struct {
		MessageID  string `json:"message_id"`
		IsSent     bool   `json:"is_sent"`
		DropReason *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"drop_reason"`
	} `json:"data"`
}

// SendMessage posts a chat message as the authenticated user.
func (c *Client) SendMessage(ctx context.Context, broadcasterID, text, replyID string) error {
	var resp sendMessageResponse
	_, err := c.do(ctx, http.MethodPost, "/chat/messages", nil, sendMessageRequest{
		BroadcasterID:        broadcasterID,
		SenderID:             c.cfg.UserID,
		Message:              text,
		ReplyParentMessageID: replyID,
	}, &resp)
	if err != nil {
		return err
	}
	if len(resp.Data) == 0 {
		return errors.New("helix: message not sent")
	}
	if d := resp.Data[0]; !d.IsSent {
		if d.DropReason != nil && d.DropReason.Message != "" {
			return errors.New(d.DropReason.Message)
		}
		return errors.New("helix: message not sent")
	}
	return nil
}

func (c *Client) moderatorQuery(broadcasterID string) url.Values {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("moderator_id", c.cfg.UserID)
	return q
}

// SendAnnouncement highlights text in chat. color is one of blue, green,
// orange, purple or primary.
func (c *Client) SendAnnouncement(ctx context.Context, broadcasterID, text, color string) error {
	if color == "" {
		color = "primary"
	}
	body := map[string]string{"message": text, "color": color}
	_, err := c.do(ctx, http.MethodPost, "/chat/announcements", c.moderatorQuery(broadcasterID), body, nil)
	return err
}

// BanUser bans target, or times it out when durationSec > 0.
func (c *Client) BanUser(ctx context.Context, broadcasterID, target string, durationSec int, reason string) error {
	id, err := c.userID(ctx, target)
	if err != nil {
		return err
	}
	data := map[string]any{"user_id": id}
	if durationSec > 0 {
		data["duration"] = durationSec
	}
	if reason != "" {
		data["reason"] = reason
	}
	_, err = c.do(ctx, http.MethodPost, "/moderation/bans", c.moderatorQuery(broadcasterID), map[string]any{"data": data}, nil)
	return err
}

func (c *Client) UnbanUser(ctx context.Context, broadcasterID, target string) error {
	id, err := c.userID(ctx, target)
	if err != nil {
		return err
	}
	q := c.moderatorQuery(broadcasterID)
	q.Set("user_id", id)
	_, err = c.do(ctx, http.MethodDelete, "/moderation/bans", q, nil, nil)
	return err
}

// DeleteMessages removes one message, or every message when messageID is empty.
func (c *Client) DeleteMessages(ctx context.Context, broadcasterID, messageID string) error {
	q := c.moderatorQuery(broadcasterID)
	if messageID != "" {
		q.Set("message_id", messageID)
	}
	_, err := c.do(ctx, http.MethodDelete, "/moderation/chat", q, nil, nil)
	return err
}

func (c *Client) UpdateChatColor(ctx context.Context, color string) error {
	q := url.Values{}
	q.Set("user_id", c.cfg.UserID)
	q.Set("color", color)
	_, err := c.do(ctx, http.MethodPut, "/chat/color", q, nil, nil)
	return err
}

type Commercial struct {
	Length     int    `json:"length"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

func (c *Client) StartCommercial(ctx context.Context, broadcasterID string, length int) (Commercial, error) {
	if length <= 0 {
		length = 30
	}
	var resp struct {
		Data []Commercial `json:"data"`
	}
	body := map[string]any{"broadcaster_id": broadcasterID, "length": length}
	if _, err := c.do(ctx, http.MethodPost, "/channels/commercial", nil, body, &resp); err != nil {
		return Commercial{}, err
	}
	if len(resp.Data) == 0 {
		return Commercial{Length: length}, nil
	}
	return resp.Data[0], nil
}

type Marker struct {
	ID              string `json:"id"`
	PositionSeconds int    `json:"position_seconds"`
	Description     string `json:"description"`
}

func (c *Client) CreateStreamMarker(ctx context.Context, broadcasterID, description string) (Marker, error) {
	body := map[string]string{"user_id": broadcasterID}
	if description != "" {
		body["description"] = description
	}
	var resp struct {
		Data []Marker `json:"data"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/streams/markers", nil, body, &resp); err != nil {
		return Marker{}, err
	}
	if len(resp.Data) == 0 {
		return Marker{}, errors.New("helix: marker not created")
	}
	return resp.Data[0], nil
}

func (c *Client) roleChange(ctx context.Context, method, path, broadcasterID, target string) error {
	id, err := c.userID(ctx, target)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("user_id", id)
	_, err = c.do(ctx, method, path, q, nil, nil)
	return err
}

func (c *Client) AddModerator(ctx context.Context, broadcasterID, target string) error {
	return c.roleChange(ctx, http.MethodPost, "/moderation/moderators", broadcasterID, target)
}

func (c *Client) RemoveModerator(ctx context.Context, broadcasterID, target string) error {
	return c.roleChange(ctx, http.MethodDelete, "/moderation/moderators", broadcasterID, target)
}

func (c *Client) AddVIP(ctx context.Context, broadcasterID, target string) error {
	return c.roleChange(ctx, http.MethodPost, "/channels/vips", broadcasterID, target)
}

func (c *Client) RemoveVIP(ctx context.Context, broadcasterID, target string) error {
	return c.roleChange(ctx, http.MethodDelete, "/channels/vips", broadcasterID, target)
}

func (c *Client) StartRaid(ctx context.Context, broadcasterID, target string) error {
	id, err := c.userID(ctx, target)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("from_broadcaster_id", broadcasterID)
	q.Set("to_broadcaster_id", id)
	_, err = c.do(ctx, http.MethodPost, "/raids", q, nil, nil)
	return err
}

func (c *Client) CancelRaid(ctx context.Context, broadcasterID string) error {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	_, err := c.do(ctx, http.MethodDelete, "/raids", q, nil, nil)
	return err
}

// ChatSettings is a partial update; nil fields are left unchanged.
type ChatSettings struct {
	EmoteMode                   *bool `json:"emote_mode,omitempty"`
	FollowerMode                *bool `json:"follower_mode,omitempty"`
	FollowerModeDurationMinutes *int  `json:"follower_mode_duration,omitempty"`
	SlowMode                    *bool `json:"slow_mode,omitempty"`
	SlowModeWaitTimeSeconds     *int  `json:"slow_mode_wait_time,omitempty"`
	SubscriberMode              *bool `json:"subscriber_mode,omitempty"`
	UniqueChatMode              *bool `json:"unique_chat_mode,omitempty"`
}

func (c *Client) UpdateChatSettings(ctx context.Context, broadcasterID string, s ChatSettings) error {
	_, err := c.do(ctx, http.MethodPatch, "/chat/settings", c.moderatorQuery(broadcasterID), s, nil)
	return err
}

func (c *Client) SendWhisper(ctx context.Context, target, text string) error {
	id, err := c.userID(ctx, target)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("from_user_id", c.cfg.UserID)
	q.Set("to_user_id", id)
	_, err = c.do(ctx, http.MethodPost, "/whispers", q, map[string]string{"message": text}, nil)
	return err
}

type subscriptionRequest struct {
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport struct {
		Method    string `json:"method"`
		SessionID string `json:"session_id"`
	} `json:"transport"`
}

// CreateEventSubSubscription registers a websocket-transport subscription.
func (c *Client) CreateEventSubSubscription(ctx context.Context, eventType, version string, condition map[string]string, sessionID string) error {
	req := subscriptionRequest{Type: eventType, Version: version, Condition: condition}
	req.Transport.Method = "websocket"
	req.Transport.SessionID = sessionID
	status, err := c.do(ctx, http.MethodPost, "/eventsub/subscriptions", nil, req, nil)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", eventType, err)
	}
	if status != http.StatusAccepted {
		return fmt.Errorf("subscribe %s: unexpected status %s", eventType, strconv.Itoa(status))
	}
	return nil
}
