package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/you/chatcore/internal/core"
	"github.com/you/chatcore/internal/helix"
)

// Commands is the authenticated API used for sending and moderation.
type Commands interface {
	HasToken() bool
	SendMessage(ctx context.Context, broadcasterID, text, replyID string) error
	SendAnnouncement(ctx context.Context, broadcasterID, text, color string) error
	BanUser(ctx context.Context, broadcasterID, target string, durationSec int, reason string) error
	UnbanUser(ctx context.Context, broadcasterID, target string) error
	DeleteMessages(ctx context.Context, broadcasterID, messageID string) error
	UpdateChatColor(ctx context.Context, color string) error
	StartCommercial(ctx context.Context, broadcasterID string, length int) (helix.Commercial, error)
	CreateStreamMarker(ctx context.Context, broadcasterID, description string) (helix.Marker, error)
	AddModerator(ctx context.Context, broadcasterID, target string) error
	RemoveModerator(ctx context.Context, broadcasterID, target string) error
	AddVIP(ctx context.Context, broadcasterID, target string) error
	RemoveVIP(ctx context.Context, broadcasterID, target string) error
	StartRaid(ctx context.Context, broadcasterID, target string) error
	CancelRaid(ctx context.Context, broadcasterID string) error
	UpdateChatSettings(ctx context.Context, broadcasterID string, s helix.ChatSettings) error
	SendWhisper(ctx context.Context, target, text string) error
}

var _ Commands = (*helix.Client)(nil)

var errUsage = errors.New("missing argument")

// errNotCommand means the text goes out as a plain message.
var errNotCommand = errors.New("not a command")

// Send posts text to the current channel. Slash commands run through the
// API when a token is available. A reply is always sent as a message.
func (s *Session) Send(ctx context.Context, text, replyID string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if replyID == "" && strings.HasPrefix(text, "/") {
		fields := strings.Fields(text)
		switch cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/")); cmd {
		case "dc", "disconnect":
			s.Disconnect()
			return nil
		default:
			if s.opts.Commands != nil && s.opts.Commands.HasToken() {
				done, err := s.runCommand(ctx, cmd, fields[1:])
				if !errors.Is(err, errNotCommand) {
					s.commandResult(cmd, done, err)
					return err
				}
			}
		}
	}
	if err := s.sendMessage(ctx, text, replyID); err != nil {
		if core.IsIntegrity(err) {
			s.failed("send", err)
			return err
		}
		s.emit(core.NewSystem(s.text("send_error", err)))
		return err
	}
	s.recordRecent(text)
	return nil
}

func (s *Session) sendMessage(ctx context.Context, text, replyID string) error {
	s.mu.Lock()
	w, channelID, viaAPI := s.write, s.channel.ID, s.settings.SendViaAPI
	s.mu.Unlock()
	if viaAPI && s.opts.Commands != nil && s.opts.Commands.HasToken() {
		return s.opts.Commands.SendMessage(ctx, channelID, text, replyID)
	}
	if w == nil {
		return errors.New("not connected")
	}
	return w.Send(ctx, text, replyID)
}

// recordRecent marks the words of a sent message that are known emotes.
func (s *Session) recordRecent(text string) {
	var used []string
	for _, w := range strings.Fields(text) {
		if _, ok := s.opts.Catalog.Lookup(w); ok {
			used = append(used, w)
		}
	}
	if len(used) > 0 {
		s.opts.Catalog.AddRecent(used...)
	}
}

func (s *Session) commandResult(cmd, done string, err error) {
	if core.IsIntegrity(err) {
		s.failed("/"+cmd, err)
		return
	}
	if err != nil {
		s.emit(core.NewSystem(s.text("command_failed", fmt.Sprintf("/%s: %v", cmd, err))))
		return
	}
	if done != "" {
		s.emit(core.NewSystem(s.text("command_done", done)))
	}
}

// runCommand executes one slash command and returns the confirmation text.
func (s *Session) runCommand(ctx context.Context, cmd string, args []string) (string, error) {
	c := s.opts.Commands
	ch := s.Channel().ID
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}
	rest := func(i int) string {
		if i < len(args) {
			return strings.Join(args[i:], " ")
		}
		return ""
	}
	toggle := func(off bool) *bool { return core.Bool(!off) }

	switch cmd {
	case "announce", "announceblue", "announcegreen", "announceorange", "announcepurple":
		if len(args) == 0 {
			return "", errUsage
		}
		return "", c.SendAnnouncement(ctx, ch, rest(0), strings.TrimPrefix(cmd, "announce"))
	case "ban":
		if arg(0) == "" {
			return "", errUsage
		}
		return fmt.Sprintf("Banned %s", arg(0)), c.BanUser(ctx, ch, arg(0), 0, rest(1))
	case "timeout":
		if arg(0) == "" {
			return "", errUsage
		}
		secs := 600
		reason := rest(1)
		if d, err := parseDuration(arg(1)); err == nil && arg(1) != "" {
			secs, reason = d, rest(2)
		}
		return fmt.Sprintf("Timed out %s for %d seconds", arg(0), secs), c.BanUser(ctx, ch, arg(0), secs, reason)
	case "unban", "untimeout":
		if arg(0) == "" {
			return "", errUsage
		}
		return fmt.Sprintf("Unbanned %s", arg(0)), c.UnbanUser(ctx, ch, arg(0))
	case "clear":
		return "", c.DeleteMessages(ctx, ch, "")
	case "delete":
		if arg(0) == "" {
			return "", errUsage
		}
		return "", c.DeleteMessages(ctx, ch, arg(0))
	case "color":
		if arg(0) == "" {
			return "", errUsage
		}
		return fmt.Sprintf("Color changed to %s", arg(0)), c.UpdateChatColor(ctx, arg(0))
	case "commercial":
		length, _ := strconv.Atoi(arg(0))
		res, err := c.StartCommercial(ctx, ch, length)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Started a %d second commercial", res.Length), nil
	case "marker":
		m, err := c.CreateStreamMarker(ctx, ch, rest(0))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Marker created at %ds", m.PositionSeconds), nil
	case "mod", "unmod", "vip", "unvip":
		if arg(0) == "" {
			return "", errUsage
		}
		role := map[string]func(context.Context, string, string) error{
			"mod": c.AddModerator, "unmod": c.RemoveModerator,
			"vip": c.AddVIP, "unvip": c.RemoveVIP,
		}[cmd]
		return fmt.Sprintf("/%s %s done", cmd, arg(0)), role(ctx, ch, arg(0))
	case "raid":
		if arg(0) == "" {
			return "", errUsage
		}
		return fmt.Sprintf("Raiding %s", arg(0)), c.StartRaid(ctx, ch, arg(0))
	case "unraid":
		return "Raid cancelled", c.CancelRaid(ctx, ch)
	case "w", "whisper":
		if arg(0) == "" || len(args) < 2 {
			return "", errUsage
		}
		return "", c.SendWhisper(ctx, arg(0), rest(1))
	case "emoteonly", "emoteonlyoff":
		return "", c.UpdateChatSettings(ctx, ch, helix.ChatSettings{EmoteMode: toggle(cmd == "emoteonlyoff")})
	case "subscribers", "subscribersoff":
		return "", c.UpdateChatSettings(ctx, ch, helix.ChatSettings{SubscriberMode: toggle(cmd == "subscribersoff")})
	case "uniquechat", "uniquechatoff":
		return "", c.UpdateChatSettings(ctx, ch, helix.ChatSettings{UniqueChatMode: toggle(cmd == "uniquechatoff")})
	case "slow":
		set := helix.ChatSettings{SlowMode: core.Bool(true)}
		if arg(0) != "" {
			secs, err := strconv.Atoi(arg(0))
			if err != nil {
				return "", errors.Wrap(err, "slow")
			}
			set.SlowModeWaitTimeSeconds = &secs
		}
		return "", c.UpdateChatSettings(ctx, ch, set)
	case "slowoff":
		return "", c.UpdateChatSettings(ctx, ch, helix.ChatSettings{SlowMode: core.Bool(false)})
	case "followers":
		set := helix.ChatSettings{FollowerMode: core.Bool(true)}
		if arg(0) != "" {
			secs, err := parseDuration(arg(0))
			if err != nil {
				return "", errors.Wrap(err, "followers")
			}
			mins := secs / 60
			set.FollowerModeDurationMinutes = &mins
		}
		return "", c.UpdateChatSettings(ctx, ch, set)
	case "followersoff":
		return "", c.UpdateChatSettings(ctx, ch, helix.ChatSettings{FollowerMode: core.Bool(false)})
	}
	return "", errNotCommand
}

// parseDuration reads "90", "10m", "2h", "1d" or "1w" as seconds.
func parseDuration(v string) (int, error) {
	if v == "" {
		return 0, errUsage
	}
	mult := 1
	switch v[len(v)-1] {
	case 's':
		v = v[:len(v)-1]
	case 'm':
		mult, v = 60, v[:len(v)-1]
	case 'h':
		mult, v = 3600, v[:len(v)-1]
	case 'd':
		mult, v = 86400, v[:len(v)-1]
	case 'w':
		mult, v = 604800, v[:len(v)-1]
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.Errorf("invalid duration %q", v)
	}
	return n * mult, nil
}
