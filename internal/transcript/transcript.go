// Package transcript decodes downloaded chat files. Embedded images are not
// decoded while parsing; each is recorded as a byte range of the original file
// and read back on demand with ReadAsset.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/you/chatcore/internal/core"
	"github.com/you/chatcore/internal/gql"
	"github.com/you/chatcore/internal/twitchirc"
)

type Transcript struct {
	// StartTimeMs is subtracted from entry timestamps to get replay offsets.
	StartTimeMs  int64
	Entries      []core.Entry
	TwitchEmotes []core.Emote
	Badges       []core.Badge
	CheerEmotes  []core.CheerEmote
	Emotes       []core.Emote
}

type Options struct {
	Strings     core.Strings
	NameDisplay core.NameDisplay
}

func Parse(r io.Reader) (*Transcript, error) {
	return ParseWith(r, Options{})
}

// ParseWith decodes a transcript. Malformed lines and comments are skipped;
// only structural JSON errors abort the parse.
func ParseWith(r io.Reader, opts Options) (*Transcript, error) {
	if opts.Strings == nil {
		opts.Strings = core.EnglishStrings
	}
	w := &window{r: r}
	dec := json.NewDecoder(w)
	dec.UseNumber()
	w.consumed = dec.InputOffset
	p := &parser{dec: dec, win: w, opts: opts, t: &Transcript{}}

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("transcript: document is not an object")
	}
	for dec.More() {
		key, err := p.key()
		if err != nil {
			return nil, err
		}
		if err := p.field(key); err != nil {
			return nil, fmt.Errorf("transcript: %s: %w", key, err)
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	sort.SliceStable(p.t.Entries, func(i, j int) bool {
		return p.t.Entries[i].Meta().Timestamp < p.t.Entries[j].Meta().Timestamp
	})
	return p.t, nil
}

type parser struct {
	dec  *json.Decoder
	win  *window
	opts Options
	t    *Transcript
}

func (p *parser) key() (string, error) {
	tok, err := p.dec.Token()
	if err != nil {
		return "", fmt.Errorf("transcript: %w", err)
	}
	k, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("transcript: unexpected token %v", tok)
	}
	return k, nil
}

func (p *parser) field(key string) error {
	switch key {
	case "liveStartTime":
		s, err := p.str()
		if err != nil {
			return err
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			p.t.StartTimeMs = ts.UnixMilli()
		}
		return nil
	case "startTime":
		n, ok, err := p.number()
		if ok {
			p.t.StartTimeMs = n * 1000
		}
		return err
	case "liveComments":
		return p.array(p.liveComment)
	case "comments":
		return p.array(p.comment)
	case "twitchEmotes":
		return p.array(p.asset(func(f assetFields) {
			if f.id != "" && f.data != nil {
				p.t.TwitchEmotes = append(p.t.TwitchEmotes, core.Emote{Name: f.id, ID: f.id, Provider: core.ProviderTwitch, Local: f.data})
			}
		}))
	case "twitchBadges":
		return p.array(p.asset(func(f assetFields) {
			if f.setID != "" && f.version != "" && f.data != nil {
				p.t.Badges = append(p.t.Badges, core.Badge{SetID: f.setID, Version: f.version, Local: f.data})
			}
		}))
	case "cheerEmotes":
		return p.array(p.asset(func(f assetFields) {
			if f.name != "" && f.hasMinBits && f.data != nil {
				p.t.CheerEmotes = append(p.t.CheerEmotes, core.CheerEmote{Name: f.name, MinBits: f.minBits, Color: f.color, Local: f.data})
			}
		}))
	case "emotes":
		return p.array(p.asset(func(f assetFields) {
			if f.name != "" && f.data != nil {
				p.t.Emotes = append(p.t.Emotes, core.Emote{Name: f.name, Provider: core.ProviderLocal, Local: f.data, ZeroWidth: f.zeroWidth})
			}
		}))
	}
	_, err := skipValue(p.dec)
	return err
}

// array calls item once per element of the array at the cursor. A null is an
// empty array.
func (p *parser) array(item func() error) error {
	tok, err := p.dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return fmt.Errorf("expected array, got %v", tok)
	}
	for p.dec.More() {
		if err := item(); err != nil {
			return err
		}
	}
	_, err = p.dec.Token()
	return err
}

func (p *parser) liveComment() error {
	var line string
	if err := p.dec.Decode(&line); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil
		}
		return err
	}
	ev, ok := twitchirc.ParseLine(line)
	if !ok {
		return nil
	}
	switch e := ev.(type) {
	case core.ChatEvent:
		p.t.Entries = append(p.t.Entries, e.Message)
	case core.UserNoticeEvent:
		p.t.Entries = append(p.t.Entries, e.Message)
	case core.ClearMsgEvent:
		p.t.Entries = append(p.t.Entries, core.NewClearedMessage(e, p.find(e.TargetID), p.opts.Strings, p.opts.NameDisplay))
	case core.ClearChatEvent:
		p.t.Entries = append(p.t.Entries, core.WithClearChatText(e.Entry, p.opts.Strings))
	}
	return nil
}

func (p *parser) find(id string) *core.ChatMessage {
	if id == "" {
		return nil
	}
	for i := len(p.t.Entries) - 1; i >= 0; i-- {
		if m, ok := p.t.Entries[i].(core.ChatMessage); ok && m.ID == id {
			return &m
		}
	}
	return nil
}

// comment decodes a structured comment. Its timestamp is the content offset,
// matching the seconds-based startTime of the same files.
func (p *parser) comment() error {
	var node gql.CommentNode
	if err := p.dec.Decode(&node); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			slog.Debug("transcript: skipping comment", "err", err)
			return nil
		}
		return err
	}
	if node.Commenter == nil && len(node.Message.Fragments) == 0 {
		slog.Debug("transcript: skipping empty comment", "id", node.ID)
		return nil
	}
	msg := node.ChatMessage(0)
	msg.Timestamp = node.OffsetMillis()
	p.t.Entries = append(p.t.Entries, msg)
	return nil
}

type assetFields struct {
	id, setID, version, name, color string
	minBits                         int
	hasMinBits, zeroWidth           bool
	data                            *core.AssetRef
}

func (p *parser) asset(add func(assetFields)) func() error {
	return func() error {
		tok, err := p.dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			return fmt.Errorf("expected object, got %v", tok)
		}
		var f assetFields
		for p.dec.More() {
			key, err := p.key()
			if err != nil {
				return err
			}
			switch key {
			case "data":
				f.data, err = p.payload()
			case "id":
				f.id, err = p.str()
			case "setId":
				f.setID, err = p.str()
			case "version":
				f.version, err = p.str()
			case "name":
				f.name, err = p.str()
			case "color":
				f.color, err = p.str()
			case "minBits":
				var n int64
				n, f.hasMinBits, err = p.number()
				f.minBits = int(n)
			case "isZeroWidth":
				f.zeroWidth, err = p.boolean()
			default:
				_, err = skipValue(p.dec)
			}
			if err != nil {
				return err
			}
		}
		if _, err := p.dec.Token(); err != nil {
			return err
		}
		add(f)
		return nil
	}
}

// payload records where the string at the cursor sits in the raw input.
func (p *parser) payload() (*core.AssetRef, error) {
	start := p.dec.InputOffset()
	tok, err := p.dec.Token()
	if err != nil {
		return nil, err
	}
	switch v := tok.(type) {
	case string:
	case json.Delim:
		return nil, p.skipRest(v)
	default:
		return nil, nil
	}
	end := p.dec.InputOffset()
	open := p.win.indexQuote(start, end)
	if open < 0 {
		return nil, errors.New("payload not found in input window")
	}
	ref := &core.AssetRef{Offset: open + 1, Length: int(end - 1 - (open + 1))}
	return ref, nil
}

// str reads a string value; other scalars and null yield "".
func (p *parser) str() (string, error) {
	tok, err := p.dec.Token()
	if err != nil {
		return "", err
	}
	switch v := tok.(type) {
	case string:
		return v, nil
	case json.Delim:
		return "", p.skipRest(v)
	}
	return "", nil
}

// number reads an integer value; ok is false for anything else.
func (p *parser) number() (n int64, ok bool, err error) {
	tok, err := p.dec.Token()
	if err != nil {
		return 0, false, err
	}
	switch v := tok.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true, nil
		}
		if f, err := v.Float64(); err == nil {
			return int64(f), true, nil
		}
	case json.Delim:
		return 0, false, p.skipRest(v)
	}
	return 0, false, nil
}

func (p *parser) boolean() (bool, error) {
	tok, err := p.dec.Token()
	if err != nil {
		return false, err
	}
	switch v := tok.(type) {
	case bool:
		return v, nil
	case json.Delim:
		return false, p.skipRest(v)
	}
	return false, nil
}

// skipRest consumes the remainder of a container whose opening delimiter was
// already read.
func (p *parser) skipRest(open json.Delim) error {
	for p.dec.More() {
		if open == '{' {
			if _, err := p.dec.Token(); err != nil {
				return err
			}
		}
		if _, err := skipValue(p.dec); err != nil {
			return err
		}
	}
	_, err := p.dec.Token()
	return err
}

// skipValue consumes the next value, recursing into containers, and returns
// the number of input bytes it spanned.
func skipValue(dec *json.Decoder) (int64, error) {
	start := dec.InputOffset()
	tok, err := dec.Token()
	if err != nil {
		return 0, err
	}
	if open, ok := tok.(json.Delim); ok {
		for dec.More() {
			if open == '{' {
				if _, err := dec.Token(); err != nil {
					return 0, err
				}
			}
			if _, err := skipValue(dec); err != nil {
				return 0, err
			}
		}
		if _, err := dec.Token(); err != nil {
			return 0, err
		}
	}
	return dec.InputOffset() - start, nil
}
