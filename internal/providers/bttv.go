package providers

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/you/chatcore/internal/core"
)

const (
	BTTVBaseURL = "https://api.betterttv.net/3"
	bttvCDN     = "https://cdn.betterttv.net/emote/"
)

// BTTV loads BetterTTV global and channel emotes.
type BTTV struct {
	BaseURL string
	HTTP    *http.Client
}

func NewBTTV() *BTTV {
	return &BTTV{BaseURL: BTTVBaseURL, HTTP: defaultHTTP()}
}

type bttvEmote struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	ImageType string `json:"imageType"`
	Animated  bool   `json:"animated"`
}

// Zero-width emotes BTTV does not flag in its payload.
var bttvZeroWidth = map[string]bool{
	"SoSnowy": true, "IceCold": true, "SantaHat": true, "TopHat": true,
	"ReinDeer": true, "CandyCane": true, "cvMask": true, "cvHazmat": true,
}

func (e bttvEmote) core() core.Emote {
	base := bttvCDN + e.ID
	return core.Emote{
		Name:     e.Code,
		ID:       e.ID,
		Provider: core.ProviderBTTV,
		Images: core.ImageSet{
			URL1x: base + "/1x",
			URL2x: base + "/2x",
			URL3x: base + "/2x",
			URL4x: base + "/3x",
		},
		Animated:  e.Animated || e.ImageType == "gif",
		ZeroWidth: bttvZeroWidth[e.Code],
	}
}

func (b *BTTV) Name() core.Provider { return core.ProviderBTTV }

func (b *BTTV) Global(ctx context.Context) ([]core.Emote, error) {
	var list []bttvEmote
	if err := getJSON(ctx, b.HTTP, trimBase(b.BaseURL, BTTVBaseURL)+"/cached/emotes/global", &list); err != nil {
		return nil, errors.Wrap(err, "bttv global")
	}
	out := make([]core.Emote, 0, len(list))
	for _, e := range list {
		out = append(out, e.core())
	}
	return out, nil
}

// Channel returns channel emotes followed by shared emotes.
func (b *BTTV) Channel(ctx context.Context, channelID, _ string) (core.EmoteSet, error) {
	var resp struct {
		ChannelEmotes []bttvEmote `json:"channelEmotes"`
		SharedEmotes  []bttvEmote `json:"sharedEmotes"`
	}
	if err := getJSON(ctx, b.HTTP, trimBase(b.BaseURL, BTTVBaseURL)+"/cached/users/twitch/"+channelID, &resp); err != nil {
		return core.EmoteSet{}, errors.Wrapf(err, "bttv channel %s", channelID)
	}
	set := core.EmoteSet{Emotes: make([]core.Emote, 0, len(resp.ChannelEmotes)+len(resp.SharedEmotes))}
	for _, e := range resp.ChannelEmotes {
		set.Emotes = append(set.Emotes, e.core())
	}
	for _, e := range resp.SharedEmotes {
		set.Emotes = append(set.Emotes, e.core())
	}
	return set, nil
}
