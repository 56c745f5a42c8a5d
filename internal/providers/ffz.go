package providers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/pkg/errors"

	"github.com/you/chatcore/internal/core"
)

// FFZ emotes are served through the BTTV cache, which normalizes them.
const FFZBaseURL = "https://api.betterttv.net/3/cached/frankerfacez"

type FFZ struct {
	BaseURL string
	HTTP    *http.Client
}

func NewFFZ() *FFZ {
	return &FFZ{BaseURL: FFZBaseURL, HTTP: defaultHTTP()}
}

type ffzEmote struct {
	ID        int64             `json:"id"`
	Code      string            `json:"code"`
	ImageType string            `json:"imageType"`
	Animated  bool              `json:"animated"`
	Images    map[string]string `json:"images"`
}

func (e ffzEmote) core() core.Emote {
	img := func(keys ...string) string {
		for _, k := range keys {
			if u := e.Images[k]; u != "" {
				return u
			}
		}
		return ""
	}
	return core.Emote{
		Name:     e.Code,
		ID:       strconv.FormatInt(e.ID, 10),
		Provider: core.ProviderFFZ,
		Images: core.ImageSet{
			URL1x: img("1x"),
			URL2x: img("2x", "1x"),
			URL3x: img("2x", "1x"),
			URL4x: img("4x", "2x", "1x"),
		},
		Animated: e.Animated || e.ImageType == "gif" || e.ImageType == "webp",
	}
}

func (f *FFZ) Name() core.Provider { return core.ProviderFFZ }

func (f *FFZ) Global(ctx context.Context) ([]core.Emote, error) {
	var list []ffzEmote
	if err := getJSON(ctx, f.HTTP, trimBase(f.BaseURL, FFZBaseURL)+"/emotes/global", &list); err != nil {
		return nil, errors.Wrap(err, "ffz global")
	}
	return convertFFZ(list), nil
}

func (f *FFZ) Channel(ctx context.Context, channelID, _ string) (core.EmoteSet, error) {
	var list []ffzEmote
	if err := getJSON(ctx, f.HTTP, trimBase(f.BaseURL, FFZBaseURL)+"/users/twitch/"+channelID, &list); err != nil {
		return core.EmoteSet{}, errors.Wrapf(err, "ffz channel %s", channelID)
	}
	return core.EmoteSet{Emotes: convertFFZ(list)}, nil
}

func convertFFZ(list []ffzEmote) []core.Emote {
	out := make([]core.Emote, 0, len(list))
	for _, e := range list {
		out = append(out, e.core())
	}
	return out
}
