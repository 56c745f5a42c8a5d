package core

// Provider names an emote/badge source.
type Provider string

const (
	ProviderTwitch  Provider = "twitch"
	ProviderSevenTV Provider = "7tv"
	ProviderBTTV    Provider = "bttv"
	ProviderFFZ     Provider = "ffz"
	ProviderLocal   Provider = "local"
)

type ImageSet struct {
	URL1x string `json:"url_1x,omitempty"`
	URL2x string `json:"url_2x,omitempty"`
	URL3x string `json:"url_3x,omitempty"`
	URL4x string `json:"url_4x,omitempty"`
}

// AssetRef locates a base64 payload inside the original bytes of a transcript file.
type AssetRef struct {
	Offset int64 `json:"offset"`
	Length int   `json:"length"`
}

type Emote struct {
	Name      string    `json:"name"`
	ID        string    `json:"id,omitempty"`
	Provider  Provider  `json:"provider"`
	Images    ImageSet  `json:"images"`
	Local     *AssetRef `json:"local,omitempty"`
	Animated  bool      `json:"animated,omitempty"`
	ZeroWidth bool      `json:"zero_width,omitempty"`
	SetID     string    `json:"set_id,omitempty"`
	OwnerID   string    `json:"owner_id,omitempty"`
}

type Badge struct {
	SetID   string    `json:"set_id"`
	Version string    `json:"version"`
	Title   string    `json:"title,omitempty"`
	Images  ImageSet  `json:"images"`
	Local   *AssetRef `json:"local,omitempty"`
}

type CheerEmote struct {
	Name    string    `json:"name"`
	MinBits int       `json:"min_bits"`
	Color   string    `json:"color,omitempty"`
	Images  ImageSet  `json:"images"`
	Local   *AssetRef `json:"local,omitempty"`
}

type Reward struct {
	ID     string   `json:"id"`
	Title  string   `json:"title,omitempty"`
	Cost   int      `json:"cost,omitempty"`
	Images ImageSet `json:"images"`
}

// EmoteSet is a provider's set of emotes; ID is empty for providers without
// set ids.
type EmoteSet struct {
	ID     string  `json:"id,omitempty"`
	Emotes []Emote `json:"emotes"`
}
