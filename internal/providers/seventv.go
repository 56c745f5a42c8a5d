package providers

import (
	"context"

	"github.com/pkg/errors"

	"github.com/you/chatcore/internal/core"
	"github.com/you/chatcore/internal/seventv"
)

// SevenTV adapts the 7TV REST client to the catalog. The channel set id is
// returned so live emote set updates can be matched against it.
type SevenTV struct {
	API *seventv.API
}

func NewSevenTV(api *seventv.API) *SevenTV {
	if api == nil {
		api = seventv.NewAPI()
	}
	return &SevenTV{API: api}
}

func (s *SevenTV) Name() core.Provider { return core.ProviderSevenTV }

func (s *SevenTV) Global(ctx context.Context) ([]core.Emote, error) {
	set, err := s.API.GlobalSet(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "7tv global")
	}
	return set.Core(), nil
}

func (s *SevenTV) Channel(ctx context.Context, channelID, _ string) (core.EmoteSet, error) {
	u, err := s.API.TwitchUser(ctx, channelID)
	if err != nil {
		return core.EmoteSet{}, errors.Wrapf(err, "7tv channel %s", channelID)
	}
	id := u.EmoteSet.ID
	if id == "" {
		id = u.EmoteSetID
	}
	set := u.EmoteSet
	set.ID = id
	return core.EmoteSet{ID: id, Emotes: set.Core()}, nil
}
