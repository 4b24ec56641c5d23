// Package livekit issues media-transport credentials as LiveKit access tokens.
package livekit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/chatcall/internal/domain"
	"github.com/livekit/protocol/auth"
	"github.com/rs/zerolog/log"
)

const DefaultTTL = 24 * time.Hour

var ErrMissingKey = errors.New("livekit api key and secret are required")

// Minter signs one token per (room, user) join.
type Minter struct {
	url       string
	apiKey    string
	apiSecret string
	ttl       time.Duration
}

func NewMinter(url, apiKey, apiSecret string, ttl time.Duration) (*Minter, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, ErrMissingKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Minter{url: url, apiKey: apiKey, apiSecret: apiSecret, ttl: ttl}, nil
}

// Credentials grants user the right to join room for the configured TTL.
func (m *Minter) Credentials(_ context.Context, room domain.RoomID, user domain.UserID) (domain.MediaCredentials, error) {
	if user == "" {
		return domain.MediaCredentials{}, fmt.Errorf("mint token for %s: empty identity", room)
	}
	name, _, err := user.Parse()
	if err != nil {
		name = string(user)
	}
	at := auth.NewAccessToken(m.apiKey, m.apiSecret)
	at.SetIdentity(string(user)).
		SetName(name).
		SetValidFor(m.ttl).
		SetVideoGrant(&auth.VideoGrant{
			RoomJoin: true,
			Room:     string(room),
		})

	token, err := at.ToJWT()
	if err != nil {
		return domain.MediaCredentials{}, fmt.Errorf("mint token for %s: %w", room, err)
	}
	log.Debug().
		Str("module", "adapters.livekit").
		Str("room", string(room)).
		Str("user", string(user)).
		Dur("ttl", m.ttl).
		Msg("media token issued")
	return domain.MediaCredentials{URL: m.url, Token: token}, nil
}
