package livekit

import (
	"context"
	"testing"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMinterRequiresKeys(t *testing.T) {
	_, err := NewMinter("wss://sfu", "", "secret", time.Hour)
	assert.ErrorIs(t, err, ErrMissingKey)

	m, err := NewMinter("wss://sfu", "key", "secret", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, m.ttl)
}

func TestCredentialsCarryIdentity(t *testing.T) {
	m, err := NewMinter("wss://sfu.example", "APIkey", "a-long-enough-secret-for-hmac-signing", time.Hour)
	require.NoError(t, err)

	creds, err := m.Credentials(context.Background(), "!abc:server", "@alice:server")
	require.NoError(t, err)
	assert.Equal(t, "wss://sfu.example", creds.URL)
	require.NotEmpty(t, creds.Token)

	v, err := auth.ParseAPIToken(creds.Token)
	require.NoError(t, err)
	assert.Equal(t, "@alice:server", v.Identity())
	assert.Equal(t, "APIkey", v.APIKey())
}

func TestCredentialsRejectEmptyIdentity(t *testing.T) {
	m, err := NewMinter("", "key", "secret", time.Hour)
	require.NoError(t, err)

	_, err = m.Credentials(context.Background(), "!abc:server", "")
	assert.Error(t, err)
}
