package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestX25519KeyExchangeAgreesOnSharedSecret(t *testing.T) {
	alice := NewX25519KeyExchanger()
	bob := NewX25519KeyExchanger()

	alicePub, err := alice.LocalHandshakeData()
	require.NoError(t, err)
	bobPub, err := bob.LocalHandshakeData()
	require.NoError(t, err)

	aliceSecret, err := alice.DeriveSharedSecret(bobPub)
	require.NoError(t, err)
	bobSecret, err := bob.DeriveSharedSecret(alicePub)
	require.NoError(t, err)

	assert.Equal(t, aliceSecret, bobSecret)
}

func TestX25519KeyExchangeRejectsShortPeerData(t *testing.T) {
	alice := NewX25519KeyExchanger()
	_, err := alice.DeriveSharedSecret([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDefaultKeyGeneratorProducesDistinctValues(t *testing.T) {
	g := DefaultKeyGenerator{}
	a := g.ConnectionID()
	b := g.ConnectionID()
	assert.NotEqual(t, a, b)
}
