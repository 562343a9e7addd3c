package collab

import (
	"crypto/rand"

	"github.com/pkg/errors"
	"golang.org/x/crypto/curve25519"
)

// X25519KeyExchanger is the default KeyExchanger: an ephemeral X25519
// Diffie-Hellman exchange, matching spec.md §4.1's "handshake that pairs
// a server-side SYN cookie with an ephemeral key exchange". Grounded on
// the retrieval pack's telepresence manifests, which both pull in
// golang.org/x/crypto for equivalent ephemeral-key-agreement duties. One
// instance is single-use: a fresh Connection attempt gets a fresh
// X25519KeyExchanger via NewX25519KeyExchanger, since its private scalar
// must never be reused across handshakes.
type X25519KeyExchanger struct {
	private [32]byte
}

// NewX25519KeyExchanger draws a fresh random scalar for one handshake.
func NewX25519KeyExchanger() *X25519KeyExchanger {
	var priv [32]byte
	_, _ = rand.Read(priv[:])
	return &X25519KeyExchanger{private: priv}
}

// LocalHandshakeData computes this side's public point, embedded in the
// connection's Syn.
func (x *X25519KeyExchanger) LocalHandshakeData() ([]byte, error) {
	pub, err := curve25519.X25519(x.private[:], curve25519.Basepoint)
	if err != nil {
		return nil, errors.Wrap(err, "collab: derive X25519 public key")
	}
	return pub, nil
}

// DeriveSharedSecret combines the peer's public point with this side's
// private scalar into the raw shared secret keys.Derive stretches into a
// key block.
func (x *X25519KeyExchanger) DeriveSharedSecret(peerHandshakeData []byte) ([]byte, error) {
	if len(peerHandshakeData) != 32 {
		return nil, errors.Errorf("collab: peer handshake data has length %d, want 32", len(peerHandshakeData))
	}
	secret, err := curve25519.X25519(x.private[:], peerHandshakeData)
	if err != nil {
		return nil, errors.Wrap(err, "collab: compute X25519 shared secret")
	}
	return secret, nil
}
