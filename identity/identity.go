// Package identity manages the long-lived Ed25519 keypair every Spaceway
// node signs ops with, and the content-derived UserId (spec §4.1).
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"lukechampine.com/blake3"
)

// UserId is a 32-byte Blake3 digest of a verifying key (spec §3).
type UserId [32]byte

func (u UserId) Bytes() []byte { return u[:] }
func (u UserId) String() string {
	return fmt.Sprintf("%x", u[:8])
}

// IDFromVerifyingKey derives a UserId from an Ed25519 public key.
func IDFromVerifyingKey(pub ed25519.PublicKey) UserId {
	return UserId(blake3.Sum256(pub))
}

// Identity is a node's long-lived signing keypair plus its derived UserId.
type Identity struct {
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
	id      UserId
}

// Generate creates a fresh keypair, per spec §4.1 ("generate a fresh keypair
// on first run").
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ed25519 keypair: %w", err)
	}
	return &Identity{Public: pub, private: priv, id: IDFromVerifyingKey(pub)}, nil
}

// FromPrivateKey reconstructs an Identity from previously persisted opaque
// key bytes (spec §4.1: "persist as opaque bytes").
func FromPrivateKey(priv ed25519.PrivateKey) (*Identity, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity: malformed private key (%d bytes)", len(priv))
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{Public: pub, private: priv, id: IDFromVerifyingKey(pub)}, nil
}

// ID returns the node's UserId.
func (i *Identity) ID() UserId { return i.id }

// PrivateKeyBytes returns the opaque bytes to persist.
func (i *Identity) PrivateKeyBytes() []byte { return append([]byte(nil), i.private...) }

// Sign signs canonical bytes (the envelope serialization minus sig, per
// spec §4.1: "signing covers ... all envelope fields except sig").
func (i *Identity) Sign(canonical []byte) []byte {
	return ed25519.Sign(i.private, canonical)
}

// Verify checks a signature against a known public key. Returns false
// rather than an error; callers map failure to spaceerr.ErrInvalidSignature.
func Verify(pub ed25519.PublicKey, canonical, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, canonical, sig)
}
