// Package mls hand-builds the group-encryption layer spec.md §4.6 and §6.3
// describe: per-Space/Channel groups, KeyPackage publication, Welcome/Commit
// processing and epoch rotation. No RFC 9420 implementation exists anywhere
// in the retrieved pack — the shapes here (KeyPackage/Welcome/Commit/epoch)
// are grounded on the AmityVox federation surface; the cryptography itself
// is built on golang.org/x/crypto primitives.
package mls

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/var-che/spaceway/identity"
)

// KeyPackage is a published, one-time-claimable advertisement of a user's
// current DH init key, mirroring the id/user_id/device_id/data/expires_at
// shape the AmityVox federation surface exposes for mls_key_packages, but
// carrying real key material instead of opaque bytes.
type KeyPackage struct {
	User       identity.UserId
	Device     string
	InitPublic [32]byte // X25519 public key, fresh per publish
	Signing    ed25519.PublicKey
	ExpiresAt  int64 // unix ms
	CreatedAt  int64
	Sig        []byte
}

// canonicalBytes is the byte string KeyPackage.Sig covers.
func (kp *KeyPackage) canonicalBytes() []byte {
	buf := make([]byte, 0, 32+len(kp.Device)+32+len(kp.Signing)+16)
	buf = append(buf, kp.User[:]...)
	buf = append(buf, kp.Device...)
	buf = append(buf, kp.InitPublic[:]...)
	buf = append(buf, kp.Signing...)
	return buf
}

// GenerateKeyPackage creates a fresh X25519 init keypair and signs the
// package with the owning identity (spec §4.6, "publish_key_packages").
// It returns the package to publish plus the private scalar the caller
// must retain to process a Welcome addressed to this package.
func GenerateKeyPackage(id *identity.Identity, device string, ttl int64, nowMs int64) (*KeyPackage, [32]byte, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, priv, fmt.Errorf("mls: generating init key: %w", err)
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, priv, fmt.Errorf("mls: deriving init public key: %w", err)
	}

	kp := &KeyPackage{
		User:      id.ID(),
		Device:    device,
		Signing:   id.Public,
		ExpiresAt: nowMs + ttl,
		CreatedAt: nowMs,
	}
	copy(kp.InitPublic[:], pub)
	kp.Sig = id.Sign(kp.canonicalBytes())
	return kp, priv, nil
}

// Verify checks the package's signature was produced by its own Signing
// key, and that Signing derives the claimed User (spec §4.1's identity
// binding extends to KeyPackages: a package cannot claim a user it doesn't
// hold the signing key for).
func (kp *KeyPackage) Verify() bool {
	if identity.IDFromVerifyingKey(kp.Signing) != kp.User {
		return false
	}
	return identity.Verify(kp.Signing, kp.canonicalBytes(), kp.Sig)
}

// Expired reports whether the package is no longer claimable at nowMs.
func (kp *KeyPackage) Expired(nowMs int64) bool { return nowMs >= kp.ExpiresAt }
