package mls

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/var-che/spaceway/spaceerr"
)

// Inner frame kind bytes of this package's own encodings, separate from the
// network layer's application-framing bytes. Encrypt prefixes every
// application message with FrameApplication and Decrypt checks it;
// FrameWelcome and FrameCommit are not written by any encoder here (the
// Engine marks Welcome and Commit messages with its own marker bytes).
const (
	FrameApplication byte = 0x00
	FrameWelcome     byte = 0x01
	FrameCommit      byte = 0x02
)

type applicationBody struct {
	Epoch      uint64
	Salt       [16]byte
	Ciphertext []byte
}

// Encrypt seals plaintext under the group's current epoch secret and
// returns a message framed with FrameApplication, ready for the network
// layer's ciphertext framing. The AEAD
// key is derived fresh per message from a random salt, so group secret
// compromise does not retroactively expose a specific ciphertext's key
// without also learning its salt — the salt travels in the frame, which
// binds confidentiality to the epoch secret rather than to a message-level
// ratchet (the latter is out of scope; see DESIGN.md).
func (g *Group) Encrypt(plaintext, aad []byte) ([]byte, error) {
	g.epochMu.RLock()
	secret := g.secret
	epoch := g.epoch
	g.epochMu.RUnlock()

	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, fmt.Errorf("mls: generating message salt: %w", err)
	}
	key, err := hkdfKey(secret[:], salt[:], []byte("spaceway-mls-application"))
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("mls: constructing application aead: %w", err)
	}
	var nonce [chacha20poly1305.NonceSize]byte // fixed: the random salt already guarantees key uniqueness per message
	ciphertext := aead.Seal(nil, nonce[:], plaintext, aad)

	body, err := rlp.EncodeToBytes(&applicationBody{Epoch: epoch, Salt: salt, Ciphertext: ciphertext})
	if err != nil {
		return nil, fmt.Errorf("mls: encoding application frame: %w", err)
	}
	return append([]byte{FrameApplication}, body...), nil
}

// Decrypt opens a framed application message. It only succeeds against the
// group's current epoch secret: a message from a prior epoch the receiver
// has since rotated past returns ErrStaleEpoch rather than attempting a
// lookup against discarded secrets (spec §4.6 forward secrecy).
func (g *Group) Decrypt(frame, aad []byte) ([]byte, error) {
	if len(frame) == 0 || frame[0] != FrameApplication {
		return nil, fmt.Errorf("%w: not an application frame", spaceerr.ErrInternal)
	}
	var body applicationBody
	if err := rlp.DecodeBytes(frame[1:], &body); err != nil {
		return nil, fmt.Errorf("mls: decoding application frame: %w", err)
	}

	g.epochMu.RLock()
	secret := g.secret
	epoch := g.epoch
	g.epochMu.RUnlock()

	if body.Epoch != epoch {
		return nil, spaceerr.ErrStaleEpoch
	}

	key, err := hkdfKey(secret[:], body.Salt[:], []byte("spaceway-mls-application"))
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("mls: constructing application aead: %w", err)
	}
	var nonce [chacha20poly1305.NonceSize]byte
	plain, err := aead.Open(nil, nonce[:], body.Ciphertext, aad)
	if err != nil {
		return nil, &spaceerr.DecryptionFailed{Reason: err}
	}
	return plain, nil
}

// ExportSecret derives a use-bound secret from the current epoch secret,
// used to key blob-at-rest encryption (spec §4.4: "blob encryption uses
// hkdf + chacha20poly1305 keyed by the channel's MLS export secret").
func (g *Group) ExportSecret(label string) ([]byte, error) {
	g.epochMu.RLock()
	secret := g.secret
	g.epochMu.RUnlock()

	out := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, secret[:], nil, []byte("spaceway-mls-export:"+label))
	if _, err := r.Read(out); err != nil {
		return nil, fmt.Errorf("mls: deriving export secret: %w", err)
	}
	return out, nil
}
