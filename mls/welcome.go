package mls

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/var-che/spaceway/identity"
	"github.com/var-che/spaceway/ids"
	"github.com/var-che/spaceway/spaceerr"
)

// memberEntry is the RLP-serializable form of a member map entry; RLP has
// no native map encoding, so Welcome payloads carry a sorted slice instead.
type memberEntry struct {
	User       identity.UserId
	InitPublic [32]byte
}

type welcomePayload struct {
	Secret  [secretSize]byte
	Members []memberEntry
}

func toEntries(members map[identity.UserId][32]byte) []memberEntry {
	out := make([]memberEntry, 0, len(members))
	for u, k := range members {
		out = append(out, memberEntry{User: u, InitPublic: k})
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i].User[:]) < string(out[j].User[:]) })
	return out
}

func fromEntries(entries []memberEntry) map[identity.UserId][32]byte {
	out := make(map[identity.UserId][32]byte, len(entries))
	for _, e := range entries {
		out[e.User] = e.InitPublic
	}
	return out
}

// sealWelcome encrypts the new epoch's secret and membership snapshot to
// the joining member's published init key: an ephemeral X25519 keypair
// provides the DH input, HKDF derives the AEAD key, chacha20poly1305 seals
// the payload (spec §4.6).
func sealWelcome(groupID ids.ID, epoch uint64, kp *KeyPackage, secret [secretSize]byte, members map[identity.UserId][32]byte) (*Welcome, error) {
	var ephPriv [32]byte
	if _, err := rand.Read(ephPriv[:]); err != nil {
		return nil, fmt.Errorf("mls: generating welcome ephemeral key: %w", err)
	}
	ephPub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("mls: deriving welcome ephemeral public key: %w", err)
	}
	shared, err := x25519Shared(ephPriv, kp.InitPublic)
	if err != nil {
		return nil, fmt.Errorf("mls: welcome key agreement: %w", err)
	}

	aeadKey, err := hkdfKey(shared, groupID[:], []byte("spaceway-mls-welcome"))
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(aeadKey)
	if err != nil {
		return nil, fmt.Errorf("mls: constructing welcome aead: %w", err)
	}

	payload, err := rlp.EncodeToBytes(&welcomePayload{Secret: secret, Members: toEntries(members)})
	if err != nil {
		return nil, fmt.Errorf("mls: encoding welcome payload: %w", err)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("mls: generating welcome nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce[:], payload, groupID[:])

	w := &Welcome{GroupID: groupID, Epoch: epoch, Recipient: kp.User, TargetInit: kp.InitPublic, Nonce: nonce, Ciphertext: ciphertext}
	copy(w.EphPublic[:], ephPub)
	return w, nil
}

// openWelcome is the recipient side of sealWelcome, run with the private
// scalar matching the KeyPackage init key the Welcome was addressed to.
func openWelcome(w *Welcome, myInitPriv [32]byte) ([secretSize]byte, map[identity.UserId][32]byte, error) {
	var zero [secretSize]byte

	shared, err := x25519Shared(myInitPriv, w.EphPublic)
	if err != nil {
		return zero, nil, fmt.Errorf("mls: welcome key agreement: %w", err)
	}
	aeadKey, err := hkdfKey(shared, w.GroupID[:], []byte("spaceway-mls-welcome"))
	if err != nil {
		return zero, nil, err
	}
	aead, err := chacha20poly1305.NewX(aeadKey)
	if err != nil {
		return zero, nil, fmt.Errorf("mls: constructing welcome aead: %w", err)
	}

	plain, err := aead.Open(nil, w.Nonce[:], w.Ciphertext, w.GroupID[:])
	if err != nil {
		return zero, nil, &spaceerr.DecryptionFailed{Reason: err}
	}

	var payload welcomePayload
	if err := rlp.DecodeBytes(plain, &payload); err != nil {
		return zero, nil, fmt.Errorf("mls: decoding welcome payload: %w", err)
	}
	return payload.Secret, fromEntries(payload.Members), nil
}

func hkdfKey(shared, salt, info []byte) ([]byte, error) {
	out := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, shared, salt, info)
	if _, err := r.Read(out); err != nil {
		return nil, fmt.Errorf("mls: deriving aead key: %w", err)
	}
	return out, nil
}
