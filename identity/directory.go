package identity

import (
	"crypto/ed25519"
	"sync"
)

// Directory maps UserId to verifying key. The envelope itself only carries
// author: UserId (spec §3), so resolving a signature requires a side
// channel that has previously observed that author's public key. Keys enter
// only through Register: the Engine registers its own key and the keys
// persisted in the Store. No message in this module announces other
// authors' keys, so ops from an author never registered here are rejected.
type Directory struct {
	mu   sync.RWMutex
	byID map[UserId]ed25519.PublicKey
}

// NewDirectory constructs an empty Directory.
func NewDirectory() *Directory {
	return &Directory{byID: make(map[UserId]ed25519.PublicKey)}
}

// Register records a verifying key under its derived UserId. Re-registering
// the same id with the same key is a no-op; a mismatched key for an
// already-known id is rejected (a real identity never changes its key in
// this spec's scope — "no key rotation in scope", spec §4.1).
func (d *Directory) Register(pub ed25519.PublicKey) UserId {
	id := IDFromVerifyingKey(pub)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, known := d.byID[id]; !known {
		d.byID[id] = append(ed25519.PublicKey(nil), pub...)
	}
	return id
}

// Lookup returns the verifying key for id, if known.
func (d *Directory) Lookup(id UserId) (ed25519.PublicKey, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pub, ok := d.byID[id]
	return pub, ok
}
