package mls

import (
	"sort"
	"sync"

	"github.com/var-che/spaceway/identity"
	"github.com/var-che/spaceway/spaceerr"
)

// KeyPackageStore is the local cache of KeyPackages fetched from the DHT at
// Blake3("keypackage:" || user_id) (spec §4.6, §6.3). Packages are
// consumable one-per-join: Claim pops the oldest non-expired package so it
// cannot be reused for a second add, mirroring the AmityVox federation
// surface's "DELETE ... RETURNING" claim semantics.
type KeyPackageStore struct {
	mu     sync.Mutex
	byUser map[identity.UserId][]*KeyPackage
}

func NewKeyPackageStore() *KeyPackageStore {
	return &KeyPackageStore{byUser: make(map[identity.UserId][]*KeyPackage)}
}

// Ingest records packages fetched from the DHT or received over gossip.
// Packages whose signature does not verify are dropped; every other package
// is appended, with no deduplication.
func (s *KeyPackageStore) Ingest(packages ...*KeyPackage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kp := range packages {
		if !kp.Verify() {
			continue
		}
		s.byUser[kp.User] = append(s.byUser[kp.User], kp)
	}
}

// Claim consumes and returns the oldest non-expired package for user, or
// ErrNoKeyPackageAvailable if none remain (spec §4.6 failure mode).
func (s *KeyPackageStore) Claim(user identity.UserId, nowMs int64) (*KeyPackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool := s.byUser[user]
	live := pool[:0]
	var claimed *KeyPackage
	sort.Slice(pool, func(i, j int) bool { return pool[i].CreatedAt < pool[j].CreatedAt })
	for _, kp := range pool {
		if kp.Expired(nowMs) {
			continue
		}
		if claimed == nil {
			claimed = kp
			continue
		}
		live = append(live, kp)
	}
	s.byUser[user] = live
	if claimed == nil {
		return nil, spaceerr.ErrNoKeyPackageAvailable
	}
	return claimed, nil
}

// Count reports how many unclaimed, unexpired packages remain for user.
func (s *KeyPackageStore) Count(user identity.UserId, nowMs int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, kp := range s.byUser[user] {
		if !kp.Expired(nowMs) {
			n++
		}
	}
	return n
}
