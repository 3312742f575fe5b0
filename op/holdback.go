package op

import (
	"sync"
	"time"

	"github.com/var-che/spaceway/ids"
)

// heldOp is a pending Envelope plus the deps it is still waiting on and
// when it entered the queue (for age-based eviction).
type heldOp struct {
	env      *Envelope
	waitingOn map[ids.OpId]struct{}
	enqueued time.Time
}

// Holdback is the bounded in-memory buffer for ops whose dependencies have
// not yet arrived (spec §4.3, §9 glossary). It is keyed both by the held
// op's own id (so duplicates can be detected) and by each missing dep (so
// arrival of that dep can release every op waiting on it).
type Holdback struct {
	mu       sync.Mutex
	capacity int
	maxAge   time.Duration
	now      func() time.Time

	byOpID  map[ids.OpId]*heldOp
	waiters map[ids.OpId]map[ids.OpId]struct{} // missing dep -> set of waiting op ids
}

// NewHoldback constructs a Holdback with the given capacity and max age.
func NewHoldback(capacity int, maxAge time.Duration) *Holdback {
	return &Holdback{
		capacity: capacity,
		maxAge:   maxAge,
		now:      time.Now,
		byOpID:   make(map[ids.OpId]*heldOp),
		waiters:  make(map[ids.OpId]map[ids.OpId]struct{}),
	}
}

// Len reports how many ops are currently held.
func (h *Holdback) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byOpID)
}

// Add places env in the queue, waiting on missing. If the queue is already
// at capacity, the oldest held op is evicted to make room (bounded queue,
// spec §4.3). Re-adding an already-held op id is a no-op (idempotence).
func (h *Holdback) Add(env *Envelope, missing []ids.OpId) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.byOpID[env.OpID]; exists {
		return
	}

	h.evictExpiredLocked()
	if len(h.byOpID) >= h.capacity {
		h.evictOldestLocked()
	}

	waiting := make(map[ids.OpId]struct{}, len(missing))
	for _, m := range missing {
		waiting[m] = struct{}{}
		if h.waiters[m] == nil {
			h.waiters[m] = make(map[ids.OpId]struct{})
		}
		h.waiters[m][env.OpID] = struct{}{}
	}

	h.byOpID[env.OpID] = &heldOp{env: env, waitingOn: waiting, enqueued: h.now()}
}

// Satisfy marks depID as applied and returns every envelope that is now
// fully satisfied (all its deps applied) and can be removed from the
// queue. Envelopes that still have other missing deps remain held.
func (h *Holdback) Satisfy(depID ids.OpId) []*Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()

	waitingOps, ok := h.waiters[depID]
	if !ok {
		return nil
	}
	delete(h.waiters, depID)

	var ready []*Envelope
	for opID := range waitingOps {
		held, ok := h.byOpID[opID]
		if !ok {
			continue
		}
		delete(held.waitingOn, depID)
		if len(held.waitingOn) == 0 {
			ready = append(ready, held.env)
			delete(h.byOpID, opID)
		}
	}
	return ready
}

// EvictExpired drops ops older than maxAge and returns their op ids, so the
// caller can decide to re-request them via sync (spec §4.9: "repeated
// misses trigger a sync request").
func (h *Holdback) EvictExpired() []ids.OpId {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.evictExpiredLocked()
}

func (h *Holdback) evictExpiredLocked() []ids.OpId {
	cutoff := h.now().Add(-h.maxAge)
	var evicted []ids.OpId
	for opID, held := range h.byOpID {
		if held.enqueued.Before(cutoff) {
			h.removeLocked(opID)
			evicted = append(evicted, opID)
		}
	}
	return evicted
}

func (h *Holdback) evictOldestLocked() {
	var oldestID ids.OpId
	var oldestTime time.Time
	first := true
	for opID, held := range h.byOpID {
		if first || held.enqueued.Before(oldestTime) {
			oldestID, oldestTime, first = opID, held.enqueued, false
		}
	}
	if !first {
		h.removeLocked(oldestID)
	}
}

func (h *Holdback) removeLocked(opID ids.OpId) {
	held, ok := h.byOpID[opID]
	if !ok {
		return
	}
	for dep := range held.waitingOn {
		if set, ok := h.waiters[dep]; ok {
			delete(set, opID)
			if len(set) == 0 {
				delete(h.waiters, dep)
			}
		}
	}
	delete(h.byOpID, opID)
}

// MissingOpIDs returns the current set of op ids that held ops are blocked
// on — the set a sync request's "have" vector clock gap-fill should target.
func (h *Holdback) MissingOpIDs() []ids.OpId {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]ids.OpId, 0, len(h.waiters))
	for dep := range h.waiters {
		out = append(out, dep)
	}
	return out
}
