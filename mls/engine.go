package mls

import (
	"fmt"
	"sync"

	"github.com/var-che/spaceway/identity"
	"github.com/var-che/spaceway/ids"
	"github.com/var-che/spaceway/logging"
	"github.com/var-che/spaceway/spaceerr"
)

// Engine owns every Group this node participates in, keyed by the Space or
// Channel id the group secures (spec §4.6: "per-channel and per-space
// groups are independent mls.Group instances"). It sits below Forum state
// and above Store in the lock-acquisition order (spec §4.10): callers must
// never hold a Forum lock while calling into Engine, and Engine must never
// hold its own lock across a network await.
type Engine struct {
	logging.Instance

	mu     sync.RWMutex
	groups map[ids.ID]*Group

	KeyPackages *KeyPackageStore

	self     identity.UserId
	initKeys map[[32]byte]struct{} // published init public keys; CreateGroup takes its founding key from here
	privKeys map[[32]byte][32]byte // init public -> init private, for opening Welcomes; never removed
	privMu   sync.Mutex
}

func NewEngine(self identity.UserId) *Engine {
	return &Engine{
		Instance:    logging.MakeInstance("mls"),
		groups:      make(map[ids.ID]*Group),
		KeyPackages: NewKeyPackageStore(),
		self:        self,
		initKeys:    make(map[[32]byte]struct{}),
		privKeys:    make(map[[32]byte][32]byte),
	}
}

// RetainInitKey remembers the private scalar for a just-published
// KeyPackage so a later Welcome addressed to it can be opened (spec §4.6:
// publish_key_packages publishes public material; the private half never
// leaves this node).
func (e *Engine) RetainInitKey(pub, priv [32]byte) {
	e.privMu.Lock()
	defer e.privMu.Unlock()
	e.initKeys[pub] = struct{}{}
	e.privKeys[pub] = priv
}

// CreateGroup founds a new group for the given entity (Space in MLS mode,
// or a Channel) with self as sole member, using one of this node's own
// retained init keys as its founding key material.
func (e *Engine) CreateGroup(groupID ids.ID) (*Group, error) {
	e.privMu.Lock()
	var founderInit [32]byte
	for pub := range e.initKeys {
		founderInit = pub
		break
	}
	e.privMu.Unlock()

	g, err := NewGroup(groupID, e.self, founderInit)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.groups[groupID]; exists {
		return e.groups[groupID], nil
	}
	e.groups[groupID] = g
	return g, nil
}

// Group returns the group securing the given entity, if this node has
// joined it.
func (e *Engine) Group(groupID ids.ID) (*Group, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	g, ok := e.groups[groupID]
	return g, ok
}

// AddMember claims a KeyPackage for user, commits them into groupID's
// group, and returns the announcement plus Welcome to publish. Failure
// modes per spec §4.6: NoKeyPackageAvailable, DuplicateSignatureKey.
func (e *Engine) AddMember(groupID ids.ID, user identity.UserId, nowMs int64) (*CommitMessage, *Welcome, error) {
	g, ok := e.Group(groupID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no local group for %x", spaceerr.ErrNotFound, groupID[:8])
	}
	kp, err := e.KeyPackages.Claim(user, nowMs)
	if err != nil {
		return nil, nil, err
	}
	msg, welcomes, err := g.Commit([]*KeyPackage{kp}, nil)
	if err != nil {
		return nil, nil, err
	}
	if len(welcomes) != 1 {
		return nil, nil, fmt.Errorf("%w: expected exactly one welcome", spaceerr.ErrInternal)
	}
	return msg, welcomes[0], nil
}

// RemoveMember commits user's removal from groupID's group.
func (e *Engine) RemoveMember(groupID ids.ID, user identity.UserId) (*CommitMessage, error) {
	g, ok := e.Group(groupID)
	if !ok {
		return nil, fmt.Errorf("%w: no local group for %x", spaceerr.ErrNotFound, groupID[:8])
	}
	msg, _, err := g.Commit(nil, []identity.UserId{user})
	return msg, err
}

// HandleWelcome installs a group this node was just invited into. It looks
// up the private scalar matching w.TargetInit, the init public key the
// Welcome was sealed against, among this node's retained keys.
func (e *Engine) HandleWelcome(w *Welcome) error {
	e.privMu.Lock()
	priv, found := e.privKeys[w.TargetInit]
	e.privMu.Unlock()
	if !found {
		return fmt.Errorf("%w: no retained init key matching welcome target", spaceerr.ErrInternal)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	g, exists := e.groups[w.GroupID]
	if !exists {
		founder, err := NewGroup(w.GroupID, e.self, priv)
		if err != nil {
			return err
		}
		g = founder
		e.groups[w.GroupID] = g
	}
	return g.ApplyWelcome(w, priv)
}

// HandleCommit folds a commit announcement into an already-joined group.
func (e *Engine) HandleCommit(msg *CommitMessage) error {
	g, ok := e.Group(msg.GroupID)
	if !ok {
		return fmt.Errorf("%w: no local group for %x", spaceerr.ErrNotFound, msg.GroupID[:8])
	}
	return g.ApplyCommit(msg)
}
