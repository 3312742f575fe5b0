package mls

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/var-che/spaceway/identity"
	"github.com/var-che/spaceway/ids"
	"github.com/var-che/spaceway/logging"
	"github.com/var-che/spaceway/spaceerr"
)

const secretSize = 32

// Group is one MLS-lite group — either a Space-level or a Channel-level
// group (spec §4.6, "per-channel/per-space groups are independent
// instances"). All epoch-mutating state sits behind epochMu, mirroring the
// teacher's epochMu-guarded epoch fields in poset/epoch.go: readers copy
// out under RLock, mutators replace the whole epoch snapshot under Lock.
type Group struct {
	logging.Instance

	GroupID ids.ID

	epochMu sync.RWMutex
	epoch   uint64
	secret  [secretSize]byte
	members map[identity.UserId][32]byte // user -> last-known init public key
}

// memberSnapshot is the deterministic byte encoding of a member set used as
// HKDF info so every member derives the identical next-epoch secret without
// exchanging it (spec §4.6: "epoch secret schedule").
func memberSnapshot(members map[identity.UserId][32]byte) []byte {
	ids := make([]identity.UserId, 0, len(members))
	for u := range members {
		ids = append(ids, u)
	}
	sort.Slice(ids, func(i, j int) bool { return string(ids[i][:]) < string(ids[j][:]) })

	out := make([]byte, 0, len(ids)*32)
	for _, u := range ids {
		out = append(out, u[:]...)
	}
	return out
}

// NewGroup creates epoch 0 with a single founding member, seeded from
// crypto/rand — there is no prior epoch secret to derive from (spec §4.6).
func NewGroup(groupID ids.ID, founder identity.UserId, founderInit [32]byte) (*Group, error) {
	g := &Group{
		Instance: logging.MakeInstance("mls"),
		GroupID:  groupID,
		members:  map[identity.UserId][32]byte{founder: founderInit},
	}
	if _, err := rand.Read(g.secret[:]); err != nil {
		return nil, fmt.Errorf("mls: seeding group secret: %w", err)
	}
	return g, nil
}

// Epoch returns the group's current epoch number.
func (g *Group) Epoch() uint64 {
	g.epochMu.RLock()
	defer g.epochMu.RUnlock()
	return g.epoch
}

// HasMember reports whether user currently belongs to the group.
func (g *Group) HasMember(user identity.UserId) bool {
	g.epochMu.RLock()
	defer g.epochMu.RUnlock()
	_, ok := g.members[user]
	return ok
}

// MemberCount returns the number of current members.
func (g *Group) MemberCount() int {
	g.epochMu.RLock()
	defer g.epochMu.RUnlock()
	return len(g.members)
}

// CommitMessage announces an epoch transition: the member delta plus the
// nonce every surviving member folds into the next-epoch secret derivation.
// It carries no secret material itself — existing members recompute the
// new secret locally from their current one (spec §4.6, forward secrecy:
// the old secret is discarded once the new one is derived).
type CommitMessage struct {
	GroupID ids.ID
	Epoch   uint64
	Nonce   [16]byte
	Added   []identity.UserId
	Removed []identity.UserId
}

// Welcome carries the new epoch's secret and membership snapshot to a
// joining member, encrypted to their published KeyPackage init key via
// X25519 + HKDF + chacha20poly1305 (spec §4.6).
type Welcome struct {
	GroupID    ids.ID
	Epoch      uint64
	Recipient  identity.UserId
	TargetInit [32]byte // the recipient's init public key this Welcome was sealed against
	EphPublic  [32]byte
	Nonce      [24]byte
	Ciphertext []byte // seals {Secret, Members}
}

// Commit advances the group to a new epoch, adding and removing the given
// members. It must be called holding no Forum or Store locks (spec §4.10
// lock order: Forum state → MLS engine → Store, and never across a network
// await). Returns the announcement to gossip to existing members and one
// Welcome per added member.
func (g *Group) Commit(adds []*KeyPackage, removes []identity.UserId) (*CommitMessage, []*Welcome, error) {
	g.epochMu.Lock()
	defer g.epochMu.Unlock()

	for _, kp := range adds {
		if !kp.Verify() {
			return nil, nil, fmt.Errorf("mls: %w: key package signature invalid", spaceerr.ErrInternal)
		}
		if _, already := g.members[kp.User]; already {
			return nil, nil, spaceerr.ErrDuplicateSignatureKey
		}
	}

	next := make(map[identity.UserId][32]byte, len(g.members)+len(adds))
	for u, k := range g.members {
		next[u] = k
	}
	for _, r := range removes {
		delete(next, r)
	}
	for _, kp := range adds {
		next[kp.User] = kp.InitPublic
	}

	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, nil, fmt.Errorf("mls: generating commit nonce: %w", err)
	}

	newEpoch := g.epoch + 1
	newSecret, err := deriveNextSecret(g.secret, newEpoch, nonce, memberSnapshot(next))
	if err != nil {
		return nil, nil, err
	}

	welcomes := make([]*Welcome, 0, len(adds))
	for _, kp := range adds {
		w, err := sealWelcome(g.GroupID, newEpoch, kp, newSecret, next)
		if err != nil {
			return nil, nil, err
		}
		welcomes = append(welcomes, w)
	}

	g.members = next
	g.secret = newSecret
	g.epoch = newEpoch

	msg := &CommitMessage{GroupID: g.GroupID, Epoch: newEpoch, Nonce: nonce, Added: userIDs(adds), Removed: removes}
	return msg, welcomes, nil
}

// ApplyCommit folds a CommitMessage produced by another member: the
// receiver already holds the prior epoch secret, so it recomputes the next
// one from the same inputs rather than receiving it over the wire. Added
// members enter the snapshot keyed off msg.Added itself — their init public
// key is irrelevant to memberSnapshot and unknown to this receiver anyway
// (only the Welcome the new member gets carries it).
func (g *Group) ApplyCommit(msg *CommitMessage) error {
	g.epochMu.Lock()
	defer g.epochMu.Unlock()

	if msg.GroupID != g.GroupID {
		return fmt.Errorf("%w: commit for a different group", spaceerr.ErrInternal)
	}
	if msg.Epoch != g.epoch+1 {
		return spaceerr.ErrStaleEpoch
	}

	next := make(map[identity.UserId][32]byte, len(g.members)+len(msg.Added))
	for u, k := range g.members {
		next[u] = k
	}
	for _, r := range msg.Removed {
		delete(next, r)
	}
	for _, u := range msg.Added {
		next[u] = [32]byte{}
	}

	newSecret, err := deriveNextSecret(g.secret, msg.Epoch, msg.Nonce, memberSnapshot(next))
	if err != nil {
		return err
	}

	g.members = next
	g.secret = newSecret
	g.epoch = msg.Epoch
	return nil
}

// ApplyWelcome decrypts a Welcome addressed to myInitPriv, the private
// scalar matching the KeyPackage the Welcome was sealed against, and
// installs the resulting epoch state. This is how a new member bootstraps
// into a group it was not present for any prior epoch of (spec §4.6,
// "auto-join on first message").
func (g *Group) ApplyWelcome(w *Welcome, myInitPriv [32]byte) error {
	secret, members, err := openWelcome(w, myInitPriv)
	if err != nil {
		return err
	}

	g.epochMu.Lock()
	defer g.epochMu.Unlock()
	if w.Epoch < g.epoch {
		return spaceerr.ErrStaleEpoch
	}
	g.epoch = w.Epoch
	g.secret = secret
	g.members = members
	return nil
}

func userIDs(kps []*KeyPackage) []identity.UserId {
	out := make([]identity.UserId, len(kps))
	for i, kp := range kps {
		out[i] = kp.User
	}
	return out
}

// deriveNextSecret implements the epoch secret schedule: HKDF-Expand keyed
// by the prior secret, salted by the commit nonce, with the new member
// snapshot and epoch number bound into the info string so two commits can
// never collide on the same derived secret (spec §4.6).
func deriveNextSecret(prior [secretSize]byte, epoch uint64, nonce [16]byte, snapshot []byte) ([secretSize]byte, error) {
	var out [secretSize]byte
	info := append([]byte(fmt.Sprintf("spaceway-mls-epoch-%d:", epoch)), snapshot...)
	r := hkdf.New(sha256.New, prior[:], nonce[:], info)
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, fmt.Errorf("mls: deriving epoch secret: %w", err)
	}
	return out, nil
}

// x25519Shared computes the raw Diffie-Hellman shared point.
func x25519Shared(priv, pub [32]byte) ([]byte, error) {
	return curve25519.X25519(priv[:], pub[:])
}
