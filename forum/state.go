package forum

import (
	"crypto/rand"
	"sync"

	"github.com/var-che/spaceway/identity"
	"github.com/var-che/spaceway/ids"
	"github.com/var-che/spaceway/logging"
	"github.com/var-che/spaceway/op"
)

// State is the materialized Forum: every Space/Channel/Thread/Message, plus
// role/invite bookkeeping, folded from the op log. It is held behind a
// single read/write lock, single-writer-preferred per spec §5.
type State struct {
	logging.Instance

	mu       sync.RWMutex
	spaces   map[ids.SpaceId]*Space
	channels map[ids.ChannelId]*Channel
	threads  map[ids.ThreadId]*Thread
	messages map[ids.MessageId]*Message

	// lastOp tracks, per entity id, the most recently applied op that
	// touched it — the LWW-chain predecessor every new op on that entity
	// must list as a dep (spec §4.3).
	lastOp map[ids.ID]ids.OpId

	nowMs func() int64
}

// New constructs an empty Forum state.
func New(nowMs func() int64) *State {
	return &State{
		Instance: logging.MakeInstance("forum"),
		spaces:   make(map[ids.SpaceId]*Space),
		channels: make(map[ids.ChannelId]*Channel),
		threads:  make(map[ids.ThreadId]*Thread),
		messages: make(map[ids.MessageId]*Message),
		lastOp:   make(map[ids.ID]ids.OpId),
		nowMs:    nowMs,
	}
}

// Applied reports whether opID has already been folded into state,
// satisfying op.DepChecker for in-memory (pre-Store) holdback checks.
func (s *State) Applied(opID ids.OpId) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, last := range s.lastOp {
		if last == opID {
			return true
		}
	}
	return false
}

func (s *State) deps(space ids.SpaceId, entities ...ids.ID) []ids.OpId {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[ids.OpId]struct{})
	var out []ids.OpId
	add := func(id ids.OpId) {
		if id == (ids.OpId{}) {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	if sp, ok := s.spaces[space]; ok {
		add(sp.CreationOp)
	}
	for _, e := range entities {
		add(s.lastOp[e])
	}
	return out
}

func (s *State) recordLastOp(entity ids.ID, opID ids.OpId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOp[entity] = opID
}

// GetSpace returns the Space's live internal pointer, not a copy; callers
// only read through it so that State stays the single writer.
func (s *State) GetSpace(id ids.SpaceId) (*Space, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.spaces[id]
	return sp, ok
}

func (s *State) GetChannel(id ids.ChannelId) (*Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[id]
	return c, ok
}

func (s *State) GetThread(id ids.ThreadId) (*Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	return t, ok
}

func (s *State) GetMessage(id ids.MessageId) (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	return m, ok
}

// ListSpaces, ListChannels, ListThreads, ListMessages back the Engine's
// read-only list_* API (spec §6.1).
func (s *State) ListSpaces() []*Space {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Space, 0, len(s.spaces))
	for _, sp := range s.spaces {
		out = append(out, sp)
	}
	return out
}

func (s *State) ListChannels(space ids.SpaceId) []*Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Channel
	for _, c := range s.channels {
		if c.SpaceID == space && !c.Tombstoned {
			out = append(out, c)
		}
	}
	return out
}

func (s *State) ListThreads(channel ids.ChannelId) []*Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Thread
	for _, t := range s.threads {
		if t.ChannelID == channel {
			out = append(out, t)
		}
	}
	return out
}

func (s *State) ListMessages(thread ids.ThreadId) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[thread]
	if !ok {
		return nil
	}
	out := make([]*Message, 0, len(t.Messages))
	for _, mid := range t.Messages {
		if m, ok := s.messages[mid]; ok {
			out = append(out, m)
		}
	}
	return out
}

// HasPermission implements spec §4.5: the owner implicitly holds all
// permissions; otherwise true iff the member's assigned role has bit set.
func (s *State) HasPermission(space ids.SpaceId, user identity.UserId, bit op.Permissions) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasPermissionLocked(space, user, bit)
}

func (s *State) hasPermissionLocked(space ids.SpaceId, user identity.UserId, bit op.Permissions) bool {
	sp, ok := s.spaces[space]
	if !ok {
		return false
	}
	if sp.Owner == user {
		return true
	}
	roleID, ok := sp.MemberRoles[user]
	if !ok {
		roleID = sp.DefaultRole
	}
	role, ok := sp.Roles[roleID]
	if !ok {
		return false
	}
	return role.Perms&bit != 0
}

// HasChannelPermission implements the channel-scoped half of spec §4.5:
// checks the member's channel-level role override first, then falls
// through to the Space-level check for bits that have a Space counterpart.
func (s *State) HasChannelPermission(channel ids.ChannelId, user identity.UserId, bit op.Permissions) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.channels[channel]
	if !ok {
		return false
	}
	sp, ok := s.spaces[c.SpaceID]
	if ok && sp.Owner == user {
		return true
	}
	if roleID, overridden := c.Members[user]; overridden {
		if role, ok := sp.Roles[roleID]; ok && role.Perms&bit != 0 {
			return true
		}
	}
	if spaceBit := channelToSpacePerm(bit); spaceBit != 0 {
		return s.hasPermissionLocked(c.SpaceID, user, spaceBit)
	}
	return false
}

func randomInviteCode() string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	code := make([]byte, 8)
	for i, b := range buf {
		code[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(code)
}
