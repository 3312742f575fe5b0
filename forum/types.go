// Package forum materializes Space/Channel/Thread/Message state by folding
// ops in HLC order (spec §4.5). Every Apply is deterministic and
// total-order-dependent: replaying the same op log on any peer yields
// identical state (spec testable property 3, "Convergence").
package forum

import (
	"github.com/var-che/spaceway/hlc"
	"github.com/var-che/spaceway/identity"
	"github.com/var-che/spaceway/ids"
	"github.com/var-che/spaceway/op"
)

// Role is a named, positioned permission set (spec §3). Position-based
// hierarchy: a user may assign only roles strictly below their own
// (owner excepted).
type Role struct {
	ID       op.RoleId
	Name     string
	Perms    op.Permissions
	Position uint32
	Color    string
}

// Invite is a redeemable Space invitation code (spec §3).
type Invite struct {
	Code      string
	SpaceID   ids.SpaceId
	Creator   identity.UserId
	MaxUses   uint32 // 0 = unlimited
	ExpiresAt int64  // unix ms, 0 = never
	CreatedAt int64
	Uses      uint32
	Revoked   bool
}

// state reports whether the invite can still be redeemed at wall-clock
// nowMs (spec §4.5, boundary behaviors in spec §8).
func (i *Invite) state(nowMs int64) inviteState {
	switch {
	case i.Revoked:
		return inviteRevoked
	case i.ExpiresAt != 0 && nowMs >= i.ExpiresAt:
		return inviteExpired
	case i.MaxUses != 0 && i.Uses >= i.MaxUses:
		return inviteExhausted
	default:
		return inviteActive
	}
}

type inviteState uint8

const (
	inviteActive inviteState = iota
	inviteExhausted
	inviteExpired
	inviteRevoked
)

// Space is a top-level community (spec §3).
type Space struct {
	ID          ids.SpaceId
	Owner       identity.UserId
	Name        string
	Description string
	Visibility  op.Visibility
	Mode        op.SpaceMode
	Roles       map[op.RoleId]*Role
	MemberRoles map[identity.UserId]op.RoleId
	DefaultRole op.RoleId
	Invites     map[string]*Invite
	Channels    map[ids.ChannelId]struct{}
	CreationOp  ids.OpId

	// stamps record the HLC of the op that last won each scalar field,
	// implementing last-writer-wins convergence (spec §4.3) independent of
	// the order concurrent updates are actually applied in.
	nameStamp        hlc.Timestamp
	descriptionStamp hlc.Timestamp
	visibilityStamp  hlc.Timestamp
	modeStamp        hlc.Timestamp
	memberRoleStamp  map[identity.UserId]hlc.Timestamp
	rolePermsStamp   map[op.RoleId]hlc.Timestamp
}

// Channel is a named sub-scope within a Space (spec §3). Channel membership
// is independent of Space membership (spec invariant 4); Members records
// per-user channel-level role overrides, which may be empty for a member
// who simply inherits their Space role.
type Channel struct {
	ID          ids.ChannelId
	SpaceID     ids.SpaceId
	Name        string
	Creator     identity.UserId
	IsPrivate   bool
	Members     map[identity.UserId]op.RoleId
	Moderators  map[identity.UserId]struct{}
	Epoch       uint64
	Tombstoned  bool
}

// Thread is an ordered conversation within a Channel (spec §3).
type Thread struct {
	ID        ids.ThreadId
	ChannelID ids.ChannelId
	Title     string
	Creator   identity.UserId
	CreatedAt hlc.Timestamp
	Messages  []ids.MessageId
}

// Message is a single post within a Thread (spec §3). Content holds
// ciphertext-at-rest whenever the surrounding group uses MLS.
type Message struct {
	ID        ids.MessageId
	ThreadID  ids.ThreadId
	ChannelID ids.ChannelId
	Author    identity.UserId
	Content   []byte
	CreatedAt hlc.Timestamp
	EditedAt  *hlc.Timestamp
	Deleted   bool
}
