package op

import (
	"github.com/google/uuid"

	"github.com/var-che/spaceway/identity"
	"github.com/var-che/spaceway/ids"
)

// Visibility is a Space's visibility level (spec §3).
type Visibility uint8

const (
	VisibilityPublic Visibility = iota
	VisibilityPrivate
	VisibilityHidden
)

// SpaceMode selects whether a Space owns a Space-level MLS group
// (MLS mode) or leaves encryption strictly to its channels (Lightweight
// mode), per spec §3 invariant 5.
type SpaceMode uint8

const (
	ModeLightweight SpaceMode = iota
	ModeMLS
)

// RoleId identifies a Role; spec §3 specifies Role.id as a UUID.
type RoleId = uuid.UUID

// Permissions is the 32-bit bitfield shared by SpacePermissions and
// ChannelPermissions (spec §4.5); the bit layout is owned by the forum
// package, which defines the named constants.
type Permissions uint32

// CreateSpacePayload is the payload for Kind CreateSpace.
type CreateSpacePayload struct {
	Name        string
	Description string
	Visibility  Visibility
	Mode        SpaceMode
}

// UpdateSpaceVisibilityPayload is the payload for Kind UpdateSpaceVisibility.
type UpdateSpaceVisibilityPayload struct {
	Visibility Visibility
}

// UpdateSpaceModePayload is the payload for Kind UpdateSpaceMode.
type UpdateSpaceModePayload struct {
	Mode SpaceMode
}

// CreateInvitePayload is the payload for Kind CreateInvite.
type CreateInvitePayload struct {
	Code      string
	MaxUses   uint32 // 0 means unlimited
	ExpiresAt int64  // unix ms; 0 means never
	CreatedAt int64  // unix ms
}

// RevokeInvitePayload is the payload for Kind RevokeInvite.
type RevokeInvitePayload struct {
	Code string
}

// UseInvitePayload is the payload for Kind UseInvite.
type UseInvitePayload struct {
	Code string
}

// AddMemberPayload is the payload for Kind AddMember.
type AddMemberPayload struct {
	User identity.UserId
	Role RoleId
}

// RemoveMemberPayload is the payload for Kind RemoveMember.
type RemoveMemberPayload struct {
	User identity.UserId
}

// CreateRolePayload is the payload for Kind CreateRole.
type CreateRolePayload struct {
	Role     RoleId
	Name     string
	Perms    Permissions
	Position uint32
	Color    string
}

// AssignRolePayload is the payload for Kind AssignRole.
type AssignRolePayload struct {
	User identity.UserId
	Role RoleId
}

// UpdateRolePermissionsPayload is the payload for Kind
// UpdateRolePermissions.
type UpdateRolePermissionsPayload struct {
	Role  RoleId
	Perms Permissions
}

// CreateChannelPayload is the payload for Kind CreateChannel.
type CreateChannelPayload struct {
	Name      string
	IsPrivate bool
}

// AddChannelModeratorPayload is the payload for Kind AddChannelModerator.
type AddChannelModeratorPayload struct {
	Channel ids.ChannelId
	User    identity.UserId
}

// RemoveChannelModeratorPayload is the payload for Kind
// RemoveChannelModerator.
type RemoveChannelModeratorPayload struct {
	Channel ids.ChannelId
	User    identity.UserId
}

// CreateThreadPayload is the payload for Kind CreateThread.
type CreateThreadPayload struct {
	Channel      ids.ChannelId
	Title        string
	FirstMessage []byte // ciphertext-at-rest when the channel's group uses MLS
}

// PostMessagePayload is the payload for Kind PostMessage.
type PostMessagePayload struct {
	Thread  ids.ThreadId
	Channel ids.ChannelId
	Content []byte // ciphertext-at-rest when the channel's group uses MLS
}

// EditMessagePayload is the payload for Kind EditMessage.
type EditMessagePayload struct {
	Message ids.MessageId
	Content []byte
}

// DeleteMessagePayload is the payload for Kind DeleteMessage (tombstone).
type DeleteMessagePayload struct {
	Message ids.MessageId
}
