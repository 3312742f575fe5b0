package forum

import "github.com/var-che/spaceway/op"

// SpacePermissions is the Space-scoped 32-bit bitfield (spec §4.5).
const (
	PermCreateChannels op.Permissions = 1 << iota
	PermKickMembers
	PermBanMembers
	PermManageRoles
	PermManageInvites
	PermUpdateSpace
	PermDeleteMessages
	PermAddChannelModerator
)

// ChannelPermissions is the Channel-scoped 32-bit bitfield (spec §4.5).
// Bit values are independent of the Perm* constants above; a channel bit
// with a Space-level counterpart falls through to the Space check via the
// explicit mapping in channelToSpacePerm.
const (
	ChanPermSendMessages op.Permissions = 1 << iota
	ChanPermKickMembers
	ChanPermManageChannel
	ChanPermDeleteMessages
)

// channelToSpacePerm maps a channel permission bit to the Space-level bit
// consulted when the channel does not override it (spec §4.5:
// "channel-level check falls through to Space level when the channel does
// not override").
func channelToSpacePerm(bit op.Permissions) op.Permissions {
	switch bit {
	case ChanPermKickMembers:
		return PermKickMembers
	case ChanPermDeleteMessages:
		return PermDeleteMessages
	default:
		return 0
	}
}
