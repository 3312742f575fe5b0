package op

// Kind enumerates the closed set of operation kinds (spec §3). Dispatch over
// Kind is always an exhaustive switch — no open-world polymorphism (spec
// §9, "Dynamic dispatch over op kinds").
type Kind uint8

const (
	KindCreateSpace Kind = iota
	KindUpdateSpaceVisibility
	KindUpdateSpaceMode
	KindCreateInvite
	KindRevokeInvite
	KindUseInvite
	KindAddMember
	KindRemoveMember
	KindCreateRole
	KindAssignRole
	KindUpdateRolePermissions
	KindCreateChannel
	KindAddChannelModerator
	KindRemoveChannelModerator
	KindCreateThread
	KindPostMessage
	KindEditMessage
	KindDeleteMessage

	kindSentinel // must stay last; used for range validation
)

var kindNames = [kindSentinel]string{
	"CreateSpace",
	"UpdateSpaceVisibility",
	"UpdateSpaceMode",
	"CreateInvite",
	"RevokeInvite",
	"UseInvite",
	"AddMember",
	"RemoveMember",
	"CreateRole",
	"AssignRole",
	"UpdateRolePermissions",
	"CreateChannel",
	"AddChannelModerator",
	"RemoveChannelModerator",
	"CreateThread",
	"PostMessage",
	"EditMessage",
	"DeleteMessage",
}

func (k Kind) String() string {
	if k >= kindSentinel {
		return "Unknown"
	}
	return kindNames[k]
}

// Valid reports whether k is a recognized member of the closed kind set.
func (k Kind) Valid() bool { return k < kindSentinel }
