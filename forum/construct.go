package forum

import (
	"github.com/google/uuid"

	"github.com/var-che/spaceway/hlc"
	"github.com/var-che/spaceway/identity"
	"github.com/var-che/spaceway/ids"
	"github.com/var-che/spaceway/op"
)

// Forum exposes constructor functions that build signed ops: each Build*
// computes the deps an op needs from current State, signs it via op.Build,
// and returns the Envelope ready for Store.PutOp and gossip publication,
// leaving State unchanged until the op is applied. Forum never performs network side-effects itself (spec
// §4.5) — that is the Engine's job.

func (s *State) BuildCreateSpace(author *identity.Identity, clock *hlc.Clock, spaceID ids.SpaceId, name, description string, visibility op.Visibility, mode op.SpaceMode) (*op.Envelope, error) {
	payload := &op.CreateSpacePayload{Name: name, Description: description, Visibility: visibility, Mode: mode}
	return op.Build(author, spaceID, op.KindCreateSpace, payload, clock.Now(), nil)
}

func (s *State) BuildUpdateSpaceVisibility(author *identity.Identity, clock *hlc.Clock, spaceID ids.SpaceId, visibility op.Visibility) (*op.Envelope, error) {
	payload := &op.UpdateSpaceVisibilityPayload{Visibility: visibility}
	return op.Build(author, spaceID, op.KindUpdateSpaceVisibility, payload, clock.Now(), s.deps(spaceID))
}

func (s *State) BuildUpdateSpaceMode(author *identity.Identity, clock *hlc.Clock, spaceID ids.SpaceId, mode op.SpaceMode) (*op.Envelope, error) {
	payload := &op.UpdateSpaceModePayload{Mode: mode}
	return op.Build(author, spaceID, op.KindUpdateSpaceMode, payload, clock.Now(), s.deps(spaceID))
}

func (s *State) BuildCreateInvite(author *identity.Identity, clock *hlc.Clock, spaceID ids.SpaceId, code string, maxUses uint32, expiresAt int64) (*op.Envelope, error) {
	payload := &op.CreateInvitePayload{Code: code, MaxUses: maxUses, ExpiresAt: expiresAt, CreatedAt: s.nowMs()}
	return op.Build(author, spaceID, op.KindCreateInvite, payload, clock.Now(), s.deps(spaceID))
}

func (s *State) BuildRevokeInvite(author *identity.Identity, clock *hlc.Clock, spaceID ids.SpaceId, code string) (*op.Envelope, error) {
	payload := &op.RevokeInvitePayload{Code: code}
	return op.Build(author, spaceID, op.KindRevokeInvite, payload, clock.Now(), s.deps(spaceID))
}

func (s *State) BuildUseInvite(author *identity.Identity, clock *hlc.Clock, spaceID ids.SpaceId, code string) (*op.Envelope, error) {
	payload := &op.UseInvitePayload{Code: code}
	return op.Build(author, spaceID, op.KindUseInvite, payload, clock.Now(), s.deps(spaceID))
}

func (s *State) BuildAddMember(author *identity.Identity, clock *hlc.Clock, spaceID ids.SpaceId, user identity.UserId, role op.RoleId) (*op.Envelope, error) {
	payload := &op.AddMemberPayload{User: user, Role: role}
	return op.Build(author, spaceID, op.KindAddMember, payload, clock.Now(), s.deps(spaceID))
}

func (s *State) BuildRemoveMember(author *identity.Identity, clock *hlc.Clock, spaceID ids.SpaceId, user identity.UserId) (*op.Envelope, error) {
	payload := &op.RemoveMemberPayload{User: user}
	return op.Build(author, spaceID, op.KindRemoveMember, payload, clock.Now(), s.deps(spaceID))
}

// BuildCreateRole mints a fresh random RoleId: unlike default roles, custom
// roles have no deterministic identity requirement, so uuid.New() is fine
// here (spec §3 specifies Role.id as an opaque UUID).
func (s *State) BuildCreateRole(author *identity.Identity, clock *hlc.Clock, spaceID ids.SpaceId, name string, perms op.Permissions, position uint32, color string) (*op.Envelope, error) {
	payload := &op.CreateRolePayload{Role: uuid.New(), Name: name, Perms: perms, Position: position, Color: color}
	return op.Build(author, spaceID, op.KindCreateRole, payload, clock.Now(), s.deps(spaceID))
}

func (s *State) BuildAssignRole(author *identity.Identity, clock *hlc.Clock, spaceID ids.SpaceId, user identity.UserId, role op.RoleId) (*op.Envelope, error) {
	payload := &op.AssignRolePayload{User: user, Role: role}
	return op.Build(author, spaceID, op.KindAssignRole, payload, clock.Now(), s.deps(spaceID))
}

func (s *State) BuildUpdateRolePermissions(author *identity.Identity, clock *hlc.Clock, spaceID ids.SpaceId, role op.RoleId, perms op.Permissions) (*op.Envelope, error) {
	payload := &op.UpdateRolePermissionsPayload{Role: role, Perms: perms}
	return op.Build(author, spaceID, op.KindUpdateRolePermissions, payload, clock.Now(), s.deps(spaceID))
}

func (s *State) BuildCreateChannel(author *identity.Identity, clock *hlc.Clock, spaceID ids.SpaceId, name string, isPrivate bool) (*op.Envelope, error) {
	payload := &op.CreateChannelPayload{Name: name, IsPrivate: isPrivate}
	return op.Build(author, spaceID, op.KindCreateChannel, payload, clock.Now(), s.deps(spaceID))
}

func (s *State) BuildAddChannelModerator(author *identity.Identity, clock *hlc.Clock, spaceID ids.SpaceId, channel ids.ChannelId, user identity.UserId) (*op.Envelope, error) {
	payload := &op.AddChannelModeratorPayload{Channel: channel, User: user}
	return op.Build(author, spaceID, op.KindAddChannelModerator, payload, clock.Now(), s.deps(spaceID, ids.ID(channel)))
}

func (s *State) BuildRemoveChannelModerator(author *identity.Identity, clock *hlc.Clock, spaceID ids.SpaceId, channel ids.ChannelId, user identity.UserId) (*op.Envelope, error) {
	payload := &op.RemoveChannelModeratorPayload{Channel: channel, User: user}
	return op.Build(author, spaceID, op.KindRemoveChannelModerator, payload, clock.Now(), s.deps(spaceID, ids.ID(channel)))
}

func (s *State) BuildCreateThread(author *identity.Identity, clock *hlc.Clock, spaceID ids.SpaceId, channel ids.ChannelId, title string, firstMessage []byte) (*op.Envelope, error) {
	payload := &op.CreateThreadPayload{Channel: channel, Title: title, FirstMessage: firstMessage}
	return op.Build(author, spaceID, op.KindCreateThread, payload, clock.Now(), s.deps(spaceID, ids.ID(channel)))
}

func (s *State) BuildPostMessage(author *identity.Identity, clock *hlc.Clock, spaceID ids.SpaceId, channel ids.ChannelId, thread ids.ThreadId, content []byte) (*op.Envelope, error) {
	payload := &op.PostMessagePayload{Thread: thread, Channel: channel, Content: content}
	return op.Build(author, spaceID, op.KindPostMessage, payload, clock.Now(), s.deps(spaceID, ids.ID(thread)))
}

func (s *State) BuildEditMessage(author *identity.Identity, clock *hlc.Clock, spaceID ids.SpaceId, message ids.MessageId, content []byte) (*op.Envelope, error) {
	payload := &op.EditMessagePayload{Message: message, Content: content}
	return op.Build(author, spaceID, op.KindEditMessage, payload, clock.Now(), s.deps(spaceID, ids.ID(message)))
}

func (s *State) BuildDeleteMessage(author *identity.Identity, clock *hlc.Clock, spaceID ids.SpaceId, message ids.MessageId) (*op.Envelope, error) {
	payload := &op.DeleteMessagePayload{Message: message}
	return op.Build(author, spaceID, op.KindDeleteMessage, payload, clock.Now(), s.deps(spaceID, ids.ID(message)))
}
