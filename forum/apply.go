package forum

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/var-che/spaceway/hlc"
	"github.com/var-che/spaceway/identity"
	"github.com/var-che/spaceway/ids"
	"github.com/var-che/spaceway/op"
	"github.com/var-che/spaceway/spaceerr"
)

// Apply folds env into state. It assumes generic envelope validation
// (signature, dep presence) has already passed — Apply performs only
// permission checks and kind-specific entity semantics (spec §4.3, §4.5).
// Dispatch is an exhaustive switch over the closed Kind set (spec §9).
func (s *State) Apply(env *op.Envelope) error {
	payload, err := op.DecodePayload(env.Kind, env.Payload)
	if err != nil {
		return fmt.Errorf("forum: decoding payload: %w", err)
	}

	switch env.Kind {
	case op.KindCreateSpace:
		return s.applyCreateSpace(env, payload.(*op.CreateSpacePayload))
	case op.KindUpdateSpaceVisibility:
		return s.applyUpdateSpaceVisibility(env, payload.(*op.UpdateSpaceVisibilityPayload))
	case op.KindUpdateSpaceMode:
		return s.applyUpdateSpaceMode(env, payload.(*op.UpdateSpaceModePayload))
	case op.KindCreateInvite:
		return s.applyCreateInvite(env, payload.(*op.CreateInvitePayload))
	case op.KindRevokeInvite:
		return s.applyRevokeInvite(env, payload.(*op.RevokeInvitePayload))
	case op.KindUseInvite:
		return s.applyUseInvite(env, payload.(*op.UseInvitePayload))
	case op.KindAddMember:
		return s.applyAddMember(env, payload.(*op.AddMemberPayload))
	case op.KindRemoveMember:
		return s.applyRemoveMember(env, payload.(*op.RemoveMemberPayload))
	case op.KindCreateRole:
		return s.applyCreateRole(env, payload.(*op.CreateRolePayload))
	case op.KindAssignRole:
		return s.applyAssignRole(env, payload.(*op.AssignRolePayload))
	case op.KindUpdateRolePermissions:
		return s.applyUpdateRolePermissions(env, payload.(*op.UpdateRolePermissionsPayload))
	case op.KindCreateChannel:
		return s.applyCreateChannel(env, payload.(*op.CreateChannelPayload))
	case op.KindAddChannelModerator:
		return s.applyAddChannelModerator(env, payload.(*op.AddChannelModeratorPayload))
	case op.KindRemoveChannelModerator:
		return s.applyRemoveChannelModerator(env, payload.(*op.RemoveChannelModeratorPayload))
	case op.KindCreateThread:
		return s.applyCreateThread(env, payload.(*op.CreateThreadPayload))
	case op.KindPostMessage:
		return s.applyPostMessage(env, payload.(*op.PostMessagePayload))
	case op.KindEditMessage:
		return s.applyEditMessage(env, payload.(*op.EditMessagePayload))
	case op.KindDeleteMessage:
		return s.applyDeleteMessage(env, payload.(*op.DeleteMessagePayload))
	default:
		return fmt.Errorf("%w: unhandled kind %s", spaceerr.ErrInternal, env.Kind)
	}
}

// defaultRoleID derives the @everyone role's id deterministically from the
// space id, so every replica materializes the identical RoleId without
// coordination (spec testable property 3, "Convergence").
func defaultRoleID(space ids.SpaceId) op.RoleId {
	return uuid.NewSHA1(uuid.Nil, append([]byte("default-role:"), space[:]...))
}

func (s *State) applyCreateSpace(env *op.Envelope, p *op.CreateSpacePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.spaces[env.SpaceID]; exists {
		return nil // idempotent duplicate (spec invariant 2)
	}

	roleID := defaultRoleID(env.SpaceID)
	sp := &Space{
		ID:               env.SpaceID,
		Owner:            env.Author,
		Name:             p.Name,
		Description:      p.Description,
		Visibility:       p.Visibility,
		Mode:             p.Mode,
		Roles:            map[op.RoleId]*Role{roleID: {ID: roleID, Name: "@everyone", Perms: 0, Position: 0}},
		MemberRoles:      map[identity.UserId]op.RoleId{env.Author: roleID},
		DefaultRole:      roleID,
		Invites:          map[string]*Invite{},
		Channels:         map[ids.ChannelId]struct{}{},
		CreationOp:       env.OpID,
		nameStamp:        env.HLC,
		descriptionStamp: env.HLC,
		visibilityStamp:  env.HLC,
		modeStamp:        env.HLC,
		memberRoleStamp:  map[identity.UserId]hlc.Timestamp{env.Author: env.HLC},
		rolePermsStamp:   map[op.RoleId]hlc.Timestamp{roleID: env.HLC},
	}
	s.spaces[env.SpaceID] = sp
	s.lastOp[env.SpaceID] = env.OpID
	return nil
}

func (s *State) applyUpdateSpaceVisibility(env *op.Envelope, p *op.UpdateSpaceVisibilityPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spaces[env.SpaceID]
	if !ok {
		return spaceerr.ErrNotFound
	}
	if !s.hasPermissionLocked(env.SpaceID, env.Author, PermUpdateSpace) && sp.Owner != env.Author {
		return spaceerr.ErrPermissionDenied
	}
	if env.HLC.Less(sp.visibilityStamp) {
		return nil // stale write loses LWW race (spec §4.3)
	}
	sp.Visibility = p.Visibility
	sp.visibilityStamp = env.HLC
	s.lastOp[env.SpaceID] = env.OpID
	return nil
}

func (s *State) applyUpdateSpaceMode(env *op.Envelope, p *op.UpdateSpaceModePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spaces[env.SpaceID]
	if !ok {
		return spaceerr.ErrNotFound
	}
	if sp.Owner != env.Author {
		return spaceerr.ErrPermissionDenied
	}
	if env.HLC.Less(sp.modeStamp) {
		return nil
	}
	sp.Mode = p.Mode
	sp.modeStamp = env.HLC
	s.lastOp[env.SpaceID] = env.OpID
	return nil
}

func (s *State) applyCreateInvite(env *op.Envelope, p *op.CreateInvitePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spaces[env.SpaceID]
	if !ok {
		return spaceerr.ErrNotFound
	}
	if !s.hasPermissionLocked(env.SpaceID, env.Author, PermManageInvites) && sp.Owner != env.Author {
		return spaceerr.ErrPermissionDenied
	}

	code := p.Code
	if code == "" {
		code = randomInviteCode()
	}
	if _, exists := sp.Invites[code]; exists {
		return nil // idempotent duplicate
	}
	sp.Invites[code] = &Invite{
		Code:      code,
		SpaceID:   env.SpaceID,
		Creator:   env.Author,
		MaxUses:   p.MaxUses,
		ExpiresAt: p.ExpiresAt,
		CreatedAt: p.CreatedAt,
	}
	s.lastOp[env.SpaceID] = env.OpID
	return nil
}

func (s *State) applyRevokeInvite(env *op.Envelope, p *op.RevokeInvitePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spaces[env.SpaceID]
	if !ok {
		return spaceerr.ErrNotFound
	}
	if !s.hasPermissionLocked(env.SpaceID, env.Author, PermManageInvites) && sp.Owner != env.Author {
		return spaceerr.ErrPermissionDenied
	}
	inv, ok := sp.Invites[p.Code]
	if !ok {
		return spaceerr.ErrNotFound
	}
	inv.Revoked = true
	s.lastOp[env.SpaceID] = env.OpID
	return nil
}

// applyUseInvite redeems an invite: the would-be member becomes a Space
// member under the Space's default role. The invite's state is checked at
// the moment of apply, not construction, because the invite may have been
// exhausted or revoked by a concurrent op that arrived first (spec §8
// boundary behavior, "invite exhaustion race").
func (s *State) applyUseInvite(env *op.Envelope, p *op.UseInvitePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spaces[env.SpaceID]
	if !ok {
		return spaceerr.ErrNotFound
	}
	inv, ok := sp.Invites[p.Code]
	if !ok {
		return spaceerr.ErrNotFound
	}
	switch inv.state(s.nowMs()) {
	case inviteExhausted:
		return spaceerr.ErrInviteExhausted
	case inviteExpired:
		return spaceerr.ErrInviteExpired
	case inviteRevoked:
		return spaceerr.ErrInviteRevoked
	}

	if _, already := sp.MemberRoles[env.Author]; !already {
		sp.MemberRoles[env.Author] = sp.DefaultRole
		sp.memberRoleStamp[env.Author] = env.HLC
		inv.Uses++
	}
	s.lastOp[env.SpaceID] = env.OpID
	return nil
}

func (s *State) applyAddMember(env *op.Envelope, p *op.AddMemberPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spaces[env.SpaceID]
	if !ok {
		return spaceerr.ErrNotFound
	}
	if sp.Owner != env.Author && !s.hasPermissionLocked(env.SpaceID, env.Author, PermManageRoles) {
		return spaceerr.ErrPermissionDenied
	}
	if _, exists := sp.MemberRoles[p.User]; exists {
		return nil
	}
	role := p.Role
	if role == (op.RoleId{}) {
		role = sp.DefaultRole
	}
	sp.MemberRoles[p.User] = role
	sp.memberRoleStamp[p.User] = env.HLC
	s.lastOp[env.SpaceID] = env.OpID
	return nil
}

func (s *State) applyRemoveMember(env *op.Envelope, p *op.RemoveMemberPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spaces[env.SpaceID]
	if !ok {
		return spaceerr.ErrNotFound
	}
	if p.User == sp.Owner {
		return spaceerr.ErrPermissionDenied // owner cannot be removed
	}
	if sp.Owner != env.Author && !s.hasPermissionLocked(env.SpaceID, env.Author, PermKickMembers) {
		return spaceerr.ErrPermissionDenied
	}
	if env.HLC.Less(sp.memberRoleStamp[p.User]) {
		return nil
	}
	delete(sp.MemberRoles, p.User)
	delete(sp.memberRoleStamp, p.User)
	s.lastOp[env.SpaceID] = env.OpID
	return nil
}

// applyCreateRole enforces the position hierarchy (spec §4.5): a non-owner
// may only create a role positioned strictly below their own highest role.
func (s *State) applyCreateRole(env *op.Envelope, p *op.CreateRolePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spaces[env.SpaceID]
	if !ok {
		return spaceerr.ErrNotFound
	}
	if sp.Owner != env.Author {
		if !s.hasPermissionLocked(env.SpaceID, env.Author, PermManageRoles) {
			return spaceerr.ErrPermissionDenied
		}
		if actorRole, ok := sp.Roles[sp.MemberRoles[env.Author]]; ok && p.Position >= actorRole.Position {
			return spaceerr.ErrPermissionDenied
		}
	}
	if _, exists := sp.Roles[p.Role]; exists {
		return nil
	}
	sp.Roles[p.Role] = &Role{ID: p.Role, Name: p.Name, Perms: p.Perms, Position: p.Position, Color: p.Color}
	sp.rolePermsStamp[p.Role] = env.HLC
	s.lastOp[env.SpaceID] = env.OpID
	return nil
}

func (s *State) applyAssignRole(env *op.Envelope, p *op.AssignRolePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spaces[env.SpaceID]
	if !ok {
		return spaceerr.ErrNotFound
	}
	target, ok := sp.Roles[p.Role]
	if !ok {
		return spaceerr.ErrNotFound
	}
	if sp.Owner != env.Author {
		if !s.hasPermissionLocked(env.SpaceID, env.Author, PermManageRoles) {
			return spaceerr.ErrPermissionDenied
		}
		actorRole, ok := sp.Roles[sp.MemberRoles[env.Author]]
		if !ok || target.Position >= actorRole.Position {
			return spaceerr.ErrPermissionDenied
		}
	}
	if env.HLC.Less(sp.memberRoleStamp[p.User]) {
		return nil
	}
	sp.MemberRoles[p.User] = p.Role
	sp.memberRoleStamp[p.User] = env.HLC
	s.lastOp[env.SpaceID] = env.OpID
	return nil
}

func (s *State) applyUpdateRolePermissions(env *op.Envelope, p *op.UpdateRolePermissionsPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spaces[env.SpaceID]
	if !ok {
		return spaceerr.ErrNotFound
	}
	role, ok := sp.Roles[p.Role]
	if !ok {
		return spaceerr.ErrNotFound
	}
	if sp.Owner != env.Author {
		if !s.hasPermissionLocked(env.SpaceID, env.Author, PermManageRoles) {
			return spaceerr.ErrPermissionDenied
		}
		actorRole, ok := sp.Roles[sp.MemberRoles[env.Author]]
		if !ok || role.Position >= actorRole.Position {
			return spaceerr.ErrPermissionDenied
		}
	}
	if env.HLC.Less(sp.rolePermsStamp[p.Role]) {
		return nil
	}
	role.Perms = p.Perms
	sp.rolePermsStamp[p.Role] = env.HLC
	s.lastOp[env.SpaceID] = env.OpID
	return nil
}

// applyCreateChannel is intentionally permissive of name collisions:
// concurrent CreateChannel ops with identical names produce distinct
// Channel entities keyed by their own content-addressed id (spec §8,
// "concurrent identical-name channels").
func (s *State) applyCreateChannel(env *op.Envelope, p *op.CreateChannelPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spaces[env.SpaceID]
	if !ok {
		return spaceerr.ErrNotFound
	}
	if sp.Owner != env.Author && !s.hasPermissionLocked(env.SpaceID, env.Author, PermCreateChannels) {
		return spaceerr.ErrPermissionDenied
	}

	channelID := ids.ChannelId(env.OpID)
	if _, exists := s.channels[channelID]; exists {
		return nil
	}
	s.channels[channelID] = &Channel{
		ID:         channelID,
		SpaceID:    env.SpaceID,
		Name:       p.Name,
		Creator:    env.Author,
		IsPrivate:  p.IsPrivate,
		Members:    map[identity.UserId]op.RoleId{},
		Moderators: map[identity.UserId]struct{}{},
	}
	sp.Channels[channelID] = struct{}{}
	s.lastOp[channelID] = env.OpID
	s.lastOp[env.SpaceID] = env.OpID
	return nil
}

func (s *State) applyAddChannelModerator(env *op.Envelope, p *op.AddChannelModeratorPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[p.Channel]
	if !ok {
		return spaceerr.ErrNotFound
	}
	sp, ok := s.spaces[c.SpaceID]
	if !ok {
		return spaceerr.ErrNotFound
	}
	if sp.Owner != env.Author && !s.hasPermissionLocked(c.SpaceID, env.Author, PermAddChannelModerator) {
		return spaceerr.ErrPermissionDenied
	}
	c.Moderators[p.User] = struct{}{}
	s.lastOp[p.Channel] = env.OpID
	return nil
}

func (s *State) applyRemoveChannelModerator(env *op.Envelope, p *op.RemoveChannelModeratorPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[p.Channel]
	if !ok {
		return spaceerr.ErrNotFound
	}
	sp, ok := s.spaces[c.SpaceID]
	if !ok {
		return spaceerr.ErrNotFound
	}
	if sp.Owner != env.Author && !s.hasPermissionLocked(c.SpaceID, env.Author, PermAddChannelModerator) {
		return spaceerr.ErrPermissionDenied
	}
	delete(c.Moderators, p.User)
	s.lastOp[p.Channel] = env.OpID
	return nil
}

func (s *State) applyCreateThread(env *op.Envelope, p *op.CreateThreadPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[p.Channel]
	if !ok {
		return spaceerr.ErrNotFound
	}
	if !s.channelSendAllowedLocked(c, env.Author) {
		return spaceerr.ErrPermissionDenied
	}

	threadID := ids.ThreadId(env.OpID)
	if _, exists := s.threads[threadID]; exists {
		return nil
	}
	s.threads[threadID] = &Thread{
		ID:        threadID,
		ChannelID: p.Channel,
		Title:     p.Title,
		Creator:   env.Author,
		CreatedAt: env.HLC,
	}
	s.lastOp[threadID] = env.OpID
	return nil
}

func (s *State) applyPostMessage(env *op.Envelope, p *op.PostMessagePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[p.Channel]
	if !ok {
		return spaceerr.ErrNotFound
	}
	if !s.channelSendAllowedLocked(c, env.Author) {
		return spaceerr.ErrPermissionDenied
	}
	t, ok := s.threads[p.Thread]
	if !ok {
		return spaceerr.ErrNotFound
	}

	msgID := ids.MessageId(env.OpID)
	if _, exists := s.messages[msgID]; exists {
		return nil
	}
	s.messages[msgID] = &Message{
		ID:        msgID,
		ThreadID:  p.Thread,
		ChannelID: p.Channel,
		Author:    env.Author,
		Content:   p.Content,
		CreatedAt: env.HLC,
	}
	t.Messages = append(t.Messages, msgID)
	s.lastOp[msgID] = env.OpID
	return nil
}

func (s *State) applyEditMessage(env *op.Envelope, p *op.EditMessagePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[p.Message]
	if !ok {
		return spaceerr.ErrNotFound
	}
	if m.Deleted {
		return spaceerr.ErrNotFound
	}
	if m.Author != env.Author {
		c, ok := s.channels[m.ChannelID]
		if !ok || (!s.channelModeratorLocked(c, env.Author) && !s.hasPermissionLocked(c.SpaceID, env.Author, PermDeleteMessages)) {
			return spaceerr.ErrPermissionDenied
		}
	}
	if m.EditedAt != nil && env.HLC.Less(*m.EditedAt) {
		return nil
	}
	m.Content = p.Content
	ts := env.HLC
	m.EditedAt = &ts
	s.lastOp[p.Message] = env.OpID
	return nil
}

// applyDeleteMessage tombstones rather than erases: the Message remains
// addressable so ops that depend on it (e.g. a concurrent EditMessage) can
// still resolve, but Content is cleared and Deleted hides it from listings.
func (s *State) applyDeleteMessage(env *op.Envelope, p *op.DeleteMessagePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[p.Message]
	if !ok {
		return spaceerr.ErrNotFound
	}
	if m.Author != env.Author {
		c, ok := s.channels[m.ChannelID]
		if !ok || (!s.channelModeratorLocked(c, env.Author) && !s.hasPermissionLocked(c.SpaceID, env.Author, PermDeleteMessages)) {
			return spaceerr.ErrPermissionDenied
		}
	}
	m.Deleted = true
	m.Content = nil
	s.lastOp[p.Message] = env.OpID
	return nil
}

func (s *State) channelModeratorLocked(c *Channel, user identity.UserId) bool {
	_, ok := c.Moderators[user]
	return ok
}

// channelSendAllowedLocked checks the channel-scoped send permission,
// falling through to Space membership for public channels with no explicit
// per-user override (spec §4.5).
func (s *State) channelSendAllowedLocked(c *Channel, user identity.UserId) bool {
	sp, ok := s.spaces[c.SpaceID]
	if !ok {
		return false
	}
	if sp.Owner == user {
		return true
	}
	if roleID, overridden := c.Members[user]; overridden {
		if role, ok := sp.Roles[roleID]; ok {
			return role.Perms&ChanPermSendMessages != 0
		}
	}
	if c.IsPrivate {
		_, isMember := c.Members[user]
		return isMember
	}
	_, isSpaceMember := sp.MemberRoles[user]
	return isSpaceMember
}
