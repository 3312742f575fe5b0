package op

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/var-che/spaceway/hlc"
	"github.com/var-che/spaceway/identity"
	"github.com/var-che/spaceway/ids"
)

// Envelope is the signed, timestamped unit of state change (spec §3).
// sig binds every other field; op_id = Blake3(author || kind || payload ||
// hlc).
type Envelope struct {
	OpID    ids.OpId
	Author  identity.UserId
	SpaceID ids.SpaceId
	Kind    Kind
	Payload []byte // RLP-encoded kind-specific payload
	HLC     hlc.Timestamp
	Deps    []ids.OpId
	Sig     []byte
}

// signable mirrors Envelope's field order minus Sig; it is the struct whose
// RLP encoding is the canonical byte string identity.Sign/Verify operate
// over (spec §4.1).
type signable struct {
	OpID    ids.OpId
	Author  identity.UserId
	SpaceID ids.SpaceId
	Kind    Kind
	Payload []byte
	HLC     hlc.Timestamp
	Deps    []ids.OpId
}

// CanonicalBytes returns the deterministic RLP encoding of every envelope
// field except Sig.
func (e *Envelope) CanonicalBytes() ([]byte, error) {
	s := signable{
		OpID:    e.OpID,
		Author:  e.Author,
		SpaceID: e.SpaceID,
		Kind:    e.Kind,
		Payload: e.Payload,
		HLC:     e.HLC,
		Deps:    e.Deps,
	}
	return rlp.EncodeToBytes(&s)
}

// EncodePayload RLP-encodes a concrete payload struct for a given Kind,
// verifying the concrete type matches what that Kind expects.
func EncodePayload(kind Kind, payload interface{}) ([]byte, error) {
	if err := checkPayloadType(kind, payload); err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(payload)
}

// DecodePayload decodes raw payload bytes into the concrete struct for the
// envelope's Kind. The returned value is always a pointer to the concrete
// payload type (e.g. *CreateSpacePayload); callers switch on e.Kind and
// type-assert.
func DecodePayload(kind Kind, raw []byte) (interface{}, error) {
	switch kind {
	case KindCreateSpace:
		var p CreateSpacePayload
		return &p, rlp.DecodeBytes(raw, &p)
	case KindUpdateSpaceVisibility:
		var p UpdateSpaceVisibilityPayload
		return &p, rlp.DecodeBytes(raw, &p)
	case KindUpdateSpaceMode:
		var p UpdateSpaceModePayload
		return &p, rlp.DecodeBytes(raw, &p)
	case KindCreateInvite:
		var p CreateInvitePayload
		return &p, rlp.DecodeBytes(raw, &p)
	case KindRevokeInvite:
		var p RevokeInvitePayload
		return &p, rlp.DecodeBytes(raw, &p)
	case KindUseInvite:
		var p UseInvitePayload
		return &p, rlp.DecodeBytes(raw, &p)
	case KindAddMember:
		var p AddMemberPayload
		return &p, rlp.DecodeBytes(raw, &p)
	case KindRemoveMember:
		var p RemoveMemberPayload
		return &p, rlp.DecodeBytes(raw, &p)
	case KindCreateRole:
		var p CreateRolePayload
		return &p, rlp.DecodeBytes(raw, &p)
	case KindAssignRole:
		var p AssignRolePayload
		return &p, rlp.DecodeBytes(raw, &p)
	case KindUpdateRolePermissions:
		var p UpdateRolePermissionsPayload
		return &p, rlp.DecodeBytes(raw, &p)
	case KindCreateChannel:
		var p CreateChannelPayload
		return &p, rlp.DecodeBytes(raw, &p)
	case KindAddChannelModerator:
		var p AddChannelModeratorPayload
		return &p, rlp.DecodeBytes(raw, &p)
	case KindRemoveChannelModerator:
		var p RemoveChannelModeratorPayload
		return &p, rlp.DecodeBytes(raw, &p)
	case KindCreateThread:
		var p CreateThreadPayload
		return &p, rlp.DecodeBytes(raw, &p)
	case KindPostMessage:
		var p PostMessagePayload
		return &p, rlp.DecodeBytes(raw, &p)
	case KindEditMessage:
		var p EditMessagePayload
		return &p, rlp.DecodeBytes(raw, &p)
	case KindDeleteMessage:
		var p DeleteMessagePayload
		return &p, rlp.DecodeBytes(raw, &p)
	default:
		return nil, fmt.Errorf("op: unknown kind %d", kind)
	}
}

func checkPayloadType(kind Kind, payload interface{}) error {
	ok := false
	switch kind {
	case KindCreateSpace:
		_, ok = payload.(*CreateSpacePayload)
	case KindUpdateSpaceVisibility:
		_, ok = payload.(*UpdateSpaceVisibilityPayload)
	case KindUpdateSpaceMode:
		_, ok = payload.(*UpdateSpaceModePayload)
	case KindCreateInvite:
		_, ok = payload.(*CreateInvitePayload)
	case KindRevokeInvite:
		_, ok = payload.(*RevokeInvitePayload)
	case KindUseInvite:
		_, ok = payload.(*UseInvitePayload)
	case KindAddMember:
		_, ok = payload.(*AddMemberPayload)
	case KindRemoveMember:
		_, ok = payload.(*RemoveMemberPayload)
	case KindCreateRole:
		_, ok = payload.(*CreateRolePayload)
	case KindAssignRole:
		_, ok = payload.(*AssignRolePayload)
	case KindUpdateRolePermissions:
		_, ok = payload.(*UpdateRolePermissionsPayload)
	case KindCreateChannel:
		_, ok = payload.(*CreateChannelPayload)
	case KindAddChannelModerator:
		_, ok = payload.(*AddChannelModeratorPayload)
	case KindRemoveChannelModerator:
		_, ok = payload.(*RemoveChannelModeratorPayload)
	case KindCreateThread:
		_, ok = payload.(*CreateThreadPayload)
	case KindPostMessage:
		_, ok = payload.(*PostMessagePayload)
	case KindEditMessage:
		_, ok = payload.(*EditMessagePayload)
	case KindDeleteMessage:
		_, ok = payload.(*DeleteMessagePayload)
	default:
		return fmt.Errorf("op: unknown kind %d", kind)
	}
	if !ok {
		return fmt.Errorf("op: payload type mismatch for kind %s", kind)
	}
	return nil
}

// Build constructs and signs a new Envelope. deps must already include the
// author's LWW-chain predecessor plus the Space's creation op, per spec
// §4.3 — Build does not compute deps itself, callers (forum constructors)
// own that. For KindCreateSpace the space argument is ignored: a CreateSpace
// op's SpaceID is its own OpID, set before signing so the signature covers it.
func Build(id *identity.Identity, space ids.SpaceId, kind Kind, payload interface{}, ts hlc.Timestamp, deps []ids.OpId) (*Envelope, error) {
	raw, err := EncodePayload(kind, payload)
	if err != nil {
		return nil, err
	}

	opID := ids.Derive(id.ID(), kind.String(), [][]byte{raw}, ts)
	if kind == KindCreateSpace {
		space = opID
	}

	e := &Envelope{
		OpID:    opID,
		Author:  id.ID(),
		SpaceID: space,
		Kind:    kind,
		Payload: raw,
		HLC:     ts,
		Deps:    deps,
	}

	canonical, err := e.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	e.Sig = id.Sign(canonical)
	return e, nil
}
