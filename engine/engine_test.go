package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/var-che/spaceway/config"
	"github.com/var-che/spaceway/hlc"
	"github.com/var-che/spaceway/identity"
	"github.com/var-che/spaceway/ids"
	"github.com/var-che/spaceway/op"
	"github.com/var-che/spaceway/spaceerr"
)

// newTestEngine builds an Engine with an in-memory store and no network
// handle, exercising exactly the parts of the public API that never touch
// e.net: VerifyAndApply and the permission checks every mutating method
// runs before it ever reaches publish().
func newTestEngine(t *testing.T) (*Engine, *identity.Identity) {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)

	e, err := New(config.DefaultConfig(), id)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.store.Close() })
	return e, id
}

func TestVerifyAndApplyDedupesAlreadyAppliedOps(t *testing.T) {
	e, id := newTestEngine(t)

	env, err := e.forum.BuildCreateSpace(id, e.clock, ids.SpaceId{}, "general", "", op.VisibilityPublic, op.ModeLightweight)
	require.NoError(t, err)
	env.SpaceID = env.OpID

	require.NoError(t, e.VerifyAndApply(env))
	_, ok := e.forum.GetSpace(env.SpaceID)
	require.True(t, ok)

	// a second apply of the identical envelope must be a silent no-op, not
	// a duplicate-space error from forum.Apply.
	assert.NoError(t, e.VerifyAndApply(env))
}

func TestVerifyAndApplyRejectsTamperedSignature(t *testing.T) {
	e, id := newTestEngine(t)

	env, err := e.forum.BuildCreateSpace(id, e.clock, ids.SpaceId{}, "general", "", op.VisibilityPublic, op.ModeLightweight)
	require.NoError(t, err)
	env.SpaceID = env.OpID
	env.Sig[0] ^= 0xFF

	err = e.VerifyAndApply(env)
	assert.ErrorIs(t, err, spaceerr.ErrInvalidSignature)
}

func TestVerifyAndApplyRejectsUnknownAuthor(t *testing.T) {
	e, _ := newTestEngine(t)
	stranger, err := identity.Generate()
	require.NoError(t, err)

	env, err := e.forum.BuildCreateSpace(stranger, e.clock, ids.SpaceId{}, "general", "", op.VisibilityPublic, op.ModeLightweight)
	require.NoError(t, err)
	env.SpaceID = env.OpID

	err = e.VerifyAndApply(env)
	assert.ErrorIs(t, err, spaceerr.ErrUnknownAuthor)
}

func TestVerifyAndApplyHoldsBackOnMissingDepsThenReplays(t *testing.T) {
	e, id := newTestEngine(t)

	spaceEnv, err := e.forum.BuildCreateSpace(id, e.clock, ids.SpaceId{}, "general", "", op.VisibilityPublic, op.ModeLightweight)
	require.NoError(t, err)
	spaceEnv.SpaceID = spaceEnv.OpID
	require.NoError(t, e.VerifyAndApply(spaceEnv))

	// depEnv is never applied before channelEnv arrives, so channelEnv's
	// manufactured dependency on depEnv.OpID is genuinely unmet.
	depEnv, err := e.forum.BuildCreateSpace(id, e.clock, ids.SpaceId{}, "unrelated", "", op.VisibilityPublic, op.ModeLightweight)
	require.NoError(t, err)
	depEnv.SpaceID = depEnv.OpID

	payload := &op.CreateChannelPayload{Name: "lobby", IsPrivate: false}
	channelEnv, err := op.Build(id, spaceEnv.SpaceID, op.KindCreateChannel, payload, e.clock.Now(), []ids.OpId{depEnv.OpID})
	require.NoError(t, err)

	require.NoError(t, e.VerifyAndApply(channelEnv))
	_, ok := e.forum.GetChannel(channelEnv.OpID)
	assert.False(t, ok, "channel must not exist until its dependency is satisfied")
	assert.Equal(t, 1, e.holdback.Len())

	require.NoError(t, e.VerifyAndApply(depEnv))

	_, ok = e.forum.GetChannel(channelEnv.OpID)
	assert.True(t, ok, "holdback replay should have applied the channel once its dep landed")
	assert.Equal(t, 0, e.holdback.Len())
}

func TestUpdateSpaceVisibilityRejectsWithoutPermission(t *testing.T) {
	e, id := newTestEngine(t)
	spaceEnv, err := e.forum.BuildCreateSpace(id, e.clock, ids.SpaceId{}, "general", "", op.VisibilityPublic, op.ModeLightweight)
	require.NoError(t, err)
	spaceEnv.SpaceID = spaceEnv.OpID
	require.NoError(t, e.VerifyAndApply(spaceEnv))

	outsider, err := identity.Generate()
	require.NoError(t, err)
	e2 := &Engine{forum: e.forum, id: outsider}
	err = e2.UpdateSpaceVisibility(nil, spaceEnv.SpaceID, op.VisibilityPrivate)
	assert.ErrorIs(t, err, spaceerr.ErrPermissionDenied)
}

func TestCreateChannelRejectsWithoutPermission(t *testing.T) {
	e, id := newTestEngine(t)
	spaceEnv, err := e.forum.BuildCreateSpace(id, e.clock, ids.SpaceId{}, "general", "", op.VisibilityPublic, op.ModeLightweight)
	require.NoError(t, err)
	spaceEnv.SpaceID = spaceEnv.OpID
	require.NoError(t, e.VerifyAndApply(spaceEnv))

	outsider, err := identity.Generate()
	require.NoError(t, err)
	e2 := &Engine{forum: e.forum, id: outsider}
	_, err = e2.CreateChannel(nil, spaceEnv.SpaceID, "random", false)
	assert.ErrorIs(t, err, spaceerr.ErrPermissionDenied)
}

func TestKickFromChannelRejectsOnPublicChannel(t *testing.T) {
	e, id := newTestEngine(t)
	spaceEnv, err := e.forum.BuildCreateSpace(id, e.clock, ids.SpaceId{}, "general", "", op.VisibilityPublic, op.ModeLightweight)
	require.NoError(t, err)
	spaceEnv.SpaceID = spaceEnv.OpID
	require.NoError(t, e.VerifyAndApply(spaceEnv))

	channelEnv, err := e.forum.BuildCreateChannel(id, e.clock, spaceEnv.SpaceID, "public-room", false)
	require.NoError(t, err)
	require.NoError(t, e.VerifyAndApply(channelEnv))

	target := identity.UserId{7}
	err = e.KickFromChannel(nil, channelEnv.OpID, target)
	assert.ErrorIs(t, err, spaceerr.ErrNotAChannelMember)
}

func TestGroupTopicDistinguishesSpaceFromChannel(t *testing.T) {
	e, id := newTestEngine(t)
	spaceEnv, err := e.forum.BuildCreateSpace(id, e.clock, ids.SpaceId{}, "general", "", op.VisibilityPublic, op.ModeMLS)
	require.NoError(t, err)
	spaceEnv.SpaceID = spaceEnv.OpID
	require.NoError(t, e.VerifyAndApply(spaceEnv))

	assert.Equal(t, "space/"+hexPrefix(spaceEnv.SpaceID), e.groupTopic(spaceEnv.SpaceID))

	unknown := ids.ID{9, 9, 9}
	assert.Equal(t, "channel/"+hexPrefix(unknown), e.groupTopic(unknown))
}

func TestChannelScopedRouting(t *testing.T) {
	assert.True(t, channelScoped(op.KindPostMessage))
	assert.True(t, channelScoped(op.KindCreateThread))
	assert.True(t, channelScoped(op.KindEditMessage))
	assert.True(t, channelScoped(op.KindDeleteMessage))
	assert.False(t, channelScoped(op.KindCreateSpace))
	assert.False(t, channelScoped(op.KindAddMember))
}

func TestChannelOfExtractsChannelFromPostMessage(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)
	channel := ids.ChannelId{3}
	payload := &op.PostMessagePayload{Channel: channel, Thread: ids.ThreadId{4}, Content: []byte("hi")}
	env, err := op.Build(id, ids.SpaceId{1}, op.KindPostMessage, payload, hlc.Timestamp{Physical: 1}, nil)
	require.NoError(t, err)

	got, ok := channelOf(env)
	require.True(t, ok)
	assert.Equal(t, channel, got)
}

func hexPrefix(id ids.ID) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 32)
	for i, b := range id[:16] {
		out[2*i] = hextable[b>>4]
		out[2*i+1] = hextable[b&0x0f]
	}
	return string(out)
}
