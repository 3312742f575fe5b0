package op

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/var-che/spaceway/hlc"
	"github.com/var-che/spaceway/identity"
	"github.com/var-che/spaceway/ids"
)

func TestBuildAndVerifySignature(t *testing.T) {
	requireO := require.New(t)
	assertO := assert.New(t)

	id, err := identity.Generate()
	requireO.NoError(err)

	dir := identity.NewDirectory()
	dir.Register(id.Public)

	clock := hlc.New(id.ID())
	env, err := Build(id, ids.ID{}, KindCreateSpace, &CreateSpacePayload{
		Name: "test", Visibility: VisibilityPublic, Mode: ModeLightweight,
	}, clock.Now(), nil)
	requireO.NoError(err)

	requireO.NoError(VerifyWellFormed(env))

	unknown, invalid, err := VerifySignature(env, dir)
	assertO.False(unknown)
	assertO.False(invalid)
	assertO.NoError(err)
}

func TestVerifySignatureUnknownAuthor(t *testing.T) {
	requireO := require.New(t)
	assertO := assert.New(t)

	id, err := identity.Generate()
	requireO.NoError(err)

	emptyDir := identity.NewDirectory()
	clock := hlc.New(id.ID())
	env, err := Build(id, ids.ID{}, KindCreateSpace, &CreateSpacePayload{Name: "t"}, clock.Now(), nil)
	requireO.NoError(err)

	unknown, invalid, err := VerifySignature(env, emptyDir)
	assertO.True(unknown)
	assertO.False(invalid)
	assertO.Error(err)
}

func TestVerifySignatureTamperedPayloadFails(t *testing.T) {
	requireO := require.New(t)
	assertO := assert.New(t)

	id, err := identity.Generate()
	requireO.NoError(err)
	dir := identity.NewDirectory()
	dir.Register(id.Public)

	clock := hlc.New(id.ID())
	env, err := Build(id, ids.ID{}, KindCreateSpace, &CreateSpacePayload{Name: "t"}, clock.Now(), nil)
	requireO.NoError(err)

	env.Payload = append(env.Payload, 0xFF)

	_, invalid, err := VerifySignature(env, dir)
	assertO.True(invalid)
	assertO.Error(err)
}

func TestWellFormedRejectsTamperedOpID(t *testing.T) {
	requireO := require.New(t)
	assertO := assert.New(t)

	id, err := identity.Generate()
	requireO.NoError(err)

	clock := hlc.New(id.ID())
	env, err := Build(id, ids.ID{}, KindCreateSpace, &CreateSpacePayload{Name: "t"}, clock.Now(), nil)
	requireO.NoError(err)

	env.OpID[0] ^= 0xFF
	assertO.Error(VerifyWellFormed(env))
}

func TestPayloadRoundTrip(t *testing.T) {
	requireO := require.New(t)
	assertO := assert.New(t)

	id, err := identity.Generate()
	requireO.NoError(err)
	clock := hlc.New(id.ID())

	want := &CreateChannelPayload{Name: "general", IsPrivate: false}
	env, err := Build(id, ids.ID{}, KindCreateChannel, want, clock.Now(), nil)
	requireO.NoError(err)

	decoded, err := DecodePayload(env.Kind, env.Payload)
	requireO.NoError(err)

	got, ok := decoded.(*CreateChannelPayload)
	requireO.True(ok)
	assertO.Equal(want.Name, got.Name)
	assertO.Equal(want.IsPrivate, got.IsPrivate)
}

func TestMissingDeps(t *testing.T) {
	assertO := assert.New(t)

	dep1 := ids.ID{1}
	dep2 := ids.ID{2}
	env := &Envelope{Deps: []ids.OpId{dep1, dep2}}

	checker := fakeChecker{applied: map[ids.OpId]bool{dep1: true}}
	missing := MissingDeps(env, checker)

	assertO.Equal([]ids.OpId{dep2}, missing)
}

type fakeChecker struct{ applied map[ids.OpId]bool }

func (f fakeChecker) Applied(id ids.OpId) bool { return f.applied[id] }
