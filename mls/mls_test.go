package mls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/var-che/spaceway/identity"
	"github.com/var-che/spaceway/ids"
	"github.com/var-che/spaceway/spaceerr"
)

func TestKeyPackageSignAndVerify(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	kp, _, err := GenerateKeyPackage(id, "device-1", 3600_000, 1000)
	require.NoError(t, err)
	assert.True(t, kp.Verify())

	kp.Device = "tampered"
	assert.False(t, kp.Verify(), "mutating a signed field must invalidate the signature")
}

func TestCommitAndWelcomeRoundTrip(t *testing.T) {
	founder, err := identity.Generate()
	require.NoError(t, err)
	joiner, err := identity.Generate()
	require.NoError(t, err)

	founderKP, founderPriv, err := GenerateKeyPackage(founder, "d", 3600_000, 0)
	require.NoError(t, err)
	joinerKP, joinerPriv, err := GenerateKeyPackage(joiner, "d", 3600_000, 0)
	require.NoError(t, err)

	groupID := ids.ID{1, 2, 3}
	g, err := NewGroup(groupID, founder.ID(), founderKP.InitPublic)
	require.NoError(t, err)
	_ = founderPriv
	assert.Equal(t, uint64(0), g.Epoch())

	_, welcomes, err := g.Commit([]*KeyPackage{joinerKP}, nil)
	require.NoError(t, err)
	require.Len(t, welcomes, 1)
	assert.Equal(t, uint64(1), g.Epoch())
	assert.True(t, g.HasMember(joiner.ID()))

	joined, err := NewGroup(groupID, joiner.ID(), joinerKP.InitPublic)
	require.NoError(t, err)
	require.NoError(t, joined.ApplyWelcome(welcomes[0], joinerPriv))
	assert.Equal(t, uint64(1), joined.Epoch())
	assert.True(t, joined.HasMember(founder.ID()))
	assert.True(t, joined.HasMember(joiner.ID()))
}

func TestApplicationMessageRoundTrip(t *testing.T) {
	founder, err := identity.Generate()
	require.NoError(t, err)
	founderKP, _, err := GenerateKeyPackage(founder, "d", 3600_000, 0)
	require.NoError(t, err)

	g, err := NewGroup(ids.ID{9}, founder.ID(), founderKP.InitPublic)
	require.NoError(t, err)

	frame, err := g.Encrypt([]byte("hello"), []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, FrameApplication, frame[0])

	plain, err := g.Decrypt(frame, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plain))
}

func TestDecryptAfterEpochRotationFailsWithStaleEpoch(t *testing.T) {
	founder, err := identity.Generate()
	require.NoError(t, err)
	founderKP, _, err := GenerateKeyPackage(founder, "d", 3600_000, 0)
	require.NoError(t, err)
	joinerID, err := identity.Generate()
	require.NoError(t, err)
	joinerKP, _, err := GenerateKeyPackage(joinerID, "d", 3600_000, 0)
	require.NoError(t, err)

	g, err := NewGroup(ids.ID{4}, founder.ID(), founderKP.InitPublic)
	require.NoError(t, err)

	frame, err := g.Encrypt([]byte("before rotation"), nil)
	require.NoError(t, err)

	_, _, err = g.Commit([]*KeyPackage{joinerKP}, nil)
	require.NoError(t, err)

	_, err = g.Decrypt(frame, nil)
	assert.ErrorIs(t, err, spaceerr.ErrStaleEpoch)
}

func TestAddMemberRejectsDuplicate(t *testing.T) {
	founder, err := identity.Generate()
	require.NoError(t, err)
	founderKP, _, err := GenerateKeyPackage(founder, "d", 3600_000, 0)
	require.NoError(t, err)

	g, err := NewGroup(ids.ID{7}, founder.ID(), founderKP.InitPublic)
	require.NoError(t, err)

	dup, _, err := GenerateKeyPackage(founder, "d2", 3600_000, 0)
	require.NoError(t, err)
	dup.User = founder.ID()

	_, _, err = g.Commit([]*KeyPackage{dup}, nil)
	assert.Error(t, err)
}

func TestKeyPackageStoreClaimIsOneShot(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)
	store := NewKeyPackageStore()

	kp, _, err := GenerateKeyPackage(id, "d", 3600_000, 0)
	require.NoError(t, err)
	store.Ingest(kp)

	claimed, err := store.Claim(id.ID(), 0)
	require.NoError(t, err)
	assert.Equal(t, kp.Device, claimed.Device)

	_, err = store.Claim(id.ID(), 0)
	assert.Error(t, err, "a claimed package must not be claimable twice")
}
