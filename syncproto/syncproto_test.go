package syncproto

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/var-che/spaceway/hlc"
	"github.com/var-che/spaceway/identity"
	"github.com/var-che/spaceway/ids"
	"github.com/var-che/spaceway/op"
)

func ts(ms int64) hlc.Timestamp { return hlc.Timestamp{Physical: ms} }

func envAt(author identity.UserId, ms int64) *op.Envelope {
	return &op.Envelope{
		OpID:   ids.OpId{byte(ms)},
		Author: author,
		HLC:    ts(ms),
	}
}

type fakeStore struct {
	ops []*op.Envelope
}

func (f *fakeStore) OpsForSpace(space ids.SpaceId, since *hlc.Timestamp) ([]*op.Envelope, error) {
	return f.ops, nil
}

type fakeApplier struct {
	applied []ids.OpId
	failOn  ids.OpId
}

func (f *fakeApplier) VerifyAndApply(env *op.Envelope) error {
	if env.OpID == f.failOn {
		return errors.New("boom")
	}
	f.applied = append(f.applied, env.OpID)
	return nil
}

func TestNewSyncRequestOrdersHaveDeterministically(t *testing.T) {
	alice := identity.UserId{1}
	bob := identity.UserId{2}
	have := map[identity.UserId]hlc.Timestamp{
		bob:   ts(200),
		alice: ts(100),
	}
	req := NewSyncRequest(ids.SpaceId{9}, alice, have)

	require.Len(t, req.Have, 2)
	assert.Equal(t, alice, req.Requester)
	assert.Equal(t, alice, req.Have[0].User, "entries sort by user id")
	assert.Equal(t, bob, req.Have[1].User)
}

func TestBuildResponseFiltersByHaveVector(t *testing.T) {
	alice := identity.UserId{1}
	bob := identity.UserId{2}

	store := &fakeStore{ops: []*op.Envelope{
		envAt(alice, 50),  // already known (have=100)
		envAt(alice, 150), // newer than have
		envAt(bob, 10),    // bob not in have at all: newer than "never"
	}}

	req := NewSyncRequest(ids.SpaceId{9}, alice, map[identity.UserId]hlc.Timestamp{
		alice: ts(100),
	})

	resp, err := BuildResponse(store, req)
	require.NoError(t, err)
	assert.False(t, resp.More)
	assert.Len(t, resp.Ops, 2)
	assert.Equal(t, int64(10), resp.Ops[0].HLC.Physical, "sorted by HLC ascending")
	assert.Equal(t, int64(150), resp.Ops[1].HLC.Physical)
}

func TestBuildResponseCapsBatchAndSetsMore(t *testing.T) {
	alice := identity.UserId{1}
	var ops []*op.Envelope
	for i := 0; i < MaxBatchOps+10; i++ {
		ops = append(ops, envAt(alice, int64(i)))
	}
	store := &fakeStore{ops: ops}
	req := NewSyncRequest(ids.SpaceId{9}, alice, nil)

	resp, err := BuildResponse(store, req)
	require.NoError(t, err)
	assert.True(t, resp.More)
	assert.Len(t, resp.Ops, MaxBatchOps)
}

func TestIntakeAppliesInOrderAndStopsOnFailure(t *testing.T) {
	alice := identity.UserId{1}
	bad := envAt(alice, 20)
	resp := &SyncResponse{Ops: []*op.Envelope{envAt(alice, 10), bad, envAt(alice, 30)}}

	applier := &fakeApplier{failOn: bad.OpID}
	applied, err := Intake(context.Background(), applier, resp)

	assert.Error(t, err)
	assert.Equal(t, 1, applied, "only the op before the failure was applied")
}

func TestIntakeRespectsContextCancellation(t *testing.T) {
	alice := identity.UserId{1}
	resp := &SyncResponse{Ops: []*op.Envelope{envAt(alice, 10), envAt(alice, 20)}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	applier := &fakeApplier{}
	applied, err := Intake(ctx, applier, resp)
	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, 0, applied)
}

func TestDHTOpsKeyIsStableAndSpaceSpecific(t *testing.T) {
	space := ids.SpaceId{7}
	other := ids.SpaceId{8}

	k1 := DHTOpsKey(space, 1)
	k2 := DHTOpsKey(space, 1)
	k3 := DHTOpsKey(space, 2)
	k4 := DHTOpsKey(other, 1)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.NotEqual(t, k1, k4)
}
