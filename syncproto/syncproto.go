// Package syncproto implements the gossip request/response catch-up
// protocol of spec §4.9: SyncRequest/SyncResponse wire types, batching, and
// the verify-before-apply discipline every received op must pass. It is
// grounded on the teacher's own batched-getter idiom (gossip's
// Fetcher/peerDropper request-then-batch-reply shape) generalized to a
// vector-clock-diff request instead of a block-range request.
package syncproto

import (
	"context"
	"fmt"
	"sort"

	"github.com/var-che/spaceway/hlc"
	"github.com/var-che/spaceway/identity"
	"github.com/var-che/spaceway/ids"
	"github.com/var-che/spaceway/op"
)

// MaxBatchOps caps a single SyncResponse, per spec §4.9 ("the responder caps
// batches and the requester re-requests if needed").
const MaxBatchOps = 256

// SyncRequest carries the requester's per-author high-water marks for a
// Space, published on the Space topic (spec §4.9). Requester names who the
// response should address on user/<requester>/sync.
type SyncRequest struct {
	SpaceID   ids.SpaceId
	Requester identity.UserId
	Have      []HaveEntry
}

// HaveEntry is a sorted (by User) slice entry standing in for
// map[identity.UserId]hlc.Timestamp, since RLP does not encode Go maps
// (the same map-to-sorted-slice conversion mls.welcomePayload uses).
type HaveEntry struct {
	User identity.UserId
	Ts   hlc.Timestamp
}

// NewSyncRequest converts a vector-clock summary (store.Store.Summary) into
// a wire-ready, deterministically ordered SyncRequest.
func NewSyncRequest(space ids.SpaceId, requester identity.UserId, have map[identity.UserId]hlc.Timestamp) *SyncRequest {
	entries := make([]HaveEntry, 0, len(have))
	for user, ts := range have {
		entries = append(entries, HaveEntry{User: user, Ts: ts})
	}
	sort.Slice(entries, func(i, j int) bool {
		return string(entries[i].User[:]) < string(entries[j].User[:])
	})
	return &SyncRequest{SpaceID: space, Requester: requester, Have: entries}
}

// haveMap rebuilds the map form for convenient per-author lookups.
func (r *SyncRequest) haveMap() map[identity.UserId]hlc.Timestamp {
	out := make(map[identity.UserId]hlc.Timestamp, len(r.Have))
	for _, e := range r.Have {
		out[e.User] = e.Ts
	}
	return out
}

// SyncResponse carries a batch of ops newer than the requester's vector
// clock, plus whether more remain (spec §4.9: "the requester re-requests if
// needed").
type SyncResponse struct {
	SpaceID ids.SpaceId
	Ops     []*op.Envelope
	More    bool
}

// SpaceStore is the subset of store.Store the responder side needs.
type SpaceStore interface {
	OpsForSpace(space ids.SpaceId, since *hlc.Timestamp) ([]*op.Envelope, error)
}

// BuildResponse selects every op in space authored later than the
// requester's per-author high-water mark, capped at MaxBatchOps and sorted
// by HLC so repeated gap-fill requests make monotonic progress.
func BuildResponse(store SpaceStore, req *SyncRequest) (*SyncResponse, error) {
	all, err := store.OpsForSpace(req.SpaceID, nil)
	if err != nil {
		return nil, fmt.Errorf("syncproto: loading space ops: %w", err)
	}

	have := req.haveMap()
	var candidate []*op.Envelope
	for _, env := range all {
		known, ok := have[env.Author]
		if ok && !known.Less(env.HLC) {
			continue
		}
		candidate = append(candidate, env)
	}
	sort.Slice(candidate, func(i, j int) bool { return candidate[i].HLC.Less(candidate[j].HLC) })

	more := false
	if len(candidate) > MaxBatchOps {
		candidate = candidate[:MaxBatchOps]
		more = true
	}
	return &SyncResponse{SpaceID: req.SpaceID, Ops: candidate, More: more}, nil
}

// Applier is the subset of forum.State + op verification the intake loop
// needs: verify the op, then attempt to apply it (or hold it back on
// missing deps), exactly the pipeline a gossip-received op goes through
// (spec §4.3, §4.9 "the requester verifies every op ... before applying").
type Applier interface {
	VerifyAndApply(env *op.Envelope) error
}

// Intake replays a SyncResponse's ops through applier in HLC order,
// stopping at the first hard failure (malformed op) but tolerating holdback
// (missing-dep) outcomes, which the caller's holdback queue already
// handles. Returns the count of ops the applier accepted without error;
// with the Engine as applier this includes ops it held back or had already
// applied.
func Intake(ctx context.Context, applier Applier, resp *SyncResponse) (int, error) {
	applied := 0
	for _, env := range resp.Ops {
		select {
		case <-ctx.Done():
			return applied, ctx.Err()
		default:
		}
		if err := applier.VerifyAndApply(env); err != nil {
			return applied, fmt.Errorf("syncproto: applying op %x: %w", env.OpID[:8], err)
		}
		applied++
	}
	return applied, nil
}

// DHTOpsKey computes the best-effort DHT fallback key for a space's op list
// for a given epoch bucket, per spec §4.9: Blake3("ops:" || space_id ||
// epoch_bucket).
func DHTOpsKey(space ids.SpaceId, epochBucket uint64) [32]byte {
	var bucketBytes [8]byte
	for i := 0; i < 8; i++ {
		bucketBytes[i] = byte(epochBucket >> (8 * (7 - i)))
	}
	return ids.DHTKey("ops:", space[:], bucketBytes[:])
}
