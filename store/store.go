// Package store is the durable op log plus supporting column families
// (spec §4.4): a dual index (by op_id, and by space_id in HLock order), a
// content-addressed blob store, per-peer vector clocks, and tombstones.
package store

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/var-che/spaceway/hlc"
	"github.com/var-che/spaceway/identity"
	"github.com/var-che/spaceway/ids"
	"github.com/var-che/spaceway/kvdb"
	"github.com/var-che/spaceway/logging"
	"github.com/var-che/spaceway/op"
)

// tables is the column-family layout, wired via kvdb.MigrateTables —
// adapted from the teacher's struct-tag table wiring
// (kvdb/table/reflect.go).
type tables struct {
	OpsByID      kvdb.Database `table:"ops_by_id"`
	OpsBySpace   kvdb.Database `table:"ops_by_space"`
	Blobs        kvdb.Database `table:"blobs"`
	VectorClocks kvdb.Database `table:"vector_clocks"`
	Tombstones   kvdb.Database `table:"tombstones"`
	Identities   kvdb.Database `table:"identities"`
	KeyPackages  kvdb.Database `table:"key_packages"`
	MLSGroups    kvdb.Database `table:"mls_groups"`
}

// Store is the Engine's exclusive durable-state handle (spec §3
// "Ownership"). It is safe for concurrent use: every method takes the
// underlying kvdb.Database's own locking, there is no additional
// package-level lock here, matching spec §5 ("Store (thread-safe
// batch-capable)").
type Store struct {
	logging.Instance
	db     kvdb.Database
	tables tables
}

// New wraps db as a Store, wiring every column family.
func New(db kvdb.Database) *Store {
	s := &Store{db: db, Instance: logging.MakeInstance("store")}
	kvdb.MigrateTables(&s.tables, db)
	return s
}

// spaceKey orders ops_by_space entries by HLC so ops_for_space can iterate
// in HLC order directly off the underlying cursor (spec §4.4).
func spaceKey(space ids.SpaceId, ts hlc.Timestamp, opID ids.OpId) []byte {
	key := make([]byte, 0, len(space)+44+len(opID))
	key = append(key, space[:]...)
	key = append(key, ts.Bytes()...)
	key = append(key, opID[:]...)
	return key
}

// PutOp persists env if not already present. Returns false when env was
// already stored — duplicates are idempotent (spec §3 invariant 2).
func (s *Store) PutOp(env *op.Envelope) (bool, error) {
	has, err := s.tables.OpsByID.Has(env.OpID[:])
	if err != nil {
		return false, fmt.Errorf("store: checking op existence: %w", err)
	}
	if has {
		return false, nil
	}

	raw, err := rlp.EncodeToBytes(env)
	if err != nil {
		return false, fmt.Errorf("store: encoding op: %w", err)
	}

	batch := s.tables.OpsByID.NewBatch()
	if err := batch.Put(env.OpID[:], raw); err != nil {
		return false, err
	}
	if err := batch.Write(); err != nil {
		return false, fmt.Errorf("store: writing op: %w", err)
	}

	key := spaceKey(env.SpaceID, env.HLC, env.OpID)
	if err := s.tables.OpsBySpace.Put(key, env.OpID[:]); err != nil {
		return false, fmt.Errorf("store: indexing op by space: %w", err)
	}

	return true, nil
}

// GetOp returns the envelope for opID, or nil if unknown.
func (s *Store) GetOp(opID ids.OpId) (*op.Envelope, error) {
	raw, err := s.tables.OpsByID.Get(opID[:])
	if err != nil {
		return nil, fmt.Errorf("store: reading op: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var env op.Envelope
	if err := rlp.DecodeBytes(raw, &env); err != nil {
		return nil, fmt.Errorf("store: decoding op: %w", err)
	}
	return &env, nil
}

// Applied implements op.DepChecker: an op counts as applied once it is in
// the durable log (PutOp happens only after a successful local apply, per
// spec §5 "ops are written to the Store only after local apply succeeds").
func (s *Store) Applied(opID ids.OpId) bool {
	has, err := s.tables.OpsByID.Has(opID[:])
	if err != nil {
		return false
	}
	return has
}

// OpsForSpace returns every op for space, in HLC order, optionally skipping
// everything at or before since (the sync protocol's gap-fill cursor, spec
// §4.4, §4.9).
func (s *Store) OpsForSpace(space ids.SpaceId, since *hlc.Timestamp) ([]*op.Envelope, error) {
	prefix := space[:]

	var opIDs [][]byte
	err := s.tables.OpsBySpace.ForEach(prefix, func(key, val []byte) bool {
		opIDs = append(opIDs, append([]byte(nil), val...))
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("store: scanning space ops: %w", err)
	}

	envs := make([]*op.Envelope, 0, len(opIDs))
	for _, raw := range opIDs {
		var opID ids.OpId
		copy(opID[:], raw)
		env, err := s.GetOp(opID)
		if err != nil {
			return nil, err
		}
		if env == nil {
			continue
		}
		if since != nil && !since.Less(env.HLC) {
			continue
		}
		envs = append(envs, env)
	}

	// ops_by_space keys are HLC-ordered, but ForEach iteration order over
	// MemDatabase's map backing is not; sort explicitly so both backends
	// behave identically.
	sort.Slice(envs, func(i, j int) bool { return envs[i].HLC.Less(envs[j].HLC) })
	return envs, nil
}

// PutBlob stores already-encrypted content, addressed by its Blake3
// content hash (spec §4.4).
func (s *Store) PutBlob(key [32]byte, encrypted []byte) error {
	return s.tables.Blobs.Put(key[:], encrypted)
}

// GetBlob returns the encrypted content for key, or nil if unknown.
func (s *Store) GetBlob(key [32]byte) ([]byte, error) {
	return s.tables.Blobs.Get(key[:])
}

func vectorClockKey(space ids.SpaceId, author identity.UserId) []byte {
	return append(append([]byte(nil), space[:]...), author[:]...)
}

// UpdateVectorClock advances the recorded highest HLC seen from author in
// space, if ts is newer than what's recorded (spec §4.4).
func (s *Store) UpdateVectorClock(space ids.SpaceId, author identity.UserId, ts hlc.Timestamp) error {
	key := vectorClockKey(space, author)
	existing, err := s.tables.VectorClocks.Get(key)
	if err != nil {
		return err
	}
	if existing != nil {
		var prev hlc.Timestamp
		if err := rlp.DecodeBytes(existing, &prev); err != nil {
			return err
		}
		if !prev.Less(ts) {
			return nil
		}
	}
	raw, err := rlp.EncodeToBytes(&ts)
	if err != nil {
		return err
	}
	return s.tables.VectorClocks.Put(key, raw)
}

// Summary returns the vector clock for space: a map from UserId to the
// highest HLC observed from that peer (spec §4.4, used to build
// SyncRequest.have per spec §4.9).
func (s *Store) Summary(space ids.SpaceId) (map[identity.UserId]hlc.Timestamp, error) {
	out := make(map[identity.UserId]hlc.Timestamp)
	err := s.tables.VectorClocks.ForEach(space[:], func(key, val []byte) bool {
		var author identity.UserId
		copy(author[:], key[len(space):])
		var ts hlc.Timestamp
		if decErr := rlp.DecodeBytes(val, &ts); decErr != nil {
			return true
		}
		out[author] = ts
		return true
	})
	return out, err
}

// PutTombstone records entity as removed (spec §3 invariant 6: the op log
// is append-only, tombstones mark removals rather than deleting history).
func (s *Store) PutTombstone(entity ids.ID) error {
	return s.tables.Tombstones.Put(entity[:], []byte{1})
}

// IsTombstoned reports whether entity has been tombstoned.
func (s *Store) IsTombstoned(entity ids.ID) (bool, error) {
	return s.tables.Tombstones.Has(entity[:])
}

// PutIdentity persists a verifying key for author, so it survives restart
// (backs identity.Directory, spec §4.1).
func (s *Store) PutIdentity(author identity.UserId, pubKey []byte) error {
	return s.tables.Identities.Put(author[:], pubKey)
}

// LoadIdentities replays every persisted identity into dir.
func (s *Store) LoadIdentities(dir *identity.Directory) error {
	return s.tables.Identities.ForEach(nil, func(key, val []byte) bool {
		dir.Register(append([]byte(nil), val...))
		return true
	})
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
