package kvdb

import (
	"go.etcd.io/bbolt"
)

// BoltDatabase is the durable Database backing, adapted from the teacher's
// kvdb.NewBoltDatabase usage in stakedag/src/poslachesis/lachesis.go. Each
// NewTable call descends into a nested bucket, so table scoping is native
// to the backing store rather than simulated with a key prefix (as
// MemDatabase does).
type BoltDatabase struct {
	db         *bbolt.DB
	bucketPath [][]byte
}

// NewBoltDatabase wraps an already-open bbolt.DB as the root Database.
func NewBoltDatabase(db *bbolt.DB) *BoltDatabase {
	return &BoltDatabase{db: db}
}

// OpenBoltDatabase opens (creating if necessary) the bbolt file at path and
// wraps it as the root Database.
func OpenBoltDatabase(path string) (*BoltDatabase, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	return NewBoltDatabase(db), nil
}

func (b *BoltDatabase) NewTable(prefix []byte) Database {
	path := make([][]byte, len(b.bucketPath)+1)
	copy(path, b.bucketPath)
	path[len(b.bucketPath)] = copyBytes(prefix)
	return &BoltDatabase{db: b.db, bucketPath: path}
}

var rootBucketName = []byte("root")

// openBucketTx descends path from the root, creating buckets along the
// way when create is true. A Database used without ever calling NewTable
// stores directly in a fixed "root" bucket.
func openBucketTx(tx *bbolt.Tx, path [][]byte, create bool) (*bbolt.Bucket, error) {
	if len(path) == 0 {
		path = [][]byte{rootBucketName}
	}

	var bucket *bbolt.Bucket
	var err error
	if create {
		bucket, err = tx.CreateBucketIfNotExists(path[0])
	} else {
		bucket = tx.Bucket(path[0])
	}
	if bucket == nil || err != nil {
		return nil, err
	}

	for _, seg := range path[1:] {
		if create {
			bucket, err = bucket.CreateBucketIfNotExists(seg)
		} else {
			bucket = bucket.Bucket(seg)
		}
		if bucket == nil || err != nil {
			return nil, err
		}
	}
	return bucket, nil
}

func (b *BoltDatabase) Put(key, value []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := openBucketTx(tx, b.bucketPath, true)
		if err != nil {
			return err
		}
		return bucket.Put(key, value)
	})
}

func (b *BoltDatabase) Has(key []byte) (bool, error) {
	var found bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket, err := openBucketTx(tx, b.bucketPath, false)
		if err != nil || bucket == nil {
			return nil
		}
		found = bucket.Get(key) != nil
		return nil
	})
	return found, err
}

func (b *BoltDatabase) Get(key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket, err := openBucketTx(tx, b.bucketPath, false)
		if err != nil || bucket == nil {
			return nil
		}
		out = copyBytes(bucket.Get(key))
		return nil
	})
	return out, err
}

func (b *BoltDatabase) ForEach(prefix []byte, do func(key, val []byte) bool) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		bucket, err := openBucketTx(tx, b.bucketPath, false)
		if err != nil || bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			if !do(copyBytes(k), copyBytes(v)) {
				break
			}
		}
		return nil
	})
}

func (b *BoltDatabase) Delete(key []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := openBucketTx(tx, b.bucketPath, false)
		if err != nil || bucket == nil {
			return nil
		}
		return bucket.Delete(key)
	})
}

func (b *BoltDatabase) Close() error {
	if len(b.bucketPath) > 0 {
		return nil // only the root owns the underlying file handle
	}
	return b.db.Close()
}

func (b *BoltDatabase) NewBatch() Batch {
	return &boltBatch{db: b}
}

type boltKV struct {
	k, v []byte
	del  bool
}

type boltBatch struct {
	db     *BoltDatabase
	writes []boltKV
	size   int
}

func (bt *boltBatch) Put(key, value []byte) error {
	bt.writes = append(bt.writes, boltKV{copyBytes(key), copyBytes(value), false})
	bt.size += len(value)
	return nil
}

func (bt *boltBatch) Delete(key []byte) error {
	bt.writes = append(bt.writes, boltKV{copyBytes(key), nil, true})
	bt.size++
	return nil
}

func (bt *boltBatch) Write() error {
	return bt.db.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := openBucketTx(tx, bt.db.bucketPath, true)
		if err != nil {
			return err
		}
		for _, kv := range bt.writes {
			if kv.del {
				if err := bucket.Delete(kv.k); err != nil {
					return err
				}
				continue
			}
			if err := bucket.Put(kv.k, kv.v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (bt *boltBatch) ValueSize() int { return bt.size }

func (bt *boltBatch) Reset() {
	bt.writes = bt.writes[:0]
	bt.size = 0
}

func hasPrefix(k, prefix []byte) bool {
	if len(prefix) == 0 {
		return true
	}
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
