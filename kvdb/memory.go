package kvdb

import (
	"bytes"
	"sync"
)

var memSeparator = []byte("::")

// MemDatabase is an in-memory Database, adapted from the teacher's
// lachesis/src/kvdb/memory_database.go. Not durable — used for tests and as
// the Engine's store backing when no storage path is configured.
type MemDatabase struct {
	db     map[string][]byte
	prefix []byte
	lock   *sync.RWMutex
}

// NewMemDatabase constructs an empty MemDatabase.
func NewMemDatabase() *MemDatabase {
	return &MemDatabase{
		db:   make(map[string][]byte),
		lock: new(sync.RWMutex),
	}
}

func (w *MemDatabase) NewTable(prefix []byte) Database {
	base := copyBytes(w.prefix)
	return &MemDatabase{
		db:     w.db,
		prefix: append(append(base, []byte("-")...), prefix...),
		lock:   w.lock,
	}
}

func (w *MemDatabase) fullKey(key []byte) []byte {
	base := copyBytes(w.prefix)
	return append(append(base, memSeparator...), key...)
}

func (w *MemDatabase) Put(key []byte, value []byte) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	key = w.fullKey(key)
	w.db[string(key)] = copyBytes(value)
	return nil
}

func (w *MemDatabase) Has(key []byte) (bool, error) {
	w.lock.RLock()
	defer w.lock.RUnlock()

	key = w.fullKey(key)
	_, ok := w.db[string(key)]
	return ok, nil
}

func (w *MemDatabase) Get(key []byte) ([]byte, error) {
	w.lock.RLock()
	defer w.lock.RUnlock()

	key = w.fullKey(key)
	if entry, ok := w.db[string(key)]; ok {
		return copyBytes(entry), nil
	}
	return nil, nil
}

func (w *MemDatabase) ForEach(prefix []byte, do func(key, val []byte) bool) error {
	w.lock.RLock()
	defer w.lock.RUnlock()

	fullPrefix := w.fullKey(prefix)
	for k, val := range w.db {
		key := []byte(k)
		if bytes.HasPrefix(key, fullPrefix) {
			trimmed := key[len(w.prefix)+len(memSeparator):]
			if !do(trimmed, copyBytes(val)) {
				break
			}
		}
	}
	return nil
}

func (w *MemDatabase) Delete(key []byte) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	key = w.fullKey(key)
	delete(w.db, string(key))
	return nil
}

func (w *MemDatabase) Close() error {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.db = nil
	return nil
}

func (w *MemDatabase) NewBatch() Batch {
	return &memBatch{db: w}
}

type memKV struct {
	k, v []byte
	del  bool
}

type memBatch struct {
	db     *MemDatabase
	writes []memKV
	size   int
}

func (b *memBatch) Put(key, value []byte) error {
	key = b.db.fullKey(key)
	b.writes = append(b.writes, memKV{copyBytes(key), copyBytes(value), false})
	b.size += len(value)
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	key = b.db.fullKey(key)
	b.writes = append(b.writes, memKV{copyBytes(key), nil, true})
	b.size++
	return nil
}

func (b *memBatch) Write() error {
	b.db.lock.Lock()
	defer b.db.lock.Unlock()

	for _, kv := range b.writes {
		if kv.del {
			delete(b.db.db, string(kv.k))
			continue
		}
		b.db.db[string(kv.k)] = kv.v
	}
	return nil
}

func (b *memBatch) ValueSize() int { return b.size }

func (b *memBatch) Reset() {
	b.writes = b.writes[:0]
	b.size = 0
}
