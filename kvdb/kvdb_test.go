package kvdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func databases(t *testing.T) map[string]Database {
	t.Helper()

	boltPath := filepath.Join(t.TempDir(), "test.bolt")
	bolt, err := OpenBoltDatabase(boltPath)
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	return map[string]Database{
		"memory": NewMemDatabase(),
		"bolt":   bolt,
	}
}

func TestDatabasePutGetDelete(t *testing.T) {
	for name, db := range databases(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			assertO := assert.New(t)

			assertO.NoError(db.Put([]byte("k1"), []byte("v1")))

			has, err := db.Has([]byte("k1"))
			assertO.NoError(err)
			assertO.True(has)

			v, err := db.Get([]byte("k1"))
			assertO.NoError(err)
			assertO.Equal([]byte("v1"), v)

			assertO.NoError(db.Delete([]byte("k1")))
			has, err = db.Has([]byte("k1"))
			assertO.NoError(err)
			assertO.False(has)
		})
	}
}

func TestTableIsolatesKeys(t *testing.T) {
	for name, db := range databases(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			assertO := assert.New(t)

			tableA := db.NewTable([]byte("a"))
			tableB := db.NewTable([]byte("b"))

			assertO.NoError(tableA.Put([]byte("k"), []byte("from-a")))
			assertO.NoError(tableB.Put([]byte("k"), []byte("from-b")))

			va, err := tableA.Get([]byte("k"))
			assertO.NoError(err)
			assertO.Equal([]byte("from-a"), va)

			vb, err := tableB.Get([]byte("k"))
			assertO.NoError(err)
			assertO.Equal([]byte("from-b"), vb)
		})
	}
}

func TestForEachRespectsPrefix(t *testing.T) {
	for name, db := range databases(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			assertO := assert.New(t)

			assertO.NoError(db.Put([]byte("space1/op1"), []byte("x")))
			assertO.NoError(db.Put([]byte("space1/op2"), []byte("y")))
			assertO.NoError(db.Put([]byte("space2/op1"), []byte("z")))

			var seen []string
			err := db.ForEach([]byte("space1/"), func(k, v []byte) bool {
				seen = append(seen, string(k))
				return true
			})
			assertO.NoError(err)
			assertO.Len(seen, 2)
		})
	}
}

func TestBatchWrite(t *testing.T) {
	for name, db := range databases(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			assertO := assert.New(t)

			batch := db.NewBatch()
			assertO.NoError(batch.Put([]byte("k1"), []byte("v1")))
			assertO.NoError(batch.Put([]byte("k2"), []byte("v2")))
			assertO.NoError(batch.Delete([]byte("k3")))
			assertO.Equal(5, batch.ValueSize())
			assertO.NoError(batch.Write())

			v, err := db.Get([]byte("k1"))
			assertO.NoError(err)
			assertO.Equal([]byte("v1"), v)

			batch.Reset()
			assertO.Equal(0, batch.ValueSize())
		})
	}
}

func TestMigrateTables(t *testing.T) {
	assertO := assert.New(t)

	type tables struct {
		Ops   Database `table:"o"`
		Blobs Database `table:"b"`
		Skip  Database `table:"-"`
	}

	var tb tables
	MigrateTables(&tb, NewMemDatabase())

	assertO.NotNil(tb.Ops)
	assertO.NotNil(tb.Blobs)
	assertO.Nil(tb.Skip)

	assertO.NoError(tb.Ops.Put([]byte("k"), []byte("ops-value")))
	assertO.NoError(tb.Blobs.Put([]byte("k"), []byte("blob-value")))

	v, _ := tb.Ops.Get([]byte("k"))
	assertO.Equal([]byte("ops-value"), v)
}

func TestMain(m *testing.M) {
	code := m.Run()
	os.Exit(code)
}
