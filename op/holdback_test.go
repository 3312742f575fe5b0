package op

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/var-che/spaceway/ids"
)

func TestHoldbackReleasesWhenDepsSatisfied(t *testing.T) {
	assertO := assert.New(t)

	h := NewHoldback(16, time.Hour)
	dep1 := ids.ID{1}
	dep2 := ids.ID{2}
	env := &Envelope{OpID: ids.ID{9}, Deps: []ids.OpId{dep1, dep2}}

	h.Add(env, []ids.OpId{dep1, dep2})
	assertO.Equal(1, h.Len())

	assertO.Empty(h.Satisfy(dep1))
	assertO.Equal(1, h.Len(), "still waiting on dep2")

	ready := h.Satisfy(dep2)
	assertO.Len(ready, 1)
	assertO.Equal(env.OpID, ready[0].OpID)
	assertO.Equal(0, h.Len())
}

func TestHoldbackIdempotentAdd(t *testing.T) {
	assertO := assert.New(t)

	h := NewHoldback(16, time.Hour)
	dep := ids.ID{1}
	env := &Envelope{OpID: ids.ID{9}, Deps: []ids.OpId{dep}}

	h.Add(env, []ids.OpId{dep})
	h.Add(env, []ids.OpId{dep})
	assertO.Equal(1, h.Len())
}

func TestHoldbackEvictsOldestAtCapacity(t *testing.T) {
	assertO := assert.New(t)

	h := NewHoldback(1, time.Hour)
	older := &Envelope{OpID: ids.ID{1}, Deps: []ids.OpId{{100}}}
	newer := &Envelope{OpID: ids.ID{2}, Deps: []ids.OpId{{101}}}

	h.Add(older, []ids.OpId{{100}})
	h.Add(newer, []ids.OpId{{101}})

	assertO.Equal(1, h.Len())
	assertO.Empty(h.Satisfy(ids.ID{100}), "the older op should have been evicted")
	ready := h.Satisfy(ids.ID{101})
	assertO.Len(ready, 1)
}

func TestHoldbackEvictExpired(t *testing.T) {
	assertO := assert.New(t)

	h := NewHoldback(16, time.Millisecond)
	fakeNow := time.Now()
	h.now = func() time.Time { return fakeNow }

	env := &Envelope{OpID: ids.ID{1}, Deps: []ids.OpId{{100}}}
	h.Add(env, []ids.OpId{{100}})

	fakeNow = fakeNow.Add(time.Second)
	evicted := h.EvictExpired()
	assertO.Equal([]ids.OpId{{1}}, evicted)
	assertO.Equal(0, h.Len())
}

func TestMissingOpIDs(t *testing.T) {
	assertO := assert.New(t)

	h := NewHoldback(16, time.Hour)
	h.Add(&Envelope{OpID: ids.ID{1}}, []ids.OpId{{100}})
	h.Add(&Envelope{OpID: ids.ID{2}}, []ids.OpId{{101}})

	missing := h.MissingOpIDs()
	assertO.Len(missing, 2)
}
