package hlc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func node(b byte) [32]byte {
	var n [32]byte
	n[0] = b
	return n
}

func TestNowMonotone(t *testing.T) {
	assertO := assert.New(t)

	wall := int64(1000)
	c := NewWithWallClock(node(1), func() int64 { return wall })

	a := c.Now()
	b := c.Now()

	assertO.True(a.Less(b), "successive Now() calls must be strictly increasing")
	assertO.Equal(int64(1000), b.Physical)
	assertO.Equal(uint32(1), b.Logical)
}

func TestNowAdvancesWithWallClock(t *testing.T) {
	assertO := assert.New(t)

	wall := int64(1000)
	c := NewWithWallClock(node(1), func() int64 { return wall })

	c.Now()
	wall = 2000
	b := c.Now()

	assertO.Equal(int64(2000), b.Physical)
	assertO.Equal(uint32(0), b.Logical)
}

func TestMergeAdvancesPastRemote(t *testing.T) {
	assertO := assert.New(t)

	wall := int64(1000)
	c := NewWithWallClock(node(1), func() int64 { return wall })

	remote := Timestamp{Physical: 5000, Logical: 3, Node: node(2)}
	c.Merge(remote)

	next := c.Now()
	assertO.True(remote.Less(next), "a follow-up op must causally supersede what was just received")
}

func TestMergeNoOpWhenLocalAhead(t *testing.T) {
	assertO := assert.New(t)

	wall := int64(9000)
	c := NewWithWallClock(node(1), func() int64 { return wall })
	c.Now()

	c.Merge(Timestamp{Physical: 100, Logical: 9, Node: node(2)})

	next := c.Now()
	assertO.Equal(int64(9000), next.Physical)
}

func TestCompareTotalOrder(t *testing.T) {
	assertO := assert.New(t)

	a := Timestamp{Physical: 1, Logical: 0, Node: node(1)}
	b := Timestamp{Physical: 1, Logical: 0, Node: node(2)}

	assertO.NotEqual(0, a.Compare(b))
	assertO.True(a.Less(b))
}

func TestCheckSkewRejectsFarFuture(t *testing.T) {
	assertO := assert.New(t)

	wall := int64(0)
	c := NewWithWallClock(node(1), func() int64 { return wall })

	ok := c.CheckSkew(Timestamp{Physical: MaxSkew.Milliseconds() + 1})
	assertO.False(ok)

	ok = c.CheckSkew(Timestamp{Physical: MaxSkew.Milliseconds() - 1})
	assertO.True(ok)
}
