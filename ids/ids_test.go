package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/var-che/spaceway/hlc"
	"github.com/var-che/spaceway/identity"
)

func TestDeriveDeterministic(t *testing.T) {
	assertO := assert.New(t)

	id, err := identity.Generate()
	assertO.NoError(err)

	ts := hlc.Timestamp{Physical: 10, Logical: 0, Node: id.ID()}
	a := Derive(id.ID(), "CreateSpace", [][]byte{[]byte("space-name")}, ts)
	b := Derive(id.ID(), "CreateSpace", [][]byte{[]byte("space-name")}, ts)

	assertO.Equal(a, b)
}

func TestDeriveDiffersByField(t *testing.T) {
	assertO := assert.New(t)

	id, err := identity.Generate()
	assertO.NoError(err)

	ts := hlc.Timestamp{Physical: 10, Logical: 0, Node: id.ID()}
	a := Derive(id.ID(), "CreateSpace", [][]byte{[]byte("space-a")}, ts)
	b := Derive(id.ID(), "CreateSpace", [][]byte{[]byte("space-b")}, ts)

	assertO.NotEqual(a, b)
}

func TestDHTKeyMatchesConcatenation(t *testing.T) {
	assertO := assert.New(t)

	userID := [32]byte{1, 2, 3}
	a := DHTKey("keypackage:", userID[:])
	b := ContentHash(append([]byte("keypackage:"), userID[:]...))

	assertO.Equal(a, b)
}
