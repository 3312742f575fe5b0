// Package ids computes the 32-byte content-derived identifiers used
// throughout Spaceway (spec §3): SpaceId, ChannelId, ThreadId, MessageId and
// OpId are all Blake3 digests over the creator's UserId, a kind tag, the
// entity's essential creation fields, and an HLC timestamp.
package ids

import (
	"encoding/binary"

	"lukechampine.com/blake3"

	"github.com/var-che/spaceway/hlc"
	"github.com/var-che/spaceway/identity"
)

// ID is a generic 32-byte content-addressed identifier. SpaceId, ChannelId,
// ThreadId, MessageId and OpId are type aliases of ID: they name the role
// of a value, and the compiler does not distinguish them.
type ID [32]byte

func (i ID) Bytes() []byte { return i[:] }

type (
	SpaceId   = ID
	ChannelId = ID
	ThreadId  = ID
	MessageId = ID
	OpId      = ID
)

// Derive computes Blake3(author || kind || fields... || hlc), the shared
// recipe behind every content-addressed ID in the system (spec §3).
func Derive(author identity.UserId, kind string, fields [][]byte, ts hlc.Timestamp) ID {
	h := blake3.New(32, nil)
	h.Write(author.Bytes())
	h.Write([]byte(kind))
	for _, f := range fields {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f)))
		h.Write(lenBuf[:])
		h.Write(f)
	}
	h.Write(ts.Bytes())

	var out ID
	copy(out[:], h.Sum(nil))
	return out
}

// ContentHash returns the plain Blake3 digest of a blob, used for the
// content-addressed blob store (spec §4.4) and DHT keys (spec §6.3).
func ContentHash(content []byte) [32]byte {
	return blake3.Sum256(content)
}

// DHTKey computes Blake3(prefix || parts...), plain concatenation with no
// separator, matching the key
// construction spec §6.3 specifies for keypackage/ops/space-meta DHT
// entries (e.g. Blake3("keypackage:" || user_id)).
func DHTKey(prefix string, parts ...[]byte) [32]byte {
	h := blake3.New(32, nil)
	h.Write([]byte(prefix))
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
