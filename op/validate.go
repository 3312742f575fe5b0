package op

import (
	"bytes"
	"fmt"

	"github.com/var-che/spaceway/identity"
	"github.com/var-che/spaceway/ids"
)

// VerifyWellFormed checks the envelope is internally consistent: a
// recognized Kind, a non-empty signature, and an op_id that actually
// matches Blake3(author || kind || payload || hlc) (spec §3).
func VerifyWellFormed(e *Envelope) error {
	if !e.Kind.Valid() {
		return fmt.Errorf("op: invalid kind %d", e.Kind)
	}
	if len(e.Sig) == 0 {
		return fmt.Errorf("op: missing signature")
	}
	want := ids.Derive(e.Author, e.Kind.String(), [][]byte{e.Payload}, e.HLC)
	if !bytes.Equal(want[:], e.OpID[:]) {
		return fmt.Errorf("op: op_id does not match content")
	}
	return nil
}

// VerifySignature checks the envelope's signature against the author's
// verifying key, looked up in dir. Returns spaceerr-compatible sentinel
// errors via the caller's errors.Is against spaceerr.ErrUnknownAuthor /
// spaceerr.ErrInvalidSignature (the caller wraps, since op must not import
// spaceerr's higher-level Timeout/DecryptionFailed types and create an
// import cycle risk — kept as plain errors here, wrapped by forum/engine).
func VerifySignature(e *Envelope, dir *identity.Directory) (unknownAuthor bool, invalidSig bool, err error) {
	pub, ok := dir.Lookup(e.Author)
	if !ok {
		return true, false, fmt.Errorf("op: unknown author %s", e.Author)
	}

	canonical, err := e.CanonicalBytes()
	if err != nil {
		return false, false, fmt.Errorf("op: canonicalizing envelope: %w", err)
	}
	if !identity.Verify(pub, canonical, e.Sig) {
		return false, true, fmt.Errorf("op: invalid signature")
	}
	return false, false, nil
}

// DepChecker reports whether an op has already been applied to the local
// Forum state (spec §3 invariant 1: every dep must be applied or held).
type DepChecker interface {
	Applied(id ids.OpId) bool
}

// MissingDeps returns the subset of e.Deps not yet applied, per checker.
// An empty result means e is free to apply.
func MissingDeps(e *Envelope, checker DepChecker) []ids.OpId {
	var missing []ids.OpId
	for _, d := range e.Deps {
		if !checker.Applied(d) {
			missing = append(missing, d)
		}
	}
	return missing
}
