// Package ivgen implements §4.2's IV generator: a monotonic counter tagged
// with a one-byte domain-separation field, producing the 12-byte nonces
// AES-256-GCM requires. It is grounded on the teacher's
// internal/crypto.SessionKey.buildSendNonce/buildRecvNonce pair, which packs
// the same direction-bit-plus-counter shape into a ChaCha20-Poly1305 nonce.
package ivgen

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// SafeBound is the default counter bound: Next refuses further IVs once the
// counter reaches it, so the largest counter value used is SafeBound-1. The spec requires "a large safe bound (>= 2^53 in
// practice)"; 2^53 leaves an enormous safety margin below the 2^64 point at
// which the counter itself would wrap.
const SafeBound = 1 << 53

// Exhausted is returned once the counter would exceed the generator's bound.
var Exhausted = errors.New("ivgen: counter exhausted")

// FixedField is the one-byte domain tag distinguishing initiator-originated
// records (0) from receiver-originated records (1).
type FixedField byte

const (
	FixedFieldInitiator FixedField = 0
	FixedFieldReceiver  FixedField = 1
)

// Generator produces unique 12-byte IVs for a single (key, direction) pair.
// It is not safe for concurrent use; the session consumer (internal/session)
// serializes all access to a connection's generators on its single owning
// goroutine, per spec.md §5.
type Generator struct {
	fixed   FixedField
	counter uint64
	bound   uint64
}

// New creates a Generator tagged with the given fixed field, using the
// default SafeBound.
func New(fixed FixedField) *Generator {
	return &Generator{fixed: fixed, bound: SafeBound}
}

// NewWithBound creates a Generator with a caller-supplied safe bound. Tests
// exercising spec.md §8 scenario 6 (IV counter exhaustion) use a small bound
// so they don't have to perform 2^53 encryptions to observe Exhausted.
func NewWithBound(fixed FixedField, bound uint64) *Generator {
	return &Generator{fixed: fixed, bound: bound}
}

// Next produces the next IV and advances the counter. Bytes are
// [0x00, 0x00, 0x00, fixed] || counter(8, big-endian).
func (g *Generator) Next() ([]byte, error) {
	if g.counter >= g.bound {
		return nil, fmt.Errorf("%w: counter at %d exceeds bound %d", Exhausted, g.counter, g.bound)
	}

	iv := make([]byte, 12)
	iv[3] = byte(g.fixed)
	binary.BigEndian.PutUint64(iv[4:], g.counter)

	g.counter++
	return iv, nil
}

// Counter returns the current (not-yet-used) counter value, for tests and
// diagnostics.
func (g *Generator) Counter() uint64 {
	return g.counter
}
