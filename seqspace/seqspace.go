// Package seqspace implements the fixed 1024-slot sequence-number space
// shared by every delivery channel: signed modular distance, and the
// circular greater-than/less-than comparisons sender and receiver channels
// use to decide whether an arriving sequence number is ahead of or behind
// their current window.
package seqspace

import "github.com/lithdew/seq"

// N is the width of the sequence-number space all channels share.
const N = 1024

// half is N/2, the point at which "ahead" and "behind" invert.
const half = N / 2

// Relative returns the signed modular distance of a from e, in [-N/2, N/2).
// Relative(e, e) == 0, and Relative((e+k) mod N, e) == k for 0 <= k < N/2.
func Relative(a, e uint16) int {
	d := ((int(a) - int(e) + N + half) % N) - half
	return d
}

// scale maps the 1024-wide sequence space onto lithdew/seq's native 16-bit
// circular space (65536 = 1024*64) without disturbing its ordering: the
// half-the-space threshold that makes GT/LT circular scales identically,
// so comparisons on the scaled values match Relative's sign, except at a
// distance of exactly N/2, where Relative returns -N/2 but GT reports a as
// ahead.
const scale = 65536 / N

// GT reports whether a is ahead of b in the 1024-wide circular space,
// delegating the wraparound comparison to lithdew/seq the way
// AhmadMuzakkir/reliable's conn.go uses it to compare its own circular read
// and write cursors.
func GT(a, b uint16) bool { return seq.GT(a*scale, b*scale) }

// LT is the complement of GT for distinct a, b.
func LT(a, b uint16) bool { return seq.LT(a*scale, b*scale) }

// Wrap folds an arbitrary sequence counter into the [0, N) space.
func Wrap(v uint32) uint16 { return uint16(v % N) }

// Bitset tracks which sequence numbers in a N-wide circular window have
// been seen, keyed by seq % N. Used by sender channels for received-ack
// tracking and by receiver channels for duplicate detection.
type Bitset struct {
	bits [N / 64]uint64
}

func (s *Bitset) Set(seqNum uint16) {
	idx := seqNum % N
	s.bits[idx/64] |= 1 << (idx % 64)
}

func (s *Bitset) Clear(seqNum uint16) {
	idx := seqNum % N
	s.bits[idx/64] &^= 1 << (idx % 64)
}

func (s *Bitset) IsSet(seqNum uint16) bool {
	idx := seqNum % N
	return s.bits[idx/64]&(1<<(idx%64)) != 0
}

func (s *Bitset) Reset() {
	for i := range s.bits {
		s.bits[i] = 0
	}
}
