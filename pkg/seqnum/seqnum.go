// Package seqnum implements arithmetic over the 16-bit wrapping sequence
// space used to position segments and bytes in a PTP connection.
//
// All arithmetic is performed modulo 2^16. Raw numeric comparison of two
// values is meaningless near the wrap boundary, so every ordering or
// distance question goes through this package.
package seqnum

import "math"

// Modulus is the size of the sequence space.
const Modulus = math.MaxUint16 + 1

// Value is a position in the sequence space.
type Value uint16

// Rand is the random source used to pick initial sequence numbers.
// *math/rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
}

// Random returns a random initial sequence number in [1, 65535].
func Random(r Rand) Value {
	return Value(1 + r.Intn(math.MaxUint16))
}

// Advance returns v moved forward by n positions, wrapping as needed.
func Advance(v Value, n int) Value {
	return v.Add(n)
}

// Add returns v moved forward by n positions, wrapping as needed.
// Negative n moves backwards.
func (v Value) Add(n int) Value {
	return Value((int(v) + n%Modulus + Modulus) % Modulus)
}

// Distance returns the number of positions from 'from' forward to 'to'.
func Distance(from, to Value) uint16 {
	return uint16(to - from)
}

// InWindow reports whether v lies in [base, base+size).
func (v Value) InWindow(base Value, size int) bool {
	if size <= 0 {
		return false
	}
	if size >= Modulus {
		return true
	}
	return int(Distance(base, v)) < size
}

// LessThan reports whether v comes before w, assuming both lie within half
// of the sequence space of each other.
func (v Value) LessThan(w Value) bool {
	return int16(v-w) < 0
}

// LessThanEq reports whether v == w or v comes before w.
func (v Value) LessThanEq(w Value) bool {
	return v == w || v.LessThan(w)
}
