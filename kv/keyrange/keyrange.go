// Package keyrange implements the Key Range value object (spec.md §4.4) and
// the Query AND/OR tree built on top of it. Every key handled here is an
// already-encoded order-preserving []byte (see kv/enc); comparison is pure
// lexicographic bytes.Compare per spec.md §9's standardization decision.
package keyrange

import "bytes"

// KeyRange describes [lower, upper] with open/closed endpoints, or an
// exact-match point.
type KeyRange struct {
	lower, upper           []byte
	lowerOpen, upperOpen   bool
	hasLower, hasUpper     bool
	exactMatch             bool
}

// LowerBound returns a range with only a lower bound: [k, +inf) if !open,
// (k, +inf) if open.
func LowerBound(k []byte, open bool) KeyRange {
	return KeyRange{lower: k, lowerOpen: open, hasLower: true}
}

// UpperBound returns a range with only an upper bound.
func UpperBound(k []byte, open bool) KeyRange {
	return KeyRange{upper: k, upperOpen: open, hasUpper: true}
}

// Bound returns a two-sided range.
func Bound(lower, upper []byte, lowerOpen, upperOpen bool) KeyRange {
	return KeyRange{
		lower: lower, upper: upper,
		lowerOpen: lowerOpen, upperOpen: upperOpen,
		hasLower: true, hasUpper: true,
	}
}

// Only returns an exact-match range: lower == upper, both closed.
func Only(k []byte) KeyRange {
	return KeyRange{
		lower: k, upper: k,
		hasLower: true, hasUpper: true,
		exactMatch: true,
	}
}

// All returns the unbounded range (matches every key).
func All() KeyRange { return KeyRange{} }

func (r KeyRange) ExactMatch() bool { return r.exactMatch }

// LowerKey/UpperKey expose the raw bound bytes (nil if unset), used by
// bptree.GoToLowerBound/GoToUpperBound.
func (r KeyRange) LowerKey() ([]byte, bool, bool) { return r.lower, r.hasLower, r.lowerOpen }
func (r KeyRange) UpperKey() ([]byte, bool, bool) { return r.upper, r.hasUpper, r.upperOpen }

// Includes implements spec.md §4.4's membership test:
//
//	(lower undefined ∨ l<k ∨ (!lOpen ∧ l==k)) ∧ (upper undefined ∨ u>k ∨ (!uOpen ∧ u==k))
func (r KeyRange) Includes(k []byte) bool {
	if r.hasLower {
		c := bytes.Compare(r.lower, k)
		lowerOK := c < 0 || (!r.lowerOpen && c == 0)
		if !lowerOK {
			return false
		}
	}
	if r.hasUpper {
		c := bytes.Compare(r.upper, k)
		upperOK := c > 0 || (!r.upperOpen && c == 0)
		if !upperOK {
			return false
		}
	}
	return true
}
