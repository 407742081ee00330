// Copyright (C) 2024 The Routecompress Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package keymask implements the primitive algebra over (key, mask)
// pairs that every routing-table entry is built from. A KeyMask
// matches an address a iff a&mask == key&mask; the unset mask bits
// are "don't care" (X) positions.
//
// These functions are called on the order of billions of times when
// compressing large tables, so they are kept branch-light: each one
// is a handful of bitwise operations with no loops or allocations.
package keymask

import "math/bits"

// KeyMask is a (key, mask) pair. On a canonical KeyMask, key has no
// bits set outside of mask (key &^ mask == 0).
type KeyMask struct {
	Key  uint32
	Mask uint32
}

// New builds a canonical KeyMask, masking off any key bits that fall
// outside mask.
func New(key, mask uint32) KeyMask {
	return KeyMask{Key: key & mask, Mask: mask}
}

// Xs returns the bitmask of wildcard ("don't care") positions in km.
func Xs(km KeyMask) uint32 {
	return ^km.Key & ^km.Mask
}

// CountXs returns the number of wildcard positions in km.
func CountXs(km KeyMask) int {
	return bits.OnesCount32(Xs(km))
}

// Intersect reports whether a and b can ever match the same address,
// i.e. whether their matched-key sets overlap.
func Intersect(a, b KeyMask) bool {
	return (a.Key & b.Mask) == (b.Key & a.Mask)
}

// Merge returns the least-wildcard KeyMask that matches every address
// matched by a or by b. Merging only ever adds wildcard positions:
// Xs(Merge(a, b)) is a superset of Xs(a) | Xs(b).
func Merge(a, b KeyMask) KeyMask {
	newXs := ^(a.Key ^ b.Key)
	mask := a.Mask & b.Mask & newXs
	key := (a.Key | b.Key) & mask
	return KeyMask{Key: key, Mask: mask}
}

// Matches reports whether addr is matched by km.
func Matches(km KeyMask, addr uint32) bool {
	return addr&km.Mask == km.Key&km.Mask
}
