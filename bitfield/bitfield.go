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

// Package bitfield implements the per-source-core filter type and the
// table generator that produces a candidate table for "the first N
// bit-fields merged in": §4.3 of the specification.
package bitfield

import "math/bits"

// Filter is a single source core's statement of which atoms for one
// routing key it actually consumes. It mirrors the original bit_set_t
// layout (a word-packed bitmap plus an element count) rather than a
// Go []bool, since that is the wire format the filter region (§6)
// publishes and n_redundancy_filters is computed directly from it.
type Filter struct {
	ProcessorID uint32
	Key         uint32
	NAtoms      int
	Words       []uint64
}

// NewFilter allocates a Filter for nAtoms atoms, all initially dead.
func NewFilter(processorID, key uint32, nAtoms int) *Filter {
	return &Filter{
		ProcessorID: processorID,
		Key:         key,
		NAtoms:      nAtoms,
		Words:       make([]uint64, (nAtoms+63)/64),
	}
}

// SetLive marks atom i as consumed by this filter's core.
func (f *Filter) SetLive(i int) {
	f.Words[i/64] |= 1 << (uint(i) % 64)
}

// Live reports whether atom i is consumed by this filter's core.
func (f *Filter) Live(i int) bool {
	return f.Words[i/64]&(1<<(uint(i)%64)) != 0
}

// AnyLive reports whether any atom in the filter is still consumed.
// A filter with no live atoms means every packet matching its key
// would be entirely redundant for that source core.
func (f *Filter) AnyLive() bool {
	for _, w := range f.Words {
		if w != 0 {
			return true
		}
	}
	return false
}

// Redundant reports whether this filter is entirely dead — see the
// n_redundancy_filters field supplemented from original_source/ into
// the filter region format (§6 / SPEC_FULL.md Supplemented Features).
func (f *Filter) Redundant() bool {
	return !f.AnyLive()
}

// PopCount returns the number of live atoms.
func (f *Filter) PopCount() int {
	n := 0
	for _, w := range f.Words {
		n += bits.OnesCount64(w)
	}
	return n
}
