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

package bitfield

import (
	"math/bits"

	"github.com/neurofabric/routecompress/rtable"
)

// filterKey packs a (processor, routing key) pair into a map key.
func filterKey(processorID, key uint32) uint64 {
	return uint64(processorID)<<32 | uint64(key)
}

// GenerateTable builds the candidate table for midpoint n: the first
// n bit-fields (by merge priority) are applied against uncompressed,
// dropping any entry whose every live source core has a filter for
// its key among those n bit-fields and that filter has no live atoms
// left. An entry with no filter coverage at all, or whose filter
// still has live atoms, is kept unchanged. The result is deterministic
// for fixed inputs: entries are visited in table order and no
// tie-breaking decision depends on map iteration order.
func GenerateTable(uncompressed *rtable.Table, sorted *SortedBitFields, n int) *rtable.Table {
	return GenerateTableInto(uncompressed, sorted, n, rtable.New(uncompressed.NEntries()))
}

// GenerateTableInto behaves exactly like GenerateTable but appends
// the surviving entries into out instead of allocating a fresh Table,
// so a caller that already holds working-table memory for this
// attempt (an arena.Arena-backed buffer wrapped with
// rtable.FromBuffer, for instance) can reuse it instead of paying a
// heap allocation per midpoint. out must be empty and have capacity
// for at least MaxSize(uncompressed, n) entries.
func GenerateTableInto(uncompressed *rtable.Table, sorted *SortedBitFields, n int, out *rtable.Table) *rtable.Table {
	if n > sorted.Len() {
		n = sorted.Len()
	}
	if n < 0 {
		n = 0
	}

	active := make(map[uint64]*Filter, n)
	for _, f := range sorted.Filters[:n] {
		active[filterKey(f.ProcessorID, f.Key)] = f
	}

	for i := 0; i < uncompressed.NEntries(); i++ {
		e := *uncompressed.Get(i)
		if !entryIsRedundant(e, active) {
			out.Append(e)
		}
	}
	return out
}

// entryIsRedundant reports whether every source core named in e's
// Source bitset has an applicable, entirely-dead filter, meaning no
// live core actually wants this entry's key any more.
func entryIsRedundant(e rtable.Entry, active map[uint64]*Filter) bool {
	src := uint32(e.Source)
	if src == 0 {
		return false
	}
	for src != 0 {
		bit := bits.TrailingZeros32(src)
		src &^= 1 << uint(bit)

		f, ok := active[filterKey(uint32(bit), e.KeyMask.Key)]
		if !ok {
			// this source core has no filter among the active set:
			// we cannot prove the entry is redundant.
			return false
		}
		if f.AnyLive() {
			return false
		}
	}
	return true
}

// MaxSize returns an upper bound on GenerateTable's output length for
// midpoint n, so the coordinator can reserve working-table memory
// before dispatching. The generator only ever drops entries, so the
// uncompressed table's size is always a valid (if loose) bound.
func MaxSize(uncompressed *rtable.Table, n int) int {
	return uncompressed.NEntries()
}
