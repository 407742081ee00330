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

// Package rtable implements the mutable routing-table store that the
// minimiser and the bit-field table generator operate on in place.
package rtable

import (
	"fmt"
	"sort"
	"unsafe"

	"github.com/neurofabric/routecompress/keymask"
)

// Route is the bitset of output links a packet matching an entry is
// forwarded to.
type Route uint32

// Source is the bitset of input links a packet matching an entry may
// have arrived from. It is conservative: merging two entries yields
// the intersection of their sources (0 when they share no input
// link), never a claim that an input link produced traffic it did not.
type Source uint32

// Entry is a single routing-table row.
type Entry struct {
	KeyMask keymask.KeyMask
	Route   Route
	Source  Source
}

// IndexOutOfRangeError is the value the table panics with (a
// programming error, never a recoverable condition) whenever a
// caller asks it for an index at or beyond its current size.
type IndexOutOfRangeError struct {
	Index, Size int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("rtable: index %d out of range for table of size %d", e.Index, e.Size)
}

// Table is an ordered, in-place mutable sequence of entries. Order is
// only significant to the minimiser's internal grouping of entries by
// route; once compression has finished, a correctly compressed table
// has no two entries whose KeyMasks intersect, so scan order no
// longer matters for correctness.
type Table struct {
	entries []Entry
}

// New returns an empty table with capacity for at least n entries.
func New(n int) *Table {
	return &Table{entries: make([]Entry, 0, n)}
}

// FromSlice wraps entries directly as the backing store of a Table.
// The caller must not mutate entries afterwards except through the
// returned Table.
func FromSlice(entries []Entry) *Table {
	return &Table{entries: entries}
}

// EntrySize is the size in bytes of one Entry, the unit package arena
// allocations are measured in when sized for a working table.
var EntrySize = int(unsafe.Sizeof(Entry{}))

// FromBuffer reinterprets buf, a byte slice sized by a whole number of
// Entry-widths (such as one returned by an arena.Arena's Alloc), as an
// empty Table with capacity for len(buf)/EntrySize entries. The
// caller must not use buf directly afterwards; the returned Table
// owns it until it is handed back to whatever allocated buf.
func FromBuffer(buf []byte) *Table {
	n := len(buf) / EntrySize
	if n == 0 {
		return &Table{}
	}
	entries := unsafe.Slice((*Entry)(unsafe.Pointer(&buf[0])), n)
	return &Table{entries: entries[:0]}
}

// NEntries returns the number of entries currently in the table.
func (t *Table) NEntries() int {
	return len(t.entries)
}

func (t *Table) checkIndex(i int) error {
	if i < 0 || i >= len(t.entries) {
		return &IndexOutOfRangeError{Index: i, Size: len(t.entries)}
	}
	return nil
}

// Get returns a pointer to the entry at index i. Out-of-range access
// is a programming error per §4.2, so Get panics with an
// *IndexOutOfRangeError rather than returning an error.
func (t *Table) Get(i int) *Entry {
	if err := t.checkIndex(i); err != nil {
		panic(err)
	}
	return &t.entries[i]
}

// Put overwrites the entry at index i.
func (t *Table) Put(i int, e Entry) {
	if err := t.checkIndex(i); err != nil {
		panic(err)
	}
	t.entries[i] = e
}

// Append adds e as a new final entry, growing the table by one.
func (t *Table) Append(e Entry) {
	t.entries = append(t.entries, e)
}

// Copy copies the entry at src on top of the entry at dst.
func (t *Table) Copy(dst, src int) {
	if err := t.checkIndex(dst); err != nil {
		panic(err)
	}
	if err := t.checkIndex(src); err != nil {
		panic(err)
	}
	t.entries[dst] = t.entries[src]
}

// RemoveTail shrinks the table by k, dropping the last k entries.
// Compression always moves the entries it intends to keep to the
// front of the table before calling RemoveTail, so this is how a
// successful minimisation finalises its result size.
func (t *Table) RemoveTail(k int) {
	n := len(t.entries) - k
	if n < 0 {
		n = 0
	}
	t.entries = t.entries[:n]
}

// SortByKey stably sorts the table's entries by ascending
// KeyMask.Key. It is used by tests and by diagnostics; the
// minimiser itself uses the cycle-following permutation in
// package minimiser instead, because a comparison sort does not
// preserve the frequency-ascending route grouping it requires.
func (t *Table) SortByKey() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].KeyMask.Key < t.entries[j].KeyMask.Key
	})
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return &Table{entries: out}
}

// Entries returns the live entries as a slice. The slice aliases the
// table's backing storage and is only valid until the next mutating
// call.
func (t *Table) Entries() []Entry {
	return t.entries
}

// Equal reports whether two tables contain identical entries in the
// same order.
func Equal(a, b *Table) bool {
	if len(a.entries) != len(b.entries) {
		return false
	}
	for i := range a.entries {
		if a.entries[i] != b.entries[i] {
			return false
		}
	}
	return true
}
