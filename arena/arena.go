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

// Package arena models the "usable SDRAM blocks" input described in
// §6 of the specification: a fixed-size region, reserved once at
// start-up, handed out in fixed-size pages to the coordinator for
// working-table memory and reclaimed when a worker's attempt ends.
//
// Allocation uses a page bitmap with atomic compare-and-swap, the
// same structure as an mmap-backed virtual-memory arena: a fixed
// number of pages, one bit per page, a lock-free first-fit scan.
package arena

import (
	"fmt"
	"math/bits"
	"sync/atomic"

	"github.com/neurofabric/routecompress/ints"
)

// PageSize is the allocation granularity. Every Alloc request is
// rounded up to a whole number of pages.
const PageSize = 1 << 16

// Arena is a fixed-capacity pool of pages backed by a single
// reserved mapping. The zero value is not usable; construct one with
// New.
type Arena struct {
	mem    []byte
	bits   []uint64
	npages int
}

// New reserves a region able to hold at least size bytes, rounded up
// to a whole number of pages, and returns an Arena managing it. It
// panics if the platform mapping call fails — on real hardware this
// mirrors a fatal BaselineFailed condition, since the system cannot
// run at all without its working memory.
func New(size int) *Arena {
	npages := int(ints.Max(ints.ChunkCount(uint(size), uint(PageSize)), 1))
	mem := mapRegion(npages * PageSize)
	return &Arena{
		mem:    mem,
		bits:   make([]uint64, ints.ChunkCount(uint(npages), 64)),
		npages: npages,
	}
}

// Pages reports the total number of pages this arena manages.
func (a *Arena) Pages() int {
	return a.npages
}

// PagesUsed reports how many pages are currently allocated.
func (a *Arena) PagesUsed() int {
	n := 0
	for _, w := range a.bits {
		n += bits.OnesCount64(w)
	}
	return n
}

// Alloc returns a buffer of exactly n pages worth of memory, or
// ok=false if no run of n contiguous free pages exists. The buffer is
// not cleared: a page reused after Free may still hold its earlier
// contents.
// Single-page allocations (by far the common case — one working
// table per attempt) are satisfied by a lock-free first-fit scan
// identical in shape to the teacher's Malloc; multi-page requests
// fall back to a linear scan since contiguous multi-page runs are
// rare in this workload (only the bit-field table generator's
// worst-case max_size(N) estimate ever asks for more than one page).
func (a *Arena) Alloc(n int) (buf []byte, ok bool) {
	if n <= 0 {
		n = 1
	}
	if n == 1 {
		return a.allocOne()
	}
	return a.allocRun(n)
}

func (a *Arena) allocOne() ([]byte, bool) {
	for i := range a.bits {
		addr := &a.bits[i]
		for {
			mask := atomic.LoadUint64(addr)
			avail := ^mask
			if avail == 0 {
				break
			}
			bit := bits.TrailingZeros64(avail)
			page := i*64 + bit
			if page >= a.npages {
				break
			}
			if atomic.CompareAndSwapUint64(addr, mask, mask|(uint64(1)<<bit)) {
				return a.pageAt(page, 1), true
			}
		}
	}
	return nil, false
}

func (a *Arena) allocRun(n int) ([]byte, bool) {
	start := -1
	run := 0
	for p := 0; p < a.npages; p++ {
		if a.testBit(p) {
			start = -1
			run = 0
			continue
		}
		if start < 0 {
			start = p
		}
		run++
		if run == n {
			for q := start; q < start+n; q++ {
				a.setBit(q)
			}
			return a.pageAt(start, n), true
		}
	}
	return nil, false
}

// Free releases a buffer previously returned by Alloc. It panics if
// buf was not allocated from this arena or has already been freed —
// both are programming errors, not recoverable conditions.
func (a *Arena) Free(buf []byte) {
	n := len(buf) / PageSize
	if n == 0 || len(buf)%PageSize != 0 {
		panic(fmt.Sprintf("arena: Free called with non-page-aligned length %d", len(buf)))
	}
	start := a.pageIndex(buf)
	for p := start; p < start+n; p++ {
		if !a.testBit(p) {
			panic("arena: double Free")
		}
		a.clearBit(p)
	}
	hintUnused(buf)
}

func (a *Arena) pageAt(page, n int) []byte {
	off := page * PageSize
	return a.mem[off : off+n*PageSize]
}

func (a *Arena) pageIndex(buf []byte) int {
	base := &a.mem[0]
	off := int(uintptrDiff(&buf[0], base))
	if off < 0 || off%PageSize != 0 || off/PageSize >= a.npages {
		panic("arena: buffer not owned by this arena")
	}
	return off / PageSize
}

func (a *Arena) testBit(p int) bool {
	return atomic.LoadUint64(&a.bits[p/64])&(uint64(1)<<(uint(p)%64)) != 0
}

func (a *Arena) setBit(p int) {
	addr := &a.bits[p/64]
	bit := uint64(1) << (uint(p) % 64)
	for {
		mask := atomic.LoadUint64(addr)
		if atomic.CompareAndSwapUint64(addr, mask, mask|bit) {
			return
		}
	}
}

func (a *Arena) clearBit(p int) {
	addr := &a.bits[p/64]
	bit := uint64(1) << (uint(p) % 64)
	for {
		mask := atomic.LoadUint64(addr)
		if atomic.CompareAndSwapUint64(addr, mask, mask&^bit) {
			return
		}
	}
}
