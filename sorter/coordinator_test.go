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

package sorter

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neurofabric/routecompress/arena"
	"github.com/neurofabric/routecompress/bitfield"
	"github.com/neurofabric/routecompress/keymask"
	"github.com/neurofabric/routecompress/rtable"
	"github.com/neurofabric/routecompress/worker"
)

func fastConfig(workers int) Config {
	return Config{
		Workers:               workers,
		BootstrapPollAttempts: 200,
		BootstrapPollInterval: time.Microsecond,
		PollInterval:          time.Microsecond,
	}
}

// Scenario (a): an empty table with no bit-fields needs no
// compression; the baseline trivially succeeds at N=0.
func TestCoordinatorEmptyTable(t *testing.T) {
	tbl := rtable.New(0)
	bf := &bitfield.SortedBitFields{}
	c := New(tbl, bf, 1023, fastConfig(2))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.BestSuccess != 0 {
		t.Fatalf("BestSuccess = %d, want 0", res.BestSuccess)
	}
	if res.Table.NEntries() != 0 {
		t.Fatalf("NEntries = %d, want 0", res.Table.NEntries())
	}
}

// Scenario (b): a table already within capacity and with no
// mergeable structure is installed unchanged at N=0.
func TestCoordinatorAlreadyMinimal(t *testing.T) {
	tbl := rtable.New(3)
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x10, 0xF0), Route: 1})
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x20, 0xF0), Route: 2})
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x30, 0xF0), Route: 4})

	bf := &bitfield.SortedBitFields{}
	c := New(tbl, bf, 3, fastConfig(2))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.BestSuccess != 0 {
		t.Fatalf("BestSuccess = %d, want 0", res.BestSuccess)
	}
	if res.Table.NEntries() != 3 {
		t.Fatalf("NEntries = %d, want 3", res.Table.NEntries())
	}
}

// Scenario (c): two entries sharing a route and differing in one bit
// merge into a single entry even with no bit-fields involved.
func TestCoordinatorMergesTwoEntryTable(t *testing.T) {
	tbl := rtable.New(2)
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x00, 0xFF), Route: 1})
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x01, 0xFF), Route: 1})

	bf := &bitfield.SortedBitFields{}
	c := New(tbl, bf, 1, fastConfig(2))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Table.NEntries() != 1 {
		t.Fatalf("NEntries = %d, want 1", res.Table.NEntries())
	}
	want := keymask.New(0x00, 0xFE)
	if res.Table.Get(0).KeyMask != want {
		t.Fatalf("merged KeyMask = %v, want %v", res.Table.Get(0).KeyMask, want)
	}
}

// CompressOnlyWhenNeeded skips the search entirely when the
// uncompressed table already fits, per the supplemented header-flag
// behaviour in SPEC_FULL.md.
func TestCoordinatorCompressOnlyWhenNeeded(t *testing.T) {
	tbl := rtable.New(2)
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x00, 0xFF), Route: 1})
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x01, 0xFF), Route: 2})

	bf := &bitfield.SortedBitFields{}
	cfg := fastConfig(1)
	cfg.CompressOnlyWhenNeeded = true
	c := New(tbl, bf, 10, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Table.NEntries() != 2 {
		t.Fatalf("NEntries = %d, want 2 (table should pass through unmerged)", res.Table.NEntries())
	}
}

// A bit-field that makes one entry fully redundant lets the search
// succeed at capacity 1 once applied, where it would otherwise fail.
func TestCoordinatorSucceedsWithBitField(t *testing.T) {
	tbl := rtable.New(2)
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x00, 0xFF), Route: 1, Source: 1 << 2})
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x10, 0xFF), Route: 2})

	dead := bitfield.NewFilter(2, 0x00, 4) // no live atoms
	bf := &bitfield.SortedBitFields{Filters: []*bitfield.Filter{dead}}

	c := New(tbl, bf, 1, fastConfig(2))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.BestSuccess != 1 {
		t.Fatalf("BestSuccess = %d, want 1", res.BestSuccess)
	}
	if res.Table.NEntries() != 1 {
		t.Fatalf("NEntries = %d, want 1", res.Table.NEntries())
	}
	if res.NMergedFilters[2] != 1 {
		t.Fatalf("NMergedFilters[2] = %d, want 1", res.NMergedFilters[2])
	}
}

// compress_as_much_as_possible keeps searching past the first
// convergent midpoint: N=1 already fits capacity 2 once entry 0 is
// dropped, but N=2 additionally drops entry 1, leaving a strictly
// smaller installed table, which the refinement pass should prefer.
func TestCoordinatorCompressAsMuchAsPossible(t *testing.T) {
	tbl := rtable.New(3)
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x00, 0xFF), Route: 1, Source: 1 << 0})
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x10, 0xFF), Route: 2, Source: 1 << 1})
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x20, 0xFF), Route: 3})

	dead0 := bitfield.NewFilter(0, 0x00, 4)
	dead1 := bitfield.NewFilter(1, 0x10, 4)
	bf := &bitfield.SortedBitFields{Filters: []*bitfield.Filter{dead0, dead1}}

	cfg := fastConfig(2)
	cfg.CompressAsMuchAsPossible = true
	c := New(tbl, bf, 2, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.BestSuccess != 2 {
		t.Fatalf("BestSuccess = %d, want 2 (refinement should move past the first convergent midpoint)", res.BestSuccess)
	}
	if res.Table.NEntries() != 1 {
		t.Fatalf("NEntries = %d, want 1", res.Table.NEntries())
	}
}

// A caller that shares one pre-reserved Arena across many searches
// (the "reserved once at start-up" usage Config.Mem exists for) gets
// the same result as the default private-arena path.
func TestCoordinatorSharedArena(t *testing.T) {
	tbl := rtable.New(2)
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x00, 0xFF), Route: 1})
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x01, 0xFF), Route: 1})

	bf := &bitfield.SortedBitFields{}
	cfg := fastConfig(2)
	cfg.Mem = arena.New(4 * arena.PageSize)
	c := New(tbl, bf, 1, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Table.NEntries() != 1 {
		t.Fatalf("NEntries = %d, want 1", res.Table.NEntries())
	}
	// Every working-table page the search tried and discarded along
	// the way is freed back to the shared arena; the one page still
	// outstanding backs res.Table itself, now owned by the caller.
	if got := cfg.Mem.PagesUsed(); got != 1 {
		t.Fatalf("PagesUsed after Run = %d, want 1 (only the page backing the returned table)", got)
	}
}

// An arena too small to ever hand out a page still lets the search
// complete, falling back to heap-allocated working tables per
// Coordinator.dispatch's doc comment.
func TestCoordinatorArenaExhausted(t *testing.T) {
	tbl := rtable.New(2)
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x00, 0xFF), Route: 1})
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x01, 0xFF), Route: 1})

	bf := &bitfield.SortedBitFields{}
	cfg := fastConfig(2)
	cfg.Mem = arena.New(0)
	// Starve the arena so every Alloc in the search fails.
	for {
		if _, ok := cfg.Mem.Alloc(1); !ok {
			break
		}
	}
	c := New(tbl, bf, 1, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Table.NEntries() != 1 {
		t.Fatalf("NEntries = %d, want 1", res.Table.NEntries())
	}
}

// Scenario (f): parallel search convergence. Ten distinct-route,
// unmergeable entries; the first five each become redundant once
// their own dead filter is among the first N applied, so the
// candidate table only fits capacity 5 once N reaches 5. Every
// midpoint's first attempt is forced to fail with FailedMalloc,
// exercising the retry path deterministically, without relying on
// real randomness. The search must still converge on the minimal
// feasible midpoint, 5, not a larger one discovered alongside it.
func TestCoordinatorParallelSearchConvergence(t *testing.T) {
	const nEntries = 10
	const threshold = 5

	tbl := rtable.New(nEntries)
	for i := 0; i < nEntries; i++ {
		var src uint32
		if i < threshold {
			src = 1 << uint(i)
		}
		tbl.Append(rtable.Entry{
			KeyMask: keymask.New(uint32(i), 0xFF),
			Route:   rtable.Route(i + 1),
			Source:  rtable.Source(src),
		})
	}

	filters := make([]*bitfield.Filter, nEntries)
	for i := 0; i < threshold; i++ {
		filters[i] = bitfield.NewFilter(uint32(i), uint32(i), 4) // dead: redundant once active
	}
	for i := threshold; i < nEntries; i++ {
		filters[i] = bitfield.NewFilter(uint32(100+i), 999, 4) // filler, matches nothing
	}
	bf := &bitfield.SortedBitFields{Filters: filters}

	// Every midpoint's very first attempt is a spurious malloc failure,
	// forcing at least one retry cycle everywhere without relying on
	// real randomness; the second attempt always runs for real.
	var attempts sync.Map // midpoint -> *int32 attempt counter
	cfg := fastConfig(4)
	cfg.InjectMalloc = func(mid int) bool {
		v, _ := attempts.LoadOrStore(mid, new(int32))
		n := atomic.AddInt32(v.(*int32), 1)
		return n == 1
	}

	c := New(tbl, bf, threshold, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.BestSuccess != threshold {
		t.Fatalf("BestSuccess = %d, want %d", res.BestSuccess, threshold)
	}
	if res.Table.NEntries() != nEntries-threshold {
		t.Fatalf("NEntries = %d, want %d", res.Table.NEntries(), nEntries-threshold)
	}
}

// §5 requires a per-worker work budget enforced by the coordinator's
// own tick counter, independent of anything the worker itself
// reports. This drives Coordinator.poll directly against a slot stuck
// in Compressing (standing in for a pathologically slow minimiser
// run) to confirm the budget is actually enforced rather than merely
// documented: before the budget is exhausted poll must leave the slot
// alone, and once exhausted it must force-stop it with FailedTimeout,
// not the bound-driven ForcedStop handleOutcome itself would use.
func TestCoordinatorEnforcesWorkerTickBudget(t *testing.T) {
	tbl := rtable.New(0)
	bf := &bitfield.SortedBitFields{}
	cfg := fastConfig(1)
	cfg.WorkerTickBudget = 3
	c := New(tbl, bf, 1023, cfg)

	s := c.slots[0]
	c.dispatch(0, s, 0)
	s.State.Store(int32(worker.Compressing))

	for i := 0; i < cfg.WorkerTickBudget-1; i++ {
		if _, err := c.poll(); err != nil {
			t.Fatalf("poll: %v", err)
		}
		if got := worker.SorterInstruction(s.Instruction.Load()); got != worker.Run {
			t.Fatalf("after %d polls, instruction = %v, want Run (budget not yet exhausted)", i+1, got)
		}
	}

	if _, err := c.poll(); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got := worker.SorterInstruction(s.Instruction.Load()); got != worker.ForceStop {
		t.Fatalf("after budget exhausted, instruction = %v, want ForceStop", got)
	}
}

// §8 invariant 5: across a live search, bestSuccess only ever moves
// toward a lower N and lowestFailure only ever moves toward a higher
// N — the reverse of a literal reading of §4.6's prose, per the bound
// direction resolved in New's doc comment and DESIGN.md. Rather than
// peek at the coordinator's bounds from outside its own goroutine
// (which would race with handleOutcome), this drives a real randomized
// search to completion and then walks the trace handleOutcome leaves
// behind, each record's BestSuccess/LowestFailure already a snapshot
// taken on the single goroutine that owns those fields.
func TestCoordinatorBoundsConvergeMonotonically(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for iter := 0; iter < 200; iter++ {
		nEntries := 1 + rng.Intn(8)
		tbl := rtable.New(nEntries)
		for i := 0; i < nEntries; i++ {
			tbl.Append(rtable.Entry{
				KeyMask: keymask.New(uint32(i), 0xFF),
				Route:   rtable.Route(1 + rng.Intn(3)),
				Source:  rtable.Source(rng.Intn(1 << uint(nEntries))),
			})
		}

		nFilters := rng.Intn(nEntries + 1)
		filters := make([]*bitfield.Filter, nFilters)
		for i := range filters {
			filters[i] = bitfield.NewFilter(uint32(i), uint32(rng.Intn(nEntries)), 4)
		}
		bf := &bitfield.SortedBitFields{Filters: filters}
		bf.Sort()

		capacity := 1 + rng.Intn(nEntries)
		c := New(tbl, bf, capacity, fastConfig(1+rng.Intn(3)))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := c.Run(ctx)
		cancel()
		if err != nil {
			// A BaselineFailedError is a legitimate outcome for a
			// randomly generated scenario (capacity unreachable at any
			// N); the bound trail recorded on the way there is still
			// subject to the same monotonicity requirement.
			if _, ok := err.(*BaselineFailedError); !ok {
				t.Fatalf("iter %d: Run returned unexpected error: %v", iter, err)
			}
		}

		var prevBest, prevFail int64 = int64(nEntries + 1), -1
		for i, rec := range c.trace.records {
			if rec.BestSuccess > prevBest {
				t.Fatalf("iter %d: record %d: BestSuccess = %d, want <= previous %d", iter, i, rec.BestSuccess, prevBest)
			}
			if rec.LowestFailure < prevFail {
				t.Fatalf("iter %d: record %d: LowestFailure = %d, want >= previous %d", iter, i, rec.LowestFailure, prevFail)
			}
			prevBest, prevFail = rec.BestSuccess, rec.LowestFailure
		}
	}
}
