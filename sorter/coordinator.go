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

// Package sorter implements the coordinator side of the protocol: the
// parallel binary search over how many bit-fields to fold into the
// candidate table (§4.6), worker lifecycle management, and
// finalisation.
package sorter

import (
	"context"
	"log"
	"time"

	"github.com/neurofabric/routecompress/arena"
	"github.com/neurofabric/routecompress/bitfield"
	"github.com/neurofabric/routecompress/internal/atomicext"
	"github.com/neurofabric/routecompress/ints"
	"github.com/neurofabric/routecompress/minimiser"
	"github.com/neurofabric/routecompress/rtable"
	"github.com/neurofabric/routecompress/worker"
)

// DefaultMallocThrottleResetAfter is the default for
// Config.MallocThrottleResetAfter: how many *distinct* midpoints must
// fail with FailedMalloc before the coordinator resets its malloc
// throttle, forgetting every per-midpoint failure count and reopening
// the midpoint that triggered the reset. A malloc failure never
// retires the worker that reported it; its slot is prepared again and
// reused. Per §9's preserved Open Question the heuristic's optimality
// is unclear upstream, so it is exposed as a tunable rather than
// re-derived.
const DefaultMallocThrottleResetAfter = 3

// DefaultWorkerTickBudget is how many coordinator poll ticks a slot
// may spend Compressing, by default, before it is treated as stuck.
// Chosen generously: at the default PollInterval this is several
// seconds of real time, well past anything a correctly functioning
// minimiser run takes on the table sizes this package targets, so it
// only ever fires against a genuinely wedged worker.
const DefaultWorkerTickBudget = 20000

// Config parameterises a search.
type Config struct {
	Workers                  int
	MallocThrottleResetAfter int
	CompressOnlyWhenNeeded   bool
	CompressAsMuchAsPossible bool
	BootstrapPollAttempts    int
	BootstrapPollInterval    time.Duration
	PollInterval             time.Duration
	InjectMalloc             worker.InjectMalloc
	Logger                   *log.Logger

	// WorkerTickBudget is the "implicit maximum work budget" §5
	// requires be enforced on each worker "via ForceStop driven by
	// its own tick counter": the number of Coordinator.poll calls a
	// slot may spend in Compressing before the coordinator force-
	// stops it with worker.FailedTimeout. It counts the coordinator's
	// own loop iterations, not wall-clock time — §5 is explicit that
	// there is no wall-clock timeout inside the minimiser itself; the
	// bound is imposed from outside, by the coordinator's own tick
	// counter, exactly as specified.
	WorkerTickBudget int

	// Mem backs every candidate table the search builds, per §6 input
	// 3's "usable SDRAM blocks". A nil Mem (the common case in tests,
	// and for any caller not sharing a pre-reserved region across
	// searches) makes New reserve a private arena sized for this
	// search's own Workers; a caller driving many searches against the
	// same hardware region instead reserves one Arena at start-up and
	// passes it to every Config.
	Mem *arena.Arena
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.MallocThrottleResetAfter <= 0 {
		c.MallocThrottleResetAfter = DefaultMallocThrottleResetAfter
	}
	if c.BootstrapPollAttempts <= 0 {
		c.BootstrapPollAttempts = 20
	}
	if c.BootstrapPollInterval <= 0 {
		c.BootstrapPollInterval = 50 * time.Microsecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Microsecond
	}
	if c.WorkerTickBudget <= 0 {
		c.WorkerTickBudget = DefaultWorkerTickBudget
	}
	if c.Logger == nil {
		c.Logger = log.New(log.Writer(), "sorter: ", log.LstdFlags)
	}
	return c
}

// Coordinator drives a pool of workers through the search described
// in §4.6.
type Coordinator struct {
	uncompressed *rtable.Table
	bitFields    *bitfield.SortedBitFields
	capacity     int
	cfg          Config

	slots []*worker.Slot

	tested []uint64
	// bestSuccess and lowestFailure are updated through atomicext's
	// lock-free min/max helpers (see handleOutcome) rather than a
	// plain compare-then-assign, so the bound-tracking survives a
	// future move of handleOutcome off the single poll-loop goroutine
	// without needing a separate mutex.
	bestSuccess   int64
	lowestFailure int64
	bestTable     *rtable.Table

	// mem backs every candidate table (see Config.Mem). pagesPerTable
	// is how many pages one candidate needs, sized once up front
	// because bitfield.MaxSize's bound does not depend on the
	// midpoint. slotBuf tracks which arena buffer (if any) currently
	// backs each slot's working table, so dispatch can return it to
	// mem before handing the slot a fresh one; bestBuf is the buffer
	// backing bestTable, held onto for as long as bestTable is, since
	// it is not a slot's to reclaim once adopted.
	mem           *arena.Arena
	pagesPerTable int
	slotBuf       [][]byte
	bestBuf       []byte

	mallocFailsAt    map[int]int
	distinctMallocAt map[int]bool

	// ticks counts, per slot, how many consecutive poll calls have
	// observed that slot still Compressing since its last dispatch —
	// the coordinator's own tick counter backing Config.WorkerTickBudget
	// (§5). Reset to 0 whenever dispatch hands the slot fresh work.
	ticks []int

	trace *Trace
}

// New constructs a Coordinator. bitFields must already be sorted (see
// SortedBitFields.Sort).
//
// Bound directions: §4.3's generator can only ever drop more entries
// as N grows (the active filter set only grows), so a candidate
// table's size is non-increasing in N. Feasibility is therefore
// upward-closed in N — if N succeeds, every N' > N also succeeds —
// and §8 scenario (f) (best_success must land on the *minimal*
// feasible N, discarding larger feasible candidates found alongside
// it) only holds together if bestSuccess tracks the lowest known-good
// N and lowestFailure tracks the highest known-bad N, the reverse of
// a literal reading of §4.6's prose. See DESIGN.md for the writeup.
func New(uncompressed *rtable.Table, bitFields *bitfield.SortedBitFields, capacity int, cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	m := bitFields.Len()
	slots := make([]*worker.Slot, cfg.Workers)
	for i := range slots {
		slots[i] = worker.NewSlot()
	}

	// bitfield.MaxSize's bound is the same for every midpoint (the
	// generator only ever drops entries), so one page count covers
	// every candidate this search will ever build. cfg.Workers+1
	// covers one live table per slot plus the one sequential
	// candidate refine walks ahead with.
	maxBytes := bitfield.MaxSize(uncompressed, 0) * rtable.EntrySize
	pagesPerTable := int(ints.Max(ints.ChunkCount(uint(maxBytes), uint(arena.PageSize)), 1))
	mem := cfg.Mem
	if mem == nil {
		mem = arena.New(pagesPerTable * arena.PageSize * (cfg.Workers + 1))
	}

	return &Coordinator{
		uncompressed:     uncompressed,
		bitFields:        bitFields,
		capacity:         capacity,
		cfg:              cfg,
		slots:            slots,
		tested:           make([]uint64, (m+1+63)/64+1),
		bestSuccess:      int64(m + 1), // sentinel: no success found yet
		lowestFailure:    -1,           // sentinel: no failure found yet
		mem:              mem,
		pagesPerTable:    pagesPerTable,
		slotBuf:          make([][]byte, cfg.Workers),
		mallocFailsAt:    make(map[int]int),
		distinctMallocAt: make(map[int]bool),
		ticks:            make([]int, cfg.Workers),
		trace:            NewTrace(),
	}
}

// Run executes the search to completion, installing no hardware state
// itself — the caller (typically package router) takes the returned
// Result's Table and installs it.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, s := range c.slots {
		w := &worker.Worker{Slot: s, InjectMalloc: c.cfg.InjectMalloc}
		go w.Run(childCtx)
	}

	m := c.bitFields.Len()

	if c.cfg.CompressOnlyWhenNeeded && c.uncompressed.NEntries() <= c.capacity {
		c.cfg.Logger.Printf("uncompressed table already fits capacity; skipping search")
		return &Result{
			BestSuccess:        0,
			Table:              c.uncompressed.Clone(),
			NMergedFilters:     map[uint32]int{},
			NRedundancyFilters: map[uint32]int{},
			ExitStatus:         ExitedCleanly,
			Trace:              c.trace,
		}, nil
	}

	if err := c.bootstrap(); err != nil {
		return nil, err
	}

	if err := c.seed(m); err != nil {
		return nil, err
	}

	for {
		progressed, err := c.poll()
		if err != nil {
			return nil, err
		}
		if c.searchDone() {
			break
		}
		if !progressed {
			time.Sleep(c.cfg.PollInterval)
		}
	}

	if c.bestSuccess > int64(m) {
		// Every midpoint in range failed, including N=M (the most
		// bit-fields available): no amount of filtering fits this
		// table in capacity. Per §7 this is fatal — the chip cannot
		// route at all.
		return nil, &BaselineFailedError{Detail: "no midpoint compressed the table to fit capacity"}
	}

	if c.cfg.CompressAsMuchAsPossible {
		c.refine(m)
	}

	return c.finalize(), nil
}

// refine implements the supplemented compress_as_much_as_possible
// behaviour: the parallel search above stops as soon as it converges
// on the lowest feasible N, but feasibility at a higher N (every N' >
// bestSuccess also fits, per the upward-closed direction established
// in New) doesn't mean a higher N produces a *larger* installed
// table — a different, larger set of applied bit-fields can still
// drop more redundant entries overall. refine walks every midpoint
// above bestSuccess sequentially, off the parallel
// search's own worker pool, and adopts any candidate whose minimised
// table is strictly smaller than the best one found so far, updating
// both the reported BestSuccess and the installed table together so
// the two always describe the same run.
func (c *Coordinator) refine(m int) {
	bestEntries := c.bestTable.NEntries()
	// refine runs sequentially off the worker pool, so a single
	// reserved buffer — sized into pagesPerTable's cfg.Workers+1
	// headroom in New — covers every candidate it builds; buf is
	// handed back to the arena immediately when a candidate isn't
	// adopted, or folded into bestBuf when one is.
	var buf []byte
	defer func() {
		if buf != nil {
			c.mem.Free(buf)
		}
	}()

	for n := int(c.bestSuccess) + 1; n <= m; n++ {
		var candidate *rtable.Table
		if buf == nil {
			if b, ok := c.mem.Alloc(c.pagesPerTable); ok {
				buf = b
			}
		}
		if buf != nil {
			candidate = bitfield.GenerateTableInto(c.uncompressed, c.bitFields, n, rtable.FromBuffer(buf))
		} else {
			candidate = bitfield.GenerateTable(c.uncompressed, c.bitFields, n)
		}
		outcome, err := minimiser.Minimise(candidate, c.capacity, nil)
		if err != nil {
			panic("sorter: minimiser returned an unexpected error: " + err.Error())
		}
		if outcome != minimiser.Successful {
			continue
		}
		if candidate.NEntries() < bestEntries {
			bestEntries = candidate.NEntries()
			c.bestTable = candidate
			// A deliberate override, not a bound update: refine already
			// knows n is feasible and strictly better by entry count, so
			// it replaces bestSuccess outright rather than going through
			// the atomicext min/max helpers handleOutcome uses, which
			// would refuse to move bestSuccess to a larger N.
			c.bestSuccess = int64(n)

			if c.bestBuf != nil {
				c.mem.Free(c.bestBuf)
			}
			c.bestBuf = buf
			buf = nil
		}
	}
}

// bootstrap issues Prepare to every slot and waits for each to ack,
// per §4.6's bootstrap race: workers may not have started yet, so the
// coordinator polls with bounded retries and retires any slot that
// never answers rather than blocking forever.
func (c *Coordinator) bootstrap() error {
	for _, s := range c.slots {
		s.SetInstruction(worker.Prepare)
	}
	for _, s := range c.slots {
		ok := false
		for i := 0; i < c.cfg.BootstrapPollAttempts; i++ {
			if s.StatePublic() == worker.Prepared {
				ok = true
				break
			}
			time.Sleep(c.cfg.BootstrapPollInterval)
		}
		if !ok {
			s.SetInstruction(worker.DoNotUse)
		}
	}
	if c.usableSlots() == 0 {
		return &BaselineFailedError{Detail: "no worker became responsive during bootstrap"}
	}
	return nil
}

func (c *Coordinator) usableSlots() int {
	n := 0
	for _, s := range c.slots {
		if worker.SorterInstruction(s.Instruction.Load()) != worker.DoNotUse {
			n++
		}
	}
	return n
}

// seed dispatches the baseline (midpoint 0) and, on remaining slots,
// midpoints spaced by m/Workers down from m, per §4.6.
func (c *Coordinator) seed(m int) error {
	baselineDispatched := false
	step := m / c.cfg.Workers
	if step < 1 {
		step = 1
	}
	next := m
	for i, s := range c.slots {
		if s.StatePublic() != worker.Prepared {
			continue
		}
		mid := 0
		if baselineDispatched {
			if next < 1 || ints.TestBit(c.tested, next) {
				continue
			}
			mid = next
			next -= step
		}
		c.dispatch(i, s, mid)
		if mid == 0 {
			baselineDispatched = true
		}
	}
	if !baselineDispatched {
		return &BaselineFailedError{Detail: "no slot available to run the baseline attempt"}
	}
	return nil
}

// dispatch builds slot idx's working table for midpoint mid. Working
// memory comes from c.mem, per §6 input 3: any buffer this slot held
// from a previous attempt is returned first (unless handleOutcome
// already claimed it into bestBuf), and the arena's refusal to hand
// out a page — exhausted only if every slot plus the refine pass is
// concurrently live, which pagesPerTable's sizing in New should
// prevent — falls back to a heap-allocated table rather than wedging
// the search.
func (c *Coordinator) dispatch(idx int, s *worker.Slot, mid int) {
	if c.slotBuf[idx] != nil {
		c.mem.Free(c.slotBuf[idx])
		c.slotBuf[idx] = nil
	}
	if buf, ok := c.mem.Alloc(c.pagesPerTable); ok {
		c.slotBuf[idx] = buf
		s.Table = bitfield.GenerateTableInto(c.uncompressed, c.bitFields, mid, rtable.FromBuffer(buf))
	} else {
		s.Table = bitfield.GenerateTable(c.uncompressed, c.bitFields, mid)
	}
	s.Capacity = c.capacity
	s.MidPoint = mid
	c.ticks[idx] = 0
	ints.SetBit(c.tested, mid)
	s.SetInstruction(worker.Run)
}

// poll inspects every slot once, processing any terminal outcome and
// dispatching fresh work where possible. It reports whether any slot
// actually changed state this round (so Run can avoid busy-waiting).
func (c *Coordinator) poll() (progressed bool, err error) {
	for i, s := range c.slots {
		state := s.StatePublic()
		if state == worker.Compressing {
			// §5's tick-driven work budget: a slot still Compressing
			// after WorkerTickBudget consecutive polls since its last
			// dispatch is force-stopped with FailedTimeout, but only
			// if it hasn't already been told to stop for a bound
			// reason (handleOutcome's own ForceStop calls) — a slot
			// already dominated by a better bound is ForcedStop, not
			// FailedTimeout, regardless of how long it then takes to
			// notice.
			c.ticks[i]++
			if c.ticks[i] >= c.cfg.WorkerTickBudget && worker.SorterInstruction(s.Instruction.Load()) == worker.Run {
				s.ForceStop(worker.FailedTimeout)
			}
			continue
		}
		if !state.Terminal() {
			continue
		}
		progressed = true
		if err := c.handleOutcome(i, s, state); err != nil {
			return true, err
		}

		s.Reset()
		s.SetInstruction(worker.Prepare)
		for attempt := 0; attempt < c.cfg.BootstrapPollAttempts; attempt++ {
			if s.StatePublic() == worker.Prepared {
				break
			}
			time.Sleep(c.cfg.BootstrapPollInterval)
		}
		if s.StatePublic() != worker.Prepared {
			s.SetInstruction(worker.DoNotUse)
			continue
		}

		if mid, ok := nextMidpoint(c.tested, int(c.lowestFailure), int(c.bestSuccess)); ok {
			c.dispatch(i, s, mid)
		}
	}
	return progressed, nil
}

// handleOutcome folds one slot's terminal outcome into the search's
// bounds and returns any fatal error. The trace record for this
// attempt is always written at the very end, after the bound update
// below has been applied — never at entry — so a recorded
// BestSuccess/LowestFailure pair reflects this attempt's own
// contribution to the bounds rather than their value just before it,
// which is what lets a trace read back after a run double as a
// chronological record of bound convergence (§8 invariant 5).
func (c *Coordinator) handleOutcome(slotIdx int, s *worker.Slot, state worker.CompressorState) error {
	mid := s.MidPoint

	switch state {
	case worker.Successful:
		// Fewer bit-fields folded in is strictly preferable (less
		// filter-application cost for the same routing semantics), so
		// the search wants the *lowest* N that fits, not the highest
		// reachable one — see the New doc comment. The bound itself is
		// updated through atomicext.MinInt64 rather than a plain
		// compare-then-assign: it is a lock-free CAS loop, so
		// handleOutcome's own call site doesn't need to be the only
		// writer for the update to stay race-free.
		atomicext.MinInt64(&c.bestSuccess, int64(mid))
		if c.bestSuccess == int64(mid) {
			// Per §5/§9: a late Successful — even one that arrives
			// for a midpoint the search has already moved past — is
			// still adopted if it is our best result so far. It is
			// never discarded merely because ForceStop was in flight.
			c.bestTable = s.Table
			// s.Table's backing memory, if it came from the arena,
			// moves from this slot's ownership to bestBuf: dispatch
			// must not Free it out from under bestTable the next time
			// this slot is reused, and whatever bestBuf held before is
			// no longer the best table and can be reclaimed now.
			if c.bestBuf != nil {
				c.mem.Free(c.bestBuf)
			}
			c.bestBuf = c.slotBuf[slotIdx]
			c.slotBuf[slotIdx] = nil
			for _, other := range c.slots {
				if other != s && other.StatePublic() == worker.Compressing && other.MidPoint > mid {
					other.ForceStop(worker.ForcedStop)
				}
			}
		}

	case worker.FailedNoMerges, worker.FailedTimeout:
		// A failure at mid==0 is not immediately fatal: scenario (e)
		// (an over-capacity table that only fits once bit-fields are
		// folded in) fails the baseline by construction and still
		// succeeds at a higher N. The search only gives up once every
		// midpoint in range is accounted for with no success anywhere
		// (see the bestSuccess > m check in Run). Failure is
		// downward-closed in N (smaller N has an equal-or-larger
		// candidate table), so a failure here dominates every smaller
		// midpoint still in flight. lowestFailure is updated through
		// atomicext.MaxInt64 for the same reason bestSuccess uses
		// MinInt64 above.
		atomicext.MaxInt64(&c.lowestFailure, int64(mid))
		if c.lowestFailure == int64(mid) {
			for _, other := range c.slots {
				if other != s && other.StatePublic() == worker.Compressing && other.MidPoint < mid {
					other.ForceStop(worker.ForcedStop)
				}
			}
		}

	case worker.FailedMalloc:
		if mid == 0 {
			// N=0 is always retried rather than treated as a hard
			// baseline failure — a malloc failure is a resource
			// transient, not proof the chip cannot route.
			ints.ClearBit(c.tested, mid)
			break
		}
		c.mallocFailsAt[mid]++
		reset := false
		if !c.distinctMallocAt[mid] {
			c.distinctMallocAt[mid] = true
			if len(c.distinctMallocAt) >= c.cfg.MallocThrottleResetAfter {
				// Preserved heuristic (§9 Open Question): once enough
				// distinct midpoints (three by default) have hit malloc
				// failure, the throttle resets: both failure maps are
				// cleared and this midpoint is reopened for retry.
				c.distinctMallocAt = make(map[int]bool)
				c.mallocFailsAt = make(map[int]int)
				ints.ClearBit(c.tested, mid)
				reset = true
			}
		}
		if !reset && c.mallocFailsAt[mid] < 2 {
			ints.ClearBit(c.tested, mid)
		}

	case worker.ForcedStop:
		ints.ClearBit(c.tested, mid)

	default:
		c.trace.record(attemptRecord{
			MidPoint:      mid,
			Slot:          slotIdx,
			Outcome:       state,
			BestSuccess:   c.bestSuccess,
			LowestFailure: c.lowestFailure,
		})
		return &InternalInvariantViolatedError{Detail: "unexpected terminal state " + state.String()}
	}

	c.trace.record(attemptRecord{
		MidPoint:      mid,
		Slot:          slotIdx,
		Outcome:       state,
		BestSuccess:   c.bestSuccess,
		LowestFailure: c.lowestFailure,
	})
	return nil
}

// searchDone reports whether no slot is still compressing and no
// further midpoint can be dispatched.
func (c *Coordinator) searchDone() bool {
	for _, s := range c.slots {
		if s.StatePublic() == worker.Compressing {
			return false
		}
	}
	if _, ok := nextMidpoint(c.tested, int(c.lowestFailure), int(c.bestSuccess)); ok {
		return false
	}
	return true
}

func (c *Coordinator) finalize() *Result {
	for _, s := range c.slots {
		s.SetInstruction(worker.DoNotUse)
	}

	// Any slot still holding an arena buffer from its last attempt
	// wasn't the one adopted into bestTable (adoption always clears
	// slotBuf, see handleOutcome), so every remaining one is returned
	// here rather than left allocated for the lifetime of a
	// caller-shared Config.Mem.
	for i, buf := range c.slotBuf {
		if buf != nil {
			c.mem.Free(buf)
			c.slotBuf[i] = nil
		}
	}

	merged := make(map[uint32]int)
	redundant := make(map[uint32]int)
	for i, f := range c.bitFields.Filters {
		if int64(i) < c.bestSuccess {
			merged[f.ProcessorID]++
		}
		if f.Redundant() {
			redundant[f.ProcessorID]++
		}
	}

	table := c.bestTable
	if table == nil {
		table = c.uncompressed.Clone()
	}

	return &Result{
		BestSuccess:        int(c.bestSuccess),
		Table:              table,
		NMergedFilters:     merged,
		NRedundancyFilters: redundant,
		ExitStatus:         ExitedCleanly,
		Trace:              c.trace,
	}
}
