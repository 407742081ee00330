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

// Package minimiser implements the pair-merge-by-route compression
// algorithm a single compressor worker runs against one candidate
// table. Given a table and a target capacity it repeatedly merges
// pairs of entries that share a route, widening their KeyMask's
// wildcard bits, until the table fits within capacity or no further
// merge is legal.
//
// The algorithm runs in three phases: group entries by route
// (ascending by how many entries share that route, so the cheapest
// groups are compacted first), then greedily merge within each group,
// then shrink the table to the entries that remain. Phase boundaries
// are cooperative cancellation points: a caller that closes cancel
// gets control back at the next boundary rather than mid-merge.
package minimiser

import (
	"github.com/neurofabric/routecompress/keymask"
	"github.com/neurofabric/routecompress/rtable"
)

// MaxRoutes bounds the number of distinct routes Minimise will track
// in a single table. A table using more routes than this cannot be
// minimised by this implementation and is reported as FailedNoMerges;
// this mirrors the fixed-size route histogram the algorithm was
// originally written against.
const MaxRoutes = 1023

// Minimise compresses t in place so that it uses at most capacity
// entries, or reports why it could not. t is mutated regardless of
// the outcome: on Successful it holds exactly the compressed result;
// on any other outcome its contents should be discarded by the
// caller, not reused.
func Minimise(t *rtable.Table, capacity int, cancel <-chan struct{}) (Outcome, error) {
	routes, counts, ok := routeHistogram(t)
	if !ok {
		return FailedNoMerges, nil
	}
	insertionSortByFrequency(routes, counts)

	if cancelled(cancel) {
		return Cancelled, nil
	}

	groupStart := groupTableByRoute(t, routes, counts)

	if cancelled(cancel) {
		return Cancelled, nil
	}

	return mergeGroups(t, groupStart, capacity, cancel)
}

// routeHistogram returns the distinct routes used by t in first-seen
// order together with their entry counts. ok is false if t uses more
// than MaxRoutes distinct routes.
func routeHistogram(t *rtable.Table) (routes []rtable.Route, counts map[rtable.Route]int, ok bool) {
	counts = make(map[rtable.Route]int)
	n := t.NEntries()
	for i := 0; i < n; i++ {
		r := t.Get(i).Route
		if _, seen := counts[r]; !seen {
			if len(routes) == MaxRoutes {
				return nil, nil, false
			}
			routes = append(routes, r)
		}
		counts[r]++
	}
	return routes, counts, true
}

// insertionSortByFrequency stably sorts routes ascending by
// counts[route]. The table is small enough (at most MaxRoutes
// entries) that an insertion sort is simpler and no slower in
// practice than a general-purpose sort.
func insertionSortByFrequency(routes []rtable.Route, counts map[rtable.Route]int) {
	for i := 1; i < len(routes); i++ {
		key := routes[i]
		keyCount := counts[key]
		j := i - 1
		for j >= 0 && counts[routes[j]] > keyCount {
			routes[j+1] = routes[j]
			j--
		}
		routes[j+1] = key
	}
}

// groupTableByRoute permutes t in place so that all entries sharing a
// route are contiguous, ordered by routes' position in the routes
// slice. It returns the start index of each route's group; a group's
// end is the next group's start, or t.NEntries() for the last group.
//
// The permutation is applied with a cycle-following pass: for each
// route we track a cursor, the next slot within that route's range
// still owed an entry (starting at the group's prefix-sum offset).
// Scanning positions left to right, an entry that already sits
// somewhere within its own route's range is left alone and the scan
// advances; otherwise the entry at the current position is swapped
// into its route's next owed slot, and whatever occupied that slot
// takes its place at the current position for re-examination. A
// route's cursor only ever advances when a swap is made on its
// behalf, and it can be made on a route's behalf at most as many
// times as that route has entries, so the whole pass performs at
// most n swaps using O(k) extra memory for the per-route cursors
// rather than an O(n) target array.
func groupTableByRoute(t *rtable.Table, routes []rtable.Route, counts map[rtable.Route]int) []int {
	rank := make(map[rtable.Route]int, len(routes))
	groupStart := make([]int, len(routes))
	groupEnd := make([]int, len(routes))
	offset := 0
	for i, r := range routes {
		rank[r] = i
		groupStart[i] = offset
		offset += counts[r]
		groupEnd[i] = offset
	}

	cursor := make([]int, len(groupStart))
	copy(cursor, groupStart)

	n := t.NEntries()
	pos := 0
	for pos < n {
		rk := rank[t.Get(pos).Route]
		if pos >= groupStart[rk] && pos < groupEnd[rk] {
			pos++
			continue
		}
		a, b := t.Get(pos), t.Get(cursor[rk])
		*a, *b = *b, *a
		cursor[rk]++
	}

	return groupStart
}

// mergeGroups greedily merges entries within each route group,
// shrinking the table to whatever remains. Groups are processed in
// the order given by groupStart (ascending frequency), and within a
// group the leftmost entry is repeatedly merged with the first later
// entry in the group whose merged KeyMask would not intersect any
// entry outside the group's current bounds — i.e. would not start
// matching keys that belong to a route this group hasn't accounted
// for. A merge that would alias another route's keys is illegal and
// skipped in favor of the next candidate.
func mergeGroups(t *rtable.Table, groupStart []int, capacity int, cancel <-chan struct{}) (Outcome, error) {
	n := t.NEntries()
	writeIndex := 0

	for g := range groupStart {
		if cancelled(cancel) {
			return Cancelled, nil
		}

		left := groupStart[g]
		right := n - 1
		if g+1 < len(groupStart) {
			right = groupStart[g+1] - 1
		}

		for left <= right {
			idx, candidate, found := findMerge(t, left, right, writeIndex, n)
			if found {
				e := *t.Get(left)
				e.KeyMask = candidate
				// Source is conservative on merge: claim only the
				// input links both merged entries agree were
				// sources, never a link only one of them saw.
				e.Source &= t.Get(idx).Source
				t.Put(left, e)
				t.Copy(idx, right)
				right--
				continue
			}

			if left != writeIndex {
				t.Copy(writeIndex, left)
			}
			writeIndex++
			if writeIndex > capacity {
				return FailedNoMerges, nil
			}
			left++
		}
	}

	t.RemoveTail(n - writeIndex)
	return Successful, nil
}

// findMerge scans [left+1, right] for the first entry whose merge
// with the entry at left would not intersect any entry the table
// still depends on outside the current group: the already-finalized
// prefix [0, writeIndex), which holds other routes' committed
// entries, and the suffix (right, n), which holds entries from route
// groups not yet compacted (their stale pre-compaction copies still
// occupy [writeIndex, groupStart[g]) but those slots are dead data,
// superseded by the committed prefix, so they are deliberately not
// checked). A candidate is also rejected if its merged KeyMask would
// intersect any other entry still in the group, [left+1, right] other
// than the partner itself, so same-route entries never overlap in the
// output either. It reports the index of the first legal partner and
// the resulting merged KeyMask, or found=false if no candidate in the
// group passes both checks.
func findMerge(t *rtable.Table, left, right, writeIndex, n int) (idx int, candidate keymask.KeyMask, found bool) {
	base := t.Get(left).KeyMask
	for i := left + 1; i <= right; i++ {
		m := keymask.Merge(base, t.Get(i).KeyMask)
		if aliasesOutsideGroup(t, m, writeIndex, right, n) {
			continue
		}
		overlaps := false
		for k := left + 1; k <= right && !overlaps; k++ {
			overlaps = k != i && keymask.Intersect(m, t.Get(k).KeyMask)
		}
		if !overlaps {
			return i, m, true
		}
	}
	return 0, keymask.KeyMask{}, false
}

func aliasesOutsideGroup(t *rtable.Table, m keymask.KeyMask, writeIndex, right, n int) bool {
	for k := 0; k < writeIndex; k++ {
		if keymask.Intersect(m, t.Get(k).KeyMask) {
			return true
		}
	}
	for k := right + 1; k < n; k++ {
		if keymask.Intersect(m, t.Get(k).KeyMask) {
			return true
		}
	}
	return false
}

func cancelled(cancel <-chan struct{}) bool {
	select {
	case <-cancel:
		return true
	default:
		return false
	}
}
