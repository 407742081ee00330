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

import "github.com/neurofabric/routecompress/ints"

// nextMidpoint implements §4.6's next-midpoint selection: among the
// untested indices strictly between lo (the highest known failure)
// and hi (the lowest known success), find the longest maximal run and
// return its inclusive end minus half its length: the middle of an
// odd-length run, the lower of the two middle points of an even-length
// one. Among equal-length runs the highest one is chosen. ok is false
// once the interval (lo, hi) is fully tested.
func nextMidpoint(tested []uint64, lo, hi int) (mid int, ok bool) {
	var gaps ints.Intervals
	start := -1
	for i := lo + 1; i < hi; i++ {
		if !ints.TestBit(tested, i) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			gaps = append(gaps, ints.Interval{Start: start, End: i})
			start = -1
		}
	}
	if start >= 0 {
		gaps = append(gaps, ints.Interval{Start: start, End: hi})
	}
	if len(gaps) == 0 {
		return 0, false
	}

	best := gaps[0]
	for _, g := range gaps[1:] {
		// ">=" rather than ">": among equal-length gaps the later one
		// (gaps is built in ascending order) wins the tie-break.
		if g.Len() >= best.Len() {
			best = g
		}
	}
	return best.End - 1 - best.Len()/2, true
}
