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

import "sort"

// SortedBitFields holds every bit-field discovered on a chip, ordered
// by merge priority: Filters[i] has sort order i, lower merged first.
// This is the parallel-arrays structure §3 describes, collapsed to a
// single ordered slice since ProcessorID already lives on Filter.
type SortedBitFields struct {
	Filters []*Filter
}

// benefit estimates a filter's value as a merge candidate: redundancy
// (inverse live fraction) weighted by how many atoms it covers, so a
// filter that drops more traffic for more keys is merged in earlier.
// This mirrors the original's redundancy x frequency heuristic named
// in §3's SortedBitFields description.
func benefit(f *Filter) float64 {
	if f.NAtoms == 0 {
		return 0
	}
	dead := f.NAtoms - f.PopCount()
	return float64(dead) * float64(f.NAtoms)
}

// Sort orders Filters descending by estimated benefit (highest payoff
// first), assigning sort order by position.
func (s *SortedBitFields) Sort() {
	sort.SliceStable(s.Filters, func(i, j int) bool {
		return benefit(s.Filters[i]) > benefit(s.Filters[j])
	})
}

// Len returns the total number of bit-fields.
func (s *SortedBitFields) Len() int {
	return len(s.Filters)
}
