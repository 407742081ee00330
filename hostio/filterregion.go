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

package hostio

import "github.com/neurofabric/routecompress/sorter"

// FilterRegion is the §6 per-source-core output format: `n_filters,
// n_redundancy_filters, n_merged_filters` followed by the filters
// themselves. n_redundancy_filters and n_merged_filters are outputs
// the coordinator computes at finalisation; FromResult fills them in
// per processor from a completed search's Result.
type FilterRegion struct {
	ProcessorID        uint32 `json:"processorId"`
	NFilters           int    `json:"nFilters"`
	NRedundancyFilters int    `json:"nRedundancyFilters"`
	NMergedFilters     int    `json:"nMergedFilters"`
}

// FilterRegions builds one FilterRegion per processor id named in
// the scenario's filter list, populated with the coordinator's
// finalisation counts from res.
func (s *Scenario) FilterRegions(res *sorter.Result) []FilterRegion {
	counts := make(map[uint32]int)
	for _, fd := range s.Filters {
		counts[fd.ProcessorID]++
	}

	ids := make([]uint32, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	// Deterministic output order regardless of map iteration.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}

	out := make([]FilterRegion, len(ids))
	for i, id := range ids {
		out[i] = FilterRegion{
			ProcessorID:        id,
			NFilters:           counts[id],
			NRedundancyFilters: res.NRedundancyFilters[id],
			NMergedFilters:     res.NMergedFilters[id],
		}
	}
	return out
}
