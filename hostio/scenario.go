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

// Package hostio is the host-side stand-in for §6's three opaque
// memory regions: a YAML scenario format the test harness
// (cmd/routesim) loads in place of a real data-specification blob,
// bit-field region metadata, and SDRAM block list, plus the
// corresponding wire-format structs a real toolchain would place in
// memory for the coordinator to read.
package hostio

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/neurofabric/routecompress/bitfield"
	"github.com/neurofabric/routecompress/keymask"
	"github.com/neurofabric/routecompress/rtable"
	"github.com/neurofabric/routecompress/sorter"
)

// EntryDoc is one routing-table entry as it appears in a scenario
// document: the plain (key, mask, route, source) wire tuple from §6
// input 1, before being parsed into a keymask.KeyMask.
type EntryDoc struct {
	Key    uint32 `json:"key"`
	Mask   uint32 `json:"mask"`
	Route  uint32 `json:"route"`
	Source uint32 `json:"source"`
}

// FilterDoc is one bit-field as it appears in a scenario document:
// the key it covers, how many atoms it spans, and which of those
// atoms are live. Atoms are listed sparsely (indices only) since most
// filters in practice are mostly zero.
type FilterDoc struct {
	ProcessorID uint32 `json:"processorId"`
	Key         uint32 `json:"key"`
	NAtoms      int    `json:"nAtoms"`
	LiveAtoms   []int  `json:"liveAtoms"`
}

// Scenario is one end-to-end test run: the §6 input 1 table, the
// sorted §6 input 2 bit-field list, the hardware capacity, and the
// worker/fault-injection parameters controlling the search — see
// SPEC_FULL.md's GLOSSARY ADDITIONS.
type Scenario struct {
	AppID                    uint32      `json:"appId"`
	CompressOnlyWhenNeeded   bool        `json:"compressOnlyWhenNeeded"`
	CompressAsMuchAsPossible bool        `json:"compressAsMuchAsPossible"`
	Capacity                 int         `json:"capacity"`
	Entries                  []EntryDoc  `json:"entries"`
	Filters                  []FilterDoc `json:"filters"`
	Workers                  int         `json:"workers"`
	// MallocFailureDenominator injects a spurious FailedMalloc on
	// 1-in-N attempts at every midpoint; 0 disables injection.
	MallocFailureDenominator int `json:"mallocFailureDenominator"`
}

// Load reads and parses a scenario document from path. YAML and JSON
// are both accepted (sigs.k8s.io/yaml decodes YAML by first
// converting it to JSON, so a plain JSON scenario file round-trips
// unchanged).
func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hostio: reading scenario %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("hostio: parsing scenario %s: %w", path, err)
	}
	return &s, nil
}

// Table builds the §3 routing table store the scenario describes.
func (s *Scenario) Table() *rtable.Table {
	t := rtable.New(len(s.Entries))
	for _, e := range s.Entries {
		t.Append(rtable.Entry{
			KeyMask: keymask.New(e.Key, e.Mask),
			Route:   rtable.Route(e.Route),
			Source:  rtable.Source(e.Source),
		})
	}
	return t
}

// BitFields builds the §3 SortedBitFields list the scenario
// describes, already in document order (a scenario author is
// expected to list filters in the priority order they want §4.3's
// midpoint to apply them in; Sort re-derives that order from
// estimated benefit if a caller wants the derived ordering instead).
func (s *Scenario) BitFields() *bitfield.SortedBitFields {
	filters := make([]*bitfield.Filter, len(s.Filters))
	for i, fd := range s.Filters {
		f := bitfield.NewFilter(fd.ProcessorID, fd.Key, fd.NAtoms)
		for _, atom := range fd.LiveAtoms {
			f.SetLive(atom)
		}
		filters[i] = f
	}
	return &bitfield.SortedBitFields{Filters: filters}
}

// Fingerprint returns a short deterministic hash identifying this
// scenario's shape (uncompressed table size and bit-field count), so
// the harness can log whether successive runs loaded the same
// scenario without re-hashing the whole table each time.
func (s *Scenario) Fingerprint() uint64 {
	return sorter.Fingerprint(len(s.Entries)*16, len(s.Filters))
}
