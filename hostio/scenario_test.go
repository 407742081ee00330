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

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/neurofabric/routecompress/sorter"
)

const scenarioYAML = `
appId: 7
capacity: 1
entries:
  - {key: 0, mask: 255, route: 1, source: 4}
  - {key: 16, mask: 255, route: 2, source: 0}
filters:
  - {processorId: 2, key: 0, nAtoms: 4, liveAtoms: []}
workers: 2
`

func TestLoadParsesScenario(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(path, []byte(scenarioYAML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.AppID != 7 || s.Capacity != 1 || s.Workers != 2 {
		t.Fatalf("parsed scenario = %+v, want AppID=7 Capacity=1 Workers=2", s)
	}
	if len(s.Entries) != 2 || len(s.Filters) != 1 {
		t.Fatalf("parsed scenario has %d entries, %d filters; want 2, 1", len(s.Entries), len(s.Filters))
	}

	tbl := s.Table()
	if tbl.NEntries() != 2 {
		t.Fatalf("Table().NEntries() = %d, want 2", tbl.NEntries())
	}

	bf := s.BitFields()
	if bf.Len() != 1 {
		t.Fatalf("BitFields().Len() = %d, want 1", bf.Len())
	}
	if bf.Filters[0].Redundant() != true {
		t.Fatal("filter with no live atoms should be Redundant")
	}
}

func TestFilterRegionsReflectResult(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(path, []byte(scenarioYAML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg := sorter.Config{
		Workers:               2,
		BootstrapPollAttempts: 200,
		BootstrapPollInterval: time.Microsecond,
		PollInterval:          time.Microsecond,
	}
	c := sorter.New(s.Table(), s.BitFields(), s.Capacity, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	regions := s.FilterRegions(res)
	if len(regions) != 1 {
		t.Fatalf("FilterRegions returned %d entries, want 1", len(regions))
	}
	if regions[0].ProcessorID != 2 {
		t.Fatalf("ProcessorID = %d, want 2", regions[0].ProcessorID)
	}
	if regions[0].NFilters != 1 {
		t.Fatalf("NFilters = %d, want 1", regions[0].NFilters)
	}
	if regions[0].NRedundancyFilters != 1 {
		t.Fatalf("NRedundancyFilters = %d, want 1 (the filter has no live atoms)", regions[0].NRedundancyFilters)
	}
	if regions[0].NMergedFilters != 1 {
		t.Fatalf("NMergedFilters = %d, want 1 (applying the filter is required to fit capacity 1)", regions[0].NMergedFilters)
	}
}
