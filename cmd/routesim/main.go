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

// Command routesim stands in for the real toolchain described in §6:
// it loads a YAML scenario describing the three opaque input regions,
// builds a routecompress.Context from it, and runs the search and
// install exactly as a real host would, printing the §6 host-facing
// outputs (exit status, best_success, per-core filter regions,
// checksum) to stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/neurofabric/routecompress"
	"github.com/neurofabric/routecompress/hostio"
	"github.com/neurofabric/routecompress/router"
	"github.com/neurofabric/routecompress/sorter"
)

var (
	scenarioPath string
	workers      int
	timeout      time.Duration
	verbose      bool
)

func init() {
	flag.StringVar(&scenarioPath, "scenario", "", "path to a YAML or JSON scenario document (required)")
	flag.IntVar(&workers, "workers", 0, "override the scenario's worker count (0 uses the scenario's own value)")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "maximum wall-clock time for the search")
	flag.BoolVar(&verbose, "v", false, "log every dispatched attempt, not just the final result")
}

func exitf(f string, args ...any) {
	fmt.Fprintf(os.Stderr, f, args...)
	os.Exit(1)
}

func main() {
	flag.Parse()
	if scenarioPath == "" {
		exitf("routesim: -scenario is required\n")
	}

	scenario, err := hostio.Load(scenarioPath)
	if err != nil {
		exitf("routesim: %s\n", err)
	}

	cfg := sorter.Config{
		Workers:                  scenario.Workers,
		CompressOnlyWhenNeeded:   scenario.CompressOnlyWhenNeeded,
		CompressAsMuchAsPossible: scenario.CompressAsMuchAsPossible,
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	if verbose {
		cfg.Logger = log.New(os.Stderr, "routesim: ", log.LstdFlags|log.Lmicroseconds)
	}
	if scenario.MallocFailureDenominator > 0 {
		cfg.InjectMalloc = fixedRateMallocFailure(scenario.MallocFailureDenominator)
	}

	rc := &routecompress.Context{
		Table:     scenario.Table(),
		BitFields: scenario.BitFields(),
		Capacity:  scenario.Capacity,
		AppID:     scenario.AppID,
		Config:    cfg,
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := rc.Run(ctx)
	if err != nil {
		status := exitStatusFor(err)
		fmt.Printf("exit_status: %s\nerror: %s\n", status, err)
		os.Exit(1)
	}

	fmt.Printf("exit_status: %s\n", out.Search.ExitStatus)
	fmt.Printf("best_success: %d\n", out.Search.BestSuccess)
	fmt.Printf("installed_entries: %d\n", out.Router.Installed())
	fmt.Printf("checksum: %x\n", out.Checksum)
	for _, fr := range scenario.FilterRegions(out.Search) {
		fmt.Printf("core %d: n_filters=%d n_redundancy_filters=%d n_merged_filters=%d\n",
			fr.ProcessorID, fr.NFilters, fr.NRedundancyFilters, fr.NMergedFilters)
	}
}

// exitStatusFor maps a failure from Context.Run onto the §7 exit
// status a real host would read out of the status register.
func exitStatusFor(err error) sorter.ExitStatus {
	var baseErr *sorter.BaselineFailedError
	var invErr *sorter.InternalInvariantViolatedError
	var allocErr *router.RouterAllocFailed
	switch {
	case errors.As(err, &baseErr):
		return sorter.ExitFail
	case errors.As(err, &invErr):
		return sorter.SWErr
	case errors.As(err, &allocErr):
		return sorter.ExitFail
	default:
		return sorter.SWErr
	}
}

// fixedRateMallocFailure injects a spurious FailedMalloc on 1-in-n
// attempts, deterministically by attempt count rather than real
// randomness, matching how the coordinator's own tests exercise the
// retry path (see sorter.TestCoordinatorParallelSearchConvergence).
func fixedRateMallocFailure(n int) func(mid int) bool {
	var count int
	return func(mid int) bool {
		count++
		return count%n == 0
	}
}
