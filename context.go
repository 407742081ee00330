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

// Package routecompress is the entry point a toolchain (or
// cmd/routesim, standing in for one) calls once the three opaque
// input regions (§6) are in memory: it wires them into a Context and
// drives the search through to a router install.
//
// The original program threads its working state through
// hardware-defined global memory slots (SpiNNaker's per-core SDRAM
// regions). §9 asks for that state to be abstracted as a single,
// explicitly-passed value instead of ambient globals; Context is that
// value.
package routecompress

import (
	"context"
	"fmt"

	"github.com/neurofabric/routecompress/bitfield"
	"github.com/neurofabric/routecompress/router"
	"github.com/neurofabric/routecompress/rtable"
	"github.com/neurofabric/routecompress/sorter"
)

// Context bundles everything a single compression run needs: the
// uncompressed table and sorted bit-field list read from the two
// opaque input regions, the hardware capacity and app ID the install
// step targets, and the search's tuning knobs. Constructed once per
// run and passed by reference; nothing here is package-level mutable
// state.
type Context struct {
	Table     *rtable.Table
	BitFields *bitfield.SortedBitFields
	Capacity  int
	AppID     uint32
	Config    sorter.Config
}

// Outcome is what a completed run hands back: the search result that
// fed the install, the router it installed into, and that router's
// integrity checksum for host-side diagnostics.
type Outcome struct {
	Search   *sorter.Result
	Router   *router.Router
	Checksum [32]byte
}

// Run drives the full §4–§4.7 pipeline: search for the minimal N,
// then install the winning table into a freshly allocated Router of
// c.Capacity entries.
//
// A BaselineFailedError or InternalInvariantViolatedError from the
// search, or a RouterAllocFailed from install, stay reachable via
// errors.As through the wrapping below, so callers can distinguish
// the ExitMalloc/ExitFail/SWErr conditions §7 expects a host to tell
// apart.
func (c *Context) Run(ctx context.Context) (*Outcome, error) {
	coord := sorter.New(c.Table, c.BitFields, c.Capacity, c.Config)
	res, err := coord.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("routecompress: search: %w", err)
	}

	r := router.New(c.Capacity)
	if err := r.Install(res.Table, c.AppID); err != nil {
		return nil, fmt.Errorf("routecompress: install: %w", err)
	}
	sum, err := r.Checksum()
	if err != nil {
		return nil, fmt.Errorf("routecompress: checksum: %w", err)
	}

	return &Outcome{Search: res, Router: r, Checksum: sum}, nil
}
