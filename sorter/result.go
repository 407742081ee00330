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
	"fmt"

	"github.com/neurofabric/routecompress/rtable"
)

// ExitStatus is the status word §6 says the coordinator publishes for
// the host to read once the search ends.
type ExitStatus int

const (
	ExitedCleanly ExitStatus = iota
	ExitMalloc
	ExitFail
	SWErr
)

func (s ExitStatus) String() string {
	switch s {
	case ExitedCleanly:
		return "ExitedCleanly"
	case ExitMalloc:
		return "ExitMalloc"
	case ExitFail:
		return "ExitFail"
	case SWErr:
		return "SWErr"
	default:
		return "ExitStatus(?)"
	}
}

// Result is what a completed search hands back for router install and
// for the host-facing outputs named in §6.
type Result struct {
	BestSuccess    int
	Table          *rtable.Table
	NMergedFilters map[uint32]int // processor id -> count of its filters folded in
	// NRedundancyFilters is a supplemented diagnostic (see
	// SPEC_FULL.md's "Per-core filter redundancy counts"): per
	// processor id, the count of that core's filters which matched
	// zero atoms regardless of midpoint — a placement-time signal,
	// not something the search itself reacts to.
	NRedundancyFilters map[uint32]int
	ExitStatus         ExitStatus
	Trace              *Trace
}

// BaselineFailedError reports that midpoint 0 (no bit-fields applied)
// could not be compressed to fit capacity: per §7 this is fatal, the
// chip cannot route packets at all.
type BaselineFailedError struct {
	Detail string
}

func (e *BaselineFailedError) Error() string {
	return "sorter: baseline attempt (N=0) failed: " + e.Detail
}

// InternalInvariantViolatedError reports a condition the coordinator's
// own bookkeeping guarantees should have prevented (e.g. dispatching
// an already-tested midpoint). Per §7 this is fatal and reported as
// SWErr.
type InternalInvariantViolatedError struct {
	Detail string
}

func (e *InternalInvariantViolatedError) Error() string {
	return "sorter: internal invariant violated: " + e.Detail
}

// WorkerUnresponsiveError reports that a slot never reached Prepared
// within the bootstrap polling budget; the slot is retired rather
// than treated as fatal, unless it leaves zero usable workers.
type WorkerUnresponsiveError struct {
	Slot int
}

func (e *WorkerUnresponsiveError) Error() string {
	return fmt.Sprintf("sorter: worker in slot %d did not become Prepared in time", e.Slot)
}
