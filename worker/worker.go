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

package worker

import (
	"context"
	"time"

	"github.com/neurofabric/routecompress/internal/atomicext"
	"github.com/neurofabric/routecompress/minimiser"
)

// PollInterval is how often an idle worker re-checks its instruction
// field. Real hardware would spin; this reimplementation yields the
// scheduler between polls via atomicext.Pause so a GOMAXPROCS=1 test
// run still makes progress.
const PollInterval = 50 * time.Microsecond

// InjectMalloc, when non-nil, is consulted once per attempt before
// running the minimiser; if it returns true the attempt is reported
// as FailedMalloc without doing any work. It exists to drive §8
// scenario (f)'s fault-injection requirement from tests and from the
// host harness's scenario format, never in production use.
type InjectMalloc func(midPoint int) bool

// Worker runs the compressor side of the protocol against a single
// Slot until ctx is cancelled or the slot is retired with DoNotUse.
type Worker struct {
	Slot         *Slot
	InjectMalloc InjectMalloc
}

// Run polls Slot.Instruction and drives Slot.State through the
// transitions in §4.5 until ctx is done or the coordinator sets
// DoNotUse.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch w.Slot.instruction() {
		case NotCompressor, ToBePrepared:
			atomicext.Pause()
			time.Sleep(PollInterval)
		case Prepare:
			w.Slot.State.Store(int32(Prepared))
			atomicext.Pause()
			time.Sleep(PollInterval)
		case Run:
			// Only start a fresh attempt out of Prepared; once the
			// slot has a terminal state the coordinator must issue
			// Prepare again before another Run is honoured, so a
			// worker never silently re-runs on a stale instruction.
			if w.Slot.state() == Prepared {
				w.attempt()
			}
			time.Sleep(PollInterval)
		case ForceStop:
			// the in-flight attempt's cancel channel has already
			// been closed by Slot.ForceStop; wait for it to notice
			// and publish its terminal state.
			time.Sleep(PollInterval)
		case DoNotUse:
			return
		}
	}
}

func (w *Worker) attempt() {
	w.Slot.State.Store(int32(Compressing))
	w.Slot.stopReason = ForcedStop

	if w.InjectMalloc != nil && w.InjectMalloc(w.Slot.MidPoint) {
		w.Slot.State.Store(int32(FailedMalloc))
		return
	}

	cancel := make(chan struct{})
	w.Slot.cancel = cancel

	outcome, err := minimiser.Minimise(w.Slot.Table, w.Slot.Capacity, cancel)
	if err != nil {
		// InternalInvariantViolated per §7: the minimiser's own
		// contract is that it never returns an error for well-formed
		// input, so a non-nil error here is a programming error, not
		// an attempt outcome a coordinator can reason about.
		panic("worker: minimiser returned an unexpected error: " + err.Error())
	}

	w.Slot.State.Store(int32(w.fromMinimiserOutcome(outcome)))
}

// fromMinimiserOutcome maps the algorithm's narrower outcome type to
// the slot's published state. Cancelled reports whichever of
// ForcedStop/FailedTimeout the coordinator recorded when it closed
// the attempt's cancel channel (see Slot.ForceStop) — the minimiser
// itself has no concept of why it was cancelled.
func (w *Worker) fromMinimiserOutcome(o minimiser.Outcome) CompressorState {
	switch o {
	case minimiser.Successful:
		return Successful
	case minimiser.FailedNoMerges:
		return FailedNoMerges
	case minimiser.Cancelled:
		return w.Slot.stopReason
	default:
		panic("worker: unhandled minimiser outcome")
	}
}
