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
	"sync/atomic"

	"github.com/neurofabric/routecompress/rtable"
)

// Slot is the shared-memory structure a coordinator and exactly one
// worker communicate through. Per §5, a write to one of its fields
// must be visible to the other side before the next read: State and
// Instruction are atomic.Int32 specifically so every access carries
// the Go memory model's acquire/release guarantee without an explicit
// lock, matching the "no locks needed given single-writer-per-field
// discipline" design note. MidPoint and Table are written by the
// coordinator only while Instruction is NotCompressor, ToBePrepared,
// or Prepare (i.e. before the worker can observe Run), and read by
// the worker only after observing Run — so the Instruction
// transition itself is what publishes them; they need no atomics of
// their own.
type Slot struct {
	Instruction atomic.Int32 // SorterInstruction, written by the coordinator only
	State       atomic.Int32 // CompressorState, written by the worker, except that the coordinator's Reset returns it to Unused

	// MidPoint is which N this slot's worker is attempting, or -1
	// when idle. Coordinator-owned.
	MidPoint int

	// Table is the working table the coordinator built for this
	// attempt via the bit-field generator. The worker compresses it
	// in place; ownership passes to the worker when Instruction
	// becomes Run and back to the coordinator once State reaches a
	// Terminal value.
	Table *rtable.Table

	// Capacity is the hardware entry limit the worker must compress
	// Table to fit within.
	Capacity int

	cancel     chan struct{}
	stopReason CompressorState
}

// NewSlot returns a Slot ready to be assigned to a worker goroutine.
func NewSlot() *Slot {
	s := &Slot{MidPoint: -1}
	s.Instruction.Store(int32(NotCompressor))
	s.State.Store(int32(Unused))
	return s
}

func (s *Slot) instruction() SorterInstruction {
	return SorterInstruction(s.Instruction.Load())
}

func (s *Slot) state() CompressorState {
	return CompressorState(s.State.Load())
}

// SetInstruction publishes a new instruction. Only the coordinator
// calls this.
func (s *Slot) SetInstruction(i SorterInstruction) {
	s.Instruction.Store(int32(i))
}

// StatePublic reports the worker's current published state.
func (s *Slot) StatePublic() CompressorState {
	return s.state()
}

// ForceStop asks the worker's in-flight attempt to cancel at its next
// phase boundary, recording why: reason distinguishes a stop because
// this attempt no longer matters (ForcedStop — the search's bounds
// moved past it) from a stop because the attempt exceeded its
// per-worker work budget (FailedTimeout). It both sets the
// instruction and closes the per-attempt cancel channel directly,
// since a worker that is deep inside Minimise is polling the channel,
// not the instruction field.
func (s *Slot) ForceStop(reason CompressorState) {
	s.stopReason = reason
	s.SetInstruction(ForceStop)
	if s.cancel != nil {
		select {
		case <-s.cancel:
		default:
			close(s.cancel)
		}
	}
}

// Reset prepares the slot for its next attempt after a terminal state
// has been observed and consumed by the coordinator.
func (s *Slot) Reset() {
	s.MidPoint = -1
	s.Table = nil
	s.cancel = nil
	s.stopReason = ForcedStop
	s.State.Store(int32(Unused))
}
