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

// Package worker implements the compressor side of the
// coordinator/worker protocol: a Slot holding the shared instruction
// and state fields, and a Worker goroutine that polls its slot and
// runs the minimiser against whatever table the coordinator prepared.
package worker

// CompressorState is the state a worker publishes about its current
// attempt. Transitions are driven by the worker itself, except
// ForcedStop which the coordinator may impose.
type CompressorState int32

const (
	Unused CompressorState = iota
	Prepared
	Compressing
	Successful
	FailedMalloc
	FailedNoMerges
	FailedTimeout
	ForcedStop
)

func (s CompressorState) String() string {
	switch s {
	case Unused:
		return "Unused"
	case Prepared:
		return "Prepared"
	case Compressing:
		return "Compressing"
	case Successful:
		return "Successful"
	case FailedMalloc:
		return "FailedMalloc"
	case FailedNoMerges:
		return "FailedNoMerges"
	case FailedTimeout:
		return "FailedTimeout"
	case ForcedStop:
		return "ForcedStop"
	default:
		return "CompressorState(?)"
	}
}

// Terminal reports whether s is one of the outcomes a worker reports
// at the end of an attempt (as opposed to a lifecycle state).
func (s CompressorState) Terminal() bool {
	switch s {
	case Successful, FailedMalloc, FailedNoMerges, FailedTimeout, ForcedStop:
		return true
	default:
		return false
	}
}

// SorterInstruction is the instruction the coordinator publishes to a
// worker. Only the coordinator writes this field.
type SorterInstruction int32

const (
	NotCompressor SorterInstruction = iota
	ToBePrepared
	Prepare
	Run
	ForceStop
	DoNotUse
)

func (i SorterInstruction) String() string {
	switch i {
	case NotCompressor:
		return "NotCompressor"
	case ToBePrepared:
		return "ToBePrepared"
	case Prepare:
		return "Prepare"
	case Run:
		return "Run"
	case ForceStop:
		return "ForceStop"
	case DoNotUse:
		return "DoNotUse"
	default:
		return "SorterInstruction(?)"
	}
}
