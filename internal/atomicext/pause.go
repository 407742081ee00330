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

// Package atomicext provides extensions complementing the built-in
// sync/atomic package: lock-free int64 min/max helpers the sorter
// uses to update its search bounds (see sorter.Coordinator's
// bestSuccess and lowestFailure), and a spin-wait hint used while
// polling worker slots.
package atomicext

import "runtime"

// Pause hints the scheduler that the calling goroutine is in a
// spin-wait loop (for example polling a Slot's SorterInstruction or
// CompressorState field) so that other runnable goroutines, notably
// the other side of the slot, get a chance to make progress.
func Pause() {
	runtime.Gosched()
}
