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

package minimiser

// Outcome is the result of a single call to Minimise. Allocation
// failures and timeouts are not modelled here: on real hardware the
// minimiser works entirely within statically sized scratch arrays, so
// the only failures it can produce itself are geometric (no legal
// merge reduces the table enough) or a cooperative cancellation. The
// richer per-attempt outcome taxonomy that also includes allocation
// and timeout failures lives in package worker.
type Outcome int

const (
	// Successful means the table was compressed in place to fit
	// within the requested capacity.
	Successful Outcome = iota
	// FailedNoMerges means no further merges would reduce the
	// table enough to fit within the requested capacity (or the
	// table used more distinct routes than MaxRoutes).
	FailedNoMerges
	// Cancelled means the cancellation channel was observed
	// closed at a phase boundary before compression finished.
	// The table is left in an unspecified but safe-to-discard
	// state.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Successful:
		return "Successful"
	case FailedNoMerges:
		return "FailedNoMerges"
	case Cancelled:
		return "Cancelled"
	default:
		return "Outcome(?)"
	}
}
