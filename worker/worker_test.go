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
	"testing"
	"time"

	"github.com/neurofabric/routecompress/keymask"
	"github.com/neurofabric/routecompress/rtable"
)

func buildTable(n int) *rtable.Table {
	t := rtable.New(n)
	for i := 0; i < n; i++ {
		t.Append(rtable.Entry{
			KeyMask: keymask.New(uint32(i), 0xFFFFFFFF),
			Route:   rtable.Route(i),
		})
	}
	return t
}

func waitForState(t *testing.T, s *Slot, want CompressorState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.StatePublic() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %v after %s, want %v", s.StatePublic(), timeout, want)
}

func TestWorkerPrepareAndRunReportsFailedNoMerges(t *testing.T) {
	slot := NewSlot()
	w := &Worker{Slot: slot}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	slot.SetInstruction(Prepare)
	waitForState(t, slot, Prepared, time.Second)

	slot.Table = buildTable(3)
	slot.Capacity = 2
	slot.MidPoint = 0
	slot.SetInstruction(Run)

	waitForState(t, slot, FailedNoMerges, time.Second)
}

func TestWorkerMergesSuccessfully(t *testing.T) {
	slot := NewSlot()
	w := &Worker{Slot: slot}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	slot.SetInstruction(Prepare)
	waitForState(t, slot, Prepared, time.Second)

	tbl := rtable.New(2)
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x00, 0xFF), Route: 1})
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x01, 0xFF), Route: 1})
	slot.Table = tbl
	slot.Capacity = 1
	slot.MidPoint = 1
	slot.SetInstruction(Run)

	waitForState(t, slot, Successful, time.Second)
	if slot.Table.NEntries() != 1 {
		t.Fatalf("NEntries = %d, want 1", slot.Table.NEntries())
	}
}

func TestWorkerInjectedMallocFailure(t *testing.T) {
	slot := NewSlot()
	w := &Worker{Slot: slot, InjectMalloc: func(int) bool { return true }}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	slot.SetInstruction(Prepare)
	waitForState(t, slot, Prepared, time.Second)

	slot.Table = buildTable(1)
	slot.Capacity = 1
	slot.MidPoint = 0
	slot.SetInstruction(Run)

	waitForState(t, slot, FailedMalloc, time.Second)
}

func TestWorkerDoNotUseStopsLoop(t *testing.T) {
	slot := NewSlot()
	w := &Worker{Slot: slot}

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	slot.SetInstruction(DoNotUse)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after DoNotUse")
	}
}
