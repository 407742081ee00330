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

package rtable

import (
	"errors"
	"testing"

	"github.com/neurofabric/routecompress/keymask"
)

func mkEntry(key, mask uint32, route Route) Entry {
	return Entry{KeyMask: keymask.New(key, mask), Route: route}
}

func TestBasicOps(t *testing.T) {
	tbl := New(4)
	tbl.Append(mkEntry(0x10, 0xF0, 1))
	tbl.Append(mkEntry(0x20, 0xF0, 2))
	if n := tbl.NEntries(); n != 2 {
		t.Fatalf("NEntries = %d, want 2", n)
	}
	tbl.Put(0, mkEntry(0x30, 0xF0, 3))
	if got := tbl.Get(0).Route; got != 3 {
		t.Fatalf("Put/Get mismatch: got route %d", got)
	}
	tbl.Copy(1, 0)
	if tbl.Get(1).Route != 3 {
		t.Fatal("Copy did not overwrite destination")
	}
}

func TestRemoveTail(t *testing.T) {
	tbl := New(3)
	tbl.Append(mkEntry(0x10, 0xF0, 1))
	tbl.Append(mkEntry(0x20, 0xF0, 2))
	tbl.Append(mkEntry(0x30, 0xF0, 3))
	tbl.RemoveTail(1)
	if tbl.NEntries() != 2 {
		t.Fatalf("NEntries after RemoveTail(1) = %d, want 2", tbl.NEntries())
	}
	if tbl.Get(1).Route != 2 {
		t.Fatal("RemoveTail dropped the wrong entry")
	}
}

func TestIndexOutOfRange(t *testing.T) {
	tbl := New(1)
	tbl.Append(mkEntry(0x10, 0xF0, 1))
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic for out-of-range Get")
		}
		var iore *IndexOutOfRangeError
		if !errors.As(r.(error), &iore) {
			t.Fatalf("expected *IndexOutOfRangeError, got %T", r)
		}
	}()
	tbl.Get(5)
}

func TestFromBuffer(t *testing.T) {
	buf := make([]byte, 3*EntrySize)
	tbl := FromBuffer(buf)
	if tbl.NEntries() != 0 {
		t.Fatalf("NEntries on a fresh FromBuffer table = %d, want 0", tbl.NEntries())
	}
	tbl.Append(mkEntry(0x10, 0xF0, 1))
	tbl.Append(mkEntry(0x20, 0xF0, 2))
	tbl.Append(mkEntry(0x30, 0xF0, 3))
	if tbl.NEntries() != 3 {
		t.Fatalf("NEntries = %d, want 3", tbl.NEntries())
	}
	if tbl.Get(1).Route != 2 {
		t.Fatalf("Get(1).Route = %d, want 2", tbl.Get(1).Route)
	}
}

func TestFromBufferTooSmallForAnEntry(t *testing.T) {
	tbl := FromBuffer(make([]byte, EntrySize-1))
	if tbl.NEntries() != 0 {
		t.Fatalf("NEntries = %d, want 0", tbl.NEntries())
	}
}

func TestSortByKey(t *testing.T) {
	tbl := New(3)
	tbl.Append(mkEntry(0x30, 0xF0, 3))
	tbl.Append(mkEntry(0x10, 0xF0, 1))
	tbl.Append(mkEntry(0x20, 0xF0, 2))
	tbl.SortByKey()
	want := []uint32{0x10, 0x20, 0x30}
	for i, w := range want {
		if tbl.Get(i).KeyMask.Key != w {
			t.Fatalf("entry %d key = %#x, want %#x", i, tbl.Get(i).KeyMask.Key, w)
		}
	}
}
