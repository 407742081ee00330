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

//go:build windows

package arena

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

func mapRegion(size int) []byte {
	base, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		panic("arena: VirtualAlloc: " + err.Error())
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
}

func hintUnused(mem []byte) {
	if len(mem) == 0 {
		return
	}
	// MEM_RESET tells the OS the pages' contents no longer matter, so
	// it can reclaim the physical memory without unmapping the
	// reservation made in mapRegion; a failed call does not affect
	// allocator correctness.
	_, _ = windows.VirtualAlloc(uintptr(unsafe.Pointer(&mem[0])), uintptr(len(mem)), windows.MEM_RESET, windows.PAGE_READWRITE)
}
