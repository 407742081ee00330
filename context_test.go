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

package routecompress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neurofabric/routecompress/bitfield"
	"github.com/neurofabric/routecompress/keymask"
	"github.com/neurofabric/routecompress/rtable"
	"github.com/neurofabric/routecompress/sorter"
)

func fastConfig(workers int) sorter.Config {
	return sorter.Config{
		Workers:               workers,
		BootstrapPollAttempts: 200,
		BootstrapPollInterval: time.Microsecond,
		PollInterval:          time.Microsecond,
	}
}

func TestRunInstallsWinningTable(t *testing.T) {
	tbl := rtable.New(2)
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x00, 0xFF), Route: 1})
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x01, 0xFF), Route: 1})

	c := &Context{
		Table:     tbl,
		BitFields: &bitfield.SortedBitFields{},
		Capacity:  1,
		AppID:     3,
		Config:    fastConfig(2),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Router.Installed() != 1 {
		t.Fatalf("Installed() = %d, want 1", out.Router.Installed())
	}
	if out.Search.Table.NEntries() != 1 {
		t.Fatalf("search table has %d entries, want 1", out.Search.Table.NEntries())
	}
	var zero [32]byte
	if out.Checksum == zero {
		t.Fatal("Checksum is all-zero, want a real digest over the installed entry")
	}
}

// Two entries on distinct routes with no bit-fields to shrink them
// can never fit capacity 1; the baseline (N=0) attempt is the only
// one possible and it fails, so Run must surface that failure rather
// than attempt an install.
func TestRunSurfacesSearchFailure(t *testing.T) {
	tbl := rtable.New(2)
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x00, 0xFF), Route: 1})
	tbl.Append(rtable.Entry{KeyMask: keymask.New(0x10, 0xFF), Route: 2})

	c := &Context{
		Table:     tbl,
		BitFields: &bitfield.SortedBitFields{},
		Capacity:  1,
		Config:    fastConfig(2),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.Run(ctx)
	if err == nil {
		t.Fatal("Run: want error, got nil")
	}
	var baseErr *sorter.BaselineFailedError
	if !errors.As(err, &baseErr) {
		t.Fatalf("Run error = %v, want a *sorter.BaselineFailedError in its chain", err)
	}
}
