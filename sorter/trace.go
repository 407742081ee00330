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
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neurofabric/routecompress/compr"
	"github.com/neurofabric/routecompress/worker"
)

// attemptRecord is one line of the coordinator's diagnostic trace:
// every midpoint dispatched, the worker slot it ran on, its outcome,
// and how long it took. This is purely a host-side diagnostic — it is
// not part of the §6 hardware ABI.
//
// BestSuccess and LowestFailure are a snapshot of the coordinator's
// search bounds taken immediately after this attempt's outcome was
// folded into them (see Coordinator.handleOutcome), so a trace read
// back after a run also reconstructs how the bounds evolved attempt
// by attempt — §8 invariant 5's monotonicity is checked against
// exactly this sequence in coordinator_test.go.
type attemptRecord struct {
	MidPoint      int
	Slot          int
	Outcome       worker.CompressorState
	Elapsed       time.Duration
	BestSuccess   int64
	LowestFailure int64
}

func (a attemptRecord) line() string {
	return fmt.Sprintf("mid=%d slot=%d outcome=%s elapsed=%s bestSuccess=%d lowestFailure=%d\n",
		a.MidPoint, a.Slot, a.Outcome, a.Elapsed, a.BestSuccess, a.LowestFailure)
}

// Trace accumulates attempt records for one search and compresses
// them on demand with a zstd Compressor (see compr.Compression),
// trading a little CPU for a much smaller blob to retain across runs.
type Trace struct {
	ID      uuid.UUID
	records []attemptRecord
}

// NewTrace starts a trace for a fresh search attempt, identified by a
// random UUID so multiple runs' retained traces don't collide.
func NewTrace() *Trace {
	return &Trace{ID: uuid.New()}
}

func (t *Trace) record(a attemptRecord) {
	t.records = append(t.records, a)
}

// Compressed renders the trace as zstd-compressed text.
func (t *Trace) Compressed() []byte {
	var buf bytes.Buffer
	for _, r := range t.records {
		buf.WriteString(r.line())
	}
	return compr.Compression("zstd").Compress(buf.Bytes(), nil)
}

// Fingerprint returns a short deterministic hash of a scenario's
// uncompressed-table byte length and bit-field count, keyed with a
// fixed siphash key, so the host can log whether two runs used an
// identical-shaped scenario without hashing the whole table. The key
// is fixed rather than random: this is a diagnostic fingerprint, not
// an HMAC, and a fixed key keeps repeated runs of the same scenario
// comparable across processes.
func Fingerprint(tableBytes int, nBitFields int) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(tableBytes))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(nBitFields))
	return siphash64(buf[:])
}
