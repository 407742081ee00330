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

import "github.com/dchest/siphash"

// fingerprintK0 and fingerprintK1 are fixed rather than random, matching Fingerprint's
// diagnostic (not security) purpose.
const fingerprintK0, fingerprintK1 = 0x726f757465636f6d, 0x70726573735f6b32

func siphash64(p []byte) uint64 {
	return siphash.Hash(fingerprintK0, fingerprintK1, p)
}
