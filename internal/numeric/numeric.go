// Copyright 2017 The go-ethereum Authors
// (original work)
// Copyright 2024 The Erigon Authors
// (modifications)
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package numeric holds the small integer-parsing and overflow-checked
// arithmetic helpers shared by the CLI and the tree engine's insertion
// counter.
package numeric

import (
	"math/bits"
	"strconv"
)

// ParseUint64 parses s as an integer in decimal or hexadecimal syntax (a
// "0x" or "0X" prefix selects hex). Leading zeros are accepted. The empty
// string parses as zero. Used by perspectivectl to accept its stream --limit
// flag in either form.
func ParseUint64(s string) (uint64, bool) {
	if s == "" {
		return 0, true
	}
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		return v, err == nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	return v, err == nil
}

// SafeAdd returns x+y and reports whether the addition overflowed a
// uint64. The tree engine uses this to guard the insertion counter instead
// of letting it silently wrap.
func SafeAdd(x, y uint64) (uint64, bool) {
	sum, carryOut := bits.Add64(x, y, 0)
	return sum, carryOut != 0
}
