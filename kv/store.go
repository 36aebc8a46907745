// Copyright 2024 The Erigon Authors
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

package kv

import "bytes"

// BatchOp is one mutation inside an atomic Batch. A nil Value means delete.
type BatchOp struct {
	Key   []byte
	Value []byte // nil => delete
}

// Store is the capability abstraction the tree engine needs from the
// underlying ordered byte-key KV: point get/put/delete, one atomic
// multi-key batch, and bounded forward/reverse range iteration. The KV
// guarantees strict lexicographic byte ordering (empty key < 0x00 < ...).
type Store interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error

	// Batch applies ops atomically: either all of them are visible to
	// subsequent Get/Iterate calls, or none are (on error, state is
	// unchanged).
	Batch(ops []BatchOp) error

	// Iterate opens a cursor over [r.Start, r.End). When reverse is true
	// the cursor yields keys from the largest below r.End down to r.Start.
	Iterate(r Range, reverse bool) (Iterator, error)

	Close() error
}

// Iterator is a pull-based cursor: call Next to advance, then Key/Value to
// read the current position. Iterate returns an Iterator already pointing
// before the first element; call Next once before the first read.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// InRange reports whether key falls in [r.Start, r.End).
func (r Range) InRange(key []byte) bool {
	return bytes.Compare(key, r.Start) >= 0 && bytes.Compare(key, r.End) < 0
}
