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

package tree

import "errors"

// Canonical error messages, spec §6.4. Kept as short lowercase sentinels so
// callers (and tests) can match on Error() text the way the source system's
// test suite does.
var (
	ErrVersionNotFound    = errors.New("version not found")
	ErrNotValidNewItem    = errors.New("not a valid new item")
	ErrDelNeedsSkipVal    = errors.New("del is only available if skipValidation is set to true")
	ErrProblemParents     = errors.New("problem with parents")
	ErrHeaderRequired     = errors.New("item.h must be an object with id and v")
	ErrVersionSizeMismatch = errors.New("v must match the configured vSize")
	ErrParentsMustBeOrdered = errors.New("pa must be an ordered sequence of v-sized values")
	ErrStreamClosed         = errors.New("stream is closed")
)
