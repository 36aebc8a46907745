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

import "errors"

// Canonical codec/store errors. Messages match the wire contract exactly
// (short, lowercase) so calling tests can match on Error() text.
var (
	ErrNameMustBeString   = errors.New("name must be a string")
	ErrNameTooLong        = errors.New("name must not exceed 254 bytes")
	ErrVSizeRange         = errors.New("opts.vSize must be between 1 and 6")
	ErrISizeRange         = errors.New("opts.iSize must be between 1 and 6")
	ErrUnknownKeyType     = errors.New("key is of an unknown type")
	ErrMissingNameNull    = errors.New("expected a null byte after name")
	ErrIntegerTooShort    = errors.New("i must be at least one byte")
	ErrIndexOutOfRange    = errors.New("index out of range")
	ErrTrailingBytes      = errors.New("trailing bytes after key")
	ErrDeclaredLenTooLong = errors.New("declared length exceeds buffer")
)
