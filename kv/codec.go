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

// Package kv implements the binary key/value encoding that multiplexes
// the tree store's five secondary indexes into a single ordered byte-key
// namespace, and the range planner that derives prefix-scan bounds for
// each index. See tables.go in the upstream kv package for the sibling
// convention this generalizes: a shared keyspace partitioned by a leading
// discriminator rather than one bucket per concern.
package kv

import "fmt"

// Subkey type discriminators, see spec §4.1.
const (
	TypeDataStore   byte = 0x01 // dskey: id -> serialized item
	TypeInsertion   byte = 0x02 // ikey:  i  -> headkey
	TypeHead        byte = 0x03 // headkey: (id, v) -> headval
	TypeVersion     byte = 0x04 // vkey:  v  -> dskey
	TypePerspective byte = 0x05 // uskey: (us, i) -> v
)

const maxLenPrefix = 254

// ParsedKey is the decoded form of any of the five subkey layouts. Callers
// inspect Type to know which of ID/V/I are populated.
type ParsedKey struct {
	Type byte
	Name string
	ID   []byte // dskey, headkey, uskey (the id or perspective tag)
	V    []byte // headkey, vkey: raw vSize-width version bytes
	I    uint64 // dskey, ikey, uskey: the insertion counter
}

// HeadVal is the decoded value stored at a headkey.
type HeadVal struct {
	Conflict bool
	Deleted  bool
	I        uint64
}

const (
	headFlagConflict = 1 << 0
	headFlagDeleted  = 1 << 1
)

func encodeUint(v uint64, width int) []byte {
	buf := make([]byte, width)
	for i := 0; i < width; i++ {
		buf[width-1-i] = byte(v >> (8 * uint(i)))
	}
	return buf
}

func decodeUint(buf []byte) uint64 {
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return v
}

func namePrefix(name string) ([]byte, error) {
	if len(name) > maxLenPrefix {
		return nil, ErrNameTooLong
	}
	out := make([]byte, 0, 2+len(name))
	out = append(out, byte(len(name)))
	out = append(out, name...)
	out = append(out, 0x00)
	return out, nil
}

func lenPrefixed(b []byte) ([]byte, error) {
	if len(b) > 255 {
		return nil, fmt.Errorf("value exceeds 255 bytes: %d", len(b))
	}
	out := make([]byte, 0, 2+len(b))
	out = append(out, byte(len(b)))
	out = append(out, b...)
	out = append(out, 0x00)
	return out, nil
}

// DSKey composes a data-store key: 0x01 || len(id) || id || 0x00 || iSize || i_be.
func DSKey(name string, id []byte, iSize int, i uint64) ([]byte, error) {
	np, err := namePrefix(name)
	if err != nil {
		return nil, err
	}
	idp, err := lenPrefixed(id)
	if err != nil {
		return nil, err
	}
	out := append(np, TypeDataStore)
	out = append(out, idp...)
	out = append(out, byte(iSize))
	out = append(out, encodeUint(i, iSize)...)
	return out, nil
}

// IKey composes an insertion-index key: 0x02 || iSize || i_be.
func IKey(name string, iSize int, i uint64) ([]byte, error) {
	np, err := namePrefix(name)
	if err != nil {
		return nil, err
	}
	out := append(np, TypeInsertion, byte(iSize))
	out = append(out, encodeUint(i, iSize)...)
	return out, nil
}

// HeadKey composes a head key: 0x03 || len(id) || id || 0x00 || vSize || v_be.
func HeadKey(name string, id []byte, vSize int, v []byte) ([]byte, error) {
	if len(v) != vSize {
		return nil, fmt.Errorf("version length %d does not match vSize %d", len(v), vSize)
	}
	np, err := namePrefix(name)
	if err != nil {
		return nil, err
	}
	idp, err := lenPrefixed(id)
	if err != nil {
		return nil, err
	}
	out := append(np, TypeHead)
	out = append(out, idp...)
	out = append(out, byte(vSize))
	out = append(out, v...)
	return out, nil
}

// VKey composes a version key: 0x04 || vSize || v_be.
func VKey(name string, vSize int, v []byte) ([]byte, error) {
	if len(v) != vSize {
		return nil, fmt.Errorf("version length %d does not match vSize %d", len(v), vSize)
	}
	np, err := namePrefix(name)
	if err != nil {
		return nil, err
	}
	out := append(np, TypeVersion, byte(vSize))
	out = append(out, v...)
	return out, nil
}

// USKey composes a perspective last-seen key: 0x05 || len(us) || us || 0x00 || iSize || i_be.
func USKey(name string, us []byte, iSize int, i uint64) ([]byte, error) {
	np, err := namePrefix(name)
	if err != nil {
		return nil, err
	}
	usp, err := lenPrefixed(us)
	if err != nil {
		return nil, err
	}
	out := append(np, TypePerspective)
	out = append(out, usp...)
	out = append(out, byte(iSize))
	out = append(out, encodeUint(i, iSize)...)
	return out, nil
}

// ComposeHeadVal packs {conflict, deleted, i} into flags(1) || iSize || i_be.
func ComposeHeadVal(hv HeadVal, iSize int) []byte {
	var flags byte
	if hv.Conflict {
		flags |= headFlagConflict
	}
	if hv.Deleted {
		flags |= headFlagDeleted
	}
	out := make([]byte, 0, 2+iSize)
	out = append(out, flags, byte(iSize))
	out = append(out, encodeUint(hv.I, iSize)...)
	return out
}

// ParseHeadVal unpacks a headval.
func ParseHeadVal(buf []byte) (HeadVal, error) {
	if len(buf) < 2 {
		return HeadVal{}, ErrIndexOutOfRange
	}
	flags := buf[0]
	iSize := int(buf[1])
	rest := buf[2:]
	if iSize == 0 {
		if len(rest) != 0 {
			return HeadVal{}, ErrTrailingBytes
		}
		return HeadVal{Conflict: flags&headFlagConflict != 0, Deleted: flags&headFlagDeleted != 0}, nil
	}
	if len(rest) < iSize {
		return HeadVal{}, ErrDeclaredLenTooLong
	}
	if len(rest) > iSize {
		return HeadVal{}, ErrTrailingBytes
	}
	return HeadVal{
		Conflict: flags&headFlagConflict != 0,
		Deleted:  flags&headFlagDeleted != 0,
		I:        decodeUint(rest),
	}, nil
}

// ParseKey decodes any of the five subkey layouts, validating every
// structural contract called out in spec §4.1: unknown type, mismatched
// name length, missing null terminator, zero-length integer/id fields,
// trailing bytes, and declared lengths exceeding the buffer.
func ParseKey(buf []byte) (*ParsedKey, error) {
	if len(buf) < 1 {
		return nil, ErrIndexOutOfRange
	}
	nameLen := int(buf[0])
	rest := buf[1:]
	if len(rest) < nameLen+1 {
		return nil, ErrDeclaredLenTooLong
	}
	name := string(rest[:nameLen])
	if rest[nameLen] != 0x00 {
		return nil, ErrMissingNameNull
	}
	rest = rest[nameLen+1:]
	if len(rest) < 1 {
		return nil, ErrIndexOutOfRange
	}
	typ := rest[0]
	rest = rest[1:]

	switch typ {
	case TypeDataStore, TypePerspective:
		id, i, err := parseIDAndInt(rest)
		if err != nil {
			return nil, err
		}
		return &ParsedKey{Type: typ, Name: name, ID: id, I: i}, nil
	case TypeInsertion:
		i, err := parseBareInt(rest)
		if err != nil {
			return nil, err
		}
		return &ParsedKey{Type: typ, Name: name, I: i}, nil
	case TypeHead:
		id, v, err := parseIDAndBytes(rest)
		if err != nil {
			return nil, err
		}
		return &ParsedKey{Type: typ, Name: name, ID: id, V: v}, nil
	case TypeVersion:
		v, err := parseBareBytes(rest)
		if err != nil {
			return nil, err
		}
		return &ParsedKey{Type: typ, Name: name, V: v}, nil
	default:
		return nil, ErrUnknownKeyType
	}
}

func parseIDAndInt(rest []byte) ([]byte, uint64, error) {
	if len(rest) < 1 {
		return nil, 0, ErrIndexOutOfRange
	}
	idLen := int(rest[0])
	rest = rest[1:]
	if len(rest) < idLen+1 {
		return nil, 0, ErrDeclaredLenTooLong
	}
	id := rest[:idLen]
	if rest[idLen] != 0x00 {
		return nil, 0, ErrMissingNameNull
	}
	rest = rest[idLen+1:]
	i, err := parseBareInt(rest)
	if err != nil {
		return nil, 0, err
	}
	return id, i, nil
}

func parseIDAndBytes(rest []byte) ([]byte, []byte, error) {
	if len(rest) < 1 {
		return nil, nil, ErrIndexOutOfRange
	}
	idLen := int(rest[0])
	rest = rest[1:]
	if len(rest) < idLen+1 {
		return nil, nil, ErrDeclaredLenTooLong
	}
	id := rest[:idLen]
	if rest[idLen] != 0x00 {
		return nil, nil, ErrMissingNameNull
	}
	rest = rest[idLen+1:]
	v, err := parseBareBytes(rest)
	if err != nil {
		return nil, nil, err
	}
	return id, v, nil
}

func parseBareInt(rest []byte) (uint64, error) {
	if len(rest) < 1 {
		return 0, ErrIndexOutOfRange
	}
	size := int(rest[0])
	rest = rest[1:]
	if size == 0 {
		return 0, ErrIntegerTooShort
	}
	if len(rest) < size {
		return 0, ErrDeclaredLenTooLong
	}
	if len(rest) > size {
		return 0, ErrTrailingBytes
	}
	return decodeUint(rest), nil
}

func parseBareBytes(rest []byte) ([]byte, error) {
	if len(rest) < 1 {
		return nil, ErrIndexOutOfRange
	}
	size := int(rest[0])
	rest = rest[1:]
	if size == 0 {
		return nil, ErrIntegerTooShort
	}
	if len(rest) < size {
		return nil, ErrDeclaredLenTooLong
	}
	if len(rest) > size {
		return nil, ErrTrailingBytes
	}
	return rest, nil
}
