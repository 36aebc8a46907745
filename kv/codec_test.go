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

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestByteOrderInvariant(t *testing.T) {
	keys := [][]byte{
		{0x00},
		{0x00, 0x00},
		{0x00, 0x00, 0x01},
		{0x00, 0xfe},
		{0x00, 0xff},
		{0x01},
		{0x01, 0x00},
		{0xff},
		{0xff, 0xff},
		{},
	}
	sorted := make([][]byte, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })

	require.Equal(t, []byte{}, sorted[0], "empty key must sort first")
	require.True(t, bytes.Compare(sorted[0], []byte{0x00}) < 0)

	for i := 1; i < len(sorted); i++ {
		require.True(t, bytes.Compare(sorted[i-1], sorted[i]) <= 0)
	}
}

func TestDSKeyRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name string
		id   []byte
		i    uint64
	}{
		{"t1", []byte("X"), 1},
		{"tree-two", []byte{}, 0},
		{"t3", []byte{0xff, 0x00, 0x01}, 1<<48 - 1},
	} {
		key, err := DSKey(tc.name, tc.id, 6, tc.i)
		require.NoError(t, err)
		parsed, err := ParseKey(key)
		require.NoError(t, err)
		require.Equal(t, TypeDataStore, parsed.Type)
		require.Equal(t, tc.name, parsed.Name)
		require.Equal(t, tc.id, parsed.ID)
		require.Equal(t, tc.i, parsed.I)
	}
}

func TestIKeyRoundTrip(t *testing.T) {
	key, err := IKey("mytree", 6, 42)
	require.NoError(t, err)
	parsed, err := ParseKey(key)
	require.NoError(t, err)
	require.Equal(t, TypeInsertion, parsed.Type)
	require.Equal(t, uint64(42), parsed.I)
}

func TestHeadKeyRoundTrip(t *testing.T) {
	v := bytes.Repeat([]byte{0x07}, 6)
	key, err := HeadKey("mytree", []byte("docid"), 6, v)
	require.NoError(t, err)
	parsed, err := ParseKey(key)
	require.NoError(t, err)
	require.Equal(t, TypeHead, parsed.Type)
	require.Equal(t, []byte("docid"), parsed.ID)
	require.Equal(t, v, parsed.V)
}

func TestVKeyRoundTrip(t *testing.T) {
	v := bytes.Repeat([]byte{0xaa}, 6)
	key, err := VKey("mytree", 6, v)
	require.NoError(t, err)
	parsed, err := ParseKey(key)
	require.NoError(t, err)
	require.Equal(t, TypeVersion, parsed.Type)
	require.Equal(t, v, parsed.V)
}

func TestUSKeyRoundTrip(t *testing.T) {
	key, err := USKey("mytree", []byte("remote-a"), 6, 100)
	require.NoError(t, err)
	parsed, err := ParseKey(key)
	require.NoError(t, err)
	require.Equal(t, TypePerspective, parsed.Type)
	require.Equal(t, []byte("remote-a"), parsed.ID)
	require.Equal(t, uint64(100), parsed.I)
}

func TestHeadValRoundTrip(t *testing.T) {
	for _, hv := range []HeadVal{
		{Conflict: false, Deleted: false, I: 0},
		{Conflict: true, Deleted: false, I: 7},
		{Conflict: false, Deleted: true, I: 1 << 40},
		{Conflict: true, Deleted: true, I: 1},
	} {
		buf := ComposeHeadVal(hv, 6)
		got, err := ParseHeadVal(buf)
		require.NoError(t, err)
		require.Equal(t, hv, got)
	}
}

func TestParseKeyRejectsUnknownType(t *testing.T) {
	key, err := IKey("t", 6, 1)
	require.NoError(t, err)
	key[3] = 0x09 // clobber the type byte (index 3: len(1) || 't' || 0x00 || type)
	_, err = ParseKey(key)
	require.ErrorIs(t, err, ErrUnknownKeyType)
}

func TestParseKeyRejectsMissingNameNull(t *testing.T) {
	key, err := IKey("t", 6, 1)
	require.NoError(t, err)
	key[2] = 0x01 // clobber the separator after "t"
	_, err = ParseKey(key)
	require.ErrorIs(t, err, ErrMissingNameNull)
}

func TestParseKeyRejectsZeroLengthInteger(t *testing.T) {
	key, err := IKey("t", 6, 1)
	require.NoError(t, err)
	idxOfSizeByte := 4 // len(1) || 't' || 0x00 || type(1) || size(1)
	key[idxOfSizeByte] = 0
	_, err = ParseKey(key)
	require.ErrorIs(t, err, ErrIntegerTooShort)
}

func TestParseKeyRejectsTrailingBytes(t *testing.T) {
	key, err := IKey("t", 6, 1)
	require.NoError(t, err)
	key = append(key, 0x00)
	_, err = ParseKey(key)
	require.ErrorIs(t, err, ErrTrailingBytes)
}

func TestParseKeyRejectsDeclaredLenExceedsBuffer(t *testing.T) {
	key, err := DSKey("t", []byte("abc"), 6, 1)
	require.NoError(t, err)
	_, err = ParseKey(key[:len(key)-2])
	require.Error(t, err)
}

func TestNameTooLong(t *testing.T) {
	name := make([]byte, 255)
	_, err := IKey(string(name), 6, 1)
	require.ErrorIs(t, err, ErrNameTooLong)
}
