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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRangeSoundnessAcrossTypes(t *testing.T) {
	name := "alpha"
	other := "beta"

	ds, err := DSKeyRange(name, nil, nil, 6)
	require.NoError(t, err)
	ik, err := IKeyRange(name, nil, nil, 6)
	require.NoError(t, err)
	hk, err := HeadKeyRange(name, nil)
	require.NoError(t, err)
	vk, err := VKeyRange(name, 6)
	require.NoError(t, err)
	uk, err := UsKeyRange(name, nil)
	require.NoError(t, err)

	dsKey, err := DSKey(name, []byte("doc"), 6, 1)
	require.NoError(t, err)
	ikKey, err := IKey(name, 6, 1)
	require.NoError(t, err)
	hkKey, err := HeadKey(name, []byte("doc"), 6, make([]byte, 6))
	require.NoError(t, err)
	vkKey, err := VKey(name, 6, make([]byte, 6))
	require.NoError(t, err)
	ukKey, err := USKey(name, []byte("remote"), 6, 1)
	require.NoError(t, err)

	require.True(t, ds.InRange(dsKey))
	require.True(t, ik.InRange(ikKey))
	require.True(t, hk.InRange(hkKey))
	require.True(t, vk.InRange(vkKey))
	require.True(t, uk.InRange(ukKey))

	// No key of another type falls in a given type's range.
	require.False(t, ds.InRange(ikKey))
	require.False(t, ds.InRange(hkKey))
	require.False(t, ik.InRange(dsKey))
	require.False(t, hk.InRange(vkKey))
	require.False(t, vk.InRange(ukKey))

	// No key of another tree falls in this tree's range.
	otherDSKey, err := DSKey(other, []byte("doc"), 6, 1)
	require.NoError(t, err)
	require.False(t, ds.InRange(otherDSKey))
}

func TestIKeyRangeBracketing(t *testing.T) {
	name := "alpha"
	var minI, maxI uint64 = 3, 7
	r, err := IKeyRange(name, &minI, &maxI, 6)
	require.NoError(t, err)

	inside, err := IKey(name, 6, 5)
	require.NoError(t, err)
	require.True(t, r.InRange(inside))

	below, err := IKey(name, 6, 2)
	require.NoError(t, err)
	require.False(t, r.InRange(below))

	atUpper, err := IKey(name, 6, 7)
	require.NoError(t, err)
	require.False(t, r.InRange(atUpper), "maxI bound is exclusive")
}

func TestHeadKeyRangeByID(t *testing.T) {
	name := "alpha"
	r, err := HeadKeyRange(name, []byte("X"))
	require.NoError(t, err)

	vMatch, err := HeadKey(name, []byte("X"), 6, make([]byte, 6))
	require.NoError(t, err)
	require.True(t, r.InRange(vMatch))

	vOther, err := HeadKey(name, []byte("Y"), 6, make([]byte, 6))
	require.NoError(t, err)
	require.False(t, r.InRange(vOther))
}
