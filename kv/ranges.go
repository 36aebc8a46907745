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

// Range is a half-open byte-key interval [Start, End) suitable for a
// forward range scan on an ordered KV store.
type Range struct {
	Start []byte
	End   []byte
}

// typePrefix returns len(name) || name || 0x00 || type, the common prefix
// shared by every key of a given subkey type within a tree.
func typePrefix(name string, typ byte) ([]byte, error) {
	np, err := namePrefix(name)
	if err != nil {
		return nil, err
	}
	return append(np, typ), nil
}

// withFF appends a single 0xff byte, which always sorts after any key that
// merely extends prefix (since no byte exceeds 0xff), giving a safe
// exclusive upper bound for a forward scan of everything starting with
// prefix.
func withFF(prefix []byte) []byte {
	out := make([]byte, len(prefix)+1)
	copy(out, prefix)
	out[len(prefix)] = 0xff
	return out
}

// DSKeyRange bounds the dskey index (type 1) for name, covering every id.
// The index is not ordered by i across the whole tree (it's ordered by id
// first), so a tree-wide [minI, maxI) bracket is not meaningful here; use
// DSKeyRangeForID for that, which the id groups the dskey layout naturally.
func DSKeyRange(name string, minI, maxI *uint64, iSize int) (Range, error) {
	prefix, err := typePrefix(name, TypeDataStore)
	if err != nil {
		return Range{}, err
	}
	return Range{Start: prefix, End: withFF(prefix)}, nil
}

// DSKeyRangeForID bounds the dskey index to a single id, optionally
// bracketed to [minI, maxI) by the insertion counter suffix. Because a
// dskey's layout is id || 0x00 || iSize || i_be, fixing id turns the dskey
// index into an i-ordered sequence for that id alone - the mechanism
// id-filtered read streams use to stay in insertion order without
// consulting the tree-wide ikey index.
func DSKeyRangeForID(name string, id []byte, iSize int, minI, maxI *uint64) (Range, error) {
	prefix, err := typePrefix(name, TypeDataStore)
	if err != nil {
		return Range{}, err
	}
	idp, err := lenPrefixed(id)
	if err != nil {
		return Range{}, err
	}
	idPrefix := append(append([]byte{}, prefix...), idp...)
	start := idPrefix
	end := withIntSuffixFF(idPrefix, iSize)
	if minI != nil {
		s, err := DSKey(name, id, iSize, *minI)
		if err != nil {
			return Range{}, err
		}
		start = s
	}
	if maxI != nil {
		e, err := DSKey(name, id, iSize, *maxI)
		if err != nil {
			return Range{}, err
		}
		end = e
	}
	return Range{Start: start, End: end}, nil
}

// IKeyRange bounds the ikey index (type 2) for name, optionally bracketed to
// [minI, maxI) by the integer suffix.
func IKeyRange(name string, minI, maxI *uint64, iSize int) (Range, error) {
	prefix, err := typePrefix(name, TypeInsertion)
	if err != nil {
		return Range{}, err
	}
	start := prefix
	end := withIntSuffixFF(prefix, iSize)
	if minI != nil {
		s, err := IKey(name, iSize, *minI)
		if err != nil {
			return Range{}, err
		}
		start = s
	}
	if maxI != nil {
		e, err := IKey(name, iSize, *maxI)
		if err != nil {
			return Range{}, err
		}
		end = e
	}
	return Range{Start: start, End: end}, nil
}

// HeadKeyRange bounds the headkey index (type 3) for name, optionally
// restricted to a single id.
func HeadKeyRange(name string, id []byte) (Range, error) {
	prefix, err := typePrefix(name, TypeHead)
	if err != nil {
		return Range{}, err
	}
	if id == nil {
		return Range{Start: prefix, End: withFF(prefix)}, nil
	}
	idp, err := lenPrefixed(id)
	if err != nil {
		return Range{}, err
	}
	idPrefix := append(append([]byte{}, prefix...), idp...)
	return Range{Start: idPrefix, End: withFF(idPrefix)}, nil
}

// VKeyRange bounds the vkey index (type 4) for name.
func VKeyRange(name string, vSize int) (Range, error) {
	prefix, err := typePrefix(name, TypeVersion)
	if err != nil {
		return Range{}, err
	}
	return Range{Start: prefix, End: withIntSuffixFF(prefix, vSize)}, nil
}

// UsKeyRange bounds the uskey index (type 5) for name, optionally restricted
// to a single perspective tag.
func UsKeyRange(name string, us []byte) (Range, error) {
	prefix, err := typePrefix(name, TypePerspective)
	if err != nil {
		return Range{}, err
	}
	if us == nil {
		return Range{Start: prefix, End: withFF(prefix)}, nil
	}
	usp, err := lenPrefixed(us)
	if err != nil {
		return Range{}, err
	}
	usPrefix := append(append([]byte{}, prefix...), usp...)
	return Range{Start: usPrefix, End: withFF(usPrefix)}, nil
}

// withIntSuffixFF builds the exclusive upper bound for a type whose suffix
// is a single-byte width followed by width bytes of big-endian integer:
// prefix || (width+1) || 0xff repeated (width+1) times. Any legal key at
// this prefix has a width byte <= 6 and a value that sorts strictly below
// an all-0xff run of width+1 bytes.
func withIntSuffixFF(prefix []byte, width int) []byte {
	out := make([]byte, len(prefix)+1+width+1)
	copy(out, prefix)
	out[len(prefix)] = byte(width + 1)
	for i := len(prefix) + 1; i < len(out); i++ {
		out[i] = 0xff
	}
	return out
}
