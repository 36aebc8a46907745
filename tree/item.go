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

// Package tree implements the write pipeline, head tracking, and streaming
// readers over the codec and range planner in package kv: the DAG of item
// versions described by spec §3-§5.
package tree

import (
	"github.com/pkg/errors"
	"github.com/ugorji/go/codec"
)

// Header carries the DAG metadata every item version must have (spec §3.1).
type Header struct {
	ID []byte   `codec:"id"`
	V  []byte   `codec:"v"`
	PA [][]byte `codec:"pa"`
	PE []byte   `codec:"pe,omitempty"`
	C  bool     `codec:"c,omitempty"`
	D  bool     `codec:"d,omitempty"`
	I  uint64   `codec:"i,omitempty"`
}

// Item is a single stored version: header plus an opaque application body.
type Item struct {
	H    Header `codec:"h"`
	Body []byte `codec:"body"`
}

// bincHandle is shared across encode/decode calls; codec.Handle is safe for
// concurrent use once configured, same pattern erigon-lib uses for its
// shared RLP/protobuf codecs.
var bincHandle = &codec.BincHandle{}

func init() {
	bincHandle.Canonical = true
}

// Marshal serializes an item with ugorji/go/codec's Binc format: a
// schema-less, self-describing binary encoding, the closest pack-available
// analogue to the BSON-equivalent serialization spec §6.2 calls for.
func Marshal(it *Item) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, bincHandle)
	if err := enc.Encode(it); err != nil {
		return nil, errors.Wrap(err, "marshal item")
	}
	return buf, nil
}

// Unmarshal deserializes an item previously produced by Marshal.
func Unmarshal(buf []byte) (*Item, error) {
	var it Item
	dec := codec.NewDecoderBytes(buf, bincHandle)
	if err := dec.Decode(&it); err != nil {
		return nil, errors.Wrap(err, "unmarshal item")
	}
	return &it, nil
}

// Clone returns a deep copy of the header's slice fields so callers can
// mutate a returned Item without aliasing tree-engine-owned memory.
func (h Header) Clone() Header {
	out := h
	out.ID = append([]byte(nil), h.ID...)
	out.V = append([]byte(nil), h.V...)
	out.PE = append([]byte(nil), h.PE...)
	if h.PA != nil {
		out.PA = make([][]byte, len(h.PA))
		for i, p := range h.PA {
			out.PA[i] = append([]byte(nil), p...)
		}
	}
	return out
}
