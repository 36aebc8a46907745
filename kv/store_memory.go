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
	"sync"

	"github.com/google/btree"
)

const memTreeDegree = 32

type kvItem struct {
	key   []byte
	value []byte
}

func lessItem(a, b kvItem) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// MemStore is an in-memory Store backed by google/btree, the ordered
// structure erigon-lib uses throughout its in-memory state layers. It is
// the reference implementation used by the package's own tests and is
// handy for callers who want a Store without touching disk.
type MemStore struct {
	mu   sync.Mutex
	tree *btree.BTreeG[kvItem]
}

func NewMemStore() *MemStore {
	return &MemStore{tree: btree.NewG(memTreeDegree, lessItem)}
}

func (m *MemStore) Get(key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.tree.Get(kvItem{key: key})
	if !ok {
		return nil, nil
	}
	return it.value, nil
}

func (m *MemStore) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.ReplaceOrInsert(kvItem{key: cloneBytes(key), value: cloneBytes(value)})
	return nil
}

func (m *MemStore) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Delete(kvItem{key: key})
	return nil
}

func (m *MemStore) Batch(ops []BatchOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		if op.Value == nil {
			m.tree.Delete(kvItem{key: op.Key})
			continue
		}
		m.tree.ReplaceOrInsert(kvItem{key: cloneBytes(op.Key), value: cloneBytes(op.Value)})
	}
	return nil
}

// Iterate snapshots the tree with google/btree's O(1) copy-on-write Clone
// and materializes the keys within r up front; a Store backing a tree used
// only for small-scale tests and tail-stream polling does not need a lazier
// cursor than this.
func (m *MemStore) Iterate(r Range, reverse bool) (Iterator, error) {
	m.mu.Lock()
	snap := m.tree.Clone()
	m.mu.Unlock()

	items := make([]kvItem, 0)
	snap.AscendRange(kvItem{key: r.Start}, kvItem{key: r.End}, func(i kvItem) bool {
		items = append(items, i)
		return true
	})
	if reverse {
		for l, rr := 0, len(items)-1; l < rr; l, rr = l+1, rr-1 {
			items[l], items[rr] = items[rr], items[l]
		}
	}
	return &memIterator{items: items, idx: -1}, nil
}

func (m *MemStore) Close() error { return nil }

type memIterator struct {
	items []kvItem
	idx   int
}

func (it *memIterator) Next() bool {
	if it.idx+1 >= len(it.items) {
		it.idx = len(it.items)
		return false
	}
	it.idx++
	return true
}

func (it *memIterator) Key() []byte   { return it.items[it.idx].key }
func (it *memIterator) Value() []byte { return it.items[it.idx].value }
func (it *memIterator) Err() error    { return nil }
func (it *memIterator) Close() error  { it.idx = len(it.items); return nil }

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
