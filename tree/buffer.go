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

import (
	"sync"
)

// writeBuffer is the in-flight queue-and-lookaside described in spec §9:
// items that have passed validation and been assigned an i, but whose
// Store batch has not yet committed. Validation of a later item must be
// able to see an earlier, not-yet-committed item as "known" (invariant 6),
// so the buffer is both an ordered FIFO of versions (backing depth and
// lastItem; the commit loop itself is fed through Tree.commitCh) and two
// lookup indexes (by version, and by id -> ordered set of versions).
//
// inBufferById/inBufferByVersion read without locking out the writer for
// long; callers accept racy false negatives at the commit boundary per
// spec §5, so a short-held mutex is enough - no attempt at a lock-free
// structure.
type writeBuffer struct {
	mu      sync.Mutex
	order   []string            // version keys (string(v)) in FIFO order
	byV     map[string]*Item    // version -> buffered item
	byID    map[string][]string // string(id) -> ordered version keys for that id
}

func newWriteBuffer() *writeBuffer {
	return &writeBuffer{
		byV:  make(map[string]*Item),
		byID: make(map[string][]string),
	}
}

func (b *writeBuffer) add(it *Item) {
	b.mu.Lock()
	defer b.mu.Unlock()
	vk := string(it.H.V)
	idk := string(it.H.ID)
	b.order = append(b.order, vk)
	b.byV[vk] = it
	b.byID[idk] = append(b.byID[idk], vk)
}

func (b *writeBuffer) remove(it *Item) {
	b.mu.Lock()
	defer b.mu.Unlock()
	vk := string(it.H.V)
	idk := string(it.H.ID)
	delete(b.byV, vk)
	versions := b.byID[idk]
	for i, v := range versions {
		if v == vk {
			b.byID[idk] = append(versions[:i], versions[i+1:]...)
			break
		}
	}
	if len(b.byID[idk]) == 0 {
		delete(b.byID, idk)
	}
	for i, v := range b.order {
		if v == vk {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// byVersion returns the buffered item for v, if any.
func (b *writeBuffer) byVersion(v []byte) (*Item, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	it, ok := b.byV[string(v)]
	return it, ok
}

// versionsForID returns the buffered versions for id in FIFO order (empty
// when nothing for id is buffered).
func (b *writeBuffer) versionsForID(id []byte) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.byID[string(id)]))
	copy(out, b.byID[string(id)])
	return out
}

func (b *writeBuffer) byIDAny(id []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byID[string(id)]) > 0
}

func (b *writeBuffer) depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// lastItemForID returns the most recently buffered item for id, if any.
func (b *writeBuffer) lastItemForID(id []byte) (*Item, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	versions := b.byID[string(id)]
	if len(versions) == 0 {
		return nil, false
	}
	return b.byV[versions[len(versions)-1]], true
}

// lastItem returns the most recently buffered item tree-wide (the last one
// assigned an i), if any.
func (b *writeBuffer) lastItem() (*Item, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.order) == 0 {
		return nil, false
	}
	return b.byV[b.order[len(b.order)-1]], true
}
