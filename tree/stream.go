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
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/erigontech/perspectivedb/kv"
)

const defaultTailInterval = time.Second

// StreamOptions configures a ReadStream, spec §4.5. A zero-value
// StreamOptions streams every item in the tree, oldest first, and stops at
// io.EOF once the snapshot taken at NewReadStream is exhausted.
type StreamOptions struct {
	// ID scopes the stream to one id's dskey-ordered sequence. Nil reads
	// the tree-wide ikey index instead.
	ID []byte

	// First/Last bound the stream by version, resolved to insertion
	// counters at open time. Bounds are inclusive unless the matching
	// Exclude flag is set.
	First, Last               []byte
	ExcludeFirst, ExcludeLast bool

	Reverse bool

	// Tail keeps the stream open past its initial snapshot, polling for
	// newly committed items every TailInterval (default 1s) instead of
	// returning io.EOF. Incompatible with Reverse and ignores Last.
	Tail         bool
	TailInterval time.Duration
}

// ReadStream is a lazy, pull-based cursor over a tree's items in
// insertion order (tree-wide, or within one id when scoped). Not safe for concurrent use
// by more than one goroutine.
type ReadStream struct {
	t       *Tree
	id      []byte
	reverse bool
	tail    bool
	tailInt time.Duration

	minI, maxI *uint64
	it         kv.Iterator

	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewReadStream opens a ReadStream over t per opts.
func NewReadStream(t *Tree, opts StreamOptions) (*ReadStream, error) {
	if opts.Tail && opts.Reverse {
		return nil, errors.New("tail streams cannot run in reverse")
	}
	tailInt := opts.TailInterval
	if tailInt <= 0 {
		tailInt = defaultTailInterval
	}

	var minI, maxI *uint64
	if opts.First != nil {
		item, err := t.resolveCommittedByVersion(opts.First)
		if err != nil {
			return nil, err
		}
		i := item.H.I
		if opts.ExcludeFirst {
			i++
		}
		minI = &i
	}
	if opts.Last != nil && !opts.Tail {
		item, err := t.resolveCommittedByVersion(opts.Last)
		if err != nil {
			return nil, err
		}
		i := item.H.I
		if !opts.ExcludeLast {
			i++
		}
		maxI = &i
	}
	if maxI == nil && !opts.Tail {
		t.mu.Lock()
		snap := t.maxI + 1
		t.mu.Unlock()
		maxI = &snap
	}

	return &ReadStream{
		t:       t,
		id:      append([]byte(nil), opts.ID...),
		reverse: opts.Reverse,
		tail:    opts.Tail,
		tailInt: tailInt,
		minI:    minI,
		maxI:    maxI,
		closeCh: make(chan struct{}),
	}, nil
}

// NewInsertionOrderStream is NewReadStream with ID left unset: the
// tree-wide stream ordered purely by insertion counter.
func NewInsertionOrderStream(t *Tree, opts StreamOptions) (*ReadStream, error) {
	opts.ID = nil
	return NewReadStream(t, opts)
}

func (s *ReadStream) currentRange() (kv.Range, error) {
	if s.id != nil {
		return kv.DSKeyRangeForID(s.t.name, s.id, s.t.iSize, s.minI, s.maxI)
	}
	return kv.IKeyRange(s.t.name, s.minI, s.maxI, s.t.iSize)
}

func (s *ReadStream) resolve(key, value []byte) (*Item, uint64, error) {
	if s.id != nil {
		parsed, err := kv.ParseKey(key)
		if err != nil {
			return nil, 0, err
		}
		item, err := Unmarshal(value)
		if err != nil {
			return nil, 0, err
		}
		return item, parsed.I, nil
	}
	parsed, err := kv.ParseKey(key)
	if err != nil {
		return nil, 0, err
	}
	item, err := s.t.resolveItemFromHeadKeyBytes(value)
	if err != nil {
		return nil, 0, err
	}
	return item, parsed.I, nil
}

// Next advances the stream and returns the next item. It returns io.EOF
// once a non-tail stream's snapshot is exhausted. A tail stream instead
// blocks, polling every TailInterval, until a new item commits, ctx is
// cancelled, or Close is called.
func (s *ReadStream) Next(ctx context.Context) (*Item, error) {
	for {
		select {
		case <-s.closeCh:
			return nil, ErrStreamClosed
		default:
		}

		if s.it == nil {
			r, err := s.currentRange()
			if err != nil {
				return nil, err
			}
			it, err := s.t.store.Iterate(r, s.reverse)
			if err != nil {
				return nil, err
			}
			s.it = it
		}

		if s.it.Next() {
			item, i, err := s.resolve(s.it.Key(), s.it.Value())
			if err != nil {
				return nil, err
			}
			if !s.reverse {
				next := i + 1
				s.minI = &next
			}
			return item, nil
		}
		if err := s.it.Err(); err != nil {
			return nil, err
		}
		s.it.Close()
		s.it = nil

		if !s.tail {
			return nil, io.EOF
		}

		s.t.log.Debug("tree: tail stream found nothing, sleeping", zap.String("tree", s.t.name), zap.Duration("interval", s.tailInt))
		timer := time.NewTimer(s.tailInt)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-s.closeCh:
			timer.Stop()
			return nil, ErrStreamClosed
		case <-timer.C:
		}
	}
}

// Close stops the stream; a blocked Next wakes with ErrStreamClosed.
func (s *ReadStream) Close() error {
	s.closeOnce.Do(func() { close(s.closeCh) })
	if s.it != nil {
		return s.it.Close()
	}
	return nil
}

// HeadReadStream is a pull-based cursor over a head snapshot, spec §4.3's
// createHeadReadStream. Heads are few enough per tree that the snapshot is
// taken eagerly at open time via GetHeads; Next just walks it, giving the
// same pull shape as ReadStream without the range-iterator machinery a
// much larger insertion-ordered scan needs.
type HeadReadStream struct {
	heads []Head
	pos   int
}

// NewHeadReadStream snapshots the current heads matching opts and returns
// a cursor over them, ascending by id then by insertion counter.
func NewHeadReadStream(t *Tree, opts HeadsOptions) (*HeadReadStream, error) {
	heads, err := t.GetHeads(opts)
	if err != nil {
		return nil, err
	}
	return &HeadReadStream{heads: heads}, nil
}

// Next returns the next head in the snapshot, or io.EOF once exhausted.
func (s *HeadReadStream) Next(ctx context.Context) (Head, error) {
	select {
	case <-ctx.Done():
		return Head{}, ctx.Err()
	default:
	}
	if s.pos >= len(s.heads) {
		return Head{}, io.EOF
	}
	h := s.heads[s.pos]
	s.pos++
	return h, nil
}

// Close is a no-op; HeadReadStream holds no resources beyond its snapshot.
func (s *HeadReadStream) Close() error { return nil }
