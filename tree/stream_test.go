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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeAndFlush(t *testing.T, tr *Tree, items ...*Item) {
	t.Helper()
	for _, it := range items {
		_, err := tr.Write(it)
		require.NoError(t, err)
	}
	waitFlush(t, tr)
}

func TestInsertionOrderStreamIsSnapshotAtOpen(t *testing.T) {
	tr := openTestTree(t)
	writeAndFlush(t, tr,
		&Item{H: Header{ID: id(1), V: v(1)}},
		&Item{H: Header{ID: id(2), V: v(2)}},
	)

	s, err := NewInsertionOrderStream(tr, StreamOptions{})
	require.NoError(t, err)
	defer s.Close()

	// A write after the stream opened must not appear in this snapshot.
	writeAndFlush(t, tr, &Item{H: Header{ID: id(3), V: v(3)}})

	ctx := context.Background()
	var seen [][]byte
	for {
		item, err := s.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		seen = append(seen, item.H.V)
	}
	require.Equal(t, [][]byte{v(1), v(2)}, seen)
}

func TestInsertionOrderStreamReverse(t *testing.T) {
	tr := openTestTree(t)
	writeAndFlush(t, tr,
		&Item{H: Header{ID: id(1), V: v(1)}},
		&Item{H: Header{ID: id(2), V: v(2)}},
	)

	s, err := NewInsertionOrderStream(tr, StreamOptions{Reverse: true})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	first, err := s.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, v(2), first.H.V)

	second, err := s.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, v(1), second.H.V)

	_, err = s.Next(ctx)
	require.Equal(t, io.EOF, err)
}

func TestIDFilteredStreamStaysInIDOrder(t *testing.T) {
	tr := openTestTree(t)
	writeAndFlush(t, tr,
		&Item{H: Header{ID: id(1), V: v(1)}},
		&Item{H: Header{ID: id(2), V: v(9)}},
		&Item{H: Header{ID: id(1), V: v(2), PA: [][]byte{v(1)}}},
	)

	s, err := NewReadStream(tr, StreamOptions{ID: id(1)})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	var seen [][]byte
	for {
		item, err := s.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		seen = append(seen, item.H.V)
	}
	require.Equal(t, [][]byte{v(1), v(2)}, seen)
}

func TestStreamBoundsExcludeFirst(t *testing.T) {
	tr := openTestTree(t)
	writeAndFlush(t, tr,
		&Item{H: Header{ID: id(1), V: v(1)}},
		&Item{H: Header{ID: id(1), V: v(2), PA: [][]byte{v(1)}}},
		&Item{H: Header{ID: id(1), V: v(3), PA: [][]byte{v(2)}}},
	)

	s, err := NewReadStream(tr, StreamOptions{ID: id(1), First: v(1), ExcludeFirst: true})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	item, err := s.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, v(2), item.H.V)
}

func TestTailStreamSeesLaterWrites(t *testing.T) {
	tr := openTestTree(t)
	writeAndFlush(t, tr, &Item{H: Header{ID: id(1), V: v(1)}})

	s, err := NewInsertionOrderStream(tr, StreamOptions{Tail: true, TailInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	first, err := s.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, v(1), first.H.V)

	done := make(chan struct{})
	go func() {
		writeAndFlush(t, tr, &Item{H: Header{ID: id(2), V: v(2)}})
		close(done)
	}()
	<-done

	second, err := s.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, v(2), second.H.V)
}

func TestHeadReadStreamWalksSnapshotOrder(t *testing.T) {
	tr := openTestTree(t)
	writeAndFlush(t, tr,
		&Item{H: Header{ID: id(2), V: v(1)}},
		&Item{H: Header{ID: id(1), V: v(2)}},
	)

	s, err := NewHeadReadStream(tr, HeadsOptions{})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	first, err := s.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, id(1), first.ID)

	second, err := s.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, id(2), second.ID)

	_, err = s.Next(ctx)
	require.Equal(t, io.EOF, err)
}

func TestTailRejectsReverse(t *testing.T) {
	tr := openTestTree(t)
	_, err := NewReadStream(tr, StreamOptions{Tail: true, Reverse: true})
	require.Error(t, err)
}

func TestStreamCloseWakesBlockedTail(t *testing.T) {
	tr := openTestTree(t)
	s, err := NewInsertionOrderStream(tr, StreamOptions{Tail: true, TailInterval: time.Minute})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrStreamClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not wake up after Close")
	}
}
