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

// Command perspectivectl is a thin inspection CLI over a tree store: list
// heads, stream items in insertion order, and print basic stats. It
// mirrors erigon's cmd/* convention of one cobra command tree per binary.
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/erigontech/perspectivedb/internal/numeric"
	"github.com/erigontech/perspectivedb/kv"
	"github.com/erigontech/perspectivedb/tree"
)

var (
	dbPath   string
	treeName string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "perspectivectl",
		Short: "inspect a perspectivedb tree store",
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "", "path to the bbolt database file")
	root.PersistentFlags().StringVar(&treeName, "tree", "", "tree name")
	root.MarkPersistentFlagRequired("db")
	root.MarkPersistentFlagRequired("tree")

	root.AddCommand(newHeadsCmd(), newStreamCmd(), newStatsCmd())
	return root
}

func openTree(cmd *cobra.Command) (*tree.Tree, error) {
	store, err := kv.OpenBoltStore(dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	log, err := zap.NewProduction()
	if err != nil {
		log = zap.NewNop()
	}
	t, err := tree.Open(store, treeName, tree.WithLogger(log))
	if err != nil {
		store.Close()
		return nil, errors.Wrap(err, "open tree")
	}
	return t, nil
}

func newHeadsCmd() *cobra.Command {
	var idHex string
	var skipConflicts, skipDeletes bool
	cmd := &cobra.Command{
		Use:   "heads",
		Short: "list current heads, optionally scoped to one id",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := openTree(cmd)
			if err != nil {
				return err
			}
			defer t.Close()

			opts := tree.HeadsOptions{SkipConflicts: skipConflicts, SkipDeletes: skipDeletes}
			if idHex != "" {
				opts.ID, err = hex.DecodeString(idHex)
				if err != nil {
					return errors.Wrap(err, "decode --id")
				}
			}
			heads, err := t.GetHeads(opts)
			if err != nil {
				return err
			}
			for _, h := range heads {
				fmt.Fprintf(cmd.OutOrStdout(), "id=%x v=%x i=%d conflict=%v deleted=%v\n",
					h.ID, h.V, h.I, h.Conflict, h.Deleted)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&idHex, "id", "", "hex-encoded id to scope to (omit for tree-wide heads)")
	cmd.Flags().BoolVar(&skipConflicts, "skip-conflicts", false, "omit heads with the conflict bit set")
	cmd.Flags().BoolVar(&skipDeletes, "skip-deletes", false, "omit deleted heads")
	return cmd
}

func newStreamCmd() *cobra.Command {
	var idHex, firstHex, lastHex, limitStr string
	var reverse, tail bool

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "stream items in insertion order",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := openTree(cmd)
			if err != nil {
				return err
			}
			defer t.Close()

			opts := tree.StreamOptions{Reverse: reverse, Tail: tail}
			if idHex != "" {
				opts.ID, err = hex.DecodeString(idHex)
				if err != nil {
					return errors.Wrap(err, "decode --id")
				}
			}
			if firstHex != "" {
				opts.First, err = hex.DecodeString(firstHex)
				if err != nil {
					return errors.Wrap(err, "decode --first")
				}
			}
			if lastHex != "" {
				opts.Last, err = hex.DecodeString(lastHex)
				if err != nil {
					return errors.Wrap(err, "decode --last")
				}
			}

			limit, ok := numeric.ParseUint64(limitStr)
			if !ok {
				return fmt.Errorf("invalid --limit %q", limitStr)
			}

			s, err := tree.NewReadStream(t, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			var n uint64
			for limit == 0 || n < limit {
				item, err := s.Next(ctx)
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "i=%d id=%x v=%x pa=%x c=%v d=%v body=%dB\n",
					item.H.I, item.H.ID, item.H.V, item.H.PA, item.H.C, item.H.D, len(item.Body))
				n++
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&idHex, "id", "", "hex-encoded id to scope the stream to")
	cmd.Flags().StringVar(&firstHex, "first", "", "hex-encoded version to start at (inclusive)")
	cmd.Flags().StringVar(&lastHex, "last", "", "hex-encoded version to stop at (inclusive)")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "stream newest-first")
	cmd.Flags().BoolVar(&tail, "tail", false, "keep streaming newly committed items")
	cmd.Flags().StringVar(&limitStr, "limit", "0", "stop after this many items, decimal or 0x-hex (0 = unlimited)")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "print head-count stats and write-side counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := openTree(cmd)
			if err != nil {
				return err
			}
			defer t.Close()

			hs, err := t.Stats()
			if err != nil {
				return err
			}
			ws := t.WriteStats()
			fmt.Fprintf(cmd.OutOrStdout(), "heads=%d conflict=%d deleted=%d maxI=%d outstanding=%d bufferDepth=%d\n",
				hs.Count, hs.Conflict, hs.Deleted, ws.MaxI, ws.Outstanding, ws.BufferDepth)
			return nil
		},
	}
}
