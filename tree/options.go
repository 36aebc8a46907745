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
	"go.uber.org/zap"

	"github.com/erigontech/perspectivedb/kv"
)

const (
	defaultVSize     = 6
	defaultISize     = 6
	defaultHighWater = 16
)

// Options configures a tree, spec §6.3. Open starts from defaults of
// vSize=6, iSize=6, a high-water mark of 16, no skipValidation, no local
// perspective and (when Log stays nil) a no-op logger, then applies each
// Option over them. validate rejects a VSize or ISize outside [1, 6], so a
// zero-value Options{} is not itself valid.
type Options struct {
	VSize            int
	ISize            int
	SkipValidation   bool
	LocalPerspective []byte
	Log              *zap.Logger
	HighWater        int
}

// Option mutates Options; Open applies them in order over the defaulted
// struct.
type Option func(*Options)

func WithVSize(n int) Option { return func(o *Options) { o.VSize = n } }
func WithISize(n int) Option { return func(o *Options) { o.ISize = n } }

// WithSkipValidation disables structural/duplicate/connectivity checks
// entirely (open question (b): treated as a strict superset of "no
// checks", not merely a relaxed root rule).
func WithSkipValidation() Option { return func(o *Options) { o.SkipValidation = true } }

// WithLocalPerspective sets the tree's own perspective tag; items whose
// h.pe differs from it bypass the local DAG validation rules (spec §4.4
// step 4).
func WithLocalPerspective(pe []byte) Option {
	return func(o *Options) { o.LocalPerspective = pe }
}

func WithLogger(l *zap.Logger) Option { return func(o *Options) { o.Log = l } }

func WithHighWaterMark(n int) Option { return func(o *Options) { o.HighWater = n } }

func defaultOptions() Options {
	return Options{VSize: defaultVSize, ISize: defaultISize, HighWater: defaultHighWater}
}

func (o Options) validate() error {
	if o.VSize <= 0 || o.VSize > 6 {
		return kv.ErrVSizeRange
	}
	if o.ISize <= 0 || o.ISize > 6 {
		return kv.ErrISizeRange
	}
	return nil
}
