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
	"bytes"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/erigontech/perspectivedb/internal/numeric"
	"github.com/erigontech/perspectivedb/kv"
)

// ErrCounterExhausted is returned if the insertion counter would overflow
// a uint64 on the next write - a condition no real tree will ever reach,
// but one the engine refuses to wrap past silently.
var ErrCounterExhausted = errors.New("insertion counter exhausted")

// Tree is one named tree of item versions backed by a kv.Store, spec §3-§5.
// Writes are validated synchronously under mu and handed to a single
// commit-loop goroutine that applies them to the store in FIFO order -
// the Go shape of the source system's single-threaded, buffer-then-flush
// write path.
type Tree struct {
	store            kv.Store
	name             string
	vSize            int
	iSize            int
	skipValidation   bool
	localPerspective []byte
	log              *zap.Logger

	mu         sync.Mutex
	maxI       uint64
	buffer     *writeBuffer
	outstanding int
	highWater  int
	lowWater   int
	drainCond  *sync.Cond

	commitCh  chan pendingCommit
	closed    bool
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

type pendingCommit struct {
	ops  []kv.BatchOp
	item *Item // non-nil when this commit represents a new buffered version
}

// Open creates or attaches to a named tree over store, applying opts over
// the defaulted Options.
func Open(store kv.Store, name string, opts ...Option) (*Tree, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	log := o.Log
	if log == nil {
		log = zap.NewNop()
	}
	highWater := o.HighWater
	if highWater <= 0 {
		highWater = defaultHighWater
	}
	t := &Tree{
		store:            store,
		name:             name,
		vSize:            o.VSize,
		iSize:            o.ISize,
		skipValidation:   o.SkipValidation,
		localPerspective: append([]byte(nil), o.LocalPerspective...),
		log:              log,
		buffer:           newWriteBuffer(),
		highWater:        highWater,
		lowWater:         highWater / 2,
		commitCh:         make(chan pendingCommit, highWater),
	}
	t.drainCond = sync.NewCond(&t.mu)

	maxI, err := t.scanMaxI()
	if err != nil {
		return nil, err
	}
	t.maxI = maxI

	t.wg.Add(1)
	go t.commitLoop()
	return t, nil
}

// scanMaxI recovers the insertion counter from the highest ikey row
// already persisted, so a reopened tree resumes numbering where it left
// off.
func (t *Tree) scanMaxI() (uint64, error) {
	r, err := kv.IKeyRange(t.name, nil, nil, t.iSize)
	if err != nil {
		return 0, err
	}
	it, err := t.store.Iterate(r, true)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	if !it.Next() {
		return 0, it.Err()
	}
	parsed, err := kv.ParseKey(it.Key())
	if err != nil {
		return 0, err
	}
	return parsed.I, it.Err()
}

// Write validates item and, if accepted, assigns it an insertion counter
// and queues its Store mutations for the commit loop. It returns true if
// the tree has room below its high-water mark (default 16 outstanding
// items) for the caller to keep writing, false once that mark is reached
// or crossed — at which point the caller must await a drain notification
// (Flush returning) before resuming (spec §4.3/§5's backpressure signal).
func (t *Tree) Write(item *Item) (canWriteMore bool, err error) {
	if item == nil {
		return t.belowHighWater(), ErrHeaderRequired
	}
	if !t.skipValidation {
		if item.H.ID == nil || item.H.V == nil {
			return t.belowHighWater(), ErrHeaderRequired
		}
		if len(item.H.V) != t.vSize {
			return t.belowHighWater(), ErrVersionSizeMismatch
		}
		for _, p := range item.H.PA {
			if len(p) != t.vSize {
				return t.belowHighWater(), ErrParentsMustBeOrdered
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return true, errors.New("tree is closed")
	}

	if t.skipValidation {
		return t.writeAcceptedLocked(item)
	}

	existing, err := t.lookupExistingLocked(item.H.V)
	if err != nil {
		return t.belowHighWaterLocked(), err
	}
	isForeign := item.H.PE != nil && !bytes.Equal(item.H.PE, t.localPerspective)

	if existing != nil {
		if !isForeign {
			t.log.Warn("tree: rejected duplicate version", zap.String("tree", t.name), zap.Binary("v", item.H.V))
			return t.belowHighWaterLocked(), ErrNotValidNewItem
		}
		ops, changed, err := t.perspectiveReinsertionOpsLocked(existing, item)
		if err != nil {
			return t.belowHighWaterLocked(), err
		}
		if !changed {
			return t.belowHighWaterLocked(), nil
		}
		t.enqueueLocked(pendingCommit{ops: ops})
		return t.belowHighWaterLocked(), nil
	}

	if isForeign {
		return t.writeAcceptedLocked(item)
	}

	if len(item.H.PA) == 0 {
		heads, err := t.effectiveHeadsForIDLocked(item.H.ID)
		if err != nil {
			return t.belowHighWaterLocked(), err
		}
		var live []effectiveHead
		for _, h := range heads {
			if !h.Deleted {
				live = append(live, h)
			}
		}
		if len(live) > 0 {
			t.log.Warn("tree: rejected root write onto a live head", zap.String("tree", t.name), zap.Binary("id", item.H.ID))
			return t.belowHighWaterLocked(), ErrNotValidNewItem
		}
		if len(heads) > 0 {
			mostRecent := heads[0]
			for _, h := range heads[1:] {
				if h.I > mostRecent.I {
					mostRecent = h
				}
			}
			item.H.PA = [][]byte{mostRecent.V}
			t.log.Info("tree: deletion-reconnection", zap.String("tree", t.name), zap.Binary("id", item.H.ID), zap.Uint64("onto_i", mostRecent.I))
		}
	} else {
		for _, p := range item.H.PA {
			ok, err := t.versionExistsForIDLocked(p, item.H.ID)
			if err != nil {
				return t.belowHighWaterLocked(), err
			}
			if !ok {
				t.log.Warn("tree: rejected write with unknown parent", zap.String("tree", t.name), zap.Binary("id", item.H.ID))
				return t.belowHighWaterLocked(), ErrProblemParents
			}
		}
		t.log.Info("tree: connected write", zap.String("tree", t.name), zap.Binary("id", item.H.ID), zap.Int("parents", len(item.H.PA)))
	}

	return t.writeAcceptedLocked(item)
}

// writeAcceptedLocked stamps i, builds the batch ops for a brand-new
// version, and queues it. Callers must already hold mu and must have
// finished whatever validation applies (root rule, connectivity, or none
// of it for skipValidation/foreign-perspective items).
func (t *Tree) writeAcceptedLocked(item *Item) (bool, error) {
	next, overflowed := numeric.SafeAdd(t.maxI, 1)
	if overflowed {
		return t.belowHighWaterLocked(), ErrCounterExhausted
	}
	t.maxI = next
	item.H.I = t.maxI

	ops, err := t.buildOpsForNewItemLocked(item)
	if err != nil {
		t.maxI--
		return t.belowHighWaterLocked(), err
	}

	t.buffer.add(item)
	t.enqueueLocked(pendingCommit{ops: ops, item: item})
	t.log.Debug("tree: accepted item", zap.String("tree", t.name), zap.Binary("id", item.H.ID), zap.Binary("v", item.H.V), zap.Uint64("i", item.H.I))
	return t.belowHighWaterLocked(), nil
}

func (t *Tree) enqueueLocked(pc pendingCommit) {
	t.outstanding++
	t.commitCh <- pc
}

// belowHighWater reports whether the tree has room for another write
// below its high-water mark (spec §5/§4.3's backpressure signal: true
// means keep writing, false means the caller must await a drain
// notification before resuming).
func (t *Tree) belowHighWater() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.belowHighWaterLocked()
}

func (t *Tree) belowHighWaterLocked() bool {
	return t.outstanding < t.highWater
}

// buildOpsForNewItemLocked composes the atomic batch for a freshly-accepted
// item (spec §4.4 step 5): dskey/headkey/ikey/vkey puts, plus one headkey
// delete for every superseded parent, plus a uskey row when the item
// carries any perspective tag (h.pe non-nil, local or foreign).
//
// ikey's value is the literal headkey key bytes, and vkey's value is the
// literal dskey key bytes - not a dereferenced value. Both remain
// resolvable to id/v (ikey->headkey) or id/i (vkey->dskey) even after the
// target row is later deleted by head supersession, which is how
// insertion-ordered streams can still reconstruct superseded items.
func (t *Tree) buildOpsForNewItemLocked(item *Item) ([]kv.BatchOp, error) {
	dsKey, err := kv.DSKey(t.name, item.H.ID, t.iSize, item.H.I)
	if err != nil {
		return nil, err
	}
	raw, err := Marshal(item)
	if err != nil {
		return nil, err
	}
	headKey, err := kv.HeadKey(t.name, item.H.ID, t.vSize, item.H.V)
	if err != nil {
		return nil, err
	}
	headVal := kv.ComposeHeadVal(kv.HeadVal{Conflict: item.H.C, Deleted: item.H.D, I: item.H.I}, t.iSize)
	iKey, err := kv.IKey(t.name, t.iSize, item.H.I)
	if err != nil {
		return nil, err
	}
	vKey, err := kv.VKey(t.name, t.vSize, item.H.V)
	if err != nil {
		return nil, err
	}

	ops := []kv.BatchOp{
		{Key: dsKey, Value: raw},
		{Key: headKey, Value: headVal},
		{Key: iKey, Value: headKey},
		{Key: vKey, Value: dsKey},
	}
	for _, p := range item.H.PA {
		pHeadKey, err := kv.HeadKey(t.name, item.H.ID, t.vSize, p)
		if err != nil {
			return nil, err
		}
		ops = append(ops, kv.BatchOp{Key: pHeadKey, Value: nil})
	}
	if item.H.PE != nil {
		usKey, err := kv.USKey(t.name, item.H.PE, t.iSize, item.H.I)
		if err != nil {
			return nil, err
		}
		ops = append(ops, kv.BatchOp{Key: usKey, Value: append([]byte(nil), item.H.V...)})
	}
	return ops, nil
}

// perspectiveReinsertionOpsLocked handles a foreign-perspective item that
// names a version already known to the tree (spec §4.4 step 3's bypass
// exception): no new item is stored, but the perspective's last-seen
// marker advances to existing's i if that is newer than what's currently
// recorded.
func (t *Tree) perspectiveReinsertionOpsLocked(existing, incoming *Item) ([]kv.BatchOp, bool, error) {
	_, recordedI, found, err := t.latestPerspectiveMarkerLocked(incoming.H.PE)
	if err != nil {
		return nil, false, err
	}
	if found && recordedI >= existing.H.I {
		return nil, false, nil
	}
	usKey, err := kv.USKey(t.name, incoming.H.PE, t.iSize, existing.H.I)
	if err != nil {
		return nil, false, err
	}
	return []kv.BatchOp{{Key: usKey, Value: append([]byte(nil), existing.H.V...)}}, true, nil
}

// lookupExistingLocked resolves v to its stored or buffered item, or nil
// if unknown to the tree.
func (t *Tree) lookupExistingLocked(v []byte) (*Item, error) {
	if it, ok := t.buffer.byVersion(v); ok {
		return it, nil
	}
	vKey, err := kv.VKey(t.name, t.vSize, v)
	if err != nil {
		return nil, err
	}
	dsKey, err := t.store.Get(vKey)
	if err != nil {
		return nil, err
	}
	if dsKey == nil {
		return nil, nil
	}
	raw, err := t.store.Get(dsKey)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("vkey points at a missing dskey row")
	}
	return Unmarshal(raw)
}

func (t *Tree) versionExistsForIDLocked(v, id []byte) (bool, error) {
	it, err := t.lookupExistingLocked(v)
	if err != nil {
		return false, err
	}
	if it == nil {
		return false, nil
	}
	return bytes.Equal(it.H.ID, id), nil
}

type effectiveHead struct {
	V        []byte
	Conflict bool
	Deleted  bool
	I        uint64
}

// effectiveHeadsForIDLocked merges persisted headkey rows with buffered
// not-yet-committed items for id, excluding any version already named as
// a parent by a buffered item (it has been locally superseded even though
// its headkey delete hasn't committed yet).
func (t *Tree) effectiveHeadsForIDLocked(id []byte) ([]effectiveHead, error) {
	r, err := kv.HeadKeyRange(t.name, id)
	if err != nil {
		return nil, err
	}
	it, err := t.store.Iterate(r, false)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var persisted []effectiveHead
	for it.Next() {
		parsed, err := kv.ParseKey(it.Key())
		if err != nil {
			return nil, err
		}
		hv, err := kv.ParseHeadVal(it.Value())
		if err != nil {
			return nil, err
		}
		persisted = append(persisted, effectiveHead{V: append([]byte(nil), parsed.V...), Conflict: hv.Conflict, Deleted: hv.Deleted, I: hv.I})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	var bufItems []*Item
	for _, v := range t.buffer.versionsForID(id) {
		if bi, ok := t.buffer.byVersion([]byte(v)); ok {
			bufItems = append(bufItems, bi)
		}
	}

	superseded := make(map[string]bool)
	for _, bi := range bufItems {
		for _, p := range bi.H.PA {
			superseded[string(p)] = true
		}
	}

	var heads []effectiveHead
	for _, ph := range persisted {
		if !superseded[string(ph.V)] {
			heads = append(heads, ph)
		}
	}
	for _, bi := range bufItems {
		if !superseded[string(bi.H.V)] {
			heads = append(heads, effectiveHead{V: bi.H.V, Conflict: bi.H.C, Deleted: bi.H.D, I: bi.H.I})
		}
	}
	return heads, nil
}

// resolveCommittedByVersion resolves v to its stored item by following the
// vkey -> dskey indirection directly against the store, without consulting
// the write buffer. Stream range bounds are always derived from committed
// state, never from buffered-but-unflushed versions.
func (t *Tree) resolveCommittedByVersion(v []byte) (*Item, error) {
	vKey, err := kv.VKey(t.name, t.vSize, v)
	if err != nil {
		return nil, err
	}
	dsKey, err := t.store.Get(vKey)
	if err != nil {
		return nil, err
	}
	if dsKey == nil {
		return nil, ErrVersionNotFound
	}
	raw, err := t.store.Get(dsKey)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("vkey points at a missing dskey row")
	}
	return Unmarshal(raw)
}

// resolveItemFromHeadKeyBytes follows the ikey -> headkey -> vkey -> dskey
// chain: headKeyBytes is the literal key bytes stored as an ikey row's
// value, self-describing enough (id, v are encoded in the key itself) to
// resolve even after the headkey row has been deleted by supersession.
func (t *Tree) resolveItemFromHeadKeyBytes(headKeyBytes []byte) (*Item, error) {
	parsed, err := kv.ParseKey(headKeyBytes)
	if err != nil {
		return nil, err
	}
	return t.resolveCommittedByVersion(parsed.V)
}

// Head describes one current head row for an id: its version, whether it
// is flagged as a conflict or a deletion marker, and its insertion
// counter.
type Head struct {
	ID       []byte
	V        []byte
	Conflict bool
	Deleted  bool
	I        uint64
}

// Heads returns the current heads for id, merging persisted headkey rows
// with not-yet-committed buffered items.
func (t *Tree) Heads(id []byte) ([]Head, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	effs, err := t.effectiveHeadsForIDLocked(id)
	if err != nil {
		return nil, err
	}
	heads := make([]Head, len(effs))
	for i, e := range effs {
		heads[i] = Head{ID: id, V: e.V, Conflict: e.Conflict, Deleted: e.Deleted, I: e.I}
	}
	return heads, nil
}

// GetHeadVersions returns the current head versions for id, in insertion
// order. When skipDeletes is true, versions flagged deleted are omitted
// (spec §4.3's getHeads({skipDeletes:true})).
func (t *Tree) GetHeadVersions(id []byte, skipDeletes bool) ([][]byte, error) {
	heads, err := t.Heads(id)
	if err != nil {
		return nil, err
	}
	sortHeadsByI(heads)
	var out [][]byte
	for _, h := range heads {
		if skipDeletes && h.Deleted {
			continue
		}
		out = append(out, h.V)
	}
	return out, nil
}

func sortHeadsByI(heads []Head) {
	for i := 1; i < len(heads); i++ {
		for j := i; j > 0 && heads[j-1].I > heads[j].I; j-- {
			heads[j-1], heads[j] = heads[j], heads[j-1]
		}
	}
}

// AllHeads returns a snapshot of every currently persisted head across the
// whole tree. Unlike Heads, it reads the store directly and does not merge
// in buffered-but-uncommitted items.
func (t *Tree) AllHeads() ([]Head, error) {
	r, err := kv.HeadKeyRange(t.name, nil)
	if err != nil {
		return nil, err
	}
	it, err := t.store.Iterate(r, false)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []Head
	for it.Next() {
		parsed, err := kv.ParseKey(it.Key())
		if err != nil {
			return nil, err
		}
		hv, err := kv.ParseHeadVal(it.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, Head{
			ID:       append([]byte(nil), parsed.ID...),
			V:        append([]byte(nil), parsed.V...),
			Conflict: hv.Conflict,
			Deleted:  hv.Deleted,
			I:        hv.I,
		})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	sortHeadsByIDThenI(out)
	return out, nil
}

// sortHeadsByIDThenI orders heads ascending by id, then ascending by
// insertion counter within an id, per spec §4.3's getHeads ordering.
// headkey's on-disk layout sorts by (id, v), so the id grouping falls out
// of the scan for free but each id's versions need a stable i-ordered pass.
func sortHeadsByIDThenI(heads []Head) {
	start := 0
	for i := 1; i <= len(heads); i++ {
		if i == len(heads) || !bytes.Equal(heads[i].ID, heads[start].ID) {
			group := heads[start:i]
			for a := 1; a < len(group); a++ {
				for b := a; b > 0 && group[b-1].I > group[b].I; b-- {
					group[b-1], group[b] = group[b], group[b-1]
				}
			}
			start = i
		}
	}
}

// HeadsOptions filters GetHeads, spec §4.3's getHeads(opts).
type HeadsOptions struct {
	ID            []byte
	SkipConflicts bool
	SkipDeletes   bool
}

// GetHeads returns heads across the whole tree (or scoped to opts.ID),
// ascending by id then by insertion counter within an id, optionally
// filtering out conflicted and/or deleted heads.
func (t *Tree) GetHeads(opts HeadsOptions) ([]Head, error) {
	var all []Head
	var err error
	if opts.ID != nil {
		t.mu.Lock()
		eff, effErr := t.effectiveHeadsForIDLocked(opts.ID)
		t.mu.Unlock()
		if effErr != nil {
			return nil, effErr
		}
		for _, e := range eff {
			all = append(all, Head{ID: opts.ID, V: e.V, Conflict: e.Conflict, Deleted: e.Deleted, I: e.I})
		}
		sortHeadsByI(all)
	} else {
		all, err = t.AllHeads()
		if err != nil {
			return nil, err
		}
	}

	var out []Head
	for _, h := range all {
		if opts.SkipConflicts && h.Conflict {
			continue
		}
		if opts.SkipDeletes && h.Deleted {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// LastVersion returns the tree-wide version with the greatest insertion
// counter, whether or not it is currently a head (spec §4.3's
// lastVersion, which is deliberately not scoped by id — contrast
// GetHeadVersions/LastVersionForID). Consults the write buffer so a
// just-accepted, not-yet-committed item still counts as "last".
func (t *Tree) LastVersion() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var bestV []byte
	var bestI uint64
	found := false

	r, err := kv.IKeyRange(t.name, nil, nil, t.iSize)
	if err != nil {
		return nil, err
	}
	it, err := t.store.Iterate(r, true)
	if err != nil {
		return nil, err
	}
	if it.Next() {
		parsed, err := kv.ParseKey(it.Key())
		if err != nil {
			it.Close()
			return nil, err
		}
		item, err := t.resolveItemFromHeadKeyBytes(it.Value())
		if err != nil {
			it.Close()
			return nil, err
		}
		bestV, bestI, found = item.H.V, parsed.I, true
	}
	if err := it.Err(); err != nil {
		it.Close()
		return nil, err
	}
	it.Close()

	if bi, ok := t.buffer.lastItem(); ok {
		if !found || bi.H.I > bestI {
			bestV, found = bi.H.V, true
		}
	}
	if !found {
		return nil, ErrVersionNotFound
	}
	return bestV, nil
}

// LastVersionForID returns the most recently inserted version of id,
// whether or not it is currently a head. An extra, id-scoped convenience
// alongside the spec's tree-wide LastVersion.
func (t *Tree) LastVersionForID(id []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var bestV []byte
	var bestI uint64
	found := false

	r, err := kv.DSKeyRangeForID(t.name, id, t.iSize, nil, nil)
	if err != nil {
		return nil, err
	}
	it, err := t.store.Iterate(r, true)
	if err != nil {
		return nil, err
	}
	if it.Next() {
		item, err := Unmarshal(it.Value())
		if err != nil {
			it.Close()
			return nil, err
		}
		bestV, bestI, found = item.H.V, item.H.I, true
	}
	if err := it.Err(); err != nil {
		it.Close()
		return nil, err
	}
	it.Close()

	if bi, ok := t.buffer.lastItemForID(id); ok {
		if !found || bi.H.I > bestI {
			bestV, found = bi.H.V, true
		}
	}
	if !found {
		return nil, ErrVersionNotFound
	}
	return bestV, nil
}

// LastByPerspective returns the version last recorded as seen by
// perspective us.
func (t *Tree) LastByPerspective(us []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, _, found, err := t.latestPerspectiveMarkerLocked(us)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrVersionNotFound
	}
	return v, nil
}

// latestPerspectiveMarkerLocked returns the v and i recorded by the
// highest-i uskey row for us, if any.
func (t *Tree) latestPerspectiveMarkerLocked(us []byte) (v []byte, i uint64, found bool, err error) {
	r, err := kv.UsKeyRange(t.name, us)
	if err != nil {
		return nil, 0, false, err
	}
	it, err := t.store.Iterate(r, true)
	if err != nil {
		return nil, 0, false, err
	}
	defer it.Close()
	if !it.Next() {
		return nil, 0, false, it.Err()
	}
	parsed, err := kv.ParseKey(it.Key())
	if err != nil {
		return nil, 0, false, err
	}
	return append([]byte(nil), it.Value()...), parsed.I, true, nil
}

// commitLoop is the single goroutine that applies queued batches to the
// store in FIFO order, matching the source system's single-writer commit
// discipline (spec §5). It drains the buffer and signals waiters once
// outstanding work drops back to the low-water mark.
func (t *Tree) commitLoop() {
	defer t.wg.Done()
	for pc := range t.commitCh {
		err := t.store.Batch(pc.ops)
		t.mu.Lock()
		if err != nil {
			t.log.Warn("tree: commit failed", zap.String("tree", t.name), zap.Error(err))
		}
		if pc.item != nil {
			t.buffer.remove(pc.item)
		}
		t.outstanding--
		if t.outstanding <= t.lowWater {
			t.drainCond.Broadcast()
		}
		t.mu.Unlock()
	}
}

// Flush blocks until outstanding commits drop to or below the low-water
// mark, giving callers a way to wait out backpressure.
func (t *Tree) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.outstanding > t.lowWater {
		t.drainCond.Wait()
	}
}

// End optionally writes one last item, then blocks until every pending
// write (including that one) has committed — spec §4.3's end(item?),
// which closes the write input and fires a "finish" notification once
// the queue drains. Go has no separate close-then-event pair for a
// synchronous call, so End's return is that notification. Unlike Close,
// the underlying Store is left open: the tree can still be read from or
// streamed afterward, matching the spec's write-then-read model. Close
// is still required to release the Store once the tree is done entirely.
func (t *Tree) End(item *Item) error {
	if item != nil {
		if _, err := t.Write(item); err != nil {
			return err
		}
	}
	t.waitDrained()
	t.log.Info("tree: finished", zap.String("tree", t.name))
	return nil
}

func (t *Tree) waitDrained() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.outstanding > 0 {
		t.drainCond.Wait()
	}
}

// Del removes a stored headkey row directly, bypassing the commit queue
// and validation entirely. Spec §4.4 restricts this operation to
// skipValidation trees, since it can produce a tree state no ordinary
// write would ever reach (a headkey disappearing with nothing superseding
// it).
func (t *Tree) Del(id, v []byte) error {
	if !t.skipValidation {
		return ErrDelNeedsSkipVal
	}
	headKey, err := kv.HeadKey(t.name, id, t.vSize, v)
	if err != nil {
		return err
	}
	return t.store.Delete(headKey)
}

// SetConflictByVersion flips the conflict flag on the headkey row for id/v,
// if one still exists (it may have already been superseded).
func (t *Tree) SetConflictByVersion(id, v []byte, conflict bool) error {
	headKey, err := kv.HeadKey(t.name, id, t.vSize, v)
	if err != nil {
		return err
	}
	raw, err := t.store.Get(headKey)
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrVersionNotFound
	}
	hv, err := kv.ParseHeadVal(raw)
	if err != nil {
		return err
	}
	hv.Conflict = conflict
	return t.store.Put(headKey, kv.ComposeHeadVal(hv, t.iSize))
}

// GetByVersion resolves v to its stored item, consulting the write buffer
// first.
func (t *Tree) GetByVersion(v []byte) (*Item, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if buffered, ok := t.buffer.byVersion(v); ok {
		// Buffered items are returned by the same pointer the write
		// pipeline still owns; clone the header so a caller mutating it
		// can't corrupt in-flight commit state.
		return &Item{H: buffered.H.Clone(), Body: append([]byte(nil), buffered.Body...)}, nil
	}
	it, err := t.lookupExistingLocked(v)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, ErrVersionNotFound
	}
	return it, nil
}

// GetRawByVersion resolves v to its encoded on-disk bytes without
// deserializing, spec §4.3's getByVersion raw-bytes option.
func (t *Tree) GetRawByVersion(v []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if buffered, ok := t.buffer.byVersion(v); ok {
		return Marshal(buffered)
	}
	vKey, err := kv.VKey(t.name, t.vSize, v)
	if err != nil {
		return nil, err
	}
	dsKey, err := t.store.Get(vKey)
	if err != nil {
		return nil, err
	}
	if dsKey == nil {
		return nil, ErrVersionNotFound
	}
	raw, err := t.store.Get(dsKey)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("vkey points at a missing dskey row")
	}
	return raw, nil
}

// InBufferByVersion reports whether v is currently in the write buffer
// (accepted, assigned an i, not yet committed).
func (t *Tree) InBufferByVersion(v []byte) bool {
	_, ok := t.buffer.byVersion(v)
	return ok
}

// InBufferByID reports whether any version of id is currently buffered.
func (t *Tree) InBufferByID(id []byte) bool {
	return t.buffer.byIDAny(id)
}

// BufferDepth returns the number of items currently buffered awaiting
// commit.
func (t *Tree) BufferDepth() int {
	return t.buffer.depth()
}

// HeadStats aggregates every currently persisted headkey entry across the
// whole tree, spec §4.3's stats() operation.
type HeadStats struct {
	Count    int
	Conflict int
	Deleted  int
}

// Stats aggregates {count, conflict, deleted} over every headkey entry in
// the tree (spec §4.3). Not merged with write-side introspection: see
// WriteStats for outstanding/buffer-depth gauges, a supplemental addition
// spec.md does not define.
func (t *Tree) Stats() (HeadStats, error) {
	heads, err := t.AllHeads()
	if err != nil {
		return HeadStats{}, err
	}
	var hs HeadStats
	for _, h := range heads {
		hs.Count++
		if h.Conflict {
			hs.Conflict++
		}
		if h.Deleted {
			hs.Deleted++
		}
	}
	return hs, nil
}

// WriteStats summarizes the tree's current write-side state: the
// insertion counter, outstanding (queued-but-not-committed) writes, and
// write-buffer depth. Supplemental beyond spec.md's stats() (see
// SPEC_FULL.md §12).
type WriteStats struct {
	MaxI        uint64
	Outstanding int
	BufferDepth int
}

func (t *Tree) WriteStats() WriteStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return WriteStats{MaxI: t.maxI, Outstanding: t.outstanding, BufferDepth: t.buffer.depth()}
}

// The following expose the range planner's outputs directly to advanced
// callers who want to run their own scans against the Store (spec §4.3:
// getHeadKeyRange/getDsKeyRange/getIKeyRange/getVKeyRange/getUsKeyRange).

func (t *Tree) HeadKeyRange(id []byte) (kv.Range, error) { return kv.HeadKeyRange(t.name, id) }

func (t *Tree) DSKeyRange(id []byte, minI, maxI *uint64) (kv.Range, error) {
	if id != nil {
		return kv.DSKeyRangeForID(t.name, id, t.iSize, minI, maxI)
	}
	return kv.DSKeyRange(t.name, minI, maxI, t.iSize)
}

func (t *Tree) IKeyRange(minI, maxI *uint64) (kv.Range, error) {
	return kv.IKeyRange(t.name, minI, maxI, t.iSize)
}

func (t *Tree) VKeyRange() (kv.Range, error) { return kv.VKeyRange(t.name, t.vSize) }

func (t *Tree) UsKeyRange(us []byte) (kv.Range, error) { return kv.UsKeyRange(t.name, us) }

// Close stops the commit loop after draining any queued commits, and
// closes the underlying store.
func (t *Tree) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.commitCh)
		t.wg.Wait()
		t.closeErr = t.store.Close()
	})
	return t.closeErr
}
