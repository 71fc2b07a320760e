// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package segment implements the read index of a single segment.
//
// An Index stitches together the bytes of a segment from three places:
// tail data appended from the durable log, data read back from the storage
// tier (cached for read-ahead), and the data of other segments being merged
// into it. Reads return a ReadResult that yields the requested range as a
// sequence of entries, each of which may be served from memory, fetched from
// storage, or completed later when the bytes arrive.
package segment

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dacapoday/readindex"
	"github.com/dacapoday/readindex/buffer"
	"github.com/dacapoday/readindex/internal/rangetree"
	"golang.org/x/sync/singleflight"
)

// Options configures an Index.
type Options struct {
	Config  readindex.Config
	Storage readindex.Storage
	Logger  *slog.Logger
}

// Index is the read index of one segment. It is safe for concurrent use.
type Index struct {
	id      int64
	config  readindex.Config
	storage readindex.Storage
	log     *slog.Logger

	// done is closed by Close; ctx is cancelled at the same time and scopes
	// storage fetches, which are shared between readers.
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	merged  atomic.Bool
	fetches singleflight.Group

	// A target's mu may be held while taking the mu of a segment merging
	// into it, never the reverse.
	mu         sync.Mutex
	metadata   readindex.SegmentMetadata
	recovery   bool
	closed     bool
	tree       rangetree.Tree[*entry] // nil value marks a removed entry
	tombstones int
	nextOffset int64 // -1 until the first append or merge
	cached     int64
	clock      uint64
	futures    []*futureRead
	merges     map[int64]*entry // pending merges by source id
	into       *Index           // target this segment is merging into
}

// entry covers [offset, offset+length) of the segment. It either holds data
// (from an append or a storage read) or redirects to a segment being merged.
type entry struct {
	offset   int64
	length   int64
	data     buffer.View
	source   *Index
	lastUsed uint64
}

func (e *entry) end() int64 {
	return e.offset + e.length
}

// New creates the read index of the segment described by metadata.
// recovery marks an index built while the log is being replayed: it accepts
// appends and merges but no reads until ExitRecoveryMode.
func New(metadata readindex.SegmentMetadata, recovery bool, opts Options) *Index {
	if opts.Config == (readindex.Config{}) {
		opts.Config = readindex.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Index{
		id:         metadata.ID(),
		config:     opts.Config,
		storage:    opts.Storage,
		log:        opts.Logger.With("segment", metadata.ID()),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		metadata:   metadata,
		recovery:   recovery,
		nextOffset: -1,
		merges:     make(map[int64]*entry),
	}
}

// ID returns the segment id.
func (ix *Index) ID() int64 {
	return ix.id
}

// Metadata returns the metadata the index currently works against.
func (ix *Index) Metadata() readindex.SegmentMetadata {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.metadata
}

// IsMerged reports whether the segment has been merged into another one.
func (ix *Index) IsMerged() bool {
	return ix.merged.Load()
}

// MarkMerged flags the segment as merged. There is no way back.
func (ix *Index) MarkMerged() {
	ix.merged.Store(true)
}

// InRecovery reports whether the index is in recovery mode.
func (ix *Index) InRecovery() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.recovery
}

// Append adds tail data at offset. The bytes must already be accounted for
// in the segment's metadata length, and offset must continue exactly where
// the previous append or merge ended.
//
// The index retains data; the caller keeps its own reference.
func (ix *Index) Append(offset int64, data buffer.View) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.writable(); err != nil {
		return err
	}
	length := int64(data.Len())
	if err := ix.checkOffset(offset, length); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}

	ix.dropOverlaps(offset, length)
	data.Retain()
	ix.put(&entry{offset: offset, length: length, data: data, lastUsed: ix.tick()})
	ix.nextOffset = offset + length
	ix.evict()
	ix.completeFutures()
	return nil
}

// BeginMerge records that the whole of source, length bytes, becomes part of
// this segment at offset. Until CompleteMerge, reads of that range are
// served by source.
//
// A segment merging into another cannot be a merge target itself, and a
// segment with pending merges cannot be a merge source.
func (ix *Index) BeginMerge(offset int64, source *Index, length int64) error {
	if source == ix {
		return fmt.Errorf("%w: segment %d cannot merge into itself", readindex.ErrInvalidArgument, ix.id)
	}
	if err := source.claim(ix, length); err != nil {
		return err
	}
	if err := ix.beginMerge(offset, source, length); err != nil {
		source.unclaim(ix)
		return err
	}
	return nil
}

func (ix *Index) beginMerge(offset int64, source *Index, length int64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.writable(); err != nil {
		return err
	}
	if ix.into != nil {
		return fmt.Errorf("%w: segment %d is merging into %d", readindex.ErrInvalidArgument, ix.id, ix.into.id)
	}
	if err := ix.checkOffset(offset, length); err != nil {
		return err
	}

	e := &entry{offset: offset, length: length, source: source}
	ix.merges[source.id] = e
	if length > 0 {
		ix.dropOverlaps(offset, length)
		ix.put(e)
	}
	ix.nextOffset = offset + length
	ix.completeFutures()
	ix.log.Debug("begin merge", "source", source.id, "offset", offset, "length", length)
	return nil
}

// claim reserves the index as the source of a merge into target.
func (ix *Index) claim(target *Index, length int64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return fmt.Errorf("merge source %d: %w", ix.id, ErrClosed)
	}
	if ix.merged.Load() {
		return fmt.Errorf("%w: merge source %d", ErrSegmentMerged, ix.id)
	}
	if ix.into != nil {
		return fmt.Errorf("%w: segment %d is already merging into %d", readindex.ErrInvalidArgument, ix.id, ix.into.id)
	}
	if !ix.metadata.IsSealed() {
		return fmt.Errorf("%w: merge source %d", ErrSegmentNotSealed, ix.id)
	}
	if l := ix.metadata.Length(); l != length {
		return fmt.Errorf("%w: merge source %d has length %d, not %d", ErrMetadataMismatch, ix.id, l, length)
	}
	if len(ix.merges) > 0 {
		return fmt.Errorf("%w: merge source %d has pending merges", ErrMergeIncomplete, ix.id)
	}
	ix.into = target
	return nil
}

func (ix *Index) unclaim(target *Index) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.into == target {
		ix.into = nil
	}
}

// CompleteMerge finalizes the merge of sourceID once its data is in this
// segment's storage. Data cached by the source is adopted at shifted offsets;
// the rest is read from storage from now on.
func (ix *Index) CompleteMerge(sourceID int64) error {
	ix.mu.Lock()
	e, err := ix.pendingMerge(sourceID)
	ix.mu.Unlock()
	if err != nil {
		return err
	}

	adopted := e.source.transfer(e.offset, e.length)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if cur, err := ix.pendingMerge(sourceID); err != nil || cur != e {
		for _, a := range adopted {
			a.data.Release()
		}
		if err == nil {
			err = fmt.Errorf("%w: segment %d into %d", ErrMergeNotFound, sourceID, ix.id)
		}
		return err
	}
	delete(ix.merges, sourceID)
	if e.length > 0 {
		ix.remove(e)
	}
	for _, a := range adopted {
		a.lastUsed = ix.tick()
		ix.put(a)
	}
	ix.evict()
	ix.completeFutures()
	ix.log.Debug("complete merge", "source", sourceID, "adopted", len(adopted))
	return nil
}

// pendingMerge returns the merge of sourceID if it can be completed.
func (ix *Index) pendingMerge(sourceID int64) (*entry, error) {
	if ix.closed {
		return nil, fmt.Errorf("segment %d: %w", ix.id, ErrClosed)
	}
	e, ok := ix.merges[sourceID]
	if !ok {
		return nil, fmt.Errorf("%w: segment %d into %d", ErrMergeNotFound, sourceID, ix.id)
	}
	if sl := ix.metadata.StorageLength(); sl < e.end() {
		return nil, fmt.Errorf("%w: segment %d storage length %d does not cover merged range [%d, %d)",
			ErrMergeIncomplete, ix.id, sl, e.offset, e.end())
	}
	return e, nil
}

// transfer returns retained copies of the cached entries within [0, length),
// shifted by offset.
func (ix *Index) transfer(offset, length int64) (adopted []*entry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return
	}
	for _, e := range ix.tree.Items {
		if e == nil || e.data == nil || e.offset >= length {
			continue
		}
		data := e.data
		if e.end() > length {
			data, _ = data.Slice(0, int(length-e.offset))
		}
		data.Retain()
		adopted = append(adopted, &entry{offset: offset + e.offset, length: int64(data.Len()), data: data})
	}
	return
}

// TriggerFutureReads wakes pending reads whose bytes have become available,
// including reads waiting on segments being merged into this one.
func (ix *Index) TriggerFutureReads() {
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return
	}
	ix.evict()
	ix.completeFutures()
	sources := make([]*Index, 0, len(ix.merges))
	for _, e := range ix.merges {
		sources = append(sources, e.source)
	}
	ix.mu.Unlock()

	for _, source := range sources {
		source.TriggerFutureReads()
	}
}

// CheckExitRecovery reports whether ExitRecoveryMode would accept metadata.
func (ix *Index) CheckExitRecovery(metadata readindex.SegmentMetadata) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.checkExitRecovery(metadata)
}

func (ix *Index) checkExitRecovery(metadata readindex.SegmentMetadata) error {
	switch {
	case ix.closed:
		return fmt.Errorf("segment %d: %w", ix.id, ErrClosed)
	case !ix.recovery:
		return fmt.Errorf("%w: segment %d", ErrNotRecovering, ix.id)
	case metadata == nil:
		return fmt.Errorf("%w: segment %d", ErrNilMetadata, ix.id)
	case metadata.ID() != ix.id:
		return fmt.Errorf("%w: segment %d given metadata of segment %d", ErrMetadataMismatch, ix.id, metadata.ID())
	case ix.nextOffset > metadata.Length():
		return fmt.Errorf("%w: segment %d holds data up to %d, final length is %d",
			ErrMetadataMismatch, ix.id, ix.nextOffset, metadata.Length())
	}
	return nil
}

// ExitRecoveryMode switches the index to the final metadata and enables reads.
func (ix *Index) ExitRecoveryMode(metadata readindex.SegmentMetadata) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.checkExitRecovery(metadata); err != nil {
		return err
	}
	ix.metadata = metadata
	ix.recovery = false
	if metadata.IsMerged() {
		ix.merged.Store(true)
	}
	return nil
}

// Close releases all cached data and fails pending reads with ErrClosed.
// Closing twice returns ErrClosed.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return fmt.Errorf("segment %d: %w", ix.id, ErrClosed)
	}
	ix.closed = true
	close(ix.done)
	ix.cancel()

	for _, e := range ix.tree.Items {
		if e != nil && e.data != nil {
			e.data.Release()
		}
	}
	ix.tree.Reset()
	ix.tombstones = 0
	ix.cached = 0
	ix.futures = nil
	clear(ix.merges)
	return nil
}

// Stats describes the state of an Index.
type Stats struct {
	Entries       int
	CachedBytes   int64
	FutureReads   int
	PendingMerges int
	NextOffset    int64
}

// Stats returns a snapshot of the index state.
func (ix *Index) Stats() Stats {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return Stats{
		Entries:       ix.tree.Len() - ix.tombstones,
		CachedBytes:   ix.cached,
		FutureReads:   len(ix.futures),
		PendingMerges: len(ix.merges),
		NextOffset:    ix.nextOffset,
	}
}

func (ix *Index) writable() error {
	if ix.closed {
		return fmt.Errorf("segment %d: %w", ix.id, ErrClosed)
	}
	if ix.merged.Load() {
		return fmt.Errorf("%w: segment %d", ErrSegmentMerged, ix.id)
	}
	return nil
}

func (ix *Index) checkOffset(offset, length int64) error {
	if offset < 0 || length < 0 {
		return fmt.Errorf("%w: segment %d [%d, %d)", ErrBadOffset, ix.id, offset, offset+length)
	}
	if ix.nextOffset >= 0 && offset != ix.nextOffset {
		return fmt.Errorf("%w: segment %d expects offset %d, got %d", ErrBadOffset, ix.id, ix.nextOffset, offset)
	}
	if l := ix.metadata.Length(); offset+length > l {
		return fmt.Errorf("%w: segment %d [%d, %d) exceeds length %d", ErrBadOffset, ix.id, offset, offset+length, l)
	}
	return nil
}

func (ix *Index) tick() uint64 {
	ix.clock++
	return ix.clock
}

func (ix *Index) put(e *entry) {
	if old, found := ix.tree.Get(e.offset); found && old == nil {
		ix.tombstones--
	}
	ix.tree.Set(e.offset, e)
	if e.data != nil {
		ix.cached += e.length
	}
}

func (ix *Index) remove(e *entry) {
	ix.tree.Set(e.offset, nil)
	ix.tombstones++
	if e.data != nil {
		ix.cached -= e.length
		e.data.Release()
	}
	if ix.tombstones > ix.config.CompactThreshold {
		ix.compact()
	}
}

func (ix *Index) compact() {
	var tree rangetree.Tree[*entry]
	for offset, e := range ix.tree.Items {
		if e != nil {
			tree.Set(offset, e)
		}
	}
	ix.tree = tree
	ix.tombstones = 0
}

// floor returns the live entry with the greatest offset <= offset.
func (ix *Index) floor(offset int64) *entry {
	for {
		key, e, ok := ix.tree.Floor(offset)
		if !ok {
			return nil
		}
		if e != nil {
			return e
		}
		offset = key - 1
	}
}

// ceil returns the live entry with the least offset >= offset.
func (ix *Index) ceil(offset int64) *entry {
	for {
		key, e, ok := ix.tree.Ceil(offset)
		if !ok {
			return nil
		}
		if e != nil {
			return e
		}
		offset = key + 1
	}
}

// dropOverlaps removes cached entries intersecting [offset, offset+length).
// Only storage reads cached before the first append can overlap new data.
func (ix *Index) dropOverlaps(offset, length int64) {
	var overlaps []*entry
	if e := ix.floor(offset); e != nil && e.end() > offset {
		overlaps = append(overlaps, e)
	}
	for e := ix.ceil(offset); e != nil && e.offset < offset+length; e = ix.ceil(e.offset + 1) {
		if !slices.Contains(overlaps, e) {
			overlaps = append(overlaps, e)
		}
	}
	for _, e := range overlaps {
		ix.remove(e)
	}
}
