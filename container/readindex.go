// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package container keeps the read indices of all segments of a container.
//
// ReadIndex creates per-segment indices on first use, routes appends, merges
// and reads to them, and drops them when segments are merged away, deleted,
// or when the container goes through recovery.
package container

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dacapoday/readindex"
	"github.com/dacapoday/readindex/buffer"
	"github.com/dacapoday/readindex/segment"
)

// Options configures a ReadIndex.
type Options struct {
	// Config is used for every segment index. The zero value selects
	// readindex.DefaultConfig.
	Config readindex.Config
	// Storage serves reads of flushed segment data.
	Storage readindex.Storage
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// ReadIndex is the read index of a container. It is safe for concurrent use.
type ReadIndex struct {
	config  readindex.Config
	storage readindex.Storage
	log     *slog.Logger
	closed  atomic.Bool

	rw       sync.RWMutex
	indices  map[int64]*segment.Index
	metadata readindex.Metadata
	recovery bool
}

// New creates a ReadIndex resolving segments through metadata.
func New(metadata readindex.Metadata, opts Options) (*ReadIndex, error) {
	if metadata == nil {
		return nil, readindex.ErrNilMetadata
	}
	if opts.Config == (readindex.Config{}) {
		opts.Config = readindex.DefaultConfig()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ReadIndex{
		config:   opts.Config,
		storage:  opts.Storage,
		log:      opts.Logger,
		indices:  make(map[int64]*segment.Index),
		metadata: metadata,
	}, nil
}

func (c *ReadIndex) check() error {
	if c.closed.Load() {
		return fmt.Errorf("read index: %w", readindex.ErrClosed)
	}
	return nil
}

// Append adds tail data to a segment.
func (c *ReadIndex) Append(id, offset int64, data buffer.View) error {
	if err := c.check(); err != nil {
		return err
	}
	ix, err := c.getOrCreate(id)
	if err != nil {
		return err
	}
	if ix.IsMerged() {
		return fmt.Errorf("%w: append to segment %d", readindex.ErrSegmentMerged, id)
	}
	return ix.Append(offset, data)
}

// BeginMerge starts merging the sealed segment sourceID into targetID at
// offset. The source is flagged merged and rejects appends and reads from
// now on.
func (c *ReadIndex) BeginMerge(targetID, offset, sourceID, sourceLength int64) error {
	if err := c.check(); err != nil {
		return err
	}
	target, err := c.getOrCreate(targetID)
	if err != nil {
		return err
	}
	source, err := c.getOrCreate(sourceID)
	if err != nil {
		return err
	}
	if source.IsMerged() {
		return fmt.Errorf("%w: merge source %d", readindex.ErrSegmentMerged, sourceID)
	}
	if err := target.BeginMerge(offset, source, sourceLength); err != nil {
		return err
	}
	source.MarkMerged()
	return nil
}

// CompleteMerge finalizes the merge of sourceID into targetID and drops the
// source's index.
func (c *ReadIndex) CompleteMerge(targetID, sourceID int64) error {
	if err := c.check(); err != nil {
		return err
	}
	target, err := c.getOrCreate(targetID)
	if err != nil {
		return err
	}
	if err := target.CompleteMerge(sourceID); err != nil {
		return err
	}

	c.rw.Lock()
	source := c.indices[sourceID]
	delete(c.indices, sourceID)
	c.rw.Unlock()
	if source != nil {
		c.close(source)
	}
	return nil
}

// Read returns a cursor over up to maxLength bytes of a segment starting at
// offset. See segment.Index.Read.
func (c *ReadIndex) Read(id, offset int64, maxLength int, timeout time.Duration) (*segment.ReadResult, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	ix, err := c.getOrCreate(id)
	if err != nil {
		return nil, err
	}
	if ix.IsMerged() {
		return nil, fmt.Errorf("%w: read segment %d", readindex.ErrSegmentMerged, id)
	}
	return ix.Read(offset, maxLength, timeout)
}

// TriggerFutureReads wakes pending reads of the given segments. Ids that are
// neither loaded nor known to the metadata are reported together in a
// *readindex.MissingSegmentsError after all other ids have been processed.
func (c *ReadIndex) TriggerFutureReads(ids []int64) error {
	if err := c.check(); err != nil {
		return err
	}
	var missing []int64
	for _, id := range ids {
		c.rw.RLock()
		ix := c.indices[id]
		metadata := c.metadata
		c.rw.RUnlock()

		if ix != nil {
			ix.TriggerFutureReads()
			continue
		}
		if _, ok := metadata.GetStreamSegmentMetadata(id); !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return &readindex.MissingSegmentsError{IDs: missing}
	}
	return nil
}

// Clear closes and drops every segment index. It is only allowed in
// recovery mode.
func (c *ReadIndex) Clear() error {
	if err := c.check(); err != nil {
		return err
	}
	c.rw.Lock()
	if !c.recovery {
		c.rw.Unlock()
		return fmt.Errorf("%w: clear", readindex.ErrNotRecovering)
	}
	dropped := c.detachAll()
	c.rw.Unlock()

	c.closeAll(dropped)
	return nil
}

// PerformGarbageCollection drops the indices of segments that the metadata
// no longer knows or reports deleted. It returns the number of indices dropped.
func (c *ReadIndex) PerformGarbageCollection() (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	c.rw.Lock()
	var dropped []*segment.Index
	for id, ix := range c.indices {
		m, ok := c.metadata.GetStreamSegmentMetadata(id)
		if ok && m != nil && !m.IsDeleted() {
			continue
		}
		delete(c.indices, id)
		dropped = append(dropped, ix)
	}
	c.rw.Unlock()

	c.closeAll(dropped)
	if len(dropped) > 0 {
		c.log.Info("garbage collected segment read indices", "count", len(dropped))
	}
	return len(dropped), nil
}

// EnterRecoveryMode switches to the recovery metadata and drops all indices.
// Indices created until ExitRecoveryMode accept appends and merges but no
// reads.
func (c *ReadIndex) EnterRecoveryMode(metadata readindex.Metadata) error {
	if err := c.check(); err != nil {
		return err
	}
	if metadata == nil {
		return fmt.Errorf("%w: enter recovery mode", readindex.ErrNilMetadata)
	}
	c.rw.Lock()
	if c.recovery {
		c.rw.Unlock()
		return fmt.Errorf("%w: enter recovery mode", readindex.ErrRecovering)
	}
	c.recovery = true
	c.metadata = metadata
	dropped := c.detachAll()
	c.rw.Unlock()

	c.closeAll(dropped)
	c.log.Info("entered recovery mode")
	return nil
}

// ExitRecoveryMode switches to the final metadata. On success every loaded
// index is reconciled with its final metadata; all of them are checked first
// and nothing changes if one fails. Without success all indices are dropped.
func (c *ReadIndex) ExitRecoveryMode(metadata readindex.Metadata, success bool) error {
	if err := c.check(); err != nil {
		return err
	}
	if metadata == nil {
		return fmt.Errorf("%w: exit recovery mode", readindex.ErrNilMetadata)
	}
	c.rw.Lock()
	if !c.recovery {
		c.rw.Unlock()
		return fmt.Errorf("%w: exit recovery mode", readindex.ErrNotRecovering)
	}

	var dropped []*segment.Index
	if success {
		final := make(map[int64]readindex.SegmentMetadata, len(c.indices))
		for id, ix := range c.indices {
			m, ok := metadata.GetStreamSegmentMetadata(id)
			if !ok || m == nil {
				c.rw.Unlock()
				return fmt.Errorf("%w: segment %d missing from final metadata", readindex.ErrSegmentNotFound, id)
			}
			if err := ix.CheckExitRecovery(m); err != nil {
				c.rw.Unlock()
				return err
			}
			final[id] = m
		}
		for id, ix := range c.indices {
			if err := ix.ExitRecoveryMode(final[id]); err != nil {
				c.rw.Unlock()
				return err
			}
		}
	} else {
		dropped = c.detachAll()
	}
	c.metadata = metadata
	c.recovery = false
	c.rw.Unlock()

	c.closeAll(dropped)
	c.log.Info("exited recovery mode", "success", success, "segments", c.Len())
	return nil
}

// InRecovery reports whether the read index is in recovery mode.
func (c *ReadIndex) InRecovery() bool {
	c.rw.RLock()
	defer c.rw.RUnlock()
	return c.recovery
}

// Len returns the number of loaded segment indices.
func (c *ReadIndex) Len() int {
	c.rw.RLock()
	defer c.rw.RUnlock()
	return len(c.indices)
}

// SegmentIDs returns the ids of the loaded segment indices in ascending order.
func (c *ReadIndex) SegmentIDs() []int64 {
	c.rw.RLock()
	defer c.rw.RUnlock()
	return slices.Sorted(maps.Keys(c.indices))
}

// Close closes every segment index. Pending reads fail with ErrClosed.
// Subsequent calls do nothing.
func (c *ReadIndex) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.rw.Lock()
	dropped := c.detachAll()
	c.rw.Unlock()

	c.closeAll(dropped)
	return nil
}

// getOrCreate returns the index of segment id, creating it if it is not
// loaded yet.
func (c *ReadIndex) getOrCreate(id int64) (*segment.Index, error) {
	c.rw.RLock()
	ix, ok := c.indices[id]
	c.rw.RUnlock()
	if ok {
		return ix, nil
	}

	c.rw.Lock()
	defer c.rw.Unlock()
	if err := c.check(); err != nil {
		return nil, err
	}
	if ix, ok := c.indices[id]; ok {
		return ix, nil
	}
	m, ok := c.metadata.GetStreamSegmentMetadata(id)
	if !ok || m == nil {
		return nil, fmt.Errorf("%w: segment %d", readindex.ErrSegmentNotFound, id)
	}
	ix = segment.New(m, c.recovery, segment.Options{
		Config:  c.config,
		Storage: c.storage,
		Logger:  c.log,
	})
	c.indices[id] = ix
	c.log.Debug("created segment read index", "segment", id, "recovery", c.recovery)
	return ix, nil
}

// detachAll empties the registry; c.rw must be held.
func (c *ReadIndex) detachAll() []*segment.Index {
	dropped := slices.Collect(maps.Values(c.indices))
	clear(c.indices)
	return dropped
}

func (c *ReadIndex) closeAll(indices []*segment.Index) {
	for _, ix := range indices {
		c.close(ix)
	}
}

// close closes a dropped index. Failures are logged and otherwise ignored so
// that one bad index does not keep the others open.
func (c *ReadIndex) close(ix *segment.Index) {
	if err := ix.Close(); err != nil {
		c.log.Warn("close segment read index", "segment", ix.ID(), "err", err)
	}
}
