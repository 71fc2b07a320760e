// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package metadata provides an in-memory collection of segment metadata.
package metadata

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dacapoday/readindex"
)

// Segment holds the mutable state of one segment. Its accessors are safe for
// concurrent use; the write path updates it while readers observe it.
type Segment struct {
	id            int64
	name          string
	length        atomic.Int64
	storageLength atomic.Int64
	sealed        atomic.Bool
	deleted       atomic.Bool
	merged        atomic.Bool
}

var _ readindex.SegmentMetadata = (*Segment)(nil)

func (s *Segment) ID() int64            { return s.id }
func (s *Segment) Name() string         { return s.name }
func (s *Segment) Length() int64        { return s.length.Load() }
func (s *Segment) StorageLength() int64 { return s.storageLength.Load() }
func (s *Segment) IsSealed() bool       { return s.sealed.Load() }
func (s *Segment) IsDeleted() bool      { return s.deleted.Load() }
func (s *Segment) IsMerged() bool       { return s.merged.Load() }

// SetLength records the durable length of the segment.
func (s *Segment) SetLength(n int64) { s.length.Store(n) }

// SetStorageLength records how much of the segment has been flushed.
func (s *Segment) SetStorageLength(n int64) { s.storageLength.Store(n) }

func (s *Segment) Seal()        { s.sealed.Store(true) }
func (s *Segment) MarkDeleted() { s.deleted.Store(true) }
func (s *Segment) MarkMerged()  { s.merged.Store(true) }

func (s *Segment) String() string {
	return fmt.Sprintf("%s(%d) length=%d storage=%d sealed=%t deleted=%t merged=%t",
		s.name, s.id, s.Length(), s.StorageLength(), s.IsSealed(), s.IsDeleted(), s.IsMerged())
}

func (s *Segment) clone() *Segment {
	c := &Segment{id: s.id, name: s.name}
	c.length.Store(s.Length())
	c.storageLength.Store(s.StorageLength())
	c.sealed.Store(s.IsSealed())
	c.deleted.Store(s.IsDeleted())
	c.merged.Store(s.IsMerged())
	return c
}

// Collection is a set of segments keyed by id.
// It is safe for concurrent use and requires no initialization.
type Collection struct {
	rw       sync.RWMutex
	segments map[int64]*Segment
}

var _ readindex.Metadata = (*Collection)(nil)

// Add registers a new segment. It fails if the id is already taken.
func (c *Collection) Add(id int64, name string) (*Segment, error) {
	c.rw.Lock()
	defer c.rw.Unlock()
	if _, ok := c.segments[id]; ok {
		return nil, fmt.Errorf("%w: segment %d already exists", readindex.ErrInvalidArgument, id)
	}
	if c.segments == nil {
		c.segments = make(map[int64]*Segment)
	}
	s := &Segment{id: id, name: name}
	c.segments[id] = s
	return s, nil
}

// Get returns the segment with the given id.
func (c *Collection) Get(id int64) (*Segment, bool) {
	c.rw.RLock()
	defer c.rw.RUnlock()
	s, ok := c.segments[id]
	return s, ok
}

// GetStreamSegmentMetadata implements readindex.Metadata.
func (c *Collection) GetStreamSegmentMetadata(id int64) (readindex.SegmentMetadata, bool) {
	s, ok := c.Get(id)
	if !ok {
		return nil, false
	}
	return s, true
}

// Remove forgets a segment, reporting whether it existed.
func (c *Collection) Remove(id int64) bool {
	c.rw.Lock()
	defer c.rw.Unlock()
	_, ok := c.segments[id]
	delete(c.segments, id)
	return ok
}

// Len returns the number of segments.
func (c *Collection) Len() int {
	c.rw.RLock()
	defer c.rw.RUnlock()
	return len(c.segments)
}

// Clone returns a deep copy whose segments evolve independently.
func (c *Collection) Clone() *Collection {
	c.rw.RLock()
	defer c.rw.RUnlock()
	clone := &Collection{segments: make(map[int64]*Segment, len(c.segments))}
	for id, s := range c.segments {
		clone.segments[id] = s.clone()
	}
	return clone
}
