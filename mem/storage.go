// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package mem provides an in-memory storage tier for segments.
package mem

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dacapoday/readindex"
)

// Storage keeps named, append-only segments in memory.
// It is safe for concurrent use by multiple goroutines.
//
// Storage requires no initialization - just declare and use:
//
//	var s Storage
//	s.Create("segment")
//	s.Write("segment", 0, []byte("hello"))
type Storage struct {
	// OnRead, if set, runs before every Read. A non-nil error fails the read.
	OnRead func(ctx context.Context, segment string, offset int64, n int) error

	rw       sync.RWMutex
	segments map[string]*chunks
	reads    atomic.Int64
}

var _ readindex.Storage = new(Storage)

// Create adds an empty segment.
func (s *Storage) Create(name string) error {
	s.rw.Lock()
	defer s.rw.Unlock()
	if _, ok := s.segments[name]; ok {
		return fmt.Errorf("%w: storage segment %q already exists", readindex.ErrInvalidArgument, name)
	}
	if s.segments == nil {
		s.segments = make(map[string]*chunks)
	}
	s.segments[name] = new(chunks)
	return nil
}

// Write appends a copy of p to the segment. offset must equal the current
// length of the segment.
func (s *Storage) Write(name string, offset int64, p []byte) error {
	s.rw.Lock()
	defer s.rw.Unlock()
	c, err := s.segment(name)
	if err != nil {
		return err
	}
	if size := c.size(); offset != size {
		return fmt.Errorf("%w: write to %q at %d, length is %d", readindex.ErrBadOffset, name, offset, size)
	}
	if len(p) > 0 {
		c.append(append([]byte(nil), p...))
	}
	return nil
}

// Concat appends the contents of source to target and deletes source.
func (s *Storage) Concat(target, source string) error {
	s.rw.Lock()
	defer s.rw.Unlock()
	if target == source {
		return fmt.Errorf("%w: concat %q into itself", readindex.ErrInvalidArgument, target)
	}
	dst, err := s.segment(target)
	if err != nil {
		return err
	}
	src, err := s.segment(source)
	if err != nil {
		return err
	}
	for i := range *src {
		dst.append(src.chunk(i))
	}
	delete(s.segments, source)
	return nil
}

// Delete removes a segment.
func (s *Storage) Delete(name string) error {
	s.rw.Lock()
	defer s.rw.Unlock()
	if _, err := s.segment(name); err != nil {
		return err
	}
	delete(s.segments, name)
	return nil
}

// Length returns the size of a segment.
func (s *Storage) Length(name string) (int64, error) {
	s.rw.RLock()
	defer s.rw.RUnlock()
	c, err := s.segment(name)
	if err != nil {
		return 0, err
	}
	return c.size(), nil
}

// Reads returns the number of Read calls served so far.
func (s *Storage) Reads() int64 {
	return s.reads.Load()
}

// Read implements readindex.Storage.
func (s *Storage) Read(ctx context.Context, name string, offset int64, p []byte) (n int, err error) {
	if offset < 0 {
		return 0, fmt.Errorf("%w: read %q at %d", readindex.ErrOutOfRange, name, offset)
	}
	if err = ctx.Err(); err != nil {
		return
	}
	if s.OnRead != nil {
		if err = s.OnRead(ctx, name, offset, len(p)); err != nil {
			return
		}
	}
	s.reads.Add(1)

	s.rw.RLock()
	defer s.rw.RUnlock()
	c, err := s.segment(name)
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	return c.readAt(p, offset)
}

func (s *Storage) segment(name string) (*chunks, error) {
	c, ok := s.segments[name]
	if !ok {
		return nil, fmt.Errorf("%w: storage segment %q", readindex.ErrSegmentNotFound, name)
	}
	return c, nil
}

// chunks is an append-only list of immutable byte slices.
type chunks []chunk

type chunk = struct {
	data []byte
	off  int64 // cumulative offset (end position of this chunk)
}

func (c chunks) size() int64 {
	l := len(c)
	if l == 0 {
		return 0
	}
	return c[l-1].off
}

func (c *chunks) append(data []byte) {
	*c = append(*c, chunk{data, c.size() + int64(len(data))})
}

func (c chunks) chunk(idx int) []byte {
	return c[idx].data
}

func (c chunks) seek(off int64) int {
	return sort.Search(len(c), func(i int) bool {
		return c[i].off > off
	})
}

func (c chunks) readAt(p []byte, off int64) (n int, err error) {
	idx := c.seek(off)
	if idx == len(c) {
		return 0, io.EOF
	}
	start := c[idx].off - int64(len(c[idx].data))
	n = copy(p, c[idx].data[off-start:])
	for n < len(p) {
		idx++
		if idx == len(c) {
			return n, io.EOF
		}
		n += copy(p[n:], c[idx].data)
	}
	return n, nil
}
