// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/dacapoday/readindex/buffer"
)

// EntryType tells where the bytes of an Entry come from.
type EntryType uint8

const (
	// Cache entries are served from memory without waiting.
	Cache EntryType = iota + 1
	// Storage entries are fetched from the storage tier.
	Storage
	// Future entries wait for bytes that have not been appended yet.
	Future

	endOfSegment
)

func (t EntryType) String() string {
	switch t {
	case Cache:
		return "cache"
	case Storage:
		return "storage"
	case Future:
		return "future"
	case endOfSegment:
		return "end-of-segment"
	}
	return fmt.Sprintf("EntryType(%d)", uint8(t))
}

// Read returns a cursor over up to maxLength bytes starting at offset.
// Waits for storage or future data are bounded by timeout; a timeout <= 0
// waits until the context passed to Entry.Content is done.
//
// offset may equal the segment length, in which case the read waits for
// new data (or ends immediately if the segment is sealed).
func (ix *Index) Read(offset int64, maxLength int, timeout time.Duration) (*ReadResult, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.writable(); err != nil {
		return nil, err
	}
	if ix.recovery {
		return nil, fmt.Errorf("%w: read segment %d", ErrRecovering, ix.id)
	}
	if offset < 0 || maxLength < 0 || offset > ix.metadata.Length() {
		return nil, fmt.Errorf("%w: read segment %d at %d (length %d)", ErrOutOfRange, ix.id, offset, ix.metadata.Length())
	}
	return &ReadResult{
		index:   ix,
		offset:  offset,
		max:     maxLength,
		timeout: timeout,
	}, nil
}

// ReadResult is a forward-only cursor over a read range. It is not safe for
// concurrent use and cannot be restarted.
//
// Usage:
//
//	for result.Next() {
//	    view, err := result.Entry().Content(ctx)
//	    if err != nil {
//	        break
//	    }
//	    // use view, then view.Release()
//	}
//	if err := result.Err(); err != nil {
//	    // handle error
//	}
type ReadResult struct {
	index    *Index
	offset   int64
	max      int
	timeout  time.Duration
	consumed int
	entry    *Entry
	err      error
	eos      bool
	closed   bool
}

// Offset returns the offset the read started at.
func (r *ReadResult) Offset() int64 {
	return r.offset
}

// MaxLength returns the number of bytes requested.
func (r *ReadResult) MaxLength() int {
	return r.max
}

// Consumed returns the number of bytes delivered so far.
func (r *ReadResult) Consumed() int {
	return r.consumed
}

// EndOfSegment reports whether the read stopped at the end of a sealed segment.
func (r *ReadResult) EndOfSegment() bool {
	return r.eos
}

// Err returns the error that stopped the cursor, if any.
func (r *ReadResult) Err() error {
	return r.err
}

// Entry returns the entry produced by the last successful call to Next.
func (r *ReadResult) Entry() *Entry {
	return r.entry
}

// Next resolves the entry at the current position. It returns false when
// the requested range is exhausted, the segment ended, or an error occurred.
// The previous entry's content must have been retrieved before calling Next.
func (r *ReadResult) Next() bool {
	if r.closed || r.eos || r.err != nil {
		return false
	}
	if r.entry != nil && !r.entry.consumed {
		r.err = fmt.Errorf("%w: entry at %d", ErrReadPending, r.entry.offset)
		r.entry.abandon()
		return false
	}
	r.entry = nil
	if r.consumed >= r.max {
		return false
	}

	offset := r.offset + int64(r.consumed)
	e, err := r.index.entryAt(offset, r.max-r.consumed)
	if err != nil {
		r.err = err
		return false
	}
	if e.kind == endOfSegment {
		r.eos = true
		return false
	}
	e.read = r
	e.offset = offset
	r.entry = e
	return true
}

// ReadAll drains the cursor into a single view. The caller owns the returned
// view and releases it when done.
func (r *ReadResult) ReadAll(ctx context.Context) (buffer.View, error) {
	var views []buffer.View
	for r.Next() {
		v, err := r.entry.Content(ctx)
		if err != nil {
			break
		}
		views = append(views, v)
	}
	if err := r.Err(); err != nil {
		for _, v := range views {
			v.Release()
		}
		return nil, err
	}
	return buffer.Wrap(views...), nil
}

// Close abandons the cursor. An entry whose content was never retrieved is
// released and stops waiting for data.
func (r *ReadResult) Close() {
	if r.closed {
		return
	}
	r.closed = true
	if e := r.entry; e != nil && !e.consumed {
		e.abandon()
	}
}

func (r *ReadResult) advance(e *Entry, v buffer.View, err error) {
	e.consumed = true
	switch {
	case err == nil:
		r.consumed += v.Len()
	case err == io.EOF:
		r.eos = true
	default:
		r.err = err
	}
}

// Entry is one step of a ReadResult.
type Entry struct {
	kind   EntryType
	offset int64 // position in the segment being read
	length int

	index    *Index // resolving index, a merge source when redirected
	local    int64  // position within index
	view     buffer.View
	future   *futureRead
	consumed bool

	read *ReadResult
}

// Type returns where the entry's bytes come from.
func (e *Entry) Type() EntryType {
	return e.kind
}

// Offset returns the segment offset of the entry's first byte.
func (e *Entry) Offset() int64 {
	return e.offset
}

// RequestedLength returns the maximum number of bytes the entry delivers.
func (e *Entry) RequestedLength() int {
	return e.length
}

// Redirected reports whether the entry is served by a segment being merged
// into the segment being read.
func (e *Entry) Redirected() bool {
	return e.index != e.read.index
}

// Content returns the entry's bytes, waiting for storage or future data if
// needed. The returned view holds a reference owned by the caller.
//
// Content returns io.EOF if the segment was sealed while the entry waited at
// its end, ErrTimeout if the read's timeout elapsed, and ErrClosed if the
// index was closed.
func (e *Entry) Content(ctx context.Context) (buffer.View, error) {
	if e.consumed {
		return nil, fmt.Errorf("%w: entry at %d", ErrEntryConsumed, e.offset)
	}
	r := e.read

	parent := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	v, err := e.content(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		err = fmt.Errorf("%w: read segment %d at %d after %s", ErrTimeout, r.index.id, e.offset, r.timeout)
	}
	r.advance(e, v, err)
	return v, err
}

func (e *Entry) content(ctx context.Context) (buffer.View, error) {
	cur := e
	for {
		var err error
		switch cur.kind {
		case Cache:
			v := cur.view
			cur.view = nil
			return v, nil
		case Storage:
			var v buffer.View
			v, err = cur.index.fetch(ctx, cur.local, cur.length)
			if err == nil {
				return v, nil
			}
		case Future:
			err = cur.index.await(ctx, cur.future)
		case endOfSegment:
			return nil, io.EOF
		}

		// A woken future read, or a redirected entry whose source went away
		// (its merge completed), is resolved again against the read's index.
		if err != nil && !(errors.Is(err, ErrClosed) && cur.index != e.read.index) {
			return nil, err
		}
		next, err := e.read.index.entryAt(e.offset, e.length)
		if err != nil {
			return nil, err
		}
		cur = next
	}
}

// abandon marks an unretrieved entry consumed and drops what it holds.
func (e *Entry) abandon() {
	e.consumed = true
	if e.view != nil {
		e.view.Release()
		e.view = nil
	}
	if e.future != nil {
		e.index.cancelFuture(e.future)
		e.future = nil
	}
}

// entryAt resolves the entry covering offset, delivering at most n bytes.
func (ix *Index) entryAt(offset int64, n int) (*Entry, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil, fmt.Errorf("segment %d: %w", ix.id, ErrClosed)
	}
	return ix.resolve(offset, n)
}

func (ix *Index) resolve(offset int64, n int) (*Entry, error) {
	length := ix.metadata.Length()
	if offset >= length && ix.metadata.IsSealed() {
		return &Entry{kind: endOfSegment, index: ix, local: offset}, nil
	}

	if e := ix.floor(offset); e != nil && offset < e.end() {
		start := offset - e.offset
		count := min(int64(n), e.length-start)
		if e.source != nil {
			return e.source.entryAt(start, int(count))
		}
		view, err := e.data.Slice(int(start), int(count))
		if err != nil {
			return nil, err
		}
		view.Retain()
		e.lastUsed = ix.tick()
		return &Entry{kind: Cache, length: int(count), index: ix, local: offset, view: view}, nil
	}

	limit := length
	if next := ix.ceil(offset); next != nil {
		limit = min(limit, next.offset)
	}
	if sl := ix.metadata.StorageLength(); offset < sl {
		count := min(int64(n), min(limit, sl)-offset, int64(ix.config.MaxStorageReadLength))
		return &Entry{kind: Storage, length: int(count), index: ix, local: offset}, nil
	}

	f := &futureRead{offset: offset, ready: make(chan struct{})}
	ix.futures = append(ix.futures, f)
	return &Entry{kind: Future, length: n, index: ix, local: offset, future: f}, nil
}

// futureRead is a reader waiting for the byte at offset to become readable.
type futureRead struct {
	offset int64
	ready  chan struct{}
}

// readable reports whether resolving offset would not produce a future read.
func (ix *Index) readable(offset int64) bool {
	length := ix.metadata.Length()
	if offset >= length {
		return ix.metadata.IsSealed()
	}
	if e := ix.floor(offset); e != nil && offset < e.end() {
		return true
	}
	return offset < ix.metadata.StorageLength()
}

func (ix *Index) completeFutures() {
	ix.futures = slices.DeleteFunc(ix.futures, func(f *futureRead) bool {
		if ix.readable(f.offset) {
			close(f.ready)
			return true
		}
		return false
	})
}

func (ix *Index) await(ctx context.Context, f *futureRead) error {
	select {
	case <-f.ready:
		return nil
	case <-ix.done:
		return fmt.Errorf("segment %d: %w", ix.id, ErrClosed)
	case <-ctx.Done():
		ix.cancelFuture(f)
		return ctx.Err()
	}
}

// cancelFuture forgets f. Completed futures are already gone.
func (ix *Index) cancelFuture(f *futureRead) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.futures = slices.DeleteFunc(ix.futures, func(g *futureRead) bool { return g == f })
}
