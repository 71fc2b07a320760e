// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package buffer

import (
	"io"
	"sync/atomic"
)

// Ref is a View over memory owned by a reference counter. All slices of a
// Ref share the counter of the Ref they were cut from, so a slice does not
// keep the memory alive on its own: Retain it if it must outlive its parent's
// references.
//
// Once the counter drops to zero the memory is handed to the free function.
// From then on every method of the view and its slices except RefCount
// panics, and so does reading from a Reader created before the release.
// Releasing more often than retained also panics.
type Ref struct {
	data []byte
	rc   *refCount
}

type refCount struct {
	n    atomic.Int32
	base []byte
	free func([]byte)
}

var _ View = Ref{}

// NewRef wraps data with a reference count of one. free, if not nil, is
// called with data once the count drops to zero.
func NewRef(data []byte, free func([]byte)) Ref {
	rc := &refCount{base: data, free: free}
	rc.n.Store(1)
	return Ref{data, rc}
}

// RefCount returns the current number of references.
func (r Ref) RefCount() int {
	return int(r.rc.n.Load())
}

func (r Ref) live() []byte {
	if r.rc.n.Load() <= 0 {
		panic("buffer: use of released view")
	}
	return r.data
}

func (r Ref) Len() int {
	return len(r.live())
}

func (r Ref) Slice(offset, length int) (View, error) {
	data := r.live()
	if err := checkRange(offset, length, len(data)); err != nil {
		return nil, err
	}
	end := offset + length
	return Ref{data[offset:end:end], r.rc}, nil
}

func (r Ref) Reader() *Reader {
	return newReader(r)
}

func (r Ref) Copy() []byte {
	return append([]byte(nil), r.live()...)
}

// Bytes returns the memory behind the view, for filling a Ref obtained from
// a Pool before it is shared. Views are read-only once shared.
func (r Ref) Bytes() []byte {
	return r.live()
}

func (r Ref) CopyTo(p []byte) (int, error) {
	data := r.live()
	if err := checkCopy(p, len(data)); err != nil {
		return 0, err
	}
	return copy(p, data), nil
}

func (r Ref) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r.live())
	return int64(n), err
}

func (r Ref) Contents() [][]byte {
	data := r.live()
	if len(data) == 0 {
		return nil
	}
	return [][]byte{data}
}

func (r Ref) Retain() {
	for {
		n := r.rc.n.Load()
		if n <= 0 {
			panic("buffer: retain of released view")
		}
		if r.rc.n.CompareAndSwap(n, n+1) {
			return
		}
	}
}

func (r Ref) Release() {
	switch n := r.rc.n.Add(-1); {
	case n == 0:
		if r.rc.free != nil {
			r.rc.free(r.rc.base)
		}
		r.rc.base = nil
	case n < 0:
		panic("buffer: release of released view")
	}
}
