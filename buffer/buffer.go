// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package buffer provides read-only views over byte ranges that can be
// sliced and concatenated without copying.
//
// Three representations implement View:
//   - Array: an owned byte slice; Retain and Release are no-ops
//   - Ref: a byte slice owned by a reference counter shared by all of its
//     slices; the backing memory is handed back to its owner on the final
//     Release
//   - Composite: an ordered sequence of other views forming one logical view
//
// A view that will outlive the point where its creator stops caring about it
// must be retained, and every Retain must be matched by one Release. The
// creator holds the initial reference of a Ref and releases it like any other.
package buffer

import (
	"fmt"
	"io"

	"github.com/dacapoday/readindex"
)

var ErrOutOfRange = readindex.ErrOutOfRange

// View is an immutable view over a byte range.
type View interface {
	// Len returns the number of bytes in the view.
	Len() int

	// Slice returns a view over [offset, offset+length) sharing this view's
	// memory. It fails with ErrOutOfRange if the range is not within the view.
	Slice(offset, length int) (View, error)

	// Reader returns a cursor positioned at the start of the view.
	Reader() *Reader

	// Copy returns a fresh copy of the contents.
	Copy() []byte

	// CopyTo copies the contents into p, which must hold at least Len() bytes.
	CopyTo(p []byte) (int, error)

	// WriteTo writes the contents to w.
	WriteTo(w io.Writer) (int64, error)

	// Contents returns the contiguous memory regions backing the view, in
	// order. The regions alias the view and must not be modified.
	Contents() [][]byte

	// Retain notes an additional holder of the underlying memory.
	Retain()

	// Release drops one reference to the underlying memory.
	Release()
}

// Wrap joins views into one. No views yields an empty view, one view yields a
// slice of that view, and more yield a Composite.
func Wrap(views ...View) View {
	switch len(views) {
	case 0:
		return Array(nil)
	case 1:
		return whole(views[0])
	default:
		return newComposite(views)
	}
}

// Equal reports whether two views hold the same bytes, regardless of how
// they are represented.
func Equal(a, b View) bool {
	if a.Len() != b.Len() {
		return false
	}
	ra, rb := a.Reader(), b.Reader()
	for ra.Available() > 0 {
		pa, pb := ra.peek(), rb.peek()
		n := min(len(pa), len(pb))
		if string(pa[:n]) != string(pb[:n]) {
			return false
		}
		ra.skip(n)
		rb.skip(n)
	}
	return true
}

func whole(v View) View {
	s, err := v.Slice(0, v.Len())
	if err != nil {
		panic(err)
	}
	return s
}

func checkRange(offset, length, size int) error {
	if offset < 0 || length < 0 || offset+length > size {
		return fmt.Errorf("%w: [%d, %d) of %d bytes", ErrOutOfRange, offset, offset+length, size)
	}
	return nil
}

func checkCopy(p []byte, size int) error {
	if len(p) < size {
		return fmt.Errorf("%w: copy %d bytes into %d", ErrOutOfRange, size, len(p))
	}
	return nil
}
