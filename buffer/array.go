// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package buffer

import "io"

// Array is a View over an owned byte slice.
type Array []byte

var _ View = Array(nil)

func (a Array) Len() int {
	return len(a)
}

func (a Array) Slice(offset, length int) (View, error) {
	if err := checkRange(offset, length, len(a)); err != nil {
		return nil, err
	}
	end := offset + length
	return a[offset:end:end], nil
}

func (a Array) Reader() *Reader {
	return newReader(a)
}

func (a Array) Copy() []byte {
	return append([]byte(nil), a...)
}

func (a Array) CopyTo(p []byte) (int, error) {
	if err := checkCopy(p, len(a)); err != nil {
		return 0, err
	}
	return copy(p, a), nil
}

func (a Array) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(a)
	return int64(n), err
}

func (a Array) Contents() [][]byte {
	if len(a) == 0 {
		return nil
	}
	return [][]byte{a}
}

// Retain is a no-op; an Array is owned by the garbage collector.
func (a Array) Retain() {}

// Release is a no-op; an Array is owned by the garbage collector.
func (a Array) Release() {}
