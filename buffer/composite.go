// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package buffer

import (
	"io"
	"sort"
)

// Composite is a View concatenating other views without copying them.
type Composite struct {
	parts  []View
	ends   []int // cumulative end offset of each part
	length int
}

var _ View = (*Composite)(nil)

func newComposite(parts []View) *Composite {
	c := &Composite{
		parts: parts,
		ends:  make([]int, len(parts)),
	}
	for i, part := range parts {
		c.length += part.Len()
		c.ends[i] = c.length
	}
	return c
}

// Parts returns the component views in order.
func (c *Composite) Parts() []View {
	return c.parts
}

func (c *Composite) Len() int {
	return c.length
}

func (c *Composite) start(i int) int {
	if i == 0 {
		return 0
	}
	return c.ends[i-1]
}

func (c *Composite) Slice(offset, length int) (View, error) {
	if err := checkRange(offset, length, c.length); err != nil {
		return nil, err
	}

	var parts []View
	i := sort.Search(len(c.ends), func(i int) bool {
		return c.ends[i] > offset
	})
	for length > 0 {
		off := offset - c.start(i)
		n := min(c.parts[i].Len()-off, length)
		if n > 0 {
			part, err := c.parts[i].Slice(off, n)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
			offset += n
			length -= n
		}
		i++
	}

	switch len(parts) {
	case 0:
		return Array(nil), nil
	case 1:
		return parts[0], nil
	default:
		return newComposite(parts), nil
	}
}

func (c *Composite) Reader() *Reader {
	return newReader(c)
}

func (c *Composite) Copy() []byte {
	p := make([]byte, c.length)
	c.copyTo(p)
	return p
}

func (c *Composite) CopyTo(p []byte) (int, error) {
	if err := checkCopy(p, c.length); err != nil {
		return 0, err
	}
	return c.copyTo(p), nil
}

func (c *Composite) copyTo(p []byte) (n int) {
	for _, part := range c.parts {
		for _, region := range part.Contents() {
			n += copy(p[n:], region)
		}
	}
	return
}

func (c *Composite) WriteTo(w io.Writer) (n int64, err error) {
	for _, part := range c.parts {
		var m int64
		m, err = part.WriteTo(w)
		n += m
		if err != nil {
			return
		}
	}
	return
}

func (c *Composite) Contents() [][]byte {
	var regions [][]byte
	for _, part := range c.parts {
		regions = append(regions, part.Contents()...)
	}
	return regions
}

// Retain retains every part.
func (c *Composite) Retain() {
	for _, part := range c.parts {
		part.Retain()
	}
}

// Release releases every part.
func (c *Composite) Release() {
	for _, part := range c.parts {
		part.Release()
	}
}
