// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package buffer

import "io"

// Reader is a forward-only cursor over a View. It reads directly out of the
// view's memory regions.
type Reader struct {
	regions [][]byte
	owners  []*refCount // counter of each region, nil if unowned
	avail   int
}

var (
	_ io.Reader   = (*Reader)(nil)
	_ io.WriterTo = (*Reader)(nil)
)

func newReader(v View) *Reader {
	r := &Reader{avail: v.Len()}
	r.add(v)
	return r
}

func (r *Reader) add(v View) {
	switch v := v.(type) {
	case Ref:
		if data := v.live(); len(data) > 0 {
			r.regions = append(r.regions, data)
			r.owners = append(r.owners, v.rc)
		}
	case *Composite:
		for _, part := range v.parts {
			r.add(part)
		}
	default:
		for _, region := range v.Contents() {
			r.regions = append(r.regions, region)
			r.owners = append(r.owners, nil)
		}
	}
}

// Available returns the number of bytes left to read.
func (r *Reader) Available() int {
	return r.avail
}

// ReadBytes copies min(Available(), len(p)) bytes into p and advances the
// cursor. It returns 0 only if p is empty or the reader is exhausted.
func (r *Reader) ReadBytes(p []byte) (n int) {
	for len(p) > 0 && r.avail > 0 {
		c := copy(p, r.peek())
		r.skip(c)
		p = p[c:]
		n += c
	}
	return
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if r.avail == 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	return r.ReadBytes(p), nil
}

// WriteTo implements io.WriterTo, draining the reader into w.
func (r *Reader) WriteTo(w io.Writer) (n int64, err error) {
	for r.avail > 0 {
		region := r.peek()
		c, err := w.Write(region)
		n += int64(c)
		r.skip(c)
		if err != nil {
			return n, err
		}
	}
	return
}

// ReadFully drains the reader into a new buffer, copying at most bufferSize
// bytes per step. A bufferSize <= 0 copies as much as possible per step.
func (r *Reader) ReadFully(bufferSize int) []byte {
	buf := make([]byte, r.avail)
	off := 0
	for off < len(buf) {
		end := len(buf)
		if bufferSize > 0 {
			end = min(end, off+bufferSize)
		}
		off += r.ReadBytes(buf[off:end])
	}
	return buf
}

// peek returns the unread part of the current region.
func (r *Reader) peek() []byte {
	for len(r.regions) > 0 && len(r.regions[0]) == 0 {
		r.regions = r.regions[1:]
		r.owners = r.owners[1:]
	}
	if len(r.regions) == 0 {
		return nil
	}
	if rc := r.owners[0]; rc != nil && rc.n.Load() <= 0 {
		panic("buffer: read of released view")
	}
	return r.regions[0]
}

func (r *Reader) skip(n int) {
	r.regions[0] = r.regions[0][n:]
	r.avail -= n
}
