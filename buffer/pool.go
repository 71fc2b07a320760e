// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package buffer

import "sync"

// Pool hands out ref-counted views whose memory returns to the pool when
// their last reference is released.
type Pool struct {
	size int
	pool sync.Pool
}

// NewPool creates a pool of size-byte buffers.
func NewPool(size int) *Pool {
	p := &Pool{size: size}
	p.pool.New = func() any { return make([]byte, size) }
	return p
}

// Get returns a Ref of length n with a reference count of one. Requests
// larger than the pool's buffer size are allocated outside the pool.
// The contents are not zeroed.
func (p *Pool) Get(n int) Ref {
	if n > p.size {
		return NewRef(make([]byte, n), nil)
	}
	buf := p.pool.Get().([]byte)
	return NewRef(buf[:n], p.put)
}

func (p *Pool) put(buf []byte) {
	if cap(buf) == p.size {
		p.pool.Put(buf[:p.size])
	}
}
