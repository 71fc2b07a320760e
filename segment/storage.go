// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/dacapoday/readindex"
	"github.com/dacapoday/readindex/buffer"
)

// fetch returns up to n bytes at offset from storage. The read is widened to
// the read-ahead length and its result cached; concurrent fetches of the same
// range share one storage read.
func (ix *Index) fetch(ctx context.Context, offset int64, n int) (buffer.View, error) {
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return nil, fmt.Errorf("segment %d: %w", ix.id, ErrClosed)
	}
	if e := ix.floor(offset); e != nil && offset < e.end() && e.data != nil {
		view, err := e.data.Slice(int(offset-e.offset), int(min(int64(n), e.end()-offset)))
		if err == nil {
			view.Retain()
			e.lastUsed = ix.tick()
		}
		ix.mu.Unlock()
		return view, err
	}
	limit := min(ix.metadata.Length(), ix.metadata.StorageLength())
	if next := ix.ceil(offset); next != nil {
		limit = min(limit, next.offset)
	}
	size := int(min(int64(max(n, ix.config.ReadAheadLength)), limit-offset, int64(ix.config.MaxStorageReadLength)))
	if size <= 0 {
		size = n
	}
	name := ix.metadata.Name()
	ix.mu.Unlock()

	key := strconv.FormatInt(offset, 10) + ":" + strconv.Itoa(size)
	ch := ix.fetches.DoChan(key, func() (any, error) {
		return ix.load(name, offset, size)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		data := res.Val.(buffer.Array)
		return data[:min(n, len(data))], nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ix.done:
		return nil, fmt.Errorf("segment %d: %w", ix.id, ErrClosed)
	}
}

// load reads n bytes at offset from storage and caches them. It runs under
// the index's own context, so an abandoned fetch does not cancel the read for
// the other readers sharing it.
func (ix *Index) load(name string, offset int64, n int) (buffer.Array, error) {
	if ix.storage == nil {
		return nil, fmt.Errorf("%w: segment %d has no storage", readindex.ErrInvalidState, ix.id)
	}
	data := make(buffer.Array, n)
	read, err := ix.storage.Read(ix.ctx, name, offset, data)
	switch {
	case ix.ctx.Err() != nil:
		return nil, fmt.Errorf("segment %d: %w", ix.id, ErrClosed)
	case err == io.EOF || (err == nil && read < n):
		return nil, fmt.Errorf("%w: segment %d storage returned %d of %d bytes at %d",
			ErrMetadataMismatch, ix.id, read, n, offset)
	case err != nil:
		ix.log.Warn("storage read failed", "offset", offset, "length", n, "err", err)
		return nil, fmt.Errorf("segment %d: storage read of %d bytes at %d: %w", ix.id, n, offset, err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return data, nil
	}
	if e := ix.floor(offset); e != nil && offset < e.end() {
		return data, nil
	}
	cached := data
	if next := ix.ceil(offset); next != nil && next.offset < offset+int64(n) {
		cached = data[:next.offset-offset]
	}
	ix.put(&entry{offset: offset, length: int64(len(cached)), data: cached, lastUsed: ix.tick()})
	ix.evict()
	ix.log.Debug("cached storage read", "offset", offset, "length", len(cached))
	return data, nil
}

// evict drops least recently used entries until the cache fits its capacity.
// Only entries whose bytes are in storage can be evicted.
func (ix *Index) evict() {
	if ix.cached <= ix.config.CacheCapacity {
		return
	}
	storageLength := ix.metadata.StorageLength()
	var candidates []*entry
	for _, e := range ix.tree.Items {
		if e != nil && e.data != nil && e.end() <= storageLength {
			candidates = append(candidates, e)
		}
	}
	slices.SortFunc(candidates, func(a, b *entry) int {
		return cmp.Compare(a.lastUsed, b.lastUsed)
	})
	evicted := 0
	for _, e := range candidates {
		if ix.cached <= ix.config.CacheCapacity {
			break
		}
		ix.remove(e)
		evicted++
	}
	if evicted > 0 {
		ix.log.Debug("evicted cache entries", "count", evicted, "cached", ix.cached)
	}
}
