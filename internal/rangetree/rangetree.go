// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package rangetree provides an append-only, in-memory B-tree keyed by
// int64 offsets, with nearest-key lookups.
package rangetree

import (
	"cmp"
	"sort"
)

// Tree is an append-only B-tree mapping int64 keys to values in ascending
// key order. Not thread-safe.
//
// Append-only means keys are never removed; only a key's value can be
// replaced. Callers mark removal by storing a sentinel value (typically nil)
// and rebuild the tree when sentinels accumulate.
//
// Example usage:
//
//	var tree Tree[string]
//	tree.Set(100, "b")
//	tree.Set(0, "a")
//	key, val, ok := tree.Floor(150) // key == 100, val == "b", ok == true
type Tree[V any] struct {
	items []item[V]
	nodes []*node[V]
	last  *node[V]
	size  int
}

type item[V any] struct {
	key int64
	val V
}

// Reset clears all data.
func (tree *Tree[V]) Reset() {
	tree.items = nil
	tree.nodes = nil
	tree.last = nil
	tree.size = 0
}

// Len returns the number of keys, sentinel values included.
func (tree *Tree[V]) Len() int {
	return tree.size
}

// Set updates the value for a key (inserts if key doesn't exist).
func (tree *Tree[V]) Set(key int64, val V) {
	index, found := tree.find(key)
	if found {
		tree.items[index].val = val
		return
	}
	e := entry[V]{key, val, nil}
	next := tree.node(index)
	if next == nil {
		tree.size++
		tree.insertItem(index, &e)
		return
	}
	updated, split := e.set(next)
	if updated {
		return
	}
	tree.size++
	if split {
		tree.insertEntry(index, &e)
	}
}

// Get retrieves the value stored for key.
func (tree *Tree[V]) Get(key int64) (val V, found bool) {
	index, found := tree.find(key)
	if found {
		return tree.items[index].val, true
	}
	for node := tree.node(index); node != nil; node = node.node(index) {
		index, found = node.find(key)
		if found {
			return node.vals[index], true
		}
	}
	return
}

// Floor returns the greatest key <= key.
func (tree *Tree[V]) Floor(key int64) (k int64, val V, ok bool) {
	index, found := tree.find(key)
	if found {
		return key, tree.items[index].val, true
	}
	if index > 0 {
		k, val, ok = tree.items[index-1].key, tree.items[index-1].val, true
	}
	for node := tree.node(index); node != nil; node = node.node(index) {
		index, found = node.find(key)
		if found {
			return key, node.vals[index], true
		}
		if index > 0 {
			k, val, ok = node.keys[index-1], node.vals[index-1], true
		}
	}
	return
}

// Ceil returns the least key >= key.
func (tree *Tree[V]) Ceil(key int64) (k int64, val V, ok bool) {
	index, found := tree.find(key)
	if found {
		return key, tree.items[index].val, true
	}
	if index < len(tree.items) {
		k, val, ok = tree.items[index].key, tree.items[index].val, true
	}
	for node := tree.node(index); node != nil; node = node.node(index) {
		index, found = node.find(key)
		if found {
			return key, node.vals[index], true
		}
		if index < node.count {
			k, val, ok = node.keys[index], node.vals[index], true
		}
	}
	return
}

// Items implements iter.Seq2[int64, V], iterating all pairs in key order.
func (tree *Tree[V]) Items(yield func(key int64, val V) bool) {
	if tree.last == nil {
		for i := range tree.items {
			if !yield(tree.items[i].key, tree.items[i].val) {
				return
			}
		}
		return
	}
	for i := range tree.items {
		if !tree.nodes[i].items(yield) {
			return
		}
		if !yield(tree.items[i].key, tree.items[i].val) {
			return
		}
	}
	tree.last.items(yield)
}

func (tree *Tree[V]) node(i int) *node[V] {
	if i >= len(tree.nodes) {
		return tree.last
	}
	return tree.nodes[i]
}

func (tree *Tree[V]) find(key int64) (int, bool) {
	return sort.Find(len(tree.items), func(i int) int {
		return cmp.Compare(key, tree.items[i].key)
	})
}

func (tree *Tree[V]) insertItem(i int, e *entry[V]) {
	tree.items = insertAt(tree.items, i, item[V]{e.key, e.val})

	if len(tree.items) == double {
		lnode := new(node[V])
		for i := range order {
			lnode.keys[i] = tree.items[i].key
			lnode.vals[i] = tree.items[i].val
		}
		lnode.count = order

		rnode := new(node[V])
		for i := range order {
			r := i + order + 1
			rnode.keys[i] = tree.items[r].key
			rnode.vals[i] = tree.items[r].val
		}
		rnode.count = order

		tree.items[0] = tree.items[order]
		tree.items = tree.items[:1]
		tree.nodes = []*node[V]{lnode}
		tree.last = rnode
	}
}

func (tree *Tree[V]) insertEntry(i int, e *entry[V]) {
	tree.items = insertAt(tree.items, i, item[V]{e.key, e.val})
	tree.nodes = insertAt(tree.nodes, i, e.node)

	if len(tree.items) == double {
		lnode := new(node[V])
		for i := range order {
			lnode.keys[i] = tree.items[i].key
			lnode.vals[i] = tree.items[i].val
		}
		copy(lnode.nodes[:], tree.nodes[:order])
		lnode.count = order
		lnode.last = tree.nodes[order]

		rnode := new(node[V])
		for i := range order {
			r := i + order + 1
			rnode.keys[i] = tree.items[r].key
			rnode.vals[i] = tree.items[r].val
		}
		copy(rnode.nodes[:], tree.nodes[order+1:])
		rnode.count = order
		rnode.last = tree.last

		tree.items[0] = tree.items[order]
		tree.items = tree.items[:1]
		tree.nodes[0] = lnode
		tree.nodes = tree.nodes[:1]
		tree.last = rnode
	}
}

func insertAt[T any](s []T, i int, v T) []T {
	var zero T
	s = append(s, zero)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
