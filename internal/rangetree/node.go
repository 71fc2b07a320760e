// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package rangetree

import (
	"cmp"
	"sort"
)

const order = 6 // min: 2
const half = (order + 1) / 2
const double = 2*order + 1

type node[V any] struct {
	count int
	keys  [order]int64
	vals  [order]V
	nodes [order]*node[V]
	last  *node[V]
}

func (node *node[V]) node(i int) *node[V] {
	if i == node.count {
		return node.last
	}
	return node.nodes[i]
}

func (node *node[V]) find(key int64) (int, bool) {
	return sort.Find(node.count, func(i int) int {
		return cmp.Compare(key, node.keys[i])
	})
}

func (node *node[V]) insert(i int, e *entry[V]) {
	if i != node.count {
		l := i + 1
		copy(node.keys[l:], node.keys[i:node.count])
		copy(node.vals[l:], node.vals[i:node.count])
		copy(node.nodes[l:], node.nodes[i:node.count])
	}
	node.count++
	node.keys[i] = e.key
	node.vals[i] = e.val
	node.nodes[i] = e.node
}

func (node *node[V]) items(yield func(key int64, val V) bool) bool {
	if node.last == nil {
		for i := 0; i < node.count; i++ {
			if !yield(node.keys[i], node.vals[i]) {
				return false
			}
		}
		return true
	}
	for i := 0; i < node.count; i++ {
		if !node.nodes[i].items(yield) {
			return false
		}
		if !yield(node.keys[i], node.vals[i]) {
			return false
		}
	}
	return node.last.items(yield)
}
