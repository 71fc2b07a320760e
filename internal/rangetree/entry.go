// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package rangetree

// entry is a key/value pair on its way into the tree, carrying the left
// sibling produced when an insertion splits a node.
type entry[V any] struct {
	key  int64
	val  V
	node *node[V]
}

type cursor[V any] struct {
	node  *node[V]
	index int
}

// set stores e in the subtree rooted at n. updated reports that the key
// already existed; split reports that the insertion split n itself, leaving
// e to be inserted by the caller.
func (e *entry[V]) set(n *node[V]) (updated, split bool) {
	var cursors []cursor[V]
	var index int
	var found bool
	var next *node[V]
	for {
		index, found = n.find(e.key)
		if found {
			n.vals[index] = e.val
			return true, false
		}
		next = n.node(index)
		if next == nil {
			break
		}
		cursors = append(cursors, cursor[V]{n, index})
		n = next
	}
	if e.insert(index, n) {
		return false, false
	}
	for i := len(cursors) - 1; i >= 0; i-- {
		if e.insert(cursors[i].index, cursors[i].node) {
			return false, false
		}
	}
	return false, true
}

func (e *entry[V]) insert(i int, n *node[V]) bool {
	if n.count < order {
		n.insert(i, e)
		return true
	}
	e.split(i, n)
	return false
}

func (e *entry[V]) split(i int, n *node[V]) {
	const total = order + 1
	var keys [total]int64
	var vals [total]V
	var nodes [total]*node[V]
	{
		copy(keys[:i], n.keys[:i])
		copy(vals[:i], n.vals[:i])
		copy(nodes[:i], n.nodes[:i])

		keys[i] = e.key
		vals[i] = e.val
		nodes[i] = e.node

		l := i + 1
		copy(keys[l:], n.keys[i:])
		copy(vals[l:], n.vals[i:])
		copy(nodes[l:], n.nodes[i:])
	}

	newn := new(node[V])
	copy(newn.keys[:], keys[:half])
	copy(newn.vals[:], vals[:half])
	copy(newn.nodes[:], nodes[:half])
	newn.count = half
	newn.last = nodes[half]

	e.key = keys[half]
	e.val = vals[half]
	e.node = newn

	const r = half + 1
	copy(n.keys[:], keys[r:])
	copy(n.vals[:], vals[r:])
	copy(n.nodes[:], nodes[r:])
	n.count = order - half
}
