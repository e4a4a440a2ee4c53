// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

// Package stacks interns call stacks as a parent-linked trie. Each node is
// one stack frame; stacks sharing a call prefix share all ancestor nodes,
// which keeps the stack table orders of magnitude smaller than the raw
// sample count.
package stacks // import "github.com/tracefox/tracefox/stacks"

// None marks the missing parent of a root node, and is returned when
// interning an empty stack.
const None int32 = -1

type nodeKey struct {
	prefix int32
	frame  int32
}

// Table is the stack node table. Nodes are addressed by dense int32
// indices; the table only grows during a capture session.
type Table struct {
	frames   []int32
	prefixes []int32
	children map[nodeKey]int32
}

// NewTable creates an empty stack table.
func NewTable() *Table {
	return &Table{
		children: make(map[nodeKey]int32),
	}
}

// Intern walks the frame sequence from root to leaf, creating the missing
// nodes, and returns the leaf node index. Interning an empty sequence
// returns None.
func (t *Table) Intern(framesRootToLeaf []int32) int32 {
	node := None
	for _, frame := range framesRootToLeaf {
		node = t.internNode(node, frame)
	}
	return node
}

func (t *Table) internNode(prefix, frame int32) int32 {
	key := nodeKey{prefix: prefix, frame: frame}
	if node, ok := t.children[key]; ok {
		return node
	}
	node := int32(len(t.frames))
	t.frames = append(t.frames, frame)
	t.prefixes = append(t.prefixes, prefix)
	t.children[key] = node
	return node
}

// Frame returns the frame index of a node.
func (t *Table) Frame(node int32) int32 {
	return t.frames[node]
}

// Prefix returns the parent node index, or None for root nodes.
func (t *Table) Prefix(node int32) int32 {
	return t.prefixes[node]
}

// Len returns the number of nodes in the table.
func (t *Table) Len() int {
	return len(t.frames)
}
