// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

package stacks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInternSharesPrefixes(t *testing.T) {
	table := NewTable()

	// [A B C] and [A B D] share the A and B nodes: 4 nodes total.
	leafC := table.Intern([]int32{10, 11, 12})
	leafD := table.Intern([]int32{10, 11, 13})

	require.Equal(t, 4, table.Len())
	assert.NotEqual(t, leafC, leafD)
	assert.Equal(t, int32(12), table.Frame(leafC))
	assert.Equal(t, int32(13), table.Frame(leafD))
	assert.Equal(t, table.Prefix(leafC), table.Prefix(leafD))

	// Walk leafC up to the root.
	ab := table.Prefix(leafC)
	assert.Equal(t, int32(11), table.Frame(ab))
	a := table.Prefix(ab)
	assert.Equal(t, int32(10), table.Frame(a))
	assert.Equal(t, None, table.Prefix(a))
}

func TestInternIsIdempotent(t *testing.T) {
	table := NewTable()
	first := table.Intern([]int32{1, 2, 3})
	second := table.Intern([]int32{1, 2, 3})
	assert.Equal(t, first, second)
	assert.Equal(t, 3, table.Len())
}

func TestInternDistinguishesRoots(t *testing.T) {
	table := NewTable()
	// The same frame as a root node and as a child of another frame are
	// distinct stack nodes.
	root := table.Intern([]int32{5})
	child := table.Intern([]int32{6, 5})
	assert.NotEqual(t, root, child)
	assert.Equal(t, 3, table.Len())
}

func TestInternEmpty(t *testing.T) {
	table := NewTable()
	assert.Equal(t, None, table.Intern(nil))
	assert.Equal(t, None, table.Intern([]int32{}))
	assert.Equal(t, 0, table.Len())
}
