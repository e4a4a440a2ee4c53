// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

// Package symtab resolves raw code addresses to native modules or
// JIT-compiled managed methods. Both registries share the same two-phase
// protocol: register many entries, sort once, then answer point lookups
// with a binary search.
//
// Known limitation: a module that is unloaded and replaced by another
// module at an overlapping address within the same capture is not
// temporally revalidated. Lookups always see the sorted union of all
// registered ranges.
package symtab // import "github.com/tracefox/tracefox/symtab"

import (
	"cmp"
	"slices"

	"github.com/tracefox/tracefox/libtrace"
)

// Range maps the half-open address interval [Begin, End) to a row of the
// owning registry's table.
type Range struct {
	Begin libtrace.Address
	End   libtrace.Address
	Owner int32
}

// Index is an address range set with O(log n) point lookups. Insertions
// are O(1) appends; the backing slice is re-sorted lazily before the first
// lookup following an insertion batch.
type Index struct {
	ranges []Range
	sorted bool
}

// Insert appends a range. The owning registry is responsible for rejecting
// duplicate begin addresses before they reach the index.
func (x *Index) Insert(r Range) {
	x.ranges = append(x.ranges, r)
	x.sorted = false
}

// Sort orders the ranges by begin address. Find calls it lazily, so an
// explicit call is only needed to front-load the cost.
func (x *Index) Sort() {
	if x.sorted {
		return
	}
	slices.SortFunc(x.ranges, func(a, b Range) int {
		return cmp.Compare(a.Begin, b.Begin)
	})
	x.sorted = true
}

// Find returns the owner row of the range containing addr. Addresses in
// gaps between ranges report false: misattributing a sample to the nearest
// module is worse than leaving it unknown.
func (x *Index) Find(addr libtrace.Address) (int32, bool) {
	x.Sort()
	idx, ok := slices.BinarySearchFunc(x.ranges, addr,
		func(r Range, a libtrace.Address) int {
			if a < r.Begin {
				return 1
			}
			if a >= r.End {
				return -1
			}
			return 0
		})
	if !ok {
		return 0, false
	}
	return x.ranges[idx].Owner, true
}

// Len returns the number of ranges in the index.
func (x *Index) Len() int {
	return len(x.ranges)
}
