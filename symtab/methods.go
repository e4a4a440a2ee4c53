// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

package symtab // import "github.com/tracefox/tracefox/symtab"

import (
	log "github.com/sirupsen/logrus"

	"github.com/tracefox/tracefox/libtrace"
)

// Method is a JIT-compiled managed method registered from the runtime
// event stream. It owns the contiguous code range [Start, Start+Size).
type Method struct {
	ID        uint64
	Namespace string
	Name      string
	Signature string
	Token     uint32
	Flags     uint32
	Start     libtrace.Address
	Size      uint64
}

// FullName returns the display name of the method.
func (m *Method) FullName() string {
	if m.Namespace == "" {
		return m.Name
	}
	return m.Namespace + "." + m.Name
}

// MethodRegistry deduplicates managed methods by their runtime-assigned
// method ID and resolves code addresses to methods through a range index.
type MethodRegistry struct {
	methods []Method
	byID    map[uint64]int32
	index   Index
}

// NewMethodRegistry creates an empty method registry.
func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{
		byID: make(map[uint64]int32),
	}
}

// GetOrCreate registers a method and returns its row. A method ID that was
// registered before returns the existing row unchanged: the runtime sends
// duplicate compile notifications for tiered compilation, and this core
// does not model recompilation as a new entity.
func (r *MethodRegistry) GetOrCreate(m Method) int32 {
	if idx, ok := r.byID[m.ID]; ok {
		log.Debugf("ignoring duplicate registration of method %#x (%s)", m.ID, m.FullName())
		return idx
	}
	idx := int32(len(r.methods))
	r.methods = append(r.methods, m)
	r.byID[m.ID] = idx
	r.index.Insert(Range{
		Begin: m.Start,
		End:   m.Start + libtrace.Address(m.Size),
		Owner: idx,
	})
	return idx
}

// FindByAddress returns the row of the method whose code range contains
// addr. The first lookup after a registration batch triggers a re-sort of
// the range index; call SortAddressRanges to front-load it.
func (r *MethodRegistry) FindByAddress(addr libtrace.Address) (int32, bool) {
	return r.index.Find(addr)
}

// SortAddressRanges front-loads the lazy sort of the range index.
func (r *MethodRegistry) SortAddressRanges() {
	r.index.Sort()
}

// Method returns the method at the given row.
func (r *MethodRegistry) Method(idx int32) *Method {
	return &r.methods[idx]
}

// Len returns the number of registered methods.
func (r *MethodRegistry) Len() int {
	return len(r.methods)
}
