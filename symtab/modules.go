// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

package symtab // import "github.com/tracefox/tracefox/symtab"

import (
	"cmp"
	"errors"
	"path"
	"slices"

	log "github.com/sirupsen/logrus"

	"github.com/tracefox/tracefox/libtrace"
)

// ErrNoModule is returned when no registered module covers an address.
var ErrNoModule = errors.New("module not found")

// ErrNoSymbol is returned when a module has no symbol for an address.
var ErrNoSymbol = errors.New("symbol not found")

// NativeSymbol is one entry of a module's symbol table. Address is relative
// to the module base.
type NativeSymbol struct {
	Name    string
	Address libtrace.Address
	Size    uint32
}

// Module describes a loaded native binary image of the profiled process.
type Module struct {
	Base    libtrace.Address
	Size    uint64
	Path    string
	Arch    string
	BuildID string
	CodeID  string

	// symbols is sorted by address once the first lookup happens.
	symbols       []NativeSymbol
	symbolsSorted bool
}

// Name returns the base filename of the module path.
func (m *Module) Name() string {
	return path.Base(m.Path)
}

// End returns the first address past the module's mapping.
func (m *Module) End() libtrace.Address {
	return m.Base + libtrace.Address(m.Size)
}

// AddSymbols appends entries to the module's symbol table. Addresses are
// relative to the module base.
func (m *Module) AddSymbols(syms []NativeSymbol) {
	m.symbols = append(m.symbols, syms...)
	m.symbolsSorted = false
}

// LookupSymbol resolves a module-relative address to a symbol. Addresses
// past the last covered byte of a sized symbol return ErrNoSymbol.
func (m *Module) LookupSymbol(addr libtrace.Address) (*NativeSymbol, error) {
	if !m.symbolsSorted {
		slices.SortFunc(m.symbols, func(a, b NativeSymbol) int {
			return cmp.Compare(a.Address, b.Address)
		})
		m.symbolsSorted = true
	}
	// Zero-size symbols only match exactly here; addresses past them fall
	// through to the preceding-symbol fallback below.
	idx, ok := slices.BinarySearchFunc(m.symbols, addr,
		func(s NativeSymbol, a libtrace.Address) int {
			if a < s.Address {
				return 1
			}
			if a == s.Address {
				return 0
			}
			if s.Size != 0 && a < s.Address+libtrace.Address(s.Size) {
				return 0
			}
			return -1
		})
	if !ok {
		// Sized symbols do not cover padding between functions. Fall back
		// to the preceding zero-sized symbol, if any.
		if idx == 0 {
			return nil, ErrNoSymbol
		}
		prev := &m.symbols[idx-1]
		if prev.Size != 0 {
			return nil, ErrNoSymbol
		}
		return prev, nil
	}
	return &m.symbols[idx], nil
}

// NumSymbols returns the number of symbol table entries.
func (m *Module) NumSymbols() int {
	return len(m.symbols)
}

// ModuleRegistry deduplicates native modules by base address and resolves
// addresses to modules through a shared range index.
type ModuleRegistry struct {
	modules []Module
	byBase  map[libtrace.Address]int32
	index   Index
}

// NewModuleRegistry creates an empty module registry.
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{
		byBase: make(map[libtrace.Address]int32),
	}
}

// Register adds a module and returns its row. Registering the same base
// address twice is an idempotent no-op returning the original row, which
// absorbs duplicate load notifications.
func (r *ModuleRegistry) Register(m Module) int32 {
	if idx, ok := r.byBase[m.Base]; ok {
		log.Debugf("ignoring duplicate registration of module %s at %#x", m.Path, m.Base)
		return idx
	}
	idx := int32(len(r.modules))
	r.modules = append(r.modules, m)
	r.byBase[m.Base] = idx
	r.index.Insert(Range{Begin: m.Base, End: m.End(), Owner: idx})
	return idx
}

// FindByAddress returns the row of the module containing addr.
func (r *ModuleRegistry) FindByAddress(addr libtrace.Address) (int32, bool) {
	return r.index.Find(addr)
}

// SortAddressRanges front-loads the lazy sort of the range index.
func (r *ModuleRegistry) SortAddressRanges() {
	r.index.Sort()
}

// Module returns the module at the given row.
func (r *ModuleRegistry) Module(idx int32) *Module {
	return &r.modules[idx]
}

// Len returns the number of registered modules.
func (r *ModuleRegistry) Len() int {
	return len(r.modules)
}
