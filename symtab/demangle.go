// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

package symtab // import "github.com/tracefox/tracefox/symtab"

import (
	lru "github.com/elastic/go-freelru"
	"github.com/ianlancetaylor/demangle"
	"github.com/zeebo/xxh3"
)

// demangleCacheSize bounds the demangling cache. Symbol tables repeat the
// same hot function names across frames, so a small cache hits often.
const demangleCacheSize = 16384

// hashString is the hash function for string-keyed LRUs. xxh3 turned out
// to be the fastest string hash in the FreeLRU benchmarks.
func hashString(s string) uint32 {
	return uint32(xxh3.HashString(s))
}

// Demangler demangles native symbol names, caching results. Names that are
// not mangled pass through unchanged.
type Demangler struct {
	cache *lru.LRU[string, string]
}

// NewDemangler creates a demangler with a warm-path cache.
func NewDemangler() *Demangler {
	cache, err := lru.New[string, string](demangleCacheSize, hashString)
	if err != nil {
		// Only reachable with an invalid capacity constant.
		panic(err)
	}
	return &Demangler{cache: cache}
}

// Demangle returns the human-readable form of a mangled symbol name.
func (d *Demangler) Demangle(name string) string {
	if pretty, ok := d.cache.Get(name); ok {
		return pretty
	}
	pretty := demangle.Filter(name, demangle.NoParams, demangle.NoTemplateParams)
	d.cache.Add(name, pretty)
	return pretty
}
