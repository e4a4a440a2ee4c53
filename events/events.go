// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

// Package events defines the typed capture events produced by the sampler
// and runtime collaborators, the ordered sources the merge pipeline
// consumes them from, and the newline-delimited JSON codec used for
// capture files.
package events // import "github.com/tracefox/tracefox/events"

import "github.com/tracefox/tracefox/libtrace"

// Kind discriminates the payload of an Event.
type Kind string

const (
	// Sampler stream kinds.
	KindSample       Kind = "sample"
	KindModuleLoad   Kind = "moduleLoad"
	KindModuleUnload Kind = "moduleUnload"

	// Runtime stream kinds.
	KindThreadStart      Kind = "threadStart"
	KindThreadStop       Kind = "threadStop"
	KindMethodCompiled   Kind = "methodCompiled"
	KindGCStart          Kind = "gcStart"
	KindGCEnd            Kind = "gcEnd"
	KindGCSuspend        Kind = "gcSuspend"
	KindGCRestart        Kind = "gcRestart"
	KindGCAllocationTick Kind = "gcAllocationTick"
	KindGCHeapStats      Kind = "gcHeapStats"
)

// Event is one timestamped capture event. Kind selects which payload
// pointer is set; all other payload fields are nil.
type Event struct {
	Kind      Kind               `json:"kind"`
	Timestamp libtrace.Timestamp `json:"ts"`
	TID       libtrace.TID       `json:"tid,omitempty"`

	Sample         *Sample           `json:"sample,omitempty"`
	ModuleLoad     *ModuleLoad       `json:"moduleLoad,omitempty"`
	ModuleUnload   *ModuleUnload     `json:"moduleUnload,omitempty"`
	ThreadStart    *ThreadStart      `json:"threadStart,omitempty"`
	MethodCompiled *MethodCompiled   `json:"methodCompiled,omitempty"`
	GCStart        *GCStart          `json:"gcStart,omitempty"`
	GCEnd          *GCEnd            `json:"gcEnd,omitempty"`
	GCSuspend      *GCSuspend        `json:"gcSuspend,omitempty"`
	AllocationTick *GCAllocationTick `json:"gcAllocationTick,omitempty"`
	HeapStats      *GCHeapStats      `json:"gcHeapStats,omitempty"`
}

// Sample is one stack snapshot of a thread. Addresses are ordered from the
// innermost (leaf) frame to the outermost, the order stack walkers produce
// them in.
type Sample struct {
	Addresses []libtrace.Address `json:"addresses"`
	// CPUDelta is the thread CPU time consumed since the previous sample
	// of the same thread, in nanoseconds. Zero when the sampler does not
	// report CPU usage.
	CPUDelta uint64 `json:"cpuDelta,omitempty"`
}

// ModuleSymbol is one pre-resolved symbol table entry of a loaded module.
// Offset is relative to the module base.
type ModuleSymbol struct {
	Name   string `json:"name"`
	Offset uint64 `json:"offset"`
	Size   uint32 `json:"size,omitempty"`
}

// ModuleLoad reports a native binary image mapped into the process.
type ModuleLoad struct {
	Base    libtrace.Address `json:"base"`
	Size    uint64           `json:"size"`
	Path    string           `json:"path"`
	Arch    string           `json:"arch,omitempty"`
	BuildID string           `json:"buildId,omitempty"`
	CodeID  string           `json:"codeId,omitempty"`
	// Symbols is the optional symbol table captured alongside the load
	// event. Symbol-server lookup is out of scope, so this is the only
	// source of native symbol names.
	Symbols []ModuleSymbol `json:"symbols,omitempty"`
}

// ModuleUnload reports an image being unmapped.
type ModuleUnload struct {
	Base libtrace.Address `json:"base"`
}

// ThreadStart reports a thread coming into existence, optionally named.
type ThreadStart struct {
	Name string `json:"name,omitempty"`
}

// MethodCompiled reports a managed method JIT-compiled to the code range
// [Start, Start+Size).
type MethodCompiled struct {
	MethodID  uint64           `json:"methodId"`
	Namespace string           `json:"namespace,omitempty"`
	Name      string           `json:"name"`
	Signature string           `json:"signature,omitempty"`
	Token     uint32           `json:"token,omitempty"`
	Flags     uint32           `json:"flags,omitempty"`
	ILSize    uint32           `json:"ilSize,omitempty"`
	Start     libtrace.Address `json:"start"`
	Size      uint64           `json:"size"`
}

// GCStart reports the beginning of garbage collection cycle Count.
type GCStart struct {
	Count  uint32 `json:"count"`
	Depth  uint32 `json:"depth"`
	Reason string `json:"reason,omitempty"`
	GCType string `json:"gcType,omitempty"`
}

// GCEnd reports the end of garbage collection cycle Count.
type GCEnd struct {
	Count uint32 `json:"count"`
	Depth uint32 `json:"depth"`
}

// GCSuspend reports the runtime starting to suspend managed execution.
// The matching KindGCRestart event carries no payload.
type GCSuspend struct {
	Reason string `json:"reason,omitempty"`
	Count  uint32 `json:"count"`
}

// GCAllocationTick reports the periodic allocation sampling event.
type GCAllocationTick struct {
	Amount    uint64 `json:"amount"`
	Kind      string `json:"allocationKind,omitempty"`
	TypeName  string `json:"typeName,omitempty"`
	HeapIndex uint32 `json:"heapIndex,omitempty"`
}

// GCHeapStats reports the per-generation heap sizes after a collection.
type GCHeapStats struct {
	TotalHeapSize uint64 `json:"totalHeapSize"`
	TotalPromoted uint64 `json:"totalPromoted"`
	Gen0Size      uint64 `json:"gen0Size"`
	Gen1Size      uint64 `json:"gen1Size"`
	Gen2Size      uint64 `json:"gen2Size"`
	Gen3Size      uint64 `json:"gen3Size"`
	Gen4Size      uint64 `json:"gen4Size,omitempty"`
}
