// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

package ingest // import "github.com/tracefox/tracefox/ingest"

import (
	"fmt"
	"strconv"

	"github.com/tracefox/tracefox/fxprof"
	"github.com/tracefox/tracefox/libtrace"
	"github.com/tracefox/tracefox/stacks"
)

// stringTable is the append-only, index-stable string pool of one thread.
// Every name-bearing column references strings by index.
type stringTable struct {
	strings []string
	index   map[string]int32
}

func newStringTable() *stringTable {
	return &stringTable{
		strings: []string{},
		index:   make(map[string]int32),
	}
}

func (t *stringTable) intern(s string) int32 {
	if idx, ok := t.index[s]; ok {
		return idx
	}
	idx := int32(len(t.strings))
	t.strings = append(t.strings, s)
	t.index[s] = idx
	return idx
}

type frameKind uint8

const (
	frameUnknown frameKind = iota
	frameNative
	frameManaged
)

// frameKey identifies one distinct frame row: the owning registry row plus
// the owner-relative address (absolute for unknown frames).
type frameKey struct {
	kind  frameKind
	owner int32
	addr  libtrace.Address
}

// funcKey identifies one distinct function row. For native frames with a
// symbol, addr is the symbol's start so all sampled addresses inside the
// function share the row.
type funcKey struct {
	kind  frameKind
	owner int32
	addr  libtrace.Address
}

type symbolKey struct {
	lib  int32
	addr libtrace.Address
}

// threadBuilder accumulates the columnar tables of one logical thread
// during ingestion.
type threadBuilder struct {
	tid          libtrace.TID
	name         string
	isMain       bool
	registerTime float64
	unregisterMS *float64

	strings *stringTable
	stacks  *stacks.Table

	// stackCategory mirrors the stack trie with per-node categories,
	// extended whenever interning grows the trie.
	stackCategory []int32

	frameIndex   map[frameKey]int32
	frameAddress []int64
	frameCat     []int32
	frameFunc    []int32
	frameSymbol  []*int32

	funcIndex    map[funcKey]int32
	funcName     []int32
	funcResource []int32

	resourceIndex map[int32]int32
	resourceLib   []*int32
	resourceName  []int32

	symbolIndex map[symbolKey]int32
	symbolLib   []int32
	symbolAddr  []uint64
	symbolName  []int32
	symbolSize  []*uint32

	sampleStack  []int32
	sampleDeltas []float64
	sampleCPU    []float64
	sawCPU       bool
	lastSampleMS float64
	haveSample   bool

	markerData  fxprof.DataColumn
	markerName  []int32
	markerStart []float64
	markerEnd   []*float64
	markerPhase []int32
	markerCat   []int32
}

func newThreadBuilder(tid libtrace.TID, registerTime float64, isMain bool) *threadBuilder {
	return &threadBuilder{
		tid:           tid,
		isMain:        isMain,
		registerTime:  registerTime,
		strings:       newStringTable(),
		stacks:        stacks.NewTable(),
		frameIndex:    make(map[frameKey]int32),
		funcIndex:     make(map[funcKey]int32),
		resourceIndex: make(map[int32]int32),
		symbolIndex:   make(map[symbolKey]int32),
	}
}

// internFunc returns the function row for key, creating it with the given
// name and resource on first use.
func (tb *threadBuilder) internFunc(key funcKey, name string, resource int32) int32 {
	if idx, ok := tb.funcIndex[key]; ok {
		return idx
	}
	idx := int32(len(tb.funcName))
	tb.funcName = append(tb.funcName, tb.strings.intern(name))
	tb.funcResource = append(tb.funcResource, resource)
	tb.funcIndex[key] = idx
	return idx
}

// internResource returns the resource row for a lib, creating it on first
// use.
func (tb *threadBuilder) internResource(lib int32, name string) int32 {
	if idx, ok := tb.resourceIndex[lib]; ok {
		return idx
	}
	idx := int32(len(tb.resourceName))
	libCopy := lib
	tb.resourceLib = append(tb.resourceLib, &libCopy)
	tb.resourceName = append(tb.resourceName, tb.strings.intern(name))
	tb.resourceIndex[lib] = idx
	return idx
}

// internSymbol returns the native symbol row for (lib, addr), creating it
// on first use.
func (tb *threadBuilder) internSymbol(lib int32, addr libtrace.Address,
	name string, size uint32) int32 {
	key := symbolKey{lib: lib, addr: addr}
	if idx, ok := tb.symbolIndex[key]; ok {
		return idx
	}
	idx := int32(len(tb.symbolLib))
	tb.symbolLib = append(tb.symbolLib, lib)
	tb.symbolAddr = append(tb.symbolAddr, uint64(addr))
	tb.symbolName = append(tb.symbolName, tb.strings.intern(name))
	if size != 0 {
		sizeCopy := size
		tb.symbolSize = append(tb.symbolSize, &sizeCopy)
	} else {
		tb.symbolSize = append(tb.symbolSize, nil)
	}
	tb.symbolIndex[key] = idx
	return idx
}

// internFrame returns the frame row for key, creating it on first use.
func (tb *threadBuilder) internFrame(key frameKey, address int64, category int32,
	funcRow int32, symbolRow *int32) int32 {
	if idx, ok := tb.frameIndex[key]; ok {
		return idx
	}
	idx := int32(len(tb.frameAddress))
	tb.frameAddress = append(tb.frameAddress, address)
	tb.frameCat = append(tb.frameCat, category)
	tb.frameFunc = append(tb.frameFunc, funcRow)
	tb.frameSymbol = append(tb.frameSymbol, symbolRow)
	tb.frameIndex[key] = idx
	return idx
}

// internStack interns a root-to-leaf frame sequence and returns the leaf
// stack node, extending the per-node category column for new nodes.
func (tb *threadBuilder) internStack(framesRootToLeaf []int32) int32 {
	node := tb.stacks.Intern(framesRootToLeaf)
	for n := len(tb.stackCategory); n < tb.stacks.Len(); n++ {
		frame := tb.stacks.Frame(int32(n))
		tb.stackCategory = append(tb.stackCategory, tb.frameCat[frame])
	}
	return node
}

// appendSample records one sample at the given stack node. cpuDelta is the
// thread CPU time consumed since the previous sample, in nanoseconds.
func (tb *threadBuilder) appendSample(ts libtrace.Timestamp, stackNode int32,
	cpuDelta uint64) {
	ms := ts.Milliseconds()
	delta := 0.0
	if tb.haveSample {
		delta = ms - tb.lastSampleMS
	}
	tb.haveSample = true
	tb.lastSampleMS = ms

	tb.sampleStack = append(tb.sampleStack, stackNode)
	tb.sampleDeltas = append(tb.sampleDeltas, delta)
	tb.sampleCPU = append(tb.sampleCPU, float64(cpuDelta))
	if cpuDelta != 0 {
		tb.sawCPU = true
	}
}

// appendInstantMarker records a point-in-time marker.
func (tb *threadBuilder) appendInstantMarker(name string, ts libtrace.Timestamp,
	category int32, data fxprof.MarkerData) {
	tb.markerData = append(tb.markerData, data)
	tb.markerName = append(tb.markerName, tb.strings.intern(name))
	tb.markerStart = append(tb.markerStart, ts.Milliseconds())
	tb.markerEnd = append(tb.markerEnd, nil)
	tb.markerPhase = append(tb.markerPhase, fxprof.PhaseInstant)
	tb.markerCat = append(tb.markerCat, category)
}

// appendOpenMarker records an interval marker whose end is not known yet
// and returns its row for closeMarker. Appending at start time keeps the
// marker table ordered by start time regardless of when the end arrives.
func (tb *threadBuilder) appendOpenMarker(name string, start libtrace.Timestamp,
	category int32, data fxprof.MarkerData) int {
	row := len(tb.markerData)
	tb.markerData = append(tb.markerData, data)
	tb.markerName = append(tb.markerName, tb.strings.intern(name))
	tb.markerStart = append(tb.markerStart, start.Milliseconds())
	tb.markerEnd = append(tb.markerEnd, nil)
	tb.markerPhase = append(tb.markerPhase, fxprof.PhaseInterval)
	tb.markerCat = append(tb.markerCat, category)
	return row
}

// closeMarker records the end time of a previously opened interval marker.
func (tb *threadBuilder) closeMarker(row int, end libtrace.Timestamp) {
	ms := end.Milliseconds()
	tb.markerEnd[row] = &ms
}

// nonNil maps a nil column to an empty one so that empty tables serialize
// as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// zeroes returns a column of n zero values.
func zeroes[T any](n int) []T {
	return make([]T, n)
}

// nils returns an all-null column of n entries.
func nils[T any](n int) []*T {
	return make([]*T, n)
}

// build freezes the accumulated columns into an output thread.
func (tb *threadBuilder) build(pid libtrace.PID) fxprof.Thread {
	name := tb.name
	if name == "" {
		if tb.isMain {
			name = "Main Thread"
		} else {
			name = fmt.Sprintf("Thread %d", tb.tid)
		}
	}

	var cpuColumn []float64
	if tb.sawCPU {
		cpuColumn = tb.sampleCPU
	}

	numStacks := tb.stacks.Len()
	stackFrames := make([]int32, numStacks)
	stackPrefixes := make([]*int32, numStacks)
	for i := 0; i < numStacks; i++ {
		stackFrames[i] = tb.stacks.Frame(int32(i))
		if prefix := tb.stacks.Prefix(int32(i)); prefix != stacks.None {
			prefixCopy := prefix
			stackPrefixes[i] = &prefixCopy
		}
	}

	numFrames := len(tb.frameAddress)
	numFuncs := len(tb.funcName)
	numResources := len(tb.resourceName)
	numSymbols := len(tb.symbolLib)
	numSamples := len(tb.sampleStack)
	numMarkers := len(tb.markerData)

	return fxprof.Thread{
		ProcessType:    "default",
		RegisterTime:   tb.registerTime,
		UnregisterTime: tb.unregisterMS,
		PausedRanges:   []fxprof.Page{},
		Name:           name,
		IsMainThread:   tb.isMain,
		PID:            strconv.FormatUint(uint64(pid), 10),
		TID:            strconv.FormatUint(uint64(tb.tid), 10),
		Samples: fxprof.SamplesTable{
			WeightType:     "samples",
			Stack:          nonNil(tb.sampleStack),
			TimeDeltas:     nonNil(tb.sampleDeltas),
			ThreadCPUDelta: cpuColumn,
			Length:         numSamples,
		},
		Markers: fxprof.MarkersTable{
			Data:      nonNil(tb.markerData),
			Name:      nonNil(tb.markerName),
			StartTime: nonNil(tb.markerStart),
			EndTime:   nonNil(tb.markerEnd),
			Phase:     nonNil(tb.markerPhase),
			Category:  nonNil(tb.markerCat),
			Length:    numMarkers,
		},
		StackTable: fxprof.StackTable{
			Frame:       stackFrames,
			Prefix:      stackPrefixes,
			Category:    nonNil(tb.stackCategory),
			Subcategory: zeroes[int32](numStacks),
			Length:      numStacks,
		},
		FrameTable: fxprof.FrameTable{
			Address:        nonNil(tb.frameAddress),
			InlineDepth:    zeroes[int32](numFrames),
			Category:       nonNil(tb.frameCat),
			Subcategory:    zeroes[int32](numFrames),
			Func:           nonNil(tb.frameFunc),
			NativeSymbol:   nonNil(tb.frameSymbol),
			InnerWindowID:  nils[int32](numFrames),
			Implementation: nils[int32](numFrames),
			Line:           nils[int32](numFrames),
			Column:         nils[int32](numFrames),
			Length:         numFrames,
		},
		StringArray: nonNil(tb.strings.strings),
		FuncTable: fxprof.FuncTable{
			Name:          nonNil(tb.funcName),
			IsJS:          zeroes[bool](numFuncs),
			RelevantForJS: zeroes[bool](numFuncs),
			Resource:      nonNil(tb.funcResource),
			FileName:      nils[int32](numFuncs),
			LineNumber:    nils[int32](numFuncs),
			ColumnNumber:  nils[int32](numFuncs),
			Length:        numFuncs,
		},
		ResourceTable: fxprof.ResourceTable{
			Lib:    nonNil(tb.resourceLib),
			Name:   nonNil(tb.resourceName),
			Host:   nils[int32](numResources),
			Type:   repeat(fxprof.ResourceTypeLibrary, numResources),
			Length: numResources,
		},
		NativeSymbols: fxprof.NativeSymbolsTable{
			LibIndex:     nonNil(tb.symbolLib),
			Address:      nonNil(tb.symbolAddr),
			Name:         nonNil(tb.symbolName),
			FunctionSize: nonNil(tb.symbolSize),
			Length:       numSymbols,
		},
	}
}

func repeat[T any](v T, n int) []T {
	s := make([]T, n)
	for i := range s {
		s[i] = v
	}
	return s
}
