// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

// Package fxprof implements the columnar trace model and its serialization
// to the Firefox Profiler processed-profile document. All cross references
// between tables are dense integer indices; every name-bearing column
// points into the owning thread's deduplicated string array.
package fxprof // import "github.com/tracefox/tracefox/fxprof"

// Profile is the root of the interchange document.
type Profile struct {
	Meta    Meta     `json:"meta"`
	Libs    []Lib    `json:"libs"`
	Threads []Thread `json:"threads"`
	Pages   []Page   `json:"pages"`
}

// Page exists for schema compatibility; profiled processes have no
// browser pages and the array stays empty.
type Page struct{}

// Meta carries the capture-wide metadata block.
type Meta struct {
	// Interval is the nominal sampling interval in milliseconds.
	Interval float64 `json:"interval"`
	// StartTime and EndTime bound the capture in profile milliseconds.
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`

	ProcessType                int    `json:"processType"`
	Product                    string `json:"product"`
	Stackwalk                  int    `json:"stackwalk"`
	Version                    int    `json:"version"`
	PreprocessedProfileVersion int    `json:"preprocessedProfileVersion"`
	Symbolicated               bool   `json:"symbolicated"`

	Platform    string `json:"platform,omitempty"`
	OSCPU       string `json:"oscpu,omitempty"`
	ABI         string `json:"abi,omitempty"`
	LogicalCPUs int    `json:"logicalCPUs,omitempty"`

	Categories   []Category     `json:"categories"`
	MarkerSchema []MarkerSchema `json:"markerSchema"`
	SampleUnits  SampleUnits    `json:"sampleUnits"`
}

// Category describes one entry of the frame/marker category list.
type Category struct {
	Name          string   `json:"name"`
	Color         string   `json:"color"`
	Subcategories []string `json:"subcategories"`
}

// SampleUnits declares the units of the per-sample numeric columns.
type SampleUnits struct {
	Time           string `json:"time"`
	EventDelay     string `json:"eventDelay"`
	ThreadCPUDelta string `json:"threadCPUDelta"`
}

// Lib describes one native module of the profiled process. Address fields
// are absolute virtual addresses encoded as unsigned integers.
type Lib struct {
	AddressStart  uint64 `json:"addressStart"`
	AddressEnd    uint64 `json:"addressEnd"`
	AddressOffset uint64 `json:"addressOffset"`
	Arch          string `json:"arch"`
	Name          string `json:"name"`
	Path          string `json:"path"`
	DebugName     string `json:"debugName"`
	DebugPath     string `json:"debugPath"`
	BreakpadID    string `json:"breakpadId"`
	CodeID        string `json:"codeId"`
}

// Thread holds the per-thread columnar tables.
type Thread struct {
	ProcessType         string   `json:"processType"`
	ProcessStartupTime  float64  `json:"processStartupTime"`
	ProcessShutdownTime *float64 `json:"processShutdownTime"`
	RegisterTime        float64  `json:"registerTime"`
	UnregisterTime      *float64 `json:"unregisterTime"`
	PausedRanges        []Page   `json:"pausedRanges"`
	Name                string   `json:"name"`
	IsMainThread        bool     `json:"isMainThread"`
	PID                 string   `json:"pid"`
	TID                 string   `json:"tid"`

	Samples       SamplesTable       `json:"samples"`
	Markers       MarkersTable       `json:"markers"`
	StackTable    StackTable         `json:"stackTable"`
	FrameTable    FrameTable         `json:"frameTable"`
	StringArray   []string           `json:"stringArray"`
	FuncTable     FuncTable          `json:"funcTable"`
	ResourceTable ResourceTable      `json:"resourceTable"`
	NativeSymbols NativeSymbolsTable `json:"nativeSymbols"`
}

// SamplesTable is the columnar sample table of one thread.
type SamplesTable struct {
	WeightType string  `json:"weightType"`
	Stack      []int32 `json:"stack"`
	// TimeDeltas holds per-sample deltas in milliseconds; the first entry
	// of a thread is always 0.
	TimeDeltas []float64 `json:"timeDeltas"`
	// ThreadCPUDelta is null (nil) when the sampler reports no CPU usage.
	ThreadCPUDelta []float64 `json:"threadCPUDelta"`
	Length         int       `json:"length"`
}

// StackTable is the interned stack trie in columnar form. Prefix is null
// for root nodes.
type StackTable struct {
	Frame       []int32  `json:"frame"`
	Prefix      []*int32 `json:"prefix"`
	Category    []int32  `json:"category"`
	Subcategory []int32  `json:"subcategory"`
	Length      int      `json:"length"`
}

// FrameTable holds one row per distinct (function, address) pair.
// Address is the module-relative address for native frames, the method
// code offset for managed frames, and the absolute address for frames
// that resolved to nothing.
type FrameTable struct {
	Address        []int64  `json:"address"`
	InlineDepth    []int32  `json:"inlineDepth"`
	Category       []int32  `json:"category"`
	Subcategory    []int32  `json:"subcategory"`
	Func           []int32  `json:"func"`
	NativeSymbol   []*int32 `json:"nativeSymbol"`
	InnerWindowID  []*int32 `json:"innerWindowID"`
	Implementation []*int32 `json:"implementation"`
	Line           []*int32 `json:"line"`
	Column         []*int32 `json:"column"`
	Length         int      `json:"length"`
}

// FuncTable holds one row per distinct function. Resource is -1 when the
// function belongs to no module. Source location columns stay null: the
// capture streams carry no line information.
type FuncTable struct {
	Name          []int32  `json:"name"`
	IsJS          []bool   `json:"isJS"`
	RelevantForJS []bool   `json:"relevantForJS"`
	Resource      []int32  `json:"resource"`
	FileName      []*int32 `json:"fileName"`
	LineNumber    []*int32 `json:"lineNumber"`
	ColumnNumber  []*int32 `json:"columnNumber"`
	Length        int      `json:"length"`
}

// ResourceTypeLibrary is the resource table type tag for native modules.
const ResourceTypeLibrary int32 = 1

// ResourceTable maps functions to their owning module.
type ResourceTable struct {
	Lib    []*int32 `json:"lib"`
	Name   []int32  `json:"name"`
	Host   []*int32 `json:"host"`
	Type   []int32  `json:"type"`
	Length int      `json:"length"`
}

// NativeSymbolsTable holds the native symbols referenced by frames.
// Address is relative to the owning lib; FunctionSize is null when the
// symbol table carried no size.
type NativeSymbolsTable struct {
	LibIndex     []int32   `json:"libIndex"`
	Address      []uint64  `json:"address"`
	Name         []int32   `json:"name"`
	FunctionSize []*uint32 `json:"functionSize"`
	Length       int       `json:"length"`
}

// MarkersTable is the columnar marker table of one thread. EndTime is null
// for instant markers.
type MarkersTable struct {
	Data      DataColumn `json:"data"`
	Name      []int32    `json:"name"`
	StartTime []float64  `json:"startTime"`
	EndTime   []*float64 `json:"endTime"`
	Phase     []int32    `json:"phase"`
	Category  []int32    `json:"category"`
	Length    int        `json:"length"`
}

// Frame and marker categories, indices into Meta.Categories as produced
// by BuiltinCategories.
const (
	CategoryOther int32 = iota
	CategoryNative
	CategoryManaged
	CategoryGC
	CategoryJIT
)

// BuiltinCategories returns the category list every emitted profile
// carries, in the order matching the Category* constants.
func BuiltinCategories() []Category {
	return []Category{
		{Name: "Other", Color: "grey", Subcategories: []string{"Other"}},
		{Name: "Native", Color: "blue", Subcategories: []string{"Other"}},
		{Name: "Managed", Color: "green", Subcategories: []string{"Other"}},
		{Name: "GC", Color: "orange", Subcategories: []string{"Other"}},
		{Name: "JIT", Color: "yellow", Subcategories: []string{"Other"}},
	}
}
