// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracefox/tracefox/events"
	"github.com/tracefox/tracefox/fxprof"
	"github.com/tracefox/tracefox/libtrace"
)

func runPipeline(t *testing.T, cfg Config, sources ...events.Source) (*fxprof.Profile, *Pipeline) {
	t.Helper()
	p := New(cfg)
	profile, err := p.Run(context.Background(), events.NewMerger(sources...))
	require.NoError(t, err)
	require.NotNil(t, profile)
	return profile, p
}

// str dereferences a string table index of a thread.
func str(t *testing.T, th *fxprof.Thread, idx int32) string {
	t.Helper()
	require.Less(t, int(idx), len(th.StringArray))
	return th.StringArray[idx]
}

func sampleEvent(ts libtrace.Timestamp, tid libtrace.TID, addrs ...libtrace.Address) *events.Event {
	return &events.Event{
		Kind:      events.KindSample,
		Timestamp: ts,
		TID:       tid,
		Sample:    &events.Sample{Addresses: addrs},
	}
}

func methodEvent(ts libtrace.Timestamp, tid libtrace.TID, id uint64, name string,
	start libtrace.Address, size uint64) *events.Event {
	return &events.Event{
		Kind:      events.KindMethodCompiled,
		Timestamp: ts,
		TID:       tid,
		MethodCompiled: &events.MethodCompiled{
			MethodID:  id,
			Namespace: "Hello",
			Name:      name,
			ILSize:    100,
			Start:     start,
			Size:      size,
		},
	}
}

func TestSamplesCollapseToSharedRows(t *testing.T) {
	runtime := events.NewSliceSource(
		methodEvent(0, 1, 0xcafe, "World", 0x1000, 0x100),
	)
	sampler := events.NewSliceSource(
		sampleEvent(1_000_000, 1, 0x1040),
		sampleEvent(11_000_000, 1, 0x1040),
		sampleEvent(21_000_000, 1, 0x1040),
		sampleEvent(31_000_000, 1, 0x1040),
	)

	profile, p := runPipeline(t, Config{}, sampler, runtime)
	assert.Empty(t, p.Warnings())
	require.Len(t, profile.Threads, 1)
	th := &profile.Threads[0]

	// Four samples of the same single-frame stack share one stack node,
	// one frame and one function.
	assert.Equal(t, 4, th.Samples.Length)
	assert.Equal(t, []float64{0, 10, 10, 10}, th.Samples.TimeDeltas)
	assert.Nil(t, th.Samples.ThreadCPUDelta)
	require.Equal(t, 1, th.StackTable.Length)
	assert.Nil(t, th.StackTable.Prefix[0])
	assert.Equal(t, []int32{0, 0, 0, 0}, th.Samples.Stack)

	require.Equal(t, 1, th.FrameTable.Length)
	assert.Equal(t, int64(0x40), th.FrameTable.Address[0])
	assert.Equal(t, fxprof.CategoryManaged, th.FrameTable.Category[0])

	require.Equal(t, 1, th.FuncTable.Length)
	assert.Equal(t, "Hello.World", str(t, th, th.FuncTable.Name[0]))
	assert.Equal(t, int32(-1), th.FuncTable.Resource[0])

	assert.True(t, th.IsMainThread)
	assert.Equal(t, "Main Thread", th.Name)
	assert.Equal(t, "1", th.TID)

	assert.Equal(t, 0.0, profile.Meta.StartTime)
	assert.Equal(t, 31.0, profile.Meta.EndTime)
}

func TestStackTrieSharing(t *testing.T) {
	runtime := events.NewSliceSource(
		methodEvent(0, 1, 1, "A", 0x1000, 0x100),
		methodEvent(1, 1, 2, "B", 0x2000, 0x100),
		methodEvent(2, 1, 3, "C", 0x3000, 0x100),
		methodEvent(3, 1, 4, "D", 0x4000, 0x100),
	)
	// Addresses are leaf first: [C B A] and [D B A] share the A and B
	// nodes, so the trie holds 4 nodes.
	sampler := events.NewSliceSource(
		sampleEvent(1_000_000, 1, 0x3000, 0x2000, 0x1000),
		sampleEvent(2_000_000, 1, 0x4000, 0x2000, 0x1000),
	)

	profile, _ := runPipeline(t, Config{}, sampler, runtime)
	th := &profile.Threads[0]
	assert.Equal(t, 2, th.Samples.Length)
	assert.Equal(t, 4, th.StackTable.Length)
	assert.Equal(t, 4, th.FrameTable.Length)
	assert.NotEqual(t, th.Samples.Stack[0], th.Samples.Stack[1])
}

func TestJitCompileMarkers(t *testing.T) {
	evs := make([]*events.Event, 0, 20)
	for i := 0; i < 20; i++ {
		evs = append(evs, methodEvent(libtrace.Timestamp(i)*1_000_000, 1,
			uint64(i+1), fmt.Sprintf("M%d", i), libtrace.Address(0x1000+i*0x100), 0x100))
	}
	profile, _ := runPipeline(t, Config{}, events.NewSliceSource(evs...))

	require.Len(t, profile.Threads, 1)
	markers := &profile.Threads[0].Markers
	require.Equal(t, 20, markers.Length)
	for i := 0; i < 20; i++ {
		data, ok := markers.Data[i].(*fxprof.JitCompileData)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("Hello.M%d", i), data.FullName)
		assert.Equal(t, uint32(100), data.MethodILSize)
		assert.Equal(t, fxprof.PhaseInstant, markers.Phase[i])
		assert.Nil(t, markers.EndTime[i])
		assert.Equal(t, fxprof.CategoryJIT, markers.Category[i])
	}

	var schemaNames []string
	for _, schema := range profile.Meta.MarkerSchema {
		schemaNames = append(schemaNames, schema.Name)
	}
	assert.Equal(t, []string{fxprof.MarkerTypeJitCompile}, schemaNames)
}

func TestNativeAndUnknownFrames(t *testing.T) {
	sampler := events.NewSliceSource(
		&events.Event{
			Kind: events.KindModuleLoad,
			ModuleLoad: &events.ModuleLoad{
				Base: 0x1000, Size: 0x100, Path: "/usr/lib/libfoo.so",
				BuildID: "f00d",
				Symbols: []events.ModuleSymbol{
					{Name: "foo_sym", Offset: 0x10, Size: 0x20},
				},
			},
		},
		sampleEvent(1_000_000, 1, 0x1015),
		sampleEvent(2_000_000, 1, 0x5000),
		sampleEvent(3_000_000, 1), // empty stack
	)

	profile, _ := runPipeline(t, Config{}, sampler)
	require.Len(t, profile.Libs, 1)
	assert.Equal(t, "libfoo.so", profile.Libs[0].Name)
	assert.Equal(t, uint64(0x1000), profile.Libs[0].AddressStart)
	assert.Equal(t, uint64(0x1100), profile.Libs[0].AddressEnd)
	assert.Equal(t, "f00d", profile.Libs[0].BreakpadID)

	th := &profile.Threads[0]
	// All three samples count, including the empty-stack one.
	assert.Equal(t, 3, th.Samples.Length)
	require.Equal(t, 3, th.FuncTable.Length)

	var names []string
	for i := 0; i < th.FuncTable.Length; i++ {
		names = append(names, str(t, th, th.FuncTable.Name[i]))
	}
	assert.Equal(t, []string{"foo_sym", "0x0000000000005000", "0x0000000000000000"}, names)

	// The symbolized frame carries its native symbol row.
	require.Equal(t, 1, th.NativeSymbols.Length)
	assert.Equal(t, uint64(0x10), th.NativeSymbols.Address[0])
	require.NotNil(t, th.NativeSymbols.FunctionSize[0])
	assert.Equal(t, uint32(0x20), *th.NativeSymbols.FunctionSize[0])
	require.NotNil(t, th.FrameTable.NativeSymbol[0])
	assert.Equal(t, int32(0), *th.FrameTable.NativeSymbol[0])
	assert.Equal(t, int64(0x15), th.FrameTable.Address[0])
	assert.Equal(t, fxprof.CategoryNative, th.FrameTable.Category[0])

	require.Equal(t, 1, th.ResourceTable.Length)
	assert.Equal(t, "libfoo.so", str(t, th, th.ResourceTable.Name[0]))
	require.NotNil(t, th.ResourceTable.Lib[0])
	assert.Equal(t, int32(0), *th.ResourceTable.Lib[0])

	// Unknown frames resolve to no module.
	assert.Equal(t, fxprof.CategoryOther, th.FrameTable.Category[1])
	assert.Equal(t, int32(-1), th.FuncTable.Resource[1])
}

func TestDuplicateModuleLoadKeepsFirst(t *testing.T) {
	sampler := events.NewSliceSource(
		&events.Event{
			Kind: events.KindModuleLoad,
			ModuleLoad: &events.ModuleLoad{
				Base: 0x1000, Size: 0x100, Path: "/a/one.so",
				Symbols: []events.ModuleSymbol{{Name: "first", Offset: 0x10, Size: 0x20}},
			},
		},
		&events.Event{
			Kind:      events.KindModuleLoad,
			Timestamp: 1,
			ModuleLoad: &events.ModuleLoad{
				Base: 0x1000, Size: 0x800, Path: "/b/two.so",
				Symbols: []events.ModuleSymbol{{Name: "second", Offset: 0x10, Size: 0x20}},
			},
		},
		sampleEvent(1_000_000, 1, 0x1015),
	)

	profile, _ := runPipeline(t, Config{}, sampler)
	require.Len(t, profile.Libs, 1)
	assert.Equal(t, "one.so", profile.Libs[0].Name)

	th := &profile.Threads[0]
	require.Equal(t, 1, th.NativeSymbols.Length)
	assert.Equal(t, "first", str(t, th, th.NativeSymbols.Name[0]))
}

func TestGCMarkers(t *testing.T) {
	runtime := events.NewSliceSource(
		&events.Event{Kind: events.KindGCSuspend, Timestamp: 10_000_000, TID: 1,
			GCSuspend: &events.GCSuspend{Reason: "SuspendForGC", Count: 3}},
		&events.Event{Kind: events.KindGCStart, Timestamp: 11_000_000, TID: 1,
			GCStart: &events.GCStart{Count: 3, Depth: 1, Reason: "AllocSmall", GCType: "NonConcurrent"}},
		&events.Event{Kind: events.KindGCAllocationTick, Timestamp: 12_000_000, TID: 1,
			AllocationTick: &events.GCAllocationTick{Amount: 102400, TypeName: "System.String"}},
		&events.Event{Kind: events.KindGCEnd, Timestamp: 15_000_000, TID: 1,
			GCEnd: &events.GCEnd{Count: 3, Depth: 1}},
		&events.Event{Kind: events.KindGCRestart, Timestamp: 16_000_000, TID: 1},
		&events.Event{Kind: events.KindGCHeapStats, Timestamp: 17_000_000, TID: 1,
			HeapStats: &events.GCHeapStats{TotalHeapSize: 1 << 20, TotalPromoted: 1 << 16}},
	)

	profile, _ := runPipeline(t, Config{}, runtime)
	th := &profile.Threads[0]
	markers := &th.Markers
	require.Equal(t, 4, markers.Length)

	// Rows sit at their start times, so the column stays sorted even
	// though the suspend window closes after the GC cycle ends.
	assert.Equal(t, []float64{10, 11, 12, 17}, markers.StartTime)

	suspend, ok := markers.Data[0].(*fxprof.GCSuspendEEData)
	require.True(t, ok)
	assert.Equal(t, "SuspendForGC", suspend.Reason)
	assert.Equal(t, fxprof.PhaseInterval, markers.Phase[0])
	require.NotNil(t, markers.EndTime[0])
	assert.Equal(t, 16.0, *markers.EndTime[0])

	cycle, ok := markers.Data[1].(*fxprof.GCCycleData)
	require.True(t, ok)
	assert.Equal(t, "AllocSmall", cycle.Reason)
	assert.Equal(t, uint32(3), cycle.Count)
	require.NotNil(t, markers.EndTime[1])
	assert.Equal(t, 15.0, *markers.EndTime[1])

	tick, ok := markers.Data[2].(*fxprof.AllocationTickData)
	require.True(t, ok)
	assert.Equal(t, "System.String", tick.TypeName)
	assert.Equal(t, fxprof.PhaseInstant, markers.Phase[2])
	assert.Nil(t, markers.EndTime[2])

	stats, ok := markers.Data[3].(*fxprof.GCHeapStatsData)
	require.True(t, ok)
	assert.Equal(t, uint64(1<<20), stats.TotalHeapSize)

	var schemaNames []string
	for _, schema := range profile.Meta.MarkerSchema {
		schemaNames = append(schemaNames, schema.Name)
	}
	assert.Equal(t, []string{
		fxprof.MarkerTypeGC,
		fxprof.MarkerTypeAllocationTick,
		fxprof.MarkerTypeGCHeapStats,
		fxprof.MarkerTypeGCSuspendEE,
	}, schemaNames)
}

func TestDanglingMarkersCloseAtCaptureEnd(t *testing.T) {
	runtime := events.NewSliceSource(
		&events.Event{Kind: events.KindGCStart, Timestamp: 5_000_000, TID: 1,
			GCStart: &events.GCStart{Count: 1}},
	)
	sampler := events.NewSliceSource(
		sampleEvent(10_000_000, 1, 0x99),
	)

	profile, _ := runPipeline(t, Config{}, sampler, runtime)
	markers := &profile.Threads[0].Markers
	require.Equal(t, 1, markers.Length)
	require.NotNil(t, markers.EndTime[0])
	assert.Equal(t, 10.0, *markers.EndTime[0])
}

func TestUnpairedGCEndIsIgnored(t *testing.T) {
	runtime := events.NewSliceSource(
		&events.Event{Kind: events.KindGCEnd, Timestamp: 1_000_000, TID: 1,
			GCEnd: &events.GCEnd{Count: 7}},
		&events.Event{Kind: events.KindGCRestart, Timestamp: 2_000_000, TID: 1},
	)
	profile, p := runPipeline(t, Config{}, runtime)
	assert.Empty(t, p.Warnings())
	// The capture started mid-cycle; no marker rows and no threads are
	// produced from the orphaned end events.
	assert.Empty(t, profile.Threads)
}

func TestCPUDeltaColumn(t *testing.T) {
	sampler := events.NewSliceSource(
		sampleEvent(0, 1, 0x99),
		&events.Event{Kind: events.KindSample, Timestamp: 1_000_000, TID: 1,
			Sample: &events.Sample{
				Addresses: []libtrace.Address{0x99},
				CPUDelta:  250_000,
			}},
	)
	profile, _ := runPipeline(t, Config{}, sampler)
	th := &profile.Threads[0]
	require.Equal(t, 2, th.Samples.Length)
	assert.Equal(t, []float64{0, 250_000}, th.Samples.ThreadCPUDelta)
}

func TestThreadLifecycle(t *testing.T) {
	sampler := events.NewSliceSource(
		sampleEvent(0, 1, 0x99),
		sampleEvent(2_000_000, 2, 0x99),
	)
	runtime := events.NewSliceSource(
		&events.Event{Kind: events.KindThreadStart, Timestamp: 1_000_000, TID: 2,
			ThreadStart: &events.ThreadStart{Name: "worker"}},
		&events.Event{Kind: events.KindThreadStop, Timestamp: 3_000_000, TID: 2},
	)

	profile, _ := runPipeline(t, Config{PID: 1234}, sampler, runtime)
	require.Len(t, profile.Threads, 2)

	main := &profile.Threads[0]
	assert.True(t, main.IsMainThread)
	assert.Equal(t, "Main Thread", main.Name)
	assert.Equal(t, "1234", main.PID)

	worker := &profile.Threads[1]
	assert.False(t, worker.IsMainThread)
	assert.Equal(t, "worker", worker.Name)
	assert.Equal(t, "2", worker.TID)
	assert.Equal(t, 1.0, worker.RegisterTime)
	require.NotNil(t, worker.UnregisterTime)
	assert.Equal(t, 3.0, *worker.UnregisterTime)
}

func TestUnnamedThreadsGetDefaultNames(t *testing.T) {
	sampler := events.NewSliceSource(
		sampleEvent(0, 7, 0x99),
		sampleEvent(1_000_000, 8, 0x99),
	)
	profile, _ := runPipeline(t, Config{}, sampler)
	require.Len(t, profile.Threads, 2)
	assert.Equal(t, "Main Thread", profile.Threads[0].Name)
	assert.Equal(t, "Thread 8", profile.Threads[1].Name)
}

func TestCancellationYieldsPartialProfile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(Config{})
	merger := events.NewMerger(events.NewSliceSource(
		sampleEvent(0, 1, 0x99),
		sampleEvent(1_000_000, 1, 0x99),
	))
	profile, err := p.Run(ctx, merger)
	require.NoError(t, err)
	require.NotNil(t, profile)

	assert.Empty(t, profile.Threads)
	warnings := p.Warnings()
	require.NotEmpty(t, warnings)
	assert.ErrorIs(t, warnings[0], context.Canceled)
}

func TestEventsWithoutPayloadAreSkipped(t *testing.T) {
	sampler := events.NewSliceSource(
		&events.Event{Kind: events.KindSample, Timestamp: 0, TID: 1},
		sampleEvent(1_000_000, 1, 0x99),
	)
	profile, _ := runPipeline(t, Config{}, sampler)
	assert.Equal(t, 1, profile.Threads[0].Samples.Length)
}

func TestConfigDefaults(t *testing.T) {
	profile, _ := runPipeline(t, Config{},
		events.NewSliceSource(sampleEvent(0, 1, 0x99)))
	assert.Equal(t, "tracefox", profile.Meta.Product)
	assert.Equal(t, 1.0, profile.Meta.Interval)
}

func TestConfigPassthrough(t *testing.T) {
	cfg := Config{
		Product:          "myapp",
		SamplingInterval: 10 * time.Millisecond,
		Platform:         "linux",
		OSCPU:            "amd64",
		Arch:             "amd64",
		LogicalCPUs:      8,
	}
	profile, _ := runPipeline(t, cfg,
		events.NewSliceSource(sampleEvent(0, 1, 0x99)))
	assert.Equal(t, "myapp", profile.Meta.Product)
	assert.Equal(t, 10.0, profile.Meta.Interval)
	assert.Equal(t, "linux", profile.Meta.Platform)
	assert.Equal(t, 8, profile.Meta.LogicalCPUs)
}
