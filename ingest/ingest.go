// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

// Package ingest implements the merge pipeline: it drains the sampler and
// runtime event streams in timestamp order, folds them into the shared
// symbol registries and per-thread columnar tables, and freezes the result
// into an output profile.
//
// Ingestion is single-threaded and deterministic. The pipeline is the sole
// writer of all registries and tables until the profile is built; after
// that nothing mutates the model.
package ingest // import "github.com/tracefox/tracefox/ingest"

import (
	"context"
	"fmt"
	"io"
	"time"

	lru "github.com/elastic/go-freelru"
	log "github.com/sirupsen/logrus"

	"github.com/tracefox/tracefox/events"
	"github.com/tracefox/tracefox/fxprof"
	"github.com/tracefox/tracefox/libtrace"
	"github.com/tracefox/tracefox/symtab"
)

const (
	// resolveCacheSize bounds the address resolution cache. Sample
	// addresses repeat heavily, so even a small cache absorbs most of the
	// binary search load.
	resolveCacheSize = 65536

	// progressEvery is the event granularity of progress callbacks.
	progressEvery = 8192
)

// ProgressFunc receives ingestion progress. It is called from the merge
// loop, so it must not block for long.
type ProgressFunc func(eventsProcessed uint64, lastTimestamp libtrace.Timestamp)

// Config carries the capture-wide knobs of a conversion run.
type Config struct {
	// Product is the profiled product name shown by the viewer.
	Product string
	// SamplingInterval is the nominal sampler period.
	SamplingInterval time.Duration
	// PID is the profiled process ID.
	PID libtrace.PID

	// Platform metadata passed through to the document.
	Platform    string
	OSCPU       string
	Arch        string
	LogicalCPUs int

	// Progress, when set, is invoked periodically during ingestion.
	Progress ProgressFunc
}

// resolvedAddr is the cached symbolication result for one address.
type resolvedAddr struct {
	kind   frameKind
	owner  int32
	sym    symtab.NativeSymbol
	hasSym bool
}

// openMarker points at an interval marker row whose end event has not
// arrived yet.
type openMarker struct {
	tb  *threadBuilder
	row int
}

// Pipeline folds merged capture events into the columnar trace model.
type Pipeline struct {
	cfg Config

	modules   *symtab.ModuleRegistry
	methods   *symtab.MethodRegistry
	demangler *symtab.Demangler

	// resolveCache is purged whenever a module or method registration
	// changes the address space, so stale or previously-unresolvable
	// entries never outlive a batch.
	resolveCache *lru.LRU[libtrace.Address, resolvedAddr]

	threads     map[libtrace.TID]*threadBuilder
	threadOrder []libtrace.TID

	pendingCycles  map[uint32]*openMarker
	pendingSuspend *openMarker
	usedMarkers    map[string]struct{}

	firstTS   libtrace.Timestamp
	lastTS    libtrace.Timestamp
	haveTS    bool
	processed uint64
	warnings  []error
}

// New creates a pipeline with empty registries and tables.
func New(cfg Config) *Pipeline {
	cache, err := lru.New[libtrace.Address, resolvedAddr](resolveCacheSize,
		libtrace.Address.Hash32)
	if err != nil {
		// Only reachable with an invalid capacity constant.
		panic(err)
	}
	if cfg.Product == "" {
		cfg.Product = "tracefox"
	}
	if cfg.SamplingInterval <= 0 {
		cfg.SamplingInterval = time.Millisecond
	}
	return &Pipeline{
		cfg:           cfg,
		modules:       symtab.NewModuleRegistry(),
		methods:       symtab.NewMethodRegistry(),
		demangler:     symtab.NewDemangler(),
		resolveCache:  cache,
		threads:       make(map[libtrace.TID]*threadBuilder),
		pendingCycles: make(map[uint32]*openMarker),
		usedMarkers:   make(map[string]struct{}),
	}
}

// Run drains the merger into the model and returns the frozen profile.
// Cancellation through ctx finalizes whatever has been ingested so far:
// a partial but internally consistent document is preferable to none.
// The only error returned is a consistency violation detected while
// freezing the model.
func (p *Pipeline) Run(ctx context.Context, merger *events.Merger) (*fxprof.Profile, error) {
	for {
		if err := ctx.Err(); err != nil {
			log.Infof("ingestion cancelled after %d events, finalizing partial profile",
				p.processed)
			p.warnings = append(p.warnings,
				fmt.Errorf("capture conversion cancelled: %w", err))
			break
		}
		ev, err := merger.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// The merger downgrades source failures to warnings, so this
			// is unreachable; guard anyway.
			p.warnings = append(p.warnings, err)
			break
		}
		p.handle(ev)
		p.processed++
		if p.cfg.Progress != nil && p.processed%progressEvery == 0 {
			p.cfg.Progress(p.processed, p.lastTS)
		}
	}
	p.warnings = append(p.warnings, merger.Warnings()...)
	return p.finalize()
}

// Warnings returns the non-fatal conditions hit during ingestion.
func (p *Pipeline) Warnings() []error {
	return p.warnings
}

func (p *Pipeline) handle(ev *events.Event) {
	if !p.haveTS {
		p.firstTS = ev.Timestamp
		p.haveTS = true
	}
	if ev.Timestamp > p.lastTS {
		p.lastTS = ev.Timestamp
	}

	if !payloadPresent(ev) {
		log.Warnf("skipping %s event without payload at %d", ev.Kind, ev.Timestamp)
		return
	}

	switch ev.Kind {
	case events.KindSample:
		p.handleSample(ev)
	case events.KindModuleLoad:
		p.handleModuleLoad(ev)
	case events.KindModuleUnload:
		// Out-of-order unload/reload at overlapping addresses is a
		// documented limitation; ranges are never retired mid-capture.
		log.Debugf("ignoring unload of module at %#x", ev.ModuleUnload.Base)
	case events.KindMethodCompiled:
		p.handleMethodCompiled(ev)
	case events.KindThreadStart:
		tb := p.thread(ev.TID, ev.Timestamp)
		if ev.ThreadStart != nil && ev.ThreadStart.Name != "" {
			tb.name = ev.ThreadStart.Name
		}
	case events.KindThreadStop:
		tb := p.thread(ev.TID, ev.Timestamp)
		ms := ev.Timestamp.Milliseconds()
		tb.unregisterMS = &ms
	case events.KindGCStart:
		p.handleGCStart(ev)
	case events.KindGCEnd:
		p.handleGCEnd(ev)
	case events.KindGCSuspend:
		p.handleGCSuspend(ev)
	case events.KindGCRestart:
		p.handleGCRestart(ev)
	case events.KindGCAllocationTick:
		p.handleAllocationTick(ev)
	case events.KindGCHeapStats:
		p.handleHeapStats(ev)
	default:
		log.Debugf("skipping event of unknown kind %q at %d", ev.Kind, ev.Timestamp)
	}
}

// payloadPresent verifies that the payload matching the event kind is set.
// Hand-written capture files can carry a kind without its payload.
func payloadPresent(ev *events.Event) bool {
	switch ev.Kind {
	case events.KindSample:
		return ev.Sample != nil
	case events.KindModuleLoad:
		return ev.ModuleLoad != nil
	case events.KindModuleUnload:
		return ev.ModuleUnload != nil
	case events.KindMethodCompiled:
		return ev.MethodCompiled != nil
	case events.KindGCStart:
		return ev.GCStart != nil
	case events.KindGCEnd:
		return ev.GCEnd != nil
	case events.KindGCSuspend:
		return ev.GCSuspend != nil
	case events.KindGCAllocationTick:
		return ev.AllocationTick != nil
	case events.KindGCHeapStats:
		return ev.HeapStats != nil
	default:
		// Thread lifecycle events carry optional payloads.
		return true
	}
}

// thread returns the builder for tid, creating it at firstSeen if needed.
// The first thread observed in the capture becomes the main thread.
func (p *Pipeline) thread(tid libtrace.TID, firstSeen libtrace.Timestamp) *threadBuilder {
	if tb, ok := p.threads[tid]; ok {
		return tb
	}
	tb := newThreadBuilder(tid, firstSeen.Milliseconds(), len(p.threadOrder) == 0)
	p.threads[tid] = tb
	p.threadOrder = append(p.threadOrder, tid)
	return tb
}

func (p *Pipeline) handleModuleLoad(ev *events.Event) {
	load := ev.ModuleLoad
	before := p.modules.Len()
	idx := p.modules.Register(symtab.Module{
		Base:    load.Base,
		Size:    load.Size,
		Path:    load.Path,
		Arch:    load.Arch,
		BuildID: load.BuildID,
		CodeID:  load.CodeID,
	})
	if p.modules.Len() == before {
		// Duplicate base, first registration won. Do not re-add symbols.
		return
	}
	if len(load.Symbols) > 0 {
		syms := make([]symtab.NativeSymbol, 0, len(load.Symbols))
		for _, s := range load.Symbols {
			syms = append(syms, symtab.NativeSymbol{
				Name:    s.Name,
				Address: libtrace.Address(s.Offset),
				Size:    s.Size,
			})
		}
		p.modules.Module(idx).AddSymbols(syms)
	}
	// New ranges can resolve addresses that were unknown before.
	p.resolveCache.Purge()
}

func (p *Pipeline) handleMethodCompiled(ev *events.Event) {
	mc := ev.MethodCompiled
	idx := p.methods.GetOrCreate(symtab.Method{
		ID:        mc.MethodID,
		Namespace: mc.Namespace,
		Name:      mc.Name,
		Signature: mc.Signature,
		Token:     mc.Token,
		Flags:     mc.Flags,
		Start:     mc.Start,
		Size:      mc.Size,
	})
	p.resolveCache.Purge()

	tb := p.thread(ev.TID, ev.Timestamp)
	p.usedMarkers[fxprof.MarkerTypeJitCompile] = struct{}{}
	tb.appendInstantMarker(fxprof.MarkerTypeJitCompile, ev.Timestamp, fxprof.CategoryJIT,
		&fxprof.JitCompileData{
			Type:         fxprof.MarkerTypeJitCompile,
			FullName:     p.methods.Method(idx).FullName(),
			MethodILSize: mc.ILSize,
		})
}

func (p *Pipeline) handleSample(ev *events.Event) {
	tb := p.thread(ev.TID, ev.Timestamp)
	sample := ev.Sample

	// Addresses arrive innermost first; the stack trie wants root to leaf.
	frames := make([]int32, 0, len(sample.Addresses))
	for i := len(sample.Addresses) - 1; i >= 0; i-- {
		frames = append(frames, p.internFrameFor(tb, sample.Addresses[i]))
	}
	if len(frames) == 0 {
		// A sampler hiccup produced an empty stack. Keep the sample so
		// counts stay truthful and attribute it to the unknown frame.
		frames = append(frames, p.internFrameFor(tb, 0))
	}
	stackNode := tb.internStack(frames)
	tb.appendSample(ev.Timestamp, stackNode, sample.CPUDelta)
}

// resolve symbolicates one address. Managed methods are probed first: JIT
// code regions are narrower and more volatile than module mappings.
func (p *Pipeline) resolve(addr libtrace.Address) resolvedAddr {
	if ra, ok := p.resolveCache.Get(addr); ok {
		return ra
	}
	var ra resolvedAddr
	if idx, ok := p.methods.FindByAddress(addr); ok {
		ra = resolvedAddr{kind: frameManaged, owner: idx}
	} else if idx, ok := p.modules.FindByAddress(addr); ok {
		ra = resolvedAddr{kind: frameNative, owner: idx}
		mod := p.modules.Module(idx)
		if sym, err := mod.LookupSymbol(addr - mod.Base); err == nil {
			ra.sym = *sym
			ra.hasSym = true
		}
	} else {
		// Address in a gap: record it as an opaque frame rather than
		// attributing it to the nearest module.
		ra = resolvedAddr{kind: frameUnknown}
	}
	p.resolveCache.Add(addr, ra)
	return ra
}

// internFrameFor resolves addr and interns the resulting frame, function,
// resource and native symbol rows into tb's tables.
func (p *Pipeline) internFrameFor(tb *threadBuilder, addr libtrace.Address) int32 {
	ra := p.resolve(addr)
	switch ra.kind {
	case frameManaged:
		method := p.methods.Method(ra.owner)
		fn := tb.internFunc(funcKey{kind: frameManaged, owner: ra.owner},
			method.FullName(), -1)
		rel := addr - method.Start
		return tb.internFrame(frameKey{kind: frameManaged, owner: ra.owner, addr: rel},
			int64(rel), fxprof.CategoryManaged, fn, nil)

	case frameNative:
		mod := p.modules.Module(ra.owner)
		rel := addr - mod.Base
		resource := tb.internResource(ra.owner, mod.Name())
		if ra.hasSym {
			name := p.demangler.Demangle(ra.sym.Name)
			symRow := tb.internSymbol(ra.owner, ra.sym.Address, name, ra.sym.Size)
			fn := tb.internFunc(
				funcKey{kind: frameNative, owner: ra.owner, addr: ra.sym.Address},
				name, resource)
			return tb.internFrame(
				frameKey{kind: frameNative, owner: ra.owner, addr: rel},
				int64(rel), fxprof.CategoryNative, fn, &symRow)
		}
		name := fmt.Sprintf("%s+0x%x", mod.Name(), uint64(rel))
		fn := tb.internFunc(funcKey{kind: frameNative, owner: ra.owner, addr: rel},
			name, resource)
		return tb.internFrame(frameKey{kind: frameNative, owner: ra.owner, addr: rel},
			int64(rel), fxprof.CategoryNative, fn, nil)

	default:
		name := fmt.Sprintf("0x%016x", uint64(addr))
		fn := tb.internFunc(funcKey{kind: frameUnknown, addr: addr}, name, -1)
		return tb.internFrame(frameKey{kind: frameUnknown, addr: addr},
			int64(addr), fxprof.CategoryOther, fn, nil)
	}
}

func (p *Pipeline) handleGCStart(ev *events.Event) {
	start := ev.GCStart
	if _, ok := p.pendingCycles[start.Count]; ok {
		log.Debugf("GC cycle %d started twice, keeping the first start", start.Count)
		return
	}
	tb := p.thread(ev.TID, ev.Timestamp)
	p.usedMarkers[fxprof.MarkerTypeGC] = struct{}{}
	row := tb.appendOpenMarker(fxprof.MarkerTypeGC, ev.Timestamp, fxprof.CategoryGC,
		&fxprof.GCCycleData{
			Type:   fxprof.MarkerTypeGC,
			Reason: start.Reason,
			Count:  start.Count,
			Depth:  start.Depth,
			GCType: start.GCType,
		})
	p.pendingCycles[start.Count] = &openMarker{tb: tb, row: row}
}

func (p *Pipeline) handleGCEnd(ev *events.Event) {
	end := ev.GCEnd
	om, ok := p.pendingCycles[end.Count]
	if !ok {
		// The capture started mid-cycle.
		log.Debugf("GC cycle %d ended without a start event", end.Count)
		return
	}
	delete(p.pendingCycles, end.Count)
	om.tb.closeMarker(om.row, ev.Timestamp)
}

func (p *Pipeline) handleGCSuspend(ev *events.Event) {
	suspend := ev.GCSuspend
	if p.pendingSuspend != nil {
		log.Debugf("nested GC suspend at %d, keeping the outer one", ev.Timestamp)
		return
	}
	tb := p.thread(ev.TID, ev.Timestamp)
	p.usedMarkers[fxprof.MarkerTypeGCSuspendEE] = struct{}{}
	row := tb.appendOpenMarker(fxprof.MarkerTypeGCSuspendEE, ev.Timestamp,
		fxprof.CategoryGC, &fxprof.GCSuspendEEData{
			Type:   fxprof.MarkerTypeGCSuspendEE,
			Reason: suspend.Reason,
			Count:  suspend.Count,
		})
	p.pendingSuspend = &openMarker{tb: tb, row: row}
}

func (p *Pipeline) handleGCRestart(ev *events.Event) {
	om := p.pendingSuspend
	if om == nil {
		log.Debugf("GC restart at %d without a suspend event", ev.Timestamp)
		return
	}
	p.pendingSuspend = nil
	om.tb.closeMarker(om.row, ev.Timestamp)
}

func (p *Pipeline) handleAllocationTick(ev *events.Event) {
	tick := ev.AllocationTick
	tb := p.thread(ev.TID, ev.Timestamp)
	p.usedMarkers[fxprof.MarkerTypeAllocationTick] = struct{}{}
	tb.appendInstantMarker(fxprof.MarkerTypeAllocationTick, ev.Timestamp,
		fxprof.CategoryGC, &fxprof.AllocationTickData{
			Type:             fxprof.MarkerTypeAllocationTick,
			AllocationAmount: tick.Amount,
			AllocationKind:   tick.Kind,
			TypeName:         tick.TypeName,
			HeapIndex:        tick.HeapIndex,
		})
}

func (p *Pipeline) handleHeapStats(ev *events.Event) {
	stats := ev.HeapStats
	tb := p.thread(ev.TID, ev.Timestamp)
	p.usedMarkers[fxprof.MarkerTypeGCHeapStats] = struct{}{}
	tb.appendInstantMarker(fxprof.MarkerTypeGCHeapStats, ev.Timestamp,
		fxprof.CategoryGC, &fxprof.GCHeapStatsData{
			Type:          fxprof.MarkerTypeGCHeapStats,
			TotalHeapSize: stats.TotalHeapSize,
			TotalPromoted: stats.TotalPromoted,
			Gen0Size:      stats.Gen0Size,
			Gen1Size:      stats.Gen1Size,
			Gen2Size:      stats.Gen2Size,
			Gen3Size:      stats.Gen3Size,
			Gen4Size:      stats.Gen4Size,
		})
}

// finalize closes dangling interval markers, freezes all tables and
// assembles the output profile.
func (p *Pipeline) finalize() (*fxprof.Profile, error) {
	// Interval markers whose end event never arrived (truncation or
	// cancellation) close at the last observed timestamp.
	for count, om := range p.pendingCycles {
		log.Debugf("closing unfinished GC cycle %d at capture end", count)
		om.tb.closeMarker(om.row, p.lastTS)
	}
	clear(p.pendingCycles)
	if om := p.pendingSuspend; om != nil {
		om.tb.closeMarker(om.row, p.lastTS)
		p.pendingSuspend = nil
	}

	libs := make([]fxprof.Lib, 0, p.modules.Len())
	for i := 0; i < p.modules.Len(); i++ {
		mod := p.modules.Module(int32(i))
		libs = append(libs, fxprof.Lib{
			AddressStart: uint64(mod.Base),
			AddressEnd:   uint64(mod.End()),
			Arch:         mod.Arch,
			Name:         mod.Name(),
			Path:         mod.Path,
			DebugName:    mod.Name(),
			DebugPath:    mod.Path,
			BreakpadID:   mod.BuildID,
			CodeID:       mod.CodeID,
		})
	}

	threads := make([]fxprof.Thread, 0, len(p.threadOrder))
	for _, tid := range p.threadOrder {
		threads = append(threads, p.threads[tid].build(p.cfg.PID))
	}

	profile := &fxprof.Profile{
		Meta: fxprof.Meta{
			Interval:                   float64(p.cfg.SamplingInterval) / float64(time.Millisecond),
			StartTime:                  p.firstTS.Milliseconds(),
			EndTime:                    p.lastTS.Milliseconds(),
			Product:                    p.cfg.Product,
			Stackwalk:                  1,
			Version:                    fxprof.GeckoProfileVersion,
			PreprocessedProfileVersion: fxprof.PreprocessedProfileVersion,
			Symbolicated:               true,
			Platform:                   p.cfg.Platform,
			OSCPU:                      p.cfg.OSCPU,
			ABI:                        p.cfg.Arch,
			LogicalCPUs:                p.cfg.LogicalCPUs,
			Categories:                 fxprof.BuiltinCategories(),
			MarkerSchema:               fxprof.SchemasFor(p.usedMarkers),
			SampleUnits: fxprof.SampleUnits{
				Time:           "ms",
				EventDelay:     "ms",
				ThreadCPUDelta: "ns",
			},
		},
		Libs:    libs,
		Threads: threads,
		Pages:   []fxprof.Page{},
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	log.Debugf("ingested %d events into %d threads, %d modules, %d methods",
		p.processed, len(threads), p.modules.Len(), p.methods.Len())
	return profile, nil
}
