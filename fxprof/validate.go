// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

package fxprof // import "github.com/tracefox/tracefox/fxprof"

import (
	"errors"
	"fmt"
)

// ErrInconsistent reports a broken cross-table invariant: a column length
// differing from its table's length field, or an index pointing outside
// its target table. It means ingestion corrupted the model; any document
// emitted from it would be unreadable by the viewer, so serialization
// aborts instead. Callers can distinguish it from I/O failures with
// errors.Is.
var ErrInconsistent = errors.New("profile tables are internally inconsistent")

func consistencyErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInconsistent, fmt.Sprintf(format, args...))
}

// checkColumn verifies that a column has exactly the table's row count.
func checkColumn(thread int, table, column string, got, want int) error {
	if got != want {
		return consistencyErrorf("thread %d: %s.%s has %d entries, want %d",
			thread, table, column, got, want)
	}
	return nil
}

// checkIndex verifies that a foreign-key column entry is within the bounds
// of its target table.
func checkIndex(thread int, column string, row int, index int32, target string,
	targetLen int) error {
	if index < 0 || int(index) >= targetLen {
		return consistencyErrorf("thread %d: %s[%d] = %d is out of range of %s (length %d)",
			thread, column, row, index, target, targetLen)
	}
	return nil
}

// Validate checks the referential integrity of all tables. It must pass
// before the profile is serialized.
func (p *Profile) Validate() error {
	for i := range p.Libs {
		lib := &p.Libs[i]
		if lib.AddressEnd < lib.AddressStart {
			return consistencyErrorf("lib %d (%s): addressEnd %#x < addressStart %#x",
				i, lib.Name, lib.AddressEnd, lib.AddressStart)
		}
	}
	for ti := range p.Threads {
		if err := p.validateThread(ti); err != nil {
			return err
		}
	}
	return nil
}

//nolint:gocyclo
func (p *Profile) validateThread(ti int) error {
	t := &p.Threads[ti]
	numCategories := len(p.Meta.Categories)
	numStrings := len(t.StringArray)

	s := &t.Samples
	for name, got := range map[string]int{
		"stack":      len(s.Stack),
		"timeDeltas": len(s.TimeDeltas),
	} {
		if err := checkColumn(ti, "samples", name, got, s.Length); err != nil {
			return err
		}
	}
	if s.ThreadCPUDelta != nil {
		if err := checkColumn(ti, "samples", "threadCPUDelta",
			len(s.ThreadCPUDelta), s.Length); err != nil {
			return err
		}
	}
	for i, stack := range s.Stack {
		if err := checkIndex(ti, "samples.stack", i, stack,
			"stackTable", t.StackTable.Length); err != nil {
			return err
		}
	}

	st := &t.StackTable
	for name, got := range map[string]int{
		"frame":       len(st.Frame),
		"prefix":      len(st.Prefix),
		"category":    len(st.Category),
		"subcategory": len(st.Subcategory),
	} {
		if err := checkColumn(ti, "stackTable", name, got, st.Length); err != nil {
			return err
		}
	}
	for i := 0; i < st.Length; i++ {
		if err := checkIndex(ti, "stackTable.frame", i, st.Frame[i],
			"frameTable", t.FrameTable.Length); err != nil {
			return err
		}
		if prefix := st.Prefix[i]; prefix != nil {
			if err := checkIndex(ti, "stackTable.prefix", i, *prefix,
				"stackTable", st.Length); err != nil {
				return err
			}
		}
		if err := checkIndex(ti, "stackTable.category", i, st.Category[i],
			"meta.categories", numCategories); err != nil {
			return err
		}
	}

	ft := &t.FrameTable
	for name, got := range map[string]int{
		"address":        len(ft.Address),
		"inlineDepth":    len(ft.InlineDepth),
		"category":       len(ft.Category),
		"subcategory":    len(ft.Subcategory),
		"func":           len(ft.Func),
		"nativeSymbol":   len(ft.NativeSymbol),
		"innerWindowID":  len(ft.InnerWindowID),
		"implementation": len(ft.Implementation),
		"line":           len(ft.Line),
		"column":         len(ft.Column),
	} {
		if err := checkColumn(ti, "frameTable", name, got, ft.Length); err != nil {
			return err
		}
	}
	for i := 0; i < ft.Length; i++ {
		if err := checkIndex(ti, "frameTable.func", i, ft.Func[i],
			"funcTable", t.FuncTable.Length); err != nil {
			return err
		}
		if err := checkIndex(ti, "frameTable.category", i, ft.Category[i],
			"meta.categories", numCategories); err != nil {
			return err
		}
		if sym := ft.NativeSymbol[i]; sym != nil {
			if err := checkIndex(ti, "frameTable.nativeSymbol", i, *sym,
				"nativeSymbols", t.NativeSymbols.Length); err != nil {
				return err
			}
		}
	}

	fn := &t.FuncTable
	for name, got := range map[string]int{
		"name":          len(fn.Name),
		"isJS":          len(fn.IsJS),
		"relevantForJS": len(fn.RelevantForJS),
		"resource":      len(fn.Resource),
		"fileName":      len(fn.FileName),
		"lineNumber":    len(fn.LineNumber),
		"columnNumber":  len(fn.ColumnNumber),
	} {
		if err := checkColumn(ti, "funcTable", name, got, fn.Length); err != nil {
			return err
		}
	}
	for i := 0; i < fn.Length; i++ {
		if err := checkIndex(ti, "funcTable.name", i, fn.Name[i],
			"stringArray", numStrings); err != nil {
			return err
		}
		// resource == -1 marks functions without a module.
		if fn.Resource[i] != -1 {
			if err := checkIndex(ti, "funcTable.resource", i, fn.Resource[i],
				"resourceTable", t.ResourceTable.Length); err != nil {
				return err
			}
		}
	}

	rt := &t.ResourceTable
	for name, got := range map[string]int{
		"lib":  len(rt.Lib),
		"name": len(rt.Name),
		"host": len(rt.Host),
		"type": len(rt.Type),
	} {
		if err := checkColumn(ti, "resourceTable", name, got, rt.Length); err != nil {
			return err
		}
	}
	for i := 0; i < rt.Length; i++ {
		if lib := rt.Lib[i]; lib != nil {
			if err := checkIndex(ti, "resourceTable.lib", i, *lib,
				"libs", len(p.Libs)); err != nil {
				return err
			}
		}
		if err := checkIndex(ti, "resourceTable.name", i, rt.Name[i],
			"stringArray", numStrings); err != nil {
			return err
		}
	}

	ns := &t.NativeSymbols
	for name, got := range map[string]int{
		"libIndex":     len(ns.LibIndex),
		"address":      len(ns.Address),
		"name":         len(ns.Name),
		"functionSize": len(ns.FunctionSize),
	} {
		if err := checkColumn(ti, "nativeSymbols", name, got, ns.Length); err != nil {
			return err
		}
	}
	for i := 0; i < ns.Length; i++ {
		if err := checkIndex(ti, "nativeSymbols.libIndex", i, ns.LibIndex[i],
			"libs", len(p.Libs)); err != nil {
			return err
		}
		if err := checkIndex(ti, "nativeSymbols.name", i, ns.Name[i],
			"stringArray", numStrings); err != nil {
			return err
		}
	}

	m := &t.Markers
	for name, got := range map[string]int{
		"data":      len(m.Data),
		"name":      len(m.Name),
		"startTime": len(m.StartTime),
		"endTime":   len(m.EndTime),
		"phase":     len(m.Phase),
		"category":  len(m.Category),
	} {
		if err := checkColumn(ti, "markers", name, got, m.Length); err != nil {
			return err
		}
	}
	for i := 0; i < m.Length; i++ {
		if err := checkIndex(ti, "markers.name", i, m.Name[i],
			"stringArray", numStrings); err != nil {
			return err
		}
		if err := checkIndex(ti, "markers.category", i, m.Category[i],
			"meta.categories", numCategories); err != nil {
			return err
		}
		switch m.Phase[i] {
		case PhaseInstant, PhaseInterval, PhaseIntervalStart, PhaseIntervalEnd:
		default:
			return consistencyErrorf("thread %d: markers.phase[%d] = %d is not a valid phase",
				ti, i, m.Phase[i])
		}
	}

	return nil
}
