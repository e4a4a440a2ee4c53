// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

package events // import "github.com/tracefox/tracefox/events"

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
)

// Merger merges ordered event sources into one non-decreasing timeline.
// On timestamp ties the source registered first wins, so registering the
// sampler source before the runtime source processes thread state before
// any concurrent JIT/GC annotation at the same instant.
//
// A source that fails mid-stream is dropped at its last fully delivered
// event and the failure is recorded as a warning; the remaining sources
// keep feeding the merge (partial-result policy).
type Merger struct {
	sources  []Source
	heads    []*Event
	done     []bool
	warnings []error
}

// NewMerger creates a merger over the given sources. Source order defines
// the tie-break priority.
func NewMerger(sources ...Source) *Merger {
	return &Merger{
		sources: sources,
		heads:   make([]*Event, len(sources)),
		done:    make([]bool, len(sources)),
	}
}

// Next returns the next event of the merged timeline, or io.EOF once all
// sources are drained.
func (m *Merger) Next() (*Event, error) {
	best := -1
	for i := range m.sources {
		if m.heads[i] == nil && !m.done[i] {
			ev, err := m.sources[i].Next()
			switch {
			case err == nil:
				m.heads[i] = ev
			case err == io.EOF:
				m.done[i] = true
			default:
				// Malformed or truncated input: keep what was parsed,
				// surface the rest as a warning.
				m.done[i] = true
				warning := fmt.Errorf("event source %d stopped early: %w", i, err)
				m.warnings = append(m.warnings, warning)
				log.Warnf("%v", warning)
			}
		}
		if m.heads[i] == nil {
			continue
		}
		if best < 0 || m.heads[i].Timestamp < m.heads[best].Timestamp {
			best = i
		}
	}
	if best < 0 {
		return nil, io.EOF
	}
	ev := m.heads[best]
	m.heads[best] = nil
	return ev, nil
}

// Warnings returns the non-fatal conditions hit while merging, in the
// order they occurred.
func (m *Merger) Warnings() []error {
	return m.warnings
}
