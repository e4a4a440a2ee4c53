// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

package events // import "github.com/tracefox/tracefox/events"

import (
	"errors"
	"io"
)

// ErrTruncated reports an event stream that ended in the middle of an
// event. Everything up to the last fully parsed event is still usable.
var ErrTruncated = errors.New("event stream truncated")

// Source is a finite, lazily consumed sequence of events ordered by
// non-decreasing timestamp within the source.
type Source interface {
	// Next returns the next event. It returns io.EOF after the final
	// event, and ErrTruncated (possibly wrapped) when the underlying
	// stream ends mid-event.
	Next() (*Event, error)
}

// SliceSource replays an in-memory event slice. Used by tests and for
// small captures that were decoded up front.
type SliceSource struct {
	events []*Event
	pos    int
}

var _ Source = (*SliceSource)(nil)

// NewSliceSource creates a source replaying the given events in order.
func NewSliceSource(events ...*Event) *SliceSource {
	return &SliceSource{events: events}
}

func (s *SliceSource) Next() (*Event, error) {
	if s.pos >= len(s.events) {
		return nil, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

// ChannelSource consumes events from a channel fed by a producer
// goroutine. The producer closes the channel when done; a terminal error
// recorded via Fail before closing is returned after the last event.
type ChannelSource struct {
	ch  chan *Event
	err error
}

var _ Source = (*ChannelSource)(nil)

// NewChannelSource creates a channel-backed source with the given buffer
// capacity.
func NewChannelSource(capacity int) *ChannelSource {
	return &ChannelSource{
		ch: make(chan *Event, capacity),
	}
}

// Events returns the producer side of the channel. The producer must close
// it when the stream ends.
func (s *ChannelSource) Events() chan<- *Event {
	return s.ch
}

// Fail records the terminal error of the producer. Must be called before
// closing the channel; the channel close publishes the write.
func (s *ChannelSource) Fail(err error) {
	s.err = err
}

func (s *ChannelSource) Next() (*Event, error) {
	ev, ok := <-s.ch
	if !ok {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	return ev, nil
}
