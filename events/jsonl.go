// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

package events // import "github.com/tracefox/tracefox/events"

import (
	"encoding/json"
	"fmt"
	"io"
)

// Decoder reads newline-delimited JSON events from a capture file. It
// implements Source; events are expected to be pre-sorted by timestamp
// within the file, which is the input contract of the merge pipeline.
type Decoder struct {
	dec *json.Decoder
}

var _ Source = (*Decoder)(nil)

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: json.NewDecoder(r)}
}

func (d *Decoder) Next() (*Event, error) {
	ev := &Event{}
	if err := d.dec.Decode(ev); err != nil {
		switch err {
		case io.EOF:
			return nil, io.EOF
		case io.ErrUnexpectedEOF:
			return nil, ErrTruncated
		}
		if _, ok := err.(*json.SyntaxError); ok {
			return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		return nil, err
	}
	if ev.Kind == "" {
		return nil, fmt.Errorf("%w: event without kind", ErrTruncated)
	}
	return ev, nil
}

// Encoder writes events as newline-delimited JSON. It is the counterpart
// of Decoder, used to produce intermediate capture files.
type Encoder struct {
	enc *json.Encoder
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes one event followed by a newline.
func (e *Encoder) Encode(ev *Event) error {
	return e.enc.Encode(ev)
}
