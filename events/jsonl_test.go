// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracefox/tracefox/libtrace"
)

func TestCodecRoundTrip(t *testing.T) {
	in := []*Event{
		{
			Kind:      KindModuleLoad,
			Timestamp: 0,
			ModuleLoad: &ModuleLoad{
				Base: 0x1000, Size: 0x2000, Path: "/usr/lib/libc.so.6",
				BuildID: "f00d",
				Symbols: []ModuleSymbol{{Name: "read", Offset: 0x40, Size: 0x20}},
			},
		},
		{
			Kind:      KindSample,
			Timestamp: 1_000_000,
			TID:       7,
			Sample: &Sample{
				Addresses: []libtrace.Address{0x1040, 0x1100},
				CPUDelta:  250_000,
			},
		},
		{
			Kind:      KindMethodCompiled,
			Timestamp: 2_000_000,
			TID:       7,
			MethodCompiled: &MethodCompiled{
				MethodID: 0xcafe, Namespace: "Hello", Name: "World",
				ILSize: 100, Start: 0x4000, Size: 0x200,
			},
		},
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, ev := range in {
		require.NoError(t, enc.Encode(ev))
	}

	dec := NewDecoder(&buf)
	var out []*Event
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
	require.Equal(t, in, out)
}

func TestDecoderErrors(t *testing.T) {
	tests := map[string]struct {
		input string
	}{
		"mid-event cut":      {input: `{"kind":"sample","ts":5`},
		"garbage tail":       {input: "{\"kind\":\"sample\",\"ts\":5,\"sample\":{\"addresses\":[]}}\nnot json"},
		"event without kind": {input: `{"ts":5}`},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			dec := NewDecoder(strings.NewReader(test.input))
			for {
				_, err := dec.Next()
				if err == nil {
					continue
				}
				assert.ErrorIs(t, err, ErrTruncated)
				return
			}
		})
	}
}

func TestDecoderEmptyInput(t *testing.T) {
	dec := NewDecoder(strings.NewReader(""))
	_, err := dec.Next()
	assert.Equal(t, io.EOF, err)
}
