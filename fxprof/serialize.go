// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

package fxprof // import "github.com/tracefox/tracefox/fxprof"

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Version numbers advertised in meta. The viewer uses them to pick its
// upgrade path for the document.
const (
	GeckoProfileVersion        = 30
	PreprocessedProfileVersion = 48
)

// Serialize validates the profile and renders the interchange document.
// The emission is deterministic: serializing, parsing and serializing
// again yields a byte-identical document.
func Serialize(p *Profile) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile: %w", err)
	}
	return data, nil
}

// Parse decodes a serialized profile document.
func Parse(data []byte) (*Profile, error) {
	p := &Profile{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return p, nil
}

// Write serializes the profile to w, gzip-compressing the document when
// compress is set. The Firefox Profiler loads both encodings.
func Write(w io.Writer, p *Profile, compress bool) error {
	data, err := Serialize(p)
	if err != nil {
		return err
	}
	if compress {
		zw := gzip.NewWriter(w)
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("failed to write compressed profile: %w", err)
		}
		return zw.Close()
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}
