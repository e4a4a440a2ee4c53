// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

package libtrace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimestampMilliseconds(t *testing.T) {
	tests := map[string]struct {
		ts   Timestamp
		want float64
	}{
		"zero":        {ts: 0, want: 0},
		"one ms":      {ts: 1_000_000, want: 1},
		"fractional":  {ts: 1_500_000, want: 1.5},
		"sub-ms tick": {ts: 250_000, want: 0.25},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.want, test.ts.Milliseconds())
		})
	}
}

func TestAddressHash32MixesHighBits(t *testing.T) {
	// Addresses differing only in the high half must not collide.
	a := Address(0x0000_7f00_0000_1000)
	b := Address(0x0000_5500_0000_1000)
	assert.NotEqual(t, a.Hash32(), b.Hash32())
}
