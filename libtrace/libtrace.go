// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

// Package libtrace provides the core value types shared by the capture
// conversion pipeline.
package libtrace // import "github.com/tracefox/tracefox/libtrace"

import "time"

// Address represents a virtual address within the profiled process.
// It is opaque beyond ordering and range containment.
type Address uint64

// Hash32 returns a 32 bit hash of the address, suitable as an LRU key hash.
func (a Address) Hash32() uint32 {
	return uint32(a ^ a>>32)
}

// Timestamp is a monotonic capture timestamp in nanoseconds. The zero point
// is defined by the capture session, not the Unix epoch; only differences
// and ordering are meaningful.
type Timestamp uint64

// Milliseconds converts the timestamp to the float64 millisecond unit used
// throughout the output document.
func (t Timestamp) Milliseconds() float64 {
	return float64(t) / 1e6
}

// TimestampFromDuration converts a duration since the capture zero point.
func TimestampFromDuration(d time.Duration) Timestamp {
	return Timestamp(d.Nanoseconds())
}

// PID represents a process ID of the profiled process.
type PID uint32

// TID represents an OS-level thread ID. 64 bit because Mach thread IDs do
// not fit in 32 bits.
type TID uint64

// Void allows using maps as sets without memory allocation for the values.
type Void struct{}
