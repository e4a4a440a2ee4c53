// Copyright The Tracefox Authors
// SPDX-License-Identifier: Apache-2.0

package fxprof // import "github.com/tracefox/tracefox/fxprof"

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Marker phases, matching the processed-profile encoding.
const (
	PhaseInstant       int32 = 0
	PhaseInterval      int32 = 1
	PhaseIntervalStart int32 = 2
	PhaseIntervalEnd   int32 = 3
)

// Marker payload type discriminators.
const (
	MarkerTypeGC             = "GC"
	MarkerTypeGCSuspendEE    = "GCSuspendEE"
	MarkerTypeAllocationTick = "GCAllocationTick"
	MarkerTypeGCHeapStats    = "GCHeapStats"
	MarkerTypeJitCompile     = "JitCompile"
)

// MarkerData is a polymorphic marker payload. Concrete payloads serialize
// their own named fields under the "type" discriminator; payloads of kinds
// this converter does not model pass through as OpenData unchanged.
type MarkerData interface {
	MarkerType() string
}

// GCCycleData annotates one garbage collection cycle.
type GCCycleData struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Count  uint32 `json:"count"`
	Depth  uint32 `json:"depth"`
	GCType string `json:"gcType"`
}

func (d *GCCycleData) MarkerType() string { return MarkerTypeGC }

// GCSuspendEEData annotates the suspend-to-restart window of managed
// execution around a collection.
type GCSuspendEEData struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Count  uint32 `json:"count"`
}

func (d *GCSuspendEEData) MarkerType() string { return MarkerTypeGCSuspendEE }

// AllocationTickData annotates one allocation sampling tick.
type AllocationTickData struct {
	Type             string `json:"type"`
	AllocationAmount uint64 `json:"allocationAmount"`
	AllocationKind   string `json:"allocationKind"`
	TypeName         string `json:"typeName"`
	HeapIndex        uint32 `json:"heapIndex"`
}

func (d *AllocationTickData) MarkerType() string { return MarkerTypeAllocationTick }

// GCHeapStatsData carries per-generation heap sizes after a collection.
type GCHeapStatsData struct {
	Type          string `json:"type"`
	TotalHeapSize uint64 `json:"totalHeapSize"`
	TotalPromoted uint64 `json:"totalPromoted"`
	Gen0Size      uint64 `json:"gen0Size"`
	Gen1Size      uint64 `json:"gen1Size"`
	Gen2Size      uint64 `json:"gen2Size"`
	Gen3Size      uint64 `json:"gen3Size"`
	Gen4Size      uint64 `json:"gen4Size"`
}

func (d *GCHeapStatsData) MarkerType() string { return MarkerTypeGCHeapStats }

// JitCompileData annotates one JIT method compilation.
type JitCompileData struct {
	Type         string `json:"type"`
	FullName     string `json:"fullName"`
	MethodILSize uint32 `json:"methodILSize"`
}

func (d *JitCompileData) MarkerType() string { return MarkerTypeJitCompile }

// Field is one key/value pair of an open marker payload.
type Field struct {
	Key   string
	Value any
}

// OpenData is the extension payload: an arbitrary ordered field list that
// is preserved unchanged across parse and serialize.
type OpenData struct {
	Type   string
	Fields []Field
}

func (d *OpenData) MarkerType() string { return d.Type }

func (d *OpenData) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	typ, err := json.Marshal(d.Type)
	if err != nil {
		return nil, err
	}
	buf.Write(typ)
	for i := range d.Fields {
		key, err := json.Marshal(d.Fields[i].Key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(d.Fields[i].Value)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *OpenData) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return fmt.Errorf("open marker payload is not an object: %v", err)
	}
	d.Fields = d.Fields[:0]
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("open marker payload has non-string key %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		if key == "type" {
			if err := json.Unmarshal(raw, &d.Type); err != nil {
				return err
			}
			continue
		}
		// Values stay raw so nested objects keep their byte layout.
		d.Fields = append(d.Fields, Field{Key: key, Value: raw})
	}
	return nil
}

// DataColumn is the polymorphic marker payload column.
type DataColumn []MarkerData

func (c *DataColumn) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(DataColumn, 0, len(raws))
	for _, raw := range raws {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return err
		}
		var payload MarkerData
		switch head.Type {
		case MarkerTypeGC:
			payload = new(GCCycleData)
		case MarkerTypeGCSuspendEE:
			payload = new(GCSuspendEEData)
		case MarkerTypeAllocationTick:
			payload = new(AllocationTickData)
		case MarkerTypeGCHeapStats:
			payload = new(GCHeapStatsData)
		case MarkerTypeJitCompile:
			payload = new(JitCompileData)
		default:
			payload = new(OpenData)
		}
		if err := json.Unmarshal(raw, payload); err != nil {
			return err
		}
		out = append(out, payload)
	}
	*c = out
	return nil
}

// MarkerSchema tells the viewer how to render one marker kind.
type MarkerSchema struct {
	Name       string              `json:"name"`
	ChartLabel string              `json:"chartLabel,omitempty"`
	TableLabel string              `json:"tableLabel,omitempty"`
	Display    []string            `json:"display"`
	Data       []MarkerSchemaField `json:"data"`
}

// MarkerSchemaField describes one payload field of a marker kind.
type MarkerSchemaField struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Format string `json:"format"`
}

var builtinSchemas = map[string]MarkerSchema{
	MarkerTypeGC: {
		Name:       MarkerTypeGC,
		ChartLabel: "{marker.data.reason}",
		TableLabel: "GC #{marker.data.count}",
		Display:    []string{"marker-chart", "marker-table", "timeline-overview"},
		Data: []MarkerSchemaField{
			{Key: "reason", Label: "Reason", Format: "string"},
			{Key: "count", Label: "Collection", Format: "integer"},
			{Key: "depth", Label: "Generation", Format: "integer"},
			{Key: "gcType", Label: "Type", Format: "string"},
		},
	},
	MarkerTypeGCSuspendEE: {
		Name:       MarkerTypeGCSuspendEE,
		TableLabel: "{marker.data.reason}",
		Display:    []string{"marker-chart", "marker-table"},
		Data: []MarkerSchemaField{
			{Key: "reason", Label: "Reason", Format: "string"},
			{Key: "count", Label: "Suspend", Format: "integer"},
		},
	},
	MarkerTypeAllocationTick: {
		Name:       MarkerTypeAllocationTick,
		ChartLabel: "{marker.data.typeName}",
		Display:    []string{"marker-chart", "marker-table"},
		Data: []MarkerSchemaField{
			{Key: "allocationAmount", Label: "Allocated", Format: "bytes"},
			{Key: "allocationKind", Label: "Kind", Format: "string"},
			{Key: "typeName", Label: "Type", Format: "string"},
			{Key: "heapIndex", Label: "Heap", Format: "integer"},
		},
	},
	MarkerTypeGCHeapStats: {
		Name:    MarkerTypeGCHeapStats,
		Display: []string{"marker-chart", "marker-table"},
		Data: []MarkerSchemaField{
			{Key: "totalHeapSize", Label: "Heap Size", Format: "bytes"},
			{Key: "totalPromoted", Label: "Promoted", Format: "bytes"},
			{Key: "gen0Size", Label: "Gen 0", Format: "bytes"},
			{Key: "gen1Size", Label: "Gen 1", Format: "bytes"},
			{Key: "gen2Size", Label: "Gen 2", Format: "bytes"},
			{Key: "gen3Size", Label: "Gen 3", Format: "bytes"},
			{Key: "gen4Size", Label: "Gen 4", Format: "bytes"},
		},
	},
	MarkerTypeJitCompile: {
		Name:       MarkerTypeJitCompile,
		ChartLabel: "{marker.data.fullName}",
		TableLabel: "{marker.data.fullName}",
		Display:    []string{"marker-chart", "marker-table"},
		Data: []MarkerSchemaField{
			{Key: "fullName", Label: "Method", Format: "string"},
			{Key: "methodILSize", Label: "IL Size", Format: "bytes"},
		},
	},
}

// SchemasFor returns the schema declarations for the marker types actually
// used, sorted by name for deterministic output. Unknown types have no
// builtin schema and are skipped; the viewer renders their payload raw.
func SchemasFor(used map[string]struct{}) []MarkerSchema {
	names := make([]string, 0, len(used))
	for name := range used {
		if _, ok := builtinSchemas[name]; ok {
			names = append(names, name)
		}
	}
	slices.SortFunc(names, strings.Compare)
	schemas := make([]MarkerSchema, 0, len(names))
	for _, name := range names {
		schemas = append(schemas, builtinSchemas[name])
	}
	return schemas
}
