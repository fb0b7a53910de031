package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Document is an open JSON-like map. Values are JSON scalars, nested
// Document/map[string]interface{} values, or []interface{}.
type Document map[string]interface{}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case Document:
		return t.Clone()
	case map[string]interface{}:
		return Document(t).Clone()
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func asMap(v interface{}) (Document, bool) {
	switch t := v.(type) {
	case Document:
		return t, true
	case map[string]interface{}:
		return Document(t), true
	default:
		return nil, false
	}
}

// Lookup walks nested maps along path.
func (d Document) Lookup(path ...string) (interface{}, bool) {
	var cur interface{} = d
	for _, key := range path {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Map returns the nested map at path.
func (d Document) Map(path ...string) (Document, bool) {
	v, ok := d.Lookup(path...)
	if !ok {
		return nil, false
	}
	return asMap(v)
}

// String renders the scalar at path as text. Missing or non-scalar values yield "".
func (d Document) String(path ...string) string {
	v, ok := d.Lookup(path...)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int, int32, int64, uint, uint32, uint64, json.Number, bool:
		return fmt.Sprint(t)
	default:
		return ""
	}
}

// Float reads a numeric value at path, accepting numeric strings.
func (d Document) Float(path ...string) (float64, bool) {
	v, ok := d.Lookup(path...)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), ",", ""), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// DeepMerge returns base overlaid with overlay. Nested maps merge key by key;
// for every other value the overlay wins. Neither input is modified.
func DeepMerge(base, overlay Document) Document {
	out := base.Clone()
	if out == nil {
		out = Document{}
	}
	for k, ov := range overlay {
		om, overlayIsMap := asMap(ov)
		bm, baseIsMap := asMap(out[k])
		if overlayIsMap && baseIsMap {
			out[k] = DeepMerge(bm, om)
			continue
		}
		out[k] = cloneValue(ov)
	}
	return out
}

// ValuesEqual compares two JSON-like values by their canonical encoding, so
// 22000 and 22000.0 compare equal and map key order is irrelevant.
func ValuesEqual(a, b interface{}) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
