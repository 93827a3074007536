// Package ingestion pulls listings from the upstream API, merges summary and detail
// payloads and hands the snapshot to storage.
package ingestion

import (
	"encoding/json"
	"math"
	"time"

	"listings-hub/internal/apperr"
	"listings-hub/internal/model"
)

// Flatten merges a summary and a detail payload for one listing.
//
// Summary fields are copied verbatim. A detail field is added under its own key unless
// the summary already holds a different value for that key, in which case it is stored
// as detail_<key>. rateRangeDisplay is always set, to "<min> - <max>" or nil.
func Flatten(summary, detail model.RawRecord) (model.FlattenedListing, error) {
	out := make(model.FlattenedListing, len(summary)+len(detail)+1)
	for k, v := range summary {
		out[k] = normalizeValue(v)
	}
	for k, v := range detail {
		v = normalizeValue(v)
		key := k
		if existing, ok := out[key]; ok && !sameValue(existing, v) {
			key = model.DetailPrefix + k
		}
		out[key] = v
	}

	out[model.FieldRateRangeDisplay] = rateRangeDisplay(out)

	id, ok := out[model.FieldListingID].(string)
	if !ok || id == "" {
		return nil, &apperr.ValidationError{Field: model.FieldListingID, Reason: "is required in summary payload"}
	}
	return out, nil
}

func rateRangeDisplay(l model.FlattenedListing) any {
	minVal, minOK := rateValue(l, model.FieldRateMin)
	maxVal, maxOK := rateValue(l, model.FieldRateMax)
	if !minOK || !maxOK {
		return nil
	}
	return model.FormatNumber(minVal) + " - " + model.FormatNumber(maxVal)
}

// rateValue resolves field, falling back to its detail_ twin only when field is absent or nil.
func rateValue(l model.FlattenedListing, field string) (float64, bool) {
	v, ok := l[field]
	if !ok || v == nil {
		v = l[model.DetailPrefix+field]
	}
	return model.ToNumber(v)
}

// normalizeValue makes a payload value JSON-shaped: times become RFC3339 strings,
// json.Number becomes float64 and nested containers are normalized recursively.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339Nano)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = normalizeValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = normalizeValue(inner)
		}
		return s
	default:
		return v
	}
}

// sameValue is deep equality that treats numerically equal Go number types as equal.
func sameValue(a, b any) bool {
	if af, ok := numeric(a); ok {
		bf, ok := numeric(b)
		return ok && af == bf
	}
	switch at := a.(type) {
	case nil:
		return b == nil
	case string:
		bt, ok := b.(string)
		return ok && at == bt
	case bool:
		bt, ok := b.(bool)
		return ok && at == bt
	case map[string]any:
		bt, ok := b.(map[string]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, av := range at {
			bv, ok := bt[k]
			if !ok || !sameValue(av, bv) {
				return false
			}
		}
		return true
	case []any:
		bt, ok := b.([]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !sameValue(at[i], bt[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// numeric reports the value of a Go number type. Numeric strings are not numbers here.
func numeric(v any) (float64, bool) {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return model.ToNumber(v)
	default:
		return 0, false
	}
}

// Sanitize returns a copy of l that storage can encode: NaN and infinite floats and
// values of unsupported types become nil.
func Sanitize(l model.FlattenedListing) model.FlattenedListing {
	out := make(model.FlattenedListing, len(l))
	for k, v := range l {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return v
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return t
	case float32:
		return sanitizeValue(float64(t))
	case json.Number, time.Time, *time.Time:
		return sanitizeValue(normalizeValue(v))
	case map[string]any:
		return map[string]any(Sanitize(t))
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = sanitizeValue(inner)
		}
		return s
	default:
		return nil
	}
}
