// Package timeval collapses the timestamp encodings found across punch record
// generations into epoch milliseconds. Records written by current clients carry
// a native store timestamp; older records may hold an ISO string or a raw epoch
// number. Every duration and range computation in the service goes through this
// package so that mixed-generation records compare consistently.
package timeval

import (
	"encoding/json"
	"time"
)

// Timestamp is the record store's native timestamp shape.
type Timestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int32 `json:"nanos"`
}

// ToTime converts the timestamp to a time.Time in UTC.
func (t Timestamp) ToTime() time.Time {
	return time.Unix(t.Seconds, int64(t.Nanos)).UTC()
}

// TimeConvertible is satisfied by values that carry their own conversion to
// time.Time, such as the store-native Timestamp.
type TimeConvertible interface {
	ToTime() time.Time
}

// Layouts accepted for legacy string timestamps, in probe order.
var stringLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ToEpochMillis converts any supported timestamp shape to epoch milliseconds.
// Probe order matters: a conversion method first, then native time values, then
// string parsing, then raw numbers. Numeric-looking strings must go through the
// date parser and fail there rather than being read as epoch numbers; some
// legacy records stored digit strings that are not epoch values.
func ToEpochMillis(v any) (int64, bool) {
	switch tv := v.(type) {
	case nil:
		return 0, false
	case TimeConvertible:
		return tv.ToTime().UnixMilli(), true
	case time.Time:
		if tv.IsZero() {
			return 0, false
		}
		return tv.UnixMilli(), true
	case *time.Time:
		if tv == nil || tv.IsZero() {
			return 0, false
		}
		return tv.UnixMilli(), true
	case string:
		for _, layout := range stringLayouts {
			if t, err := time.Parse(layout, tv); err == nil {
				return t.UnixMilli(), true
			}
		}
		return 0, false
	case json.Number:
		if f, err := tv.Float64(); err == nil {
			return int64(f), true
		}
		return 0, false
	case float64:
		return int64(tv), true
	case float32:
		return int64(tv), true
	case int64:
		return tv, true
	case int:
		return int64(tv), true
	default:
		return 0, false
	}
}

// DurationMillis applies the session duration policy: a closed interval is
// clamped to non-negative, an open interval is elapsed time up to now, and an
// interval with no usable start is zero.
func DurationMillis(start, end Value, now time.Time) int64 {
	s, ok := start.EpochMillis()
	if !ok {
		return 0
	}
	if e, ok := end.EpochMillis(); ok {
		d := e - s
		if d < 0 {
			return 0
		}
		return d
	}
	return now.UnixMilli() - s
}
