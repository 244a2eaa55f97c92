package timeval

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Value holds a punch timestamp in whichever encoding the record was written
// with. It round-trips through the store's JSONB columns without losing the
// original shape, so legacy rows keep their legacy encoding until rewritten.
type Value struct {
	raw any
}

// FromTime returns a Value in the current native encoding.
func FromTime(t time.Time) Value {
	return Value{raw: Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}}
}

// FromRaw wraps an arbitrary decoded shape. Intended for tests and for store
// implementations that decode timestamps themselves.
func FromRaw(v any) Value {
	return Value{raw: v}
}

// IsZero reports whether no timestamp is present.
func (v Value) IsZero() bool {
	return v.raw == nil
}

// EpochMillis normalizes the held value to epoch milliseconds.
func (v Value) EpochMillis() (int64, bool) {
	return ToEpochMillis(v.raw)
}

// SortMillis is EpochMillis with unusable values collapsing to zero, for use
// as a sort key.
func (v Value) SortMillis() int64 {
	ms, _ := v.EpochMillis()
	return ms
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch tv := v.raw.(type) {
	case nil:
		return []byte("null"), nil
	case Timestamp:
		return json.Marshal(tv)
	case time.Time:
		return json.Marshal(tv.Format(time.RFC3339Nano))
	default:
		return json.Marshal(tv)
	}
}

func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		v.raw = nil
		return nil
	}
	switch b[0] {
	case '{':
		var ts Timestamp
		if err := json.Unmarshal(b, &ts); err != nil {
			return fmt.Errorf("timeval: bad timestamp object: %w", err)
		}
		v.raw = ts
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v.raw = s
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("timeval: bad timestamp literal: %w", err)
		}
		v.raw = n
	}
	return nil
}

// Scan implements sql.Scanner for JSONB columns.
func (v *Value) Scan(src any) error {
	switch s := src.(type) {
	case nil:
		v.raw = nil
		return nil
	case []byte:
		return v.UnmarshalJSON(s)
	case string:
		return v.UnmarshalJSON([]byte(s))
	default:
		return fmt.Errorf("timeval: cannot scan %T", src)
	}
}

// Value implements driver.Valuer, emitting JSON text for JSONB columns.
func (v Value) Value() (driver.Value, error) {
	if v.raw == nil {
		return nil, nil
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
