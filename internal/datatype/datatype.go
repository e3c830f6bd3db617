// Package datatype implements DADB's closed, ordered set of scalar
// datatypes (§4.2): declaration strings persisted in the catalog, DDL
// column-type specs, and bidirectional encoders/decoders between native Go
// values and the storage layer's primitives.
package datatype

import (
	"fmt"
	"time"

	"github.com/mxkrt/dadb/internal/dadberr"
)

// Type names the closed set of scalar datatypes. Order matches spec.md §4.2
// and is fixed: it is persisted verbatim in the catalog's field table.
type Type string

const (
	Datetime  Type = "Datetime"
	Date      Type = "Date"
	Integer   Type = "Integer"
	String    Type = "String"
	Bytes     Type = "Bytes"
	Bool      Type = "Bool"
	TimeDelta Type = "TimeDelta"
	Float     Type = "Float"
	NULL      Type = "NULL"
	Data      Type = "Data"
)

// All lists every datatype in declaration order.
var All = []Type{Datetime, Date, Integer, String, Bytes, Bool, TimeDelta, Float, NULL, Data}

// ColumnType returns the DDL column-type spec used when generating CREATE
// TABLE statements for a field of this datatype.
func (t Type) ColumnType() (string, error) {
	switch t {
	case Datetime, Date, String, TimeDelta:
		return "TEXT", nil
	case Integer, Bool, Data:
		return "INTEGER", nil
	case Float:
		return "REAL", nil
	case Bytes:
		return "BLOB", nil
	case NULL:
		return "TEXT", nil
	default:
		return "", dadberr.ValueErrorf("datatype", "unknown datatype %q", t)
	}
}

// Valid reports whether t is a member of the closed set.
func (t Type) Valid() bool {
	for _, c := range All {
		if c == t {
			return true
		}
	}
	return false
}

// Encode converts a native Go value for a field of this datatype into the
// primitive the storage layer should bind as a parameter.
func Encode(t Type, v interface{}) (interface{}, error) {
	if v == nil {
		if t == NULL {
			return nil, nil
		}
		return nil, nil
	}
	switch t {
	case Datetime:
		tm, ok := v.(time.Time)
		if !ok {
			return nil, dadberr.ValueErrorf(string(t), "expected time.Time, got %T", v)
		}
		return Isoformat(tm.UTC()), nil
	case Date:
		tm, ok := v.(time.Time)
		if !ok {
			return nil, dadberr.ValueErrorf(string(t), "expected time.Time, got %T", v)
		}
		return tm.Format("2006-01-02"), nil
	case Integer, Data:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		default:
			return nil, dadberr.ValueErrorf(string(t), "expected integer, got %T", v)
		}
	case String:
		s, ok := v.(string)
		if !ok {
			return nil, dadberr.ValueErrorf(string(t), "expected string, got %T", v)
		}
		return s, nil
	case Bytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, dadberr.ValueErrorf(string(t), "expected []byte, got %T", v)
		}
		return b, nil
	case Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, dadberr.ValueErrorf(string(t), "expected bool, got %T", v)
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	case TimeDelta:
		d, ok := v.(time.Duration)
		if !ok {
			return nil, dadberr.ValueErrorf(string(t), "expected time.Duration, got %T", v)
		}
		return formatTimeDelta(d), nil
	case Float:
		switch n := v.(type) {
		case float32:
			return float64(n), nil
		case float64:
			return n, nil
		default:
			return nil, dadberr.ValueErrorf(string(t), "expected float, got %T", v)
		}
	case NULL:
		return nil, dadberr.ValueErrorf(string(t), "NULL-typed field may not carry a value")
	default:
		return nil, dadberr.ValueErrorf(string(t), "unknown datatype")
	}
}

// Decode converts a storage-layer primitive back to the native Go value for
// a field of this datatype.
func Decode(t Type, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case Datetime:
		s, ok := v.(string)
		if !ok {
			return nil, dadberr.ValueErrorf(string(t), "expected TEXT, got %T", v)
		}
		return FromISO8601(s)
	case Date:
		s, ok := v.(string)
		if !ok {
			return nil, dadberr.ValueErrorf(string(t), "expected TEXT, got %T", v)
		}
		return time.Parse("2006-01-02", s)
	case Integer, Data:
		return asInt64(v)
	case String:
		s, ok := v.(string)
		if !ok {
			return nil, dadberr.ValueErrorf(string(t), "expected TEXT, got %T", v)
		}
		return s, nil
	case Bytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, dadberr.ValueErrorf(string(t), "expected BLOB, got %T", v)
		}
		return b, nil
	case Bool:
		n, err := asInt64(v)
		if err != nil {
			return nil, err
		}
		return n != 0, nil
	case TimeDelta:
		s, ok := v.(string)
		if !ok {
			return nil, dadberr.ValueErrorf(string(t), "expected TEXT, got %T", v)
		}
		return parseTimeDelta(s)
	case Float:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		default:
			return nil, dadberr.ValueErrorf(string(t), "expected REAL, got %T", v)
		}
	case NULL:
		return nil, nil
	default:
		return nil, dadberr.ValueErrorf(string(t), "unknown datatype")
	}
}

func asInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, dadberr.ValueErrorf("integer", "expected INTEGER, got %T", v)
	}
}

// Isoformat renders t in ISO-8601. A time whose location is time.UTC is
// rendered without any offset, matching the original implementation's
// isoformat() of a naive datetime; any other location is rendered with its
// offset.
func Isoformat(t time.Time) string {
	if t.Location() == time.UTC {
		return t.Format("2006-01-02T15:04:05")
	}
	return t.Format("2006-01-02T15:04:05Z07:00")
}

// FromISO8601 parses a compact or extended ISO-8601 instant, e.g.
// "20220116T012345+00:00" or "2022-01-16T01:23:45+00:00".
func FromISO8601(s string) (time.Time, error) {
	layouts := []string{
		"20060102T150405Z0700",
		"20060102T150405Z07:00",
		time.RFC3339,
		"2006-01-02T15:04:05Z07:00",
		// Isoformat omits the offset entirely for UTC instants (matching the
		// original's naive-datetime isoformat rendering); a bare timestamp
		// with no offset is treated as UTC so Encode/Decode round-trip.
		"2006-01-02T15:04:05",
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, dadberr.ValueErrorf("Datetime", "cannot parse %q as ISO-8601: %v", s, lastErr)
}

func formatTimeDelta(d time.Duration) string {
	neg := d < 0
	if neg {
		d = -d
	}
	micros := d.Microseconds()
	sign := ""
	if neg {
		sign = "-"
	}
	return fmt.Sprintf("%sPT%dS%dU", sign, micros/1_000_000, micros%1_000_000)
}

func parseTimeDelta(s string) (time.Duration, error) {
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	var secs, micros int64
	if _, err := fmt.Sscanf(s, "PT%dS%dU", &secs, &micros); err != nil {
		return 0, dadberr.ValueErrorf("TimeDelta", "cannot parse %q: %v", s, err)
	}
	d := time.Duration(secs)*time.Second + time.Duration(micros)*time.Microsecond
	if neg {
		d = -d
	}
	return d, nil
}
