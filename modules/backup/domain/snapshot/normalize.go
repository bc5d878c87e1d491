package snapshot

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iota-uz/workshop/modules/backup/domain/catalog"
)

const (
	dateLayout = "2006-01-02"
	// IDField is the source-local primary key carried by every row.
	IDField = "id"
)

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	dateLayout,
}

// IsAbsent reports whether v stands for a missing value: nil or one of the
// placeholder strings legacy exports wrote instead of null.
func IsAbsent(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		switch strings.TrimSpace(t) {
		case "None", "null", "NULL", "nan", "NaN":
			return true
		}
	}
	return false
}

func present(row Row, field string) (any, bool) {
	v, ok := row[field]
	if !ok || IsAbsent(v) {
		return nil, false
	}
	return v, true
}

// RowID returns the source-local id of a raw snapshot row.
func RowID(raw Row) (int64, bool) {
	v, ok := present(raw, IDField)
	if !ok {
		return 0, false
	}
	id, err := toInt64(v)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Normalize returns a row holding exactly e's fields with typed values:
// string, int64, decimal.Decimal, bool, time.Time or nil. Absent values take
// the column default; the id, tenant and unknown fields are dropped.
// Foreign keys keep their source ids and are resolved by the caller.
func Normalize(e *catalog.Entity, raw Row) (Row, error) {
	out := make(Row, len(e.Columns)+len(e.ForeignKeys))
	for _, c := range e.Columns {
		v, ok := present(raw, c.Name)
		if !ok {
			out[c.Name] = c.Default
			continue
		}
		coerced, err := coerce(c, v)
		if err != nil {
			return nil, &FieldError{Entity: e.Key, Field: c.Name, Value: v, Err: err}
		}
		out[c.Name] = coerced
	}
	for _, fk := range e.ForeignKeys {
		v, ok := present(raw, fk.Column)
		if !ok {
			out[fk.Column] = nil
			continue
		}
		id, err := toInt64(v)
		if err != nil {
			return nil, &FieldError{Entity: e.Key, Field: fk.Column, Value: v, Err: err}
		}
		out[fk.Column] = id
	}
	return out, nil
}

func coerce(c catalog.Column, v any) (any, error) {
	switch c.Kind {
	case catalog.KindString:
		return toString(v)
	case catalog.KindFile:
		return toURL(v, c.Default)
	case catalog.KindInt:
		return toInt64(v)
	case catalog.KindDecimal:
		return toDecimal(v)
	case catalog.KindBool:
		return toBool(v)
	case catalog.KindDate:
		t, err := parseTime(v)
		if err != nil {
			return nil, err
		}
		// the calendar day as written, before any offset is applied
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	case catalog.KindDateTime:
		return toTime(v)
	default:
		return nil, fmt.Errorf("unsupported column kind %s", c.Kind)
	}
}

func toString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("expected string, got %T", v)
	}
}

func toURL(v any, def any) (any, error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return def, nil
		}
		return t, nil
	case map[string]any:
		if u, ok := t["url"].(string); ok && u != "" {
			return u, nil
		}
		return def, nil
	default:
		return nil, fmt.Errorf("expected file url, got %T", v)
	}
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		return integralDecimal(t.String())
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) || math.IsNaN(t) {
			return 0, fmt.Errorf("expected integer, got %v", t)
		}
		if t < math.MinInt64 || t >= math.MaxInt64 {
			return 0, fmt.Errorf("integer %v out of range", t)
		}
		return int64(t), nil
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return n, nil
		}
		return integralDecimal(t)
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func integralDecimal(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("expected integer: %w", err)
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("expected integer, got %s", s)
	}
	if !d.BigInt().IsInt64() {
		return 0, fmt.Errorf("integer %s out of range", s)
	}
	return d.IntPart(), nil
}

// toDecimal parses the exact textual value; floats are only accepted from
// legacy snapshots and go through their shortest representation.
func toDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(t))
	case json.Number:
		return decimal.NewFromString(t.String())
	case int64:
		return decimal.NewFromInt(t), nil
	case float64:
		return decimal.NewFromString(strconv.FormatFloat(t, 'f', -1, 64))
	default:
		return decimal.Zero, fmt.Errorf("expected decimal string, got %T", v)
	}
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(t))
	case json.Number:
		return strconv.ParseBool(t.String())
	default:
		return false, fmt.Errorf("expected boolean, got %T", v)
	}
}

func toTime(v any) (time.Time, error) {
	t, err := parseTime(v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// parseTime keeps the offset the value was written with.
func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range datetimeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized time %q", s)
	default:
		return time.Time{}, fmt.Errorf("expected ISO-8601 string, got %T", v)
	}
}

// Serialize renders a stored row as a JSON-safe snapshot row: decimals become
// fixed-scale strings, dates and times ISO-8601 strings. The tenant field is
// never emitted.
func Serialize(e *catalog.Entity, id int64, row Row) (Row, error) {
	out := make(Row, len(e.Columns)+len(e.ForeignKeys)+1)
	out[IDField] = id
	for _, c := range e.Columns {
		v, err := serializeValue(c, row[c.Name])
		if err != nil {
			return nil, &FieldError{Entity: e.Key, Field: c.Name, Value: row[c.Name], Err: err}
		}
		out[c.Name] = v
	}
	for _, fk := range e.ForeignKeys {
		v := row[fk.Column]
		if v == nil {
			out[fk.Column] = nil
			continue
		}
		id, err := toInt64(v)
		if err != nil {
			return nil, &FieldError{Entity: e.Key, Field: fk.Column, Value: v, Err: err}
		}
		out[fk.Column] = id
	}
	return out, nil
}

func serializeValue(c catalog.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.Kind {
	case catalog.KindDecimal:
		d, err := toDecimal(v)
		if err != nil {
			return nil, err
		}
		return FormatDecimal(d, c.Scale), nil
	case catalog.KindDate:
		t, err := toTime(v)
		if err != nil {
			return nil, err
		}
		return t.Format(dateLayout), nil
	case catalog.KindDateTime:
		t, err := toTime(v)
		if err != nil {
			return nil, err
		}
		return t.Format(time.RFC3339Nano), nil
	case catalog.KindInt:
		return toInt64(v)
	case catalog.KindBool:
		return toBool(v)
	case catalog.KindString, catalog.KindFile:
		return toString(v)
	default:
		return nil, fmt.Errorf("unsupported column kind %s", c.Kind)
	}
}

// FormatDecimal prints d with at least scale fractional digits and never drops precision.
func FormatDecimal(d decimal.Decimal, scale int32) string {
	s := d.String()
	frac := 0
	if i := strings.IndexByte(s, '.'); i >= 0 {
		frac = len(s) - i - 1
	}
	if int32(frac) >= scale {
		return s
	}
	return d.StringFixed(scale)
}

// Portable renders loosely typed values, such as tenant scalars, as JSON-safe values.
func Portable(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		switch t := v.(type) {
		case decimal.Decimal:
			out[k] = t.String()
		case time.Time:
			out[k] = t.UTC().Format(time.RFC3339Nano)
		default:
			out[k] = v
		}
	}
	return out
}
