// Package filter evaluates the small row-filter language shared by the legacy
// reader and the HTTP query endpoints.
package filter

import (
	"bytes"
	"math"
	"reflect"
	"strings"
	"time"
)

// Type names one of the supported predicates.
type Type string

const (
	TypeEqual     Type = "equal"
	TypeLike      Type = "like"
	TypeIn        Type = "in-set"
	TypeDateRange Type = "date-range"

	// Short spellings accepted on the wire.
	typeInAlias        Type = "in"
	typeDateRangeAlias Type = "date"
)

// Filter is a single predicate over one field of a row.
type Filter struct {
	Type    Type      `json:"type"`
	Field   string    `json:"field"`
	Value   any       `json:"value,omitempty"`
	StartAt time.Time `json:"startAt,omitempty"`
	EndAt   time.Time `json:"endAt,omitempty"`
}

// Equal matches rows whose field is identical to value.
func Equal(field string, value any) Filter {
	return Filter{Type: TypeEqual, Field: field, Value: value}
}

// Like matches rows whose string field contains pattern, ignoring case.
func Like(field, pattern string) Filter {
	return Filter{Type: TypeLike, Field: field, Value: pattern}
}

// In matches rows whose field equals any element of values.
// A values argument that is not a slice or array matches every row.
func In(field string, values any) Filter {
	return Filter{Type: TypeIn, Field: field, Value: values}
}

// DateRange matches rows whose timestamp field lies in [start, end].
func DateRange(field string, start, end time.Time) Filter {
	return Filter{Type: TypeDateRange, Field: field, StartAt: start, EndAt: end}
}

// MatchAll reports whether row satisfies every filter.
func MatchAll(row map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if !Match(row, f) {
			return false
		}
	}
	return true
}

// Match evaluates one filter. It never panics; any failure is a non-match.
func Match(row map[string]any, f Filter) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	switch f.Type {
	case TypeEqual:
		v, present := row[f.Field]
		return present && Identical(v, f.Value)

	case TypeLike:
		pattern, isString := f.Value.(string)
		if !isString {
			return false
		}
		if pattern == "" {
			return true
		}
		s, isString := row[f.Field].(string)
		if !isString {
			return false
		}
		return strings.Contains(strings.ToLower(s), strings.ToLower(pattern))

	case TypeIn, typeInAlias:
		values := reflect.ValueOf(f.Value)
		if !values.IsValid() || (values.Kind() != reflect.Slice && values.Kind() != reflect.Array) {
			// Known quirk kept on purpose: a malformed set does not filter anything.
			return true
		}
		v, present := row[f.Field]
		if !present {
			return false
		}
		for i := 0; i < values.Len(); i++ {
			if Identical(v, values.Index(i).Interface()) {
				return true
			}
		}
		return false

	case TypeDateRange, typeDateRangeAlias:
		t, isTime := row[f.Field].(time.Time)
		if !isTime {
			return false
		}
		return !t.Before(f.StartAt) && !t.After(f.EndAt)
	}

	return false
}

// Identical is strict value identity: same kind of value and same content.
// All numeric types compare as numbers, and NaN is identical to NaN.
func Identical(a, b any) bool {
	an, aNum := number(a)
	bn, bNum := number(b)
	if aNum || bNum {
		if !aNum || !bNum {
			return false
		}
		if math.IsNaN(an) && math.IsNaN(bn) {
			return true
		}
		return an == bn
	}

	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	}
	return false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
