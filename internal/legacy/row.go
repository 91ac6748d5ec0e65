package legacy

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Row is one record of a legacy table, keyed by column name.
type Row map[string]any

// String returns the column as text. Missing and NULL columns are empty.
func (r Row) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	case time.Time:
		return v.Format("2006-01-02 15:04:05")
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the column as an integer when it holds a whole number.
func (r Row) Int(key string) (int, bool) {
	switch v := r[key].(type) {
	case int64:
		return int(v), true
	case int:
		return v, true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	}
	return 0, false
}

// Time returns the column as a timestamp.
func (r Row) Time(key string) (time.Time, bool) {
	t, ok := r[key].(time.Time)
	return t, ok
}

// Rows returns the enrichment rows attached under "with".
func (r Row) Rows(key string) []Row {
	children, _ := r[key].([]Row)
	return children
}
