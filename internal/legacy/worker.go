package legacy

import (
	"context"
	"database/sql"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "github.com/nakagami/firebirdsql"
	_ "modernc.org/sqlite"

	"axle-sync-backend/internal/filter"
)

const (
	DriverSQLite   = "sqlite"
	DriverFirebird = "firebirdsql"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func init() {
	gob.Register(time.Time{})
	gob.Register([]any{})
}

// Options describe how to open a legacy database file.
type Options struct {
	Password     string
	Driver       string
	Charset      string
	FirebirdHost string
	FirebirdUser string
	Timezone     string
}

// Request is sent by the host to a worker, one per worker lifetime.
type Request struct {
	Options
	Path      string
	Table     string
	Filters   []filter.Filter
	PageIndex int
	PageSize  int
	// Natural keeps the physical row order instead of newest first.
	Natural bool
}

// Response carries either a page of rows or an error message back to the host.
type Response struct {
	Total int
	Rows  []Row
	Err   string
}

// ServeProcess runs a worker over the process's standard streams and returns
// the exit code.
func ServeProcess() int {
	if err := Serve(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// Serve reads exactly one request from r and writes one response to w.
// Failures while reading the database are reported inside the response.
func Serve(r io.Reader, w io.Writer) error {
	var req Request
	if err := gob.NewDecoder(r).Decode(&req); err != nil {
		return fmt.Errorf("failed to decode request: %w", err)
	}
	resp := Execute(req)
	if err := gob.NewEncoder(w).Encode(resp); err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	return nil
}

// Execute opens the file, reads the whole table and returns the requested page.
func Execute(req Request) (resp Response) {
	defer func() {
		if rec := recover(); rec != nil {
			resp = Response{Err: fmt.Sprintf("panic: %v", rec)}
		}
	}()

	rows, err := readTable(req)
	if err != nil {
		return Response{Err: err.Error()}
	}

	matched := make([]Row, 0, len(rows))
	for _, row := range rows {
		if filter.MatchAll(row, req.Filters) {
			matched = append(matched, row)
		}
	}
	if !req.Natural {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	return Response{Total: len(matched), Rows: paginate(matched, req.PageIndex, req.PageSize)}
}

func paginate(rows []Row, pageIndex, pageSize int) []Row {
	if pageSize <= 0 {
		return rows
	}
	if pageIndex < 0 {
		pageIndex = 0
	}
	if pageIndex > len(rows)/pageSize {
		return []Row{}
	}
	start := pageIndex * pageSize
	if start >= len(rows) {
		return []Row{}
	}
	end := start + pageSize
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}

// DriverFor picks the database/sql driver for a legacy file.
func DriverFor(path, override string) string {
	if override != "" {
		return override
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fdb", ".gdb":
		return DriverFirebird
	default:
		return DriverSQLite
	}
}

func open(req Request) (*sql.DB, error) {
	switch driver := DriverFor(req.Path, req.Driver); driver {
	case DriverFirebird:
		dsn := fmt.Sprintf("%s:%s@%s/%s", req.FirebirdUser, url.QueryEscape(req.Password), req.FirebirdHost, req.Path)
		return sql.Open(DriverFirebird, dsn)
	case DriverSQLite:
		// SQLite would silently create a missing file.
		if _, err := os.Stat(req.Path); err != nil {
			return nil, err
		}
		return sql.Open(DriverSQLite, "file:"+req.Path+"?mode=ro")
	default:
		return nil, fmt.Errorf("unsupported legacy driver %q", driver)
	}
}

func readTable(req Request) ([]Row, error) {
	if req.Path == "" {
		return nil, errors.New("legacy database path is not configured")
	}
	if !tableName.MatchString(req.Table) {
		return nil, fmt.Errorf("invalid table name %q", req.Table)
	}
	loc := time.Local
	if req.Timezone != "" {
		if l, err := time.LoadLocation(req.Timezone); err == nil {
			loc = l
		}
	}

	db, err := open(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", req.Path, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	stmt := "SELECT * FROM " + req.Table
	var rows *sql.Rows
	if DriverFor(req.Path, req.Driver) == DriverSQLite {
		// Insertion order; WITHOUT ROWID tables fall back to scan order.
		rows, err = db.QueryContext(ctx, stmt+" ORDER BY rowid")
	}
	if rows == nil {
		rows, err = db.QueryContext(ctx, stmt)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read table %s: %w", req.Table, err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", req.Table, err)
		}
		row := make(Row, len(types))
		for i, ct := range types {
			row[ct.Name()] = normalize(values[i], ct.DatabaseTypeName(), req.Charset, loc)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02",
}

// normalize maps driver values onto the small set of types a Row may hold:
// nil, string, []byte, bool, int64, float64 and time.Time.
func normalize(v any, dbType, charset string, loc *time.Location) any {
	temporal := isTemporal(dbType)
	switch x := v.(type) {
	case nil, bool, int64, float64:
		return x
	case []byte:
		s := toUTF8(x, charset)
		if temporal {
			if t, ok := parseWallClock(s, loc); ok {
				return t
			}
		}
		return s
	case string:
		if temporal {
			if t, ok := parseWallClock(x, loc); ok {
				return t
			}
		}
		return x
	case time.Time:
		return wallClock(x, loc)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case *big.Int:
		return float64(x.Int64())
	case interface{ Float64() (float64, bool) }:
		f, _ := x.Float64()
		return f
	default:
		return fmt.Sprint(x)
	}
}

func isTemporal(dbType string) bool {
	t := strings.ToUpper(dbType)
	return strings.Contains(t, "DATE") || strings.Contains(t, "TIME")
}

// Legacy timestamps carry no zone; they are wall-clock readings at the station.
func wallClock(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

func parseWallClock(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return wallClock(t, loc), true
		}
	}
	return time.Time{}, false
}
