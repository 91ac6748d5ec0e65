package legacy

import (
	"bytes"
	"database/sql"
	"encoding/gob"
	"math"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"axle-sync-backend/internal/filter"
)

const stationTZ = "Asia/Shanghai"

// createStationDB writes a small inspection database in insertion order
// D1..D5, with two defect rows for D4 and one for D2.
func createStationDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "root.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE detections (
		szIDs TEXT, szIDsWheel TEXT, szResult TEXT, szUsername TEXT, tmnow DATETIME)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE detections_data (opid TEXT, nBoard INTEGER, nChannel INTEGER)`)
	require.NoError(t, err)

	detections := [][]any{
		{"D1", "67441", "合格", "wang", "2026-10-15 08:00:00"},
		{"D2", "67442", "故障", "li", "2026-10-15 17:30:00"},
		{"D3", "67443", "合格", "wang", "2026-10-16 08:15:00"},
		{"D4", "67444", "故障", "zhang", "2026-10-16 09:30:00"},
		{"D5", "67445", "合格", "zhang", "2026-10-16 23:59:59"},
	}
	for _, d := range detections {
		_, err = db.Exec(`INSERT INTO detections VALUES (?, ?, ?, ?, ?)`, d...)
		require.NoError(t, err)
	}
	for _, d := range [][]any{
		{"D4", 0, 8},
		{"D2", 1, 3},
		{"D4", 1, 8},
	} {
		_, err = db.Exec(`INSERT INTO detections_data VALUES (?, ?, ?)`, d...)
		require.NoError(t, err)
	}
	return path
}

func ids(rows []Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.String("szIDs"))
	}
	return out
}

func stationRequest(path, table string) Request {
	return Request{Options: Options{Timezone: stationTZ}, Path: path, Table: table}
}

func TestExecute_NewestFirst(t *testing.T) {
	path := createStationDB(t)

	resp := Execute(stationRequest(path, "detections"))
	require.Empty(t, resp.Err)
	assert.Equal(t, 5, resp.Total)
	assert.Equal(t, []string{"D5", "D4", "D3", "D2", "D1"}, ids(resp.Rows))
}

func TestExecute_PagesAreSlicesOfTheFullResult(t *testing.T) {
	path := createStationDB(t)
	full := Execute(stationRequest(path, "detections"))
	require.Empty(t, full.Err)

	for size := 1; size <= 6; size++ {
		for page := 0; page <= 5; page++ {
			req := stationRequest(path, "detections")
			req.PageIndex, req.PageSize = page, size

			resp := Execute(req)
			require.Empty(t, resp.Err)
			assert.Equal(t, full.Total, resp.Total)

			start, end := page*size, page*size+size
			if start > len(full.Rows) {
				start = len(full.Rows)
			}
			if end > len(full.Rows) {
				end = len(full.Rows)
			}
			assert.Equal(t, ids(full.Rows[start:end]), ids(resp.Rows), "page %d size %d", page, size)
		}
	}
}

func TestExecute_Filters(t *testing.T) {
	path := createStationDB(t)
	loc, err := time.LoadLocation(stationTZ)
	require.NoError(t, err)
	dayStart := time.Date(2026, 10, 16, 0, 0, 0, 0, loc)
	dayEnd := dayStart.Add(24*time.Hour - time.Nanosecond)

	req := stationRequest(path, "detections")
	req.Filters = []filter.Filter{filter.DateRange("tmnow", dayStart, dayEnd)}
	resp := Execute(req)
	require.Empty(t, resp.Err)
	assert.Equal(t, []string{"D5", "D4", "D3"}, ids(resp.Rows))

	req.Filters = append(req.Filters, filter.Equal("szIDsWheel", "67444"))
	resp = Execute(req)
	require.Empty(t, resp.Err)
	require.Len(t, resp.Rows, 1)

	tm, ok := resp.Rows[0].Time("tmnow")
	require.True(t, ok)
	assert.True(t, tm.Equal(time.Date(2026, 10, 16, 9, 30, 0, 0, loc)))
	assert.Equal(t, "故障", resp.Rows[0].String("szResult"))
}

func TestExecute_NaturalOrder(t *testing.T) {
	path := createStationDB(t)
	req := stationRequest(path, "detections_data")
	req.Natural = true

	resp := Execute(req)
	require.Empty(t, resp.Err)
	require.Len(t, resp.Rows, 3)
	assert.Equal(t, "D4", resp.Rows[0].String("opid"))
	board, ok := resp.Rows[0].Int("nBoard")
	assert.True(t, ok)
	assert.Equal(t, 0, board)
}

func TestExecute_DecodesCodePageText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE corporation (Factory TEXT, DeviceNO TEXT)`)
	require.NoError(t, err)
	encoded, err := simplifiedchinese.GB18030.NewEncoder().Bytes([]byte("徐州北车辆段"))
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO corporation VALUES (?, ?)`, encoded, "DEV-01")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	resp := Execute(Request{Options: Options{Charset: "gb18030"}, Path: path, Table: "corporation"})
	require.Empty(t, resp.Err)
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, "徐州北车辆段", resp.Rows[0].String("Factory"))
	assert.Equal(t, "DEV-01", resp.Rows[0].String("DeviceNO"))
}

func TestExecute_Failures(t *testing.T) {
	path := createStationDB(t)

	testCases := []struct {
		name string
		req  Request
	}{
		{"missing file", stationRequest(filepath.Join(t.TempDir(), "nope.db"), "detections")},
		{"empty path", stationRequest("", "detections")},
		{"unknown table", stationRequest(path, "nothing_here")},
		{"injected table name", stationRequest(path, "detections; DROP TABLE detections")},
		{"unsupported driver", Request{Options: Options{Driver: "access"}, Path: path, Table: "detections"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := Execute(tc.req)
			assert.NotEmpty(t, resp.Err)
			assert.Empty(t, resp.Rows)
		})
	}
}

func TestDriverFor(t *testing.T) {
	assert.Equal(t, DriverFirebird, DriverFor(`C:\station\ROOT.FDB`, ""))
	assert.Equal(t, DriverFirebird, DriverFor("/data/root.gdb", ""))
	assert.Equal(t, DriverSQLite, DriverFor("/data/root.db", ""))
	assert.Equal(t, DriverSQLite, DriverFor("/data/root.fdb", DriverSQLite))
}

func TestServe_RoundTrip(t *testing.T) {
	path := createStationDB(t)
	req := stationRequest(path, "detections")
	req.Filters = []filter.Filter{filter.In("szIDs", []any{"D1", "D3"})}
	req.PageSize = 1

	var in, out bytes.Buffer
	require.NoError(t, gob.NewEncoder(&in).Encode(req))
	require.NoError(t, Serve(&in, &out))

	var resp Response
	require.NoError(t, gob.NewDecoder(&out).Decode(&resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, []string{"D3"}, ids(resp.Rows))
	_, ok := resp.Rows[0].Time("tmnow")
	assert.True(t, ok, "timestamps survive the worker boundary")
}

func TestServe_BadInput(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, Serve(bytes.NewBufferString("not gob"), &out))
}

func TestPaginate(t *testing.T) {
	rows := []Row{{"szIDs": "D3"}, {"szIDs": "D2"}, {"szIDs": "D1"}}

	testCases := []struct {
		name      string
		pageIndex int
		pageSize  int
		expected  []string
	}{
		{"no page size returns everything", 0, 0, []string{"D3", "D2", "D1"}},
		{"first page", 0, 2, []string{"D3", "D2"}},
		{"partial last page", 1, 2, []string{"D1"}},
		{"past the end", 2, 2, []string{}},
		{"negative index is the first page", -1, 2, []string{"D3", "D2"}},
		{"offset beyond int range", 1 << 62, 4, []string{}},
		{"huge page size", 0, math.MaxInt, []string{"D3", "D2", "D1"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ids(paginate(rows, tc.pageIndex, tc.pageSize)))
		})
	}
}

func TestExecute_OrdersByRowid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "root.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE verifies (szIDs TEXT)`,
		`INSERT INTO verifies (rowid, szIDs) VALUES (3, 'V3')`,
		`INSERT INTO verifies (rowid, szIDs) VALUES (1, 'V1')`,
		`INSERT INTO verifies (rowid, szIDs) VALUES (2, 'V2')`,
		`CREATE TABLE quartors (szIDs TEXT PRIMARY KEY) WITHOUT ROWID`,
		`INSERT INTO quartors VALUES ('Q1')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	require.NoError(t, db.Close())

	resp := Execute(stationRequest(path, "verifies"))
	require.Empty(t, resp.Err)
	assert.Equal(t, []string{"V3", "V2", "V1"}, ids(resp.Rows))

	resp = Execute(stationRequest(path, "quartors"))
	require.Empty(t, resp.Err)
	assert.Equal(t, []string{"Q1"}, ids(resp.Rows))
}
