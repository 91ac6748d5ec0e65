// Package query exposes the two legacy databases of the inspection station.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"axle-sync-backend/internal/filter"
	"axle-sync-backend/internal/legacy"
	"axle-sync-backend/internal/model"
)

// Root names one of the legacy databases.
type Root string

const (
	// RootDB holds inspection results.
	RootDB Root = "root"
	// AppDB holds device reference data.
	AppDB Root = "app"
)

// ErrNotFound is returned by the typed lookups when no row matches.
var ErrNotFound = errors.New("no matching legacy row")

// PathResolver locates the legacy database files. Paths are read on every call.
type PathResolver interface {
	RootDatabasePath() string
	AppDatabasePath() string
}

// Reader is satisfied by *legacy.Reader.
type Reader interface {
	Read(ctx context.Context, q legacy.Query) (legacy.Result, error)
}

// Params select a page of one table.
type Params struct {
	Table     string          `json:"table"`
	Filters   []filter.Filter `json:"filters"`
	PageIndex int             `json:"pageIndex"`
	PageSize  int             `json:"pageSize"`
	With      bool            `json:"with"`
}

// Facade routes queries to the right database file.
type Facade struct {
	reader Reader
	paths  PathResolver
}

func NewFacade(reader Reader, paths PathResolver) *Facade {
	return &Facade{reader: reader, paths: paths}
}

// Query reads a page from the table of the given root.
func (f *Facade) Query(ctx context.Context, root Root, p Params) (legacy.Result, error) {
	var path string
	switch root {
	case RootDB:
		path = f.paths.RootDatabasePath()
	case AppDB:
		path = f.paths.AppDatabasePath()
	default:
		return legacy.Result{}, fmt.Errorf("unknown legacy database %q", root)
	}
	return f.reader.Read(ctx, legacy.Query{
		Path:      path,
		Table:     p.Table,
		Filters:   p.Filters,
		PageIndex: p.PageIndex,
		PageSize:  p.PageSize,
		With:      p.With,
	})
}

// Corporation returns the device description of the station.
func (f *Facade) Corporation(ctx context.Context) (model.Corporation, error) {
	res, err := f.Query(ctx, AppDB, Params{Table: "corporation", PageSize: 1})
	if err != nil {
		return model.Corporation{}, err
	}
	if len(res.Rows) == 0 {
		return model.Corporation{}, fmt.Errorf("corporation: %w", ErrNotFound)
	}
	row := res.Rows[0]
	return model.Corporation{
		DeviceNo:  row.String("DeviceNO"),
		Factory:   row.String("Factory"),
		FactoryNo: row.String("FactoryNo"),
		Unit:      row.String("Unit"),
	}, nil
}

// LatestDetection returns the newest inspection of axleID in [start, end].
func (f *Facade) LatestDetection(ctx context.Context, axleID string, start, end time.Time) (model.Detection, error) {
	res, err := f.Query(ctx, RootDB, Params{
		Table: "detections",
		Filters: []filter.Filter{
			filter.Equal("szIDsWheel", axleID),
			filter.DateRange("tmnow", start, end),
		},
		PageSize: 1,
	})
	if err != nil {
		return model.Detection{}, err
	}
	if len(res.Rows) == 0 {
		return model.Detection{}, fmt.Errorf("detection of axle %s: %w", axleID, ErrNotFound)
	}
	return detectionFromRow(res.Rows[0]), nil
}

// Defects returns the channel readings recorded for one inspection.
func (f *Facade) Defects(ctx context.Context, detectionID string) ([]model.DetectionDefect, error) {
	res, err := f.Query(ctx, RootDB, Params{
		Table:    "detections",
		Filters:  []filter.Filter{filter.Equal("szIDs", detectionID)},
		PageSize: 1,
		With:     true,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, fmt.Errorf("detection %s: %w", detectionID, ErrNotFound)
	}

	var defects []model.DetectionDefect
	for _, row := range res.Rows[0].Rows(legacy.WithField) {
		board, _ := row.Int("nBoard")
		channel, _ := row.Int("nChannel")
		defects = append(defects, model.DetectionDefect{
			OpID:    row.String("opid"),
			Board:   board,
			Channel: channel,
		})
	}
	return defects, nil
}

func detectionFromRow(row legacy.Row) model.Detection {
	detectedAt, _ := row.Time("tmnow")
	return model.Detection{
		ID:         row.String("szIDs"),
		AxleID:     row.String("szIDsWheel"),
		Result:     row.String("szResult"),
		Username:   row.String("szUsername"),
		WheelModel: row.String("szWHModel"),
		DetectedAt: detectedAt,
	}
}
