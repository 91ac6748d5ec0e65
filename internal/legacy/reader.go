// Package legacy reads tables out of the inspection station's own database
// files. Every read runs in a short-lived isolated worker.
package legacy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"axle-sync-backend/internal/filter"
	"axle-sync-backend/internal/metrics"
)

// ErrWorker is returned for every failed read, whatever the cause.
var ErrWorker = errors.New("legacy reader failed")

const (
	// WithField is where enrichment rows are attached on a parent row.
	WithField = "with"
	// DefaultWithKey joins a parent row to its enrichment rows.
	DefaultWithKey = "szIDs"
	childKey       = "opid"
	childSuffix    = "_data"
)

// Query selects a page of one table.
type Query struct {
	Path      string
	Table     string
	Filters   []filter.Filter
	PageIndex int
	PageSize  int // zero returns every row
	With      bool
	WithKey   string
}

// Result is one page plus the number of rows matching the filters.
type Result struct {
	Total int   `json:"total"`
	Rows  []Row `json:"rows"`
}

// Reader runs queries through a Runner.
type Reader struct {
	runner  Runner
	options func() Options
	timeout func() time.Duration
	logger  *slog.Logger
}

// NewReader creates a Reader. options and timeout are read before every query.
func NewReader(runner Runner, options func() Options, timeout func() time.Duration, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{runner: runner, options: options, timeout: timeout, logger: logger}
}

// Read returns the matching rows newest first. With enrichment enabled, each
// row of the page gets the rows of <table>_data whose opid equals its key.
// Any failure yields ErrWorker and no rows.
func (r *Reader) Read(ctx context.Context, q Query) (Result, error) {
	resp, err := r.roundTrip(ctx, Request{
		Path:      q.Path,
		Table:     q.Table,
		Filters:   q.Filters,
		PageIndex: q.PageIndex,
		PageSize:  q.PageSize,
	})
	if err != nil {
		return Result{}, err
	}

	rows := resp.Rows
	if rows == nil {
		rows = []Row{}
	}
	if q.With && len(rows) > 0 {
		if err := r.enrich(ctx, q, rows); err != nil {
			return Result{}, err
		}
	}
	return Result{Total: resp.Total, Rows: rows}, nil
}

func (r *Reader) enrich(ctx context.Context, q Query, rows []Row) error {
	key := q.WithKey
	if key == "" {
		key = DefaultWithKey
	}

	keys := make([]any, 0, len(rows))
	for _, row := range rows {
		if k, ok := row[key].(string); ok {
			keys = append(keys, k)
		}
	}

	var children []Row
	if len(keys) > 0 {
		resp, err := r.roundTrip(ctx, Request{
			Path:    q.Path,
			Table:   q.Table + childSuffix,
			Filters: []filter.Filter{filter.In(childKey, keys)},
			Natural: true,
		})
		if err != nil {
			return err
		}
		children = resp.Rows
	}

	for _, row := range rows {
		matched := []Row{}
		if k, ok := row[key].(string); ok {
			for _, child := range children {
				if filter.Identical(child[childKey], k) {
					matched = append(matched, child)
				}
			}
		}
		row[WithField] = matched
	}
	return nil
}

func (r *Reader) roundTrip(ctx context.Context, req Request) (Response, error) {
	req.Options = r.options()
	timeout := r.timeout()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := r.runner.Run(ctx, req)
	if err == nil && resp.Err != "" {
		err = errors.New(resp.Err)
	}
	metrics.LegacyReadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LegacyReads.WithLabelValues("error", req.Table).Inc()
		r.logger.Error("Legacy read failed", "table", req.Table, "path", req.Path, "error", err)
		return Response{}, fmt.Errorf("%w: %s: %v", ErrWorker, req.Table, err)
	}
	metrics.LegacyReads.WithLabelValues("ok", req.Table).Inc()
	return resp, nil
}
