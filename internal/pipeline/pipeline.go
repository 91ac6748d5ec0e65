// Package pipeline drives one remote integration: manual scans and uploads,
// and the automatic upload passes run by its Scheduler.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"axle-sync-backend/config"
	"axle-sync-backend/internal/events"
	"axle-sync-backend/internal/metrics"
	"axle-sync-backend/internal/model"
	"axle-sync-backend/internal/parse"
	"axle-sync-backend/internal/payload"
	"axle-sync-backend/internal/store"
	"axle-sync-backend/internal/vendor"
)

// Builder derives upload items from a ledger record.
type Builder interface {
	Build(ctx context.Context, rec model.Record, s payload.Settings) ([]payload.Inspection, error)
}

// PassResult summarizes one automatic upload pass.
type PassResult struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Pending    int       `json:"pending"`
	Uploaded   int       `json:"uploaded"`
	Failed     int       `json:"failed"`
}

// Options wire a pipeline to its collaborators.
type Options struct {
	Ledger   store.Ledger
	Adapter  vendor.Adapter
	Builder  Builder
	Settings func() config.IntegrationConfig
	Location func() *time.Location
	Sink     events.Sink
	Logger   *slog.Logger
	// Now is the clock used for pass windows. Defaults to time.Now.
	Now func() time.Time
}

// Pipeline is the shared flow of every integration, parameterized by its
// vendor adapter.
type Pipeline struct {
	name     string
	ledger   store.Ledger
	adapter  vendor.Adapter
	builder  Builder
	settings func() config.IntegrationConfig
	location func() *time.Location
	sink     events.Sink
	logger   *slog.Logger
	now      func() time.Time
}

func New(opts Options) *Pipeline {
	p := &Pipeline{
		name:     opts.Adapter.Name(),
		ledger:   opts.Ledger,
		adapter:  opts.Adapter,
		builder:  opts.Builder,
		settings: opts.Settings,
		location: opts.Location,
		sink:     opts.Sink,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if p.location == nil {
		p.location = func() *time.Location { return time.Local }
	}
	if p.sink == nil {
		p.sink = events.Discard
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("integration", p.name)
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

func (p *Pipeline) Name() string { return p.name }

// Scan resolves a scanned barcode against the remote service and records it
// as pending.
func (p *Pipeline) Scan(ctx context.Context, raw string) (model.Record, error) {
	code, err := parse.Barcode(raw)
	if err != nil {
		return model.Record{}, err
	}

	md, err := p.adapter.FetchByBarcode(ctx, code)
	if err != nil {
		p.sink.Log(events.LevelError, fmt.Sprintf("lookup of barcode %s failed: %v", code, err))
		return model.Record{}, err
	}

	rec, err := p.ledger.Insert(ctx, model.Record{
		BarCode:      code,
		AxleID:       md.AxleID,
		AssemblyDate: md.AssemblyDate,
		AssemblyUnit: md.AssemblyUnit,
		ScannedAt:    p.now(),
	})
	if err != nil {
		return model.Record{}, err
	}
	p.sink.Log(events.LevelInfo, fmt.Sprintf("barcode %s recorded as #%d (axle %s)", rec.BarCode, rec.ID, rec.AxleID))
	return rec, nil
}

// Upload sends one record on demand, whatever its state or scan day.
func (p *Pipeline) Upload(ctx context.Context, id int64) (model.Record, error) {
	rec, err := p.ledger.Get(ctx, id)
	if err != nil {
		return model.Record{}, err
	}
	return p.upload(ctx, rec)
}

// List returns one page of the ledger, newest first.
func (p *Pipeline) List(ctx context.Context, page store.Page) ([]model.Record, int64, error) {
	return p.ledger.ListPage(ctx, page)
}

// Delete removes a record from the ledger.
func (p *Pipeline) Delete(ctx context.Context, id int64) (model.Record, error) {
	rec, err := p.ledger.Delete(ctx, id)
	if err != nil {
		return model.Record{}, err
	}
	p.sink.Log(events.LevelInfo, fmt.Sprintf("record #%d (%s) deleted", rec.ID, rec.BarCode))
	return rec, nil
}

// upload runs to completion once started: a record the remote service has
// accepted is always marked, even if the caller goes away meanwhile. Remote
// calls stay bounded by the integration timeout.
func (p *Pipeline) upload(ctx context.Context, rec model.Record) (model.Record, error) {
	ctx = context.WithoutCancel(ctx)
	cfg := p.settings()
	items, err := p.builder.Build(ctx, rec, payload.Settings{
		UnitCode:         cfg.UnitCode,
		SignaturePrefix:  cfg.SignaturePrefix,
		DeviceNoOverride: cfg.DeviceNoOverride,
		Location:         p.location(),
	})
	if err != nil {
		metrics.Uploads.WithLabelValues(p.name, "invalid").Inc()
		return model.Record{}, err
	}

	if err := p.adapter.Upload(ctx, items); err != nil {
		metrics.Uploads.WithLabelValues(p.name, "rejected").Inc()
		return model.Record{}, err
	}

	rec, err = p.ledger.MarkUploaded(ctx, rec.ID)
	if err != nil {
		metrics.Uploads.WithLabelValues(p.name, "error").Inc()
		return model.Record{}, err
	}
	metrics.Uploads.WithLabelValues(p.name, "uploaded").Inc()
	p.sink.Log(events.LevelInfo, fmt.Sprintf("record #%d (%s) uploaded with %d item(s)", rec.ID, rec.BarCode, len(items)))
	return rec, nil
}

// RunPass uploads today's pending records one after another. A failing
// record is logged and skipped; RunPass itself never fails.
// Cancelling ctx stops the pass before the next record, never during one.
func (p *Pipeline) RunPass(ctx context.Context) PassResult {
	res := PassResult{ID: uuid.NewString(), StartedAt: p.now()}
	logger := p.logger.With("pass_id", res.ID)
	defer func() {
		res.FinishedAt = p.now()
		metrics.PassDuration.WithLabelValues(p.name).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	}()

	start, end := parse.DayBounds(res.StartedAt, p.location())
	pending, err := p.ledger.ListPending(ctx, start, end)
	if err != nil {
		logger.Error("Failed to list pending records", "error", err)
		p.sink.Log(events.LevelError, fmt.Sprintf("pass aborted: %v", err))
		return res
	}
	res.Pending = len(pending)
	metrics.PendingRecords.WithLabelValues(p.name).Set(float64(len(pending)))
	if len(pending) == 0 {
		logger.Debug("Nothing to upload")
		return res
	}
	logger.Info("Upload pass started", "pending", len(pending))

	for _, rec := range pending {
		if ctx.Err() != nil {
			logger.Info("Upload pass interrupted", "remaining", len(pending)-res.Uploaded-res.Failed)
			break
		}
		if err := p.attempt(ctx, rec); err != nil {
			res.Failed++
			logger.Warn("Record upload failed", "record_id", rec.ID, "error", err)
			p.sink.Log(events.LevelError, fmt.Sprintf("record #%d: %v", rec.ID, err))
			continue
		}
		res.Uploaded++
	}

	logger.Info("Upload pass finished", "uploaded", res.Uploaded, "failed", res.Failed)
	return res
}

func (p *Pipeline) attempt(ctx context.Context, rec model.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.Uploads.WithLabelValues(p.name, "panic").Inc()
			err = fmt.Errorf("panic during upload: %v", r)
		}
	}()
	_, err = p.upload(ctx, rec)
	return err
}
