// Package payload turns a ledger record into the inspection results sent to a
// remote service. Results are always re-read from the legacy database.
package payload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"axle-sync-backend/internal/model"
	"axle-sync-backend/internal/parse"
)

// ErrInvalidRecord marks a record that can never be uploaded as it is.
var ErrInvalidRecord = errors.New("invalid record")

// Method is the inspection technique.
type Method string

// Disposition is the follow-up required after an inspection.
type Disposition string

const (
	MethodUltrasonic Method = "ultrasonic"

	DispositionNone          Disposition = ""
	DispositionManualRecheck Disposition = "manual re-inspection"
)

func (m Method) Label() string {
	if m == MethodUltrasonic {
		return "超声波"
	}
	return ""
}

func (d Disposition) Label() string {
	if d == DispositionManualRecheck {
		return "人工复探"
	}
	return ""
}

// Source is the legacy data a build depends on.
type Source interface {
	Corporation(ctx context.Context) (model.Corporation, error)
	LatestDetection(ctx context.Context, axleID string, start, end time.Time) (model.Detection, error)
	Defects(ctx context.Context, detectionID string) ([]model.DetectionDefect, error)
}

// Settings are the per-integration static fields copied into every result.
type Settings struct {
	UnitCode         string
	SignaturePrefix  string
	DeviceNoOverride string
	Location         *time.Location
}

// Inspection is one upload item. A faulty inspection yields one item per
// defect channel.
type Inspection struct {
	RecordID     int64
	BarCode      string
	AxleID       string
	AssemblyDate string
	AssemblyUnit string
	UnitCode     string

	DeviceNo  string
	Factory   string
	FactoryNo string
	Unit      string

	DetectionID string
	Result      string
	Fault       bool
	Operator    string
	DetectedAt  time.Time
	WheelModel  string

	Method      Method
	Disposition Disposition
	Board       int
	Channel     int
	Direction   Direction
	Location    Location
}

// Builder assembles inspections from legacy data.
type Builder struct {
	source Source
}

func NewBuilder(source Source) *Builder {
	return &Builder{source: source}
}

// Build validates rec and returns the inspections to upload for it.
func (b *Builder) Build(ctx context.Context, rec model.Record, s Settings) ([]Inspection, error) {
	if strings.TrimSpace(rec.AxleID) == "" || strings.TrimSpace(rec.BarCode) == "" {
		return nil, fmt.Errorf("%w: record #%d needs both barcode and axle id", ErrInvalidRecord, rec.ID)
	}

	corp, err := b.source.Corporation(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device identity: %w", err)
	}

	start, end := parse.DayBounds(rec.ScannedAt, s.Location)
	det, err := b.source.LatestDetection(ctx, rec.AxleID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve detection of axle %s: %w", rec.AxleID, err)
	}

	base := Inspection{
		RecordID:     rec.ID,
		BarCode:      rec.BarCode,
		AxleID:       rec.AxleID,
		AssemblyDate: rec.AssemblyDate,
		AssemblyUnit: rec.AssemblyUnit,
		UnitCode:     s.UnitCode,
		DeviceNo:     corp.DeviceNo,
		Factory:      corp.Factory,
		FactoryNo:    corp.FactoryNo,
		Unit:         corp.Unit,
		DetectionID:  det.ID,
		Result:       det.Result,
		Fault:        det.IsFault(),
		Operator:     s.SignaturePrefix + det.Username,
		DetectedAt:   det.DetectedAt,
		WheelModel:   det.WheelModel,
		Method:       MethodUltrasonic,
	}
	if s.DeviceNoOverride != "" {
		base.DeviceNo = s.DeviceNoOverride
	}

	if !base.Fault {
		return []Inspection{base}, nil
	}

	defects, err := b.source.Defects(ctx, det.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load defects of detection %s: %w", det.ID, err)
	}
	if len(defects) == 0 {
		return []Inspection{base}, nil
	}

	out := make([]Inspection, 0, len(defects))
	for _, d := range defects {
		item := base
		item.Board = d.Board
		item.Channel = d.Channel
		item.Direction = ClassifyDirection(d.Board)
		item.Location = ClassifyLocation(d.Channel)
		item.Disposition = DispositionManualRecheck
		out = append(out, item)
	}
	return out, nil
}
