package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"axle-sync-backend/internal/model"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("record not found")

// TableName is the ledger table of one integration.
func TableName(integration string) string {
	return integration + "_barcodes"
}

// Migrate creates or updates the ledger table of one integration.
func Migrate(db *gorm.DB, integration string) error {
	table := TableName(integration)
	if err := db.Table(table).AutoMigrate(&model.Record{}); err != nil {
		return fmt.Errorf("automigrate %s failed: %w", table, err)
	}
	ddls := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_scanned_at ON %s (scanned_at)", table, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_uploaded ON %s (uploaded)", table, table),
	}
	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}

// Page selects a slice of the ledger, newest first.
type Page struct {
	Index    int
	Size     int
	Start    *time.Time
	End      *time.Time
	Uploaded *bool
}

// Ledger is the local record of scanned barcodes of one integration.
type Ledger interface {
	Insert(ctx context.Context, rec model.Record) (model.Record, error)
	Get(ctx context.Context, id int64) (model.Record, error)
	ListPending(ctx context.Context, start, end time.Time) ([]model.Record, error)
	ListPage(ctx context.Context, page Page) ([]model.Record, int64, error)
	MarkUploaded(ctx context.Context, id int64) (model.Record, error)
	Delete(ctx context.Context, id int64) (model.Record, error)
}

// gormLedger implements the Ledger interface using GORM.
type gormLedger struct {
	db    *gorm.DB
	table string
}

// NewGormLedger creates a ledger over the table of the given integration.
func NewGormLedger(db *gorm.DB, integration string) Ledger {
	return &gormLedger{db: db, table: TableName(integration)}
}

// Insert stores a new record. It always starts as not uploaded.
func (s *gormLedger) Insert(ctx context.Context, rec model.Record) (model.Record, error) {
	rec.ID = 0
	rec.Uploaded = false
	if rec.ScannedAt.IsZero() {
		rec.ScannedAt = time.Now()
	}
	// Timestamps are stored in UTC so range queries compare consistently.
	rec.ScannedAt = rec.ScannedAt.UTC()

	if err := s.db.WithContext(ctx).Table(s.table).Create(&rec).Error; err != nil {
		return model.Record{}, fmt.Errorf("failed to insert record for barcode %s: %w", rec.BarCode, err)
	}
	return rec, nil
}

func (s *gormLedger) Get(ctx context.Context, id int64) (model.Record, error) {
	return s.first(s.db.WithContext(ctx), id)
}

func (s *gormLedger) first(tx *gorm.DB, id int64) (model.Record, error) {
	var rec model.Record
	err := tx.Table(s.table).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Record{}, fmt.Errorf("%s #%d: %w", s.table, id, ErrNotFound)
	}
	if err != nil {
		return model.Record{}, fmt.Errorf("failed to load %s #%d: %w", s.table, id, err)
	}
	return rec, nil
}

// ListPending returns the records scanned in [start, end] that are not yet
// uploaded, oldest first.
func (s *gormLedger) ListPending(ctx context.Context, start, end time.Time) ([]model.Record, error) {
	var recs []model.Record
	err := s.db.WithContext(ctx).Table(s.table).
		Where("uploaded = ? AND scanned_at BETWEEN ? AND ?", false, start.UTC(), end.UTC()).
		Order("id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending records of %s: %w", s.table, err)
	}
	return recs, nil
}

// ListPage returns one page of records and the total number matching.
func (s *gormLedger) ListPage(ctx context.Context, page Page) ([]model.Record, int64, error) {
	q := s.db.WithContext(ctx).Table(s.table)
	if page.Start != nil {
		q = q.Where("scanned_at >= ?", page.Start.UTC())
	}
	if page.End != nil {
		q = q.Where("scanned_at <= ?", page.End.UTC())
	}
	if page.Uploaded != nil {
		q = q.Where("uploaded = ?", *page.Uploaded)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count records of %s: %w", s.table, err)
	}

	q = q.Order("scanned_at DESC").Order("id DESC")
	if page.Size > 0 {
		q = q.Offset(page.Index * page.Size).Limit(page.Size)
	}
	recs := []model.Record{}
	if err := q.Find(&recs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list records of %s: %w", s.table, err)
	}
	return recs, total, nil
}

// MarkUploaded flags a record as uploaded. Marking an uploaded record again
// is a no-op.
func (s *gormLedger) MarkUploaded(ctx context.Context, id int64) (model.Record, error) {
	var rec model.Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rec, err = s.first(tx, id)
		if err != nil {
			return err
		}
		if rec.Uploaded {
			return nil
		}
		if err := tx.Table(s.table).Where("id = ? AND uploaded = ?", id, false).Update("uploaded", true).Error; err != nil {
			return fmt.Errorf("failed to mark %s #%d uploaded: %w", s.table, id, err)
		}
		rec.Uploaded = true
		return nil
	})
	if err != nil {
		return model.Record{}, err
	}
	return rec, nil
}

// Delete removes a record for good and returns what was removed.
func (s *gormLedger) Delete(ctx context.Context, id int64) (model.Record, error) {
	var rec model.Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rec, err = s.first(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Table(s.table).Where("id = ?", id).Delete(&model.Record{}).Error; err != nil {
			return fmt.Errorf("failed to delete %s #%d: %w", s.table, id, err)
		}
		return nil
	})
	if err != nil {
		return model.Record{}, err
	}
	return rec, nil
}
