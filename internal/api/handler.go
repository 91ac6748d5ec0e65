package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"axle-sync-backend/config"
	"axle-sync-backend/internal/events"
	"axle-sync-backend/internal/legacy"
	"axle-sync-backend/internal/model"
	"axle-sync-backend/internal/parse"
	"axle-sync-backend/internal/payload"
	"axle-sync-backend/internal/pipeline"
	"axle-sync-backend/internal/query"
	"axle-sync-backend/internal/store"
	"axle-sync-backend/internal/vendor"
)

// LegacyQuerier is satisfied by *query.Facade.
type LegacyQuerier interface {
	Query(ctx context.Context, root query.Root, p query.Params) (legacy.Result, error)
}

// Integration is the manual surface of one pipeline.
type Integration interface {
	Scan(ctx context.Context, raw string) (model.Record, error)
	Upload(ctx context.Context, id int64) (model.Record, error)
	List(ctx context.Context, page store.Page) ([]model.Record, int64, error)
	Delete(ctx context.Context, id int64) (model.Record, error)
}

// StatusReporter is satisfied by *pipeline.Scheduler.
type StatusReporter interface {
	Status() pipeline.Status
}

// Options holds the dependencies of the API handlers.
type Options struct {
	DB           *gorm.DB
	Config       *config.Store
	Legacy       LegacyQuerier
	Integrations map[string]Integration
	Schedulers   map[string]StatusReporter
	Events       *events.Bus
	WebPush      *webpush.Options
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	db           *gorm.DB
	config       *config.Store
	legacy       LegacyQuerier
	integrations map[string]Integration
	schedulers   map[string]StatusReporter
	events       *events.Bus
	webpush      *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(opts Options) *Handler {
	return &Handler{
		db:           opts.DB,
		config:       opts.Config,
		legacy:       opts.Legacy,
		integrations: opts.Integrations,
		schedulers:   opts.Schedulers,
		events:       opts.Events,
		webpush:      opts.WebPush,
	}
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// errorStatus picks the HTTP status of a failed action. The body always
// carries the error text unchanged.
func errorStatus(err error) int {
	var remote *vendor.RemoteError
	switch {
	case errors.Is(err, parse.ErrInvalidBarcode), errors.Is(err, payload.ErrInvalidRecord):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound), errors.Is(err, query.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &remote), errors.Is(err, legacy.ErrWorker):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errorStatus(err), gin.H{"error": err.Error()})
}
