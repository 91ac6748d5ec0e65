package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"axle-sync-backend/config"
	"axle-sync-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(mw.NewIPRateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst))

	// Legacy reads are cached briefly; every miss costs a worker process.
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	caching := mw.Cache(cache.New(ttl, 2*ttl), ttl)

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/legacy/:root/:table", caching, h.QueryLegacy)

		api.GET("/integrations", h.ListIntegrations)
		api.GET("/integrations/:name/status", h.GetStatus)
		api.GET("/integrations/:name/settings", h.GetSettings)
		api.PUT("/integrations/:name/settings", h.PutSettings)
		api.GET("/integrations/:name/records", h.ListRecords)
		api.POST("/integrations/:name/scan", h.Scan)
		api.POST("/integrations/:name/records/:id/upload", h.UploadRecord)
		api.DELETE("/integrations/:name/records/:id", h.DeleteRecord)

		api.GET("/logs", h.GetLogs)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}
	// The stream is long lived and stays outside the rate limit.
	r.GET("/api/logs/stream", h.StreamLogs)

	return r
}
