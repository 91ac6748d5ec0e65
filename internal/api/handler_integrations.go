package api

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"axle-sync-backend/internal/parse"
	"axle-sync-backend/internal/pipeline"
	"axle-sync-backend/internal/store"
)

// integration resolves the :name parameter or answers 404.
func (h *Handler) integration(c *gin.Context) (string, Integration, bool) {
	name := c.Param("name")
	in, ok := h.integrations[name]
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown integration " + name})
		return "", nil, false
	}
	return name, in, true
}

func recordID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid record ID"})
		return 0, false
	}
	return id, true
}

// ListIntegrations handles GET /api/integrations.
func (h *Handler) ListIntegrations(c *gin.Context) {
	names := make([]string, 0, len(h.integrations))
	for name := range h.integrations {
		names = append(names, name)
	}
	sort.Strings(names)

	statuses := make([]pipeline.Status, 0, len(names))
	for _, name := range names {
		if s, ok := h.schedulers[name]; ok {
			statuses = append(statuses, s.Status())
		} else {
			statuses = append(statuses, pipeline.Status{Integration: name, State: pipeline.StateIdle})
		}
	}
	c.JSON(http.StatusOK, statuses)
}

// GetStatus handles GET /api/integrations/:name/status.
func (h *Handler) GetStatus(c *gin.Context) {
	name, _, ok := h.integration(c)
	if !ok {
		return
	}
	s, ok := h.schedulers[name]
	if !ok {
		c.JSON(http.StatusOK, pipeline.Status{Integration: name, State: pipeline.StateIdle})
		return
	}
	c.JSON(http.StatusOK, s.Status())
}

// GetSettings handles GET /api/integrations/:name/settings.
func (h *Handler) GetSettings(c *gin.Context) {
	name, _, ok := h.integration(c)
	if !ok {
		return
	}
	ic, _ := h.config.Integration(name)
	c.JSON(http.StatusOK, ic)
}

// PutSettings handles PUT /api/integrations/:name/settings. Fields missing
// from the body keep their current value. The reply is the whole
// configuration after the write.
func (h *Handler) PutSettings(c *gin.Context) {
	name, _, ok := h.integration(c)
	if !ok {
		return
	}
	ic, _ := h.config.Integration(name)
	if err := c.ShouldBindJSON(&ic); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.config.UpdateIntegration(name, ic); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.config.Get())
}

// ListRecords handles GET /api/integrations/:name/records.
//
// startDate and endDate are calendar days (YYYY-MM-DD) in the station's
// timezone; both ends are inclusive.
func (h *Handler) ListRecords(c *gin.Context) {
	_, in, ok := h.integration(c)
	if !ok {
		return
	}

	pageIndex, err := intQuery(c, "pageIndex", 0)
	if err != nil || pageIndex < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pageIndex"})
		return
	}
	pageSize, err := intQuery(c, "pageSize", 20)
	if err != nil || pageSize < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pageSize"})
		return
	}
	page := store.Page{Index: pageIndex, Size: pageSize}

	loc := h.config.Get().Location()
	if raw := c.Query("startDate"); raw != "" {
		t, err := time.ParseInLocation("2006-01-02", raw, loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid startDate. Use YYYY-MM-DD."})
			return
		}
		page.Start = &t
	}
	if raw := c.Query("endDate"); raw != "" {
		t, err := time.ParseInLocation("2006-01-02", raw, loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid endDate. Use YYYY-MM-DD."})
			return
		}
		_, end := parse.DayBounds(t, loc)
		page.End = &end
	}
	if raw := c.Query("uploaded"); raw != "" {
		uploaded, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid uploaded flag"})
			return
		}
		page.Uploaded = &uploaded
	}

	rows, count, err := in.List(c.Request.Context(), page)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows, "count": count})
}

type scanRequest struct {
	BarCode string `json:"barCode" binding:"required"`
}

// Scan handles POST /api/integrations/:name/scan.
func (h *Handler) Scan(c *gin.Context) {
	_, in, ok := h.integration(c)
	if !ok {
		return
	}
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := in.Scan(c.Request.Context(), req.BarCode)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// UploadRecord handles POST /api/integrations/:name/records/:id/upload.
func (h *Handler) UploadRecord(c *gin.Context) {
	_, in, ok := h.integration(c)
	if !ok {
		return
	}
	id, ok := recordID(c)
	if !ok {
		return
	}

	rec, err := in.Upload(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// DeleteRecord handles DELETE /api/integrations/:name/records/:id.
func (h *Handler) DeleteRecord(c *gin.Context) {
	_, in, ok := h.integration(c)
	if !ok {
		return
	}
	id, ok := recordID(c)
	if !ok {
		return
	}

	rec, err := in.Delete(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
