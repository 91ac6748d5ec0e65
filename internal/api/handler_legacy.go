package api

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"axle-sync-backend/internal/filter"
	"axle-sync-backend/internal/legacy"
	"axle-sync-backend/internal/query"
)

// QueryLegacy handles GET /api/legacy/:root/:table.
//
// Query parameters: pageIndex, pageSize (0 returns every match), with, and
// filters, a JSON array of filter objects.
func (h *Handler) QueryLegacy(c *gin.Context) {
	root := query.Root(c.Param("root"))
	if root != query.RootDB && root != query.AppDB {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown legacy database"})
		return
	}

	pageIndex, err := intQuery(c, "pageIndex", 0)
	if err != nil || pageIndex < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pageIndex"})
		return
	}
	pageSize, err := intQuery(c, "pageSize", 0)
	if err != nil || pageSize < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pageSize"})
		return
	}

	var filters []filter.Filter
	if raw := c.Query("filters"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &filters); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filters: " + err.Error()})
			return
		}
	}

	with, _ := strconv.ParseBool(c.Query("with"))
	res, err := h.legacy.Query(c.Request.Context(), root, query.Params{
		Table:     c.Param("table"),
		Filters:   filters,
		PageIndex: pageIndex,
		PageSize:  pageSize,
		With:      with,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	res.Rows = jsonSafe(res.Rows)
	c.JSON(http.StatusOK, res)
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// jsonSafe replaces values encoding/json refuses (NaN and infinities) with
// null, in parents and attached rows alike.
func jsonSafe(rows []legacy.Row) []legacy.Row {
	out := make([]legacy.Row, len(rows))
	for i, row := range rows {
		clean := make(legacy.Row, len(row))
		for k, v := range row {
			switch val := v.(type) {
			case float64:
				if math.IsNaN(val) || math.IsInf(val, 0) {
					clean[k] = nil
					continue
				}
			case []legacy.Row:
				clean[k] = jsonSafe(val)
				continue
			}
			clean[k] = v
		}
		out[i] = clean
	}
	return out
}
