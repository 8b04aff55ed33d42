package stats

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/persist"
	"github.com/Ramsey-B/fern/pkg/resolver"
)

// Register registers the stats endpoint
func Register(e *echo.Echo, service *resolver.Service, batcher *persist.Batcher) {
	e.GET("/api/v1/stats", func(c echo.Context) error {
		snapshot := service.Stats().Snapshot()
		return c.JSON(http.StatusOK, map[string]any{
			"resolution":    snapshot,
			"pending_batch": batcher.Pending(),
		})
	})
}
