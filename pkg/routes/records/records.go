// Package records serves read-only access to resolved events and companies.
package records

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories/company"
	"github.com/Ramsey-B/fern/internal/repositories/event"
	"github.com/Ramsey-B/fern/internal/repositories/outcome"
)

// Register registers record lookup routes
func Register(e *echo.Echo, events *event.Repository, companies *company.Repository, outcomes *outcome.Repository) {
	e.GET("/api/v1/events/:id", func(c echo.Context) error {
		evt, err := events.GetByID(c.Request().Context(), c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, evt)
	})

	e.GET("/api/v1/events", func(c echo.Context) error {
		count, err := events.Count(c.Request().Context())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]int{"count": count})
	})

	e.GET("/api/v1/companies/:id", func(c echo.Context) error {
		comp, err := companies.GetByID(c.Request().Context(), c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, comp)
	})

	e.GET("/api/v1/companies", func(c echo.Context) error {
		count, err := companies.Count(c.Request().Context())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]int{"count": count})
	})

	e.GET("/api/v1/records/:id/outcomes", func(c echo.Context) error {
		history, err := outcomes.ListByEntity(c.Request().Context(), c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, history)
	})
}
