package server

import (
	"net/http"

	"github.com/OFFIS-RIT/medgraph/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/medgraph/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		conn := c.(*middleware.AppContext).App.DBConn
		if conn != nil {
			if err := conn.Ping(c.Request().Context()); err != nil {
				return c.String(http.StatusServiceUnavailable, "database unavailable")
			}
		}
		return c.String(http.StatusOK, "OK")
	})

	apiRoutes := e.Group("/api")

	// Retrieval routes
	apiRoutes.POST("/query", routes.QueryHandler)

	// Entity routes
	apiRoutes.GET("/entities/:id", routes.GetEntityHandler)
	apiRoutes.GET("/entities/:id/neighbors", routes.GetEntityNeighborsHandler)
}
