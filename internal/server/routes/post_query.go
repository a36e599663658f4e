package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/medgraph/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/query"

	"github.com/labstack/echo/v4"
)

type queryErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// QueryHandler runs a multi-modal retrieval query. Degraded modalities are
// reported in the response body; only a query no modality could answer
// fails with 503.
func QueryHandler(c echo.Context) error {
	req := new(query.Request)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, queryErrorResponse{Error: "Invalid request body"})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	res, err := app.Query.Query(ctx, *req)
	if err != nil {
		var invalid *common.InvalidQueryError
		switch {
		case errors.As(err, &invalid):
			return c.JSON(http.StatusBadRequest, queryErrorResponse{Error: invalid.Reason, Field: invalid.Field})
		case errors.Is(err, common.ErrAllModalitiesUnavailable):
			logger.Warn("[Routes][Query] No modality available", "err", err)
			return c.JSON(http.StatusServiceUnavailable, queryErrorResponse{Error: "Retrieval is currently unavailable"})
		case errors.Is(err, ctx.Err()) && ctx.Err() != nil:
			return c.JSON(http.StatusRequestTimeout, queryErrorResponse{Error: "Request cancelled"})
		}
		logger.Error("[Routes][Query] Query failed", "err", err)
		return c.JSON(http.StatusInternalServerError, queryErrorResponse{Error: "Internal server error"})
	}

	logger.Debug("[Routes][Query] Query done",
		"results", len(res.Results),
		"relationships", len(res.Relationships),
		"modalities", res.ModalitiesUsed,
		"degraded", res.DegradedModalities,
		"considered", res.Trace.ConsideredEntityIDs,
		"duration_ms", res.ExecutionTimeMs,
	)

	return c.JSON(http.StatusOK, res)
}
