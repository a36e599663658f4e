package routes

import (
	"errors"
	"net/http"
	"strings"

	"github.com/OFFIS-RIT/medgraph/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

func GetEntityHandler(c echo.Context) error {
	type getEntityParams struct {
		ID          string `param:"id" validate:"required,max=64"`
		PatientID   string `query:"patient_id" validate:"max=256"`
		EncounterID string `query:"encounter_id" validate:"max=256"`
	}

	params := new(getEntityParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if params.EncounterID != "" && params.PatientID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "encounter_id requires patient_id"})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	entity, err := app.Store.GetEntity(ctx, params.ID, common.Scope{
		PatientID:   params.PatientID,
		EncounterID: params.EncounterID,
	})
	if errors.Is(err, common.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Entity not found"})
	}
	if err != nil {
		logger.Error("[Routes][GetEntity] Failed to load entity", "id", params.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, entity)
}

// GetEntityNeighborsHandler lists the relationships of an entity together
// with the entities on their other end.
func GetEntityNeighborsHandler(c echo.Context) error {
	type getNeighborsParams struct {
		ID          string `param:"id" validate:"required,max=64"`
		PatientID   string `query:"patient_id" validate:"max=256"`
		EncounterID string `query:"encounter_id" validate:"max=256"`
		Types       string `query:"types" validate:"max=1024"`
		Direction   string `query:"direction" validate:"omitempty,oneof=in out both"`
	}

	type getNeighborsResponse struct {
		Entity        common.Entity         `json:"entity"`
		Relationships []common.Relationship `json:"relationships"`
		Neighbors     []common.Entity       `json:"neighbors"`
	}

	params := new(getNeighborsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if params.EncounterID != "" && params.PatientID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "encounter_id requires patient_id"})
	}

	filter := store.NeighborFilter{
		Scope: common.Scope{PatientID: params.PatientID, EncounterID: params.EncounterID},
	}
	switch params.Direction {
	case "in":
		filter.Direction = store.DirectionIncoming
	case "out":
		filter.Direction = store.DirectionOutgoing
	default:
		filter.Direction = store.DirectionBoth
	}
	for _, raw := range strings.Split(params.Types, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		t, ok := common.ParseRelationshipType(raw)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Unknown relationship type " + raw})
		}
		filter.Types = append(filter.Types, t)
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	entity, err := app.Store.GetEntity(ctx, params.ID, filter.Scope)
	if errors.Is(err, common.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Entity not found"})
	}
	if err != nil {
		logger.Error("[Routes][GetNeighbors] Failed to load entity", "id", params.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	rels, err := app.Store.Neighbors(ctx, []string{entity.ID}, filter)
	if err != nil {
		logger.Error("[Routes][GetNeighbors] Failed to load relationships", "id", entity.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	ids := make([]string, 0, len(rels))
	for _, r := range rels {
		if r.SourceEntityID != entity.ID {
			ids = append(ids, r.SourceEntityID)
		}
		if r.TargetEntityID != entity.ID {
			ids = append(ids, r.TargetEntityID)
		}
	}
	neighbors, err := app.Store.GetEntities(ctx, store.DedupeStrings(ids), filter.Scope)
	if err != nil {
		logger.Error("[Routes][GetNeighbors] Failed to load neighbors", "id", entity.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	res := getNeighborsResponse{
		Entity:        entity,
		Relationships: make([]common.Relationship, 0, len(rels)),
		Neighbors:     make([]common.Entity, 0, len(neighbors)),
	}
	res.Relationships = append(res.Relationships, rels...)
	res.Neighbors = append(res.Neighbors, neighbors...)

	return c.JSON(http.StatusOK, res)
}
