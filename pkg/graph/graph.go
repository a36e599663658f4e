package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/store"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/terminology"
)

const DefaultReconcileLimit = 500

// ReconcileResult describes one reconciliation pass.
type ReconcileResult struct {
	Checked    int
	Resolved   int
	Unresolved int
}

// RetractRecord removes everything extracted from a source record.
func (g *GraphClient) RetractRecord(ctx context.Context, recordID string) (store.Counts, error) {
	logger.Info("[Graph][RetractRecord] Retracting", "record", recordID)

	counts, err := g.store.RetractRecord(ctx, recordID)
	if err != nil {
		return store.Counts{}, fmt.Errorf("failed to retract record %s: %w", recordID, err)
	}

	logger.Info("[Graph][RetractRecord] Retracted", "record", recordID, "entities", counts.Entities, "relationships", counts.Relationships)
	return counts, nil
}

// Reconcile retries normalization for up to limit entities that were
// persisted while the terminology service was unavailable. A lookup miss
// clears the flag without a concept. The pass stops at the first service
// failure and returns it wrapped in common.ErrNormalizationUnavailable
// together with the progress made so far.
func (g *GraphClient) Reconcile(ctx context.Context, limit int) (ReconcileResult, error) {
	if limit <= 0 {
		limit = DefaultReconcileLimit
	}

	pending, err := g.store.ListUnnormalized(ctx, limit)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("failed to list unnormalized entities: %w", err)
	}
	if len(pending) == 0 {
		return ReconcileResult{}, nil
	}

	logger.Info("[Graph][Reconcile] Starting", "pending", len(pending))

	var res ReconcileResult
	for _, e := range pending {
		res.Checked++
		concept, ok, err := g.normalizer.Normalize(ctx, terminology.Mention{
			System:  e.CodedSystem,
			Code:    e.CodedCode,
			Text:    e.Text,
			Type:    e.Type,
			Context: []common.EntityType{e.Type},
		})
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if !errors.Is(err, common.ErrNormalizationUnavailable) {
				err = fmt.Errorf("%w: %w", common.ErrNormalizationUnavailable, err)
			}
			logger.Warn("[Graph][Reconcile] Terminology still unavailable", "checked", res.Checked, "err", err)
			return res, err
		}
		if !ok {
			concept = common.Concept{}
			res.Unresolved++
		} else {
			res.Resolved++
		}

		if err := g.store.SetCanonical(ctx, e.ID, concept); err != nil {
			if errors.Is(err, common.ErrNotFound) {
				logger.Debug("[Graph][Reconcile] Entity retracted meanwhile", "entity", e.ID)
				continue
			}
			return res, fmt.Errorf("failed to set canonical concept for %s: %w", e.ID, err)
		}
	}

	logger.Info("[Graph][Reconcile] Done", "checked", res.Checked, "resolved", res.Resolved, "unresolved", res.Unresolved)
	return res, nil
}
