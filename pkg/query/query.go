package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/embed"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/retrieval"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/store"

	"github.com/go-playground/validator"
	"golang.org/x/sync/errgroup"
)

const DefaultScorerTimeout = 2 * time.Second

// Result is one entity of a query response.
type Result struct {
	EntityID           string                         `json:"entity_id"`
	Text               string                         `json:"text"`
	Type               common.EntityType              `json:"type"`
	CanonicalConceptID string                         `json:"canonical_concept_id,omitempty"`
	PatientID          string                         `json:"patient_id"`
	SourceRecordID     string                         `json:"source_record_id"`
	FusedScore         float64                        `json:"fused_score"`
	Modalities         []retrieval.Modality           `json:"contributing_modalities"`
	Scores             map[retrieval.Modality]float64 `json:"per_modality_score"`
	Ranks              map[retrieval.Modality]int     `json:"per_modality_rank"`
}

// Response is the answer to a Request.
type Response struct {
	Results            []Result                      `json:"results"`
	Relationships      []common.Relationship         `json:"relationships_discovered"`
	ExecutionTimeMs    int64                         `json:"execution_time_ms"`
	ModalitiesUsed     []retrieval.Modality          `json:"modalities_used"`
	DegradedModalities []retrieval.Modality          `json:"degraded_modalities"`
	DegradedReasons    map[retrieval.Modality]string `json:"degraded_reasons,omitempty"`
	GraphTruncated     bool                          `json:"graph_truncated"`

	Trace QueryTraceSnapshot `json:"-"`
}

// Orchestrator runs the enabled scorers for a query, fuses their rankings
// and collects the relationships among the fused results.
type Orchestrator struct {
	engine   *retrieval.Engine
	store    store.GraphStorage
	validate *validator.Validate
	tracer   Tracer

	scorerTimeout  time.Duration
	ppr            retrieval.PPRParams
	maxQueryLength int
}

type OrchestratorOption func(*Orchestrator)

// WithScorerTimeout bounds each scorer individually. A scorer that runs over
// is reported as degraded.
func WithScorerTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.scorerTimeout = d
		}
	}
}

// WithPPRParams sets the base traversal parameters. Damping and TopK are
// taken from each request.
func WithPPRParams(p retrieval.PPRParams) OrchestratorOption {
	return func(o *Orchestrator) {
		o.ppr = p
	}
}

func WithTracer(t Tracer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

func WithMaxQueryLength(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxQueryLength = n
		}
	}
}

func NewOrchestrator(s store.GraphStorage, e embed.Embedder, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		engine:         retrieval.NewEngine(s, e),
		store:          s,
		validate:       newValidator(),
		scorerTimeout:  DefaultScorerTimeout,
		ppr:            retrieval.DefaultPPRParams(),
		maxQueryLength: DefaultMaxQueryLength,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Resolve validates req and returns it with defaults applied.
func (o *Orchestrator) Resolve(req Request) (Params, error) {
	return resolve(o.validate, req, o.maxQueryLength)
}

type scorerOutcome struct {
	hits []retrieval.Hit
	err  error
}

// Query answers req. Invalid requests fail with *common.InvalidQueryError.
// Scorers that fail or time out are listed as degraded; the query only
// fails with common.ErrAllModalitiesUnavailable when none of the enabled
// scorers produced a list.
func (o *Orchestrator) Query(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	p, err := o.Resolve(req)
	if err != nil {
		return nil, err
	}

	trace := NewQueryTrace()
	tracer := MultiTracer{trace, o.tracer}

	var (
		mu       sync.Mutex
		outcomes = make(map[retrieval.Modality]scorerOutcome, 3)
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range []retrieval.Modality{retrieval.ModalityVector, retrieval.ModalityText} {
		if !p.Enabled(m) {
			continue
		}
		g.Go(func() error {
			hits, err := o.runScorer(gctx, m, p, tracer)
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			mu.Lock()
			outcomes[m] = scorerOutcome{hits: hits, err: err}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if p.Enabled(retrieval.ModalityGraph) {
		res, err := o.runGraph(ctx, p, outcomes, tracer)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		outcomes[retrieval.ModalityGraph] = scorerOutcome{hits: res.Hits, err: err}
		if res.Truncated {
			RecordGraphTruncated(tracer, res.Reason)
		}
	}

	resp := &Response{
		Results:            []Result{},
		Relationships:      []common.Relationship{},
		ModalitiesUsed:     []retrieval.Modality{},
		DegradedModalities: []retrieval.Modality{},
	}
	var lists []retrieval.RankedList
	for _, m := range []retrieval.Modality{retrieval.ModalityVector, retrieval.ModalityText, retrieval.ModalityGraph} {
		out, ok := outcomes[m]
		if !ok {
			continue
		}
		if out.err != nil {
			if resp.DegradedReasons == nil {
				resp.DegradedReasons = make(map[retrieval.Modality]string)
			}
			resp.DegradedModalities = append(resp.DegradedModalities, m)
			resp.DegradedReasons[m] = out.err.Error()
			RecordModalityDegraded(tracer, m, out.err)
			continue
		}
		resp.ModalitiesUsed = append(resp.ModalitiesUsed, m)
		lists = append(lists, retrieval.RankedList{Modality: m, Weight: p.Weights[m], Hits: out.hits})
	}
	if len(resp.ModalitiesUsed) == 0 {
		logger.Error("[Query][Query] No modality available", "degraded", resp.DegradedReasons)
		return nil, fmt.Errorf("%w: %s", common.ErrAllModalitiesUnavailable, degradedSummary(resp.DegradedReasons))
	}

	fused := retrieval.Fuse(lists, p.RRFConstant, p.TopK)
	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.Entity.ID
		resp.Results = append(resp.Results, Result{
			EntityID:           f.Entity.ID,
			Text:               f.Entity.Text,
			Type:               f.Entity.Type,
			CanonicalConceptID: f.Entity.CanonicalConceptID,
			PatientID:          f.Entity.PatientID,
			SourceRecordID:     f.Entity.SourceRecordID,
			FusedScore:         f.Score,
			Modalities:         f.Modalities,
			Scores:             f.Scores,
			Ranks:              f.Ranks,
		})
	}
	RecordReturnedEntityIDs(tracer, ids...)

	if len(ids) > 1 {
		rels, err := o.store.RelationshipsAmong(ctx, ids, p.Scope)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("[Query][Query] Failed to load relationships among results", "err", err)
		} else if rels != nil {
			resp.Relationships = rels
			relIDs := make([]string, len(rels))
			for i, r := range rels {
				relIDs[i] = r.ID
			}
			RecordQueriedRelationshipIDs(tracer, relIDs...)
		}
	}

	resp.Trace = trace.Snapshot()
	resp.GraphTruncated = resp.Trace.GraphTruncated
	resp.ExecutionTimeMs = time.Since(start).Milliseconds()
	logger.Debug("[Query][Query] Done", "results", len(resp.Results), "used", resp.ModalitiesUsed, "degraded", resp.DegradedModalities, "ms", resp.ExecutionTimeMs)
	return resp, nil
}

func (o *Orchestrator) runScorer(ctx context.Context, m retrieval.Modality, p Params, tracer Tracer) ([]retrieval.Hit, error) {
	ctx, cancel := context.WithTimeout(ctx, o.scorerTimeout)
	defer cancel()

	start := time.Now()
	var (
		hits []retrieval.Hit
		err  error
	)
	switch m {
	case retrieval.ModalityVector:
		hits, err = o.engine.VectorSearch(ctx, p.QueryText, p.VectorK, p.Scope)
	case retrieval.ModalityText:
		hits, err = o.engine.TextSearch(ctx, p.QueryText, p.TextK, p.Scope, p.IncludeRecordText)
	default:
		return nil, fmt.Errorf("unknown modality %q", m)
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s: timed out after %s", common.ErrModalityUnavailable, m, o.scorerTimeout)
		}
		logger.Warn("[Query][Scorer] Modality degraded", "modality", m, "err", err)
		return nil, err
	}
	RecordConsideredEntityIDs(tracer, m, time.Since(start).Milliseconds(), hitIDs(hits)...)
	return hits, nil
}

// runGraph seeds the walk with every vector and text hit. A seed's weight is
// the reciprocal-rank mass it gathered across the seeding lists, so entities
// found by both scorers or ranked high restart more often.
func (o *Orchestrator) runGraph(ctx context.Context, p Params, outcomes map[retrieval.Modality]scorerOutcome, tracer Tracer) (retrieval.GraphResult, error) {
	var (
		seeds  []retrieval.Seed
		seeded bool
	)
	for _, m := range []retrieval.Modality{retrieval.ModalityVector, retrieval.ModalityText} {
		out, ok := outcomes[m]
		if !ok || out.err != nil {
			continue
		}
		seeded = true
		for _, h := range out.hits {
			seeds = append(seeds, retrieval.Seed{EntityID: h.Entity.ID, Weight: 1 / (p.RRFConstant + float64(h.Rank))})
		}
	}
	if !seeded {
		return retrieval.GraphResult{}, fmt.Errorf("%w: graph: no seeding modality available", common.ErrModalityUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, o.scorerTimeout)
	defer cancel()

	params := o.ppr
	params.Damping = p.Damping
	params.TopK = p.GraphK

	start := time.Now()
	res, err := o.engine.GraphSearch(ctx, seeds, params, p.Scope)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: graph: timed out after %s", common.ErrModalityUnavailable, o.scorerTimeout)
		} else if !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%w: graph: %w", common.ErrModalityUnavailable, err)
		}
		logger.Warn("[Query][Scorer] Modality degraded", "modality", retrieval.ModalityGraph, "err", err)
		return retrieval.GraphResult{}, err
	}
	RecordConsideredEntityIDs(tracer, retrieval.ModalityGraph, time.Since(start).Milliseconds(), hitIDs(res.Hits)...)
	return res, nil
}

func hitIDs(hits []retrieval.Hit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.Entity.ID
	}
	return ids
}

func degradedSummary(reasons map[retrieval.Modality]string) string {
	parts := make([]string, 0, len(reasons))
	for m, r := range reasons {
		parts = append(parts, fmt.Sprintf("%s (%s)", m, r))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}
