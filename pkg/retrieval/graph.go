package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/store"
)

const (
	DefaultDamping       = 0.5
	DefaultMaxIterations = 20
	DefaultTolerance     = 1e-6
	DefaultGraphTopK     = 50
	DefaultTimeBudget    = 500 * time.Millisecond
	DefaultMaxNodes      = 10000

	// Mass below this is dropped instead of being propagated further.
	pruneEpsilon = 1e-12
)

// PPRParams configures a Personalized PageRank run.
type PPRParams struct {
	Damping       float64
	MaxIterations int
	Tolerance     float64
	TopK          int

	// ForwardOnly follows relationships from source to target only. By
	// default relationships are also walked backwards.
	ForwardOnly bool
	// ReverseWeight scales the weight of a non-symmetric relationship when
	// it is walked backwards. Symmetric types are stored in both directions
	// and are never reversed.
	ReverseWeight float64
	Types         []common.RelationshipType

	TimeBudget time.Duration
	MaxNodes   int
}

// DefaultPPRParams returns the default traversal parameters.
func DefaultPPRParams() PPRParams {
	return PPRParams{
		Damping:       DefaultDamping,
		MaxIterations: DefaultMaxIterations,
		Tolerance:     DefaultTolerance,
		TopK:          DefaultGraphTopK,
		ReverseWeight: 1,
		TimeBudget:    DefaultTimeBudget,
		MaxNodes:      DefaultMaxNodes,
	}
}

func (p PPRParams) withDefaults() PPRParams {
	d := DefaultPPRParams()
	if p.Damping <= 0 || p.Damping >= 1 {
		p.Damping = d.Damping
	}
	if p.MaxIterations <= 0 {
		p.MaxIterations = d.MaxIterations
	}
	if p.Tolerance <= 0 {
		p.Tolerance = d.Tolerance
	}
	if p.TopK <= 0 {
		p.TopK = d.TopK
	}
	if p.ReverseWeight <= 0 {
		p.ReverseWeight = d.ReverseWeight
	}
	if p.TimeBudget <= 0 {
		p.TimeBudget = d.TimeBudget
	}
	if p.MaxNodes <= 0 {
		p.MaxNodes = d.MaxNodes
	}
	return p
}

// Seed is a restart node of the walk with its initial weight.
type Seed struct {
	EntityID string
	Weight   float64
}

// GraphResult is the outcome of GraphSearch. When Truncated is set the hits
// are the scores reached when the budget ran out and Reason wraps
// common.ErrGraphTraversalTruncated.
type GraphResult struct {
	Hits       []Hit
	Iterations int
	Converged  bool
	Nodes      int
	Truncated  bool
	Reason     error
}

type edge struct {
	to     string
	weight float64
}

type walker struct {
	store  store.GraphStorage
	params PPRParams
	filter store.NeighborFilter
	adj    map[string][]edge
	out    map[string]float64
}

// GraphSearch runs a bounded, iterative Personalized PageRank from seeds.
//
// Each iteration moves Damping of every node's mass to its neighbours in
// proportion to relationship confidence and returns the remaining mass,
// plus the mass of nodes without edges, to the seeds. Adjacency is loaded
// lazily, only for nodes that hold mass. The walk stops after
// MaxIterations, on convergence (L1 delta below Tolerance), or when the
// time budget or node cap is hit, in which case the partial scores are
// returned with Truncated set.
func (e *Engine) GraphSearch(ctx context.Context, seeds []Seed, params PPRParams, scope common.Scope) (GraphResult, error) {
	params = params.withDefaults()

	restart, err := e.restartDistribution(ctx, seeds, scope)
	if err != nil {
		return GraphResult{}, err
	}
	if len(restart) == 0 {
		return GraphResult{Converged: true}, nil
	}

	direction := store.DirectionBoth
	if params.ForwardOnly {
		direction = store.DirectionOutgoing
	}
	w := &walker{
		store:  e.store,
		params: params,
		filter: store.NeighborFilter{Types: params.Types, Direction: direction, Scope: scope},
		adj:    make(map[string][]edge),
		out:    make(map[string]float64),
	}

	budgetCtx, cancel := context.WithTimeout(ctx, params.TimeBudget)
	defer cancel()

	scores := make(map[string]float64, len(restart))
	for id, m := range restart {
		scores[id] = m
	}

	var res GraphResult
	for res.Iterations < params.MaxIterations {
		if err := w.load(budgetCtx, scores); err != nil {
			if ctx.Err() != nil {
				return GraphResult{}, ctx.Err()
			}
			if errors.Is(err, errNodeCap) || errors.Is(err, context.DeadlineExceeded) {
				res.Truncated = true
				res.Reason = fmt.Errorf("%w: %w", common.ErrGraphTraversalTruncated, err)
				break
			}
			return GraphResult{}, err
		}

		next, delta := w.step(scores, restart)
		scores = next
		res.Iterations++

		if delta < params.Tolerance {
			res.Converged = true
			break
		}
		if budgetCtx.Err() != nil && res.Iterations < params.MaxIterations {
			res.Truncated = true
			res.Reason = fmt.Errorf("%w: time budget %s exceeded", common.ErrGraphTraversalTruncated, params.TimeBudget)
			break
		}
	}
	res.Nodes = len(w.adj)

	hits, err := e.rankScores(ctx, scores, params.TopK, scope)
	if err != nil {
		return GraphResult{}, err
	}
	res.Hits = hits

	if res.Truncated {
		logger.Warn("[Retrieval][GraphSearch] Traversal truncated", "reason", res.Reason, "iterations", res.Iterations, "nodes", res.Nodes)
	} else {
		logger.Debug("[Retrieval][GraphSearch] Done", "iterations", res.Iterations, "converged", res.Converged, "nodes", res.Nodes, "hits", len(hits))
	}
	return res, nil
}

// restartDistribution normalises the weights of visible seeds to sum to 1.
// Duplicate seeds add up; non-positive weights are ignored.
func (e *Engine) restartDistribution(ctx context.Context, seeds []Seed, scope common.Scope) (map[string]float64, error) {
	weights := make(map[string]float64, len(seeds))
	ids := make([]string, 0, len(seeds))
	for _, s := range seeds {
		if s.EntityID == "" || !(s.Weight > 0) || math.IsInf(s.Weight, 0) {
			continue
		}
		if _, ok := weights[s.EntityID]; !ok {
			ids = append(ids, s.EntityID)
		}
		weights[s.EntityID] += s.Weight
	}
	if len(ids) == 0 {
		return nil, nil
	}

	visible, err := e.store.GetEntities(ctx, ids, scope)
	if err != nil {
		return nil, err
	}
	restart := make(map[string]float64, len(visible))
	total := 0.0
	for _, ent := range visible {
		restart[ent.ID] = weights[ent.ID]
		total += weights[ent.ID]
	}
	for id := range restart {
		restart[id] /= total
	}
	return restart, nil
}

var errNodeCap = errors.New("node cap reached")

// load fetches adjacency for every node with mass that has not been loaded
// yet, in one store round trip.
func (w *walker) load(ctx context.Context, scores map[string]float64) error {
	var pending []string
	for id, m := range scores {
		if m <= 0 {
			continue
		}
		if _, ok := w.adj[id]; !ok {
			pending = append(pending, id)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	if len(w.adj)+len(pending) > w.params.MaxNodes {
		return fmt.Errorf("%w: %d nodes", errNodeCap, w.params.MaxNodes)
	}
	sort.Strings(pending)

	rels, err := w.store.Neighbors(ctx, pending, w.filter)
	if err != nil {
		return err
	}

	batch := make(map[string]struct{}, len(pending))
	for _, id := range pending {
		batch[id] = struct{}{}
		w.adj[id] = nil
	}
	for _, r := range rels {
		if r.Confidence <= 0 {
			continue
		}
		if _, ok := batch[r.SourceEntityID]; ok && w.filter.Direction != store.DirectionIncoming {
			w.adj[r.SourceEntityID] = append(w.adj[r.SourceEntityID], edge{to: r.TargetEntityID, weight: r.Confidence})
		}
		if _, ok := batch[r.TargetEntityID]; ok && !w.params.ForwardOnly && !r.Type.Symmetric() {
			w.adj[r.TargetEntityID] = append(w.adj[r.TargetEntityID], edge{to: r.SourceEntityID, weight: r.Confidence * w.params.ReverseWeight})
		}
	}
	for _, id := range pending {
		total := 0.0
		for _, e := range w.adj[id] {
			total += e.weight
		}
		w.out[id] = total
	}
	return nil
}

// step performs one power iteration and returns the new scores with the L1
// distance to the previous ones.
func (w *walker) step(scores, restart map[string]float64) (map[string]float64, float64) {
	d := w.params.Damping
	next := make(map[string]float64, len(scores))
	dangling := 0.0
	for id, m := range scores {
		if m <= 0 {
			continue
		}
		total := w.out[id]
		if total <= 0 {
			dangling += m
			continue
		}
		for _, e := range w.adj[id] {
			next[e.to] += d * m * e.weight / total
		}
	}
	for id, r := range restart {
		next[id] += (1-d)*r + d*dangling*r
	}

	delta := 0.0
	for id, m := range next {
		if m < pruneEpsilon {
			delete(next, id)
			continue
		}
		delta += math.Abs(m - scores[id])
	}
	for id, m := range scores {
		if _, ok := next[id]; !ok {
			delta += m
		}
	}
	return next, delta
}

// rankScores returns the topK visible nodes by score, ties broken by id.
func (e *Engine) rankScores(ctx context.Context, scores map[string]float64, topK int, scope common.Scope) ([]Hit, error) {
	ids := make([]string, 0, len(scores))
	for id, s := range scores {
		if s > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > topK {
		ids = ids[:topK]
	}

	entities, err := e.store.GetEntities(ctx, ids, scope)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(entities))
	for i, ent := range entities {
		hits[i] = Hit{Entity: ent, Rank: i + 1, Score: scores[ent.ID]}
	}
	return hits, nil
}
