package query

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/retrieval"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/store"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/store/memory"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	block   bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors[common.TextKey(text)], nil
}

type failingTextStore struct {
	store.GraphStorage
}

func (failingTextStore) SearchByText(context.Context, string, int, store.TextSearchOptions) ([]store.ScoredEntity, error) {
	return nil, errors.New("text index offline")
}

type recordingTracer struct {
	mu     sync.Mutex
	events []TraceEvent
}

func (r *recordingTracer) Record(e TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingTracer) kinds() map[TraceEventKind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[TraceEventKind]int)
	for _, e := range r.events {
		out[e.Kind]++
	}
	return out
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }

// clinicalStore holds a diabetes record for pat-1 where metformin treats
// diabetes, and an unrelated diabetes record for pat-2.
func clinicalStore(t *testing.T) (*memory.GraphMemoryStorage, map[string]string) {
	t.Helper()
	s := memory.NewGraphMemoryStorage()
	ctx := context.Background()

	res, err := s.SaveRecordGraph(ctx, common.RecordGraph{
		Record: common.Record{RecordID: "rec-1", PatientID: "pat-1", FreeText: []string{"Diabetes treated with metformin."}},
		Entities: []common.Entity{
			{Text: "diabetes", Type: common.EntityCondition, Confidence: 0.9, ExtractionMethod: common.MethodPattern, Embedding: []float32{1, 0}},
			{Text: "metformin", Type: common.EntityMedication, Confidence: 0.9, ExtractionMethod: common.MethodPattern, Embedding: []float32{0, 1}},
		},
		Relationships: []common.Relationship{{
			SourceKey:        common.EntityKey{Text: "metformin", Type: common.EntityMedication},
			TargetKey:        common.EntityKey{Text: "diabetes", Type: common.EntityCondition},
			Type:             common.RelTreats,
			Confidence:       1,
			ExtractionMethod: common.MethodPattern,
		}},
	})
	if err != nil {
		t.Fatalf("SaveRecordGraph() error = %v", err)
	}
	other, err := s.SaveRecordGraph(ctx, common.RecordGraph{
		Record: common.Record{RecordID: "rec-2", PatientID: "pat-2"},
		Entities: []common.Entity{
			{Text: "diabetes", Type: common.EntityCondition, Confidence: 0.9, ExtractionMethod: common.MethodPattern, Embedding: []float32{1, 0}},
		},
	})
	if err != nil {
		t.Fatalf("SaveRecordGraph() error = %v", err)
	}

	return s, map[string]string{
		"diabetes":       res.EntityIDs[common.EntityKey{Text: "diabetes", Type: common.EntityCondition}],
		"metformin":      res.EntityIDs[common.EntityKey{Text: "metformin", Type: common.EntityMedication}],
		"other-diabetes": other.EntityIDs[common.EntityKey{Text: "diabetes", Type: common.EntityCondition}],
	}
}

func diabetesEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: map[string][]float32{"diabetes": {1, 0}}}
}

func findResult(resp *Response, id string) (Result, bool) {
	for _, r := range resp.Results {
		if r.EntityID == id {
			return r, true
		}
	}
	return Result{}, false
}

func TestQueryReachesTreatmentThroughGraph(t *testing.T) {
	s, ids := clinicalStore(t)
	tracer := &recordingTracer{}
	o := NewOrchestrator(s, diabetesEmbedder(), WithTracer(tracer))

	resp, err := o.Query(context.Background(), Request{QueryText: "diabetes", PatientID: "pat-1"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if len(resp.Results) == 0 || resp.Results[0].EntityID != ids["diabetes"] {
		t.Fatalf("diabetes should rank first: %+v", resp.Results)
	}
	met, ok := findResult(resp, ids["metformin"])
	if !ok {
		t.Fatalf("metformin should be reached through the graph: %+v", resp.Results)
	}
	if len(met.Modalities) != 1 || met.Modalities[0] != retrieval.ModalityGraph {
		t.Fatalf("metformin modalities = %v, want [graph]", met.Modalities)
	}
	if _, ok := findResult(resp, ids["other-diabetes"]); ok {
		t.Fatalf("another patient's entity leaked into the results")
	}
	if len(resp.Relationships) != 1 || resp.Relationships[0].Type != common.RelTreats {
		t.Fatalf("relationships = %+v, want the TREATS edge", resp.Relationships)
	}
	if len(resp.ModalitiesUsed) != 3 || len(resp.DegradedModalities) != 0 {
		t.Fatalf("used = %v, degraded = %v", resp.ModalitiesUsed, resp.DegradedModalities)
	}
	if resp.GraphTruncated {
		t.Fatalf("graph should not be truncated")
	}

	kinds := tracer.kinds()
	if kinds[TraceEventConsideredEntityIDs] != 3 || kinds[TraceEventReturnedEntityIDs] != 1 {
		t.Fatalf("trace events = %v", kinds)
	}
	if got := resp.Trace.ConsideredEntityIDs[retrieval.ModalityGraph]; len(got) != 2 {
		t.Fatalf("graph considered %v", got)
	}
}

func TestQueryGraphDisabled(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{name: "graph_k zero", req: Request{QueryText: "diabetes", PatientID: "pat-1", GraphK: intPtr(0)}},
		{name: "graph disabled", req: Request{QueryText: "diabetes", PatientID: "pat-1", GraphEnabled: boolPtr(false)}},
		{name: "graph weight zero", req: Request{QueryText: "diabetes", PatientID: "pat-1", GraphWeight: floatPtr(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ids := clinicalStore(t)
			o := NewOrchestrator(s, diabetesEmbedder())

			resp, err := o.Query(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if _, ok := findResult(resp, ids["metformin"]); ok {
				t.Fatalf("metformin should not appear without graph search: %+v", resp.Results)
			}
			for _, m := range resp.ModalitiesUsed {
				if m == retrieval.ModalityGraph {
					t.Fatalf("graph listed as used: %v", resp.ModalitiesUsed)
				}
			}
		})
	}
}

func TestQueryDegradation(t *testing.T) {
	t.Run("embedding failure", func(t *testing.T) {
		s, ids := clinicalStore(t)
		o := NewOrchestrator(s, &fakeEmbedder{err: errors.New("embedding service down")})

		resp, err := o.Query(context.Background(), Request{QueryText: "diabetes", PatientID: "pat-1"})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if len(resp.DegradedModalities) != 1 || resp.DegradedModalities[0] != retrieval.ModalityVector {
			t.Fatalf("degraded = %v, want [vector]", resp.DegradedModalities)
		}
		if _, ok := findResult(resp, ids["metformin"]); !ok {
			t.Fatalf("text hits should still seed the graph: %+v", resp.Results)
		}
	})

	t.Run("scorer timeout", func(t *testing.T) {
		s, _ := clinicalStore(t)
		o := NewOrchestrator(s, &fakeEmbedder{block: true}, WithScorerTimeout(20*time.Millisecond))

		resp, err := o.Query(context.Background(), Request{QueryText: "diabetes", PatientID: "pat-1"})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		reason := resp.DegradedReasons[retrieval.ModalityVector]
		if !strings.Contains(reason, "timed out") {
			t.Fatalf("vector degradation reason = %q", reason)
		}
		if len(resp.Results) == 0 {
			t.Fatalf("text results should survive a vector timeout")
		}
	})

	t.Run("all modalities unavailable", func(t *testing.T) {
		s, _ := clinicalStore(t)
		o := NewOrchestrator(failingTextStore{s}, &fakeEmbedder{err: errors.New("embedding service down")})

		_, err := o.Query(context.Background(), Request{QueryText: "diabetes"})
		if !errors.Is(err, common.ErrAllModalitiesUnavailable) {
			t.Fatalf("Query() error = %v, want ErrAllModalitiesUnavailable", err)
		}
	})

	t.Run("caller cancellation", func(t *testing.T) {
		s, _ := clinicalStore(t)
		o := NewOrchestrator(s, &fakeEmbedder{block: true})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := o.Query(ctx, Request{QueryText: "diabetes"}); !errors.Is(err, context.Canceled) {
			t.Fatalf("Query() error = %v, want context.Canceled", err)
		}
	})
}

func TestQueryTopK(t *testing.T) {
	s, ids := clinicalStore(t)
	o := NewOrchestrator(s, diabetesEmbedder())

	resp, err := o.Query(context.Background(), Request{QueryText: "diabetes", PatientID: "pat-1", TopK: intPtr(1)})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].EntityID != ids["diabetes"] {
		t.Fatalf("results = %+v", resp.Results)
	}
	if len(resp.Relationships) != 0 {
		t.Fatalf("a single result has no relationships among results: %+v", resp.Relationships)
	}
}

func TestResolveRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{name: "empty text", req: Request{QueryText: "   "}, field: "query_text"},
		{name: "too long", req: Request{QueryText: strings.Repeat("a", DefaultMaxQueryLength+1)}, field: "query_text"},
		{name: "top_k zero", req: Request{QueryText: "x", TopK: intPtr(0)}, field: "top_k"},
		{name: "negative vector_k", req: Request{QueryText: "x", VectorK: intPtr(-1)}, field: "vector_k"},
		{name: "damping one", req: Request{QueryText: "x", DampingFactor: floatPtr(1)}, field: "damping_factor"},
		{name: "negative rrf", req: Request{QueryText: "x", RRFConstant: floatPtr(-5)}, field: "rrf_constant"},
		{name: "negative weight", req: Request{QueryText: "x", TextWeight: floatPtr(-1)}, field: "text_weight"},
		{name: "encounter without patient", req: Request{QueryText: "x", EncounterID: "enc-1"}, field: "encounter_id"},
		{name: "no seeding modality", req: Request{QueryText: "x", VectorK: intPtr(0), TextWeight: floatPtr(0)}, field: "modalities"},
	}

	o := NewOrchestrator(memory.NewGraphMemoryStorage(), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Resolve(tt.req)
			var qerr *common.InvalidQueryError
			if !errors.As(err, &qerr) {
				t.Fatalf("Resolve() error = %v, want *InvalidQueryError", err)
			}
			if qerr.Field != tt.field {
				t.Fatalf("field = %q, want %q (%v)", qerr.Field, tt.field, err)
			}
			if !errors.Is(err, common.ErrInvalidQuery) {
				t.Fatalf("error should wrap ErrInvalidQuery")
			}
		})
	}
}

func TestResolveDefaults(t *testing.T) {
	o := NewOrchestrator(memory.NewGraphMemoryStorage(), nil)
	p, err := o.Resolve(Request{QueryText: "  chest pain  "})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.QueryText != "chest pain" {
		t.Fatalf("QueryText = %q", p.QueryText)
	}
	if p.TopK != DefaultTopK || p.VectorK != DefaultVectorK || p.TextK != DefaultTextK || p.GraphK != DefaultGraphK {
		t.Fatalf("k defaults = %+v", p)
	}
	if p.Damping != retrieval.DefaultDamping || p.RRFConstant != retrieval.DefaultRRFConstant {
		t.Fatalf("damping = %v, rrf = %v", p.Damping, p.RRFConstant)
	}
	for _, m := range []retrieval.Modality{retrieval.ModalityVector, retrieval.ModalityText, retrieval.ModalityGraph} {
		if !p.Enabled(m) {
			t.Fatalf("%s should be enabled by default", m)
		}
	}
}
