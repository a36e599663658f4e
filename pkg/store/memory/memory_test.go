package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/store"
)

var (
	diabetesKey  = common.EntityKey{Text: "diabetes", Type: common.EntityCondition}
	metforminKey = common.EntityKey{Text: "metformin", Type: common.EntityMedication}
)

func diabetesGraph(recordID, patientID string) common.RecordGraph {
	return common.RecordGraph{
		Record: common.Record{RecordID: recordID, PatientID: patientID, FreeText: []string{"Metformin for diabetes."}},
		Entities: []common.Entity{
			{Text: "Diabetes", Type: common.EntityCondition, Confidence: 1, ExtractionMethod: common.MethodStructured, Embedding: []float32{1, 0}},
			{Text: "Metformin", Type: common.EntityMedication, Confidence: 1, ExtractionMethod: common.MethodStructured, Embedding: []float32{0, 1}},
		},
		Relationships: []common.Relationship{
			{SourceKey: metforminKey, TargetKey: diabetesKey, Type: common.RelTreats, Confidence: 1, ExtractionMethod: common.MethodStructured},
		},
	}
}

func TestSaveRecordGraphIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewGraphMemoryStorage()

	first, err := s.SaveRecordGraph(ctx, diabetesGraph("rec-1", "pat-1"))
	if err != nil {
		t.Fatalf("SaveRecordGraph() error = %v", err)
	}
	second, err := s.SaveRecordGraph(ctx, diabetesGraph("rec-1", "pat-1"))
	if err != nil {
		t.Fatalf("SaveRecordGraph() second error = %v", err)
	}

	if first.EntityIDs[diabetesKey] != second.EntityIDs[diabetesKey] {
		t.Fatalf("entity id changed on re-save: %q vs %q", first.EntityIDs[diabetesKey], second.EntityIDs[diabetesKey])
	}
	if first.RelationshipIDs[0] != second.RelationshipIDs[0] {
		t.Fatalf("relationship id changed on re-save")
	}

	counts, err := s.CountRecordGraph(ctx, "rec-1")
	if err != nil {
		t.Fatalf("CountRecordGraph() error = %v", err)
	}
	if counts != (store.Counts{Entities: 2, Relationships: 1}) {
		t.Fatalf("unexpected counts %+v", counts)
	}
}

func TestSaveRecordGraphUpdatesRelationshipConfidence(t *testing.T) {
	ctx := context.Background()
	s := NewGraphMemoryStorage()

	g := diabetesGraph("rec-1", "pat-1")
	g.Relationships[0].ExtractionMethod = common.MethodPattern
	g.Relationships[0].Confidence = 0.75
	if _, err := s.SaveRecordGraph(ctx, g); err != nil {
		t.Fatalf("SaveRecordGraph() error = %v", err)
	}
	g.Relationships[0].Confidence = 0.9
	g.Relationships[0].ContextSnippet = "metformin for diabetes"
	res, err := s.SaveRecordGraph(ctx, g)
	if err != nil {
		t.Fatalf("SaveRecordGraph() error = %v", err)
	}

	rels, err := s.RelationshipsAmong(ctx, []string{res.EntityIDs[diabetesKey], res.EntityIDs[metforminKey]}, common.Scope{})
	if err != nil {
		t.Fatalf("RelationshipsAmong() error = %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("expected one relationship, got %d", len(rels))
	}
	if rels[0].Confidence != 0.9 || rels[0].ContextSnippet != "metformin for diabetes" {
		t.Fatalf("relationship was not updated: %+v", rels[0])
	}
}

func TestSaveRecordGraphRejectsInvalidGraphs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*common.RecordGraph)
		want   error
	}{
		{
			name: "self loop",
			mutate: func(g *common.RecordGraph) {
				g.Relationships[0].TargetKey = metforminKey
			},
			want: common.ErrSelfLoop,
		},
		{
			name: "confidence above one",
			mutate: func(g *common.RecordGraph) {
				g.Entities[0].ExtractionMethod = common.MethodPattern
				g.Entities[0].Confidence = 1.2
			},
			want: common.ErrConfidenceOutOfRange,
		},
		{
			name: "negative relationship confidence",
			mutate: func(g *common.RecordGraph) {
				g.Relationships[0].ExtractionMethod = common.MethodModel
				g.Relationships[0].Confidence = -0.1
			},
			want: common.ErrConfidenceOutOfRange,
		},
		{
			name: "structured below one",
			mutate: func(g *common.RecordGraph) {
				g.Entities[1].Confidence = 0.9
			},
			want: store.ErrInvalidGraph,
		},
		{
			name: "unknown endpoint",
			mutate: func(g *common.RecordGraph) {
				g.Relationships[0].TargetKey = common.EntityKey{Text: "asthma", Type: common.EntityCondition}
			},
			want: store.ErrInvalidGraph,
		},
		{
			name: "empty entity text",
			mutate: func(g *common.RecordGraph) {
				g.Entities[0].Text = "   "
			},
			want: store.ErrInvalidGraph,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := NewGraphMemoryStorage()
			g := diabetesGraph("rec-1", "pat-1")
			tt.mutate(&g)

			_, err := s.SaveRecordGraph(ctx, g)
			if !errors.Is(err, tt.want) {
				t.Fatalf("SaveRecordGraph() error = %v, want %v", err, tt.want)
			}
			counts, _ := s.CountRecordGraph(ctx, "rec-1")
			if counts != (store.Counts{}) {
				t.Fatalf("rejected graph left rows behind: %+v", counts)
			}
		})
	}
}

func TestPatientIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewGraphMemoryStorage()
	p1, err := s.SaveRecordGraph(ctx, diabetesGraph("rec-1", "pat-1"))
	if err != nil {
		t.Fatalf("SaveRecordGraph() error = %v", err)
	}
	if _, err := s.SaveRecordGraph(ctx, diabetesGraph("rec-2", "pat-2")); err != nil {
		t.Fatalf("SaveRecordGraph() error = %v", err)
	}
	scope := common.Scope{PatientID: "pat-1"}

	hits, err := s.SearchByText(ctx, "diabetes", 10, store.TextSearchOptions{Scope: scope})
	if err != nil {
		t.Fatalf("SearchByText() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Entity.PatientID != "pat-1" {
		t.Fatalf("unexpected text hits %+v", hits)
	}

	vhits, err := s.SearchByEmbedding(ctx, []float32{1, 0}, 10, scope)
	if err != nil {
		t.Fatalf("SearchByEmbedding() error = %v", err)
	}
	for _, h := range vhits {
		if h.Entity.PatientID != "pat-1" {
			t.Fatalf("vector search leaked patient %q", h.Entity.PatientID)
		}
	}

	rels, err := s.Neighbors(ctx, []string{p1.EntityIDs[diabetesKey]}, store.NeighborFilter{Scope: common.Scope{PatientID: "pat-2"}})
	if err != nil {
		t.Fatalf("Neighbors() error = %v", err)
	}
	if len(rels) != 0 {
		t.Fatalf("neighbors leaked across patients: %+v", rels)
	}

	if _, err := s.GetEntity(ctx, p1.EntityIDs[diabetesKey], common.Scope{PatientID: "pat-2"}); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("GetEntity() out of scope error = %v, want ErrNotFound", err)
	}
}

func TestNeighborsDirectionAndTypes(t *testing.T) {
	ctx := context.Background()
	s := NewGraphMemoryStorage()
	res, err := s.SaveRecordGraph(ctx, diabetesGraph("rec-1", "pat-1"))
	if err != nil {
		t.Fatalf("SaveRecordGraph() error = %v", err)
	}
	diabetes := res.EntityIDs[diabetesKey]

	tests := []struct {
		name   string
		filter store.NeighborFilter
		want   int
	}{
		{name: "both", filter: store.NeighborFilter{}, want: 1},
		{name: "incoming", filter: store.NeighborFilter{Direction: store.DirectionIncoming}, want: 1},
		{name: "outgoing", filter: store.NeighborFilter{Direction: store.DirectionOutgoing}, want: 0},
		{name: "type match", filter: store.NeighborFilter{Types: []common.RelationshipType{common.RelTreats}}, want: 1},
		{name: "type mismatch", filter: store.NeighborFilter{Types: []common.RelationshipType{common.RelCauses}}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rels, err := s.Neighbors(ctx, []string{diabetes}, tt.filter)
			if err != nil {
				t.Fatalf("Neighbors() error = %v", err)
			}
			if len(rels) != tt.want {
				t.Fatalf("Neighbors() = %d relationships, want %d", len(rels), tt.want)
			}
		})
	}
}

func TestRetractRecordCascades(t *testing.T) {
	ctx := context.Background()
	s := NewGraphMemoryStorage()
	if _, err := s.SaveRecordGraph(ctx, diabetesGraph("rec-1", "pat-1")); err != nil {
		t.Fatalf("SaveRecordGraph() error = %v", err)
	}
	kept, err := s.SaveRecordGraph(ctx, diabetesGraph("rec-2", "pat-1"))
	if err != nil {
		t.Fatalf("SaveRecordGraph() error = %v", err)
	}

	counts, err := s.RetractRecord(ctx, "rec-1")
	if err != nil {
		t.Fatalf("RetractRecord() error = %v", err)
	}
	if counts != (store.Counts{Entities: 2, Relationships: 1}) {
		t.Fatalf("unexpected retract counts %+v", counts)
	}

	left, _ := s.CountRecordGraph(ctx, "rec-1")
	if left != (store.Counts{}) {
		t.Fatalf("retracted record still has rows: %+v", left)
	}
	rels, err := s.Neighbors(ctx, []string{kept.EntityIDs[diabetesKey]}, store.NeighborFilter{})
	if err != nil || len(rels) != 1 {
		t.Fatalf("other record lost its relationships: %v %+v", err, rels)
	}

	again, err := s.RetractRecord(ctx, "rec-1")
	if err != nil || again != (store.Counts{}) {
		t.Fatalf("retracting twice = %+v, %v", again, err)
	}
}

func TestReconciliation(t *testing.T) {
	ctx := context.Background()
	s := NewGraphMemoryStorage()
	g := diabetesGraph("rec-1", "pat-1")
	g.Entities[0].NeedsNormalization = true
	res, err := s.SaveRecordGraph(ctx, g)
	if err != nil {
		t.Fatalf("SaveRecordGraph() error = %v", err)
	}

	pending, err := s.ListUnnormalized(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnnormalized() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != res.EntityIDs[diabetesKey] {
		t.Fatalf("unexpected pending entities %+v", pending)
	}

	concept := common.Concept{ID: "SNOMEDCT:73211009", Category: "disorder"}
	if err := s.SetCanonical(ctx, pending[0].ID, concept); err != nil {
		t.Fatalf("SetCanonical() error = %v", err)
	}
	e, err := s.GetEntity(ctx, pending[0].ID, common.Scope{})
	if err != nil {
		t.Fatalf("GetEntity() error = %v", err)
	}
	if e.CanonicalConceptID != concept.ID || e.NeedsNormalization {
		t.Fatalf("canonical concept not stored: %+v", e)
	}

	// Re-extraction without a canonical id keeps the reconciled concept.
	if _, err := s.SaveRecordGraph(ctx, g); err != nil {
		t.Fatalf("SaveRecordGraph() error = %v", err)
	}
	e, _ = s.GetEntity(ctx, pending[0].ID, common.Scope{})
	if e.CanonicalConceptID != concept.ID || e.NeedsNormalization {
		t.Fatalf("re-extraction dropped the canonical concept: %+v", e)
	}

	if err := s.SetCanonical(ctx, "missing", concept); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("SetCanonical() unknown id error = %v", err)
	}
}

func TestSearchByTextRanking(t *testing.T) {
	ctx := context.Background()
	s := NewGraphMemoryStorage()
	g := common.RecordGraph{
		Record: common.Record{RecordID: "rec-1", PatientID: "pat-1", FreeText: []string{"History of chest pain on exertion."}},
		Entities: []common.Entity{
			{Text: "chest pain", Type: common.EntitySymptom, Confidence: 0.9, ExtractionMethod: common.MethodPattern},
			{Text: "chest", Type: common.EntityBodyPart, Confidence: 0.9, ExtractionMethod: common.MethodPattern},
			{Text: "exertion", Type: common.EntityTemporal, Confidence: 0.8, ExtractionMethod: common.MethodPattern},
		},
	}
	if _, err := s.SaveRecordGraph(ctx, g); err != nil {
		t.Fatalf("SaveRecordGraph() error = %v", err)
	}

	hits, err := s.SearchByText(ctx, "Chest pain", 10, store.TextSearchOptions{})
	if err != nil {
		t.Fatalf("SearchByText() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %+v", hits)
	}
	if hits[0].Entity.Text != "chest pain" {
		t.Fatalf("exact match should rank first, got %q", hits[0].Entity.Text)
	}

	withRecord, err := s.SearchByText(ctx, "chest pain", 10, store.TextSearchOptions{IncludeRecordText: true})
	if err != nil {
		t.Fatalf("SearchByText() error = %v", err)
	}
	if withRecord[0].Score <= hits[0].Score {
		t.Fatalf("record text should raise the score: %v <= %v", withRecord[0].Score, hits[0].Score)
	}

	none, err := s.SearchByText(ctx, "the of and", 10, store.TextSearchOptions{})
	if err != nil || len(none) != 0 {
		t.Fatalf("stopword-only query = %+v, %v", none, err)
	}
}

func TestUpsertSingleItems(t *testing.T) {
	ctx := context.Background()
	s := NewGraphMemoryStorage()

	a, err := s.UpsertEntity(ctx, common.Entity{
		Text: "headache", Type: common.EntitySymptom, SourceRecordID: "rec-9", PatientID: "pat-1",
		Confidence: 0.8, ExtractionMethod: common.MethodPattern,
	})
	if err != nil {
		t.Fatalf("UpsertEntity() error = %v", err)
	}
	b, err := s.UpsertEntity(ctx, common.Entity{
		Text: "nausea", Type: common.EntitySymptom, SourceRecordID: "rec-9", PatientID: "pat-1",
		Confidence: 0.8, ExtractionMethod: common.MethodPattern,
	})
	if err != nil {
		t.Fatalf("UpsertEntity() error = %v", err)
	}
	again, err := s.UpsertEntity(ctx, common.Entity{
		Text: "Headache", Type: common.EntitySymptom, SourceRecordID: "rec-9", PatientID: "pat-1",
		Confidence: 0.9, ExtractionMethod: common.MethodPattern,
	})
	if err != nil || again != a {
		t.Fatalf("UpsertEntity() by identity = %q, %v; want %q", again, err, a)
	}

	rel := common.Relationship{
		SourceEntityID: a, TargetEntityID: b, Type: common.RelCoOccursWith,
		Confidence: 0.8, ExtractionMethod: common.MethodPattern,
	}
	if _, err := s.UpsertRelationship(ctx, rel); err != nil {
		t.Fatalf("UpsertRelationship() error = %v", err)
	}
	rel.TargetEntityID = a
	if _, err := s.UpsertRelationship(ctx, rel); !errors.Is(err, common.ErrSelfLoop) {
		t.Fatalf("UpsertRelationship() self loop error = %v", err)
	}
	rel.TargetEntityID = "missing"
	if _, err := s.UpsertRelationship(ctx, rel); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("UpsertRelationship() unknown target error = %v", err)
	}

	counts, _ := s.CountRecordGraph(ctx, "rec-9")
	if counts != (store.Counts{Entities: 2, Relationships: 1}) {
		t.Fatalf("unexpected counts %+v", counts)
	}
}
