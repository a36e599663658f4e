package store

import (
	"errors"
	"math"
	"testing"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
)

func TestChunkRange(t *testing.T) {
	var got [][2]int
	err := ChunkRange(5, 2, func(start, end int) error {
		got = append(got, [2]int{start, end})
		return nil
	})
	if err != nil {
		t.Fatalf("ChunkRange() error = %v", err)
	}
	want := [][2]int{{0, 2}, {2, 4}, {4, 5}}
	if len(got) != len(want) {
		t.Fatalf("ChunkRange() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ChunkRange() = %v, want %v", got, want)
		}
	}
}

func TestDedupeStrings(t *testing.T) {
	got := DedupeStrings([]string{"a", "", "b", "a", "c", "b"})
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("DedupeStrings() = %v", got)
	}
}

func TestPrepareRecordGraph(t *testing.T) {
	g := common.RecordGraph{
		Record: common.Record{RecordID: "rec-1", PatientID: "pat-1", EncounterID: "enc-1"},
		Entities: []common.Entity{
			{Text: "chest  pain", Type: common.EntitySymptom, Confidence: 0.75, ExtractionMethod: common.MethodPattern},
			{Text: "Chest pain", Type: common.EntitySymptom, Confidence: 0.9, ExtractionMethod: common.MethodModel},
			{Text: "aspirin", Type: common.EntityMedication, Confidence: 0.8, ExtractionMethod: common.MethodPattern},
		},
		Relationships: []common.Relationship{{
			SourceKey:        common.EntityKey{Text: "aspirin", Type: common.EntityMedication},
			TargetKey:        common.EntityKey{Text: "chest pain", Type: common.EntitySymptom},
			Type:             common.RelTreats,
			Confidence:       0.8,
			ExtractionMethod: common.MethodPattern,
		}},
	}

	out, err := PrepareRecordGraph(g)
	if err != nil {
		t.Fatalf("PrepareRecordGraph() error = %v", err)
	}
	if len(out.Entities) != 2 {
		t.Fatalf("expected duplicate keys to merge, got %+v", out.Entities)
	}
	first := out.Entities[0]
	if first.Confidence != 0.9 || first.ExtractionMethod != common.MethodModel {
		t.Fatalf("expected the higher confidence duplicate to win, got %+v", first)
	}
	if first.SourceRecordID != "rec-1" || first.PatientID != "pat-1" || first.EncounterID != "enc-1" {
		t.Fatalf("record fields not filled: %+v", first)
	}
	if out.Relationships[0].PatientID != "pat-1" || out.Relationships[0].SourceRecordID != "rec-1" {
		t.Fatalf("relationship record fields not filled: %+v", out.Relationships[0])
	}
}

func TestPrepareRecordGraphErrors(t *testing.T) {
	base := func() common.RecordGraph {
		return common.RecordGraph{
			Record: common.Record{RecordID: "rec-1", PatientID: "pat-1"},
			Entities: []common.Entity{
				{Text: "fever", Type: common.EntitySymptom, Confidence: 0.8, ExtractionMethod: common.MethodPattern},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*common.RecordGraph)
		want   error
	}{
		{name: "missing patient", mutate: func(g *common.RecordGraph) { g.Record.PatientID = "" }, want: ErrInvalidGraph},
		{name: "foreign record", mutate: func(g *common.RecordGraph) { g.Entities[0].SourceRecordID = "rec-2" }, want: ErrInvalidGraph},
		{name: "unknown type", mutate: func(g *common.RecordGraph) { g.Entities[0].Type = "ALLERGY" }, want: ErrInvalidGraph},
		{name: "nan confidence", mutate: func(g *common.RecordGraph) { g.Entities[0].Confidence = math.NaN() }, want: common.ErrConfidenceOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := base()
			tt.mutate(&g)
			if _, err := PrepareRecordGraph(g); !errors.Is(err, tt.want) {
				t.Fatalf("PrepareRecordGraph() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateRelationshipByID(t *testing.T) {
	r := common.Relationship{SourceEntityID: "a", TargetEntityID: "a", Type: common.RelCauses, Confidence: 0.9}
	if err := ValidateRelationship(r); !errors.Is(err, common.ErrSelfLoop) {
		t.Fatalf("ValidateRelationship() error = %v, want ErrSelfLoop", err)
	}
	r.TargetEntityID = "b"
	if err := ValidateRelationship(r); err != nil {
		t.Fatalf("ValidateRelationship() error = %v", err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2}, b: []float32{1, 2}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "dimension mismatch", a: []float32{1}, b: []float32{1, 0}, want: 0},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}
