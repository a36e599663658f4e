package store

import (
	"errors"
	"fmt"
	"math"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
)

// ErrInvalidGraph is returned for entities or relationships that can never
// be stored, such as an empty mention or an unknown type.
var ErrInvalidGraph = errors.New("invalid record graph")

func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func validConfidence(c float64) bool {
	return !math.IsNaN(c) && c >= 0 && c <= 1
}

func validEntityType(t common.EntityType) bool {
	parsed, ok := common.ParseEntityType(string(t))
	return ok && parsed == t
}

func validRelationshipType(t common.RelationshipType) bool {
	parsed, ok := common.ParseRelationshipType(string(t))
	return ok && parsed == t
}

// ValidateEntity checks the invariants every stored entity must hold.
func ValidateEntity(e common.Entity) error {
	if common.NormalizeText(e.Text) == "" {
		return fmt.Errorf("%w: entity text is empty", ErrInvalidGraph)
	}
	if !validEntityType(e.Type) {
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalidGraph, e.Type)
	}
	if e.SourceRecordID == "" || e.PatientID == "" {
		return fmt.Errorf("%w: entity %q has no source record or patient", ErrInvalidGraph, e.Text)
	}
	if !validConfidence(e.Confidence) {
		return fmt.Errorf("%w: entity %q: %v", common.ErrConfidenceOutOfRange, e.Text, e.Confidence)
	}
	if e.ExtractionMethod == common.MethodStructured && e.Confidence != 1 {
		return fmt.Errorf("%w: structured entity %q must have confidence 1.0", ErrInvalidGraph, e.Text)
	}
	return nil
}

// ValidateRelationship checks the invariants every stored relationship must
// hold. Endpoints are compared by id when set and by key otherwise.
func ValidateRelationship(r common.Relationship) error {
	if !validRelationshipType(r.Type) {
		return fmt.Errorf("%w: unknown relationship type %q", ErrInvalidGraph, r.Type)
	}
	if r.SourceEntityID != "" || r.TargetEntityID != "" {
		if r.SourceEntityID == r.TargetEntityID {
			return common.ErrSelfLoop
		}
	} else if r.SourceKey == r.TargetKey {
		return common.ErrSelfLoop
	}
	if !validConfidence(r.Confidence) {
		return fmt.Errorf("%w: relationship %s: %v", common.ErrConfidenceOutOfRange, r.Type, r.Confidence)
	}
	if r.ExtractionMethod == common.MethodStructured && r.Confidence != 1 {
		return fmt.Errorf("%w: structured relationship %s must have confidence 1.0", ErrInvalidGraph, r.Type)
	}
	return nil
}

// PrepareRecordGraph validates a record graph and fills record-level fields
// (source record, patient, encounter) on its entities and relationships.
// Entities sharing an identity key are merged, keeping the highest
// confidence. Nothing is stored when an error is returned.
func PrepareRecordGraph(g common.RecordGraph) (common.RecordGraph, error) {
	rec := g.Record
	if rec.RecordID == "" || rec.PatientID == "" {
		return g, fmt.Errorf("%w: record_id and patient_id are required", ErrInvalidGraph)
	}

	out := common.RecordGraph{Record: rec}
	index := make(map[common.EntityKey]int, len(g.Entities))
	for _, e := range g.Entities {
		if e.SourceRecordID == "" {
			e.SourceRecordID = rec.RecordID
		}
		if e.SourceRecordID != rec.RecordID {
			return g, fmt.Errorf("%w: entity %q belongs to record %q", ErrInvalidGraph, e.Text, e.SourceRecordID)
		}
		if e.PatientID == "" {
			e.PatientID = rec.PatientID
		}
		if e.EncounterID == "" {
			e.EncounterID = rec.EncounterID
		}
		e.Text = common.NormalizeText(e.Text)
		if err := ValidateEntity(e); err != nil {
			return g, err
		}

		key := e.Key()
		if i, ok := index[key]; ok {
			if e.Confidence > out.Entities[i].Confidence {
				out.Entities[i] = e
			}
			continue
		}
		index[key] = len(out.Entities)
		out.Entities = append(out.Entities, e)
	}

	for _, r := range g.Relationships {
		if r.SourceRecordID == "" {
			r.SourceRecordID = rec.RecordID
		}
		if r.PatientID == "" {
			r.PatientID = rec.PatientID
		}
		if err := ValidateRelationship(r); err != nil {
			return g, err
		}
		if r.SourceEntityID == "" {
			if _, ok := index[r.SourceKey]; !ok {
				return g, fmt.Errorf("%w: unknown source entity %q", ErrInvalidGraph, r.SourceKey.Text)
			}
			if _, ok := index[r.TargetKey]; !ok {
				return g, fmt.Errorf("%w: unknown target entity %q", ErrInvalidGraph, r.TargetKey.Text)
			}
		}
		out.Relationships = append(out.Relationships, r)
	}

	return out, nil
}

// CosineSimilarity returns the cosine similarity of two vectors, or 0 when
// either is empty, zero or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
