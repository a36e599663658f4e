package common

import (
	"strings"
	"time"
)

// EntityType is the semantic type of an extracted medical mention.
type EntityType string

const (
	EntitySymptom    EntityType = "SYMPTOM"
	EntityCondition  EntityType = "CONDITION"
	EntityMedication EntityType = "MEDICATION"
	EntityProcedure  EntityType = "PROCEDURE"
	EntityBodyPart   EntityType = "BODY_PART"
	EntityTemporal   EntityType = "TEMPORAL"
	EntityLabValue   EntityType = "LAB_VALUE"
)

// EntityTypes lists every supported entity type.
var EntityTypes = []EntityType{
	EntitySymptom,
	EntityCondition,
	EntityMedication,
	EntityProcedure,
	EntityBodyPart,
	EntityTemporal,
	EntityLabValue,
}

// ParseEntityType maps a loosely formatted type name (any case, spaces or
// hyphens instead of underscores) to an EntityType.
func ParseEntityType(s string) (EntityType, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	for _, t := range EntityTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// RelationshipType is the semantic type of an edge between two entities.
type RelationshipType string

const (
	RelTreats         RelationshipType = "TREATS"
	RelCauses         RelationshipType = "CAUSES"
	RelLocatedIn      RelationshipType = "LOCATED_IN"
	RelCoOccursWith   RelationshipType = "CO_OCCURS_WITH"
	RelPrecedes       RelationshipType = "PRECEDES"
	RelAssociatedWith RelationshipType = "ASSOCIATED_WITH"
)

// RelationshipTypes lists every supported relationship type.
var RelationshipTypes = []RelationshipType{
	RelTreats,
	RelCauses,
	RelLocatedIn,
	RelCoOccursWith,
	RelPrecedes,
	RelAssociatedWith,
}

// ParseRelationshipType is the RelationshipType counterpart of ParseEntityType.
func ParseRelationshipType(s string) (RelationshipType, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	for _, t := range RelationshipTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Symmetric reports whether the relationship type holds in both directions.
// Symmetric relationships are stored as two directed rows.
func (t RelationshipType) Symmetric() bool {
	return t == RelCoOccursWith
}

// ExtractionMethod records how an entity or relationship was produced.
type ExtractionMethod string

const (
	MethodStructured ExtractionMethod = "structured"
	MethodPattern    ExtractionMethod = "pattern"
	MethodModel      ExtractionMethod = "model"
)

// Entity is a typed medical concept mention extracted from a clinical record.
//
// The identity of an entity is (TextKey(Text), Type, SourceRecordID): re-processing
// the same record updates the existing row instead of adding a new one.
type Entity struct {
	ID                 string           `json:"id"`
	Text               string           `json:"text"`
	Type               EntityType       `json:"type"`
	CanonicalConceptID string           `json:"canonical_concept_id,omitempty"`
	CanonicalCategory  string           `json:"canonical_category,omitempty"`
	SourceRecordID     string           `json:"source_record_id"`
	PatientID          string           `json:"patient_id"`
	EncounterID        string           `json:"encounter_id,omitempty"`
	CodedSystem        string           `json:"coded_system,omitempty"`
	CodedCode          string           `json:"coded_code,omitempty"`
	Confidence         float64          `json:"confidence"`
	Embedding          []float32        `json:"-"`
	ExtractionMethod   ExtractionMethod `json:"extraction_method"`
	NeedsNormalization bool             `json:"needs_normalization,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}

// Key returns the identity key of the entity within its source record.
func (e Entity) Key() EntityKey {
	return EntityKey{Text: TextKey(e.Text), Type: e.Type}
}

// EntityKey identifies an entity inside a single record.
type EntityKey struct {
	Text string
	Type EntityType
}

// Relationship is a directed, typed association between two entities.
//
// Before persistence the endpoints are addressed by EntityKey (SourceKey,
// TargetKey); the store resolves them to entity ids.
type Relationship struct {
	ID               string           `json:"id"`
	SourceEntityID   string           `json:"source_entity_id"`
	TargetEntityID   string           `json:"target_entity_id"`
	SourceKey        EntityKey        `json:"-"`
	TargetKey        EntityKey        `json:"-"`
	Type             RelationshipType `json:"type"`
	SourceRecordID   string           `json:"source_record_id"`
	PatientID        string           `json:"patient_id"`
	Confidence       float64          `json:"confidence"`
	ContextSnippet   string           `json:"context_snippet,omitempty"`
	ExtractionMethod ExtractionMethod `json:"extraction_method"`
	CreatedAt        time.Time        `json:"created_at"`
}

// CodedField is a structured, coded element of a clinical record.
type CodedField struct {
	Type    string `json:"type"`
	System  string `json:"system"`
	Code    string `json:"code"`
	Display string `json:"display"`
}

// Record is one clinical record as delivered by the record source.
type Record struct {
	RecordID    string       `json:"record_id"`
	PatientID   string       `json:"patient_id"`
	EncounterID string       `json:"encounter_id,omitempty"`
	CodedFields []CodedField `json:"coded_fields"`
	FreeText    []string     `json:"free_text"`
	RecordedAt  time.Time    `json:"recorded_at"`
}

// Text joins all free-text segments of the record.
func (r Record) Text() string {
	return strings.Join(r.FreeText, "\n")
}

// RecordGraph is everything extracted from one record. It is persisted as
// a single atomic unit.
type RecordGraph struct {
	Record        Record
	Entities      []Entity
	Relationships []Relationship
}

// Scope is the query-scoped view. An empty PatientID means unscoped.
// EncounterID narrows the view further and is ignored when empty.
type Scope struct {
	PatientID   string
	EncounterID string
}

// Allows reports whether an entity with the given patient and encounter is
// visible in the scope.
func (s Scope) Allows(patientID, encounterID string) bool {
	if s.PatientID != "" && s.PatientID != patientID {
		return false
	}
	if s.EncounterID != "" && s.EncounterID != encounterID {
		return false
	}
	return true
}

// Concept is a canonical terminology concept.
type Concept struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Display  string `json:"display,omitempty"`
}

// TextKey normalizes mention text for identity comparisons: lower case,
// trimmed, inner whitespace collapsed.
func TextKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NormalizeText trims and collapses whitespace while keeping case.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ClampConfidence bounds a confidence value to [0, 1].
func ClampConfidence(c float64) float64 {
	if c != c || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
