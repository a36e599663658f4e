package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/medgraph/backend/internal/util"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/ai"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
)

type modelEntity struct {
	Text       string  `json:"text" jsonschema_description:"Mention exactly as written in the note"`
	Type       string  `json:"type" jsonschema_description:"One of the provided entity types"`
	Confidence float64 `json:"confidence" jsonschema_description:"Confidence between 0.0 and 1.0 that the span is a clinical concept of this type"`
}

type modelEntities struct {
	Entities []modelEntity `json:"entities" jsonschema_description:"Clinical concepts mentioned in the note"`
}

type modelRelationship struct {
	Source     string  `json:"source" jsonschema_description:"Exact text of the source entity"`
	Target     string  `json:"target" jsonschema_description:"Exact text of the target entity"`
	Type       string  `json:"type" jsonschema_description:"One of the provided relationship types"`
	Confidence float64 `json:"confidence" jsonschema_description:"Confidence between 0.0 and 1.0"`
	Context    string  `json:"context" jsonschema_description:"Shortest quote from the note supporting the relationship"`
}

type modelRelationships struct {
	Relationships []modelRelationship `json:"relationships" jsonschema_description:"Relationships between the listed entities"`
}

// ModelMethod extracts entities and relationships through structured
// completions of a language model.
type ModelMethod struct {
	client  ai.GraphAIClient
	retries int
	opts    []ai.GenerateOption
}

// NewModelMethod creates a ModelMethod. opts are passed to every completion.
func NewModelMethod(client ai.GraphAIClient, retries int, opts ...ai.GenerateOption) *ModelMethod {
	if retries <= 0 {
		retries = 3
	}
	return &ModelMethod{client: client, retries: retries, opts: opts}
}

func (m *ModelMethod) Method() common.ExtractionMethod {
	return common.MethodModel
}

// ExtractEntities asks the model for the clinical concepts in text. Mentions
// that do not occur in text are dropped.
func (m *ModelMethod) ExtractEntities(
	ctx context.Context,
	rec common.Record,
	text string,
) ([]common.Entity, error) {
	types := joinTypes(common.EntityTypes)
	system := fmt.Sprintf(ai.ExtractEntitiesPrompt, types, rec.RecordID, types)
	opts := append([]ai.GenerateOption{ai.WithSystemPrompts(system)}, m.opts...)

	var res modelEntities
	err := util.RetryErrWithContext(ctx, m.retries, func(ctx context.Context) error {
		res = modelEntities{}
		return m.client.GenerateCompletionWithFormat(
			ctx,
			"clinical_entities",
			"Extract clinical entities from a clinical note.",
			text,
			&res,
			opts...,
		)
	})
	if err != nil {
		return nil, err
	}

	lower := strings.ToLower(text)
	out := make([]common.Entity, 0, len(res.Entities))
	for _, e := range res.Entities {
		t, ok := common.ParseEntityType(e.Type)
		mention := common.NormalizeText(e.Text)
		if !ok || mention == "" || !strings.Contains(lower, strings.ToLower(mention)) {
			continue
		}
		out = append(out, common.Entity{
			Text:       mention,
			Type:       t,
			Confidence: e.Confidence,
		})
	}
	return out, nil
}

// ExtractRelationships asks the model how the given entities of text relate.
func (m *ModelMethod) ExtractRelationships(
	ctx context.Context,
	_ common.Record,
	text string,
	entities []common.Entity,
) ([]common.Relationship, error) {
	if len(entities) < 2 {
		return nil, nil
	}

	byKey := make(map[string]common.Entity, len(entities))
	var list strings.Builder
	for _, e := range entities {
		byKey[common.TextKey(e.Text)] = e
		fmt.Fprintf(&list, "- %s (%s)\n", e.Text, e.Type)
	}

	relTypes := make([]string, 0, len(common.RelationshipTypes))
	for _, t := range common.RelationshipTypes {
		relTypes = append(relTypes, string(t))
	}
	system := fmt.Sprintf(ai.ExtractRelationshipsPrompt, strings.Join(relTypes, ","), list.String())
	opts := append([]ai.GenerateOption{ai.WithSystemPrompts(system)}, m.opts...)

	var res modelRelationships
	err := util.RetryErrWithContext(ctx, m.retries, func(ctx context.Context) error {
		res = modelRelationships{}
		return m.client.GenerateCompletionWithFormat(
			ctx,
			"clinical_relationships",
			"Extract relationships between clinical entities.",
			text,
			&res,
			opts...,
		)
	})
	if err != nil {
		return nil, err
	}

	out := make([]common.Relationship, 0, len(res.Relationships))
	for _, r := range res.Relationships {
		t, ok := common.ParseRelationshipType(r.Type)
		src, okSrc := byKey[common.TextKey(r.Source)]
		tgt, okTgt := byKey[common.TextKey(r.Target)]
		if !ok || !okSrc || !okTgt {
			continue
		}
		out = append(out, common.Relationship{
			SourceKey:      src.Key(),
			TargetKey:      tgt.Key(),
			Type:           t,
			Confidence:     r.Confidence,
			ContextSnippet: r.Context,
		})
	}
	return out, nil
}

func joinTypes(types []common.EntityType) string {
	s := make([]string, len(types))
	for i, t := range types {
		s[i] = string(t)
	}
	return strings.Join(s, ",")
}
