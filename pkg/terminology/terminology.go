package terminology

import (
	"context"
	"strings"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
)

// Code systems understood by the built-in services.
const (
	SystemSNOMED = "SNOMEDCT"
	SystemRxNorm = "RXNORM"
	SystemLOINC  = "LOINC"
	SystemICD10  = "ICD10CM"
)

var systemAliases = map[string]string{
	"snomed":    SystemSNOMED,
	"snomedct":  SystemSNOMED,
	"snomed-ct": SystemSNOMED,
	"sct":       SystemSNOMED,
	"rxnorm":    SystemRxNorm,
	"loinc":     SystemLOINC,
	"icd10":     SystemICD10,
	"icd10cm":   SystemICD10,
	"icd-10-cm": SystemICD10,

	"http://snomed.info/sct":                      SystemSNOMED,
	"http://www.nlm.nih.gov/research/umls/rxnorm": SystemRxNorm,
	"http://loinc.org":                            SystemLOINC,
	"http://hl7.org/fhir/sid/icd-10-cm":           SystemICD10,
}

// CanonicalSystem maps the many spellings of a code system (FHIR URIs,
// short names) to one identifier. Unknown systems are upper-cased.
func CanonicalSystem(system string) string {
	s := strings.ToLower(strings.TrimSpace(system))
	if s == "" {
		return ""
	}
	if c, ok := systemAliases[s]; ok {
		return c
	}
	return strings.ToUpper(s)
}

// ConceptID builds the canonical concept id for a code.
func ConceptID(system, code string) string {
	return CanonicalSystem(system) + ":" + strings.TrimSpace(code)
}

// Mention is what the normalizer gets to see of an entity candidate.
//
// Context holds the types of the other entities found in the same record
// and ContextTerms the surrounding words. Both are only used to pick between
// ambiguous readings of an abbreviation.
type Mention struct {
	System       string
	Code         string
	Text         string
	Type         common.EntityType
	Context      []common.EntityType
	ContextTerms []string
}

// Coded reports whether the mention carries a code that can be looked up
// directly.
func (m Mention) Coded() bool {
	return strings.TrimSpace(m.System) != "" && strings.TrimSpace(m.Code) != ""
}

// Service resolves mentions to canonical concepts. A miss is reported as
// (Concept{}, false, nil). An error means the service itself failed.
type Service interface {
	Lookup(ctx context.Context, m Mention) (common.Concept, bool, error)
}

// Candidate is one possible reading of a surface form.
type Candidate struct {
	Concept    common.Concept
	EntityType common.EntityType
	HintTypes  []common.EntityType
	HintTerms  []string
}

// pick selects the candidate whose hints overlap most with the mention's
// context. Ties go to the earliest candidate, which is the most common
// reading.
func pick(m Mention, candidates []Candidate) (common.Concept, bool) {
	if len(candidates) == 0 {
		return common.Concept{}, false
	}
	if len(candidates) == 1 {
		return candidates[0].Concept, true
	}

	terms := make([]string, 0, len(m.ContextTerms))
	for _, t := range m.ContextTerms {
		if k := common.TextKey(t); k != "" {
			terms = append(terms, k)
		}
	}

	best, bestScore := 0, -1
	for i, c := range candidates {
		score := 0
		if m.Type != "" && c.EntityType == m.Type {
			score += 2
		}
		for _, ht := range c.HintTypes {
			for _, ct := range m.Context {
				if ht == ct {
					score++
					break
				}
			}
		}
		for _, hint := range c.HintTerms {
			for _, t := range terms {
				if strings.Contains(t, hint) {
					score++
					break
				}
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return candidates[best].Concept, true
}
