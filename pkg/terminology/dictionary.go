package terminology

import (
	"context"
	"strings"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
)

// Code is an additional coding of a concept, e.g. the ICD-10 code of a
// SNOMED disorder.
type Code struct {
	System string
	Code   string
}

// Entry is one canonical concept of a Dictionary with its surface forms.
type Entry struct {
	System     string
	Code       string
	Display    string
	Category   string
	EntityType common.EntityType

	AltCodes      []Code
	Synonyms      []string
	Abbreviations []string

	// HintTypes and HintTerms describe the context in which an ambiguous
	// abbreviation takes this reading.
	HintTypes []common.EntityType
	HintTerms []string
}

// Concept returns the canonical concept of the entry.
func (e Entry) Concept() common.Concept {
	return common.Concept{
		ID:       ConceptID(e.System, e.Code),
		Category: e.Category,
		Display:  e.Display,
	}
}

func (e Entry) candidate() Candidate {
	return Candidate{
		Concept:    e.Concept(),
		EntityType: e.EntityType,
		HintTypes:  e.HintTypes,
		HintTerms:  e.HintTerms,
	}
}

// SurfaceForms returns the display, synonyms and abbreviations of the entry.
func (e Entry) SurfaceForms() []string {
	forms := make([]string, 0, 1+len(e.Synonyms)+len(e.Abbreviations))
	forms = append(forms, e.Display)
	forms = append(forms, e.Synonyms...)
	forms = append(forms, e.Abbreviations...)
	return forms
}

// Dictionary is an in-memory terminology Service.
type Dictionary struct {
	entries []Entry
	byCode  map[string]int
	byText  map[string][]int
}

// NewDictionary indexes entries by code and by every surface form. Entries
// listed first win ties between ambiguous surface forms.
func NewDictionary(entries []Entry) *Dictionary {
	d := &Dictionary{
		entries: entries,
		byCode:  make(map[string]int, len(entries)),
		byText:  make(map[string][]int),
	}
	for i, e := range entries {
		d.byCode[codeKey(e.System, e.Code)] = i
		for _, alt := range e.AltCodes {
			d.byCode[codeKey(alt.System, alt.Code)] = i
		}
		for _, form := range e.SurfaceForms() {
			k := common.TextKey(form)
			if k == "" || containsIndex(d.byText[k], i) {
				continue
			}
			d.byText[k] = append(d.byText[k], i)
		}
	}
	return d
}

// DefaultDictionary returns a dictionary with the built-in concepts.
func DefaultDictionary() *Dictionary {
	return NewDictionary(defaultEntries)
}

// Entries returns the indexed entries.
func (d *Dictionary) Entries() []Entry {
	return d.entries
}

// Lookup resolves coded mentions by code and falls back to the text for
// unknown codes or uncoded mentions.
func (d *Dictionary) Lookup(ctx context.Context, m Mention) (common.Concept, bool, error) {
	if err := ctx.Err(); err != nil {
		return common.Concept{}, false, err
	}
	if m.Coded() {
		if i, ok := d.byCode[codeKey(m.System, m.Code)]; ok {
			return d.entries[i].Concept(), true, nil
		}
	}

	idx := d.byText[common.TextKey(m.Text)]
	if len(idx) == 0 {
		idx = d.byText[common.TextKey(trimPunct(m.Text))]
	}
	candidates := make([]Candidate, 0, len(idx))
	for _, i := range idx {
		candidates = append(candidates, d.entries[i].candidate())
	}
	c, ok := pick(m, candidates)
	return c, ok, nil
}

func codeKey(system, code string) string {
	return CanonicalSystem(system) + "|" + strings.TrimSpace(code)
}

func trimPunct(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return strings.ContainsRune(".,;:!?()[]\"'", r)
	})
}

func containsIndex(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

var _ Service = (*Dictionary)(nil)
