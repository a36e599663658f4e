package extract

import (
	"context"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
)

var (
	treatsCues     = []string{" for ", " treats ", " treated with ", " treating ", " to treat ", " prescribed for ", " started on ", " managed with ", " controlled with ", " on "}
	causedByCues   = []string{" due to ", " caused by ", " secondary to ", " because of ", " from "}
	causesCues     = []string{" causes ", " causing ", " leading to ", " led to ", " resulting in ", " results in "}
	locatedCues    = []string{" ", " in ", " of ", " on ", " at ", " in the ", " of the ", " on the ", " at the ", " over ", " over the "}
	precedesCues   = []string{" followed by ", " then ", " and then ", " before ", " prior to ", " subsequently "}
	afterCues      = []string{" after "}
	associatedCues = []string{" associated with ", " with ", " related to ", " in the setting of "}
)

const (
	confidenceCue        = 0.85
	confidenceLocated    = 0.8
	confidenceSequence   = 0.8
	confidenceAssociated = 0.75
	confidenceNear       = 0.72
	confidenceFar        = 0.6

	coOccurrenceClose = 40
)

// PatternRelationMethod relates entity mentions that share a sentence,
// typed by the cue phrase between them.
type PatternRelationMethod struct{}

func NewPatternRelationMethod() *PatternRelationMethod {
	return &PatternRelationMethod{}
}

func (m *PatternRelationMethod) Method() common.ExtractionMethod {
	return common.MethodPattern
}

type mention struct {
	span
	entity common.Entity
}

func (m *PatternRelationMethod) ExtractRelationships(
	ctx context.Context,
	_ common.Record,
	text string,
	entities []common.Entity,
) ([]common.Relationship, error) {
	var out []common.Relationship
	for _, sentence := range splitSentences(text) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lower := strings.ToLower(sentence)
		mentions := findMentions(lower, entities)

		for i := 0; i < len(mentions); i++ {
			for j := i + 1; j < len(mentions); j++ {
				a, b := mentions[i], mentions[j]
				if a.entity.Key() == b.entity.Key() {
					continue
				}
				r, ok := classify(a.entity, b.entity, lower[a.end:b.start])
				if !ok {
					continue
				}
				r.ContextSnippet = sentence
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// findMentions locates the first whole-word occurrence of every entity in
// the lowered sentence. Longer mentions win over mentions they contain.
func findMentions(lower string, entities []common.Entity) []mention {
	var all []mention
	seen := make(map[common.EntityKey]bool, len(entities))
	for _, e := range entities {
		if seen[e.Key()] {
			continue
		}
		seen[e.Key()] = true
		needle := strings.ToLower(e.Text)
		if i := indexWord(lower, needle); i >= 0 {
			all = append(all, mention{span: span{i, i + len(needle)}, entity: e})
		}
	}

	slices.SortFunc(all, func(a, b mention) int {
		if a.start != b.start {
			return a.start - b.start
		}
		return (b.end - b.start) - (a.end - a.start)
	})

	out := make([]mention, 0, len(all))
	for _, m := range all {
		if n := len(out); n > 0 && out[n-1].overlaps(m.span) {
			if m.end-m.start > out[n-1].end-out[n-1].start {
				out[n-1] = m
			}
			continue
		}
		out = append(out, m)
	}
	return out
}

func classify(a, b common.Entity, between string) (common.Relationship, bool) {
	cue := " " + strings.Join(strings.Fields(between), " ") + " "
	if strings.TrimSpace(between) == "" {
		cue = " "
	}

	rel := func(src, tgt common.Entity, t common.RelationshipType, conf float64) (common.Relationship, bool) {
		return common.Relationship{
			SourceKey:  src.Key(),
			TargetKey:  tgt.Key(),
			Type:       t,
			Confidence: conf,
		}, true
	}

	switch {
	case hasCue(cue, treatsCues) && isTreatment(a) && isFinding(b):
		return rel(a, b, common.RelTreats, confidenceCue)
	case hasCue(cue, treatsCues) && isTreatment(b) && isFinding(a):
		return rel(b, a, common.RelTreats, confidenceCue)
	case hasCue(cue, causedByCues) && isFinding(a) && isFinding(b):
		return rel(b, a, common.RelCauses, confidenceCue)
	case hasCue(cue, causesCues) && isFinding(a) && isFinding(b):
		return rel(a, b, common.RelCauses, confidenceCue)
	case slices.Contains(locatedCues, cue) && isLocatable(a) && b.Type == common.EntityBodyPart:
		return rel(a, b, common.RelLocatedIn, confidenceLocated)
	case slices.Contains(locatedCues, cue) && a.Type == common.EntityBodyPart && isLocatable(b):
		return rel(b, a, common.RelLocatedIn, confidenceLocated)
	case hasCue(cue, precedesCues):
		return rel(a, b, common.RelPrecedes, confidenceSequence)
	case hasCue(cue, afterCues):
		return rel(b, a, common.RelPrecedes, confidenceSequence)
	case hasCue(cue, associatedCues):
		return rel(a, b, common.RelAssociatedWith, confidenceAssociated)
	case len(between) <= coOccurrenceClose:
		return rel(a, b, common.RelCoOccursWith, confidenceNear)
	default:
		return rel(a, b, common.RelCoOccursWith, confidenceFar)
	}
}

func hasCue(s string, cues []string) bool {
	for _, c := range cues {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}

func isTreatment(e common.Entity) bool {
	return e.Type == common.EntityMedication || e.Type == common.EntityProcedure
}

func isFinding(e common.Entity) bool {
	return e.Type == common.EntityCondition || e.Type == common.EntitySymptom
}

func isLocatable(e common.Entity) bool {
	return isFinding(e) || e.Type == common.EntityProcedure
}

// indexWord finds needle in s where it is not part of a longer word.
func indexWord(s, needle string) int {
	if needle == "" {
		return -1
	}
	for off := 0; off < len(s); {
		i := strings.Index(s[off:], needle)
		if i < 0 {
			return -1
		}
		i += off
		end := i + len(needle)
		before, _ := utf8.DecodeLastRuneInString(s[:i])
		after, _ := utf8.DecodeRuneInString(s[end:])
		if (i == 0 || !isWordRune(before)) && (end == len(s) || !isWordRune(after)) {
			return i
		}
		off = i + 1
	}
	return -1
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// splitSentences splits on sentence punctuation followed by whitespace and
// on line breaks. Decimal points stay inside their sentence.
func splitSentences(text string) []string {
	var out []string
	start := 0
	flush := func(end int) {
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, s)
		}
		start = end
	}
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n':
			flush(i)
		case '.', '!', '?', ';':
			if i+1 == len(text) || isSpaceByte(text[i+1]) {
				flush(i + 1)
			}
		}
	}
	flush(len(text))
	return out
}
