package extract

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/terminology"
)

var (
	labValueRe = regexp.MustCompile(`(?i)\b(hemoglobin\s+a1c|hba1c|a1c|glucose|troponin(?:\s+[it])?|creatinine|hemoglobin|hgb|potassium|sodium|ldl|hdl|wbc|tsh|inr|bnp)\b[^\d\n.;]{0,12}?(\d+(?:\.\d+)?)(\s*(?:%|mg/dl|mmol/l|ng/ml|ng/l|g/dl|meq/l|miu/l|u/l|k/ul))?`)

	temporalRe = regexp.MustCompile(`(?i)\b(?:\d+\s+(?:hours?|days?|weeks?|months?|years?)\s+ago|(?:for|over)\s+(?:the\s+)?(?:past\s+|last\s+)?\d+\s+(?:hours?|days?|weeks?|months?|years?)|since\s+(?:\d{4}|yesterday|last\s+(?:night|week|month|year))|yesterday|last\s+(?:night|week|month|year)|\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4})\b`)

	doseRe = regexp.MustCompile(`(?i)\b([a-z][a-z-]{3,})\s+\d+(?:\.\d+)?\s*(?:mg|mcg|g|ml|units?|iu)\b`)

	negationRe = regexp.MustCompile(`(?i)\b(?:no|not|denies|denied|without|negative for|ruled out|free of|absence of)\b`)
)

var doseStopWords = []string{"take", "takes", "taking", "dose", "total", "with", "given", "daily", "about", "approximately", "than"}

const (
	confidenceTerm         = 0.95
	confidenceAbbreviation = 0.8
	confidenceAmbiguous    = 0.05
	confidenceLabUnit      = 0.9
	confidenceLabNoUnit    = 0.8
	confidenceTemporal     = 0.85
	confidenceDose         = 0.75
	negationFactor         = 0.7
	negationWindow         = 48
)

// PatternMethod extracts entities with a terminology lexicon and a handful
// of regular expressions for lab values, temporal expressions and dosed
// medications. Negated mentions are down-weighted.
type PatternMethod struct {
	lex *Lexicon
}

// NewPatternMethod builds the lexicon from entries. Nil entries use the
// built-in terminology dictionary.
func NewPatternMethod(entries []terminology.Entry) *PatternMethod {
	if entries == nil {
		entries = terminology.DefaultDictionary().Entries()
	}
	return &PatternMethod{lex: NewLexicon(entries)}
}

func (m *PatternMethod) Method() common.ExtractionMethod {
	return common.MethodPattern
}

type span struct {
	start, end int
}

func (s span) overlaps(o span) bool {
	return s.start < o.end && o.start < s.end
}

type found struct {
	span
	entity common.Entity
}

func (m *PatternMethod) ExtractEntities(
	ctx context.Context,
	_ common.Record,
	text string,
) ([]common.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var hits []found
	taken := func(s span) bool {
		for _, h := range hits {
			if h.overlaps(s) {
				return true
			}
		}
		return false
	}

	for _, loc := range labValueRe.FindAllStringSubmatchIndex(text, -1) {
		conf := confidenceLabNoUnit
		if loc[6] >= 0 {
			conf = confidenceLabUnit
		}
		hits = append(hits, found{
			span:   span{loc[0], loc[1]},
			entity: common.Entity{Text: text[loc[0]:loc[1]], Type: common.EntityLabValue, Confidence: conf},
		})
	}

	for _, loc := range temporalRe.FindAllStringIndex(text, -1) {
		s := span{loc[0], loc[1]}
		if taken(s) {
			continue
		}
		hits = append(hits, found{
			span:   s,
			entity: common.Entity{Text: text[loc[0]:loc[1]], Type: common.EntityTemporal, Confidence: confidenceTemporal},
		})
	}

	for _, lm := range m.lex.Match(text) {
		s := span{lm.Start, lm.End}
		if taken(s) {
			continue
		}
		conf := confidenceTerm
		if lm.Abbreviation {
			conf = confidenceAbbreviation
		}
		t := lm.Types[0]
		if len(lm.Types) > 1 {
			conf -= confidenceAmbiguous
			if slices.Contains(lm.Types, common.EntityMedication) && doseFollows(text[lm.End:]) {
				t = common.EntityMedication
			}
		}
		hits = append(hits, found{
			span:   s,
			entity: common.Entity{Text: lm.Text, Type: t, Confidence: conf},
		})
	}

	for _, loc := range doseRe.FindAllStringSubmatchIndex(text, -1) {
		if loc[1] < len(text) && text[loc[1]] == '/' {
			continue
		}
		s := span{loc[2], loc[3]}
		name := text[loc[2]:loc[3]]
		if taken(s) || m.lex.Has(name) || slices.Contains(doseStopWords, strings.ToLower(name)) {
			continue
		}
		hits = append(hits, found{
			span:   s,
			entity: common.Entity{Text: name, Type: common.EntityMedication, Confidence: confidenceDose},
		})
	}

	slices.SortFunc(hits, func(a, b found) int { return a.start - b.start })

	out := make([]common.Entity, 0, len(hits))
	for _, h := range hits {
		e := h.entity
		if e.Type != common.EntityTemporal && negated(text, h.start) {
			e.Confidence *= negationFactor
		}
		out = append(out, e)
	}
	return out, nil
}

var doseAheadRe = regexp.MustCompile(`(?i)^\s*\d+(?:\.\d+)?\s*(?:mg|mcg|g|ml|units?|iu)\b`)

func doseFollows(rest string) bool {
	return doseAheadRe.MatchString(rest)
}

// negated reports whether a negation cue precedes pos in the same sentence.
func negated(text string, pos int) bool {
	from := max(0, pos-negationWindow)
	window := text[from:pos]
	if i := strings.LastIndexAny(window, ".;!?\n"); i >= 0 {
		window = window[i+1:]
	}
	return negationRe.MatchString(window)
}
