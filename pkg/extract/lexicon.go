package extract

import (
	"regexp"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/terminology"
)

var tokenRe = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}'-]*`)

type token struct {
	text  string
	start int
	end   int
}

func tokenize(s string) []token {
	locs := tokenRe.FindAllStringIndex(s, -1)
	tokens := make([]token, len(locs))
	for i, loc := range locs {
		tokens[i] = token{text: s[loc[0]:loc[1]], start: loc[0], end: loc[1]}
	}
	return tokens
}

type lexEntry struct {
	types   []common.EntityType
	full    bool
	abbrevs []string
}

// Lexicon finds known surface forms in text. Full terms match case
// insensitively, abbreviations only in the exact case they are listed in.
type Lexicon struct {
	terms    map[string]*lexEntry
	maxWords int
}

// NewLexicon indexes the surface forms of entries.
func NewLexicon(entries []terminology.Entry) *Lexicon {
	l := &Lexicon{terms: make(map[string]*lexEntry)}
	add := func(form string, t common.EntityType, abbrev bool) {
		k := common.TextKey(form)
		if k == "" {
			return
		}
		e, ok := l.terms[k]
		if !ok {
			e = &lexEntry{}
			l.terms[k] = e
		}
		if !slices.Contains(e.types, t) {
			e.types = append(e.types, t)
		}
		if abbrev {
			e.abbrevs = append(e.abbrevs, strings.TrimSpace(form))
		} else {
			e.full = true
		}
		l.maxWords = max(l.maxWords, len(strings.Fields(k)))
	}

	for _, e := range entries {
		add(e.Display, e.EntityType, false)
		for _, s := range e.Synonyms {
			add(s, e.EntityType, false)
		}
		for _, a := range e.Abbreviations {
			add(a, e.EntityType, true)
		}
	}
	return l
}

// LexiconMatch is one surface form found in text.
type LexiconMatch struct {
	Start        int
	End          int
	Text         string
	Types        []common.EntityType
	Abbreviation bool
}

// Match returns the longest non-overlapping matches from left to right.
// Multi-word terms only match across plain whitespace.
func (l *Lexicon) Match(text string) []LexiconMatch {
	tokens := tokenize(text)
	var out []LexiconMatch

	for i := 0; i < len(tokens); {
		matched := 0
		for n := min(l.maxWords, len(tokens)-i); n > 0; n-- {
			if !contiguous(text, tokens[i:i+n]) {
				continue
			}
			words := make([]string, n)
			for j := range n {
				words[j] = strings.ToLower(tokens[i+j].text)
			}
			e, ok := l.terms[strings.Join(words, " ")]
			if !ok {
				continue
			}

			span := text[tokens[i].start:tokens[i+n-1].end]
			abbrev := false
			if !e.full {
				if !slices.Contains(e.abbrevs, span) {
					continue
				}
				abbrev = true
			}
			out = append(out, LexiconMatch{
				Start:        tokens[i].start,
				End:          tokens[i+n-1].end,
				Text:         span,
				Types:        e.types,
				Abbreviation: abbrev,
			})
			matched = n
			break
		}
		if matched == 0 {
			matched = 1
		}
		i += matched
	}
	return out
}

// Has reports whether form is a known full term or abbreviation.
func (l *Lexicon) Has(form string) bool {
	_, ok := l.terms[common.TextKey(form)]
	return ok
}

func contiguous(text string, tokens []token) bool {
	for j := 1; j < len(tokens); j++ {
		if strings.TrimSpace(text[tokens[j-1].end:tokens[j].start]) != "" {
			return false
		}
	}
	return true
}
