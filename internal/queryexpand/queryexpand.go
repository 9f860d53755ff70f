// Package queryexpand implements natural-language query detection,
// code-identifier extraction, and domain-synonym expansion for memory
// search, plus the non-NL boolean/field/wildcard query path. Expansion
// follows a tokenize → original terms → synonym expansion → casing
// variants pipeline, deduplicated, adapted from "expand a query string for
// BM25" to "build a bleve Query object".
package queryexpand

import (
	"math"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/anortham/codesearch-engine/internal/indexstore"
)

// AllField is the synthesized field every expanded/phrase query targets,
// matching Memory's derived _all field.
const AllField = "all"

// nlWords triggers natural-language detection regardless of word count.
var nlWords = map[string]bool{}

func init() {
	for _, w := range []string{
		"that", "about", "where", "when", "how", "what", "which", "why",
		"find", "show", "get", "need", "remember", "recall", "was", "were",
		"discussed", "mentioned", "talked", "related", "regarding", "concerning",
	} {
		nlWords[w] = true
	}
}

// stopWords are dropped from natural-language tokenization before
// expansion, distinct from the NL-detection word list above (several NL
// trigger words, like "find" and "where", are deliberately kept as search
// terms rather than treated as noise).
var stopWords = indexstore.BuildStopWordMap([]string{
	"the", "and", "or", "a", "an", "is", "are", "be", "been", "to", "of",
	"in", "on", "at", "for", "with", "by", "from", "as", "it", "this",
	"these", "those", "i", "you", "me", "my", "can", "do", "does", "did",
})

// specialChars are the Lucene-style characters that must be escaped in any
// literal term built into a query.
const specialChars = `+-&&||!(){}[]^"~*?:\/`

// EscapeLucene backslash-escapes every Lucene special character in s.
func EscapeLucene(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(specialChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsNaturalLanguage reports whether query reads as natural language rather
// than a structured boolean/field query: it contains a trigger word, or it
// has more than three words and none of the boolean query syntax
// characters.
func IsNaturalLanguage(q string) bool {
	lower := strings.ToLower(q)
	for w := range nlWords {
		if containsWord(lower, w) {
			return true
		}
	}
	words := strings.Fields(q)
	if len(words) > 3 && !strings.ContainsAny(q, `:*~`) &&
		!strings.Contains(q, " AND ") && !strings.Contains(q, " OR ") {
		return true
	}
	return false
}

func containsWord(haystack, word string) bool {
	for _, w := range strings.FieldsFunc(haystack, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if w == word {
			return true
		}
	}
	return false
}

// ExtractIdentifierTokens splits a raw query word into its code-identifier
// parts (PascalCase, camelCase, snake_case, CONSTANT_CASE), reusing the
// index store's own tokenizer so index-time and query-time splitting
// always agree.
func ExtractIdentifierTokens(word string) []string {
	return indexstore.SplitCodeToken(word)
}

// Expand returns the domain-synonym expansions of term in both directions:
// term's own synonym-table entries, plus any key whose value list contains
// term (so "func" also surfaces "function").
func Expand(term string) []string {
	term = strings.ToLower(term)
	seen := map[string]bool{term: true}
	var out []string

	if syns, ok := DomainSynonyms[term]; ok {
		for _, s := range syns {
			sl := strings.ToLower(s)
			if !seen[sl] {
				out = append(out, sl)
				seen[sl] = true
			}
		}
	}
	for key, syns := range DomainSynonyms {
		for _, s := range syns {
			if strings.ToLower(s) == term && !seen[key] {
				out = append(out, key)
				seen[key] = true
			}
		}
	}
	return out
}

// BuildQuery builds the bleve query for a memory search. "*" means
// match-all. Natural-language queries are expanded into a SHOULD/phrase
// query over the all field (no clause carries a boost); everything else is parsed as a
// standard bleve boolean/field/wildcard query, falling back to a single
// term query on _all if parsing fails.
func BuildQuery(q string) bleve.Query {
	trimmed := strings.TrimSpace(q)
	if trimmed == "" || trimmed == "*" {
		return bleve.NewMatchAllQuery()
	}
	if IsNaturalLanguage(trimmed) {
		return buildNLQuery(trimmed)
	}
	parsed, err := query.ParseQuerySyntax(trimmed)
	if err != nil {
		return fallbackTermQuery(trimmed)
	}
	return parsed
}

func fallbackTermQuery(q string) bleve.Query {
	tq := bleve.NewTermQuery(strings.ToLower(q))
	tq.SetField(AllField)
	return tq
}

func buildNLQuery(q string) bleve.Query {
	words := strings.Fields(q)
	var rawTerms []string
	seen := map[string]bool{}
	var expanded []string

	addTerm := func(t string) {
		if !seen[t] {
			expanded = append(expanded, t)
			seen[t] = true
		}
	}

	for _, w := range words {
		trimmed := strings.Trim(w, ".,!?;:()[]{}\"'")
		lower := strings.ToLower(trimmed)
		if len(lower) <= 2 || stopWords[lower] {
			continue
		}
		rawTerms = append(rawTerms, lower)
		addTerm(lower)
		for _, part := range ExtractIdentifierTokens(trimmed) {
			pl := strings.ToLower(part)
			if len(pl) > 2 && !stopWords[pl] {
				addTerm(pl)
			}
		}
	}

	if len(expanded) == 0 {
		return fallbackTermQuery(q)
	}

	base := make([]string, len(expanded))
	copy(base, expanded)
	for _, t := range base {
		for _, syn := range Expand(t) {
			addTerm(syn)
		}
	}

	termQueries := make([]query.Query, 0, len(expanded))
	for _, t := range expanded {
		tq := bleve.NewTermQuery(EscapeLucene(t))
		tq.SetField(AllField)
		termQueries = append(termQueries, tq)
	}
	disj := bleve.NewDisjunctionQuery(termQueries...)
	disj.SetMin(math.Max(1, math.Floor(float64(len(expanded))/3)))

	outer := bleve.NewBooleanQuery()
	outer.AddShould(disj)
	if len(rawTerms) > 0 {
		phrase := bleve.NewMatchPhraseQuery(strings.Join(rawTerms, " "))
		phrase.SetField(AllField)
		outer.AddShould(phrase)
	}
	outer.SetMinShould(1)
	return outer
}
