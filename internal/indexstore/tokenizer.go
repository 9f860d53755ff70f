package indexstore

import (
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2/analysis"
	bleveregistry "github.com/blevesearch/bleve/v2/registry"
)

// DefaultCodeStopWords are generic filler words excluded from the bleve
// analyzer's term stream. The pipeline's line extraction (term_line_map /
// first_matches) uses its own, longer stop-word list.
var DefaultCodeStopWords = []string{
	"the", "and", "or", "a", "an", "is", "are", "was", "were", "be", "been",
	"to", "of", "in", "on", "at", "for", "with", "by", "from", "as", "it",
}

func codeTokenizerConstructor(config map[string]interface{}, cache *bleveregistry.Cache) (analysis.Tokenizer, error) {
	return &codeTokenizer{}, nil
}

type codeTokenizer struct{}

func (t *codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := TokenizeCode(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0
	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), strings.ToLower(token))
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)
		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return result
}

func codeStopFilterConstructor(config map[string]interface{}, cache *bleveregistry.Cache) (analysis.TokenFilter, error) {
	return &codeStopFilter{stopWords: BuildStopWordMap(DefaultCodeStopWords)}, nil
}

type codeStopFilter struct {
	stopWords map[string]struct{}
}

func (f *codeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[strings.ToLower(string(token.Term))]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// TokenizeCode splits text with code-aware rules: camelCase/PascalCase/
// snake_case boundaries, lowercased, tokens shorter than 2 characters
// dropped. Shared by the bleve analyzer above and by query expansion so
// index-time and query-time tokenization always agree.
func TokenizeCode(text string) []string {
	var tokens []string
	for _, word := range splitWords(text) {
		for _, t := range SplitCodeToken(word) {
			lower := strings.ToLower(t)
			if len(lower) >= 2 {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

func splitWords(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return words
}

// SplitCodeToken splits snake_case/CONSTANT_CASE first, then camelCase
// within each underscore-delimited part.
func SplitCodeToken(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, SplitCamelCase(part)...)
			}
		}
		return result
	}
	return SplitCamelCase(token)
}

// SplitCamelCase splits camelCase, PascalCase, and acronym runs:
// "getUserByID" -> ["get", "User", "By", "ID"].
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}
	var result []string
	var cur strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || nextLower {
				if cur.Len() > 0 {
					result = append(result, cur.String())
					cur.Reset()
				}
			}
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		result = append(result, cur.String())
	}
	return result
}

// BuildStopWordMap converts a slice of stop words into a lookup set.
func BuildStopWordMap(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}
