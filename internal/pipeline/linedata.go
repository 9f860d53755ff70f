package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/anortham/codesearch-engine/internal/indexstore"
)

// LineDataVersion is stamped onto every serialized LineData so a future
// format change can be detected and migrated rather than silently misread.
const LineDataVersion = 1

// ContextRadius is the fixed number of lines captured around a term's
// first occurrence.
const ContextRadius = 3

// FirstMatch records where a term first occurs in a document.
type FirstMatch struct {
	LineNumber           int    `json:"lineNumber"`
	LineText             string `json:"lineText"`
	SurroundingContext   string `json:"surroundingContextLines"`
	StartLine            int    `json:"startLine"`
	EndLine              int    `json:"endLine"`
}

// LineData is the per-document line-aware posting list. It is produced by
// a single pass over file content and serialized into the document's
// opaque line-data field.
type LineData struct {
	Lines       []string                `json:"lines"`
	TermLineMap map[string][]int        `json:"termLineMap"`
	FirstMatches map[string]FirstMatch  `json:"firstMatches"`
}

// ExtractLineData tokenizes content line by line, recording every line a
// term appears on and the first occurrence's surrounding context. It
// splits lines with indexstore's own TokenizeCode, then drops terms of two
// characters or fewer and the words in this package's own stop-word list.
func ExtractLineData(content string) *LineData {
	lines := splitLines(content)
	ld := &LineData{
		Lines:        lines,
		TermLineMap:  make(map[string][]int),
		FirstMatches: make(map[string]FirstMatch),
	}

	stop := stopWordSet()
	for i, line := range lines {
		lineNo := i + 1
		for _, raw := range indexstore.TokenizeCode(line) {
			term := strings.ToLower(raw)
			if len(term) <= 2 || stop[term] {
				continue
			}
			seen := ld.TermLineMap[term]
			if len(seen) > 0 && seen[len(seen)-1] == lineNo {
				continue
			}
			ld.TermLineMap[term] = append(seen, lineNo)

			if _, ok := ld.FirstMatches[term]; !ok {
				start := max(1, lineNo-ContextRadius)
				end := min(len(lines), lineNo+ContextRadius)
				ld.FirstMatches[term] = FirstMatch{
					LineNumber:         lineNo,
					LineText:           line,
					SurroundingContext: strings.Join(lines[start-1:end], "\n"),
					StartLine:          start,
					EndLine:            end,
				}
			}
		}
	}
	return ld
}

func splitLines(content string) []string {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if normalized == "" {
		return []string{""}
	}
	return strings.Split(normalized, "\n")
}

var genericStopWords = []string{
	"the", "and", "or", "a", "an", "is", "are", "was", "were", "be", "been",
	"to", "of", "in", "on", "at", "for", "with", "by", "from", "as", "it",
	"this", "that", "these", "those", "not", "but", "if", "then", "else",
}

func stopWordSet() map[string]bool {
	m := make(map[string]bool, len(genericStopWords))
	for _, w := range genericStopWords {
		m[w] = true
	}
	return m
}

// Marshal serializes LineData into the opaque JSON blob stored alongside
// LineDataVersion on the document.
func (ld *LineData) Marshal() (string, error) {
	data, err := json.Marshal(ld)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Unmarshal decodes a previously stored LineData blob.
func Unmarshal(blob string) (*LineData, error) {
	var ld LineData
	if err := json.Unmarshal([]byte(blob), &ld); err != nil {
		return nil, err
	}
	return &ld, nil
}
