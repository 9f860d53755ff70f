// File content search: the engine's own operation for searching indexed
// source documents (as opposed to memorystore.Store.Search, which searches
// memory records). Builds its bleve query the same way memory search does,
// narrowed to the file document fields, and uses pipeline.LineData to turn
// a hit into a precise line location.
package engine

import (
	"context"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"

	"github.com/anortham/codesearch-engine/internal/indexstore"
	"github.com/anortham/codesearch-engine/internal/pipeline"
	"github.com/anortham/codesearch-engine/internal/queryexpand"
)

// FileHit is one matched source document, with the first line a query
// term appears on (if determinable from the document's LineData).
type FileHit struct {
	Path       string
	Score      float64
	LineNumber int
	LineText   string
	Context    string
}

// SearchFiles runs a text search over workspaceHash's indexed source
// documents, building the query the same way memory search builds one,
// and resolving each hit's first matching line via its stored LineData
// blob.
func (e *Engine) SearchFiles(ctx context.Context, workspaceHash, q string, maxResults int) ([]FileHit, error) {
	if maxResults <= 0 {
		maxResults = 20
	}
	indexDir := e.resolver.IndexDir(workspaceHash)
	searcher, err := e.indexStore.Searcher(indexDir)
	if err != nil {
		return nil, err
	}

	breq := bleve.NewSearchRequest(queryexpand.BuildQuery(q))
	breq.Size = maxResults
	breq.Fields = []string{"path", "content", "lineData"}

	res, err := searcher.Search(ctx, breq)
	if err != nil {
		return nil, err
	}

	queryTerms := indexstore.TokenizeCode(q)

	hits := make([]FileHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		hits = append(hits, hitToFileHit(hit, queryTerms))
	}
	return hits, nil
}

func hitToFileHit(hit *search.DocumentMatch, queryTerms []string) FileHit {
	path := fieldStringOf(hit.Fields, "path")
	blob := fieldStringOf(hit.Fields, "lineData")

	fh := FileHit{Path: path, Score: hit.Score}
	if blob == "" {
		return fh
	}
	ld, err := pipeline.Unmarshal(blob)
	if err != nil {
		return fh
	}

	best := -1
	for _, term := range queryTerms {
		fm, ok := ld.FirstMatches[term]
		if !ok {
			continue
		}
		if best == -1 || fm.LineNumber < best {
			best = fm.LineNumber
			fh.LineNumber = fm.LineNumber
			fh.LineText = fm.LineText
			fh.Context = fm.SurroundingContext
		}
	}
	return fh
}

func fieldStringOf(f map[string]interface{}, key string) string {
	if v, ok := f[key].(string); ok {
		return v
	}
	return ""
}
