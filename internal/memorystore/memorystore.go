// Package memorystore continued: the Store type implementing the public
// store/search/update/similar operations. Routing between the shared
// "project" index and the private "local" index is keyed purely by
// Memory.IsShared; both are plain indexstore.Store indexes rooted at the
// paths pathresolve.Resolver hands out, with no per-workspace split.
package memorystore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/google/uuid"

	"github.com/anortham/codesearch-engine/internal/facet"
	"github.com/anortham/codesearch-engine/internal/indexstore"
	"github.com/anortham/codesearch-engine/internal/queryexpand"
	"github.com/anortham/codesearch-engine/internal/semantic"
)

// recencyFullYear is the window the recency boost decays over: 1.0 at
// now, 0.1 at one year old.
const recencyFullYear = 365 * 24 * time.Hour

var fieldKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

var orderByAllowList = map[string]bool{
	"created": true, "modified": true, "type": true, "score": true,
}

// Store is the memory record store, built over two indexstore-backed
// indexes.
type Store struct {
	idx *indexstore.Store

	projectPath string
	localPath   string

	facets   *facet.Service
	semantic semantic.Backend // optional; nil disables semantic similarity

	// accessMu serializes the batch access-count update step; cross-process
	// exclusion for the index itself is already provided by the index
	// store's single-writer discipline, so this only needs to be
	// process-local.
	accessMu sync.Mutex
}

// New creates a Store. semanticBackend may be nil.
func New(idx *indexstore.Store, projectPath, localPath string, facets *facet.Service, semanticBackend semantic.Backend) *Store {
	return &Store{
		idx:         idx,
		projectPath: projectPath,
		localPath:   localPath,
		facets:      facets,
		semantic:    semanticBackend,
	}
}

func (s *Store) pathFor(isShared bool) string {
	if isShared {
		return s.projectPath
	}
	return s.localPath
}

// ContentByID implements semantic.MemoryLookup so a semantic.Orchestrator
// can resolve FindSimilar's source id without importing this package.
func (s *Store) ContentByID(id string) (string, bool) {
	m, ok, err := s.GetByID(context.Background(), id)
	if err != nil || !ok {
		return "", false
	}
	return m.Content, true
}

// Store validates, assigns an id/timestamps if needed, routes by
// IsShared, and writes m.
func (s *Store) Store(ctx context.Context, m *Memory) (bool, error) {
	if m == nil || strings.TrimSpace(m.Content) == "" {
		return false, nil
	}
	now := time.Now().UTC()

	existing := m.ID != ""
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Created.IsZero() {
		m.Created = now
	}
	m.Modified = now

	writer, err := s.idx.Writer(s.pathFor(m.IsShared))
	if err != nil {
		return false, err
	}
	doc := memoryToDocument(m)
	if existing {
		err = writer.Update(m.ID, doc)
	} else {
		err = writer.Add(doc)
	}
	if err != nil {
		return false, err
	}
	if err := writer.Commit(ctx); err != nil {
		return false, err
	}

	s.invalidateFacets(m.IsShared)
	s.indexSemantic(ctx, m)
	return true, nil
}

// Update loads the existing memory, applies req's patch, and re-stores it.
// FieldUpdates entries with a nil value delete that field.
func (s *Store) Update(ctx context.Context, req UpdateRequest) (bool, error) {
	m, ok, err := s.GetByID(ctx, req.ID)
	if err != nil || !ok {
		return false, err
	}

	for key, v := range req.FieldUpdates {
		if v == nil {
			delete(m.Fields, key)
			continue
		}
		m.SetField(key, *v)
	}
	if req.Content != nil {
		m.Content = *req.Content
	}
	if len(req.AddFiles) > 0 {
		m.FilesInvolved = mergeFiles(m.FilesInvolved, req.AddFiles)
	}
	if len(req.RemoveFiles) > 0 {
		m.FilesInvolved = removeFiles(m.FilesInvolved, req.RemoveFiles)
	}

	return s.Store(ctx, m)
}

// GetByID runs a direct term query against both indexes and returns the
// first hit.
func (s *Store) GetByID(ctx context.Context, id string) (*Memory, bool, error) {
	for _, path := range []string{s.projectPath, s.localPath} {
		searcher, err := s.idx.Searcher(path)
		if err != nil {
			return nil, false, err
		}
		res, err := searcher.GetByTerm(ctx, "memoryId", id)
		if err != nil {
			return nil, false, err
		}
		if len(res.Hits) > 0 {
			doc, err := hitToDocument(res.Hits[0])
			if err != nil {
				return nil, false, err
			}
			return documentToMemory(doc), true, nil
		}
	}
	return nil, false, nil
}

// Similar builds a more-like-this query from id's own content, dedupes,
// and excludes the source memory.
func (s *Store) Similar(ctx context.Context, id string, k int) ([]*Memory, error) {
	m, ok, err := s.GetByID(ctx, id)
	if err != nil || !ok {
		return nil, err
	}
	if k <= 0 {
		k = 10
	}

	q := bleve.NewMatchQuery(m.Content)
	q.SetField(queryexpand.AllField)

	var out []*Memory
	seen := map[string]bool{id: true}
	for _, path := range []string{s.projectPath, s.localPath} {
		searcher, err := s.idx.Searcher(path)
		if err != nil {
			return nil, err
		}
		req := bleve.NewSearchRequest(q)
		req.Size = k + 1
		req.Fields = []string{"*"}
		res, err := searcher.Search(ctx, req)
		if err != nil {
			return nil, err
		}
		for _, hit := range res.Hits {
			doc, err := hitToDocument(hit)
			if err != nil {
				continue
			}
			if seen[doc.MemoryID] || doc.MemoryID == "" {
				continue
			}
			seen[doc.MemoryID] = true
			out = append(out, documentToMemory(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Modified.After(out[j].Modified) })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// FindByFile returns every non-archived memory whose files_involved
// contains path, across both indexes. Used by the lifecycle engine to find
// memories a file-change event might resolve or flag.
func (s *Store) FindByFile(ctx context.Context, path string) ([]*Memory, error) {
	q := bleve.NewTermQuery(path)
	q.SetField("filesInvolved")

	var out []*Memory
	for _, idxPath := range []string{s.projectPath, s.localPath} {
		searcher, err := s.idx.Searcher(idxPath)
		if err != nil {
			return nil, err
		}
		req := bleve.NewSearchRequest(q)
		req.Size = MaxResultsCap
		req.Fields = []string{"*"}
		res, err := searcher.Search(ctx, req)
		if err != nil {
			return nil, err
		}
		for _, hit := range res.Hits {
			doc, err := hitToDocument(hit)
			if err != nil {
				continue
			}
			m := documentToMemory(doc)
			if m.IsArchived() {
				continue
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// AllMemories returns every memory in the project index, and in the local
// index too when includeLocal is true, archived included. Used by the
// backup export step, which needs the full unfiltered set: a MatchAll
// query against each index.
func (s *Store) AllMemories(ctx context.Context, includeLocal bool) ([]*Memory, error) {
	paths := []string{s.projectPath}
	if includeLocal {
		paths = append(paths, s.localPath)
	}
	var out []*Memory
	for _, path := range paths {
		searcher, err := s.idx.Searcher(path)
		if err != nil {
			return nil, err
		}
		req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
		req.Size = MaxResultsCap
		req.Fields = []string{"*"}
		res, err := searcher.Search(ctx, req)
		if err != nil {
			return nil, err
		}
		for _, hit := range res.Hits {
			doc, err := hitToDocument(hit)
			if err != nil {
				continue
			}
			out = append(out, documentToMemory(doc))
		}
	}
	return out, nil
}

// Delete removes the memory with id from whichever index holds it. Used by
// backup import's rollback to undo a restore that failed partway through.
func (s *Store) Delete(ctx context.Context, id string) error {
	for _, isShared := range []bool{true, false} {
		path := s.pathFor(isShared)
		searcher, err := s.idx.Searcher(path)
		if err != nil {
			return err
		}
		res, err := searcher.GetByTerm(ctx, "memoryId", id)
		if err != nil {
			return err
		}
		if len(res.Hits) == 0 {
			continue
		}
		writer, err := s.idx.Writer(path)
		if err != nil {
			return err
		}
		if err := writer.Batch(nil, []string{id}); err != nil {
			return err
		}
		if err := writer.Commit(ctx); err != nil {
			return err
		}
		s.invalidateFacets(isShared)
		if s.semantic != nil {
			_ = s.semantic.Delete(ctx, id)
		}
		return nil
	}
	return nil
}

// Archive flips fields.archived=true on every memory of typ created
// before olderThan, without touching access counts, and returns the
// number archived.
func (s *Store) Archive(ctx context.Context, typ string, olderThan time.Time) (int, error) {
	count := 0
	for _, isShared := range []bool{true, false} {
		path := s.pathFor(isShared)
		searcher, err := s.idx.Searcher(path)
		if err != nil {
			return count, err
		}

		typeQ := bleve.NewTermQuery(typ)
		typeQ.SetField("memoryType")
		dateQ := bleve.NewNumericRangeQuery(nil, floatPtr(float64(olderThan.Unix())))
		dateQ.SetField("created")
		q := bleve.NewConjunctionQuery(typeQ, dateQ)

		req := bleve.NewSearchRequest(q)
		req.Size = MaxResultsCap
		req.Fields = []string{"*"}
		res, err := searcher.Search(ctx, req)
		if err != nil {
			return count, err
		}

		writer, err := s.idx.Writer(path)
		if err != nil {
			return count, err
		}
		for _, hit := range res.Hits {
			doc, err := hitToDocument(hit)
			if err != nil {
				continue
			}
			doc.Archived = true
			if err := writer.Update(doc.MemoryID, doc); err != nil {
				return count, err
			}
			count++
		}
		if count > 0 {
			if err := writer.Commit(ctx); err != nil {
				return count, err
			}
			s.invalidateFacets(isShared)
		}
	}
	return count, nil
}

// CleanupExpired hard-deletes WorkingMemory records whose expiresAt has
// passed.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	count := 0
	for _, isShared := range []bool{true, false} {
		path := s.pathFor(isShared)
		searcher, err := s.idx.Searcher(path)
		if err != nil {
			return count, err
		}
		typeQ := bleve.NewTermQuery(TypeWorkingMemory)
		typeQ.SetField("memoryType")
		req := bleve.NewSearchRequest(typeQ)
		req.Size = MaxResultsCap
		req.Fields = []string{"*"}
		res, err := searcher.Search(ctx, req)
		if err != nil {
			return count, err
		}

		var deleteIDs []string
		for _, hit := range res.Hits {
			doc, err := hitToDocument(hit)
			if err != nil {
				continue
			}
			m := documentToMemory(doc)
			if m.IsExpired(now) {
				deleteIDs = append(deleteIDs, doc.MemoryID)
			}
		}
		if len(deleteIDs) == 0 {
			continue
		}
		writer, err := s.idx.Writer(path)
		if err != nil {
			return count, err
		}
		if err := writer.Batch(nil, deleteIDs); err != nil {
			return count, err
		}
		if err := writer.Commit(ctx); err != nil {
			return count, err
		}
		for _, id := range deleteIDs {
			if s.semantic != nil {
				_ = s.semantic.Delete(ctx, id)
			}
		}
		count += len(deleteIDs)
		s.invalidateFacets(isShared)
	}
	return count, nil
}

func (s *Store) invalidateFacets(isShared bool) {
	if s.facets == nil {
		return
	}
	s.facets.Invalidate(s.pathFor(isShared))
}

// indexSemantic embeds content + type + files + selected fields.
func (s *Store) indexSemantic(ctx context.Context, m *Memory) {
	if s.semantic == nil {
		return
	}
	var b strings.Builder
	b.WriteString(m.Content)
	b.WriteByte(' ')
	b.WriteString(m.Type)
	for _, f := range m.FilesInvolved {
		b.WriteByte(' ')
		b.WriteString(f)
	}
	for _, key := range []string{"status", "priority", "category"} {
		if v := m.StringFieldOr(key, ""); v != "" {
			b.WriteByte(' ')
			b.WriteString(v)
		}
	}

	_ = s.semantic.Index(ctx, semantic.Item{
		ID:   m.ID,
		Text: b.String(),
		Metadata: map[string]string{
			"type":      m.Type,
			"is_shared": strconv.FormatBool(m.IsShared),
		},
	})
}

func mergeFiles(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string{}, existing...)
	for _, f := range existing {
		seen[f] = true
	}
	for _, f := range add {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func removeFiles(existing, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, f := range remove {
		drop[f] = true
	}
	out := make([]string, 0, len(existing))
	for _, f := range existing {
		if !drop[f] {
			out = append(out, f)
		}
	}
	return out
}

func floatPtr(f float64) *float64 { return &f }

// hitToDocument pulls typed fields out of hit.Fields by hand rather than
// round-tripping the whole map through indexstore.Document's JSON tags:
// bleve collapses a single-element stored array field to a bare scalar,
// which would break a struct-wide json.Unmarshal the moment
// filesInvolved held exactly one path. FilesJSON (an explicit blob, never
// touched by that collapsing) is what FilesInvolved's real value is read
// from; the rest are all scalar-typed fields bleve never collapses.
func hitToDocument(hit *search.DocumentMatch) (*indexstore.Document, error) {
	f := hit.Fields
	doc := &indexstore.Document{
		MemoryID:     hit.ID,
		MemoryType:   fieldString(f, "memoryType"),
		IsShared:     fieldBool(f, "isShared"),
		SessionID:    fieldString(f, "sessionId"),
		Created:      fieldInt64(f, "created"),
		Modified:     fieldInt64(f, "modified"),
		LastAccessed: fieldInt64(f, "lastAccessed"),
		AccessCount:  int(fieldInt64(f, "accessCount")),
		FilesJSON:    fieldString(f, "filesJson"),
		Status:       fieldString(f, "status"),
		Priority:     fieldString(f, "priority"),
		Category:     fieldString(f, "category"),
		Archived:     fieldBool(f, "archived"),
		ExpiresAt:    fieldInt64(f, "expiresAt"),
		Content:      fieldString(f, "content"),
		FieldsJSON:   fieldString(f, "fieldsJson"),
		AllText:      fieldString(f, "all"),
	}
	return doc, nil
}

func fieldString(f map[string]interface{}, key string) string {
	if v, ok := f[key].(string); ok {
		return v
	}
	return ""
}

func fieldBool(f map[string]interface{}, key string) bool {
	switch v := f[key].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	default:
		return false
	}
}

func fieldInt64(f map[string]interface{}, key string) int64 {
	switch v := f[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

func memoryToDocument(m *Memory) *indexstore.Document {
	fieldsJSON, _ := json.Marshal(m.Fields)
	filesJSON, _ := json.Marshal(m.FilesInvolved)
	return &indexstore.Document{
		MemoryID:      m.ID,
		MemoryType:    m.Type,
		IsShared:      m.IsShared,
		SessionID:     m.SessionID,
		Created:       m.Created.Unix(),
		Modified:      m.Modified.Unix(),
		LastAccessed:  m.LastAccessed.Unix(),
		AccessCount:   m.AccessCount,
		FilesInvolved: m.FilesInvolved,
		FilesJSON:     string(filesJSON),
		Status:        m.Status(),
		Priority:      m.Priority(),
		Category:      m.Category(),
		Archived:      m.IsArchived(),
		ExpiresAt:     m.TimeFieldOr("expiresAt", time.Time{}).Unix(),
		Content:       m.Content,
		ContentRaw:    m.Content,
		FieldsJSON:    string(fieldsJSON),
		AllText:       buildAllText(m),
	}
}

func buildAllText(m *Memory) string {
	var b strings.Builder
	b.WriteString(m.Content)
	b.WriteByte(' ')
	b.WriteString(m.Type)
	for _, f := range m.FilesInvolved {
		b.WriteByte(' ')
		b.WriteString(f)
	}
	for _, v := range m.Fields {
		if v.Kind == FieldString {
			b.WriteByte(' ')
			b.WriteString(v.Str)
		}
	}
	return b.String()
}

func documentToMemory(doc *indexstore.Document) *Memory {
	m := &Memory{
		ID:            doc.MemoryID,
		Type:          doc.MemoryType,
		Content:       doc.Content,
		Created:       time.Unix(doc.Created, 0).UTC(),
		Modified:      time.Unix(doc.Modified, 0).UTC(),
		LastAccessed:  time.Unix(doc.LastAccessed, 0).UTC(),
		AccessCount:   doc.AccessCount,
		IsShared:      doc.IsShared,
		SessionID:     doc.SessionID,
		FilesInvolved: doc.FilesInvolved,
	}
	if doc.FilesJSON != "" {
		var files []string
		if err := json.Unmarshal([]byte(doc.FilesJSON), &files); err == nil {
			m.FilesInvolved = files
		}
	}
	if doc.FieldsJSON != "" {
		var fields map[string]FieldValue
		if err := json.Unmarshal([]byte(doc.FieldsJSON), &fields); err == nil {
			m.Fields = fields
		}
	}
	if m.Fields == nil {
		m.Fields = make(map[string]FieldValue)
	}
	if doc.Status != "" {
		m.SetField("status", StringField(doc.Status))
	}
	if doc.Priority != "" {
		m.SetField("priority", StringField(doc.Priority))
	}
	if doc.Category != "" {
		m.SetField("category", StringField(doc.Category))
	}
	if doc.Archived {
		m.SetField("archived", BoolField(true))
	}
	if doc.ExpiresAt != 0 {
		m.SetField("expiresAt", StringField(time.Unix(doc.ExpiresAt, 0).UTC().Format(time.RFC3339)))
	}
	return m
}

// ValidationError describes why a SearchRequest was rejected. Validation
// failures are fail-soft: a structured false/empty result, never a panic.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("memorystore: %s", e.Reason) }

func validateSearchRequest(req SearchRequest) error {
	if len(req.Query) > MaxQueryLen {
		return &ValidationError{Reason: fmt.Sprintf("query exceeds %d characters", MaxQueryLen)}
	}
	if req.MaxResults <= 0 {
		return &ValidationError{Reason: "max_results must be > 0"}
	}
	if req.OrderBy != "" && !orderByAllowList[req.OrderBy] && !fieldKeyPattern.MatchString(req.OrderBy) {
		return &ValidationError{Reason: "order_by has invalid characters"}
	}
	for key := range req.Facets {
		if !fieldKeyPattern.MatchString(key) {
			return &ValidationError{Reason: fmt.Sprintf("facet key %q has invalid characters", key)}
		}
	}
	for _, t := range req.Types {
		if !AllowedTypes[t] {
			return &ValidationError{Reason: fmt.Sprintf("type %q is not in the allowed set", t)}
		}
	}
	if req.DateRange != nil && !req.DateRange.Valid() {
		return &ValidationError{Reason: "date_range is not well-ordered"}
	}
	return nil
}
