// Package indexstore implements one bleve inverted index per workspace
// with single-writer/multi-reader discipline, stale-lock recovery, and
// corruption detection on open: a corruption-checked open, custom
// analyzer, and batch index/delete, generalized to one index per
// registered workspace, with cross-process lock recovery via gofrs/flock.
package indexstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	bleveregistry "github.com/blevesearch/bleve/v2/registry"
	"github.com/gofrs/flock"

	"github.com/anortham/codesearch-engine/internal/engineerr"
)

const (
	codeTokenizerName = "code_tokenizer"
	codeStopFilterName = "code_stop"
	codeAnalyzerName   = "code_analyzer"
)

func init() {
	_ = bleveregistry.RegisterTokenizer(codeTokenizerName, codeTokenizerConstructor)
	_ = bleveregistry.RegisterTokenFilter(codeStopFilterName, codeStopFilterConstructor)
}

// Document is a single indexable document: source files and memory
// records both flow through this shape. The Memory* fields are
// populated only when the document represents a memory rather than a
// source file; DocID picks whichever identity applies.
type Document struct {
	Path           string `json:"path"`
	Filename       string `json:"filename"`
	Directory      string `json:"directory"`
	Extension      string `json:"extension"`
	Size           int64  `json:"size"`
	Content        string `json:"content"`
	ContentRaw     string `json:"contentRaw"`
	LineDataJSON   string `json:"lineData,omitempty"`
	LineDataVer    int    `json:"lineDataVersion,omitempty"`
	TimestampTicks int64  `json:"timestampTicks"`

	// Memory record fields. A document with a non-empty MemoryID is a
	// memory, indexed and identified by that id rather than by Path.
	MemoryID      string   `json:"memoryId,omitempty"`
	MemoryType    string   `json:"memoryType,omitempty"`
	IsShared      bool     `json:"isShared,omitempty"`
	SessionID     string   `json:"sessionId,omitempty"`
	Created       int64    `json:"created,omitempty"`
	Modified      int64    `json:"modified,omitempty"`
	LastAccessed  int64    `json:"lastAccessed,omitempty"`
	AccessCount   int      `json:"accessCount,omitempty"`
	FilesInvolved []string `json:"filesInvolved,omitempty"`
	// FilesJSON carries the same files as FilesInvolved but encoded as a
	// JSON array blob, so a single-element FilesInvolved doesn't collapse
	// into a bare string on bleve's stored-field round trip. FilesInvolved
	// itself stays a real (faceted, multi-valued) field for facet queries;
	// FilesJSON exists purely so the memory store can read the list back
	// losslessly.
	FilesJSON string `json:"filesJson,omitempty"`
	Status        string   `json:"status,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	Category      string   `json:"category,omitempty"`
	Archived      bool     `json:"archived,omitempty"`
	ExpiresAt     int64    `json:"expiresAt,omitempty"`
	FieldsJSON    string   `json:"fieldsJson,omitempty"`
	AllText       string   `json:"all,omitempty"`
}

// DocID returns the identity bleve indexes this document under: the
// memory id for memory records, the file path otherwise.
func (d *Document) DocID() string {
	if d.MemoryID != "" {
		return d.MemoryID
	}
	return d.Path
}

// Store owns one bleve index per workspace directory.
type Store struct {
	mu      sync.Mutex
	indexes map[string]*workspaceIndex
}

type workspaceIndex struct {
	mu    sync.RWMutex
	idx   bleve.Index
	path  string
	lock  *flock.Flock
	dirty bool
}

// New creates an empty Store. Indexes are opened lazily by workspace path
// via Writer/Searcher.
func New() *Store {
	return &Store{indexes: make(map[string]*workspaceIndex)}
}

// Writer returns the single writer for workspace path, opening or
// creating the index on first use. There is exactly one writer per
// workspace process-wide.
func (s *Store) Writer(path string) (*Writer, error) {
	wi, err := s.open(path)
	if err != nil {
		return nil, err
	}
	return &Writer{wi: wi}, nil
}

// Searcher returns a read view over workspace path's index.
func (s *Store) Searcher(path string) (*Searcher, error) {
	wi, err := s.open(path)
	if err != nil {
		return nil, err
	}
	return &Searcher{wi: wi}, nil
}

// Close closes every open index, releasing their locks.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, wi := range s.indexes {
		if err := wi.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.indexes = make(map[string]*workspaceIndex)
	return firstErr
}

func (s *Store) open(path string) (*workspaceIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if wi, ok := s.indexes[path]; ok {
		return wi, nil
	}

	wi, err := openWorkspaceIndex(path)
	if err != nil {
		return nil, err
	}
	s.indexes[path] = wi
	return wi, nil
}

func openWorkspaceIndex(path string) (*workspaceIndex, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, engineerr.New(engineerr.CodeTransientIO, "create index directory", err)
	}

	lockPath := path + ".lock"
	fl := flock.New(lockPath)
	if err := recoverStaleLock(fl); err != nil {
		return nil, err
	}
	locked, err := fl.TryLock()
	if err != nil {
		return nil, engineerr.New(engineerr.CodeLockHeld, "acquire index writer lock", err)
	}
	if !locked {
		return nil, engineerr.New(engineerr.CodeLockHeld, "index is held by another process", nil).
			WithDetail("path", path)
	}

	idx, err := openOrCreate(path)
	if err != nil {
		_ = fl.Unlock()
		return nil, err
	}

	return &workspaceIndex{idx: idx, path: path, lock: fl}, nil
}

// recoverStaleLock probes the lock once before the real acquisition: it
// tries the lock and, if it was free, releases it again. flock itself is
// advisory, so a crashed process's lock is already released by the OS.
// The lock file itself is never removed.
func recoverStaleLock(fl *flock.Flock) error {
	locked, err := fl.TryLock()
	if err != nil {
		return nil //nolint:nilerr // best effort; real acquisition is retried by the caller
	}
	if locked {
		return fl.Unlock()
	}
	return nil
}

// validateIndexIntegrity checks index_meta.json exists, is non-empty, and
// parses before bleve.Open is attempted.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "unexpected end of JSON") ||
		strings.Contains(s, "error parsing mapping JSON") ||
		strings.Contains(s, "failed to load segment") ||
		strings.Contains(s, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

func openOrCreate(path string) (bleve.Index, error) {
	indexMapping, err := buildMapping()
	if err != nil {
		return nil, engineerr.New(engineerr.CodeInternal, "build index mapping", err)
	}

	if validErr := validateIndexIntegrity(path); validErr != nil {
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, engineerr.Corruption("corrupted index, cannot remove", removeErr).
				WithDetail("original_error", validErr.Error())
		}
	}

	idx, err := bleve.Open(path)
	switch {
	case err == bleve.ErrorIndexPathDoesNotExist:
		idx, err = bleve.New(path, indexMapping)
	case err != nil && isCorruptionError(err):
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, engineerr.Corruption("index corrupt, cannot clear", removeErr).
				WithDetail("original_error", err.Error())
		}
		idx, err = bleve.New(path, indexMapping)
	}
	if err != nil {
		return nil, engineerr.New(engineerr.CodeIndexCorrupt, "open or create index", err)
	}
	return idx, nil
}

func buildMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(codeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": codeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			codeStopFilterName,
		},
	})
	if err != nil {
		return nil, err
	}
	im.DefaultAnalyzer = codeAnalyzerName
	return im, nil
}

func (wi *workspaceIndex) close() error {
	wi.mu.Lock()
	defer wi.mu.Unlock()
	err := wi.idx.Close()
	_ = wi.lock.Unlock()
	return err
}

// Writer provides add/update/delete/commit against one workspace index.
// Each Add/Update/Delete is persisted by bleve as soon as it returns;
// Commit only clears the index's uncommitted-changes mark.
type Writer struct {
	wi *workspaceIndex
}

// Add indexes a new document under its DocID (path for files, memory id
// for memory records).
func (w *Writer) Add(doc *Document) error {
	w.wi.mu.Lock()
	defer w.wi.mu.Unlock()
	if err := w.wi.idx.Index(doc.DocID(), doc); err != nil {
		return engineerr.New(engineerr.CodeTransientIO, "index document", err)
	}
	w.wi.dirty = true
	return nil
}

// Update performs an atomic delete-by-term-then-add for the document
// identified by term (typically the document path or memory id).
func (w *Writer) Update(term string, doc *Document) error {
	w.wi.mu.Lock()
	defer w.wi.mu.Unlock()
	batch := w.wi.idx.NewBatch()
	batch.Delete(term)
	if err := batch.Index(doc.DocID(), doc); err != nil {
		return engineerr.New(engineerr.CodeTransientIO, "prepare update batch", err)
	}
	if err := w.wi.idx.Batch(batch); err != nil {
		return engineerr.New(engineerr.CodeTransientIO, "apply update batch", err)
	}
	w.wi.dirty = true
	return nil
}

// DeleteByTerm removes every document whose stored id matches term.
func (w *Writer) DeleteByTerm(term string) error {
	w.wi.mu.Lock()
	defer w.wi.mu.Unlock()
	if err := w.wi.idx.Delete(term); err != nil {
		return engineerr.New(engineerr.CodeTransientIO, "delete document", err)
	}
	w.wi.dirty = true
	return nil
}

// Batch applies several adds/deletes atomically.
func (w *Writer) Batch(adds []*Document, deleteTerms []string) error {
	w.wi.mu.Lock()
	defer w.wi.mu.Unlock()
	batch := w.wi.idx.NewBatch()
	for _, term := range deleteTerms {
		batch.Delete(term)
	}
	for _, doc := range adds {
		if err := batch.Index(doc.DocID(), doc); err != nil {
			return engineerr.New(engineerr.CodeTransientIO, "prepare batch", err)
		}
	}
	if err := w.wi.idx.Batch(batch); err != nil {
		return engineerr.New(engineerr.CodeTransientIO, "apply batch", err)
	}
	w.wi.dirty = true
	return nil
}

// Commit flushes pending writes. Bleve persists each Index/Batch call
// immediately, so Commit's role is to mark the index clean for callers
// that track dirty state (the indexing pipeline's per-batch commit, the
// facet cache's invalidation) rather than to trigger an fsync bleve
// hasn't already done.
func (w *Writer) Commit(ctx context.Context) error {
	w.wi.mu.Lock()
	defer w.wi.mu.Unlock()
	w.wi.dirty = false
	return nil
}

// Searcher runs read-only queries against a workspace index.
type Searcher struct {
	wi *workspaceIndex
}

// Search executes req and returns the raw bleve result.
func (s *Searcher) Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	s.wi.mu.RLock()
	defer s.wi.mu.RUnlock()
	res, err := s.wi.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, engineerr.New(engineerr.CodeTransientIO, "search index", err)
	}
	return res, nil
}

// Index exposes the underlying bleve.Index for components (e.g. facet
// queries) that need native bleve APIs beyond Search/Add/Update/Delete.
func (s *Searcher) Index() bleve.Index {
	s.wi.mu.RLock()
	defer s.wi.mu.RUnlock()
	return s.wi.idx
}

// DocCount returns the number of documents currently in the index.
func (s *Searcher) DocCount() (uint64, error) {
	s.wi.mu.RLock()
	defer s.wi.mu.RUnlock()
	return s.wi.idx.DocCount()
}

// GetByTerm fetches the first document whose id matches term, if any.
func (s *Searcher) GetByTerm(ctx context.Context, field, term string) (*bleve.SearchResult, error) {
	q := bleve.NewTermQuery(term)
	q.SetField(field)
	req := bleve.NewSearchRequest(q)
	req.Size = 1
	req.Fields = []string{"*"}
	return s.Search(ctx, req)
}

// now is the timestamp helper used when stamping documents; kept as a
// variable so tests can stub determinism without monkeypatching time.Now.
var now = time.Now
