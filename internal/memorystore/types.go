// Package memorystore implements a schema-less memory record store layered
// on the same inverted index as source files, split across a shared
// "project" index and a private "local" index. Record identity uses
// google/uuid for every generated id.
package memorystore

import "time"

// FieldValue is a tagged-union value for a memory's extended fields,
// replacing the source's ambient "anything goes" dynamic typing (design
// notes: "dynamic typed extended fields"). Exactly one of the typed
// members is meaningful, selected by Kind; Raw carries anything that
// doesn't fit one of the first four shapes so round-trip is lossless.
type FieldKind string

const (
	FieldString FieldKind = "string"
	FieldNumber FieldKind = "number"
	FieldBool   FieldKind = "bool"
	FieldArray  FieldKind = "array"
	FieldRaw    FieldKind = "raw"
)

// FieldValue holds one extended-field value tagged by Kind.
type FieldValue struct {
	Kind  FieldKind `json:"kind"`
	Str   string    `json:"str,omitempty"`
	Num   float64   `json:"num,omitempty"`
	Bool  bool      `json:"bool,omitempty"`
	Arr   []string  `json:"arr,omitempty"`
	Raw   string    `json:"raw,omitempty"` // JSON blob for anything else
}

// StringField builds a string FieldValue. Extended fields are stored
// together as one JSON blob; only status, priority and category are also
// copied into their own index fields. Value length is not consulted.
func StringField(s string) FieldValue { return FieldValue{Kind: FieldString, Str: s} }

// NumberField builds a numeric FieldValue.
func NumberField(n float64) FieldValue { return FieldValue{Kind: FieldNumber, Num: n} }

// BoolField builds a boolean FieldValue.
func BoolField(b bool) FieldValue { return FieldValue{Kind: FieldBool, Bool: b} }

// ArrayField builds a string-array FieldValue.
func ArrayField(a []string) FieldValue { return FieldValue{Kind: FieldArray, Arr: a} }

// RawField builds a FieldValue carrying an opaque JSON blob.
func RawField(json string) FieldValue { return FieldValue{Kind: FieldRaw, Raw: json} }

// KeywordMaxLen is a length limit for string fields. The store does not
// read it: every indexed string field is analyzed the same way.
const KeywordMaxLen = 100

// Well-known memory types. The type set is enumerated but extensible, so
// arbitrary strings are still accepted.
const (
	TypeTechnicalDebt         = "TechnicalDebt"
	TypeBugReport             = "BugReport"
	TypeQuestion              = "Question"
	TypeCodePattern           = "CodePattern"
	TypeArchitecturalDecision = "ArchitecturalDecision"
	TypeSecurityRule          = "SecurityRule"
	TypeWorkingMemory         = "WorkingMemory"
	TypePendingResolution     = "PendingResolution"
	TypeResolutionFeedback    = "ResolutionFeedback"
)

// AllowedTypes is the core list Search validates the `types` filter
// against. It is open-ended only insofar as memories of an unlisted type
// can still be stored; search cannot filter to them by name.
var AllowedTypes = map[string]bool{
	TypeTechnicalDebt:         true,
	TypeBugReport:             true,
	TypeQuestion:              true,
	TypeCodePattern:           true,
	TypeArchitecturalDecision: true,
	TypeSecurityRule:          true,
	TypeWorkingMemory:         true,
	TypePendingResolution:     true,
	TypeResolutionFeedback:    true,
}

// Memory is a semi-structured record stored and searched alongside file
// content.
type Memory struct {
	ID             string                `json:"id"`
	Type           string                `json:"type"`
	Content        string                `json:"content"`
	Created        time.Time             `json:"created"`
	Modified       time.Time             `json:"modified"`
	LastAccessed   time.Time             `json:"lastAccessed"`
	AccessCount    int                   `json:"accessCount"`
	IsShared       bool                  `json:"isShared"`
	SessionID      string                `json:"sessionId,omitempty"`
	FilesInvolved  []string              `json:"filesInvolved,omitempty"`
	Fields         map[string]FieldValue `json:"fields,omitempty"`
}

// StringFieldOr returns the string value of fields[key], or def if absent
// or not a string field.
func (m *Memory) StringFieldOr(key, def string) string {
	if m.Fields == nil {
		return def
	}
	if v, ok := m.Fields[key]; ok && v.Kind == FieldString {
		return v.Str
	}
	return def
}

// BoolFieldOr returns the bool value of fields[key], or def if absent.
func (m *Memory) BoolFieldOr(key string, def bool) bool {
	if m.Fields == nil {
		return def
	}
	if v, ok := m.Fields[key]; ok && v.Kind == FieldBool {
		return v.Bool
	}
	return def
}

// TimeFieldOr parses fields[key] (stored as RFC3339 string) or returns def.
func (m *Memory) TimeFieldOr(key string, def time.Time) time.Time {
	s := m.StringFieldOr(key, "")
	if s == "" {
		return def
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return def
	}
	return t
}

// SetField assigns fields[key], creating the map if necessary.
func (m *Memory) SetField(key string, v FieldValue) {
	if m.Fields == nil {
		m.Fields = make(map[string]FieldValue)
	}
	m.Fields[key] = v
}

// IsArchived reports whether fields.archived == true.
func (m *Memory) IsArchived() bool { return m.BoolFieldOr("archived", false) }

// IsExpired reports whether this working memory's expiresAt has passed.
func (m *Memory) IsExpired(now time.Time) bool {
	exp := m.TimeFieldOr("expiresAt", time.Time{})
	return !exp.IsZero() && exp.Before(now)
}

// Status returns fields.status, defaulting to "".
func (m *Memory) Status() string { return m.StringFieldOr("status", "") }

// Priority returns fields.priority, defaulting to "".
func (m *Memory) Priority() string { return m.StringFieldOr("priority", "") }

// Category returns fields.category, defaulting to "".
func (m *Memory) Category() string { return m.StringFieldOr("category", "") }

// RelatedTo returns fields.relatedTo as a string set, if present.
func (m *Memory) RelatedTo() []string {
	if m.Fields == nil {
		return nil
	}
	if v, ok := m.Fields["relatedTo"]; ok && v.Kind == FieldArray {
		return v.Arr
	}
	return nil
}

// UpdateRequest is the input to Store.Update.
type UpdateRequest struct {
	ID           string
	FieldUpdates map[string]*FieldValue // nil value deletes the field
	Content      *string
	AddFiles     []string
	RemoveFiles  []string
}

// DateRange bounds a Memory's Created timestamp (inclusive).
type DateRange struct {
	From time.Time
	To   time.Time
}

// Valid reports whether the range is well-ordered or unset.
func (r DateRange) Valid() bool {
	if r.From.IsZero() || r.To.IsZero() {
		return true
	}
	return !r.From.After(r.To)
}

// SearchRequest is the input to Store.Search.
type SearchRequest struct {
	Query          string
	Types          []string
	Facets         map[string]string
	DateRange      *DateRange
	RelatedToIDs   []string
	IncludeArchived bool
	MaxResults     int
	OrderBy        string
	OrderDescending bool
	BoostRecent    bool
	BoostFrequent  bool
}

// MaxResultsCap is the hard ceiling placed on max_results.
const MaxResultsCap = 10000

// MaxQueryLen is the hard ceiling placed on query length.
const MaxQueryLen = 1000

// Insights summarizes a search result set.
type Insights struct {
	Summary             string   `json:"summary"`
	Patterns            []string `json:"patterns"`
	RecommendedActions  []string `json:"recommendedActions"`
}

// SearchResult is the output of Store.Search.
type SearchResult struct {
	Memories []*Memory          `json:"memories"`
	Total    int                `json:"total"`
	Facets   map[string]map[string]int `json:"facets"`
	Insights Insights           `json:"insights"`
	Warnings []string           `json:"warnings,omitempty"`
}
