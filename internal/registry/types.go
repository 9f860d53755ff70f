// Package registry implements a durable JSON catalog mapping workspace
// hash to metadata, with orphaned-index tracking and a short sliding-TTL
// in-memory cache. Records are JSON-per-catalog with an in-memory cap and
// atomic save via os.WriteFile+rename.
package registry

import "time"

// Status is the lifecycle state of a registered workspace.
type Status string

const (
	StatusActive    Status = "Active"
	StatusMissing   Status = "Missing"
	StatusCorrupted Status = "Corrupted"
	StatusArchived  Status = "Archived"
)

// Workspace is a registered, indexable root directory.
type Workspace struct {
	Hash            string    `json:"hash"`
	OriginalPath    string    `json:"originalPath"`
	DirectoryName   string    `json:"directoryName"`
	DisplayName     string    `json:"displayName"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	LastAccessed    time.Time `json:"lastAccessed"`
	DocumentCount   int       `json:"documentCount"`
	IndexSizeBytes  int64     `json:"indexSizeBytes"`
}

// OrphanReason explains why an on-disk index directory has no registry entry.
type OrphanReason string

const (
	ReasonNoMetadata        OrphanReason = "NoMetadata"
	ReasonCorruptedMetadata OrphanReason = "CorruptedMetadata"
	ReasonWorkspaceMoved    OrphanReason = "WorkspaceMoved"
	ReasonWorkspaceDeleted  OrphanReason = "WorkspaceDeleted"
)

// OrphanedIndex is an on-disk index directory with no matching Workspace.
type OrphanedIndex struct {
	DirectoryName        string       `json:"directoryName"`
	DiscoveredAt         time.Time    `json:"discoveredAt"`
	LastModified         time.Time    `json:"lastModified"`
	Reason               OrphanReason `json:"reason"`
	ScheduledForDeletion time.Time    `json:"scheduledForDeletion"`
	SizeBytes            int64        `json:"sizeBytes"`
	AttemptedPath        string       `json:"attemptedPath,omitempty"`
}

// Statistics summarizes the catalog for quick display.
type Statistics struct {
	TotalWorkspaces    int   `json:"totalWorkspaces"`
	TotalOrphans       int   `json:"totalOrphans"`
	TotalIndexSizeBytes int64 `json:"totalIndexSizeBytes"`
	TotalDocuments     int   `json:"totalDocuments"`
}

// catalog is the on-disk JSON document.
type catalog struct {
	Workspaces      map[string]*Workspace      `json:"workspaces"`
	OrphanedIndexes map[string]*OrphanedIndex  `json:"orphanedIndexes"`
	LastUpdated     time.Time                  `json:"lastUpdated"`
	Statistics      Statistics                 `json:"statistics"`
}

func newCatalog() *catalog {
	return &catalog{
		Workspaces:      make(map[string]*Workspace),
		OrphanedIndexes: make(map[string]*OrphanedIndex),
	}
}

// OrphanGracePeriod is how long an orphan waits before becoming eligible
// for cleanup: scheduled_for_deletion = discovered_at + 7d.
const OrphanGracePeriod = 7 * 24 * time.Hour

// cacheTTL is how long the in-memory cached catalog is trusted before a
// reload from disk is forced.
const cacheTTL = 2 * time.Second
