// Doctor implements a preflight-check feature: a small set of
// system-health checks run before the engine is trusted to operate,
// covering disk space, file descriptor headroom, and lock file staleness
// under the base directory, using a syscall.Statfs-based disk check and a
// syscall.Getrlimit-based descriptor check, narrowed to the checks this
// engine's own on-disk layout and single-writer locking scheme actually
// need.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anortham/codesearch-engine/internal/pathresolve"
)

// CheckStatus is the outcome of a single preflight check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	default:
		return "fail"
	}
}

// CheckResult is one named diagnostic outcome.
type CheckResult struct {
	Name     string
	Status   CheckStatus
	Message  string
	Required bool
}

// IsCritical reports whether this result should fail the overall report.
func (r CheckResult) IsCritical() bool { return r.Required && r.Status == StatusFail }

// MinDiskSpaceBytes is the minimum free disk space required to pass.
const MinDiskSpaceBytes = 100 * 1024 * 1024

// MinFileDescriptors is the minimum file descriptor rlimit required to pass.
const MinFileDescriptors = 1024

// StaleLockAge is how old a ".lock" file in the base directory's indexes/
// folder can get
// before Doctor flags it as a likely orphaned lock from a crashed process.
const StaleLockAge = 1 * time.Hour

// Report is the result of running every check.
type Report struct {
	Results []CheckResult
}

// HasCriticalFailures reports whether any required check failed.
func (r Report) HasCriticalFailures() bool {
	for _, res := range r.Results {
		if res.IsCritical() {
			return true
		}
	}
	return false
}

func runChecks(resolver *pathresolve.Resolver) Report {
	return Report{Results: []CheckResult{
		checkDiskSpace(resolver.BaseDir()),
		checkFileDescriptors(),
		checkStaleLocks(resolver.BaseDir()),
	}}
}

func checkDiskSpace(path string) CheckResult {
	result := CheckResult{Name: "disk_space", Required: true}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	available := stat.Bavail * uint64(stat.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum: 100 MB)", formatBytes(available))
	if available < MinDiskSpaceBytes {
		result.Status = StatusFail
		return result
	}
	result.Status = StatusPass
	return result
}

func checkFileDescriptors() CheckResult {
	result := CheckResult{Name: "file_descriptors", Required: true}

	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check file descriptor limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum: %d)", limit.Cur, MinFileDescriptors)
	if limit.Cur < MinFileDescriptors {
		result.Status = StatusFail
		return result
	}
	result.Status = StatusPass
	return result
}

// checkStaleLocks walks indexes/<hash>.lock files (indexstore.openWorkspaceIndex
// names a lock file "<index-dir>.lock", a sibling of the index directory
// itself) and flags any older than StaleLockAge: flock releases on process
// death, but a surviving lock file this old usually means a workspace's
// index has not been opened (and therefore not reconciled) in a very long
// time.
func checkStaleLocks(baseDir string) CheckResult {
	result := CheckResult{Name: "lock_file_staleness", Required: false}

	indexesDir := filepath.Join(baseDir, "indexes")
	entries, err := os.ReadDir(indexesDir)
	if err != nil {
		result.Status = StatusPass
		result.Message = "no indexes directory yet"
		return result
	}

	var stale []string
	now := time.Now()
	for _, entry := range entries {
		name := entry.Name()
		if filepath.Ext(name) != ".lock" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > StaleLockAge {
			stale = append(stale, name)
		}
	}

	if len(stale) > 0 {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%d stale lock file(s): %v", len(stale), stale)
		return result
	}
	result.Status = StatusPass
	result.Message = "no stale lock files"
	return result
}

func formatBytes(bytes uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/gb)
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/mb)
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/kb)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
