// Package watcher implements a recursive, per-workspace filesystem
// watcher that filters by extension allow-list and directory block-list
// and emits normalized change events into a bounded channel. It is
// fsnotify-backed with recursive directory registration; watcher errors
// are logged and the watcher is not restarted. There is no polling
// fallback.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Kind is the normalized shape of a filesystem change.
type Kind int

const (
	Created Kind = iota
	Modified
	Deleted
	Renamed
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "Created"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	case Renamed:
		return "Renamed"
	default:
		return "Unknown"
	}
}

// Event is a single normalized filesystem change for one workspace.
type Event struct {
	Workspace string
	Path      string
	Kind      Kind
	Timestamp time.Time
}

// DefaultAllowedExtensions is the set of source-file extensions the
// watcher reports changes for.
var DefaultAllowedExtensions = map[string]bool{
	".go": true, ".cs": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".java": true, ".kt": true, ".rb": true, ".rs": true, ".c": true,
	".h": true, ".cpp": true, ".hpp": true, ".md": true, ".txt": true, ".json": true,
	".yaml": true, ".yml": true, ".sql": true, ".sh": true, ".proto": true,
}

// DefaultBlockedDirs is the set of directory names whose entire subtree
// is ignored.
var DefaultBlockedDirs = map[string]bool{
	"bin": true, "obj": true, "node_modules": true, ".git": true, ".vs": true,
	"packages": true, "TestResults": true, "dist": true, "build": true, ".idea": true,
}

// Options configures a Watcher.
type Options struct {
	AllowedExtensions map[string]bool
	BlockedDirs       map[string]bool
	// BaseDirName is additionally treated as a blocked directory name so
	// the engine never reacts to changes in its own bookkeeping.
	BaseDirName string
	BufferSize  int
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.AllowedExtensions == nil {
		o.AllowedExtensions = DefaultAllowedExtensions
	}
	if o.BlockedDirs == nil {
		o.BlockedDirs = DefaultBlockedDirs
	}
	if o.BufferSize == 0 {
		o.BufferSize = 1000
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Watcher attaches fsnotify watches recursively under a workspace root and
// emits filtered, normalized Events. One Watcher instance handles exactly
// one workspace; the engine's composition root keeps a map of these, one
// per active workspace.
type Watcher struct {
	workspace string
	root      string
	opts      Options

	fsw    *fsnotify.Watcher
	events chan Event

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
}

// New creates a Watcher for workspace rooted at root. It does not start
// watching until Start is called.
func New(workspace, root string, opts Options) *Watcher {
	return &Watcher{
		workspace: workspace,
		root:      root,
		opts:      opts.withDefaults(),
		events:    make(chan Event, opts.withDefaults().BufferSize),
	}
}

// Events returns the channel Events are published on. Closed when the
// watcher stops.
func (w *Watcher) Events() <-chan Event { return w.events }

// Start begins recursively watching root. fsnotify errors are logged and
// watching continues on the existing watch list; Start does not restart
// the underlying fsnotify watcher.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	if err := w.addRecursive(root(w.root)); err != nil {
		_ = fsw.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.loop(ctx)
	return nil
}

func root(r string) string { return filepath.Clean(r) }

// Stop detaches the watcher and releases resources. Safe to call more
// than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	if w.cancel != nil {
		w.cancel()
	}
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.events)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.opts.Logger.Warn("filesystem watcher error",
				slog.String("workspace", w.workspace), slog.String("error", err.Error()))
			// fsnotify errors are treated as non-fatal and the existing
			// watch list keeps serving. Nothing here or in the engine
			// recreates the Watcher after an error.
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if w.isBlocked(ev.Name) {
		return
	}
	if !w.isAllowedExtension(ev.Name) {
		// Still need to watch newly created directories even if their own
		// name isn't an allowed "extension".
		if ev.Op&fsnotify.Create != 0 {
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				_ = w.addRecursive(ev.Name)
			}
		}
		return
	}

	now := time.Now()
	switch {
	case ev.Op&fsnotify.Create != 0:
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(ev.Name)
			return
		}
		w.publish(Event{Workspace: w.workspace, Path: ev.Name, Kind: Created, Timestamp: now})
	case ev.Op&fsnotify.Write != 0:
		w.publish(Event{Workspace: w.workspace, Path: ev.Name, Kind: Modified, Timestamp: now})
	case ev.Op&fsnotify.Remove != 0:
		w.publish(Event{Workspace: w.workspace, Path: ev.Name, Kind: Deleted, Timestamp: now})
	case ev.Op&fsnotify.Rename != 0:
		// fsnotify reports the old path on rename; split into Deleted for
		// the old path. The corresponding Create for the new path arrives
		// as its own fsnotify event.
		w.publish(Event{Workspace: w.workspace, Path: ev.Name, Kind: Deleted, Timestamp: now})
	}
}

// publish is a non-blocking send: a full channel drops the event rather
// than stalling the watcher loop.
func (w *Watcher) publish(e Event) {
	select {
	case w.events <- e:
	default:
		w.opts.Logger.Warn("watcher event channel full, dropping event",
			slog.String("workspace", w.workspace), slog.String("path", e.Path))
	}
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort walk; skip unreadable subtrees
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.isBlocked(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) isBlocked(path string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == "" {
			continue
		}
		if w.opts.BlockedDirs[seg] {
			return true
		}
		if w.opts.BaseDirName != "" && seg == w.opts.BaseDirName {
			return true
		}
	}
	return false
}

func (w *Watcher) isAllowedExtension(path string) bool {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	return w.opts.AllowedExtensions[ext]
}
