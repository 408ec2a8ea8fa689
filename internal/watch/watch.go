// Package watch notifies the run loop when the spec backlog changes on
// disk, so watch mode can re-discover instead of polling.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specd/internal/state"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// DefaultDebounce is the settle window for change bursts. Editors and
// agents write several files in quick succession; one notification per
// burst is enough because the consumer re-discovers the whole backlog.
const DefaultDebounce = 500 * time.Millisecond

// Event is one settled burst of backlog changes.
type Event struct {
	// Path is the last file or directory whose change triggered the burst.
	Path string

	// Timestamp is when the burst settled.
	Timestamp time.Time
}

// Watcher watches the specs root, recursively, excluding the reserved
// state subtrees. Bursts of changes are coalesced into single events.
type Watcher struct {
	layout   state.Layout
	logger   *zap.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher
	changes  chan Event
	stop     chan struct{}
}

// New creates a watcher over the layout's specs root. debounce <= 0
// selects DefaultDebounce.
func New(layout state.Layout, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &Watcher{
		layout:   layout,
		logger:   logger,
		debounce: debounce,
		watcher:  fsw,
		changes:  make(chan Event, 1),
		stop:     make(chan struct{}),
	}, nil
}

// Start registers the specs tree and begins processing events in a
// background goroutine. Call Stop to release resources.
func (w *Watcher) Start() error {
	if err := w.addTree(w.layout.SpecsRoot()); err != nil {
		return err
	}
	go w.processEvents()
	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

// Changes returns the channel of settled change events.
func (w *Watcher) Changes() <-chan Event { return w.changes }

// Wait blocks until the backlog changes, the context ends, or the
// watcher stops. ok is false when no more events will arrive.
func (w *Watcher) Wait(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-w.changes:
		return ev, ok
	case <-ctx.Done():
		return Event{}, false
	case <-w.stop:
		return Event{}, false
	}
}

// addTree registers root and every non-reserved directory below it.
// fsnotify watches are not recursive, so each directory is added.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.reserved(p) {
			return fs.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			return fmt.Errorf("watching %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) processEvents() {
	var (
		settle   *time.Timer
		settleC  <-chan time.Time
		lastPath string
	)
	for {
		select {
		case <-w.stop:
			if settle != nil {
				settle.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			lastPath = event.Name
			if settle == nil {
				settle = time.NewTimer(w.debounce)
				settleC = settle.C
			} else {
				if !settle.Stop() {
					select {
					case <-settle.C:
					default:
					}
				}
				settle.Reset(w.debounce)
			}
		case <-settleC:
			settle = nil
			settleC = nil
			ev := Event{Path: lastPath, Timestamp: time.Now()}
			w.logger.Debug("backlog changed", zap.String("path", ev.Path))
			// Non-blocking: one pending notification is enough to
			// trigger a full re-discovery.
			select {
			case w.changes <- ev:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// relevant filters raw events down to backlog changes. New directories
// are registered on sight so specs created inside them are seen too.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if w.reserved(event.Name) {
		return false
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory",
					zap.String("path", event.Name), zap.Error(err))
			}
			// A directory appearing may carry specs moved in with it.
			return true
		}
	}

	return filepath.Ext(event.Name) == ".md"
}

func (w *Watcher) reserved(p string) bool {
	for _, root := range w.layout.ReservedRoots() {
		if p == root || strings.HasPrefix(p, root+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}
