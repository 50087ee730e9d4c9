// Package watcher reports trace files in a directory once they stop changing.
package watcher

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/tracelake/internal/log"
)

// Watcher monitors a directory and emits batches of files that were created
// or written and have since been quiet for the debounce period.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	dir       string
	pattern   string
	ignore    map[string]bool
	debounce  time.Duration
	batches   chan []string
	done      chan struct{}
	stopped   chan struct{}
	started   bool
}

// Config holds watcher configuration options.
type Config struct {
	Dir         string
	Pattern     string // matched against base names; empty matches everything
	Ignore      []string
	DebounceDur time.Duration
}

// DefaultConfig returns sensible defaults for the watcher.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:         dir,
		Pattern:     "*",
		DebounceDur: 500 * time.Millisecond,
	}
}

// New creates a new directory watcher.
func New(cfg Config) (*Watcher, error) {
	pattern := cfg.Pattern
	if pattern == "" {
		pattern = "*"
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	ignore := make(map[string]bool, len(cfg.Ignore))
	for _, p := range cfg.Ignore {
		ignore[cleanAbs(p)] = true
	}

	return &Watcher{
		fsWatcher: fsw,
		dir:       cfg.Dir,
		pattern:   pattern,
		ignore:    ignore,
		debounce:  cfg.DebounceDur,
		batches:   make(chan []string),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}, nil
}

// Start begins watching the directory.
// Returns a channel that receives each quiet batch of files, sorted by path.
// The channel is closed once the watcher stops.
func (w *Watcher) Start() (<-chan []string, error) {
	if err := w.fsWatcher.Add(w.dir); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", w.dir, err)
	}
	log.Info(log.CatWatcher, "watching directory", "dir", w.dir, "pattern", w.pattern, "debounce", w.debounce)

	w.started = true
	go w.loop()

	return w.batches, nil
}

// Stop terminates the watcher and releases resources. It must not be called
// concurrently with Start.
func (w *Watcher) Stop() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	err := w.fsWatcher.Close()
	if w.started {
		<-w.stopped
	}
	return err
}

// loop collects relevant paths and flushes them once no event has arrived for
// the debounce period.
func (w *Watcher) loop() {
	defer close(w.stopped)
	defer close(w.batches)

	var (
		timer   *time.Timer
		pending = make(map[string]bool)
	)
	timerC := func() <-chan time.Time {
		if timer != nil {
			return timer.C
		}
		return nil
	}

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.isRelevantEvent(event) {
				continue
			}
			pending[event.Name] = true

			// Reset or start debounce timer
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC():
			timer = nil
			if len(pending) == 0 {
				continue
			}
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			slices.Sort(batch)
			clear(pending)

			log.Debug(log.CatWatcher, "batch ready", "files", len(batch))
			select {
			case w.batches <- batch:
			case <-w.done:
				return
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "watch error", err, "dir", w.dir)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// isRelevantEvent checks if the event names a trace file that was written.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return false
	}

	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if w.ignore[cleanAbs(event.Name)] {
		return false
	}
	ok, _ := filepath.Match(w.pattern, base)
	return ok
}

func cleanAbs(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
