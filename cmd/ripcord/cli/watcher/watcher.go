// Package watcher emits workspace-relative edit notifications for watch
// mode. fsnotify only watches single directories, so the watcher walks the
// workspace at start, registers every directory, and registers new
// directories as they appear.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ripcordio/cli/cmd/ripcord/cli/paths"

	"github.com/fsnotify/fsnotify"
)

// Op is the kind of filesystem change observed.
type Op int

const (
	OpCreate Op = iota
	OpWrite
	OpRemove
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event is one observed file change. Path is workspace-relative and
// slash-separated, matching the change tracker's uri convention.
type Event struct {
	Path string
	Op   Op
}

// IgnoreFunc reports whether a workspace-relative path should be skipped.
// The watcher always skips .git and the Ripcord metadata directory; the
// func adds workspace-specific rules on top.
type IgnoreFunc func(rel string, isDir bool) bool

// Watcher converts raw fsnotify events into deduplicated, filtered edit
// notifications on a buffered channel.
type Watcher struct {
	root   string
	ignore IgnoreFunc

	fsw    *fsnotify.Watcher
	events chan Event
	errs   chan error
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New creates a watcher rooted at the workspace directory. ignore may be
// nil. Start must be called before events flow.
func New(root string, ignore IgnoreFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch root: %w", err)
	}
	return &Watcher{
		root:   abs,
		ignore: ignore,
		fsw:    fsw,
		events: make(chan Event, 256),
		errs:   make(chan error, 16),
		done:   make(chan struct{}),
	}, nil
}

// Start registers the workspace tree and begins emitting events.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := w.addTree(w.root); err != nil {
		return err
	}

	w.running = true
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop tears the watcher down and closes the event channels. It blocks
// until the event loop has exited and is safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	close(w.events)
	close(w.errs)
	if err != nil {
		return fmt.Errorf("failed to close fsnotify watcher: %w", err)
	}
	return nil
}

// Events returns the edit notification channel. It is closed by Stop.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel for watch errors. It is closed by Stop.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
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
			select {
			case w.errs <- err:
			case <-w.done:
				return
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel, ok := w.relPath(ev.Name)
	if !ok {
		return
	}

	var op Op
	switch {
	case ev.Has(fsnotify.Create):
		op = OpCreate
	case ev.Has(fsnotify.Write):
		op = OpWrite
	case ev.Has(fsnotify.Remove):
		op = OpRemove
	case ev.Has(fsnotify.Rename):
		// The old name is gone; a create will follow for the new one.
		op = OpRemove
	default:
		// Chmod and friends are not edits.
		return
	}

	if op == OpCreate {
		if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
			// A directory appeared. Watch it and surface any files that
			// landed inside before the watch took effect.
			if w.skip(rel, true) {
				return
			}
			w.adopt(ev.Name)
			return
		}
	}

	if w.skip(rel, false) {
		return
	}
	w.emit(Event{Path: rel, Op: op})
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.done:
	}
}

// relPath maps an absolute event path into the workspace. Events outside
// the root are dropped.
func (w *Watcher) relPath(name string) (string, bool) {
	rel, err := filepath.Rel(w.root, name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// skip applies the built-in exclusions and the caller's ignore rules.
func (w *Watcher) skip(rel string, isDir bool) bool {
	top, _, _ := strings.Cut(rel, "/")
	if top == ".git" || top == paths.RipcordDir {
		return true
	}
	return w.ignore != nil && w.ignore(rel, isDir)
}

// addTree registers dir and every directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped, not fatal
		}
		if !info.IsDir() {
			return nil
		}
		if rel, ok := w.relPath(path); ok && w.skip(rel, true) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// adopt registers a directory that appeared after Start and emits create
// events for files already inside it.
func (w *Watcher) adopt(dir string) {
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped, not fatal
		}
		rel, ok := w.relPath(path)
		if !ok {
			return nil
		}
		if info.IsDir() {
			if w.skip(rel, true) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				select {
				case w.errs <- err:
				case <-w.done:
				}
			}
			return nil
		}
		if !w.skip(rel, false) {
			w.emit(Event{Path: rel, Op: OpCreate})
		}
		return nil
	})
}
