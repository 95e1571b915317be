// Copyright (c) 2025 The Notify Authors. All rights reserved.
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

package notify

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// watchEntry ties a kernel watch handle to the path it monitors and the
// event set requested for it.
type watchEntry struct {
	handle Handle
	path   string
	mask   Event
}

// watchTable owns the handle->path mapping needed to reconstruct absolute
// paths for directory-relative events, plus the ignore and ignore-once sets.
// It is the only component that talks to EventSource.Register/Unregister.
//
// All methods are safe for concurrent use; the dispatch goroutine resolves
// paths while the caller's goroutine may be unwatching or ignoring.
type watchTable struct {
	src EventSource

	mu          sync.Mutex
	watches     map[Handle]*watchEntry
	paths       map[string]Handle
	ignored     map[string]struct{}
	ignoredOnce map[string]struct{}
}

func newWatchTable(src EventSource) *watchTable {
	return &watchTable{
		src:         src,
		watches:     make(map[Handle]*watchEntry),
		paths:       make(map[string]Handle),
		ignored:     make(map[string]struct{}),
		ignoredOnce: make(map[string]struct{}),
	}
}

// checkPath verifies existence without following symlinks and returns the
// cleaned absolute path. It runs before any kernel registration attempt.
func checkPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("notify: %q: %w", path, ErrInvalidPath)
	}
	if _, err := os.Lstat(abs); err != nil {
		return "", fmt.Errorf("notify: %q: %w", path, ErrInvalidPath)
	}
	return abs, nil
}

// AddWatch registers a single watch for path. The path must exist at call
// time; otherwise ErrInvalidPath is reported before the backend is touched.
func (t *watchTable) AddWatch(path string, mask Event) (Handle, error) {
	abs, err := checkPath(path)
	if err != nil {
		return -1, err
	}
	return t.register(abs, mask)
}

func (t *watchTable) register(abs string, mask Event) (Handle, error) {
	h, err := t.src.Register(abs, mask)
	if err != nil {
		return -1, err
	}
	t.insert(h, abs, mask)
	return h, nil
}

func (t *watchTable) insert(h Handle, abs string, mask Event) {
	t.mu.Lock()
	old, displaced := t.paths[abs]
	displaced = displaced && old != h
	if displaced {
		delete(t.watches, old)
	}
	t.watches[h] = &watchEntry{handle: h, path: abs, mask: mask}
	t.paths[abs] = h
	t.mu.Unlock()
	if displaced {
		// Backends with synthesized handles hand out a fresh one per
		// registration; the displaced one must be released.
		if err := t.src.Unregister(old); err != nil && !errors.Is(err, ErrUnknownHandle) {
			dbgprintf("table: releasing displaced handle %d: %v", old, err)
		}
	}
}

// AddRecursive walks the tree rooted at root and registers a watch for the
// root and every subdirectory. Symlinked directories are not descended into.
// A failure partway through the walk leaves the watches registered so far
// intact and is returned as-is.
func (t *watchTable) AddRecursive(root string, mask Event) ([]Handle, error) {
	abs, err := checkPath(root)
	if err != nil {
		return nil, err
	}
	var handles []Handle
	walk := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		h, err := t.AddWatch(path, mask)
		if err != nil {
			return err
		}
		handles = append(handles, h)
		return nil
	}
	if err := filepath.WalkDir(abs, walk); err != nil {
		return handles, err
	}
	return handles, nil
}

// RemoveWatch releases the kernel resource behind h and drops its entry.
// A stale handle reports ErrUnknownHandle and leaves the table unchanged.
func (t *watchTable) RemoveWatch(h Handle) error {
	t.mu.Lock()
	entry, ok := t.watches[h]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("notify: handle %d: %w", h, ErrUnknownHandle)
	}
	delete(t.watches, h)
	delete(t.paths, entry.path)
	t.mu.Unlock()
	return t.src.Unregister(h)
}

// RemoveByPath releases the watch registered for path, if any.
func (t *watchTable) RemoveByPath(abs string) error {
	t.mu.Lock()
	h, ok := t.paths[abs]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("notify: %q: %w", abs, ErrUnknownHandle)
	}
	return t.RemoveWatch(h)
}

// forget drops the entry for h without releasing the handle. Used when the
// kernel reports the watch already expired (self-delete, self-move).
func (t *watchTable) forget(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.watches[h]; ok {
		delete(t.paths, entry.path)
		delete(t.watches, h)
	}
}

// ResolvePath reconstructs the absolute path for a notification. A non-empty
// name is a directory-relative child and is joined onto the entry's path.
// ok is false when the handle is no longer in the table.
func (t *watchTable) ResolvePath(h Handle, name string) (path string, mask Event, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.watches[h]
	if !ok {
		return "", 0, false
	}
	if name == "" {
		return entry.path, entry.mask, true
	}
	return filepath.Join(entry.path, name), entry.mask, true
}

func (t *watchTable) Ignore(abs string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ignored[abs] = struct{}{}
}

func (t *watchTable) IgnoreOnce(abs string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ignoredOnce[abs] = struct{}{}
}

func (t *watchTable) Unignore(abs string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ignored, abs)
	delete(t.ignoredOnce, abs)
}

// ShouldSuppress reports whether a notification for path must be dropped.
// An ignore-once registration is consumed by the first hit; the persistent
// ignore set is checked first and never mutated.
func (t *watchTable) ShouldSuppress(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ignored[path]; ok {
		return true
	}
	if _, ok := t.ignoredOnce[path]; ok {
		delete(t.ignoredOnce, path)
		return true
	}
	return false
}

// Close releases every remaining handle. Release is attempted for all
// entries even when some fail; the first error is reported.
func (t *watchTable) Close() error {
	t.mu.Lock()
	handles := make([]Handle, 0, len(t.watches))
	for h := range t.watches {
		handles = append(handles, h)
	}
	t.watches = make(map[Handle]*watchEntry)
	t.paths = make(map[string]Handle)
	t.mu.Unlock()

	var err error
	for _, h := range handles {
		err = nonil(err, t.src.Unregister(h))
	}
	return err
}
