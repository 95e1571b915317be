// Copyright (c) 2025 The Notify Authors. All rights reserved.
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
)

// tmpfile creates an empty file with a random name under dir and returns
// its path.
func tmpfile(t *testing.T, dir string) string {
	t.Helper()
	name := fmt.Sprintf("%v.%v", gofakeit.LetterN(6), gofakeit.FileExtension())
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create(%q)=%v", path, err)
	}
	if err := nonil(f.Sync(), f.Close()); err != nil {
		t.Fatalf("Sync/Close(%q)=%v", path, err)
	}
	return path
}

// tmpdirtree builds a directory tree of the given depth under a fresh
// temporary root: root/<rand>/<rand>/... with one random file in the
// deepest directory. It returns the root and every directory, shallowest
// first.
func tmpdirtree(t *testing.T, depth int) (root string, dirs []string) {
	t.Helper()
	root = t.TempDir()
	dirs = append(dirs, root)
	dir := root
	for range depth {
		dir = filepath.Join(dir, gofakeit.LetterN(6))
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatalf("Mkdir(%q)=%v", dir, err)
		}
		dirs = append(dirs, dir)
	}
	tmpfile(t, dir)
	return root, dirs
}

// openFile opens path for writing, writes a line and closes it, producing
// open, modify and close_write events on a watched file.
func openFile(t *testing.T, path string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile(%q)=%v", path, err)
	}
	if _, err := f.WriteString("Writing this to a file.\n"); err != nil {
		t.Fatalf("WriteString(%q)=%v", path, err)
	}
	if err := nonil(f.Sync(), f.Close()); err != nil {
		t.Fatalf("Sync/Close(%q)=%v", path, err)
	}
}
