// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pathmap

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindFilePrefersLongestTail(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "usr", "lib", "libfoo.so"), "a")
	mustWrite(t, filepath.Join(root, "opt", "app", "lib", "libfoo.so"), "b")

	m := New([]string{root})
	got, ok := m.FindFile("/opt/app/lib/libfoo.so")
	if !ok {
		t.Fatal("FindFile: not found")
	}
	want := filepath.Join(root, "opt", "app", "lib", "libfoo.so")
	if got != want {
		t.Fatalf("FindFile = %q, want %q (longest common tail)", got, want)
	}
}

func TestFindFileNotFound(t *testing.T) {
	root := t.TempDir()
	m := New([]string{root})
	got, ok := m.FindFile("/nowhere/missing.so")
	if ok {
		t.Fatal("FindFile: unexpectedly found")
	}
	if got == "" {
		t.Fatal("FindFile: expected a [not found] placeholder")
	}
}

func TestFindKernelModuleNormalizesName(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "lib", "modules", "snd_hda_intel.ko"), "x")

	m := New([]string{root})
	got, ok := m.FindKernelModule("snd-hda-intel")
	if !ok {
		t.Fatal("FindKernelModule: not found")
	}
	want := filepath.Join(root, "lib", "modules", "snd_hda_intel.ko")
	if got != want {
		t.Fatalf("FindKernelModule = %q, want %q", got, want)
	}
}

func mustWrite(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}
