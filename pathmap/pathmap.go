// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pathmap resolves a path recorded inside a trace (taken on
// the machine that captured it) against one or more local target
// filesystem roots (the `-t` CLI flag, spec.md §6), so replay can
// open the binary that actually produced the trace even when it was
// captured on a different machine. Adapted from
// sat-local-path-mapper.cpp's haystack-search-by-longest-common-tail
// strategy.
package pathmap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Mapper finds local copies of remotely-recorded paths under a set
// of target filesystem roots.
type Mapper struct {
	haystacks []string
	cache     map[string]result
}

type result struct {
	found bool
	path  string
}

// New returns a Mapper searching under the given roots, in order.
func New(haystacks []string) *Mapper {
	return &Mapper{haystacks: haystacks, cache: make(map[string]result)}
}

// FindFile resolves need (an absolute path as recorded in the trace)
// to a local file under one of the mapper's roots, preferring the
// match whose path shares the longest suffix with need. Results are
// cached by need.
func (m *Mapper) FindFile(need string) (string, bool) {
	if r, ok := m.cache[need]; ok {
		return r.path, r.found
	}
	base := filepath.Base(need)
	var best string
	bestLen := 0
	for _, h := range m.haystacks {
		_ = filepath.Walk(h, func(p string, info os.FileInfo, err error) error {
			if err != nil || info == nil || info.IsDir() {
				return nil
			}
			if filepath.Base(p) != base {
				return nil
			}
			if l := commonTailLength(need, p); l > bestLen {
				bestLen = l
				best = p
			}
			return nil
		})
	}
	r := result{found: best != "", path: best}
	if !r.found {
		r.path = fmt.Sprintf("[not found] %s", need)
	}
	m.cache[need] = r
	return r.path, r.found
}

// FindKernelModule resolves a kernel module name (loadable .ko file,
// possibly with '-'/'_' variation) under the mapper's roots.
func (m *Mapper) FindKernelModule(module string) (string, bool) {
	want := normalizeModuleName(module)
	for _, h := range m.haystacks {
		var found string
		_ = filepath.Walk(h, func(p string, info os.FileInfo, err error) error {
			if err != nil || found != "" || info == nil || info.IsDir() {
				return nil
			}
			if normalizeModuleName(filepath.Base(p)) == want {
				found = p
				return filepath.SkipDir
			}
			return nil
		})
		if found != "" {
			return found, true
		}
	}
	return "", false
}

// FindDir resolves a directory path the same way FindFile resolves a
// file, requiring the result to actually be a directory.
func (m *Mapper) FindDir(dir string) (string, bool) {
	base := filepath.Base(dir)
	var best string
	bestLen := 0
	for _, h := range m.haystacks {
		_ = filepath.Walk(h, func(p string, info os.FileInfo, err error) error {
			if err != nil || info == nil || !info.IsDir() {
				return nil
			}
			if filepath.Base(p) != base {
				return nil
			}
			if l := commonTailLength(dir, p); l > bestLen {
				bestLen = l
				best = p
			}
			return nil
		})
	}
	return best, best != ""
}

func normalizeModuleName(name string) string {
	name = strings.TrimSuffix(name, ".ko")
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if r == '-' {
			r = '_'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// commonTailLength returns how many trailing bytes a and b share.
func commonTailLength(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[len(a)-1-n] == b[len(b)-1-n] {
		n++
	}
	return n
}
