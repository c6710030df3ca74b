// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
)

// traceSet opens each CPU's raw trace file lazily and caches the
// handle, implementing replay.TraceSource. A worker owns one traceSet
// and never shares it, per the per-worker-cache resource policy.
type traceSet struct {
	paths []string
	files map[int]*os.File
}

func newTraceSet(paths []string) *traceSet {
	return &traceSet{paths: paths, files: make(map[int]*os.File)}
}

// ReaderAt implements replay.TraceSource.
func (t *traceSet) ReaderAt(cpu int) (io.ReaderAt, error) {
	if f, ok := t.files[cpu]; ok {
		return f, nil
	}
	if cpu < 0 || cpu >= len(t.paths) {
		return nil, fmt.Errorf("ptdecode: no raw trace configured for cpu %d", cpu)
	}
	f, err := os.Open(t.paths[cpu])
	if err != nil {
		return nil, err
	}
	t.files[cpu] = f
	return f, nil
}

func (t *traceSet) Close() {
	for _, f := range t.files {
		f.Close()
	}
}
