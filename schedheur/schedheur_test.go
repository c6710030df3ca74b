// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package schedheur

import (
	"io"
	"testing"
)

type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func TestQuantaOrdering(t *testing.T) {
	cands := []Candidate{
		{TSC: 100, NewTid: 7, Pos: 10, HasPos: true},
		{TSC: 200, NewTid: 9, Pos: 20, HasPos: true},
	}
	q := Quanta(cands, 5, 0)
	if len(q) != 2 {
		t.Fatalf("quanta = %d, want 2", len(q))
	}
	if q[0].Tid != 5 || q[0].TSCStart != 0 || q[0].TSCEnd != 100 {
		t.Fatalf("q0 = %+v", q[0])
	}
	if q[1].Tid != 7 || q[1].TSCStart != 100 || q[1].TSCEnd != 200 {
		t.Fatalf("q1 = %+v", q[1])
	}
}

func TestSectionFor(t *testing.T) {
	sections := []VMSection{{Start: 0x1000, End: 0x2000, Tid: 42}}
	if got := sectionFor(sections, 0x1500); got != 0 {
		t.Fatalf("sectionFor in-range = %d, want 0", got)
	}
	if got := sectionFor(sections, 0x500); got != -1 {
		t.Fatalf("sectionFor out-of-range = %d, want -1", got)
	}
}
