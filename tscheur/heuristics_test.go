// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tscheur

import "testing"

// TestFillFromSTSAndWindow exercises passes 3/4 and WindowFor directly
// against a hand-built item list (S3-style: an STS anchor followed by
// two same-rng MTCs one tick apart each), checking invariant 5 from
// spec.md §8: begin < end and (end-begin) <= (1 << (7+2*rng)).
func TestFillFromSTSAndWindow(t *testing.T) {
	h := New()
	h.items = []Item{
		{Pos: 0x10, Type: ItemSTS, TSCKnown: true, TSC: 0x100000, MTCKnown: true, MTC: 0x80, Rng: 3},
		{Pos: 0x50, Type: ItemMTC, MTCKnown: true, MTC: 0x81, Rng: 3},
		{Pos: 0x60, Type: ItemMTC, MTCKnown: true, MTC: 0x82, Rng: 3},
	}
	h.fillFromSTS(1)

	if !h.items[1].TSCKnown || h.items[1].TSC != 0x102000 {
		t.Fatalf("mtc1 tsc = %#x, want 0x102000", h.items[1].TSC)
	}
	if !h.items[2].TSCKnown || h.items[2].TSC != 0x104000 {
		t.Fatalf("mtc2 tsc = %#x, want 0x104000", h.items[2].TSC)
	}

	w, ok := h.WindowFor(0x55)
	if !ok {
		t.Fatal("WindowFor(0x55) = no tsc, want one")
	}
	if w.Begin >= w.End {
		t.Fatalf("window %+v violates begin < end", w)
	}
	if size := w.End - w.Begin; size > (1 << 13) {
		t.Fatalf("window size %#x exceeds ceiling %#x", size, uint64(1)<<13)
	}
	if w.Begin != 0x102000 || w.End != 0x104000 {
		t.Fatalf("window = %+v, want [0x102000, 0x104000)", w)
	}
}

// TestHugeMTCGapLeavesUndetermined checks the boundary behavior from
// spec.md §8: a 150-tick jump is accepted, 151 introduces a no-tsc
// gap.
func TestHugeMTCGapLeavesUndetermined(t *testing.T) {
	base := Heuristics{MaxMTCGap: 150}
	base.items = []Item{
		{Pos: 0x10, Type: ItemSTS, TSCKnown: true, TSC: 0x100000, MTCKnown: true, MTC: 0x00, Rng: 3},
		{Pos: 0x50, Type: ItemMTC, MTCKnown: true, MTC: 150, Rng: 3},
	}
	h150 := base
	h150.items = append([]Item{}, base.items...)
	h150.fillFromSTS(150)
	if !h150.items[1].TSCKnown {
		t.Fatal("150-tick gap should be bridged")
	}

	h151 := base
	h151.items = append([]Item{}, base.items...)
	h151.items[1].MTC = 151
	h151.fillFromSTS(150)
	if h151.items[1].TSCKnown {
		t.Fatal("151-tick gap should be left undetermined")
	}
}
