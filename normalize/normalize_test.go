// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package normalize

import (
	"testing"

	"github.com/tracewalk/ipt/replay"
)

func TestDivRoundHalfEven(t *testing.T) {
	cases := []struct{ num, den, want uint64 }{
		{1, 4, 0},
		{2, 4, 0}, // exactly half, quotient 0 is even
		{3, 4, 1},
		{6, 4, 2}, // 1.5 exactly, quotient 1 is odd -> round up to 2
		{10, 5, 2},
	}
	for _, c := range cases {
		if got := divRoundHalfEven(c.num, c.den); got != c.want {
			t.Errorf("divRoundHalfEven(%d,%d) = %d, want %d", c.num, c.den, got, c.want)
		}
	}
}

func TestNormalizeDistributesWithinSlot(t *testing.T) {
	events := []replay.Event{
		{Kind: replay.EventExecute, InstrCount: 2, TSCStart: 100},
		{Kind: replay.EventCall, TSCStart: 100},
		{Kind: replay.EventExecute, InstrCount: 2, TSCStart: 100},
		{Kind: replay.EventExecute, InstrCount: 4, TSCStart: 200},
	}
	recs := Normalize(events)
	if len(recs) != 4 {
		t.Fatalf("len = %d, want 4", len(recs))
	}
	// First slot [100,200), time_span=100, total instr=4 (call
	// contributes 0). Cumulative a: 0, 2, 2.
	if recs[0].Tsc != 100 {
		t.Errorf("recs[0].Tsc = %d, want 100", recs[0].Tsc)
	}
	if recs[1].Tsc != 150 {
		t.Errorf("recs[1].Tsc = %d, want 150", recs[1].Tsc)
	}
	if recs[2].Tsc != 150 {
		t.Errorf("recs[2].Tsc = %d, want 150", recs[2].Tsc)
	}
	// Trailing slot has no successor, so it keeps its own TSCStart.
	if recs[3].Tsc != 200 {
		t.Errorf("recs[3].Tsc = %d, want 200", recs[3].Tsc)
	}
	// in_thread for execute records is next record's tsc minus this one's.
	if recs[0].InThread != 50 {
		t.Errorf("recs[0].InThread = %d, want 50", recs[0].InThread)
	}
	if recs[2].InThread != 50 {
		t.Errorf("recs[2].InThread = %d, want 50", recs[2].InThread)
	}
}

func TestMergeOrdersByTscThenCPU(t *testing.T) {
	perCPU := map[int][]Record{
		1: {{Tsc: 100, CPU: 1}, {Tsc: 300, CPU: 1}},
		0: {{Tsc: 100, CPU: 0}, {Tsc: 200, CPU: 0}},
	}
	out := Merge(perCPU)
	if len(out) != 4 {
		t.Fatalf("len = %d, want 4", len(out))
	}
	wantTsc := []uint64{100, 100, 200, 300}
	for i, want := range wantTsc {
		if out[i].Tsc != want {
			t.Errorf("out[%d].Tsc = %d, want %d", i, out[i].Tsc, want)
		}
	}
	// Tie at tsc=100 must break toward the lower cpu id.
	if out[0].CPU != 0 {
		t.Errorf("out[0].CPU = %d, want 0 (tie-break by ascending cpu id)", out[0].CPU)
	}
}

func TestApplyLowWater(t *testing.T) {
	recs := []Record{
		{Event: replay.Event{Depth: 0}},
		{Event: replay.Event{Depth: -2}},
		{Event: replay.Event{Depth: 1}},
	}
	ApplyLowWater(recs, -2)
	want := []int{2, 0, 3}
	for i, w := range want {
		if recs[i].Depth != w {
			t.Errorf("recs[%d].Depth = %d, want %d", i, recs[i].Depth, w)
		}
	}
}
