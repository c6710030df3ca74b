// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package collection

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/tracewalk/ipt/schedheur"
	"github.com/tracewalk/ipt/tscheur"
)

// TestRoundTrip covers invariant 6: deserialize(serialize(c)) is
// equivalent to c.
func TestRoundTrip(t *testing.T) {
	c := &Collection{
		Traces:   []string{"/traces/cpu0.bin", "/traces/cpu1.bin"},
		Sideband: "/traces/sideband.log",
		VMSections: []VMSection{
			{Start: 0x1000, Size: 0x2000, FileOffset: 0, Tid: 99, Path: "/vm/guest \"image\".bin"},
		},
		VMFuncs: []VMFunc{
			{Start: 0x1000, End: 0x1100, Module: "guest_mod"},
		},
		Tasks: []Task{
			{
				Tid:  42,
				Name: "worker",
				Blocks: []Block{
					{Kind: KindScheduleIn, CPU: 0, TSCStart: 0x100},
					{Kind: KindTrace, CPU: 0, TSCStart: 0x100, TSCEnd: 0x200, PosStart: 0x10, PosEnd: 0x40, LipStart: 0x1000, LipEnd: 0x1040},
					{Kind: KindScheduleOut, CPU: 0, TSCStart: 0x200},
					{Kind: KindBad, CPU: 1, TSCStart: 0x300, TSCEnd: 0x400},
				},
			},
		},
	}

	var buf bytes.Buffer
	if err := c.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Parse(&buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !reflect.DeepEqual(c, got) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, c)
	}
}

func TestBuildCPUSplitsOnScheduleBoundary(t *testing.T) {
	ranges := []tscheur.Range{
		{Start: 0, End: 100, HasTSC: true, Window: tscheur.Window{Begin: 0x1000, End: 0x2000}},
	}
	quanta := []schedheur.Quantum{
		{TSCStart: 0x1000, TSCEnd: 0x1800, Tid: 7, PosStart: 0, HasStart: true, PosEnd: 50, HasEnd: true},
		{TSCStart: 0x1800, TSCEnd: 0x2000, Tid: 9, PosStart: 50, HasStart: true, PosEnd: 100, HasEnd: true},
	}
	blocks := BuildCPU(0, ranges, quanta)

	var kinds []BlockKind
	var tids []int
	for _, b := range blocks {
		kinds = append(kinds, b.Block.Kind)
		tids = append(tids, b.Tid)
	}
	want := []BlockKind{KindScheduleIn, KindTrace, KindScheduleOut, KindScheduleIn, KindTrace}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want shape %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
	if tids[1] != 7 || tids[4] != 9 {
		t.Fatalf("tids = %v, want trace blocks tagged 7 then 9", tids)
	}
}
