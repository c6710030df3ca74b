// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sideband

import (
	"strings"
	"testing"
)

func TestReadLog(t *testing.T) {
	log := strings.Join([]string{
		"init 0 100 0",
		`process 0x10 0 100 1 "prog"`,
		`mmap 0x20 0 100 0x400000 0x1000 0x0 "/bin/prog"`,
		"munmap 0x30 0 100 0x400000 0x1000",
		"schedule 0x40 0 100 200 5 0",
		"hook 0xdead 0xbeef 0xc000 0x10 1 1",
		"# a comment line",
		"",
	}, "\n")

	events, err := ReadLog(strings.NewReader(log))
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	if len(events) != 6 {
		t.Fatalf("len(events) = %d, want 6", len(events))
	}
	if events[0].Kind != EventInit || events[0].InitialTid != 100 {
		t.Fatalf("init event = %+v", events[0])
	}
	if events[1].Kind != EventProcess || events[1].Comm != "prog" {
		t.Fatalf("process event = %+v", events[1])
	}
	if events[2].Path != "/bin/prog" || events[2].Start != 0x400000 {
		t.Fatalf("mmap event = %+v", events[2])
	}
	if events[4].PrevTid != 100 || events[4].NewTid != 200 {
		t.Fatalf("schedule event = %+v", events[4])
	}
	if !events[5].IsSchedulerTip || !events[5].IsSchedulerHook {
		t.Fatalf("hook event = %+v", events[5])
	}
}
