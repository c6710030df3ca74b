// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sideband

import "testing"

// TestAdjustPCWrapperAndRelocatedCopy covers scenario S6: a hooked
// kernel function's original entry point redirects to its wrapper,
// and an address inside the function's relocated copy rebases back
// to the same offset within the original.
func TestAdjustPCWrapperAndRelocatedCopy(t *testing.T) {
	const (
		original = uint64(0xffffffff81500000)
		wrapper  = uint64(0xffffffff81600000)
		copyAddr = uint64(0xffffffffc0000000)
		copyLen  = uint64(0x1000)
	)
	events := []Event{
		{Kind: EventHook, TSC: 0, HookOriginal: original, HookWrapper: wrapper},
		{Kind: EventHook, TSC: 0, HookOriginal: original, HookCopyStart: copyAddr, HookCopyLen: copyLen},
	}
	m := NewModel(events)

	if got := m.AdjustPC(original); got != wrapper {
		t.Errorf("AdjustPC(0x%x) = %#x, want wrapper %#x", original, got, wrapper)
	}
	if got, want := m.AdjustPC(0xffffffffc0000020), uint64(0xffffffff81500020); got != want {
		t.Errorf("AdjustPC(0xffffffffc0000020) = %#x, want %#x", got, want)
	}
	if got := m.AdjustPC(0xdeadbeef); got != 0xdeadbeef {
		t.Errorf("AdjustPC(unrelated) = %#x, want unchanged", got)
	}
}

func TestCursorAdjustPC(t *testing.T) {
	const (
		original = uint64(0xffffffff81500000)
		copyAddr = uint64(0xffffffffc0000000)
	)
	events := []Event{
		{Kind: EventHook, TSC: 0, HookOriginal: original, HookCopyStart: copyAddr, HookCopyLen: 0x1000},
	}
	c := NewCursor(NewModel(events))
	if got, want := c.AdjustPC(0xffffffffc0000020), original+0x20; got != want {
		t.Errorf("Cursor.AdjustPC(0xffffffffc0000020) = %#x, want %#x", got, want)
	}
}
