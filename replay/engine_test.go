// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package replay

import (
	"bytes"
	"io"
	"testing"

	"github.com/tracewalk/ipt/collection"
	"github.com/tracewalk/ipt/ptfile"
)

// fakeDisasm decodes a tiny fixed program: one NonTransfer instruction
// ("add") at base, then a Return ("ret") at base+1.
type fakeDisasm struct {
	base uint64
}

func (d *fakeDisasm) Decode(tid int, addr uint64) (Instr, error) {
	switch addr {
	case d.base:
		return Instr{Len: 1, Class: ClassNonTransfer}, nil
	case d.base + 1:
		return Instr{Len: 1, Class: ClassReturn}, nil
	}
	return Instr{}, io.ErrUnexpectedEOF
}

// fakeSym maps every address in [base, base+2) to module 0, symbol 0
// ("symA"), and resolves nothing else.
type fakeSym struct {
	base uint64
}

func (s *fakeSym) Symbol(tid int, addr uint64) (int, int, bool) {
	if addr >= s.base && addr < s.base+2 {
		return 0, 0, true
	}
	return 0, 0, false
}

func (s *fakeSym) SymbolName(moduleID, symbolID int) string {
	if moduleID == 0 && symbolID == 0 {
		return "symA"
	}
	return ""
}

func (s *fakeSym) ResolveGlobal(tid int, name string) (uint64, bool) { return 0, false }

// fakeTraces hands back an empty raw byte source for every CPU: the
// scenario needs no TNT/TIP packets since its only branch is a
// return, which pops the call stack for free.
type fakeTraces struct{}

func (fakeTraces) ReaderAt(cpu int) (io.ReaderAt, error) {
	return bytes.NewReader(nil), nil
}

// S1: two-instruction program add;ret mapped at 0x1000, one TRACE
// block with tsc [100, 200), call stack seeded with 0xdead. Expected:
// one execute(symA, count=2), one return(depth 0) to 0xdead.
func TestReplaySimpleCallReturn(t *testing.T) {
	base := uint64(0x1000)
	e := NewEngine(fakeTraces{}, &fakeDisasm{base: base}, &fakeSym{base: base})
	// Replay clears the call stack and depth on entry, so the seed is
	// applied from BeforeBlock, which runs after that reset.
	e.BeforeBlock = func(collection.Block) {
		e.callStack = []uint64{0xdead}
		e.depth = 1
	}
	e.pc = base

	blocks := []collection.Block{
		{Kind: collection.KindTrace, CPU: 0, TSCStart: 100, TSCEnd: 200, PosStart: 0, PosEnd: 0},
	}

	events, err := e.Replay(0, blocks)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	var execs, rets int
	for _, ev := range events {
		switch ev.Kind {
		case EventExecute:
			execs++
			if ev.InstrCount != 2 {
				t.Fatalf("execute InstrCount = %d, want 2", ev.InstrCount)
			}
			if ev.SymbolID != 0 || ev.ModuleID != 0 {
				t.Fatalf("execute module/symbol = %d/%d, want 0/0", ev.ModuleID, ev.SymbolID)
			}
		case EventReturn:
			rets++
			if ev.Depth != 0 {
				t.Fatalf("return depth = %d, want 0", ev.Depth)
			}
		}
	}
	if execs != 1 {
		t.Fatalf("execute events = %d, want 1", execs)
	}
	if rets != 1 {
		t.Fatalf("return events = %d, want 1", rets)
	}
	if e.pc != 0xdead {
		t.Fatalf("pc after return = %#x, want 0xdead", e.pc)
	}
	if e.LowWater() != 0 {
		t.Fatalf("LowWater = %d, want 0", e.LowWater())
	}
}

// Suppressed kernel helper calls never reach the event stream, but
// still push/pop the call stack so depth stays balanced.
func TestReplaySuppressedCallStillBalancesDepth(t *testing.T) {
	e := NewEngine(fakeTraces{}, &fakeDisasm{base: 0x2000}, &suppressedSym{})
	e.pc = 0x2000

	e.pushCall(0x2001, 0x3000, 100)
	if len(e.events) != 0 {
		t.Fatalf("suppressed call emitted %d events, want 0", len(e.events))
	}
	if e.depth != 0 {
		t.Fatalf("depth after suppressed call = %d, want 0 (push+pop cancel)", e.depth)
	}
}

type suppressedSym struct{}

func (suppressedSym) Symbol(tid int, addr uint64) (int, int, bool) { return 0, 0, true }
func (suppressedSym) SymbolName(moduleID, symbolID int) string     { return "mcount" }
func (suppressedSym) ResolveGlobal(tid int, name string) (uint64, bool) {
	return 0, false
}

// A call to copy_user_generic_unrolled is reported under its rewritten
// name, copy_user_generic_string, per the §4.6 copy_user heuristic.
func TestReplayRewritesCopyUserCall(t *testing.T) {
	e := NewEngine(fakeTraces{}, &fakeDisasm{base: 0x2000}, &copyUserSym{})
	e.pc = 0x2000

	e.pushCall(0x2001, 0x3000, 100)
	if len(e.events) != 1 {
		t.Fatalf("call emitted %d events, want 1", len(e.events))
	}
	ev := e.events[0]
	if ev.Kind != EventCall || ev.ModuleID != 0 || ev.SymbolID != 2 {
		t.Fatalf("event = %+v, want call to module 0 symbol 2 (copy_user_generic_string)", ev)
	}
}

// copyUserSym models one binary with two functions: symbol 1 is
// copy_user_generic_unrolled at 0x3000, symbol 2 is
// copy_user_generic_string at 0x4000.
type copyUserSym struct{}

func (copyUserSym) Symbol(tid int, addr uint64) (int, int, bool) {
	switch addr {
	case 0x3000:
		return 0, 1, true
	case 0x4000:
		return 0, 2, true
	}
	return 0, 0, false
}

func (copyUserSym) SymbolName(moduleID, symbolID int) string {
	switch symbolID {
	case 1:
		return "copy_user_generic_unrolled"
	case 2:
		return "copy_user_generic_string"
	}
	return ""
}

func (copyUserSym) ResolveGlobal(tid int, name string) (uint64, bool) {
	if name == "copy_user_generic_string" {
		return 0x4000, true
	}
	return 0, false
}

// A compressed-LIP overflow followed by a TIP, run through a local copy
// of drainForTIP's overflow and TIP cases: the overflow is counted,
// emits one EventOverflow and sets the lost flag, and the TIP address
// is returned with lost still set.
func TestDrainForTIPHandlesOverflow(t *testing.T) {
	toks := []ptfile.Token{
		{Kind: ptfile.KindFUPOverflow, Addr: 0x4000, Compressed: true},
		{Kind: ptfile.KindTIP, Addr: 0x4000},
	}
	bt := &blockTokens{toks: toks}
	e := &Engine{}

	drain := func() (uint64, bool) {
		tsc := uint64(0)
		for bt.next < len(bt.toks) {
			tk := bt.toks[bt.next]
			switch tk.Kind {
			case ptfile.KindTIP:
				bt.next++
				return tk.Addr, true
			case ptfile.KindFUPOverflow:
				e.overflows++
				e.emit(Event{Kind: EventOverflow, TSCStart: tsc})
				e.pc = tk.Addr
				if tk.Compressed {
					e.lost = true
				}
				bt.next++
			}
		}
		return 0, false
	}

	addr, ok := drain()
	if !ok || addr != 0x4000 {
		t.Fatalf("drain = %#x,%v, want 0x4000,true", addr, ok)
	}
	if e.overflows != 1 {
		t.Fatalf("overflows = %d, want 1", e.overflows)
	}
	if !e.lost {
		t.Fatal("expected lost=true after compressed overflow")
	}
	if len(e.events) != 1 || e.events[0].Kind != EventOverflow {
		t.Fatalf("events = %+v, want one EventOverflow", e.events)
	}
}
