// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package replay implements the per-task instruction replay engine
// (C6): it walks one task's collected blocks, drives a disassembler
// across each TRACE block's byte range, and emits the execute/call/
// module/schedule/timestamp event stream of spec.md §4.6. The engine
// depends only on small interfaces for code lookup and raw trace
// access (Disassembler, Symbolizer, TraceSource) so it can be driven by a fake in
// tests, matching the teacher's pattern of small interfaces over
// concrete I/O (perffile.Record, scale.Interface).
package replay

import "io"

// Class classifies one decoded instruction for the replay loop.
type Class int

const (
	ClassNonTransfer Class = iota
	ClassDirectJump
	ClassDirectConditional
	ClassDirectCall
	ClassIndirectCallJump
	ClassReturn
	ClassInterruptReturn
)

// Instr is one decoded instruction, reduced to what the replay loop
// needs: its length, its classification, and (for direct transfers)
// its resolved target.
type Instr struct {
	Len    int
	Class  Class
	Target uint64 // meaningful for ClassDirectJump/Conditional/Call
	IsCall bool   // for ClassIndirectCallJump: call vs plain jump
}

// Disassembler decodes the instruction at addr within tid's current
// address space.
type Disassembler interface {
	Decode(tid int, addr uint64) (Instr, error)
}

// Symbolizer maps an address in tid's space to the module and symbol
// that own it, and resolves a relocation's original name back to an
// address (spec.md §4.6 "Relocation resolution").
type Symbolizer interface {
	Symbol(tid int, addr uint64) (moduleID, symbolID int, ok bool)
	SymbolName(moduleID, symbolID int) string
	ResolveGlobal(tid int, name string) (uint64, bool)
}

// TraceSource opens the raw per-CPU trace file backing a TRACE block.
type TraceSource interface {
	ReaderAt(cpu int) (io.ReaderAt, error)
}
