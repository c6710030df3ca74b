// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/tracewalk/ipt/replay"
)

// conditionalJumps lists every Jcc mnemonic: a direct branch whose
// taken/not-taken outcome the trace's TNT bits decide.
var conditionalJumps = map[x86asm.Op]bool{
	x86asm.JA: true, x86asm.JAE: true, x86asm.JB: true, x86asm.JBE: true,
	x86asm.JE: true, x86asm.JG: true, x86asm.JGE: true, x86asm.JL: true,
	x86asm.JLE: true, x86asm.JNE: true, x86asm.JNO: true, x86asm.JNP: true,
	x86asm.JNS: true, x86asm.JO: true, x86asm.JP: true, x86asm.JS: true,
	x86asm.JCXZ: true, x86asm.JECXZ: true, x86asm.JRCXZ: true,
	x86asm.LOOP: true, x86asm.LOOPE: true, x86asm.LOOPNE: true,
}

// classify turns a decoded x86 instruction at addr into the reduced
// Instr shape the replay engine's loop classifies on.
func classify(addr uint64, inst x86asm.Inst) replay.Instr {
	out := replay.Instr{Len: inst.Len}

	switch inst.Op {
	case x86asm.JMP:
		if rel, ok := inst.Args[0].(x86asm.Rel); ok {
			out.Class = replay.ClassDirectJump
			out.Target = addr + uint64(inst.Len) + uint64(int64(rel))
		} else {
			out.Class = replay.ClassIndirectCallJump
			out.IsCall = false
		}

	case x86asm.CALL:
		if rel, ok := inst.Args[0].(x86asm.Rel); ok {
			out.Class = replay.ClassDirectCall
			out.Target = addr + uint64(inst.Len) + uint64(int64(rel))
		} else {
			out.Class = replay.ClassIndirectCallJump
			out.IsCall = true
		}

	case x86asm.RET, x86asm.RETF:
		out.Class = replay.ClassReturn

	case x86asm.IRET, x86asm.IRETD, x86asm.IRETQ:
		out.Class = replay.ClassInterruptReturn

	default:
		if conditionalJumps[inst.Op] {
			if rel, ok := inst.Args[0].(x86asm.Rel); ok {
				out.Class = replay.ClassDirectConditional
				out.Target = addr + uint64(inst.Len) + uint64(int64(rel))
			} else {
				// Not seen in practice (Jcc is always rel-encoded),
				// but fall back to a non-transfer rather than guess.
				out.Class = replay.ClassNonTransfer
			}
		} else {
			out.Class = replay.ClassNonTransfer
		}
	}
	return out
}
