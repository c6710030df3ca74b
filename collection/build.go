// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package collection

import (
	"sort"

	"github.com/tracewalk/ipt/schedheur"
	"github.com/tracewalk/ipt/tscheur"
)

// TaggedBlock is one CPU-local block together with the tid it belongs
// to, the unit BuildCPU produces and Merge consumes. The tid is not
// part of the serialized Block itself: the collection-file grammar
// groups blocks under their owning "task" line instead.
type TaggedBlock struct {
	Tid   int
	Block Block
}

// BuildCPU turns one CPU's has-tsc ranges and matched scheduling
// quanta into its tagged block sequence, splitting TRACE blocks at
// quantum boundaries and bracketing each quantum with
// SCHEDULE_IN/OUT, per spec.md §4.5.
func BuildCPU(cpu int, ranges []tscheur.Range, quanta []schedheur.Quantum) []TaggedBlock {
	var out []TaggedBlock
	qi := 0

	tidAt := func(tsc uint64) (int, bool) {
		for i := qi; i < len(quanta); i++ {
			if tsc >= quanta[i].TSCStart && tsc < quanta[i].TSCEnd {
				return quanta[i].Tid, true
			}
		}
		return 0, false
	}

	lastTid := 0
	haveLastTid := false

	for _, r := range ranges {
		if !r.HasTSC {
			continue
		}
		begin, end := r.Window.Begin, r.Window.End
		pos := r.Start

		for begin < end {
			for qi < len(quanta) && quanta[qi].TSCEnd <= begin {
				qi++
			}
			tid, ok := tidAt(begin)
			if !ok {
				// No quantum covers this stretch (this includes a CPU
				// with zero schedulings, for which Quanta returns no
				// quanta); emit it as one untagged (tid 0) TRACE block
				// with no SCHEDULE_IN/SCHEDULE_OUT around it.
				out = append(out, TaggedBlock{0, Block{Kind: KindTrace, CPU: cpu, TSCStart: begin, TSCEnd: end, PosStart: pos, PosEnd: r.End}})
				begin = end
				continue
			}
			if !haveLastTid || tid != lastTid {
				out = append(out, TaggedBlock{tid, Block{Kind: KindScheduleIn, CPU: cpu, TSCStart: begin}})
				lastTid, haveLastTid = tid, true
			}

			// Does the current quantum end before this window does?
			splitAt := end
			var splitPos uint64
			havePos := false
			if qi < len(quanta) && quanta[qi].Tid == tid && quanta[qi].TSCEnd < end {
				splitAt = quanta[qi].TSCEnd
				if quanta[qi].HasEnd {
					splitPos, havePos = quanta[qi].PosEnd, true
				}
			}

			if splitAt >= end {
				out = append(out, TaggedBlock{tid, Block{Kind: KindTrace, CPU: cpu, TSCStart: begin, TSCEnd: end, PosStart: pos, PosEnd: r.End}})
				begin = end
				continue
			}

			splitPosFinal := r.End
			if havePos && splitPos > pos && splitPos < r.End {
				splitPosFinal = splitPos
			}
			out = append(out, TaggedBlock{tid, Block{Kind: KindTrace, CPU: cpu, TSCStart: begin, TSCEnd: splitAt, PosStart: pos, PosEnd: splitPosFinal}})
			out = append(out, TaggedBlock{tid, Block{Kind: KindScheduleOut, CPU: cpu, TSCStart: splitAt}})
			haveLastTid = false
			begin = splitAt
			pos = splitPosFinal
		}
	}
	return out
}

// Merge interleaves each CPU's tagged block list into per-task
// sequences, always advancing the CPU with the smallest pending
// tsc_start, per spec.md §4.5.
func Merge(names map[int]string, perCPU map[int][]TaggedBlock) []Task {
	type cur struct {
		blocks []TaggedBlock
		idx    int
	}
	cpus := make([]int, 0, len(perCPU))
	for cpu := range perCPU {
		cpus = append(cpus, cpu)
	}
	sort.Ints(cpus)

	cursors := make([]*cur, len(cpus))
	for i, cpu := range cpus {
		cursors[i] = &cur{blocks: perCPU[cpu]}
	}

	taskIdx := make(map[int]int)
	var tasks []Task
	taskFor := func(tid int) *Task {
		i, ok := taskIdx[tid]
		if !ok {
			tasks = append(tasks, Task{Tid: tid, Name: names[tid]})
			i = len(tasks) - 1
			taskIdx[tid] = i
		}
		return &tasks[i]
	}

	for {
		best := -1
		for i, c := range cursors {
			if c.idx >= len(c.blocks) {
				continue
			}
			if best == -1 || c.blocks[c.idx].Block.TSCStart < cursors[best].blocks[cursors[best].idx].Block.TSCStart {
				best = i
			}
		}
		if best == -1 {
			break
		}
		c := cursors[best]
		tb := c.blocks[c.idx]
		c.idx++
		t := taskFor(tb.Tid)
		t.Blocks = append(t.Blocks, tb.Block)
	}
	return tasks
}
