// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sideband

import "sort"

// Model holds the full, time-ordered sideband event log for one trace
// capture and answers queries about per-CPU scheduling, hook tables,
// and initial per-CPU state. Process/mmap state itself is not kept
// here -- that's folded in incrementally by a Cursor, since different
// consumers (one per task, per spec.md §5) each need to walk the same
// event log independently up to their own tsc position.
type Model struct {
	events []Event

	byCPU        map[int][]Event // EventSchedule only, sorted by TSC
	initialTid   map[int]int
	initialMask  map[int]uint8
	hooks        []Event // EventHook
	schedulerTip uint64
	haveSchedTip bool
}

// NewModel builds a Model from an already-decoded, arbitrarily-ordered
// event slice.
func NewModel(events []Event) *Model {
	m := &Model{
		events:      append([]Event{}, events...),
		byCPU:       make(map[int][]Event),
		initialTid:  make(map[int]int),
		initialMask: make(map[int]uint8),
	}
	sort.SliceStable(m.events, func(i, j int) bool { return m.events[i].TSC < m.events[j].TSC })
	for _, e := range m.events {
		switch e.Kind {
		case EventInit:
			m.initialTid[e.CPU] = e.InitialTid
			m.initialMask[e.CPU] = e.InitialPacketMask
		case EventSchedule:
			m.byCPU[e.CPU] = append(m.byCPU[e.CPU], e)
		case EventHook:
			m.hooks = append(m.hooks, e)
			if e.IsSchedulerTip {
				m.schedulerTip = e.HookCopyStart
				m.haveSchedTip = true
			}
		}
	}
	return m
}

// InitialTid returns the tid active on cpu at the start of its trace,
// per the sideband log's per-CPU init record.
func (m *Model) InitialTid(cpu int) (int, bool) {
	tid, ok := m.initialTid[cpu]
	return tid, ok
}

// InitialPacketMask returns the packet_mask in effect at the start of
// cpu's trace.
func (m *Model) InitialPacketMask(cpu int) uint8 {
	return m.initialMask[cpu]
}

// Schedulings returns all EventSchedule entries for cpu, sorted by
// tsc.
func (m *Model) Schedulings(cpu int) []Event {
	return m.byCPU[cpu]
}

// SchedulerTip returns the relocated-copy entry address of the
// scheduler's context-switch routine, used by C4 to recognize
// quantum-boundary TIPs that target it directly rather than via the
// hooked entry point.
func (m *Model) SchedulerTip() (uint64, bool) {
	return m.schedulerTip, m.haveSchedTip
}

// Hooks returns every hook/relocation record in tsc order.
func (m *Model) Hooks() []Event {
	return m.hooks
}

// HookFor returns the hook whose copy range contains addr, if any.
// Replay (C6) uses this to map an executed address inside a relocated
// kernel function body back to its original location.
func (m *Model) HookFor(addr uint64) (Event, bool) {
	for _, h := range m.hooks {
		if h.HookCopyLen != 0 && addr >= h.HookCopyStart && addr < h.HookCopyStart+h.HookCopyLen {
			return h, true
		}
	}
	return Event{}, false
}

// WrapperFor returns the wrapper address a hook redirects to when
// addr is exactly the hooked function's original entry point.
func (m *Model) WrapperFor(addr uint64) (uint64, bool) {
	for _, h := range m.hooks {
		if h.HookWrapper != 0 && h.HookOriginal == addr {
			return h.HookWrapper, true
		}
	}
	return 0, false
}

// AdjustPC applies the §4.3 hook-adjustment rule to a current program
// counter: redirect to a hook's wrapper if addr is the hooked
// function's original entry point, or rebase into the original
// function's address space if addr falls inside a relocated copy of
// it. addr is returned unchanged if neither applies.
func (m *Model) AdjustPC(addr uint64) uint64 {
	if wrapper, ok := m.WrapperFor(addr); ok {
		return wrapper
	}
	if h, ok := m.HookFor(addr); ok {
		return h.HookOriginal + (addr - h.HookCopyStart)
	}
	return addr
}

// Events returns the full decoded event log in tsc order.
func (m *Model) Events() []Event {
	return m.events
}
