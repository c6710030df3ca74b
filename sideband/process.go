// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sideband

// Process tracks one tid's current memory map and display name as of
// whatever tsc a Cursor has advanced it to.
type Process struct {
	Tid    int
	Ppid   int
	Comm   string
	kernel *Process
	maps   []*Mapping
}

// Mapping is one live virtual memory region.
type Mapping struct {
	Start, Length, PageOffset uint64
	Path                      string
}

func (p *Process) fork(tid int) *Process {
	maps := make([]*Mapping, len(p.maps))
	for i, mp := range p.maps {
		cp := *mp
		maps[i] = &cp
	}
	return &Process{Tid: tid, Ppid: p.Tid, Comm: p.Comm, kernel: p.kernel, maps: maps}
}

// munmap removes or trims mappings overlapping [addr, addr+mlen),
// splitting a mapping that strictly contains the unmapped range in
// two. Adapted directly from the equivalent perf mmap-record logic;
// processor trace sideband logs report munmap the same way perf's
// PERF_RECORD_MMAP2 does.
func (p *Process) munmap(addr, mlen uint64) {
	end := addr + mlen
	removed := false
	nmaps := p.maps
	for i, mp := range p.maps {
		if addr <= mp.Start {
			if end >= mp.Start+mp.Length {
				p.maps[i] = nil
				removed = true
			} else if end > mp.Start {
				mp.Length -= end - mp.Start
				mp.Start = end
			}
		} else if addr < mp.Start+mp.Length {
			if end >= mp.Start+mp.Length {
				mp.Length = addr - mp.Start
			} else {
				nmp := *mp
				nmp.PageOffset += end - mp.Start
				nmp.Start = end
				nmp.Length = (mp.Start + mp.Length) - end
				nmaps = append(nmaps, &nmp)
				mp.Length = addr - mp.Start
			}
		}
	}
	if removed {
		d := 0
		for s := 0; s < len(nmaps); s++ {
			if nmaps[s] != nil {
				nmaps[d] = nmaps[s]
				d++
			}
		}
		nmaps = nmaps[:d]
	}
	p.maps = nmaps
}

func (p *Process) mapFind(addr uint64) *Mapping {
	for _, mp := range p.maps {
		if mp.Start <= addr && addr < mp.Start+mp.Length {
			return mp
		}
	}
	return nil
}

// Mappings returns a snapshot of every region currently mapped into p,
// for a caller (relocation resolution) that needs to search every
// loaded module rather than look one address up.
func (p *Process) Mappings() []Mapping {
	out := make([]Mapping, len(p.maps))
	for i, mp := range p.maps {
		out[i] = *mp
	}
	return out
}

// LookupMapping finds the mapping covering addr, falling back to the
// shared kernel address space (tid -1) the way perfsession does.
func (p *Process) LookupMapping(addr uint64) *Mapping {
	if m := p.mapFind(addr); m != nil {
		return m
	}
	if p.kernel != nil {
		return p.kernel.mapFind(addr)
	}
	return nil
}

// Cursor folds a Model's event log into live per-tid process state as
// its caller's own notion of "now" (a monotonically increasing tsc)
// advances. Each task's replay owns one Cursor and calls AdvanceTo as
// it walks its blocks forward in tsc order; re-deriving this state
// independently per task (rather than sharing a single pass) costs
// only a cheap, fully parallel re-walk of the sideband log, per the
// concurrency model in spec.md §5.
type Cursor struct {
	m      *Model
	pos    int
	kernel *Process
	procs  map[int]*Process
}

// NewCursor returns a Cursor over m positioned before the first
// event.
func NewCursor(m *Model) *Cursor {
	kernel := &Process{Tid: -1, Comm: "[kernel]"}
	return &Cursor{
		m:      m,
		kernel: kernel,
		procs: map[int]*Process{
			-1: kernel,
		},
	}
}

func (c *Cursor) ensure(tid int) *Process {
	p, ok := c.procs[tid]
	if !ok {
		p = &Process{Tid: tid, kernel: c.kernel}
		c.procs[tid] = p
	}
	return p
}

// AdvanceTo folds every event with TSC <= tsc into the live process
// table. Calling it with a non-decreasing sequence of tsc values (as
// a forward replay walk does) is the only supported usage; it is a
// no-op if tsc is behind the cursor's current position.
func (c *Cursor) AdvanceTo(tsc uint64) {
	for c.pos < len(c.m.events) && c.m.events[c.pos].TSC <= tsc {
		c.apply(c.m.events[c.pos])
		c.pos++
	}
}

func (c *Cursor) apply(e Event) {
	switch e.Kind {
	case EventProcess:
		if e.PID == e.PPID {
			return // thread creation, not a new process
		}
		c.procs[e.PID] = c.ensure(e.PPID).fork(e.PID)
		if e.Comm != "" {
			c.procs[e.PID].Comm = e.Comm
		}

	case EventMmap:
		info := c.ensure(e.PID)
		info.munmap(e.Start, e.Length)
		info.maps = append(info.maps, &Mapping{Start: e.Start, Length: e.Length, PageOffset: e.PageOffset, Path: e.Path})
		if info.Comm == "" {
			// First mmap into a fresh address space names the
			// process, the way SATT's sideband parser derives comm
			// from the first module loaded into a pid with no
			// preceding EventProcess (e.g. the initial exec of an
			// already-existing tid).
			info.Comm = e.Path
		}

	case EventMunmap:
		c.ensure(e.PID).munmap(e.Start, e.Length)
	}
}

// Lookup returns the process state for tid as of the cursor's current
// position, creating an empty record if tid hasn't been seen.
func (c *Cursor) Lookup(tid int) *Process {
	return c.ensure(tid)
}

// AdjustPC applies the underlying Model's hook table to addr (§4.3):
// a callback's original entry point redirects to its wrapper, and an
// address inside a relocated copy rebases back to the original. The
// hook table is static for the whole capture, so this doesn't depend
// on the cursor's current tsc position.
func (c *Cursor) AdjustPC(addr uint64) uint64 {
	return c.m.AdjustPC(addr)
}

// LookupMmap resolves addr within tid's address space as of the
// cursor's current position. The returned loadStart is the mapping's
// load_start per spec.md §4.3 (m.Start - 4 KiB*PageOffset), the file
// offset 0 of the backing image, not merely the mapped region's own
// start -- a mapping that begins partway into its file (a non-zero
// PageOffset, as with a shared library's later LOAD segments) would
// otherwise make the caller's addr-loadStart subtraction land short
// of the true file offset by PageOffset pages.
func (c *Cursor) LookupMmap(tid int, addr uint64) (path string, loadStart uint64, ok bool) {
	m := c.ensure(tid).LookupMapping(addr)
	if m == nil {
		return "", 0, false
	}
	return m.Path, m.Start - 4096*m.PageOffset, true
}
