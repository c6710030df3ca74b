// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package schedheur locates, within one CPU's byte stream, the exact
// (or best-available) packet positions of the context switches the
// sideband log reports only by tsc and a coarse packet-count hint.
// This is passes A/B/C and the curb step of spec.md §4.4.
package schedheur

import (
	"io"
	"sort"

	"github.com/tracewalk/ipt/ptfile"
	"github.com/tracewalk/ipt/sideband"
	"github.com/tracewalk/ipt/tscheur"
)

// pktCntMax bounds the 14-bit packet_count_hint field.
const pktCntMax = 1<<14 - 1

// Candidate is one scheduling point under refinement.
type Candidate struct {
	TSC      uint64
	PktCnt   int
	PrevTid  int
	NewTid   int
	Pos      uint64
	HasPos   bool
	Distance int

	fromVM  bool
	snapped bool // pass B has already claimed this candidate; ignore further TIP matches
}

// VMSection names one guest address range and the tid its execution
// should be attributed to while the instruction pointer is inside it;
// Pass C is off unless at least one is configured (Open Question (c)).
type VMSection struct {
	Start, End uint64
	Tid        int
}

// Seed builds the initial candidate list from a CPU's sideband
// scheduling events, each starting with an infinite (unmatched)
// distance.
func Seed(schedulings []sideband.Event) []Candidate {
	out := make([]Candidate, len(schedulings))
	for i, e := range schedulings {
		out[i] = Candidate{
			TSC:      e.TSC,
			PktCnt:   e.PacketCountHint,
			PrevTid:  e.PrevTid,
			NewTid:   e.NewTid,
			Distance: pktCntMax + 1,
		}
	}
	return out
}

// Match runs passes A, B, (optionally) C, and the curb step over r, a
// single CPU's trace, refining cands in place and returning the
// result re-sorted by tsc.
func Match(r io.ReaderAt, h *tscheur.Heuristics, cands []Candidate, schedulerTip uint64, haveSchedulerTip bool, vmSections []VMSection) ([]Candidate, error) {
	if err := passA(r, h, cands); err != nil {
		return nil, err
	}
	if haveSchedulerTip {
		if err := passB(r, cands, schedulerTip); err != nil {
			return nil, err
		}
	}
	if len(vmSections) > 0 {
		extra, err := passC(r, h, vmSections)
		if err != nil {
			return nil, err
		}
		cands = append(cands, extra...)
	}
	curb(h, cands)
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].TSC < cands[j].TSC })
	return cands, nil
}

// passA walks the full packet stream once, and for each token whose
// containing tsc window holds one or more candidates, tightens those
// candidates' Pos/Distance against the running packet count.
func passA(r io.ReaderAt, h *tscheur.Heuristics, cands []Candidate) error {
	p := ptfile.NewParser(r, 0, 0)
	for {
		tok, err := p.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		win, ok := h.WindowFor(tok.Offset)
		if !ok {
			continue
		}
		pktCnt := int(p.PacketCount())
		if pktCnt > pktCntMax {
			pktCnt = pktCntMax
		}
		for i := range cands {
			c := &cands[i]
			if c.TSC < win.Begin || c.TSC >= win.End {
				continue
			}
			d := pktCnt - c.PktCnt
			if d < 0 {
				d = -d
			}
			if d < c.Distance {
				c.Distance = d
				c.Pos = tok.Offset
				c.HasPos = true
			}
		}
	}
}

// passB walks the packet stream looking for TIPs targeting the
// scheduler's relocated entry point, snapping the nearest preceding
// candidate's Pos to the exact TIP position when it's a confident
// match.
func passB(r io.ReaderAt, cands []Candidate, schedulerTip uint64) error {
	// passB needs tsc windows too, to test the ±4096 overlap rule; a
	// fresh heuristics pass is cheap relative to a full replay.
	h := tscheur.New()
	if err := h.Build(r); err != nil {
		return err
	}
	p := ptfile.NewParser(r, 0, 0)
	for {
		tok, err := p.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if tok.Kind != ptfile.KindTIP || tok.Addr != schedulerTip {
			continue
		}
		best := -1
		for i := range cands {
			c := &cands[i]
			if c.snapped || !c.HasPos || c.Pos > tok.Offset {
				continue
			}
			if best == -1 || cands[best].Pos < c.Pos {
				best = i
			}
		}
		if best == -1 {
			continue
		}
		// No later candidate may already sit before tip_pos.
		blocked := false
		for i := range cands {
			if i == best {
				continue
			}
			if cands[i].HasPos && cands[i].Pos > cands[best].Pos && cands[i].Pos <= tok.Offset {
				blocked = true
				break
			}
		}
		if blocked {
			continue
		}
		win, ok := h.WindowFor(tok.Offset)
		overlaps := ok && win.Begin <= cands[best].TSC+4096 && cands[best].TSC <= win.End+4096
		gap := tok.Offset - cands[best].Pos
		if overlaps || gap < 82 {
			cands[best].Pos = tok.Offset
			cands[best].snapped = true
		}
	}
}

// passC walks the packet stream tracking whether the live instruction
// pointer is inside a configured VM section, emitting a synthetic
// candidate on every linux<->vm transition.
func passC(r io.ReaderAt, h *tscheur.Heuristics, sections []VMSection) ([]Candidate, error) {
	p := ptfile.NewParser(r, 0, 0)
	var out []Candidate
	inVM := -1 // index into sections, or -1 if in host
	for {
		tok, err := p.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if tok.Kind != ptfile.KindTIP && tok.Kind != ptfile.KindFUPPGE {
			continue
		}
		cur := sectionFor(sections, tok.Lip)
		if cur == inVM {
			continue
		}
		win, ok := h.WindowFor(tok.Offset)
		if !ok {
			inVM = cur
			continue
		}
		tid := 0
		if cur >= 0 {
			tid = sections[cur].Tid
		}
		out = append(out, Candidate{
			TSC:     win.Begin,
			Pos:     tok.Offset,
			HasPos:  true,
			NewTid:  tid,
			fromVM:  true,
			Distance: 0,
		})
		inVM = cur
	}
}

func sectionFor(sections []VMSection, addr uint64) int {
	for i, s := range sections {
		if addr >= s.Start && addr < s.End {
			return i
		}
	}
	return -1
}

// curb clamps every positioned candidate's tsc into the tsc window of
// its final byte position.
func curb(h *tscheur.Heuristics, cands []Candidate) {
	for i := range cands {
		c := &cands[i]
		if !c.HasPos {
			continue
		}
		win, ok := h.WindowFor(c.Pos)
		if !ok {
			continue
		}
		if c.TSC < win.Begin {
			c.TSC = win.Begin
		} else if c.TSC >= win.End && win.End > 0 {
			c.TSC = win.End - 1
		}
	}
}

// Quantum is one interval during which a single tid was running on
// this CPU.
type Quantum struct {
	TSCStart, TSCEnd   uint64
	Tid                int
	PosStart, PosEnd   uint64
	HasStart, HasEnd   bool
}

// Quanta turns a matched, tsc-ordered candidate list into the
// quantum sequence of spec.md §4.4, seeding the first quantum from
// the sideband's initial tid.
func Quanta(cands []Candidate, initialTid int, initialTSC uint64) []Quantum {
	all := append([]Candidate{{TSC: initialTSC, NewTid: initialTid, Pos: 0, HasPos: true}}, cands...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].TSC < all[j].TSC })

	out := make([]Quantum, 0, len(all))
	for i := 0; i+1 < len(all); i++ {
		prev, curr := all[i], all[i+1]
		out = append(out, Quantum{
			TSCStart: prev.TSC,
			TSCEnd:   curr.TSC,
			Tid:      prev.NewTid,
			PosStart: prev.Pos,
			HasStart: prev.HasPos,
			PosEnd:   curr.Pos,
			HasEnd:   curr.HasPos,
		})
	}
	return out
}
