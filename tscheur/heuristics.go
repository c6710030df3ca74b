// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tscheur assigns an absolute tsc window to every byte
// position of one CPU's trace file, reconciling the coarse MTC ticks,
// the full STS timestamps, and overflow/skip markers via the
// four-pass heuristic described in spec.md §4.2.
package tscheur

import (
	"io"
	"sort"

	"github.com/tracewalk/ipt/ptfile"
)

// ItemType classifies one timing-relevant position collected in pass 1.
type ItemType int

const (
	ItemBegin ItemType = iota
	ItemEnd
	ItemSTS
	ItemMTC
	ItemOverflow
	ItemSkip
	ItemPGE
)

// Item is one (pos, type, mtc8?, tsc?) entry from spec.md §4.2 pass 1,
// augmented in place by passes 2-4 with back-filled mtc/tsc values.
type Item struct {
	Pos  uint64
	Type ItemType

	MTCKnown bool
	MTC      uint8
	Rng      uint8

	TSCKnown bool
	TSC      uint64
}

// Window is a [Begin, End) tsc range.
type Window struct {
	Begin, End uint64
}

// Heuristics holds the collected and back-filled timing items for one
// trace file.
type Heuristics struct {
	// MaxMTCGap bounds how many ticks pass 4 will bridge without an
	// anchoring STS; spec.md §9 Open Question (a) leaves its origin
	// (150) empirical and configurable.
	MaxMTCGap int

	items []Item
}

// New returns a Heuristics with the default 150-tick gap ceiling.
func New() *Heuristics {
	return &Heuristics{MaxMTCGap: 150}
}

// Build runs all four passes over r, a single CPU's trace file.
func (h *Heuristics) Build(r io.ReaderAt) error {
	if err := h.pass1(r); err != nil {
		return err
	}
	h.pass2()
	h.fillFromSTS(1)   // pass 3
	h.fillFromSTS(h.MaxMTCGap) // pass 4
	return nil
}

// pass1 collects timing events at every STS, MTC, OVERFLOW, SKIP,
// FUP_PGE, plus synthetic BEGIN/END sentinels.
func (h *Heuristics) pass1(r io.ReaderAt) error {
	h.items = append(h.items, Item{Pos: 0, Type: ItemBegin, TSCKnown: true, TSC: 0})

	p := ptfile.NewParser(r, 0, 0)
	for {
		tok, err := p.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		switch tok.Kind {
		case ptfile.KindSTS:
			h.items = append(h.items, Item{Pos: tok.Offset, Type: ItemSTS, TSCKnown: true, TSC: tok.TSC})
		case ptfile.KindMTC:
			h.items = append(h.items, Item{Pos: tok.Offset, Type: ItemMTC, MTCKnown: true, MTC: tok.TSC8, Rng: tok.Rng})
		case ptfile.KindFUPOverflow:
			h.items = append(h.items, Item{Pos: tok.Offset, Type: ItemOverflow})
		case ptfile.KindFUPPGE:
			h.items = append(h.items, Item{Pos: tok.Offset, Type: ItemPGE})
		}
	}
	for _, w := range p.Warnings() {
		h.items = append(h.items, Item{Pos: w.Offset, Type: ItemSkip})
	}
	h.items = append(h.items, Item{Pos: p.Offset(), Type: ItemEnd})

	sort.Slice(h.items, func(i, j int) bool { return h.items[i].Pos < h.items[j].Pos })
	return nil
}

// pass2 back-fills MTC values for items that don't carry one natively
// (overflow/skip/PGE/begin/end), per spec.md §4.2 pass 2.
func (h *Heuristics) pass2() {
	// First, give every STS its implied MTC value at its own rng.
	// STS packets don't carry an rng of their own; we infer it from
	// the nearest MTC neighbor (an unavoidable simplification given
	// spec.md doesn't specify how rng attaches to an STS -- see
	// DESIGN.md).
	defaultRng := h.nearestRng()
	for i := range h.items {
		if h.items[i].Type == ItemSTS {
			rng := h.rngNear(i)
			if rng < 0 {
				rng = int(defaultRng)
			}
			h.items[i].Rng = uint8(rng)
			h.items[i].MTC = uint8((h.items[i].TSC >> uint(7+2*rng)) & 0xff)
			h.items[i].MTCKnown = true
		}
	}

	n := len(h.items)
	i := 0
	for i < n {
		if h.items[i].MTCKnown {
			i++
			continue
		}
		j := i
		for j < n && !h.items[j].MTCKnown {
			j++
		}
		if i == 0 || j >= n {
			i = j + 1
			continue
		}
		prev := h.items[i-1]
		next := h.items[j]
		diff := int(next.MTC) - int(prev.MTC)
		if diff < 0 {
			diff += 256
		}
		if diff == 0 || diff == 1 {
			for k := i; k < j; k++ {
				h.items[k].MTCKnown = true
				h.items[k].MTC = prev.MTC
				h.items[k].Rng = prev.Rng
			}
		} else if j > i {
			val := next.MTC
			if next.Type == ItemMTC {
				val--
			}
			h.items[j-1].MTCKnown = true
			h.items[j-1].MTC = val
			h.items[j-1].Rng = next.Rng
		}
		i = j + 1
	}
}

func (h *Heuristics) nearestRng() uint8 {
	for _, it := range h.items {
		if it.Type == ItemMTC {
			return it.Rng
		}
	}
	return 3
}

// rngNear returns the rng of the closest MTC item to index i, or -1
// if there is none.
func (h *Heuristics) rngNear(i int) int {
	for d := 1; d < len(h.items); d++ {
		if i-d >= 0 && h.items[i-d].Type == ItemMTC {
			return int(h.items[i-d].Rng)
		}
		if i+d < len(h.items) && h.items[i+d].Type == ItemMTC {
			return int(h.items[i+d].Rng)
		}
		if i-d < 0 && i+d >= len(h.items) {
			break
		}
	}
	return -1
}

// fillFromSTS walks both directions from every STS, filling tsc
// values for MTC-bearing items within bound ticks, per spec.md §4.2
// passes 3 and 4.
func (h *Heuristics) fillFromSTS(bound int) {
	for idx := range h.items {
		it := h.items[idx]
		if it.Type != ItemSTS || !it.TSCKnown {
			continue
		}
		prevMTC, prevTSC, rng := it.MTC, it.TSC, it.Rng
		for k := idx + 1; k < len(h.items); k++ {
			cur := &h.items[k]
			if !cur.MTCKnown {
				break
			}
			diff := int(cur.MTC) - int(prevMTC)
			if diff < 0 {
				diff += 256
			}
			if diff > bound {
				break
			}
			if !cur.TSCKnown {
				mask := uint64(1)<<uint(7+2*rng) - 1
				cur.TSC = (prevTSC + uint64(diff)<<uint(7+2*rng)) &^ mask
				cur.TSCKnown = true
			}
			prevMTC, prevTSC = cur.MTC, cur.TSC
		}
		prevMTC, prevTSC, rng = it.MTC, it.TSC, it.Rng
		for k := idx - 1; k >= 0; k-- {
			cur := &h.items[k]
			if !cur.MTCKnown {
				break
			}
			diff := int(prevMTC) - int(cur.MTC)
			if diff < 0 {
				diff += 256
			}
			if diff > bound {
				break
			}
			if !cur.TSCKnown {
				mask := uint64(1)<<uint(7+2*rng) - 1
				cur.TSC = (prevTSC - uint64(diff)<<uint(7+2*rng)) &^ mask
				cur.TSCKnown = true
			}
			prevMTC, prevTSC = cur.MTC, cur.TSC
		}
	}
}

// WindowFor returns the tsc window containing offset, and whether one
// could be determined at all.
func (h *Heuristics) WindowFor(offset uint64) (Window, bool) {
	i := h.indexFor(offset)
	if i < 0 || !h.items[i].TSCKnown || h.items[i].TSC == 0 {
		return Window{}, false
	}
	begin := h.items[i].TSC
	end := begin + (uint64(1) << uint(7+2*h.items[i].Rng))
	for k := i + 1; k < len(h.items); k++ {
		if h.items[k].TSCKnown && h.items[k].TSC > begin {
			if h.items[k].TSC < end {
				end = h.items[k].TSC
			}
			break
		}
	}
	return Window{Begin: begin, End: end}, true
}

func (h *Heuristics) indexFor(offset uint64) int {
	i := sort.Search(len(h.items), func(i int) bool { return h.items[i].Pos > offset }) - 1
	if i < 0 {
		return -1
	}
	return i
}

// Range is one coalesced run of contiguous byte positions sharing a
// has-tsc classification (and, when has-tsc, the same window).
type Range struct {
	Start, End uint64
	HasTSC     bool
	Window     Window
}

// Ranges returns the coalesced has-tsc/no-tsc iterator described in
// spec.md §4.2.
func (h *Heuristics) Ranges() []Range {
	var out []Range
	for i := 0; i < len(h.items); i++ {
		start := h.items[i].Pos
		var end uint64
		if i+1 < len(h.items) {
			end = h.items[i+1].Pos
		} else {
			end = start
		}
		if start == end {
			continue
		}
		w, ok := h.WindowFor(start)
		r := Range{Start: start, End: end, HasTSC: ok, Window: w}
		if n := len(out); n > 0 && out[n-1].HasTSC == r.HasTSC && out[n-1].Window == r.Window && out[n-1].End == r.Start {
			out[n-1].End = r.End
		} else {
			out = append(out, r)
		}
	}
	return out
}
