// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"io"

	"github.com/tracewalk/ipt/normalize"
)

// writeStream serializes recs in the per-task output grammar: one "@
// "-prefixed line per record, the one-character kind tag followed by
// its fields. Disassembly ("d") lines are never emitted: the replay
// engine's Instr values don't survive past classification, so -d is
// accepted but has nothing to print.
func writeStream(w io.Writer, recs []normalize.Record) error {
	bw := bufio.NewWriter(w)
	var lastTsc uint64
	haveTsc := false
	for _, r := range recs {
		if !haveTsc || r.Tsc != lastTsc {
			fmt.Fprintf(bw, "@ t %#x\n", r.Tsc)
			lastTsc, haveTsc = r.Tsc, true
		}
		switch r.Kind.String() {
		case "e":
			fmt.Fprintf(bw, "@ e %d %d %d\n", r.Depth, r.SymbolID, r.InstrCount)
		case "c":
			fmt.Fprintf(bw, "@ c %d %d\n", r.Depth, r.SymbolID)
		case "x":
			fmt.Fprintf(bw, "@ x %d\n", r.ModuleID)
		case ">":
			fmt.Fprintf(bw, "@ > %d\n", r.CPU)
		case "<":
			fmt.Fprintf(bw, "@ < %d\n", r.CPU)
		case "r":
			fmt.Fprintf(bw, "@ r %d %#x\n", r.Depth, r.Addr)
		case "!":
			fmt.Fprintf(bw, "@ ! %s %d\n", r.Tag, r.Count)
		case "!lost":
			fmt.Fprintf(bw, "@ ! lost 1\n")
		case "!overflow":
			fmt.Fprintf(bw, "@ ! overflow 1\n")
		}
	}
	return bw.Flush()
}

// writeLowWater writes lowWater as a single decimal line, the full
// contents of the -w output for one task.
func writeLowWater(w io.Writer, lowWater int) error {
	_, err := fmt.Fprintf(w, "%d\n", lowWater)
	return err
}
