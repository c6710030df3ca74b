// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ptdump decodes a single raw processor-trace file and prints
// its packet stream one line per token, along with any recoverable
// parser warnings. It is the packet-level analogue of dump, useful
// for inspecting a trace that ptdecode is reconstructing oddly.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/tracewalk/ipt/ptfile"
)

func main() {
	var (
		flagStart = flag.Uint64("start", 0, "byte `offset` to begin decoding at")
		flagLip   = flag.Uint64("lip", 0, "initial linear IP in effect at -start")
		flagMask  = flag.Uint("mask", 0, "initial packet mask (PSB counter-reset threshold is (0x800<<mask)-0x10)")
	)
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	p := ptfile.NewParser(f, *flagStart, *flagLip)
	p.SetPacketMask(uint8(*flagMask))

	count := 0
	for {
		tok, err := p.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("decode error: %v", err)
		}
		printToken(tok)
		count++
	}

	if warnings := p.Warnings(); len(warnings) > 0 {
		fmt.Fprintf(os.Stderr, "%d warnings:\n", len(warnings))
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "  %s\n", w)
		}
	}
	fmt.Fprintf(os.Stderr, "%d tokens, %d packets\n", count, p.PacketCount())
}

func printToken(tok ptfile.Token) {
	switch tok.Kind {
	case ptfile.KindTNT:
		fmt.Printf("%#08x TNT count=%d bits=%0*b\n", tok.Offset, tok.Count, tok.Count, tok.Bits)
	case ptfile.KindTIP, ptfile.KindFUPPGE, ptfile.KindFUPPGD, ptfile.KindFUPOverflow, ptfile.KindFUPFar:
		fmt.Printf("%#08x %-12s addr=%#x compressed=%v\n", tok.Offset, tok.Kind, tok.Addr, tok.Compressed)
	case ptfile.KindSTS:
		fmt.Printf("%#08x STS  acbr=%d ecbr=%d tsc=%#x\n", tok.Offset, tok.ACBR, tok.ECBR, tok.TSC)
	case ptfile.KindMTC:
		fmt.Printf("%#08x MTC  rng=%d tsc8=%#x\n", tok.Offset, tok.Rng, tok.TSC8)
	case ptfile.KindPIP:
		fmt.Printf("%#08x PIP  cr0pg=%v cr3=%#x\n", tok.Offset, tok.CR0PG, tok.CR3)
	case ptfile.KindCCP:
		fmt.Printf("%#08x CCP  cntp=%d\n", tok.Offset, tok.CntP)
	default:
		fmt.Printf("%#08x %s\n", tok.Offset, tok.Kind)
	}
}
