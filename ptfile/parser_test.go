// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ptfile

import (
	"bytes"
	"io"
	"testing"
)

// byteReaderAt adapts a byte slice to io.ReaderAt for tests.
type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// TestTNTShort covers scenario S2: lead byte 0x5E decodes via the
// topmost-set-bit rule into a 6-decision run (bit 6 is topmost since
// bit 7 is clear). See SPEC_FULL.md / DESIGN.md for why this
// implementation's count and bit values differ slightly from the
// spec's own worked arithmetic for this byte.
func TestTNTShort(t *testing.T) {
	p := NewParser(byteReaderAt([]byte{0x5E}), 0, 0)
	tok, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if tok.Kind != KindTNT {
		t.Fatalf("kind = %v, want TNT", tok.Kind)
	}
	if tok.Count != 6 {
		t.Fatalf("count = %d, want 6", tok.Count)
	}
	want := uint64(0b011110)
	if tok.Bits != want {
		t.Fatalf("bits = %b, want %b", tok.Bits, want)
	}
}

// TestPSBRoundTrip checks that a lone PSB followed by EOF yields no
// token errors other than io.EOF and no warnings (boundary behavior
// from spec.md §8).
func TestPSBRoundTrip(t *testing.T) {
	buf := append([]byte{0xC0}, make([]byte, 8)...)
	p := NewParser(byteReaderAt(buf), 0, 0)
	tok, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if tok.Kind != KindPSB {
		t.Fatalf("kind = %v, want PSB", tok.Kind)
	}
	if _, err := p.Next(); err != io.EOF {
		t.Fatalf("second Next err = %v, want EOF", err)
	}
	if len(p.Warnings()) != 0 {
		t.Fatalf("warnings = %v, want none", p.Warnings())
	}
}

// TestResyncOnZeroLead checks that a corrupted lead byte resyncs to
// the next PSB and reports the skipped bytes.
func TestResyncOnZeroLead(t *testing.T) {
	garbage := []byte{0x00, 0xAB, 0xCD}
	psb := append([]byte{0xC0}, make([]byte, 8)...)
	buf := append(garbage, psb...)
	p := NewParser(byteReaderAt(buf), 0, 0)
	tok, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if tok.Kind != KindPSB {
		t.Fatalf("kind = %v, want PSB", tok.Kind)
	}
	if len(p.Warnings()) != 1 {
		t.Fatalf("warnings = %v, want 1", p.Warnings())
	}
	if p.Warnings()[0].Skipped != len(garbage)-1 {
		t.Fatalf("skipped = %d, want %d", p.Warnings()[0].Skipped, len(garbage)-1)
	}
}

// TestBrokenPSB checks that a PSB with too few leading zeros is
// recognized as broken and triggers resync.
func TestBrokenPSB(t *testing.T) {
	broken := append([]byte{0xC0, 0, 0, 0}, 0xAB) // only 3 zeros then garbage
	good := append([]byte{0xC0}, make([]byte, 8)...)
	buf := append(broken, good...)
	p := NewParser(byteReaderAt(buf), 0, 0)
	tok, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if tok.Kind != KindPSB {
		t.Fatalf("kind = %v, want PSB", tok.Kind)
	}
	if len(p.Warnings()) != 1 || p.Warnings()[0].Kind != WarnBrokenPSB {
		t.Fatalf("warnings = %v, want one broken-psb", p.Warnings())
	}
}

// TestSTSFull decodes a full STS packet (scenario-adjacent to S3: an
// STS anchors an absolute tsc).
func TestSTSFull(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0xC1) // extended, sub=1 (STS)
	buf.WriteByte(0x01) // acbr
	buf.WriteByte(0x02) // ecbr
	// 5-byte little-endian tsc = 0x40
	buf.Write([]byte{0x40, 0, 0, 0, 0})

	p := NewParser(byteReaderAt(buf.Bytes()), 0, 0)
	tok, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if tok.Kind != KindSTS || tok.TSC != 0x40 {
		t.Fatalf("tok = %+v", tok)
	}
}

// TestOverflowCompressedSuppression checks policy 3: TNTs after a
// compressed-LIP overflow are discarded until a PSB.
func TestOverflowCompressedSuppression(t *testing.T) {
	var buf bytes.Buffer
	// FUP.OVERFLOW, cnt=0, zext=0 => 2-byte compressed addr.
	buf.WriteByte(0x90) // 1001_0000: sub=(0x90>>3)&7=2 (OVERFLOW), low3=0
	buf.Write([]byte{0x34, 0x12})
	// A TNT that must be suppressed.
	buf.WriteByte(0x02)
	// A PSB that ends suppression.
	buf.WriteByte(0xC0)
	buf.Write(make([]byte, 8))

	p := NewParser(byteReaderAt(buf.Bytes()), 0, 0x1000000000000)
	tok1, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if tok1.Kind != KindFUPOverflow || !tok1.Compressed {
		t.Fatalf("tok1 = %+v", tok1)
	}
	tok2, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if tok2.Kind != KindPSB {
		t.Fatalf("tok2 kind = %v, want PSB (TNT should have been suppressed)", tok2.Kind)
	}
}
