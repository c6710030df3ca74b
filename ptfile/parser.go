// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ptfile

import (
	"errors"
	"io"
)

// Parser drives the byte-to-token state machine over one trace file
// (or one TRACE block's byte range within it). It keeps just enough
// state to decompress TIP addresses (the LIP) and to recover from
// corrupted packets by resyncing to the next PSB.
type Parser struct {
	c   *cursor
	lip uint64

	packetMask uint8 // advisory gap (in (0x800<<mask)-0x10 packets) between PSBs

	lastPSBOffset       uint64
	bytesSkippedSincePSB int

	heldMTC             *Token
	lastMTC             *Token
	sinceLastMTCNonPSB  bool
	suppressAfterOverflow bool

	queue []Token

	warnings []Warning
}

// NewParser returns a parser positioned at byte offset start of r, with
// lip preloaded (typically block.psb_pos.lip from the collection, so
// that compressed TIPs decode relative to the correct history).
func NewParser(r io.ReaderAt, start uint64, lip uint64) *Parser {
	return &Parser{
		c:             newCursor(r, start),
		lip:           lip,
		lastPSBOffset: start,
	}
}

// SetPacketMask configures the packet_mask value (see spec §3, §4.1
// policy 5) used to detect PSBs emitted because the packet-mask gap
// elapsed rather than ones encountered after resync.
func (p *Parser) SetPacketMask(mask uint8) { p.packetMask = mask }

// Offset returns the absolute byte offset the parser will read from
// next.
func (p *Parser) Offset() uint64 { return p.c.tell() }

// Lip returns the current last-instruction-pointer value.
func (p *Parser) Lip() uint64 { return p.lip }

// Warnings returns all warnings accumulated so far.
func (p *Parser) Warnings() []Warning { return p.warnings }

// PacketCount returns the packet-counter value defined in spec.md
// §4.1 policy 5: offset since the last PSB, discounting skipped bytes.
func (p *Parser) PacketCount() uint64 {
	off := p.c.tell()
	skipped := uint64(p.bytesSkippedSincePSB)
	if off < p.lastPSBOffset+skipped {
		return 0
	}
	return off - p.lastPSBOffset - skipped
}

var errNoMoreTokens = errors.New("ptfile: no more tokens")

// Next returns the next token, applying all workaround policies. It
// returns io.EOF once the underlying stream is exhausted with no
// partial trailing packet (truncation at end of input is not an
// error per spec.md §4.1).
func (p *Parser) Next() (Token, error) {
	for len(p.queue) == 0 {
		tok, err := p.rawNext()
		if err != nil {
			if p.heldMTC != nil {
				// No STS follows a trailing MTC: emit it in place.
				p.flushHeldMTCIfPresent()
				continue
			}
			return Token{}, err
		}
		p.ingest(tok)
	}
	t := p.queue[0]
	p.queue = p.queue[1:]
	return t, nil
}

// SkipToOffset discards tokens until the parser's position is at or
// beyond off.
func (p *Parser) SkipToOffset(off uint64) error {
	for p.c.tell() < off {
		if _, err := p.Next(); err != nil {
			return err
		}
	}
	return nil
}

// SkipToNextTimingPacket discards tokens until the next STS, MTC,
// OVERFLOW, or PGE packet (inclusive), returning that packet.
func (p *Parser) SkipToNextTimingPacket() (Token, error) {
	for {
		tok, err := p.Next()
		if err != nil {
			return Token{}, err
		}
		switch tok.Kind {
		case KindSTS, KindMTC, KindFUPOverflow, KindFUPPGE:
			return tok, nil
		}
	}
}

// ingest applies the composed workaround policies (§4.1) to one
// freshly-decoded token and appends zero or more tokens to the output
// queue.
func (p *Parser) ingest(tok Token) {
	// Policy 3: suppress TNTs and compressed FUPs after an overflow
	// with a compressed LIP, until a non-compressed FUP or PSB.
	if p.suppressAfterOverflow {
		switch tok.Kind {
		case KindTNT:
			return
		case KindPSB:
			p.suppressAfterOverflow = false
		default:
			if isFUPFamily(tok.Kind) && tok.Compressed {
				return
			}
			p.suppressAfterOverflow = false
		}
	}

	// Policy 2: synthesize dropped MTCs between two same-rng MTCs
	// that arrived with nothing but PSBs in between.
	if tok.Kind == KindMTC {
		if p.lastMTC != nil && p.lastMTC.Rng == tok.Rng && !p.sinceLastMTCNonPSB {
			diff := int(tok.TSC8) - int(p.lastMTC.TSC8)
			if diff < 0 {
				diff += 256
			}
			for k := 1; k < diff; k++ {
				p.flushHeldMTCIfPresent()
				p.queue = append(p.queue, Token{
					Kind:   KindMTC,
					Offset: tok.Offset,
					Lip:    p.lip,
					Rng:    tok.Rng,
					TSC8:   uint8(int(p.lastMTC.TSC8) + k),
				})
			}
		}
		m := tok
		p.lastMTC = &m
		p.sinceLastMTCNonPSB = false
	} else if tok.Kind != KindPSB {
		p.sinceLastMTCNonPSB = true
	}

	if tok.Kind == KindFUPOverflow && tok.Compressed {
		p.suppressAfterOverflow = true
		p.warn(WarnOverflowCompressedLIP, tok.Offset, 0)
	}

	// Policy 1: postpone an MTC that immediately precedes an STS
	// whose implied MTC equals mtc+1.
	switch tok.Kind {
	case KindMTC:
		p.flushHeldMTCIfPresent()
		h := tok
		p.heldMTC = &h
	case KindSTS:
		if p.heldMTC != nil {
			implied := uint8((tok.TSC >> uint(7+2*p.heldMTC.Rng)) & 0xff)
			if implied == p.heldMTC.TSC8+1 {
				p.queue = append(p.queue, tok, *p.heldMTC)
			} else {
				p.queue = append(p.queue, *p.heldMTC, tok)
			}
			p.heldMTC = nil
		} else {
			p.queue = append(p.queue, tok)
		}
	default:
		p.flushHeldMTCIfPresent()
		p.queue = append(p.queue, tok)
	}

	if tok.Kind == KindPSB {
		p.notePSB(tok.Offset)
	}
}

func (p *Parser) flushHeldMTCIfPresent() {
	if p.heldMTC != nil {
		p.queue = append(p.queue, *p.heldMTC)
		p.heldMTC = nil
	}
}

// notePSB implements policy 5's reset rule: the packet counter only
// resets its baseline when the PSB was generated because the
// packet_mask gap elapsed.
func (p *Parser) notePSB(offset uint64) {
	gap := p.PacketCount()
	threshold := (uint64(0x800) << p.packetMask) - 0x10
	if gap > threshold {
		p.lastPSBOffset = offset
		p.bytesSkippedSincePSB = 0
	}
}

func isFUPFamily(k Kind) bool {
	switch k {
	case KindFUPPGE, KindFUPPGD, KindFUPOverflow, KindFUPFar, KindTIP:
		return true
	}
	return false
}

func (p *Parser) warn(kind WarningKind, offset uint64, skipped int) {
	p.warnings = append(p.warnings, Warning{Kind: kind, Offset: offset, Skipped: skipped})
	p.bytesSkippedSincePSB += skipped
}
