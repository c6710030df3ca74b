// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ptfile

import "io"

// psbTrailingZeros is the length of the zero run that must follow a
// PSB lead byte (0xC0) for it to be a genuine sync marker. A shorter
// run is a "broken PSB"; a run of zero is an isolated 0xC0 lookalike
// ("C0 bug"). The lead byte plus this trailing run, rather than the
// full 16-byte on-the-wire packet, is what the parser tests for (see
// the TNT/PSB/S3 worked-example note in DESIGN.md).
const psbTrailingZeros = 8

// decodePSB consumes a PSB lead byte already read at offset and
// validates the trailing zero run.
func (p *Parser) decodePSB(offset uint64) (Token, bool, error) {
	zeros, err := p.countLeadingZeros(psbTrailingZeros)
	if err == io.EOF {
		return Token{}, false, io.EOF
	}
	if zeros < psbTrailingZeros {
		if zeros == 0 {
			tok, rerr := p.resync(offset, WarnC0Lookalike)
			return tok, rerr == nil, rerr
		}
		tok, rerr := p.resync(offset, WarnBrokenPSB)
		return tok, rerr == nil, rerr
	}
	return Token{Kind: KindPSB, Offset: offset, Lip: p.lip}, true, nil
}

// countLeadingZeros consumes up to n bytes, stopping at the first
// non-zero byte (which is left unconsumed), and returns how many
// leading zero bytes were found.
func (p *Parser) countLeadingZeros(n int) (int, error) {
	for i := 0; i < n; i++ {
		b, err := p.c.peekByte()
		if err != nil {
			return i, io.EOF
		}
		if b != 0 {
			return i, nil
		}
		p.c.readByte()
	}
	return n, nil
}

// resync scans forward for the next PSB sentinel (a 0xC0 byte
// immediately followed by eight zero bytes), reporting all
// intervening bytes as skipped. The supplied warning kind records why
// resync was entered.
func (p *Parser) resync(reasonOffset uint64, kind WarningKind) (Token, error) {
	skipped := 0
	for {
		b, err := p.c.readByte()
		if err != nil {
			p.warn(kind, reasonOffset, skipped)
			return Token{}, io.EOF
		}
		if b != 0xC0 {
			skipped++
			continue
		}
		zeros, zerr := p.countLeadingZeros(psbTrailingZeros)
		if zerr == io.EOF {
			p.warn(kind, reasonOffset, skipped)
			return Token{}, io.EOF
		}
		if zeros < psbTrailingZeros {
			// Not a real sentinel; keep scanning past it.
			skipped += 1 + zeros
			continue
		}
		psbOffset := p.c.tell() - uint64(psbTrailingZeros) - 1
		p.warn(kind, reasonOffset, skipped)
		return Token{Kind: KindPSB, Offset: psbOffset, Lip: p.lip}, nil
	}
}
