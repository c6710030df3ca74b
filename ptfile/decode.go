// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ptfile

import (
	"io"
	"math/bits"
)

// rawNext decodes exactly one packet with no workaround policies
// applied, transparently resyncing to the next PSB on any malformed
// encoding. It only returns an error for end-of-stream.
func (p *Parser) rawNext() (Token, error) {
	for {
		start := p.c.tell()
		lead, err := p.c.readByte()
		if err != nil {
			return Token{}, io.EOF
		}

		switch {
		case lead == 0:
			tok, rerr := p.resync(start, WarnZeroLead)
			if rerr != nil {
				return Token{}, rerr
			}
			return tok, nil

		case lead&0x80 == 0:
			// TNT short form.
			tok, ok := p.decodeTNTShort(start, lead)
			if !ok {
				tok, rerr := p.resync(start, WarnTNTTooLong)
				if rerr != nil {
					return Token{}, rerr
				}
				return tok, nil
			}
			return tok, nil

		case lead&0xC0 == 0x80:
			tok, ok, rerr := p.decodeFUPFamily(start, lead)
			if rerr != nil {
				return Token{}, rerr
			}
			if !ok {
				tok, rerr = p.resync(start, WarnReserved)
				if rerr != nil {
					return Token{}, rerr
				}
			}
			return tok, nil

		default: // lead&0xC0 == 0xC0: extended family
			tok, ok, rerr := p.decodeExtended(start, lead)
			if rerr != nil {
				return Token{}, rerr
			}
			if !ok {
				tok, rerr = p.resync(start, WarnReserved)
				if rerr != nil {
					return Token{}, rerr
				}
			}
			return tok, nil
		}
	}
}

// decodeTNTShort decodes the short TNT form: the position of the
// topmost set bit gives the decision count (1-6); bits below it are
// decisions, MSB-first, stored with the earliest decision in bit 0 of
// Token.Bits.
func (p *Parser) decodeTNTShort(offset uint64, lead byte) (Token, bool) {
	top := bits.Len8(lead) - 1 // position of topmost set bit
	if top < 0 || top > 6 {
		return Token{}, false
	}
	count := top
	var decisions uint64
	for i := 0; i < count; i++ {
		srcBit := top - 1 - i
		bit := (lead >> uint(srcBit)) & 1
		decisions |= uint64(bit) << uint(i)
	}
	return Token{Kind: KindTNT, Offset: offset, Lip: p.lip, Bits: decisions, Count: count}, true
}

// decodeTNTLong decodes a long-form TNT, an 8-byte payload following
// an extended lead byte, using the same topmost-set-bit rule but
// capped at 47 bits per spec.md §4.1 failure semantics.
func (p *Parser) decodeTNTLong(offset uint64) (Token, bool, error) {
	payload, err := p.c.readLE64(8)
	if err != nil {
		return Token{}, false, io.EOF
	}
	top := bits.Len64(payload) - 1
	if top < 0 || top > 47 {
		return Token{}, false, nil
	}
	count := top
	var decisions uint64
	for i := 0; i < count; i++ {
		srcBit := top - 1 - i
		bit := (payload >> uint(srcBit)) & 1
		decisions |= bit << uint(i)
	}
	return Token{Kind: KindTNT, Offset: offset, Lip: p.lip, Bits: decisions, Count: count}, true, nil
}

// decodeFUPFamily decodes lead bytes with bits 7:6 == 10: PGE, PGD,
// OVERFLOW, PCC/CCP, TIP, FAR. Bits 5:3 select the sub-kind; bits 2:0
// encode cnt (bit 2:1) and zext (bit 0) for the address-bearing forms.
func (p *Parser) decodeFUPFamily(offset uint64, lead byte) (Token, bool, error) {
	sub := (lead >> 3) & 0x7
	low3 := lead & 0x7
	cnt := (low3 >> 1) & 0x3
	zext := low3&1 != 0

	switch sub {
	case 0, 1, 2, 6, 7:
		addr, compressed, err := p.decompressLIP(cnt, zext)
		if err == errTruncatedLIP {
			tok, rerr := p.resync(offset, WarnTruncatedLIP)
			return tok, rerr == nil, rerr
		} else if err != nil {
			return Token{}, false, io.EOF
		}
		var kind Kind
		switch sub {
		case 0:
			kind = KindFUPPGE
		case 1:
			kind = KindFUPPGD
		case 2:
			kind = KindFUPOverflow
		case 6:
			kind = KindTIP
		case 7:
			kind = KindFUPFar
		}
		return Token{Kind: kind, Offset: offset, Lip: p.lip, Addr: addr, Compressed: compressed}, true, nil
	case 3:
		cntp, err := p.c.readLE64(2)
		if err != nil {
			return Token{}, false, io.EOF
		}
		return Token{Kind: KindCCP, Offset: offset, Lip: p.lip, CntP: cntp}, true, nil
	default: // 4, 5: reserved
		return Token{}, false, nil
	}
}

// decodeExtended decodes lead bytes with bits 7:6 == 11: STS, MTC,
// PIP, TRACESTOP, PSB, and long-form TNT/mode packets.
func (p *Parser) decodeExtended(offset uint64, lead byte) (Token, bool, error) {
	sub := lead & 0x3F
	switch sub {
	case 0: // PSB
		return p.decodePSB(offset)
	case 1: // STS
		acbr, err1 := p.c.readByte()
		ecbr, err2 := p.c.readByte()
		tsc, err3 := p.c.readLE64(5)
		if err1 != nil || err2 != nil || err3 != nil {
			return Token{}, false, io.EOF
		}
		return Token{Kind: KindSTS, Offset: offset, Lip: p.lip, ACBR: acbr, ECBR: ecbr, TSC: tsc & 0xffffffffff}, true, nil
	case 2: // MTC
		rngByte, err1 := p.c.readByte()
		tsc8, err2 := p.c.readByte()
		if err1 != nil || err2 != nil {
			return Token{}, false, io.EOF
		}
		return Token{Kind: KindMTC, Offset: offset, Lip: p.lip, Rng: rngByte & 0x3, TSC8: tsc8}, true, nil
	case 3: // PIP
		flags, err1 := p.c.readByte()
		cr3, err2 := p.c.readLE64(8)
		if err1 != nil || err2 != nil {
			return Token{}, false, io.EOF
		}
		return Token{Kind: KindPIP, Offset: offset, Lip: p.lip, CR0PG: flags&1 != 0, CR3: cr3}, true, nil
	case 4: // TRACESTOP
		return Token{Kind: KindTraceStop, Offset: offset, Lip: p.lip}, true, nil
	case 5: // long-form TNT
		return p.decodeTNTLong(offset)
	case 6: // mode packet (PTW/MWAIT/PWRE/PWRX/EXSTOP/MNT), see SPEC_FULL.md
		if _, err := p.c.readByte(); err != nil {
			return Token{}, false, io.EOF
		}
		return Token{Kind: KindMode, Offset: offset, Lip: p.lip}, true, nil
	default:
		return Token{}, false, nil
	}
}

var errTruncatedLIP = io.ErrUnexpectedEOF

// decompressLIP reads 2+2*cnt little-endian address bytes and merges
// them into the current LIP per spec.md §4.1. cnt==3 is reserved and
// reported as a truncated-LIP style error by the caller.
func (p *Parser) decompressLIP(cnt byte, zext bool) (addr uint64, compressed bool, err error) {
	if cnt == 3 {
		return 0, false, errTruncatedLIP
	}
	nbytes := 2 + 2*int(cnt)
	raw, rerr := p.c.readN(nbytes)
	if rerr != nil {
		return 0, false, errTruncatedLIP
	}
	var v uint64
	for i := nbytes - 1; i >= 0; i-- {
		v = v<<8 | uint64(raw[i])
	}
	if zext {
		p.lip = v
	} else {
		mask := uint64(1)<<(uint(nbytes)*8) - 1
		p.lip = (p.lip &^ mask) | v
	}
	// Sign-extend from bit 47 to produce canonical 48-bit addresses.
	if p.lip&(1<<47) != 0 {
		p.lip |= 0xffff000000000000
	} else {
		p.lip &^= 0xffff000000000000
	}
	compressed = nbytes < 6 && !zext
	return p.lip, compressed, nil
}
