// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ptfile decodes a raw processor-trace byte stream (one file
// per logical CPU) into a sequence of tagged packets with exact byte
// positions. It implements the packet parser component of the decode
// pipeline: a byte-to-token state machine plus the small set of
// encoder-bug workarounds layered on top of it.
package ptfile

import "fmt"

// Kind identifies the variant a Token carries.
type Kind int

const (
	KindTNT Kind = iota
	KindTIP
	KindFUPPGE
	KindFUPPGD
	KindFUPOverflow
	KindFUPFar
	KindSTS
	KindMTC
	KindPIP
	KindPSB
	KindCCP
	KindTraceStop
	// KindMode covers the real Intel PT "mode" packets (PTW, MWAIT,
	// PWRE/PWRX, EXSTOP, MNT) that the distilled grammar in spec.md
	// doesn't enumerate. They carry no semantic weight for replay and
	// are surfaced only so the parser doesn't have to treat them as
	// reserved-encoding errors. See SPEC_FULL.md §4.1.
	KindMode
)

func (k Kind) String() string {
	switch k {
	case KindTNT:
		return "TNT"
	case KindTIP:
		return "TIP"
	case KindFUPPGE:
		return "FUP.PGE"
	case KindFUPPGD:
		return "FUP.PGD"
	case KindFUPOverflow:
		return "FUP.OVERFLOW"
	case KindFUPFar:
		return "FUP.FAR"
	case KindSTS:
		return "STS"
	case KindMTC:
		return "MTC"
	case KindPIP:
		return "PIP"
	case KindPSB:
		return "PSB"
	case KindCCP:
		return "CCP"
	case KindTraceStop:
		return "TRACESTOP"
	case KindMode:
		return "MODE"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Token is one decoded packet, tagged by Kind, together with the exact
// byte offset and lip (last instruction pointer) in effect when it was
// produced.
type Token struct {
	Kind   Kind
	Offset uint64 // byte offset of the lead byte
	Lip    uint64 // LIP in effect after decoding this token

	// TNT
	Bits  uint64 // decision bits, earliest decision in bit 0
	Count int    // number of valid bits in Bits

	// TIP / FUP family
	Addr       uint64
	Compressed bool // true if Addr was built from a compressed LIP delta

	// STS
	ACBR, ECBR uint8
	TSC        uint64

	// MTC
	Rng  uint8
	TSC8 uint8

	// PIP
	CR0PG bool
	CR3   uint64

	// CCP
	CntP uint64
}

// WarningKind classifies a recoverable parser error.
type WarningKind int

const (
	WarnReserved WarningKind = iota
	WarnTruncatedLIP
	WarnBrokenPSB
	WarnC0Lookalike
	WarnOverflowCompressedLIP
	WarnTNTTooLong
	WarnZeroLead
)

func (k WarningKind) String() string {
	switch k {
	case WarnReserved:
		return "reserved-packet"
	case WarnTruncatedLIP:
		return "truncated-lip"
	case WarnBrokenPSB:
		return "broken-psb"
	case WarnC0Lookalike:
		return "c0-lookalike"
	case WarnOverflowCompressedLIP:
		return "overflow (compressed)"
	case WarnTNTTooLong:
		return "tnt-too-long"
	case WarnZeroLead:
		return "zero-lead"
	}
	return fmt.Sprintf("WarningKind(%d)", int(k))
}

// Warning is emitted whenever the parser recovers locally from a
// malformed packet by resyncing to the next PSB.
type Warning struct {
	Kind    WarningKind
	Offset  uint64 // offset where the bad packet began
	Skipped int    // bytes discarded before the next PSB was found
}

func (w Warning) String() string {
	return fmt.Sprintf("%s at offset %#x (skipped %d bytes)", w.Kind, w.Offset, w.Skipped)
}
