// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package binfile opens one target executable (an ELF binary, or an
// OAT-style blob mapped into a traced process) and answers the two
// questions the replay engine needs of it: "what function owns this
// address" and "what's the next instruction at this address". The
// function table construction is adapted directly from
// perfsession/symbolize.go's DWARF-subprogram walk, generalized to
// fall back to the raw ELF symbol table (demangled) when a binary
// carries no DWARF, and the instruction iterator is backed by the
// real x86asm decoder rather than perfsession's line/func lookup
// alone.
package binfile

import (
	"bufio"
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/ianlancetaylor/demangle"
	"golang.org/x/arch/x86/x86asm"
)

// Func is one named, address-ranged function.
type Func struct {
	Name      string
	Low, High uint64
}

// Image is one opened target binary.
type Image struct {
	Path string

	elff   *elf.File
	funcs  []Func
	byName map[string]int

	sections []*elf.Section
}

// Open loads path as an ELF image, building its function table from
// DWARF if present, otherwise from the ELF symbol table.
func Open(path string) (*Image, error) {
	elff, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("binfile: %s: %w", path, err)
	}

	im := &Image{Path: path, elff: elff, byName: make(map[string]int)}
	for _, s := range elff.Sections {
		if s.Flags&elf.SHF_EXECINSTR != 0 {
			im.sections = append(im.sections, s)
		}
	}

	if elff.Section(".debug_info") != nil {
		if dwarff, err := elff.DWARF(); err == nil {
			im.funcs = funcsFromDWARF(dwarff)
		}
	}
	if len(im.funcs) == 0 {
		im.funcs = funcsFromSymtab(elff)
	}
	sort.Slice(im.funcs, func(i, j int) bool { return im.funcs[i].Low < im.funcs[j].Low })
	for i, f := range im.funcs {
		im.byName[f.Name] = i
	}
	return im, nil
}

// Close releases the underlying ELF file.
func (im *Image) Close() error { return im.elff.Close() }

// LoadSymbolMap merges a /proc/kallsyms-style text symbol map ("<hex
// addr> <type char> <name>", one per line) into im's function table, a
// fallback source for a kernel image whose loaded vmlinux carries no
// usable DWARF or ELF symtab (the common case: most distributions
// strip the running kernel's symtab). Only function-type entries ('T'
// or 't') are kept; each gets an extent running up to the next
// function's address, or to the following existing func's Low if one
// is closer.
func (im *Image) LoadSymbolMap(r io.Reader) error {
	var added []Func
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		typ := fields[1]
		if typ != "T" && typ != "t" {
			continue
		}
		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			return fmt.Errorf("binfile: symbol map: bad address %q", fields[0])
		}
		added = append(added, Func{Name: fields[2], Low: addr})
	}
	if err := sc.Err(); err != nil {
		return err
	}
	sort.Slice(added, func(i, j int) bool { return added[i].Low < added[j].Low })
	for i := range added {
		if i+1 < len(added) {
			added[i].High = added[i+1].Low
		} else {
			added[i].High = added[i].Low + 1
		}
		for _, f := range im.funcs {
			if f.Low > added[i].Low && f.Low < added[i].High {
				added[i].High = f.Low
			}
		}
	}

	im.funcs = append(im.funcs, added...)
	sort.Slice(im.funcs, func(i, j int) bool { return im.funcs[i].Low < im.funcs[j].Low })
	im.byName = make(map[string]int, len(im.funcs))
	for i, f := range im.funcs {
		im.byName[f.Name] = i
	}
	return nil
}

// FuncAt returns the function containing addr, if any.
func (im *Image) FuncAt(addr uint64) (Func, bool) {
	i, ok := im.FuncIndexAt(addr)
	if !ok {
		return Func{}, false
	}
	return im.funcs[i], true
}

// FuncIndexAt returns the index into im's function table of the
// function containing addr, for a caller (the symbolizer adapter in
// cmd/ptdecode) that wants a stable small integer to use as a symbol
// id rather than repeating the address lookup.
func (im *Image) FuncIndexAt(addr uint64) (int, bool) {
	i := sort.Search(len(im.funcs), func(i int) bool { return addr < im.funcs[i].High })
	if i < len(im.funcs) && im.funcs[i].Low <= addr && addr < im.funcs[i].High {
		return i, true
	}
	return 0, false
}

// FuncByIndex returns the i'th function in im's function table, as
// returned by FuncIndexAt.
func (im *Image) FuncByIndex(i int) Func { return im.funcs[i] }

// FuncByName returns the function named name, for relocation
// resolution (spec.md §4.6: walk every mapped target path for a
// global symbol matching the disassembler's relocation-table name).
func (im *Image) FuncByName(name string) (Func, bool) {
	i, ok := im.byName[name]
	if !ok {
		return Func{}, false
	}
	return im.funcs[i], true
}

// section returns the executable section containing addr.
func (im *Image) section(addr uint64) *elf.Section {
	for _, s := range im.sections {
		if addr >= s.Addr && addr < s.Addr+s.Size {
			return s
		}
	}
	return nil
}

// ReadCode reads up to n bytes of code starting at addr.
func (im *Image) ReadCode(addr uint64, n int) ([]byte, error) {
	s := im.section(addr)
	if s == nil {
		return nil, fmt.Errorf("binfile: %#x not in any executable section of %s", addr, im.Path)
	}
	off := addr - s.Addr
	avail := s.Size - off
	if uint64(n) > avail {
		n = int(avail)
	}
	buf := make([]byte, n)
	r := io.NewSectionReader(s, int64(off), int64(n))
	got, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return buf[:got], nil
}

// maxInstrLen is the longest possible x86-64 instruction encoding.
const maxInstrLen = 15

// Decode decodes the instruction at addr.
func (im *Image) Decode(addr uint64) (x86asm.Inst, error) {
	buf, err := im.ReadCode(addr, maxInstrLen)
	if err != nil {
		return x86asm.Inst{}, err
	}
	if len(buf) == 0 {
		return x86asm.Inst{}, fmt.Errorf("binfile: no bytes at %#x", addr)
	}
	return x86asm.Decode(buf, 64)
}

func funcsFromDWARF(dwarff *dwarf.Data) []Func {
	var out []Func
	r := dwarff.Reader()
	for {
		ent, err := r.Next()
		if ent == nil || err != nil {
			break
		}
		switch ent.Tag {
		case dwarf.TagSubprogram:
			r.SkipChildren()
			name, ok := ent.Val(dwarf.AttrName).(string)
			if !ok {
				break
			}
			lowpc, ok := ent.Val(dwarf.AttrLowpc).(uint64)
			if !ok {
				break
			}
			var highpc uint64
			switch h := ent.Val(dwarf.AttrHighpc).(type) {
			case uint64:
				highpc = h
			case int64:
				highpc = lowpc + uint64(h)
			default:
				continue
			}
			out = append(out, Func{Name: name, Low: lowpc, High: highpc})
		case dwarf.TagCompileUnit, dwarf.TagModule, dwarf.TagNamespace:
		default:
			r.SkipChildren()
		}
	}
	return out
}

func funcsFromSymtab(elff *elf.File) []Func {
	syms, err := elff.Symbols()
	if err != nil {
		syms, _ = elff.DynamicSymbols()
	}
	var out []Func
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Size == 0 {
			continue
		}
		name := s.Name
		if dn := demangle.Filter(name); dn != name {
			name = dn
		}
		out = append(out, Func{Name: name, Low: s.Value, High: s.Value + s.Size})
	}
	return out
}
