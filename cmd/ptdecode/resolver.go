// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"github.com/tracewalk/ipt/binfile"
	"github.com/tracewalk/ipt/pathmap"
	"github.com/tracewalk/ipt/replay"
	"github.com/tracewalk/ipt/sideband"
	"github.com/tracewalk/ipt/symtab"
)

// resolver bridges a sideband.Cursor's process/mapping model, a
// pathmap.Mapper's local-filesystem translation, and per-binary
// binfile.Image disassembly into the small Disassembler/Symbolizer
// interfaces replay.Engine depends on. One resolver is owned by a
// single task's worker; it is not safe for concurrent use.
type resolver struct {
	cursor *sideband.Cursor
	paths  *pathmap.Mapper
	kernel *binfile.Image

	// modules interns each owning path; symbols interns "path|name"
	// so two binaries' same-named functions never collide, keeping
	// symbol_id a single flat space rather than one scoped per
	// module (simpler for the driver's end-of-run reconciliation,
	// at the cost of a slightly odd symbol display name for a reader
	// who wants it split back into module and name).
	modules *symtab.Table
	symbols *symtab.Table
	images  map[string]*binfile.Image
}

func newResolver(cursor *sideband.Cursor, paths *pathmap.Mapper, kernel *binfile.Image) *resolver {
	return &resolver{
		cursor:  cursor,
		paths:   paths,
		kernel:  kernel,
		modules: symtab.New(),
		symbols: symtab.New(),
		images:  make(map[string]*binfile.Image),
	}
}

// AdvanceTo folds sideband events up to tsc into the resolver's
// process model; wired as the replay.Engine's BeforeBlock hook.
func (r *resolver) AdvanceTo(tsc uint64) { r.cursor.AdvanceTo(tsc) }

// ModuleTable returns the path table r.Symbol has been interning
// into, for the driver's end-of-run reconciliation pass.
func (r *resolver) ModuleTable() *symtab.Table { return r.modules }

// SymbolTable returns the flat "path|name" table r.Symbol has been
// interning into.
func (r *resolver) SymbolTable() *symtab.Table { return r.symbols }

func (r *resolver) Close() {
	for _, im := range r.images {
		if im != nil {
			im.Close()
		}
	}
}

// imageFor returns the opened image backing addr in tid's address
// space, the address translated to that image's file-relative space,
// and the recorded (pre-path-mapping) path for diagnostics. Callers
// apply the hook-adjustment rule (cursor.AdjustPC) to addr first, so
// it already reflects any wrapper redirect or relocated-copy rebase.
func (r *resolver) imageFor(tid int, addr uint64) (im *binfile.Image, fileAddr uint64, recordedPath string, ok bool) {
	path, loadStart, have := r.cursor.LookupMmap(tid, addr)
	if !have {
		if r.kernel == nil {
			return nil, 0, "", false
		}
		return r.kernel, addr, "[kernel]", true
	}
	return r.openMapped(path, addr-loadStart)
}

func (r *resolver) openMapped(path string, fileAddr uint64) (*binfile.Image, uint64, string, bool) {
	local, found := r.paths.FindFile(path)
	if !found {
		return nil, 0, path, false
	}
	im, cached := r.images[local]
	if !cached {
		opened, err := binfile.Open(local)
		if err != nil {
			r.images[local] = nil
			return nil, 0, path, false
		}
		r.images[local] = opened
		im = opened
	}
	if im == nil {
		return nil, 0, path, false
	}
	return im, fileAddr, path, true
}

// Decode implements replay.Disassembler.
func (r *resolver) Decode(tid int, addr uint64) (replay.Instr, error) {
	addr = r.cursor.AdjustPC(addr)
	im, fileAddr, path, ok := r.imageFor(tid, addr)
	if !ok {
		return replay.Instr{}, errNotMapped{tid, addr, path}
	}
	inst, err := im.Decode(fileAddr)
	if err != nil {
		return replay.Instr{}, err
	}
	return classify(addr, inst), nil
}

// Symbol implements replay.Symbolizer.
func (r *resolver) Symbol(tid int, addr uint64) (moduleID, symbolID int, ok bool) {
	addr = r.cursor.AdjustPC(addr)
	im, fileAddr, path, ok := r.imageFor(tid, addr)
	if !ok {
		return 0, 0, false
	}
	idx, ok := im.FuncIndexAt(fileAddr)
	if !ok {
		return 0, 0, false
	}
	moduleID = r.modules.Intern(path)
	symbolID = r.symbols.Intern(path + "|" + im.FuncByIndex(idx).Name)
	return moduleID, symbolID, true
}

// SymbolName implements replay.Symbolizer.
func (r *resolver) SymbolName(moduleID, symbolID int) string {
	name, _ := r.symbols.Name(symbolID)
	return name
}

// ResolveGlobal implements replay.Symbolizer: it walks every module
// currently mapped into tid's address space (plus the kernel) looking
// for a global symbol named name, for the direct-call relocation case
// where the patched operand points inside the call instruction itself
// (spec.md §4.6).
func (r *resolver) ResolveGlobal(tid int, name string) (uint64, bool) {
	proc := r.cursor.Lookup(tid)
	for _, mp := range proc.Mappings() {
		im, _, _, ok := r.openMapped(mp.Path, 0)
		if !ok {
			continue
		}
		if fn, ok := im.FuncByName(name); ok {
			return mp.Start + fn.Low, true
		}
	}
	if r.kernel != nil {
		if fn, ok := r.kernel.FuncByName(name); ok {
			return fn.Low, true
		}
	}
	return 0, false
}

type errNotMapped struct {
	tid  int
	addr uint64
	path string
}

func (e errNotMapped) Error() string {
	if e.path != "" {
		return "ptdecode: no executable image for " + e.path
	}
	return "ptdecode: no mapping covers the address"
}
