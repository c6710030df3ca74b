// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tracewalk/ipt/symtab"
)

// moduleSidecarSuffix and symbolSidecarSuffix name a worker's own module/symbol tables, one pair
// of files alongside its -o output, the driver reconciles into the
// final -e/-n tables and then uses to rewrite the output's ids.
const (
	moduleSidecarSuffix = ".modtab"
	symbolSidecarSuffix = ".symtab"
)

func writeSidecarTables(outPath string, modules, symbols *symtab.Table) error {
	if err := writeTableFile(outPath+moduleSidecarSuffix, modules); err != nil {
		return err
	}
	return writeTableFile(outPath+symbolSidecarSuffix, symbols)
}

func writeTableFile(path string, t *symtab.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = t.WriteTo(f)
	cerr := f.Close()
	if err != nil {
		return err
	}
	return cerr
}

func readTableFile(path string) (*symtab.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t := symtab.New()
	if err := t.ReadFrom(f); err != nil {
		return nil, err
	}
	return t, nil
}

// reconcileWorker folds one finished worker's module/symbol sidecar
// tables into the driver's global tables, rewrites the worker's
// output stream's ids from worker-local to global, and removes the
// now-unneeded sidecar files.
func reconcileWorker(outPath string, globalModules, globalSymbols *symtab.Table) error {
	localModules, err := readTableFile(outPath + moduleSidecarSuffix)
	if err != nil {
		return err
	}
	localSymbols, err := readTableFile(outPath + symbolSidecarSuffix)
	if err != nil {
		return err
	}
	modRemap := symtab.Reconcile(globalModules, localModules)
	symRemap := symtab.Reconcile(globalSymbols, localSymbols)

	if err := rewriteStreamIDs(outPath, modRemap, symRemap); err != nil {
		return err
	}
	os.Remove(outPath + moduleSidecarSuffix)
	os.Remove(outPath + symbolSidecarSuffix)
	return nil
}

// rewriteStreamIDs replaces every worker-local module_id/symbol_id in
// one task's output stream with its reconciled global id, in place
// via a temp-file-then-rename (the files are expected to be modest:
// one per task, not one giant shared stream).
func rewriteStreamIDs(path string, modRemap, symRemap map[int]int) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	tmpPath := path + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	bw := bufio.NewWriter(out)
	for sc.Scan() {
		line := rewriteStreamLine(sc.Text(), modRemap, symRemap)
		if _, err := fmt.Fprintln(bw, line); err != nil {
			out.Close()
			return err
		}
	}
	if err := sc.Err(); err != nil {
		out.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func rewriteStreamLine(line string, modRemap, symRemap map[int]int) string {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "@" {
		return line
	}
	switch fields[1] {
	case "e":
		if len(fields) == 5 {
			fields[3] = remapField(fields[3], symRemap)
		}
	case "c":
		if len(fields) == 4 {
			fields[3] = remapField(fields[3], symRemap)
		}
	case "x":
		if len(fields) == 3 {
			fields[2] = remapField(fields[2], modRemap)
		}
	}
	return strings.Join(fields, " ")
}

func remapField(s string, remap map[int]int) string {
	id, err := strconv.Atoi(s)
	if err != nil {
		return s
	}
	if g, ok := remap[id]; ok {
		return strconv.Itoa(g)
	}
	return s
}
