// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package symtab implements the two append-only id tables of
// spec.md §6 ("Symbol and module tables"): symbols and modules are
// each assigned a small integer id in first-seen order within one
// worker, later reconciled across workers by the driver.
package symtab

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Table is one append-only name -> id mapping.
type Table struct {
	names []string
	ids   map[string]int
}

// New returns an empty table.
func New() *Table {
	return &Table{ids: make(map[string]int)}
}

// Intern returns name's id, assigning it the next sequential id on
// first use.
func (t *Table) Intern(name string) int {
	if id, ok := t.ids[name]; ok {
		return id
	}
	id := len(t.names)
	t.names = append(t.names, name)
	t.ids[name] = id
	return id
}

// Name returns the name registered for id.
func (t *Table) Name(id int) (string, bool) {
	if id < 0 || id >= len(t.names) {
		return "", false
	}
	return t.names[id], true
}

// Len returns the number of interned names.
func (t *Table) Len() int { return len(t.names) }

// WriteTo serializes t as one "<id>|<name>" line per entry, in id
// order, per spec.md §6.
func (t *Table) WriteTo(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for id, name := range t.names {
		if _, err := fmt.Fprintf(bw, "%d|%s\n", id, name); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadFrom loads a table previously written by WriteTo, replacing any
// existing contents.
func (t *Table) ReadFrom(r io.Reader) error {
	t.names = nil
	t.ids = make(map[string]int)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		i := strings.IndexByte(line, '|')
		if i < 0 {
			return fmt.Errorf("symtab: malformed line %q", line)
		}
		id, err := strconv.Atoi(line[:i])
		if err != nil {
			return fmt.Errorf("symtab: malformed id in %q: %w", line, err)
		}
		name := line[i+1:]
		for len(t.names) <= id {
			t.names = append(t.names, "")
		}
		t.names[id] = name
		t.ids[name] = id
	}
	return sc.Err()
}

// Reconcile merges src into dst, returning a map from src's ids to
// dst's ids. Used by the driver after workers complete: each worker
// built its own table independently, and the driver's final symbols
// file must assign one id per distinct name across all of them.
func Reconcile(dst *Table, src *Table) map[int]int {
	remap := make(map[int]int, src.Len())
	for id, name := range src.names {
		remap[id] = dst.Intern(name)
	}
	return remap
}
