// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package symtab

import (
	"bytes"
	"testing"
)

func TestInternAndRoundTrip(t *testing.T) {
	tb := New()
	a := tb.Intern("main")
	b := tb.Intern("helper")
	a2 := tb.Intern("main")
	if a != a2 {
		t.Fatalf("re-interning main got a new id: %d vs %d", a, a2)
	}
	if a == b {
		t.Fatal("distinct names got the same id")
	}

	var buf bytes.Buffer
	if err := tb.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got := New()
	if err := got.ReadFrom(&buf); err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if name, ok := got.Name(a); !ok || name != "main" {
		t.Fatalf("Name(%d) = %q, %v, want main, true", a, name, ok)
	}
	if name, ok := got.Name(b); !ok || name != "helper" {
		t.Fatalf("Name(%d) = %q, %v, want helper, true", b, name, ok)
	}
}

func TestReconcile(t *testing.T) {
	dst := New()
	dst.Intern("shared")

	src := New()
	sharedID := src.Intern("shared")
	onlyID := src.Intern("worker-only")

	remap := Reconcile(dst, src)
	if remap[sharedID] != 0 {
		t.Fatalf("shared remapped to %d, want 0", remap[sharedID])
	}
	name, ok := dst.Name(remap[onlyID])
	if !ok || name != "worker-only" {
		t.Fatalf("reconciled worker-only id = %q, %v", name, ok)
	}
}
