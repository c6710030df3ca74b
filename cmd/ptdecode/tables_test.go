// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import "testing"

func TestRewriteStreamLine(t *testing.T) {
	symRemap := map[int]int{3: 30, 4: 40}
	modRemap := map[int]int{1: 10}

	cases := []struct{ in, want string }{
		{"@ e 2 3 17", "@ e 2 30 17"},
		{"@ c 2 4", "@ c 2 40"},
		{"@ x 1", "@ x 10"},
		{"@ > 0", "@ > 0"},
		{"@ r 5 0x1000", "@ r 5 0x1000"},
		{"@ e 2 99 17", "@ e 2 99 17"}, // no remap entry: left as-is
	}
	for _, c := range cases {
		got := rewriteStreamLine(c.in, modRemap, symRemap)
		if got != c.want {
			t.Errorf("rewriteStreamLine(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRemapField(t *testing.T) {
	remap := map[int]int{5: 50}
	if got := remapField("5", remap); got != "50" {
		t.Errorf("remapField(5) = %q, want 50", got)
	}
	if got := remapField("6", remap); got != "6" {
		t.Errorf("remapField(6) = %q, want 6 (unchanged)", got)
	}
	if got := remapField("not-a-number", remap); got != "not-a-number" {
		t.Errorf("remapField on non-numeric input should pass through unchanged, got %q", got)
	}
}
