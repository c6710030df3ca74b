// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import "testing"

func TestFormatPath(t *testing.T) {
	if got := formatPath("task-%u.out", 42); got != "task-42.out" {
		t.Errorf("formatPath = %q, want task-42.out", got)
	}
	if got := formatPath("fixed.out", 42); got != "fixed.out" {
		t.Errorf("formatPath without %%u should pass through, got %q", got)
	}
}

func TestParseHeuristicToggles(t *testing.T) {
	cases := []struct {
		spec                            string
		wantHelpers, wantCopyUser       bool
	}{
		{"", false, false},
		{"nohelpers", true, false},
		{"nocopyuser", false, true},
		{"nohelpers,nocopyuser", true, true},
		{" nohelpers , nocopyuser ", true, true},
		{"bogus", false, false},
	}
	for _, c := range cases {
		helpers, copyUser := parseHeuristicToggles(c.spec)
		if helpers != c.wantHelpers || copyUser != c.wantCopyUser {
			t.Errorf("parseHeuristicToggles(%q) = (%v, %v), want (%v, %v)",
				c.spec, helpers, copyUser, c.wantHelpers, c.wantCopyUser)
		}
	}
}

func TestStringListSet(t *testing.T) {
	var s stringList
	if err := s.Set("a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("b"); err != nil {
		t.Fatal(err)
	}
	if got := s.String(); got != "a,b" {
		t.Errorf("String() = %q, want a,b", got)
	}
}
