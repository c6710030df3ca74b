// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ptstat aggregates the per-category warning counts each
// worker reports at end of run (spec.md §7, "one summary line per
// warning category") into the driver's overall confidence report,
// using github.com/aclements/go-moremath/stats the way cmd/memlat
// uses its sibling go-moremath/scale package for its own numeric
// work.
package ptstat

import (
	"fmt"
	"sort"

	"github.com/aclements/go-moremath/stats"
)

// Category names one warning/confidence bucket, e.g. "reserved-packet"
// or "lost".
type Category string

// Report accumulates per-task warning counts, one Sample per
// category across all tasks a worker or the driver has seen.
type Report struct {
	byCategory map[Category][]float64
}

// NewReport returns an empty Report.
func NewReport() *Report {
	return &Report{byCategory: make(map[Category][]float64)}
}

// Add records one task's count for category.
func (r *Report) Add(cat Category, count int) {
	r.byCategory[cat] = append(r.byCategory[cat], float64(count))
}

// Merge folds another worker's report into r, for the driver's final
// aggregation across all spawned workers.
func (r *Report) Merge(other *Report) {
	for cat, xs := range other.byCategory {
		r.byCategory[cat] = append(r.byCategory[cat], xs...)
	}
}

// Summary is one category's aggregate statistics across tasks.
type Summary struct {
	Category Category
	Total    float64
	Mean     float64
	StdDev   float64
	Tasks    int
}

// Summaries returns one Summary per category, sorted by descending
// total count (the categories a reader most needs to see first).
func (r *Report) Summaries() []Summary {
	out := make([]Summary, 0, len(r.byCategory))
	for cat, xs := range r.byCategory {
		s := stats.Sample{Xs: xs}
		var total float64
		for _, x := range xs {
			total += x
		}
		out = append(out, Summary{
			Category: cat,
			Total:    total,
			Mean:     s.Mean(),
			StdDev:   s.StdDev(),
			Tasks:    len(xs),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out
}

// String renders one summary line in the form printed at end of run.
func (s Summary) String() string {
	return fmt.Sprintf("%-28s total=%-8.0f mean=%-8.2f stddev=%-8.2f tasks=%d",
		s.Category, s.Total, s.Mean, s.StdDev, s.Tasks)
}

// Confidence returns a crude [0,1] score for one task's replay: 1
// minus the fraction of its total events that were loss/warning
// events, clamped to zero. The driver does not call it; the summary
// lines carry no confidence figure.
func Confidence(warningEvents, totalEvents int) float64 {
	if totalEvents == 0 {
		return 1
	}
	c := 1 - float64(warningEvents)/float64(totalEvents)
	if c < 0 {
		c = 0
	}
	return c
}
