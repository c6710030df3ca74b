// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/tracewalk/ipt/collection"
	"github.com/tracewalk/ipt/schedheur"
	"github.com/tracewalk/ipt/sideband"
	"github.com/tracewalk/ipt/tscheur"
)

// buildCollection runs C2-C5 over every raw trace and the sideband
// log, producing the merged per-task block collection the driver
// persists to -C for its workers to re-read.
func buildCollection(rawPaths []string, sidebandPath string) (*collection.Collection, error) {
	var events []sideband.Event
	if sidebandPath != "" {
		sf, err := os.Open(sidebandPath)
		if err != nil {
			return nil, fmt.Errorf("ptdecode: %w", err)
		}
		events, err = sideband.ReadLog(sf)
		sf.Close()
		if err != nil {
			return nil, fmt.Errorf("ptdecode: %w", err)
		}
	}
	model := sideband.NewModel(events)

	perCPU := make(map[int][]collection.TaggedBlock, len(rawPaths))
	for cpu, path := range rawPaths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("ptdecode: %w", err)
		}
		blocks, err := buildCPU(cpu, f, model)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("ptdecode: cpu %d: %w", cpu, err)
		}
		perCPU[cpu] = blocks
	}

	names := taskNames(model)
	tasks := collection.Merge(names, perCPU)
	return &collection.Collection{
		Traces:   rawPaths,
		Sideband: sidebandPath,
		Tasks:    tasks,
	}, nil
}

func buildCPU(cpu int, f *os.File, model *sideband.Model) ([]collection.TaggedBlock, error) {
	h := tscheur.New()
	if err := h.Build(f); err != nil {
		return nil, err
	}
	ranges := h.Ranges()

	schedulerTip, haveTip := model.SchedulerTip()
	cands := schedheur.Seed(model.Schedulings(cpu))
	matched, err := schedheur.Match(f, h, cands, schedulerTip, haveTip, nil)
	if err != nil {
		return nil, err
	}

	initialTid, _ := model.InitialTid(cpu)
	initialTSC := uint64(0)
	if len(ranges) > 0 {
		initialTSC = ranges[0].Window.Begin
	}
	quanta := schedheur.Quanta(matched, initialTid, initialTSC)
	return collection.BuildCPU(cpu, ranges, quanta), nil
}

// taskNames derives a display name per tid by folding the entire
// sideband log (every event, regardless of tsc) into one Cursor --
// the collection file only needs the name each tid settled on, not
// its value at any particular point in time.
func taskNames(model *sideband.Model) map[int]string {
	cur := sideband.NewCursor(model)
	var maxTSC uint64
	for _, e := range model.Events() {
		if e.TSC > maxTSC {
			maxTSC = e.TSC
		}
	}
	cur.AdvanceTo(maxTSC)

	names := make(map[int]string)
	for _, e := range model.Events() {
		tid := 0
		switch e.Kind {
		case sideband.EventSchedule:
			tid = e.NewTid
		case sideband.EventProcess:
			tid = e.PID
		default:
			continue
		}
		if _, ok := names[tid]; ok {
			continue
		}
		if p := cur.Lookup(tid); p.Comm != "" {
			names[tid] = p.Comm
		}
	}
	return names
}
