// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/tracewalk/ipt/binfile"
	"github.com/tracewalk/ipt/collection"
	"github.com/tracewalk/ipt/normalize"
	"github.com/tracewalk/ipt/pathmap"
	"github.com/tracewalk/ipt/replay"
	"github.com/tracewalk/ipt/sideband"
)

// workerOptions carries every flag a worker needs, a subset of the
// driver's own flags (re-parsed independently in the child process,
// since workers share nothing at run time).
type workerOptions struct {
	collectionPath  string
	sidebandPath    string
	kernelPath      string
	symbolMapPath   string
	targetRoots     []string
	disableRetComp  bool
	disableHelpers  bool
	disableCopyUser bool
	outFmt          string
	lowWaterFmt     string
}

// runWorker replays one task end to end and writes its output files,
// returning the process exit code.
func runWorker(tid int, opts workerOptions) int {
	cf, err := os.Open(opts.collectionPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ptdecode:", err)
		return 1
	}
	coll, err := collection.Parse(cf)
	cf.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "ptdecode:", err)
		return 1
	}

	var task *collection.Task
	for i := range coll.Tasks {
		if coll.Tasks[i].Tid == tid {
			task = &coll.Tasks[i]
			break
		}
	}
	if task == nil {
		fmt.Fprintf(os.Stderr, "ptdecode: no task %d in collection\n", tid)
		return 1
	}

	var events []sideband.Event
	if opts.sidebandPath != "" {
		sf, err := os.Open(opts.sidebandPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ptdecode:", err)
			return 1
		}
		events, err = sideband.ReadLog(sf)
		sf.Close()
		if err != nil {
			fmt.Fprintln(os.Stderr, "ptdecode:", err)
			return 1
		}
	}
	cursor := sideband.NewCursor(sideband.NewModel(events))

	paths := pathmap.New(opts.targetRoots)

	var kernel *binfile.Image
	if opts.kernelPath != "" {
		kernel, err = binfile.Open(opts.kernelPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ptdecode:", err)
			return 1
		}
		defer kernel.Close()
		if opts.symbolMapPath != "" {
			mf, err := os.Open(opts.symbolMapPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, "ptdecode:", err)
				return 1
			}
			err = kernel.LoadSymbolMap(mf)
			mf.Close()
			if err != nil {
				fmt.Fprintln(os.Stderr, "ptdecode:", err)
				return 1
			}
		}
	}

	res := newResolver(cursor, paths, kernel)
	defer res.Close()

	traces := newTraceSet(coll.Traces)
	defer traces.Close()

	engine := replay.NewEngine(traces, res, res)
	engine.DisableReturnCompression = opts.disableRetComp
	if opts.disableHelpers {
		engine.SuppressKernelHelpers = false
	}
	if opts.disableCopyUser {
		engine.RewriteCopyUser = false
	}
	engine.BeforeBlock = func(b collection.Block) { res.AdvanceTo(b.TSCStart) }

	events2, err := engine.Replay(tid, task.Blocks)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ptdecode:", err)
		return 1
	}

	recs := normalize.Normalize(events2)
	normalize.ApplyLowWater(recs, engine.LowWater())

	outPath := strings.ReplaceAll(opts.outFmt, "%u", fmt.Sprint(tid))
	of, err := os.Create(outPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ptdecode:", err)
		return 1
	}
	err = writeStream(of, recs)
	cerr := of.Close()
	if err != nil || cerr != nil {
		fmt.Fprintln(os.Stderr, "ptdecode: writing", outPath, ":", firstErr(err, cerr))
		return 1
	}

	if opts.lowWaterFmt != "" {
		wPath := strings.ReplaceAll(opts.lowWaterFmt, "%u", fmt.Sprint(tid))
		wf, err := os.Create(wPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ptdecode:", err)
			return 1
		}
		err = writeLowWater(wf, engine.LowWater())
		cerr := wf.Close()
		if err != nil || cerr != nil {
			fmt.Fprintln(os.Stderr, "ptdecode: writing", wPath, ":", firstErr(err, cerr))
			return 1
		}
	}

	if err := writeSidecarTables(outPath, res.ModuleTable(), res.SymbolTable()); err != nil {
		fmt.Fprintln(os.Stderr, "ptdecode:", err)
		return 1
	}

	for cat, count := range tallyStats(events2) {
		fmt.Printf("@stat %d %s %d\n", tid, cat, count)
	}
	return 0
}

// tallyStats counts the lost/overflow/bad-block markers a task's own
// replay produced, the per-worker half of the end-of-run summary
// line spec.md §7 asks for (the driver merges these across workers).
func tallyStats(events []replay.Event) map[string]int {
	counts := make(map[string]int)
	for _, ev := range events {
		switch ev.Kind {
		case replay.EventLost:
			counts["lost"]++
		case replay.EventOverflow:
			counts["overflow"]++
		case replay.EventStat:
			counts[ev.Tag] += ev.Count
		}
	}
	return counts
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
