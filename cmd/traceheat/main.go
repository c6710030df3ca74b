// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command traceheat renders a PNG timeline of per-CPU trace coverage
// from one or more ptdecode per-task output streams: one row per CPU,
// one segment per scheduled quantum, colored by whether that quantum
// decoded cleanly or carried a lost-packet or overflow marker.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io/ioutil"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/freetype"

	"github.com/tracewalk/ipt/scale"
)

func main() {
	var (
		flagOut   = flag.String("o", "traceheat.png", "output PNG `file`")
		flagWidth = flag.Int("w", 1200, "image `width` in pixels")
		flagFont  = flag.String("font", "/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf", "label font `file`")
	)
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: traceheat [options] stream...")
		os.Exit(1)
	}

	var segs []segment
	for _, path := range flag.Args() {
		s, err := scanStream(path)
		if err != nil {
			log.Fatal(err)
		}
		segs = append(segs, s...)
	}
	if len(segs) == 0 {
		log.Fatal("traceheat: no scheduled quanta found")
	}

	img, err := render(segs, *flagWidth, *flagFont)
	if err != nil {
		log.Fatal(err)
	}

	out, err := os.Create(*flagOut)
	if err != nil {
		log.Fatal(err)
	}
	err = png.Encode(out, img)
	cerr := out.Close()
	if err != nil {
		log.Fatal(err)
	}
	if cerr != nil {
		log.Fatal(cerr)
	}
}

// segment is one scheduled quantum on one CPU: the TSC range between
// a "@ > cpu" (schedule-in) and its matching "@ < cpu" (schedule-out),
// marked lossy if a "@ ! lost"/"@ ! overflow" fell inside it.
type segment struct {
	cpu        int
	start, end uint64
	lossy      bool
}

// scanStream walks one ptdecode output stream's "@" lines (spec.md
// §6), tracking the current timestamp and which CPU is currently
// scheduled in, to recover the set of per-CPU scheduled quanta and
// whether each one carried a loss marker.
func scanStream(path string) ([]segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		segs     []segment
		curTsc   uint64
		curCPU   = -1
		segStart = make(map[int]uint64)
		segLossy = make(map[int]bool)
	)

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] != "@" {
			continue
		}
		switch fields[1] {
		case "t":
			if len(fields) == 3 {
				if v, err := strconv.ParseUint(strings.TrimPrefix(fields[2], "0x"), 16, 64); err == nil {
					curTsc = v
				}
			}
		case ">":
			if len(fields) == 3 {
				if cpu, err := strconv.Atoi(fields[2]); err == nil {
					segStart[cpu] = curTsc
					segLossy[cpu] = false
					curCPU = cpu
				}
			}
		case "<":
			if len(fields) == 3 {
				if cpu, err := strconv.Atoi(fields[2]); err == nil {
					if start, ok := segStart[cpu]; ok {
						segs = append(segs, segment{cpu, start, curTsc, segLossy[cpu]})
						delete(segStart, cpu)
					}
					if curCPU == cpu {
						curCPU = -1
					}
				}
			}
		case "!":
			if curCPU >= 0 && len(fields) >= 3 && (fields[2] == "lost" || fields[2] == "overflow") {
				segLossy[curCPU] = true
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	// Flush any quantum never explicitly scheduled back out, using
	// the stream's last seen timestamp as its end.
	for cpu, start := range segStart {
		segs = append(segs, segment{cpu, start, curTsc, segLossy[cpu]})
	}
	return segs, nil
}

const (
	rowHeight  = 24
	leftMargin = 60
	topMargin  = 8
	rightPad   = 12
)

var (
	colorClean = color.NRGBA{R: 46, G: 160, B: 67, A: 255}
	colorLossy = color.NRGBA{R: 214, G: 39, B: 40, A: 255}
)

// render draws one row per CPU, one rectangle per scheduled quantum
// positioned along a scale.Linear TSC axis shared by every row, the
// way cmd/memheat lays out one row per address range and cmd/memanim
// labels each row with freetype.
func render(segs []segment, width int, fontPath string) (image.Image, error) {
	fontData, err := ioutil.ReadFile(fontPath)
	if err != nil {
		return nil, err
	}
	fnt, err := freetype.ParseFont(fontData)
	if err != nil {
		return nil, err
	}

	maxCPU := 0
	var tscs []float64
	for _, s := range segs {
		if s.cpu > maxCPU {
			maxCPU = s.cpu
		}
		tscs = append(tscs, float64(s.start), float64(s.end))
	}
	axis := scale.NewLinear(tscs)

	height := topMargin*2 + rowHeight*(maxCPU+1)
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	fc := freetype.NewContext()
	fc.SetFontSize(11)
	fc.SetFont(fnt)
	fc.SetDst(img)
	fc.SetClip(img.Bounds())
	fc.SetSrc(image.Black)

	plotWidth := float64(width - leftMargin - rightPad)
	for cpu := 0; cpu <= maxCPU; cpu++ {
		y := topMargin + cpu*rowHeight
		label := fmt.Sprintf("cpu%d", cpu)
		if _, err := fc.DrawString(label, freetype.Pt(2, y+rowHeight-8)); err != nil {
			return nil, err
		}
	}

	sort.Slice(segs, func(i, j int) bool { return segs[i].start < segs[j].start })
	for _, s := range segs {
		y := topMargin + s.cpu*rowHeight
		x0 := leftMargin + int(axis.Of(float64(s.start))*plotWidth)
		x1 := leftMargin + int(axis.Of(float64(s.end))*plotWidth)
		if x1 <= x0 {
			x1 = x0 + 1
		}
		c := colorClean
		if s.lossy {
			c = colorLossy
		}
		draw.Draw(img, image.Rect(x0, y, x1, y+rowHeight-4), &image.Uniform{C: c}, image.Point{}, draw.Src)
	}
	return img, nil
}
