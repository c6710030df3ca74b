// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sideband

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadLog decodes a reference textual sideband log into an []Event,
// one line per event, tags matching EventKind.String. No concrete
// kernel-agent log format is mandated; this reader exists so ptdecode
// has something runnable without a live collector, modeled on the
// collection file's own tag-per-line grammar.
//
// Grammar (whitespace-separated fields, quoted strings for comm/path):
//
//	init cpu tid mask
//	process tsc cpu pid ppid comm
//	mmap tsc cpu pid start length pageoffset path
//	munmap tsc cpu pid start length
//	schedule tsc cpu prevtid newtid pktcnthint pktmask
//	hook original wrapper copystart copylen isschedtip ishook
func ReadLog(r io.Reader) ([]Event, error) {
	var out []Event
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields, err := splitLogFields(line)
		if err != nil {
			return nil, fmt.Errorf("sideband: line %d: %w", lineNo, err)
		}
		ev, err := parseLogLine(fields)
		if err != nil {
			return nil, fmt.Errorf("sideband: line %d: %w", lineNo, err)
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseLogLine(f []string) (Event, error) {
	if len(f) == 0 {
		return Event{}, fmt.Errorf("empty line")
	}
	tag, args := f[0], f[1:]
	switch tag {
	case "init":
		if len(args) != 3 {
			return Event{}, fmt.Errorf("init: want 3 fields, got %d", len(args))
		}
		return Event{
			Kind:              EventInit,
			CPU:               atoi(args[0]),
			InitialTid:        atoi(args[1]),
			InitialPacketMask: uint8(atoi(args[2])),
		}, nil
	case "process":
		if len(args) != 5 {
			return Event{}, fmt.Errorf("process: want 5 fields, got %d", len(args))
		}
		return Event{
			Kind: EventProcess,
			TSC:  parseHex(args[0]),
			CPU:  atoi(args[1]),
			PID:  atoi(args[2]),
			PPID: atoi(args[3]),
			Comm: unquote(args[4]),
		}, nil
	case "mmap":
		if len(args) != 7 {
			return Event{}, fmt.Errorf("mmap: want 7 fields, got %d", len(args))
		}
		return Event{
			Kind:       EventMmap,
			TSC:        parseHex(args[0]),
			CPU:        atoi(args[1]),
			PID:        atoi(args[2]),
			Start:      parseHex(args[3]),
			Length:     parseHex(args[4]),
			PageOffset: parseHex(args[5]),
			Path:       unquote(args[6]),
		}, nil
	case "munmap":
		if len(args) != 5 {
			return Event{}, fmt.Errorf("munmap: want 5 fields, got %d", len(args))
		}
		return Event{
			Kind:   EventMunmap,
			TSC:    parseHex(args[0]),
			CPU:    atoi(args[1]),
			PID:    atoi(args[2]),
			Start:  parseHex(args[3]),
			Length: parseHex(args[4]),
		}, nil
	case "schedule":
		if len(args) != 6 {
			return Event{}, fmt.Errorf("schedule: want 6 fields, got %d", len(args))
		}
		return Event{
			Kind:            EventSchedule,
			TSC:             parseHex(args[0]),
			CPU:             atoi(args[1]),
			PrevTid:         atoi(args[2]),
			NewTid:          atoi(args[3]),
			PacketCountHint: atoi(args[4]),
			PacketMask:      uint8(atoi(args[5])),
		}, nil
	case "hook":
		if len(args) != 6 {
			return Event{}, fmt.Errorf("hook: want 6 fields, got %d", len(args))
		}
		return Event{
			Kind:            EventHook,
			HookOriginal:    parseHex(args[0]),
			HookWrapper:     parseHex(args[1]),
			HookCopyStart:   parseHex(args[2]),
			HookCopyLen:     parseHex(args[3]),
			IsSchedulerTip:  args[4] == "1",
			IsSchedulerHook: args[5] == "1",
		}, nil
	}
	return Event{}, fmt.Errorf("unknown tag %q", tag)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func parseHex(s string) uint64 {
	s = strings.TrimPrefix(s, "0x")
	n, _ := strconv.ParseUint(s, 16, 64)
	return n
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		unq, err := strconv.Unquote(s)
		if err == nil {
			return unq
		}
	}
	return s
}

// splitLogFields tokenizes one line on whitespace, treating a
// double-quoted run (with \\ and \" escapes) as a single field.
func splitLogFields(line string) ([]string, error) {
	var fields []string
	i := 0
	for i < len(line) {
		for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
			i++
		}
		if i >= len(line) {
			break
		}
		if line[i] == '"' {
			start := i
			i++
			for i < len(line) {
				if line[i] == '\\' && i+1 < len(line) {
					i += 2
					continue
				}
				if line[i] == '"' {
					i++
					break
				}
				i++
			}
			fields = append(fields, line[start:i])
			continue
		}
		start := i
		for i < len(line) && line[i] != ' ' && line[i] != '\t' {
			i++
		}
		fields = append(fields, line[start:i])
	}
	return fields, nil
}
