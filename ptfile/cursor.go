// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ptfile

import (
	"bufio"
	"encoding/binary"
	"io"
)

// cursor is a small forward-only byte reader that tracks its absolute
// offset in the underlying file, in the spirit of perffile's
// bufDecoder but over a stream rather than a fixed in-memory record.
type cursor struct {
	r      *bufio.Reader
	base   io.ReaderAt
	offset uint64 // absolute offset of the next unread byte
}

func newCursor(r io.ReaderAt, start uint64) *cursor {
	return &cursor{
		r:      bufio.NewReaderSize(io.NewSectionReader(r, int64(start), 1<<62), 1<<16),
		base:   r,
		offset: start,
	}
}

func (c *cursor) tell() uint64 { return c.offset }

func (c *cursor) readByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.offset++
	}
	return b, err
}

func (c *cursor) peekByte() (byte, error) {
	b, err := c.r.Peek(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := io.ReadFull(c.r, buf)
	c.offset += uint64(got)
	if err != nil {
		return buf[:got], err
	}
	return buf, nil
}

func (c *cursor) readLE64(n int) (uint64, error) {
	buf, err := c.readN(n)
	if err != nil {
		return 0, err
	}
	var full [8]byte
	copy(full[:], buf)
	return binary.LittleEndian.Uint64(full[:]), nil
}
