// Copyright 2025 The Covnorm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sourcemap

import (
	"sort"
)

// LineTable converts between byte offsets and (line, column) positions in one
// generated file. Lines are 1-based and columns are 0-based, following source
// map conventions.
type LineTable struct {
	starts []int
	size   int
}

// NewLineTable builds a LineTable from the contents of a generated file.
func NewLineTable(data []byte) *LineTable {
	starts := []int{0}
	for i, b := range data {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &LineTable{starts: starts, size: len(data)}
}

// Len returns the total length of the file in bytes.
func (t *LineTable) Len() int {
	return t.size
}

// NumLines returns the number of lines in the file.
func (t *LineTable) NumLines() int {
	return len(t.starts)
}

// PositionFor returns the (line, column) holding the given byte offset.
// An offset equal to the file length resolves to one past the end of the
// last line. Offsets outside [0, Len()] report ok=false.
func (t *LineTable) PositionFor(offset int) (line, col int, ok bool) {
	if offset < 0 || offset > t.size {
		return 0, 0, false
	}
	// Greatest i such that starts[i] <= offset.
	i := sort.Search(len(t.starts), func(i int) bool { return t.starts[i] > offset }) - 1
	return i + 1, offset - t.starts[i], true
}

// OffsetFor returns the byte offset of (line, column). Columns past the end
// of the line report ok=false.
func (t *LineTable) OffsetFor(line, col int) (int, bool) {
	if line < 1 || line > len(t.starts) || col < 0 {
		return 0, false
	}
	off := t.starts[line-1] + col
	if off > t.lineLimit(line) {
		return 0, false
	}
	return off, true
}

// LineStart returns the byte offset at which the given line begins.
func (t *LineTable) LineStart(line int) int {
	if line < 1 || line > len(t.starts) {
		return 0
	}
	return t.starts[line-1]
}

// LineEnd returns the byte offset just past the last content byte of the
// given line, excluding its trailing newline.
func (t *LineTable) LineEnd(line int) int {
	if line < 1 || line > len(t.starts) {
		return 0
	}
	if line < len(t.starts) {
		return t.starts[line] - 1
	}
	return t.size
}

// lineLimit is the last valid offset on a line, which is one past its
// content so that exclusive range ends can be addressed.
func (t *LineTable) lineLimit(line int) int {
	if line < len(t.starts) {
		return t.starts[line] - 1
	}
	return t.size
}
