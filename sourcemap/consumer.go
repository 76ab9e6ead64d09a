// Copyright 2025 The Covnorm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package sourcemap implements parsing and position queries over standard
// source maps, along with offset/position conversion for generated files.
package sourcemap

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Bias is the tie-breaking rule applied when no mapping exists exactly at a
// queried position.
type Bias int

const (
	// LeastUpperBound rounds up to the closest mapping at or after the
	// queried position.
	LeastUpperBound Bias = iota
	// GreatestLowerBound rounds down to the closest mapping at or before
	// the queried position.
	GreatestLowerBound
)

// Position is a location in either a generated file or an original source.
// Line is 1-based, Column is 0-based. Source is empty for generated
// positions.
type Position struct {
	Source string
	Line   int
	Column int
}

type mapping struct {
	genLine int
	genCol  int
	srcID   int // -1 when the segment carries no original position
	srcLine int
	srcCol  int
}

// Consumer answers position queries against one parsed source map.
type Consumer struct {
	sources  []string
	mappings []mapping // sorted by generated position
	reverse  []mapping // mappings with sources, sorted by original position
}

type mapFile struct {
	Version    int      `json:"version"`
	File       string   `json:"file"`
	SourceRoot string   `json:"sourceRoot"`
	Sources    []string `json:"sources"`
	Names      []string `json:"names"`
	Mappings   string   `json:"mappings"`
}

// Parse decodes a source map from its JSON representation.
func Parse(data []byte) (*Consumer, error) {
	var m mapFile
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshaling source map: %w", err)
	}
	if m.Version != 3 {
		return nil, fmt.Errorf("unsupported source map version %d", m.Version)
	}

	c := &Consumer{sources: make([]string, len(m.Sources))}
	for i, src := range m.Sources {
		c.sources[i] = resolveSource(m.SourceRoot, src)
	}

	if err := c.decodeMappings(m.Mappings); err != nil {
		return nil, err
	}

	sort.SliceStable(c.mappings, func(i, j int) bool {
		return lessGenerated(c.mappings[i], c.mappings[j])
	})
	for _, mp := range c.mappings {
		if mp.srcID >= 0 {
			c.reverse = append(c.reverse, mp)
		}
	}
	sort.SliceStable(c.reverse, func(i, j int) bool {
		return lessOriginal(c.reverse[i], c.reverse[j])
	})
	return c, nil
}

func resolveSource(root, src string) string {
	if root == "" {
		return src
	}
	if strings.HasSuffix(root, "/") {
		return root + src
	}
	return root + "/" + src
}

func (c *Consumer) decodeMappings(s string) error {
	genLine := 1
	genCol, srcID, srcLine, srcCol := 0, 0, 0, 0
	i := 0
	for i < len(s) {
		switch s[i] {
		case ';':
			genLine++
			genCol = 0
			i++
			continue
		case ',':
			i++
			continue
		}
		start := i
		var fields [5]int
		n := 0
		for i < len(s) && s[i] != ';' && s[i] != ',' {
			if n == len(fields) {
				return fmt.Errorf("segment at offset %d has too many fields", start)
			}
			v, next, err := decodeVLQ(s, i)
			if err != nil {
				return err
			}
			fields[n] = v
			n++
			i = next
		}
		if n != 1 && n != 4 && n != 5 {
			return fmt.Errorf("segment at offset %d has %d fields", start, n)
		}
		genCol += fields[0]
		mp := mapping{genLine: genLine, genCol: genCol, srcID: -1}
		if n >= 4 {
			srcID += fields[1]
			srcLine += fields[2]
			srcCol += fields[3]
			if srcID < 0 || srcID >= len(c.sources) {
				return fmt.Errorf("segment at offset %d references source %d of %d", start, srcID, len(c.sources))
			}
			mp.srcID = srcID
			mp.srcLine = srcLine + 1
			mp.srcCol = srcCol
		}
		c.mappings = append(c.mappings, mp)
	}
	return nil
}

func lessGenerated(a, b mapping) bool {
	if a.genLine != b.genLine {
		return a.genLine < b.genLine
	}
	return a.genCol < b.genCol
}

func lessOriginal(a, b mapping) bool {
	if a.srcID != b.srcID {
		return a.srcID < b.srcID
	}
	if a.srcLine != b.srcLine {
		return a.srcLine < b.srcLine
	}
	if a.srcCol != b.srcCol {
		return a.srcCol < b.srcCol
	}
	return lessGenerated(a, b)
}

// Original maps a generated (line, column) to an original source position
// using the given bias. It reports ok=false when no mapping exists in the
// biased direction, or when the closest mapping carries no original source.
func (c *Consumer) Original(line, col int, bias Bias) (Position, bool) {
	want := mapping{genLine: line, genCol: col}
	i := sort.Search(len(c.mappings), func(i int) bool {
		return !lessGenerated(c.mappings[i], want)
	})
	switch bias {
	case LeastUpperBound:
		// i is already the first mapping at or after the position.
	case GreatestLowerBound:
		if i == len(c.mappings) || lessGenerated(want, c.mappings[i]) {
			i--
		}
	}
	if i < 0 || i >= len(c.mappings) {
		return Position{}, false
	}
	mp := c.mappings[i]
	if mp.srcID < 0 {
		return Position{}, false
	}
	return Position{Source: c.sources[mp.srcID], Line: mp.srcLine, Column: mp.srcCol}, true
}

// Generated maps an original (source, line, column) back to a generated
// position using the given bias over original-position order.
func (c *Consumer) Generated(source string, line, col int, bias Bias) (Position, bool) {
	srcID := -1
	for i, s := range c.sources {
		if s == source {
			srcID = i
			break
		}
	}
	if srcID < 0 {
		return Position{}, false
	}
	want := mapping{srcID: srcID, srcLine: line, srcCol: col}
	i := sort.Search(len(c.reverse), func(i int) bool {
		return !lessOriginalPos(c.reverse[i], want)
	})
	switch bias {
	case LeastUpperBound:
	case GreatestLowerBound:
		if i == len(c.reverse) || lessOriginalPos(want, c.reverse[i]) {
			i--
		}
	}
	if i < 0 || i >= len(c.reverse) {
		return Position{}, false
	}
	mp := c.reverse[i]
	if mp.srcID != srcID {
		return Position{}, false
	}
	return Position{Line: mp.genLine, Column: mp.genCol}, true
}

// NextGenerated returns the generated position of the first mapping strictly
// after (line, col) in generated order, sourced or not.
func (c *Consumer) NextGenerated(line, col int) (Position, bool) {
	want := mapping{genLine: line, genCol: col}
	i := sort.Search(len(c.mappings), func(i int) bool {
		return lessGenerated(want, c.mappings[i])
	})
	if i >= len(c.mappings) {
		return Position{}, false
	}
	return Position{Line: c.mappings[i].genLine, Column: c.mappings[i].genCol}, true
}

// lessOriginalPos compares by original position only, ignoring the generated
// tie-break used for sorting.
func lessOriginalPos(a, b mapping) bool {
	if a.srcID != b.srcID {
		return a.srcID < b.srcID
	}
	if a.srcLine != b.srcLine {
		return a.srcLine < b.srcLine
	}
	return a.srcCol < b.srcCol
}

// Sources returns the resolved original source names referenced by the map.
func (c *Consumer) Sources() []string {
	return c.sources
}
