// Copyright 2025 The Covnorm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sourcemap

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Context bundles everything needed to remap coverage offsets for one
// generated file: its line table and its parsed source map.
type Context struct {
	Lines *LineTable
	Map   *Consumer
}

const sourceMappingURLPrefix = "sourceMappingURL="

// Resolve loads the generated file at scriptPath and its source map, located
// through the file's trailing sourceMappingURL comment. The map may be inline
// (a base64 data URL) or a sidecar file resolved relative to the script.
// A (nil, nil) return means the file exists but carries no source map.
func Resolve(scriptPath string) (*Context, error) {
	data, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("reading generated file: %w", err)
	}

	mapURL, ok := sourceMappingURL(data)
	if !ok {
		return nil, nil
	}

	var mapData []byte
	if strings.HasPrefix(mapURL, "data:") {
		idx := strings.Index(mapURL, ";base64,")
		if idx < 0 {
			return nil, fmt.Errorf("unsupported inline source map encoding in %q", scriptPath)
		}
		mapData, err = base64.StdEncoding.DecodeString(mapURL[idx+len(";base64,"):])
		if err != nil {
			return nil, fmt.Errorf("decoding inline source map: %w", err)
		}
	} else {
		sidecar := stripURLSuffix(mapURL)
		if !filepath.IsAbs(sidecar) {
			sidecar = filepath.Join(filepath.Dir(scriptPath), sidecar)
		}
		mapData, err = os.ReadFile(sidecar)
		if err != nil {
			return nil, fmt.Errorf("reading sidecar source map: %w", err)
		}
	}

	consumer, err := Parse(mapData)
	if err != nil {
		return nil, err
	}
	return &Context{Lines: NewLineTable(data), Map: consumer}, nil
}

// sourceMappingURL extracts the value of the last sourceMappingURL comment
// in the generated file, if any. Both `//#` and the legacy `//@` comment
// forms are recognized.
func sourceMappingURL(data []byte) (string, bool) {
	s := string(data)
	idx := strings.LastIndex(s, sourceMappingURLPrefix)
	if idx < 0 {
		return "", false
	}
	// Require a // comment marker earlier on the same line.
	lineStart := strings.LastIndexByte(s[:idx], '\n') + 1
	head := s[lineStart:idx]
	marker := strings.TrimSpace(head)
	if marker != "//#" && marker != "//@" {
		return "", false
	}
	value := s[idx+len(sourceMappingURLPrefix):]
	if end := strings.IndexByte(value, '\n'); end >= 0 {
		value = value[:end]
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// stripURLSuffix drops a query string or fragment from a sidecar URL.
func stripURLSuffix(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}
