// Copyright 2025 The Covnorm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package covnorm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/covtools/covnorm/lib/jsonutil"
	"github.com/covtools/covnorm/lib/logger"
)

// MergedDirName is the subdirectory merge output is written under. The
// normalization walk excludes it so merged output is never normalized as if
// it were a per-process dump.
const MergedDirName = "merged"

// MergeReports combines coverage reports from many processes or runs into
// one. Scripts are keyed by URL, functions by name and root range, and
// identical ranges sum their counts. Files that do not parse as coverage
// reports are skipped with a warning.
func MergeReports(ctx context.Context, paths []string) (*Report, error) {
	merged := &Report{}
	scriptIdx := make(map[string]int)
	funcIdx := make(map[string]map[funcKey]int)

	read := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var report Report
		if err := jsonutil.ReadFromFile(path, &report); err != nil {
			logger.Warningf(ctx, "skipping %q: %v", path, err)
			continue
		}
		read++
		for _, script := range report.Result {
			mergeScript(merged, scriptIdx, funcIdx, script)
		}
	}
	if read == 0 {
		return nil, fmt.Errorf("no valid coverage files among %d inputs", len(paths))
	}

	sort.Slice(merged.Result, func(i, j int) bool {
		return merged.Result[i].URL < merged.Result[j].URL
	})
	for i := range merged.Result {
		for j := range merged.Result[i].Functions {
			sortRanges(merged.Result[i].Functions[j].Ranges)
		}
	}
	logger.Debugf(ctx, "merged %d coverage files into %d script entries", read, len(merged.Result))
	return merged, nil
}

// MergeDir merges every coverage file under dir and writes the result to
// <dir>/merged/coverage.json, returning the output path.
func MergeDir(ctx context.Context, dir string) (string, error) {
	files, err := coverageFiles(dir)
	if err != nil {
		return "", err
	}
	merged, err := MergeReports(ctx, files)
	if err != nil {
		return "", err
	}
	outDir := filepath.Join(dir, MergedDirName)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	out := filepath.Join(outDir, "coverage.json")
	if err := jsonutil.WriteToFile(out, merged); err != nil {
		return "", err
	}
	return out, nil
}

// funcKey identifies a function block within a script across processes: its
// name plus the extent of its root range.
type funcKey struct {
	name       string
	start, end int
}

func mergeScript(merged *Report, scriptIdx map[string]int, funcIdx map[string]map[funcKey]int, script Script) {
	si, ok := scriptIdx[script.URL]
	if !ok {
		si = len(merged.Result)
		scriptIdx[script.URL] = si
		merged.Result = append(merged.Result, Script{ScriptID: script.ScriptID, URL: script.URL})
		funcIdx[script.URL] = make(map[funcKey]int)
	}
	dst := &merged.Result[si]
	fns := funcIdx[script.URL]

	for _, fn := range script.Functions {
		key := funcKey{name: fn.FunctionName}
		if len(fn.Ranges) > 0 {
			key.start = fn.Ranges[0].StartOffset
			key.end = fn.Ranges[0].EndOffset
		}
		fi, ok := fns[key]
		if !ok {
			fi = len(dst.Functions)
			fns[key] = fi
			dst.Functions = append(dst.Functions, Function{
				FunctionName:    fn.FunctionName,
				IsBlockCoverage: fn.IsBlockCoverage,
			})
		}
		dstFn := &dst.Functions[fi]
		dstFn.IsBlockCoverage = dstFn.IsBlockCoverage || fn.IsBlockCoverage
		dstFn.Ranges = mergeRanges(dstFn.Ranges, fn.Ranges)
	}
}

// mergeRanges sums counts of identical intervals and keeps distinct ones.
func mergeRanges(dst, src []Range) []Range {
	for _, r := range src {
		found := false
		for i := range dst {
			if dst[i].StartOffset == r.StartOffset && dst[i].EndOffset == r.EndOffset {
				dst[i].Count += r.Count
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, r)
		}
	}
	return dst
}

// sortRanges restores V8 range order: by start ascending, enclosing ranges
// first.
func sortRanges(ranges []Range) {
	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].StartOffset != ranges[j].StartOffset {
			return ranges[i].StartOffset < ranges[j].StartOffset
		}
		return ranges[i].EndOffset > ranges[j].EndOffset
	})
}
