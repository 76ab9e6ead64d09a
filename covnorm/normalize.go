// Copyright 2025 The Covnorm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package covnorm

import (
	"context"
	"encoding/json"
	"os"
	"strconv"

	"go.uber.org/multierr"

	"github.com/covtools/covnorm/lib/jsonutil"
	"github.com/covtools/covnorm/lib/logger"
	"github.com/covtools/covnorm/sourcemap"
)

// DefaultScanBudget bounds how many byte offsets a single range boundary is
// probed past its direct position when bias lookups find no mapping there.
const DefaultScanBudget = 20000

// ScanBudgetEnv overrides the default scan budget when set to a
// non-negative integer.
const ScanBudgetEnv = "COVNORM_SCAN_BUDGET"

// Options configures a normalization pass.
type Options struct {
	// ScanBudget caps the linear scan fallback per range boundary. Zero
	// restricts boundary mapping to direct bias lookups; negative values
	// select DefaultScanBudget.
	ScanBudget int
}

// ScanBudgetFromEnv returns the scan budget configured in the environment,
// or DefaultScanBudget.
func ScanBudgetFromEnv() int {
	if s := os.Getenv(ScanBudgetEnv); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			return v
		}
	}
	return DefaultScanBudget
}

// Stats summarizes one normalization pass.
type Stats struct {
	Files         int
	FilesChanged  int
	Scripts       int
	ScriptsNoMap  int
	Ranges        int
	RangesChanged int
}

// NormalizeDir runs a normalization pass over every coverage file under dir,
// rewriting files in place when any of their ranges moved. Malformed
// coverage files are skipped with a warning; per-file I/O failures are
// collected into the returned error while the batch continues. Source maps
// are parsed once per generated file and shared across the whole pass.
func NormalizeDir(ctx context.Context, dir string, opts Options) (Stats, error) {
	budget := opts.ScanBudget
	if budget < 0 {
		budget = DefaultScanBudget
	}

	files, err := coverageFiles(dir)
	if err != nil {
		return Stats{}, err
	}

	maps := sourcemap.NewCache()
	defer maps.Close()

	n := &normalizer{maps: maps, budget: budget}
	var stats Stats
	var errs error
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}

		data, err := os.ReadFile(path)
		if err != nil {
			logger.Errorf(ctx, "reading %q: %v", path, err)
			errs = multierr.Append(errs, err)
			continue
		}
		var report Report
		if err := json.Unmarshal(data, &report); err != nil {
			logger.Warningf(ctx, "skipping malformed coverage file %q: %v", path, err)
			continue
		}

		stats.Files++
		changed := n.normalizeReport(ctx, &report, &stats)
		if changed {
			if err := jsonutil.WriteToFile(path, report); err != nil {
				logger.Errorf(ctx, "rewriting %q: %v", path, err)
				errs = multierr.Append(errs, err)
				continue
			}
			stats.FilesChanged++
		}
	}
	logger.Debugf(ctx, "normalized %d/%d coverage files (%d/%d ranges), %d generated files consulted",
		stats.FilesChanged, stats.Files, stats.RangesChanged, stats.Ranges, maps.Len())
	return stats, errs
}

type normalizer struct {
	maps   *sourcemap.Cache
	budget int
}

// normalizeReport rewrites every range of every mappable script entry,
// reporting whether anything changed.
func (n *normalizer) normalizeReport(ctx context.Context, report *Report, stats *Stats) bool {
	changed := false
	for si := range report.Result {
		script := &report.Result[si]
		stats.Scripts++

		path, ok := scriptPath(script.URL)
		if !ok {
			continue
		}
		sm, err := n.maps.Get(path)
		if err != nil {
			logger.Warningf(ctx, "no usable source map for %q: %v", path, err)
			stats.ScriptsNoMap++
			continue
		}
		if sm == nil {
			stats.ScriptsNoMap++
			continue
		}

		for fi := range script.Functions {
			fn := &script.Functions[fi]
			for ri := range fn.Ranges {
				stats.Ranges++
				if n.normalizeRange(sm, &fn.Ranges[ri]) {
					stats.RangesChanged++
					changed = true
				}
			}
		}
	}
	return changed
}

// normalizeRange realigns one range's offsets to mapped positions, reporting
// whether the range was modified. Degenerate and unmappable ranges are left
// untouched.
func (n *normalizer) normalizeRange(sm *sourcemap.Context, r *Range) bool {
	if r.EndOffset <= r.StartOffset {
		return false
	}

	budget := n.budget
	if width := r.EndOffset - r.StartOffset; width < budget {
		budget = width
	}

	start, startPos, ok := n.mapStart(sm, r.StartOffset, budget)
	if !ok {
		return false
	}
	end, endPos, ok := n.mapEnd(sm, r.EndOffset, budget, startPos.Source)
	if !ok {
		return false
	}

	// Uncovered ranges are the granularity-sensitive case: widen them to
	// full original lines so sub-line remapping artifacts cannot hide
	// unexecuted code. The clamps only ever grow the interval.
	if r.Count == 0 {
		if gp, ok := sm.Map.Generated(startPos.Source, startPos.Line, 0, sourcemap.LeastUpperBound); ok {
			if off, ok := sm.Lines.OffsetFor(gp.Line, gp.Column); ok && off < start {
				start = off
			}
		}
		if gp, ok := sm.Map.Generated(endPos.Source, endPos.Line, maxColumn, sourcemap.GreatestLowerBound); ok {
			// The original line's span ends where the next mapped
			// segment begins; a minified generated line interleaves
			// several original sources, so widening to the generated
			// line end would swallow code that isn't ours. Only when
			// no later segment exists on the generated line does the
			// span run to the line end.
			lineEnd := sm.Lines.LineEnd(gp.Line)
			if next, ok := sm.Map.NextGenerated(gp.Line, gp.Column); ok && next.Line == gp.Line {
				if off, ok := sm.Lines.OffsetFor(next.Line, next.Column); ok && off < lineEnd {
					lineEnd = off
				}
			}
			if lineEnd > end {
				end = lineEnd
			}
		}
	}

	if end <= start || (start == r.StartOffset && end == r.EndOffset) {
		return false
	}
	r.StartOffset = start
	r.EndOffset = end
	return true
}

// maxColumn is a column beyond any real line, used to bias reverse lookups
// to the last mapping of an original line.
const maxColumn = 1 << 30

// mapStart finds the first offset at or after start whose position maps to
// an original source, probing at most budget offsets past start. The
// upper-bound bias is preferred so that a boundary inside bundler glue
// rounds forward into mapped code.
func (n *normalizer) mapStart(sm *sourcemap.Context, start, budget int) (int, sourcemap.Position, bool) {
	for d := 0; d <= budget; d++ {
		off := start + d
		line, col, ok := sm.Lines.PositionFor(off)
		if !ok {
			break
		}
		if p, ok := sm.Map.Original(line, col, sourcemap.LeastUpperBound); ok {
			return off, p, true
		}
		if p, ok := sm.Map.Original(line, col, sourcemap.GreatestLowerBound); ok {
			return off, p, true
		}
	}
	return 0, sourcemap.Position{}, false
}

// mapEnd finds the last offset at or before end that maps into wantSource,
// probing at most budget offsets back from end. Both biases are tried at
// each probe: a mapping in the wrong original source triggers the
// opposite-bias retry before the scan moves on.
func (n *normalizer) mapEnd(sm *sourcemap.Context, end, budget int, wantSource string) (int, sourcemap.Position, bool) {
	for d := 0; d <= budget; d++ {
		off := end - d
		if off < 0 {
			break
		}
		line, col, ok := sm.Lines.PositionFor(off)
		if !ok {
			// Coverage offsets may exceed the generated file when the
			// runtime instruments a wrapped copy; keep scanning back
			// until inside the file.
			continue
		}
		if p, ok := sm.Map.Original(line, col, sourcemap.LeastUpperBound); ok && p.Source == wantSource {
			return off, p, true
		}
		if p, ok := sm.Map.Original(line, col, sourcemap.GreatestLowerBound); ok && p.Source == wantSource {
			return off, p, true
		}
	}
	return 0, sourcemap.Position{}, false
}
