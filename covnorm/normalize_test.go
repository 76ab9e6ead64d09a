// Copyright 2025 The Covnorm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package covnorm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/covtools/covnorm/lib/jsonutil"
)

// twoLineBundle is a generated file whose two statements map 1:1 to the two
// lines of src.ts. Line 2 ("const b=2;") spans offsets [11, 21).
const twoLineBundle = "const a=1;\nconst b=2;\n"

const twoLineMap = `{"version":3,"sources":["src.ts"],"names":[],"mappings":"AAAA;AACA"}`

func writeBundle(t *testing.T, dir, name, source, mapJSON string) string {
	t.Helper()
	contents := source
	if mapJSON != "" {
		encoded := base64.StdEncoding.EncodeToString([]byte(mapJSON))
		contents += "//# sourceMappingURL=data:application/json;base64," + encoded + "\n"
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeCoverage(t *testing.T, path, scriptURL string, ranges ...Range) {
	t.Helper()
	report := Report{Result: []Script{{
		URL: scriptURL,
		Functions: []Function{{
			Ranges:          ranges,
			IsBlockCoverage: true,
		}},
	}}}
	if err := jsonutil.WriteToFile(path, report); err != nil {
		t.Fatal(err)
	}
}

func readRanges(t *testing.T, path string) []Range {
	t.Helper()
	var report Report
	if err := jsonutil.ReadFromFile(path, &report); err != nil {
		t.Fatal(err)
	}
	if len(report.Result) != 1 || len(report.Result[0].Functions) != 1 {
		t.Fatalf("unexpected report shape in %q", path)
	}
	return report.Result[0].Functions[0].Ranges
}

func TestNormalizeZeroCountWidensToFullLine(t *testing.T) {
	dir := t.TempDir()
	script := writeBundle(t, dir, "bundle.js", twoLineBundle, twoLineMap)
	covFile := filepath.Join(dir, "coverage.json")
	writeCoverage(t, covFile, "file://"+script,
		Range{StartOffset: 12, EndOffset: 20, Count: 0},
		Range{StartOffset: 11, EndOffset: 21, Count: 0},
	)

	stats, err := NormalizeDir(context.Background(), dir, Options{ScanBudget: DefaultScanBudget})
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesChanged != 1 || stats.RangesChanged != 1 {
		t.Fatalf("stats = %+v, want 1 file and 1 range changed", stats)
	}

	got := readRanges(t, covFile)
	want := []Range{
		{StartOffset: 11, EndOffset: 21, Count: 0}, // widened to the full statement line
		{StartOffset: 11, EndOffset: 21, Count: 0}, // already full-line, untouched
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("normalized ranges mismatch (-want +got):\n%s", diff)
	}

	// Widening must never shrink the uncovered interval.
	if got[0].StartOffset > 12 || got[0].EndOffset < 20 {
		t.Fatalf("zero-count range %+v no longer covers the original interval [12, 20)", got[0])
	}
}

func TestNormalizeZeroCountWideningStaysInsideSource(t *testing.T) {
	// A minified single-line bundle interleaving two original sources:
	// a.ts owns [0, 6) and b.ts owns [6, 12). Widening the uncovered
	// a.ts range must stop at b.ts's first segment, not run to the end
	// of the generated line.
	source := "aaa();bbb();\n"
	mapJSON := `{"version":3,"sources":["a.ts","b.ts"],"names":[],"mappings":"AAAA,MCAA"}`

	dir := t.TempDir()
	script := writeBundle(t, dir, "bundle.min.js", source, mapJSON)
	covFile := filepath.Join(dir, "coverage.json")
	writeCoverage(t, covFile, "file://"+script,
		Range{StartOffset: 0, EndOffset: 5, Count: 0},
		Range{StartOffset: 0, EndOffset: 6, Count: 0},
		Range{StartOffset: 6, EndOffset: 12, Count: 5},
	)

	stats, err := NormalizeDir(context.Background(), dir, Options{ScanBudget: DefaultScanBudget})
	if err != nil {
		t.Fatal(err)
	}
	if stats.RangesChanged != 1 {
		t.Fatalf("stats = %+v, want exactly one range changed", stats)
	}

	got := readRanges(t, covFile)
	want := []Range{
		{StartOffset: 0, EndOffset: 6, Count: 0}, // widened to a.ts's full span
		{StartOffset: 0, EndOffset: 6, Count: 0}, // already spans a.ts, untouched
		{StartOffset: 6, EndOffset: 12, Count: 5},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("normalized ranges mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	dir := t.TempDir()
	script := writeBundle(t, dir, "bundle.js", twoLineBundle, twoLineMap)
	covFile := filepath.Join(dir, "coverage.json")
	writeCoverage(t, covFile, "file://"+script,
		Range{StartOffset: 12, EndOffset: 20, Count: 0},
		Range{StartOffset: 0, EndOffset: 10, Count: 3},
	)

	if _, err := NormalizeDir(context.Background(), dir, Options{ScanBudget: DefaultScanBudget}); err != nil {
		t.Fatal(err)
	}
	first, err := os.ReadFile(covFile)
	if err != nil {
		t.Fatal(err)
	}

	stats, err := NormalizeDir(context.Background(), dir, Options{ScanBudget: DefaultScanBudget})
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesChanged != 0 {
		t.Fatalf("second pass rewrote %d files, want 0", stats.FilesChanged)
	}
	second, err := os.ReadFile(covFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatalf("normalization is not idempotent:\nfirst:  %s\nsecond: %s", first, second)
	}
}

func TestNormalizeLeavesDegenerateRanges(t *testing.T) {
	dir := t.TempDir()
	script := writeBundle(t, dir, "bundle.js", twoLineBundle, twoLineMap)
	covFile := filepath.Join(dir, "coverage.json")
	// Hand-formatted so any rewrite would be detectable byte-for-byte.
	contents := `{
  "result": [{"url": "file://` + script + `", "functions": [{"functionName": "", "ranges": [
    {"startOffset": 5, "endOffset": 5, "count": 2},
    {"startOffset": 10, "endOffset": 3, "count": 0}
  ], "isBlockCoverage": true}]}]
}`
	if err := os.WriteFile(covFile, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	stats, err := NormalizeDir(context.Background(), dir, Options{ScanBudget: DefaultScanBudget})
	if err != nil {
		t.Fatal(err)
	}
	if stats.RangesChanged != 0 || stats.FilesChanged != 0 {
		t.Fatalf("stats = %+v, want no changes for degenerate ranges", stats)
	}
	got, err := os.ReadFile(covFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != contents {
		t.Fatal("a file whose ranges did not change must stay byte-identical")
	}
}

func TestNormalizeWithoutSourceMap(t *testing.T) {
	dir := t.TempDir()
	script := writeBundle(t, dir, "plain.js", twoLineBundle, "")
	covFile := filepath.Join(dir, "coverage.json")
	writeCoverage(t, covFile, "file://"+script, Range{StartOffset: 12, EndOffset: 20, Count: 0})

	stats, err := NormalizeDir(context.Background(), dir, Options{ScanBudget: DefaultScanBudget})
	if err != nil {
		t.Fatal(err)
	}
	if stats.ScriptsNoMap != 1 || stats.FilesChanged != 0 {
		t.Fatalf("stats = %+v, want one mapless script and no rewrites", stats)
	}
	got := readRanges(t, covFile)
	want := []Range{{StartOffset: 12, EndOffset: 20, Count: 0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mapless entry was modified (-want +got):\n%s", diff)
	}
}

func TestNormalizeScanBudget(t *testing.T) {
	// The first mapping carries no original source; the sourced mapping
	// starts at column 10. Direct bias lookups at offset 0 find nothing,
	// so only a scan can recover a mapping for the range start.
	source := "glue();pad;const c=3;\n"
	mapJSON := `{"version":3,"sources":["src.ts"],"names":[],"mappings":"A,UAAA"}`

	for _, test := range []struct {
		name   string
		budget int
		want   []Range
	}{
		{
			name:   "budget zero leaves unmappable ranges",
			budget: 0,
			want:   []Range{{StartOffset: 0, EndOffset: 15, Count: 1}},
		},
		{
			name:   "default budget scans forward",
			budget: DefaultScanBudget,
			want:   []Range{{StartOffset: 1, EndOffset: 15, Count: 1}},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			dir := t.TempDir()
			script := writeBundle(t, dir, "bundle.js", source, mapJSON)
			covFile := filepath.Join(dir, "coverage.json")
			writeCoverage(t, covFile, "file://"+script, Range{StartOffset: 0, EndOffset: 15, Count: 1})

			if _, err := NormalizeDir(context.Background(), dir, Options{ScanBudget: test.budget}); err != nil {
				t.Fatal(err)
			}
			got := readRanges(t, covFile)
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Fatalf("ranges mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalizeSkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	script := writeBundle(t, dir, "bundle.js", twoLineBundle, twoLineMap)

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"result": [`), 0o644); err != nil {
		t.Fatal(err)
	}
	good := filepath.Join(dir, "good.json")
	writeCoverage(t, good, "file://"+script, Range{StartOffset: 12, EndOffset: 20, Count: 0})

	stats, err := NormalizeDir(context.Background(), dir, Options{ScanBudget: DefaultScanBudget})
	if err != nil {
		t.Fatalf("malformed files should not fail the batch: %v", err)
	}
	if stats.Files != 1 || stats.FilesChanged != 1 {
		t.Fatalf("stats = %+v, want the one good file processed and changed", stats)
	}

	gotBad, err := os.ReadFile(bad)
	if err != nil {
		t.Fatal(err)
	}
	if string(gotBad) != `{"result": [` {
		t.Fatal("malformed file must be left as-is")
	}
	got := readRanges(t, good)
	want := []Range{{StartOffset: 11, EndOffset: 21, Count: 0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("good file not normalized (-want +got):\n%s", diff)
	}
}

func TestNormalizeSkipsPseudoURLs(t *testing.T) {
	dir := t.TempDir()
	covFile := filepath.Join(dir, "coverage.json")
	writeCoverage(t, covFile, "node:internal/bootstrap", Range{StartOffset: 0, EndOffset: 100, Count: 1})

	stats, err := NormalizeDir(context.Background(), dir, Options{ScanBudget: DefaultScanBudget})
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesChanged != 0 {
		t.Fatalf("stats = %+v, want no rewrites for builtin scripts", stats)
	}
}

func TestNormalizeExcludesTempAndMergedDirs(t *testing.T) {
	dir := t.TempDir()
	script := writeBundle(t, dir, "bundle.js", twoLineBundle, twoLineMap)

	for _, sub := range []string{".v8-tmp", "merged"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
		writeCoverage(t, filepath.Join(dir, sub, "coverage.json"), "file://"+script,
			Range{StartOffset: 12, EndOffset: 20, Count: 0})
	}

	stats, err := NormalizeDir(context.Background(), dir, Options{ScanBudget: DefaultScanBudget})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Files != 0 {
		t.Fatalf("stats = %+v, want excluded directories untouched", stats)
	}
	for _, sub := range []string{".v8-tmp", "merged"} {
		got := readRanges(t, filepath.Join(dir, sub, "coverage.json"))
		want := []Range{{StartOffset: 12, EndOffset: 20, Count: 0}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("%s/coverage.json was modified (-want +got):\n%s", sub, diff)
		}
	}
}

func TestNormalizePreservesExtraKeys(t *testing.T) {
	dir := t.TempDir()
	script := writeBundle(t, dir, "bundle.js", twoLineBundle, twoLineMap)
	covFile := filepath.Join(dir, "coverage.json")
	contents := `{"result":[{"url":"file://` + script + `","functions":[{"functionName":"","ranges":[{"startOffset":12,"endOffset":20,"count":0}],"isBlockCoverage":true}]}],"timestamp":98765}`
	if err := os.WriteFile(covFile, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NormalizeDir(context.Background(), dir, Options{ScanBudget: DefaultScanBudget}); err != nil {
		t.Fatal(err)
	}

	var raw map[string]json.RawMessage
	if err := jsonutil.ReadFromFile(covFile, &raw); err != nil {
		t.Fatal(err)
	}
	if string(raw["timestamp"]) != "98765" {
		t.Fatalf("timestamp key lost or altered after rewrite: %s", raw["timestamp"])
	}
}

func TestNormalizeMissingDir(t *testing.T) {
	if _, err := NormalizeDir(context.Background(), filepath.Join(t.TempDir(), "nope"), Options{}); err == nil {
		t.Fatal("expected an error for an unreadable coverage directory")
	}
}

func TestScanBudgetFromEnv(t *testing.T) {
	t.Setenv(ScanBudgetEnv, "123")
	if got := ScanBudgetFromEnv(); got != 123 {
		t.Errorf("ScanBudgetFromEnv() = %d, want 123", got)
	}
	t.Setenv(ScanBudgetEnv, "not-a-number")
	if got := ScanBudgetFromEnv(); got != DefaultScanBudget {
		t.Errorf("ScanBudgetFromEnv() = %d, want default %d", got, DefaultScanBudget)
	}
	t.Setenv(ScanBudgetEnv, "")
	if got := ScanBudgetFromEnv(); got != DefaultScanBudget {
		t.Errorf("ScanBudgetFromEnv() = %d, want default %d", got, DefaultScanBudget)
	}
}
