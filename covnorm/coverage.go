// Copyright 2025 The Covnorm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package covnorm rewrites V8 coverage reports so that their byte-offset
// ranges align with meaningful positions in the original, pre-bundling
// sources, using each generated file's source map.
package covnorm

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Range is a half-open byte-offset interval into one generated file with an
// execution count.
type Range struct {
	StartOffset int `json:"startOffset"`
	EndOffset   int `json:"endOffset"`
	Count       int `json:"count"`
}

// Function is one function block of a script's coverage.
type Function struct {
	FunctionName    string  `json:"functionName"`
	Ranges          []Range `json:"ranges"`
	IsBlockCoverage bool    `json:"isBlockCoverage"`
}

// Script is the coverage recorded for one script, identified by URL.
type Script struct {
	ScriptID  string     `json:"scriptId,omitempty"`
	URL       string     `json:"url"`
	Functions []Function `json:"functions"`
}

// Report is one persisted coverage file. Top-level keys other than "result"
// (V8 emits "timestamp" and "source-map-cache") are carried through a
// rewrite untouched.
type Report struct {
	Result []Script

	extra map[string]json.RawMessage
}

// UnmarshalJSON requires the V8 report shape: an object with a "result"
// array of script entries.
func (r *Report) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	res, ok := raw["result"]
	if !ok {
		return fmt.Errorf(`coverage report has no "result" key`)
	}
	if err := json.Unmarshal(res, &r.Result); err != nil {
		return err
	}
	delete(raw, "result")
	r.extra = raw
	return nil
}

// MarshalJSON re-serializes the report, preserving unmodeled top-level keys.
func (r Report) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.extra)+1)
	for k, v := range r.extra {
		out[k] = v
	}
	res, err := json.Marshal(r.Result)
	if err != nil {
		return nil, err
	}
	out["result"] = res
	return json.Marshal(out)
}

// scriptPath converts a coverage entry URL to a local filesystem path.
// Only file:// URLs and absolute paths refer to generated files on disk;
// node: builtins, eval frames and other pseudo-URLs report ok=false.
func scriptPath(scriptURL string) (string, bool) {
	if strings.HasPrefix(scriptURL, "file://") {
		u, err := url.Parse(scriptURL)
		if err != nil || u.Path == "" {
			return "", false
		}
		return u.Path, true
	}
	if filepath.IsAbs(scriptURL) {
		return scriptURL, true
	}
	return "", false
}
