// Copyright 2025 The Covnorm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package covnorm

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Directories never descended into during a pass. ".v8-tmp" holds raw
// per-process dumps mid-collection and "merged" holds this tool's own merge
// output.
var excludedDirs = map[string]bool{
	".v8-tmp": true,
	"merged":  true,
}

// coverageFiles returns every .json file under dir, in a stable order,
// skipping excluded directories.
func coverageFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && excludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
