// Copyright 2024 The Covnorm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package jsonutil provides utilities for reading and writing JSON files.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"os"
)

// ReadFromFile reads the JSON file at path into out.
func ReadFromFile(path string, out interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %q: %w", path, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("unmarshaling %q: %w", path, err)
	}
	return nil
}

// WriteToFile marshals v as compact JSON and writes it to path.
func WriteToFile(path string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling for %q: %w", path, err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("writing %q: %w", path, err)
	}
	return nil
}
