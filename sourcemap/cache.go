// Copyright 2025 The Covnorm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sourcemap

// Cache holds resolved Contexts for the duration of one pass over a
// coverage directory, so that coverage files sharing generated files do not
// reload their source maps. Negative results (no map, resolve failure) are
// cached as well. Not safe for concurrent use.
type Cache struct {
	entries map[string]cacheEntry
}

type cacheEntry struct {
	ctx *Context
	err error
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Get returns the Context for the generated file at scriptPath, resolving
// and caching it on first use. A (nil, nil) return means the file has no
// source map. Errors are sticky: a failed resolution is not retried within
// the same pass.
func (c *Cache) Get(scriptPath string) (*Context, error) {
	if e, ok := c.entries[scriptPath]; ok {
		return e.ctx, e.err
	}
	ctx, err := Resolve(scriptPath)
	c.entries[scriptPath] = cacheEntry{ctx: ctx, err: err}
	return ctx, err
}

// Len returns the number of cached entries, negative results included.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Close releases every cached Context. The Cache is reusable afterwards but
// starts cold.
func (c *Cache) Close() {
	c.entries = make(map[string]cacheEntry)
}
