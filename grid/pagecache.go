// Copyright © 2026 Turbo Sheet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: grid/pagecache.go
// Summary: Generation-gated row cache with in-flight page markers.

package grid

import "sync"

// PageCache stores fetched rows keyed by absolute row index, the set of
// page indexes with an outstanding fetch, and the window generation its
// contents belong to. Installs carry the generation captured at dispatch
// time; a completion whose generation no longer matches is dropped in full,
// so a fetch overtaken by navigation can never pollute the new view.
//
// All methods are safe for concurrent use: completions arrive from fetch
// goroutines while the owning viewport mutates under its own lock. The
// at-most-one-fetch-per-page discipline itself is the caller's job; the
// cache only supplies the markers.
type PageCache struct {
	mu      sync.RWMutex
	rows    map[int]Row
	loading map[int]struct{}
	gen     uint64
}

// NewPageCache returns an empty cache at generation zero.
func NewPageCache() *PageCache {
	return &PageCache{
		rows:    make(map[int]Row),
		loading: make(map[int]struct{}),
	}
}

// Row returns the resident row at the given index, if any.
func (c *PageCache) Row(index int) (Row, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	row, ok := c.rows[index]
	return row, ok
}

// Len returns the number of resident rows.
func (c *PageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}

// Loading reports whether a fetch for the page is outstanding.
func (c *PageCache) Loading(pageIndex int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.loading[pageIndex]
	return ok
}

// LoadingCount returns the number of outstanding page fetches.
func (c *PageCache) LoadingCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.loading)
}

// MarkLoading records an outstanding fetch for the page.
func (c *PageCache) MarkLoading(pageIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading[pageIndex] = struct{}{}
}

// ClearLoading releases the page's marker if forGeneration still matches
// the active generation. A stale failure must not release a marker that now
// belongs to a fetch dispatched after the cache was cleared.
func (c *PageCache) ClearLoading(pageIndex int, forGeneration uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if forGeneration != c.gen {
		return
	}
	delete(c.loading, pageIndex)
}

// Install stores a completed page fetch and releases its marker. When
// forGeneration no longer matches the active generation the rows are
// dropped and nothing is touched; Install reports whether the rows were
// accepted.
func (c *PageCache) Install(pageIndex int, rows []Row, forGeneration uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if forGeneration != c.gen {
		return false
	}
	for _, row := range rows {
		c.rows[row.Index] = row
	}
	delete(c.loading, pageIndex)
	return true
}

// Clear drops every resident row and every in-flight marker and records the
// new active generation. Called exactly once per effective window change,
// and on reload or teardown.
func (c *PageCache) Clear(activeGeneration uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = make(map[int]Row)
	c.loading = make(map[int]struct{})
	c.gen = activeGeneration
}

// Generation returns the generation the cache contents belong to.
func (c *PageCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}
