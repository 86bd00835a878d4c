// Copyright © 2026 Turbo Sheet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: grid/viewport.go
// Summary: Viewport controller: fetch scheduling, stale-result discard, and
// the read surface exposed to presentation layers.

package grid

import (
	"context"
	"fmt"
	"log"
	"sync"
)

const (
	// DefaultRowsPerPage is the fetch batching granularity when the config
	// leaves RowsPerPage unset.
	DefaultRowsPerPage = 100

	// DefaultWidth is the column window width when the config leaves Width
	// unset.
	DefaultWidth = 8
)

// Config carries the tunables for a Viewport. Zero values fall back to the
// package defaults; the callbacks may be nil. Callbacks run outside the
// viewport's lock and may call back into it.
type Config struct {
	Source      Source
	RowsPerPage int
	Width       int

	// OnRows fires after a page of rows is installed.
	OnRows func(pageIndex, rowCount int)
	// OnHeaders fires after a header set is published.
	OnHeaders func(headers []string)
	// OnError receives fetch failures. When nil they are logged. Stale
	// completions are never reported here; they are counted in Stats.
	OnError func(err error)
}

// DefaultConfig returns a Config for src with the package defaults.
func DefaultConfig(src Source) Config {
	return Config{Source: src, RowsPerPage: DefaultRowsPerPage, Width: DefaultWidth}
}

// Stats counts a viewport's fetch traffic. Stale drops are the expected
// outcome of fast navigation, not failures.
type Stats struct {
	RowFetches       uint64
	RowInstalls      uint64
	RowStaleDrops    uint64
	RowErrors        uint64
	HeaderFetches    uint64
	HeaderApplies    uint64
	HeaderStaleDrops uint64
	HeaderErrors     uint64
}

// Viewport coordinates one Source, one ColumnWindow, and one PageCache. It
// receives visibility and navigation events from a presentation layer,
// dispatches bounded asynchronous fetches, and installs completions subject
// to the generation checks. A single logical consumer drives the event
// surface; completion goroutines re-enter through the viewport's mutex.
//
// Fetch volume is implicitly bounded: at most one outstanding fetch per
// page, so roughly visibleRows/rowsPerPage+1 requests run concurrently.
type Viewport struct {
	cfg Config
	src Source

	mu       sync.Mutex
	started  bool
	closed   bool
	dims     Dimensions
	window   *ColumnWindow
	cache    *PageCache
	headers  []string
	firstRow int
	lastRow  int
	seen     bool
	stats    Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewViewport returns an unstarted viewport for cfg.Source.
func NewViewport(cfg Config) *Viewport {
	if cfg.RowsPerPage <= 0 {
		cfg.RowsPerPage = DefaultRowsPerPage
	}
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	return &Viewport{cfg: cfg, src: cfg.Source, cache: NewPageCache()}
}

// Start reads the grid dimensions, anchors the window at column zero, and
// dispatches the initial header refresh. It must complete before any event
// is reported.
func (v *Viewport) Start(ctx context.Context) error {
	if v.src == nil {
		return fmt.Errorf("viewport: no source configured")
	}
	dims, err := v.src.Dimensions(ctx)
	if err != nil {
		return fmt.Errorf("viewport: read dimensions: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.started {
		return fmt.Errorf("viewport: already started")
	}
	v.started = true
	v.dims = dims
	v.window = NewColumnWindow(v.cfg.Width, dims.TotalCols)
	v.cache.Clear(v.window.Generation())
	v.ctx, v.cancel = context.WithCancel(context.Background())
	v.dispatchHeadersLocked()
	return nil
}

// Stop cancels the fetch context and stops accepting completions; pending
// results are discarded as if stale. It waits for in-flight fetch
// goroutines until ctx expires.
func (v *Viewport) Stop(ctx context.Context) error {
	v.mu.Lock()
	if !v.started || v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	cancel := v.cancel
	v.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		v.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RowVisible reports that row r entered the rendered range. Resident rows
// cost nothing; otherwise the row's page is fetched unless already in
// flight.
func (v *Viewport) RowVisible(r int) {
	v.RowsVisible(r, r)
}

// RowsVisible reports the visible row range [first, last]. The range is
// remembered so navigation can refetch it after invalidating the cache.
func (v *Viewport) RowsVisible(first, last int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.started || v.closed {
		return
	}
	if first < 0 {
		first = 0
	}
	if last >= v.dims.TotalRows {
		last = v.dims.TotalRows - 1
	}
	if first > last {
		return
	}
	v.firstRow, v.lastRow, v.seen = first, last, true
	v.requestRangeLocked(first, last)
}

// Shift moves the column window by delta, saturating at the grid's edges.
// An effective move invalidates the cache, refetches the visible rows, and
// refreshes the headers; a saturated or zero shift does nothing at all. It
// reports whether the window moved.
func (v *Viewport) Shift(delta int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.started || v.closed || !v.window.Shift(delta) {
		return false
	}
	v.windowChangedLocked()
	return true
}

// JumpTo moves the column window so col becomes its leftmost column,
// clamped into the valid range, with the same invalidation semantics as
// Shift.
func (v *Viewport) JumpTo(col int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.started || v.closed || !v.window.JumpTo(col) {
		return false
	}
	v.windowChangedLocked()
	return true
}

// Reload re-reads the source dimensions and rebuilds the view: the window
// re-clamps under a fresh generation, the cache empties, and headers plus
// the visible rows are fetched again. Used when the serving side replaces
// the sheet's content. After Stop it fails with ErrSourceClosed.
func (v *Viewport) Reload(ctx context.Context) error {
	v.mu.Lock()
	if !v.started {
		v.mu.Unlock()
		return fmt.Errorf("viewport: not started")
	}
	if v.closed {
		v.mu.Unlock()
		return ErrSourceClosed
	}
	v.mu.Unlock()

	dims, err := v.src.Dimensions(ctx)
	if err != nil {
		return fmt.Errorf("viewport: reload dimensions: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrSourceClosed
	}
	v.dims = dims
	v.window.SetTotalCols(dims.TotalCols)
	if v.lastRow >= dims.TotalRows {
		v.lastRow = dims.TotalRows - 1
	}
	if v.firstRow > v.lastRow {
		v.seen = false
	}
	v.windowChangedLocked()
	return nil
}

// RefreshHeaders forces a header fetch for the live window, for example
// after a header fetch failure. Stale completions are still discarded.
func (v *Viewport) RefreshHeaders() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.started || v.closed {
		return
	}
	v.dispatchHeadersLocked()
}

// Row returns the resident row at the given index, if any.
func (v *Viewport) Row(index int) (Row, bool) {
	return v.cache.Row(index)
}

// Headers returns a copy of the currently published header set.
func (v *Viewport) Headers() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.headers))
	copy(out, v.headers)
	return out
}

// Window returns the current window start and width. The start always lies
// within [0, totalCols-width].
func (v *Viewport) Window() (start, width int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.window == nil {
		return 0, v.cfg.Width
	}
	return v.window.Start(), v.window.Width()
}

// Generation returns the live window generation.
func (v *Viewport) Generation() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.window == nil {
		return 0
	}
	return v.window.Generation()
}

// Dimensions returns the grid extent read at Start (or the last Reload).
func (v *Viewport) Dimensions() Dimensions {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dims
}

// Stats returns a snapshot of the traffic counters.
func (v *Viewport) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}

// windowChangedLocked runs the invalidation protocol for an effective
// window mutation: clear synchronously, refresh headers, refetch the
// remembered visible range.
func (v *Viewport) windowChangedLocked() {
	v.cache.Clear(v.window.Generation())
	v.dispatchHeadersLocked()
	if v.seen {
		v.requestRangeLocked(v.firstRow, v.lastRow)
	}
}

func (v *Viewport) requestRangeLocked(first, last int) {
	for page := first / v.cfg.RowsPerPage; page <= last/v.cfg.RowsPerPage; page++ {
		v.requestPageLocked(page)
	}
}

// requestPageLocked dispatches a fetch for one page unless the page is
// resident or already in flight. The window generation captured here rides
// with the completion and decides whether the result is still wanted.
func (v *Viewport) requestPageLocked(page int) {
	rowStart := page * v.cfg.RowsPerPage
	if rowStart >= v.dims.TotalRows {
		return
	}
	if _, ok := v.cache.Row(rowStart); ok {
		return
	}
	if v.cache.Loading(page) {
		return
	}
	colStart := v.window.Start()
	colCount := v.window.VisibleCols()
	if colCount == 0 {
		return
	}
	rowCount := v.cfg.RowsPerPage
	if rowStart+rowCount > v.dims.TotalRows {
		rowCount = v.dims.TotalRows - rowStart
	}
	gen := v.window.Generation()
	v.cache.MarkLoading(page)
	v.stats.RowFetches++

	ctx := v.ctx
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		rows, err := v.src.FetchRows(ctx, rowStart, rowCount, colStart, colCount)
		v.completeRows(page, gen, rows, err)
	}()
}

func (v *Viewport) completeRows(page int, gen uint64, rows []Row, err error) {
	var notify func()

	v.mu.Lock()
	switch {
	case v.closed:
	case gen != v.cache.Generation():
		v.stats.RowStaleDrops++
	case err != nil:
		v.cache.ClearLoading(page, gen)
		v.stats.RowErrors++
		notify = v.errorNotifyLocked(fmt.Errorf("viewport: page %d fetch: %w", page, err))
	case v.cache.Install(page, rows, gen):
		v.stats.RowInstalls++
		if cb := v.cfg.OnRows; cb != nil {
			n := len(rows)
			notify = func() { cb(page, n) }
		}
	}
	v.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// dispatchHeadersLocked issues an asynchronous header fetch for the live
// window, capturing the generation for the completion's compare-and-discard.
func (v *Viewport) dispatchHeadersLocked() {
	start := v.window.Start()
	count := v.window.VisibleCols()
	if count == 0 {
		return
	}
	gen := v.window.Generation()
	v.stats.HeaderFetches++

	ctx := v.ctx
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		headers, err := v.src.FetchHeaders(ctx, start, count)
		v.completeHeaders(gen, headers, err)
	}()
}

func (v *Viewport) completeHeaders(gen uint64, headers []string, err error) {
	var notify func()

	v.mu.Lock()
	switch {
	case v.closed:
	case gen != v.window.Generation():
		v.stats.HeaderStaleDrops++
	case err != nil:
		v.stats.HeaderErrors++
		notify = v.errorNotifyLocked(fmt.Errorf("viewport: header fetch: %w", err))
	default:
		v.headers = headers
		v.stats.HeaderApplies++
		if cb := v.cfg.OnHeaders; cb != nil {
			hs := headers
			notify = func() { cb(hs) }
		}
	}
	v.mu.Unlock()

	if notify != nil {
		notify()
	}
}

func (v *Viewport) errorNotifyLocked(err error) func() {
	if cb := v.cfg.OnError; cb != nil {
		return func() { cb(err) }
	}
	return func() { log.Printf("[VIEWPORT] %v", err) }
}
