// Copyright © 2026 Turbo Sheet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: grid/source.go
// Summary: Grid source contract and shared data types for the viewer core.

// Package grid implements the viewport cache and fetch-coordination layer
// for a viewer over an effectively unbounded two-dimensional grid. Cell data
// is supplied on demand by a Source across an asynchronous boundary; the
// Viewport decides which region is needed, batches requests into pages,
// suppresses duplicates, and discards completions made stale by navigation.
package grid

import (
	"context"
	"errors"
)

// Dimensions reports the total extent of a grid. Both axes may reach into
// the billions and are fixed for the lifetime of a session.
type Dimensions struct {
	TotalRows int
	TotalCols int
}

// Row is one fetched grid row: its absolute index plus the display text of
// each cell in the column range requested at fetch time. Rows are never
// mutated after they are installed into a cache; a window change drops the
// whole cache instead of patching rows.
type Row struct {
	Index int
	Cells []string
}

var (
	// ErrRange reports a request whose column range falls outside the grid
	// or is malformed (negative start, non-positive count).
	ErrRange = errors.New("grid: range out of bounds")

	// ErrSourceClosed reports an operation against a torn-down session:
	// sources whose backing connection is gone wrap it, and a stopped
	// Viewport returns it from Reload.
	ErrSourceClosed = errors.New("grid: source closed")
)

// Source supplies grid data. Dimensions is fixed per session. FetchHeaders
// returns exactly colCount labels for [colStart, colStart+colCount) or
// fails with ErrRange. FetchRows returns up to rowCount rows starting at
// rowStart, each carrying exactly colCount cells; the result is shorter
// than rowCount only at the grid's row end. Implementations must be safe
// for concurrent calls: the viewport issues many fetches at once.
type Source interface {
	Dimensions(ctx context.Context) (Dimensions, error)
	FetchHeaders(ctx context.Context, colStart, colCount int) ([]string, error)
	FetchRows(ctx context.Context, rowStart, rowCount, colStart, colCount int) ([]Row, error)
}

// CheckColRange validates a requested column range against the grid's
// column count, returning ErrRange on any violation.
func CheckColRange(colStart, colCount, totalCols int) error {
	if colStart < 0 || colCount <= 0 || colStart+colCount > totalCols {
		return ErrRange
	}
	return nil
}
