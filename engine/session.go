// Copyright © 2026 Turbo Sheet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: engine/session.go
// Summary: In-process demo sheet. Serves a synthesized grid of arbitrary
// extent with spreadsheet-style column labels, plus an optional artificial
// fetch latency for exercising stale-result handling.

package engine

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/framegrace/turbosheet/grid"
)

// Demo sheet extent: a billion rows by a billion columns. Content is
// synthesized per fetch, so the extent costs nothing.
const (
	DemoRows = 1_000_000_000
	DemoCols = 1_000_000_000
)

// ColumnName returns the spreadsheet-style label for a zero-based column
// index: A..Z, then AA..AZ, BA and so on.
func ColumnName(n int) string {
	var buf [16]byte
	i := len(buf)
	for n >= 0 {
		i--
		buf[i] = byte('A' + n%26)
		n = n/26 - 1
	}
	return string(buf[i:])
}

// Session serves a synthesized sheet of fixed dimensions. Every cell is
// derived from its coordinates, so results can be recomputed and verified
// anywhere. Safe for concurrent fetches.
type Session struct {
	rows int
	cols int

	// artificial per-fetch delay in nanoseconds
	latency atomic.Int64
}

// NewDemoSession returns the billion-by-billion demo sheet.
func NewDemoSession() *Session {
	return NewSession(DemoRows, DemoCols)
}

// NewSession returns a synthesized sheet with the given extent. Negative
// extents collapse to zero.
func NewSession(rows, cols int) *Session {
	if rows < 0 {
		rows = 0
	}
	if cols < 0 {
		cols = 0
	}
	return &Session{rows: rows, cols: cols}
}

// SetLatency delays every subsequent fetch by d. Handy for reproducing
// slow-transport races against a local sheet.
func (s *Session) SetLatency(d time.Duration) {
	s.latency.Store(int64(d))
}

func (s *Session) wait(ctx context.Context) error {
	d := time.Duration(s.latency.Load())
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dimensions implements grid.Source.
func (s *Session) Dimensions(ctx context.Context) (grid.Dimensions, error) {
	if err := s.wait(ctx); err != nil {
		return grid.Dimensions{}, err
	}
	return grid.Dimensions{TotalRows: s.rows, TotalCols: s.cols}, nil
}

// FetchHeaders implements grid.Source with spreadsheet-style labels.
func (s *Session) FetchHeaders(ctx context.Context, colStart, colCount int) ([]string, error) {
	if err := grid.CheckColRange(colStart, colCount, s.cols); err != nil {
		return nil, err
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	names := make([]string, colCount)
	for i := range names {
		names[i] = ColumnName(colStart + i)
	}
	return names, nil
}

// FetchRows implements grid.Source. Cells hold "<label>,<rowIndex>" and the
// result is truncated at the sheet's last row.
func (s *Session) FetchRows(ctx context.Context, rowStart, rowCount, colStart, colCount int) ([]grid.Row, error) {
	if rowStart < 0 || rowCount <= 0 {
		return nil, grid.ErrRange
	}
	if err := grid.CheckColRange(colStart, colCount, s.cols); err != nil {
		return nil, err
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if rowStart >= s.rows {
		return nil, nil
	}
	if rowStart+rowCount > s.rows {
		rowCount = s.rows - rowStart
	}

	names := make([]string, colCount)
	for c := range names {
		names[c] = ColumnName(colStart + c)
	}
	rows := make([]grid.Row, rowCount)
	for i := range rows {
		r := rowStart + i
		cells := make([]string, colCount)
		for c := range cells {
			cells[c] = names[c] + "," + strconv.Itoa(r)
		}
		rows[i] = grid.Row{Index: r, Cells: cells}
	}
	return rows, nil
}

var _ grid.Source = (*Session)(nil)
