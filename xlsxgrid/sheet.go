// Copyright © 2026 Turbo Sheet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: xlsxgrid/sheet.go
// Summary: Read-only grid source backed by one worksheet of an .xlsx
// workbook. Cell text is loaded once at Open; fetches slice the in-memory
// rows and never touch the file again.

package xlsxgrid

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/framegrace/turbosheet/grid"
)

// Sheet serves one worksheet as a grid.Source. Header labels are the
// A1-style column letters; every worksheet row is data.
type Sheet struct {
	name  string
	dims  grid.Dimensions
	cells [][]string
}

// Open loads the named worksheet from the workbook at path. An empty sheet
// name selects the workbook's first worksheet.
func Open(path, sheet string) (*Sheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("xlsxgrid: open %s: %w", path, err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("xlsxgrid: read sheet %q: %w", sheet, err)
	}

	cols := 0
	for _, r := range rows {
		if len(r) > cols {
			cols = len(r)
		}
	}
	return &Sheet{
		name:  sheet,
		dims:  grid.Dimensions{TotalRows: len(rows), TotalCols: cols},
		cells: rows,
	}, nil
}

// Sheets lists the worksheet names in the workbook at path.
func Sheets(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("xlsxgrid: open %s: %w", path, err)
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

// Name returns the worksheet name this source serves.
func (s *Sheet) Name() string { return s.name }

// Dimensions implements grid.Source.
func (s *Sheet) Dimensions(ctx context.Context) (grid.Dimensions, error) {
	return s.dims, nil
}

// FetchHeaders implements grid.Source with A1-style column letters.
func (s *Sheet) FetchHeaders(ctx context.Context, colStart, colCount int) ([]string, error) {
	if err := grid.CheckColRange(colStart, colCount, s.dims.TotalCols); err != nil {
		return nil, err
	}
	names := make([]string, colCount)
	for i := range names {
		name, err := excelize.ColumnNumberToName(colStart + i + 1)
		if err != nil {
			return nil, fmt.Errorf("xlsxgrid: column name: %w", err)
		}
		names[i] = name
	}
	return names, nil
}

// FetchRows implements grid.Source. Worksheet rows shorter than the
// requested range pad with empty cells, so every returned row spans the
// full column count.
func (s *Sheet) FetchRows(ctx context.Context, rowStart, rowCount, colStart, colCount int) ([]grid.Row, error) {
	if rowStart < 0 || rowCount <= 0 {
		return nil, grid.ErrRange
	}
	if err := grid.CheckColRange(colStart, colCount, s.dims.TotalCols); err != nil {
		return nil, err
	}
	if rowStart >= s.dims.TotalRows {
		return nil, nil
	}
	if rowStart+rowCount > s.dims.TotalRows {
		rowCount = s.dims.TotalRows - rowStart
	}

	out := make([]grid.Row, rowCount)
	for i := range out {
		src := s.cells[rowStart+i]
		cells := make([]string, colCount)
		for c := range cells {
			if col := colStart + c; col < len(src) {
				cells[c] = src[col]
			}
		}
		out[i] = grid.Row{Index: rowStart + i, Cells: cells}
	}
	return out, nil
}

var _ grid.Source = (*Sheet)(nil)
