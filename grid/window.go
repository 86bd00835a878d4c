// Copyright © 2026 Turbo Sheet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: grid/window.go
// Summary: Horizontal column window with clamped navigation and a
// generation counter for staleness detection.

package grid

// ColumnWindow tracks the visible horizontal column range. Navigation never
// fails: candidate offsets are clamped into [0, totalCols-width], pinned to
// zero when the grid is narrower than the window. The generation counter
// increments only on effective movement and is the sole staleness signal
// carried by asynchronous completions.
//
// ColumnWindow is not safe for concurrent use; the owning Viewport
// serializes all access.
type ColumnWindow struct {
	start     int
	width     int
	totalCols int
	gen       uint64
}

// NewColumnWindow returns a window of the given width anchored at column
// zero. Width is fixed for the window's lifetime; values below one are
// raised to one.
func NewColumnWindow(width, totalCols int) *ColumnWindow {
	if width < 1 {
		width = 1
	}
	if totalCols < 0 {
		totalCols = 0
	}
	return &ColumnWindow{width: width, totalCols: totalCols}
}

// Start returns the index of the leftmost visible column.
func (w *ColumnWindow) Start() int { return w.start }

// Width returns the window's fixed column capacity.
func (w *ColumnWindow) Width() int { return w.width }

// TotalCols returns the grid extent the window clamps against.
func (w *ColumnWindow) TotalCols() int { return w.totalCols }

// Generation returns the monotonic counter identifying the window's current
// state. Completions captured under an older generation must be discarded.
func (w *ColumnWindow) Generation() uint64 { return w.gen }

// VisibleCols returns how many columns the window can actually show, which
// is below the width only when the grid itself is narrower.
func (w *ColumnWindow) VisibleCols() int {
	if w.totalCols < w.width {
		return w.totalCols
	}
	return w.width
}

// Shift moves the window by delta columns, saturating at either edge. It
// reports whether the window actually moved; a zero or fully saturated
// shift is a complete no-op with no generation bump.
func (w *ColumnWindow) Shift(delta int) bool {
	return w.moveTo(w.start + delta)
}

// JumpTo moves the window so that col becomes its leftmost column, clamped
// into the valid range. Like Shift it reports whether the window moved.
func (w *ColumnWindow) JumpTo(col int) bool {
	return w.moveTo(col)
}

// SetTotalCols installs a new column extent, re-clamps the start, and
// always bumps the generation: a dimension change invalidates everything in
// flight even when the offset happens to survive.
func (w *ColumnWindow) SetTotalCols(totalCols int) {
	if totalCols < 0 {
		totalCols = 0
	}
	w.totalCols = totalCols
	w.start = w.clamp(w.start)
	w.gen++
}

func (w *ColumnWindow) moveTo(candidate int) bool {
	next := w.clamp(candidate)
	if next == w.start {
		return false
	}
	w.start = next
	w.gen++
	return true
}

func (w *ColumnWindow) clamp(start int) int {
	if start < 0 {
		return 0
	}
	if max := w.maxStart(); start > max {
		return max
	}
	return start
}

func (w *ColumnWindow) maxStart() int {
	if w.totalCols <= w.width {
		return 0
	}
	return w.totalCols - w.width
}
