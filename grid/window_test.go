// Copyright © 2026 Turbo Sheet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package grid

import "testing"

func TestShiftSaturatesAtLeftEdge(t *testing.T) {
	w := NewColumnWindow(6, 1_000_000_000)

	if w.Shift(-1) {
		t.Fatalf("Shift(-1) at the left edge reported movement")
	}
	if w.Start() != 0 {
		t.Fatalf("Start = %d, want 0", w.Start())
	}
	if w.Generation() != 0 {
		t.Fatalf("Generation = %d, want 0 after a saturated shift", w.Generation())
	}

	if !w.Shift(4) {
		t.Fatalf("Shift(4) should move the window")
	}
	if w.Start() != 4 {
		t.Fatalf("Start = %d, want 4", w.Start())
	}
	if w.Generation() != 1 {
		t.Fatalf("Generation = %d, want 1", w.Generation())
	}
}

func TestJumpToClamps(t *testing.T) {
	const total = 1_000_000_000
	tests := []struct {
		name      string
		col       int
		wantStart int
		wantMoved bool
	}{
		{"interior", 500, 500, true},
		{"negative", -20, 0, false},
		{"grid end", total, total - 6, true},
		{"far past the end", total * 3, total - 6, true},
		{"exact max start", total - 6, total - 6, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewColumnWindow(6, total)
			moved := w.JumpTo(tt.col)
			if moved != tt.wantMoved {
				t.Errorf("JumpTo(%d) moved = %v, want %v", tt.col, moved, tt.wantMoved)
			}
			if w.Start() != tt.wantStart {
				t.Errorf("JumpTo(%d) start = %d, want %d", tt.col, w.Start(), tt.wantStart)
			}
		})
	}
}

func TestNoOpKeepsGeneration(t *testing.T) {
	w := NewColumnWindow(6, 100)
	w.JumpTo(50)
	gen := w.Generation()

	if w.Shift(0) {
		t.Fatalf("Shift(0) reported movement")
	}
	if w.JumpTo(50) {
		t.Fatalf("JumpTo(current) reported movement")
	}
	if w.Generation() != gen {
		t.Fatalf("Generation = %d, want %d after no-ops", w.Generation(), gen)
	}

	w.JumpTo(94)
	gen = w.Generation()
	if w.Shift(25) {
		t.Fatalf("shift beyond the right edge from max start reported movement")
	}
	if w.Generation() != gen {
		t.Fatalf("Generation = %d, want %d after a saturated shift", w.Generation(), gen)
	}
}

func TestNarrowGridPinsWindow(t *testing.T) {
	w := NewColumnWindow(6, 4)

	if got := w.VisibleCols(); got != 4 {
		t.Fatalf("VisibleCols = %d, want 4", got)
	}
	if w.Shift(10) || w.JumpTo(3) {
		t.Fatalf("navigation moved a window wider than the grid")
	}
	if w.Start() != 0 {
		t.Fatalf("Start = %d, want 0", w.Start())
	}
	if w.Generation() != 0 {
		t.Fatalf("Generation = %d, want 0", w.Generation())
	}
}

func TestGenerationCountsEffectiveMovesOnly(t *testing.T) {
	w := NewColumnWindow(10, 200)

	moves := 0
	for _, delta := range []int{5, 0, -5, -5, 30, 0, -100} {
		if w.Shift(delta) {
			moves++
		}
	}
	if got := w.Generation(); got != uint64(moves) {
		t.Fatalf("Generation = %d, want %d (one bump per effective move)", got, moves)
	}
}

func TestSetTotalColsReclampsAndBumps(t *testing.T) {
	w := NewColumnWindow(10, 100)
	w.JumpTo(90)
	if w.Start() != 90 {
		t.Fatalf("Start = %d, want 90", w.Start())
	}
	gen := w.Generation()

	w.SetTotalCols(50)
	if w.Start() != 40 {
		t.Fatalf("Start = %d, want 40 after shrinking to 50 columns", w.Start())
	}
	if w.Generation() != gen+1 {
		t.Fatalf("Generation = %d, want %d", w.Generation(), gen+1)
	}

	// A dimension change invalidates even when the offset survives.
	w.SetTotalCols(50)
	if w.Generation() != gen+2 {
		t.Fatalf("Generation = %d, want %d", w.Generation(), gen+2)
	}
}

func TestWidthFloor(t *testing.T) {
	if got := NewColumnWindow(0, 100).Width(); got != 1 {
		t.Fatalf("Width = %d, want 1", got)
	}
}
