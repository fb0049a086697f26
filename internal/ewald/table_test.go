package ewald

import (
	"math"
	"testing"
)

func TestFillForceTable(t *testing.T) {
	tab := make([]float32, 1536)
	if err := FillForceTable(tab, 0.001, 3.12); err != nil {
		t.Fatalf("fill failed: %v", err)
	}

	for i, v := range tab {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("tab[%d] = %v", i, v)
		}
		if v < 0 {
			t.Fatalf("tab[%d] = %v, force correction must be positive", i, v)
		}
	}

	if tab[0] != tab[1] {
		t.Errorf("tab[0] = %v, want duplicate of tab[1] = %v", tab[0], tab[1])
	}

	// monotonically decaying away from the origin
	for i := 2; i < len(tab); i++ {
		if tab[i] > tab[i-1] {
			t.Fatalf("tab[%d] = %v > tab[%d] = %v", i, tab[i], i-1, tab[i-1])
		}
	}
}

func TestFillForceTableInvalid(t *testing.T) {
	tab := make([]float32, 16)
	if err := FillForceTable(tab, 0, 3.12); err == nil {
		t.Error("expected error for zero spacing")
	}
	if err := FillForceTable(tab, 0.001, -1); err == nil {
		t.Error("expected error for negative beta")
	}
	if err := FillForceTable(tab[:1], 0.001, 3.12); err == nil {
		t.Error("expected error for single-sample table")
	}
}
