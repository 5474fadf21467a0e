package stats

import (
	"math"
	"testing"
)

func TestBH(t *testing.T) {
	got, err := BH([]float64{0.01, 0.04, 0.03, 0.20})
	if err != nil {
		t.Fatalf("bh: %v", err)
	}
	want := []float64{0.04, 0.0533333333, 0.0533333333, 0.20}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-6 {
			t.Fatalf("q[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBHCapsAtOneAndKeepsMonotone(t *testing.T) {
	got, err := BH([]float64{0.9, 0.95, 1})
	if err != nil {
		t.Fatalf("bh: %v", err)
	}
	for i, q := range got {
		if q > 1 {
			t.Fatalf("q[%d] = %v exceeds 1", i, q)
		}
	}
	if got[0] > got[1] || got[1] > got[2] {
		t.Fatalf("adjusted values not monotone: %v", got)
	}
}

func TestBHRejectsInvalid(t *testing.T) {
	for _, p := range []float64{-0.1, 1.5, math.NaN()} {
		if _, err := BH([]float64{0.1, p}); err == nil {
			t.Fatalf("expected error for %v", p)
		}
	}
	got, err := BH(nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("empty input: %v %v", got, err)
	}
}
