// Package stats holds small statistical helpers used on metadata columns.
package stats

import (
	"fmt"
	"math"
	"sort"
)

// BH applies the Benjamini–Hochberg false discovery rate correction and
// returns adjusted q-values in the input order. With p sorted ascending,
// q(i) = min over j >= i of p(j)·n/j, capped at 1.
func BH(pvalues []float64) ([]float64, error) {
	n := len(pvalues)
	for i, p := range pvalues {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return nil, fmt.Errorf("p-value %d out of range: %v", i, p)
		}
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return pvalues[order[a]] < pvalues[order[b]] })

	out := make([]float64, n)
	running := 1.0
	for rank := n; rank >= 1; rank-- {
		idx := order[rank-1]
		q := pvalues[idx] * float64(n) / float64(rank)
		if q < running {
			running = q
		}
		out[idx] = running
	}
	return out, nil
}
