package identity

import "fmt"

// FoldMean folds sample x into the running mean in place and returns the
// new sample count. It uses the incremental update
//
//	mean += (x - mean) / (n + 1)
//
// rather than re-multiplying by the sample count, which accumulates
// floating point drift over long runs. The per-component arithmetic is
// done in float64 and narrowed back to float32 at the end.
func FoldMean(mean []float32, n int, x []float32) (int, error) {
	if n < 1 {
		return 0, fmt.Errorf("sample count must be at least 1, got %d", n)
	}
	if len(mean) == 0 || len(mean) != len(x) {
		return 0, ErrDimensionMismatch
	}

	next := n + 1
	for i := range mean {
		m := float64(mean[i])
		mean[i] = float32(m + (float64(x[i])-m)/float64(next))
	}
	return next, nil
}
