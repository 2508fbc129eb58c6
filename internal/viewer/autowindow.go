package viewer

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// SuggestWindow derives a window center and width from the intensity
// distribution, spanning the [lo, hi] quantiles. Useful for one-click
// leveling of over- or under-exposed sources.
func SuggestWindow(b *Bitmap, lo, hi float64) (center, width float64) {
	if lo < 0 {
		lo = 0
	}
	if hi > 1 {
		hi = 1
	}
	if hi <= lo {
		lo, hi = 0.02, 0.98
	}

	values := make([]float64, len(b.pix))
	for i, v := range b.pix {
		values[i] = float64(v)
	}
	sort.Float64s(values)

	low := stat.Quantile(lo, stat.Empirical, values, nil)
	high := stat.Quantile(hi, stat.Empirical, values, nil)
	if high <= low {
		high = low + 1
	}
	return (low + high) / 2, high - low
}
