package recurrent

import "math"

// normalizer is a per-feature running mean/variance tracker (Welford),
// used to normalize raw features before they enter the network and to
// convert the smoothed prediction-error EWMA into a z-score.
type normalizer struct {
	count int64
	mean  []float64
	m2    []float64
}

func newNormalizer(n int) *normalizer {
	return &normalizer{mean: make([]float64, n), m2: make([]float64, n)}
}

func (nz *normalizer) observe(x []float64) {
	nz.count++
	for i, v := range x {
		delta := v - nz.mean[i]
		nz.mean[i] += delta / float64(nz.count)
		delta2 := v - nz.mean[i]
		nz.m2[i] += delta * delta2
	}
}

func (nz *normalizer) normalize(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		std := nz.std(i)
		if std < 1e-9 {
			out[i] = 0
			continue
		}
		out[i] = (v - nz.mean[i]) / std
	}
	return out
}

func (nz *normalizer) std(i int) float64 {
	if nz.count < 2 {
		return 0
	}
	variance := nz.m2[i] / float64(nz.count-1)
	return sqrtGuarded(variance)
}

func sqrtGuarded(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}
