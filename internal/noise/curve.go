package noise

import (
	"fmt"
	"sort"
)

// CurveSamples is the fixed number of samples a height curve is baked into.
const CurveSamples = 256

// CurvePoint is one control point of a piecewise-linear height curve.
type CurvePoint struct {
	T float64 `json:"t" yaml:"t"`
	V float64 `json:"v" yaml:"v"`
}

// BakeCurve evaluates the piecewise-linear curve through points at samples
// evenly spaced positions over [0, 1]. No points yields the identity curve.
func BakeCurve(points []CurvePoint, samples int) ([]float64, error) {
	if samples < 2 {
		return nil, fmt.Errorf("noise: curve needs at least 2 samples, got %d", samples)
	}
	sorted := append([]CurvePoint(nil), points...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].T < sorted[j].T })
	if len(sorted) == 0 {
		sorted = []CurvePoint{{T: 0, V: 0}, {T: 1, V: 1}}
	}

	out := make([]float64, samples)
	for j := range out {
		t := float64(j) / float64(samples-1)
		out[j] = evalPoints(sorted, t)
	}
	return out, nil
}

func evalPoints(points []CurvePoint, t float64) float64 {
	if t <= points[0].T {
		return points[0].V
	}
	last := points[len(points)-1]
	if t >= last.T {
		return last.V
	}
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		if t > b.T {
			continue
		}
		span := b.T - a.T
		if span <= 0 {
			return b.V
		}
		return lerp(a.V, b.V, (t-a.T)/span)
	}
	return last.V
}

// SampleCurve looks up a baked curve at t, clamping t to [0, 1] and
// interpolating linearly between neighbouring samples.
func SampleCurve(samples []float64, t float64) float64 {
	n := len(samples)
	if n == 0 {
		return t
	}
	if t <= 0 {
		return samples[0]
	}
	if t >= 1 {
		return samples[n-1]
	}
	pos := t * float64(n-1)
	i := int(pos)
	if i >= n-1 {
		return samples[n-1]
	}
	return lerp(samples[i], samples[i+1], pos-float64(i))
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}
