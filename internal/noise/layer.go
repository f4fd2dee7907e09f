package noise

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// LayerSettings describes one fractal noise layer.
type LayerSettings struct {
	Kind        Kind
	Scale       float64
	Octaves     int
	Persistence float64
	Lacunarity  float64
	Power       float64
	Remove      bool
	Offset      mgl64.Vec3
	Curve       []float64
}

// Validate rejects settings the sampler cannot evaluate.
func (s LayerSettings) Validate() error {
	if s.Scale <= 0 {
		return errors.New("scale must be positive")
	}
	if s.Octaves <= 0 {
		return errors.New("octaves must be positive")
	}
	if s.Persistence <= 0 {
		return errors.New("persistence must be positive")
	}
	if s.Lacunarity <= 0 {
		return errors.New("lacunarity must be positive")
	}
	if len(s.Curve) < 2 {
		return errors.New("curve must carry at least 2 samples")
	}
	return nil
}

// ClampRange is the largest value a fractal sum of unit-range octaves can
// reach: the geometric series of persistence over the octave count.
func ClampRange(octaves int, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	for i := 0; i < octaves; i++ {
		total += amplitude
		amplitude *= persistence
	}
	return total
}

// Layer is a prepared noise layer bound to its primitive.
type Layer struct {
	settings LayerSettings
	clamp    float64
	prim     Primitive
}

// NewLayer validates settings and binds the seeded primitive.
func NewLayer(settings LayerSettings, seed int64) (*Layer, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	prim, err := NewPrimitive(settings.Kind, seed)
	if err != nil {
		return nil, err
	}
	return &Layer{
		settings: settings,
		clamp:    ClampRange(settings.Octaves, settings.Persistence),
		prim:     prim,
	}, nil
}

// NewLayerWithPrimitive binds settings to an existing primitive.
func NewLayerWithPrimitive(settings LayerSettings, prim Primitive) (*Layer, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if prim == nil {
		return nil, fmt.Errorf("noise: nil primitive")
	}
	return &Layer{
		settings: settings,
		clamp:    ClampRange(settings.Octaves, settings.Persistence),
		prim:     prim,
	}, nil
}

// Settings returns the layer's configuration.
func (l *Layer) Settings() LayerSettings {
	return l.settings
}

// Clamp returns the normalisation range of the fractal sum.
func (l *Layer) Clamp() float64 {
	return l.clamp
}

// Fractal returns the octave sum at p normalised into [0, 1].
func (l *Layer) Fractal(p mgl64.Vec3) float64 {
	s := l.settings
	q := p.Mul(1 / s.Scale).Add(s.Offset)

	frequency := 1.0
	amplitude := 1.0
	sum := 0.0
	for i := 0; i < s.Octaves; i++ {
		n := l.prim.Eval(q[0]*frequency, q[1]*frequency, q[2]*frequency)
		sum += (n + 1) * 0.5 * amplitude
		frequency *= s.Lacunarity
		amplitude *= s.Persistence
	}
	if l.clamp == 0 {
		return 0
	}
	return saturate(sum / l.clamp)
}

// Contribution is the signed amount this layer adds to the density at p.
func (l *Layer) Contribution(p mgl64.Vec3) float64 {
	h := SampleCurve(l.settings.Curve, l.Fractal(p)) * l.settings.Power
	if l.settings.Remove {
		return -h
	}
	return h
}

func saturate(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
