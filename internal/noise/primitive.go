package noise

import (
	"fmt"

	"github.com/aquilax/go-perlin"
	"github.com/ojrac/opensimplex-go"
)

// Kind selects the coherent noise primitive a layer samples.
type Kind string

const (
	KindPerlin  Kind = "perlin"
	KindSimplex Kind = "simplex"
)

// Primitive is a coherent 3D gradient noise returning values in roughly
// [-1, 1]. Implementations must be safe for concurrent reads.
type Primitive interface {
	Eval(x, y, z float64) float64
}

type perlinPrimitive struct {
	p *perlin.Perlin
}

func (p perlinPrimitive) Eval(x, y, z float64) float64 {
	return p.p.Noise3D(x, y, z)
}

type simplexPrimitive struct {
	n opensimplex.Noise
}

func (s simplexPrimitive) Eval(x, y, z float64) float64 {
	return s.n.Eval3(x, y, z)
}

// NewPrimitive builds the primitive for kind. Octaves are summed by Layer, so
// the Perlin generator is configured for a single octave.
func NewPrimitive(kind Kind, seed int64) (Primitive, error) {
	switch kind {
	case KindPerlin, "":
		return perlinPrimitive{p: perlin.NewPerlin(2, 2, 1, seed)}, nil
	case KindSimplex:
		return simplexPrimitive{n: opensimplex.New(seed)}, nil
	default:
		return nil, fmt.Errorf("noise: unknown primitive %q", kind)
	}
}
