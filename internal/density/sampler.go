package density

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"planetcore/internal/kernel"
	"planetcore/internal/lattice"
	"planetcore/internal/noise"
)

// Settings captures everything the density field depends on. Two samplers
// built from equal settings produce bit-identical lattices.
type Settings struct {
	Seed         int64
	Radius       float64
	Center       mgl64.Vec3
	NoiseEnabled bool
	Layers       []noise.LayerSettings
}

// Sampler evaluates the planet density field. It holds no mutable state
// after construction and can be shared by every worker.
type Sampler struct {
	settings Settings
	layers   []*noise.Layer
	pool     *kernel.Pool
}

// NewSampler validates settings and prepares the noise layers. A nil pool
// evaluates lattices on the calling goroutine.
func NewSampler(settings Settings, pool *kernel.Pool) (*Sampler, error) {
	if settings.Radius <= 0 || math.IsNaN(settings.Radius) || math.IsInf(settings.Radius, 0) {
		return nil, fmt.Errorf("density: radius must be positive, got %v", settings.Radius)
	}
	s := &Sampler{settings: settings, pool: pool}
	if !settings.NoiseEnabled {
		return s, nil
	}
	for i, ls := range settings.Layers {
		layer, err := noise.NewLayer(ls, settings.Seed)
		if err != nil {
			return nil, fmt.Errorf("density: layer %d: %w", i, err)
		}
		s.layers = append(s.layers, layer)
	}
	return s, nil
}

// Settings returns the configuration the sampler was built with.
func (s *Sampler) Settings() Settings {
	return s.settings
}

// Base is the bare-sphere term: 1 at the centre, falling linearly to -1 at
// the radius and staying -1 beyond it.
func Base(dist, radius float64) float64 {
	return saturate((dist-radius)/-radius)*2 - 1
}

// Value evaluates the field at one world position.
func (s *Sampler) Value(p mgl64.Vec3) float64 {
	v := Base(p.Sub(s.settings.Center).Len(), s.settings.Radius)
	for _, layer := range s.layers {
		v += layer.Contribution(p)
	}
	return v
}

// Sample fills a lattice of res cubes per axis covering the cube of side
// nodeScale centred on origin.
func (s *Sampler) Sample(origin mgl64.Vec3, nodeScale float64, res int) (*lattice.Lattice, error) {
	if res <= 0 {
		return nil, errors.New("density: resolution must be positive")
	}
	if nodeScale <= 0 {
		return nil, errors.New("density: node scale must be positive")
	}
	out := lattice.New(res)
	s.SampleInto(out, origin, nodeScale)
	return out, nil
}

// SampleInto overwrites every value of dst. dst must already be sized for
// its resolution.
func (s *Sampler) SampleInto(dst *lattice.Lattice, origin mgl64.Vec3, nodeScale float64) {
	res := dst.Res
	side := res + 1
	voxel := nodeScale / float64(res)
	corner := origin.Sub(mgl64.Vec3{nodeScale / 2, nodeScale / 2, nodeScale / 2})
	values := dst.Values

	fill := func(start, end int) {
		for i := start; i < end; i++ {
			x, y, z := lattice.Coords(res, i)
			p := mgl64.Vec3{
				corner[0] + float64(x)*voxel,
				corner[1] + float64(y)*voxel,
				corner[2] + float64(z)*voxel,
			}
			values[i] = s.Value(p)
		}
	}

	if s.pool == nil {
		fill(0, len(values))
		return
	}
	s.pool.ParallelFor(len(values), side*side, fill)
}

// PointPosition returns the world position of lattice point (x, y, z) for a
// node centred on origin.
func PointPosition(origin mgl64.Vec3, nodeScale float64, res, x, y, z int) mgl64.Vec3 {
	voxel := nodeScale / float64(res)
	half := nodeScale / 2
	return mgl64.Vec3{
		origin[0] - half + float64(x)*voxel,
		origin[1] - half + float64(y)*voxel,
		origin[2] - half + float64(z)*voxel,
	}
}

func saturate(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
