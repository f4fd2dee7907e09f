package marching

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
)

// Placement is one decoration instance on the surface, in world space.
type Placement struct {
	Position mgl64.Vec3
	Normal   mgl32.Vec3
}

// ScatterOptions tunes decoration placement.
type ScatterOptions struct {
	// Density is the expected number of placements per square world unit.
	Density float64
	// MinUpright rejects triangles whose normal makes a smaller cosine with
	// the planet's local up direction.
	MinUpright float64
	Seed       int64
	Limit      int
}

// Scatter picks deterministic points on the mesh surface. The same mesh,
// center and options always yield the same placements.
func Scatter(m *Mesh, center mgl64.Vec3, opts ScatterOptions) []Placement {
	if m.Empty() || opts.Density <= 0 {
		return nil
	}
	var out []Placement
	for t := 0; t+2 < len(m.Indices); t += 3 {
		a := m.WorldVertex(int(m.Indices[t]))
		b := m.WorldVertex(int(m.Indices[t+1]))
		c := m.WorldVertex(int(m.Indices[t+2]))

		cross := b.Sub(a).Cross(c.Sub(a))
		area := cross.Len() / 2
		if area == 0 {
			continue
		}
		normal := cross.Mul(1 / (2 * area))
		centroid := a.Add(b).Add(c).Mul(1.0 / 3)
		up := centroid.Sub(center)
		if up.Len() == 0 {
			continue
		}
		if normal.Dot(up.Normalize()) < opts.MinUpright {
			continue
		}

		rng := newDeterministicRNG(t, len(m.Indices), opts.Seed^int64(math.Float64bits(centroid[0])))
		expected := area * opts.Density
		count := int(expected)
		if rng.unit() < expected-float64(count) {
			count++
		}
		for i := 0; i < count; i++ {
			u, v := rng.unit(), rng.unit()
			if u+v > 1 {
				u, v = 1-u, 1-v
			}
			p := a.Add(b.Sub(a).Mul(u)).Add(c.Sub(a).Mul(v))
			out = append(out, Placement{
				Position: p,
				Normal:   mgl32.Vec3{float32(normal[0]), float32(normal[1]), float32(normal[2])},
			})
			if opts.Limit > 0 && len(out) >= opts.Limit {
				return out
			}
		}
	}
	return out
}

type deterministicRNG struct {
	state uint64
}

func newDeterministicRNG(x, y int, seed int64) *deterministicRNG {
	state := uint64(uint32(x))<<32 ^ uint64(uint32(y))<<1 ^ uint64(seed)
	if state == 0 {
		state = 0x9e3779b97f4a7c15
	}
	return &deterministicRNG{state: state}
}

func (r *deterministicRNG) next() uint64 {
	r.state ^= r.state << 7
	r.state ^= r.state >> 9
	r.state ^= r.state << 8
	return r.state
}

func (r *deterministicRNG) unit() float64 {
	return float64(r.next()>>11) / (1 << 53)
}
