package marching

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const defaultWeldEpsilon = 1e-4

type weldKey [3]int64

// Weld merges vertices that quantise to the same epsilon cell, rebuilds the
// index list against the merged set, drops triangles that collapse, and
// recomputes smooth normals.
func Weld(m *Mesh, epsilon float64) *Mesh {
	if epsilon <= 0 {
		epsilon = defaultWeldEpsilon
	}
	inv := 1 / epsilon

	lookup := make(map[weldKey]uint32, len(m.Vertices)/2)
	remap := make([]uint32, len(m.Vertices))
	vertices := make([]mgl32.Vec3, 0, len(m.Vertices)/2)
	for i, v := range m.Vertices {
		key := weldKey{
			int64(math.Round(float64(v[0]) * inv)),
			int64(math.Round(float64(v[1]) * inv)),
			int64(math.Round(float64(v[2]) * inv)),
		}
		idx, ok := lookup[key]
		if !ok {
			idx = uint32(len(vertices))
			lookup[key] = idx
			vertices = append(vertices, v)
		}
		remap[i] = idx
	}

	indices := make([]uint32, 0, len(m.Indices))
	for t := 0; t+2 < len(m.Indices); t += 3 {
		a, b, c := remap[m.Indices[t]], remap[m.Indices[t+1]], remap[m.Indices[t+2]]
		if a == b || b == c || a == c {
			continue
		}
		indices = append(indices, a, b, c)
	}

	return &Mesh{
		Origin:   m.Origin,
		Vertices: vertices,
		Normals:  ComputeNormals(vertices, indices),
		Indices:  indices,
	}
}
