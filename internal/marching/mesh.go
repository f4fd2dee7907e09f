package marching

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
)

// Mesh is an indexed triangle list. Vertices are relative to Origin, the
// world position of the node the mesh was extracted for.
type Mesh struct {
	Origin   mgl64.Vec3
	Vertices []mgl32.Vec3
	Normals  []mgl32.Vec3
	Indices  []uint32
}

// Empty reports whether the mesh has no triangles.
func (m *Mesh) Empty() bool {
	return m == nil || len(m.Indices) == 0
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	if m == nil {
		return 0
	}
	return len(m.Indices) / 3
}

// WorldVertex returns vertex i in world space.
func (m *Mesh) WorldVertex(i int) mgl64.Vec3 {
	v := m.Vertices[i]
	return mgl64.Vec3{
		m.Origin[0] + float64(v[0]),
		m.Origin[1] + float64(v[1]),
		m.Origin[2] + float64(v[2]),
	}
}

// ComputeNormals accumulates each triangle's face normal onto its three
// vertices and normalises the sums. Vertices touched only by degenerate
// triangles keep a zero normal.
func ComputeNormals(vertices []mgl32.Vec3, indices []uint32) []mgl32.Vec3 {
	normals := make([]mgl32.Vec3, len(vertices))
	for t := 0; t+2 < len(indices); t += 3 {
		a, b, c := indices[t], indices[t+1], indices[t+2]
		face := vertices[b].Sub(vertices[a]).Cross(vertices[c].Sub(vertices[a]))
		normals[a] = normals[a].Add(face)
		normals[b] = normals[b].Add(face)
		normals[c] = normals[c].Add(face)
	}
	for i, n := range normals {
		if n.Len() > 0 {
			normals[i] = n.Normalize()
		}
	}
	return normals
}
