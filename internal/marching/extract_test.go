package marching

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"

	"planetcore/internal/kernel"
	"planetcore/internal/lattice"
)

func fill(res int, origin mgl64.Vec3, scale float64, f func(p mgl64.Vec3) float64) *lattice.Lattice {
	l := lattice.New(res)
	voxel := scale / float64(res)
	for i := range l.Values {
		x, y, z := lattice.Coords(res, i)
		p := mgl64.Vec3{
			origin[0] - scale/2 + float64(x)*voxel,
			origin[1] - scale/2 + float64(y)*voxel,
			origin[2] - scale/2 + float64(z)*voxel,
		}
		l.Values[i] = f(p)
	}
	return l
}

func sphereField(center mgl64.Vec3, radius float64) func(mgl64.Vec3) float64 {
	return func(p mgl64.Vec3) float64 {
		t := (p.Sub(center).Len() - radius) / -radius
		t = math.Max(0, math.Min(1, t))
		return t*2 - 1
	}
}

func defaultOptions() Options {
	return Options{ValueGate: 0.15, CreateGate: math.NaN()}
}

func TestUniformLatticeYieldsNoTriangles(t *testing.T) {
	tests := []struct {
		name  string
		value float64
	}{
		{name: "all inside", value: 1},
		{name: "all outside", value: -1},
		{name: "exactly on gate", value: 0.15},
	}
	extractor := NewExtractor(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := lattice.New(8)
			for i := range l.Values {
				l.Values[i] = tt.value
			}
			mesh, err := extractor.Extract(l, nil, 1, defaultOptions())
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if !mesh.Empty() || mesh.TriangleCount() != 0 {
				t.Fatalf("expected no triangles, got %d", mesh.TriangleCount())
			}
		})
	}
}

func TestSphereProducesOutwardTriangles(t *testing.T) {
	l := fill(16, mgl64.Vec3{}, 32, sphereField(mgl64.Vec3{}, 20))
	mesh, err := NewExtractor(nil).Extract(l, nil, 2, defaultOptions())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if mesh.Empty() {
		t.Fatalf("expected a surface")
	}
	if len(mesh.Indices)%3 != 0 {
		t.Fatalf("index count %d not a multiple of 3", len(mesh.Indices))
	}
	for tri := 0; tri < mesh.TriangleCount(); tri++ {
		a := mesh.Vertices[mesh.Indices[tri*3]]
		b := mesh.Vertices[mesh.Indices[tri*3+1]]
		c := mesh.Vertices[mesh.Indices[tri*3+2]]
		n := b.Sub(a).Cross(c.Sub(a))
		centroid := a.Add(b).Add(c).Mul(1.0 / 3)
		if n.Dot(centroid) <= 0 {
			t.Fatalf("triangle %d faces inward", tri)
		}
	}
	for i, n := range mesh.Normals {
		if l := n.Len(); l != 0 && math.Abs(float64(l)-1) > 1e-4 {
			t.Fatalf("normal %d not unit length: %v", i, l)
		}
	}
}

func TestSharedFaceVerticesAgree(t *testing.T) {
	field := func(p mgl64.Vec3) float64 {
		return 5 - p.Sub(mgl64.Vec3{0.3, 0.7, 0.2}).Len()
	}
	opts := Options{ValueGate: 0, CreateGate: math.NaN()}
	left := mgl64.Vec3{-8, 0, 0}
	right := mgl64.Vec3{8, 0, 0}

	extractor := NewExtractor(nil)
	a, err := extractor.Extract(fill(8, left, 16, field), nil, 2, opts)
	if err != nil {
		t.Fatalf("extract left: %v", err)
	}
	a.Origin = left
	b, err := extractor.Extract(fill(8, right, 16, field), nil, 2, opts)
	if err != nil {
		t.Fatalf("extract right: %v", err)
	}
	b.Origin = right

	onFace := func(m *Mesh) []mgl64.Vec3 {
		var out []mgl64.Vec3
		for i := range m.Vertices {
			w := m.WorldVertex(i)
			if math.Abs(w[0]) < 1e-5 {
				out = append(out, w)
			}
		}
		return out
	}
	fa, fb := onFace(a), onFace(b)
	if len(fa) == 0 || len(fb) == 0 {
		t.Fatalf("expected vertices on the shared face, got %d and %d", len(fa), len(fb))
	}
	matches := func(p mgl64.Vec3, set []mgl64.Vec3) bool {
		for _, q := range set {
			if p.Sub(q).Len() < 1e-5 {
				return true
			}
		}
		return false
	}
	for _, p := range fa {
		if !matches(p, fb) {
			t.Fatalf("left vertex %v has no partner on the right", p)
		}
	}
	for _, p := range fb {
		if !matches(p, fa) {
			t.Fatalf("right vertex %v has no partner on the left", p)
		}
	}
}

func TestOverlayShiftsSurface(t *testing.T) {
	l := lattice.New(4)
	for i := range l.Values {
		l.Values[i] = 1
	}
	overlay := make([]float64, len(l.Values))
	overlay[lattice.Index(4, 2, 2, 2)] = -2
	mesh, err := NewExtractor(nil).Extract(l, overlay, 1, defaultOptions())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	// A single dug-out point is enclosed by 8 cubes with one triangle each.
	if mesh.TriangleCount() != 8 {
		t.Fatalf("expected 8 triangles around the carved point, got %d", mesh.TriangleCount())
	}

	if _, err := NewExtractor(nil).Extract(l, overlay[:5], 1, defaultOptions()); err == nil {
		t.Fatalf("expected mismatched overlay to be rejected")
	}
}

func TestCreateGateSkipsCubes(t *testing.T) {
	// A wall between x=3 and x=4: every crossing cube starts at x=3 where
	// the field is exactly 1.
	l := lattice.New(8)
	for i := range l.Values {
		x, _, _ := lattice.Coords(8, i)
		if x <= 3 {
			l.Values[i] = 1
		} else {
			l.Values[i] = -1
		}
	}
	open, err := NewExtractor(nil).Extract(l, nil, 1, defaultOptions())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if open.Empty() {
		t.Fatalf("expected surface without create gate")
	}

	opts := defaultOptions()
	opts.CreateGate = 1
	gated, err := NewExtractor(nil).Extract(l, nil, 1, opts)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !gated.Empty() {
		t.Fatalf("create gate should skip every crossing cube, got %d triangles", gated.TriangleCount())
	}
}

func TestParallelExtractionMatchesSerial(t *testing.T) {
	l := fill(16, mgl64.Vec3{}, 32, sphereField(mgl64.Vec3{1, 2, 3}, 20))
	pool := kernel.NewPool(4)
	defer pool.Close()

	serial, err := NewExtractor(nil).Extract(l, nil, 2, defaultOptions())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	parallel, err := NewExtractor(pool).Extract(l, nil, 2, defaultOptions())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(serial.Vertices) != len(parallel.Vertices) {
		t.Fatalf("vertex counts differ: %d vs %d", len(serial.Vertices), len(parallel.Vertices))
	}
	for i := range serial.Vertices {
		if serial.Vertices[i] != parallel.Vertices[i] {
			t.Fatalf("vertex %d differs", i)
		}
	}
}

func TestWeldSharesVertices(t *testing.T) {
	l := fill(16, mgl64.Vec3{}, 32, sphereField(mgl64.Vec3{}, 20))
	opts := defaultOptions()
	faceted, err := NewExtractor(nil).Extract(l, nil, 2, opts)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	opts.Smooth = true
	opts.WeldEpsilon = 1e-4
	smooth, err := NewExtractor(nil).Extract(l, nil, 2, opts)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(smooth.Vertices) >= len(faceted.Vertices) {
		t.Fatalf("welding should reduce vertices: %d >= %d", len(smooth.Vertices), len(faceted.Vertices))
	}
	if smooth.TriangleCount() == 0 || smooth.TriangleCount() > faceted.TriangleCount() {
		t.Fatalf("unexpected triangle count %d (faceted %d)", smooth.TriangleCount(), faceted.TriangleCount())
	}
	for _, idx := range smooth.Indices {
		if int(idx) >= len(smooth.Vertices) {
			t.Fatalf("index %d out of range", idx)
		}
	}
	if len(smooth.Normals) != len(smooth.Vertices) {
		t.Fatalf("expected one normal per vertex")
	}
}

func TestComputeNormalsSkipsDegenerateTriangles(t *testing.T) {
	vertices := []mgl32.Vec3{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}}
	normals := ComputeNormals(vertices, []uint32{0, 1, 2})
	for i, n := range normals {
		if n != (mgl32.Vec3{}) {
			t.Fatalf("normal %d should stay zero, got %v", i, n)
		}
	}
}

func TestScatterIsDeterministic(t *testing.T) {
	l := fill(16, mgl64.Vec3{}, 32, sphereField(mgl64.Vec3{}, 20))
	mesh, err := NewExtractor(nil).Extract(l, nil, 2, defaultOptions())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	opts := ScatterOptions{Density: 0.5, MinUpright: 0.5, Seed: 9}
	first := Scatter(mesh, mgl64.Vec3{}, opts)
	second := Scatter(mesh, mgl64.Vec3{}, opts)
	if len(first) == 0 {
		t.Fatalf("expected placements")
	}
	if len(first) != len(second) {
		t.Fatalf("placement counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("placement %d differs", i)
		}
		if first[i].Position.Len() > 20 {
			t.Fatalf("placement %d off the surface: %v", i, first[i].Position)
		}
	}
}
