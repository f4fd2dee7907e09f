package marching

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"planetcore/internal/kernel"
	"planetcore/internal/lattice"
)

// createTolerance is how close a cube's first corner must be to the create
// gate for the whole cube to be skipped.
const createTolerance = 1e-3

// Options controls one extraction.
type Options struct {
	// ValueGate is the isosurface threshold. Corners below it count as
	// outside the terrain.
	ValueGate float64
	// CreateGate skips every cube whose first corner sits within 1e-3 of it.
	// NaN disables the check.
	CreateGate float64
	// Smooth welds coincident vertices and averages their normals.
	Smooth      bool
	WeldEpsilon float64
}

// Extractor runs marching cubes over lattices. It is safe for concurrent use
// as long as the pool is.
type Extractor struct {
	pool    *kernel.Pool
	scratch *kernel.Scratch[mgl32.Vec3]
}

// NewExtractor returns an extractor that fans slabs out over pool. A nil
// pool extracts on the calling goroutine.
func NewExtractor(pool *kernel.Pool) *Extractor {
	return &Extractor{pool: pool, scratch: kernel.NewScratch[mgl32.Vec3]()}
}

// Extract converts field+overlay into a triangle mesh centred on the node.
// overlay may be nil; otherwise it must match the field length. A mesh
// with no triangles is a normal result.
func (e *Extractor) Extract(field *lattice.Lattice, overlay []float64, voxelScale float64, opts Options) (*Mesh, error) {
	if err := field.Validate(); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	if overlay != nil && len(overlay) != len(field.Values) {
		return nil, fmt.Errorf("extract: overlay has %d values, lattice has %d", len(overlay), len(field.Values))
	}
	if voxelScale <= 0 {
		return nil, errors.New("extract: voxel scale must be positive")
	}

	res := field.Res
	slabs := make([]*kernel.Buffer[mgl32.Vec3], res)
	run := func(start, end int) {
		for z := start; z < end; z++ {
			buf := e.scratch.Acquire(0)
			buf.Data = e.extractSlab(buf.Data, field, overlay, z, voxelScale, opts)
			slabs[z] = buf
		}
	}
	if e.pool == nil {
		run(0, res)
	} else {
		e.pool.ParallelFor(res, 1, run)
	}

	total := 0
	for _, s := range slabs {
		total += len(s.Data)
	}
	vertices := make([]mgl32.Vec3, 0, total)
	for _, s := range slabs {
		vertices = append(vertices, s.Data...)
		s.Release()
	}

	indices := make([]uint32, len(vertices))
	for i := range indices {
		indices[i] = uint32(i)
	}

	mesh := &Mesh{Vertices: vertices, Indices: indices}
	if opts.Smooth && len(vertices) > 0 {
		mesh = Weld(mesh, opts.WeldEpsilon)
		return mesh, nil
	}
	mesh.Normals = ComputeNormals(mesh.Vertices, mesh.Indices)
	return mesh, nil
}

func (e *Extractor) extractSlab(out []mgl32.Vec3, field *lattice.Lattice, overlay []float64, z int, voxelScale float64, opts Options) []mgl32.Vec3 {
	res := field.Res
	half := float64(res) * voxelScale / 2
	checkCreate := !math.IsNaN(opts.CreateGate)

	var (
		cornerIdx [8]int
		cornerVal [8]float64
	)
	for y := 0; y < res; y++ {
		for x := 0; x < res; x++ {
			for i, off := range cornerOffsets {
				idx := lattice.Index(res, x+off[0], y+off[1], z+off[2])
				cornerIdx[i] = idx
				v := field.Values[idx]
				if overlay != nil {
					v += overlay[idx]
				}
				cornerVal[i] = v
			}
			if checkCreate && math.Abs(cornerVal[0]-opts.CreateGate) < createTolerance {
				continue
			}

			config := 0
			for i, v := range cornerVal {
				if v < opts.ValueGate {
					config |= 1 << i
				}
			}
			if config == 0 || config == 255 {
				continue
			}

			row := &triangleTable[config]
			for k := 0; k < len(row) && row[k] >= 0; k++ {
				pair := edgeCorners[row[k]]
				a, b := pair[0], pair[1]
				// Interpolate from the lower lattice point so cubes sharing
				// an edge compute the same crossing.
				if cornerIdx[b] < cornerIdx[a] {
					a, b = b, a
				}
				t := 0.0
				if sa, sb := cornerVal[a], cornerVal[b]; sa != sb {
					t = (opts.ValueGate - sa) / (sb - sa)
				}
				oa, ob := cornerOffsets[a], cornerOffsets[b]
				px := float64(x+oa[0]) + t*float64(ob[0]-oa[0])
				py := float64(y+oa[1]) + t*float64(ob[1]-oa[1])
				pz := float64(z+oa[2]) + t*float64(ob[2]-oa[2])
				out = append(out, mgl32.Vec3{
					float32(px*voxelScale - half),
					float32(py*voxelScale - half),
					float32(pz*voxelScale - half),
				})
			}
		}
	}
	return out
}
