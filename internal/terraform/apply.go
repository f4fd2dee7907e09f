package terraform

import (
	"math"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"

	"planetcore/internal/density"
	"planetcore/internal/kernel"
	"planetcore/internal/lattice"
)

// Overlay holds per-voxel deltas for one node slot together with the
// number of log events folded into them.
type Overlay struct {
	Res       int
	Watermark int
	Delta     []float64
}

// NewOverlay allocates a zero overlay sized for res cubes per axis.
func NewOverlay(res int) *Overlay {
	return &Overlay{Res: res, Delta: make([]float64, lattice.Size(res))}
}

// Clone returns a deep copy.
func (o *Overlay) Clone() *Overlay {
	if o == nil {
		return nil
	}
	return &Overlay{Res: o.Res, Watermark: o.Watermark, Delta: append([]float64(nil), o.Delta...)}
}

// Job is one node's share of a batched apply.
type Job struct {
	Origin    mgl64.Vec3
	Scale     float64
	Res       int
	Watermark int
	// Overlay may be nil; it is allocated when an event first reaches the node.
	Overlay *Overlay
}

// Result reports what Apply did to a job.
type Result struct {
	Overlay   *Overlay
	Watermark int
	Changed   bool
}

// Weight is the brush falloff: 1 inside 70% of the radius, smoothly
// decaying to 0 at the radius, and 0 beyond it.
func Weight(radius, dist float64) float64 {
	if dist >= radius {
		return 0
	}
	return smoothstep(radius, 0.7*radius, dist)
}

func smoothstep(edge0, edge1, x float64) float64 {
	t := (x - edge0) / (edge1 - edge0)
	t = math.Max(0, math.Min(1, t))
	return t * t * (3 - 2*t)
}

// Step is the signed delta one event adds at full weight.
func Step(e Event) float64 {
	sign := 1.0
	if !e.Add {
		sign = -1
	}
	return -e.Speed * e.DeltaTime * sign
}

// Apply folds every log event at or after job.Watermark into the job's
// overlay and advances the watermark to the log length. Each voxel sums its
// events in log order, so applying a log in several batches gives the same
// overlay as applying it at once.
func Apply(pool *kernel.Pool, job Job, log *Log) Result {
	result := Result{Overlay: job.Overlay, Watermark: job.Watermark}
	target := log.Len()
	if job.Watermark >= target {
		return result
	}
	result.Watermark = target

	half := job.Scale / 2
	lo := job.Origin.Sub(mgl64.Vec3{half, half, half})
	hi := job.Origin.Add(mgl64.Vec3{half, half, half})

	var touching []Event
	for _, e := range log.Since(job.Watermark) {
		if distSqToBox(e.Point, lo, hi) < e.Radius*e.Radius {
			touching = append(touching, e)
		}
	}
	if len(touching) == 0 {
		if result.Overlay != nil {
			result.Overlay.Watermark = target
		}
		return result
	}

	overlay := result.Overlay
	if overlay == nil {
		overlay = NewOverlay(job.Res)
	}
	var changed atomic.Bool
	delta := overlay.Delta
	res := job.Res

	run := func(start, end int) {
		touched := false
		for i := start; i < end; i++ {
			x, y, z := lattice.Coords(res, i)
			p := density.PointPosition(job.Origin, job.Scale, res, x, y, z)
			for _, e := range touching {
				d := p.Sub(e.Point).Len()
				w := Weight(e.Radius, d)
				if w == 0 {
					continue
				}
				step := Step(e) * w
				if step != 0 {
					delta[i] += step
					touched = true
				}
			}
		}
		if touched {
			changed.Store(true)
		}
	}
	side := res + 1
	if pool == nil {
		run(0, len(delta))
	} else {
		pool.ParallelFor(len(delta), side*side, run)
	}

	overlay.Watermark = target
	result.Overlay = overlay
	result.Changed = changed.Load()
	return result
}

// ApplyBatch runs Apply for each job in order.
func ApplyBatch(pool *kernel.Pool, jobs []Job, log *Log) []Result {
	results := make([]Result, len(jobs))
	for i, job := range jobs {
		results[i] = Apply(pool, job, log)
	}
	return results
}

func distSqToBox(p, lo, hi mgl64.Vec3) float64 {
	total := 0.0
	for axis := 0; axis < 3; axis++ {
		v := p[axis]
		if v < lo[axis] {
			d := lo[axis] - v
			total += d * d
		} else if v > hi[axis] {
			d := v - hi[axis]
			total += d * d
		}
	}
	return total
}
