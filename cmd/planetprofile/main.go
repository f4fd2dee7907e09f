package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"planetcore/internal/config"
	"planetcore/internal/density"
	"planetcore/internal/kernel"
	"planetcore/internal/marching"
	"planetcore/internal/terraform"
)

type nodeJob struct {
	index  int
	origin mgl64.Vec3
}

func main() {
	var (
		cfgPath       = flag.String("config", "", "planet configuration file (defaults when empty)")
		totalRequests = flag.Int("requests", 500, "number of surface nodes to generate")
		concurrency   = flag.Int("concurrency", runtime.NumCPU(), "number of nodes generated at once")
		level         = flag.Int("level", 1, "octree level of the profiled nodes")
		strokeRadius  = flag.Float64("strokeRadius", 4, "terraform brush radius")
		seed          = flag.Int64("seed", 1337, "random seed for node and stroke placement")
	)
	flag.Parse()

	if *totalRequests <= 0 {
		fmt.Fprintln(os.Stderr, "requests must be positive")
		os.Exit(1)
	}
	if *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "concurrency must be positive")
		os.Exit(1)
	}
	if *level < 1 {
		fmt.Fprintln(os.Stderr, "level must be at least 1")
		os.Exit(1)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	settings, err := cfg.DensitySettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "density settings: %v\n", err)
		os.Exit(1)
	}

	pool := kernel.NewPool(cfg.Kernel.Workers)
	defer pool.Close()
	sampler, err := density.NewSampler(settings, pool)
	if err != nil {
		fmt.Fprintf(os.Stderr, "density sampler: %v\n", err)
		os.Exit(1)
	}
	extractor := marching.NewExtractor(pool)
	opts := cfg.ExtractOptions()

	res := cfg.Tree.Resolution
	scale := cfg.Tree.ChunkSize * math.Pow(2, float64(*level-1))
	center := cfg.Planet.Center.Vec()
	// The bare field is 1 at the centre and falls linearly to -1 at the
	// radius, so it crosses the value gate here.
	surface := cfg.Planet.Radius * (1 - cfg.Surface.ValueGate) / 2

	rng := rand.New(rand.NewSource(*seed))
	jobs := make([]nodeJob, *totalRequests)
	strokes := terraform.NewLog()
	for i := range jobs {
		dir := randomDirection(rng)
		origin := center.Add(dir.Mul(surface))
		jobs[i] = nodeJob{index: i, origin: origin}
		strokes.Append(terraform.Event{
			Point:     origin.Add(dir.Mul(rng.Float64() * scale / 4)),
			Radius:    *strokeRadius,
			Speed:     0.4,
			Add:       rng.Intn(2) == 0,
			DeltaTime: 1.0 / 60,
		})
	}

	queue := make(chan nodeJob)
	go func() {
		defer close(queue)
		for _, job := range jobs {
			queue <- job
		}
	}()

	var (
		wg             sync.WaitGroup
		sampleTotal    int64
		extractTotal   int64
		terraformTotal int64
		triangles      int64
		emptyMeshes    int64
		changed        int64
		failures       int64
	)

	worker := func() {
		defer wg.Done()
		for job := range queue {
			start := time.Now()
			field, err := sampler.Sample(job.origin, scale, res)
			atomic.AddInt64(&sampleTotal, int64(time.Since(start)))
			if err != nil {
				atomic.AddInt64(&failures, 1)
				continue
			}

			// Each node starts at its own stroke so later strokes elsewhere
			// are culled by the box test.
			start = time.Now()
			result := terraform.Apply(pool, terraform.Job{
				Origin:    job.origin,
				Scale:     scale,
				Res:       res,
				Watermark: job.index,
			}, strokes)
			atomic.AddInt64(&terraformTotal, int64(time.Since(start)))
			if result.Changed {
				atomic.AddInt64(&changed, 1)
			}

			var delta []float64
			if result.Overlay != nil {
				delta = result.Overlay.Delta
			}
			start = time.Now()
			mesh, err := extractor.Extract(field, delta, scale/float64(res), opts)
			atomic.AddInt64(&extractTotal, int64(time.Since(start)))
			if err != nil {
				atomic.AddInt64(&failures, 1)
				continue
			}
			if mesh.Empty() {
				atomic.AddInt64(&emptyMeshes, 1)
			}
			atomic.AddInt64(&triangles, int64(mesh.TriangleCount()))
		}
	}

	wg.Add(*concurrency)
	startWall := time.Now()
	for i := 0; i < *concurrency; i++ {
		go worker()
	}
	wg.Wait()
	wallDuration := time.Since(startWall)

	n := int64(*totalRequests)
	fmt.Println("== Planet Kernel Profile ==")
	fmt.Printf("Radius: %.1f, seed: %d, noise layers: %d\n", cfg.Planet.Radius, cfg.Planet.Seed, len(settings.Layers))
	fmt.Printf("Node level: %d (scale %.1f, resolution %d)\n", *level, scale, res)
	fmt.Printf("Requests: %d\n", n)
	fmt.Printf("Concurrency: %d, kernel workers: %d\n", *concurrency, pool.Workers())
	fmt.Printf("Failures: %d\n", atomic.LoadInt64(&failures))
	fmt.Printf("Average density sample: %s\n", time.Duration(sampleTotal/n))
	fmt.Printf("Average terraform apply: %s\n", time.Duration(terraformTotal/n))
	fmt.Printf("Average extraction: %s\n", time.Duration(extractTotal/n))
	fmt.Printf("Wall clock duration: %s\n", wallDuration)
	fmt.Printf("Average triangles per node: %.2f\n", float64(triangles)/float64(n))
	fmt.Printf("Empty meshes: %d\n", emptyMeshes)
	fmt.Printf("Overlays changed by strokes: %d\n", changed)
}

func randomDirection(rng *rand.Rand) mgl64.Vec3 {
	for {
		v := mgl64.Vec3{rng.Float64()*2 - 1, rng.Float64()*2 - 1, rng.Float64()*2 - 1}
		if l := v.Len(); l > 1e-6 && l <= 1 {
			return v.Mul(1 / l)
		}
	}
}
