package planet

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"planetcore/internal/config"
	"planetcore/internal/density"
	"planetcore/internal/journal"
	"planetcore/internal/kernel"
	"planetcore/internal/marching"
	"planetcore/internal/metrics"
	"planetcore/internal/octree"
	"planetcore/internal/storage"
	"planetcore/internal/terraform"
)

// Deps are the collaborators a planet is wired to. Every field is optional.
type Deps struct {
	// Store holds overlays of destroyed nodes. Defaults to an in-memory store.
	Store storage.OverlayStore
	// Journal records every appended terraform event.
	Journal *journal.Writer
	// Events seeds the log, e.g. from journal.Replay.
	Events []terraform.Event

	Meshes      MeshSink
	Collision   CollisionSink
	Decorations DecorationSink

	Metrics *metrics.Planet
	Logger  *log.Logger
	// Pool runs the kernels. When nil the planet owns a pool sized by
	// kernel.workers and closes it in Close.
	Pool *kernel.Pool
}

// TickReport summarises one Tick.
type TickReport struct {
	Walked      bool
	Splits      int
	Merges      int
	Generated   int
	EmptyMeshes int
	Terraformed int
	Stale       int

	PendingGenerations int
	PendingTerraforms  int

	// Err is the first storage error hit during the tick. The tree stays
	// consistent; the affected overlay is retried on the next flush.
	Err error
}

// Planet is the LOD scheduler. All methods must be called from one
// goroutine; only the kernels fan out.
type Planet struct {
	cfg    *config.Config
	logger *log.Logger

	tree      *octree.Tree
	sampler   *density.Sampler
	extractor *marching.Extractor
	pool      *kernel.Pool
	ownsPool  bool
	opts      marching.Options

	events  *terraform.Log
	store   storage.OverlayStore
	journal *journal.Writer

	meshes      MeshSink
	collision   CollisionSink
	decorations DecorationSink
	metrics     *metrics.Planet

	generation *Queue
	terraform  *Queue

	lastWalk mgl64.Vec3
	walked   bool
	elapsed  float64
}

// New validates cfg, builds the kernels and creates the root node with its
// generation request queued.
func New(cfg *config.Config, deps Deps) (*Planet, error) {
	if cfg == nil {
		return nil, errors.New("planet: config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("planet: %w", err)
	}
	settings, err := cfg.DensitySettings()
	if err != nil {
		return nil, fmt.Errorf("planet: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "planet ", log.LstdFlags|log.Lmicroseconds)
	}
	pool := deps.Pool
	ownsPool := false
	if pool == nil {
		pool = kernel.NewPool(cfg.Kernel.Workers)
		ownsPool = true
	}
	sampler, err := density.NewSampler(settings, pool)
	if err != nil {
		if ownsPool {
			pool.Close()
		}
		return nil, fmt.Errorf("planet: %w", err)
	}
	tree, err := octree.NewTree(cfg.Tree.Divisions, cfg.Tree.ChunkSize, cfg.Planet.Center.Vec())
	if err != nil {
		if ownsPool {
			pool.Close()
		}
		return nil, fmt.Errorf("planet: %w", err)
	}

	p := &Planet{
		cfg:         cfg,
		logger:      logger,
		tree:        tree,
		sampler:     sampler,
		extractor:   marching.NewExtractor(pool),
		pool:        pool,
		ownsPool:    ownsPool,
		opts:        cfg.ExtractOptions(),
		events:      terraform.NewLog(),
		store:       deps.Store,
		journal:     deps.Journal,
		meshes:      deps.Meshes,
		collision:   deps.Collision,
		decorations: deps.Decorations,
		metrics:     deps.Metrics,
		generation:  NewQueue(),
		terraform:   NewQueue(),
	}
	if p.store == nil {
		p.store = storage.NewMemoryStore()
	}
	if p.meshes == nil {
		p.meshes = nopSink{}
	}
	if p.collision == nil {
		p.collision = nopSink{}
	}
	if p.decorations == nil {
		p.decorations = nopSink{}
	}

	for _, e := range deps.Events {
		if e.Seq != p.events.Len() {
			p.Close()
			return nil, fmt.Errorf("planet: replayed event has sequence %d, expected %d", e.Seq, p.events.Len())
		}
		p.events.Append(e)
	}

	if err := p.adopt(tree.Root); err != nil {
		p.Close()
		return nil, err
	}
	p.enqueueGeneration(Request{Node: tree.Root}, false)

	logger.Printf("planet ready: radius=%.1f divisions=%d chunkSize=%.1f resolution=%d events=%d workers=%d",
		cfg.Planet.Radius, cfg.Tree.Divisions, cfg.Tree.ChunkSize, cfg.Tree.Resolution, p.events.Len(), pool.Workers())
	return p, nil
}

// Tree exposes the octree for inspection.
func (p *Planet) Tree() *octree.Tree {
	return p.tree
}

// Events returns the number of terraform events in the log.
func (p *Planet) Events() int {
	return p.events.Len()
}

// Terraform appends one brush stroke to the log. Its effect shows up after
// the next terraform batch and regeneration.
func (p *Planet) Terraform(point mgl64.Vec3, radius, speed float64, add bool, dt float64) error {
	e := terraform.Event{
		Point:     point,
		Radius:    radius,
		Speed:     speed / p.cfg.Terraform.GroundToughness,
		Add:       add,
		DeltaTime: dt,
	}
	if err := e.Validate(); err != nil {
		return err
	}
	e = p.events.Append(e)
	p.metrics.IncEvents()
	if p.journal != nil {
		if err := p.journal.Write(e); err != nil {
			return fmt.Errorf("journal event %d: %w", e.Seq, err)
		}
	}
	return nil
}

// Tick advances the scheduler by one frame: walk the tree for splits and
// merges, drain the generation queue, then apply one terraform batch.
func (p *Planet) Tick(dt float64, viewer mgl64.Vec3) TickReport {
	start := time.Now()
	p.elapsed += dt
	var report TickReport

	if !p.walked || viewer.Sub(p.lastWalk).Len() >= p.cfg.Scheduler.UpdateDistance {
		p.walk(viewer, &report)
		p.lastWalk = viewer
		p.walked = true
		report.Walked = true
	}
	p.drainGeneration(&report)
	p.applyTerraform(&report)

	report.PendingGenerations = p.generation.Len()
	report.PendingTerraforms = p.terraform.Len()

	p.metrics.AddSplits(report.Splits)
	p.metrics.AddMerges(report.Merges)
	p.metrics.SetQueueDepth(metrics.QueueGeneration, report.PendingGenerations)
	p.metrics.SetQueueDepth(metrics.QueueTerraform, report.PendingTerraforms)
	p.metrics.SetNodes(p.tree.Count())
	p.metrics.ObserveTick(time.Since(start))

	if report.Err != nil {
		p.logger.Printf("tick at %.2fs: %v", p.elapsed, report.Err)
	}
	return report
}

// Close writes every live overlay to the store and stops an owned pool.
// The store and journal stay open; they belong to the caller.
func (p *Planet) Close() error {
	var first error
	if p.tree != nil {
		p.tree.Root.Walk(func(n *octree.Node) bool {
			if err := p.flushOverlay(n); err != nil && first == nil {
				first = err
			}
			return true
		})
	}
	if p.ownsPool && p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	return first
}

// splitDistance is the viewer distance under which a leaf splits.
func (p *Planet) splitDistance(n *octree.Node) float64 {
	s := p.cfg.Scheduler
	return p.cfg.Tree.ChunkSize*s.SplitMultiplier + s.SplitRadius*n.Scale()
}

func (p *Planet) walk(viewer mgl64.Vec3, report *TickReport) {
	s := p.cfg.Scheduler
	var visit func(n *octree.Node, depth int)
	visit = func(n *octree.Node, depth int) {
		if n.Level > 1 {
			dist := viewer.Sub(n.Position()).Len()
			limit := p.splitDistance(n)
			switch {
			case n.IsLeaf():
				if dist < limit && report.Splits < s.MaxSplitsPerTick && depth < s.MaxCreationDepth {
					if err := p.split(n); err != nil {
						p.recordErr(report, err)
						return
					}
					report.Splits++
					for _, child := range n.Children {
						visit(child, depth+1)
					}
				}
				return
			case dist >= limit*s.MergeHysteresis:
				if err := p.merge(n); err != nil {
					p.recordErr(report, err)
				}
				report.Merges++
				return
			}
		}
		for _, child := range n.Children {
			visit(child, depth)
		}
	}
	visit(p.tree.Root, 0)
}

// split creates the children and queues their generation. The parent keeps
// its published mesh until the children cover it.
func (p *Planet) split(n *octree.Node) error {
	children, err := n.Split()
	if err != nil {
		return err
	}
	var first error
	for _, child := range children {
		if err := p.adopt(child); err != nil && first == nil {
			first = err
		}
		p.enqueueGeneration(Request{Parent: n, Node: child}, false)
	}
	return first
}

// merge destroys n's descendants depth-first and queues n to be rebuilt
// ahead of everything else.
func (p *Planet) merge(n *octree.Node) error {
	var first error
	n.Collapse(func(c *octree.Node) {
		if err := p.flushOverlay(c); err != nil && first == nil {
			first = err
		}
		p.release(c)
	})
	dead := func(r Request) bool { return !r.Node.Alive() }
	p.generation.RemoveFunc(dead)
	p.terraform.RemoveFunc(dead)

	n.State = octree.Empty
	n.Queued = false
	p.enqueueGeneration(Request{Node: n}, true)
	return first
}

// adopt restores a new node's overlay from the store.
func (p *Planet) adopt(n *octree.Node) error {
	overlay, ok, err := p.store.Load(n.Position())
	if err != nil {
		return fmt.Errorf("load overlay at %v: %w", n.Position(), err)
	}
	if !ok {
		return nil
	}
	if overlay.Res != p.cfg.Tree.Resolution {
		p.logger.Printf("discarding overlay at %v: resolution %d, want %d", n.Position(), overlay.Res, p.cfg.Tree.Resolution)
		return nil
	}
	// Without a journal the log restarts empty while stored deltas already
	// hold the old events. Keep the deltas and treat them as current.
	if overlay.Watermark > p.events.Len() {
		p.logger.Printf("overlay at %v has watermark %d beyond log length %d, clamping", n.Position(), overlay.Watermark, p.events.Len())
		overlay.Watermark = p.events.Len()
	}
	n.Overlay = overlay
	n.Watermark = overlay.Watermark
	return nil
}

func (p *Planet) flushOverlay(n *octree.Node) error {
	if n.Overlay == nil {
		return nil
	}
	n.Overlay.Watermark = n.Watermark
	if err := p.store.Save(n.Position(), n.Overlay); err != nil {
		return fmt.Errorf("save overlay at %v: %w", n.Position(), err)
	}
	return nil
}

func (p *Planet) enqueueGeneration(req Request, front bool) {
	if req.Node.Queued {
		return
	}
	req.Node.Queued = true
	if front {
		p.generation.PushFront(req)
		return
	}
	p.generation.Enqueue(req)
}

func (p *Planet) drainGeneration(report *TickReport) {
	budget := p.cfg.Scheduler.MaxGenerationsPerTick
	for report.Generated < budget && p.generation.Len() > 0 {
		req := p.generation.Drain(1)[0]
		n := req.Node
		n.Queued = false
		if !n.Alive() || !n.IsLeaf() {
			continue
		}
		if err := p.generate(n, report); err != nil {
			p.recordErr(report, err)
			continue
		}
		report.Generated++
		p.uncover(n)
	}
}

// generate samples (or reuses) the node's lattice, folds in any events it
// has not seen, extracts the mesh and hands it to the sinks.
func (p *Planet) generate(n *octree.Node, report *TickReport) error {
	previous := n.State
	n.State = octree.Generating
	origin := n.Position()
	scale := n.Scale()
	res := p.cfg.Tree.Resolution

	if n.Lattice == nil {
		start := time.Now()
		field, err := p.sampler.Sample(origin, scale, res)
		p.metrics.ObserveKernel(metrics.KernelDensity, time.Since(start))
		if err != nil {
			n.State = previous
			return fmt.Errorf("sample node at %v: %w", origin, err)
		}
		n.Lattice = field
	}

	if n.Watermark < p.events.Len() {
		p.applyJobs([]*octree.Node{n})
	}

	var delta []float64
	if n.Overlay != nil {
		delta = n.Overlay.Delta
	}
	start := time.Now()
	mesh, err := p.extractor.Extract(n.Lattice, delta, scale/float64(res), p.opts)
	p.metrics.ObserveKernel(metrics.KernelExtract, time.Since(start))
	if err != nil {
		n.State = previous
		return fmt.Errorf("extract node at %v: %w", origin, err)
	}
	mesh.Origin = origin
	n.State = octree.Generated

	key := keyOf(n)
	if mesh.Empty() {
		n.Mesh = nil
		report.EmptyMeshes++
		p.metrics.IncEmptyMeshes()
		p.meshes.HideMesh(key)
		p.collision.ReleaseCollision(key)
		p.decorations.ReleaseDecorations(key)
		n.Visible = false
		return nil
	}

	n.Mesh = mesh
	p.meshes.PublishMesh(key, mesh)
	n.Visible = true
	if n.Level <= p.cfg.Surface.CollisionMaxLevel {
		p.collision.PublishCollision(key, marching.Weld(mesh, p.cfg.Surface.WeldEpsilon))
	}
	if n.Level <= p.cfg.Surface.DecorationMaxLevel {
		placements := marching.Scatter(mesh, p.cfg.Planet.Center.Vec(), marching.ScatterOptions{
			Density:    p.cfg.Surface.DecorationDensity,
			MinUpright: p.cfg.Surface.DecorationMinUpright,
			Seed:       p.cfg.Planet.Seed,
			Limit:      p.cfg.Surface.DecorationLimit,
		})
		p.decorations.PublishDecorations(key, placements)
	}
	return nil
}

// uncover releases every ancestor mesh whose region the tree now covers
// with finer leaves.
func (p *Planet) uncover(n *octree.Node) {
	for a := n.Parent; a != nil; a = a.Parent {
		if a.Visible && a.Covered() {
			p.release(a)
		}
	}
}

func (p *Planet) release(n *octree.Node) {
	key := keyOf(n)
	p.meshes.ReleaseMesh(key)
	p.collision.ReleaseCollision(key)
	p.decorations.ReleaseDecorations(key)
	n.Visible = false
}

// applyTerraform queues leaves that are behind the log and runs one
// budgeted batch. Nodes that changed go stale and rebuild next tick.
func (p *Planet) applyTerraform(report *TickReport) {
	target := p.events.Len()
	if target > 0 {
		p.tree.Root.Walk(func(n *octree.Node) bool {
			if n.IsLeaf() && !n.TerraformQueued && n.Watermark < target {
				n.TerraformQueued = true
				p.terraform.Enqueue(Request{Node: n})
			}
			return true
		})
	}

	var nodes []*octree.Node
	for len(nodes) < p.cfg.Scheduler.MaxTerraformsPerTick && p.terraform.Len() > 0 {
		n := p.terraform.Drain(1)[0].Node
		n.TerraformQueued = false
		if !n.Alive() || !n.IsLeaf() {
			continue
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 0 {
		return
	}

	changed := p.applyJobs(nodes)
	report.Terraformed += len(nodes)
	for _, n := range changed {
		if n.State == octree.Generated {
			n.State = octree.Stale
		}
		report.Stale++
		p.enqueueGeneration(Request{Node: n}, false)
	}
}

// applyJobs runs the terraform kernel over nodes and returns the ones whose
// overlay changed.
func (p *Planet) applyJobs(nodes []*octree.Node) []*octree.Node {
	jobs := make([]terraform.Job, len(nodes))
	for i, n := range nodes {
		jobs[i] = terraform.Job{
			Origin:    n.Position(),
			Scale:     n.Scale(),
			Res:       p.cfg.Tree.Resolution,
			Watermark: n.Watermark,
			Overlay:   n.Overlay,
		}
	}
	start := time.Now()
	results := terraform.ApplyBatch(p.pool, jobs, p.events)
	p.metrics.ObserveKernel(metrics.KernelTerraform, time.Since(start))

	var changed []*octree.Node
	for i, r := range results {
		n := nodes[i]
		n.Overlay = r.Overlay
		n.Watermark = r.Watermark
		if r.Changed {
			changed = append(changed, n)
		}
	}
	return changed
}

func (p *Planet) recordErr(report *TickReport, err error) {
	if report.Err == nil {
		report.Err = err
		return
	}
	p.logger.Printf("tick error: %v", err)
}

// RecommendedRadius is the planet radius that fills a tree of the given
// depth: 112.5 chunk sizes at 8 divisions, doubling per extra level.
func RecommendedRadius(divisions int, chunkSize float64) float64 {
	return 112.5 * chunkSize * math.Exp2(float64(divisions-8))
}

// RecommendedDivisions is the smallest depth whose recommended radius is at
// least radius, and at least 1.
func RecommendedDivisions(radius, chunkSize float64) int {
	if radius <= 0 || chunkSize <= 0 {
		return 1
	}
	d := int(math.Ceil(math.Log2(radius/(112.5*chunkSize)))) + 8
	if d < 1 {
		return 1
	}
	return d
}
