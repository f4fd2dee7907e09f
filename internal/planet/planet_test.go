package planet

import (
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"planetcore/internal/config"
	"planetcore/internal/journal"
	"planetcore/internal/lattice"
	"planetcore/internal/marching"
	"planetcore/internal/noise"
	"planetcore/internal/octree"
	"planetcore/internal/storage"
)

type recordingSink struct {
	published  map[NodeKey]int
	hidden     map[NodeKey]int
	released   map[NodeKey]int
	collisions map[NodeKey]int
	decors     map[NodeKey]int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		published:  map[NodeKey]int{},
		hidden:     map[NodeKey]int{},
		released:   map[NodeKey]int{},
		collisions: map[NodeKey]int{},
		decors:     map[NodeKey]int{},
	}
}

func (s *recordingSink) PublishMesh(key NodeKey, _ *marching.Mesh) { s.published[key]++ }
func (s *recordingSink) HideMesh(key NodeKey) { s.hidden[key]++ }
func (s *recordingSink) ReleaseMesh(key NodeKey) { s.released[key]++ }
func (s *recordingSink) PublishCollision(key NodeKey, _ *marching.Mesh) {
	s.collisions[key]++
}
func (s *recordingSink) ReleaseCollision(NodeKey) {}
func (s *recordingSink) PublishDecorations(key NodeKey, _ []marching.Placement) {
	s.decors[key]++
}
func (s *recordingSink) ReleaseDecorations(NodeKey) {}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Noise.Enabled = false
	cfg.Tree.Resolution = 4
	cfg.Scheduler.UpdateDistance = 0
	cfg.Scheduler.SplitMultiplier = 0
	cfg.Scheduler.SplitRadius = 1
	cfg.Kernel.Workers = 2
	return cfg
}

func newTestPlanet(t *testing.T, cfg *config.Config, deps Deps) *Planet {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	p, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("new planet: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

var far = mgl64.Vec3{1e6, 0, 0}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Planet.Radius = -1
	if _, err := New(cfg, Deps{Logger: log.New(io.Discard, "", 0)}); err == nil {
		t.Fatal("expected error for negative radius")
	}
	cfg = testConfig()
	cfg.Tree.Divisions = 0
	if _, err := New(cfg, Deps{Logger: log.New(io.Discard, "", 0)}); err == nil {
		t.Fatal("expected error for zero divisions")
	}
}

func TestRootMeshStaysNearPlanetSurface(t *testing.T) {
	cfg := config.Default()
	cfg.Planet.Seed = 42
	cfg.Planet.Radius = 1000
	cfg.Tree.Divisions = 8
	cfg.Tree.ChunkSize = 16
	cfg.Tree.Resolution = 16
	cfg.Noise.Enabled = true
	cfg.Noise.Layers = []config.LayerConfig{{
		Kind:        string(noise.KindPerlin),
		Scale:       250,
		Octaves:     3,
		Persistence: 0.5,
		Lacunarity:  2,
		Power:       0.2,
	}}
	sink := newRecordingSink()
	p := newTestPlanet(t, cfg, Deps{Meshes: sink})

	report := p.Tick(1.0/60, far)
	if report.Generated != 1 {
		t.Fatalf("generated %d nodes, want 1", report.Generated)
	}
	root := p.Tree().Root
	if root.Mesh.Empty() {
		t.Fatal("root mesh is empty")
	}
	if sink.published[keyOf(root)] != 1 {
		t.Fatal("root mesh was not published")
	}
	limit := 1.2 * cfg.Planet.Radius
	for i := range root.Mesh.Vertices {
		if d := root.Mesh.WorldVertex(i).Len(); d > limit {
			t.Fatalf("vertex %d at distance %.1f beyond %.1f", i, d, limit)
		}
	}
}

func TestRepeatedAddStrokesLowerOverlayEachStep(t *testing.T) {
	cfg := testConfig()
	cfg.Tree.Divisions = 1
	cfg.Tree.ChunkSize = 16
	cfg.Tree.Resolution = 8
	cfg.Planet.Radius = 8
	p := newTestPlanet(t, cfg, Deps{})

	// Voxel spacing is 2, so (4,0,0) is lattice point (6,4,4).
	point := mgl64.Vec3{4, 0, 0}
	idx := lattice.Index(8, 6, 4, 4)
	root := p.Tree().Root

	prev := 0.0
	for step := 1; step <= 10; step++ {
		if err := p.Terraform(point, 2, 0.4, true, 1.0/60); err != nil {
			t.Fatalf("terraform: %v", err)
		}
		p.Tick(1.0/60, far)
		if root.Overlay == nil {
			t.Fatalf("step %d: no overlay", step)
		}
		got := root.Overlay.Delta[idx]
		if got >= prev {
			t.Fatalf("step %d: delta %v did not decrease from %v", step, got, prev)
		}
		prev = got
	}
	if root.Watermark != 10 {
		t.Fatalf("watermark = %d, want 10", root.Watermark)
	}
	want := -10 * 0.4 / 60
	if d := prev - want; d > 1e-12 || d < -1e-12 {
		t.Fatalf("delta = %v, want %v", prev, want)
	}
}

func TestSplitMergeHysteresis(t *testing.T) {
	cases := []struct {
		name       string
		hysteresis float64
		wantLeaf   bool
	}{
		{name: "band keeps children", hysteresis: 1.15, wantLeaf: false},
		{name: "single threshold merges", hysteresis: 1, wantLeaf: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Tree.Divisions = 3
			cfg.Tree.ChunkSize = 16
			cfg.Scheduler.MergeHysteresis = tc.hysteresis
			p := newTestPlanet(t, cfg, Deps{})
			root := p.Tree().Root

			// Root scale is 64, so it splits inside 64 units.
			if r := p.Tick(0.016, mgl64.Vec3{50, 0, 0}); r.Splits != 1 {
				t.Fatalf("splits = %d, want 1", r.Splits)
			}
			p.Tick(0.016, mgl64.Vec3{70, 0, 0})
			if root.IsLeaf() != tc.wantLeaf {
				t.Fatalf("leaf = %v, want %v", root.IsLeaf(), tc.wantLeaf)
			}
			r := p.Tick(0.016, mgl64.Vec3{80, 0, 0})
			if !root.IsLeaf() {
				t.Fatal("root should merge beyond the band")
			}
			if !tc.wantLeaf && r.Merges != 1 {
				t.Fatalf("merges = %d, want 1", r.Merges)
			}
		})
	}
}

func TestMergeKeepsOverlayForRecreatedNode(t *testing.T) {
	cfg := testConfig()
	cfg.Tree.Divisions = 2
	cfg.Tree.ChunkSize = 16
	cfg.Planet.Radius = 20
	store := storage.NewMemoryStore()
	p := newTestPlanet(t, cfg, Deps{Store: store})
	root := p.Tree().Root

	p.Tick(0.016, mgl64.Vec3{})
	if root.IsLeaf() {
		t.Fatal("expected root to split")
	}
	if err := p.Terraform(mgl64.Vec3{8, 8, 8}, 3, 0.5, false, 0.1); err != nil {
		t.Fatal(err)
	}
	p.Tick(0.016, mgl64.Vec3{})
	target := root.Children[7]
	if target.Overlay == nil || target.Watermark != 1 {
		t.Fatalf("octant 7 overlay=%v watermark=%d", target.Overlay != nil, target.Watermark)
	}
	saved := append([]float64(nil), target.Overlay.Delta...)

	r := p.Tick(0.016, far)
	if r.Merges != 1 || !root.IsLeaf() {
		t.Fatalf("expected merge, report %+v", r)
	}
	if target.Alive() {
		t.Fatal("merged child still alive")
	}
	if store.Len() != 1 {
		t.Fatalf("store holds %d overlays, want 1", store.Len())
	}

	p.Tick(0.016, mgl64.Vec3{})
	again := root.Children[7]
	if again == target {
		t.Fatal("expected a fresh node")
	}
	if again.Overlay == nil || again.Watermark != 1 {
		t.Fatal("recreated node did not restore its overlay")
	}
	for i, v := range saved {
		if again.Overlay.Delta[i] != v {
			t.Fatalf("delta %d = %v, want %v", i, again.Overlay.Delta[i], v)
		}
	}
}

func TestParentMeshReleasedOnlyWhenChildrenGenerated(t *testing.T) {
	cfg := testConfig()
	cfg.Tree.Divisions = 2
	cfg.Tree.ChunkSize = 16
	cfg.Planet.Radius = 20
	cfg.Scheduler.MaxGenerationsPerTick = 3
	sink := newRecordingSink()
	p := newTestPlanet(t, cfg, Deps{Meshes: sink})
	root := p.Tree().Root

	p.Tick(0.016, far)
	rootKey := keyOf(root)
	if sink.published[rootKey] != 1 || !root.Visible {
		t.Fatal("root mesh should be published")
	}

	want := []struct{ generated, pending, released int }{
		{3, 5, 0},
		{3, 2, 0},
		{2, 0, 1},
	}
	for i, w := range want {
		r := p.Tick(0.016, mgl64.Vec3{})
		if r.Generated != w.generated || r.PendingGenerations != w.pending {
			t.Fatalf("tick %d: generated %d pending %d", i, r.Generated, r.PendingGenerations)
		}
		if sink.released[rootKey] != w.released {
			t.Fatalf("tick %d: root released %d times, want %d", i, sink.released[rootKey], w.released)
		}
	}
	if root.Visible {
		t.Fatal("root should no longer be visible")
	}
	if root.Mesh != nil || root.Lattice != nil {
		t.Fatal("interior node must not own a mesh or lattice")
	}
}

func TestSplitBudgetAndCreationDepth(t *testing.T) {
	cfg := testConfig()
	cfg.Tree.Divisions = 4
	cfg.Tree.ChunkSize = 16
	cfg.Scheduler.MaxSplitsPerTick = 100
	cfg.Scheduler.MaxCreationDepth = 1
	p := newTestPlanet(t, cfg, Deps{})

	r := p.Tick(0.016, mgl64.Vec3{1, 1, 1})
	if r.Splits != 1 {
		t.Fatalf("splits = %d, want 1 with creation depth 1", r.Splits)
	}
	r = p.Tick(0.016, mgl64.Vec3{1, 1, 1})
	if r.Splits == 0 {
		t.Fatal("expected deeper splits on the next tick")
	}

	cfg = testConfig()
	cfg.Tree.Divisions = 4
	cfg.Tree.ChunkSize = 16
	cfg.Scheduler.MaxSplitsPerTick = 2
	cfg.Scheduler.MaxCreationDepth = 10
	p = newTestPlanet(t, cfg, Deps{})
	if r := p.Tick(0.016, mgl64.Vec3{1, 1, 1}); r.Splits != 2 {
		t.Fatalf("splits = %d, want budget of 2", r.Splits)
	}
	p.Tree().Root.Walk(func(n *octree.Node) bool {
		if c := len(n.Children); c != 0 && c != 8 {
			t.Fatalf("node has %d children", c)
		}
		return true
	})
}

func TestWalkWaitsForUpdateDistance(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.UpdateDistance = 10
	p := newTestPlanet(t, cfg, Deps{})

	if r := p.Tick(0.016, mgl64.Vec3{}); !r.Walked {
		t.Fatal("first tick must walk")
	}
	if r := p.Tick(0.016, mgl64.Vec3{1, 0, 0}); r.Walked {
		t.Fatal("small move should not walk")
	}
	if r := p.Tick(0.016, mgl64.Vec3{20, 0, 0}); !r.Walked {
		t.Fatal("large move should walk")
	}
}

func TestTerraformRejectsInvalidStroke(t *testing.T) {
	p := newTestPlanet(t, testConfig(), Deps{})
	if err := p.Terraform(mgl64.Vec3{}, -1, 1, true, 0.1); err == nil {
		t.Fatal("expected error for negative radius")
	}
	if p.Events() != 0 {
		t.Fatal("rejected stroke must not reach the log")
	}
}

func TestTerraformDividesSpeedByToughness(t *testing.T) {
	cfg := testConfig()
	cfg.Tree.Divisions = 1
	cfg.Tree.ChunkSize = 16
	cfg.Tree.Resolution = 8
	cfg.Planet.Radius = 8
	cfg.Terraform.GroundToughness = 4
	p := newTestPlanet(t, cfg, Deps{})

	if err := p.Terraform(mgl64.Vec3{4, 0, 0}, 2, 0.4, false, 1); err != nil {
		t.Fatal(err)
	}
	p.Tick(0.016, far)
	got := p.Tree().Root.Overlay.Delta[lattice.Index(8, 6, 4, 4)]
	if want := 0.1; got < want-1e-12 || got > want+1e-12 {
		t.Fatalf("delta = %v, want %v", got, want)
	}
}

func TestJournalRoundTripSeedsLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "journal")
	w := journal.NewWriter(dir, "terraform")
	p := newTestPlanet(t, testConfig(), Deps{Journal: w})
	for i := 0; i < 3; i++ {
		if err := p.Terraform(mgl64.Vec3{float64(i), 0, 0}, 1, 1, i%2 == 0, 0.1); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	events, err := journal.Replay(dir, "terraform")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	restored := newTestPlanet(t, testConfig(), Deps{Events: events})
	if restored.Events() != 3 {
		t.Fatalf("restored %d events, want 3", restored.Events())
	}
}

func TestCloseFlushesLiveOverlays(t *testing.T) {
	cfg := testConfig()
	cfg.Tree.Divisions = 1
	cfg.Tree.ChunkSize = 16
	cfg.Planet.Radius = 8
	store := storage.NewMemoryStore()
	p, err := New(cfg, Deps{Store: store, Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Terraform(mgl64.Vec3{4, 0, 0}, 3, 1, true, 0.1); err != nil {
		t.Fatal(err)
	}
	p.Tick(0.016, far)
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	o, ok, err := store.Load(mgl64.Vec3{})
	if err != nil || !ok {
		t.Fatalf("root overlay not stored: ok=%v err=%v", ok, err)
	}
	if o.Watermark != 1 {
		t.Fatalf("stored watermark = %d, want 1", o.Watermark)
	}
}

func TestCollisionAndDecorationLevels(t *testing.T) {
	cfg := testConfig()
	cfg.Tree.Divisions = 2
	cfg.Tree.ChunkSize = 16
	cfg.Planet.Radius = 20
	cfg.Surface.CollisionMaxLevel = 1
	cfg.Surface.DecorationMaxLevel = 1
	cfg.Surface.DecorationDensity = 1
	cfg.Surface.DecorationMinUpright = -1
	sink := newRecordingSink()
	p := newTestPlanet(t, cfg, Deps{Meshes: sink, Collision: sink, Decorations: sink})

	p.Tick(0.016, far)
	root := p.Tree().Root
	if sink.collisions[keyOf(root)] != 0 || sink.decors[keyOf(root)] != 0 {
		t.Fatal("level 2 root should not publish collision or decorations")
	}
	p.Tick(0.016, mgl64.Vec3{})
	published := 0
	for _, c := range root.Children {
		if c.Mesh.Empty() {
			continue
		}
		published++
		if sink.collisions[keyOf(c)] != 1 || sink.decors[keyOf(c)] != 1 {
			t.Fatalf("octant %d missing collision/decorations", c.Octant)
		}
	}
	if published == 0 {
		t.Fatal("expected at least one child surface")
	}
}

func TestRecommendedRadius(t *testing.T) {
	if got := RecommendedRadius(8, 16); got != 1800 {
		t.Fatalf("radius = %v, want 1800", got)
	}
	if got := RecommendedRadius(9, 16); got != 3600 {
		t.Fatalf("radius = %v, want 3600", got)
	}
	if got := RecommendedDivisions(3600, 16); got != 9 {
		t.Fatalf("divisions = %d, want 9", got)
	}
	if got := RecommendedDivisions(1, 16); got != 1 {
		t.Fatalf("divisions = %d, want 1", got)
	}

	tests := []struct {
		name   string
		radius float64
		want   int
	}{
		{name: "below one depth rounds up", radius: 1000, want: 8},
		{name: "exact depth", radius: 1800, want: 8},
		{name: "just above a depth", radius: 1801, want: 9},
		{name: "between depths", radius: 2500, want: 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RecommendedDivisions(tt.radius, 16); got != tt.want {
				t.Fatalf("RecommendedDivisions(%v, 16) = %d, want %d", tt.radius, got, tt.want)
			}
			if RecommendedRadius(tt.want, 16) < tt.radius {
				t.Fatalf("depth %d cannot hold radius %v", tt.want, tt.radius)
			}
		})
	}
}

func TestStoredOverlaySurvivesRestartWithoutJournal(t *testing.T) {
	cfg := testConfig()
	cfg.Tree.Divisions = 1
	cfg.Tree.ChunkSize = 16
	cfg.Planet.Radius = 8
	cfg.Storage.Driver = storage.DriverDisk
	cfg.Storage.Path = filepath.Join(t.TempDir(), "overlays.log")

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		t.Fatal(err)
	}
	p, err := New(cfg, Deps{Store: store, Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Terraform(mgl64.Vec3{4, 0, 0}, 3, 1, true, 0.1); err != nil {
		t.Fatal(err)
	}
	p.Tick(0.016, far)
	saved := p.Tree().Root.Overlay.Clone()
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	restarted := newTestPlanet(t, cfg, Deps{Store: store})
	if restarted.Events() != 0 {
		t.Fatalf("log should restart empty, has %d events", restarted.Events())
	}
	root := restarted.Tree().Root
	if root.Overlay == nil {
		t.Fatal("stored overlay was not restored")
	}
	if root.Watermark != 0 || root.Overlay.Watermark != 0 {
		t.Fatalf("watermark = %d/%d, want clamped to 0", root.Watermark, root.Overlay.Watermark)
	}
	for i := range saved.Delta {
		if root.Overlay.Delta[i] != saved.Delta[i] {
			t.Fatalf("delta[%d] = %v, want %v", i, root.Overlay.Delta[i], saved.Delta[i])
		}
	}

	// A new stroke gets sequence 0 and is folded in on top of the old edits.
	if err := restarted.Terraform(mgl64.Vec3{4, 0, 0}, 3, 1, true, 0.1); err != nil {
		t.Fatal(err)
	}
	restarted.Tick(0.016, far)
	if root.Watermark != 1 {
		t.Fatalf("watermark after new stroke = %d, want 1", root.Watermark)
	}
	idx := lattice.Index(cfg.Tree.Resolution, 3, 2, 2)
	if root.Overlay.Delta[idx] >= saved.Delta[idx] {
		t.Fatalf("delta[%d] = %v, want below %v", idx, root.Overlay.Delta[idx], saved.Delta[idx])
	}
}

func TestEmptySurfaceHidesNode(t *testing.T) {
	cfg := testConfig()
	cfg.Tree.Divisions = 1
	cfg.Tree.ChunkSize = 16
	// The whole root cube lies deep inside a large planet, so every corner is
	// on the same side of the gate.
	cfg.Planet.Radius = 1000
	sink := newRecordingSink()
	p := newTestPlanet(t, cfg, Deps{Meshes: sink, Collision: sink, Decorations: sink})

	report := p.Tick(0.016, far)
	if report.Generated != 1 || report.EmptyMeshes != 1 {
		t.Fatalf("generated=%d empty=%d, want 1 and 1", report.Generated, report.EmptyMeshes)
	}
	if report.Err != nil {
		t.Fatalf("empty surface reported an error: %v", report.Err)
	}
	root := p.Tree().Root
	key := keyOf(root)
	if root.Mesh != nil {
		t.Fatal("empty surface should leave no mesh")
	}
	if root.Visible {
		t.Fatal("empty surface should not be visible")
	}
	if root.State != octree.Generated {
		t.Fatalf("state = %v, want Generated", root.State)
	}
	if sink.hidden[key] != 1 {
		t.Fatalf("HideMesh called %d times, want 1", sink.hidden[key])
	}
	if sink.published[key] != 0 || sink.collisions[key] != 0 || sink.decors[key] != 0 {
		t.Fatal("empty surface should publish nothing")
	}
}
