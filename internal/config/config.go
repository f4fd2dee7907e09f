package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"planetcore/internal/density"
	"planetcore/internal/marching"
	"planetcore/internal/noise"
	"planetcore/internal/storage"
)

//go:embed schema.json
var schemaSource string

// Duration is a JSON-friendly wrapper around time.Duration that accepts human
// readable strings such as "16ms" in configuration files while still
// allowing numeric nanosecond values.
type Duration time.Duration

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalJSON encodes the duration using the canonical string representation.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON decodes a duration from either a string (e.g. "250ms") or a
// numeric value representing nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("duration: empty value")
	}
	if string(b) == "null" {
		*d = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("duration: decode string: %w", err)
		}
		if s == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("duration: parse %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("duration: invalid value %s", string(b))
	}
	*d = Duration(time.Duration(f))
	return nil
}

// Vec3 is a config-file vector.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Vec() mgl64.Vec3 {
	return mgl64.Vec3{v.X, v.Y, v.Z}
}

// Config captures every tunable the planet core needs before scheduling.
type Config struct {
	Planet    PlanetConfig    `json:"planet"`
	Tree      TreeConfig      `json:"tree"`
	Noise     NoiseConfig     `json:"noise"`
	Surface   SurfaceConfig   `json:"surface"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Terraform TerraformConfig `json:"terraform"`
	Kernel    KernelConfig    `json:"kernel"`
	Storage   StorageConfig   `json:"storage"`
	Journal   JournalConfig   `json:"journal"`
	Server    ServerConfig    `json:"server"`
}

type PlanetConfig struct {
	Seed   int64   `json:"seed"`
	Radius float64 `json:"radius"`
	Center Vec3    `json:"center"`
}

type TreeConfig struct {
	Divisions  int     `json:"divisions"`  // root level
	ChunkSize  float64 `json:"chunkSize"`  // side length of a level 1 node
	Resolution int     `json:"resolution"` // cubes per node axis
}

type NoiseConfig struct {
	Enabled bool          `json:"enabled"`
	Layers  []LayerConfig `json:"layers"`
}

type LayerConfig struct {
	Kind        string             `json:"kind"`
	Scale       float64            `json:"scale"`
	Octaves     int                `json:"octaves"`
	Persistence float64            `json:"persistence"`
	Lacunarity  float64            `json:"lacunarity"`
	Power       float64            `json:"power"`
	Remove      bool               `json:"remove"`
	Offset      Vec3               `json:"offset"`
	Curve       []noise.CurvePoint `json:"curve"`
}

type SurfaceConfig struct {
	ValueGate float64 `json:"valueGate"`
	// CreateGate enables the whole-cube fast reject when set.
	CreateGate           *float64 `json:"createGate,omitempty"`
	Smooth               bool     `json:"smooth"`
	WeldEpsilon          float64  `json:"weldEpsilon"`
	CollisionMaxLevel    int      `json:"collisionMaxLevel"`
	DecorationMaxLevel   int      `json:"decorationMaxLevel"`
	DecorationDensity    float64  `json:"decorationDensity"`    // placements per square unit
	DecorationMinUpright float64  `json:"decorationMinUpright"` // min dot(normal, up)
	DecorationLimit      int      `json:"decorationLimit"`
}

type SchedulerConfig struct {
	TickRate              Duration `json:"tickRate"`
	SplitMultiplier       float64  `json:"splitMultiplier"`
	SplitRadius           float64  `json:"splitRadius"`
	MergeHysteresis       float64  `json:"mergeHysteresis"`
	UpdateDistance        float64  `json:"updateDistance"`
	MaxSplitsPerTick      int      `json:"maxSplitsPerTick"`
	MaxGenerationsPerTick int      `json:"maxGenerationsPerTick"`
	MaxTerraformsPerTick  int      `json:"maxTerraformsPerTick"`
	MaxCreationDepth      int      `json:"maxCreationDepth"`
}

type TerraformConfig struct {
	GroundToughness float64 `json:"groundToughness"`
}

type KernelConfig struct {
	Workers int `json:"workers"` // 0 uses GOMAXPROCS
}

type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
}

type JournalConfig struct {
	Enabled bool   `json:"enabled"`
	Dir     string `json:"dir"`
	Prefix  string `json:"prefix"`
}

type ServerConfig struct {
	Listen      string `json:"listen"`
	MetricsPath string `json:"metricsPath"`
	FeedPath    string `json:"feedPath"`
}

// Load reads configuration from a YAML (.yaml/.yml) or JSON file. An empty
// path returns defaults. The document is checked against the embedded
// schema before it is decoded over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	doc, err := toJSON(path, data)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validateSchema(doc); err != nil {
		return nil, fmt.Errorf("schema config: %w", err)
	}
	// A configured layer list replaces the default layers rather than
	// merging into them element by element.
	var probe struct {
		Noise struct {
			Layers json.RawMessage `json:"layers"`
		} `json:"noise"`
	}
	if err := json.Unmarshal(doc, &probe); err == nil && probe.Noise.Layers != nil {
		cfg.Noise.Layers = nil
	}
	if err := json.Unmarshal(doc, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// toJSON normalises a YAML or JSON document to JSON bytes.
func toJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		if doc == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(doc)
	default:
		return data, nil
	}
}

func validateSchema(doc []byte) error {
	schema, err := jsonschema.CompileString("planetcore.schema.json", schemaSource)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return err
	}
	return schema.Validate(v)
}

// Default returns a configuration for a 1000 unit planet viewed by a single
// local client.
func Default() *Config {
	const divisions = 8
	return &Config{
		Planet: PlanetConfig{
			Seed:   42,
			Radius: 1000,
		},
		Tree: TreeConfig{
			Divisions:  divisions,
			ChunkSize:  16,
			Resolution: 16,
		},
		Noise: NoiseConfig{
			Enabled: true,
			Layers: []LayerConfig{
				{
					Kind:        string(noise.KindPerlin),
					Scale:       200,
					Octaves:     3,
					Persistence: 0.5,
					Lacunarity:  2,
					Power:       0.1,
				},
			},
		},
		Surface: SurfaceConfig{
			ValueGate:            0.15,
			Smooth:               false,
			WeldEpsilon:          1e-4,
			CollisionMaxLevel:    LevelFraction(divisions, 0.5),
			DecorationMaxLevel:   LevelFraction(divisions, 0.3),
			DecorationDensity:    0.02,
			DecorationMinUpright: 0.7,
			DecorationLimit:      256,
		},
		Scheduler: SchedulerConfig{
			TickRate:              Duration(16 * time.Millisecond),
			SplitMultiplier:       2,
			SplitRadius:           1,
			MergeHysteresis:       1.15,
			UpdateDistance:        1,
			MaxSplitsPerTick:      8,
			MaxGenerationsPerTick: 16,
			MaxTerraformsPerTick:  32,
			MaxCreationDepth:      2,
		},
		Terraform: TerraformConfig{
			GroundToughness: 1,
		},
		Storage: StorageConfig{
			Driver: storage.DriverMemory,
		},
		Journal: JournalConfig{
			Dir:    "data/journal",
			Prefix: "terraform",
		},
		Server: ServerConfig{
			Listen:      ":8090",
			MetricsPath: "/metrics",
			FeedPath:    "/ws",
		},
	}
}

func (c *Config) Validate() error {
	if c.Planet.Radius <= 0 || math.IsNaN(c.Planet.Radius) || math.IsInf(c.Planet.Radius, 0) {
		return errors.New("planet.radius must be positive")
	}
	if c.Tree.Divisions < 1 {
		return errors.New("tree.divisions must be at least 1")
	}
	if c.Tree.ChunkSize <= 0 {
		return errors.New("tree.chunkSize must be positive")
	}
	if c.Tree.Resolution < 1 {
		return errors.New("tree.resolution must be positive")
	}
	for i, l := range c.Noise.Layers {
		if _, err := l.Settings(); err != nil {
			return fmt.Errorf("noise.layers[%d]: %w", i, err)
		}
	}
	if c.Surface.WeldEpsilon < 0 {
		return errors.New("surface.weldEpsilon cannot be negative")
	}
	if c.Surface.DecorationDensity < 0 {
		return errors.New("surface.decorationDensity cannot be negative")
	}
	if c.Scheduler.SplitMultiplier < 0 || c.Scheduler.SplitRadius < 0 {
		return errors.New("scheduler split distance terms cannot be negative")
	}
	if c.Scheduler.MergeHysteresis < 1 {
		return errors.New("scheduler.mergeHysteresis must be >= 1")
	}
	if c.Scheduler.UpdateDistance < 0 {
		return errors.New("scheduler.updateDistance cannot be negative")
	}
	if c.Scheduler.MaxSplitsPerTick <= 0 {
		return errors.New("scheduler.maxSplitsPerTick must be positive")
	}
	if c.Scheduler.MaxGenerationsPerTick <= 0 {
		return errors.New("scheduler.maxGenerationsPerTick must be positive")
	}
	if c.Scheduler.MaxTerraformsPerTick <= 0 {
		return errors.New("scheduler.maxTerraformsPerTick must be positive")
	}
	if c.Scheduler.MaxCreationDepth <= 0 {
		return errors.New("scheduler.maxCreationDepth must be positive")
	}
	if c.Terraform.GroundToughness <= 0 {
		return errors.New("terraform.groundToughness must be positive")
	}
	if c.Kernel.Workers < 0 {
		return errors.New("kernel.workers cannot be negative")
	}
	switch c.Storage.Driver {
	case storage.DriverMemory:
	case storage.DriverDisk, storage.DriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path must be set for driver %q", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	if c.Journal.Enabled && c.Journal.Dir == "" {
		return errors.New("journal.dir must be set when the journal is enabled")
	}
	return nil
}

// Settings converts the layer to sampler settings, baking its curve.
func (l LayerConfig) Settings() (noise.LayerSettings, error) {
	curve, err := noise.BakeCurve(l.Curve, noise.CurveSamples)
	if err != nil {
		return noise.LayerSettings{}, err
	}
	kind := noise.Kind(l.Kind)
	if kind == "" {
		kind = noise.KindPerlin
	}
	if kind != noise.KindPerlin && kind != noise.KindSimplex {
		return noise.LayerSettings{}, fmt.Errorf("kind %q is not supported", l.Kind)
	}
	s := noise.LayerSettings{
		Kind:        kind,
		Scale:       l.Scale,
		Octaves:     l.Octaves,
		Persistence: l.Persistence,
		Lacunarity:  l.Lacunarity,
		Power:       l.Power,
		Remove:      l.Remove,
		Offset:      l.Offset.Vec(),
		Curve:       curve,
	}
	if err := s.Validate(); err != nil {
		return noise.LayerSettings{}, err
	}
	return s, nil
}

// DensitySettings builds the sampler configuration.
func (c *Config) DensitySettings() (density.Settings, error) {
	s := density.Settings{
		Seed:         c.Planet.Seed,
		Radius:       c.Planet.Radius,
		Center:       c.Planet.Center.Vec(),
		NoiseEnabled: c.Noise.Enabled,
	}
	for i, l := range c.Noise.Layers {
		ls, err := l.Settings()
		if err != nil {
			return density.Settings{}, fmt.Errorf("noise.layers[%d]: %w", i, err)
		}
		s.Layers = append(s.Layers, ls)
	}
	return s, nil
}

// ExtractOptions returns the marching-cubes options. An unset createGate
// disables the fast reject.
func (c *Config) ExtractOptions() marching.Options {
	gate := math.NaN()
	if c.Surface.CreateGate != nil {
		gate = *c.Surface.CreateGate
	}
	return marching.Options{
		ValueGate:   c.Surface.ValueGate,
		CreateGate:  gate,
		Smooth:      c.Surface.Smooth,
		WeldEpsilon: c.Surface.WeldEpsilon,
	}
}

// LevelFraction maps a fraction of the division count to a level, at least 1.
func LevelFraction(divisions int, fraction float64) int {
	level := int(math.Round(float64(divisions) * fraction))
	if level < 1 {
		return 1
	}
	return level
}
