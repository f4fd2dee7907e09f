package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Kernel labels.
const (
	KernelDensity   = "density"
	KernelExtract   = "extract"
	KernelTerraform = "terraform"
)

// Queue labels.
const (
	QueueGeneration = "generation"
	QueueTerraform  = "terraform"
)

// Planet groups the collectors the scheduler reports into. A nil *Planet
// discards every observation.
type Planet struct {
	tickDuration   prometheus.Histogram
	kernelDuration *prometheus.HistogramVec
	queueDepth     *prometheus.GaugeVec
	nodes          *prometheus.GaugeVec
	splits         prometheus.Counter
	merges         prometheus.Counter
	events         prometheus.Counter
	emptyMeshes    prometheus.Counter
}

// New registers the planet collectors with reg.
func New(reg prometheus.Registerer) *Planet {
	f := promauto.With(reg)
	return &Planet{
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "planet_tick_duration_seconds",
			Help:    "Wall time spent in one scheduler tick",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		kernelDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "planet_kernel_duration_seconds",
			Help:    "Wall time of one data-parallel kernel call",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"kernel"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "planet_queue_depth",
			Help: "Pending requests left after a tick",
		}, []string{"queue"}),
		nodes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "planet_nodes",
			Help: "Live octree nodes",
		}, []string{"kind"}),
		splits: f.NewCounter(prometheus.CounterOpts{
			Name: "planet_splits_total",
			Help: "Octree splits performed",
		}),
		merges: f.NewCounter(prometheus.CounterOpts{
			Name: "planet_merges_total",
			Help: "Octree merges performed",
		}),
		events: f.NewCounter(prometheus.CounterOpts{
			Name: "planet_terraform_events_total",
			Help: "Terraform events appended to the log",
		}),
		emptyMeshes: f.NewCounter(prometheus.CounterOpts{
			Name: "planet_empty_meshes_total",
			Help: "Generations that produced no triangles",
		}),
	}
}

func (p *Planet) ObserveTick(d time.Duration) {
	if p == nil {
		return
	}
	p.tickDuration.Observe(d.Seconds())
}

func (p *Planet) ObserveKernel(kernel string, d time.Duration) {
	if p == nil {
		return
	}
	p.kernelDuration.WithLabelValues(kernel).Observe(d.Seconds())
}

func (p *Planet) SetQueueDepth(queue string, n int) {
	if p == nil {
		return
	}
	p.queueDepth.WithLabelValues(queue).Set(float64(n))
}

func (p *Planet) SetNodes(total, leaves int) {
	if p == nil {
		return
	}
	p.nodes.WithLabelValues("total").Set(float64(total))
	p.nodes.WithLabelValues("leaf").Set(float64(leaves))
}

func (p *Planet) AddSplits(n int) {
	if p == nil || n == 0 {
		return
	}
	p.splits.Add(float64(n))
}

func (p *Planet) AddMerges(n int) {
	if p == nil || n == 0 {
		return
	}
	p.merges.Add(float64(n))
}

func (p *Planet) IncEvents() {
	if p == nil {
		return
	}
	p.events.Inc()
}

func (p *Planet) IncEmptyMeshes() {
	if p == nil {
		return
	}
	p.emptyMeshes.Inc()
}
