package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollectorsRegisterAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveTick(3 * time.Millisecond)
	m.ObserveKernel(KernelDensity, time.Millisecond)
	m.SetQueueDepth(QueueGeneration, 5)
	m.SetNodes(9, 8)
	m.AddSplits(1)
	m.AddMerges(0)
	m.IncEvents()
	m.IncEmptyMeshes()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := make(map[string]bool)
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, name := range []string{
		"planet_tick_duration_seconds",
		"planet_kernel_duration_seconds",
		"planet_queue_depth",
		"planet_nodes",
		"planet_splits_total",
		"planet_terraform_events_total",
		"planet_empty_meshes_total",
	} {
		if !found[name] {
			t.Fatalf("metric %s not gathered", name)
		}
	}
}

func TestNilPlanetIsNoop(t *testing.T) {
	var m *Planet
	m.ObserveTick(time.Second)
	m.ObserveKernel(KernelExtract, time.Second)
	m.SetQueueDepth(QueueTerraform, 1)
	m.SetNodes(1, 1)
	m.AddSplits(1)
	m.AddMerges(1)
	m.IncEvents()
	m.IncEmptyMeshes()
}
