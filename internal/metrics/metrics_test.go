package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewWithRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry)

	if m == nil {
		t.Fatal("NewWithRegistry returned nil")
	}
	if m.gatherer != registry {
		t.Error("expected the registry to be used as gatherer")
	}
}

func TestNew_IsolatedRegistries(t *testing.T) {
	// Two runs in one process must not collide on registration.
	a := New()
	b := New()
	a.RecordArtifact(10)
	if got := testutil.ToFloat64(b.ArtifactBytes); got != 0 {
		t.Errorf("expected isolated registries, got %f", got)
	}
}

func TestMetrics_Recording(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.RecordDataset(100, 3)
	if got := testutil.ToFloat64(m.DatasetSamples); got != 100 {
		t.Errorf("expected 100 samples, got %f", got)
	}
	if got := testutil.ToFloat64(m.DatasetFeatures); got != 3 {
		t.Errorf("expected 3 features, got %f", got)
	}

	m.RecordTraining(80, 20, map[string]float64{"mse": 0.5, "r2": 0.75})
	if got := testutil.ToFloat64(m.TrainSamples); got != 80 {
		t.Errorf("expected 80 train samples, got %f", got)
	}
	if got := testutil.ToFloat64(m.TestSamples); got != 20 {
		t.Errorf("expected 20 test samples, got %f", got)
	}
	if got := testutil.ToFloat64(m.ModelScore.WithLabelValues("r2")); got != 0.75 {
		t.Errorf("expected r2 0.75, got %f", got)
	}

	m.RecordArtifact(2048)
	if got := testutil.ToFloat64(m.ArtifactBytes); got != 2048 {
		t.Errorf("expected 2048 bytes, got %f", got)
	}
}

func TestMetrics_RecordOutcome(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())
	finished := time.Unix(1_700_000_000, 0)

	m.RecordOutcome(false, finished)
	m.RecordOutcome(true, finished)
	m.RecordOutcome(true, finished)

	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("succeeded")); got != 2 {
		t.Errorf("expected 2 successful runs, got %f", got)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("expected 1 failed run, got %f", got)
	}
	if got := testutil.ToFloat64(m.LastRunSuccess); got != 1 {
		t.Errorf("expected last run success 1, got %f", got)
	}
	if got := testutil.ToFloat64(m.LastRunTime); got != 1_700_000_000 {
		t.Errorf("expected last run time, got %f", got)
	}
}

func TestMetrics_ObserveStage(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())
	m.ObserveStage("load", 20*time.Millisecond)
	m.ObserveStage("train", time.Second)

	if n := testutil.CollectAndCount(m.StageDuration); n != 2 {
		t.Errorf("expected 2 stage series, got %d", n)
	}
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := New()
	m.RecordDataset(10, 2)
	m.RecordOutcome(true, time.Now())

	path := filepath.Join(t.TempDir(), "prisml.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read textfile: %v", err)
	}
	out := string(data)
	for _, want := range []string{
		"prisml_dataset_samples 10",
		"prisml_dataset_features 2",
		`prisml_runs_total{outcome="succeeded"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("textfile missing %q:\n%s", want, out)
		}
	}
}

func TestMetrics_WriteTextfile_NoGatherer(t *testing.T) {
	m := NewWithRegistry(registererOnly{prometheus.NewRegistry()})
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err == nil {
		t.Error("expected error without a gatherer")
	}
}

// registererOnly hides the Gatherer side of a registry.
type registererOnly struct {
	r *prometheus.Registry
}

func (o registererOnly) Register(c prometheus.Collector) error   { return o.r.Register(c) }
func (o registererOnly) MustRegister(cs ...prometheus.Collector) { o.r.MustRegister(cs...) }
func (o registererOnly) Unregister(c prometheus.Collector) bool  { return o.r.Unregister(c) }
