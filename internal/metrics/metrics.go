// Package metrics records Prometheus metrics for a training run.
//
// A training job is a batch process with no scrape endpoint, so the metrics
// live in a private registry and are written once at the end of the run in
// the node_exporter textfile format.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for one run.
type Metrics struct {
	StageDuration   *prometheus.HistogramVec // Wall time per pipeline stage
	RunsTotal       *prometheus.CounterVec   // Runs by outcome
	DatasetSamples  prometheus.Gauge         // Rows in the loaded dataset
	DatasetFeatures prometheus.Gauge         // Columns in the loaded dataset
	TrainSamples    prometheus.Gauge         // Rows in the training partition
	TestSamples     prometheus.Gauge         // Rows in the held-out partition
	ModelScore      *prometheus.GaugeVec     // Held-out metric by name
	ArtifactBytes   prometheus.Gauge         // Size of the exported graph
	LastRunSuccess  prometheus.Gauge         // 1 if the last run succeeded
	LastRunTime     prometheus.Gauge         // Unix time the last run finished

	gatherer prometheus.Gatherer
}

// New creates metrics on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates metrics registered with registerer. When the
// registerer can also gather (as *prometheus.Registry does), WriteTextfile
// exports from it.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	m := &Metrics{
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prisml_stage_duration_seconds",
			Help:    "Wall time spent in each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prisml_runs_total",
			Help: "Training runs by outcome",
		}, []string{"outcome"}),
		DatasetSamples: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prisml_dataset_samples",
			Help: "Number of samples in the loaded dataset",
		}),
		DatasetFeatures: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prisml_dataset_features",
			Help: "Number of features in the loaded dataset",
		}),
		TrainSamples: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prisml_train_samples",
			Help: "Number of samples in the training partition",
		}),
		TestSamples: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prisml_test_samples",
			Help: "Number of samples in the held-out partition",
		}),
		ModelScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "prisml_model_score",
			Help: "Held-out evaluation metric of the trained model",
		}, []string{"metric"}),
		ArtifactBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prisml_artifact_bytes",
			Help: "Size of the exported model graph in bytes",
		}),
		LastRunSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prisml_last_run_success",
			Help: "Whether the last training run succeeded (1) or failed (0)",
		}),
		LastRunTime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prisml_last_run_timestamp_seconds",
			Help: "Unix time at which the last training run finished",
		}),
	}
	if g, ok := registerer.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) RecordDataset(samples, features int) {
	m.DatasetSamples.Set(float64(samples))
	m.DatasetFeatures.Set(float64(features))
}

// RecordTraining stores the split sizes and every held-out score.
func (m *Metrics) RecordTraining(train, test int, scores map[string]float64) {
	m.TrainSamples.Set(float64(train))
	m.TestSamples.Set(float64(test))
	for name, v := range scores {
		m.ModelScore.WithLabelValues(name).Set(v)
	}
}

func (m *Metrics) RecordArtifact(bytes int) {
	m.ArtifactBytes.Set(float64(bytes))
}

// RecordOutcome counts the run and stamps the last-run gauges.
func (m *Metrics) RecordOutcome(succeeded bool, finished time.Time) {
	outcome, success := "failed", 0.0
	if succeeded {
		outcome, success = "succeeded", 1
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.LastRunSuccess.Set(success)
	m.LastRunTime.Set(float64(finished.Unix()))
}

// WriteTextfile writes every gathered metric to path in the text exposition
// format, atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m.gatherer == nil {
		return errors.New("metrics registry cannot be gathered")
	}
	return prometheus.WriteToTextfile(path, m.gatherer)
}
