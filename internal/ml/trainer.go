package ml

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// TrainOptions configures a single train/evaluate run.
type TrainOptions struct {
	Algorithm string
	Task      string
	TestSplit float64 // held-out fraction, in (0, 1)
	MinScore  float64 // minimum accuracy (classification) or R² (regression)
	Seed      int64   // drives the split and every estimator
}

// Result is a fitted model that passed the quality gate.
type Result struct {
	Model     Model
	Algorithm string
	Task      string
	Metrics   Metrics
	TrainSize int
	TestSize  int

	// Held-out partition, kept so the exported artifact can be checked
	// against the in-memory model.
	TestFeatures [][]float64
	TestLabels   []float64

	FitDuration time.Duration
}

// Train resolves the model, splits X/y, fits on the training rows, scores the
// held-out rows and applies the quality gate. The algorithm is validated
// before any data is touched.
func Train(X [][]float64, y []float64, opts TrainOptions) (*Result, error) {
	model, err := NewModel(opts.Algorithm, opts.Task, opts.Seed)
	if err != nil {
		return nil, err
	}

	part, err := SplitIndices(len(X), opts.TestSplit, opts.Seed)
	if err != nil {
		return nil, err
	}
	xTrain, yTrain := selectRows(X, y, part.Train)
	xTest, yTest := selectRows(X, y, part.Test)

	log.Info().
		Int("train", len(xTrain)).
		Int("test", len(xTest)).
		Int64("seed", opts.Seed).
		Msg("Data split")

	log.Info().
		Str("algorithm", opts.Algorithm).
		Str("task", opts.Task).
		Msg("Training model")

	start := time.Now()
	if err := model.Fit(xTrain, yTrain); err != nil {
		return nil, fmt.Errorf("fit %s: %w", opts.Algorithm, err)
	}
	fitDuration := time.Since(start)

	metrics := Evaluate(opts.Task, yTest, model.Predict(xTest))
	logMetrics(metrics, fitDuration)

	name, score := metrics.Gated()
	if score < opts.MinScore {
		return nil, &QualityGateError{Metric: name, Value: score, Threshold: opts.MinScore}
	}

	return &Result{
		Model:        model,
		Algorithm:    opts.Algorithm,
		Task:         opts.Task,
		Metrics:      metrics,
		TrainSize:    len(xTrain),
		TestSize:     len(xTest),
		TestFeatures: xTest,
		TestLabels:   yTest,
		FitDuration:  fitDuration,
	}, nil
}

func logMetrics(m Metrics, d time.Duration) {
	ev := log.Info().Dur("fit_duration", d)
	for k, v := range m.Map() {
		ev = ev.Float64(k, v)
	}
	ev.Msg("Model evaluated on held-out data")
}
