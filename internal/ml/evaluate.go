package ml

import (
	"math"

	"prisml-train/internal/common"

	"gonum.org/v1/gonum/stat"
)

// Metric names as they appear in the sidecar metadata.
const (
	MetricAccuracy = "accuracy"
	MetricMSE      = "mse"
	MetricR2       = "r2"
)

// Metrics is the held-out evaluation of a fitted model.
type Metrics struct {
	Task     string
	Accuracy float64
	MSE      float64
	R2       float64
}

// Map returns {accuracy} for classification and {mse, r2} for regression.
func (m Metrics) Map() map[string]float64 {
	if m.Task == common.TaskRegression {
		return map[string]float64{MetricMSE: m.MSE, MetricR2: m.R2}
	}
	return map[string]float64{MetricAccuracy: m.Accuracy}
}

// Gated returns the metric the quality gate compares against the threshold.
func (m Metrics) Gated() (string, float64) {
	if m.Task == common.TaskRegression {
		return MetricR2, m.R2
	}
	return MetricAccuracy, m.Accuracy
}

// Evaluate scores predictions against the held-out labels.
func Evaluate(task string, yTrue, yPred []float64) Metrics {
	m := Metrics{Task: task}
	if task == common.TaskRegression {
		m.MSE = MeanSquaredError(yTrue, yPred)
		m.R2 = R2Score(yTrue, yPred)
		return m
	}
	m.Accuracy = Accuracy(yTrue, yPred)
	return m
}

// Accuracy is the fraction of exact label matches.
func Accuracy(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	hits := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(yTrue))
}

// MeanSquaredError returns the mean of squared residuals.
func MeanSquaredError(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	s := 0.0
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		s += d * d
	}
	return s / float64(len(yTrue))
}

// R2Score returns the coefficient of determination. With constant targets,
// including a single sample, it is 1 for a perfect fit and 0 otherwise, so
// the result is never NaN.
func R2Score(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	mean := stat.Mean(yTrue, nil)
	ssTot := 0.0
	for _, v := range yTrue {
		ssTot += (v - mean) * (v - mean)
	}
	if ssTot == 0 {
		if MeanSquaredError(yTrue, yPred) == 0 {
			return 1
		}
		return 0
	}
	r2 := stat.RSquaredFrom(yPred, yTrue, nil)
	if math.IsNaN(r2) {
		return 0
	}
	return r2
}
