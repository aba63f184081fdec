// Package ml provides the estimators, the model factory and the
// train/evaluate/gate step of the training pipeline.
//
// Estimators are plain Go implementations of CART decision trees, random
// forests and L2-regularised logistic regression. Every source of randomness
// takes an explicit seed so that identical inputs always produce identical
// models and metrics.
package ml

// Model is a supervised estimator. Fit is called exactly once, on the
// training partition only.
type Model interface {
	Fit(X [][]float64, y []float64) error
	Predict(X [][]float64) []float64
}

// Classifier exposes per-class probabilities. Columns of PredictProba are
// aligned with Classes, which is sorted ascending.
type Classifier interface {
	Model
	Classes() []float64
	PredictProba(X [][]float64) [][]float64
}

// TreeEnsemble is implemented by fitted tree models. A single decision tree
// is an ensemble of one.
type TreeEnsemble interface {
	Roots() []*Node
}

// LinearModel is implemented by fitted linear classifiers. Coefficients has
// one row per score column; a binary model has a single row scoring the
// positive class. The weights apply to inputs transformed as
// (x - offset) * scale, with offset and scale from Scaling.
type LinearModel interface {
	Coefficients() [][]float64
	Intercepts() []float64
	Scaling() (offset, scale []float64)
}
