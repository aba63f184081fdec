package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomForestClassifier_Fit(t *testing.T) {
	X, y := blobs([][]float64{{0, 0, 0}, {4, 4, 4}, {0, 4, 8}}, 30, 0.7, 11)

	rf := NewRandomForestClassifier(WithEstimators(15), WithMaxDepth(6), WithSeed(42))
	require.NoError(t, rf.Fit(X, y))

	assert.Len(t, rf.Roots(), 15)
	assert.Equal(t, []float64{0, 1, 2}, rf.Classes())
	assert.Greater(t, Accuracy(y, rf.Predict(X)), 0.95)

	for _, p := range rf.PredictProba(X) {
		require.Len(t, p, 3)
		assert.InDelta(t, 1.0, p[0]+p[1]+p[2], 1e-9)
	}
}

func TestRandomForestClassifier_Deterministic(t *testing.T) {
	X, y := blobs([][]float64{{0, 0}, {1, 1}}, 40, 0.8, 2)

	a := NewRandomForestClassifier(WithEstimators(10), WithSeed(42))
	b := NewRandomForestClassifier(WithEstimators(10), WithSeed(42))
	require.NoError(t, a.Fit(X, y))
	require.NoError(t, b.Fit(X, y))

	assert.Equal(t, a.PredictProba(X), b.PredictProba(X))
}

func TestRandomForestClassifier_DefaultMaxFeatures(t *testing.T) {
	X, y := blobs([][]float64{{0, 0, 0, 0, 0, 0, 0, 0, 0}, {1, 1, 1, 1, 1, 1, 1, 1, 1}}, 10, 0.3, 3)
	rf := NewRandomForestClassifier(WithEstimators(2), WithSeed(1))
	require.NoError(t, rf.Fit(X, y))
	assert.Equal(t, 3, rf.cfg.maxFeatures)
}

func TestRandomForest_InvalidEstimators(t *testing.T) {
	X, y := blobs([][]float64{{0}, {1}}, 5, 0.1, 1)
	assert.Error(t, NewRandomForestClassifier(WithEstimators(0)).Fit(X, y))
	assert.Error(t, NewRandomForestRegressor(WithEstimators(0)).Fit(X, y))
}

func TestRandomForestRegressor(t *testing.T) {
	X, y := linearTargets(300, 8)

	rf := NewRandomForestRegressor(WithEstimators(20), WithMaxDepth(8), WithSeed(42))
	require.NoError(t, rf.Fit(X, y))
	assert.Len(t, rf.Roots(), 20)
	assert.Greater(t, R2Score(y, rf.Predict(X)), 0.9)

	again := NewRandomForestRegressor(WithEstimators(20), WithMaxDepth(8), WithSeed(42))
	require.NoError(t, again.Fit(X, y))
	assert.Equal(t, rf.Predict(X), again.Predict(X))
}

func TestSqrtFeatures(t *testing.T) {
	assert.Equal(t, 1, sqrtFeatures(1))
	assert.Equal(t, 1, sqrtFeatures(3))
	assert.Equal(t, 2, sqrtFeatures(4))
	assert.Equal(t, 3, sqrtFeatures(10))
}
