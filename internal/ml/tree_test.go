package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionTreeClassifier_SeparableData(t *testing.T) {
	X, y := blobs([][]float64{{0, 0}, {6, 6}}, 40, 0.5, 1)

	tree := NewDecisionTreeClassifier(WithSeed(3))
	require.NoError(t, tree.Fit(X, y))

	assert.Equal(t, []float64{0, 1}, tree.Classes())
	assert.Equal(t, 1.0, Accuracy(y, tree.Predict(X)))

	for _, p := range tree.PredictProba(X) {
		assert.Len(t, p, 2)
		assert.InDelta(t, 1.0, p[0]+p[1], 1e-12)
	}
}

func TestDecisionTreeClassifier_ArbitraryLabels(t *testing.T) {
	X := [][]float64{{0}, {1}, {2}, {3}, {10}, {11}, {12}, {13}}
	y := []float64{7, 7, 7, 7, -2, -2, -2, -2}

	tree := NewDecisionTreeClassifier()
	require.NoError(t, tree.Fit(X, y))
	assert.Equal(t, []float64{-2, 7}, tree.Classes())
	assert.Equal(t, y, tree.Predict(X))
}

func TestDecisionTreeClassifier_MaxDepth(t *testing.T) {
	X, y := blobs([][]float64{{0, 0}, {1, 1}, {2, 0}, {0, 2}}, 30, 0.8, 5)

	tree := NewDecisionTreeClassifier(WithMaxDepth(3), WithSeed(1))
	require.NoError(t, tree.Fit(X, y))
	assert.LessOrEqual(t, tree.Roots()[0].Depth(), 3)
}

func TestDecisionTreeClassifier_RefitRejected(t *testing.T) {
	X, y := blobs([][]float64{{0}, {5}}, 5, 0.1, 1)
	tree := NewDecisionTreeClassifier()
	require.NoError(t, tree.Fit(X, y))
	assert.Error(t, tree.Fit(X, y))
}

func TestDecisionTreeClassifier_InvalidInput(t *testing.T) {
	tree := NewDecisionTreeClassifier()
	assert.Error(t, tree.Fit(nil, nil))
	assert.Error(t, NewDecisionTreeClassifier().Fit([][]float64{{1}, {2}}, []float64{1}))
	assert.Error(t, NewDecisionTreeClassifier().Fit([][]float64{{1, 2}, {2}}, []float64{1, 0}))
}

func TestDecisionTree_ThresholdsAreFloat32(t *testing.T) {
	X, y := blobs([][]float64{{0.1, 0.2}, {0.3, 0.1}}, 50, 0.07, 9)
	tree := NewDecisionTreeClassifier(WithSeed(2))
	require.NoError(t, tree.Fit(X, y))

	var walk func(n *Node)
	walk = func(n *Node) {
		if n.IsLeaf() {
			return
		}
		assert.Equal(t, n.Threshold, float64(float32(n.Threshold)))
		walk(n.Left)
		walk(n.Right)
	}
	walk(tree.Roots()[0])
}

func TestSplitThreshold(t *testing.T) {
	assert.Equal(t, 1.5, splitThreshold(1, 2))

	lo, hi := 1.0, 1.0+1e-12
	th := splitThreshold(lo, hi)
	assert.GreaterOrEqual(t, th, lo)
	assert.Less(t, th, hi)
}

func TestDecisionTreeRegressor(t *testing.T) {
	X := [][]float64{{1}, {2}, {3}, {4}, {5}, {6}}
	y := []float64{10, 10, 10, 20, 20, 20}

	tree := NewDecisionTreeRegressor()
	require.NoError(t, tree.Fit(X, y))
	assert.Equal(t, y, tree.Predict(X))

	root := tree.Roots()[0]
	assert.Equal(t, 0, root.Feature)
	assert.Equal(t, 3.5, root.Threshold)
}

func TestDecisionTreeRegressor_Linear(t *testing.T) {
	X, y := linearTargets(200, 4)
	tree := NewDecisionTreeRegressor(WithMaxDepth(10), WithSeed(4))
	require.NoError(t, tree.Fit(X, y))
	assert.Greater(t, R2Score(y, tree.Predict(X)), 0.95)
}

func TestGini(t *testing.T) {
	assert.Equal(t, 0.0, gini([]float64{4, 0}))
	assert.InDelta(t, 0.5, gini([]float64{2, 2}), 1e-12)
	assert.Equal(t, 0.0, gini([]float64{0, 0}))
}
