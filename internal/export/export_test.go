package export

import (
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"prisml-train/internal/common"
	"prisml-train/internal/dataset"
	"prisml-train/internal/ml"
	"prisml-train/internal/onnx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func separable(n int) ([][]float64, []float64) {
	X := make([][]float64, 0, 2*n)
	y := make([]float64, 0, 2*n)
	for i := 0; i < n; i++ {
		v := float64(i) * 0.25
		X = append(X, []float64{v, 1 - v, 0.5})
		y = append(y, 0)
		X = append(X, []float64{v + 20, 3 + v, 0.5})
		y = append(y, 1)
	}
	return X, y
}

func fittedForest(t *testing.T) (ml.Model, [][]float64) {
	t.Helper()
	X, y := separable(30)
	rf := ml.NewRandomForestClassifier(ml.WithEstimators(5), ml.WithMaxDepth(4), ml.WithSeed(42))
	require.NoError(t, rf.Fit(X, y))
	return rf, X
}

func testMetadata(t *testing.T) dataset.Metadata {
	t.Helper()
	ds, err := dataset.Parse([]byte(`{
		"features": [[1, 2, 3]],
		"labels": [0],
		"metadata": {
			"model_name": "churn",
			"feature_names": ["tenure", "spend", "visits"],
			"owner": "growth-team"
		}
	}`))
	require.NoError(t, err)
	return ds.Metadata
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestMetadataPath(t *testing.T) {
	tests := map[string]string{
		"model.onnx":        "model.metadata.json",
		"out/churn.v2.onnx": "out/churn.v2.metadata.json",
		"out/model":         "out/model.metadata.json",
	}
	for in, want := range tests {
		assert.Equal(t, want, MetadataPath(in))
	}
}

func TestExport_LogisticRegressionLargeOffset(t *testing.T) {
	// spent sits near 1e6 with a spread of about 10, like a raw currency amount.
	rnd := rand.New(rand.NewSource(3))
	var features [][]float64
	var labels []float64
	for i := 0; i < 100; i++ {
		age := 20 + rnd.Float64()*50
		spent := 1e6 + rnd.NormFloat64()*10
		features = append(features, []float64{age, spent})
		label := 0.0
		if (age-45)/10+(spent-1e6)/10+rnd.NormFloat64()*0.5 > 0 {
			label = 1
		}
		labels = append(labels, label)
	}
	payload, err := json.Marshal(map[string]any{
		"features": features,
		"labels":   labels,
		"metadata": map[string]any{"model_name": "spend", "feature_names": []string{"age", "spent"}},
	})
	require.NoError(t, err)
	ds, err := dataset.Parse(payload)
	require.NoError(t, err)

	res, err := ml.Train(ds.Features, ds.Labels, ml.TrainOptions{
		Algorithm: common.AlgoLogisticRegression,
		Task:      common.TaskClassification,
		TestSplit: 0.2,
		MinScore:  0,
		Seed:      42,
	})
	require.NoError(t, err)

	dir := t.TempDir()
	art, err := New(true).Export(Request{
		Model:      res.Model,
		ModelPath:  filepath.Join(dir, "m.onnx"),
		Metadata:   ds.Metadata,
		Algorithm:  res.Algorithm,
		Metrics:    res.Metrics,
		VerifyRows: res.TestFeatures,
	})
	require.NoError(t, err)
	assert.True(t, art.Verified)
	assert.ElementsMatch(t, []string{"m.onnx", "m.metadata.json"}, dirEntries(t, dir))
}

func TestExport_WritesArtifactPair(t *testing.T) {
	dir := t.TempDir()
	model, X := fittedForest(t)
	meta := testMetadata(t)

	art, err := New(true).Export(Request{
		Model:      model,
		ModelPath:  filepath.Join(dir, "model.onnx"),
		Metadata:   meta,
		Algorithm:  common.AlgoRandomForest,
		Metrics:    ml.Metrics{Task: common.TaskClassification, Accuracy: 0.95},
		VerifyRows: X,
	})
	require.NoError(t, err)
	assert.True(t, art.Verified)
	assert.ElementsMatch(t, []string{"model.onnx", "model.metadata.json"}, dirEntries(t, dir))

	graph, err := onnx.ReadFile(art.ModelPath)
	require.NoError(t, err)
	width, err := graph.InputWidth()
	require.NoError(t, err)

	raw, err := os.ReadFile(art.MetadataPath)
	require.NoError(t, err)
	var sidecar map[string]any
	require.NoError(t, json.Unmarshal(raw, &sidecar))

	assert.Len(t, sidecar["feature_names"], width)
	assert.Equal(t, "churn", sidecar["model_name"])
	assert.Equal(t, "growth-team", sidecar["owner"])
	assert.Equal(t, common.TaskClassification, sidecar["task_type"])
	assert.Equal(t, common.AlgoRandomForest, sidecar["algorithm"])
	assert.Equal(t, map[string]any{"accuracy": 0.95}, sidecar["metrics"])
	assert.Contains(t, sidecar, "trained_at")
	assert.Nil(t, sidecar["trained_at"])

	name, ok := graph.MetadataValue("model_name")
	assert.True(t, ok)
	assert.Equal(t, "churn", name)
}

func TestExport_Regressor(t *testing.T) {
	dir := t.TempDir()
	X, y := separable(20)
	for i := range y {
		y[i] = X[i][0]*2 + 1
	}
	rf := ml.NewRandomForestRegressor(ml.WithEstimators(4), ml.WithSeed(1))
	require.NoError(t, rf.Fit(X, y))

	meta := testMetadata(t)
	meta.TaskType = common.TaskRegression
	art, err := New(true).Export(Request{
		Model:      rf,
		ModelPath:  filepath.Join(dir, "reg.onnx"),
		Metadata:   meta,
		Algorithm:  common.AlgoRandomForest,
		Metrics:    ml.Metrics{Task: common.TaskRegression, MSE: 0.1, R2: 0.9},
		VerifyRows: X,
	})
	require.NoError(t, err)
	assert.FileExists(t, art.ModelPath)
	assert.FileExists(t, filepath.Join(dir, "reg.metadata.json"))
}

type constantModel struct{}

func (constantModel) Fit([][]float64, []float64) error { return nil }
func (constantModel) Predict(X [][]float64) []float64  { return make([]float64, len(X)) }

func TestExport_UnsupportedModel(t *testing.T) {
	dir := t.TempDir()
	_, err := New(false).Export(Request{
		Model:     constantModel{},
		ModelPath: filepath.Join(dir, "model.onnx"),
		Metadata:  testMetadata(t),
	})
	assert.ErrorIs(t, err, ErrExport)
	assert.ErrorIs(t, err, onnx.ErrUnsupportedModel)
	assert.Empty(t, dirEntries(t, dir))
}

func TestExport_MissingDirectory(t *testing.T) {
	model, _ := fittedForest(t)
	_, err := New(false).Export(Request{
		Model:     model,
		ModelPath: filepath.Join(t.TempDir(), "missing", "model.onnx"),
		Metadata:  testMetadata(t),
	})
	assert.ErrorIs(t, err, ErrExport)
}

func TestExport_MetadataWriteFailureRemovesModel(t *testing.T) {
	dir := t.TempDir()
	// A non-empty directory squatting on the sidecar path makes the rename fail.
	blocker := filepath.Join(dir, "model.metadata.json")
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "keep"), 0o755))

	model, _ := fittedForest(t)
	_, err := New(false).Export(Request{
		Model:     model,
		ModelPath: filepath.Join(dir, "model.onnx"),
		Metadata:  testMetadata(t),
	})
	assert.ErrorIs(t, err, ErrExport)
	assert.NoFileExists(t, filepath.Join(dir, "model.onnx"))
	assert.ElementsMatch(t, []string{"model.metadata.json"}, dirEntries(t, dir))
}

// skewedTree exports its real tree but reports different probabilities, so
// verification must reject it.
type skewedTree struct {
	*ml.DecisionTreeClassifier
}

func (s skewedTree) PredictProba(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i := range out {
		out[i] = []float64{1, 0}
	}
	return out
}

func TestExport_VerificationFailureRemovesBoth(t *testing.T) {
	dir := t.TempDir()
	X, y := separable(10)
	tree := ml.NewDecisionTreeClassifier()
	require.NoError(t, tree.Fit(X, y))

	_, err := New(true).Export(Request{
		Model:      skewedTree{tree},
		ModelPath:  filepath.Join(dir, "model.onnx"),
		Metadata:   testMetadata(t),
		Algorithm:  common.AlgoDecisionTree,
		VerifyRows: X,
	})
	assert.ErrorIs(t, err, ErrExport)
	assert.Contains(t, err.Error(), "differs from model")
	assert.Empty(t, dirEntries(t, dir))
}

func TestExport_WidthMismatchRejected(t *testing.T) {
	dir := t.TempDir()
	model, X := fittedForest(t)
	meta := testMetadata(t)
	meta.FeatureNames = append(meta.FeatureNames, "extra")

	_, err := New(true).Export(Request{
		Model:      model,
		ModelPath:  filepath.Join(dir, "model.onnx"),
		Metadata:   meta,
		VerifyRows: X,
	})
	assert.ErrorIs(t, err, ErrExport)
	assert.Empty(t, dirEntries(t, dir))
}

func TestWriteFileAtomic_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, writeFileAtomic(path, []byte("one"), 0o644))
	require.NoError(t, writeFileAtomic(path, []byte("two"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}
