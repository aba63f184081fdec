package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"prisml-train/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePayload(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "train.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Valid(t *testing.T) {
	path := writePayload(t, `{
		"features": [[0.1, 2, 3], [4, 5, 6]],
		"labels": [0, 1],
		"metadata": {
			"model_name": "churn",
			"feature_names": ["a", "b", "c"],
			"task_type": "classification"
		}
	}`)

	ds, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, ds.NumSamples())
	assert.Equal(t, 3, ds.NumFeatures())
	assert.Equal(t, []float64{0, 1}, ds.Labels)
	assert.Equal(t, "churn", ds.Metadata.ModelName)
	assert.Equal(t, []string{"a", "b", "c"}, ds.Metadata.FeatureNames)
	assert.Equal(t, common.TaskClassification, ds.Metadata.TaskType)
}

func TestParse_FeaturesCoercedToFloat32(t *testing.T) {
	ds, err := Parse([]byte(`{"features": [[0.1]], "labels": [0.1]}`))
	require.NoError(t, err)

	assert.Equal(t, float64(float32(0.1)), ds.Features[0][0])
	// Labels keep their native precision.
	assert.Equal(t, 0.1, ds.Labels[0])
}

func TestParse_MetadataDefaults(t *testing.T) {
	ds, err := Parse([]byte(`{"features": [[1, 2]], "labels": [3]}`))
	require.NoError(t, err)

	assert.Empty(t, ds.Metadata.ModelName)
	assert.Equal(t, common.TaskClassification, ds.Metadata.TaskType)
	assert.Equal(t, []string{"f0", "f1"}, ds.Metadata.FeatureNames)
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{"features": [[1, 2]`},
		{"missing features", `{"labels": [1]}`},
		{"missing labels", `{"features": [[1]]}`},
		{"empty features", `{"features": [], "labels": []}`},
		{"length mismatch", `{"features": [[1], [2]], "labels": [1]}`},
		{"ragged rows", `{"features": [[1, 2], [3]], "labels": [0, 1]}`},
		{"empty row", `{"features": [[]], "labels": [0]}`},
		{"string feature", `{"features": [["x"]], "labels": [0]}`},
		{"string label", `{"features": [[1]], "labels": ["cat"]}`},
		{"null feature", `{"features": [[1, null], [3, 4]], "labels": [0, 1]}`},
		{"null label", `{"features": [[1, 2], [3, 4]], "labels": [0, null]}`},
		{"null row", `{"features": [[1, 2], null], "labels": [0, 1]}`},
		{"float32 overflow", `{"features": [[1e300]], "labels": [0]}`},
		{"unknown task", `{"features": [[1]], "labels": [0], "metadata": {"task_type": "ranking"}}`},
		{"feature names length", `{"features": [[1, 2]], "labels": [0], "metadata": {"feature_names": ["a"]}}`},
		{"feature names type", `{"features": [[1]], "labels": [0], "metadata": {"feature_names": "a"}}`},
		{"metadata not object", `{"features": [[1]], "labels": [0], "metadata": [1]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.payload))
			assert.ErrorIs(t, err, ErrMalformedInput)
		})
	}
}

func TestParse_NullReportsPosition(t *testing.T) {
	_, err := Parse([]byte(`{"features": [[1, 2], [3, null]], "labels": [0, 1]}`))
	require.ErrorIs(t, err, ErrMalformedInput)
	assert.Contains(t, err.Error(), "row 1 column 1 is null")

	_, err = Parse([]byte(`{"features": [[1, 2], [3, 4]], "labels": [null, 1]}`))
	require.ErrorIs(t, err, ErrMalformedInput)
	assert.Contains(t, err.Error(), "label 0 is null")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestMetadata_Extended(t *testing.T) {
	ds, err := Parse([]byte(`{
		"features": [[1, 2]],
		"labels": [0],
		"metadata": {"model_name": "m", "owner": {"team": "ml"}, "version": 3}
	}`))
	require.NoError(t, err)

	ext, err := ds.Metadata.Extended(common.AlgoDecisionTree, map[string]float64{"accuracy": 0.8})
	require.NoError(t, err)

	assert.JSONEq(t, `{"team": "ml"}`, string(ext["owner"]))
	assert.JSONEq(t, `3`, string(ext["version"]))
	assert.JSONEq(t, `"m"`, string(ext["model_name"]))
	assert.JSONEq(t, `["f0", "f1"]`, string(ext["feature_names"]))
	assert.JSONEq(t, `"classification"`, string(ext["task_type"]))
	assert.JSONEq(t, `"DecisionTree"`, string(ext["algorithm"]))
	assert.JSONEq(t, `{"accuracy": 0.8}`, string(ext["metrics"]))
	assert.Equal(t, "null", string(ext["trained_at"]))

	// The source record is untouched.
	assert.NotContains(t, ds.Metadata.fields, "algorithm")
	assert.NotContains(t, ds.Metadata.fields, "trained_at")
	_, err = json.Marshal(ext)
	assert.NoError(t, err)
}
