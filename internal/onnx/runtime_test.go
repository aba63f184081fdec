package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_LinearClassifier(t *testing.T) {
	s, err := NewSession(sampleModel())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Width())

	out, err := s.Run([][]float32{{0, 4}, {0, -4}})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, -1}, out.Labels)
	assert.Greater(t, out.Probabilities[0][1], float32(0.99))
	assert.Greater(t, out.Probabilities[1][0], float32(0.99))
}

// scaled prepends a Scaler to the sample linear classifier.
func scaled(offset, scale []float32) *Model {
	m := sampleModel()
	m.Graph.Nodes[0].Inputs = []string{ScaledName}
	scaler := Node{
		OpType:  OpScaler,
		Domain:  DomainML,
		Inputs:  []string{InputName},
		Outputs: []string{ScaledName},
		Attributes: []Attribute{
			floatsAttr("offset", offset),
			floatsAttr("scale", scale),
		},
	}
	m.Graph.Nodes = append([]Node{scaler}, m.Graph.Nodes...)
	return m
}

func TestSession_Scaler(t *testing.T) {
	plain, err := NewSession(sampleModel())
	require.NoError(t, err)
	s, err := NewSession(scaled([]float32{1e6, 10}, []float32{0.5, 2}))
	require.NoError(t, err)

	want, err := plain.Run([][]float32{{1, -2}, {-3, 4}})
	require.NoError(t, err)
	got, err := s.Run([][]float32{{1e6 + 2, 9}, {1e6 - 6, 12}})
	require.NoError(t, err)
	assert.Equal(t, want.Labels, got.Labels)
	assert.Equal(t, want.Probabilities, got.Probabilities)
}

func TestSession_ScalerBroadcast(t *testing.T) {
	s, err := NewSession(scaled([]float32{1}, []float32{2}))
	require.NoError(t, err)
	plain, err := NewSession(sampleModel())
	require.NoError(t, err)

	want, err := plain.Run([][]float32{{0, 4}})
	require.NoError(t, err)
	got, err := s.Run([][]float32{{1, 3}})
	require.NoError(t, err)
	assert.Equal(t, want.Probabilities, got.Probabilities)
}

func TestNewSession_RejectsScalerChains(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *Model)
	}{
		{"width mismatch", func(m *Model) {
			m.Graph.Nodes[0].Attributes[0] = floatsAttr("offset", []float32{1, 2, 3})
		}},
		{"broken chain", func(m *Model) { m.Graph.Nodes[1].Inputs = []string{InputName} }},
		{"estimator first", func(m *Model) {
			m.Graph.Nodes[0], m.Graph.Nodes[1] = m.Graph.Nodes[1], m.Graph.Nodes[0]
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := scaled([]float32{0, 0}, []float32{1, 1})
			tt.mutate(m)
			_, err := NewSession(m)
			assert.ErrorIs(t, err, ErrInvalidModel)
		})
	}
}

func TestSession_RowWidth(t *testing.T) {
	s, err := NewSession(sampleModel())
	require.NoError(t, err)
	_, err = s.Run([][]float32{{1, 2, 3}})
	assert.Error(t, err)
}

// stump is a hand-built single-split regressor: x0 <= 1.5 -> 10 else 20.
func stump() *Model {
	m := sampleModel()
	m.Graph.Inputs[0].Dims[1].Value = 1
	m.Graph.Nodes[0] = Node{
		OpType: OpTreeRegressor,
		Domain: DomainML,
		Attributes: []Attribute{
			intsAttr("nodes_treeids", []int64{0, 0, 0}),
			intsAttr("nodes_nodeids", []int64{0, 1, 2}),
			intsAttr("nodes_featureids", []int64{0, 0, 0}),
			stringsAttr("nodes_modes", []string{"BRANCH_LEQ", "LEAF", "LEAF"}),
			floatsAttr("nodes_values", []float32{1.5, 0, 0}),
			intsAttr("nodes_truenodeids", []int64{1, 0, 0}),
			intsAttr("nodes_falsenodeids", []int64{2, 0, 0}),
			intsAttr("target_treeids", []int64{0, 0}),
			intsAttr("target_nodeids", []int64{1, 2}),
			intsAttr("target_ids", []int64{0, 0}),
			floatsAttr("target_weights", []float32{10, 20}),
			intAttr("n_targets", 1),
			stringAttr("aggregate_function", "AVERAGE"),
		},
	}
	return m
}

func TestSession_TreeRegressor(t *testing.T) {
	s, err := NewSession(stump())
	require.NoError(t, err)

	out, err := s.Run([][]float32{{1}, {1.5}, {1.6}})
	require.NoError(t, err)
	assert.Equal(t, []float32{10, 10, 20}, out.Values)
}

func TestNewSession_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *Model)
	}{
		{"unknown operator", func(m *Model) { m.Graph.Nodes[0].OpType = "Gemm" }},
		{"default domain", func(m *Model) { m.Graph.Nodes[0].Domain = "" }},
		{"symbolic width", func(m *Model) { m.Graph.Inputs[0].Dims[1] = Dim{Param: "F"} }},
		{"two nodes", func(m *Model) { m.Graph.Nodes = append(m.Graph.Nodes, m.Graph.Nodes[0]) }},
		{"dangling child", func(m *Model) {
			m.Graph.Nodes[0].Attributes[5] = intsAttr("nodes_truenodeids", []int64{7, 0, 0})
		}},
		{"feature out of range", func(m *Model) {
			m.Graph.Nodes[0].Attributes[2] = intsAttr("nodes_featureids", []int64{3, 0, 0})
		}},
		{"weight on branch", func(m *Model) {
			m.Graph.Nodes[0].Attributes[8] = intsAttr("target_nodeids", []int64{0, 2})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := stump()
			tt.mutate(m)
			_, err := NewSession(m)
			assert.ErrorIs(t, err, ErrInvalidModel)
		})
	}
}
