package ml

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitIndices_Sizes(t *testing.T) {
	tests := []struct {
		n        int
		fraction float64
		test     int
	}{
		{100, 0.2, 20},
		{10, 0.25, 3},
		{3, 0.5, 2},
		{2, 0.1, 1},
	}
	for _, tt := range tests {
		p, err := SplitIndices(tt.n, tt.fraction, 42)
		require.NoError(t, err)
		assert.Len(t, p.Test, tt.test, "n=%d fraction=%g", tt.n, tt.fraction)
		assert.Len(t, p.Train, tt.n-tt.test)
	}
}

func TestSplitIndices_CoversEveryRowOnce(t *testing.T) {
	p, err := SplitIndices(50, 0.3, 7)
	require.NoError(t, err)

	all := append(append([]int(nil), p.Train...), p.Test...)
	sort.Ints(all)
	for i, v := range all {
		assert.Equal(t, i, v)
	}
}

func TestSplitIndices_Deterministic(t *testing.T) {
	a, err := SplitIndices(200, 0.2, 42)
	require.NoError(t, err)
	b, err := SplitIndices(200, 0.2, 42)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := SplitIndices(200, 0.2, 43)
	require.NoError(t, err)
	assert.NotEqual(t, a.Test, c.Test)
}

func TestSplitIndices_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		fraction float64
	}{
		{"zero fraction", 10, 0},
		{"whole dataset", 10, 1},
		{"negative", 10, -0.1},
		{"single row", 1, 0.5},
		{"no rows", 0, 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SplitIndices(tt.n, tt.fraction, 1)
			assert.ErrorIs(t, err, ErrSplit)
		})
	}
}
