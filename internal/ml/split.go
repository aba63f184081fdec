package ml

import (
	"fmt"
	"math"
	"math/rand"
)

// Partition is a deterministic train/test split of a dataset's rows.
type Partition struct {
	Train []int
	Test  []int
}

// SplitIndices shuffles 0..n-1 with seed and reserves ceil(n*testFraction)
// rows for testing. The same (n, testFraction, seed) always yields the same
// partition.
func SplitIndices(n int, testFraction float64, seed int64) (Partition, error) {
	if testFraction <= 0 || testFraction >= 1 || math.IsNaN(testFraction) {
		return Partition{}, fmt.Errorf("%w: test fraction %g must be in (0, 1)", ErrSplit, testFraction)
	}
	nTest := int(math.Ceil(testFraction * float64(n)))
	nTrain := n - nTest
	if nTest < 1 || nTrain < 1 {
		return Partition{}, fmt.Errorf("%w: %d samples with test fraction %g leaves %d train / %d test",
			ErrSplit, n, testFraction, nTrain, nTest)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return Partition{Train: perm[nTest:], Test: perm[:nTest]}, nil
}

func selectRows(X [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	xs := make([][]float64, len(idx))
	ys := make([]float64, len(idx))
	for i, j := range idx {
		xs[i] = X[j]
		ys[i] = y[j]
	}
	return xs, ys
}
