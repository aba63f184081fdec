package ml

import (
	"math/rand"
)

// blobs returns n rows per centre drawn around each centre with unit-ish
// spread. Labels are the centre index.
func blobs(centres [][]float64, n int, spread float64, seed int64) ([][]float64, []float64) {
	rnd := rand.New(rand.NewSource(seed))
	var X [][]float64
	var y []float64
	for c, centre := range centres {
		for i := 0; i < n; i++ {
			row := make([]float64, len(centre))
			for j, v := range centre {
				row[j] = v + rnd.NormFloat64()*spread
			}
			X = append(X, row)
			y = append(y, float64(c))
		}
	}
	return X, y
}

func linearTargets(n int, seed int64) ([][]float64, []float64) {
	rnd := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := range X {
		a, b := rnd.Float64()*10, rnd.Float64()*10
		X[i] = []float64{a, b}
		y[i] = 3*a - 2*b + 1
	}
	return X, y
}
