package export

import (
	"fmt"
	"math"

	"prisml-train/internal/ml"
	"prisml-train/internal/onnx"
)

// verify decodes the graph at path and checks it against the in-memory model
// on req.VerifyRows: the declared input width must match the feature names,
// and probabilities (classifiers) or values (regressors) must agree within
// the tolerance. Labels are not compared; a near tie may legitimately resolve
// differently in float32.
func (e *Exporter) verify(path string, req Request) error {
	graph, err := onnx.ReadFile(path)
	if err != nil {
		return err
	}
	width, err := graph.InputWidth()
	if err != nil {
		return err
	}
	if want := len(req.Metadata.FeatureNames); width != want {
		return fmt.Errorf("graph input width %d, expected %d feature names", width, want)
	}
	if len(req.VerifyRows) == 0 {
		return nil
	}

	session, err := onnx.NewSession(graph)
	if err != nil {
		return err
	}
	out, err := session.Run(toFloat32(req.VerifyRows))
	if err != nil {
		return err
	}

	tol := e.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}

	if cls, ok := req.Model.(ml.Classifier); ok {
		want := cls.PredictProba(req.VerifyRows)
		if len(out.Probabilities) != len(want) {
			return fmt.Errorf("graph returned %d probability rows, expected %d", len(out.Probabilities), len(want))
		}
		for i := range want {
			if len(out.Probabilities[i]) != len(want[i]) {
				return fmt.Errorf("row %d: graph returned %d classes, expected %d", i, len(out.Probabilities[i]), len(want[i]))
			}
			for c := range want[i] {
				if d := math.Abs(float64(out.Probabilities[i][c]) - want[i][c]); d > tol {
					return fmt.Errorf("row %d class %d: graph probability %g differs from model %g",
						i, c, out.Probabilities[i][c], want[i][c])
				}
			}
		}
		return nil
	}

	want := req.Model.Predict(req.VerifyRows)
	if len(out.Values) != len(want) {
		return fmt.Errorf("graph returned %d values, expected %d", len(out.Values), len(want))
	}
	for i := range want {
		if d := math.Abs(float64(out.Values[i]) - want[i]); d > tol*math.Max(1, math.Abs(want[i])) {
			return fmt.Errorf("row %d: graph value %g differs from model %g", i, out.Values[i], want[i])
		}
	}
	return nil
}

func toFloat32(X [][]float64) [][]float32 {
	out := make([][]float32, len(X))
	for i, row := range X {
		out[i] = make([]float32, len(row))
		for j, v := range row {
			out[i][j] = float32(v)
		}
	}
	return out
}
