package ml

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// LogisticRegression is an L2-regularised logistic classifier fitted by
// full-batch gradient descent. Binary problems use a single sigmoid score,
// multiclass problems a softmax over one score per class.
//
// Features are standardised as (x - offset) * scale before scoring, and the
// weights apply to the standardised values. Offsets and scales are rounded to
// float32 so the exported graph standardises exactly as the model does.
type LogisticRegression struct {
	MaxIter int
	C       float64 // inverse regularisation strength
	Tol     float64 // stop once every gradient component is below Tol

	classes    []float64
	offset     []float64
	scale      []float64
	coef       [][]float64
	intercept  []float64
	iterations int
}

// NewLogisticRegression returns an unfitted model.
func NewLogisticRegression(maxIter int, c, tol float64) *LogisticRegression {
	return &LogisticRegression{MaxIter: maxIter, C: c, Tol: tol}
}

func (m *LogisticRegression) Fit(X [][]float64, y []float64) error {
	if m.coef != nil {
		return errors.New("logistic regression: already fitted")
	}
	if err := validateXY(X, y); err != nil {
		return err
	}
	if err := checkFinite(X); err != nil {
		return err
	}
	if m.C <= 0 {
		return fmt.Errorf("logistic regression: C must be positive, got %g", m.C)
	}

	classes, encoded := encodeClasses(y)
	if len(classes) < 2 {
		return fmt.Errorf("logistic regression: needs at least 2 classes, got %d", len(classes))
	}
	m.classes = classes

	n, p := len(X), len(X[0])
	binary := len(classes) == 2
	k := len(classes)
	if binary {
		k = 1
	}

	m.offset = make([]float64, p)
	m.scale = make([]float64, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		m.offset[j] = float64(float32(mean))
		m.scale[j] = float64(float32(1 / std))
	}

	xs := mat.NewDense(n, p, nil)
	for i, x := range X {
		xs.SetRow(i, m.standardise(x))
	}

	target := mat.NewDense(n, k, nil)
	for i, c := range encoded {
		switch {
		case binary && c == 1:
			target.Set(i, 0, 1)
		case !binary:
			target.Set(i, int(c), 1)
		}
	}

	lambda := 1 / (m.C * float64(n))
	curvature := 0.5
	if binary {
		curvature = 0.25
	}
	lr := 1 / (curvature*float64(p+1) + lambda)

	w := mat.NewDense(p, k, nil)
	b := make([]float64, k)
	var z, grad, reg mat.Dense
	gb := make([]float64, k)

	m.iterations = 0
	for iter := 0; iter < m.MaxIter; iter++ {
		m.iterations = iter + 1

		z.Mul(xs, w)
		for i := 0; i < n; i++ {
			row := z.RawRowView(i)
			for c := range row {
				row[c] += b[c]
			}
			if binary {
				row[0] = sigmoid(row[0])
			} else {
				softmaxInPlace(row)
			}
		}
		z.Sub(&z, target)

		grad.Mul(xs.T(), &z)
		grad.Scale(1/float64(n), &grad)
		reg.Scale(lambda, w)
		grad.Add(&grad, &reg)

		for c := 0; c < k; c++ {
			gb[c] = 0
		}
		for i := 0; i < n; i++ {
			floats.Add(gb, z.RawRowView(i))
		}
		floats.Scale(1/float64(n), gb)

		if math.Max(floats.Norm(grad.RawMatrix().Data, math.Inf(1)), floats.Norm(gb, math.Inf(1))) < m.Tol {
			break
		}

		grad.Scale(lr, &grad)
		w.Sub(w, &grad)
		floats.AddScaled(b, -lr, gb)
	}

	if m.iterations == m.MaxIter {
		log.Debug().Int("max_iter", m.MaxIter).Msg("Logistic regression reached iteration cap")
	}

	m.coef = make([][]float64, k)
	m.intercept = make([]float64, k)
	for c := 0; c < k; c++ {
		m.coef[c] = make([]float64, p)
		m.intercept[c] = b[c]
		for j := 0; j < p; j++ {
			m.coef[c][j] = w.At(j, c)
		}
	}
	return nil
}

// PredictProba returns class probabilities per row, aligned with Classes.
func (m *LogisticRegression) PredictProba(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, x := range X {
		scores := m.scores(x)
		if len(m.classes) == 2 {
			p := sigmoid(scores[0])
			out[i] = []float64{1 - p, p}
			continue
		}
		softmaxInPlace(scores)
		out[i] = scores
	}
	return out
}

func (m *LogisticRegression) Predict(X [][]float64) []float64 {
	proba := m.PredictProba(X)
	out := make([]float64, len(X))
	for i, p := range proba {
		out[i] = m.classes[argmax(p)]
	}
	return out
}

func (m *LogisticRegression) scores(x []float64) []float64 {
	z := m.standardise(x)
	s := make([]float64, len(m.coef))
	for c, row := range m.coef {
		s[c] = m.intercept[c] + floats.Dot(row, z)
	}
	return s
}

func (m *LogisticRegression) standardise(x []float64) []float64 {
	z := make([]float64, len(x))
	for j, v := range x {
		z[j] = (v - m.offset[j]) * m.scale[j]
	}
	return z
}

func (m *LogisticRegression) Classes() []float64                 { return m.classes }
func (m *LogisticRegression) Coefficients() [][]float64          { return m.coef }
func (m *LogisticRegression) Intercepts() []float64              { return m.intercept }
func (m *LogisticRegression) Scaling() (offset, scale []float64) { return m.offset, m.scale }

// Iterations returns how many gradient steps the last Fit took.
func (m *LogisticRegression) Iterations() int { return m.iterations }

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func softmaxInPlace(v []float64) {
	mx := floats.Max(v)
	sum := 0.0
	for i := range v {
		v[i] = math.Exp(v[i] - mx)
		sum += v[i]
	}
	floats.Scale(1/sum, v)
}
