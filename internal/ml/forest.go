package ml

import (
	"errors"
	"math"
	"math/rand"
)

// forest holds the trees shared by the classifier and regressor variants.
// Trees are grown one after another; each one draws its bootstrap sample and
// feature subsets from a seed taken from the forest's own generator.
type forest struct {
	cfg   treeConfig
	roots []*Node
}

func (f *forest) fit(X [][]float64, target []float64, nClasses int) {
	n := len(X)
	rnd := rand.New(rand.NewSource(f.cfg.seed))
	f.roots = make([]*Node, 0, f.cfg.estimators)

	for t := 0; t < f.cfg.estimators; t++ {
		treeSeed := rnd.Int63()
		treeRand := rand.New(rand.NewSource(treeSeed))

		idx := make([]int, n)
		for j := range idx {
			if f.cfg.bootstrap {
				idx[j] = treeRand.Intn(n)
			} else {
				idx[j] = j
			}
		}

		b := f.cfg.builder(X, target, nClasses, treeRand.Int63())
		f.roots = append(f.roots, b.build(idx, 0))
	}
}

// RandomForestClassifier averages the class probabilities of bootstrapped
// Gini trees. Each split considers sqrt(features) candidates unless
// WithMaxFeatures says otherwise.
type RandomForestClassifier struct {
	forest
	classes []float64
}

// NewRandomForestClassifier returns an unfitted forest.
func NewRandomForestClassifier(opts ...Option) *RandomForestClassifier {
	return &RandomForestClassifier{forest: forest{cfg: newTreeConfig(opts)}}
}

func (rf *RandomForestClassifier) Fit(X [][]float64, y []float64) error {
	if rf.roots != nil {
		return errors.New("random forest: already fitted")
	}
	if err := validateXY(X, y); err != nil {
		return err
	}
	if err := checkFinite(X); err != nil {
		return err
	}
	if rf.cfg.estimators <= 0 {
		return errors.New("random forest: estimators must be positive")
	}
	if rf.cfg.maxFeatures == 0 {
		rf.cfg.maxFeatures = sqrtFeatures(len(X[0]))
	}
	classes, encoded := encodeClasses(y)
	rf.classes = classes
	rf.fit(X, encoded, len(classes))
	return nil
}

func (rf *RandomForestClassifier) PredictProba(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, x := range X {
		probs := make([]float64, len(rf.classes))
		for _, root := range rf.roots {
			for c, p := range predictNode(root, x) {
				probs[c] += p
			}
		}
		for c := range probs {
			probs[c] /= float64(len(rf.roots))
		}
		out[i] = probs
	}
	return out
}

func (rf *RandomForestClassifier) Predict(X [][]float64) []float64 {
	proba := rf.PredictProba(X)
	out := make([]float64, len(X))
	for i, p := range proba {
		out[i] = rf.classes[argmax(p)]
	}
	return out
}

func (rf *RandomForestClassifier) Classes() []float64 { return rf.classes }
func (rf *RandomForestClassifier) Roots() []*Node     { return rf.roots }

// RandomForestRegressor averages the predictions of bootstrapped regression
// trees. Every split considers all features.
type RandomForestRegressor struct {
	forest
}

// NewRandomForestRegressor returns an unfitted forest.
func NewRandomForestRegressor(opts ...Option) *RandomForestRegressor {
	return &RandomForestRegressor{forest: forest{cfg: newTreeConfig(opts)}}
}

func (rf *RandomForestRegressor) Fit(X [][]float64, y []float64) error {
	if rf.roots != nil {
		return errors.New("random forest: already fitted")
	}
	if err := validateXY(X, y); err != nil {
		return err
	}
	if err := checkFinite(X); err != nil {
		return err
	}
	if rf.cfg.estimators <= 0 {
		return errors.New("random forest: estimators must be positive")
	}
	rf.fit(X, y, 0)
	return nil
}

func (rf *RandomForestRegressor) Predict(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		sum := 0.0
		for _, root := range rf.roots {
			sum += predictNode(root, x)[0]
		}
		out[i] = sum / float64(len(rf.roots))
	}
	return out
}

func (rf *RandomForestRegressor) Roots() []*Node { return rf.roots }

func sqrtFeatures(p int) int {
	k := int(math.Sqrt(float64(p)))
	if k < 1 {
		return 1
	}
	return k
}
