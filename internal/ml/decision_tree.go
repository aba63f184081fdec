package ml

import (
	"errors"
	"math/rand"
)

// treeConfig holds hyperparameters shared by trees and forests.
type treeConfig struct {
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int
	estimators      int
	bootstrap       bool
	seed            int64
}

// Option configures a tree or forest estimator.
type Option func(*treeConfig)

func WithMaxDepth(d int) Option        { return func(c *treeConfig) { c.maxDepth = d } }
func WithMinSamplesSplit(n int) Option { return func(c *treeConfig) { c.minSamplesSplit = n } }
func WithMinSamplesLeaf(n int) Option  { return func(c *treeConfig) { c.minSamplesLeaf = n } }
func WithMaxFeatures(k int) Option     { return func(c *treeConfig) { c.maxFeatures = k } }
func WithEstimators(n int) Option      { return func(c *treeConfig) { c.estimators = n } }
func WithBootstrap(b bool) Option      { return func(c *treeConfig) { c.bootstrap = b } }
func WithSeed(seed int64) Option       { return func(c *treeConfig) { c.seed = seed } }

func newTreeConfig(opts []Option) treeConfig {
	c := treeConfig{
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		estimators:      100,
		bootstrap:       true,
	}
	for _, o := range opts {
		o(&c)
	}
	return c
}

func (c treeConfig) builder(X [][]float64, target []float64, nClasses int, seed int64) *treeBuilder {
	return &treeBuilder{
		maxDepth:        c.maxDepth,
		minSamplesSplit: c.minSamplesSplit,
		minSamplesLeaf:  c.minSamplesLeaf,
		maxFeatures:     c.maxFeatures,
		nClasses:        nClasses,
		X:               X,
		target:          target,
		rnd:             rand.New(rand.NewSource(seed)),
	}
}

// DecisionTreeClassifier is a CART classifier using Gini impurity.
type DecisionTreeClassifier struct {
	cfg     treeConfig
	classes []float64
	root    *Node
}

// NewDecisionTreeClassifier returns an unfitted classifier.
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	return &DecisionTreeClassifier{cfg: newTreeConfig(opts)}
}

// Fit grows the tree on X and y. Labels are treated as class identifiers.
func (t *DecisionTreeClassifier) Fit(X [][]float64, y []float64) error {
	if t.root != nil {
		return errors.New("decision tree: already fitted")
	}
	if err := validateXY(X, y); err != nil {
		return err
	}
	if err := checkFinite(X); err != nil {
		return err
	}
	classes, encoded := encodeClasses(y)
	t.classes = classes
	b := t.cfg.builder(X, encoded, len(classes), t.cfg.seed)
	t.root = b.build(allIndices(len(X)), 0)
	return nil
}

// Predict returns the most probable class label per row.
func (t *DecisionTreeClassifier) Predict(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = t.classes[argmax(predictNode(t.root, x))]
	}
	return out
}

// PredictProba returns class probabilities per row, aligned with Classes.
func (t *DecisionTreeClassifier) PredictProba(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, x := range X {
		out[i] = append([]float64(nil), predictNode(t.root, x)...)
	}
	return out
}

func (t *DecisionTreeClassifier) Classes() []float64 { return t.classes }
func (t *DecisionTreeClassifier) Roots() []*Node     { return []*Node{t.root} }

// DecisionTreeRegressor is a CART regressor minimising squared error.
type DecisionTreeRegressor struct {
	cfg  treeConfig
	root *Node
}

// NewDecisionTreeRegressor returns an unfitted regressor.
func NewDecisionTreeRegressor(opts ...Option) *DecisionTreeRegressor {
	return &DecisionTreeRegressor{cfg: newTreeConfig(opts)}
}

func (t *DecisionTreeRegressor) Fit(X [][]float64, y []float64) error {
	if t.root != nil {
		return errors.New("decision tree: already fitted")
	}
	if err := validateXY(X, y); err != nil {
		return err
	}
	if err := checkFinite(X); err != nil {
		return err
	}
	b := t.cfg.builder(X, y, 0, t.cfg.seed)
	t.root = b.build(allIndices(len(X)), 0)
	return nil
}

func (t *DecisionTreeRegressor) Predict(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = predictNode(t.root, x)[0]
	}
	return out
}

func (t *DecisionTreeRegressor) Roots() []*Node { return []*Node{t.root} }
