package onnx

import (
	"errors"
	"fmt"
	"math"

	"prisml-train/internal/common"
	"prisml-train/internal/ml"
)

// ErrUnsupportedModel is returned by Convert for estimators that have no
// graph representation.
var ErrUnsupportedModel = errors.New("model cannot be converted to onnx")

// Convert builds the inference graph for a fitted model. The graph reads one
// float tensor "input" of shape [N, featureCount].
//
// Classifiers produce "label" (int64 [N]) and "probabilities"
// (float [N, classes]) as plain tensors; regressors produce "variable"
// (float [N, 1]). Linear models standardise through a Scaler node first.
func Convert(model ml.Model, featureCount int, name string) (*Model, error) {
	if featureCount <= 0 {
		return nil, fmt.Errorf("%w: feature count must be positive, got %d", ErrUnsupportedModel, featureCount)
	}

	var (
		nodes   []Node
		outputs []ValueInfo
		err     error
	)
	trees, isTrees := model.(ml.TreeEnsemble)
	linear, isLinear := model.(ml.LinearModel)
	cls, isClassifier := model.(ml.Classifier)

	switch {
	case isTrees && isClassifier:
		var node Node
		node, err = treeClassifierNode(trees.Roots(), cls.Classes(), featureCount)
		nodes = []Node{node}
		outputs = classifierOutputs(len(cls.Classes()))
	case isTrees:
		var node Node
		node, err = treeRegressorNode(trees.Roots(), featureCount)
		nodes = []Node{node}
		outputs = []ValueInfo{{
			Name:     OutputVariable,
			ElemType: TypeFloat,
			Dims:     []Dim{{Param: BatchDimParam}, {Value: 1}},
		}}
	case isLinear && isClassifier:
		nodes, err = linearClassifierNodes(linear, cls.Classes(), featureCount)
		outputs = classifierOutputs(len(cls.Classes()))
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedModel, model)
	}
	if err != nil {
		return nil, err
	}
	chain(nodes, outputs)

	return &Model{
		IRVersion: IRVersion,
		Opsets: []OpsetID{
			{Domain: DomainDefault, Version: OpsetDefault},
			{Domain: DomainML, Version: OpsetML},
		},
		ProducerName:    common.ProducerName,
		ProducerVersion: common.ProducerVersion,
		Graph: Graph{
			Name:  name,
			Nodes: nodes,
			Inputs: []ValueInfo{{
				Name:     InputName,
				ElemType: TypeFloat,
				Dims:     []Dim{{Param: BatchDimParam}, {Value: int64(featureCount)}},
			}},
			Outputs: outputs,
		},
	}, nil
}

// chain wires nodes in sequence from the graph input to the graph outputs.
func chain(nodes []Node, outputs []ValueInfo) {
	prev := InputName
	for i := range nodes {
		nodes[i].Inputs = []string{prev}
		if i < len(nodes)-1 {
			prev = ScaledName
			nodes[i].Outputs = []string{prev}
			continue
		}
		for _, o := range outputs {
			nodes[i].Outputs = append(nodes[i].Outputs, o.Name)
		}
	}
}

func classifierOutputs(nClasses int) []ValueInfo {
	return []ValueInfo{
		{Name: OutputLabel, ElemType: TypeInt64, Dims: []Dim{{Param: BatchDimParam}}},
		{Name: OutputProba, ElemType: TypeFloat, Dims: []Dim{{Param: BatchDimParam}, {Value: int64(nClasses)}}},
	}
}

// classLabels converts class values to int64 labels. Only integral labels
// can be carried by classlabels_int64s.
func classLabels(classes []float64) ([]int64, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("%w: classifier is not fitted", ErrUnsupportedModel)
	}
	labels := make([]int64, len(classes))
	for i, c := range classes {
		if c != math.Trunc(c) || math.Abs(c) > 1<<53 {
			return nil, fmt.Errorf("%w: class label %g is not an integer", ErrUnsupportedModel, c)
		}
		labels[i] = int64(c)
	}
	return labels, nil
}

// treeAttrs accumulates the flattened nodes_* attributes shared by both tree
// ensemble operators. Node ids are assigned in pre-order within each tree.
type treeAttrs struct {
	treeIDs    []int64
	nodeIDs    []int64
	featureIDs []int64
	modes      []string
	values     []float32
	trueIDs    []int64
	falseIDs   []int64

	leafTrees  []int64
	leafNodes  []int64
	leafValues [][]float64
}

func flattenTrees(roots []*ml.Node, featureCount int) (*treeAttrs, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: tree model is not fitted", ErrUnsupportedModel)
	}
	t := &treeAttrs{}
	for treeID, root := range roots {
		if root == nil {
			return nil, fmt.Errorf("%w: tree %d is not fitted", ErrUnsupportedModel, treeID)
		}
		var next int64
		if _, err := t.add(int64(treeID), root, &next, featureCount); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *treeAttrs) add(treeID int64, n *ml.Node, next *int64, featureCount int) (int64, error) {
	id := *next
	*next++

	pos := len(t.nodeIDs)
	t.treeIDs = append(t.treeIDs, treeID)
	t.nodeIDs = append(t.nodeIDs, id)

	if n.IsLeaf() {
		t.featureIDs = append(t.featureIDs, 0)
		t.modes = append(t.modes, "LEAF")
		t.values = append(t.values, 0)
		t.trueIDs = append(t.trueIDs, 0)
		t.falseIDs = append(t.falseIDs, 0)
		t.leafTrees = append(t.leafTrees, treeID)
		t.leafNodes = append(t.leafNodes, id)
		t.leafValues = append(t.leafValues, n.Value)
		return id, nil
	}

	if n.Feature < 0 || n.Feature >= featureCount {
		return 0, fmt.Errorf("%w: split on feature %d but input has %d features",
			ErrUnsupportedModel, n.Feature, featureCount)
	}
	t.featureIDs = append(t.featureIDs, int64(n.Feature))
	t.modes = append(t.modes, "BRANCH_LEQ")
	t.values = append(t.values, float32(n.Threshold))
	t.trueIDs = append(t.trueIDs, 0)
	t.falseIDs = append(t.falseIDs, 0)

	left, err := t.add(treeID, n.Left, next, featureCount)
	if err != nil {
		return 0, err
	}
	right, err := t.add(treeID, n.Right, next, featureCount)
	if err != nil {
		return 0, err
	}
	t.trueIDs[pos] = left
	t.falseIDs[pos] = right
	return id, nil
}

func (t *treeAttrs) nodeAttributes() []Attribute {
	return []Attribute{
		intsAttr("nodes_treeids", t.treeIDs),
		intsAttr("nodes_nodeids", t.nodeIDs),
		intsAttr("nodes_featureids", t.featureIDs),
		stringsAttr("nodes_modes", t.modes),
		floatsAttr("nodes_values", t.values),
		intsAttr("nodes_truenodeids", t.trueIDs),
		intsAttr("nodes_falsenodeids", t.falseIDs),
	}
}

// treeClassifierNode emits one weight per (leaf, class) so the runtime sums
// per-class probabilities across trees. Weights are pre-divided by the tree
// count, which makes the sum the forest average.
func treeClassifierNode(roots []*ml.Node, classes []float64, featureCount int) (Node, error) {
	labels, err := classLabels(classes)
	if err != nil {
		return Node{}, err
	}
	t, err := flattenTrees(roots, featureCount)
	if err != nil {
		return Node{}, err
	}

	scale := 1 / float64(len(roots))
	var treeIDs, nodeIDs, classIDs []int64
	var weights []float32
	for i, probs := range t.leafValues {
		if len(probs) != len(classes) {
			return Node{}, fmt.Errorf("%w: leaf has %d class weights, expected %d",
				ErrUnsupportedModel, len(probs), len(classes))
		}
		for c, p := range probs {
			treeIDs = append(treeIDs, t.leafTrees[i])
			nodeIDs = append(nodeIDs, t.leafNodes[i])
			classIDs = append(classIDs, int64(c))
			weights = append(weights, float32(p*scale))
		}
	}

	attrs := t.nodeAttributes()
	attrs = append(attrs,
		intsAttr("class_treeids", treeIDs),
		intsAttr("class_nodeids", nodeIDs),
		intsAttr("class_ids", classIDs),
		floatsAttr("class_weights", weights),
		intsAttr("classlabels_int64s", labels),
		stringAttr("post_transform", "NONE"),
	)
	return Node{
		Name:       "TreeEnsembleClassifier",
		OpType:     OpTreeClassifier,
		Domain:     DomainML,
		Attributes: attrs,
	}, nil
}

func treeRegressorNode(roots []*ml.Node, featureCount int) (Node, error) {
	t, err := flattenTrees(roots, featureCount)
	if err != nil {
		return Node{}, err
	}

	targetIDs := make([]int64, len(t.leafValues))
	weights := make([]float32, len(t.leafValues))
	for i, v := range t.leafValues {
		if len(v) != 1 {
			return Node{}, fmt.Errorf("%w: regression leaf has %d values", ErrUnsupportedModel, len(v))
		}
		weights[i] = float32(v[0])
	}

	attrs := t.nodeAttributes()
	attrs = append(attrs,
		intsAttr("target_treeids", t.leafTrees),
		intsAttr("target_nodeids", t.leafNodes),
		intsAttr("target_ids", targetIDs),
		floatsAttr("target_weights", weights),
		intAttr("n_targets", 1),
		stringAttr("aggregate_function", "AVERAGE"),
		stringAttr("post_transform", "NONE"),
	)
	return Node{
		Name:       "TreeEnsembleRegressor",
		OpType:     OpTreeRegressor,
		Domain:     DomainML,
		Attributes: attrs,
	}, nil
}

// linearClassifierNodes emits a Scaler carrying the model's standardisation
// followed by a LinearClassifier on the standardised weights. Keeping the two
// apart avoids folding large offsets into float32 intercepts.
//
// The classifier writes one coefficient row per class. A binary model scores
// only the positive class, so its row is mirrored as [-w, w] and the LOGISTIC
// transform turns the pair into [1-p, p].
func linearClassifierNodes(m ml.LinearModel, classes []float64, featureCount int) ([]Node, error) {
	var nodes []Node
	offset, scale := m.Scaling()
	if offset != nil || scale != nil {
		scaler, err := scalerNode(offset, scale, featureCount)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, scaler)
	}
	linear, err := linearClassifierNode(m, classes, featureCount)
	if err != nil {
		return nil, err
	}
	return append(nodes, linear), nil
}

func scalerNode(offset, scale []float64, featureCount int) (Node, error) {
	if len(offset) != featureCount || len(scale) != featureCount {
		return Node{}, fmt.Errorf("%w: scaler has %d offsets and %d scales for %d features",
			ErrUnsupportedModel, len(offset), len(scale), featureCount)
	}
	return Node{
		Name:   "Scaler",
		OpType: OpScaler,
		Domain: DomainML,
		Attributes: []Attribute{
			floatsAttr("offset", toFloat32(offset)),
			floatsAttr("scale", toFloat32(scale)),
		},
	}, nil
}

func linearClassifierNode(m ml.LinearModel, classes []float64, featureCount int) (Node, error) {
	labels, err := classLabels(classes)
	if err != nil {
		return Node{}, err
	}
	coef, intercepts := m.Coefficients(), m.Intercepts()
	if len(coef) == 0 || len(coef) != len(intercepts) {
		return Node{}, fmt.Errorf("%w: linear model is not fitted", ErrUnsupportedModel)
	}

	transform := "SOFTMAX"
	if len(classes) == 2 && len(coef) == 1 {
		neg := make([]float64, len(coef[0]))
		for j, w := range coef[0] {
			neg[j] = -w
		}
		coef = [][]float64{neg, coef[0]}
		intercepts = []float64{-intercepts[0], intercepts[0]}
		transform = "LOGISTIC"
	}
	if len(coef) != len(classes) {
		return Node{}, fmt.Errorf("%w: %d coefficient rows for %d classes",
			ErrUnsupportedModel, len(coef), len(classes))
	}

	var flat []float32
	for c, row := range coef {
		if len(row) != featureCount {
			return Node{}, fmt.Errorf("%w: class %d has %d coefficients, input has %d features",
				ErrUnsupportedModel, c, len(row), featureCount)
		}
		for _, w := range row {
			flat = append(flat, float32(w))
		}
	}

	return Node{
		Name:   "LinearClassifier",
		OpType: OpLinearClassifier,
		Domain: DomainML,
		Attributes: []Attribute{
			floatsAttr("coefficients", flat),
			floatsAttr("intercepts", toFloat32(intercepts)),
			intsAttr("classlabels_ints", labels),
			intAttr("multi_class", 0),
			stringAttr("post_transform", transform),
		},
	}, nil
}
