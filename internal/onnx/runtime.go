package onnx

import (
	"fmt"
	"math"
)

// Outputs holds the tensors produced by Session.Run. Classifier graphs fill
// Labels and Probabilities; regressor graphs fill Values.
type Outputs struct {
	Labels        []int64
	Probabilities [][]float32
	Values        []float32
}

// Session evaluates a decoded graph without an external runtime. It
// understands exactly the operators Convert emits: optional Scaler nodes
// followed by one estimator.
type Session struct {
	width int
	pre   []func(x []float32) []float32
	eval  func(x []float32, out *Outputs)
}

// NewSession validates m and prepares its operator for evaluation.
func NewSession(m *Model) (*Session, error) {
	width, err := m.InputWidth()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}
	nodes := m.Graph.Nodes
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: graph has no nodes", ErrInvalidModel)
	}
	for i := range nodes {
		if nodes[i].Domain != DomainML {
			return nil, fmt.Errorf("%w: node domain %q", ErrInvalidModel, nodes[i].Domain)
		}
		if i > 0 && !feeds(&nodes[i-1], &nodes[i]) {
			return nil, fmt.Errorf("%w: node %d does not consume the output of node %d", ErrInvalidModel, i, i-1)
		}
	}

	s := &Session{width: width}
	for i := range nodes[:len(nodes)-1] {
		if nodes[i].OpType != OpScaler {
			return nil, fmt.Errorf("%w: operator %q cannot precede the estimator", ErrInvalidModel, nodes[i].OpType)
		}
		pre, err := s.prepareScaler(&nodes[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
		}
		s.pre = append(s.pre, pre)
	}

	node := &nodes[len(nodes)-1]
	switch node.OpType {
	case OpTreeClassifier:
		err = s.prepareTreeClassifier(node)
	case OpTreeRegressor:
		err = s.prepareTreeRegressor(node)
	case OpLinearClassifier:
		err = s.prepareLinearClassifier(node)
	default:
		err = fmt.Errorf("unsupported operator %q", node.OpType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}
	return s, nil
}

// Width is the number of features each input row must carry.
func (s *Session) Width() int { return s.width }

// Run evaluates every row of X.
func (s *Session) Run(X [][]float32) (*Outputs, error) {
	out := &Outputs{}
	for i, x := range X {
		if len(x) != s.width {
			return nil, fmt.Errorf("row %d has %d features, model expects %d", i, len(x), s.width)
		}
		for _, f := range s.pre {
			x = f(x)
		}
		s.eval(x, out)
	}
	return out, nil
}

func feeds(prev, next *Node) bool {
	return len(prev.Outputs) == 1 && len(next.Inputs) == 1 && prev.Outputs[0] == next.Inputs[0]
}

// prepareScaler computes (x - offset) * scale per column. Either attribute
// may hold a single value applied to every column.
func (s *Session) prepareScaler(node *Node) (func([]float32) []float32, error) {
	offset, err := broadcast(floats32(node, "offset"), s.width, 0)
	if err != nil {
		return nil, fmt.Errorf("scaler offset: %w", err)
	}
	scale, err := broadcast(floats32(node, "scale"), s.width, 1)
	if err != nil {
		return nil, fmt.Errorf("scaler scale: %w", err)
	}
	return func(x []float32) []float32 {
		out := make([]float32, len(x))
		for j, v := range x {
			out[j] = (v - offset[j]) * scale[j]
		}
		return out
	}, nil
}

func broadcast(v []float32, width int, def float32) ([]float32, error) {
	switch len(v) {
	case width:
		return v, nil
	case 0, 1:
		fill := def
		if len(v) == 1 {
			fill = v[0]
		}
		out := make([]float32, width)
		for j := range out {
			out[j] = fill
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%d values for width %d", len(v), width)
	}
}

type treeNode struct {
	leaf      bool
	feature   int
	threshold float32
	left      int // index into nodes
	right     int
	weights   []weight
}

type weight struct {
	target int
	value  float64
}

type compiledTrees struct {
	roots []int
	nodes []treeNode
}

func compileTrees(node *Node, prefix string, nTargets int) (*compiledTrees, error) {
	treeIDs := ints(node, "nodes_treeids")
	nodeIDs := ints(node, "nodes_nodeids")
	featureIDs := ints(node, "nodes_featureids")
	modes := strs(node, "nodes_modes")
	values := floats32(node, "nodes_values")
	trueIDs := ints(node, "nodes_truenodeids")
	falseIDs := ints(node, "nodes_falsenodeids")

	n := len(nodeIDs)
	if n == 0 {
		return nil, fmt.Errorf("%s has no nodes", node.OpType)
	}
	for _, l := range []int{len(treeIDs), len(featureIDs), len(modes), len(values), len(trueIDs), len(falseIDs)} {
		if l != n {
			return nil, fmt.Errorf("%s nodes_* attributes have inconsistent lengths", node.OpType)
		}
	}

	type key struct{ tree, node int64 }
	index := make(map[key]int, n)
	c := &compiledTrees{nodes: make([]treeNode, n)}
	seenTree := make(map[int64]bool)
	for i := 0; i < n; i++ {
		index[key{treeIDs[i], nodeIDs[i]}] = i
		if !seenTree[treeIDs[i]] {
			seenTree[treeIDs[i]] = true
			c.roots = append(c.roots, i)
		}
	}
	for i := 0; i < n; i++ {
		tn := &c.nodes[i]
		switch modes[i] {
		case "LEAF":
			tn.leaf = true
		case "BRANCH_LEQ":
			l, okL := index[key{treeIDs[i], trueIDs[i]}]
			r, okR := index[key{treeIDs[i], falseIDs[i]}]
			if !okL || !okR {
				return nil, fmt.Errorf("node %d of tree %d has a dangling child", nodeIDs[i], treeIDs[i])
			}
			tn.feature = int(featureIDs[i])
			tn.threshold = values[i]
			tn.left, tn.right = l, r
		default:
			return nil, fmt.Errorf("unsupported node mode %q", modes[i])
		}
	}

	wTrees := ints(node, prefix+"_treeids")
	wNodes := ints(node, prefix+"_nodeids")
	wTargets := ints(node, prefix+"_ids")
	wValues := floats32(node, prefix+"_weights")
	if len(wNodes) != len(wTrees) || len(wTargets) != len(wTrees) || len(wValues) != len(wTrees) {
		return nil, fmt.Errorf("%s_* attributes have inconsistent lengths", prefix)
	}
	for i := range wTrees {
		at, ok := index[key{wTrees[i], wNodes[i]}]
		if !ok || !c.nodes[at].leaf {
			return nil, fmt.Errorf("weight %d does not reference a leaf", i)
		}
		if wTargets[i] < 0 || int(wTargets[i]) >= nTargets {
			return nil, fmt.Errorf("weight %d targets %d of %d outputs", i, wTargets[i], nTargets)
		}
		c.nodes[at].weights = append(c.nodes[at].weights, weight{int(wTargets[i]), float64(wValues[i])})
	}
	return c, nil
}

// accumulate adds the leaf weights reached by x in every tree to acc.
func (c *compiledTrees) accumulate(x []float32, acc []float64) {
	for _, i := range c.roots {
		n := &c.nodes[i]
		for !n.leaf {
			if x[n.feature] <= n.threshold {
				n = &c.nodes[n.left]
			} else {
				n = &c.nodes[n.right]
			}
		}
		for _, w := range n.weights {
			acc[w.target] += w.value
		}
	}
}

func (s *Session) checkFeatures(c *compiledTrees) error {
	for _, n := range c.nodes {
		if !n.leaf && (n.feature < 0 || n.feature >= s.width) {
			return fmt.Errorf("split on feature %d outside input width %d", n.feature, s.width)
		}
	}
	return nil
}

func (s *Session) prepareTreeClassifier(node *Node) error {
	labels := ints(node, "classlabels_int64s")
	if len(labels) == 0 {
		return fmt.Errorf("%s requires classlabels_int64s", node.OpType)
	}
	if pt := str(node, "post_transform"); pt != "" && pt != "NONE" {
		return fmt.Errorf("unsupported post_transform %q", pt)
	}
	trees, err := compileTrees(node, "class", len(labels))
	if err != nil {
		return err
	}
	if err := s.checkFeatures(trees); err != nil {
		return err
	}
	s.eval = func(x []float32, out *Outputs) {
		acc := make([]float64, len(labels))
		trees.accumulate(x, acc)
		out.Labels = append(out.Labels, labels[argmax(acc)])
		out.Probabilities = append(out.Probabilities, toFloat32(acc))
	}
	return nil
}

func (s *Session) prepareTreeRegressor(node *Node) error {
	if n, ok := node.Attr("n_targets"); ok && n.I != 1 {
		return fmt.Errorf("n_targets %d not supported", n.I)
	}
	agg := str(node, "aggregate_function")
	if agg != "" && agg != "AVERAGE" && agg != "SUM" {
		return fmt.Errorf("unsupported aggregate_function %q", agg)
	}
	trees, err := compileTrees(node, "target", 1)
	if err != nil {
		return err
	}
	if err := s.checkFeatures(trees); err != nil {
		return err
	}
	base := 0.0
	if b := floats32(node, "base_values"); len(b) == 1 {
		base = float64(b[0])
	}
	s.eval = func(x []float32, out *Outputs) {
		acc := make([]float64, 1)
		trees.accumulate(x, acc)
		v := acc[0]
		if agg == "AVERAGE" {
			v /= float64(len(trees.roots))
		}
		out.Values = append(out.Values, float32(v+base))
	}
	return nil
}

func (s *Session) prepareLinearClassifier(node *Node) error {
	labels := ints(node, "classlabels_ints")
	coef := floats32(node, "coefficients")
	intercepts := floats32(node, "intercepts")
	k := len(labels)
	if k == 0 || len(intercepts) != k || len(coef) != k*s.width {
		return fmt.Errorf("LinearClassifier shape mismatch: %d labels, %d intercepts, %d coefficients for width %d",
			k, len(intercepts), len(coef), s.width)
	}

	var transform func([]float64)
	switch pt := str(node, "post_transform"); pt {
	case "", "NONE":
		transform = func([]float64) {}
	case "LOGISTIC":
		transform = func(v []float64) {
			for i := range v {
				v[i] = 1 / (1 + math.Exp(-v[i]))
			}
		}
	case "SOFTMAX":
		transform = softmax
	default:
		return fmt.Errorf("unsupported post_transform %q", pt)
	}

	s.eval = func(x []float32, out *Outputs) {
		scores := make([]float64, k)
		for c := 0; c < k; c++ {
			sum := float64(intercepts[c])
			row := coef[c*s.width : (c+1)*s.width]
			for j, w := range row {
				sum += float64(w) * float64(x[j])
			}
			scores[c] = sum
		}
		transform(scores)
		out.Labels = append(out.Labels, labels[argmax(scores)])
		out.Probabilities = append(out.Probabilities, toFloat32(scores))
	}
	return nil
}

func softmax(v []float64) {
	mx := v[0]
	for _, x := range v[1:] {
		mx = math.Max(mx, x)
	}
	sum := 0.0
	for i := range v {
		v[i] = math.Exp(v[i] - mx)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func ints(n *Node, name string) []int64 {
	a, _ := n.Attr(name)
	return a.Ints
}

func floats32(n *Node, name string) []float32 {
	a, _ := n.Attr(name)
	return a.Floats
}

func strs(n *Node, name string) []string {
	a, _ := n.Attr(name)
	return a.Strings
}

func str(n *Node, name string) string {
	a, _ := n.Attr(name)
	return a.S
}
