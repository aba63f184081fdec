package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Node is one split or leaf of a fitted CART tree.
// Samples with x[Feature] <= Threshold go Left.
type Node struct {
	Feature   int
	Threshold float64
	Left      *Node
	Right     *Node

	// Value holds class probabilities aligned with the tree's classes for
	// classification leaves and a single mean target for regression leaves.
	Value   []float64
	Samples int
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool {
	return n.Left == nil && n.Right == nil
}

// Depth returns the length of the longest root-to-leaf path.
func (n *Node) Depth() int {
	if n == nil || n.IsLeaf() {
		return 0
	}
	l, r := n.Left.Depth(), n.Right.Depth()
	if l > r {
		return l + 1
	}
	return r + 1
}

// treeBuilder grows a single CART tree. Targets are class indices for
// classification and raw values for regression.
type treeBuilder struct {
	maxDepth        int // 0 => unlimited
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int // 0 => all features
	nClasses        int // 0 => regression

	X      [][]float64
	target []float64
	rnd    *rand.Rand
}

type split struct {
	feature   int
	threshold float64
	gain      float64
	left      []int
	right     []int
}

func (b *treeBuilder) build(idx []int, depth int) *Node {
	node := &Node{Samples: len(idx), Value: b.leafValue(idx)}

	if len(idx) < b.minSamplesSplit {
		return node
	}
	if b.maxDepth > 0 && depth >= b.maxDepth {
		return node
	}
	parent := b.impurity(idx)
	if parent <= 0 {
		return node
	}

	best, ok := b.bestSplit(idx, parent)
	if !ok {
		return node
	}

	node.Feature = best.feature
	node.Threshold = best.threshold
	node.Left = b.build(best.left, depth+1)
	node.Right = b.build(best.right, depth+1)
	node.Value = nil
	return node
}

func (b *treeBuilder) bestSplit(idx []int, parent float64) (split, bool) {
	p := len(b.X[0])
	features := b.rnd.Perm(p)
	if b.maxFeatures > 0 && b.maxFeatures < p {
		features = features[:b.maxFeatures]
	}

	var best split
	found := false
	sorted := make([]int, len(idx))

	for _, f := range features {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(i, j int) bool {
			return b.X[sorted[i]][f] < b.X[sorted[j]][f]
		})

		scan := b.newScanner(sorted)
		for i := 0; i < len(sorted)-1; i++ {
			scan.moveLeft(sorted[i])

			lo, hi := b.X[sorted[i]][f], b.X[sorted[i+1]][f]
			if lo == hi {
				continue
			}
			nl, nr := i+1, len(sorted)-i-1
			if nl < b.minSamplesLeaf || nr < b.minSamplesLeaf {
				continue
			}

			n := float64(len(sorted))
			gain := parent - (float64(nl)/n)*scan.leftImpurity() - (float64(nr)/n)*scan.rightImpurity()
			if gain > best.gain+1e-12 {
				best = split{feature: f, threshold: splitThreshold(lo, hi), gain: gain}
				found = true
			}
		}
	}
	if !found {
		return split{}, false
	}

	for _, i := range idx {
		if b.X[i][best.feature] <= best.threshold {
			best.left = append(best.left, i)
		} else {
			best.right = append(best.right, i)
		}
	}
	return best, true
}

// splitThreshold returns a threshold t with lo <= t < hi that is exactly
// representable as float32, so the exported graph routes samples the same
// way the in-memory tree does.
func splitThreshold(lo, hi float64) float64 {
	t := float64(float32(lo + (hi-lo)/2))
	if t < lo || t >= hi {
		return lo
	}
	return t
}

func (b *treeBuilder) leafValue(idx []int) []float64 {
	if b.nClasses == 0 {
		sum := 0.0
		for _, i := range idx {
			sum += b.target[i]
		}
		return []float64{sum / float64(len(idx))}
	}
	probs := make([]float64, b.nClasses)
	for _, i := range idx {
		probs[int(b.target[i])]++
	}
	for c := range probs {
		probs[c] /= float64(len(idx))
	}
	return probs
}

func (b *treeBuilder) impurity(idx []int) float64 {
	scan := b.newScanner(idx)
	return scan.rightImpurity()
}

// scanner keeps running sufficient statistics for the two sides of a
// candidate split while samples move from right to left.
type scanner struct {
	nClasses    int
	target      []float64
	left, right []float64 // class counts, or {n, sum, sumSq}
}

func (b *treeBuilder) newScanner(idx []int) *scanner {
	s := &scanner{nClasses: b.nClasses, target: b.target}
	if b.nClasses > 0 {
		s.left = make([]float64, b.nClasses)
		s.right = make([]float64, b.nClasses)
		for _, i := range idx {
			s.right[int(b.target[i])]++
		}
	} else {
		s.left = make([]float64, 3)
		s.right = make([]float64, 3)
		for _, i := range idx {
			v := b.target[i]
			s.right[0]++
			s.right[1] += v
			s.right[2] += v * v
		}
	}
	return s
}

func (s *scanner) moveLeft(i int) {
	v := s.target[i]
	if s.nClasses > 0 {
		s.left[int(v)]++
		s.right[int(v)]--
		return
	}
	s.left[0]++
	s.left[1] += v
	s.left[2] += v * v
	s.right[0]--
	s.right[1] -= v
	s.right[2] -= v * v
}

func (s *scanner) leftImpurity() float64  { return s.side(s.left) }
func (s *scanner) rightImpurity() float64 { return s.side(s.right) }

func (s *scanner) side(stats []float64) float64 {
	if s.nClasses > 0 {
		return gini(stats)
	}
	n := stats[0]
	if n == 0 {
		return 0
	}
	mean := stats[1] / n
	v := stats[2]/n - mean*mean
	if v < 0 {
		return 0
	}
	return v
}

func gini(counts []float64) float64 {
	total := 0.0
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := c / total
		g -= p * p
	}
	return g
}

func predictNode(n *Node, x []float64) []float64 {
	for !n.IsLeaf() {
		if x[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Value
}

// validateXY checks the shape contract shared by every estimator.
func validateXY(X [][]float64, y []float64) error {
	if len(X) == 0 {
		return errors.New("empty training set")
	}
	if len(X) != len(y) {
		return fmt.Errorf("X and y length mismatch: %d vs %d", len(X), len(y))
	}
	p := len(X[0])
	if p == 0 {
		return errors.New("training rows have no features")
	}
	for i := range X {
		if len(X[i]) != p {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(X[i]), p)
		}
	}
	return nil
}

// encodeClasses maps labels to indices into the sorted unique label set.
func encodeClasses(y []float64) (classes []float64, encoded []float64) {
	seen := make(map[float64]struct{})
	for _, v := range y {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			classes = append(classes, v)
		}
	}
	sort.Float64s(classes)

	index := make(map[float64]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	encoded = make([]float64, len(y))
	for i, v := range y {
		encoded[i] = float64(index[v])
	}
	return classes, encoded
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

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func checkFinite(X [][]float64) error {
	for i, row := range X {
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("non-finite value at row %d column %d", i, j)
			}
		}
	}
	return nil
}
