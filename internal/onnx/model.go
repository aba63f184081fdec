// Package onnx builds, serialises and evaluates the small subset of the ONNX
// format needed to ship tree ensembles and linear classifiers: a chain of
// ai.onnx.ml operators reading one float input tensor. Only Scaler may precede
// the final estimator.
//
// Messages are encoded directly on the protobuf wire format with protowire,
// so no generated onnx.proto bindings are required.
package onnx

import (
	"fmt"
	"strings"
)

const (
	IRVersion     = 7
	DomainDefault = ""
	DomainML      = "ai.onnx.ml"
	OpsetDefault  = 12
	OpsetML       = 1
)

// Tensor names and operators used by exported graphs.
const (
	InputName      = "input"
	ScaledName     = "scaled"
	OutputLabel    = "label"
	OutputProba    = "probabilities"
	OutputVariable = "variable"
	BatchDimParam  = "N"

	OpScaler           = "Scaler"
	OpTreeClassifier   = "TreeEnsembleClassifier"
	OpTreeRegressor    = "TreeEnsembleRegressor"
	OpLinearClassifier = "LinearClassifier"
)

// Tensor element types (onnx.TensorProto.DataType).
const (
	TypeFloat int32 = 1
	TypeInt64 int32 = 7
)

// AttrType mirrors onnx.AttributeProto.AttributeType.
type AttrType int32

const (
	AttrFloat   AttrType = 1
	AttrInt     AttrType = 2
	AttrString  AttrType = 3
	AttrFloats  AttrType = 6
	AttrInts    AttrType = 7
	AttrStrings AttrType = 8
)

// Model is an in-memory ModelProto.
type Model struct {
	IRVersion       int64
	Opsets          []OpsetID
	ProducerName    string
	ProducerVersion string
	Graph           Graph
	Metadata        []KeyValue
}

type OpsetID struct {
	Domain  string
	Version int64
}

type KeyValue struct {
	Key   string
	Value string
}

// Graph is a GraphProto without initializers.
type Graph struct {
	Name    string
	Nodes   []Node
	Inputs  []ValueInfo
	Outputs []ValueInfo
}

type Node struct {
	Name       string
	OpType     string
	Domain     string
	Inputs     []string
	Outputs    []string
	Attributes []Attribute
}

type Attribute struct {
	Name    string
	Type    AttrType
	F       float32
	I       int64
	S       string
	Floats  []float32
	Ints    []int64
	Strings []string
}

// ValueInfo describes a tensor-typed graph input or output.
type ValueInfo struct {
	Name     string
	ElemType int32
	Dims     []Dim
}

// Dim is either a fixed size or a symbolic name.
type Dim struct {
	Value int64
	Param string
}

func (d Dim) String() string {
	if d.Param != "" {
		return d.Param
	}
	return fmt.Sprint(d.Value)
}

// Shape renders dims as "[N, 3]".
func (v ValueInfo) Shape() string {
	parts := make([]string, len(v.Dims))
	for i, d := range v.Dims {
		parts[i] = d.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ElemTypeName returns a readable element type.
func (v ValueInfo) ElemTypeName() string {
	switch v.ElemType {
	case TypeFloat:
		return "float"
	case TypeInt64:
		return "int64"
	default:
		return fmt.Sprintf("type(%d)", v.ElemType)
	}
}

// InputWidth returns the fixed feature dimension of the graph's only input.
func (m *Model) InputWidth() (int, error) {
	if len(m.Graph.Inputs) != 1 {
		return 0, fmt.Errorf("expected 1 graph input, found %d", len(m.Graph.Inputs))
	}
	in := m.Graph.Inputs[0]
	if len(in.Dims) != 2 || in.Dims[1].Param != "" || in.Dims[1].Value <= 0 {
		return 0, fmt.Errorf("input %q has no fixed feature dimension: %s", in.Name, in.Shape())
	}
	return int(in.Dims[1].Value), nil
}

// Opset returns the version imported for domain, or 0.
func (m *Model) Opset(domain string) int64 {
	for _, o := range m.Opsets {
		if o.Domain == domain {
			return o.Version
		}
	}
	return 0
}

// MetadataValue looks up a metadata_props entry.
func (m *Model) MetadataValue(key string) (string, bool) {
	for _, kv := range m.Metadata {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Attr returns the named attribute of n.
func (n *Node) Attr(name string) (Attribute, bool) {
	for _, a := range n.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

func floatsAttr(name string, v []float32) Attribute {
	return Attribute{Name: name, Type: AttrFloats, Floats: v}
}

func intsAttr(name string, v []int64) Attribute {
	return Attribute{Name: name, Type: AttrInts, Ints: v}
}

func intAttr(name string, v int64) Attribute {
	return Attribute{Name: name, Type: AttrInt, I: v}
}

func stringAttr(name, v string) Attribute {
	return Attribute{Name: name, Type: AttrString, S: v}
}

func stringsAttr(name string, v []string) Attribute {
	return Attribute{Name: name, Type: AttrStrings, Strings: v}
}
