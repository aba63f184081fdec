package onnx

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from onnx.proto.
const (
	fModelIRVersion       protowire.Number = 1
	fModelProducerName    protowire.Number = 2
	fModelProducerVersion protowire.Number = 3
	fModelGraph           protowire.Number = 7
	fModelOpsetImport     protowire.Number = 8
	fModelMetadataProps   protowire.Number = 14

	fOpsetDomain  protowire.Number = 1
	fOpsetVersion protowire.Number = 2

	fEntryKey   protowire.Number = 1
	fEntryValue protowire.Number = 2

	fGraphNode   protowire.Number = 1
	fGraphName   protowire.Number = 2
	fGraphInput  protowire.Number = 11
	fGraphOutput protowire.Number = 12

	fNodeInput     protowire.Number = 1
	fNodeOutput    protowire.Number = 2
	fNodeName      protowire.Number = 3
	fNodeOpType    protowire.Number = 4
	fNodeAttribute protowire.Number = 5
	fNodeDomain    protowire.Number = 7

	fAttrName    protowire.Number = 1
	fAttrF       protowire.Number = 2
	fAttrI       protowire.Number = 3
	fAttrS       protowire.Number = 4
	fAttrFloats  protowire.Number = 7
	fAttrInts    protowire.Number = 8
	fAttrStrings protowire.Number = 9
	fAttrType    protowire.Number = 20

	fValueInfoName protowire.Number = 1
	fValueInfoType protowire.Number = 2

	fTypeTensor protowire.Number = 1

	fTensorElemType protowire.Number = 1
	fTensorShape    protowire.Number = 2

	fShapeDim protowire.Number = 1

	fDimValue protowire.Number = 1
	fDimParam protowire.Number = 2
)

// Marshal encodes m as a binary ModelProto. Repeated scalars are written
// unpacked, as proto2 readers expect.
func (m *Model) Marshal() []byte {
	var b []byte
	b = appendVarint(b, fModelIRVersion, uint64(m.IRVersion))
	b = appendString(b, fModelProducerName, m.ProducerName)
	b = appendString(b, fModelProducerVersion, m.ProducerVersion)
	b = appendMessage(b, fModelGraph, m.Graph.marshal())
	for _, o := range m.Opsets {
		var ob []byte
		ob = appendString(ob, fOpsetDomain, o.Domain)
		ob = appendVarint(ob, fOpsetVersion, uint64(o.Version))
		b = appendMessage(b, fModelOpsetImport, ob)
	}
	for _, kv := range m.Metadata {
		var eb []byte
		eb = appendString(eb, fEntryKey, kv.Key)
		eb = appendString(eb, fEntryValue, kv.Value)
		b = appendMessage(b, fModelMetadataProps, eb)
	}
	return b
}

func (g *Graph) marshal() []byte {
	var b []byte
	for i := range g.Nodes {
		b = appendMessage(b, fGraphNode, g.Nodes[i].marshal())
	}
	b = appendString(b, fGraphName, g.Name)
	for _, in := range g.Inputs {
		b = appendMessage(b, fGraphInput, in.marshal())
	}
	for _, out := range g.Outputs {
		b = appendMessage(b, fGraphOutput, out.marshal())
	}
	return b
}

func (n *Node) marshal() []byte {
	var b []byte
	for _, s := range n.Inputs {
		b = appendString(b, fNodeInput, s)
	}
	for _, s := range n.Outputs {
		b = appendString(b, fNodeOutput, s)
	}
	b = appendString(b, fNodeName, n.Name)
	b = appendString(b, fNodeOpType, n.OpType)
	for i := range n.Attributes {
		b = appendMessage(b, fNodeAttribute, n.Attributes[i].marshal())
	}
	b = appendString(b, fNodeDomain, n.Domain)
	return b
}

func (a *Attribute) marshal() []byte {
	var b []byte
	b = appendString(b, fAttrName, a.Name)
	switch a.Type {
	case AttrFloat:
		b = protowire.AppendTag(b, fAttrF, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case AttrInt:
		b = protowire.AppendTag(b, fAttrI, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.I))
	case AttrString:
		b = protowire.AppendTag(b, fAttrS, protowire.BytesType)
		b = protowire.AppendString(b, a.S)
	case AttrFloats:
		for _, f := range a.Floats {
			b = protowire.AppendTag(b, fAttrFloats, protowire.Fixed32Type)
			b = protowire.AppendFixed32(b, math.Float32bits(f))
		}
	case AttrInts:
		for _, v := range a.Ints {
			b = protowire.AppendTag(b, fAttrInts, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(v))
		}
	case AttrStrings:
		for _, s := range a.Strings {
			b = protowire.AppendTag(b, fAttrStrings, protowire.BytesType)
			b = protowire.AppendString(b, s)
		}
	}
	b = appendVarint(b, fAttrType, uint64(a.Type))
	return b
}

func (v *ValueInfo) marshal() []byte {
	var shape []byte
	for _, d := range v.Dims {
		var db []byte
		if d.Param != "" {
			db = appendString(db, fDimParam, d.Param)
		} else {
			db = protowire.AppendTag(db, fDimValue, protowire.VarintType)
			db = protowire.AppendVarint(db, uint64(d.Value))
		}
		shape = appendMessage(shape, fShapeDim, db)
	}

	var tensor []byte
	tensor = appendVarint(tensor, fTensorElemType, uint64(v.ElemType))
	tensor = appendMessage(tensor, fTensorShape, shape)

	var typ []byte
	typ = appendMessage(typ, fTypeTensor, tensor)

	var b []byte
	b = appendString(b, fValueInfoName, v.Name)
	b = appendMessage(b, fValueInfoType, typ)
	return b
}

// appendVarint and appendString skip zero values like a proto3 encoder;
// every field written through them has a zero default in onnx.proto.
func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
