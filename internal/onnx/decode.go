package onnx

import (
	"errors"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrInvalidModel is returned when bytes cannot be decoded as a ModelProto
// or the decoded graph is not one this package can evaluate.
var ErrInvalidModel = errors.New("invalid onnx model")

// ReadFile decodes the model stored at path.
func ReadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Unmarshal decodes a binary ModelProto. Fields outside the supported subset
// are skipped. Repeated scalars are accepted packed or unpacked.
func Unmarshal(b []byte) (*Model, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidModel)
	}
	m := &Model{}
	err := parseFields(b, func(f field) error {
		switch f.num {
		case fModelIRVersion:
			v, err := f.varint()
			m.IRVersion = int64(v)
			return err
		case fModelProducerName:
			return f.str(&m.ProducerName)
		case fModelProducerVersion:
			return f.str(&m.ProducerVersion)
		case fModelGraph:
			buf, err := f.bytes()
			if err != nil {
				return err
			}
			return m.Graph.unmarshal(buf)
		case fModelOpsetImport:
			buf, err := f.bytes()
			if err != nil {
				return err
			}
			var o OpsetID
			err = parseFields(buf, func(f field) error {
				switch f.num {
				case fOpsetDomain:
					return f.str(&o.Domain)
				case fOpsetVersion:
					v, err := f.varint()
					o.Version = int64(v)
					return err
				}
				return nil
			})
			m.Opsets = append(m.Opsets, o)
			return err
		case fModelMetadataProps:
			buf, err := f.bytes()
			if err != nil {
				return err
			}
			var kv KeyValue
			err = parseFields(buf, func(f field) error {
				switch f.num {
				case fEntryKey:
					return f.str(&kv.Key)
				case fEntryValue:
					return f.str(&kv.Value)
				}
				return nil
			})
			m.Metadata = append(m.Metadata, kv)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}
	if m.IRVersion == 0 {
		return nil, fmt.Errorf("%w: missing ir_version", ErrInvalidModel)
	}
	return m, nil
}

func (g *Graph) unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case fGraphNode:
			buf, err := f.bytes()
			if err != nil {
				return err
			}
			var n Node
			if err := n.unmarshal(buf); err != nil {
				return err
			}
			g.Nodes = append(g.Nodes, n)
		case fGraphName:
			return f.str(&g.Name)
		case fGraphInput, fGraphOutput:
			buf, err := f.bytes()
			if err != nil {
				return err
			}
			var v ValueInfo
			if err := v.unmarshal(buf); err != nil {
				return err
			}
			if f.num == fGraphInput {
				g.Inputs = append(g.Inputs, v)
			} else {
				g.Outputs = append(g.Outputs, v)
			}
		}
		return nil
	})
}

func (n *Node) unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case fNodeInput:
			var s string
			err := f.str(&s)
			n.Inputs = append(n.Inputs, s)
			return err
		case fNodeOutput:
			var s string
			err := f.str(&s)
			n.Outputs = append(n.Outputs, s)
			return err
		case fNodeName:
			return f.str(&n.Name)
		case fNodeOpType:
			return f.str(&n.OpType)
		case fNodeDomain:
			return f.str(&n.Domain)
		case fNodeAttribute:
			buf, err := f.bytes()
			if err != nil {
				return err
			}
			var a Attribute
			if err := a.unmarshal(buf); err != nil {
				return err
			}
			n.Attributes = append(n.Attributes, a)
		}
		return nil
	})
}

func (a *Attribute) unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case fAttrName:
			return f.str(&a.Name)
		case fAttrType:
			v, err := f.varint()
			a.Type = AttrType(v)
			return err
		case fAttrF:
			if f.typ != protowire.Fixed32Type {
				return f.wrongType()
			}
			a.F = math.Float32frombits(uint32(f.u64))
		case fAttrI:
			v, err := f.varint()
			a.I = int64(v)
			return err
		case fAttrS:
			return f.str(&a.S)
		case fAttrFloats:
			return f.fixed32s(func(v uint32) {
				a.Floats = append(a.Floats, math.Float32frombits(v))
			})
		case fAttrInts:
			return f.varints(func(v uint64) {
				a.Ints = append(a.Ints, int64(v))
			})
		case fAttrStrings:
			var s string
			err := f.str(&s)
			a.Strings = append(a.Strings, s)
			return err
		}
		return nil
	})
}

func (v *ValueInfo) unmarshal(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case fValueInfoName:
			return f.str(&v.Name)
		case fValueInfoType:
			typ, err := f.bytes()
			if err != nil {
				return err
			}
			return parseFields(typ, func(f field) error {
				if f.num != fTypeTensor {
					return nil
				}
				tensor, err := f.bytes()
				if err != nil {
					return err
				}
				return v.unmarshalTensor(tensor)
			})
		}
		return nil
	})
}

func (v *ValueInfo) unmarshalTensor(b []byte) error {
	return parseFields(b, func(f field) error {
		switch f.num {
		case fTensorElemType:
			t, err := f.varint()
			v.ElemType = int32(t)
			return err
		case fTensorShape:
			shape, err := f.bytes()
			if err != nil {
				return err
			}
			return parseFields(shape, func(f field) error {
				if f.num != fShapeDim {
					return nil
				}
				db, err := f.bytes()
				if err != nil {
					return err
				}
				var d Dim
				err = parseFields(db, func(f field) error {
					switch f.num {
					case fDimValue:
						x, err := f.varint()
						d.Value = int64(x)
						return err
					case fDimParam:
						return f.str(&d.Param)
					}
					return nil
				})
				v.Dims = append(v.Dims, d)
				return err
			})
		}
		return nil
	})
}

// field is one decoded key/value pair of a protobuf message.
type field struct {
	num protowire.Number
	typ protowire.Type
	u64 uint64 // varint, fixed32 and fixed64 payloads
	buf []byte // length-delimited payload
}

func parseFields(b []byte, fn func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u64, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.u64 = uint64(v)
		case protowire.Fixed64Type:
			f.u64, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.buf, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) wrongType() error {
	return fmt.Errorf("field %d: unexpected wire type %d", f.num, f.typ)
}

func (f field) varint() (uint64, error) {
	if f.typ != protowire.VarintType {
		return 0, f.wrongType()
	}
	return f.u64, nil
}

func (f field) bytes() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, f.wrongType()
	}
	return f.buf, nil
}

func (f field) str(dst *string) error {
	b, err := f.bytes()
	if err != nil {
		return err
	}
	*dst = string(b)
	return nil
}

func (f field) fixed32s(add func(uint32)) error {
	switch f.typ {
	case protowire.Fixed32Type:
		add(uint32(f.u64))
		return nil
	case protowire.BytesType:
		b := f.buf
		for len(b) > 0 {
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			add(v)
			b = b[n:]
		}
		return nil
	}
	return f.wrongType()
}

func (f field) varints(add func(uint64)) error {
	switch f.typ {
	case protowire.VarintType:
		add(f.u64)
		return nil
	case protowire.BytesType:
		b := f.buf
		for len(b) > 0 {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			add(v)
			b = b[n:]
		}
		return nil
	}
	return f.wrongType()
}
