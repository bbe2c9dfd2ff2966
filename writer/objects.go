package writer

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Object is a PDF object value.
type Object interface{ isObject() }

type (
	Name   string
	Int    int64
	Real   float64
	Bool   bool
	String []byte
	Ref    int
	Array  []Object
	Dict   map[string]Object
)

// Stream is a dictionary followed by a byte payload. Length is filled in
// when serialized.
type Stream struct {
	Dict Dict
	Data []byte
}

func (Name) isObject()    {}
func (Int) isObject()     {}
func (Real) isObject()    {}
func (Bool) isObject()    {}
func (String) isObject()  {}
func (Ref) isObject()     {}
func (Array) isObject()   {}
func (Dict) isObject()    {}
func (*Stream) isObject() {}

func serializeObject(num int, obj Object) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d 0 obj\n", num)
	buf.Write(serializePrimitive(obj))
	buf.WriteString("\nendobj\n")
	return buf.Bytes()
}

func serializePrimitive(o Object) []byte {
	switch v := o.(type) {
	case Name:
		return []byte("/" + string(v))
	case Int:
		return strconv.AppendInt(nil, int64(v), 10)
	case Real:
		return []byte(formatReal(float64(v)))
	case Bool:
		return strconv.AppendBool(nil, bool(v))
	case String:
		return escapeLiteralString(v)
	case Ref:
		return []byte(fmt.Sprintf("%d 0 R", int(v)))
	case Array:
		var b bytes.Buffer
		b.WriteByte('[')
		for i, it := range v {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.Write(serializePrimitive(it))
		}
		b.WriteByte(']')
		return b.Bytes()
	case Dict:
		var b bytes.Buffer
		b.WriteString("<<")
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString("/" + k + " ")
			b.Write(serializePrimitive(v[k]))
		}
		b.WriteString(">>")
		return b.Bytes()
	case *Stream:
		d := make(Dict, len(v.Dict)+1)
		for k, val := range v.Dict {
			d[k] = val
		}
		d["Length"] = Int(len(v.Data))
		var b bytes.Buffer
		b.Write(serializePrimitive(d))
		b.WriteString("\nstream\n")
		b.Write(v.Data)
		b.WriteString("\nendstream")
		return b.Bytes()
	default:
		return []byte("null")
	}
}

// formatReal prints v with at most four decimals and no trailing zeros.
func formatReal(v float64) string {
	s := strconv.FormatFloat(v, 'f', 4, 64)
	s = strings.TrimSuffix(strings.TrimRight(s, "0"), ".")
	if s == "-0" {
		return "0"
	}
	return s
}

func escapeLiteralString(rawBytes []byte) []byte {
	var b bytes.Buffer
	b.WriteByte('(')
	for _, ch := range rawBytes {
		switch ch {
		case '\\', '(', ')':
			b.WriteByte('\\')
			b.WriteByte(ch)
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		default:
			if ch < 0x20 || ch >= 0x80 {
				fmt.Fprintf(&b, "\\%03o", ch)
			} else {
				b.WriteByte(ch)
			}
		}
	}
	b.WriteByte(')')
	return b.Bytes()
}
