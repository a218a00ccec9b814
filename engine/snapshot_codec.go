package engine

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/metadata"
)

// SnapshotCodec 快照压缩编解码器
type SnapshotCodec interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// SnappyCodec snappy块压缩
type SnappyCodec struct{}

func (SnappyCodec) Name() string { return "snappy" }

func (SnappyCodec) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (SnappyCodec) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

// Lz4Codec lz4帧压缩
type Lz4Codec struct{}

func (Lz4Codec) Name() string { return "lz4" }

func (Lz4Codec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Lz4Codec) Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}

// CodecByName 按配置名取编解码器，未知名回退snappy
func CodecByName(name string) SnapshotCodec {
	if name == "lz4" {
		return Lz4Codec{}
	}
	return SnappyCodec{}
}

// wireValue 快照单元的线上表示
type wireValue struct {
	K int         `json:"k"`
	V interface{} `json:"v,omitempty"`
}

type wireTable struct {
	Rows [][]wireValue `json:"rows"`
}

func valueToWire(v basic.Value) wireValue {
	if v.IsNull() {
		return wireValue{K: int(basic.TypeNull)}
	}
	switch v.Type() {
	case basic.TypeArray:
		a, _ := v.AsArray()
		items := make([]interface{}, len(a.Items)+1)
		items[0] = float64(a.Elem)
		for i, it := range a.Items {
			items[i+1] = valueToWire(it)
		}
		return wireValue{K: int(basic.TypeArray), V: items}
	case basic.TypeStruct:
		s, _ := v.AsStruct()
		fields := make([]interface{}, 0, len(s.Fields)*2)
		for _, f := range s.Fields {
			fields = append(fields, f.Name, valueToWire(f.Val))
		}
		return wireValue{K: int(basic.TypeStruct), V: fields}
	case basic.TypeRange:
		r, _ := v.AsRange()
		out := map[string]interface{}{"elem": float64(r.Elem)}
		if r.Start != nil {
			out["start"] = valueToWire(*r.Start)
		}
		if r.End != nil {
			out["end"] = valueToWire(*r.End)
		}
		return wireValue{K: int(basic.TypeRange), V: out}
	case basic.TypeInterval:
		iv, _ := v.AsInterval()
		return wireValue{K: int(basic.TypeInterval), V: []interface{}{iv.Months, iv.Days, iv.Nanos}}
	case basic.TypeJson:
		j, _ := v.AsJson()
		return wireValue{K: int(basic.TypeJson), V: basic.JsonToString(j)}
	case basic.TypeBool:
		b, _ := v.AsBool()
		return wireValue{K: int(basic.TypeBool), V: b}
	case basic.TypeFloat64:
		f, _ := v.AsFloat64()
		return wireValue{K: int(basic.TypeFloat64), V: f}
	default:
		// 其余类型以文本形式保存，解码时按列类型还原
		return wireValue{K: int(v.Type()), V: v.String()}
	}
}

func wireToValue(w wireValue, hint basic.DataType) (basic.Value, error) {
	k := basic.DataType(w.K)
	if k == basic.TypeNull {
		return basic.TypedNull(hint), nil
	}
	switch k {
	case basic.TypeBool:
		b, _ := w.V.(bool)
		return basic.NewBool(b), nil
	case basic.TypeFloat64:
		f, _ := w.V.(float64)
		return basic.NewFloat64(f), nil
	case basic.TypeArray:
		items, _ := w.V.([]interface{})
		if len(items) == 0 {
			return basic.NewArray(basic.ArrayValue{}), nil
		}
		elem := basic.DataType(int(items[0].(float64)))
		out := basic.ArrayValue{Elem: elem}
		for _, raw := range items[1:] {
			wv, err := rewire(raw)
			if err != nil {
				return basic.Value{}, err
			}
			v, err := wireToValue(wv, elem)
			if err != nil {
				return basic.Value{}, err
			}
			out.Items = append(out.Items, v)
		}
		return basic.NewArray(out), nil
	case basic.TypeStruct:
		fields, _ := w.V.([]interface{})
		out := basic.StructValue{}
		for i := 0; i+1 < len(fields); i += 2 {
			name, _ := fields[i].(string)
			wv, err := rewire(fields[i+1])
			if err != nil {
				return basic.Value{}, err
			}
			v, err := wireToValue(wv, basic.TypeUnknown)
			if err != nil {
				return basic.Value{}, err
			}
			out.Fields = append(out.Fields, basic.StructField{Name: name, Val: v})
		}
		return basic.NewStruct(out), nil
	case basic.TypeInterval:
		parts, _ := w.V.([]interface{})
		if len(parts) == 3 {
			m, _ := parts[0].(float64)
			d, _ := parts[1].(float64)
			n, _ := parts[2].(float64)
			return basic.NewInterval(basic.Interval{Months: int64(m), Days: int64(d), Nanos: int64(n)}), nil
		}
		return basic.NewInterval(basic.Interval{}), nil
	case basic.TypeRange:
		m, _ := w.V.(map[string]interface{})
		elem := basic.TypeDate
		if e, ok := m["elem"].(float64); ok {
			elem = basic.DataType(int(e))
		}
		out := basic.RangeValue{Elem: elem}
		if raw, ok := m["start"]; ok {
			wv, err := rewire(raw)
			if err != nil {
				return basic.Value{}, err
			}
			v, err := wireToValue(wv, elem)
			if err != nil {
				return basic.Value{}, err
			}
			out.Start = &v
		}
		if raw, ok := m["end"]; ok {
			wv, err := rewire(raw)
			if err != nil {
				return basic.Value{}, err
			}
			v, err := wireToValue(wv, elem)
			if err != nil {
				return basic.Value{}, err
			}
			out.End = &v
		}
		return basic.NewRange(out), nil
	}
	// 文本还原
	s, _ := w.V.(string)
	switch k {
	case basic.TypeString:
		return basic.NewString(s), nil
	case basic.TypeGeography:
		return basic.NewGeography(s), nil
	case basic.TypeJson:
		return basic.Coerce(basic.NewString(s), basic.TypeJson)
	case basic.TypeBytes:
		// String()为base64
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return basic.Value{}, basic.Internal("snapshot bytes decode: %v", err)
		}
		return basic.NewBytes(decoded), nil
	default:
		return basic.Coerce(basic.NewString(s), k)
	}
}

func rewire(raw interface{}) (wireValue, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return wireValue{}, basic.Internal("malformed snapshot cell")
	}
	k, _ := m["k"].(float64)
	return wireValue{K: int(k), V: m["v"]}, nil
}

// encodeTable 表→JSON→压缩
func encodeTable(codec SnapshotCodec, t *metadata.Table) ([]byte, error) {
	wt := wireTable{}
	for i := 0; i < t.RowCount(); i++ {
		row := t.GetRow(i)
		wr := make([]wireValue, len(row))
		for c, v := range row {
			wr[c] = valueToWire(v)
		}
		wt.Rows = append(wt.Rows, wr)
	}
	raw, err := json.Marshal(&wt)
	if err != nil {
		return nil, err
	}
	return codec.Compress(raw)
}

// decodeTable 解压→JSON→表
func decodeTable(codec SnapshotCodec, data []byte, schema *metadata.Schema) (*metadata.Table, error) {
	raw, err := codec.Decompress(data)
	if err != nil {
		return nil, basic.Internal("snapshot decompress: %v", err)
	}
	var wt wireTable
	if err := json.Unmarshal(raw, &wt); err != nil {
		return nil, basic.Internal("snapshot decode: %v", err)
	}
	t := metadata.EmptyTable(schema)
	for _, wr := range wt.Rows {
		row := make([]basic.Value, len(wr))
		for c, wv := range wr {
			hint := basic.TypeUnknown
			if c < schema.Len() {
				hint = schema.Fields[c].Type
			}
			v, err := wireToValue(wv, hint)
			if err != nil {
				return nil, err
			}
			row[c] = v
		}
		if err := t.AppendRow(row); err != nil {
			return nil, err
		}
	}
	return t, nil
}
