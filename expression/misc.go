package expression

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/util"
)

func init() {
	// 条件族自行处理NULL
	register(&entry{name: "COALESCE", minArgs: 1, maxArgs: -1, handlesNulls: true, retType: firstNonNullType, rowFn: fnCoalesce})
	register(&entry{name: "IFNULL", minArgs: 2, maxArgs: 2, handlesNulls: true, retType: firstNonNullType, rowFn: fnIfnull})
	register(&entry{name: "NULLIF", minArgs: 2, maxArgs: 2, handlesNulls: true, retType: sameAsArg(0), rowFn: fnNullif})
	register(&entry{name: "IF", minArgs: 3, maxArgs: 3, handlesNulls: true, retType: sameAsArg(1), rowFn: fnIf})
	register(&entry{name: "ERROR", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeUnknown), rowFn: fnError})

	register(&entry{name: "GENERATE_ARRAY", minArgs: 2, maxArgs: 3, retType: fixedType(basic.TypeArray), rowFn: fnGenerateArray})
	register(&entry{name: "ARRAY_LENGTH", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeInt64), rowFn: fnArrayLength})
	register(&entry{name: "ARRAY_CONCAT", minArgs: 1, maxArgs: -1, retType: fixedType(basic.TypeArray), rowFn: fnArrayConcat})
	register(&entry{name: "ARRAY_REVERSE", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeArray), rowFn: fnArrayReverse})
	register(&entry{name: "ARRAY_TO_STRING", minArgs: 2, maxArgs: 3, handlesNulls: true, retType: fixedType(basic.TypeString), rowFn: fnArrayToString})
	register(&entry{name: "ARRAY_INCLUDES", minArgs: 2, maxArgs: 2, retType: fixedType(basic.TypeBool), rowFn: fnArrayIncludes})

	register(&entry{name: "TO_JSON_STRING", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeString), rowFn: fnToJsonString})
	register(&entry{name: "PARSE_JSON", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeJson), rowFn: fnParseJson})
	register(&entry{name: "JSON_VALUE", minArgs: 1, maxArgs: 2, retType: fixedType(basic.TypeString), rowFn: fnJsonValue})
	register(&entry{name: "JSON_QUERY", minArgs: 1, maxArgs: 2, retType: fixedType(basic.TypeJson), rowFn: fnJsonQuery})

	register(&entry{name: "MD5", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeBytes), rowFn: fnMd5})
	register(&entry{name: "SHA256", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeBytes), rowFn: fnSha256})
	register(&entry{name: "SHA512", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeBytes), rowFn: fnSha512})
	register(&entry{name: "FARM_FINGERPRINT", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeInt64), rowFn: fnFarmFingerprint})
	register(&entry{name: "TO_HEX", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeString), rowFn: fnToHex})
	register(&entry{name: "FROM_HEX", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeBytes), rowFn: fnFromHex})
	register(&entry{name: "TO_BASE64", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeString), rowFn: fnToBase64})
	register(&entry{name: "FROM_BASE64", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeBytes), rowFn: fnFromBase64})

	register(&entry{name: "ST_GEOGFROMTEXT", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeGeography), rowFn: fnStGeogFromText})
	register(&entry{name: "ST_ASTEXT", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeString), rowFn: fnStAsText})

	register(&entry{name: "RANGE_START", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeUnknown), rowFn: fnRangeStart})
	register(&entry{name: "RANGE_END", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeUnknown), rowFn: fnRangeEnd})
	register(&entry{name: "RANGE_CONTAINS", minArgs: 2, maxArgs: 2, retType: fixedType(basic.TypeBool), rowFn: fnRangeContains})
}

func firstNonNullType(args []basic.DataType) basic.DataType {
	for _, a := range args {
		if a != basic.TypeNull && a != basic.TypeUnknown {
			return a
		}
	}
	return basic.TypeUnknown
}

func fnCoalesce(args []basic.Value) (basic.Value, error) {
	for _, v := range args {
		if !v.IsNull() {
			return v, nil
		}
	}
	return basic.NullValue(), nil
}

func fnIfnull(args []basic.Value) (basic.Value, error) {
	if !args[0].IsNull() {
		return args[0], nil
	}
	return args[1], nil
}

func fnNullif(args []basic.Value) (basic.Value, error) {
	if basic.EqualsNullSafe(args[0], args[1]) {
		return basic.TypedNull(args[0].Type()), nil
	}
	return args[0], nil
}

func fnIf(args []basic.Value) (basic.Value, error) {
	if b, ok := args[0].AsBool(); ok && b {
		return args[1], nil
	}
	return args[2], nil
}

// ERROR函数无条件抛出RaisedException
func fnError(args []basic.Value) (basic.Value, error) {
	msg, _ := args[0].AsString()
	return basic.Value{}, basic.RaisedException(msg)
}

func fnGenerateArray(args []basic.Value) (basic.Value, error) {
	start, ok1 := args[0].AsInt64()
	end, ok2 := args[1].AsInt64()
	if !ok1 || !ok2 {
		return basic.Value{}, basic.TypeMismatch("INT64", args[0].Type().String())
	}
	step := int64(1)
	if len(args) == 3 {
		s, ok := args[2].AsInt64()
		if !ok {
			return basic.Value{}, basic.TypeMismatch("INT64", args[2].Type().String())
		}
		step = s
	}
	if step == 0 {
		return basic.Value{}, basic.InvalidQuery("GENERATE_ARRAY step cannot be zero")
	}
	var items []basic.Value
	if step > 0 {
		for v := start; v <= end; v += step {
			items = append(items, basic.NewInt64(v))
		}
	} else {
		for v := start; v >= end; v += step {
			items = append(items, basic.NewInt64(v))
		}
	}
	return basic.NewArray(basic.ArrayValue{Elem: basic.TypeInt64, Items: items}), nil
}

func asArray(v basic.Value) (basic.ArrayValue, error) {
	if a, ok := v.AsArray(); ok {
		return a, nil
	}
	return basic.ArrayValue{}, basic.TypeMismatch("ARRAY", v.Type().String())
}

func fnArrayLength(args []basic.Value) (basic.Value, error) {
	a, err := asArray(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	return basic.NewInt64(int64(len(a.Items))), nil
}

func fnArrayConcat(args []basic.Value) (basic.Value, error) {
	out := basic.ArrayValue{}
	for _, v := range args {
		a, err := asArray(v)
		if err != nil {
			return basic.Value{}, err
		}
		if out.Elem == basic.TypeUnknown {
			out.Elem = a.Elem
		}
		out.Items = append(out.Items, a.Items...)
	}
	return basic.NewArray(out), nil
}

func fnArrayReverse(args []basic.Value) (basic.Value, error) {
	a, err := asArray(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	items := make([]basic.Value, len(a.Items))
	for i, v := range a.Items {
		items[len(a.Items)-1-i] = v
	}
	return basic.NewArray(basic.ArrayValue{Elem: a.Elem, Items: items}), nil
}

func fnArrayIncludes(args []basic.Value) (basic.Value, error) {
	a, err := asArray(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	for _, v := range a.Items {
		if basic.EqualsNullSafe(v, args[1]) {
			return basic.NewBool(true), nil
		}
	}
	return basic.NewBool(false), nil
}

func fnArrayToString(args []basic.Value) (basic.Value, error) {
	if args[0].IsNull() {
		return basic.TypedNull(basic.TypeString), nil
	}
	a, err := asArray(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	sep, err := asString(args[1])
	if err != nil {
		return basic.Value{}, err
	}
	nullText := ""
	useNullText := false
	if len(args) == 3 && !args[2].IsNull() {
		nullText, _ = args[2].AsString()
		useNullText = true
	}
	var parts []string
	for _, v := range a.Items {
		if v.IsNull() {
			if useNullText {
				parts = append(parts, nullText)
			}
			continue
		}
		parts = append(parts, v.String())
	}
	return basic.NewString(strings.Join(parts, sep)), nil
}

func valueToJSON(v basic.Value) interface{} {
	if v.IsNull() {
		return nil
	}
	switch v.Type() {
	case basic.TypeBool:
		b, _ := v.AsBool()
		return b
	case basic.TypeInt64:
		i, _ := v.AsInt64()
		return i
	case basic.TypeFloat64:
		f, _ := v.AsFloat64()
		return f
	case basic.TypeArray:
		a, _ := v.AsArray()
		out := make([]interface{}, len(a.Items))
		for i, it := range a.Items {
			out[i] = valueToJSON(it)
		}
		return out
	case basic.TypeStruct:
		s, _ := v.AsStruct()
		out := map[string]interface{}{}
		for _, f := range s.Fields {
			out[f.Name] = valueToJSON(f.Val)
		}
		return out
	case basic.TypeJson:
		j, _ := v.AsJson()
		return j
	default:
		return v.String()
	}
}

func fnToJsonString(args []basic.Value) (basic.Value, error) {
	b, err := json.Marshal(valueToJSON(args[0]))
	if err != nil {
		return basic.Value{}, basic.Internal("TO_JSON_STRING: %v", err)
	}
	return basic.NewString(string(b)), nil
}

func fnParseJson(args []basic.Value) (basic.Value, error) {
	s, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	return basic.Coerce(basic.NewString(s), basic.TypeJson)
}

// jsonPath 解析$.a.b[0]形式的最小JSONPath
func jsonPath(j interface{}, path string) interface{} {
	path = strings.TrimPrefix(strings.TrimSpace(path), "$")
	cur := j
	for path != "" {
		if cur == nil {
			return nil
		}
		switch {
		case strings.HasPrefix(path, "."):
			path = path[1:]
			end := strings.IndexAny(path, ".[")
			var key string
			if end < 0 {
				key, path = path, ""
			} else {
				key, path = path[:end], path[end:]
			}
			m, ok := cur.(map[string]interface{})
			if !ok {
				return nil
			}
			cur = m[key]
		case strings.HasPrefix(path, "["):
			end := strings.Index(path, "]")
			if end < 0 {
				return nil
			}
			idxText := path[1:end]
			path = path[end+1:]
			arr, ok := cur.([]interface{})
			if !ok {
				return nil
			}
			idx := 0
			for _, c := range idxText {
				if c < '0' || c > '9' {
					return nil
				}
				idx = idx*10 + int(c-'0')
			}
			if idx >= len(arr) {
				return nil
			}
			cur = arr[idx]
		default:
			return nil
		}
	}
	return cur
}

func jsonArg(v basic.Value) (interface{}, error) {
	if j, ok := v.AsJson(); ok {
		return j, nil
	}
	if s, ok := v.AsString(); ok {
		var j interface{}
		if err := json.Unmarshal([]byte(s), &j); err != nil {
			return nil, basic.InvalidLiteral("invalid JSON: %v", err)
		}
		return j, nil
	}
	return nil, basic.TypeMismatch("JSON", v.Type().String())
}

func fnJsonValue(args []basic.Value) (basic.Value, error) {
	j, err := jsonArg(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	path := "$"
	if len(args) == 2 {
		path, _ = args[1].AsString()
	}
	out := jsonPath(j, path)
	switch x := out.(type) {
	case nil:
		return basic.TypedNull(basic.TypeString), nil
	case string:
		return basic.NewString(x), nil
	default:
		return basic.NewString(basic.JsonToString(x)), nil
	}
}

func fnJsonQuery(args []basic.Value) (basic.Value, error) {
	j, err := jsonArg(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	path := "$"
	if len(args) == 2 {
		path, _ = args[1].AsString()
	}
	out := jsonPath(j, path)
	if out == nil {
		return basic.TypedNull(basic.TypeJson), nil
	}
	return basic.NewJson(out), nil
}

func bytesArg(v basic.Value) ([]byte, error) {
	if b, ok := v.AsBytes(); ok {
		return b, nil
	}
	if s, ok := v.AsString(); ok {
		return []byte(s), nil
	}
	return nil, basic.TypeMismatch("BYTES", v.Type().String())
}

func fnMd5(args []basic.Value) (basic.Value, error) {
	b, err := bytesArg(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	sum := md5.Sum(b)
	return basic.NewBytes(sum[:]), nil
}

func fnSha256(args []basic.Value) (basic.Value, error) {
	b, err := bytesArg(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	sum := sha256.Sum256(b)
	return basic.NewBytes(sum[:]), nil
}

func fnSha512(args []basic.Value) (basic.Value, error) {
	b, err := bytesArg(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	sum := sha512.Sum512(b)
	return basic.NewBytes(sum[:]), nil
}

// FARM_FINGERPRINT以xxhash实现，引擎内部稳定
func fnFarmFingerprint(args []basic.Value) (basic.Value, error) {
	b, err := bytesArg(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	return basic.NewInt64(int64(util.HashCode(b))), nil
}

func fnToHex(args []basic.Value) (basic.Value, error) {
	b, err := bytesArg(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	return basic.NewString(hex.EncodeToString(b)), nil
}

func fnFromHex(args []basic.Value) (basic.Value, error) {
	s, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	b, err2 := hex.DecodeString(s)
	if err2 != nil {
		return basic.Value{}, basic.InvalidLiteral("invalid hex string: %v", err2)
	}
	return basic.NewBytes(b), nil
}

func fnToBase64(args []basic.Value) (basic.Value, error) {
	b, err := bytesArg(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	return basic.NewString(base64.StdEncoding.EncodeToString(b)), nil
}

func fnFromBase64(args []basic.Value) (basic.Value, error) {
	s, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	b, err2 := base64.StdEncoding.DecodeString(s)
	if err2 != nil {
		return basic.Value{}, basic.InvalidLiteral("invalid base64 string: %v", err2)
	}
	return basic.NewBytes(b), nil
}

func fnStGeogFromText(args []basic.Value) (basic.Value, error) {
	s, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	return basic.NewGeography(s), nil
}

func fnStAsText(args []basic.Value) (basic.Value, error) {
	if args[0].Type() != basic.TypeGeography {
		return basic.Value{}, basic.TypeMismatch("GEOGRAPHY", args[0].Type().String())
	}
	s, _ := args[0].AsString()
	return basic.NewString(s), nil
}

func rangeArg(v basic.Value) (basic.RangeValue, error) {
	if r, ok := v.AsRange(); ok {
		return r, nil
	}
	return basic.RangeValue{}, basic.TypeMismatch("RANGE", v.Type().String())
}

func fnRangeStart(args []basic.Value) (basic.Value, error) {
	r, err := rangeArg(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	if r.Start == nil {
		return basic.TypedNull(r.Elem), nil
	}
	return *r.Start, nil
}

func fnRangeEnd(args []basic.Value) (basic.Value, error) {
	r, err := rangeArg(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	if r.End == nil {
		return basic.TypedNull(r.Elem), nil
	}
	return *r.End, nil
}

func fnRangeContains(args []basic.Value) (basic.Value, error) {
	r, err := rangeArg(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	v := args[1]
	if r.Start != nil && basic.Compare(v, *r.Start) < 0 {
		return basic.NewBool(false), nil
	}
	if r.End != nil && basic.Compare(v, *r.End) >= 0 {
		return basic.NewBool(false), nil
	}
	return basic.NewBool(true), nil
}
