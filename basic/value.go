package basic

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// 时间类值统一使用int64编码，列存储时与Int64共用底层向量：
//   Date      自Unix纪元的天数
//   Time      自午夜的纳秒数
//   DateTime  无时区的自纪元微秒数
//   Timestamp UTC纪元微秒数
const (
	MicrosPerSecond = int64(1000000)
	NanosPerMicro   = int64(1000)
)

// Interval 月/日/纳秒三元组，互相不归一化
type Interval struct {
	Months int64
	Days   int64
	Nanos  int64
}

// ArrayValue 同构数组
type ArrayValue struct {
	Elem  DataType
	Items []Value
}

// StructField 结构体字段
type StructField struct {
	Name string
	Val  Value
}

// StructValue 有序字段序列
type StructValue struct {
	Fields []StructField
}

// RangeValue 可选起止端点的区间，端点为nil表示UNBOUNDED
type RangeValue struct {
	Elem  DataType
	Start *Value
	End   *Value
}

// Value SQL值的带标签联合。零值即无类型NULL
type Value struct {
	typ DataType
	v   interface{}
}

// NullValue 无类型NULL
func NullValue() Value { return Value{typ: TypeNull} }

// TypedNull 指定类型的NULL
func TypedNull(t DataType) Value { return Value{typ: t, v: nil} }

// DefaultValue INSERT中的DEFAULT占位值
func DefaultValue() Value { return Value{typ: TypeDefault} }

func NewBool(b bool) Value       { return Value{typ: TypeBool, v: b} }
func NewInt64(i int64) Value     { return Value{typ: TypeInt64, v: i} }
func NewFloat64(f float64) Value { return Value{typ: TypeFloat64, v: f} }
func NewString(s string) Value   { return Value{typ: TypeString, v: s} }
func NewBytes(b []byte) Value    { return Value{typ: TypeBytes, v: b} }

func NewNumeric(d decimal.Decimal) Value    { return Value{typ: TypeNumeric, v: d} }
func NewBigNumeric(d decimal.Decimal) Value { return Value{typ: TypeBigNumeric, v: d} }

func NewDate(days int64) Value        { return Value{typ: TypeDate, v: days} }
func NewTime(nanos int64) Value       { return Value{typ: TypeTime, v: nanos} }
func NewDateTime(micros int64) Value  { return Value{typ: TypeDateTime, v: micros} }
func NewTimestamp(micros int64) Value { return Value{typ: TypeTimestamp, v: micros} }

func NewInterval(iv Interval) Value  { return Value{typ: TypeInterval, v: iv} }
func NewJson(j interface{}) Value    { return Value{typ: TypeJson, v: j} }
func NewArray(a ArrayValue) Value    { return Value{typ: TypeArray, v: a} }
func NewStruct(s StructValue) Value  { return Value{typ: TypeStruct, v: s} }
func NewGeography(wkt string) Value  { return Value{typ: TypeGeography, v: wkt} }
func NewRange(r RangeValue) Value    { return Value{typ: TypeRange, v: r} }

// Type 值的类型标签
func (v Value) Type() DataType { return v.typ }

// IsNull NULL判定；Default占位不是NULL
func (v Value) IsNull() bool {
	return v.typ == TypeNull || (v.v == nil && v.typ != TypeDefault)
}

// IsDefault INSERT的DEFAULT占位
func (v Value) IsDefault() bool { return v.typ == TypeDefault }

func (v Value) AsBool() (bool, bool) {
	b, ok := v.v.(bool)
	return b, ok
}

func (v Value) AsInt64() (int64, bool) {
	i, ok := v.v.(int64)
	if !ok || !(v.typ == TypeInt64 || v.typ.IsTemporal()) {
		return 0, false
	}
	return i, true
}

func (v Value) AsFloat64() (float64, bool) {
	f, ok := v.v.(float64)
	return f, ok
}

func (v Value) AsString() (string, bool) {
	s, ok := v.v.(string)
	return s, ok
}

func (v Value) AsBytes() ([]byte, bool) {
	b, ok := v.v.([]byte)
	return b, ok
}

func (v Value) AsDecimal() (decimal.Decimal, bool) {
	d, ok := v.v.(decimal.Decimal)
	return d, ok
}

func (v Value) AsInterval() (Interval, bool) {
	iv, ok := v.v.(Interval)
	return iv, ok
}

func (v Value) AsArray() (ArrayValue, bool) {
	a, ok := v.v.(ArrayValue)
	return a, ok
}

func (v Value) AsStruct() (StructValue, bool) {
	s, ok := v.v.(StructValue)
	return s, ok
}

func (v Value) AsRange() (RangeValue, bool) {
	r, ok := v.v.(RangeValue)
	return r, ok
}

func (v Value) AsJson() (interface{}, bool) {
	if v.typ != TypeJson || v.v == nil {
		return nil, false
	}
	return v.v, true
}

// Raw 底层原始值
func (v Value) Raw() interface{} { return v.v }

// ToNumber 数值域统一取float64，用于有损比较路径
func (v Value) ToNumber() (float64, bool) {
	switch v.typ {
	case TypeInt64:
		return float64(v.v.(int64)), true
	case TypeFloat64:
		return v.v.(float64), true
	case TypeNumeric, TypeBigNumeric:
		f, _ := v.v.(decimal.Decimal).Float64()
		return f, true
	}
	return 0, false
}

// ToDecimal 数值域提升到定点域
func (v Value) ToDecimal() (decimal.Decimal, bool) {
	switch v.typ {
	case TypeInt64:
		return decimal.NewFromInt(v.v.(int64)), true
	case TypeNumeric, TypeBigNumeric:
		return v.v.(decimal.Decimal), true
	case TypeFloat64:
		return decimal.NewFromFloat(v.v.(float64)), true
	}
	return decimal.Decimal{}, false
}

// DateToTime Date值转time.Time（UTC午夜）
func DateToTime(days int64) time.Time {
	return time.Unix(days*86400, 0).UTC()
}

// TimeFromParts 组装Time编码
func TimeFromParts(h, m, s, nanos int64) int64 {
	return ((h*60+m)*60+s)*int64(time.Second) + nanos
}

// MicrosToTime Timestamp/DateTime微秒编码转time.Time
func MicrosToTime(micros int64) time.Time {
	return time.Unix(micros/MicrosPerSecond, (micros%MicrosPerSecond)*NanosPerMicro).UTC()
}

// TimeToMicros time.Time转微秒编码
func TimeToMicros(t time.Time) int64 {
	return t.Unix()*MicrosPerSecond + int64(t.Nanosecond())/NanosPerMicro
}

// String 值的文本显示形式
func (v Value) String() string {
	if v.IsNull() {
		return "NULL"
	}
	switch v.typ {
	case TypeBool:
		if v.v.(bool) {
			return "true"
		}
		return "false"
	case TypeInt64:
		return strconv.FormatInt(v.v.(int64), 10)
	case TypeFloat64:
		return strconv.FormatFloat(v.v.(float64), 'g', -1, 64)
	case TypeNumeric, TypeBigNumeric:
		return v.v.(decimal.Decimal).String()
	case TypeString, TypeGeography:
		return v.v.(string)
	case TypeBytes:
		return base64.StdEncoding.EncodeToString(v.v.([]byte))
	case TypeDate:
		return DateToTime(v.v.(int64)).Format("2006-01-02")
	case TypeTime:
		n := v.v.(int64)
		t := time.Date(1970, 1, 1, 0, 0, 0, int(n), time.UTC)
		return t.Format("15:04:05.000000")
	case TypeDateTime:
		return MicrosToTime(v.v.(int64)).Format("2006-01-02T15:04:05.000000")
	case TypeTimestamp:
		return MicrosToTime(v.v.(int64)).Format("2006-01-02T15:04:05.000000Z")
	case TypeInterval:
		iv := v.v.(Interval)
		return fmt.Sprintf("%d-%d %d %s", iv.Months/12, iv.Months%12, iv.Days,
			time.Duration(iv.Nanos).String())
	case TypeArray:
		a := v.v.(ArrayValue)
		parts := make([]string, len(a.Items))
		for i, it := range a.Items {
			parts[i] = it.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case TypeStruct:
		s := v.v.(StructValue)
		parts := make([]string, len(s.Fields))
		for i, f := range s.Fields {
			parts[i] = f.Name + ":" + f.Val.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case TypeRange:
		r := v.v.(RangeValue)
		lo, hi := "UNBOUNDED", "UNBOUNDED"
		if r.Start != nil {
			lo = r.Start.String()
		}
		if r.End != nil {
			hi = r.End.String()
		}
		return "[" + lo + ", " + hi + ")"
	case TypeJson:
		return JsonToString(v.v)
	case TypeDefault:
		return "DEFAULT"
	}
	return fmt.Sprintf("%v", v.v)
}

// JsonToString JSON内部表示转紧凑文本
func JsonToString(j interface{}) string {
	switch x := j.(type) {
	case nil:
		return "null"
	case bool:
		if x {
			return "true"
		}
		return "false"
	case string:
		return strconv.Quote(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case []interface{}:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = JsonToString(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, strconv.Quote(k)+":"+JsonToString(x[k]))
		}
		return "{" + strings.Join(parts, ",") + "}"
	}
	return fmt.Sprintf("%v", j)
}
