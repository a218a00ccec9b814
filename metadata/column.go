package metadata

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/util"
)

// 列按物理存储类分组：时间类与整数共用int64向量，
// 定点类共用decimal向量，复合类型退化为Value向量
type physClass int

const (
	classInt64 physClass = iota
	classFloat64
	classBool
	classString
	classBytes
	classDecimal
	classValue
)

func classOf(t basic.DataType) physClass {
	switch t {
	case basic.TypeInt64, basic.TypeDate, basic.TypeTime, basic.TypeDateTime, basic.TypeTimestamp:
		return classInt64
	case basic.TypeFloat64:
		return classFloat64
	case basic.TypeBool:
		return classBool
	case basic.TypeString, basic.TypeGeography:
		return classString
	case basic.TypeBytes:
		return classBytes
	case basic.TypeNumeric, basic.TypeBigNumeric:
		return classDecimal
	default:
		return classValue
	}
}

// Column 带null位图的密集类型化向量
type Column struct {
	typ   basic.DataType
	nulls *util.Bitmap
	i64   []int64
	f64   []float64
	bools []bool
	strs  []string
	bins  [][]byte
	decs  []decimal.Decimal
	vals  []basic.Value
}

// NewColumn 创建空列
func NewColumn(t basic.DataType) *Column {
	return &Column{typ: t, nulls: util.NewBitmap(0)}
}

// NewInt64Column 由底层向量构造，nulls可为nil表示全非空
func NewInt64Column(t basic.DataType, data []int64, nulls *util.Bitmap) *Column {
	if nulls == nil {
		nulls = util.NewBitmap(len(data))
	}
	return &Column{typ: t, i64: data, nulls: nulls}
}

func NewFloat64Column(data []float64, nulls *util.Bitmap) *Column {
	if nulls == nil {
		nulls = util.NewBitmap(len(data))
	}
	return &Column{typ: basic.TypeFloat64, f64: data, nulls: nulls}
}

func NewBoolColumn(data []bool, nulls *util.Bitmap) *Column {
	if nulls == nil {
		nulls = util.NewBitmap(len(data))
	}
	return &Column{typ: basic.TypeBool, bools: data, nulls: nulls}
}

func NewStringColumn(data []string, nulls *util.Bitmap) *Column {
	if nulls == nil {
		nulls = util.NewBitmap(len(data))
	}
	return &Column{typ: basic.TypeString, strs: data, nulls: nulls}
}

// Type 列逻辑类型
func (c *Column) Type() basic.DataType { return c.typ }

// Len 逻辑行数
func (c *Column) Len() int { return c.nulls.Len() }

// IsNull 第i行是否为NULL
func (c *Column) IsNull(i int) bool { return c.nulls.Get(i) }

// Nulls 底层null位图
func (c *Column) Nulls() *util.Bitmap { return c.nulls }

// Int64s 底层int64向量，仅classInt64列有效
func (c *Column) Int64s() []int64 { return c.i64 }

// Float64s 底层float64向量
func (c *Column) Float64s() []float64 { return c.f64 }

// Bools 底层bool向量
func (c *Column) Bools() []bool { return c.bools }

// Strings 底层string向量
func (c *Column) Strings() []string { return c.strs }

// Decimals 底层decimal向量
func (c *Column) Decimals() []decimal.Decimal { return c.decs }

// GetValue 物化第i行为Value
func (c *Column) GetValue(i int) basic.Value {
	if c.nulls.Get(i) {
		return basic.TypedNull(c.typ)
	}
	switch classOf(c.typ) {
	case classInt64:
		switch c.typ {
		case basic.TypeDate:
			return basic.NewDate(c.i64[i])
		case basic.TypeTime:
			return basic.NewTime(c.i64[i])
		case basic.TypeDateTime:
			return basic.NewDateTime(c.i64[i])
		case basic.TypeTimestamp:
			return basic.NewTimestamp(c.i64[i])
		default:
			return basic.NewInt64(c.i64[i])
		}
	case classFloat64:
		return basic.NewFloat64(c.f64[i])
	case classBool:
		return basic.NewBool(c.bools[i])
	case classString:
		if c.typ == basic.TypeGeography {
			return basic.NewGeography(c.strs[i])
		}
		return basic.NewString(c.strs[i])
	case classBytes:
		return basic.NewBytes(c.bins[i])
	case classDecimal:
		if c.typ == basic.TypeBigNumeric {
			return basic.NewBigNumeric(c.decs[i])
		}
		return basic.NewNumeric(c.decs[i])
	default:
		return c.vals[i]
	}
}

// Append 追加一个值；值类型须与列类型可对齐。
// DEFAULT占位仅在Value类列中原样保留（INSERT列对齐前的中间行集）
func (c *Column) Append(v basic.Value) error {
	if v.IsDefault() {
		if classOf(c.typ) == classValue {
			c.vals = append(c.vals, v)
			c.nulls.AppendBit(false)
			return nil
		}
		c.AppendNull()
		return nil
	}
	if v.IsNull() {
		c.AppendNull()
		return nil
	}
	cv, err := basic.Coerce(v, c.typ)
	if err != nil {
		return err
	}
	switch classOf(c.typ) {
	case classInt64:
		i, _ := cv.Raw().(int64)
		c.i64 = append(c.i64, i)
	case classFloat64:
		f, _ := cv.AsFloat64()
		c.f64 = append(c.f64, f)
	case classBool:
		b, _ := cv.AsBool()
		c.bools = append(c.bools, b)
	case classString:
		s, _ := cv.AsString()
		c.strs = append(c.strs, s)
	case classBytes:
		b, _ := cv.AsBytes()
		c.bins = append(c.bins, b)
	case classDecimal:
		d, _ := cv.AsDecimal()
		c.decs = append(c.decs, d)
	default:
		c.vals = append(c.vals, cv)
	}
	c.nulls.AppendBit(false)
	return nil
}

// AppendNull 追加NULL行
func (c *Column) AppendNull() {
	switch classOf(c.typ) {
	case classInt64:
		c.i64 = append(c.i64, 0)
	case classFloat64:
		c.f64 = append(c.f64, 0)
	case classBool:
		c.bools = append(c.bools, false)
	case classString:
		c.strs = append(c.strs, "")
	case classBytes:
		c.bins = append(c.bins, nil)
	case classDecimal:
		c.decs = append(c.decs, decimal.Decimal{})
	default:
		c.vals = append(c.vals, basic.TypedNull(c.typ))
	}
	c.nulls.AppendBit(true)
}

// Broadcast 单值广播为n行列
func Broadcast(v basic.Value, t basic.DataType, n int) (*Column, error) {
	col := NewColumn(t)
	for i := 0; i < n; i++ {
		if err := col.Append(v); err != nil {
			return nil, err
		}
	}
	return col, nil
}

// Gather 按下标序列收集出新列，下标可重复可乱序
func (c *Column) Gather(indices []int) *Column {
	out := NewColumn(c.typ)
	for _, i := range indices {
		c.appendRowTo(out, i)
	}
	return out
}

// GatherNullable 按下标收集，负下标产生NULL行（外连接补空）
func (c *Column) GatherNullable(indices []int) *Column {
	out := NewColumn(c.typ)
	for _, i := range indices {
		if i < 0 {
			out.AppendNull()
			continue
		}
		c.appendRowTo(out, i)
	}
	return out
}

func (c *Column) appendRowTo(out *Column, i int) {
	if c.nulls.Get(i) {
		out.AppendNull()
		return
	}
	switch classOf(c.typ) {
	case classInt64:
		out.i64 = append(out.i64, c.i64[i])
	case classFloat64:
		out.f64 = append(out.f64, c.f64[i])
	case classBool:
		out.bools = append(out.bools, c.bools[i])
	case classString:
		out.strs = append(out.strs, c.strs[i])
	case classBytes:
		out.bins = append(out.bins, c.bins[i])
	case classDecimal:
		out.decs = append(out.decs, c.decs[i])
	default:
		out.vals = append(out.vals, c.vals[i])
	}
	out.nulls.AppendBit(false)
}

// FilterMask 按bool掩码列过滤；掩码NULL视为false
func (c *Column) FilterMask(mask *Column) *Column {
	out := NewColumn(c.typ)
	for i := 0; i < c.Len(); i++ {
		if mask.IsNull(i) || !mask.bools[i] {
			continue
		}
		c.appendRowTo(out, i)
	}
	return out
}

// Clone 深拷贝列
func (c *Column) Clone() *Column {
	out := &Column{typ: c.typ, nulls: c.nulls.Clone()}
	out.i64 = append([]int64(nil), c.i64...)
	out.f64 = append([]float64(nil), c.f64...)
	out.bools = append([]bool(nil), c.bools...)
	out.strs = append([]string(nil), c.strs...)
	out.bins = append([][]byte(nil), c.bins...)
	out.decs = append([]decimal.Decimal(nil), c.decs...)
	out.vals = append([]basic.Value(nil), c.vals...)
	return out
}

// AppendColumn 整列拼接，类型须一致
func (c *Column) AppendColumn(other *Column) {
	for i := 0; i < other.Len(); i++ {
		other.appendRowTo(c, i)
	}
}

// ColumnFromValues 由值序列构造列
func ColumnFromValues(t basic.DataType, values []basic.Value) (*Column, error) {
	col := NewColumn(t)
	for _, v := range values {
		if err := col.Append(v); err != nil {
			return nil, err
		}
	}
	return col, nil
}

// HashRow 将第i行写入行Hash器，用于分组与连接键
func (c *Column) HashRow(h *util.RowHasher, i int) {
	if c.nulls.Get(i) {
		h.WriteString("\x00N")
		return
	}
	switch classOf(c.typ) {
	case classInt64:
		h.WriteUint64(uint64(c.i64[i]))
	case classFloat64:
		h.WriteUint64(math.Float64bits(c.f64[i]))
	case classBool:
		if c.bools[i] {
			h.WriteString("1")
		} else {
			h.WriteString("0")
		}
	case classString:
		h.WriteString(c.strs[i])
		h.WriteString("\x00")
	case classBytes:
		h.WriteBytes(c.bins[i])
		h.WriteString("\x00")
	case classDecimal:
		h.WriteString(c.decs[i].String())
	default:
		h.WriteString(c.vals[i].String())
	}
}
