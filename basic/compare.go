package basic

import (
	"bytes"
	"math"
	"strings"
)

// Compare 全序比较，NULL排在所有非NULL之前。返回-1/0/1。
// 排序与DISTINCT走该路径；表达式相等走Equals（三值逻辑）
func Compare(a, b Value) int {
	an, bn := a.IsNull(), b.IsNull()
	if an && bn {
		return 0
	}
	if an {
		return -1
	}
	if bn {
		return 1
	}
	// 数值域跨类型按数值比较
	if a.typ.IsNumericType() && b.typ.IsNumericType() {
		return compareNumeric(a, b)
	}
	switch a.typ {
	case TypeBool:
		av, _ := a.AsBool()
		bv, _ := b.AsBool()
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	case TypeString, TypeGeography:
		av, _ := a.AsString()
		bv, _ := b.AsString()
		return strings.Compare(av, bv)
	case TypeBytes:
		av, _ := a.AsBytes()
		bv, _ := b.AsBytes()
		return bytes.Compare(av, bv)
	case TypeDate, TypeTime, TypeDateTime, TypeTimestamp:
		av := a.v.(int64)
		bv := b.v.(int64)
		return compareInt64(av, bv)
	case TypeInterval:
		av, _ := a.AsInterval()
		bv, _ := b.AsInterval()
		// 近似归一：月折30天，天折86400秒
		an := (av.Months*30+av.Days)*86400*int64(1e9) + av.Nanos
		bn := (bv.Months*30+bv.Days)*86400*int64(1e9) + bv.Nanos
		return compareInt64(an, bn)
	case TypeArray:
		av, _ := a.AsArray()
		bv, _ := b.AsArray()
		n := len(av.Items)
		if len(bv.Items) < n {
			n = len(bv.Items)
		}
		for i := 0; i < n; i++ {
			if c := Compare(av.Items[i], bv.Items[i]); c != 0 {
				return c
			}
		}
		return compareInt64(int64(len(av.Items)), int64(len(bv.Items)))
	case TypeStruct:
		av, _ := a.AsStruct()
		bv, _ := b.AsStruct()
		n := len(av.Fields)
		if len(bv.Fields) < n {
			n = len(bv.Fields)
		}
		for i := 0; i < n; i++ {
			if c := Compare(av.Fields[i].Val, bv.Fields[i].Val); c != 0 {
				return c
			}
		}
		return compareInt64(int64(len(av.Fields)), int64(len(bv.Fields)))
	case TypeRange:
		av, _ := a.AsRange()
		bv, _ := b.AsRange()
		if c := compareBound(av.Start, bv.Start, -1); c != 0 {
			return c
		}
		return compareBound(av.End, bv.End, 1)
	case TypeJson:
		return strings.Compare(JsonToString(a.v), JsonToString(b.v))
	}
	return strings.Compare(a.String(), b.String())
}

func compareBound(a, b *Value, unboundedSign int) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return unboundedSign * -1
	}
	if b == nil {
		return unboundedSign
	}
	return Compare(*a, *b)
}

func compareInt64(a, b int64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// TotalCompareFloat64 浮点全序：NaN排在所有有限值之后
func TotalCompareFloat64(a, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	if an && bn {
		return 0
	}
	if an {
		return 1
	}
	if bn {
		return -1
	}
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func compareNumeric(a, b Value) int {
	// Float64参与时退化为有损f64比较
	if a.typ == TypeFloat64 || b.typ == TypeFloat64 {
		af, _ := a.ToNumber()
		bf, _ := b.ToNumber()
		return TotalCompareFloat64(af, bf)
	}
	if a.typ == TypeInt64 && b.typ == TypeInt64 {
		return compareInt64(a.v.(int64), b.v.(int64))
	}
	// 整数提升到定点域
	ad, _ := a.ToDecimal()
	bd, _ := b.ToDecimal()
	return ad.Cmp(bd)
}

// Equals 三值逻辑相等：任一侧NULL结果为NULL
func Equals(a, b Value) Value {
	if a.IsNull() || b.IsNull() {
		return TypedNull(TypeBool)
	}
	if a.typ.IsNumericType() != b.typ.IsNumericType() && a.typ != b.typ {
		return NewBool(false)
	}
	return NewBool(Compare(a, b) == 0)
}

// EqualsNullSafe IS NOT DISTINCT FROM语义，NULL等于NULL
func EqualsNullSafe(a, b Value) bool {
	if a.IsNull() && b.IsNull() {
		return true
	}
	if a.IsNull() || b.IsNull() {
		return false
	}
	return Compare(a, b) == 0
}

// And Kleene三值AND
func And(a, b Value) Value {
	av, aok := a.AsBool()
	bv, bok := b.AsBool()
	if aok && !av || bok && !bv {
		return NewBool(false)
	}
	if a.IsNull() || b.IsNull() {
		return TypedNull(TypeBool)
	}
	return NewBool(av && bv)
}

// Or Kleene三值OR
func Or(a, b Value) Value {
	av, aok := a.AsBool()
	bv, bok := b.AsBool()
	if aok && av || bok && bv {
		return NewBool(true)
	}
	if a.IsNull() || b.IsNull() {
		return TypedNull(TypeBool)
	}
	return NewBool(av || bv)
}

// Not 三值NOT
func Not(a Value) Value {
	if a.IsNull() {
		return TypedNull(TypeBool)
	}
	av, _ := a.AsBool()
	return NewBool(!av)
}
