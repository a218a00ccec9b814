package basic

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// NumericScale / BigNumericScale 定点小数位上限
const (
	NumericScale    = 9
	BigNumericScale = 38
)

// AddInt64 带溢出检查的64位加法
func AddInt64(a, b int64) (int64, error) {
	s := a + b
	if (a > 0 && b > 0 && s < 0) || (a < 0 && b < 0 && s >= 0) {
		return 0, Overflow()
	}
	return s, nil
}

// SubInt64 带溢出检查的64位减法
func SubInt64(a, b int64) (int64, error) {
	d := a - b
	if (a >= 0 && b < 0 && d < 0) || (a < 0 && b > 0 && d >= 0) {
		return 0, Overflow()
	}
	return d, nil
}

// MulInt64 带溢出检查的64位乘法
func MulInt64(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	p := a * b
	if p/b != a || (a == math.MinInt64 && b == -1) {
		return 0, Overflow()
	}
	return p, nil
}

// DivInt64 整数除法，除零报错，MinInt64/-1溢出
func DivInt64(a, b int64) (int64, error) {
	if b == 0 {
		return 0, DivisionByZero()
	}
	if a == math.MinInt64 && b == -1 {
		return 0, Overflow()
	}
	return a / b, nil
}

// ModInt64 取模，除零报错
func ModInt64(a, b int64) (int64, error) {
	if b == 0 {
		return 0, DivisionByZero()
	}
	if a == math.MinInt64 && b == -1 {
		return 0, nil
	}
	return a % b, nil
}

// ArithOp 算术运算符标签
type ArithOp int

const (
	OpAdd ArithOp = iota
	OpSub
	OpMul
	OpDiv
)

// Arithmetic 值级算术，遵循三值逻辑：任一NULL产生NULL。
// 整数对整数使用检查算术；定点域不静默截断小数位；
// `/` 总是产生Float64或定点商，除零报DivisionByZero
func Arithmetic(op ArithOp, a, b Value) (Value, error) {
	if a.IsNull() || b.IsNull() {
		return TypedNull(resultType(op, a.typ, b.typ)), nil
	}
	// 时间 ± INTERVAL
	if iv, ok := b.AsInterval(); ok && a.typ.IsTemporal() && (op == OpAdd || op == OpSub) {
		return shiftTemporal(a, iv, op == OpSub)
	}
	if iv, ok := a.AsInterval(); ok && b.typ.IsTemporal() && op == OpAdd {
		return shiftTemporal(b, iv, false)
	}
	if ai, aok := a.AsInterval(); aok {
		if bi, bok := b.AsInterval(); bok && (op == OpAdd || op == OpSub) {
			if op == OpSub {
				bi = Interval{-bi.Months, -bi.Days, -bi.Nanos}
			}
			return NewInterval(Interval{ai.Months + bi.Months, ai.Days + bi.Days, ai.Nanos + bi.Nanos}), nil
		}
	}
	if !a.typ.IsNumericType() || !b.typ.IsNumericType() {
		return Value{}, TypeMismatch("numeric operands", a.typ.String()+", "+b.typ.String())
	}
	// 任一侧Float64则整个运算落入浮点域
	if a.typ == TypeFloat64 || b.typ == TypeFloat64 {
		af, _ := a.ToNumber()
		bf, _ := b.ToNumber()
		switch op {
		case OpAdd:
			return NewFloat64(af + bf), nil
		case OpSub:
			return NewFloat64(af - bf), nil
		case OpMul:
			return NewFloat64(af * bf), nil
		case OpDiv:
			if bf == 0 {
				return Value{}, DivisionByZero()
			}
			return NewFloat64(af / bf), nil
		}
	}
	// 任一侧定点则提升到定点域
	if a.typ == TypeNumeric || a.typ == TypeBigNumeric || b.typ == TypeNumeric || b.typ == TypeBigNumeric {
		ad, _ := a.ToDecimal()
		bd, _ := b.ToDecimal()
		scale := int32(NumericScale)
		mk := NewNumeric
		if a.typ == TypeBigNumeric || b.typ == TypeBigNumeric {
			scale = BigNumericScale
			mk = NewBigNumeric
		}
		switch op {
		case OpAdd:
			return mk(ad.Add(bd)), nil
		case OpSub:
			return mk(ad.Sub(bd)), nil
		case OpMul:
			return mk(ad.Mul(bd)), nil
		case OpDiv:
			if bd.IsZero() {
				return Value{}, DivisionByZero()
			}
			return mk(ad.DivRound(bd, scale)), nil
		}
	}
	ai := a.v.(int64)
	bi := b.v.(int64)
	switch op {
	case OpAdd:
		r, err := AddInt64(ai, bi)
		if err != nil {
			return Value{}, err
		}
		return NewInt64(r), nil
	case OpSub:
		r, err := SubInt64(ai, bi)
		if err != nil {
			return Value{}, err
		}
		return NewInt64(r), nil
	case OpMul:
		r, err := MulInt64(ai, bi)
		if err != nil {
			return Value{}, err
		}
		return NewInt64(r), nil
	case OpDiv:
		// BigQuery的`/`在整数上仍产生FLOAT64
		if bi == 0 {
			return Value{}, DivisionByZero()
		}
		return NewFloat64(float64(ai) / float64(bi)), nil
	}
	return Value{}, Internal("unhandled arithmetic op %d", op)
}

// SafeArithmetic SAFE_*族：溢出与除零返回NULL而非错误
func SafeArithmetic(op ArithOp, a, b Value) (Value, error) {
	v, err := Arithmetic(op, a, b)
	if err != nil {
		switch KindOf(err) {
		case ErrOverflow, ErrDivisionByZero:
			return TypedNull(resultType(op, a.typ, b.typ)), nil
		}
		return Value{}, err
	}
	return v, nil
}

// IEEEDivide IEEE浮点除法：除零产生±Inf或NaN
func IEEEDivide(a, b Value) Value {
	if a.IsNull() || b.IsNull() {
		return TypedNull(TypeFloat64)
	}
	af, _ := a.ToNumber()
	bf, _ := b.ToNumber()
	return NewFloat64(af / bf)
}

// Negate 取负，整数检查溢出
func Negate(a Value) (Value, error) {
	if a.IsNull() {
		return TypedNull(a.typ), nil
	}
	switch a.typ {
	case TypeInt64:
		i := a.v.(int64)
		if i == math.MinInt64 {
			return Value{}, Overflow()
		}
		return NewInt64(-i), nil
	case TypeFloat64:
		return NewFloat64(-a.v.(float64)), nil
	case TypeNumeric:
		return NewNumeric(a.v.(decimal.Decimal).Neg()), nil
	case TypeBigNumeric:
		return NewBigNumeric(a.v.(decimal.Decimal).Neg()), nil
	case TypeInterval:
		iv := a.v.(Interval)
		return NewInterval(Interval{-iv.Months, -iv.Days, -iv.Nanos}), nil
	}
	return Value{}, TypeMismatch("numeric operand", a.typ.String())
}

func resultType(op ArithOp, a, b DataType) DataType {
	if a == TypeFloat64 || b == TypeFloat64 || op == OpDiv && a == TypeInt64 && b == TypeInt64 {
		return TypeFloat64
	}
	if a == TypeBigNumeric || b == TypeBigNumeric {
		return TypeBigNumeric
	}
	if a == TypeNumeric || b == TypeNumeric {
		return TypeNumeric
	}
	if a.IsTemporal() {
		return a
	}
	if b.IsTemporal() {
		return b
	}
	return TypeInt64
}

func shiftTemporal(t Value, iv Interval, negate bool) (Value, error) {
	if negate {
		iv = Interval{-iv.Months, -iv.Days, -iv.Nanos}
	}
	switch t.typ {
	case TypeDate:
		if iv.Nanos != 0 {
			return Value{}, InvalidQuery("cannot add sub-day interval to DATE")
		}
		tm := DateToTime(t.v.(int64)).AddDate(0, int(iv.Months), int(iv.Days))
		return NewDate(tm.Unix() / 86400), nil
	case TypeDateTime, TypeTimestamp:
		tm := MicrosToTime(t.v.(int64)).AddDate(0, int(iv.Months), int(iv.Days))
		tm = tm.Add(time.Duration(iv.Nanos))
		if t.typ == TypeDateTime {
			return NewDateTime(TimeToMicros(tm)), nil
		}
		return NewTimestamp(TimeToMicros(tm)), nil
	case TypeTime:
		n := t.v.(int64) + iv.Nanos
		day := int64(24) * 3600 * 1e9
		n = ((n % day) + day) % day
		return NewTime(n), nil
	}
	return Value{}, TypeMismatch("temporal operand", t.typ.String())
}
