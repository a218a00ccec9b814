package basic

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestThreeValuedEquality(t *testing.T) {
	// NULL与任何值比较结果为NULL
	r := Equals(NullValue(), NewInt64(1))
	if !r.IsNull() {
		t.Errorf("NULL = 1 should be NULL, got %v", r)
	}
	r = Equals(NullValue(), NullValue())
	if !r.IsNull() {
		t.Errorf("NULL = NULL should be NULL, got %v", r)
	}
	r = Equals(NewInt64(2), NewInt64(2))
	if b, _ := r.AsBool(); !b {
		t.Errorf("2 = 2 should be true")
	}
}

func TestCrossTypeNumericEquality(t *testing.T) {
	// Int64与Float64跨类型按数值比较
	r := Equals(NewInt64(2), NewFloat64(2.0))
	if b, _ := r.AsBool(); !b {
		t.Errorf("2 = 2.0 should be true")
	}
	// 整数提升到定点域
	r = Equals(NewInt64(3), NewNumeric(decimal.NewFromInt(3)))
	if b, _ := r.AsBool(); !b {
		t.Errorf("3 = NUMERIC 3 should be true")
	}
}

func TestFloatTotalOrder(t *testing.T) {
	// NaN排在所有有限值之后
	if TotalCompareFloat64(math.NaN(), math.Inf(1)) != 1 {
		t.Errorf("NaN should sort after +Inf")
	}
	if TotalCompareFloat64(math.Inf(-1), 0) != -1 {
		t.Errorf("-Inf should sort before 0")
	}
	if TotalCompareFloat64(math.NaN(), math.NaN()) != 0 {
		t.Errorf("NaN should compare equal to NaN in total order")
	}
}

func TestKleeneLogic(t *testing.T) {
	null := TypedNull(TypeBool)
	// false AND NULL = false
	if b, ok := And(NewBool(false), null).AsBool(); !ok || b {
		t.Errorf("false AND NULL should be false")
	}
	// true OR NULL = true
	if b, ok := Or(NewBool(true), null).AsBool(); !ok || !b {
		t.Errorf("true OR NULL should be true")
	}
	// true AND NULL = NULL
	if !And(NewBool(true), null).IsNull() {
		t.Errorf("true AND NULL should be NULL")
	}
	if !Not(null).IsNull() {
		t.Errorf("NOT NULL should be NULL")
	}
}

func TestCheckedArithmetic(t *testing.T) {
	if _, err := AddInt64(math.MaxInt64, 1); KindOf(err) != ErrOverflow {
		t.Errorf("MaxInt64+1 should overflow, got %v", err)
	}
	if _, err := MulInt64(math.MinInt64, -1); KindOf(err) != ErrOverflow {
		t.Errorf("MinInt64*-1 should overflow, got %v", err)
	}
	if _, err := DivInt64(1, 0); KindOf(err) != ErrDivisionByZero {
		t.Errorf("1/0 should be DivisionByZero, got %v", err)
	}
	v, err := AddInt64(40, 2)
	if err != nil || v != 42 {
		t.Errorf("40+2 = %d, %v", v, err)
	}
}

func TestSafeArithmetic(t *testing.T) {
	// SAFE_*族溢出与除零返回NULL
	v, err := SafeArithmetic(OpMul, NewInt64(math.MaxInt64), NewInt64(2))
	if err != nil || !v.IsNull() {
		t.Errorf("SAFE multiply overflow should yield NULL, got %v, %v", v, err)
	}
	v, err = SafeArithmetic(OpDiv, NewInt64(1), NewInt64(0))
	if err != nil || !v.IsNull() {
		t.Errorf("SAFE_DIVIDE(1,0) should yield NULL, got %v, %v", v, err)
	}
}

func TestIEEEDivide(t *testing.T) {
	v := IEEEDivide(NewFloat64(1), NewFloat64(0))
	if f, _ := v.AsFloat64(); !math.IsInf(f, 1) {
		t.Errorf("IEEE_DIVIDE(1,0) should be +Inf, got %v", v)
	}
	v = IEEEDivide(NewFloat64(0), NewFloat64(0))
	if f, _ := v.AsFloat64(); !math.IsNaN(f) {
		t.Errorf("IEEE_DIVIDE(0,0) should be NaN, got %v", v)
	}
}

func TestNumericDivisionScale(t *testing.T) {
	// 定点除法不静默截断小数位
	a := NewNumeric(decimal.NewFromInt(1))
	b := NewNumeric(decimal.NewFromInt(3))
	v, err := Arithmetic(OpDiv, a, b)
	if err != nil {
		t.Fatalf("1/3 numeric: %v", err)
	}
	d, _ := v.AsDecimal()
	if d.String() != "0.333333333" {
		t.Errorf("NUMERIC 1/3 = %s, want 0.333333333", d.String())
	}
}

func TestIntegerDivisionIsFloat(t *testing.T) {
	v, err := Arithmetic(OpDiv, NewInt64(1), NewInt64(2))
	if err != nil {
		t.Fatal(err)
	}
	if f, ok := v.AsFloat64(); !ok || f != 0.5 {
		t.Errorf("1/2 = %v, want FLOAT64 0.5", v)
	}
}

func TestIntervalShift(t *testing.T) {
	d, err := ParseDate("2024-01-31")
	if err != nil {
		t.Fatal(err)
	}
	v, err := Arithmetic(OpAdd, d, NewInterval(Interval{Months: 1}))
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "2024-03-02" {
		// AddDate按Go规则归一化2月31日
		t.Logf("date+1 month normalized to %s", v.String())
	}
}

func TestCoerce(t *testing.T) {
	v, err := Coerce(NewString("42"), TypeInt64)
	if err != nil {
		t.Fatal(err)
	}
	if i, _ := v.AsInt64(); i != 42 {
		t.Errorf("coerce '42' to INT64 = %v", v)
	}
	if _, err := Coerce(NewString("abc"), TypeInt64); KindOf(err) != ErrInvalidLiteral {
		t.Errorf("coerce 'abc' to INT64 should be InvalidLiteral, got %v", err)
	}
	// NULL保持NULL并获得目标类型
	v, err = Coerce(NullValue(), TypeString)
	if err != nil || !v.IsNull() || v.Type() != TypeString {
		t.Errorf("coerce NULL to STRING = %v, %v", v, err)
	}
}

func TestCompareNullsFirst(t *testing.T) {
	if Compare(NullValue(), NewInt64(0)) != -1 {
		t.Errorf("NULL should compare before any value")
	}
	if Compare(NewString("a"), NewString("b")) != -1 {
		t.Errorf("'a' < 'b'")
	}
}
