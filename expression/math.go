package expression

import (
	"math"
	"math/rand"

	"github.com/zhukovaskychina/yachtsql/basic"
)

func init() {
	register(&entry{name: "ABS", minArgs: 1, maxArgs: 1, retType: sameAsArg(0), rowFn: fnAbs})
	register(&entry{name: "SIGN", minArgs: 1, maxArgs: 1, retType: sameAsArg(0), rowFn: fnSign})
	register(&entry{name: "CEIL", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeFloat64), rowFn: float1(math.Ceil)})
	register(&entry{name: "CEILING", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeFloat64), rowFn: float1(math.Ceil)})
	register(&entry{name: "FLOOR", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeFloat64), rowFn: float1(math.Floor)})
	register(&entry{name: "SQRT", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeFloat64), rowFn: fnSqrt})
	register(&entry{name: "EXP", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeFloat64), rowFn: float1(math.Exp)})
	register(&entry{name: "LN", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeFloat64), rowFn: fnLn})
	register(&entry{name: "LOG10", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeFloat64), rowFn: fnLog10})
	register(&entry{name: "LOG", minArgs: 1, maxArgs: 2, retType: fixedType(basic.TypeFloat64), rowFn: fnLog})
	register(&entry{name: "POW", minArgs: 2, maxArgs: 2, retType: fixedType(basic.TypeFloat64), rowFn: float2(math.Pow)})
	register(&entry{name: "POWER", minArgs: 2, maxArgs: 2, retType: fixedType(basic.TypeFloat64), rowFn: float2(math.Pow)})
	register(&entry{name: "ROUND", minArgs: 1, maxArgs: 2, retType: sameAsArg(0), rowFn: fnRound})
	register(&entry{name: "TRUNC", minArgs: 1, maxArgs: 2, retType: sameAsArg(0), rowFn: fnTrunc})
	register(&entry{name: "MOD", minArgs: 2, maxArgs: 2, retType: numericType, rowFn: fnMod})
	register(&entry{name: "DIV", minArgs: 2, maxArgs: 2, retType: fixedType(basic.TypeInt64), rowFn: fnDiv})
	register(&entry{name: "GREATEST", minArgs: 1, maxArgs: -1, retType: sameAsArg(0), rowFn: fnGreatest})
	register(&entry{name: "LEAST", minArgs: 1, maxArgs: -1, retType: sameAsArg(0), rowFn: fnLeast})
	register(&entry{name: "SAFE_DIVIDE", minArgs: 2, maxArgs: 2, retType: fixedType(basic.TypeFloat64), rowFn: fnSafeDivide})
	register(&entry{name: "IEEE_DIVIDE", minArgs: 2, maxArgs: 2, retType: fixedType(basic.TypeFloat64), rowFn: fnIeeeDivide})
	register(&entry{name: "SAFE_ADD", minArgs: 2, maxArgs: 2, retType: numericType, rowFn: safeArith(basic.OpAdd)})
	register(&entry{name: "SAFE_SUBTRACT", minArgs: 2, maxArgs: 2, retType: numericType, rowFn: safeArith(basic.OpSub)})
	register(&entry{name: "SAFE_MULTIPLY", minArgs: 2, maxArgs: 2, retType: numericType, rowFn: safeArith(basic.OpMul)})
	register(&entry{name: "SAFE_NEGATE", minArgs: 1, maxArgs: 1, retType: sameAsArg(0), rowFn: fnSafeNegate})
	register(&entry{name: "IS_NAN", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeBool), rowFn: fnIsNan})
	register(&entry{name: "IS_INF", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeBool), rowFn: fnIsInf})
	register(&entry{name: "RAND", minArgs: 0, maxArgs: 0, retType: fixedType(basic.TypeFloat64), rowFn: fnRand})

	for _, trig := range []struct {
		name string
		fn   func(float64) float64
	}{
		{"SIN", math.Sin}, {"COS", math.Cos}, {"TAN", math.Tan},
		{"ASIN", math.Asin}, {"ACOS", math.Acos}, {"ATAN", math.Atan},
		{"SINH", math.Sinh}, {"COSH", math.Cosh}, {"TANH", math.Tanh},
		{"ASINH", math.Asinh}, {"ACOSH", math.Acosh}, {"ATANH", math.Atanh},
	} {
		register(&entry{name: trig.name, minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeFloat64), rowFn: float1(trig.fn)})
	}
	register(&entry{name: "ATAN2", minArgs: 2, maxArgs: 2, retType: fixedType(basic.TypeFloat64), rowFn: float2(math.Atan2)})
}

func asFloat(v basic.Value) (float64, error) {
	if f, ok := v.ToNumber(); ok {
		return f, nil
	}
	return 0, basic.TypeMismatch("FLOAT64", v.Type().String())
}

func float1(fn func(float64) float64) RowFunc {
	return func(args []basic.Value) (basic.Value, error) {
		f, err := asFloat(args[0])
		if err != nil {
			return basic.Value{}, err
		}
		return basic.NewFloat64(fn(f)), nil
	}
}

func float2(fn func(a, b float64) float64) RowFunc {
	return func(args []basic.Value) (basic.Value, error) {
		a, err := asFloat(args[0])
		if err != nil {
			return basic.Value{}, err
		}
		b, err := asFloat(args[1])
		if err != nil {
			return basic.Value{}, err
		}
		return basic.NewFloat64(fn(a, b)), nil
	}
}

func fnAbs(args []basic.Value) (basic.Value, error) {
	v := args[0]
	switch v.Type() {
	case basic.TypeInt64:
		i, _ := v.AsInt64()
		if i == math.MinInt64 {
			return basic.Value{}, basic.Overflow()
		}
		if i < 0 {
			i = -i
		}
		return basic.NewInt64(i), nil
	case basic.TypeFloat64:
		f, _ := v.AsFloat64()
		return basic.NewFloat64(math.Abs(f)), nil
	case basic.TypeNumeric, basic.TypeBigNumeric:
		d, _ := v.AsDecimal()
		if v.Type() == basic.TypeBigNumeric {
			return basic.NewBigNumeric(d.Abs()), nil
		}
		return basic.NewNumeric(d.Abs()), nil
	}
	return basic.Value{}, basic.TypeMismatch("numeric", v.Type().String())
}

func fnSign(args []basic.Value) (basic.Value, error) {
	f, err := asFloat(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	s := int64(0)
	if f > 0 {
		s = 1
	} else if f < 0 {
		s = -1
	}
	if args[0].Type() == basic.TypeInt64 {
		return basic.NewInt64(s), nil
	}
	return basic.NewFloat64(float64(s)), nil
}

// SQRT(-1)按BigQuery语义报错而非NaN
func fnSqrt(args []basic.Value) (basic.Value, error) {
	f, err := asFloat(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	if f < 0 {
		return basic.Value{}, basic.InvalidQuery("SQRT of negative value")
	}
	return basic.NewFloat64(math.Sqrt(f)), nil
}

func fnLn(args []basic.Value) (basic.Value, error) {
	f, err := asFloat(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	if f <= 0 {
		return basic.Value{}, basic.InvalidQuery("LN of non-positive value")
	}
	return basic.NewFloat64(math.Log(f)), nil
}

func fnLog10(args []basic.Value) (basic.Value, error) {
	f, err := asFloat(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	if f <= 0 {
		return basic.Value{}, basic.InvalidQuery("LOG10 of non-positive value")
	}
	return basic.NewFloat64(math.Log10(f)), nil
}

func fnLog(args []basic.Value) (basic.Value, error) {
	f, err := asFloat(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	if len(args) == 1 {
		return fnLn(args)
	}
	base, err := asFloat(args[1])
	if err != nil {
		return basic.Value{}, err
	}
	if f <= 0 || base <= 0 || base == 1 {
		return basic.Value{}, basic.InvalidQuery("LOG with invalid operands")
	}
	return basic.NewFloat64(math.Log(f) / math.Log(base)), nil
}

func fnRound(args []basic.Value) (basic.Value, error) {
	digits := int32(0)
	if len(args) == 2 {
		d, ok := args[1].AsInt64()
		if !ok {
			return basic.Value{}, basic.TypeMismatch("INT64", args[1].Type().String())
		}
		digits = int32(d)
	}
	v := args[0]
	switch v.Type() {
	case basic.TypeInt64:
		return v, nil
	case basic.TypeNumeric, basic.TypeBigNumeric:
		d, _ := v.AsDecimal()
		r := d.Round(digits)
		if v.Type() == basic.TypeBigNumeric {
			return basic.NewBigNumeric(r), nil
		}
		return basic.NewNumeric(r), nil
	}
	f, err := asFloat(v)
	if err != nil {
		return basic.Value{}, err
	}
	shift := math.Pow(10, float64(digits))
	return basic.NewFloat64(math.Round(f*shift) / shift), nil
}

func fnTrunc(args []basic.Value) (basic.Value, error) {
	digits := int32(0)
	if len(args) == 2 {
		d, ok := args[1].AsInt64()
		if !ok {
			return basic.Value{}, basic.TypeMismatch("INT64", args[1].Type().String())
		}
		digits = int32(d)
	}
	v := args[0]
	switch v.Type() {
	case basic.TypeInt64:
		return v, nil
	case basic.TypeNumeric, basic.TypeBigNumeric:
		d, _ := v.AsDecimal()
		r := d.Truncate(digits)
		if v.Type() == basic.TypeBigNumeric {
			return basic.NewBigNumeric(r), nil
		}
		return basic.NewNumeric(r), nil
	}
	f, err := asFloat(v)
	if err != nil {
		return basic.Value{}, err
	}
	shift := math.Pow(10, float64(digits))
	return basic.NewFloat64(math.Trunc(f*shift) / shift), nil
}

func fnMod(args []basic.Value) (basic.Value, error) {
	a, aok := args[0].AsInt64()
	b, bok := args[1].AsInt64()
	if aok && bok {
		r, err := basic.ModInt64(a, b)
		if err != nil {
			return basic.Value{}, err
		}
		return basic.NewInt64(r), nil
	}
	ad, aok := args[0].ToDecimal()
	bd, bok := args[1].ToDecimal()
	if !aok || !bok {
		return basic.Value{}, basic.TypeMismatch("numeric", args[0].Type().String())
	}
	if bd.IsZero() {
		return basic.Value{}, basic.DivisionByZero()
	}
	return basic.NewNumeric(ad.Mod(bd)), nil
}

func fnDiv(args []basic.Value) (basic.Value, error) {
	a, aok := args[0].AsInt64()
	b, bok := args[1].AsInt64()
	if !aok || !bok {
		return basic.Value{}, basic.TypeMismatch("INT64", args[0].Type().String())
	}
	r, err := basic.DivInt64(a, b)
	if err != nil {
		return basic.Value{}, err
	}
	return basic.NewInt64(r), nil
}

func fnGreatest(args []basic.Value) (basic.Value, error) {
	best := args[0]
	for _, v := range args[1:] {
		if basic.Compare(v, best) > 0 {
			best = v
		}
	}
	return best, nil
}

func fnLeast(args []basic.Value) (basic.Value, error) {
	best := args[0]
	for _, v := range args[1:] {
		if basic.Compare(v, best) < 0 {
			best = v
		}
	}
	return best, nil
}

func fnSafeDivide(args []basic.Value) (basic.Value, error) {
	b, err := asFloat(args[1])
	if err != nil {
		return basic.Value{}, err
	}
	if b == 0 {
		return basic.TypedNull(basic.TypeFloat64), nil
	}
	a, err := asFloat(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	return basic.NewFloat64(a / b), nil
}

func fnIeeeDivide(args []basic.Value) (basic.Value, error) {
	return basic.IEEEDivide(args[0], args[1]), nil
}

func safeArith(op basic.ArithOp) RowFunc {
	return func(args []basic.Value) (basic.Value, error) {
		return basic.SafeArithmetic(op, args[0], args[1])
	}
}

func fnSafeNegate(args []basic.Value) (basic.Value, error) {
	v, err := basic.Negate(args[0])
	if err != nil {
		if basic.KindOf(err) == basic.ErrOverflow {
			return basic.TypedNull(args[0].Type()), nil
		}
		return basic.Value{}, err
	}
	return v, nil
}

func fnIsNan(args []basic.Value) (basic.Value, error) {
	f, err := asFloat(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	return basic.NewBool(math.IsNaN(f)), nil
}

func fnIsInf(args []basic.Value) (basic.Value, error) {
	f, err := asFloat(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	return basic.NewBool(math.IsInf(f, 0)), nil
}

func fnRand([]basic.Value) (basic.Value, error) {
	return basic.NewFloat64(rand.Float64()), nil
}
