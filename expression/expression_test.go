package expression

import (
	"testing"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/metadata"
)

func col(t *testing.T, typ basic.DataType, vals ...basic.Value) *metadata.Column {
	t.Helper()
	c := metadata.NewColumn(typ)
	for _, v := range vals {
		if err := c.Append(v); err != nil {
			t.Fatal(err)
		}
	}
	return c
}

func TestDispatchNullPropagation(t *testing.T) {
	// 默认null规则：任一输入NULL该行输出NULL
	in := col(t, basic.TypeString, basic.NewString("abc"), basic.TypedNull(basic.TypeString))
	out, err := Dispatch("UPPER", []*metadata.Column{in}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := out.GetValue(0).AsString(); s != "ABC" {
		t.Errorf("UPPER row0 = %v", out.GetValue(0))
	}
	if !out.IsNull(1) {
		t.Errorf("NULL input should propagate")
	}
}

func TestCoalesceHandlesNulls(t *testing.T) {
	a := col(t, basic.TypeInt64, basic.TypedNull(basic.TypeInt64), basic.NewInt64(1))
	b := col(t, basic.TypeInt64, basic.NewInt64(9), basic.NewInt64(2))
	out, err := Dispatch("COALESCE", []*metadata.Column{a, b}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := out.GetValue(0).AsInt64(); v != 9 {
		t.Errorf("COALESCE row0 = %v", out.GetValue(0))
	}
	if v, _ := out.GetValue(1).AsInt64(); v != 1 {
		t.Errorf("COALESCE row1 = %v", out.GetValue(1))
	}
}

func TestStringKernels(t *testing.T) {
	cases := []struct {
		fn   string
		args []basic.Value
		want string
	}{
		{"CONCAT", []basic.Value{basic.NewString("a"), basic.NewString("b")}, "ab"},
		{"SUBSTR", []basic.Value{basic.NewString("hello"), basic.NewInt64(2), basic.NewInt64(3)}, "ell"},
		{"TRIM", []basic.Value{basic.NewString("  x  ")}, "x"},
		{"REPLACE", []basic.Value{basic.NewString("aba"), basic.NewString("a"), basic.NewString("c")}, "cbc"},
		{"LPAD", []basic.Value{basic.NewString("7"), basic.NewInt64(3), basic.NewString("0")}, "007"},
		{"REVERSE", []basic.Value{basic.NewString("abc")}, "cba"},
		{"REGEXP_EXTRACT", []basic.Value{basic.NewString("a1b2"), basic.NewString(`(\d)`)}, "1"},
	}
	for _, c := range cases {
		v, err := CallRow(c.fn, c.args)
		if err != nil {
			t.Fatalf("%s: %v", c.fn, err)
		}
		if s, _ := v.AsString(); s != c.want {
			t.Errorf("%s = %q, want %q", c.fn, s, c.want)
		}
	}
}

func TestErrorFunction(t *testing.T) {
	_, err := CallRow("ERROR", []basic.Value{basic.NewString("boom")})
	if basic.KindOf(err) != basic.ErrRaisedException {
		t.Errorf("ERROR() should raise, got %v", err)
	}
}

func TestGenerateArray(t *testing.T) {
	v, err := CallRow("GENERATE_ARRAY", []basic.Value{basic.NewInt64(1), basic.NewInt64(4)})
	if err != nil {
		t.Fatal(err)
	}
	a, _ := v.AsArray()
	if len(a.Items) != 4 {
		t.Errorf("GENERATE_ARRAY(1,4) len = %d", len(a.Items))
	}
}

func TestAccumulators(t *testing.T) {
	sum, err := NewAccumulator("SUM", AccumulatorOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range []int64{1, 2, 3} {
		if err := sum.Accumulate([]basic.Value{basic.NewInt64(v)}); err != nil {
			t.Fatal(err)
		}
	}
	v, err := sum.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if i, _ := v.AsInt64(); i != 6 {
		t.Errorf("SUM = %v", v)
	}

	// Merge路径（并行聚合）
	other, _ := NewAccumulator("SUM", AccumulatorOptions{})
	other.Accumulate([]basic.Value{basic.NewInt64(10)})
	if err := sum.Merge(other); err != nil {
		t.Fatal(err)
	}
	v, _ = sum.Finalize()
	if i, _ := v.AsInt64(); i != 16 {
		t.Errorf("merged SUM = %v", v)
	}
}

func TestDistinctAccumulator(t *testing.T) {
	cnt, _ := NewAccumulator("COUNT", AccumulatorOptions{Distinct: true})
	for _, v := range []int64{1, 1, 2, 2, 3} {
		cnt.Accumulate([]basic.Value{basic.NewInt64(v)})
	}
	v, _ := cnt.Finalize()
	if i, _ := v.AsInt64(); i != 3 {
		t.Errorf("COUNT(DISTINCT) = %v", v)
	}
}

func TestAvgKahan(t *testing.T) {
	avg, _ := NewAccumulator("AVG", AccumulatorOptions{})
	for i := 0; i < 10; i++ {
		avg.Accumulate([]basic.Value{basic.NewFloat64(0.1)})
	}
	v, _ := avg.Finalize()
	if f, _ := v.AsFloat64(); f < 0.0999999 || f > 0.1000001 {
		t.Errorf("AVG = %v", v)
	}
}

func TestVarianceAndCorr(t *testing.T) {
	va, _ := NewAccumulator("VAR_POP", AccumulatorOptions{})
	for _, x := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		va.Accumulate([]basic.Value{basic.NewFloat64(x)})
	}
	v, _ := va.Finalize()
	if f, _ := v.AsFloat64(); f < 3.99 || f > 4.01 {
		t.Errorf("VAR_POP = %v, want 4", v)
	}

	corr, _ := NewAccumulator("CORR", AccumulatorOptions{})
	for i := 1; i <= 10; i++ {
		corr.Accumulate([]basic.Value{basic.NewFloat64(float64(i)), basic.NewFloat64(float64(2 * i))})
	}
	v, _ = corr.Finalize()
	if f, _ := v.AsFloat64(); f < 0.999 {
		t.Errorf("CORR of perfectly linear data = %v", v)
	}
}

func TestApproxCountDistinct(t *testing.T) {
	acc, _ := NewAccumulator("APPROX_COUNT_DISTINCT", AccumulatorOptions{})
	for i := 0; i < 1000; i++ {
		acc.Accumulate([]basic.Value{basic.NewInt64(int64(i % 100))})
	}
	v, _ := acc.Finalize()
	n, _ := v.AsInt64()
	if n < 95 || n > 105 {
		t.Errorf("APPROX_COUNT_DISTINCT = %d, want ~100", n)
	}
}
