package expression

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/statistics"
	"github.com/zhukovaskychina/yachtsql/util"
)

// Accumulator 聚合状态机：创建→累加→（并行时）合并→终结
type Accumulator interface {
	// Accumulate 累加一行的参数值
	Accumulate(args []basic.Value) error
	// Merge 合并另一同类状态（并行聚合）
	Merge(other Accumulator) error
	// Finalize 产出聚合值
	Finalize() (basic.Value, error)
}

// AccumulatorOptions 聚合调用修饰
type AccumulatorOptions struct {
	Distinct    bool
	IgnoreNulls bool
	// Separator STRING_AGG分隔符（常量求值后传入）
	Separator string
	// Limit ARRAY_AGG内LIMIT；<=0无限制
	Limit int64
}

// NewAccumulator 按函数名构造累加器。DISTINCT在外层包装实现
func NewAccumulator(name string, opts AccumulatorOptions) (Accumulator, error) {
	var acc Accumulator
	switch strings.ToUpper(name) {
	case "COUNT":
		acc = &countAcc{}
	case "COUNTIF":
		acc = &countIfAcc{}
	case "SUM":
		acc = &sumAcc{}
	case "AVG":
		acc = &avgAcc{}
	case "MIN":
		acc = &minMaxAcc{isMin: true}
	case "MAX":
		acc = &minMaxAcc{}
	case "ANY_VALUE":
		acc = &anyValueAcc{}
	case "ARRAY_AGG":
		acc = &arrayAgg{limit: opts.Limit, ignoreNulls: opts.IgnoreNulls}
	case "STRING_AGG":
		sep := opts.Separator
		if sep == "" {
			sep = ","
		}
		acc = &stringAgg{sep: sep}
	case "LOGICAL_AND":
		acc = &logicalAcc{isAnd: true, state: true}
	case "LOGICAL_OR":
		acc = &logicalAcc{}
	case "BIT_AND":
		acc = &bitAcc{op: "AND", state: -1}
	case "BIT_OR":
		acc = &bitAcc{op: "OR"}
	case "BIT_XOR":
		acc = &bitAcc{op: "XOR"}
	case "APPROX_COUNT_DISTINCT":
		acc = &hllAcc{sketch: statistics.NewHyperLogLog()}
	case "APPROX_QUANTILES":
		acc = &quantilesAcc{sketch: statistics.NewTDigest(100)}
	case "APPROX_TOP_COUNT":
		acc = &topCountAcc{}
	case "APPROX_TOP_SUM":
		acc = &topSumAcc{}
	case "CORR":
		acc = &corrAcc{}
	case "COVAR_POP":
		acc = &covarAcc{pop: true}
	case "COVAR_SAMP":
		acc = &covarAcc{}
	case "STDDEV_POP":
		acc = &varianceAcc{pop: true, sqrt: true}
	case "STDDEV", "STDDEV_SAMP":
		acc = &varianceAcc{sqrt: true}
	case "VAR_POP", "VARIANCE_POP":
		acc = &varianceAcc{pop: true}
	case "VAR_SAMP", "VARIANCE":
		acc = &varianceAcc{}
	default:
		return nil, basic.FunctionNotFound(name)
	}
	if opts.Distinct {
		acc = &distinctAcc{inner: acc, seen: map[string]bool{}}
	}
	return acc, nil
}

// IsAggregateName 名称是否为内建聚合
func IsAggregateName(name string) bool {
	switch strings.ToUpper(name) {
	case "COUNT", "COUNTIF", "SUM", "AVG", "MIN", "MAX", "ANY_VALUE",
		"ARRAY_AGG", "STRING_AGG", "LOGICAL_AND", "LOGICAL_OR",
		"BIT_AND", "BIT_OR", "BIT_XOR",
		"APPROX_COUNT_DISTINCT", "APPROX_QUANTILES", "APPROX_TOP_COUNT", "APPROX_TOP_SUM",
		"CORR", "COVAR_POP", "COVAR_SAMP",
		"STDDEV", "STDDEV_POP", "STDDEV_SAMP",
		"VAR_POP", "VAR_SAMP", "VARIANCE", "VARIANCE_POP", "GROUPING":
		return true
	}
	return false
}

// AggregateReturnType 聚合返回类型
func AggregateReturnType(name string, args []basic.DataType) basic.DataType {
	switch strings.ToUpper(name) {
	case "COUNT", "COUNTIF", "BIT_AND", "BIT_OR", "BIT_XOR", "APPROX_COUNT_DISTINCT", "GROUPING":
		return basic.TypeInt64
	case "SUM":
		if len(args) > 0 {
			switch args[0] {
			case basic.TypeFloat64:
				return basic.TypeFloat64
			case basic.TypeNumeric:
				return basic.TypeNumeric
			case basic.TypeBigNumeric:
				return basic.TypeBigNumeric
			}
		}
		return basic.TypeInt64
	case "AVG", "CORR", "COVAR_POP", "COVAR_SAMP",
		"STDDEV", "STDDEV_POP", "STDDEV_SAMP", "VAR_POP", "VAR_SAMP", "VARIANCE", "VARIANCE_POP":
		return basic.TypeFloat64
	case "MIN", "MAX", "ANY_VALUE":
		if len(args) > 0 {
			return args[0]
		}
		return basic.TypeUnknown
	case "ARRAY_AGG", "APPROX_QUANTILES", "APPROX_TOP_COUNT", "APPROX_TOP_SUM":
		return basic.TypeArray
	case "STRING_AGG":
		return basic.TypeString
	case "LOGICAL_AND", "LOGICAL_OR":
		return basic.TypeBool
	}
	return basic.TypeUnknown
}

// distinctAcc DISTINCT包装：按值指纹去重后下传
type distinctAcc struct {
	inner Accumulator
	seen  map[string]bool
}

func (a *distinctAcc) Accumulate(args []basic.Value) error {
	var sb strings.Builder
	for _, v := range args {
		sb.WriteString(v.Type().String())
		sb.WriteString("\x00")
		sb.WriteString(v.String())
		sb.WriteString("\x01")
	}
	key := sb.String()
	if a.seen[key] {
		return nil
	}
	a.seen[key] = true
	return a.inner.Accumulate(args)
}

func (a *distinctAcc) Merge(other Accumulator) error {
	o := other.(*distinctAcc)
	for k := range o.seen {
		a.seen[k] = true
	}
	return a.inner.Merge(o.inner)
}

func (a *distinctAcc) Finalize() (basic.Value, error) { return a.inner.Finalize() }

// countAcc COUNT(x)/COUNT(*)
type countAcc struct {
	n int64
}

func (a *countAcc) Accumulate(args []basic.Value) error {
	if len(args) > 0 && args[0].IsNull() {
		return nil
	}
	a.n++
	return nil
}
func (a *countAcc) Merge(other Accumulator) error {
	a.n += other.(*countAcc).n
	return nil
}
func (a *countAcc) Finalize() (basic.Value, error) { return basic.NewInt64(a.n), nil }

// countIfAcc COUNTIF(cond)
type countIfAcc struct {
	n int64
}

func (a *countIfAcc) Accumulate(args []basic.Value) error {
	if b, ok := args[0].AsBool(); ok && b {
		a.n++
	}
	return nil
}
func (a *countIfAcc) Merge(other Accumulator) error {
	a.n += other.(*countIfAcc).n
	return nil
}
func (a *countIfAcc) Finalize() (basic.Value, error) { return basic.NewInt64(a.n), nil }

// sumAcc SUM，整数路径检查溢出，定点路径走decimal
type sumAcc struct {
	anyRow  bool
	isFloat bool
	isDec   bool
	bigDec  bool
	i       int64
	f       float64
	d       decimal.Decimal
}

func (a *sumAcc) Accumulate(args []basic.Value) error {
	v := args[0]
	if v.IsNull() {
		return nil
	}
	switch v.Type() {
	case basic.TypeFloat64:
		if !a.isFloat {
			a.isFloat = true
			a.f = float64(a.i)
			if a.isDec {
				f, _ := a.d.Float64()
				a.f = f
			}
		}
		f, _ := v.AsFloat64()
		a.f += f
	case basic.TypeNumeric, basic.TypeBigNumeric:
		if a.isFloat {
			f, _ := v.ToNumber()
			a.f += f
			break
		}
		if !a.isDec {
			a.isDec = true
			a.d = decimal.NewFromInt(a.i)
		}
		if v.Type() == basic.TypeBigNumeric {
			a.bigDec = true
		}
		d, _ := v.AsDecimal()
		a.d = a.d.Add(d)
	default:
		i, ok := v.AsInt64()
		if !ok {
			return basic.TypeMismatch("numeric", v.Type().String())
		}
		if a.isFloat {
			a.f += float64(i)
		} else if a.isDec {
			a.d = a.d.Add(decimal.NewFromInt(i))
		} else {
			s, err := basic.AddInt64(a.i, i)
			if err != nil {
				return err
			}
			a.i = s
		}
	}
	a.anyRow = true
	return nil
}

func (a *sumAcc) Merge(other Accumulator) error {
	o := other.(*sumAcc)
	if !o.anyRow {
		return nil
	}
	switch {
	case o.isFloat:
		return a.Accumulate([]basic.Value{basic.NewFloat64(o.f)})
	case o.isDec:
		if o.bigDec {
			return a.Accumulate([]basic.Value{basic.NewBigNumeric(o.d)})
		}
		return a.Accumulate([]basic.Value{basic.NewNumeric(o.d)})
	default:
		return a.Accumulate([]basic.Value{basic.NewInt64(o.i)})
	}
}

func (a *sumAcc) Finalize() (basic.Value, error) {
	if !a.anyRow {
		return basic.NullValue(), nil
	}
	if a.isFloat {
		return basic.NewFloat64(a.f), nil
	}
	if a.isDec {
		if a.bigDec {
			return basic.NewBigNumeric(a.d), nil
		}
		return basic.NewNumeric(a.d), nil
	}
	return basic.NewInt64(a.i), nil
}

// avgAcc AVG，浮点路径Kahan补偿求和
type avgAcc struct {
	n    int64
	sum  float64
	comp float64
}

func (a *avgAcc) Accumulate(args []basic.Value) error {
	v := args[0]
	if v.IsNull() {
		return nil
	}
	f, ok := v.ToNumber()
	if !ok {
		return basic.TypeMismatch("numeric", v.Type().String())
	}
	y := f - a.comp
	t := a.sum + y
	a.comp = (t - a.sum) - y
	a.sum = t
	a.n++
	return nil
}

func (a *avgAcc) Merge(other Accumulator) error {
	o := other.(*avgAcc)
	a.sum += o.sum
	a.n += o.n
	return nil
}

func (a *avgAcc) Finalize() (basic.Value, error) {
	if a.n == 0 {
		return basic.TypedNull(basic.TypeFloat64), nil
	}
	return basic.NewFloat64(a.sum / float64(a.n)), nil
}

// minMaxAcc MIN/MAX
type minMaxAcc struct {
	isMin bool
	best  basic.Value
	any   bool
}

func (a *minMaxAcc) Accumulate(args []basic.Value) error {
	v := args[0]
	if v.IsNull() {
		return nil
	}
	if !a.any {
		a.best = v
		a.any = true
		return nil
	}
	c := basic.Compare(v, a.best)
	if (a.isMin && c < 0) || (!a.isMin && c > 0) {
		a.best = v
	}
	return nil
}

func (a *minMaxAcc) Merge(other Accumulator) error {
	o := other.(*minMaxAcc)
	if o.any {
		return a.Accumulate([]basic.Value{o.best})
	}
	return nil
}

func (a *minMaxAcc) Finalize() (basic.Value, error) {
	if !a.any {
		return basic.NullValue(), nil
	}
	return a.best, nil
}

// anyValueAcc ANY_VALUE取首个非NULL
type anyValueAcc struct {
	v   basic.Value
	any bool
}

func (a *anyValueAcc) Accumulate(args []basic.Value) error {
	if !a.any && !args[0].IsNull() {
		a.v = args[0]
		a.any = true
	}
	return nil
}

func (a *anyValueAcc) Merge(other Accumulator) error {
	o := other.(*anyValueAcc)
	if o.any {
		return a.Accumulate([]basic.Value{o.v})
	}
	return nil
}

func (a *anyValueAcc) Finalize() (basic.Value, error) {
	if !a.any {
		return basic.NullValue(), nil
	}
	return a.v, nil
}

// arrayAgg ARRAY_AGG；内排序由执行器预排后按序累加
type arrayAgg struct {
	items       []basic.Value
	limit       int64
	ignoreNulls bool
}

func (a *arrayAgg) Accumulate(args []basic.Value) error {
	if a.ignoreNulls && args[0].IsNull() {
		return nil
	}
	if a.limit > 0 && int64(len(a.items)) >= a.limit {
		return nil
	}
	a.items = append(a.items, args[0])
	return nil
}

func (a *arrayAgg) Merge(other Accumulator) error {
	for _, v := range other.(*arrayAgg).items {
		if err := a.Accumulate([]basic.Value{v}); err != nil {
			return err
		}
	}
	return nil
}

func (a *arrayAgg) Finalize() (basic.Value, error) {
	elem := basic.TypeUnknown
	for _, v := range a.items {
		if v.Type() != basic.TypeNull {
			elem = v.Type()
			break
		}
	}
	return basic.NewArray(basic.ArrayValue{Elem: elem, Items: a.items}), nil
}

// stringAgg STRING_AGG
type stringAgg struct {
	parts []string
	sep   string
}

func (a *stringAgg) Accumulate(args []basic.Value) error {
	if args[0].IsNull() {
		return nil
	}
	s, ok := args[0].AsString()
	if !ok {
		return basic.TypeMismatch("STRING", args[0].Type().String())
	}
	a.parts = append(a.parts, s)
	return nil
}

func (a *stringAgg) Merge(other Accumulator) error {
	a.parts = append(a.parts, other.(*stringAgg).parts...)
	return nil
}

func (a *stringAgg) Finalize() (basic.Value, error) {
	if len(a.parts) == 0 {
		return basic.TypedNull(basic.TypeString), nil
	}
	return basic.NewString(strings.Join(a.parts, a.sep)), nil
}

// logicalAcc LOGICAL_AND/OR
type logicalAcc struct {
	isAnd bool
	state bool
	any   bool
}

func (a *logicalAcc) Accumulate(args []basic.Value) error {
	b, ok := args[0].AsBool()
	if !ok {
		if args[0].IsNull() {
			return nil
		}
		return basic.TypeMismatch("BOOL", args[0].Type().String())
	}
	a.any = true
	if a.isAnd {
		a.state = a.state && b
	} else {
		a.state = a.state || b
	}
	return nil
}

func (a *logicalAcc) Merge(other Accumulator) error {
	o := other.(*logicalAcc)
	if o.any {
		a.any = true
		if a.isAnd {
			a.state = a.state && o.state
		} else {
			a.state = a.state || o.state
		}
	}
	return nil
}

func (a *logicalAcc) Finalize() (basic.Value, error) {
	if !a.any {
		return basic.TypedNull(basic.TypeBool), nil
	}
	return basic.NewBool(a.state), nil
}

// bitAcc BIT_AND/OR/XOR
type bitAcc struct {
	op    string
	state int64
	any   bool
}

func (a *bitAcc) Accumulate(args []basic.Value) error {
	v, ok := args[0].AsInt64()
	if !ok {
		if args[0].IsNull() {
			return nil
		}
		return basic.TypeMismatch("INT64", args[0].Type().String())
	}
	if !a.any {
		a.state = v
		a.any = true
		return nil
	}
	switch a.op {
	case "AND":
		a.state &= v
	case "OR":
		a.state |= v
	case "XOR":
		a.state ^= v
	}
	return nil
}

func (a *bitAcc) Merge(other Accumulator) error {
	o := other.(*bitAcc)
	if o.any {
		return a.Accumulate([]basic.Value{basic.NewInt64(o.state)})
	}
	return nil
}

func (a *bitAcc) Finalize() (basic.Value, error) {
	if !a.any {
		return basic.TypedNull(basic.TypeInt64), nil
	}
	return basic.NewInt64(a.state), nil
}

// hllAcc APPROX_COUNT_DISTINCT
type hllAcc struct {
	sketch *statistics.HyperLogLog
}

func (a *hllAcc) Accumulate(args []basic.Value) error {
	if args[0].IsNull() {
		return nil
	}
	a.sketch.InsertHash(util.HashString(args[0].Type().String() + "\x00" + args[0].String()))
	return nil
}

func (a *hllAcc) Merge(other Accumulator) error {
	a.sketch.Merge(other.(*hllAcc).sketch)
	return nil
}

func (a *hllAcc) Finalize() (basic.Value, error) {
	return basic.NewInt64(int64(a.sketch.Estimate())), nil
}

// quantilesAcc APPROX_QUANTILES(x, n)：输出n+1个分位点
type quantilesAcc struct {
	sketch *statistics.TDigest
	n      int64
}

func (a *quantilesAcc) Accumulate(args []basic.Value) error {
	if len(args) >= 2 {
		if n, ok := args[1].AsInt64(); ok {
			a.n = n
		}
	}
	if args[0].IsNull() {
		return nil
	}
	f, ok := args[0].ToNumber()
	if !ok {
		return basic.TypeMismatch("numeric", args[0].Type().String())
	}
	a.sketch.Add(f)
	return nil
}

func (a *quantilesAcc) Merge(other Accumulator) error {
	o := other.(*quantilesAcc)
	if o.n > a.n {
		a.n = o.n
	}
	a.sketch.Merge(o.sketch)
	return nil
}

func (a *quantilesAcc) Finalize() (basic.Value, error) {
	n := a.n
	if n < 1 {
		n = 1
	}
	items := make([]basic.Value, 0, n+1)
	for i := int64(0); i <= n; i++ {
		items = append(items, basic.NewFloat64(a.sketch.Quantile(float64(i)/float64(n))))
	}
	return basic.NewArray(basic.ArrayValue{Elem: basic.TypeFloat64, Items: items}), nil
}

// topCountAcc APPROX_TOP_COUNT(x, n)
type topCountAcc struct {
	sketch *statistics.SpaceSaving
	n      int64
}

func (a *topCountAcc) ensure() {
	if a.sketch == nil {
		a.sketch = statistics.NewSpaceSaving(1024)
	}
}

func (a *topCountAcc) Accumulate(args []basic.Value) error {
	a.ensure()
	if len(args) >= 2 {
		if n, ok := args[1].AsInt64(); ok {
			a.n = n
		}
	}
	if args[0].IsNull() {
		return nil
	}
	a.sketch.Offer(args[0].String(), 1)
	return nil
}

func (a *topCountAcc) Merge(other Accumulator) error {
	o := other.(*topCountAcc)
	a.ensure()
	if o.sketch != nil {
		for _, e := range o.sketch.Top(1 << 30) {
			a.sketch.Offer(e.Key, e.Count)
		}
	}
	if o.n > a.n {
		a.n = o.n
	}
	return nil
}

func (a *topCountAcc) Finalize() (basic.Value, error) {
	a.ensure()
	n := a.n
	if n < 1 {
		n = 1
	}
	var items []basic.Value
	for _, e := range a.sketch.Top(int(n)) {
		items = append(items, basic.NewStruct(basic.StructValue{Fields: []basic.StructField{
			{Name: "value", Val: basic.NewString(e.Key)},
			{Name: "count", Val: basic.NewInt64(e.Count)},
		}}))
	}
	return basic.NewArray(basic.ArrayValue{Elem: basic.TypeStruct, Items: items}), nil
}

// topSumAcc APPROX_TOP_SUM(x, weight, n)
type topSumAcc struct {
	sketch *statistics.SpaceSaving
	n      int64
}

func (a *topSumAcc) ensure() {
	if a.sketch == nil {
		a.sketch = statistics.NewSpaceSaving(1024)
	}
}

func (a *topSumAcc) Accumulate(args []basic.Value) error {
	a.ensure()
	if len(args) >= 3 {
		if n, ok := args[2].AsInt64(); ok {
			a.n = n
		}
	}
	if args[0].IsNull() {
		return nil
	}
	w := int64(1)
	if len(args) >= 2 {
		if x, ok := args[1].AsInt64(); ok {
			w = x
		}
	}
	a.sketch.Offer(args[0].String(), w)
	return nil
}

func (a *topSumAcc) Merge(other Accumulator) error {
	o := other.(*topSumAcc)
	a.ensure()
	if o.sketch != nil {
		for _, e := range o.sketch.Top(1 << 30) {
			a.sketch.Offer(e.Key, e.Count)
		}
	}
	if o.n > a.n {
		a.n = o.n
	}
	return nil
}

func (a *topSumAcc) Finalize() (basic.Value, error) {
	a.ensure()
	n := a.n
	if n < 1 {
		n = 1
	}
	var items []basic.Value
	for _, e := range a.sketch.Top(int(n)) {
		items = append(items, basic.NewStruct(basic.StructValue{Fields: []basic.StructField{
			{Name: "value", Val: basic.NewString(e.Key)},
			{Name: "sum", Val: basic.NewInt64(e.Count)},
		}}))
	}
	return basic.NewArray(basic.ArrayValue{Elem: basic.TypeStruct, Items: items}), nil
}

// varianceAcc Welford在线方差
type varianceAcc struct {
	pop  bool
	sqrt bool
	n    int64
	mean float64
	m2   float64
}

func (a *varianceAcc) Accumulate(args []basic.Value) error {
	if args[0].IsNull() {
		return nil
	}
	x, ok := args[0].ToNumber()
	if !ok {
		return basic.TypeMismatch("numeric", args[0].Type().String())
	}
	a.n++
	delta := x - a.mean
	a.mean += delta / float64(a.n)
	a.m2 += delta * (x - a.mean)
	return nil
}

func (a *varianceAcc) Merge(other Accumulator) error {
	o := other.(*varianceAcc)
	if o.n == 0 {
		return nil
	}
	if a.n == 0 {
		a.n, a.mean, a.m2 = o.n, o.mean, o.m2
		return nil
	}
	delta := o.mean - a.mean
	total := a.n + o.n
	a.m2 += o.m2 + delta*delta*float64(a.n)*float64(o.n)/float64(total)
	a.mean += delta * float64(o.n) / float64(total)
	a.n = total
	return nil
}

func (a *varianceAcc) Finalize() (basic.Value, error) {
	div := a.n
	if !a.pop {
		div = a.n - 1
	}
	if div <= 0 {
		return basic.TypedNull(basic.TypeFloat64), nil
	}
	v := a.m2 / float64(div)
	if a.sqrt {
		v = sqrtNonNeg(v)
	}
	return basic.NewFloat64(v), nil
}

// covarAcc 协方差
type covarAcc struct {
	pop   bool
	n     int64
	mx    float64
	my    float64
	cxy   float64
}

func (a *covarAcc) Accumulate(args []basic.Value) error {
	if args[0].IsNull() || args[1].IsNull() {
		return nil
	}
	x, ok1 := args[0].ToNumber()
	y, ok2 := args[1].ToNumber()
	if !ok1 || !ok2 {
		return basic.TypeMismatch("numeric", args[0].Type().String())
	}
	a.n++
	dx := x - a.mx
	a.mx += dx / float64(a.n)
	a.my += (y - a.my) / float64(a.n)
	a.cxy += dx * (y - a.my)
	return nil
}

func (a *covarAcc) Merge(other Accumulator) error {
	o := other.(*covarAcc)
	if o.n == 0 {
		return nil
	}
	if a.n == 0 {
		*a = *o
		return nil
	}
	total := a.n + o.n
	dx := o.mx - a.mx
	dy := o.my - a.my
	a.cxy += o.cxy + dx*dy*float64(a.n)*float64(o.n)/float64(total)
	a.mx += dx * float64(o.n) / float64(total)
	a.my += dy * float64(o.n) / float64(total)
	a.n = total
	return nil
}

func (a *covarAcc) Finalize() (basic.Value, error) {
	div := a.n
	if !a.pop {
		div = a.n - 1
	}
	if div <= 0 {
		return basic.TypedNull(basic.TypeFloat64), nil
	}
	return basic.NewFloat64(a.cxy / float64(div)), nil
}

// corrAcc 皮尔逊相关系数
type corrAcc struct {
	n              int64
	mx, my         float64
	m2x, m2y, cxy  float64
}

func (a *corrAcc) Accumulate(args []basic.Value) error {
	if args[0].IsNull() || args[1].IsNull() {
		return nil
	}
	x, ok1 := args[0].ToNumber()
	y, ok2 := args[1].ToNumber()
	if !ok1 || !ok2 {
		return basic.TypeMismatch("numeric", args[0].Type().String())
	}
	a.n++
	dx := x - a.mx
	dy := y - a.my
	a.mx += dx / float64(a.n)
	a.my += dy / float64(a.n)
	a.m2x += dx * (x - a.mx)
	a.m2y += dy * (y - a.my)
	a.cxy += dx * (y - a.my)
	return nil
}

func (a *corrAcc) Merge(other Accumulator) error {
	o := other.(*corrAcc)
	if o.n == 0 {
		return nil
	}
	if a.n == 0 {
		*a = *o
		return nil
	}
	total := a.n + o.n
	dx := o.mx - a.mx
	dy := o.my - a.my
	w := float64(a.n) * float64(o.n) / float64(total)
	a.m2x += o.m2x + dx*dx*w
	a.m2y += o.m2y + dy*dy*w
	a.cxy += o.cxy + dx*dy*w
	a.mx += dx * float64(o.n) / float64(total)
	a.my += dy * float64(o.n) / float64(total)
	a.n = total
	return nil
}

func (a *corrAcc) Finalize() (basic.Value, error) {
	if a.n < 2 || a.m2x == 0 || a.m2y == 0 {
		return basic.TypedNull(basic.TypeFloat64), nil
	}
	return basic.NewFloat64(a.cxy / sqrtNonNeg(a.m2x*a.m2y)), nil
}

func sqrtNonNeg(v float64) float64 {
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}
