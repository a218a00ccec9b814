package engine

import (
	"math/rand"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/metadata"
	"github.com/zhukovaskychina/yachtsql/plan"
)

// execUnnest 对每个输入行展开数组元素为行，保留原列并追加
// 元素列与可选偏移列（自0起）
func (ex *Executor) execUnnest(x *plan.PhysicalUnnest) (*metadata.Table, error) {
	var in *metadata.Table
	if x.Input != nil {
		var err error
		in, err = ex.Execute(x.Input)
		if err != nil {
			return nil, err
		}
	} else {
		schema := metadata.NewSchema(metadata.Field{Name: "_dummy", Type: basic.TypeBool})
		in = metadata.EmptyTable(schema)
		if err := in.AppendRow([]basic.Value{basic.NewBool(true)}); err != nil {
			return nil, err
		}
	}

	ev := ex.newEvaluator()
	arrCol, err := ev.EvalColumn(x.Expr, in)
	if err != nil {
		return nil, err
	}

	keepInput := x.Input != nil
	out := metadata.EmptyTable(x.OutputSchema)
	for i := 0; i < in.RowCount(); i++ {
		av := arrCol.GetValue(i)
		if av.IsNull() {
			continue
		}
		arr, ok := av.AsArray()
		if !ok {
			return nil, basic.TypeMismatch("ARRAY", av.Type().String())
		}
		for off, elem := range arr.Items {
			var row []basic.Value
			if keepInput {
				row = append(row, in.GetRow(i)...)
			}
			row = append(row, elem)
			if x.WithOffset {
				row = append(row, basic.NewInt64(int64(off)))
			}
			if err := out.AppendRow(row); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// systemSampleBlockRows SYSTEM采样的行块大小
const systemSampleBlockRows = 256

// execSample 采样：BERNOULLI逐行、SYSTEM整块、RESERVOIR定量。
// 随机源取会话种子，同会话内确定
func (ex *Executor) execSample(x *plan.PhysicalSample) (*metadata.Table, error) {
	in, err := ex.Execute(x.Input)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(ex.session.sampleSeed()))
	n := in.RowCount()
	var keep []int
	switch x.Method {
	case plan.SampleBernoulli:
		p := x.Arg / 100
		for i := 0; i < n; i++ {
			if rng.Float64() < p {
				keep = append(keep, i)
			}
		}
	case plan.SampleSystem:
		p := x.Arg / 100
		for block := 0; block < n; block += systemSampleBlockRows {
			if rng.Float64() >= p {
				continue
			}
			end := block + systemSampleBlockRows
			if end > n {
				end = n
			}
			for i := block; i < end; i++ {
				keep = append(keep, i)
			}
		}
	case plan.SampleReservoir:
		k := int(x.Arg)
		if k >= n {
			for i := 0; i < n; i++ {
				keep = append(keep, i)
			}
			break
		}
		keep = make([]int, k)
		for i := 0; i < k; i++ {
			keep[i] = i
		}
		for i := k; i < n; i++ {
			j := rng.Intn(i + 1)
			if j < k {
				keep[j] = i
			}
		}
	}
	return in.Gather(keep), nil
}

// execGapFill 时间序列空洞填充：按时间列与步长补全缺失刻度，
// 补入行的其余列为NULL
func (ex *Executor) execGapFill(x *plan.PhysicalGapFill) (*metadata.Table, error) {
	in, err := ex.Execute(x.Input)
	if err != nil {
		return nil, err
	}
	if in.RowCount() == 0 {
		return in, nil
	}
	ev := ex.newEvaluator()
	timeCol, err := ev.EvalColumn(x.TimeColumn, in)
	if err != nil {
		return nil, err
	}
	strideCol, err := ev.EvalColumn(x.Stride, in)
	if err != nil {
		return nil, err
	}
	stride, ok := strideCol.GetValue(0).AsInterval()
	if !ok {
		return nil, basic.TypeMismatch("INTERVAL", strideCol.GetValue(0).Type().String())
	}

	// 时间列下标
	timeIdx := -1
	if ref, ok := x.TimeColumn.(*plan.ColumnRef); ok {
		timeIdx = ref.Index
	}
	out := metadata.EmptyTable(in.Schema())
	var prev *basic.Value
	for i := 0; i < in.RowCount(); i++ {
		cur := timeCol.GetValue(i)
		if prev != nil && !cur.IsNull() && !prev.IsNull() {
			next, err := basic.Arithmetic(basic.OpAdd, *prev, basic.NewInterval(stride))
			if err != nil {
				return nil, err
			}
			for basic.Compare(next, cur) < 0 {
				row := make([]basic.Value, in.NumColumns())
				for c := range row {
					row[c] = basic.TypedNull(in.Schema().Fields[c].Type)
				}
				if timeIdx >= 0 {
					row[timeIdx] = next
				}
				if err := out.AppendRow(row); err != nil {
					return nil, err
				}
				next, err = basic.Arithmetic(basic.OpAdd, next, basic.NewInterval(stride))
				if err != nil {
					return nil, err
				}
			}
		}
		if err := out.AppendRow(in.GetRow(i)); err != nil {
			return nil, err
		}
		c := cur
		prev = &c
	}
	return out, nil
}
