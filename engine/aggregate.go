package engine

import (
	"sort"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/expression"
	"github.com/zhukovaskychina/yachtsql/metadata"
	"github.com/zhukovaskychina/yachtsql/plan"
	"github.com/zhukovaskychina/yachtsql/util"
)

// aggGroup 一个分组的状态
type aggGroup struct {
	keyRow []basic.Value
	accs   []expression.Accumulator
	// grouping GROUPING()伪聚合的输出，按聚合项下标
	grouping []int64
	firstRow int
}

// execAggregate 哈希分组聚合。GROUPING SETS按组集逐份产出，
// 未用组列填NULL且GROUPING(col)=1
func (ex *Executor) execAggregate(x *plan.PhysicalHashAggregate) (*metadata.Table, error) {
	in, err := ex.Execute(x.Input)
	if err != nil {
		return nil, err
	}

	if len(x.GroupingSets) > 0 {
		return ex.execGroupingSets(x, in)
	}
	activeCols := make([]bool, len(x.GroupBy))
	for i := range activeCols {
		activeCols[i] = true
	}
	return ex.aggregateOneSet(x, in, activeCols)
}

func (ex *Executor) execGroupingSets(x *plan.PhysicalHashAggregate, in *metadata.Table) (*metadata.Table, error) {
	out := metadata.EmptyTable(x.OutputSchema)
	for _, set := range x.GroupingSets {
		activeCols := make([]bool, len(x.GroupBy))
		for _, idx := range set {
			activeCols[idx] = true
		}
		part, err := ex.aggregateOneSet(x, in, activeCols)
		if err != nil {
			return nil, err
		}
		if err := out.AppendTable(part); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// aggregateOneSet 单个组集的聚合；inactive组列输出NULL
func (ex *Executor) aggregateOneSet(x *plan.PhysicalHashAggregate, in *metadata.Table, activeCols []bool) (*metadata.Table, error) {
	ev := ex.newEvaluator()

	groupCols := make([]*metadata.Column, len(x.GroupBy))
	for i, g := range x.GroupBy {
		col, err := ev.EvalColumn(g, in)
		if err != nil {
			return nil, err
		}
		groupCols[i] = col
	}

	// 聚合参数列预求值；内排序(ARRAY_AGG/STRING_AGG)先按键排好行序
	type aggInput struct {
		argCols  []*metadata.Column
		rowOrder []int // nil为自然序
		grouping bool
		groupCol int // GROUPING()指向的组列下标
		sepConst string
	}
	inputs := make([]aggInput, len(x.Aggregates))
	for ai, item := range x.Aggregates {
		agg := item.Expr
		ain := aggInput{groupCol: -1}
		if agg.Func == "GROUPING" {
			ain.grouping = true
			for gi, g := range x.GroupBy {
				if len(agg.Args) == 1 && g.String() == agg.Args[0].String() {
					ain.groupCol = gi
				}
			}
			inputs[ai] = ain
			continue
		}
		for _, a := range agg.Args {
			col, err := ev.EvalColumn(a, in)
			if err != nil {
				return nil, err
			}
			ain.argCols = append(ain.argCols, col)
		}
		// STRING_AGG分隔符为常量第二参数
		if agg.Func == "STRING_AGG" && len(agg.Args) == 2 {
			if lit, ok := agg.Args[1].(*plan.Literal); ok {
				ain.sepConst, _ = lit.Value.AsString()
				ain.argCols = ain.argCols[:1]
			}
		}
		if len(agg.OrderBy) > 0 {
			rc, err := ex.makeComparator(agg.OrderBy, in)
			if err != nil {
				return nil, err
			}
			order := make([]int, in.RowCount())
			for i := range order {
				order[i] = i
			}
			sort.SliceStable(order, func(i, j int) bool { return rc.less(order[i], order[j]) })
			ain.rowOrder = order
		}
		inputs[ai] = ain
	}

	newGroup := func(keyRow []basic.Value, firstRow int) (*aggGroup, error) {
		g := &aggGroup{keyRow: keyRow, firstRow: firstRow, grouping: make([]int64, len(x.Aggregates))}
		for ai, item := range x.Aggregates {
			if inputs[ai].grouping {
				g.accs = append(g.accs, nil)
				gi := inputs[ai].groupCol
				if gi >= 0 && !activeCols[gi] {
					g.grouping[ai] = 1
				}
				continue
			}
			acc, err := expression.NewAccumulator(item.Expr.Func, expression.AccumulatorOptions{
				Distinct:    item.Expr.Distinct,
				IgnoreNulls: item.Expr.IgnoreNulls,
				Separator:   inputs[ai].sepConst,
				Limit:       item.Expr.Limit,
			})
			if err != nil {
				return nil, errors.Trace(err)
			}
			g.accs = append(g.accs, acc)
		}
		return g, nil
	}

	groups := map[uint64][]*aggGroup{}
	var ordered []*aggGroup
	hasher := util.NewRowHasher()

	findGroup := func(row int) (*aggGroup, error) {
		keyRow := make([]basic.Value, len(groupCols))
		hasher.Reset()
		for i, col := range groupCols {
			if activeCols[i] {
				keyRow[i] = col.GetValue(row)
			} else {
				keyRow[i] = basic.TypedNull(col.Type())
			}
			hasher.WriteString(keyRow[i].Type().String())
			hasher.WriteString(keyRow[i].String())
			hasher.WriteString("\x00")
		}
		h := hasher.Sum64()
		for _, g := range groups[h] {
			same := true
			for i := range keyRow {
				if !basic.EqualsNullSafe(g.keyRow[i], keyRow[i]) {
					same = false
					break
				}
			}
			if same {
				return g, nil
			}
		}
		g, err := newGroup(keyRow, row)
		if err != nil {
			return nil, err
		}
		groups[h] = append(groups[h], g)
		ordered = append(ordered, g)
		return g, nil
	}

	accumulateRow := func(row int) error {
		g, err := findGroup(row)
		if err != nil {
			return err
		}
		for ai := range x.Aggregates {
			if inputs[ai].grouping {
				continue
			}
			args := make([]basic.Value, len(inputs[ai].argCols))
			for c, col := range inputs[ai].argCols {
				args[c] = col.GetValue(row)
			}
			if err := g.accs[ai].Accumulate(args); err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	}

	// 无内排序的聚合按自然序累加；有内排序的聚合需单独按序回放
	hasOrdered := false
	for _, ain := range inputs {
		if ain.rowOrder != nil {
			hasOrdered = true
		}
	}
	if !hasOrdered {
		for i := 0; i < in.RowCount(); i++ {
			if err := accumulateRow(i); err != nil {
				return nil, err
			}
		}
	} else {
		// 先自然序建组与无序聚合，再按序回放有序聚合
		for i := 0; i < in.RowCount(); i++ {
			g, err := findGroup(i)
			if err != nil {
				return nil, err
			}
			for ai := range x.Aggregates {
				if inputs[ai].grouping || inputs[ai].rowOrder != nil {
					continue
				}
				args := make([]basic.Value, len(inputs[ai].argCols))
				for c, col := range inputs[ai].argCols {
					args[c] = col.GetValue(i)
				}
				if err := g.accs[ai].Accumulate(args); err != nil {
					return nil, errors.Trace(err)
				}
			}
		}
		for ai := range x.Aggregates {
			if inputs[ai].rowOrder == nil || inputs[ai].grouping {
				continue
			}
			for _, row := range inputs[ai].rowOrder {
				g, err := findGroup(row)
				if err != nil {
					return nil, err
				}
				args := make([]basic.Value, len(inputs[ai].argCols))
				for c, col := range inputs[ai].argCols {
					args[c] = col.GetValue(row)
				}
				if err := g.accs[ai].Accumulate(args); err != nil {
					return nil, errors.Trace(err)
				}
			}
		}
	}

	// 无分组聚合至少产出一组
	if len(x.GroupBy) == 0 && len(ordered) == 0 {
		g, err := newGroup(nil, -1)
		if err != nil {
			return nil, err
		}
		ordered = append(ordered, g)
	}

	out := metadata.EmptyTable(x.OutputSchema)
	for _, g := range ordered {
		row := make([]basic.Value, 0, x.OutputSchema.Len())
		row = append(row, g.keyRow...)
		for ai := range x.Aggregates {
			if inputs[ai].grouping {
				row = append(row, basic.NewInt64(g.grouping[ai]))
				continue
			}
			v, err := g.accs[ai].Finalize()
			if err != nil {
				return nil, errors.Trace(err)
			}
			row = append(row, v)
		}
		if err := out.AppendRow(row); err != nil {
			return nil, err
		}
	}
	return out, nil
}
