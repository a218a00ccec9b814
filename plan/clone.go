package plan

// ClonePlan 深拷贝逻辑计划树。缓存命中的计划在优化前克隆，
// 优化改写就地变更节点，共享缓存树不可被并发执行污染
func ClonePlan(p LogicalPlan) LogicalPlan {
	if p == nil {
		return nil
	}
	switch x := p.(type) {
	case *LogicalScan:
		return &LogicalScan{
			Table: x.Table, TableSchema: x.TableSchema.Clone(),
			Projection: append([]int(nil), x.Projection...),
		}
	case *LogicalSample:
		return &LogicalSample{Input: ClonePlan(x.Input), Method: x.Method, Arg: x.Arg}
	case *LogicalFilter:
		return &LogicalFilter{Input: ClonePlan(x.Input), Predicate: cloneExpr(x.Predicate)}
	case *LogicalProject:
		return &LogicalProject{
			Input: ClonePlan(x.Input), Exprs: cloneExprs(x.Exprs), OutputSchema: x.OutputSchema.Clone(),
		}
	case *LogicalJoin:
		out := &LogicalJoin{Type: x.Type, Left: ClonePlan(x.Left), Right: ClonePlan(x.Right)}
		if x.Condition != nil {
			out.Condition = cloneExpr(x.Condition)
		}
		return out
	case *LogicalAggregate:
		out := &LogicalAggregate{
			Input: ClonePlan(x.Input), GroupBy: cloneExprs(x.GroupBy),
			OutputSchema: x.OutputSchema.Clone(),
		}
		for _, set := range x.GroupingSets {
			out.GroupingSets = append(out.GroupingSets, append([]int(nil), set...))
		}
		for _, a := range x.Aggregates {
			out.Aggregates = append(out.Aggregates, AggregateItem{
				Expr: cloneExpr(a.Expr).(*AggregateExpr), Alias: a.Alias,
			})
		}
		return out
	case *LogicalSort:
		out := &LogicalSort{Input: ClonePlan(x.Input)}
		for _, k := range x.Keys {
			out.Keys = append(out.Keys, OrderKey{Expr: cloneExpr(k.Expr), Desc: k.Desc, NullsFirst: k.NullsFirst})
		}
		return out
	case *LogicalLimit:
		return &LogicalLimit{Input: ClonePlan(x.Input), Limit: x.Limit, Offset: x.Offset}
	case *LogicalDistinct:
		return &LogicalDistinct{Input: ClonePlan(x.Input)}
	case *LogicalSetOp:
		return &LogicalSetOp{Op: x.Op, All: x.All, Left: ClonePlan(x.Left), Right: ClonePlan(x.Right)}
	case *LogicalWindow:
		out := &LogicalWindow{Input: ClonePlan(x.Input), OutputSchema: x.OutputSchema.Clone()}
		for _, w := range x.Windows {
			out.Windows = append(out.Windows, WindowItem{Expr: cloneExpr(w.Expr).(*WindowExpr), Alias: w.Alias})
		}
		return out
	case *LogicalUnnest:
		out := &LogicalUnnest{
			Expr: cloneExpr(x.Expr), Alias: x.Alias,
			WithOffset: x.WithOffset, OffsetAlias: x.OffsetAlias, OutputSchema: x.OutputSchema.Clone(),
		}
		if x.Input != nil {
			out.Input = ClonePlan(x.Input)
		}
		return out
	case *LogicalQualify:
		return &LogicalQualify{Input: ClonePlan(x.Input), Predicate: cloneExpr(x.Predicate)}
	case *LogicalWithCte:
		out := &LogicalWithCte{Body: ClonePlan(x.Body)}
		for _, c := range x.CTEs {
			nc := CteDef{Name: c.Name, Recursive: c.Recursive, UnionAll: c.UnionAll, Plan: ClonePlan(c.Plan)}
			if c.Anchor != nil {
				nc.Anchor = ClonePlan(c.Anchor)
			}
			if c.RecursiveTerm != nil {
				nc.RecursiveTerm = ClonePlan(c.RecursiveTerm)
			}
			out.CTEs = append(out.CTEs, nc)
		}
		return out
	case *LogicalCteRef:
		return &LogicalCteRef{Name: x.Name, OutputSchema: x.OutputSchema.Clone()}
	case *LogicalValues:
		out := &LogicalValues{OutputSchema: x.OutputSchema.Clone()}
		for _, row := range x.Rows {
			out.Rows = append(out.Rows, cloneExprs(row))
		}
		return out
	case *LogicalEmpty:
		return &LogicalEmpty{OneRow: x.OneRow, OutputSchema: x.OutputSchema.Clone()}
	case *LogicalGapFill:
		return &LogicalGapFill{
			Input: ClonePlan(x.Input), TimeColumn: cloneExpr(x.TimeColumn),
			Stride: cloneExpr(x.Stride), Origin: cloneExpr(x.Origin),
		}
	case *LogicalExplain:
		return &LogicalExplain{Inner: ClonePlan(x.Inner)}
	}
	// DML/DDL/脚本计划不进缓存，不在克隆路径上；原样返回
	return p
}

func cloneExprs(exprs []Expression) []Expression {
	out := make([]Expression, len(exprs))
	for i, e := range exprs {
		out[i] = cloneExpr(e)
	}
	return out
}

// cloneExpr 表达式克隆：TransformExpr恒等重写即为结构拷贝；
// 子查询计划递归克隆
func cloneExpr(e Expression) Expression {
	if e == nil {
		return nil
	}
	return TransformExpr(e, func(x Expression) Expression {
		switch s := x.(type) {
		case *SubqueryExpr:
			out := &SubqueryExpr{Kind: s.Kind, Plan: ClonePlan(s.Plan), Not: s.Not, Correlated: s.Correlated}
			if s.Operand != nil {
				out.Operand = cloneExpr(s.Operand)
			}
			return out
		case *ColumnRef:
			c := *s
			return &c
		case *Literal:
			c := *s
			return &c
		}
		return x
	})
}
