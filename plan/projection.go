package plan

import (
	"sort"
)

// pushDownProjections 投影下推：自根部的需求列集向下传播，
// 在Scan处收窄为排序后的下标集。下游下标变化由映射逐层回写
func pushDownProjections(p LogicalPlan) LogicalPlan {
	all := make([]bool, p.Schema().Len())
	for i := range all {
		all[i] = true
	}
	out, _ := pruneColumns(p, all)
	return out
}

// pruneColumns 返回裁剪后的计划与旧下标→新下标映射（-1为已裁）
func pruneColumns(p LogicalPlan, required []bool) (LogicalPlan, []int) {
	identity := func(n int) []int {
		m := make([]int, n)
		for i := range m {
			m[i] = i
		}
		return m
	}

	switch x := p.(type) {
	case *LogicalScan:
		// 已有投影的扫描不再二次收窄
		if len(x.Projection) > 0 {
			return x, identity(p.Schema().Len())
		}
		var indices []int
		for i, need := range required {
			if need {
				indices = append(indices, i)
			}
		}
		if len(indices) == len(required) || len(indices) == 0 {
			return x, identity(len(required))
		}
		sort.Ints(indices)
		mapping := make([]int, len(required))
		for i := range mapping {
			mapping[i] = -1
		}
		for newIdx, oldIdx := range indices {
			mapping[oldIdx] = newIdx
		}
		x.Projection = indices
		return x, mapping

	case *LogicalFilter:
		childReq := append([]bool(nil), required...)
		markRequired(x.Predicate, childReq)
		input, mapping := pruneColumns(x.Input, childReq)
		x.Input = input
		x.Predicate = remapColumnRefs(x.Predicate, mapping)
		return x, mapping

	case *LogicalProject:
		// 子需求 = 各保留表达式的引用并集；投影宽度不变
		childReq := make([]bool, x.Input.Schema().Len())
		for _, e := range x.Exprs {
			markRequired(e, childReq)
		}
		input, mapping := pruneColumns(x.Input, childReq)
		x.Input = input
		for i := range x.Exprs {
			x.Exprs[i] = remapColumnRefs(x.Exprs[i], mapping)
		}
		return x, identity(len(x.Exprs))

	case *LogicalJoin:
		leftWidth := x.Left.Schema().Len()
		childReq := append([]bool(nil), required...)
		// 连接键列必须保留
		if x.Condition != nil {
			markRequired(x.Condition, childReq)
		}
		leftReq := childReq[:leftWidth]
		rightReq := childReq[leftWidth:]
		newLeft, leftMap := pruneColumns(x.Left, leftReq)
		newRight, rightMap := pruneColumns(x.Right, rightReq)
		x.Left, x.Right = newLeft, newRight
		newLeftWidth := newLeft.Schema().Len()
		combined := make([]int, len(required))
		for i := range combined {
			if i < leftWidth {
				combined[i] = leftMap[i]
			} else if rightMap[i-leftWidth] >= 0 {
				combined[i] = newLeftWidth + rightMap[i-leftWidth]
			} else {
				combined[i] = -1
			}
		}
		if x.Condition != nil {
			x.Condition = remapColumnRefs(x.Condition, combined)
		}
		return x, combined

	case *LogicalAggregate:
		childReq := make([]bool, x.Input.Schema().Len())
		for _, g := range x.GroupBy {
			markRequired(g, childReq)
		}
		for _, a := range x.Aggregates {
			markRequired(a.Expr, childReq)
			for _, k := range a.Expr.OrderBy {
				markRequired(k.Expr, childReq)
			}
		}
		input, mapping := pruneColumns(x.Input, childReq)
		x.Input = input
		for i := range x.GroupBy {
			x.GroupBy[i] = remapColumnRefs(x.GroupBy[i], mapping)
		}
		for i := range x.Aggregates {
			x.Aggregates[i].Expr = remapColumnRefs(x.Aggregates[i].Expr, mapping).(*AggregateExpr)
		}
		return x, identity(p.Schema().Len())

	case *LogicalSort:
		childReq := append([]bool(nil), required...)
		for _, k := range x.Keys {
			markRequired(k.Expr, childReq)
		}
		input, mapping := pruneColumns(x.Input, childReq)
		x.Input = input
		for i := range x.Keys {
			x.Keys[i].Expr = remapColumnRefs(x.Keys[i].Expr, mapping)
		}
		return x, mapping

	case *LogicalLimit:
		input, mapping := pruneColumns(x.Input, required)
		x.Input = input
		return x, mapping

	case *LogicalWithCte:
		body, mapping := pruneColumns(x.Body, required)
		x.Body = body
		return x, mapping
	}

	// 其余算子不穿透：要求全部列
	for i, c := range p.Children() {
		childAll := make([]bool, c.Schema().Len())
		for j := range childAll {
			childAll[j] = true
		}
		newChild, _ := pruneColumns(c, childAll)
		setChild(p, i, newChild)
	}
	return p, identity(p.Schema().Len())
}

func markRequired(e Expression, req []bool) {
	WalkExpr(e, func(x Expression) bool {
		if ref, ok := x.(*ColumnRef); ok && ref.Index >= 0 && ref.Index < len(req) {
			req[ref.Index] = true
		}
		// 子查询的外层引用执行期按名解析，不带下标：保留全部输入列
		if _, ok := x.(*SubqueryExpr); ok {
			for i := range req {
				req[i] = true
			}
		}
		return true
	})
}

func remapColumnRefs(e Expression, mapping []int) Expression {
	return TransformExpr(e, func(x Expression) Expression {
		if ref, ok := x.(*ColumnRef); ok && ref.Index >= 0 && ref.Index < len(mapping) && mapping[ref.Index] >= 0 {
			if mapping[ref.Index] == ref.Index {
				return x
			}
			return &ColumnRef{Name: ref.Name, Qualifier: ref.Qualifier, Index: mapping[ref.Index], Type: ref.Type}
		}
		return x
	})
}

// setChild 逻辑节点子计划替换
func setChild(p LogicalPlan, i int, child LogicalPlan) {
	switch x := p.(type) {
	case *LogicalSample:
		x.Input = child
	case *LogicalFilter:
		x.Input = child
	case *LogicalProject:
		x.Input = child
	case *LogicalJoin:
		if i == 0 {
			x.Left = child
		} else {
			x.Right = child
		}
	case *LogicalAggregate:
		x.Input = child
	case *LogicalSort:
		x.Input = child
	case *LogicalLimit:
		x.Input = child
	case *LogicalDistinct:
		x.Input = child
	case *LogicalSetOp:
		if i == 0 {
			x.Left = child
		} else {
			x.Right = child
		}
	case *LogicalWindow:
		x.Input = child
	case *LogicalUnnest:
		x.Input = child
	case *LogicalQualify:
		x.Input = child
	case *LogicalGapFill:
		x.Input = child
	case *LogicalWithCte:
		if i < len(x.CTEs) {
			x.CTEs[i].Plan = child
		} else {
			x.Body = child
		}
	}
}
