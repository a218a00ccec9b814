package plan

// pushDownFilters 谓词下推。顶层AND拆分为独立合取项后分别尝试：
// 仅引用连接单侧的合取项穿过连接；引用聚合前列的穿过聚合；
// 穿过投影仅当谓词引用的列全是透传列
func pushDownFilters(p LogicalPlan) LogicalPlan {
	switch x := p.(type) {
	case *LogicalFilter:
		x.Input = pushDownFilters(x.Input)
		conjuncts := splitConjuncts(x.Predicate)
		remaining, input := pushConjuncts(conjuncts, x.Input)
		if len(remaining) == 0 {
			return input
		}
		return &LogicalFilter{Input: input, Predicate: combineConjuncts(remaining)}
	case *LogicalJoin:
		x.Left = pushDownFilters(x.Left)
		x.Right = pushDownFilters(x.Right)
		return x
	case *LogicalProject:
		x.Input = pushDownFilters(x.Input)
		return x
	case *LogicalAggregate:
		x.Input = pushDownFilters(x.Input)
		return x
	case *LogicalSort:
		x.Input = pushDownFilters(x.Input)
		return x
	case *LogicalLimit:
		x.Input = pushDownFilters(x.Input)
		return x
	case *LogicalDistinct:
		x.Input = pushDownFilters(x.Input)
		return x
	case *LogicalSetOp:
		x.Left = pushDownFilters(x.Left)
		x.Right = pushDownFilters(x.Right)
		return x
	case *LogicalWindow:
		x.Input = pushDownFilters(x.Input)
		return x
	case *LogicalQualify:
		x.Input = pushDownFilters(x.Input)
		return x
	case *LogicalWithCte:
		for i := range x.CTEs {
			x.CTEs[i].Plan = pushDownFilters(x.CTEs[i].Plan)
		}
		x.Body = pushDownFilters(x.Body)
		return x
	case *LogicalSample:
		x.Input = pushDownFilters(x.Input)
		return x
	case *LogicalUnnest:
		if x.Input != nil {
			x.Input = pushDownFilters(x.Input)
		}
		return x
	}
	return p
}

// pushConjuncts 尝试将每个合取项推入input，返回未推动项与新input
func pushConjuncts(conjuncts []Expression, input LogicalPlan) ([]Expression, LogicalPlan) {
	var remaining []Expression
	for _, c := range conjuncts {
		// 含子查询/窗口/变量的谓词不下推
		if ContainsSubquery(c) || ContainsWindow(c) || containsVolatile(c) {
			remaining = append(remaining, c)
			continue
		}
		pushed, newInput := pushOneConjunct(c, input)
		input = newInput
		if !pushed {
			remaining = append(remaining, c)
		}
	}
	return remaining, input
}

func pushOneConjunct(c Expression, p LogicalPlan) (bool, LogicalPlan) {
	switch x := p.(type) {
	case *LogicalJoin:
		// 外连接仅保留侧可安全下推（LEFT的左侧、RIGHT的右侧）
		leftWidth := x.Left.Schema().Len()
		side, ok := sideOf(c, leftWidth)
		if !ok {
			return false, p
		}
		pushLeft := side == 0 && (x.Type == JoinInner || x.Type == JoinLeft || x.Type == JoinCross || x.Type == JoinSemi || x.Type == JoinAnti)
		pushRight := side == 1 && (x.Type == JoinInner || x.Type == JoinRight || x.Type == JoinCross)
		if pushLeft {
			x.Left = &LogicalFilter{Input: x.Left, Predicate: c}
			return true, x
		}
		if pushRight {
			x.Right = &LogicalFilter{Input: x.Right, Predicate: shiftColumnRefs(c, -leftWidth)}
			return true, x
		}
		return false, p

	case *LogicalAggregate:
		// 仅引用组键列（聚合输出前len(GroupBy)列）的谓词可下推，
		// 谓词重写为对组键表达式的引用
		groupWidth := len(x.GroupBy)
		if len(x.GroupingSets) > 0 {
			return false, p
		}
		refs := map[int]bool{}
		ReferencedIndexes(c, refs)
		for idx := range refs {
			if idx >= groupWidth {
				return false, p
			}
		}
		rewritten := TransformExpr(c, func(e Expression) Expression {
			if ref, ok := e.(*ColumnRef); ok {
				return x.GroupBy[ref.Index]
			}
			return e
		})
		x.Input = &LogicalFilter{Input: x.Input, Predicate: rewritten}
		return true, x

	case *LogicalProject:
		// 透传列判定：谓词引用的输出列都是纯列引用投影
		refs := map[int]bool{}
		ReferencedIndexes(c, refs)
		mapping := map[int]int{}
		for idx := range refs {
			ref, ok := x.Exprs[idx].(*ColumnRef)
			if !ok {
				return false, p
			}
			mapping[idx] = ref.Index
		}
		rewritten := TransformExpr(c, func(e Expression) Expression {
			if ref, ok := e.(*ColumnRef); ok {
				inner := x.Exprs[ref.Index].(*ColumnRef)
				return &ColumnRef{Name: inner.Name, Qualifier: inner.Qualifier, Index: inner.Index, Type: inner.Type}
			}
			return e
		})
		pushed, newInput := pushOneConjunct(rewritten, x.Input)
		if !pushed {
			newInput = &LogicalFilter{Input: newInput, Predicate: rewritten}
		}
		x.Input = newInput
		return true, x

	case *LogicalFilter:
		// 合并进下层过滤
		x.Predicate = andCombine(x.Predicate, c)
		return true, x
	}
	return false, p
}

func combineConjuncts(conjuncts []Expression) Expression {
	var out Expression
	for _, c := range conjuncts {
		out = andCombine(out, c)
	}
	return out
}

// containsVolatile 谓词是否含非确定函数
func containsVolatile(e Expression) bool {
	found := false
	WalkExpr(e, func(x Expression) bool {
		if f, ok := x.(*ScalarFunc); ok {
			switch f.Name {
			case "RAND", "CURRENT_TIMESTAMP", "CURRENT_DATE", "CURRENT_DATETIME", "CURRENT_TIME":
				found = true
				return false
			}
		}
		return true
	})
	return found
}
