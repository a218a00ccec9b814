package engine

import (
	"strings"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/metadata"
	"github.com/zhukovaskychina/yachtsql/plan"
)

// evalSubqueryColumn 子查询表达式→列。
// 非关联子查询求值一次后广播；关联子查询逐外层行以字面量替换
// 重优化执行，并按外层引用值元组记忆化
func (ev *evaluator) evalSubqueryColumn(x *plan.SubqueryExpr, t *metadata.Table) (*metadata.Column, error) {
	ex := ev.exec
	n := t.RowCount()

	var operandCol *metadata.Column
	if x.Operand != nil {
		var err error
		operandCol, err = ev.EvalColumn(x.Operand, t)
		if err != nil {
			return nil, err
		}
	}

	if !x.Correlated {
		result, err := ex.runSubqueryPlan(x.Plan)
		if err != nil {
			return nil, err
		}
		switch x.Kind {
		case plan.SubqueryScalar:
			v := scalarFromTable(result)
			return metadata.Broadcast(v, v.Type(), n)
		case plan.SubqueryExists:
			return metadata.Broadcast(basic.NewBool(result.RowCount() > 0), basic.TypeBool, n)
		case plan.SubqueryArray:
			v := arrayFromTable(result)
			return metadata.Broadcast(v, basic.TypeArray, n)
		case plan.SubqueryIn:
			return ex.inMembershipColumn(operandCol, result, x.Not, n)
		}
	}

	// 关联路径：外层引用列收集 → 每个不同值元组重规划执行一次
	outerRefs := collectOuterRefs(x.Plan)
	memoKey := x.String()
	memo := ex.subqueryMemo[memoKey]
	if memo == nil {
		memo = map[string]basic.Value{}
		ex.subqueryMemo[memoKey] = memo
	}

	out := metadata.NewColumn(subqueryResultType(x))
	for i := 0; i < n; i++ {
		binding, tupleKey, err := ex.outerBinding(outerRefs, t, i)
		if err != nil {
			return nil, err
		}
		var operand basic.Value
		if operandCol != nil {
			operand = operandCol.GetValue(i)
			tupleKey += "|op:" + operand.Type().String() + ":" + operand.String()
		}
		if v, hit := memo[tupleKey]; hit {
			if err := out.Append(v); err != nil {
				return nil, err
			}
			continue
		}
		v, err := ex.runCorrelatedOnce(x, binding, operand)
		if err != nil {
			return nil, err
		}
		memo[tupleKey] = v
		if err := out.Append(v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func subqueryResultType(x *plan.SubqueryExpr) basic.DataType {
	switch x.Kind {
	case plan.SubqueryExists, plan.SubqueryIn:
		return basic.TypeBool
	case plan.SubqueryArray:
		return basic.TypeArray
	default:
		if s := x.Plan.Schema(); s.Len() > 0 {
			return s.Fields[0].Type
		}
		return basic.TypeUnknown
	}
}

// runSubqueryPlan 子计划优化+执行（嵌套执行共享守卫与会话）
func (ex *Executor) runSubqueryPlan(logical plan.LogicalPlan) (*metadata.Table, error) {
	phys, err := plan.NewOptimizer(ex.session.optimizerSettings()).Optimize(logical)
	if err != nil {
		return nil, errors.Trace(err)
	}
	plan.NewPhysicalPlanner(&guardResolver{catalog: ex.catalog, guard: ex.guard}, ex.session).Plan(phys)
	return ex.Execute(phys)
}

// newBuilder 执行期构建器：经守卫解析名称
func (ex *Executor) newBuilder() *plan.Builder {
	b := plan.NewBuilder(&guardResolver{catalog: ex.catalog, guard: ex.guard})
	b.Variables = ex.session.knownVariable
	return b
}

// outerBinding 第i行的外层引用绑定与记忆化键
func (ex *Executor) outerBinding(refs []*plan.OuterColumnRef, t *metadata.Table, row int) (map[string]basic.Value, string, error) {
	binding := map[string]basic.Value{}
	var keyParts []string
	for _, ref := range refs {
		idx, err := t.Schema().IndexOf(ref.Qualifier, ref.Name)
		if err != nil {
			// 裸名回退
			idx, err = t.Schema().IndexOf("", ref.Name)
			if err != nil {
				return nil, "", errors.Trace(err)
			}
		}
		v := t.Column(idx).GetValue(row)
		binding[strings.ToUpper(ref.Qualifier+"."+ref.Name)] = v
		binding[strings.ToUpper(ref.Name)] = v
		keyParts = append(keyParts, v.Type().String()+":"+v.String())
	}
	return binding, strings.Join(keyParts, "\x00"), nil
}

// collectOuterRefs 子计划中的外层列引用（含嵌套表达式）
func collectOuterRefs(p plan.LogicalPlan) []*plan.OuterColumnRef {
	seen := map[string]bool{}
	var out []*plan.OuterColumnRef
	var visitExpr func(e plan.Expression)
	visitExpr = func(e plan.Expression) {
		plan.WalkExpr(e, func(x plan.Expression) bool {
			if ref, ok := x.(*plan.OuterColumnRef); ok {
				key := ref.String()
				if !seen[key] {
					seen[key] = true
					out = append(out, ref)
				}
			}
			if sub, ok := x.(*plan.SubqueryExpr); ok {
				collectPlanExprs(sub.Plan, visitExpr)
			}
			return true
		})
	}
	collectPlanExprs(p, visitExpr)
	return out
}

// collectPlanExprs 遍历计划节点中的表达式
func collectPlanExprs(p plan.LogicalPlan, visit func(plan.Expression)) {
	plan.WalkPlan(p, func(node plan.LogicalPlan) bool {
		switch x := node.(type) {
		case *plan.LogicalFilter:
			visit(x.Predicate)
		case *plan.LogicalProject:
			for _, e := range x.Exprs {
				visit(e)
			}
		case *plan.LogicalJoin:
			if x.Condition != nil {
				visit(x.Condition)
			}
		case *plan.LogicalAggregate:
			for _, g := range x.GroupBy {
				visit(g)
			}
			for _, a := range x.Aggregates {
				visit(a.Expr)
			}
		case *plan.LogicalSort:
			for _, k := range x.Keys {
				visit(k.Expr)
			}
		case *plan.LogicalQualify:
			visit(x.Predicate)
		case *plan.LogicalUnnest:
			visit(x.Expr)
		}
		return true
	})
}

// runCorrelatedOnce 外层值以字面量替换进子计划，重优化执行一次
func (ex *Executor) runCorrelatedOnce(x *plan.SubqueryExpr, binding map[string]basic.Value, operand basic.Value) (basic.Value, error) {
	substituted := substituteOuterRefs(x.Plan, binding)
	result, err := ex.runSubqueryPlan(substituted)
	if err != nil {
		return basic.Value{}, err
	}
	switch x.Kind {
	case plan.SubqueryScalar:
		return scalarFromTable(result), nil
	case plan.SubqueryExists:
		return basic.NewBool(result.RowCount() > 0), nil
	case plan.SubqueryArray:
		return arrayFromTable(result), nil
	case plan.SubqueryIn:
		return inMembership(operand, result, x.Not), nil
	}
	return basic.Value{}, basic.Internal("unknown subquery kind %d", x.Kind)
}

// substituteOuterRefs 计划内OuterColumnRef→字面量
func substituteOuterRefs(p plan.LogicalPlan, binding map[string]basic.Value) plan.LogicalPlan {
	rewrite := func(e plan.Expression) plan.Expression {
		return plan.TransformExpr(e, func(x plan.Expression) plan.Expression {
			if ref, ok := x.(*plan.OuterColumnRef); ok {
				if v, ok := binding[strings.ToUpper(ref.Qualifier+"."+ref.Name)]; ok {
					return &plan.Literal{Value: v}
				}
				if v, ok := binding[strings.ToUpper(ref.Name)]; ok {
					return &plan.Literal{Value: v}
				}
			}
			if sub, ok := x.(*plan.SubqueryExpr); ok {
				return &plan.SubqueryExpr{
					Kind: sub.Kind, Plan: substituteOuterRefs(sub.Plan, binding),
					Operand: sub.Operand, Not: sub.Not, Correlated: sub.Correlated,
				}
			}
			return x
		})
	}
	return rewritePlanExprs(p, rewrite)
}

// rewritePlanExprs 重建计划树并重写其中的表达式
func rewritePlanExprs(p plan.LogicalPlan, rewrite func(plan.Expression) plan.Expression) plan.LogicalPlan {
	switch x := p.(type) {
	case *plan.LogicalFilter:
		return &plan.LogicalFilter{
			Input:     rewritePlanExprs(x.Input, rewrite),
			Predicate: rewrite(x.Predicate),
		}
	case *plan.LogicalProject:
		exprs := make([]plan.Expression, len(x.Exprs))
		for i, e := range x.Exprs {
			exprs[i] = rewrite(e)
		}
		return &plan.LogicalProject{
			Input: rewritePlanExprs(x.Input, rewrite), Exprs: exprs, OutputSchema: x.OutputSchema,
		}
	case *plan.LogicalJoin:
		out := &plan.LogicalJoin{
			Type: x.Type,
			Left: rewritePlanExprs(x.Left, rewrite), Right: rewritePlanExprs(x.Right, rewrite),
		}
		if x.Condition != nil {
			out.Condition = rewrite(x.Condition)
		}
		return out
	case *plan.LogicalAggregate:
		out := &plan.LogicalAggregate{
			Input: rewritePlanExprs(x.Input, rewrite), OutputSchema: x.OutputSchema,
			GroupingSets: x.GroupingSets,
		}
		for _, g := range x.GroupBy {
			out.GroupBy = append(out.GroupBy, rewrite(g))
		}
		for _, a := range x.Aggregates {
			out.Aggregates = append(out.Aggregates, plan.AggregateItem{
				Expr: rewrite(a.Expr).(*plan.AggregateExpr), Alias: a.Alias,
			})
		}
		return out
	case *plan.LogicalSort:
		out := &plan.LogicalSort{Input: rewritePlanExprs(x.Input, rewrite)}
		for _, k := range x.Keys {
			out.Keys = append(out.Keys, plan.OrderKey{Expr: rewrite(k.Expr), Desc: k.Desc, NullsFirst: k.NullsFirst})
		}
		return out
	case *plan.LogicalLimit:
		return &plan.LogicalLimit{Input: rewritePlanExprs(x.Input, rewrite), Limit: x.Limit, Offset: x.Offset}
	case *plan.LogicalDistinct:
		return &plan.LogicalDistinct{Input: rewritePlanExprs(x.Input, rewrite)}
	case *plan.LogicalSetOp:
		return &plan.LogicalSetOp{Op: x.Op, All: x.All,
			Left: rewritePlanExprs(x.Left, rewrite), Right: rewritePlanExprs(x.Right, rewrite)}
	case *plan.LogicalQualify:
		return &plan.LogicalQualify{Input: rewritePlanExprs(x.Input, rewrite), Predicate: rewrite(x.Predicate)}
	case *plan.LogicalUnnest:
		out := &plan.LogicalUnnest{
			Expr: rewrite(x.Expr), Alias: x.Alias,
			WithOffset: x.WithOffset, OffsetAlias: x.OffsetAlias, OutputSchema: x.OutputSchema,
		}
		if x.Input != nil {
			out.Input = rewritePlanExprs(x.Input, rewrite)
		}
		return out
	case *plan.LogicalWithCte:
		out := &plan.LogicalWithCte{Body: rewritePlanExprs(x.Body, rewrite)}
		for _, c := range x.CTEs {
			nc := plan.CteDef{Name: c.Name, Recursive: c.Recursive, UnionAll: c.UnionAll,
				Plan: rewritePlanExprs(c.Plan, rewrite)}
			if c.Anchor != nil {
				nc.Anchor = rewritePlanExprs(c.Anchor, rewrite)
			}
			if c.RecursiveTerm != nil {
				nc.RecursiveTerm = rewritePlanExprs(c.RecursiveTerm, rewrite)
			}
			out.CTEs = append(out.CTEs, nc)
		}
		return out
	}
	return p
}

// scalarFromTable 首行首列，空表为NULL
func scalarFromTable(t *metadata.Table) basic.Value {
	if t.RowCount() == 0 || t.NumColumns() == 0 {
		return basic.NullValue()
	}
	return t.Column(0).GetValue(0)
}

// arrayFromTable 单列取列值；多列行包裹为Struct
func arrayFromTable(t *metadata.Table) basic.Value {
	av := basic.ArrayValue{}
	for i := 0; i < t.RowCount(); i++ {
		var v basic.Value
		if t.NumColumns() == 1 {
			v = t.Column(0).GetValue(i)
		} else {
			sv := basic.StructValue{}
			for c := 0; c < t.NumColumns(); c++ {
				sv.Fields = append(sv.Fields, basic.StructField{
					Name: t.Schema().Fields[c].Name,
					Val:  t.Column(c).GetValue(i),
				})
			}
			v = basic.NewStruct(sv)
		}
		if av.Elem == basic.TypeUnknown && !v.IsNull() {
			av.Elem = v.Type()
		}
		av.Items = append(av.Items, v)
	}
	return basic.NewArray(av)
}

// inMembership 三值IN语义
func inMembership(v basic.Value, result *metadata.Table, not bool) basic.Value {
	if v.IsNull() {
		return basic.TypedNull(basic.TypeBool)
	}
	sawNull := false
	for i := 0; i < result.RowCount(); i++ {
		rv := result.Column(0).GetValue(i)
		if rv.IsNull() {
			sawNull = true
			continue
		}
		if basic.Compare(v, rv) == 0 {
			return basic.NewBool(!not)
		}
	}
	if sawNull {
		return basic.TypedNull(basic.TypeBool)
	}
	return basic.NewBool(not)
}

// inMembershipColumn 操作数列逐行IN判定
func (ex *Executor) inMembershipColumn(operand *metadata.Column, result *metadata.Table, not bool, n int) (*metadata.Column, error) {
	out := metadata.NewColumn(basic.TypeBool)
	for i := 0; i < n; i++ {
		var v basic.Value
		if operand != nil {
			v = operand.GetValue(i)
		}
		if err := out.Append(inMembership(v, result, not)); err != nil {
			return nil, err
		}
	}
	return out, nil
}
