package plan

import (
	"github.com/zhukovaskychina/yachtsql/basic"
)

// simplifyPlan 对计划树中的所有表达式做常量折叠与规则化简
func simplifyPlan(p LogicalPlan) LogicalPlan {
	switch x := p.(type) {
	case *LogicalFilter:
		x.Input = simplifyPlan(x.Input)
		x.Predicate = SimplifyExpr(x.Predicate)
		// 谓词恒真时消除过滤
		if lit, ok := x.Predicate.(*Literal); ok {
			if b, bok := lit.Value.AsBool(); bok && b {
				return x.Input
			}
		}
		return x
	case *LogicalProject:
		x.Input = simplifyPlan(x.Input)
		for i := range x.Exprs {
			x.Exprs[i] = SimplifyExpr(x.Exprs[i])
		}
		return x
	case *LogicalJoin:
		x.Left = simplifyPlan(x.Left)
		x.Right = simplifyPlan(x.Right)
		if x.Condition != nil {
			x.Condition = SimplifyExpr(x.Condition)
		}
		return x
	case *LogicalAggregate:
		x.Input = simplifyPlan(x.Input)
		for i := range x.GroupBy {
			x.GroupBy[i] = SimplifyExpr(x.GroupBy[i])
		}
		return x
	case *LogicalSort:
		x.Input = simplifyPlan(x.Input)
		for i := range x.Keys {
			x.Keys[i].Expr = SimplifyExpr(x.Keys[i].Expr)
		}
		return x
	case *LogicalLimit:
		x.Input = simplifyPlan(x.Input)
		return x
	case *LogicalDistinct:
		x.Input = simplifyPlan(x.Input)
		return x
	case *LogicalSetOp:
		x.Left = simplifyPlan(x.Left)
		x.Right = simplifyPlan(x.Right)
		return x
	case *LogicalWindow:
		x.Input = simplifyPlan(x.Input)
		return x
	case *LogicalQualify:
		x.Input = simplifyPlan(x.Input)
		x.Predicate = SimplifyExpr(x.Predicate)
		return x
	case *LogicalSample:
		x.Input = simplifyPlan(x.Input)
		return x
	case *LogicalUnnest:
		if x.Input != nil {
			x.Input = simplifyPlan(x.Input)
		}
		x.Expr = SimplifyExpr(x.Expr)
		return x
	case *LogicalWithCte:
		for i := range x.CTEs {
			x.CTEs[i].Plan = simplifyPlan(x.CTEs[i].Plan)
			if x.CTEs[i].Anchor != nil {
				x.CTEs[i].Anchor = simplifyPlan(x.CTEs[i].Anchor)
			}
			if x.CTEs[i].RecursiveTerm != nil {
				x.CTEs[i].RecursiveTerm = simplifyPlan(x.CTEs[i].RecursiveTerm)
			}
		}
		x.Body = simplifyPlan(x.Body)
		return x
	}
	return p
}

// SimplifyExpr 表达式化简：字面量算术折叠、x AND true、
// x OR false、NOT NOT x、字面量CASE、单元素IN转等值
func SimplifyExpr(e Expression) Expression {
	return TransformExpr(e, simplifyNode)
}

func simplifyNode(e Expression) Expression {
	switch x := e.(type) {
	case *BinaryOp:
		return simplifyBinary(x)
	case *UnaryOp:
		if x.Op == "NOT" {
			// NOT NOT y → y
			if inner, ok := x.Expr.(*UnaryOp); ok && inner.Op == "NOT" {
				return inner.Expr
			}
			if lit, ok := x.Expr.(*Literal); ok {
				return &Literal{Value: basic.Not(lit.Value)}
			}
		}
		if x.Op == "-" {
			if lit, ok := x.Expr.(*Literal); ok {
				if v, err := basic.Negate(lit.Value); err == nil {
					return &Literal{Value: v}
				}
			}
		}
		return x
	case *CaseExpr:
		// 字面量operand折叠到命中的分支
		if x.Operand != nil {
			if op, ok := x.Operand.(*Literal); ok {
				allLiteral := true
				for _, w := range x.Whens {
					if _, ok := w.When.(*Literal); !ok {
						allLiteral = false
						break
					}
				}
				if allLiteral {
					for _, w := range x.Whens {
						wl := w.When.(*Literal)
						if basic.EqualsNullSafe(op.Value, wl.Value) {
							return w.Then
						}
					}
					if x.Else != nil {
						return x.Else
					}
					return &Literal{Value: basic.NullValue()}
				}
			}
		}
		return x
	case *InListExpr:
		// 单元素IN退化为等值比较
		if len(x.List) == 1 && !x.Not {
			return &BinaryOp{Op: "=", Left: x.Expr, Right: x.List[0]}
		}
		return x
	}
	return e
}

func simplifyBinary(x *BinaryOp) Expression {
	ll, lok := x.Left.(*Literal)
	rl, rok := x.Right.(*Literal)

	switch x.Op {
	case "AND":
		if lok {
			if b, ok := ll.Value.AsBool(); ok {
				if b {
					return x.Right // true AND y → y
				}
				return ll // false AND y → false
			}
		}
		if rok {
			if b, ok := rl.Value.AsBool(); ok {
				if b {
					return x.Left
				}
				return rl
			}
		}
		return x
	case "OR":
		if lok {
			if b, ok := ll.Value.AsBool(); ok {
				if b {
					return ll // true OR y → true
				}
				return x.Right // false OR y → y
			}
		}
		if rok {
			if b, ok := rl.Value.AsBool(); ok {
				if b {
					return rl
				}
				return x.Left
			}
		}
		return x
	}

	if !lok || !rok {
		return x
	}

	// 字面量算术与比较折叠；出错保留原式留给执行期报错
	switch x.Op {
	case "+", "-", "*":
		op := map[string]basic.ArithOp{"+": basic.OpAdd, "-": basic.OpSub, "*": basic.OpMul}[x.Op]
		if v, err := basic.Arithmetic(op, ll.Value, rl.Value); err == nil {
			return &Literal{Value: v}
		}
	case "/":
		if v, err := basic.Arithmetic(basic.OpDiv, ll.Value, rl.Value); err == nil {
			return &Literal{Value: v}
		}
	case "=":
		return &Literal{Value: basic.Equals(ll.Value, rl.Value)}
	case "!=":
		return &Literal{Value: basic.Not(basic.Equals(ll.Value, rl.Value))}
	case "<", "<=", ">", ">=":
		if ll.Value.IsNull() || rl.Value.IsNull() {
			return &Literal{Value: basic.TypedNull(basic.TypeBool)}
		}
		c := basic.Compare(ll.Value, rl.Value)
		var b bool
		switch x.Op {
		case "<":
			b = c < 0
		case "<=":
			b = c <= 0
		case ">":
			b = c > 0
		case ">=":
			b = c >= 0
		}
		return &Literal{Value: basic.NewBool(b)}
	}
	return x
}
