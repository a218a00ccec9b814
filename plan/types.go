package plan

import (
	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/expression"
)

// InferType 静态推导表达式输出类型。未知处退化为TypeUnknown，
// 执行期由实际值确定
func InferType(e Expression) basic.DataType {
	switch x := e.(type) {
	case *Literal:
		return x.Value.Type()
	case *ColumnRef:
		return x.Type
	case *OuterColumnRef:
		return x.Type
	case *BinaryOp:
		switch x.Op {
		case "AND", "OR", "=", "!=", "<", "<=", ">", ">=":
			return basic.TypeBool
		case "||":
			lt := InferType(x.Left)
			if lt == basic.TypeArray || lt == basic.TypeBytes {
				return lt
			}
			return basic.TypeString
		case "&", "|", "^", "<<", ">>":
			return basic.TypeInt64
		default:
			return arithResultType(x.Op, InferType(x.Left), InferType(x.Right))
		}
	case *UnaryOp:
		if x.Op == "NOT" {
			return basic.TypeBool
		}
		if x.Op == "~" {
			return basic.TypeInt64
		}
		return InferType(x.Expr)
	case *ScalarFunc:
		args := make([]basic.DataType, len(x.Args))
		for i, a := range x.Args {
			args[i] = InferType(a)
		}
		if t, ok := expression.ReturnType(x.Name, args); ok {
			return t
		}
		return basic.TypeUnknown
	case *AggregateExpr:
		args := make([]basic.DataType, len(x.Args))
		for i, a := range x.Args {
			args[i] = InferType(a)
		}
		return expression.AggregateReturnType(x.Func, args)
	case *WindowExpr:
		args := make([]basic.DataType, len(x.Args))
		for i, a := range x.Args {
			args[i] = InferType(a)
		}
		return expression.WindowReturnType(x.Func, args)
	case *CaseExpr:
		for _, w := range x.Whens {
			if t := InferType(w.Then); t != basic.TypeNull && t != basic.TypeUnknown {
				return t
			}
		}
		if x.Else != nil {
			return InferType(x.Else)
		}
		return basic.TypeUnknown
	case *CastExpr:
		return x.To
	case *IsNullExpr, *IsBoolExpr, *IsDistinctExpr, *BetweenExpr, *InListExpr, *LikeExpr:
		return basic.TypeBool
	case *ArrayExpr:
		return basic.TypeArray
	case *StructExpr:
		return basic.TypeStruct
	case *IndexExpr:
		// 数组元素类型运行期确定
		return basic.TypeUnknown
	case *AccessExpr:
		return basic.TypeUnknown
	case *ExtractExpr:
		if x.Part == "DATE" {
			return basic.TypeDate
		}
		return basic.TypeInt64
	case *SubqueryExpr:
		switch x.Kind {
		case SubqueryExists, SubqueryIn:
			return basic.TypeBool
		case SubqueryArray:
			return basic.TypeArray
		default:
			if s := x.Plan.Schema(); s.Len() > 0 {
				return s.Fields[0].Type
			}
			return basic.TypeUnknown
		}
	case *VariableRef:
		return basic.TypeUnknown
	case *GroupingExpr:
		return basic.TypeInt64
	}
	return basic.TypeUnknown
}

func arithResultType(op string, l, r basic.DataType) basic.DataType {
	if l == basic.TypeFloat64 || r == basic.TypeFloat64 {
		return basic.TypeFloat64
	}
	if op == "/" {
		if l == basic.TypeBigNumeric || r == basic.TypeBigNumeric {
			return basic.TypeBigNumeric
		}
		if l == basic.TypeNumeric || r == basic.TypeNumeric {
			return basic.TypeNumeric
		}
		return basic.TypeFloat64
	}
	if l == basic.TypeBigNumeric || r == basic.TypeBigNumeric {
		return basic.TypeBigNumeric
	}
	if l == basic.TypeNumeric || r == basic.TypeNumeric {
		return basic.TypeNumeric
	}
	if l.IsTemporal() {
		return l
	}
	if r.IsTemporal() {
		return r
	}
	if l == basic.TypeInterval && r == basic.TypeInterval {
		return basic.TypeInterval
	}
	return basic.TypeInt64
}
