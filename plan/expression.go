package plan

import (
	"fmt"
	"strings"

	"github.com/zhukovaskychina/yachtsql/basic"
)

// Expression 规划后的表达式树。列引用已解析为(限定符,名称,下标)，
// 聚合与窗口已由builder提升到对应算子，留在表达式位置的是对
// 聚合/窗口输出列的引用
type Expression interface {
	// String 结构化键，Qualify窗口缓存与子查询记忆化使用
	String() string
	// Children 子表达式
	Children() []Expression
}

// Literal 字面量
type Literal struct {
	Value basic.Value
}

func (e *Literal) String() string          { return e.Value.Type().String() + ":" + e.Value.String() }
func (e *Literal) Children() []Expression  { return nil }

// ColumnRef 列引用。Index为输入模式中的下标，-1表示按名解析
type ColumnRef struct {
	Qualifier string
	Name      string
	Index     int
	Type      basic.DataType
}

func (e *ColumnRef) String() string {
	if e.Qualifier != "" {
		return fmt.Sprintf("%s.%s#%d", e.Qualifier, e.Name, e.Index)
	}
	return fmt.Sprintf("%s#%d", e.Name, e.Index)
}
func (e *ColumnRef) Children() []Expression { return nil }

// OuterColumnRef 关联子查询中指向外层模式的列引用
type OuterColumnRef struct {
	Qualifier string
	Name      string
	Type      basic.DataType
}

func (e *OuterColumnRef) String() string          { return "outer:" + e.Qualifier + "." + e.Name }
func (e *OuterColumnRef) Children() []Expression  { return nil }

// BinaryOp 二元运算
type BinaryOp struct {
	Op    string // +, -, *, /, %, ||, =, !=, <, <=, >, >=, AND, OR, &, |, ^, <<, >>
	Left  Expression
	Right Expression
}

func (e *BinaryOp) String() string {
	return "(" + e.Left.String() + " " + e.Op + " " + e.Right.String() + ")"
}
func (e *BinaryOp) Children() []Expression { return []Expression{e.Left, e.Right} }

// UnaryOp 一元运算：NOT, -, ~
type UnaryOp struct {
	Op   string
	Expr Expression
}

func (e *UnaryOp) String() string          { return e.Op + "(" + e.Expr.String() + ")" }
func (e *UnaryOp) Children() []Expression  { return []Expression{e.Expr} }

// ScalarFunc 标量函数调用，向量化内核或逐行路径派发
type ScalarFunc struct {
	Name string // 规范化大写
	Args []Expression
}

func (e *ScalarFunc) String() string {
	return e.Name + "(" + joinExprs(e.Args) + ")"
}
func (e *ScalarFunc) Children() []Expression { return e.Args }

// AggregateExpr 聚合调用；仅在Aggregate/Window算子内部出现
type AggregateExpr struct {
	Func        string
	Args        []Expression
	Distinct    bool
	IgnoreNulls bool
	OrderBy     []OrderKey // ARRAY_AGG / STRING_AGG内排序
	Limit       int64      // <=0表示无限制
}

func (e *AggregateExpr) String() string {
	s := e.Func + "("
	if e.Distinct {
		s += "DISTINCT "
	}
	s += joinExprs(e.Args) + ")"
	return s
}
func (e *AggregateExpr) Children() []Expression { return e.Args }

// WindowExpr 窗口函数应用
type WindowExpr struct {
	Func        string
	Args        []Expression
	IgnoreNulls bool
	PartitionBy []Expression
	OrderBy     []OrderKey
	Frame       *WindowFrame
}

func (e *WindowExpr) String() string {
	var sb strings.Builder
	sb.WriteString(e.Func + "(" + joinExprs(e.Args) + ") OVER (")
	sb.WriteString("P:" + joinExprs(e.PartitionBy))
	sb.WriteString(" O:")
	for _, k := range e.OrderBy {
		sb.WriteString(k.String() + ",")
	}
	if e.Frame != nil {
		fmt.Fprintf(&sb, " F:%s %v %v", e.Frame.Unit, e.Frame.Lo, e.Frame.Hi)
	}
	sb.WriteString(")")
	return sb.String()
}
func (e *WindowExpr) Children() []Expression {
	out := append([]Expression{}, e.Args...)
	out = append(out, e.PartitionBy...)
	for _, k := range e.OrderBy {
		out = append(out, k.Expr)
	}
	return out
}

// WindowFrame 窗口帧
type WindowFrame struct {
	Unit string // ROWS, RANGE, GROUPS
	Lo   FrameBound
	Hi   FrameBound
}

// FrameBound 帧边界
type FrameBound struct {
	Kind   string // UNBOUNDED_PRECEDING, PRECEDING, CURRENT, FOLLOWING, UNBOUNDED_FOLLOWING
	Offset int64
}

// OrderKey 排序键
type OrderKey struct {
	Expr       Expression
	Desc       bool
	NullsFirst bool
}

func (k OrderKey) String() string {
	s := k.Expr.String()
	if k.Desc {
		s += " DESC"
	}
	if k.NullsFirst {
		s += " NF"
	}
	return s
}

// CaseExpr CASE表达式，Operand可为nil
type CaseExpr struct {
	Operand Expression
	Whens   []CaseWhen
	Else    Expression
}

// CaseWhen 单个WHEN分支
type CaseWhen struct {
	When Expression
	Then Expression
}

func (e *CaseExpr) String() string {
	var sb strings.Builder
	sb.WriteString("CASE")
	if e.Operand != nil {
		sb.WriteString(" " + e.Operand.String())
	}
	for _, w := range e.Whens {
		sb.WriteString(" WHEN " + w.When.String() + " THEN " + w.Then.String())
	}
	if e.Else != nil {
		sb.WriteString(" ELSE " + e.Else.String())
	}
	sb.WriteString(" END")
	return sb.String()
}
func (e *CaseExpr) Children() []Expression {
	var out []Expression
	if e.Operand != nil {
		out = append(out, e.Operand)
	}
	for _, w := range e.Whens {
		out = append(out, w.When, w.Then)
	}
	if e.Else != nil {
		out = append(out, e.Else)
	}
	return out
}

// CastExpr 类型转换
type CastExpr struct {
	Expr Expression
	To   basic.DataType
	Safe bool
}

func (e *CastExpr) String() string {
	p := "CAST"
	if e.Safe {
		p = "SAFE_CAST"
	}
	return p + "(" + e.Expr.String() + " AS " + e.To.String() + ")"
}
func (e *CastExpr) Children() []Expression { return []Expression{e.Expr} }

// IsNullExpr IS [NOT] NULL
type IsNullExpr struct {
	Expr Expression
	Not  bool
}

func (e *IsNullExpr) String() string {
	if e.Not {
		return e.Expr.String() + " IS NOT NULL"
	}
	return e.Expr.String() + " IS NULL"
}
func (e *IsNullExpr) Children() []Expression { return []Expression{e.Expr} }

// IsBoolExpr IS [NOT] TRUE/FALSE
type IsBoolExpr struct {
	Expr Expression
	Want bool
	Not  bool
}

func (e *IsBoolExpr) String() string {
	return fmt.Sprintf("%s IS(not=%v) %v", e.Expr.String(), e.Not, e.Want)
}
func (e *IsBoolExpr) Children() []Expression { return []Expression{e.Expr} }

// IsDistinctExpr IS [NOT] DISTINCT FROM
type IsDistinctExpr struct {
	Left  Expression
	Right Expression
	Not   bool
}

func (e *IsDistinctExpr) String() string {
	return fmt.Sprintf("(%s IS DISTINCT(not=%v) FROM %s)", e.Left.String(), e.Not, e.Right.String())
}
func (e *IsDistinctExpr) Children() []Expression { return []Expression{e.Left, e.Right} }

// BetweenExpr BETWEEN
type BetweenExpr struct {
	Expr Expression
	Lo   Expression
	Hi   Expression
	Not  bool
}

func (e *BetweenExpr) String() string {
	return fmt.Sprintf("(%s BETWEEN(not=%v) %s AND %s)", e.Expr.String(), e.Not, e.Lo.String(), e.Hi.String())
}
func (e *BetweenExpr) Children() []Expression { return []Expression{e.Expr, e.Lo, e.Hi} }

// InListExpr IN列表
type InListExpr struct {
	Expr Expression
	List []Expression
	Not  bool
}

func (e *InListExpr) String() string {
	return fmt.Sprintf("(%s IN(not=%v) [%s])", e.Expr.String(), e.Not, joinExprs(e.List))
}
func (e *InListExpr) Children() []Expression {
	return append([]Expression{e.Expr}, e.List...)
}

// LikeExpr LIKE模式匹配
type LikeExpr struct {
	Expr    Expression
	Pattern Expression
	Not     bool
}

func (e *LikeExpr) String() string {
	return fmt.Sprintf("(%s LIKE(not=%v) %s)", e.Expr.String(), e.Not, e.Pattern.String())
}
func (e *LikeExpr) Children() []Expression { return []Expression{e.Expr, e.Pattern} }

// ArrayExpr 数组构造
type ArrayExpr struct {
	Elem  basic.DataType
	Items []Expression
}

func (e *ArrayExpr) String() string          { return "ARRAY[" + joinExprs(e.Items) + "]" }
func (e *ArrayExpr) Children() []Expression  { return e.Items }

// StructExpr 结构体构造
type StructExpr struct {
	Names []string
	Items []Expression
}

func (e *StructExpr) String() string {
	return "STRUCT(" + strings.Join(e.Names, ",") + ")(" + joinExprs(e.Items) + ")"
}
func (e *StructExpr) Children() []Expression { return e.Items }

// IndexExpr 数组下标访问
type IndexExpr struct {
	Expr  Expression
	Index Expression
	Mode  string // OFFSET, ORDINAL, SAFE_OFFSET, SAFE_ORDINAL, PLAIN
}

func (e *IndexExpr) String() string {
	return e.Expr.String() + "[" + e.Mode + ":" + e.Index.String() + "]"
}
func (e *IndexExpr) Children() []Expression { return []Expression{e.Expr, e.Index} }

// AccessExpr 结构体字段/JSON成员访问
type AccessExpr struct {
	Expr  Expression
	Field string
}

func (e *AccessExpr) String() string          { return e.Expr.String() + "." + e.Field }
func (e *AccessExpr) Children() []Expression  { return []Expression{e.Expr} }

// ExtractExpr EXTRACT(part FROM e)
type ExtractExpr struct {
	Part string
	From Expression
}

func (e *ExtractExpr) String() string          { return "EXTRACT(" + e.Part + " FROM " + e.From.String() + ")" }
func (e *ExtractExpr) Children() []Expression  { return []Expression{e.From} }

// SubqueryKind 子查询种类
type SubqueryKind int

const (
	SubqueryScalar SubqueryKind = iota
	SubqueryExists
	SubqueryIn
	SubqueryArray
)

// SubqueryExpr 子查询表达式。Plan为已构建的逻辑子计划；
// Correlated标记计划内含OuterColumnRef
type SubqueryExpr struct {
	Kind       SubqueryKind
	Plan       LogicalPlan
	Operand    Expression // IN子查询左操作数
	Not        bool
	Correlated bool
}

func (e *SubqueryExpr) String() string {
	return fmt.Sprintf("SUBQ(kind=%d,corr=%v,%s)", e.Kind, e.Correlated, e.Plan.String())
}
func (e *SubqueryExpr) Children() []Expression {
	if e.Operand != nil {
		return []Expression{e.Operand}
	}
	return nil
}

// VariableRef 会话/脚本变量引用，大小写不敏感
type VariableRef struct {
	Name string
}

func (e *VariableRef) String() string          { return "@" + strings.ToUpper(e.Name) }
func (e *VariableRef) Children() []Expression  { return nil }

// DefaultPlaceholder INSERT的DEFAULT占位
type DefaultPlaceholder struct{}

func (e *DefaultPlaceholder) String() string          { return "DEFAULT" }
func (e *DefaultPlaceholder) Children() []Expression  { return nil }

// GroupingExpr GROUPING(col)，grouping sets下输出0/1
type GroupingExpr struct {
	Arg Expression
}

func (e *GroupingExpr) String() string          { return "GROUPING(" + e.Arg.String() + ")" }
func (e *GroupingExpr) Children() []Expression  { return []Expression{e.Arg} }

func joinExprs(exprs []Expression) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

// ---- 表达式遍历与变换 ----

// WalkExpr 前序遍历，fn返回false时剪枝
func WalkExpr(e Expression, fn func(Expression) bool) {
	if e == nil || !fn(e) {
		return
	}
	for _, c := range e.Children() {
		WalkExpr(c, fn)
	}
	// 子查询计划内的表达式不在Children中，关联检测单独处理
}

// ContainsAggregate 是否包含聚合调用
func ContainsAggregate(e Expression) bool {
	found := false
	WalkExpr(e, func(x Expression) bool {
		if _, ok := x.(*AggregateExpr); ok {
			found = true
			return false
		}
		return true
	})
	return found
}

// ContainsWindow 是否包含窗口调用
func ContainsWindow(e Expression) bool {
	found := false
	WalkExpr(e, func(x Expression) bool {
		if _, ok := x.(*WindowExpr); ok {
			found = true
			return false
		}
		return true
	})
	return found
}

// ContainsSubquery 是否包含子查询
func ContainsSubquery(e Expression) bool {
	found := false
	WalkExpr(e, func(x Expression) bool {
		if _, ok := x.(*SubqueryExpr); ok {
			found = true
			return false
		}
		return true
	})
	return found
}

// ReferencedIndexes 收集表达式引用的输入列下标
func ReferencedIndexes(e Expression, into map[int]bool) {
	WalkExpr(e, func(x Expression) bool {
		if ref, ok := x.(*ColumnRef); ok && ref.Index >= 0 {
			into[ref.Index] = true
		}
		return true
	})
}

// TransformExpr 后序重写表达式树
func TransformExpr(e Expression, fn func(Expression) Expression) Expression {
	if e == nil {
		return nil
	}
	switch x := e.(type) {
	case *BinaryOp:
		return fn(&BinaryOp{Op: x.Op, Left: TransformExpr(x.Left, fn), Right: TransformExpr(x.Right, fn)})
	case *UnaryOp:
		return fn(&UnaryOp{Op: x.Op, Expr: TransformExpr(x.Expr, fn)})
	case *ScalarFunc:
		args := make([]Expression, len(x.Args))
		for i, a := range x.Args {
			args[i] = TransformExpr(a, fn)
		}
		return fn(&ScalarFunc{Name: x.Name, Args: args})
	case *CaseExpr:
		out := &CaseExpr{Operand: TransformExpr(x.Operand, fn)}
		for _, w := range x.Whens {
			out.Whens = append(out.Whens, CaseWhen{When: TransformExpr(w.When, fn), Then: TransformExpr(w.Then, fn)})
		}
		out.Else = TransformExpr(x.Else, fn)
		return fn(out)
	case *CastExpr:
		return fn(&CastExpr{Expr: TransformExpr(x.Expr, fn), To: x.To, Safe: x.Safe})
	case *IsNullExpr:
		return fn(&IsNullExpr{Expr: TransformExpr(x.Expr, fn), Not: x.Not})
	case *IsBoolExpr:
		return fn(&IsBoolExpr{Expr: TransformExpr(x.Expr, fn), Want: x.Want, Not: x.Not})
	case *IsDistinctExpr:
		return fn(&IsDistinctExpr{Left: TransformExpr(x.Left, fn), Right: TransformExpr(x.Right, fn), Not: x.Not})
	case *BetweenExpr:
		return fn(&BetweenExpr{Expr: TransformExpr(x.Expr, fn), Lo: TransformExpr(x.Lo, fn), Hi: TransformExpr(x.Hi, fn), Not: x.Not})
	case *InListExpr:
		list := make([]Expression, len(x.List))
		for i, a := range x.List {
			list[i] = TransformExpr(a, fn)
		}
		return fn(&InListExpr{Expr: TransformExpr(x.Expr, fn), List: list, Not: x.Not})
	case *LikeExpr:
		return fn(&LikeExpr{Expr: TransformExpr(x.Expr, fn), Pattern: TransformExpr(x.Pattern, fn), Not: x.Not})
	case *ArrayExpr:
		items := make([]Expression, len(x.Items))
		for i, a := range x.Items {
			items[i] = TransformExpr(a, fn)
		}
		return fn(&ArrayExpr{Elem: x.Elem, Items: items})
	case *StructExpr:
		items := make([]Expression, len(x.Items))
		for i, a := range x.Items {
			items[i] = TransformExpr(a, fn)
		}
		return fn(&StructExpr{Names: x.Names, Items: items})
	case *IndexExpr:
		return fn(&IndexExpr{Expr: TransformExpr(x.Expr, fn), Index: TransformExpr(x.Index, fn), Mode: x.Mode})
	case *AccessExpr:
		return fn(&AccessExpr{Expr: TransformExpr(x.Expr, fn), Field: x.Field})
	case *ExtractExpr:
		return fn(&ExtractExpr{Part: x.Part, From: TransformExpr(x.From, fn)})
	case *AggregateExpr:
		args := make([]Expression, len(x.Args))
		for i, a := range x.Args {
			args[i] = TransformExpr(a, fn)
		}
		out := &AggregateExpr{Func: x.Func, Args: args, Distinct: x.Distinct, IgnoreNulls: x.IgnoreNulls, Limit: x.Limit}
		for _, k := range x.OrderBy {
			out.OrderBy = append(out.OrderBy, OrderKey{Expr: TransformExpr(k.Expr, fn), Desc: k.Desc, NullsFirst: k.NullsFirst})
		}
		return fn(out)
	case *WindowExpr:
		args := make([]Expression, len(x.Args))
		for i, a := range x.Args {
			args[i] = TransformExpr(a, fn)
		}
		parts := make([]Expression, len(x.PartitionBy))
		for i, a := range x.PartitionBy {
			parts[i] = TransformExpr(a, fn)
		}
		out := &WindowExpr{Func: x.Func, Args: args, IgnoreNulls: x.IgnoreNulls, PartitionBy: parts, Frame: x.Frame}
		for _, k := range x.OrderBy {
			out.OrderBy = append(out.OrderBy, OrderKey{Expr: TransformExpr(k.Expr, fn), Desc: k.Desc, NullsFirst: k.NullsFirst})
		}
		return fn(out)
	case *GroupingExpr:
		return fn(&GroupingExpr{Arg: TransformExpr(x.Arg, fn)})
	default:
		return fn(e)
	}
}
