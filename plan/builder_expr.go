package plan

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/expression"
	"github.com/zhukovaskychina/yachtsql/metadata"
	"github.com/zhukovaskychina/yachtsql/sqlparser"
)

// scope 名称解析域：FROM产生的模式栈帧
type scope struct {
	schema *metadata.Schema
	// windows 命名窗口定义
	windows map[string]*sqlparser.WindowSpec
}

// resolveColumn 在域内解析列名；qualifier为空时裸名匹配
func (s *scope) resolveColumn(qualifier, name string) (int, *metadata.Field, error) {
	idx, err := s.schema.IndexOf(qualifier, name)
	if err != nil {
		return -1, nil, err
	}
	return idx, &s.schema.Fields[idx], nil
}

// buildExpr AST表达式转规划表达式，在当前域内解析名称
func (b *Builder) buildExpr(e sqlparser.Expr, sc *scope) (Expression, error) {
	switch x := e.(type) {
	case *sqlparser.Literal:
		v, err := literalValue(x)
		if err != nil {
			return nil, err
		}
		return &Literal{Value: v}, nil

	case *sqlparser.Ident:
		return b.resolveIdent(x.Parts, sc)

	case *sqlparser.Param:
		return &VariableRef{Name: x.Name}, nil

	case *sqlparser.DefaultExpr:
		return &DefaultPlaceholder{}, nil

	case *sqlparser.BinaryExpr:
		l, err := b.buildExpr(x.Left, sc)
		if err != nil {
			return nil, err
		}
		r, err := b.buildExpr(x.Right, sc)
		if err != nil {
			return nil, err
		}
		return &BinaryOp{Op: x.Op, Left: l, Right: r}, nil

	case *sqlparser.UnaryExpr:
		inner, err := b.buildExpr(x.Expr, sc)
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: x.Op, Expr: inner}, nil

	case *sqlparser.FuncCall:
		return b.buildFuncCall(x, sc)

	case *sqlparser.CaseExpr:
		out := &CaseExpr{}
		var err error
		if x.Operand != nil {
			out.Operand, err = b.buildExpr(x.Operand, sc)
			if err != nil {
				return nil, err
			}
		}
		for _, w := range x.Whens {
			when, err := b.buildExpr(w.When, sc)
			if err != nil {
				return nil, err
			}
			then, err := b.buildExpr(w.Then, sc)
			if err != nil {
				return nil, err
			}
			out.Whens = append(out.Whens, CaseWhen{When: when, Then: then})
		}
		if x.Else != nil {
			out.Else, err = b.buildExpr(x.Else, sc)
			if err != nil {
				return nil, err
			}
		}
		return out, nil

	case *sqlparser.CastExpr:
		inner, err := b.buildExpr(x.Expr, sc)
		if err != nil {
			return nil, err
		}
		t, err := typeFromAST(&x.Type)
		if err != nil {
			return nil, err
		}
		return &CastExpr{Expr: inner, To: t, Safe: x.Safe}, nil

	case *sqlparser.BetweenExpr:
		inner, err := b.buildExpr(x.Expr, sc)
		if err != nil {
			return nil, err
		}
		lo, err := b.buildExpr(x.Lo, sc)
		if err != nil {
			return nil, err
		}
		hi, err := b.buildExpr(x.Hi, sc)
		if err != nil {
			return nil, err
		}
		return &BetweenExpr{Expr: inner, Lo: lo, Hi: hi, Not: x.Not}, nil

	case *sqlparser.InExpr:
		inner, err := b.buildExpr(x.Expr, sc)
		if err != nil {
			return nil, err
		}
		if x.Subquery != nil {
			sub, correlated, err := b.buildSubquery(x.Subquery, sc)
			if err != nil {
				return nil, err
			}
			return &SubqueryExpr{Kind: SubqueryIn, Plan: sub, Operand: inner, Not: x.Not, Correlated: correlated}, nil
		}
		if x.Unnest != nil {
			arr, err := b.buildExpr(x.Unnest, sc)
			if err != nil {
				return nil, err
			}
			var out Expression = &ScalarFunc{Name: "ARRAY_INCLUDES", Args: []Expression{arr, inner}}
			if x.Not {
				out = &UnaryOp{Op: "NOT", Expr: out}
			}
			return out, nil
		}
		list := make([]Expression, len(x.List))
		for i, item := range x.List {
			list[i], err = b.buildExpr(item, sc)
			if err != nil {
				return nil, err
			}
		}
		return &InListExpr{Expr: inner, List: list, Not: x.Not}, nil

	case *sqlparser.LikeExpr:
		inner, err := b.buildExpr(x.Expr, sc)
		if err != nil {
			return nil, err
		}
		pat, err := b.buildExpr(x.Pattern, sc)
		if err != nil {
			return nil, err
		}
		return &LikeExpr{Expr: inner, Pattern: pat, Not: x.Not}, nil

	case *sqlparser.IsExpr:
		inner, err := b.buildExpr(x.Expr, sc)
		if err != nil {
			return nil, err
		}
		switch x.What {
		case "NULL":
			return &IsNullExpr{Expr: inner, Not: x.Not}, nil
		case "TRUE":
			return &IsBoolExpr{Expr: inner, Want: true, Not: x.Not}, nil
		case "FALSE":
			return &IsBoolExpr{Expr: inner, Want: false, Not: x.Not}, nil
		case "DISTINCT_FROM":
			other, err := b.buildExpr(x.Other, sc)
			if err != nil {
				return nil, err
			}
			return &IsDistinctExpr{Left: inner, Right: other, Not: x.Not}, nil
		}
		return nil, basic.UnsupportedExpression("IS %s", x.What)

	case *sqlparser.ExistsExpr:
		sub, correlated, err := b.buildSubquery(x.Query, sc)
		if err != nil {
			return nil, err
		}
		return &SubqueryExpr{Kind: SubqueryExists, Plan: sub, Correlated: correlated}, nil

	case *sqlparser.SubqueryExpr:
		sub, correlated, err := b.buildSubquery(x.Query, sc)
		if err != nil {
			return nil, err
		}
		kind := SubqueryScalar
		if x.IsArray {
			kind = SubqueryArray
		}
		return &SubqueryExpr{Kind: kind, Plan: sub, Correlated: correlated}, nil

	case *sqlparser.ArrayLit:
		out := &ArrayExpr{}
		if x.Elem != nil {
			t, err := typeFromAST(x.Elem)
			if err != nil {
				return nil, err
			}
			out.Elem = t
		}
		for _, item := range x.Items {
			e, err := b.buildExpr(item, sc)
			if err != nil {
				return nil, err
			}
			out.Items = append(out.Items, e)
		}
		return out, nil

	case *sqlparser.StructLit:
		out := &StructExpr{Names: x.Names}
		for _, item := range x.Items {
			e, err := b.buildExpr(item, sc)
			if err != nil {
				return nil, err
			}
			out.Items = append(out.Items, e)
		}
		return out, nil

	case *sqlparser.IndexExpr:
		inner, err := b.buildExpr(x.Expr, sc)
		if err != nil {
			return nil, err
		}
		idx, err := b.buildExpr(x.Index, sc)
		if err != nil {
			return nil, err
		}
		return &IndexExpr{Expr: inner, Index: idx, Mode: x.Mode}, nil

	case *sqlparser.AccessExpr:
		inner, err := b.buildExpr(x.Expr, sc)
		if err != nil {
			return nil, err
		}
		return &AccessExpr{Expr: inner, Field: x.Field}, nil

	case *sqlparser.ExtractExpr:
		from, err := b.buildExpr(x.From, sc)
		if err != nil {
			return nil, err
		}
		return &ExtractExpr{Part: x.Part, From: from}, nil

	case *sqlparser.IntervalExpr:
		v, err := b.buildExpr(x.Value, sc)
		if err != nil {
			return nil, err
		}
		if lit, ok := v.(*Literal); ok {
			iv, err := intervalFromLiteral(lit.Value, x.Unit)
			if err != nil {
				return nil, err
			}
			return &Literal{Value: basic.NewInterval(iv)}, nil
		}
		return nil, basic.UnsupportedExpression("non-literal INTERVAL value")

	case *sqlparser.Star:
		return nil, basic.InvalidQuery("'*' is only legal inside COUNT(*) or a select list")
	}
	return nil, basic.UnsupportedExpression("%T", e)
}

// resolveIdent 解析（可能带限定符的）标识符。
// 依次尝试：当前域列 → 限定符.列 → 外层域（产生OuterColumnRef）
// → 脚本/会话变量 → 结构体字段访问回退
func (b *Builder) resolveIdent(parts []string, sc *scope) (Expression, error) {
	if len(parts) == 1 {
		if sc != nil {
			idx, f, err := sc.resolveColumn("", parts[0])
			if err == nil {
				return &ColumnRef{Name: f.Name, Qualifier: f.Qualifier, Index: idx, Type: f.Type}, nil
			}
			if basic.KindOf(err) == basic.ErrAmbiguousColumn {
				return nil, err
			}
		}
		if out := b.resolveOuter("", parts[0]); out != nil {
			return out, nil
		}
		// 脚本变量以裸名引用
		if b.knownVariable(parts[0]) {
			return &VariableRef{Name: parts[0]}, nil
		}
		return nil, basic.ColumnNotFound(parts[0])
	}
	// qualified.name，优先两段式表.列
	if sc != nil {
		idx, f, err := sc.resolveColumn(parts[0], parts[1])
		if err == nil {
			base := Expression(&ColumnRef{Name: f.Name, Qualifier: f.Qualifier, Index: idx, Type: f.Type})
			for _, field := range parts[2:] {
				base = &AccessExpr{Expr: base, Field: field}
			}
			return base, nil
		}
	}
	if out := b.resolveOuter(parts[0], parts[1]); out != nil {
		base := Expression(out)
		for _, field := range parts[2:] {
			base = &AccessExpr{Expr: base, Field: field}
		}
		return base, nil
	}
	// 裸列.结构体字段回退
	if sc != nil {
		if idx, f, err := sc.resolveColumn("", parts[0]); err == nil {
			base := Expression(&ColumnRef{Name: f.Name, Qualifier: f.Qualifier, Index: idx, Type: f.Type})
			for _, field := range parts[1:] {
				base = &AccessExpr{Expr: base, Field: field}
			}
			return base, nil
		}
	}
	return nil, basic.ColumnNotFound(strings.Join(parts, "."))
}

// resolveOuter 在外层域栈中解析，命中记为关联
func (b *Builder) resolveOuter(qualifier, name string) *OuterColumnRef {
	for i := len(b.outer) - 1; i >= 0; i-- {
		idx, err := b.outer[i].IndexOf(qualifier, name)
		if err == nil {
			f := b.outer[i].Fields[idx]
			b.correlated = true
			return &OuterColumnRef{Qualifier: f.Qualifier, Name: f.Name, Type: f.Type}
		}
	}
	return nil
}

func (b *Builder) knownVariable(name string) bool {
	if b.Variables == nil {
		return false
	}
	return b.Variables(name)
}

// buildFuncCall 函数调用分派：聚合/窗口/内建标量/用户函数
func (b *Builder) buildFuncCall(x *sqlparser.FuncCall, sc *scope) (Expression, error) {
	name := strings.ToUpper(x.Name)

	// OVER存在即为窗口应用
	if x.Over != nil || x.OverName != "" {
		spec := x.Over
		if spec == nil {
			if sc == nil || sc.windows == nil || sc.windows[strings.ToUpper(x.OverName)] == nil {
				return nil, basic.InvalidQuery("undefined window %q", x.OverName)
			}
			spec = sc.windows[strings.ToUpper(x.OverName)]
		}
		return b.buildWindowExpr(name, x, spec, sc)
	}

	if name == "GROUPING" {
		if len(x.Args) != 1 {
			return nil, basic.InvalidFunction("GROUPING takes exactly one argument")
		}
		arg, err := b.buildExpr(x.Args[0], sc)
		if err != nil {
			return nil, err
		}
		return &GroupingExpr{Arg: arg}, nil
	}

	if expression.IsAggregateName(name) {
		agg := &AggregateExpr{Func: name, Distinct: x.Distinct, IgnoreNulls: x.IgnoreNulls}
		for _, a := range x.Args {
			if _, ok := a.(*sqlparser.Star); ok && name == "COUNT" {
				continue // COUNT(*)零参数
			}
			e, err := b.buildExpr(a, sc)
			if err != nil {
				return nil, err
			}
			agg.Args = append(agg.Args, e)
		}
		for _, k := range x.OrderBy {
			e, err := b.buildExpr(k.Expr, sc)
			if err != nil {
				return nil, err
			}
			agg.OrderBy = append(agg.OrderBy, OrderKey{Expr: e, Desc: k.Desc, NullsFirst: defaultNullsFirst(k)})
		}
		if x.Limit != nil {
			le, err := b.buildExpr(x.Limit, sc)
			if err != nil {
				return nil, err
			}
			lit, ok := le.(*Literal)
			if !ok {
				return nil, basic.InvalidQuery("aggregate LIMIT must be a literal")
			}
			n, _ := lit.Value.AsInt64()
			agg.Limit = n
		}
		return agg, nil
	}

	args := make([]Expression, 0, len(x.Args))
	for _, a := range x.Args {
		e, err := b.buildExpr(a, sc)
		if err != nil {
			return nil, err
		}
		args = append(args, e)
	}

	if expression.Exists(name) {
		return &ScalarFunc{Name: name, Args: args}, nil
	}
	// 用户定义函数走逐行Custom路径
	if b.HasFunction != nil && b.HasFunction(name) {
		return &ScalarFunc{Name: name, Args: args}, nil
	}
	return nil, basic.FunctionNotFound(x.Name)
}

func (b *Builder) buildWindowExpr(name string, x *sqlparser.FuncCall, spec *sqlparser.WindowSpec, sc *scope) (Expression, error) {
	if !expression.IsRankedWindowName(name) && !expression.IsAggregateName(name) {
		return nil, basic.InvalidFunction("%s is not a window function", x.Name)
	}
	out := &WindowExpr{Func: name, IgnoreNulls: x.IgnoreNulls}
	for _, a := range x.Args {
		if _, ok := a.(*sqlparser.Star); ok && name == "COUNT" {
			continue
		}
		e, err := b.buildExpr(a, sc)
		if err != nil {
			return nil, err
		}
		out.Args = append(out.Args, e)
	}
	for _, p := range spec.PartitionBy {
		e, err := b.buildExpr(p, sc)
		if err != nil {
			return nil, err
		}
		out.PartitionBy = append(out.PartitionBy, e)
	}
	for _, k := range spec.OrderBy {
		e, err := b.buildExpr(k.Expr, sc)
		if err != nil {
			return nil, err
		}
		out.OrderBy = append(out.OrderBy, OrderKey{Expr: e, Desc: k.Desc, NullsFirst: defaultNullsFirst(k)})
	}
	if spec.Frame != nil {
		frame := &WindowFrame{Unit: spec.Frame.Unit}
		lo, err := b.frameBound(spec.Frame.Lo, sc)
		if err != nil {
			return nil, err
		}
		hi, err := b.frameBound(spec.Frame.Hi, sc)
		if err != nil {
			return nil, err
		}
		frame.Lo, frame.Hi = lo, hi
		out.Frame = frame
	}
	return out, nil
}

func (b *Builder) frameBound(fb sqlparser.FrameBound, sc *scope) (FrameBound, error) {
	out := FrameBound{Kind: fb.Kind}
	if fb.Offset != nil {
		e, err := b.buildExpr(fb.Offset, sc)
		if err != nil {
			return out, err
		}
		lit, ok := e.(*Literal)
		if !ok {
			return out, basic.InvalidQuery("window frame offset must be a literal")
		}
		n, ok := lit.Value.AsInt64()
		if !ok || n < 0 {
			return out, basic.InvalidQuery("window frame offset must be a non-negative INT64")
		}
		out.Offset = n
	}
	return out, nil
}

// defaultNullsFirst BigQuery默认：升序NULLS FIRST，降序NULLS LAST
func defaultNullsFirst(k sqlparser.OrderItem) bool {
	if k.NullsFirst != nil {
		return *k.NullsFirst
	}
	return !k.Desc
}

// literalValue AST字面量求值
func literalValue(x *sqlparser.Literal) (basic.Value, error) {
	switch x.Kind {
	case "NULL":
		return basic.NullValue(), nil
	case "BOOL":
		return basic.NewBool(x.Bool), nil
	case "INT":
		if strings.HasPrefix(strings.ToLower(x.Text), "0x") {
			i, err := strconv.ParseInt(x.Text[2:], 16, 64)
			if err != nil {
				return basic.Value{}, basic.InvalidLiteral("invalid hex literal %q", x.Text)
			}
			return basic.NewInt64(i), nil
		}
		i, err := strconv.ParseInt(x.Text, 10, 64)
		if err != nil {
			return basic.Value{}, basic.InvalidLiteral("invalid INT64 literal %q", x.Text)
		}
		return basic.NewInt64(i), nil
	case "FLOAT":
		f, err := strconv.ParseFloat(x.Text, 64)
		if err != nil {
			return basic.Value{}, basic.InvalidLiteral("invalid FLOAT64 literal %q", x.Text)
		}
		return basic.NewFloat64(f), nil
	case "STRING":
		return basic.NewString(x.Text), nil
	case "BYTES":
		return basic.NewBytes([]byte(x.Text)), nil
	case "DATE":
		return basic.ParseDate(x.Text)
	case "TIME":
		return basic.ParseTime(x.Text)
	case "DATETIME":
		return basic.ParseDateTime(x.Text)
	case "TIMESTAMP":
		return basic.ParseTimestamp(x.Text)
	case "NUMERIC", "BIGNUMERIC":
		d, err := decimal.NewFromString(x.Text)
		if err != nil {
			return basic.Value{}, basic.InvalidLiteral("invalid %s literal %q", x.Kind, x.Text)
		}
		if x.Kind == "BIGNUMERIC" {
			return basic.NewBigNumeric(d), nil
		}
		return basic.NewNumeric(d), nil
	case "JSON":
		return basic.Coerce(basic.NewString(x.Text), basic.TypeJson)
	case "GEOGRAPHY":
		return basic.NewGeography(x.Text), nil
	}
	if strings.HasPrefix(x.Kind, "RANGE_") {
		return parseRangeLiteral(x.Kind, x.Text)
	}
	return basic.Value{}, basic.InvalidLiteral("unknown literal kind %q", x.Kind)
}

// parseRangeLiteral RANGE_DATE '[2020-01-01, 2020-12-31)'形式
func parseRangeLiteral(kind, text string) (basic.Value, error) {
	elem := basic.TypeDate
	switch kind {
	case "RANGE_DATETIME":
		elem = basic.TypeDateTime
	case "RANGE_TIMESTAMP":
		elem = basic.TypeTimestamp
	}
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "[") || !strings.HasSuffix(t, ")") {
		return basic.Value{}, basic.InvalidLiteral("invalid RANGE literal %q", text)
	}
	parts := strings.SplitN(t[1:len(t)-1], ",", 2)
	if len(parts) != 2 {
		return basic.Value{}, basic.InvalidLiteral("invalid RANGE literal %q", text)
	}
	r := basic.RangeValue{Elem: elem}
	lo := strings.TrimSpace(parts[0])
	hi := strings.TrimSpace(parts[1])
	if !strings.EqualFold(lo, "UNBOUNDED") && !strings.EqualFold(lo, "NULL") {
		v, err := basic.Coerce(basic.NewString(lo), elem)
		if err != nil {
			return basic.Value{}, err
		}
		r.Start = &v
	}
	if !strings.EqualFold(hi, "UNBOUNDED") && !strings.EqualFold(hi, "NULL") {
		v, err := basic.Coerce(basic.NewString(hi), elem)
		if err != nil {
			return basic.Value{}, err
		}
		r.End = &v
	}
	return basic.NewRange(r), nil
}

// intervalFromLiteral INTERVAL n unit
func intervalFromLiteral(v basic.Value, unit string) (basic.Interval, error) {
	n, ok := v.AsInt64()
	if !ok {
		return basic.Interval{}, basic.InvalidLiteral("INTERVAL value must be INT64")
	}
	switch unit {
	case "YEAR":
		return basic.Interval{Months: n * 12}, nil
	case "QUARTER":
		return basic.Interval{Months: n * 3}, nil
	case "MONTH":
		return basic.Interval{Months: n}, nil
	case "WEEK":
		return basic.Interval{Days: n * 7}, nil
	case "DAY":
		return basic.Interval{Days: n}, nil
	case "HOUR":
		return basic.Interval{Nanos: n * 3600 * 1e9}, nil
	case "MINUTE":
		return basic.Interval{Nanos: n * 60 * 1e9}, nil
	case "SECOND":
		return basic.Interval{Nanos: n * 1e9}, nil
	case "MILLISECOND":
		return basic.Interval{Nanos: n * 1e6}, nil
	case "MICROSECOND":
		return basic.Interval{Nanos: n * 1e3}, nil
	}
	return basic.Interval{}, basic.InvalidLiteral("unknown INTERVAL unit %q", unit)
}

// typeFromAST 类型名转DataType
func typeFromAST(t *sqlparser.TypeName) (basic.DataType, error) {
	switch strings.ToUpper(t.Name) {
	case "ARRAY":
		return basic.TypeArray, nil
	case "STRUCT":
		return basic.TypeStruct, nil
	}
	dt, ok := basic.TypeFromName(t.Name)
	if !ok {
		return basic.TypeUnknown, basic.InvalidQuery("unknown type %q", t.Name)
	}
	return dt, nil
}
