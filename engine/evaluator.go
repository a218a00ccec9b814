package engine

import (
	"strings"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/expression"
	"github.com/zhukovaskychina/yachtsql/metadata"
	"github.com/zhukovaskychina/yachtsql/plan"
)

// evaluator 向量化表达式求值器。输入表达式与表，输出等长列。
// 子查询/用户函数/关联路径回退逐行求值并回调执行器
type evaluator struct {
	exec *Executor
	// outer 关联子查询替换环境：限定名→外层行值
	outer map[string]basic.Value
}

func (ex *Executor) newEvaluator() *evaluator {
	return &evaluator{exec: ex}
}

// EvalColumn 表达式→列
func (ev *evaluator) EvalColumn(e plan.Expression, t *metadata.Table) (*metadata.Column, error) {
	n := t.RowCount()
	switch x := e.(type) {
	case *plan.Literal:
		typ := x.Value.Type()
		if typ == basic.TypeNull {
			typ = basic.TypeUnknown
		}
		return metadata.Broadcast(x.Value, typ, n)

	case *plan.ColumnRef:
		if x.Index >= 0 && x.Index < t.NumColumns() {
			return t.Column(x.Index), nil
		}
		idx, err := t.Schema().IndexOf(x.Qualifier, x.Name)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return t.Column(idx), nil

	case *plan.OuterColumnRef:
		v, ok := ev.lookupOuter(x.Qualifier, x.Name)
		if !ok {
			return nil, basic.ColumnNotFound(x.Name)
		}
		return metadata.Broadcast(v, v.Type(), n)

	case *plan.VariableRef:
		v, ok := ev.exec.session.lookupVariable(x.Name)
		if !ok {
			return nil, basic.ColumnNotFound("@" + x.Name)
		}
		return metadata.Broadcast(v, v.Type(), n)

	case *plan.BinaryOp:
		return ev.evalBinary(x, t)

	case *plan.UnaryOp:
		return ev.evalUnary(x, t)

	case *plan.ScalarFunc:
		return ev.evalScalarFunc(x, t)

	case *plan.CaseExpr:
		return ev.evalCase(x, t)

	case *plan.CastExpr:
		return ev.evalCast(x, t)

	case *plan.IsNullExpr:
		in, err := ev.EvalColumn(x.Expr, t)
		if err != nil {
			return nil, err
		}
		out := metadata.NewColumn(basic.TypeBool)
		for i := 0; i < n; i++ {
			isNull := in.IsNull(i)
			if x.Not {
				isNull = !isNull
			}
			out.Append(basic.NewBool(isNull))
		}
		return out, nil

	case *plan.IsBoolExpr:
		in, err := ev.EvalColumn(x.Expr, t)
		if err != nil {
			return nil, err
		}
		out := metadata.NewColumn(basic.TypeBool)
		for i := 0; i < n; i++ {
			v := in.GetValue(i)
			b, ok := v.AsBool()
			match := ok && b == x.Want
			if x.Not {
				match = !match
			}
			out.Append(basic.NewBool(match))
		}
		return out, nil

	case *plan.IsDistinctExpr:
		l, err := ev.EvalColumn(x.Left, t)
		if err != nil {
			return nil, err
		}
		r, err := ev.EvalColumn(x.Right, t)
		if err != nil {
			return nil, err
		}
		out := metadata.NewColumn(basic.TypeBool)
		for i := 0; i < n; i++ {
			distinct := !basic.EqualsNullSafe(l.GetValue(i), r.GetValue(i))
			if x.Not {
				distinct = !distinct
			}
			out.Append(basic.NewBool(distinct))
		}
		return out, nil

	case *plan.BetweenExpr:
		return ev.evalBetween(x, t)

	case *plan.InListExpr:
		return ev.evalInList(x, t)

	case *plan.LikeExpr:
		return ev.evalLike(x, t)

	case *plan.ArrayExpr:
		return ev.evalArray(x, t)

	case *plan.StructExpr:
		return ev.evalStruct(x, t)

	case *plan.IndexExpr:
		return ev.evalIndex(x, t)

	case *plan.AccessExpr:
		return ev.evalAccess(x, t)

	case *plan.ExtractExpr:
		return ev.evalExtract(x, t)

	case *plan.SubqueryExpr:
		return ev.evalSubqueryColumn(x, t)

	case *plan.DefaultPlaceholder:
		out := metadata.NewColumn(basic.TypeUnknown)
		for i := 0; i < n; i++ {
			out.AppendNull()
		}
		return out, nil
	}
	return nil, basic.UnsupportedExpression("%T in columnar evaluator", e)
}

func (ev *evaluator) lookupOuter(qualifier, name string) (basic.Value, bool) {
	if ev.outer == nil {
		return basic.Value{}, false
	}
	if v, ok := ev.outer[strings.ToUpper(qualifier+"."+name)]; ok {
		return v, true
	}
	v, ok := ev.outer[strings.ToUpper(name)]
	return v, ok
}

// EvalRow 逐行求值（子查询/合并/更新环境）。
// 空模式时以占位列承载单行
func (ev *evaluator) EvalRow(e plan.Expression, row []basic.Value, schema *metadata.Schema) (basic.Value, error) {
	if schema == nil || schema.Len() == 0 {
		schema = metadata.NewSchema(metadata.Field{Name: "_dummy", Type: basic.TypeBool})
		row = []basic.Value{basic.NewBool(true)}
	}
	single := metadata.EmptyTable(schema)
	if err := single.AppendRow(row); err != nil {
		return basic.Value{}, err
	}
	col, err := ev.EvalColumn(e, single)
	if err != nil {
		return basic.Value{}, err
	}
	if col.Len() == 0 {
		return basic.NullValue(), nil
	}
	return col.GetValue(0), nil
}

// evalBinary 二元运算：布尔走Kleene，比较走三值，算术走检查算术
func (ev *evaluator) evalBinary(x *plan.BinaryOp, t *metadata.Table) (*metadata.Column, error) {
	// AND短路：先左后右仍可向量化（无副作用内核）
	l, err := ev.EvalColumn(x.Left, t)
	if err != nil {
		return nil, err
	}
	r, err := ev.EvalColumn(x.Right, t)
	if err != nil {
		return nil, err
	}
	n := t.RowCount()

	switch x.Op {
	case "AND", "OR":
		out := metadata.NewColumn(basic.TypeBool)
		for i := 0; i < n; i++ {
			var v basic.Value
			if x.Op == "AND" {
				v = basic.And(l.GetValue(i), r.GetValue(i))
			} else {
				v = basic.Or(l.GetValue(i), r.GetValue(i))
			}
			if err := out.Append(v); err != nil {
				return nil, err
			}
		}
		return out, nil

	case "=", "!=", "<", "<=", ">", ">=":
		out := metadata.NewColumn(basic.TypeBool)
		for i := 0; i < n; i++ {
			lv, rv := l.GetValue(i), r.GetValue(i)
			if lv.IsNull() || rv.IsNull() {
				out.AppendNull()
				continue
			}
			var b bool
			if x.Op == "=" || x.Op == "!=" {
				eq := basic.Compare(lv, rv) == 0
				b = eq == (x.Op == "=")
			} else {
				c := basic.Compare(lv, rv)
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
			}
			out.Append(basic.NewBool(b))
		}
		return out, nil

	case "+", "-", "*", "/":
		op := map[string]basic.ArithOp{"+": basic.OpAdd, "-": basic.OpSub, "*": basic.OpMul, "/": basic.OpDiv}[x.Op]
		outType := plan.InferType(x)
		out := metadata.NewColumn(outType)
		for i := 0; i < n; i++ {
			v, err := basic.Arithmetic(op, l.GetValue(i), r.GetValue(i))
			if err != nil {
				return nil, errors.Trace(err)
			}
			if err := out.Append(v); err != nil {
				return nil, err
			}
		}
		return out, nil

	case "%":
		out := metadata.NewColumn(basic.TypeInt64)
		for i := 0; i < n; i++ {
			lv, rv := l.GetValue(i), r.GetValue(i)
			if lv.IsNull() || rv.IsNull() {
				out.AppendNull()
				continue
			}
			li, lok := lv.AsInt64()
			ri, rok := rv.AsInt64()
			if !lok || !rok {
				return nil, basic.TypeMismatch("INT64", lv.Type().String())
			}
			m, err := basic.ModInt64(li, ri)
			if err != nil {
				return nil, errors.Trace(err)
			}
			out.Append(basic.NewInt64(m))
		}
		return out, nil

	case "||":
		out := metadata.NewColumn(plan.InferType(x))
		for i := 0; i < n; i++ {
			lv, rv := l.GetValue(i), r.GetValue(i)
			if lv.IsNull() || rv.IsNull() {
				out.AppendNull()
				continue
			}
			if la, ok := lv.AsArray(); ok {
				ra, ok2 := rv.AsArray()
				if !ok2 {
					return nil, basic.TypeMismatch("ARRAY", rv.Type().String())
				}
				out.Append(basic.NewArray(basic.ArrayValue{
					Elem:  la.Elem,
					Items: append(append([]basic.Value{}, la.Items...), ra.Items...),
				}))
				continue
			}
			if lb, ok := lv.AsBytes(); ok {
				rb, _ := rv.AsBytes()
				out.Append(basic.NewBytes(append(append([]byte{}, lb...), rb...)))
				continue
			}
			out.Append(basic.NewString(lv.String() + rv.String()))
		}
		return out, nil

	case "&", "|", "^", "<<", ">>":
		out := metadata.NewColumn(basic.TypeInt64)
		for i := 0; i < n; i++ {
			lv, rv := l.GetValue(i), r.GetValue(i)
			if lv.IsNull() || rv.IsNull() {
				out.AppendNull()
				continue
			}
			li, lok := lv.AsInt64()
			ri, rok := rv.AsInt64()
			if !lok || !rok {
				return nil, basic.TypeMismatch("INT64", lv.Type().String())
			}
			var v int64
			switch x.Op {
			case "&":
				v = li & ri
			case "|":
				v = li | ri
			case "^":
				v = li ^ ri
			case "<<":
				v = li << uint(ri)
			case ">>":
				v = li >> uint(ri)
			}
			out.Append(basic.NewInt64(v))
		}
		return out, nil
	}
	return nil, basic.UnsupportedExpression("binary operator %q", x.Op)
}

func (ev *evaluator) evalUnary(x *plan.UnaryOp, t *metadata.Table) (*metadata.Column, error) {
	in, err := ev.EvalColumn(x.Expr, t)
	if err != nil {
		return nil, err
	}
	n := t.RowCount()
	switch x.Op {
	case "NOT":
		out := metadata.NewColumn(basic.TypeBool)
		for i := 0; i < n; i++ {
			if err := out.Append(basic.Not(in.GetValue(i))); err != nil {
				return nil, err
			}
		}
		return out, nil
	case "-":
		out := metadata.NewColumn(in.Type())
		for i := 0; i < n; i++ {
			v, err := basic.Negate(in.GetValue(i))
			if err != nil {
				return nil, errors.Trace(err)
			}
			if err := out.Append(v); err != nil {
				return nil, err
			}
		}
		return out, nil
	case "~":
		out := metadata.NewColumn(basic.TypeInt64)
		for i := 0; i < n; i++ {
			v := in.GetValue(i)
			if v.IsNull() {
				out.AppendNull()
				continue
			}
			iv, ok := v.AsInt64()
			if !ok {
				return nil, basic.TypeMismatch("INT64", v.Type().String())
			}
			out.Append(basic.NewInt64(^iv))
		}
		return out, nil
	}
	return nil, basic.UnsupportedExpression("unary operator %q", x.Op)
}

// evalScalarFunc 内建内核派发；未注册名走用户函数逐行路径
func (ev *evaluator) evalScalarFunc(x *plan.ScalarFunc, t *metadata.Table) (*metadata.Column, error) {
	if !expression.Exists(x.Name) {
		return ev.evalUserFunction(x, t)
	}
	args := make([]*metadata.Column, len(x.Args))
	for i, a := range x.Args {
		col, err := ev.EvalColumn(a, t)
		if err != nil {
			return nil, err
		}
		args[i] = col
	}
	col, err := expression.Dispatch(x.Name, args, t.RowCount())
	if err != nil {
		return nil, errors.Trace(err)
	}
	return col, nil
}

func (ev *evaluator) evalCase(x *plan.CaseExpr, t *metadata.Table) (*metadata.Column, error) {
	n := t.RowCount()
	var operand *metadata.Column
	var err error
	if x.Operand != nil {
		operand, err = ev.EvalColumn(x.Operand, t)
		if err != nil {
			return nil, err
		}
	}
	whens := make([]*metadata.Column, len(x.Whens))
	thens := make([]*metadata.Column, len(x.Whens))
	for i, w := range x.Whens {
		whens[i], err = ev.EvalColumn(w.When, t)
		if err != nil {
			return nil, err
		}
		thens[i], err = ev.EvalColumn(w.Then, t)
		if err != nil {
			return nil, err
		}
	}
	var elseCol *metadata.Column
	if x.Else != nil {
		elseCol, err = ev.EvalColumn(x.Else, t)
		if err != nil {
			return nil, err
		}
	}
	out := metadata.NewColumn(plan.InferType(x))
	for i := 0; i < n; i++ {
		matched := false
		for w := range x.Whens {
			var hit bool
			if operand != nil {
				hit = !operand.IsNull(i) && !whens[w].IsNull(i) &&
					basic.Compare(operand.GetValue(i), whens[w].GetValue(i)) == 0
			} else {
				b, ok := whens[w].GetValue(i).AsBool()
				hit = ok && b
			}
			if hit {
				if err := out.Append(thens[w].GetValue(i)); err != nil {
					return nil, err
				}
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		if elseCol != nil {
			if err := out.Append(elseCol.GetValue(i)); err != nil {
				return nil, err
			}
		} else {
			out.AppendNull()
		}
	}
	return out, nil
}

func (ev *evaluator) evalCast(x *plan.CastExpr, t *metadata.Table) (*metadata.Column, error) {
	in, err := ev.EvalColumn(x.Expr, t)
	if err != nil {
		return nil, err
	}
	out := metadata.NewColumn(x.To)
	for i := 0; i < t.RowCount(); i++ {
		v, err := basic.Coerce(in.GetValue(i), x.To)
		if err != nil {
			if x.Safe {
				out.AppendNull()
				continue
			}
			return nil, errors.Trace(err)
		}
		if err := out.Append(v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (ev *evaluator) evalBetween(x *plan.BetweenExpr, t *metadata.Table) (*metadata.Column, error) {
	in, err := ev.EvalColumn(x.Expr, t)
	if err != nil {
		return nil, err
	}
	lo, err := ev.EvalColumn(x.Lo, t)
	if err != nil {
		return nil, err
	}
	hi, err := ev.EvalColumn(x.Hi, t)
	if err != nil {
		return nil, err
	}
	out := metadata.NewColumn(basic.TypeBool)
	for i := 0; i < t.RowCount(); i++ {
		v, lv, hv := in.GetValue(i), lo.GetValue(i), hi.GetValue(i)
		if v.IsNull() || lv.IsNull() || hv.IsNull() {
			out.AppendNull()
			continue
		}
		b := basic.Compare(v, lv) >= 0 && basic.Compare(v, hv) <= 0
		if x.Not {
			b = !b
		}
		out.Append(basic.NewBool(b))
	}
	return out, nil
}

func (ev *evaluator) evalInList(x *plan.InListExpr, t *metadata.Table) (*metadata.Column, error) {
	in, err := ev.EvalColumn(x.Expr, t)
	if err != nil {
		return nil, err
	}
	list := make([]*metadata.Column, len(x.List))
	for i, item := range x.List {
		list[i], err = ev.EvalColumn(item, t)
		if err != nil {
			return nil, err
		}
	}
	out := metadata.NewColumn(basic.TypeBool)
	for i := 0; i < t.RowCount(); i++ {
		v := in.GetValue(i)
		if v.IsNull() {
			out.AppendNull()
			continue
		}
		found := false
		sawNull := false
		for _, item := range list {
			iv := item.GetValue(i)
			if iv.IsNull() {
				sawNull = true
				continue
			}
			if basic.Compare(v, iv) == 0 {
				found = true
				break
			}
		}
		// 三值IN：未命中但存在NULL项结果为NULL
		if !found && sawNull {
			out.AppendNull()
			continue
		}
		if x.Not {
			found = !found
		}
		out.Append(basic.NewBool(found))
	}
	return out, nil
}

func (ev *evaluator) evalLike(x *plan.LikeExpr, t *metadata.Table) (*metadata.Column, error) {
	in, err := ev.EvalColumn(x.Expr, t)
	if err != nil {
		return nil, err
	}
	pat, err := ev.EvalColumn(x.Pattern, t)
	if err != nil {
		return nil, err
	}
	out := metadata.NewColumn(basic.TypeBool)
	for i := 0; i < t.RowCount(); i++ {
		v, p := in.GetValue(i), pat.GetValue(i)
		if v.IsNull() || p.IsNull() {
			out.AppendNull()
			continue
		}
		s, _ := v.AsString()
		ps, _ := p.AsString()
		b := likeMatch(s, ps)
		if x.Not {
			b = !b
		}
		out.Append(basic.NewBool(b))
	}
	return out, nil
}

// likeMatch LIKE通配：%任意串 _单字符
func likeMatch(s, pattern string) bool {
	return likeMatchRunes([]rune(s), []rune(pattern))
}

func likeMatchRunes(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '%':
		for i := 0; i <= len(s); i++ {
			if likeMatchRunes(s[i:], p[1:]) {
				return true
			}
		}
		return false
	case '_':
		return len(s) > 0 && likeMatchRunes(s[1:], p[1:])
	case '\\':
		if len(p) > 1 {
			return len(s) > 0 && s[0] == p[1] && likeMatchRunes(s[1:], p[2:])
		}
		return false
	default:
		return len(s) > 0 && s[0] == p[0] && likeMatchRunes(s[1:], p[1:])
	}
}

func (ev *evaluator) evalArray(x *plan.ArrayExpr, t *metadata.Table) (*metadata.Column, error) {
	items := make([]*metadata.Column, len(x.Items))
	var err error
	for i, item := range x.Items {
		items[i], err = ev.EvalColumn(item, t)
		if err != nil {
			return nil, err
		}
	}
	out := metadata.NewColumn(basic.TypeArray)
	for i := 0; i < t.RowCount(); i++ {
		av := basic.ArrayValue{Elem: x.Elem}
		for _, item := range items {
			v := item.GetValue(i)
			if av.Elem == basic.TypeUnknown && !v.IsNull() {
				av.Elem = v.Type()
			}
			av.Items = append(av.Items, v)
		}
		out.Append(basic.NewArray(av))
	}
	return out, nil
}

func (ev *evaluator) evalStruct(x *plan.StructExpr, t *metadata.Table) (*metadata.Column, error) {
	items := make([]*metadata.Column, len(x.Items))
	var err error
	for i, item := range x.Items {
		items[i], err = ev.EvalColumn(item, t)
		if err != nil {
			return nil, err
		}
	}
	out := metadata.NewColumn(basic.TypeStruct)
	for i := 0; i < t.RowCount(); i++ {
		sv := basic.StructValue{}
		for c, item := range items {
			name := ""
			if c < len(x.Names) {
				name = x.Names[c]
			}
			sv.Fields = append(sv.Fields, basic.StructField{Name: name, Val: item.GetValue(i)})
		}
		out.Append(basic.NewStruct(sv))
	}
	return out, nil
}

func (ev *evaluator) evalIndex(x *plan.IndexExpr, t *metadata.Table) (*metadata.Column, error) {
	arr, err := ev.EvalColumn(x.Expr, t)
	if err != nil {
		return nil, err
	}
	idx, err := ev.EvalColumn(x.Index, t)
	if err != nil {
		return nil, err
	}
	out := metadata.NewColumn(basic.TypeUnknown)
	safe := strings.HasPrefix(x.Mode, "SAFE")
	ordinal := x.Mode == "ORDINAL" || x.Mode == "SAFE_ORDINAL"
	for i := 0; i < t.RowCount(); i++ {
		av := arr.GetValue(i)
		iv := idx.GetValue(i)
		if av.IsNull() || iv.IsNull() {
			out.AppendNull()
			continue
		}
		a, ok := av.AsArray()
		if !ok {
			return nil, basic.TypeMismatch("ARRAY", av.Type().String())
		}
		n, ok := iv.AsInt64()
		if !ok {
			return nil, basic.TypeMismatch("INT64", iv.Type().String())
		}
		if ordinal {
			n--
		}
		if n < 0 || n >= int64(len(a.Items)) {
			if safe {
				out.AppendNull()
				continue
			}
			return nil, basic.InvalidQuery("array index %d out of bounds [0, %d)", n, len(a.Items))
		}
		if err := out.Append(a.Items[n]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (ev *evaluator) evalAccess(x *plan.AccessExpr, t *metadata.Table) (*metadata.Column, error) {
	in, err := ev.EvalColumn(x.Expr, t)
	if err != nil {
		return nil, err
	}
	out := metadata.NewColumn(basic.TypeUnknown)
	for i := 0; i < t.RowCount(); i++ {
		v := in.GetValue(i)
		if v.IsNull() {
			out.AppendNull()
			continue
		}
		if sv, ok := v.AsStruct(); ok {
			found := false
			for _, f := range sv.Fields {
				if strings.EqualFold(f.Name, x.Field) {
					if err := out.Append(f.Val); err != nil {
						return nil, err
					}
					found = true
					break
				}
			}
			if !found {
				return nil, basic.ColumnNotFound(x.Field)
			}
			continue
		}
		if j, ok := v.AsJson(); ok {
			if m, ok := j.(map[string]interface{}); ok {
				if member, ok := m[x.Field]; ok {
					out.Append(basic.NewJson(member))
					continue
				}
			}
			out.AppendNull()
			continue
		}
		return nil, basic.TypeMismatch("STRUCT or JSON", v.Type().String())
	}
	return out, nil
}

func (ev *evaluator) evalExtract(x *plan.ExtractExpr, t *metadata.Table) (*metadata.Column, error) {
	in, err := ev.EvalColumn(x.From, t)
	if err != nil {
		return nil, err
	}
	outType := basic.TypeInt64
	if x.Part == "DATE" {
		outType = basic.TypeDate
	}
	out := metadata.NewColumn(outType)
	for i := 0; i < t.RowCount(); i++ {
		v := in.GetValue(i)
		if v.IsNull() {
			out.AppendNull()
			continue
		}
		res, err := extractPart(x.Part, v)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if err := out.Append(res); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func extractPart(part string, v basic.Value) (basic.Value, error) {
	raw, ok := v.Raw().(int64)
	if !ok {
		return basic.Value{}, basic.TypeMismatch("temporal", v.Type().String())
	}
	var tm = basic.MicrosToTime(raw)
	if v.Type() == basic.TypeDate {
		tm = basic.DateToTime(raw)
	}
	switch part {
	case "YEAR":
		return basic.NewInt64(int64(tm.Year())), nil
	case "QUARTER":
		return basic.NewInt64(int64((int(tm.Month())-1)/3 + 1)), nil
	case "MONTH":
		return basic.NewInt64(int64(tm.Month())), nil
	case "DAY":
		return basic.NewInt64(int64(tm.Day())), nil
	case "DAYOFWEEK":
		return basic.NewInt64(int64(tm.Weekday()) + 1), nil
	case "DAYOFYEAR":
		return basic.NewInt64(int64(tm.YearDay())), nil
	case "HOUR":
		return basic.NewInt64(int64(tm.Hour())), nil
	case "MINUTE":
		return basic.NewInt64(int64(tm.Minute())), nil
	case "SECOND":
		return basic.NewInt64(int64(tm.Second())), nil
	case "MILLISECOND":
		return basic.NewInt64(int64(tm.Nanosecond() / 1e6)), nil
	case "MICROSECOND":
		return basic.NewInt64(int64(tm.Nanosecond() / 1e3)), nil
	case "WEEK":
		_, week := tm.ISOWeek()
		return basic.NewInt64(int64(week)), nil
	case "DATE":
		return basic.NewDate(tm.Unix() / 86400), nil
	}
	return basic.Value{}, basic.InvalidQuery("unsupported EXTRACT part %q", part)
}

// evalUserFunction 用户定义函数：SQL体参数替换后求值，
// 语言体经桥接调用
func (ev *evaluator) evalUserFunction(x *plan.ScalarFunc, t *metadata.Table) (*metadata.Column, error) {
	def, ok := ev.exec.catalog.Function(x.Name)
	if !ok {
		return nil, basic.FunctionNotFound(x.Name)
	}
	args := make([]*metadata.Column, len(x.Args))
	var err error
	for i, a := range x.Args {
		args[i], err = ev.EvalColumn(a, t)
		if err != nil {
			return nil, err
		}
	}
	out := metadata.NewColumn(def.ReturnType)
	row := make([]basic.Value, len(args))
	for i := 0; i < t.RowCount(); i++ {
		for c := range args {
			row[c] = args[c].GetValue(i)
		}
		v, err := ev.exec.invokeUserFunction(def, row)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if err := out.Append(v); err != nil {
			return nil, err
		}
	}
	return out, nil
}
