package plan

import (
	"fmt"
	"strings"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/metadata"
	"github.com/zhukovaskychina/yachtsql/sqlparser"
)

// SchemaResolver 目录侧名称解析接口，由引擎目录实现
type SchemaResolver interface {
	// ResolveTable 返回表/快照的模式；不存在返回TableNotFound
	ResolveTable(name string) (*metadata.Schema, error)
	// ResolveView 返回视图文本与列别名
	ResolveView(name string) (queryText string, aliases []string, ok bool)
	// HasUserFunction 用户函数是否存在
	HasUserFunction(name string) bool
}

// Builder AST→逻辑计划
type Builder struct {
	Resolver SchemaResolver
	// Variables 已声明变量判定（脚本/会话），裸名解析回退用
	Variables func(name string) bool
	// HasFunction 用户函数判定
	HasFunction func(name string) bool

	// cte 可见CTE栈
	cte []map[string]*metadata.Schema
	// outer 关联子查询外层模式栈
	outer []*metadata.Schema
	// correlated 子查询构建期间命中外层列
	correlated bool
	// viewDepth 视图展开深度限制
	viewDepth int
}

// NewBuilder 创建计划构建器
func NewBuilder(resolver SchemaResolver) *Builder {
	b := &Builder{Resolver: resolver}
	if resolver != nil {
		b.HasFunction = resolver.HasUserFunction
	}
	return b
}

// BuildScalarExpr 在给定模式域内构建独立表达式
// （SQL函数体、脚本变量默认值）
func (b *Builder) BuildScalarExpr(e sqlparser.Expr, schema *metadata.Schema) (Expression, error) {
	var sc *scope
	if schema != nil {
		sc = &scope{schema: schema}
	}
	return b.buildExpr(e, sc)
}

// BuildStatement 顶层语句入口
func (b *Builder) BuildStatement(stmt sqlparser.Statement) (LogicalPlan, error) {
	switch x := stmt.(type) {
	case *sqlparser.QueryStmt:
		p, _, err := b.buildQuery(x)
		return p, errors.Trace(err)
	case *sqlparser.InsertStmt:
		return b.buildInsert(x)
	case *sqlparser.UpdateStmt:
		return b.buildUpdate(x)
	case *sqlparser.DeleteStmt:
		return b.buildDelete(x)
	case *sqlparser.TruncateStmt:
		return &LogicalTruncate{Table: x.Table}, nil
	case *sqlparser.MergeStmt:
		return b.buildMerge(x)
	case *sqlparser.CreateTableStmt:
		return b.buildCreateTable(x)
	case *sqlparser.DropTableStmt:
		return &LogicalDropTable{Table: x.Name, IfExists: x.IfExists}, nil
	case *sqlparser.CreateViewStmt:
		q, _, err := b.buildQuery(x.Query)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return &LogicalCreateView{Name: x.Name, Aliases: x.Aliases, QueryText: x.QueryText, Query: q, OrReplace: x.OrReplace}, nil
	case *sqlparser.DropViewStmt:
		return &LogicalDropView{Name: x.Name, IfExists: x.IfExists}, nil
	case *sqlparser.CreateFunctionStmt:
		return b.buildCreateFunction(x)
	case *sqlparser.DropFunctionStmt:
		return &LogicalDropFunction{Name: x.Name, IfExists: x.IfExists}, nil
	case *sqlparser.CreateProcedureStmt:
		return &LogicalCreateProcedure{Name: x.Name, Params: x.Params, Body: x.Body, OrReplace: x.OrReplace}, nil
	case *sqlparser.DropProcedureStmt:
		return &LogicalDropProcedure{Name: x.Name, IfExists: x.IfExists}, nil
	case *sqlparser.CreateSchemaStmt:
		return &LogicalCreateSchema{Name: x.Name, IfNotExists: x.IfNotExists}, nil
	case *sqlparser.DropSchemaStmt:
		return &LogicalDropSchema{Name: x.Name, IfExists: x.IfExists}, nil
	case *sqlparser.CreateSnapshotStmt:
		return &LogicalCreateSnapshot{Name: x.Name, Source: x.Source}, nil
	case *sqlparser.DropSnapshotStmt:
		return &LogicalDropSnapshot{Name: x.Name, IfExists: x.IfExists}, nil
	case *sqlparser.ExplainStmt:
		inner, err := b.BuildStatement(x.Inner)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return &LogicalExplain{Inner: inner}, nil
	case *sqlparser.BlockStmt, *sqlparser.IfStmt, *sqlparser.WhileStmt, *sqlparser.LoopStmt,
		*sqlparser.RepeatStmt, *sqlparser.ForStmt, *sqlparser.DeclareStmt, *sqlparser.SetStmt,
		*sqlparser.ReturnStmt, *sqlparser.RaiseStmt, *sqlparser.CallStmt, *sqlparser.BreakStmt,
		*sqlparser.ContinueStmt, *sqlparser.AssertStmt, *sqlparser.ExecuteImmediateStmt:
		return &LogicalScript{Stmt: stmt}, nil
	}
	return nil, basic.UnsupportedStatement("%T", stmt)
}

// buildQuery 查询表达式：WITH + body + ORDER BY + LIMIT
func (b *Builder) buildQuery(q *sqlparser.QueryStmt) (LogicalPlan, *scope, error) {
	var ctes []CteDef
	if q.With != nil {
		frame := map[string]*metadata.Schema{}
		b.cte = append(b.cte, frame)
		defer func() { b.cte = b.cte[:len(b.cte)-1] }()
		for _, cte := range q.With.CTEs {
			def, err := b.buildCteDef(cte, q.With.Recursive, frame)
			if err != nil {
				return nil, nil, err
			}
			ctes = append(ctes, def)
			frame[strings.ToUpper(cte.Name)] = def.Plan.Schema().WithQualifier(cte.Name)
		}
	}

	p, sc, err := b.buildQueryBody(q.Body, q.OrderBy)
	if err != nil {
		return nil, nil, err
	}

	// SelectCore在体内处理ORDER BY（支持隐藏排序列）；
	// 集合运算体在输出模式上解析
	if _, isCore := q.Body.(*sqlparser.SelectCore); len(q.OrderBy) > 0 && !isCore {
		keys, err := b.orderKeysOnOutput(q.OrderBy, p.Schema())
		if err != nil {
			return nil, nil, err
		}
		p = &LogicalSort{Input: p, Keys: keys}
	}

	if q.Limit != nil || q.Offset != nil {
		limit, offset, err := b.limitValues(q.Limit, q.Offset)
		if err != nil {
			return nil, nil, err
		}
		p = &LogicalLimit{Input: p, Limit: limit, Offset: offset}
	}

	if len(ctes) > 0 {
		p = &LogicalWithCte{CTEs: ctes, Body: p}
	}
	return p, sc, nil
}

func (b *Builder) buildCteDef(cte sqlparser.CTE, recursiveClause bool, frame map[string]*metadata.Schema) (CteDef, error) {
	name := strings.ToUpper(cte.Name)
	// 递归判定：体为UNION且递归项引用自身名
	if setop, ok := cte.Query.Body.(*sqlparser.SetOpBody); ok && setop.Op == "UNION" &&
		(recursiveClause || queryBodyReferences(setop.Right, name)) && queryBodyReferences(setop.Right, name) {
		anchorPlan, _, err := b.buildQueryBody(setop.Left, nil)
		if err != nil {
			return CteDef{}, err
		}
		frame[name] = anchorPlan.Schema().WithQualifier(cte.Name)
		recPlan, _, err := b.buildQueryBody(setop.Right, nil)
		if err != nil {
			return CteDef{}, err
		}
		union := &LogicalSetOp{Op: SetUnion, All: setop.All, Left: anchorPlan, Right: recPlan}
		return CteDef{
			Name: cte.Name, Plan: union, Recursive: true,
			Anchor: anchorPlan, RecursiveTerm: recPlan, UnionAll: setop.All,
		}, nil
	}
	p, _, err := b.buildQuery(cte.Query)
	if err != nil {
		return CteDef{}, err
	}
	return CteDef{Name: cte.Name, Plan: p}, nil
}

// queryBodyReferences body中是否引用了表名name
func queryBodyReferences(body sqlparser.QueryBody, name string) bool {
	found := false
	var walkRef func(ref sqlparser.TableRef)
	var walkBody func(qb sqlparser.QueryBody)
	walkRef = func(ref sqlparser.TableRef) {
		switch r := ref.(type) {
		case *sqlparser.TableName:
			if strings.EqualFold(r.Name, name) {
				found = true
			}
		case *sqlparser.JoinRef:
			walkRef(r.Left)
			walkRef(r.Right)
		case *sqlparser.SubqueryRef:
			walkBody(r.Query.Body)
		}
	}
	walkBody = func(qb sqlparser.QueryBody) {
		switch x := qb.(type) {
		case *sqlparser.SelectCore:
			if x.From != nil {
				walkRef(x.From)
			}
		case *sqlparser.SetOpBody:
			walkBody(x.Left)
			walkBody(x.Right)
		case *sqlparser.SubqueryBody:
			walkBody(x.Query.Body)
		}
	}
	walkBody(body)
	return found
}

func (b *Builder) buildQueryBody(body sqlparser.QueryBody, orderBy []sqlparser.OrderItem) (LogicalPlan, *scope, error) {
	switch x := body.(type) {
	case *sqlparser.SelectCore:
		return b.buildSelectCore(x, orderBy)
	case *sqlparser.SetOpBody:
		left, _, err := b.buildQueryBody(x.Left, nil)
		if err != nil {
			return nil, nil, err
		}
		right, _, err := b.buildQueryBody(x.Right, nil)
		if err != nil {
			return nil, nil, err
		}
		if left.Schema().Len() != right.Schema().Len() {
			return nil, nil, basic.SchemaMismatch("set operation inputs have %d vs %d columns",
				left.Schema().Len(), right.Schema().Len())
		}
		var op SetOpType
		switch x.Op {
		case "UNION":
			op = SetUnion
		case "INTERSECT":
			op = SetIntersect
		default:
			op = SetExcept
		}
		return &LogicalSetOp{Op: op, All: x.All, Left: left, Right: right}, nil, nil
	case *sqlparser.SubqueryBody:
		p, sc, err := b.buildQuery(x.Query)
		return p, sc, err
	}
	return nil, nil, basic.UnsupportedStatement("query body %T", body)
}

// limitValues LIMIT/OFFSET须为非负整数字面量
func (b *Builder) limitValues(limitE, offsetE sqlparser.Expr) (int64, int64, error) {
	limit := int64(-1)
	offset := int64(0)
	if limitE != nil {
		e, err := b.buildExpr(limitE, nil)
		if err != nil {
			return 0, 0, err
		}
		lit, ok := e.(*Literal)
		if !ok {
			return 0, 0, basic.InvalidQuery("LIMIT must be a literal")
		}
		n, ok := lit.Value.AsInt64()
		if !ok || n < 0 {
			return 0, 0, basic.InvalidQuery("LIMIT must be a non-negative INT64")
		}
		limit = n
	}
	if offsetE != nil {
		e, err := b.buildExpr(offsetE, nil)
		if err != nil {
			return 0, 0, err
		}
		lit, ok := e.(*Literal)
		if !ok {
			return 0, 0, basic.InvalidQuery("OFFSET must be a literal")
		}
		n, ok := lit.Value.AsInt64()
		if !ok || n < 0 {
			return 0, 0, basic.InvalidQuery("OFFSET must be a non-negative INT64")
		}
		offset = n
	}
	return limit, offset, nil
}

func (b *Builder) orderKeysOnOutput(items []sqlparser.OrderItem, schema *metadata.Schema) ([]OrderKey, error) {
	sc := &scope{schema: schema}
	var keys []OrderKey
	for _, item := range items {
		// 序数引用
		if lit, ok := item.Expr.(*sqlparser.Literal); ok && lit.Kind == "INT" {
			v, err := literalValue(lit)
			if err != nil {
				return nil, err
			}
			n, _ := v.AsInt64()
			if n < 1 || n > int64(schema.Len()) {
				return nil, basic.InvalidQuery("ORDER BY position %d is out of range", n)
			}
			f := schema.Fields[n-1]
			keys = append(keys, OrderKey{
				Expr: &ColumnRef{Name: f.Name, Qualifier: f.Qualifier, Index: int(n - 1), Type: f.Type},
				Desc: item.Desc, NullsFirst: defaultNullsFirst(item),
			})
			continue
		}
		e, err := b.buildExpr(item.Expr, sc)
		if err != nil {
			return nil, err
		}
		keys = append(keys, OrderKey{Expr: e, Desc: item.Desc, NullsFirst: defaultNullsFirst(item)})
	}
	return keys, nil
}

// ---- FROM ----

// buildTableRef 返回计划与域模式
func (b *Builder) buildTableRef(ref sqlparser.TableRef) (LogicalPlan, *metadata.Schema, error) {
	switch x := ref.(type) {
	case *sqlparser.TableName:
		return b.buildTableName(x)
	case *sqlparser.SubqueryRef:
		p, _, err := b.buildQuery(x.Query)
		if err != nil {
			return nil, nil, err
		}
		schema := p.Schema()
		if x.Alias != "" {
			schema = schema.WithQualifier(x.Alias)
		}
		return p, schema, nil
	case *sqlparser.JoinRef:
		return b.buildJoin(x)
	case *sqlparser.UnnestRef:
		return b.buildUnnest(x, nil, nil)
	}
	return nil, nil, basic.UnsupportedStatement("table reference %T", ref)
}

func (b *Builder) buildTableName(x *sqlparser.TableName) (LogicalPlan, *metadata.Schema, error) {
	qualifier := x.Alias
	if qualifier == "" {
		qualifier = x.Name
	}
	upper := strings.ToUpper(x.Name)

	// CTE名遮蔽同名表
	for i := len(b.cte) - 1; i >= 0; i-- {
		if schema, ok := b.cte[i][upper]; ok {
			out := schema.WithQualifier(qualifier)
			return &LogicalCteRef{Name: x.Name, OutputSchema: out}, out, nil
		}
	}

	// 视图展开
	if b.Resolver != nil {
		if text, aliases, ok := b.Resolver.ResolveView(x.Name); ok {
			if b.viewDepth > 16 {
				return nil, nil, basic.InvalidQuery("view expansion too deep at %q", x.Name)
			}
			stmt, err := sqlparser.ParseOne(text)
			if err != nil {
				return nil, nil, errors.Trace(err)
			}
			q, ok := stmt.(*sqlparser.QueryStmt)
			if !ok {
				return nil, nil, basic.InvalidQuery("view %q body is not a query", x.Name)
			}
			b.viewDepth++
			p, _, err := b.buildQuery(q)
			b.viewDepth--
			if err != nil {
				return nil, nil, errors.Trace(err)
			}
			schema := p.Schema().WithQualifier(qualifier)
			if len(aliases) > 0 {
				if len(aliases) != schema.Len() {
					return nil, nil, basic.SchemaMismatch("view %q has %d aliases for %d columns",
						x.Name, len(aliases), schema.Len())
				}
				for i := range schema.Fields {
					schema.Fields[i].Name = aliases[i]
				}
			}
			return p, schema, nil
		}
	}

	var tableSchema *metadata.Schema
	if b.Resolver != nil {
		s, err := b.Resolver.ResolveTable(x.Name)
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		tableSchema = s
	} else {
		return nil, nil, basic.TableNotFound(x.Name)
	}

	var p LogicalPlan = &LogicalScan{Table: x.Name, TableSchema: tableSchema.WithQualifier(qualifier)}
	if x.Sample != nil {
		sp, err := b.buildSample(x.Sample, p)
		if err != nil {
			return nil, nil, err
		}
		p = sp
	}
	return p, p.Schema(), nil
}

func (b *Builder) buildSample(sc *sqlparser.SampleClause, input LogicalPlan) (LogicalPlan, error) {
	argE, err := b.buildExpr(sc.Arg, nil)
	if err != nil {
		return nil, err
	}
	lit, ok := argE.(*Literal)
	if !ok {
		return nil, basic.InvalidQuery("TABLESAMPLE argument must be a literal")
	}
	arg, ok := lit.Value.ToNumber()
	if !ok {
		return nil, basic.InvalidQuery("TABLESAMPLE argument must be numeric")
	}
	var method SampleMethod
	switch sc.Method {
	case "BERNOULLI":
		method = SampleBernoulli
	case "SYSTEM":
		method = SampleSystem
	case "RESERVOIR":
		method = SampleReservoir
	default:
		return nil, basic.UnsupportedFeature("TABLESAMPLE method %q", sc.Method)
	}
	if method == SampleReservoir && !sc.IsRows {
		return nil, basic.InvalidQuery("RESERVOIR sampling requires ROWS")
	}
	return &LogicalSample{Input: input, Method: method, Arg: arg}, nil
}

func (b *Builder) buildJoin(x *sqlparser.JoinRef) (LogicalPlan, *metadata.Schema, error) {
	left, leftSchema, err := b.buildTableRef(x.Left)
	if err != nil {
		return nil, nil, err
	}

	// 横向UNNEST：右侧引用左侧列
	if un, ok := x.Right.(*sqlparser.UnnestRef); ok {
		p, schema, err := b.buildUnnest(un, left, leftSchema)
		if err != nil {
			return nil, nil, err
		}
		return p, schema, nil
	}

	right, rightSchema, err := b.buildTableRef(x.Right)
	if err != nil {
		return nil, nil, err
	}

	var jt JoinType
	switch x.Type {
	case "INNER":
		jt = JoinInner
	case "LEFT":
		jt = JoinLeft
	case "RIGHT":
		jt = JoinRight
	case "FULL":
		jt = JoinFull
	case "CROSS":
		jt = JoinCross
	default:
		return nil, nil, basic.UnsupportedFeature("join type %q", x.Type)
	}

	combined := leftSchema.Merge(rightSchema)
	join := &LogicalJoin{Type: jt, Left: left, Right: right}
	if x.On != nil {
		cond, err := b.buildExpr(x.On, &scope{schema: combined})
		if err != nil {
			return nil, nil, err
		}
		join.Condition = cond
	} else if len(x.Using) > 0 {
		var cond Expression
		for _, col := range x.Using {
			li, err := leftSchema.IndexOf("", col)
			if err != nil {
				return nil, nil, err
			}
			ri, err := rightSchema.IndexOf("", col)
			if err != nil {
				return nil, nil, err
			}
			lf := leftSchema.Fields[li]
			rf := rightSchema.Fields[ri]
			eq := &BinaryOp{Op: "=",
				Left:  &ColumnRef{Name: lf.Name, Qualifier: lf.Qualifier, Index: li, Type: lf.Type},
				Right: &ColumnRef{Name: rf.Name, Qualifier: rf.Qualifier, Index: leftSchema.Len() + ri, Type: rf.Type},
			}
			if cond == nil {
				cond = eq
			} else {
				cond = &BinaryOp{Op: "AND", Left: cond, Right: eq}
			}
		}
		join.Condition = cond
	}
	// 连接输出域按连接类型给可空性
	return join, join.Schema(), nil
}

func (b *Builder) buildUnnest(x *sqlparser.UnnestRef, input LogicalPlan, inputSchema *metadata.Schema) (LogicalPlan, *metadata.Schema, error) {
	var sc *scope
	if inputSchema != nil {
		sc = &scope{schema: inputSchema}
	}
	expr, err := b.buildExpr(x.Expr, sc)
	if err != nil {
		return nil, nil, err
	}
	alias := x.Alias
	if alias == "" {
		alias = "f0_"
	}
	elemType := basic.TypeUnknown
	if ae, ok := expr.(*ArrayExpr); ok {
		if ae.Elem != basic.TypeUnknown {
			elemType = ae.Elem
		} else if len(ae.Items) > 0 {
			elemType = InferType(ae.Items[0])
		}
	}
	fields := []metadata.Field{}
	if inputSchema != nil {
		fields = append(fields, inputSchema.Fields...)
	}
	fields = append(fields, metadata.Field{Name: alias, Type: elemType, Nullable: true, Qualifier: ""})
	if x.WithOffset {
		offAlias := x.OffsetAlias
		if offAlias == "" {
			offAlias = "offset"
		}
		fields = append(fields, metadata.Field{Name: offAlias, Type: basic.TypeInt64})
	}
	out := &LogicalUnnest{
		Input: input, Expr: expr, Alias: alias,
		WithOffset: x.WithOffset, OffsetAlias: x.OffsetAlias,
		OutputSchema: metadata.NewSchema(fields...),
	}
	return out, out.OutputSchema, nil
}

// ---- SELECT core ----

// buildSelectCore SELECT块。orderBy传入以支持隐藏排序列
func (b *Builder) buildSelectCore(core *sqlparser.SelectCore, orderBy []sqlparser.OrderItem) (LogicalPlan, *scope, error) {
	var p LogicalPlan
	var inputSchema *metadata.Schema

	if core.From != nil {
		var err error
		p, inputSchema, err = b.buildTableRef(core.From)
		if err != nil {
			return nil, nil, err
		}
	} else {
		p = &LogicalEmpty{OneRow: true, OutputSchema: metadata.NewSchema()}
		inputSchema = p.Schema()
	}

	sc := &scope{schema: inputSchema, windows: map[string]*sqlparser.WindowSpec{}}
	for _, w := range core.Windows {
		sc.windows[strings.ToUpper(w.Name)] = w.Spec
	}

	if core.Where != nil {
		pred, err := b.buildExpr(core.Where, sc)
		if err != nil {
			return nil, nil, err
		}
		if ContainsAggregate(pred) {
			return nil, nil, basic.InvalidQuery("aggregate functions are not allowed in WHERE")
		}
		p = &LogicalFilter{Input: p, Predicate: pred}
	}

	// 展开select项
	items, err := b.expandSelectItems(core.Items, sc)
	if err != nil {
		return nil, nil, err
	}

	// HAVING先构建（与select共享聚合提升）
	var having Expression
	if core.Having != nil {
		having, err = b.buildExpr(core.Having, sc)
		if err != nil {
			return nil, nil, err
		}
	}

	// ORDER BY表达式在FROM域内构建（支持别名与序数在下方回填）
	type orderEntry struct {
		expr      Expression
		desc      bool
		nullsF    bool
		byAlias   int // >=0 表示第n个select项
	}
	var orderEntries []orderEntry
	for _, item := range orderBy {
		oe := orderEntry{desc: item.Desc, nullsF: defaultNullsFirst(item), byAlias: -1}
		if lit, ok := item.Expr.(*sqlparser.Literal); ok && lit.Kind == "INT" {
			v, _ := literalValue(lit)
			n, _ := v.AsInt64()
			if n < 1 || n > int64(len(items)) {
				return nil, nil, basic.InvalidQuery("ORDER BY position %d is out of range", n)
			}
			oe.byAlias = int(n - 1)
		} else if id, ok := item.Expr.(*sqlparser.Ident); ok && len(id.Parts) == 1 {
			for i, it := range items {
				if strings.EqualFold(it.name, id.Parts[0]) {
					oe.byAlias = i
					break
				}
			}
		}
		if oe.byAlias < 0 {
			e, err := b.buildExpr(item.Expr, sc)
			if err != nil {
				return nil, nil, err
			}
			oe.expr = e
		}
		orderEntries = append(orderEntries, oe)
	}

	// 聚合检测与提升
	groupByPresent := core.GroupBy != nil
	aggPresent := having != nil && ContainsAggregate(having)
	for _, it := range items {
		if ContainsAggregate(it.expr) {
			aggPresent = true
		}
	}
	for _, oe := range orderEntries {
		if oe.expr != nil && ContainsAggregate(oe.expr) {
			aggPresent = true
		}
	}

	if groupByPresent || aggPresent {
		p, items, having, err = b.buildAggregate(p, core.GroupBy, items, having, sc)
		if err != nil {
			return nil, nil, err
		}
		// 聚合后域替换为聚合输出
		sc = &scope{schema: p.Schema(), windows: sc.windows}
		// order表达式重写到聚合输出（byAlias项不受影响）
		for i := range orderEntries {
			if orderEntries[i].expr != nil {
				orderEntries[i].expr = rewriteToSchema(orderEntries[i].expr, p.Schema())
			}
		}
	}

	if having != nil {
		p = &LogicalFilter{Input: p, Predicate: having}
	}

	// 窗口提升：select项中的窗口表达式
	var windowItems []WindowItem
	windowKeyToIndex := map[string]int{}
	collectWindows := func(e Expression) Expression {
		return TransformExpr(e, func(x Expression) Expression {
			if w, ok := x.(*WindowExpr); ok {
				key := w.String()
				idx, seen := windowKeyToIndex[key]
				if !seen {
					idx = len(windowItems)
					windowKeyToIndex[key] = idx
					windowItems = append(windowItems, WindowItem{Expr: w, Alias: fmt.Sprintf("w%d_", idx)})
				}
				return &winPlaceholder{slot: idx}
			}
			return x
		})
	}
	for i := range items {
		if ContainsWindow(items[i].expr) {
			items[i].expr = collectWindows(items[i].expr)
		}
	}
	for i := range orderEntries {
		if orderEntries[i].expr != nil && ContainsWindow(orderEntries[i].expr) {
			orderEntries[i].expr = collectWindows(orderEntries[i].expr)
		}
	}

	if len(windowItems) > 0 {
		base := p.Schema()
		fields := append([]metadata.Field{}, base.Fields...)
		for _, wi := range windowItems {
			fields = append(fields, metadata.Field{
				Name: wi.Alias, Type: InferType(wi.Expr), Nullable: true,
			})
		}
		p = &LogicalWindow{Input: p, Windows: windowItems, OutputSchema: metadata.NewSchema(fields...)}
		// 占位符替换为窗口输出列引用
		resolvePlaceholders := func(e Expression) Expression {
			return TransformExpr(e, func(x Expression) Expression {
				if ph, ok := x.(*winPlaceholder); ok {
					idx := base.Len() + ph.slot
					f := p.Schema().Fields[idx]
					return &ColumnRef{Name: f.Name, Index: idx, Type: f.Type}
				}
				return x
			})
		}
		for i := range items {
			items[i].expr = resolvePlaceholders(items[i].expr)
		}
		for i := range orderEntries {
			if orderEntries[i].expr != nil {
				orderEntries[i].expr = resolvePlaceholders(orderEntries[i].expr)
			}
		}
		sc = &scope{schema: p.Schema(), windows: sc.windows}
	}

	// QUALIFY：窗口表达式留在谓词内，执行器按结构键缓存
	if core.Qualify != nil {
		pred, err := b.buildExpr(core.Qualify, sc)
		if err != nil {
			return nil, nil, err
		}
		p = &LogicalQualify{Input: p, Predicate: pred}
	}

	// 投影（含隐藏排序列）
	hidden := 0
	projExprs := make([]Expression, 0, len(items))
	fields := make([]metadata.Field, 0, len(items))
	for _, it := range items {
		projExprs = append(projExprs, it.expr)
		fields = append(fields, metadata.Field{
			Name: it.name, Type: InferType(it.expr), Nullable: true, Qualifier: it.qualifier,
		})
	}
	for i := range orderEntries {
		if orderEntries[i].expr == nil {
			continue
		}
		// 与某个输出列结构相同则直接复用
		reused := false
		for j, pe := range projExprs[:len(items)] {
			if pe.String() == orderEntries[i].expr.String() {
				orderEntries[i].byAlias = j
				reused = true
				break
			}
		}
		if reused {
			orderEntries[i].expr = nil
			continue
		}
		projExprs = append(projExprs, orderEntries[i].expr)
		fields = append(fields, metadata.Field{
			Name: fmt.Sprintf("_ord%d", hidden), Type: InferType(orderEntries[i].expr), Nullable: true,
		})
		orderEntries[i].byAlias = len(projExprs) - 1
		orderEntries[i].expr = nil
		hidden++
	}

	outSchema := metadata.NewSchema(fields...)
	p = &LogicalProject{Input: p, Exprs: projExprs, OutputSchema: outSchema}

	if core.Distinct {
		if hidden > 0 {
			return nil, nil, basic.InvalidQuery("ORDER BY expression must appear in SELECT DISTINCT list")
		}
		p = &LogicalDistinct{Input: p}
	}

	if len(orderEntries) > 0 {
		keys := make([]OrderKey, len(orderEntries))
		for i, oe := range orderEntries {
			f := outSchema.Fields[oe.byAlias]
			keys[i] = OrderKey{
				Expr:       &ColumnRef{Name: f.Name, Index: oe.byAlias, Type: f.Type},
				Desc:       oe.desc,
				NullsFirst: oe.nullsF,
			}
		}
		p = &LogicalSort{Input: p, Keys: keys}
		if hidden > 0 {
			// 隐藏列裁剪
			indices := make([]int, len(items))
			exprs := make([]Expression, len(items))
			for i := range items {
				indices[i] = i
				f := outSchema.Fields[i]
				exprs[i] = &ColumnRef{Name: f.Name, Index: i, Type: f.Type, Qualifier: f.Qualifier}
			}
			p = &LogicalProject{Input: p, Exprs: exprs, OutputSchema: outSchema.Project(indices)}
		}
	}

	return p, &scope{schema: p.Schema()}, nil
}

// winPlaceholder 窗口提升期间的内部占位符
type winPlaceholder struct {
	slot int
}

func (e *winPlaceholder) String() string          { return fmt.Sprintf("$win%d", e.slot) }
func (e *winPlaceholder) Children() []Expression  { return nil }

// selectItem 展开后的单个投影项
type selectItem struct {
	expr      Expression
	name      string
	qualifier string
}

func (b *Builder) expandSelectItems(items []sqlparser.SelectItem, sc *scope) ([]selectItem, error) {
	var out []selectItem
	anon := 0
	for _, item := range items {
		if item.Star {
			except := map[string]bool{}
			for _, c := range item.ExceptCol {
				except[strings.ToUpper(c)] = true
			}
			for idx, f := range sc.schema.Fields {
				if except[strings.ToUpper(f.Name)] {
					continue
				}
				if item.StarFrom != "" && !strings.EqualFold(f.Qualifier, item.StarFrom) {
					continue
				}
				if strings.HasPrefix(f.Name, "_ord") {
					continue
				}
				out = append(out, selectItem{
					expr:      &ColumnRef{Name: f.Name, Qualifier: f.Qualifier, Index: idx, Type: f.Type},
					name:      f.Name,
					qualifier: f.Qualifier,
				})
			}
			continue
		}
		e, err := b.buildExpr(item.Expr, sc)
		if err != nil {
			return nil, err
		}
		name := item.Alias
		if name == "" {
			switch x := item.Expr.(type) {
			case *sqlparser.Ident:
				name = x.Parts[len(x.Parts)-1]
			default:
				name = fmt.Sprintf("f%d_", anon)
				anon++
			}
		}
		out = append(out, selectItem{expr: e, name: name})
	}
	if len(out) == 0 {
		return nil, basic.InvalidQuery("SELECT list cannot be empty")
	}
	return out, nil
}

// buildAggregate 聚合提升：group-by键解析 + 聚合收集 + 引用重写
func (b *Builder) buildAggregate(input LogicalPlan, gb *sqlparser.GroupByClause,
	items []selectItem, having Expression, sc *scope) (LogicalPlan, []selectItem, Expression, error) {

	var groupExprs []Expression
	if gb != nil {
		src := gb.Exprs
		if len(gb.GroupingSets) > 0 {
			// grouping sets的键并集构成group-by列表
			seen := map[string]bool{}
			for _, set := range gb.GroupingSets {
				for _, e := range set {
					ge, err := b.resolveGroupExpr(e, items, sc)
					if err != nil {
						return nil, nil, nil, err
					}
					if !seen[ge.String()] {
						seen[ge.String()] = true
						groupExprs = append(groupExprs, ge)
					}
				}
			}
		}
		for _, e := range src {
			ge, err := b.resolveGroupExpr(e, items, sc)
			if err != nil {
				return nil, nil, nil, err
			}
			groupExprs = append(groupExprs, ge)
		}
	}

	// 收集聚合项（去重按结构键）
	var aggItems []AggregateItem
	aggKeyToIndex := map[string]int{}
	collect := func(e Expression) Expression {
		return TransformExpr(e, func(x Expression) Expression {
			switch a := x.(type) {
			case *AggregateExpr:
				key := a.String()
				idx, ok := aggKeyToIndex[key]
				if !ok {
					idx = len(aggItems)
					aggKeyToIndex[key] = idx
					aggItems = append(aggItems, AggregateItem{Expr: a, Alias: fmt.Sprintf("f%d_", idx)})
				}
				return &aggPlaceholder{slot: idx}
			case *GroupingExpr:
				key := "GROUPING:" + a.String()
				idx, ok := aggKeyToIndex[key]
				if !ok {
					idx = len(aggItems)
					aggKeyToIndex[key] = idx
					aggItems = append(aggItems, AggregateItem{
						Expr:  &AggregateExpr{Func: "GROUPING", Args: []Expression{a.Arg}},
						Alias: fmt.Sprintf("f%d_", idx),
					})
				}
				return &aggPlaceholder{slot: idx}
			}
			return x
		})
	}
	for i := range items {
		items[i].expr = collect(items[i].expr)
	}
	if having != nil {
		having = collect(having)
	}

	// 聚合输出模式：组键列 + 聚合列
	fields := make([]metadata.Field, 0, len(groupExprs)+len(aggItems))
	for i, ge := range groupExprs {
		name := fmt.Sprintf("g%d_", i)
		qual := ""
		if ref, ok := ge.(*ColumnRef); ok {
			name = ref.Name
			qual = ref.Qualifier
		}
		fields = append(fields, metadata.Field{Name: name, Type: InferType(ge), Nullable: true, Qualifier: qual})
	}
	for _, ai := range aggItems {
		fields = append(fields, metadata.Field{Name: ai.Alias, Type: InferType(ai.Expr), Nullable: true})
	}

	agg := &LogicalAggregate{
		Input:        input,
		GroupBy:      groupExprs,
		Aggregates:   aggItems,
		OutputSchema: metadata.NewSchema(fields...),
	}

	// grouping sets下标映射
	if gb != nil && (len(gb.GroupingSets) > 0 || gb.Rollup || gb.Cube) {
		sets, err := b.groupingSetIndexes(gb, groupExprs, items, sc)
		if err != nil {
			return nil, nil, nil, err
		}
		agg.GroupingSets = sets
	}

	// select/having重写：组键表达式→键列引用，聚合占位→聚合列引用
	rewrite := func(e Expression) Expression {
		return TransformExpr(e, func(x Expression) Expression {
			if ph, ok := x.(*aggPlaceholder); ok {
				idx := len(groupExprs) + ph.slot
				f := agg.OutputSchema.Fields[idx]
				return &ColumnRef{Name: f.Name, Index: idx, Type: f.Type}
			}
			for i, ge := range groupExprs {
				if x.String() == ge.String() {
					f := agg.OutputSchema.Fields[i]
					return &ColumnRef{Name: f.Name, Qualifier: f.Qualifier, Index: i, Type: f.Type}
				}
			}
			return x
		})
	}
	for i := range items {
		items[i].expr = rewrite(items[i].expr)
		// 残留的输入列裸引用既非组键也非聚合 → 语义错误
		if err := validateAggregated(items[i].expr, agg.OutputSchema); err != nil {
			return nil, nil, nil, err
		}
	}
	if having != nil {
		having = rewrite(having)
		if err := validateAggregated(having, agg.OutputSchema); err != nil {
			return nil, nil, nil, err
		}
	}

	return agg, items, having, nil
}

// aggPlaceholder 聚合提升期间的内部占位符
type aggPlaceholder struct {
	slot int
}

func (e *aggPlaceholder) String() string          { return fmt.Sprintf("$agg%d", e.slot) }
func (e *aggPlaceholder) Children() []Expression  { return nil }

// resolveGroupExpr 组键解析：序数/别名/普通表达式
func (b *Builder) resolveGroupExpr(e sqlparser.Expr, items []selectItem, sc *scope) (Expression, error) {
	if lit, ok := e.(*sqlparser.Literal); ok && lit.Kind == "INT" {
		v, err := literalValue(lit)
		if err != nil {
			return nil, err
		}
		n, _ := v.AsInt64()
		if n < 1 || n > int64(len(items)) {
			return nil, basic.InvalidQuery("GROUP BY position %d is out of range", n)
		}
		return items[n-1].expr, nil
	}
	if id, ok := e.(*sqlparser.Ident); ok && len(id.Parts) == 1 {
		// 优先解析为输入列，失败时回退select别名
		if out, err := b.buildExpr(e, sc); err == nil {
			return out, nil
		}
		for _, it := range items {
			if strings.EqualFold(it.name, id.Parts[0]) {
				return it.expr, nil
			}
		}
	}
	return b.buildExpr(e, sc)
}

func (b *Builder) groupingSetIndexes(gb *sqlparser.GroupByClause, groupExprs []Expression,
	items []selectItem, sc *scope) ([][]int, error) {
	find := func(e sqlparser.Expr) (int, error) {
		ge, err := b.resolveGroupExpr(e, items, sc)
		if err != nil {
			return -1, err
		}
		for i, g := range groupExprs {
			if g.String() == ge.String() {
				return i, nil
			}
		}
		return -1, basic.InvalidQuery("grouping set expression not in GROUP BY list")
	}
	var sets [][]int
	switch {
	case len(gb.GroupingSets) > 0:
		for _, set := range gb.GroupingSets {
			var idxs []int
			for _, e := range set {
				i, err := find(e)
				if err != nil {
					return nil, err
				}
				idxs = append(idxs, i)
			}
			sets = append(sets, idxs)
		}
	case gb.Rollup:
		for n := len(groupExprs); n >= 0; n-- {
			idxs := make([]int, n)
			for i := 0; i < n; i++ {
				idxs[i] = i
			}
			sets = append(sets, idxs)
		}
	case gb.Cube:
		n := len(groupExprs)
		for mask := (1 << n) - 1; mask >= 0; mask-- {
			var idxs []int
			for i := 0; i < n; i++ {
				if mask&(1<<i) != 0 {
					idxs = append(idxs, i)
				}
			}
			sets = append(sets, idxs)
		}
	}
	return sets, nil
}

// validateAggregated 聚合输出表达式中不得残留对输入列的裸引用：
// 重写后的列引用必须指向聚合输出模式中的同名字段
func validateAggregated(e Expression, out *metadata.Schema) error {
	var bad *ColumnRef
	WalkExpr(e, func(x Expression) bool {
		ref, ok := x.(*ColumnRef)
		if !ok {
			return true
		}
		if ref.Index < 0 || ref.Index >= out.Len() ||
			!strings.EqualFold(out.Fields[ref.Index].Name, ref.Name) {
			bad = ref
			return false
		}
		return true
	})
	if bad != nil {
		return basic.InvalidQuery("column %q must appear in GROUP BY or inside an aggregate", bad.Name)
	}
	return nil
}

// rewriteToSchema 将表达式的列引用重绑到目标模式（按名称）
func rewriteToSchema(e Expression, schema *metadata.Schema) Expression {
	return TransformExpr(e, func(x Expression) Expression {
		if ref, ok := x.(*ColumnRef); ok {
			if idx, err := schema.IndexOf(ref.Qualifier, ref.Name); err == nil {
				f := schema.Fields[idx]
				return &ColumnRef{Name: f.Name, Qualifier: f.Qualifier, Index: idx, Type: f.Type}
			}
		}
		return x
	})
}

// buildSubquery 子查询构建，返回是否关联
func (b *Builder) buildSubquery(q *sqlparser.QueryStmt, sc *scope) (LogicalPlan, bool, error) {
	savedCorrelated := b.correlated
	b.correlated = false
	if sc != nil {
		b.outer = append(b.outer, sc.schema)
	}
	p, _, err := b.buildQuery(q)
	if sc != nil {
		b.outer = b.outer[:len(b.outer)-1]
	}
	correlated := b.correlated
	b.correlated = savedCorrelated || correlated
	if err != nil {
		return nil, false, err
	}
	return p, correlated, nil
}
