package engine

import (
	"github.com/juju/errors"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/logger"
	"github.com/zhukovaskychina/yachtsql/metadata"
	"github.com/zhukovaskychina/yachtsql/plan"
)

// execStatement DML/DDL/脚本派发
func (ex *Executor) execStatement(x *plan.PhysicalStatement) (*metadata.Table, error) {
	switch l := x.Logical.(type) {
	case *plan.LogicalInsert:
		return ex.execInsert(l, x.Sources[0])
	case *plan.LogicalUpdate:
		var from plan.PhysicalPlan
		if len(x.Sources) > 0 {
			from = x.Sources[0]
		}
		return ex.execUpdate(l, from)
	case *plan.LogicalDelete:
		return ex.execDelete(l)
	case *plan.LogicalTruncate:
		return ex.execTruncate(l)
	case *plan.LogicalMerge:
		return ex.execMerge(l, x.Sources[0])
	case *plan.LogicalCreateTable:
		var src plan.PhysicalPlan
		if len(x.Sources) > 0 {
			src = x.Sources[0]
		}
		return ex.execCreateTable(l, src)
	case *plan.LogicalDropTable:
		return emptyResult(), ex.catalog.DropTable(l.Table, l.IfExists)
	case *plan.LogicalCreateView:
		return ex.execCreateView(l)
	case *plan.LogicalDropView:
		return emptyResult(), ex.catalog.DropView(l.Name, l.IfExists)
	case *plan.LogicalCreateFunction:
		return ex.execCreateFunction(l)
	case *plan.LogicalDropFunction:
		return emptyResult(), ex.catalog.DropFunction(l.Name, l.IfExists)
	case *plan.LogicalCreateProcedure:
		return emptyResult(), ex.catalog.CreateProcedure(&ProcedureDefinition{
			Name: l.Name, Params: l.Params, Body: l.Body,
		}, l.OrReplace)
	case *plan.LogicalDropProcedure:
		return emptyResult(), ex.catalog.DropProcedure(l.Name, l.IfExists)
	case *plan.LogicalCreateSchema:
		return emptyResult(), ex.catalog.CreateSchema(l.Name, l.IfNotExists)
	case *plan.LogicalDropSchema:
		return emptyResult(), ex.catalog.DropSchema(l.Name, l.IfExists)
	case *plan.LogicalCreateSnapshot:
		src, err := ex.guard.Snapshot(l.Source)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return emptyResult(), ex.catalog.CreateSnapshotFrom(l.Name, l.Source, src)
	case *plan.LogicalDropSnapshot:
		return emptyResult(), ex.catalog.DropSnapshot(l.Name, l.IfExists)
	case *plan.LogicalScript:
		return ex.execScript(l)
	}
	return nil, basic.UnsupportedStatement("%T", x.Logical)
}

func emptyResult() *metadata.Table {
	return metadata.EmptyTable(metadata.NewSchema())
}

// execInsert 求源表→按目标模式对齐转换→经守卫暂存。
// 收窄失败为运行时错误；DEFAULT解析为列默认或NULL
func (ex *Executor) execInsert(l *plan.LogicalInsert, source plan.PhysicalPlan) (*metadata.Table, error) {
	// VALUES源自行求值，保留DEFAULT占位直到列对齐
	var src *metadata.Table
	var err error
	if pv, ok := source.(*plan.PhysicalValues); ok {
		src, err = ex.evalInsertValues(pv)
	} else {
		src, err = ex.Execute(source)
	}
	if err != nil {
		return nil, err
	}
	current, err := ex.guard.StagedOrSnapshot(l.Table)
	if err != nil {
		return nil, errors.Trace(err)
	}
	staged := current.Clone()

	// 目标列下标
	schema := staged.Schema()
	targets := make([]int, 0, schema.Len())
	if len(l.Columns) > 0 {
		for _, col := range l.Columns {
			idx, err := schema.IndexOf("", col)
			if err != nil {
				return nil, errors.Trace(err)
			}
			targets = append(targets, idx)
		}
	} else {
		for i := 0; i < schema.Len(); i++ {
			targets = append(targets, i)
		}
	}
	if src.NumColumns() != len(targets) {
		return nil, basic.SchemaMismatch("INSERT source has %d columns for %d target columns",
			src.NumColumns(), len(targets))
	}

	defaults := ex.session.tableDefaults(l.Table)
	for i := 0; i < src.RowCount(); i++ {
		row := make([]basic.Value, schema.Len())
		for c := range row {
			row[c] = basic.DefaultValue()
		}
		for c, idx := range targets {
			row[idx] = src.Column(c).GetValue(i)
		}
		resolved := make([]basic.Value, len(row))
		for c, v := range row {
			if v.IsDefault() {
				v = ex.resolveDefault(defaults, c, schema.Fields[c].Type)
			}
			cv, err := basic.Coerce(v, schema.Fields[c].Type)
			if err != nil {
				return nil, errors.Trace(err)
			}
			if cv.IsNull() && !schema.Fields[c].Nullable {
				return nil, basic.InvalidQuery("cannot insert NULL into non-nullable column %q", schema.Fields[c].Name)
			}
			resolved[c] = cv
		}
		if err := staged.AppendRow(resolved); err != nil {
			return nil, errors.Trace(err)
		}
	}
	logger.Debugf("insert %d rows into %s", src.RowCount(), l.Table)
	if err := ex.guard.Stage(l.Table, staged); err != nil {
		return nil, errors.Trace(err)
	}
	return emptyResult(), nil
}

// evalInsertValues VALUES行求值；DEFAULT占位原样保留
func (ex *Executor) evalInsertValues(pv *plan.PhysicalValues) (*metadata.Table, error) {
	ev := ex.newEvaluator()
	rows := make([][]basic.Value, 0, len(pv.Rows))
	for _, row := range pv.Rows {
		vals := make([]basic.Value, len(row))
		for i, e := range row {
			if _, ok := e.(*plan.DefaultPlaceholder); ok {
				vals[i] = basic.DefaultValue()
				continue
			}
			v, err := ev.EvalRow(e, nil, nil)
			if err != nil {
				return nil, errors.Trace(err)
			}
			vals[i] = v
		}
		rows = append(rows, vals)
	}
	return (&insertSource{schema: pv.OutputSchema, rows: rows}).table(), nil
}

// insertSource DEFAULT感知的中间行集
type insertSource struct {
	schema *metadata.Schema
	rows   [][]basic.Value
}

func (s *insertSource) table() *metadata.Table {
	// 以Value列承载，绕过列的类型对齐（DEFAULT占位不可转换）
	fields := make([]metadata.Field, s.schema.Len())
	for i, f := range s.schema.Fields {
		fields[i] = metadata.Field{Name: f.Name, Type: basic.TypeUnknown, Nullable: true, Qualifier: f.Qualifier}
	}
	t := metadata.EmptyTable(metadata.NewSchema(fields...))
	for _, row := range s.rows {
		t.AppendRow(row)
	}
	return t
}

func (ex *Executor) resolveDefault(defaults []plan.Expression, col int, typ basic.DataType) basic.Value {
	if defaults != nil && col < len(defaults) && defaults[col] != nil {
		ev := ex.newEvaluator()
		if v, err := ev.EvalRow(defaults[col], nil, nil); err == nil {
			return v
		}
	}
	return basic.TypedNull(typ)
}

// execUpdate 对(目标 [FROM 源])逐行求过滤，匹配行在组合环境中
// 求各赋值表达式，暂存替换行
func (ex *Executor) execUpdate(l *plan.LogicalUpdate, from plan.PhysicalPlan) (*metadata.Table, error) {
	current, err := ex.guard.StagedOrSnapshot(l.Table)
	if err != nil {
		return nil, errors.Trace(err)
	}

	qualifier := l.Alias
	if qualifier == "" {
		qualifier = l.Table
	}
	target := current.WithSchema(current.Schema().WithQualifier(qualifier))

	var source *metadata.Table
	if from != nil {
		source, err = ex.Execute(from)
		if err != nil {
			return nil, err
		}
	}

	staged := metadata.EmptyTable(current.Schema())
	ev := ex.newEvaluator()
	updated := 0
	for i := 0; i < target.RowCount(); i++ {
		baseRow := target.GetRow(i)
		// 组合环境：目标行×源行（源存在时取首个满足过滤的组合）
		var env []basic.Value
		var envSchema *metadata.Schema
		matched := false
		if source != nil {
			envSchema = target.Schema().Merge(source.Schema())
			for s := 0; s < source.RowCount(); s++ {
				env = append(append([]basic.Value{}, baseRow...), source.GetRow(s)...)
				ok, err := ex.rowMatches(l.Filter, env, envSchema, ev)
				if err != nil {
					return nil, err
				}
				if ok {
					matched = true
					break
				}
			}
		} else {
			env = baseRow
			envSchema = target.Schema()
			matched, err = ex.rowMatches(l.Filter, env, envSchema, ev)
			if err != nil {
				return nil, err
			}
		}
		if !matched {
			if err := staged.AppendRow(baseRow); err != nil {
				return nil, err
			}
			continue
		}
		newRow := append([]basic.Value{}, baseRow...)
		for _, a := range l.Assignments {
			v, err := ev.EvalRow(a.Value, env, envSchema)
			if err != nil {
				return nil, errors.Trace(err)
			}
			cv, err := basic.Coerce(v, current.Schema().Fields[a.ColumnIndex].Type)
			if err != nil {
				return nil, errors.Trace(err)
			}
			newRow[a.ColumnIndex] = cv
		}
		updated++
		if err := staged.AppendRow(newRow); err != nil {
			return nil, err
		}
	}
	logger.Debugf("update %d rows in %s", updated, l.Table)
	if err := ex.guard.Stage(l.Table, staged); err != nil {
		return nil, errors.Trace(err)
	}
	return emptyResult(), nil
}

func (ex *Executor) rowMatches(filter plan.Expression, row []basic.Value, schema *metadata.Schema, ev *evaluator) (bool, error) {
	if filter == nil {
		return true, nil
	}
	v, err := ev.EvalRow(filter, row, schema)
	if err != nil {
		return false, errors.Trace(err)
	}
	b, ok := v.AsBool()
	return ok && b, nil
}

// execDelete 暂存移除匹配过滤的行
func (ex *Executor) execDelete(l *plan.LogicalDelete) (*metadata.Table, error) {
	current, err := ex.guard.StagedOrSnapshot(l.Table)
	if err != nil {
		return nil, errors.Trace(err)
	}
	qualifier := l.Alias
	if qualifier == "" {
		qualifier = l.Table
	}
	qualified := current.WithSchema(current.Schema().WithQualifier(qualifier))

	ev := ex.newEvaluator()
	var keep []int
	for i := 0; i < qualified.RowCount(); i++ {
		matched, err := ex.rowMatches(l.Filter, qualified.GetRow(i), qualified.Schema(), ev)
		if err != nil {
			return nil, err
		}
		if !matched {
			keep = append(keep, i)
		}
	}
	staged := current.Gather(keep)
	logger.Debugf("delete %d rows from %s", current.RowCount()-len(keep), l.Table)
	if err := ex.guard.Stage(l.Table, staged); err != nil {
		return nil, errors.Trace(err)
	}
	return emptyResult(), nil
}

func (ex *Executor) execTruncate(l *plan.LogicalTruncate) (*metadata.Table, error) {
	current, err := ex.guard.StagedOrSnapshot(l.Table)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := ex.guard.Stage(l.Table, metadata.EmptyTable(current.Schema())); err != nil {
		return nil, errors.Trace(err)
	}
	return emptyResult(), nil
}

// execMerge 流式源行与目标按ON匹配；命中首个WHEN即应用。
// NOT MATCHED BY SOURCE子句在源消费完后应用
func (ex *Executor) execMerge(l *plan.LogicalMerge, sourcePlan plan.PhysicalPlan) (*metadata.Table, error) {
	current, err := ex.guard.StagedOrSnapshot(l.Table)
	if err != nil {
		return nil, errors.Trace(err)
	}
	source, err := ex.Execute(sourcePlan)
	if err != nil {
		return nil, err
	}

	targetQual := l.TargetAlias
	if targetQual == "" {
		targetQual = l.Table
	}
	target := current.WithSchema(current.Schema().WithQualifier(targetQual))
	combinedSchema := target.Schema().Merge(source.Schema())
	ev := ex.newEvaluator()

	type rowState struct {
		row     []basic.Value
		deleted bool
		touched bool
	}
	states := make([]*rowState, target.RowCount())
	for i := range states {
		states[i] = &rowState{row: target.GetRow(i)}
	}
	var inserted [][]basic.Value
	matchedTarget := make([]bool, target.RowCount())

	for s := 0; s < source.RowCount(); s++ {
		srcRow := source.GetRow(s)
		var matches []int
		for t := 0; t < target.RowCount(); t++ {
			if states[t].deleted {
				continue
			}
			env := append(append([]basic.Value{}, states[t].row...), srcRow...)
			ok, err := ex.rowMatches(l.On, env, combinedSchema, ev)
			if err != nil {
				return nil, err
			}
			if ok {
				matches = append(matches, t)
				matchedTarget[t] = true
			}
		}
		for _, action := range l.Actions {
			if action.BySource {
				continue
			}
			if action.Matched {
				if len(matches) == 0 {
					continue
				}
				applied := false
				for _, t := range matches {
					env := append(append([]basic.Value{}, states[t].row...), srcRow...)
					ok, err := ex.rowMatches(action.Condition, env, combinedSchema, ev)
					if err != nil {
						return nil, err
					}
					if !ok {
						continue
					}
					applied = true
					switch action.Action {
					case "DELETE":
						states[t].deleted = true
					case "UPDATE":
						for _, a := range action.Assignments {
							v, err := ev.EvalRow(a.Value, env, combinedSchema)
							if err != nil {
								return nil, errors.Trace(err)
							}
							cv, err := basic.Coerce(v, current.Schema().Fields[a.ColumnIndex].Type)
							if err != nil {
								return nil, errors.Trace(err)
							}
							states[t].row[a.ColumnIndex] = cv
						}
						states[t].touched = true
					}
				}
				if applied {
					break
				}
			} else {
				// NOT MATCHED BY TARGET
				if len(matches) > 0 {
					continue
				}
				ok, err := ex.rowMatches(action.Condition, srcRow, source.Schema(), ev)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
				if action.Action == "INSERT" {
					newRow := make([]basic.Value, current.Schema().Len())
					for c := range newRow {
						newRow[c] = basic.TypedNull(current.Schema().Fields[c].Type)
					}
					cols := action.InsertCols
					if len(cols) == 0 {
						for c := 0; c < current.Schema().Len() && c < len(action.InsertVals); c++ {
							v, err := ev.EvalRow(action.InsertVals[c], srcRow, source.Schema())
							if err != nil {
								return nil, errors.Trace(err)
							}
							cv, err := basic.Coerce(v, current.Schema().Fields[c].Type)
							if err != nil {
								return nil, errors.Trace(err)
							}
							newRow[c] = cv
						}
					} else {
						for vi, col := range cols {
							idx, err := current.Schema().IndexOf("", col)
							if err != nil {
								return nil, errors.Trace(err)
							}
							v, err := ev.EvalRow(action.InsertVals[vi], srcRow, source.Schema())
							if err != nil {
								return nil, errors.Trace(err)
							}
							cv, err := basic.Coerce(v, current.Schema().Fields[idx].Type)
							if err != nil {
								return nil, errors.Trace(err)
							}
							newRow[idx] = cv
						}
					}
					inserted = append(inserted, newRow)
				}
				break
			}
		}
	}

	// NOT MATCHED BY SOURCE：源消费完后应用
	for _, action := range l.Actions {
		if !action.BySource {
			continue
		}
		for t := range states {
			if matchedTarget[t] || states[t].deleted {
				continue
			}
			ok, err := ex.rowMatches(action.Condition, states[t].row, target.Schema(), ev)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			switch action.Action {
			case "DELETE":
				states[t].deleted = true
			case "UPDATE":
				for _, a := range action.Assignments {
					v, err := ev.EvalRow(a.Value, states[t].row, target.Schema())
					if err != nil {
						return nil, errors.Trace(err)
					}
					states[t].row[a.ColumnIndex] = v
				}
			}
		}
	}

	staged := metadata.EmptyTable(current.Schema())
	for _, st := range states {
		if st.deleted {
			continue
		}
		if err := staged.AppendRow(st.row); err != nil {
			return nil, err
		}
	}
	for _, row := range inserted {
		if err := staged.AppendRow(row); err != nil {
			return nil, err
		}
	}
	if err := ex.guard.Stage(l.Table, staged); err != nil {
		return nil, errors.Trace(err)
	}
	return emptyResult(), nil
}

// execCreateTable CREATE TABLE / CTAS；目录注册在执行期完成，
// 表级锁不适用于尚不存在的名字
func (ex *Executor) execCreateTable(l *plan.LogicalCreateTable, src plan.PhysicalPlan) (*metadata.Table, error) {
	exists := ex.catalog.HasTable(l.Table)
	if exists && !l.OrReplace {
		if l.IfNotExists {
			return emptyResult(), nil
		}
		return nil, basic.InvalidQuery("table %q already exists", l.Table)
	}
	schema := l.TableSchema.Clone()
	for i := range schema.Fields {
		schema.Fields[i].Qualifier = ""
	}
	t := metadata.EmptyTable(schema)
	if src != nil {
		data, err := ex.Execute(src)
		if err != nil {
			return nil, err
		}
		for i := 0; i < data.RowCount(); i++ {
			if err := t.AppendRow(data.GetRow(i)); err != nil {
				return nil, errors.Trace(err)
			}
		}
	}
	ex.catalog.RegisterTable(l.Table, t)
	ex.session.setTableDefaults(l.Table, l.Defaults)
	return emptyResult(), nil
}

func (ex *Executor) execCreateView(l *plan.LogicalCreateView) (*metadata.Table, error) {
	return emptyResult(), ex.catalog.CreateView(l.Name, &ViewDefinition{
		QueryText:     l.QueryText,
		ColumnAliases: l.Aliases,
	}, l.OrReplace)
}

func (ex *Executor) execCreateFunction(l *plan.LogicalCreateFunction) (*metadata.Table, error) {
	def := &FunctionDefinition{
		Name:        l.Name,
		Parameters:  l.Params,
		ReturnType:  l.ReturnType,
		IsAggregate: l.IsAggregate,
	}
	switch {
	case l.Body.Language == "js" || l.Body.Language == "javascript":
		def.Kind = FuncJavaScript
		def.Language = l.Body.Language
		def.Code = l.Body.Code
	case l.Body.Language != "":
		def.Kind = FuncLanguage
		def.Language = l.Body.Language
		def.Code = l.Body.Code
	case l.Body.SQLQuery != nil:
		def.Kind = FuncSQLQuery
		def.SQLQuery = l.Body.SQLQuery
	default:
		def.Kind = FuncSQL
		def.SQLExpr = l.Body.SQLExpr
	}
	return emptyResult(), ex.catalog.CreateFunction(def, l.OrReplace)
}

// invokeUserFunction 用户函数调用：SQL体以参数绑定重建域求值；
// 语言体经会话注册的桥接执行
func (ex *Executor) invokeUserFunction(def *FunctionDefinition, args []basic.Value) (basic.Value, error) {
	switch def.Kind {
	case FuncSQL:
		// 参数名→值构成单行环境
		fields := make([]metadata.Field, len(def.Parameters))
		row := make([]basic.Value, len(def.Parameters))
		for i, p := range def.Parameters {
			t, _ := basic.TypeFromName(p.Type.Name)
			fields[i] = metadata.Field{Name: p.Name, Type: t, Nullable: true}
			if i < len(args) {
				row[i] = args[i]
			} else {
				row[i] = basic.NullValue()
			}
		}
		schema := metadata.NewSchema(fields...)
		builder := ex.newBuilder()
		pe, err := buildFunctionBody(builder, def, schema)
		if err != nil {
			return basic.Value{}, err
		}
		ev := ex.newEvaluator()
		v, err := ev.EvalRow(pe, row, schema)
		if err != nil {
			return basic.Value{}, errors.Trace(err)
		}
		if def.ReturnType != basic.TypeUnknown {
			return basic.Coerce(v, def.ReturnType)
		}
		return v, nil
	case FuncSQLQuery:
		builder := ex.newBuilder()
		sub, err := builder.BuildStatement(def.SQLQuery)
		if err != nil {
			return basic.Value{}, errors.Trace(err)
		}
		result, err := ex.runSubqueryPlan(sub)
		if err != nil {
			return basic.Value{}, err
		}
		return scalarFromTable(result), nil
	default:
		if ex.session.languageInvoker != nil {
			return ex.session.languageInvoker(def.Language, def.Code, args)
		}
		return basic.Value{}, basic.UnsupportedFeature("%s user-defined functions require a language bridge", def.Language)
	}
}

// buildFunctionBody 函数体表达式在参数域内重建
func buildFunctionBody(builder *plan.Builder, def *FunctionDefinition, schema *metadata.Schema) (plan.Expression, error) {
	return builder.BuildScalarExpr(def.SQLExpr, schema)
}
