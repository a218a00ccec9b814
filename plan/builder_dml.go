package plan

import (
	"strings"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/metadata"
	"github.com/zhukovaskychina/yachtsql/sqlparser"
)

func (b *Builder) buildInsert(x *sqlparser.InsertStmt) (LogicalPlan, error) {
	tableSchema, err := b.Resolver.ResolveTable(x.Table)
	if err != nil {
		return nil, errors.Trace(err)
	}
	// 目标列模式：显式列表或全列
	target := tableSchema
	if len(x.Columns) > 0 {
		indices := make([]int, len(x.Columns))
		for i, col := range x.Columns {
			idx, err := tableSchema.IndexOf("", col)
			if err != nil {
				return nil, errors.Trace(err)
			}
			indices[i] = idx
		}
		target = tableSchema.Project(indices)
	}

	var source LogicalPlan
	if x.Query != nil {
		source, _, err = b.buildQuery(x.Query)
		if err != nil {
			return nil, errors.Trace(err)
		}
	} else {
		rows := make([][]Expression, len(x.Rows))
		for i, row := range x.Rows {
			if len(row) != target.Len() {
				return nil, basic.SchemaMismatch("INSERT row has %d values for %d columns", len(row), target.Len())
			}
			exprs := make([]Expression, len(row))
			for j, e := range row {
				pe, err := b.buildExpr(e, nil)
				if err != nil {
					return nil, errors.Trace(err)
				}
				exprs[j] = pe
			}
			rows[i] = exprs
		}
		source = &LogicalValues{Rows: rows, OutputSchema: target.Clone()}
	}
	if source.Schema().Len() != target.Len() {
		return nil, basic.SchemaMismatch("INSERT source has %d columns for %d target columns",
			source.Schema().Len(), target.Len())
	}
	return &LogicalInsert{Table: x.Table, Columns: x.Columns, Source: source}, nil
}

func (b *Builder) buildUpdate(x *sqlparser.UpdateStmt) (LogicalPlan, error) {
	tableSchema, err := b.Resolver.ResolveTable(x.Table)
	if err != nil {
		return nil, errors.Trace(err)
	}
	qualifier := x.Alias
	if qualifier == "" {
		qualifier = x.Table
	}
	qualified := tableSchema.WithQualifier(qualifier)

	upd := &LogicalUpdate{Table: x.Table, Alias: x.Alias, TableSchema: tableSchema}
	combined := qualified
	if x.From != nil {
		from, fromSchema, err := b.buildTableRef(x.From)
		if err != nil {
			return nil, errors.Trace(err)
		}
		upd.From = from
		combined = qualified.Merge(fromSchema)
	}
	sc := &scope{schema: combined}
	for _, a := range x.Assignments {
		idx, err := tableSchema.IndexOf("", a.Column)
		if err != nil {
			return nil, errors.Trace(err)
		}
		val, err := b.buildExpr(a.Value, sc)
		if err != nil {
			return nil, errors.Trace(err)
		}
		upd.Assignments = append(upd.Assignments, UpdateAssignment{
			ColumnIndex: idx, Column: tableSchema.Fields[idx].Name, Value: val,
		})
	}
	if x.Where != nil {
		upd.Filter, err = b.buildExpr(x.Where, sc)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}
	return upd, nil
}

func (b *Builder) buildDelete(x *sqlparser.DeleteStmt) (LogicalPlan, error) {
	tableSchema, err := b.Resolver.ResolveTable(x.Table)
	if err != nil {
		return nil, errors.Trace(err)
	}
	qualifier := x.Alias
	if qualifier == "" {
		qualifier = x.Table
	}
	del := &LogicalDelete{Table: x.Table, Alias: x.Alias, TableSchema: tableSchema}
	if x.Where != nil {
		del.Filter, err = b.buildExpr(x.Where, &scope{schema: tableSchema.WithQualifier(qualifier)})
		if err != nil {
			return nil, errors.Trace(err)
		}
	}
	return del, nil
}

func (b *Builder) buildMerge(x *sqlparser.MergeStmt) (LogicalPlan, error) {
	tableSchema, err := b.Resolver.ResolveTable(x.Target)
	if err != nil {
		return nil, errors.Trace(err)
	}
	targetQual := x.TargetAlias
	if targetQual == "" {
		targetQual = x.Target
	}
	source, sourceSchema, err := b.buildTableRef(x.Source)
	if err != nil {
		return nil, errors.Trace(err)
	}
	sourceAlias := ""
	switch s := x.Source.(type) {
	case *sqlparser.TableName:
		sourceAlias = s.Alias
		if sourceAlias == "" {
			sourceAlias = s.Name
		}
	case *sqlparser.SubqueryRef:
		sourceAlias = s.Alias
	}

	combined := tableSchema.WithQualifier(targetQual).Merge(sourceSchema)
	sc := &scope{schema: combined}

	m := &LogicalMerge{
		Table: x.Target, TargetAlias: x.TargetAlias,
		Source: source, SourceAlias: sourceAlias,
		TableSchema: tableSchema,
	}
	m.On, err = b.buildExpr(x.On, sc)
	if err != nil {
		return nil, errors.Trace(err)
	}

	sourceOnly := &scope{schema: sourceSchema}
	for _, c := range x.Clauses {
		action := MergeAction{Matched: c.Matched, BySource: c.BySource, Action: c.Action}
		// NOT MATCHED BY TARGET分支仅能看到source
		condScope := sc
		if !c.Matched && !c.BySource {
			condScope = sourceOnly
		}
		if c.Condition != nil {
			action.Condition, err = b.buildExpr(c.Condition, condScope)
			if err != nil {
				return nil, errors.Trace(err)
			}
		}
		switch c.Action {
		case "UPDATE":
			for _, a := range c.Assignments {
				idx, err := tableSchema.IndexOf("", a.Column)
				if err != nil {
					return nil, errors.Trace(err)
				}
				val, err := b.buildExpr(a.Value, sc)
				if err != nil {
					return nil, errors.Trace(err)
				}
				action.Assignments = append(action.Assignments, UpdateAssignment{
					ColumnIndex: idx, Column: tableSchema.Fields[idx].Name, Value: val,
				})
			}
		case "INSERT":
			action.InsertCols = c.InsertCols
			if len(c.InsertVals) == 0 {
				// INSERT ROW：按位置取source全行
				for i := range sourceSchema.Fields {
					f := sourceSchema.Fields[i]
					action.InsertVals = append(action.InsertVals,
						&ColumnRef{Name: f.Name, Qualifier: f.Qualifier, Index: i, Type: f.Type})
				}
			} else {
				for _, e := range c.InsertVals {
					val, err := b.buildExpr(e, sourceOnly)
					if err != nil {
						return nil, errors.Trace(err)
					}
					action.InsertVals = append(action.InsertVals, val)
				}
			}
		}
		m.Actions = append(m.Actions, action)
	}
	return m, nil
}

func (b *Builder) buildCreateTable(x *sqlparser.CreateTableStmt) (LogicalPlan, error) {
	ct := &LogicalCreateTable{
		Table: x.Name, OrReplace: x.OrReplace, IfNotExists: x.IfNotExists,
	}
	if x.AsQuery != nil {
		p, _, err := b.buildQuery(x.AsQuery)
		if err != nil {
			return nil, errors.Trace(err)
		}
		ct.AsSelect = p
		if len(x.Columns) == 0 {
			ct.TableSchema = p.Schema().WithQualifier("")
		}
	}
	if len(x.Columns) > 0 {
		fields := make([]metadata.Field, len(x.Columns))
		defaults := make([]Expression, len(x.Columns))
		for i, col := range x.Columns {
			t, err := typeFromAST(&col.Type)
			if err != nil {
				return nil, errors.Trace(err)
			}
			fields[i] = metadata.Field{Name: col.Name, Type: t, Nullable: !col.NotNull}
			if col.Default != nil {
				d, err := b.buildExpr(col.Default, nil)
				if err != nil {
					return nil, errors.Trace(err)
				}
				defaults[i] = d
			}
		}
		ct.TableSchema = metadata.NewSchema(fields...)
		ct.Defaults = defaults
	}
	if ct.TableSchema == nil {
		return nil, basic.InvalidQuery("CREATE TABLE %q requires a column list or AS SELECT", x.Name)
	}
	return ct, nil
}

func (b *Builder) buildCreateFunction(x *sqlparser.CreateFunctionStmt) (LogicalPlan, error) {
	out := &LogicalCreateFunction{
		Name: x.Name, Params: x.Params, OrReplace: x.OrReplace, IsAggregate: x.IsAggregate,
	}
	if x.Returns != nil {
		t, err := typeFromAST(x.Returns)
		if err != nil {
			return nil, errors.Trace(err)
		}
		out.ReturnType = t
	}
	body := &FuncBody{}
	switch {
	case x.Language != "":
		body.Language = strings.ToLower(x.Language)
		body.Code = x.Code
	case x.BodyQuery != nil:
		body.SQLQuery = x.BodyQuery
	default:
		body.SQLExpr = x.Body
	}
	out.Body = body
	return out, nil
}
