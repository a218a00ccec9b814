package sqlparser

import (
	"testing"
)

func mustParseOne(t *testing.T, sql string) Statement {
	t.Helper()
	stmt, err := ParseOne(sql)
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	return stmt
}

func TestParseSimpleSelect(t *testing.T) {
	stmt := mustParseOne(t, "SELECT id, name FROM users WHERE id > 10 ORDER BY id DESC LIMIT 5")
	q, ok := stmt.(*QueryStmt)
	if !ok {
		t.Fatalf("not a query: %T", stmt)
	}
	core, ok := q.Body.(*SelectCore)
	if !ok {
		t.Fatalf("body: %T", q.Body)
	}
	if len(core.Items) != 2 || core.Where == nil {
		t.Errorf("items=%d where=%v", len(core.Items), core.Where)
	}
	if len(q.OrderBy) != 1 || !q.OrderBy[0].Desc {
		t.Errorf("order by parsed wrong: %+v", q.OrderBy)
	}
	if q.Limit == nil {
		t.Errorf("limit missing")
	}
}

func TestParseJoins(t *testing.T) {
	stmt := mustParseOne(t, "SELECT * FROM t LEFT JOIN s ON t.k = s.k")
	core := stmt.(*QueryStmt).Body.(*SelectCore)
	join, ok := core.From.(*JoinRef)
	if !ok || join.Type != "LEFT" || join.On == nil {
		t.Fatalf("join: %+v", core.From)
	}
}

func TestParseRecursiveCte(t *testing.T) {
	stmt := mustParseOne(t, "WITH RECURSIVE c AS (SELECT 1 AS x UNION ALL SELECT x+1 FROM c WHERE x < 3) SELECT x FROM c")
	q := stmt.(*QueryStmt)
	if q.With == nil || !q.With.Recursive || len(q.With.CTEs) != 1 {
		t.Fatalf("with: %+v", q.With)
	}
	if _, ok := q.With.CTEs[0].Query.Body.(*SetOpBody); !ok {
		t.Errorf("cte body should be a set op")
	}
}

func TestParseUnnestWithOffset(t *testing.T) {
	stmt := mustParseOne(t, "SELECT x, o FROM UNNEST([1, 2, 3]) AS x WITH OFFSET AS o")
	core := stmt.(*QueryStmt).Body.(*SelectCore)
	un, ok := core.From.(*UnnestRef)
	if !ok || un.Alias != "x" || !un.WithOffset || un.OffsetAlias != "o" {
		t.Fatalf("unnest: %+v", core.From)
	}
	if _, ok := un.Expr.(*ArrayLit); !ok {
		t.Errorf("unnest expr: %T", un.Expr)
	}
}

func TestParseWindowFunction(t *testing.T) {
	stmt := mustParseOne(t, "SELECT x, ROW_NUMBER() OVER (PARTITION BY g ORDER BY x) FROM t")
	core := stmt.(*QueryStmt).Body.(*SelectCore)
	fc, ok := core.Items[1].Expr.(*FuncCall)
	if !ok || fc.Over == nil {
		t.Fatalf("window call: %+v", core.Items[1].Expr)
	}
	if len(fc.Over.PartitionBy) != 1 || len(fc.Over.OrderBy) != 1 {
		t.Errorf("spec: %+v", fc.Over)
	}
}

func TestParseWindowFrame(t *testing.T) {
	stmt := mustParseOne(t, "SELECT SUM(v) OVER (ORDER BY d ROWS BETWEEN 2 PRECEDING AND CURRENT ROW) FROM t")
	core := stmt.(*QueryStmt).Body.(*SelectCore)
	fc := core.Items[0].Expr.(*FuncCall)
	if fc.Over.Frame == nil || fc.Over.Frame.Unit != "ROWS" {
		t.Fatalf("frame: %+v", fc.Over.Frame)
	}
	if fc.Over.Frame.Lo.Kind != "PRECEDING" || fc.Over.Frame.Hi.Kind != "CURRENT" {
		t.Errorf("bounds: %+v", fc.Over.Frame)
	}
}

func TestParseInsertForms(t *testing.T) {
	stmt := mustParseOne(t, "INSERT INTO t (a, b) VALUES (1, 'x'), (2, DEFAULT)")
	ins := stmt.(*InsertStmt)
	if len(ins.Columns) != 2 || len(ins.Rows) != 2 {
		t.Fatalf("insert: %+v", ins)
	}
	if _, ok := ins.Rows[1][1].(*DefaultExpr); !ok {
		t.Errorf("DEFAULT placeholder: %T", ins.Rows[1][1])
	}

	stmt = mustParseOne(t, "INSERT INTO t SELECT * FROM s")
	if stmt.(*InsertStmt).Query == nil {
		t.Errorf("insert-select missing query")
	}
}

func TestParseMerge(t *testing.T) {
	stmt := mustParseOne(t, `MERGE INTO tgt USING src ON tgt.id = src.id
		WHEN MATCHED THEN UPDATE SET v = src.v
		WHEN NOT MATCHED THEN INSERT (id, v) VALUES (src.id, src.v)
		WHEN NOT MATCHED BY SOURCE THEN DELETE`)
	m := stmt.(*MergeStmt)
	if len(m.Clauses) != 3 {
		t.Fatalf("clauses: %d", len(m.Clauses))
	}
	if !m.Clauses[0].Matched || m.Clauses[0].Action != "UPDATE" {
		t.Errorf("clause0: %+v", m.Clauses[0])
	}
	if !m.Clauses[2].BySource || m.Clauses[2].Action != "DELETE" {
		t.Errorf("clause2: %+v", m.Clauses[2])
	}
}

func TestParseDDL(t *testing.T) {
	stmt := mustParseOne(t, "CREATE TABLE t (id INT64 NOT NULL, v STRING DEFAULT 'x')")
	ct := stmt.(*CreateTableStmt)
	if len(ct.Columns) != 2 || !ct.Columns[0].NotNull || ct.Columns[1].Default == nil {
		t.Fatalf("create table: %+v", ct)
	}

	stmt = mustParseOne(t, "CREATE OR REPLACE VIEW v AS SELECT a FROM t")
	cv := stmt.(*CreateViewStmt)
	if !cv.OrReplace || cv.Query == nil || cv.QueryText == "" {
		t.Errorf("create view: %+v", cv)
	}

	stmt = mustParseOne(t, "DROP TABLE IF EXISTS t")
	if !stmt.(*DropTableStmt).IfExists {
		t.Errorf("IF EXISTS lost")
	}

	stmt = mustParseOne(t, "CREATE SNAPSHOT TABLE s CLONE t")
	cs := stmt.(*CreateSnapshotStmt)
	if cs.Name != "s" || cs.Source != "t" {
		t.Errorf("snapshot: %+v", cs)
	}
}

func TestParseCreateFunction(t *testing.T) {
	stmt := mustParseOne(t, "CREATE FUNCTION f(x INT64) RETURNS INT64 AS (x * 2)")
	cf := stmt.(*CreateFunctionStmt)
	if cf.Body == nil || len(cf.Params) != 1 || cf.Returns == nil {
		t.Fatalf("create function: %+v", cf)
	}

	stmt = mustParseOne(t, "CREATE FUNCTION g(x INT64) RETURNS INT64 LANGUAGE js AS 'return x + 1'")
	cf = stmt.(*CreateFunctionStmt)
	if cf.Language != "js" || cf.Code == "" {
		t.Errorf("js function: %+v", cf)
	}
}

func TestParseScripting(t *testing.T) {
	stmt := mustParseOne(t, `BEGIN
		DECLARE x INT64 DEFAULT 0;
		WHILE x < 3 DO
			SET x = x + 1;
		END WHILE;
	EXCEPTION WHEN ERROR THEN
		SELECT 'caught';
	END`)
	block := stmt.(*BlockStmt)
	if len(block.Body) != 2 || block.Handler == nil {
		t.Fatalf("block: body=%d handler=%v", len(block.Body), block.Handler)
	}
	if _, ok := block.Body[1].(*WhileStmt); !ok {
		t.Errorf("second stmt: %T", block.Body[1])
	}
}

func TestParseGroupingSets(t *testing.T) {
	stmt := mustParseOne(t, "SELECT a, b, COUNT(*) FROM t GROUP BY GROUPING SETS ((a, b), (a), ())")
	core := stmt.(*QueryStmt).Body.(*SelectCore)
	if core.GroupBy == nil || len(core.GroupBy.GroupingSets) != 3 {
		t.Fatalf("grouping sets: %+v", core.GroupBy)
	}
	if len(core.GroupBy.GroupingSets[2]) != 0 {
		t.Errorf("empty set should be empty")
	}
}

func TestParseTypedLiterals(t *testing.T) {
	stmt := mustParseOne(t, "SELECT DATE '2024-06-01', NUMERIC '1.5', JSON '{\"a\": 1}'")
	core := stmt.(*QueryStmt).Body.(*SelectCore)
	if core.Items[0].Expr.(*Literal).Kind != "DATE" {
		t.Errorf("typed literal 0: %+v", core.Items[0].Expr)
	}
	if core.Items[1].Expr.(*Literal).Kind != "NUMERIC" {
		t.Errorf("typed literal 1: %+v", core.Items[1].Expr)
	}
}

func TestParseSetOps(t *testing.T) {
	stmt := mustParseOne(t, "SELECT a FROM t UNION ALL SELECT a FROM s INTERSECT DISTINCT SELECT a FROM u")
	q := stmt.(*QueryStmt)
	setop, ok := q.Body.(*SetOpBody)
	if !ok || setop.Op != "UNION" || !setop.All {
		t.Fatalf("root op: %+v", q.Body)
	}
	// INTERSECT binds tighter than UNION
	inner, ok := setop.Right.(*SetOpBody)
	if !ok || inner.Op != "INTERSECT" || inner.All {
		t.Errorf("right: %+v", setop.Right)
	}
}

func TestParseErrors(t *testing.T) {
	for _, sql := range []string{
		"SELECT FROM",
		"SELECT * FROM t WHERE",
		"INSERT t VALUES (",
		"'unterminated",
	} {
		if _, err := Parse(sql); err == nil {
			t.Errorf("expected error for %q", sql)
		}
	}
}

func TestParseTablesample(t *testing.T) {
	stmt := mustParseOne(t, "SELECT * FROM t TABLESAMPLE SYSTEM (10 PERCENT)")
	core := stmt.(*QueryStmt).Body.(*SelectCore)
	tn := core.From.(*TableName)
	if tn.Sample == nil || tn.Sample.Method != "SYSTEM" || tn.Sample.IsRows {
		t.Fatalf("sample: %+v", tn.Sample)
	}
}

func TestParseQualify(t *testing.T) {
	stmt := mustParseOne(t, "SELECT x FROM t QUALIFY ROW_NUMBER() OVER (ORDER BY x) = 1")
	core := stmt.(*QueryStmt).Body.(*SelectCore)
	if core.Qualify == nil {
		t.Fatalf("qualify missing")
	}
}
