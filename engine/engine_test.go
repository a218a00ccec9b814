package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/yachtsql/basic"
)

func newTestSession(t *testing.T) *Session {
	s := NewSession()
	t.Cleanup(s.Close)
	return s
}

func exec(t *testing.T, s *Session, sql string) {
	t.Helper()
	_, err := s.ExecuteSQL(context.Background(), sql)
	require.NoError(t, err, sql)
}

func query(t *testing.T, s *Session, sql string) [][]basic.Value {
	t.Helper()
	tbl, err := s.ExecuteSQL(context.Background(), sql)
	require.NoError(t, err, sql)
	rows := make([][]basic.Value, tbl.RowCount())
	for i := range rows {
		rows[i] = tbl.GetRow(i)
	}
	return rows
}

func intAt(t *testing.T, rows [][]basic.Value, r, c int) int64 {
	t.Helper()
	v, ok := rows[r][c].AsInt64()
	require.True(t, ok, "row %d col %d is %v", r, c, rows[r][c])
	return v
}

func TestInsertAndAggregate(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE t (id INT64, v INT64)")
	exec(t, s, "INSERT INTO t VALUES (1, 10), (2, 20)")
	rows := query(t, s, "SELECT SUM(v) FROM t WHERE id > 0")
	require.Len(t, rows, 1)
	assert.Equal(t, int64(30), intAt(t, rows, 0, 0))
}

func TestRecursiveCte(t *testing.T) {
	s := newTestSession(t)
	rows := query(t, s, "WITH c AS (SELECT 1 AS x UNION ALL SELECT x+1 FROM c WHERE x < 3) SELECT x FROM c ORDER BY x")
	require.Len(t, rows, 3)
	for i, want := range []int64{1, 2, 3} {
		assert.Equal(t, want, intAt(t, rows, i, 0))
	}
}

func TestUnnestGroupBy(t *testing.T) {
	s := newTestSession(t)
	rows := query(t, s, "SELECT a, COUNT(*) FROM UNNEST([1, 1, 2, 3, 3, 3]) a GROUP BY a ORDER BY a")
	require.Len(t, rows, 3)
	assert.Equal(t, int64(1), intAt(t, rows, 0, 0))
	assert.Equal(t, int64(2), intAt(t, rows, 0, 1))
	assert.Equal(t, int64(2), intAt(t, rows, 1, 0))
	assert.Equal(t, int64(1), intAt(t, rows, 1, 1))
	assert.Equal(t, int64(3), intAt(t, rows, 2, 0))
	assert.Equal(t, int64(3), intAt(t, rows, 2, 1))
}

func TestRowNumberWindow(t *testing.T) {
	s := newTestSession(t)
	rows := query(t, s, "SELECT x, ROW_NUMBER() OVER (ORDER BY x) FROM UNNEST([10, 20, 30]) x ORDER BY x")
	require.Len(t, rows, 3)
	for i, want := range []int64{10, 20, 30} {
		assert.Equal(t, want, intAt(t, rows, i, 0))
		assert.Equal(t, int64(i+1), intAt(t, rows, i, 1))
	}
}

func TestLeftJoinUnmatchedNulls(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE lt (k INT64)")
	exec(t, s, "CREATE TABLE rt (k INT64, w INT64)")
	exec(t, s, "INSERT INTO lt VALUES (1)")
	exec(t, s, "INSERT INTO rt VALUES (2, 200)")
	rows := query(t, s, "SELECT * FROM lt LEFT JOIN rt ON lt.k = rt.k")
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), intAt(t, rows, 0, 0))
	assert.True(t, rows[0][1].IsNull(), "unmatched right columns should be NULL")
	assert.True(t, rows[0][2].IsNull())
}

func TestConcurrentInsertsSerialize(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE c (v INT64)")
	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.ExecuteSQL(context.Background(), "INSERT INTO c VALUES (1)")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	rows := query(t, s, "SELECT COUNT(*) FROM c")
	assert.Equal(t, int64(writers), intAt(t, rows, 0, 0), "no dropped writes")
}

func TestCommitAtomicityOnError(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE a (v INT64)")
	exec(t, s, "INSERT INTO a VALUES (1)")
	// 源行v=1使除数为零：整条语句失败，暂存写不可见
	_, err := s.ExecuteSQL(context.Background(), "INSERT INTO a SELECT 10 / (v - 1) FROM a")
	require.Error(t, err)
	assert.Equal(t, basic.ErrDivisionByZero, basic.KindOf(err))
	rows := query(t, s, "SELECT COUNT(*) FROM a")
	assert.Equal(t, int64(1), intAt(t, rows, 0, 0), "failed DML must not commit")
}

func TestUpdateDelete(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE u (id INT64, v INT64)")
	exec(t, s, "INSERT INTO u VALUES (1, 10), (2, 20), (3, 30)")
	exec(t, s, "UPDATE u SET v = v + 1 WHERE id >= 2")
	rows := query(t, s, "SELECT v FROM u ORDER BY id")
	assert.Equal(t, int64(10), intAt(t, rows, 0, 0))
	assert.Equal(t, int64(21), intAt(t, rows, 1, 0))
	assert.Equal(t, int64(31), intAt(t, rows, 2, 0))

	exec(t, s, "DELETE FROM u WHERE id = 2")
	rows = query(t, s, "SELECT COUNT(*) FROM u")
	assert.Equal(t, int64(2), intAt(t, rows, 0, 0))

	exec(t, s, "TRUNCATE TABLE u")
	rows = query(t, s, "SELECT COUNT(*) FROM u")
	assert.Equal(t, int64(0), intAt(t, rows, 0, 0))
}

func TestMerge(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE tgt (id INT64, v INT64)")
	exec(t, s, "CREATE TABLE src (id INT64, v INT64)")
	exec(t, s, "INSERT INTO tgt VALUES (1, 100), (2, 200)")
	exec(t, s, "INSERT INTO src VALUES (2, 222), (3, 333)")
	exec(t, s, `MERGE INTO tgt USING src ON tgt.id = src.id
		WHEN MATCHED THEN UPDATE SET v = src.v
		WHEN NOT MATCHED THEN INSERT (id, v) VALUES (src.id, src.v)`)
	rows := query(t, s, "SELECT id, v FROM tgt ORDER BY id")
	require.Len(t, rows, 3)
	assert.Equal(t, int64(100), intAt(t, rows, 0, 1))
	assert.Equal(t, int64(222), intAt(t, rows, 1, 1))
	assert.Equal(t, int64(333), intAt(t, rows, 2, 1))
}

func TestViews(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE vt (id INT64, v INT64)")
	exec(t, s, "INSERT INTO vt VALUES (1, 5), (2, 6)")
	exec(t, s, "CREATE VIEW big AS SELECT id FROM vt WHERE v > 5")
	rows := query(t, s, "SELECT * FROM big")
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), intAt(t, rows, 0, 0))
	exec(t, s, "DROP VIEW big")
	_, err := s.ExecuteSQL(context.Background(), "SELECT * FROM big")
	require.Error(t, err)
}

func TestSnapshotIsolatedFromWrites(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE st (v INT64)")
	exec(t, s, "INSERT INTO st VALUES (1), (2)")
	exec(t, s, "CREATE SNAPSHOT TABLE snap CLONE st")
	exec(t, s, "INSERT INTO st VALUES (3)")
	rows := query(t, s, "SELECT COUNT(*) FROM snap")
	assert.Equal(t, int64(2), intAt(t, rows, 0, 0), "snapshot sees captured state")
	rows = query(t, s, "SELECT COUNT(*) FROM st")
	assert.Equal(t, int64(3), intAt(t, rows, 0, 0))
	exec(t, s, "DROP SNAPSHOT TABLE snap")
}

func TestErrorTaxonomy(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE et (v INT64)")
	cases := []struct {
		sql  string
		kind basic.ErrorKind
	}{
		{"SELECT * FROM missing_table", basic.ErrTableNotFound},
		{"SELECT nope FROM et", basic.ErrColumnNotFound},
		{"SELECT 1 +", basic.ErrParse},
		{"SELECT 1/0", basic.ErrDivisionByZero},
		{"SELECT UNKNOWN_FUNC(1)", basic.ErrFunctionNotFound},
		{"SELECT ERROR('boom')", basic.ErrRaisedException},
	}
	for _, c := range cases {
		_, err := s.ExecuteSQL(context.Background(), c.sql)
		require.Error(t, err, c.sql)
		assert.Equal(t, c.kind, basic.KindOf(err), "%s => %v", c.sql, err)
	}
}

func TestThreeValuedLogicEndToEnd(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE n3 (v INT64)")
	exec(t, s, "INSERT INTO n3 VALUES (1), (NULL), (3)")
	// NULL行不满足任何比较谓词
	rows := query(t, s, "SELECT COUNT(*) FROM n3 WHERE v > 0")
	assert.Equal(t, int64(2), intAt(t, rows, 0, 0))
	rows = query(t, s, "SELECT COUNT(*) FROM n3 WHERE v IS NULL")
	assert.Equal(t, int64(1), intAt(t, rows, 0, 0))
	// COALESCE穿透NULL
	rows = query(t, s, "SELECT COALESCE(NULL, 42)")
	assert.Equal(t, int64(42), intAt(t, rows, 0, 0))
	// SAFE_DIVIDE除零为NULL
	rows = query(t, s, "SELECT SAFE_DIVIDE(1, 0)")
	assert.True(t, rows[0][0].IsNull())
}

func TestOrderByNullsPlacement(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE ob (v INT64)")
	exec(t, s, "INSERT INTO ob VALUES (2), (NULL), (1)")
	rows := query(t, s, "SELECT v FROM ob ORDER BY v")
	// 升序默认NULLS FIRST
	assert.True(t, rows[0][0].IsNull())
	assert.Equal(t, int64(1), intAt(t, rows, 1, 0))
	assert.Equal(t, int64(2), intAt(t, rows, 2, 0))

	rows = query(t, s, "SELECT v FROM ob ORDER BY v DESC")
	// 降序默认NULLS LAST
	assert.Equal(t, int64(2), intAt(t, rows, 0, 0))
	assert.True(t, rows[2][0].IsNull())

	rows = query(t, s, "SELECT v FROM ob ORDER BY v DESC NULLS FIRST")
	assert.True(t, rows[0][0].IsNull())
}

func TestSetOperations(t *testing.T) {
	s := newTestSession(t)
	rows := query(t, s, "SELECT x FROM UNNEST([1, 2, 2, 3]) x UNION ALL SELECT y FROM UNNEST([3, 4]) y ORDER BY 1")
	require.Len(t, rows, 6)

	rows = query(t, s, "SELECT x FROM UNNEST([1, 2, 2, 3]) x UNION DISTINCT SELECT y FROM UNNEST([3, 4]) y ORDER BY 1")
	require.Len(t, rows, 4)

	rows = query(t, s, "SELECT x FROM UNNEST([1, 2, 3]) x INTERSECT DISTINCT SELECT y FROM UNNEST([2, 3, 4]) y ORDER BY 1")
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), intAt(t, rows, 0, 0))

	rows = query(t, s, "SELECT x FROM UNNEST([1, 2, 3]) x EXCEPT DISTINCT SELECT y FROM UNNEST([2]) y ORDER BY 1")
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), intAt(t, rows, 0, 0))
	assert.Equal(t, int64(3), intAt(t, rows, 1, 0))
}

func TestSubqueries(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE o (id INT64, cat INT64, v INT64)")
	exec(t, s, "INSERT INTO o VALUES (1, 1, 10), (2, 1, 20), (3, 2, 5)")

	// 标量子查询
	rows := query(t, s, "SELECT (SELECT MAX(v) FROM o)")
	assert.Equal(t, int64(20), intAt(t, rows, 0, 0))

	// EXISTS
	rows = query(t, s, "SELECT COUNT(*) FROM o WHERE EXISTS (SELECT 1 FROM o AS i WHERE i.v > 15)")
	assert.Equal(t, int64(3), intAt(t, rows, 0, 0))

	// IN子查询
	rows = query(t, s, "SELECT COUNT(*) FROM o WHERE id IN (SELECT id FROM o WHERE v >= 10)")
	assert.Equal(t, int64(2), intAt(t, rows, 0, 0))

	// 关联子查询：每类别取最大值行
	rows = query(t, s, "SELECT id FROM o WHERE v = (SELECT MAX(i.v) FROM o AS i WHERE i.cat = o.cat) ORDER BY id")
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), intAt(t, rows, 0, 0))
	assert.Equal(t, int64(3), intAt(t, rows, 1, 0))

	// ARRAY子查询
	rows = query(t, s, "SELECT ARRAY_LENGTH(ARRAY(SELECT id FROM o))")
	assert.Equal(t, int64(3), intAt(t, rows, 0, 0))
}

func TestQualify(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE q (g INT64, v INT64)")
	exec(t, s, "INSERT INTO q VALUES (1, 10), (1, 20), (2, 30), (2, 40)")
	rows := query(t, s, "SELECT g, v FROM q QUALIFY ROW_NUMBER() OVER (PARTITION BY g ORDER BY v DESC) = 1 ORDER BY g")
	require.Len(t, rows, 2)
	assert.Equal(t, int64(20), intAt(t, rows, 0, 1))
	assert.Equal(t, int64(40), intAt(t, rows, 1, 1))
}

func TestWindowFrames(t *testing.T) {
	s := newTestSession(t)
	rows := query(t, s, `SELECT x, SUM(x) OVER (ORDER BY x ROWS BETWEEN 1 PRECEDING AND CURRENT ROW)
		FROM UNNEST([1, 2, 3, 4]) x ORDER BY x`)
	require.Len(t, rows, 4)
	want := []int64{1, 3, 5, 7}
	for i := range want {
		assert.Equal(t, want[i], intAt(t, rows, i, 1))
	}
}

func TestGroupingSets(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE gs (a INT64, b INT64, v INT64)")
	exec(t, s, "INSERT INTO gs VALUES (1, 1, 10), (1, 2, 20), (2, 1, 30)")
	rows := query(t, s, "SELECT a, b, SUM(v) FROM gs GROUP BY GROUPING SETS ((a, b), (a), ()) ORDER BY 3")
	// (a,b)三组 + (a)两组 + 总计一组
	require.Len(t, rows, 6)
	// 总计行：a与b均为NULL
	last := rows[len(rows)-1]
	assert.True(t, last[0].IsNull())
	assert.True(t, last[1].IsNull())
	assert.Equal(t, int64(60), intAt(t, rows, len(rows)-1, 2))
}

func TestScriptingBlock(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE sc (v INT64)")
	exec(t, s, `BEGIN
		DECLARE x INT64 DEFAULT 0;
		WHILE x < 3 DO
			INSERT INTO sc VALUES (1);
			SET x = x + 1;
		END WHILE;
	END`)
	rows := query(t, s, "SELECT COUNT(*) FROM sc")
	assert.Equal(t, int64(3), intAt(t, rows, 0, 0))
}

func TestTryCatchBlock(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE tc (v INT64)")
	// 异常被捕获，处理器正常执行
	exec(t, s, `BEGIN
		SELECT 1/0;
	EXCEPTION WHEN ERROR THEN
		INSERT INTO tc VALUES (99);
	END`)
	rows := query(t, s, "SELECT v FROM tc")
	require.Len(t, rows, 1)
	assert.Equal(t, int64(99), intAt(t, rows, 0, 0))
}

func TestPlanCacheMetrics(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE pc (v INT64)")
	exec(t, s, "INSERT INTO pc VALUES (1)")
	query(t, s, "SELECT v FROM pc")
	before := s.Metrics()
	query(t, s, "SELECT v FROM pc")
	after := s.Metrics()
	assert.Equal(t, before.CacheHits+1, after.CacheHits, "identical SELECT should hit the plan cache")

	// DML写pc后缓存的读计划失效
	exec(t, s, "INSERT INTO pc VALUES (2)")
	mid := s.Metrics()
	query(t, s, "SELECT v FROM pc")
	final := s.Metrics()
	assert.Equal(t, mid.CacheMisses+1, final.CacheMisses, "write should invalidate cached plan")
}

func TestCancellation(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE cx (v INT64)")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ExecuteSQL(ctx, "SELECT * FROM cx")
	require.Error(t, err)
}

func TestExplain(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE ep (v INT64)")
	rows := query(t, s, "EXPLAIN SELECT v FROM ep WHERE v > 1")
	require.NotEmpty(t, rows)
	text, _ := rows[0][0].AsString()
	assert.Contains(t, text, "Project")
}

func TestUserDefinedFunction(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE FUNCTION double_it(x INT64) RETURNS INT64 AS (x * 2)")
	rows := query(t, s, "SELECT double_it(21)")
	assert.Equal(t, int64(42), intAt(t, rows, 0, 0))
	exec(t, s, "DROP FUNCTION double_it")
	_, err := s.ExecuteSQL(context.Background(), "SELECT double_it(1)")
	require.Error(t, err)
}

func TestTablesampleReservoirDeterministic(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE ts (v INT64)")
	for i := 0; i < 4; i++ {
		exec(t, s, "INSERT INTO ts VALUES (1), (2), (3), (4), (5)")
	}
	s.SetSessionVariable("SAMPLE_SEED", basic.NewInt64(7))
	a := query(t, s, "SELECT COUNT(*) FROM (SELECT * FROM ts TABLESAMPLE RESERVOIR (5 ROWS))")
	assert.Equal(t, int64(5), intAt(t, a, 0, 0))
	b := query(t, s, "SELECT * FROM ts TABLESAMPLE RESERVOIR (3 ROWS)")
	c := query(t, s, "SELECT * FROM ts TABLESAMPLE RESERVOIR (3 ROWS)")
	require.Equal(t, len(b), len(c), "same seed must give deterministic samples")
	for i := range b {
		assert.Equal(t, b[i][0].String(), c[i][0].String())
	}
}

func TestInsertDefaults(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE d (id INT64, v INT64 DEFAULT 7)")
	exec(t, s, "INSERT INTO d VALUES (1, DEFAULT)")
	exec(t, s, "INSERT INTO d (id) VALUES (2)")
	rows := query(t, s, "SELECT id, v FROM d ORDER BY id")
	assert.Equal(t, int64(7), intAt(t, rows, 0, 1))
	assert.Equal(t, int64(7), intAt(t, rows, 1, 1))
}

func TestAggregateLibrary(t *testing.T) {
	s := newTestSession(t)
	exec(t, s, "CREATE TABLE al (g INT64, v INT64, s STRING)")
	exec(t, s, "INSERT INTO al VALUES (1, 1, 'a'), (1, 2, 'b'), (2, 3, 'c'), (1, 1, 'a')")

	rows := query(t, s, "SELECT COUNT(DISTINCT v) FROM al WHERE g = 1")
	assert.Equal(t, int64(2), intAt(t, rows, 0, 0))

	rows = query(t, s, "SELECT STRING_AGG(s, '-' ORDER BY s) FROM al WHERE g = 1")
	got, _ := rows[0][0].AsString()
	assert.Equal(t, "a-a-b", got)

	rows = query(t, s, "SELECT APPROX_COUNT_DISTINCT(v) FROM al")
	assert.Equal(t, int64(3), intAt(t, rows, 0, 0))

	rows = query(t, s, "SELECT COUNTIF(v > 1), LOGICAL_OR(v > 2), MIN(v), MAX(v) FROM al")
	assert.Equal(t, int64(2), intAt(t, rows, 0, 0))
	b, _ := rows[0][1].AsBool()
	assert.True(t, b)
	assert.Equal(t, int64(1), intAt(t, rows, 0, 2))
	assert.Equal(t, int64(3), intAt(t, rows, 0, 3))
}

func TestParallelExecutionVariable(t *testing.T) {
	s := newTestSession(t)
	s.SetSessionVariable("PARALLEL_EXECUTION", basic.NewBool(false))
	exec(t, s, "CREATE TABLE pe (v INT64)")
	exec(t, s, "INSERT INTO pe VALUES (1), (2)")
	rows := query(t, s, "SELECT COUNT(*) FROM pe JOIN pe AS p2 ON pe.v = p2.v")
	assert.Equal(t, int64(2), intAt(t, rows, 0, 0))
}
