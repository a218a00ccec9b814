package plan

import (
	"fmt"
	"testing"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/metadata"
	"github.com/zhukovaskychina/yachtsql/sqlparser"
	"github.com/zhukovaskychina/yachtsql/statistics"
)

// fakeResolver 测试用目录
type fakeResolver struct {
	tables map[string]*metadata.Schema
}

func (r *fakeResolver) ResolveTable(name string) (*metadata.Schema, error) {
	if s, ok := r.tables[name]; ok {
		return s, nil
	}
	return nil, basic.TableNotFound(name)
}
func (r *fakeResolver) ResolveView(string) (string, []string, bool) { return "", nil, false }
func (r *fakeResolver) HasUserFunction(string) bool                 { return false }

func testResolver() *fakeResolver {
	return &fakeResolver{tables: map[string]*metadata.Schema{
		"t": metadata.NewSchema(
			metadata.Field{Name: "id", Type: basic.TypeInt64},
			metadata.Field{Name: "v", Type: basic.TypeInt64},
			metadata.Field{Name: "s", Type: basic.TypeString},
		),
		"s": metadata.NewSchema(
			metadata.Field{Name: "k", Type: basic.TypeInt64},
			metadata.Field{Name: "w", Type: basic.TypeInt64},
		),
		"u": metadata.NewSchema(
			metadata.Field{Name: "k", Type: basic.TypeInt64},
		),
	}}
}

func buildPlan(t *testing.T, sql string) LogicalPlan {
	t.Helper()
	stmt, err := sqlparser.ParseOne(sql)
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	p, err := NewBuilder(testResolver()).BuildStatement(stmt)
	if err != nil {
		t.Fatalf("build %q: %v", sql, err)
	}
	return p
}

func optimize(t *testing.T, sql string) PhysicalPlan {
	t.Helper()
	p := buildPlan(t, sql)
	phys, err := NewOptimizer(DefaultOptimizerSettings()).Optimize(p)
	if err != nil {
		t.Fatalf("optimize %q: %v", sql, err)
	}
	return phys
}

func TestBuildSchemaPropagation(t *testing.T) {
	p := buildPlan(t, "SELECT id AS a, v + 1 AS b FROM t")
	schema := p.Schema()
	if schema.Len() != 2 || schema.Fields[0].Name != "a" || schema.Fields[1].Name != "b" {
		t.Fatalf("schema: %+v", schema.Fields)
	}
	if schema.Fields[1].Type != basic.TypeInt64 {
		t.Errorf("b type = %v", schema.Fields[1].Type)
	}
}

func TestSimplifyRules(t *testing.T) {
	tr := func(e Expression) string { return SimplifyExpr(e).String() }

	// x AND true → x
	x := &ColumnRef{Name: "x", Index: 0, Type: basic.TypeBool}
	e := &BinaryOp{Op: "AND", Left: x, Right: &Literal{Value: basic.NewBool(true)}}
	if tr(e) != x.String() {
		t.Errorf("x AND true = %s", tr(e))
	}
	// x OR false → x
	e = &BinaryOp{Op: "OR", Left: x, Right: &Literal{Value: basic.NewBool(false)}}
	if tr(e) != x.String() {
		t.Errorf("x OR false = %s", tr(e))
	}
	// NOT NOT x → x
	n := &UnaryOp{Op: "NOT", Expr: &UnaryOp{Op: "NOT", Expr: x}}
	if SimplifyExpr(n).String() != x.String() {
		t.Errorf("NOT NOT x = %s", SimplifyExpr(n).String())
	}
	// 1 + 2 → 3
	add := &BinaryOp{Op: "+", Left: &Literal{Value: basic.NewInt64(1)}, Right: &Literal{Value: basic.NewInt64(2)}}
	if lit, ok := SimplifyExpr(add).(*Literal); !ok {
		t.Errorf("1+2 not folded")
	} else if v, _ := lit.Value.AsInt64(); v != 3 {
		t.Errorf("1+2 = %v", lit.Value)
	}
	// IN单元素 → 等值
	in := &InListExpr{Expr: x, List: []Expression{&Literal{Value: basic.NewInt64(1)}}}
	if _, ok := SimplifyExpr(in).(*BinaryOp); !ok {
		t.Errorf("singleton IN not reduced: %T", SimplifyExpr(in))
	}
}

func TestFilterPushdownThroughJoin(t *testing.T) {
	phys := optimize(t, "SELECT * FROM t JOIN s ON t.id = s.k WHERE t.v > 10")
	// 谓词应下推到连接左输入（穿过投影/扫描链）
	foundFilterBelowJoin := false
	WalkPhysical(phys, func(p PhysicalPlan) bool {
		if j, ok := p.(*PhysicalHashJoin); ok {
			WalkPhysical(j.Left, func(c PhysicalPlan) bool {
				if _, ok := c.(*PhysicalFilter); ok {
					foundFilterBelowJoin = true
				}
				return true
			})
		}
		return true
	})
	if !foundFilterBelowJoin {
		t.Errorf("filter not pushed below join:\n%s", FormatPhysical(phys, 0))
	}
}

func TestProjectionPushdownNarrowsScan(t *testing.T) {
	phys := optimize(t, "SELECT id FROM t")
	narrowed := false
	WalkPhysical(phys, func(p PhysicalPlan) bool {
		if scan, ok := p.(*PhysicalScan); ok && len(scan.Projection) == 1 {
			narrowed = true
		}
		return true
	})
	if !narrowed {
		t.Errorf("scan not narrowed:\n%s", FormatPhysical(phys, 0))
	}
}

func TestHashJoinSelection(t *testing.T) {
	phys := optimize(t, "SELECT * FROM t JOIN s ON t.id = s.k")
	hasHash := false
	WalkPhysical(phys, func(p PhysicalPlan) bool {
		if _, ok := p.(*PhysicalHashJoin); ok {
			hasHash = true
		}
		return true
	})
	if !hasHash {
		t.Errorf("equi-join should use hash join:\n%s", FormatPhysical(phys, 0))
	}

	phys = optimize(t, "SELECT * FROM t JOIN s ON t.id > s.k")
	hasNL := false
	WalkPhysical(phys, func(p PhysicalPlan) bool {
		if _, ok := p.(*PhysicalNestedLoopJoin); ok {
			hasNL = true
		}
		return true
	})
	if !hasNL {
		t.Errorf("non-equi join should use nested loop:\n%s", FormatPhysical(phys, 0))
	}
}

func TestTopNFusion(t *testing.T) {
	phys := optimize(t, "SELECT id FROM t ORDER BY id LIMIT 5")
	hasTopN := false
	WalkPhysical(phys, func(p PhysicalPlan) bool {
		if _, ok := p.(*PhysicalTopN); ok {
			hasTopN = true
		}
		return true
	})
	if !hasTopN {
		t.Errorf("Limit(Sort) should fuse to TopN:\n%s", FormatPhysical(phys, 0))
	}
}

func TestPlanCacheLruAndInvalidation(t *testing.T) {
	cache := NewPlanCache(3)
	mk := func(table string) LogicalPlan {
		return &LogicalScan{Table: table, TableSchema: metadata.NewSchema(
			metadata.Field{Name: "a", Type: basic.TypeInt64})}
	}
	for i := 0; i < 3; i++ {
		cache.Insert(fmt.Sprintf("SELECT %d", i), mk(fmt.Sprintf("t%d", i)))
	}
	if cache.Len() != 3 {
		t.Fatalf("len = %d", cache.Len())
	}
	// 触发t0刷新LRU，插入新项应逐出t1
	if _, ok := cache.Get("SELECT 0"); !ok {
		t.Fatalf("t0 missing")
	}
	cache.Insert("SELECT 3", mk("t3"))
	if _, ok := cache.Get("SELECT 1"); ok {
		t.Errorf("t1 should have been evicted")
	}
	if _, ok := cache.Get("SELECT 0"); !ok {
		t.Errorf("t0 should survive")
	}

	// 对象失效：写t0的DML使引用T0的计划失效
	inv := ComputeInvalidation(&LogicalInsert{Table: "t0", Source: mk("x")})
	cache.Invalidate(inv)
	if _, ok := cache.Get("SELECT 0"); ok {
		t.Errorf("plan reading t0 should be invalidated")
	}
	if _, ok := cache.Get("SELECT 3"); !ok {
		t.Errorf("unrelated plan should survive")
	}

	// DDL整体失效
	cache.Invalidate(ComputeInvalidation(&LogicalDropTable{Table: "zzz"}))
	if cache.Len() != 0 {
		t.Errorf("DDL should clear the cache, len=%d", cache.Len())
	}
}

func TestDmlPlansNotCacheable(t *testing.T) {
	cache := NewPlanCache(10)
	cache.Insert("INSERT", &LogicalInsert{Table: "t", Source: &LogicalEmpty{OutputSchema: metadata.NewSchema()}})
	if cache.Len() != 0 {
		t.Errorf("DML plan must not be cached")
	}
}

func TestExtractTableAccessesCteShadowing(t *testing.T) {
	// WITH体内CTE名遮蔽同名表
	p := buildPlan(t, "WITH t AS (SELECT k FROM s) SELECT * FROM t")
	acc := ExtractTableAccesses(p)
	if acc.Reads["T"] {
		t.Errorf("CTE name should shadow table: %v", acc.Reads)
	}
	if !acc.Reads["S"] {
		t.Errorf("underlying table should be read: %v", acc.Reads)
	}
}

func TestExtractTableAccessesDml(t *testing.T) {
	p := buildPlan(t, "INSERT INTO t SELECT k, w, 'x' FROM s")
	acc := ExtractTableAccesses(p)
	if !acc.Writes["T"] || !acc.Reads["S"] {
		t.Errorf("accesses: writes=%v reads=%v", acc.Writes, acc.Reads)
	}
	names := acc.AllNames()
	if len(names) != 2 || names[0] != "S" || names[1] != "T" {
		t.Errorf("sorted lock order: %v", names)
	}
}

func TestJoinReorderProducesValidPlan(t *testing.T) {
	stats := map[string]*statistics.TableStats{
		"T": {RowCount: 1000000},
		"S": {RowCount: 10},
		"U": {RowCount: 100},
	}
	stmt, err := sqlparser.ParseOne("SELECT * FROM t JOIN s ON t.id = s.k JOIN u ON s.k = u.k")
	if err != nil {
		t.Fatal(err)
	}
	logical, err := NewBuilder(testResolver()).BuildStatement(stmt)
	if err != nil {
		t.Fatal(err)
	}
	settings := DefaultOptimizerSettings()
	settings.TableStats = stats
	phys, err := NewOptimizer(settings).Optimize(logical)
	if err != nil {
		t.Fatal(err)
	}
	// 输出模式保持原列序
	want := logical.Schema()
	if !phys.Schema().Equal(want) {
		t.Errorf("reordered schema mismatch:\n got %v\nwant %v", phys.Schema().Fields, want.Fields)
	}
}

func TestNormalizeRangeTypes(t *testing.T) {
	got := NormalizeSQL("SELECT CAST(x AS range<date>) FROM t")
	if got != "SELECT CAST(x AS RANGE_DATE) FROM t" {
		t.Errorf("normalize = %q", got)
	}
}

func TestPhysicalPlannerHints(t *testing.T) {
	phys := optimize(t, "SELECT * FROM t JOIN s ON t.id = s.k")
	stats := &fakeStats{rows: map[string]uint64{"t": 50000, "s": 50000}}
	planner := NewPhysicalPlanner(stats, nil)
	planner.Plan(phys)
	foundParallel := false
	WalkPhysical(phys, func(p PhysicalPlan) bool {
		if j, ok := p.(*PhysicalHashJoin); ok && j.Hints().Parallel {
			foundParallel = true
		}
		return true
	})
	if !foundParallel {
		t.Errorf("large equi-join should be parallel:\n%s", FormatPhysical(phys, 0))
	}

	// 聚合永不并行
	phys = optimize(t, "SELECT v, COUNT(*) FROM t GROUP BY v")
	planner.Plan(phys)
	WalkPhysical(phys, func(p PhysicalPlan) bool {
		if agg, ok := p.(*PhysicalHashAggregate); ok && agg.Hints().Parallel {
			t.Errorf("aggregate must not be parallel")
		}
		return true
	})
}

type fakeStats struct {
	rows map[string]uint64
}

func (f *fakeStats) TableRowCount(name string) (uint64, bool) {
	n, ok := f.rows[name]
	return n, ok
}
