package metadata

import (
	"testing"

	"github.com/zhukovaskychina/yachtsql/basic"
)

func makeTestTable(t *testing.T) *Table {
	schema := NewSchema(
		Field{Name: "id", Type: basic.TypeInt64},
		Field{Name: "name", Type: basic.TypeString, Nullable: true},
	)
	tbl := EmptyTable(schema)
	rows := [][]basic.Value{
		{basic.NewInt64(1), basic.NewString("a")},
		{basic.NewInt64(2), basic.TypedNull(basic.TypeString)},
		{basic.NewInt64(3), basic.NewString("c")},
	}
	for _, r := range rows {
		if err := tbl.AppendRow(r); err != nil {
			t.Fatal(err)
		}
	}
	return tbl
}

func TestTableRoundTrip(t *testing.T) {
	tbl := makeTestTable(t)
	if tbl.RowCount() != 3 || tbl.NumColumns() != 2 {
		t.Fatalf("rows=%d cols=%d", tbl.RowCount(), tbl.NumColumns())
	}
	row := tbl.GetRow(1)
	if i, _ := row[0].AsInt64(); i != 2 {
		t.Errorf("row1 id = %v", row[0])
	}
	if !row[1].IsNull() {
		t.Errorf("row1 name should be NULL")
	}
}

func TestGatherAndFilter(t *testing.T) {
	tbl := makeTestTable(t)
	g := tbl.Gather([]int{2, 0})
	if g.RowCount() != 2 {
		t.Fatalf("gather rows = %d", g.RowCount())
	}
	if i, _ := g.GetRow(0)[0].AsInt64(); i != 3 {
		t.Errorf("gathered row0 = %v", g.GetRow(0))
	}

	// 掩码NULL视为false
	mask := NewColumn(basic.TypeBool)
	mask.Append(basic.NewBool(true))
	mask.AppendNull()
	mask.Append(basic.NewBool(false))
	f := tbl.FilterMask(mask)
	if f.RowCount() != 1 {
		t.Fatalf("filter rows = %d", f.RowCount())
	}
	if i, _ := f.GetRow(0)[0].AsInt64(); i != 1 {
		t.Errorf("filtered row0 = %v", f.GetRow(0))
	}
}

func TestColumnGatherNullable(t *testing.T) {
	col := NewColumn(basic.TypeInt64)
	col.Append(basic.NewInt64(10))
	col.Append(basic.NewInt64(20))
	out := col.GatherNullable([]int{1, -1, 0})
	if out.Len() != 3 {
		t.Fatalf("len = %d", out.Len())
	}
	if !out.IsNull(1) {
		t.Errorf("index -1 should produce NULL")
	}
	if v, _ := out.GetValue(2).AsInt64(); v != 10 {
		t.Errorf("row2 = %v", out.GetValue(2))
	}
}

func TestSchemaIndexOf(t *testing.T) {
	s := NewSchema(
		Field{Name: "k", Qualifier: "t"},
		Field{Name: "k", Qualifier: "s"},
		Field{Name: "v", Qualifier: "t"},
	)
	// 裸名歧义
	if _, err := s.IndexOf("", "k"); basic.KindOf(err) != basic.ErrAmbiguousColumn {
		t.Errorf("bare k should be ambiguous, got %v", err)
	}
	idx, err := s.IndexOf("s", "k")
	if err != nil || idx != 1 {
		t.Errorf("s.k = %d, %v", idx, err)
	}
	if _, err := s.IndexOf("", "missing"); basic.KindOf(err) != basic.ErrColumnNotFound {
		t.Errorf("missing column error = %v", err)
	}
	// 大小写不敏感
	idx, err = s.IndexOf("T", "V")
	if err != nil || idx != 2 {
		t.Errorf("T.V = %d, %v", idx, err)
	}
}

func TestQueryResponse(t *testing.T) {
	tbl := makeTestTable(t)
	resp := tbl.ToQueryResponse()
	if resp.Kind != "bigquery#queryResponse" {
		t.Errorf("kind = %s", resp.Kind)
	}
	if resp.TotalRows != "3" || !resp.JobComplete {
		t.Errorf("totalRows=%s complete=%v", resp.TotalRows, resp.JobComplete)
	}
	if resp.Schema.Fields[0].Type != "INTEGER" {
		t.Errorf("INT64 should render as INTEGER, got %s", resp.Schema.Fields[0].Type)
	}
	if resp.Rows[1].F[1].V != nil {
		t.Errorf("NULL cell should be nil, got %v", resp.Rows[1].F[1].V)
	}
}
