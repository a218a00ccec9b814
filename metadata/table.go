package metadata

import (
	"github.com/zhukovaskychina/yachtsql/basic"
)

// Table 等长命名列的有序集合
type Table struct {
	schema  *Schema
	columns []*Column
}

// NewTable 构造表；列数与模式字段数一致
func NewTable(schema *Schema, columns []*Column) *Table {
	return &Table{schema: schema, columns: columns}
}

// EmptyTable 按模式构造零行表
func EmptyTable(schema *Schema) *Table {
	cols := make([]*Column, schema.Len())
	for i, f := range schema.Fields {
		cols[i] = NewColumn(f.Type)
	}
	return &Table{schema: schema, columns: cols}
}

// Schema 表模式
func (t *Table) Schema() *Schema { return t.schema }

// RowCount 行数
func (t *Table) RowCount() int {
	if len(t.columns) == 0 {
		return 0
	}
	return t.columns[0].Len()
}

// NumColumns 列数
func (t *Table) NumColumns() int { return len(t.columns) }

// Column 第i列
func (t *Table) Column(i int) *Column { return t.columns[i] }

// Columns 全部列
func (t *Table) Columns() []*Column { return t.columns }

// GetRow 物化第i行
func (t *Table) GetRow(i int) []basic.Value {
	row := make([]basic.Value, len(t.columns))
	for c, col := range t.columns {
		row[c] = col.GetValue(i)
	}
	return row
}

// AppendRow 追加一行，按列对齐并作类型转换
func (t *Table) AppendRow(row []basic.Value) error {
	if len(row) != len(t.columns) {
		return basic.SchemaMismatch("row has %d values, table has %d columns", len(row), len(t.columns))
	}
	for i, v := range row {
		if err := t.columns[i].Append(v); err != nil {
			return err
		}
	}
	return nil
}

// Gather 按下标收集出新表
func (t *Table) Gather(indices []int) *Table {
	cols := make([]*Column, len(t.columns))
	for i, col := range t.columns {
		cols[i] = col.Gather(indices)
	}
	return &Table{schema: t.schema, columns: cols}
}

// FilterMask 按bool掩码列过滤所有列
func (t *Table) FilterMask(mask *Column) *Table {
	cols := make([]*Column, len(t.columns))
	for i, col := range t.columns {
		cols[i] = col.FilterMask(mask)
	}
	return &Table{schema: t.schema, columns: cols}
}

// Project 按下标投影出新表（共享列）
func (t *Table) Project(indices []int) *Table {
	cols := make([]*Column, len(indices))
	for i, idx := range indices {
		cols[i] = t.columns[idx]
	}
	return &Table{schema: t.schema.Project(indices), columns: cols}
}

// Clone 深拷贝表
func (t *Table) Clone() *Table {
	cols := make([]*Column, len(t.columns))
	for i, col := range t.columns {
		cols[i] = col.Clone()
	}
	return &Table{schema: t.schema.Clone(), columns: cols}
}

// AppendTable 按位置整表拼接，模式须可对齐
func (t *Table) AppendTable(other *Table) error {
	if other.NumColumns() != t.NumColumns() {
		return basic.SchemaMismatch("cannot append table with %d columns to table with %d columns",
			other.NumColumns(), t.NumColumns())
	}
	for i := range t.columns {
		t.columns[i].AppendColumn(other.columns[i])
	}
	return nil
}

// Merge 横向合并（连接输出），行数须一致
func (t *Table) Merge(other *Table) *Table {
	cols := make([]*Column, 0, len(t.columns)+len(other.columns))
	cols = append(cols, t.columns...)
	cols = append(cols, other.columns...)
	return &Table{schema: t.schema.Merge(other.schema), columns: cols}
}

// WithSchema 替换模式（重命名输出列），列共享
func (t *Table) WithSchema(schema *Schema) *Table {
	return &Table{schema: schema, columns: t.columns}
}
