package metadata

import (
	"strings"

	"github.com/zhukovaskychina/yachtsql/basic"
)

// Field 模式字段：名称、类型、可空性与可选表限定符
type Field struct {
	Name      string
	Type      basic.DataType
	Nullable  bool
	Qualifier string // 来源表或别名，可为空
}

// Schema 有序字段列表。既是表模式也是执行器面向的计划模式
type Schema struct {
	Fields []Field
}

// NewSchema 构造模式
func NewSchema(fields ...Field) *Schema {
	return &Schema{Fields: fields}
}

// Len 字段数
func (s *Schema) Len() int { return len(s.Fields) }

// FieldNames 字段名序列
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// IndexOf 按名称查找字段下标，大小写不敏感。
// 多个模式字段命中同名时返回AmbiguousColumn
func (s *Schema) IndexOf(qualifier, name string) (int, error) {
	found := -1
	for i, f := range s.Fields {
		if !strings.EqualFold(f.Name, name) {
			continue
		}
		if qualifier != "" && !strings.EqualFold(f.Qualifier, qualifier) {
			continue
		}
		if found >= 0 {
			return -1, basic.AmbiguousColumn(name)
		}
		found = i
	}
	if found < 0 {
		if qualifier != "" {
			return -1, basic.ColumnNotFound(qualifier + "." + name)
		}
		return -1, basic.ColumnNotFound(name)
	}
	return found, nil
}

// Merge 连接两侧模式合并，右侧字段追加在左侧之后
func (s *Schema) Merge(other *Schema) *Schema {
	fields := make([]Field, 0, len(s.Fields)+len(other.Fields))
	fields = append(fields, s.Fields...)
	fields = append(fields, other.Fields...)
	return &Schema{Fields: fields}
}

// Project 按下标投影出子模式
func (s *Schema) Project(indices []int) *Schema {
	fields := make([]Field, len(indices))
	for i, idx := range indices {
		fields[i] = s.Fields[idx]
	}
	return &Schema{Fields: fields}
}

// WithQualifier 重打表限定符（FROM子句别名）
func (s *Schema) WithQualifier(qualifier string) *Schema {
	fields := make([]Field, len(s.Fields))
	for i, f := range s.Fields {
		f.Qualifier = qualifier
		fields[i] = f
	}
	return &Schema{Fields: fields}
}

// Nullable 所有字段置为可空（外连接补空一侧）
func (s *Schema) Nullable() *Schema {
	fields := make([]Field, len(s.Fields))
	for i, f := range s.Fields {
		f.Nullable = true
		fields[i] = f
	}
	return &Schema{Fields: fields}
}

// Clone 深拷贝
func (s *Schema) Clone() *Schema {
	return &Schema{Fields: append([]Field(nil), s.Fields...)}
}

// Equal 名称顺序与类型一致（忽略可空性与限定符）
func (s *Schema) Equal(other *Schema) bool {
	if len(s.Fields) != len(other.Fields) {
		return false
	}
	for i := range s.Fields {
		if !strings.EqualFold(s.Fields[i].Name, other.Fields[i].Name) ||
			s.Fields[i].Type != other.Fields[i].Type {
			return false
		}
	}
	return true
}
