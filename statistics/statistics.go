package statistics

import (
	"github.com/zhukovaskychina/yachtsql/basic"
)

// ColumnStats 单列统计
type ColumnStats struct {
	DistinctCount uint64
	NullCount     uint64
	Min           *basic.Value
	Max           *basic.Value
}

// TableStats 表统计，代价模型输入
type TableStats struct {
	RowCount    uint64
	ColumnStats map[string]*ColumnStats
}

// Distinct 列distinct数；未知返回0
func (s *TableStats) Distinct(column string) uint64 {
	if s == nil || s.ColumnStats == nil {
		return 0
	}
	if cs, ok := s.ColumnStats[column]; ok {
		return cs.DistinctCount
	}
	return 0
}
