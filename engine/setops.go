package engine

import (
	"github.com/zhukovaskychina/yachtsql/metadata"
	"github.com/zhukovaskychina/yachtsql/plan"
	"github.com/zhukovaskychina/yachtsql/util"
)

// execSetOp 集合运算。模式取左侧；ALL为拼接/多重集交/多重集差
// （按行哈希计数），DISTINCT在结果上去重
func (ex *Executor) execSetOp(x *plan.PhysicalSetOp) (*metadata.Table, error) {
	left, err := ex.Execute(x.Left)
	if err != nil {
		return nil, err
	}
	right, err := ex.Execute(x.Right)
	if err != nil {
		return nil, err
	}

	var out *metadata.Table
	switch x.Op {
	case plan.SetUnion:
		out = left.Clone()
		if err := out.AppendTable(right.WithSchema(left.Schema())); err != nil {
			return nil, err
		}
	case plan.SetIntersect:
		counts := rowMultiset(right)
		var keep []int
		for i := 0; i < left.RowCount(); i++ {
			h := tableRowHash(left, i)
			if counts[h] > 0 {
				counts[h]--
				keep = append(keep, i)
			}
		}
		out = left.Gather(keep)
	case plan.SetExcept:
		counts := rowMultiset(right)
		var keep []int
		for i := 0; i < left.RowCount(); i++ {
			h := tableRowHash(left, i)
			if counts[h] > 0 {
				counts[h]--
				continue
			}
			keep = append(keep, i)
		}
		out = left.Gather(keep)
	}
	if !x.All {
		out = distinctTable(out)
	}
	return out, nil
}

func tableRowHash(t *metadata.Table, row int) uint64 {
	h := util.NewRowHasher()
	for c := 0; c < t.NumColumns(); c++ {
		t.Column(c).HashRow(h, row)
	}
	return h.Sum64()
}

func rowMultiset(t *metadata.Table) map[uint64]int {
	counts := map[uint64]int{}
	for i := 0; i < t.RowCount(); i++ {
		counts[tableRowHash(t, i)]++
	}
	return counts
}
