package engine

import (
	"sync"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/logger"
	"github.com/zhukovaskychina/yachtsql/metadata"
	"github.com/zhukovaskychina/yachtsql/plan"
	"github.com/zhukovaskychina/yachtsql/util"
)

// joinWorkers 并行连接的分区数
const joinWorkers = 4

// execHashJoin 构建-探测哈希连接。
// 构建右表键哈希表，流式探测左表；Inner按左外×匹配右的笛卡尔
// 行序输出；外连接补NULL；Semi/Anti只输出左行。
// parallel提示开启时左表按行号切成连续区间并行探测（不按键哈希
// 分区），工作者本地缓冲按worker编号确定序拼接
func (ex *Executor) execHashJoin(x *plan.PhysicalHashJoin) (*metadata.Table, error) {
	left, err := ex.Execute(x.Left)
	if err != nil {
		return nil, err
	}
	right, err := ex.Execute(x.Right)
	if err != nil {
		return nil, err
	}

	ev := ex.newEvaluator()
	leftKeyCols := make([]*metadata.Column, len(x.LeftKeys))
	for i, k := range x.LeftKeys {
		if leftKeyCols[i], err = ev.EvalColumn(k, left); err != nil {
			return nil, err
		}
	}
	rightKeyCols := make([]*metadata.Column, len(x.RightKeys))
	for i, k := range x.RightKeys {
		if rightKeyCols[i], err = ev.EvalColumn(k, right); err != nil {
			return nil, err
		}
	}

	// 构建阶段：键哈希→右行号
	build := make(map[uint64][]int, right.RowCount())
	hasher := util.NewRowHasher()
	for i := 0; i < right.RowCount(); i++ {
		h, null := hashKeyRow(hasher, rightKeyCols, i)
		if null {
			continue // NULL键不参与等值匹配
		}
		build[h] = append(build[h], i)
	}

	probe := func(lo, hi int, li, ri *[]int, matchedRight map[int]bool) error {
		h2 := util.NewRowHasher()
		for i := lo; i < hi; i++ {
			h, null := hashKeyRow(h2, leftKeyCols, i)
			var matches []int
			if !null {
				for _, rr := range build[h] {
					if keyRowsEqual(leftKeyCols, i, rightKeyCols, rr) {
						matches = append(matches, rr)
					}
				}
			}
			switch x.Type {
			case plan.JoinSemi:
				if len(matches) > 0 {
					*li = append(*li, i)
				}
			case plan.JoinAnti:
				if len(matches) == 0 {
					*li = append(*li, i)
				}
			default:
				if len(matches) == 0 {
					if x.Type == plan.JoinLeft || x.Type == plan.JoinFull {
						*li = append(*li, i)
						*ri = append(*ri, -1)
					}
					continue
				}
				for _, rr := range matches {
					*li = append(*li, i)
					*ri = append(*ri, rr)
					if matchedRight != nil {
						matchedRight[rr] = true
					}
				}
			}
		}
		return nil
	}

	var leftIdx, rightIdx []int
	matchedRight := map[int]bool{}
	needMatched := x.Type == plan.JoinRight || x.Type == plan.JoinFull

	if x.Hints().Parallel && left.RowCount() >= joinWorkers && !needMatched &&
		x.Type != plan.JoinSemi && x.Type != plan.JoinAnti {
		logger.Debugf("hash join probing %d rows on %d workers", left.RowCount(), joinWorkers)
		lis := make([][]int, joinWorkers)
		ris := make([][]int, joinWorkers)
		errs := make([]error, joinWorkers)
		chunk := (left.RowCount() + joinWorkers - 1) / joinWorkers
		pool := ex.session.taskPool()
		var wg sync.WaitGroup
		for w := 0; w < joinWorkers; w++ {
			w := w
			lo := w * chunk
			hi := lo + chunk
			if hi > left.RowCount() {
				hi = left.RowCount()
			}
			wg.Add(1)
			task := func() {
				defer wg.Done()
				errs[w] = probe(lo, hi, &lis[w], &ris[w], nil)
			}
			if pool != nil {
				pool.AddTaskAlways(task)
			} else {
				go task()
			}
		}
		wg.Wait()
		for w := 0; w < joinWorkers; w++ {
			if errs[w] != nil {
				return nil, errs[w]
			}
			// 按worker编号确定序拼接
			leftIdx = append(leftIdx, lis[w]...)
			rightIdx = append(rightIdx, ris[w]...)
		}
	} else {
		var mr map[int]bool
		if needMatched {
			mr = matchedRight
		}
		if err := probe(0, left.RowCount(), &leftIdx, &rightIdx, mr); err != nil {
			return nil, err
		}
	}

	// Right/Full：补未匹配右行
	if needMatched {
		for i := 0; i < right.RowCount(); i++ {
			if !matchedRight[i] {
				leftIdx = append(leftIdx, -1)
				rightIdx = append(rightIdx, i)
			}
		}
	}

	out := assembleJoin(x.Type, x.Schema(), left, right, leftIdx, rightIdx)

	// 残余非等值条件后过滤（仅Inner安全，其余在算法选择时已禁用）
	if x.Residual != nil {
		mask, err := ex.evalPredicate(x.Residual, out)
		if err != nil {
			return nil, err
		}
		out = out.FilterMask(mask)
	}
	return out, nil
}

// hashKeyRow 计算键元组哈希；任一键NULL返回null=true
func hashKeyRow(h *util.RowHasher, keys []*metadata.Column, row int) (uint64, bool) {
	h.Reset()
	for _, k := range keys {
		if k.IsNull(row) {
			return 0, true
		}
		k.HashRow(h, row)
	}
	return h.Sum64(), false
}

func keyRowsEqual(a []*metadata.Column, ai int, b []*metadata.Column, bi int) bool {
	for c := range a {
		av, bv := a[c].GetValue(ai), b[c].GetValue(bi)
		if av.IsNull() || bv.IsNull() {
			return false
		}
		if basic.Compare(av, bv) != 0 {
			return false
		}
	}
	return true
}

// assembleJoin 按行号对收集输出表；-1行号产生NULL行
func assembleJoin(t plan.JoinType, schema *metadata.Schema, left, right *metadata.Table, leftIdx, rightIdx []int) *metadata.Table {
	if t == plan.JoinSemi || t == plan.JoinAnti {
		return left.Gather(leftIdx)
	}
	cols := make([]*metadata.Column, 0, left.NumColumns()+right.NumColumns())
	for c := 0; c < left.NumColumns(); c++ {
		cols = append(cols, left.Column(c).GatherNullable(leftIdx))
	}
	for c := 0; c < right.NumColumns(); c++ {
		cols = append(cols, right.Column(c).GatherNullable(rightIdx))
	}
	return metadata.NewTable(schema, cols)
}

// execNestedLoopJoin 左×右逐对求条件；与哈希连接同语义
func (ex *Executor) execNestedLoopJoin(x *plan.PhysicalNestedLoopJoin) (*metadata.Table, error) {
	left, err := ex.Execute(x.Left)
	if err != nil {
		return nil, err
	}
	right, err := ex.Execute(x.Right)
	if err != nil {
		return nil, err
	}

	// 逐对求条件：每个左右行组合拼成一行后以EvalRow评估
	var leftIdx, rightIdx []int
	matchedRight := make([]bool, right.RowCount())

	combinedSchema := left.Schema().Merge(right.Schema())
	for l := 0; l < left.RowCount(); l++ {
		if err := ex.ctx.Err(); err != nil {
			return nil, err
		}
		anyMatch := false
		for r := 0; r < right.RowCount(); r++ {
			row := append(left.GetRow(l), right.GetRow(r)...)
			ev := ex.newEvaluator()
			v, err := ev.EvalRow(x.Condition, row, combinedSchema)
			if err != nil {
				return nil, err
			}
			if b, ok := v.AsBool(); ok && b {
				anyMatch = true
				matchedRight[r] = true
				switch x.Type {
				case plan.JoinSemi:
				case plan.JoinAnti:
				default:
					leftIdx = append(leftIdx, l)
					rightIdx = append(rightIdx, r)
				}
				if x.Type == plan.JoinSemi {
					break
				}
			}
		}
		switch x.Type {
		case plan.JoinSemi:
			if anyMatch {
				leftIdx = append(leftIdx, l)
			}
		case plan.JoinAnti:
			if !anyMatch {
				leftIdx = append(leftIdx, l)
			}
		case plan.JoinLeft, plan.JoinFull:
			if !anyMatch {
				leftIdx = append(leftIdx, l)
				rightIdx = append(rightIdx, -1)
			}
		}
	}
	if x.Type == plan.JoinRight || x.Type == plan.JoinFull {
		for r := 0; r < right.RowCount(); r++ {
			if !matchedRight[r] {
				leftIdx = append(leftIdx, -1)
				rightIdx = append(rightIdx, r)
			}
		}
	}
	return assembleJoin(x.Type, x.Schema(), left, right, leftIdx, rightIdx), nil
}

// execCrossJoin 笛卡尔积
func (ex *Executor) execCrossJoin(x *plan.PhysicalCrossJoin) (*metadata.Table, error) {
	left, err := ex.Execute(x.Left)
	if err != nil {
		return nil, err
	}
	right, err := ex.Execute(x.Right)
	if err != nil {
		return nil, err
	}
	n := left.RowCount() * right.RowCount()
	leftIdx := make([]int, 0, n)
	rightIdx := make([]int, 0, n)
	for l := 0; l < left.RowCount(); l++ {
		for r := 0; r < right.RowCount(); r++ {
			leftIdx = append(leftIdx, l)
			rightIdx = append(rightIdx, r)
		}
	}
	return assembleJoin(plan.JoinCross, x.Schema(), left, right, leftIdx, rightIdx), nil
}
