package plan

import (
	"github.com/zhukovaskychina/yachtsql/metadata"
	"github.com/zhukovaskychina/yachtsql/statistics"
)

// reorderJoins 连接重排：仅对连通的INNER连接子树做DPsub枚举；
// LEFT/RIGHT/FULL/CROSS保持源序
func reorderJoins(p LogicalPlan, stats map[string]*statistics.TableStats) LogicalPlan {
	switch x := p.(type) {
	case *LogicalJoin:
		if x.Type == JoinInner && x.Condition != nil {
			if reordered, ok := tryReorderInnerTree(x, stats); ok {
				return reordered
			}
		}
		x.Left = reorderJoins(x.Left, stats)
		x.Right = reorderJoins(x.Right, stats)
		return x
	case *LogicalFilter:
		x.Input = reorderJoins(x.Input, stats)
		return x
	case *LogicalProject:
		x.Input = reorderJoins(x.Input, stats)
		return x
	case *LogicalAggregate:
		x.Input = reorderJoins(x.Input, stats)
		return x
	case *LogicalSort:
		x.Input = reorderJoins(x.Input, stats)
		return x
	case *LogicalLimit:
		x.Input = reorderJoins(x.Input, stats)
		return x
	case *LogicalDistinct:
		x.Input = reorderJoins(x.Input, stats)
		return x
	case *LogicalSetOp:
		x.Left = reorderJoins(x.Left, stats)
		x.Right = reorderJoins(x.Right, stats)
		return x
	case *LogicalWindow:
		x.Input = reorderJoins(x.Input, stats)
		return x
	case *LogicalQualify:
		x.Input = reorderJoins(x.Input, stats)
		return x
	case *LogicalWithCte:
		for i := range x.CTEs {
			x.CTEs[i].Plan = reorderJoins(x.CTEs[i].Plan, stats)
		}
		x.Body = reorderJoins(x.Body, stats)
		return x
	}
	return p
}

// joinRelation DP枚举的基础关系
type joinRelation struct {
	plan   LogicalPlan
	offset int // 原合并模式中的起始列
	width  int
}

// joinEdge CNF连接谓词中连接两个关系的一条边
type joinEdge struct {
	cond        Expression
	relMask     uint64 // 引用的关系集合
	leftCol     string // 统计查找用列名
	rightCol    string
}

// tryReorderInnerTree 收集连通INNER子树的关系与边，DP求最优序。
// 超过12个关系退回源序（DPsub代价指数）
func tryReorderInnerTree(root *LogicalJoin, stats map[string]*statistics.TableStats) (LogicalPlan, bool) {
	var relations []joinRelation
	var conjuncts []Expression
	if !collectInnerTree(root, &relations, &conjuncts) {
		return nil, false
	}
	if len(relations) < 3 || len(relations) > 12 {
		return nil, false
	}

	// 列下标→关系编号
	colToRel := map[int]int{}
	offset := 0
	for i := range relations {
		relations[i].offset = offset
		relations[i].width = relations[i].plan.Schema().Len()
		for c := 0; c < relations[i].width; c++ {
			colToRel[offset+c] = i
		}
		offset += relations[i].width
	}

	// 合取项→边：恰好引用两个关系的（含非等值）成为边，其余留作后过滤
	var edges []joinEdge
	var residual []Expression
	for _, c := range conjuncts {
		mask := uint64(0)
		refs := map[int]bool{}
		ReferencedIndexes(c, refs)
		for idx := range refs {
			mask |= 1 << uint(colToRel[idx])
		}
		if popcount(mask) != 2 {
			residual = append(residual, c)
			continue
		}
		edge := joinEdge{cond: c, relMask: mask}
		if bin, ok := c.(*BinaryOp); ok && bin.Op == "=" {
			if lr, ok := bin.Left.(*ColumnRef); ok {
				edge.leftCol = lr.Name
			}
			if rr, ok := bin.Right.(*ColumnRef); ok {
				edge.rightCol = rr.Name
			}
		}
		edges = append(edges, edge)
	}
	if len(edges) == 0 {
		return nil, false
	}

	model := newCostModel(relations, edges, stats)
	best := dpSub(relations, edges, model)
	if best == nil {
		return nil, false
	}

	// 重建计划：best序下列下标重排，需要一层投影恢复原列序
	plan := best.plan
	mapping := make([]int, offset)
	pos := 0
	for _, relIdx := range best.order {
		r := relations[relIdx]
		for c := 0; c < r.width; c++ {
			mapping[r.offset+c] = pos
			pos++
		}
	}
	// 连接条件在DP内已按新下标重写；残余合取项重写后加过滤
	for _, c := range residual {
		plan = &LogicalFilter{Input: plan, Predicate: remapColumnRefs(c, mapping)}
	}
	// 恢复原始列序
	exprs := make([]Expression, offset)
	schema := make([]int, 0, offset)
	origSchema := joinTreeSchema(relations)
	for i := 0; i < offset; i++ {
		f := origSchema.Fields[i]
		exprs[i] = &ColumnRef{Name: f.Name, Qualifier: f.Qualifier, Index: mapping[i], Type: f.Type}
		schema = append(schema, i)
	}
	plan = &LogicalProject{Input: plan, Exprs: exprs, OutputSchema: origSchema}
	return plan, true
}

func joinTreeSchema(relations []joinRelation) *metadata.Schema {
	out := relations[0].plan.Schema().Clone()
	for _, r := range relations[1:] {
		out = out.Merge(r.plan.Schema())
	}
	return out
}

// collectInnerTree 收集连通INNER连接子树；遇到非INNER返回失败
func collectInnerTree(p LogicalPlan, relations *[]joinRelation, conjuncts *[]Expression) bool {
	if j, ok := p.(*LogicalJoin); ok && j.Type == JoinInner {
		// 先左后右保证列偏移与合并模式一致
		if !collectInnerTree(j.Left, relations, conjuncts) {
			return false
		}
		if !collectInnerTree(j.Right, relations, conjuncts) {
			return false
		}
		if j.Condition != nil {
			*conjuncts = append(*conjuncts, splitConjuncts(j.Condition)...)
		}
		return true
	}
	*relations = append(*relations, joinRelation{plan: p})
	return true
}

// dpState 一个关系子集的最优方案
type dpState struct {
	plan  LogicalPlan
	rows  float64
	cost  float64
	order []int // 关系编号序（列重排用）
	// colBase 每个关系在该方案输出中的起始列
	colBase map[int]int
}

// dpSub 经典连通子集动态规划
func dpSub(relations []joinRelation, edges []joinEdge, model *costModel) *dpState {
	n := len(relations)
	full := uint64(1)<<uint(n) - 1
	best := map[uint64]*dpState{}

	for i := 0; i < n; i++ {
		best[1<<uint(i)] = &dpState{
			plan:    relations[i].plan,
			rows:    model.baseRows(i),
			cost:    0,
			order:   []int{i},
			colBase: map[int]int{i: 0},
		}
	}

	for s := uint64(1); s <= full; s++ {
		if popcount(s) < 2 {
			continue
		}
		// 枚举真子集切分
		for sub := (s - 1) & s; sub > 0; sub = (sub - 1) & s {
			other := s &^ sub
			if sub > other {
				continue // 每对切分只枚举一次
			}
			l, lok := best[sub]
			r, rok := best[other]
			if !lok || !rok {
				continue
			}
			applicable := edgesBetween(edges, sub, other)
			if len(applicable) == 0 && s != full {
				// 非连通子集仅在最终集上允许（交叉连接兜底）
				continue
			}
			state := model.joinStates(l, r, sub, other, applicable, relations)
			if cur, ok := best[s]; !ok || state.cost < cur.cost {
				best[s] = state
			}
		}
	}
	return best[full]
}

func edgesBetween(edges []joinEdge, a, b uint64) []joinEdge {
	var out []joinEdge
	for _, e := range edges {
		if e.relMask&a != 0 && e.relMask&b != 0 && e.relMask&^(a|b) == 0 {
			out = append(out, e)
		}
	}
	return out
}

func popcount(x uint64) int {
	n := 0
	for x != 0 {
		x &= x - 1
		n++
	}
	return n
}
