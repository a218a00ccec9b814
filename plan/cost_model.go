package plan

import (
	"strings"

	"github.com/zhukovaskychina/yachtsql/statistics"
)

// 代价模型参数。基数未知时取1000；等值连接选择率
// 1/max(distinct(A), distinct(B))，无统计时1/100；
// hash表尺寸按右表行数×100字节估算
const (
	defaultBaseRows      = 1000.0
	defaultJoinSelective = 1.0 / 100
	hashBytesPerRow      = 100.0
	memBudgetBytes       = 64 * 1024 * 1024
	crossJoinPenalty     = 1000.0
)

type costModel struct {
	relations []joinRelation
	stats     map[string]*statistics.TableStats
}

func newCostModel(relations []joinRelation, _ []joinEdge, stats map[string]*statistics.TableStats) *costModel {
	return &costModel{relations: relations, stats: stats}
}

// baseRows 基础关系基数
func (m *costModel) baseRows(rel int) float64 {
	if scan, ok := m.relations[rel].plan.(*LogicalScan); ok {
		if ts := m.tableStats(scan.Table); ts != nil && ts.RowCount > 0 {
			return float64(ts.RowCount)
		}
	}
	return defaultBaseRows
}

func (m *costModel) tableStats(table string) *statistics.TableStats {
	if m.stats == nil {
		return nil
	}
	if ts, ok := m.stats[strings.ToUpper(table)]; ok {
		return ts
	}
	return m.stats[table]
}

// edgeSelectivity 一条等值边的选择率
func (m *costModel) edgeSelectivity(e joinEdge) float64 {
	var dl, dr uint64
	for i := 0; i < len(m.relations); i++ {
		if e.relMask&(1<<uint(i)) == 0 {
			continue
		}
		if scan, ok := m.relations[i].plan.(*LogicalScan); ok {
			if ts := m.tableStats(scan.Table); ts != nil {
				if dl == 0 {
					dl = ts.Distinct(e.leftCol)
				} else {
					dr = ts.Distinct(e.rightCol)
				}
			}
		}
	}
	maxD := dl
	if dr > maxD {
		maxD = dr
	}
	if maxD == 0 {
		return defaultJoinSelective
	}
	return 1.0 / float64(maxD)
}

// joinStates 左右方案连接后的DP状态。
// cpu = |R| + 1.2·|L| + 0.5·out
// memory = max(1, hash_table_size / mem_budget · 10)
// io = max(0, hash_table_size − mem_budget) · 0.01
// 交叉连接（无边）在裸代价上加1000×惩罚
func (m *costModel) joinStates(l, r *dpState, lMask, rMask uint64, edges []joinEdge, relations []joinRelation) *dpState {
	selectivity := 1.0
	for _, e := range edges {
		selectivity *= m.edgeSelectivity(e)
	}
	out := l.rows * r.rows * selectivity
	if out < 1 {
		out = 1
	}

	hashTableSize := r.rows * hashBytesPerRow
	cpu := r.rows + 1.2*l.rows + 0.5*out
	memory := hashTableSize / memBudgetBytes * 10
	if memory < 1 {
		memory = 1
	}
	io := (hashTableSize - memBudgetBytes) * 0.01
	if io < 0 {
		io = 0
	}
	cost := cpu + memory + io
	if len(edges) == 0 {
		cost *= crossJoinPenalty
	}

	// 新方案列布局：左方案列在前
	leftWidth := 0
	for rel := range l.colBase {
		leftWidth += relations[rel].width
	}
	colBase := map[int]int{}
	for rel, base := range l.colBase {
		colBase[rel] = base
	}
	for rel, base := range r.colBase {
		colBase[rel] = leftWidth + base
	}

	// 边条件重写到新列布局
	var cond Expression
	for _, e := range edges {
		rewritten := m.remapToState(e.cond, colBase)
		cond = andCombine(cond, rewritten)
	}

	state := &dpState{
		plan:    &LogicalJoin{Type: JoinInner, Left: l.plan, Right: r.plan, Condition: cond},
		rows:    out,
		cost:    l.cost + r.cost + cost,
		order:   append(append([]int{}, l.order...), r.order...),
		colBase: colBase,
	}
	_ = lMask
	_ = rMask
	return state
}

// remapToState 全局列下标→方案局部下标
func (m *costModel) remapToState(e Expression, colBase map[int]int) Expression {
	return TransformExpr(e, func(x Expression) Expression {
		if ref, ok := x.(*ColumnRef); ok {
			for rel, r := range m.relations {
				if ref.Index >= r.offset && ref.Index < r.offset+r.width {
					base, ok := colBase[rel]
					if !ok {
						return x
					}
					return &ColumnRef{Name: ref.Name, Qualifier: ref.Qualifier,
						Index: base + (ref.Index - r.offset), Type: ref.Type}
				}
			}
		}
		return x
	})
}
