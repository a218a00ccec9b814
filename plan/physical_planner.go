package plan

import (
	"os"
	"strings"
)

// CatalogStats 物理规划器的目录统计来源
type CatalogStats interface {
	// TableRowCount 表行数
	TableRowCount(name string) (uint64, bool)
}

// VariableSource 会话变量来源（大小写不敏感）
type VariableSource interface {
	GetVariable(name string) (interface{}, bool)
	GetSystemVariable(name string) (interface{}, bool)
}

// PhysicalPlanner 回填行数并计算执行提示
type PhysicalPlanner struct {
	catalog CatalogStats
	session VariableSource

	parallelEnabled bool
	rowThreshold    uint64
}

// NewPhysicalPlanner 创建物理规划器。环境变量在会话变量缺省时
// 于构造期读取一次
func NewPhysicalPlanner(catalog CatalogStats, session VariableSource) *PhysicalPlanner {
	p := &PhysicalPlanner{catalog: catalog, session: session}
	p.parallelEnabled = p.resolveParallelEnabled()
	p.rowThreshold = p.resolveRowThreshold()
	return p
}

func (p *PhysicalPlanner) resolveParallelEnabled() bool {
	if p.session != nil {
		if v, ok := p.session.GetVariable("PARALLEL_EXECUTION"); ok {
			if b, ok := v.(bool); ok {
				return b
			}
			return true
		}
		if v, ok := p.session.GetSystemVariable("PARALLEL_EXECUTION"); ok {
			if b, ok := v.(bool); ok {
				return b
			}
			return true
		}
	}
	if env, ok := os.LookupEnv("YACHTSQL_PARALLEL_EXECUTION"); ok {
		return !strings.EqualFold(env, "false") && env != "0"
	}
	return true
}

func (p *PhysicalPlanner) resolveRowThreshold() uint64 {
	if p.session != nil {
		if v, ok := p.session.GetVariable("PARALLEL_ROW_THRESHOLD"); ok {
			if n, ok := v.(int64); ok && n >= 0 {
				return uint64(n)
			}
		}
	}
	return ParallelRowThreshold
}

// Plan 回填行数 + 自底向上计算提示
func (p *PhysicalPlanner) Plan(phys PhysicalPlan) PhysicalPlan {
	p.populateRowCounts(phys)
	p.computeHints(phys)
	return phys
}

func (p *PhysicalPlanner) populateRowCounts(phys PhysicalPlan) {
	WalkPhysical(phys, func(node PhysicalPlan) bool {
		if scan, ok := node.(*PhysicalScan); ok && p.catalog != nil {
			if n, ok := p.catalog.TableRowCount(scan.Table); ok {
				scan.RowCount = &n
			}
		}
		return true
	})
}

// computeHints 估计行数自底向上传播；并行判定按§4.4规则
func (p *PhysicalPlanner) computeHints(phys PhysicalPlan) {
	for _, c := range phys.Children() {
		p.computeHints(c)
	}
	h := phys.Hints()
	switch x := phys.(type) {
	case *PhysicalScan:
		h.BoundType = BoundIO
		if x.RowCount != nil {
			h.EstimatedRows = *x.RowCount
		} else {
			h.EstimatedRows = uint64(defaultBaseRows)
		}

	case *PhysicalSample:
		h.BoundType = BoundCompute
		h.EstimatedRows = x.Input.Hints().EstimatedRows / 2

	case *PhysicalFilter:
		h.BoundType = BoundCompute
		h.EstimatedRows = uint64(float64(x.Input.Hints().EstimatedRows) * 0.33)

	case *PhysicalProject:
		h.BoundType = BoundCompute
		h.EstimatedRows = x.Input.Hints().EstimatedRows

	case *PhysicalHashJoin:
		p.binaryJoinHints(h, x.Left, x.Right, true)

	case *PhysicalNestedLoopJoin:
		p.binaryJoinHints(h, x.Left, x.Right, false)

	case *PhysicalCrossJoin:
		l, r := x.Left.Hints(), x.Right.Hints()
		h.BoundType = binaryBound(x.Left, x.Right)
		h.EstimatedRows = saturatingMul(l.EstimatedRows, r.EstimatedRows)
		h.Parallel = p.parallelEnabled &&
			l.EstimatedRows >= p.rowThreshold && r.EstimatedRows >= p.rowThreshold &&
			h.BoundType == BoundCompute

	case *PhysicalHashAggregate:
		// 聚合单线程归约，不并行
		h.BoundType = BoundMemory
		in := x.Input.Hints().EstimatedRows
		if len(x.GroupBy) == 0 {
			h.EstimatedRows = 1
		} else {
			h.EstimatedRows = in/3 + 1
		}

	case *PhysicalSort:
		h.BoundType = BoundMemory
		h.EstimatedRows = x.Input.Hints().EstimatedRows

	case *PhysicalTopN:
		h.BoundType = BoundMemory
		n := uint64(x.Limit + x.Offset)
		in := x.Input.Hints().EstimatedRows
		if n < in {
			h.EstimatedRows = n
		} else {
			h.EstimatedRows = in
		}

	case *PhysicalLimit:
		h.BoundType = BoundCompute
		in := x.Input.Hints().EstimatedRows
		if x.Limit >= 0 && uint64(x.Limit) < in {
			h.EstimatedRows = uint64(x.Limit)
		} else {
			h.EstimatedRows = in
		}

	case *PhysicalDistinct:
		h.BoundType = BoundMemory
		h.EstimatedRows = x.Input.Hints().EstimatedRows/2 + 1

	case *PhysicalSetOp:
		l, r := x.Left.Hints(), x.Right.Hints()
		h.BoundType = binaryBound(x.Left, x.Right)
		switch x.Op {
		case SetUnion:
			h.EstimatedRows = l.EstimatedRows + r.EstimatedRows
			h.Parallel = p.parallelEnabled &&
				l.EstimatedRows >= p.rowThreshold && r.EstimatedRows >= p.rowThreshold &&
				h.BoundType == BoundCompute
		case SetIntersect:
			if l.EstimatedRows < r.EstimatedRows {
				h.EstimatedRows = l.EstimatedRows
			} else {
				h.EstimatedRows = r.EstimatedRows
			}
		default:
			h.EstimatedRows = l.EstimatedRows
		}

	case *PhysicalWindow:
		// 窗口单线程归约
		h.BoundType = BoundMemory
		h.EstimatedRows = x.Input.Hints().EstimatedRows

	case *PhysicalUnnest:
		h.BoundType = BoundCompute
		base := uint64(1)
		if x.Input != nil {
			base = x.Input.Hints().EstimatedRows
		}
		h.EstimatedRows = base * 4

	case *PhysicalQualify:
		h.BoundType = BoundCompute
		h.EstimatedRows = uint64(float64(x.Input.Hints().EstimatedRows) * 0.33)

	case *PhysicalWithCte:
		h.BoundType = BoundCompute
		h.EstimatedRows = x.Body.Hints().EstimatedRows
		// 非递归大CTE标记并行预计算
		for i := range x.CTEs {
			if !x.CTEs[i].Recursive && x.CTEs[i].Plan.Hints().EstimatedRows >= p.rowThreshold {
				x.CTEs[i].ParallelPrecompute = p.parallelEnabled
			}
		}

	case *PhysicalCteRef:
		h.BoundType = BoundCompute
		h.EstimatedRows = uint64(defaultBaseRows)

	case *PhysicalValues:
		h.BoundType = BoundCompute
		h.EstimatedRows = uint64(len(x.Rows))

	case *PhysicalEmpty:
		h.BoundType = BoundCompute
		if x.OneRow {
			h.EstimatedRows = 1
		}

	case *PhysicalGapFill:
		h.BoundType = BoundCompute
		h.EstimatedRows = x.Input.Hints().EstimatedRows * 2

	default:
		h.BoundType = BoundCompute
	}
}

// binaryJoinHints 二元连接：两侧均达阈值且Compute倾向才并行
func (p *PhysicalPlanner) binaryJoinHints(h *ExecutionHints, left, right PhysicalPlan, hash bool) {
	l, r := left.Hints(), right.Hints()
	bound := binaryBound(left, right)
	if hash && r.EstimatedRows > 1<<22 {
		bound = BoundMemory
	}
	h.BoundType = bound
	h.EstimatedRows = uint64(float64(saturatingMul(l.EstimatedRows, r.EstimatedRows)) * defaultJoinSelective)
	if h.EstimatedRows < 1 {
		h.EstimatedRows = 1
	}
	h.Parallel = p.parallelEnabled &&
		l.EstimatedRows >= p.rowThreshold && r.EstimatedRows >= p.rowThreshold &&
		bound == BoundCompute
}

func binaryBound(left, right PhysicalPlan) BoundType {
	lb, rb := left.Hints().BoundType, right.Hints().BoundType
	if lb == BoundIO || rb == BoundIO {
		// 子节点IO倾向在上层连接转为计算倾向（数据已驻内存）
		return BoundCompute
	}
	if lb == BoundMemory || rb == BoundMemory {
		return BoundMemory
	}
	return BoundCompute
}

func saturatingMul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	p := a * b
	if p/b != a {
		return 1<<64 - 1
	}
	return p
}
