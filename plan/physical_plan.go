package plan

import (
	"fmt"
	"strings"

	"github.com/zhukovaskychina/yachtsql/metadata"
)

// BoundType 算子资源倾向，并行判定使用
type BoundType int

const (
	BoundCompute BoundType = iota
	BoundMemory
	BoundIO
)

func (t BoundType) String() string {
	switch t {
	case BoundMemory:
		return "Memory"
	case BoundIO:
		return "IO"
	default:
		return "Compute"
	}
}

// PARALLEL_ROW_THRESHOLD 并行执行的默认行数阈值
const ParallelRowThreshold uint64 = 10000

// ExecutionHints 执行提示
type ExecutionHints struct {
	Parallel      bool
	BoundType     BoundType
	EstimatedRows uint64
}

// PhysicalPlan 物理计划接口：逻辑镜像 + 算法选择 + 提示
type PhysicalPlan interface {
	Schema() *metadata.Schema
	Children() []PhysicalPlan
	Hints() *ExecutionHints
	String() string
}

// basePhysical 提示与行数承载
type basePhysical struct {
	hints    ExecutionHints
	RowCount *uint64 // 目录统计回填，仅Scan有
}

func (b *basePhysical) Hints() *ExecutionHints { return &b.hints }

// PhysicalScan 扫描
type PhysicalScan struct {
	basePhysical
	Table       string
	TableSchema *metadata.Schema
	Projection  []int
}

func (p *PhysicalScan) Schema() *metadata.Schema {
	if len(p.Projection) == 0 {
		return p.TableSchema
	}
	return p.TableSchema.Project(p.Projection)
}
func (p *PhysicalScan) Children() []PhysicalPlan { return nil }
func (p *PhysicalScan) String() string {
	if p.RowCount != nil {
		return fmt.Sprintf("Scan(%s, rows=%d)", p.Table, *p.RowCount)
	}
	return "Scan(" + p.Table + ")"
}

// PhysicalSample 采样
type PhysicalSample struct {
	basePhysical
	Input  PhysicalPlan
	Method SampleMethod
	Arg    float64
}

func (p *PhysicalSample) Schema() *metadata.Schema  { return p.Input.Schema() }
func (p *PhysicalSample) Children() []PhysicalPlan  { return []PhysicalPlan{p.Input} }
func (p *PhysicalSample) String() string            { return fmt.Sprintf("Sample(m=%d)", p.Method) }

// PhysicalFilter 过滤
type PhysicalFilter struct {
	basePhysical
	Input     PhysicalPlan
	Predicate Expression
}

func (p *PhysicalFilter) Schema() *metadata.Schema { return p.Input.Schema() }
func (p *PhysicalFilter) Children() []PhysicalPlan { return []PhysicalPlan{p.Input} }
func (p *PhysicalFilter) String() string           { return "Filter(" + p.Predicate.String() + ")" }

// PhysicalProject 投影
type PhysicalProject struct {
	basePhysical
	Input        PhysicalPlan
	Exprs        []Expression
	OutputSchema *metadata.Schema
}

func (p *PhysicalProject) Schema() *metadata.Schema { return p.OutputSchema }
func (p *PhysicalProject) Children() []PhysicalPlan { return []PhysicalPlan{p.Input} }
func (p *PhysicalProject) String() string           { return "Project(" + joinExprs(p.Exprs) + ")" }

// PhysicalHashJoin 哈希连接：等值键分列
type PhysicalHashJoin struct {
	basePhysical
	Type      JoinType
	Left      PhysicalPlan
	Right     PhysicalPlan
	LeftKeys  []Expression
	RightKeys []Expression
	// Residual 非等值残余条件
	Residual Expression
}

func (p *PhysicalHashJoin) Schema() *metadata.Schema { return joinSchema(p.Type, p.Left, p.Right) }
func (p *PhysicalHashJoin) Children() []PhysicalPlan { return []PhysicalPlan{p.Left, p.Right} }
func (p *PhysicalHashJoin) String() string {
	return fmt.Sprintf("HashJoin(%s, keys=%d, parallel=%v)", p.Type, len(p.LeftKeys), p.hints.Parallel)
}

// PhysicalNestedLoopJoin 嵌套循环连接
type PhysicalNestedLoopJoin struct {
	basePhysical
	Type      JoinType
	Left      PhysicalPlan
	Right     PhysicalPlan
	Condition Expression
}

func (p *PhysicalNestedLoopJoin) Schema() *metadata.Schema { return joinSchema(p.Type, p.Left, p.Right) }
func (p *PhysicalNestedLoopJoin) Children() []PhysicalPlan { return []PhysicalPlan{p.Left, p.Right} }
func (p *PhysicalNestedLoopJoin) String() string {
	return fmt.Sprintf("NestedLoopJoin(%s)", p.Type)
}

// PhysicalCrossJoin 交叉连接
type PhysicalCrossJoin struct {
	basePhysical
	Left  PhysicalPlan
	Right PhysicalPlan
}

func (p *PhysicalCrossJoin) Schema() *metadata.Schema {
	return p.Left.Schema().Merge(p.Right.Schema())
}
func (p *PhysicalCrossJoin) Children() []PhysicalPlan { return []PhysicalPlan{p.Left, p.Right} }
func (p *PhysicalCrossJoin) String() string           { return "CrossJoin" }

func joinSchema(t JoinType, left, right PhysicalPlan) *metadata.Schema {
	switch t {
	case JoinSemi, JoinAnti:
		return left.Schema()
	case JoinLeft:
		return left.Schema().Merge(right.Schema().Nullable())
	case JoinRight:
		return left.Schema().Nullable().Merge(right.Schema())
	case JoinFull:
		return left.Schema().Nullable().Merge(right.Schema().Nullable())
	default:
		return left.Schema().Merge(right.Schema())
	}
}

// PhysicalHashAggregate 哈希聚合
type PhysicalHashAggregate struct {
	basePhysical
	Input        PhysicalPlan
	GroupBy      []Expression
	Aggregates   []AggregateItem
	GroupingSets [][]int
	OutputSchema *metadata.Schema
}

func (p *PhysicalHashAggregate) Schema() *metadata.Schema { return p.OutputSchema }
func (p *PhysicalHashAggregate) Children() []PhysicalPlan { return []PhysicalPlan{p.Input} }
func (p *PhysicalHashAggregate) String() string {
	return fmt.Sprintf("HashAggregate(groups=%d, aggs=%d)", len(p.GroupBy), len(p.Aggregates))
}

// PhysicalSort 排序
type PhysicalSort struct {
	basePhysical
	Input PhysicalPlan
	Keys  []OrderKey
}

func (p *PhysicalSort) Schema() *metadata.Schema { return p.Input.Schema() }
func (p *PhysicalSort) Children() []PhysicalPlan { return []PhysicalPlan{p.Input} }
func (p *PhysicalSort) String() string {
	parts := make([]string, len(p.Keys))
	for i, k := range p.Keys {
		parts[i] = k.String()
	}
	return "Sort(" + strings.Join(parts, ", ") + ")"
}

// PhysicalTopN Sort+Limit融合：有界堆
type PhysicalTopN struct {
	basePhysical
	Input  PhysicalPlan
	Keys   []OrderKey
	Limit  int64
	Offset int64
}

func (p *PhysicalTopN) Schema() *metadata.Schema { return p.Input.Schema() }
func (p *PhysicalTopN) Children() []PhysicalPlan { return []PhysicalPlan{p.Input} }
func (p *PhysicalTopN) String() string           { return fmt.Sprintf("TopN(%d+%d)", p.Limit, p.Offset) }

// PhysicalLimit 限制
type PhysicalLimit struct {
	basePhysical
	Input  PhysicalPlan
	Limit  int64
	Offset int64
}

func (p *PhysicalLimit) Schema() *metadata.Schema { return p.Input.Schema() }
func (p *PhysicalLimit) Children() []PhysicalPlan { return []PhysicalPlan{p.Input} }
func (p *PhysicalLimit) String() string           { return fmt.Sprintf("Limit(%d, %d)", p.Limit, p.Offset) }

// PhysicalDistinct 去重
type PhysicalDistinct struct {
	basePhysical
	Input PhysicalPlan
}

func (p *PhysicalDistinct) Schema() *metadata.Schema { return p.Input.Schema() }
func (p *PhysicalDistinct) Children() []PhysicalPlan { return []PhysicalPlan{p.Input} }
func (p *PhysicalDistinct) String() string           { return "Distinct" }

// PhysicalSetOp 集合运算
type PhysicalSetOp struct {
	basePhysical
	Op    SetOpType
	All   bool
	Left  PhysicalPlan
	Right PhysicalPlan
}

func (p *PhysicalSetOp) Schema() *metadata.Schema { return p.Left.Schema() }
func (p *PhysicalSetOp) Children() []PhysicalPlan { return []PhysicalPlan{p.Left, p.Right} }
func (p *PhysicalSetOp) String() string {
	s := p.Op.String()
	if p.All {
		s += " ALL"
	}
	return s
}

// PhysicalWindow 窗口
type PhysicalWindow struct {
	basePhysical
	Input        PhysicalPlan
	Windows      []WindowItem
	OutputSchema *metadata.Schema
}

func (p *PhysicalWindow) Schema() *metadata.Schema { return p.OutputSchema }
func (p *PhysicalWindow) Children() []PhysicalPlan { return []PhysicalPlan{p.Input} }
func (p *PhysicalWindow) String() string           { return fmt.Sprintf("Window(%d)", len(p.Windows)) }

// PhysicalUnnest 展开
type PhysicalUnnest struct {
	basePhysical
	Input        PhysicalPlan // 可为nil
	Expr         Expression
	WithOffset   bool
	OutputSchema *metadata.Schema
}

func (p *PhysicalUnnest) Schema() *metadata.Schema { return p.OutputSchema }
func (p *PhysicalUnnest) Children() []PhysicalPlan {
	if p.Input == nil {
		return nil
	}
	return []PhysicalPlan{p.Input}
}
func (p *PhysicalUnnest) String() string { return "Unnest(" + p.Expr.String() + ")" }

// PhysicalQualify 窗口谓词过滤
type PhysicalQualify struct {
	basePhysical
	Input     PhysicalPlan
	Predicate Expression
}

func (p *PhysicalQualify) Schema() *metadata.Schema { return p.Input.Schema() }
func (p *PhysicalQualify) Children() []PhysicalPlan { return []PhysicalPlan{p.Input} }
func (p *PhysicalQualify) String() string           { return "Qualify(" + p.Predicate.String() + ")" }

// PhysicalCteDef 单个CTE物理定义
type PhysicalCteDef struct {
	Name          string
	Plan          PhysicalPlan
	Recursive     bool
	Anchor        PhysicalPlan
	RecursiveTerm PhysicalPlan
	UnionAll      bool
	// ParallelPrecompute 物理规划器标记的并行预计算
	ParallelPrecompute bool
}

// PhysicalWithCte WITH
type PhysicalWithCte struct {
	basePhysical
	CTEs []PhysicalCteDef
	Body PhysicalPlan
}

func (p *PhysicalWithCte) Schema() *metadata.Schema { return p.Body.Schema() }
func (p *PhysicalWithCte) Children() []PhysicalPlan {
	var out []PhysicalPlan
	for _, c := range p.CTEs {
		out = append(out, c.Plan)
	}
	return append(out, p.Body)
}
func (p *PhysicalWithCte) String() string {
	names := make([]string, len(p.CTEs))
	for i, c := range p.CTEs {
		names[i] = c.Name
	}
	return "WithCte(" + strings.Join(names, ", ") + ")"
}

// PhysicalCteRef CTE引用
type PhysicalCteRef struct {
	basePhysical
	Name         string
	OutputSchema *metadata.Schema
}

func (p *PhysicalCteRef) Schema() *metadata.Schema { return p.OutputSchema }
func (p *PhysicalCteRef) Children() []PhysicalPlan { return nil }
func (p *PhysicalCteRef) String() string           { return "CteRef(" + p.Name + ")" }

// PhysicalValues 字面行
type PhysicalValues struct {
	basePhysical
	Rows         [][]Expression
	OutputSchema *metadata.Schema
}

func (p *PhysicalValues) Schema() *metadata.Schema { return p.OutputSchema }
func (p *PhysicalValues) Children() []PhysicalPlan { return nil }
func (p *PhysicalValues) String() string           { return fmt.Sprintf("Values(%d)", len(p.Rows)) }

// PhysicalEmpty 空表/单行
type PhysicalEmpty struct {
	basePhysical
	OneRow       bool
	OutputSchema *metadata.Schema
}

func (p *PhysicalEmpty) Schema() *metadata.Schema { return p.OutputSchema }
func (p *PhysicalEmpty) Children() []PhysicalPlan { return nil }
func (p *PhysicalEmpty) String() string           { return fmt.Sprintf("Empty(oneRow=%v)", p.OneRow) }

// PhysicalGapFill 时间序列填充
type PhysicalGapFill struct {
	basePhysical
	Input      PhysicalPlan
	TimeColumn Expression
	Stride     Expression
	Origin     Expression
}

func (p *PhysicalGapFill) Schema() *metadata.Schema { return p.Input.Schema() }
func (p *PhysicalGapFill) Children() []PhysicalPlan { return []PhysicalPlan{p.Input} }
func (p *PhysicalGapFill) String() string           { return "GapFill" }

// PhysicalStatement DML/DDL/脚本包装：Logical承载语义，
// Sources为其中已优化的子查询计划
type PhysicalStatement struct {
	basePhysical
	Logical LogicalPlan
	Sources []PhysicalPlan
}

func (p *PhysicalStatement) Schema() *metadata.Schema { return p.Logical.Schema() }
func (p *PhysicalStatement) Children() []PhysicalPlan { return p.Sources }
func (p *PhysicalStatement) String() string           { return "Stmt:" + p.Logical.String() }

// PhysicalExplain EXPLAIN
type PhysicalExplain struct {
	basePhysical
	Inner PhysicalPlan
}

func (p *PhysicalExplain) Schema() *metadata.Schema {
	return (&LogicalExplain{}).Schema()
}
func (p *PhysicalExplain) Children() []PhysicalPlan { return []PhysicalPlan{p.Inner} }
func (p *PhysicalExplain) String() string           { return "Explain" }

// WalkPhysical 前序遍历
func WalkPhysical(p PhysicalPlan, fn func(PhysicalPlan) bool) {
	if p == nil || !fn(p) {
		return
	}
	for _, c := range p.Children() {
		WalkPhysical(c, fn)
	}
}

// FormatPhysical 缩进渲染（EXPLAIN输出）
func FormatPhysical(p PhysicalPlan, indent int) string {
	var sb strings.Builder
	sb.WriteString(strings.Repeat("  ", indent))
	sb.WriteString(p.String())
	h := p.Hints()
	if h.EstimatedRows > 0 || h.Parallel {
		fmt.Fprintf(&sb, " [est=%d, %s, parallel=%v]", h.EstimatedRows, h.BoundType, h.Parallel)
	}
	sb.WriteString("\n")
	for _, c := range p.Children() {
		sb.WriteString(FormatPhysical(c, indent+1))
	}
	return sb.String()
}
