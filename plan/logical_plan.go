package plan

import (
	"fmt"
	"strings"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/metadata"
	"github.com/zhukovaskychina/yachtsql/sqlparser"
)

// LogicalPlan 逻辑计划接口。每个节点本地持有重算输出模式所需的信息
type LogicalPlan interface {
	// Schema 输出模式
	Schema() *metadata.Schema
	// Children 子计划
	Children() []LogicalPlan
	// String 单节点描述
	String() string
}

// JoinType 连接类型
type JoinType int

const (
	JoinInner JoinType = iota
	JoinLeft
	JoinRight
	JoinFull
	JoinCross
	JoinSemi
	JoinAnti
)

func (t JoinType) String() string {
	switch t {
	case JoinInner:
		return "INNER"
	case JoinLeft:
		return "LEFT"
	case JoinRight:
		return "RIGHT"
	case JoinFull:
		return "FULL"
	case JoinCross:
		return "CROSS"
	case JoinSemi:
		return "SEMI"
	case JoinAnti:
		return "ANTI"
	}
	return "UNKNOWN"
}

// SetOpType 集合运算类型
type SetOpType int

const (
	SetUnion SetOpType = iota
	SetIntersect
	SetExcept
)

func (t SetOpType) String() string {
	switch t {
	case SetUnion:
		return "UNION"
	case SetIntersect:
		return "INTERSECT"
	default:
		return "EXCEPT"
	}
}

// ---- 读算子 ----

// LogicalScan 表扫描。Projection为空表示全列
type LogicalScan struct {
	Table       string
	TableSchema *metadata.Schema
	Projection  []int
}

func (p *LogicalScan) Schema() *metadata.Schema {
	if len(p.Projection) == 0 {
		return p.TableSchema
	}
	return p.TableSchema.Project(p.Projection)
}
func (p *LogicalScan) Children() []LogicalPlan { return nil }
func (p *LogicalScan) String() string {
	if len(p.Projection) > 0 {
		return fmt.Sprintf("Scan(%s, proj=%v)", p.Table, p.Projection)
	}
	return fmt.Sprintf("Scan(%s)", p.Table)
}

// SampleMethod 采样方法
type SampleMethod int

const (
	SampleBernoulli SampleMethod = iota
	SampleSystem
	SampleReservoir
)

// LogicalSample 表采样
type LogicalSample struct {
	Input  LogicalPlan
	Method SampleMethod
	Arg    float64 // 百分比或行数
}

func (p *LogicalSample) Schema() *metadata.Schema { return p.Input.Schema() }
func (p *LogicalSample) Children() []LogicalPlan  { return []LogicalPlan{p.Input} }
func (p *LogicalSample) String() string           { return fmt.Sprintf("Sample(m=%d, %g)", p.Method, p.Arg) }

// LogicalFilter 过滤
type LogicalFilter struct {
	Input     LogicalPlan
	Predicate Expression
}

func (p *LogicalFilter) Schema() *metadata.Schema { return p.Input.Schema() }
func (p *LogicalFilter) Children() []LogicalPlan  { return []LogicalPlan{p.Input} }
func (p *LogicalFilter) String() string           { return "Filter(" + p.Predicate.String() + ")" }

// LogicalProject 投影
type LogicalProject struct {
	Input        LogicalPlan
	Exprs        []Expression
	OutputSchema *metadata.Schema
}

func (p *LogicalProject) Schema() *metadata.Schema { return p.OutputSchema }
func (p *LogicalProject) Children() []LogicalPlan  { return []LogicalPlan{p.Input} }
func (p *LogicalProject) String() string           { return "Project(" + joinExprs(p.Exprs) + ")" }

// LogicalJoin 连接；Condition为nil表示交叉连接
type LogicalJoin struct {
	Type      JoinType
	Left      LogicalPlan
	Right     LogicalPlan
	Condition Expression
}

func (p *LogicalJoin) Schema() *metadata.Schema {
	switch p.Type {
	case JoinSemi, JoinAnti:
		return p.Left.Schema()
	case JoinLeft:
		return p.Left.Schema().Merge(p.Right.Schema().Nullable())
	case JoinRight:
		return p.Left.Schema().Nullable().Merge(p.Right.Schema())
	case JoinFull:
		return p.Left.Schema().Nullable().Merge(p.Right.Schema().Nullable())
	default:
		return p.Left.Schema().Merge(p.Right.Schema())
	}
}
func (p *LogicalJoin) Children() []LogicalPlan { return []LogicalPlan{p.Left, p.Right} }
func (p *LogicalJoin) String() string {
	if p.Condition == nil {
		return p.Type.String() + "Join"
	}
	return p.Type.String() + "Join(" + p.Condition.String() + ")"
}

// AggregateItem 一项聚合输出
type AggregateItem struct {
	Expr  *AggregateExpr
	Alias string
}

// LogicalAggregate 哈希聚合。GroupingSets非空时按组集展开
type LogicalAggregate struct {
	Input        LogicalPlan
	GroupBy      []Expression
	Aggregates   []AggregateItem
	GroupingSets [][]int // GroupBy的下标集
	OutputSchema *metadata.Schema
}

func (p *LogicalAggregate) Schema() *metadata.Schema { return p.OutputSchema }
func (p *LogicalAggregate) Children() []LogicalPlan  { return []LogicalPlan{p.Input} }
func (p *LogicalAggregate) String() string {
	return fmt.Sprintf("Aggregate(groups=%d, aggs=%d, sets=%d)", len(p.GroupBy), len(p.Aggregates), len(p.GroupingSets))
}

// LogicalSort 排序
type LogicalSort struct {
	Input LogicalPlan
	Keys  []OrderKey
}

func (p *LogicalSort) Schema() *metadata.Schema { return p.Input.Schema() }
func (p *LogicalSort) Children() []LogicalPlan  { return []LogicalPlan{p.Input} }
func (p *LogicalSort) String() string {
	parts := make([]string, len(p.Keys))
	for i, k := range p.Keys {
		parts[i] = k.String()
	}
	return "Sort(" + strings.Join(parts, ", ") + ")"
}

// LogicalLimit 限制；Limit<0表示仅OFFSET
type LogicalLimit struct {
	Input  LogicalPlan
	Limit  int64
	Offset int64
}

func (p *LogicalLimit) Schema() *metadata.Schema { return p.Input.Schema() }
func (p *LogicalLimit) Children() []LogicalPlan  { return []LogicalPlan{p.Input} }
func (p *LogicalLimit) String() string           { return fmt.Sprintf("Limit(%d, %d)", p.Limit, p.Offset) }

// LogicalDistinct 全行去重
type LogicalDistinct struct {
	Input LogicalPlan
}

func (p *LogicalDistinct) Schema() *metadata.Schema { return p.Input.Schema() }
func (p *LogicalDistinct) Children() []LogicalPlan  { return []LogicalPlan{p.Input} }
func (p *LogicalDistinct) String() string           { return "Distinct" }

// LogicalSetOp 集合运算，模式取左侧
type LogicalSetOp struct {
	Op    SetOpType
	All   bool
	Left  LogicalPlan
	Right LogicalPlan
}

func (p *LogicalSetOp) Schema() *metadata.Schema { return p.Left.Schema() }
func (p *LogicalSetOp) Children() []LogicalPlan  { return []LogicalPlan{p.Left, p.Right} }
func (p *LogicalSetOp) String() string {
	s := p.Op.String()
	if p.All {
		s += " ALL"
	}
	return s
}

// WindowItem 一项窗口输出
type WindowItem struct {
	Expr  *WindowExpr
	Alias string
}

// LogicalWindow 窗口算子：输入列 + 各窗口输出列
type LogicalWindow struct {
	Input        LogicalPlan
	Windows      []WindowItem
	OutputSchema *metadata.Schema
}

func (p *LogicalWindow) Schema() *metadata.Schema { return p.OutputSchema }
func (p *LogicalWindow) Children() []LogicalPlan  { return []LogicalPlan{p.Input} }
func (p *LogicalWindow) String() string           { return fmt.Sprintf("Window(%d)", len(p.Windows)) }

// LogicalUnnest 数组展开：保留输入列并追加元素列（及可选偏移列）
type LogicalUnnest struct {
	Input        LogicalPlan // 可为nil（FROM UNNEST独立源）
	Expr         Expression
	Alias        string
	WithOffset   bool
	OffsetAlias  string
	OutputSchema *metadata.Schema
}

func (p *LogicalUnnest) Schema() *metadata.Schema { return p.OutputSchema }
func (p *LogicalUnnest) Children() []LogicalPlan {
	if p.Input == nil {
		return nil
	}
	return []LogicalPlan{p.Input}
}
func (p *LogicalUnnest) String() string { return "Unnest(" + p.Expr.String() + ")" }

// LogicalQualify 窗口谓词过滤
type LogicalQualify struct {
	Input     LogicalPlan
	Predicate Expression
}

func (p *LogicalQualify) Schema() *metadata.Schema { return p.Input.Schema() }
func (p *LogicalQualify) Children() []LogicalPlan  { return []LogicalPlan{p.Input} }
func (p *LogicalQualify) String() string           { return "Qualify(" + p.Predicate.String() + ")" }

// CteDef 单个CTE定义
type CteDef struct {
	Name      string
	Plan      LogicalPlan
	Recursive bool
	// Anchor/RecursiveTerm 仅递归CTE使用：Plan为整体UNION，
	// 两者分别是非递归锚与递归项
	Anchor        LogicalPlan
	RecursiveTerm LogicalPlan
	UnionAll      bool
}

// LogicalWithCte WITH子句：按声明序绑定CTE后求值Body
type LogicalWithCte struct {
	CTEs []CteDef
	Body LogicalPlan
}

func (p *LogicalWithCte) Schema() *metadata.Schema { return p.Body.Schema() }
func (p *LogicalWithCte) Children() []LogicalPlan {
	out := make([]LogicalPlan, 0, len(p.CTEs)+1)
	for _, c := range p.CTEs {
		out = append(out, c.Plan)
	}
	return append(out, p.Body)
}
func (p *LogicalWithCte) String() string {
	names := make([]string, len(p.CTEs))
	for i, c := range p.CTEs {
		names[i] = c.Name
	}
	return "WithCte(" + strings.Join(names, ", ") + ")"
}

// LogicalCteRef CTE体内对CTE名的引用
type LogicalCteRef struct {
	Name         string
	OutputSchema *metadata.Schema
}

func (p *LogicalCteRef) Schema() *metadata.Schema { return p.OutputSchema }
func (p *LogicalCteRef) Children() []LogicalPlan  { return nil }
func (p *LogicalCteRef) String() string           { return "CteRef(" + p.Name + ")" }

// LogicalValues 字面行
type LogicalValues struct {
	Rows         [][]Expression
	OutputSchema *metadata.Schema
}

func (p *LogicalValues) Schema() *metadata.Schema { return p.OutputSchema }
func (p *LogicalValues) Children() []LogicalPlan  { return nil }
func (p *LogicalValues) String() string           { return fmt.Sprintf("Values(%d)", len(p.Rows)) }

// LogicalEmpty 零行或单行空表（FROM缺省时单行）
type LogicalEmpty struct {
	OneRow       bool
	OutputSchema *metadata.Schema
}

func (p *LogicalEmpty) Schema() *metadata.Schema { return p.OutputSchema }
func (p *LogicalEmpty) Children() []LogicalPlan  { return nil }
func (p *LogicalEmpty) String() string           { return fmt.Sprintf("Empty(oneRow=%v)", p.OneRow) }

// LogicalGapFill 时间序列空洞填充（GAP_FILL表函数）
type LogicalGapFill struct {
	Input      LogicalPlan
	TimeColumn Expression
	Stride     Expression
	Origin     Expression
}

func (p *LogicalGapFill) Schema() *metadata.Schema { return p.Input.Schema() }
func (p *LogicalGapFill) Children() []LogicalPlan  { return []LogicalPlan{p.Input} }
func (p *LogicalGapFill) String() string           { return "GapFill" }

// ---- DML ----

// LogicalInsert INSERT
type LogicalInsert struct {
	Table   string
	Columns []string // 空表示全列
	Source  LogicalPlan
}

func (p *LogicalInsert) Schema() *metadata.Schema { return emptySchema }
func (p *LogicalInsert) Children() []LogicalPlan  { return []LogicalPlan{p.Source} }
func (p *LogicalInsert) String() string           { return "Insert(" + p.Table + ")" }

// LogicalUpdate UPDATE
type LogicalUpdate struct {
	Table       string
	Alias       string
	Assignments []UpdateAssignment
	From        LogicalPlan // 可为nil
	Filter      Expression
	TableSchema *metadata.Schema
}

// UpdateAssignment 单列赋值
type UpdateAssignment struct {
	ColumnIndex int
	Column      string
	Value       Expression
}

func (p *LogicalUpdate) Schema() *metadata.Schema { return emptySchema }
func (p *LogicalUpdate) Children() []LogicalPlan {
	if p.From != nil {
		return []LogicalPlan{p.From}
	}
	return nil
}
func (p *LogicalUpdate) String() string { return "Update(" + p.Table + ")" }

// LogicalDelete DELETE
type LogicalDelete struct {
	Table       string
	Alias       string
	Filter      Expression
	TableSchema *metadata.Schema
}

func (p *LogicalDelete) Schema() *metadata.Schema { return emptySchema }
func (p *LogicalDelete) Children() []LogicalPlan  { return nil }
func (p *LogicalDelete) String() string           { return "Delete(" + p.Table + ")" }

// LogicalTruncate TRUNCATE TABLE
type LogicalTruncate struct {
	Table string
}

func (p *LogicalTruncate) Schema() *metadata.Schema { return emptySchema }
func (p *LogicalTruncate) Children() []LogicalPlan  { return nil }
func (p *LogicalTruncate) String() string           { return "Truncate(" + p.Table + ")" }

// MergeAction MERGE单个WHEN子句
type MergeAction struct {
	Matched     bool
	BySource    bool
	Condition   Expression
	Action      string // UPDATE, DELETE, INSERT
	Assignments []UpdateAssignment
	InsertCols  []string
	InsertVals  []Expression
}

// LogicalMerge MERGE
type LogicalMerge struct {
	Table       string
	TargetAlias string
	Source      LogicalPlan
	SourceAlias string
	On          Expression
	Actions     []MergeAction
	TableSchema *metadata.Schema
}

func (p *LogicalMerge) Schema() *metadata.Schema { return emptySchema }
func (p *LogicalMerge) Children() []LogicalPlan  { return []LogicalPlan{p.Source} }
func (p *LogicalMerge) String() string           { return "Merge(" + p.Table + ")" }

// ---- DDL ----

// LogicalCreateTable CREATE TABLE / CREATE TABLE AS
type LogicalCreateTable struct {
	Table       string
	TableSchema *metadata.Schema
	Defaults    []Expression // 每列默认值，nil项表示无默认
	AsSelect    LogicalPlan
	OrReplace   bool
	IfNotExists bool
}

func (p *LogicalCreateTable) Schema() *metadata.Schema { return emptySchema }
func (p *LogicalCreateTable) Children() []LogicalPlan {
	if p.AsSelect != nil {
		return []LogicalPlan{p.AsSelect}
	}
	return nil
}
func (p *LogicalCreateTable) String() string { return "CreateTable(" + p.Table + ")" }

// LogicalDropTable DROP TABLE
type LogicalDropTable struct {
	Table    string
	IfExists bool
}

func (p *LogicalDropTable) Schema() *metadata.Schema { return emptySchema }
func (p *LogicalDropTable) Children() []LogicalPlan  { return nil }
func (p *LogicalDropTable) String() string           { return "DropTable(" + p.Table + ")" }

// LogicalCreateView CREATE VIEW
type LogicalCreateView struct {
	Name      string
	Aliases   []string
	QueryText string
	Query     LogicalPlan
	OrReplace bool
}

func (p *LogicalCreateView) Schema() *metadata.Schema { return emptySchema }
func (p *LogicalCreateView) Children() []LogicalPlan  { return []LogicalPlan{p.Query} }
func (p *LogicalCreateView) String() string           { return "CreateView(" + p.Name + ")" }

// LogicalDropView DROP VIEW
type LogicalDropView struct {
	Name     string
	IfExists bool
}

func (p *LogicalDropView) Schema() *metadata.Schema { return emptySchema }
func (p *LogicalDropView) Children() []LogicalPlan  { return nil }
func (p *LogicalDropView) String() string           { return "DropView(" + p.Name + ")" }

// FuncBody 函数体：SQL表达式 / SQL查询 / 语言体三选一
type FuncBody struct {
	SQLExpr  sqlparser.Expr
	SQLQuery *sqlparser.QueryStmt
	Language string // "js"等；空表示SQL体
	Code     string
}

// LogicalCreateFunction CREATE FUNCTION
type LogicalCreateFunction struct {
	Name        string
	Params      []sqlparser.FunctionParam
	ReturnType  basic.DataType
	Body        *FuncBody
	OrReplace   bool
	IsAggregate bool
}

func (p *LogicalCreateFunction) Schema() *metadata.Schema { return emptySchema }
func (p *LogicalCreateFunction) Children() []LogicalPlan  { return nil }
func (p *LogicalCreateFunction) String() string           { return "CreateFunction(" + p.Name + ")" }

// LogicalDropFunction DROP FUNCTION
type LogicalDropFunction struct {
	Name     string
	IfExists bool
}

func (p *LogicalDropFunction) Schema() *metadata.Schema { return emptySchema }
func (p *LogicalDropFunction) Children() []LogicalPlan  { return nil }
func (p *LogicalDropFunction) String() string           { return "DropFunction(" + p.Name + ")" }

// LogicalCreateProcedure CREATE PROCEDURE
type LogicalCreateProcedure struct {
	Name      string
	Params    []sqlparser.FunctionParam
	Body      *sqlparser.BlockStmt
	OrReplace bool
}

func (p *LogicalCreateProcedure) Schema() *metadata.Schema { return emptySchema }
func (p *LogicalCreateProcedure) Children() []LogicalPlan  { return nil }
func (p *LogicalCreateProcedure) String() string           { return "CreateProcedure(" + p.Name + ")" }

// LogicalDropProcedure DROP PROCEDURE
type LogicalDropProcedure struct {
	Name     string
	IfExists bool
}

func (p *LogicalDropProcedure) Schema() *metadata.Schema { return emptySchema }
func (p *LogicalDropProcedure) Children() []LogicalPlan  { return nil }
func (p *LogicalDropProcedure) String() string           { return "DropProcedure(" + p.Name + ")" }

// LogicalCreateSchema / LogicalDropSchema CREATE/DROP SCHEMA
type LogicalCreateSchema struct {
	Name        string
	IfNotExists bool
}

func (p *LogicalCreateSchema) Schema() *metadata.Schema { return emptySchema }
func (p *LogicalCreateSchema) Children() []LogicalPlan  { return nil }
func (p *LogicalCreateSchema) String() string           { return "CreateSchema(" + p.Name + ")" }

type LogicalDropSchema struct {
	Name     string
	IfExists bool
}

func (p *LogicalDropSchema) Schema() *metadata.Schema { return emptySchema }
func (p *LogicalDropSchema) Children() []LogicalPlan  { return nil }
func (p *LogicalDropSchema) String() string           { return "DropSchema(" + p.Name + ")" }

// LogicalCreateSnapshot CREATE SNAPSHOT TABLE ... CLONE
type LogicalCreateSnapshot struct {
	Name   string
	Source string
}

func (p *LogicalCreateSnapshot) Schema() *metadata.Schema { return emptySchema }
func (p *LogicalCreateSnapshot) Children() []LogicalPlan  { return nil }
func (p *LogicalCreateSnapshot) String() string           { return "CreateSnapshot(" + p.Name + ")" }

// LogicalDropSnapshot DROP SNAPSHOT TABLE
type LogicalDropSnapshot struct {
	Name     string
	IfExists bool
}

func (p *LogicalDropSnapshot) Schema() *metadata.Schema { return emptySchema }
func (p *LogicalDropSnapshot) Children() []LogicalPlan  { return nil }
func (p *LogicalDropSnapshot) String() string           { return "DropSnapshot(" + p.Name + ")" }

// ---- 脚本 ----

// LogicalScript 脚本语句包装：执行器按语句种类派发，内部语句
// 在执行时逐条规划
type LogicalScript struct {
	Stmt sqlparser.Statement
}

func (p *LogicalScript) Schema() *metadata.Schema { return emptySchema }
func (p *LogicalScript) Children() []LogicalPlan  { return nil }
func (p *LogicalScript) String() string           { return fmt.Sprintf("Script(%T)", p.Stmt) }

// LogicalExplain EXPLAIN
type LogicalExplain struct {
	Inner LogicalPlan
}

func (p *LogicalExplain) Schema() *metadata.Schema {
	return metadata.NewSchema(metadata.Field{Name: "plan", Type: basic.TypeString})
}
func (p *LogicalExplain) Children() []LogicalPlan { return []LogicalPlan{p.Inner} }
func (p *LogicalExplain) String() string          { return "Explain" }

var emptySchema = metadata.NewSchema()

// IsReadOnlyPlan 计划树根是否只读算子（计划缓存可插入判定）
func IsReadOnlyPlan(p LogicalPlan) bool {
	switch p.(type) {
	case *LogicalScan, *LogicalSample, *LogicalFilter, *LogicalProject, *LogicalJoin,
		*LogicalAggregate, *LogicalSort, *LogicalLimit, *LogicalDistinct, *LogicalSetOp,
		*LogicalWindow, *LogicalUnnest, *LogicalQualify, *LogicalWithCte, *LogicalValues,
		*LogicalEmpty, *LogicalGapFill, *LogicalCteRef:
		return true
	}
	return false
}

// WalkPlan 前序遍历计划树
func WalkPlan(p LogicalPlan, fn func(LogicalPlan) bool) {
	if p == nil || !fn(p) {
		return
	}
	for _, c := range p.Children() {
		WalkPlan(c, fn)
	}
}

// FormatPlan 缩进渲染计划树（EXPLAIN输出）
func FormatPlan(p LogicalPlan, indent int) string {
	var sb strings.Builder
	sb.WriteString(strings.Repeat("  ", indent))
	sb.WriteString(p.String())
	sb.WriteString("\n")
	for _, c := range p.Children() {
		sb.WriteString(FormatPlan(c, indent+1))
	}
	return sb.String()
}
