package plan

import (
	"github.com/juju/errors"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/statistics"
)

// OptimizerSettings 优化器开关与统计输入
type OptimizerSettings struct {
	JoinReorder        bool
	FilterPushdown     bool
	ProjectionPushdown bool
	TableStats         map[string]*statistics.TableStats
}

// DefaultOptimizerSettings 默认全开
func DefaultOptimizerSettings() OptimizerSettings {
	return OptimizerSettings{JoinReorder: true, FilterPushdown: true, ProjectionPushdown: true}
}

// Optimizer 逻辑计划→物理计划
type Optimizer struct {
	settings OptimizerSettings
}

// NewOptimizer 创建优化器
func NewOptimizer(settings OptimizerSettings) *Optimizer {
	return &Optimizer{settings: settings}
}

// Optimize 按既定顺序执行改写：化简→谓词规范化→谓词下推→
// 投影下推→连接重排→物理翻译（算法选择与TopN融合）
func (o *Optimizer) Optimize(logical LogicalPlan) (PhysicalPlan, error) {
	p := simplifyPlan(logical)
	if o.settings.FilterPushdown {
		p = pushDownFilters(p)
	}
	if o.settings.ProjectionPushdown {
		p = pushDownProjections(p)
	}
	if o.settings.JoinReorder {
		p = reorderJoins(p, o.settings.TableStats)
	}
	phys, err := o.toPhysical(p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return fuseTopN(phys), nil
}

// toPhysical 1:1物理翻译 + 连接算法选择
func (o *Optimizer) toPhysical(p LogicalPlan) (PhysicalPlan, error) {
	switch x := p.(type) {
	case *LogicalScan:
		return &PhysicalScan{Table: x.Table, TableSchema: x.TableSchema, Projection: x.Projection}, nil

	case *LogicalSample:
		in, err := o.toPhysical(x.Input)
		if err != nil {
			return nil, err
		}
		return &PhysicalSample{Input: in, Method: x.Method, Arg: x.Arg}, nil

	case *LogicalFilter:
		in, err := o.toPhysical(x.Input)
		if err != nil {
			return nil, err
		}
		return &PhysicalFilter{Input: in, Predicate: x.Predicate}, nil

	case *LogicalProject:
		in, err := o.toPhysical(x.Input)
		if err != nil {
			return nil, err
		}
		return &PhysicalProject{Input: in, Exprs: x.Exprs, OutputSchema: x.OutputSchema}, nil

	case *LogicalJoin:
		return o.joinToPhysical(x)

	case *LogicalAggregate:
		in, err := o.toPhysical(x.Input)
		if err != nil {
			return nil, err
		}
		return &PhysicalHashAggregate{
			Input: in, GroupBy: x.GroupBy, Aggregates: x.Aggregates,
			GroupingSets: x.GroupingSets, OutputSchema: x.OutputSchema,
		}, nil

	case *LogicalSort:
		in, err := o.toPhysical(x.Input)
		if err != nil {
			return nil, err
		}
		return &PhysicalSort{Input: in, Keys: x.Keys}, nil

	case *LogicalLimit:
		in, err := o.toPhysical(x.Input)
		if err != nil {
			return nil, err
		}
		return &PhysicalLimit{Input: in, Limit: x.Limit, Offset: x.Offset}, nil

	case *LogicalDistinct:
		in, err := o.toPhysical(x.Input)
		if err != nil {
			return nil, err
		}
		return &PhysicalDistinct{Input: in}, nil

	case *LogicalSetOp:
		left, err := o.toPhysical(x.Left)
		if err != nil {
			return nil, err
		}
		right, err := o.toPhysical(x.Right)
		if err != nil {
			return nil, err
		}
		return &PhysicalSetOp{Op: x.Op, All: x.All, Left: left, Right: right}, nil

	case *LogicalWindow:
		in, err := o.toPhysical(x.Input)
		if err != nil {
			return nil, err
		}
		return &PhysicalWindow{Input: in, Windows: x.Windows, OutputSchema: x.OutputSchema}, nil

	case *LogicalUnnest:
		var in PhysicalPlan
		if x.Input != nil {
			var err error
			in, err = o.toPhysical(x.Input)
			if err != nil {
				return nil, err
			}
		}
		return &PhysicalUnnest{Input: in, Expr: x.Expr, WithOffset: x.WithOffset, OutputSchema: x.OutputSchema}, nil

	case *LogicalQualify:
		in, err := o.toPhysical(x.Input)
		if err != nil {
			return nil, err
		}
		return &PhysicalQualify{Input: in, Predicate: x.Predicate}, nil

	case *LogicalWithCte:
		body, err := o.toPhysical(x.Body)
		if err != nil {
			return nil, err
		}
		out := &PhysicalWithCte{Body: body}
		for _, c := range x.CTEs {
			pc := PhysicalCteDef{Name: c.Name, Recursive: c.Recursive, UnionAll: c.UnionAll}
			pc.Plan, err = o.toPhysical(c.Plan)
			if err != nil {
				return nil, err
			}
			if c.Recursive {
				pc.Anchor, err = o.toPhysical(c.Anchor)
				if err != nil {
					return nil, err
				}
				pc.RecursiveTerm, err = o.toPhysical(c.RecursiveTerm)
				if err != nil {
					return nil, err
				}
			}
			out.CTEs = append(out.CTEs, pc)
		}
		return out, nil

	case *LogicalCteRef:
		return &PhysicalCteRef{Name: x.Name, OutputSchema: x.OutputSchema}, nil

	case *LogicalValues:
		return &PhysicalValues{Rows: x.Rows, OutputSchema: x.OutputSchema}, nil

	case *LogicalEmpty:
		return &PhysicalEmpty{OneRow: x.OneRow, OutputSchema: x.OutputSchema}, nil

	case *LogicalGapFill:
		in, err := o.toPhysical(x.Input)
		if err != nil {
			return nil, err
		}
		return &PhysicalGapFill{Input: in, TimeColumn: x.TimeColumn, Stride: x.Stride, Origin: x.Origin}, nil

	case *LogicalExplain:
		in, err := o.toPhysical(x.Inner)
		if err != nil {
			return nil, err
		}
		return &PhysicalExplain{Inner: in}, nil

	case *LogicalInsert:
		src, err := o.toPhysical(x.Source)
		if err != nil {
			return nil, err
		}
		return &PhysicalStatement{Logical: x, Sources: []PhysicalPlan{src}}, nil

	case *LogicalUpdate:
		out := &PhysicalStatement{Logical: x}
		if x.From != nil {
			src, err := o.toPhysical(x.From)
			if err != nil {
				return nil, err
			}
			out.Sources = []PhysicalPlan{src}
		}
		return out, nil

	case *LogicalMerge:
		src, err := o.toPhysical(x.Source)
		if err != nil {
			return nil, err
		}
		return &PhysicalStatement{Logical: x, Sources: []PhysicalPlan{src}}, nil

	case *LogicalCreateTable:
		out := &PhysicalStatement{Logical: x}
		if x.AsSelect != nil {
			src, err := o.toPhysical(x.AsSelect)
			if err != nil {
				return nil, err
			}
			out.Sources = []PhysicalPlan{src}
		}
		return out, nil

	case *LogicalDelete, *LogicalTruncate, *LogicalDropTable, *LogicalCreateView,
		*LogicalDropView, *LogicalCreateFunction, *LogicalDropFunction,
		*LogicalCreateProcedure, *LogicalDropProcedure, *LogicalCreateSchema,
		*LogicalDropSchema, *LogicalCreateSnapshot, *LogicalDropSnapshot, *LogicalScript:
		return &PhysicalStatement{Logical: p}, nil
	}
	return nil, basic.Internal("no physical translation for %T", p)
}

// joinToPhysical 连接算法选择：两侧各含至少一个纯列引用的等值
// 条件→HashJoin；无条件→CrossJoin；其余→NestedLoopJoin
func (o *Optimizer) joinToPhysical(x *LogicalJoin) (PhysicalPlan, error) {
	left, err := o.toPhysical(x.Left)
	if err != nil {
		return nil, err
	}
	right, err := o.toPhysical(x.Right)
	if err != nil {
		return nil, err
	}
	if x.Condition == nil {
		if x.Type == JoinCross || x.Type == JoinInner {
			return &PhysicalCrossJoin{Left: left, Right: right}, nil
		}
		return &PhysicalNestedLoopJoin{Type: x.Type, Left: left, Right: right,
			Condition: &Literal{Value: basic.NewBool(true)}}, nil
	}

	leftWidth := x.Left.Schema().Len()
	leftKeys, rightKeys, residual := extractEquiKeys(x.Condition, leftWidth)
	// 外连接的残余条件不可在连接后过滤（会误删补NULL行），退回嵌套循环
	if len(leftKeys) > 0 && (residual == nil || x.Type == JoinInner) {
		return &PhysicalHashJoin{
			Type: x.Type, Left: left, Right: right,
			LeftKeys: leftKeys, RightKeys: rightKeys, Residual: residual,
		}, nil
	}
	return &PhysicalNestedLoopJoin{Type: x.Type, Left: left, Right: right, Condition: x.Condition}, nil
}

// extractEquiKeys 拆分连接条件的等值键。返回键表达式按各自侧
// 的列下标空间重定位（右侧减去左宽度）
func extractEquiKeys(cond Expression, leftWidth int) (leftKeys, rightKeys []Expression, residual Expression) {
	conjuncts := splitConjuncts(cond)
	for _, c := range conjuncts {
		bin, ok := c.(*BinaryOp)
		if !ok || bin.Op != "=" {
			residual = andCombine(residual, c)
			continue
		}
		lSide, lOK := sideOf(bin.Left, leftWidth)
		rSide, rOK := sideOf(bin.Right, leftWidth)
		if !lOK || !rOK || lSide == rSide {
			residual = andCombine(residual, c)
			continue
		}
		// 至少一侧为简单列引用
		_, lIsRef := bin.Left.(*ColumnRef)
		_, rIsRef := bin.Right.(*ColumnRef)
		if !lIsRef && !rIsRef {
			residual = andCombine(residual, c)
			continue
		}
		if lSide == 0 {
			leftKeys = append(leftKeys, bin.Left)
			rightKeys = append(rightKeys, shiftColumnRefs(bin.Right, -leftWidth))
		} else {
			leftKeys = append(leftKeys, bin.Right)
			rightKeys = append(rightKeys, shiftColumnRefs(bin.Left, -leftWidth))
		}
	}
	return leftKeys, rightKeys, residual
}

// sideOf 表达式引用哪一侧：0左 1右；跨侧或无引用时ok=false
func sideOf(e Expression, leftWidth int) (int, bool) {
	hasLeft, hasRight := false, false
	WalkExpr(e, func(x Expression) bool {
		if ref, ok := x.(*ColumnRef); ok {
			if ref.Index < leftWidth {
				hasLeft = true
			} else {
				hasRight = true
			}
		}
		return true
	})
	if hasLeft && !hasRight {
		return 0, true
	}
	if hasRight && !hasLeft {
		return 1, true
	}
	return -1, false
}

// shiftColumnRefs 列下标平移（右侧键重定位到右表局部下标）
func shiftColumnRefs(e Expression, delta int) Expression {
	return TransformExpr(e, func(x Expression) Expression {
		if ref, ok := x.(*ColumnRef); ok {
			return &ColumnRef{Name: ref.Name, Qualifier: ref.Qualifier, Index: ref.Index + delta, Type: ref.Type}
		}
		return x
	})
}

func splitConjuncts(e Expression) []Expression {
	if bin, ok := e.(*BinaryOp); ok && bin.Op == "AND" {
		return append(splitConjuncts(bin.Left), splitConjuncts(bin.Right)...)
	}
	return []Expression{e}
}

func andCombine(a, b Expression) Expression {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return &BinaryOp{Op: "AND", Left: a, Right: b}
}

// fuseTopN Limit(Sort)→TopN；中间无重排投影时才融合
func fuseTopN(p PhysicalPlan) PhysicalPlan {
	switch x := p.(type) {
	case *PhysicalLimit:
		if sort, ok := x.Input.(*PhysicalSort); ok && x.Limit >= 0 {
			return &PhysicalTopN{
				Input: fuseTopN(sort.Input), Keys: sort.Keys,
				Limit: x.Limit, Offset: x.Offset,
			}
		}
		x.Input = fuseTopN(x.Input)
		return x
	}
	replaceChildren(p, fuseTopN)
	return p
}

// replaceChildren 就地替换子计划
func replaceChildren(p PhysicalPlan, fn func(PhysicalPlan) PhysicalPlan) {
	switch x := p.(type) {
	case *PhysicalSample:
		x.Input = fn(x.Input)
	case *PhysicalFilter:
		x.Input = fn(x.Input)
	case *PhysicalProject:
		x.Input = fn(x.Input)
	case *PhysicalHashJoin:
		x.Left, x.Right = fn(x.Left), fn(x.Right)
	case *PhysicalNestedLoopJoin:
		x.Left, x.Right = fn(x.Left), fn(x.Right)
	case *PhysicalCrossJoin:
		x.Left, x.Right = fn(x.Left), fn(x.Right)
	case *PhysicalHashAggregate:
		x.Input = fn(x.Input)
	case *PhysicalSort:
		x.Input = fn(x.Input)
	case *PhysicalTopN:
		x.Input = fn(x.Input)
	case *PhysicalLimit:
		x.Input = fn(x.Input)
	case *PhysicalDistinct:
		x.Input = fn(x.Input)
	case *PhysicalSetOp:
		x.Left, x.Right = fn(x.Left), fn(x.Right)
	case *PhysicalWindow:
		x.Input = fn(x.Input)
	case *PhysicalUnnest:
		if x.Input != nil {
			x.Input = fn(x.Input)
		}
	case *PhysicalQualify:
		x.Input = fn(x.Input)
	case *PhysicalWithCte:
		for i := range x.CTEs {
			x.CTEs[i].Plan = fn(x.CTEs[i].Plan)
		}
		x.Body = fn(x.Body)
	case *PhysicalGapFill:
		x.Input = fn(x.Input)
	case *PhysicalExplain:
		x.Inner = fn(x.Inner)
	case *PhysicalStatement:
		for i := range x.Sources {
			x.Sources[i] = fn(x.Sources[i])
		}
	}
}
