package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/metadata"
	"github.com/zhukovaskychina/yachtsql/plan"
	"github.com/zhukovaskychina/yachtsql/util"
)

// Executor 物理计划的递归下降解释器，每个内部节点产出一张表。
// 持有锁守卫（存储访问）、目录（视图/函数解析与嵌套执行）、
// 会话（变量与函数定义）与CTE绑定栈
type Executor struct {
	ctx     context.Context
	catalog *Catalog
	session *Session
	guard   *TableAccessGuard
	// cteBindings CTE名→物化表，作用域栈
	cteBindings []map[string]*metadata.Table
	// subqueryMemo 关联子查询记忆化：谓词键→外层值元组→结果
	subqueryMemo map[string]map[string]basic.Value
}

func newExecutor(ctx context.Context, catalog *Catalog, session *Session, guard *TableAccessGuard) *Executor {
	return &Executor{
		ctx:          ctx,
		catalog:      catalog,
		session:      session,
		guard:        guard,
		subqueryMemo: map[string]map[string]basic.Value{},
	}
}

// Execute 计划派发
func (ex *Executor) Execute(p plan.PhysicalPlan) (*metadata.Table, error) {
	if err := ex.ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	switch x := p.(type) {
	case *plan.PhysicalScan:
		return ex.execScan(x)
	case *plan.PhysicalSample:
		return ex.execSample(x)
	case *plan.PhysicalFilter:
		return ex.execFilter(x)
	case *plan.PhysicalProject:
		return ex.execProject(x)
	case *plan.PhysicalHashJoin:
		return ex.execHashJoin(x)
	case *plan.PhysicalNestedLoopJoin:
		return ex.execNestedLoopJoin(x)
	case *plan.PhysicalCrossJoin:
		return ex.execCrossJoin(x)
	case *plan.PhysicalHashAggregate:
		return ex.execAggregate(x)
	case *plan.PhysicalSort:
		return ex.execSort(x)
	case *plan.PhysicalTopN:
		return ex.execTopN(x)
	case *plan.PhysicalLimit:
		return ex.execLimit(x)
	case *plan.PhysicalDistinct:
		return ex.execDistinct(x)
	case *plan.PhysicalSetOp:
		return ex.execSetOp(x)
	case *plan.PhysicalWindow:
		return ex.execWindow(x)
	case *plan.PhysicalUnnest:
		return ex.execUnnest(x)
	case *plan.PhysicalQualify:
		return ex.execQualify(x)
	case *plan.PhysicalWithCte:
		return ex.execWithCte(x)
	case *plan.PhysicalCteRef:
		return ex.execCteRef(x)
	case *plan.PhysicalValues:
		return ex.execValues(x)
	case *plan.PhysicalEmpty:
		return ex.execEmpty(x)
	case *plan.PhysicalGapFill:
		return ex.execGapFill(x)
	case *plan.PhysicalExplain:
		return ex.execExplain(x)
	case *plan.PhysicalStatement:
		return ex.execStatement(x)
	}
	return nil, basic.Internal("no executor for %T", p)
}

// execScan 守卫快照读取 + 可选下标投影。
// 列引用保持原位，外层调用方使用下标
func (ex *Executor) execScan(x *plan.PhysicalScan) (*metadata.Table, error) {
	t, err := ex.guard.Snapshot(x.Table)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(x.Projection) > 0 {
		t = t.Project(x.Projection)
	}
	// 扫描模式替换为带限定符的计划模式
	return t.WithSchema(x.Schema()), nil
}

// execFilter 谓词→bool列→收集掩码真值行；NULL掩码视为false
func (ex *Executor) execFilter(x *plan.PhysicalFilter) (*metadata.Table, error) {
	in, err := ex.Execute(x.Input)
	if err != nil {
		return nil, err
	}
	mask, err := ex.evalPredicate(x.Predicate, in)
	if err != nil {
		return nil, err
	}
	return in.FilterMask(mask), nil
}

// evalPredicate 谓词求值；子查询路径逐行回退
func (ex *Executor) evalPredicate(pred plan.Expression, t *metadata.Table) (*metadata.Column, error) {
	ev := ex.newEvaluator()
	return ev.EvalColumn(pred, t)
}

func (ex *Executor) execProject(x *plan.PhysicalProject) (*metadata.Table, error) {
	in, err := ex.Execute(x.Input)
	if err != nil {
		return nil, err
	}
	ev := ex.newEvaluator()
	cols := make([]*metadata.Column, len(x.Exprs))
	for i, e := range x.Exprs {
		col, err := ev.EvalColumn(e, in)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	return metadata.NewTable(x.OutputSchema, cols), nil
}

func (ex *Executor) execLimit(x *plan.PhysicalLimit) (*metadata.Table, error) {
	in, err := ex.Execute(x.Input)
	if err != nil {
		return nil, err
	}
	n := in.RowCount()
	start := int(x.Offset)
	if start > n {
		start = n
	}
	end := n
	if x.Limit >= 0 && start+int(x.Limit) < n {
		end = start + int(x.Limit)
	}
	indices := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		indices = append(indices, i)
	}
	return in.Gather(indices), nil
}

// rowComparator 多键行比较
type rowComparator struct {
	keys []plan.OrderKey
	cols []*metadata.Column
}

func (ex *Executor) makeComparator(keys []plan.OrderKey, t *metadata.Table) (*rowComparator, error) {
	ev := ex.newEvaluator()
	rc := &rowComparator{keys: keys}
	for _, k := range keys {
		col, err := ev.EvalColumn(k.Expr, t)
		if err != nil {
			return nil, err
		}
		rc.cols = append(rc.cols, col)
	}
	return rc, nil
}

// less 按键序比较行a与行b
func (rc *rowComparator) less(a, b int) bool {
	return rc.compare(a, b) < 0
}

func (rc *rowComparator) compare(a, b int) int {
	for i, k := range rc.keys {
		av := rc.cols[i].GetValue(a)
		bv := rc.cols[i].GetValue(b)
		an, bn := av.IsNull(), bv.IsNull()
		if an || bn {
			if an && bn {
				continue
			}
			// NULL按nulls_first标志定位
			if an {
				if k.NullsFirst {
					return -1
				}
				return 1
			}
			if k.NullsFirst {
				return 1
			}
			return -1
		}
		c := basic.Compare(av, bv)
		if c == 0 {
			continue
		}
		if k.Desc {
			return -c
		}
		return c
	}
	return 0
}

// execSort 稳定多键排序；平局保持子节点产出序
func (ex *Executor) execSort(x *plan.PhysicalSort) (*metadata.Table, error) {
	in, err := ex.Execute(x.Input)
	if err != nil {
		return nil, err
	}
	rc, err := ex.makeComparator(x.Keys, in)
	if err != nil {
		return nil, err
	}
	indices := make([]int, in.RowCount())
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(i, j int) bool { return rc.less(indices[i], indices[j]) })
	return in.Gather(indices), nil
}

// execTopN 有界堆：维护limit+offset规模的最大堆
func (ex *Executor) execTopN(x *plan.PhysicalTopN) (*metadata.Table, error) {
	in, err := ex.Execute(x.Input)
	if err != nil {
		return nil, err
	}
	rc, err := ex.makeComparator(x.Keys, in)
	if err != nil {
		return nil, err
	}
	bound := int(x.Limit + x.Offset)
	if bound <= 0 {
		return in.Gather(nil), nil
	}
	// heap保存当前最优bound行；heap[0]为其中最大（最差）者
	heap := make([]int, 0, bound)
	worse := func(a, b int) bool {
		c := rc.compare(a, b)
		if c != 0 {
			return c > 0
		}
		return a > b // 平局按输入序，后来者更差
	}
	var siftDown func(i int)
	siftDown = func(i int) {
		for {
			l, r := 2*i+1, 2*i+2
			largest := i
			if l < len(heap) && worse(heap[l], heap[largest]) {
				largest = l
			}
			if r < len(heap) && worse(heap[r], heap[largest]) {
				largest = r
			}
			if largest == i {
				return
			}
			heap[i], heap[largest] = heap[largest], heap[i]
			i = largest
		}
	}
	siftUp := func(i int) {
		for i > 0 {
			parent := (i - 1) / 2
			if worse(heap[i], heap[parent]) {
				heap[i], heap[parent] = heap[parent], heap[i]
				i = parent
				continue
			}
			return
		}
	}
	for i := 0; i < in.RowCount(); i++ {
		if len(heap) < bound {
			heap = append(heap, i)
			siftUp(len(heap) - 1)
			continue
		}
		if worse(heap[0], i) {
			heap[0] = i
			siftDown(0)
		}
	}
	sort.SliceStable(heap, func(i, j int) bool {
		c := rc.compare(heap[i], heap[j])
		if c != 0 {
			return c < 0
		}
		return heap[i] < heap[j]
	})
	if int(x.Offset) < len(heap) {
		heap = heap[x.Offset:]
	} else {
		heap = nil
	}
	return in.Gather(heap), nil
}

// execDistinct 全行哈希分组，每组保留首行
func (ex *Executor) execDistinct(x *plan.PhysicalDistinct) (*metadata.Table, error) {
	in, err := ex.Execute(x.Input)
	if err != nil {
		return nil, err
	}
	return distinctTable(in), nil
}

func distinctTable(in *metadata.Table) *metadata.Table {
	seen := map[uint64][]int{}
	hasher := util.NewRowHasher()
	var keep []int
	for i := 0; i < in.RowCount(); i++ {
		hasher.Reset()
		for c := 0; c < in.NumColumns(); c++ {
			in.Column(c).HashRow(hasher, i)
		}
		h := hasher.Sum64()
		dup := false
		for _, j := range seen[h] {
			if rowsEqual(in, i, in, j) {
				dup = true
				break
			}
		}
		if !dup {
			seen[h] = append(seen[h], i)
			keep = append(keep, i)
		}
	}
	return in.Gather(keep)
}

// rowsEqual 行级相等（NULL等于NULL）
func rowsEqual(a *metadata.Table, ai int, b *metadata.Table, bi int) bool {
	for c := 0; c < a.NumColumns(); c++ {
		if !basic.EqualsNullSafe(a.Column(c).GetValue(ai), b.Column(c).GetValue(bi)) {
			return false
		}
	}
	return true
}

func (ex *Executor) execValues(x *plan.PhysicalValues) (*metadata.Table, error) {
	out := metadata.EmptyTable(x.OutputSchema)
	ev := ex.newEvaluator()
	for _, row := range x.Rows {
		vals := make([]basic.Value, len(row))
		for i, e := range row {
			if _, ok := e.(*plan.DefaultPlaceholder); ok {
				vals[i] = basic.DefaultValue()
				continue
			}
			v, err := ev.EvalRow(e, nil, metadata.NewSchema())
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		if err := appendRowResolvingDefaults(out, vals, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// appendRowResolvingDefaults DEFAULT占位解析为列默认或NULL
func appendRowResolvingDefaults(t *metadata.Table, row []basic.Value, defaults []basic.Value) error {
	resolved := make([]basic.Value, len(row))
	for i, v := range row {
		if v.IsDefault() {
			if defaults != nil && i < len(defaults) && !defaults[i].IsNull() {
				resolved[i] = defaults[i]
			} else {
				resolved[i] = basic.TypedNull(t.Schema().Fields[i].Type)
			}
			continue
		}
		resolved[i] = v
	}
	return t.AppendRow(resolved)
}

func (ex *Executor) execEmpty(x *plan.PhysicalEmpty) (*metadata.Table, error) {
	if x.OneRow && x.OutputSchema.Len() == 0 {
		// FROM缺省的单行表：零列表无法表达行数，占位列承载
		schema := metadata.NewSchema(metadata.Field{Name: "_dummy", Type: basic.TypeBool})
		t := metadata.EmptyTable(schema)
		if err := t.AppendRow([]basic.Value{basic.NewBool(true)}); err != nil {
			return nil, err
		}
		return t, nil
	}
	return metadata.EmptyTable(x.OutputSchema), nil
}

func (ex *Executor) execExplain(x *plan.PhysicalExplain) (*metadata.Table, error) {
	text := plan.FormatPhysical(x.Inner, 0)
	schema := metadata.NewSchema(metadata.Field{Name: "plan", Type: basic.TypeString})
	t := metadata.EmptyTable(schema)
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		if err := t.AppendRow([]basic.Value{basic.NewString(line)}); err != nil {
			return nil, err
		}
	}
	return t, nil
}
