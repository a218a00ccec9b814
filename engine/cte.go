package engine

import (
	"sync"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/logger"
	"github.com/zhukovaskychina/yachtsql/metadata"
	"github.com/zhukovaskychina/yachtsql/plan"
)

// maxRecursiveIterations 递归CTE不动点迭代上限
const maxRecursiveIterations = 1000

// execWithCte 按声明序绑定CTE后求值Body，Body完成后弹出绑定。
// 物理规划器标记的非递归CTE可并行预计算
func (ex *Executor) execWithCte(x *plan.PhysicalWithCte) (*metadata.Table, error) {
	frame := map[string]*metadata.Table{}
	ex.cteBindings = append(ex.cteBindings, frame)
	defer func() { ex.cteBindings = ex.cteBindings[:len(ex.cteBindings)-1] }()

	// 并行预计算一批互不依赖的CTE（依赖前序CTE的不并行）
	var parallel []int
	for i, c := range x.CTEs {
		if c.ParallelPrecompute && !c.Recursive && !ex.cteDependsOnSiblings(c.Plan, x.CTEs[:i]) {
			parallel = append(parallel, i)
		}
	}
	if len(parallel) > 1 {
		logger.Debugf("precomputing %d CTEs in parallel", len(parallel))
		results := make([]*metadata.Table, len(x.CTEs))
		errs := make([]error, len(x.CTEs))
		var wg sync.WaitGroup
		pool := ex.session.taskPool()
		for _, i := range parallel {
			i := i
			wg.Add(1)
			task := func() {
				defer wg.Done()
				sub := newExecutor(ex.ctx, ex.catalog, ex.session, ex.guard)
				sub.cteBindings = ex.cteBindings
				results[i], errs[i] = sub.Execute(x.CTEs[i].Plan)
			}
			if pool != nil {
				pool.AddTaskAlways(task)
			} else {
				go task()
			}
		}
		wg.Wait()
		for _, i := range parallel {
			if errs[i] != nil {
				return nil, errs[i]
			}
			frame[upper(x.CTEs[i].Name)] = results[i]
		}
	}

	for _, c := range x.CTEs {
		if _, done := frame[upper(c.Name)]; done {
			continue
		}
		var t *metadata.Table
		var err error
		if c.Recursive {
			t, err = ex.execRecursiveCte(&c)
		} else {
			t, err = ex.Execute(c.Plan)
		}
		if err != nil {
			return nil, err
		}
		frame[upper(c.Name)] = t
	}
	return ex.Execute(x.Body)
}

// cteDependsOnSiblings CTE计划是否引用同WITH中的前序CTE
func (ex *Executor) cteDependsOnSiblings(p plan.PhysicalPlan, siblings []plan.PhysicalCteDef) bool {
	names := map[string]bool{}
	for _, s := range siblings {
		names[upper(s.Name)] = true
	}
	found := false
	plan.WalkPhysical(p, func(node plan.PhysicalPlan) bool {
		if ref, ok := node.(*plan.PhysicalCteRef); ok && names[upper(ref.Name)] {
			found = true
			return false
		}
		return true
	})
	return found
}

// execRecursiveCte 不动点迭代：先求非递归锚，再以上一轮新增的行
// （delta）绑定CTE名反复求递归项，直至一轮不再新增行；超出上限报
// Internal错误
func (ex *Executor) execRecursiveCte(c *plan.PhysicalCteDef) (*metadata.Table, error) {
	acc, err := ex.Execute(c.Anchor)
	if err != nil {
		return nil, err
	}
	if !c.UnionAll {
		acc = distinctTable(acc)
	}
	seen := map[uint64]int{}
	if !c.UnionAll {
		for i := 0; i < acc.RowCount(); i++ {
			seen[tableRowHash(acc, i)]++
		}
	}

	delta := acc
	for iter := 0; iter < maxRecursiveIterations; iter++ {
		if delta.RowCount() == 0 {
			return acc, nil
		}
		// 递归项看到上一轮新增的行（delta）
		frame := map[string]*metadata.Table{upper(c.Name): delta}
		ex.cteBindings = append(ex.cteBindings, frame)
		next, err := ex.Execute(c.RecursiveTerm)
		ex.cteBindings = ex.cteBindings[:len(ex.cteBindings)-1]
		if err != nil {
			return nil, err
		}

		if !c.UnionAll {
			// UNION DISTINCT：仅保留未见过的行
			var fresh []int
			for i := 0; i < next.RowCount(); i++ {
				h := tableRowHash(next, i)
				if seen[h] == 0 {
					seen[h]++
					fresh = append(fresh, i)
				}
			}
			next = next.Gather(fresh)
		}
		if next.RowCount() == 0 {
			return acc, nil
		}
		if err := acc.AppendTable(next.WithSchema(acc.Schema())); err != nil {
			return nil, err
		}
		delta = next
	}
	return nil, basic.Internal("recursive CTE did not converge")
}

// execCteRef 绑定栈自顶向下解析CTE名
func (ex *Executor) execCteRef(x *plan.PhysicalCteRef) (*metadata.Table, error) {
	for i := len(ex.cteBindings) - 1; i >= 0; i-- {
		if t, ok := ex.cteBindings[i][upper(x.Name)]; ok {
			return t.WithSchema(x.OutputSchema), nil
		}
	}
	return nil, basic.TableNotFound(x.Name)
}
