package engine

import (
	"sort"
	"strings"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/expression"
	"github.com/zhukovaskychina/yachtsql/metadata"
	"github.com/zhukovaskychina/yachtsql/plan"
	"github.com/zhukovaskychina/yachtsql/util"
)

// execWindow 窗口算子：分区→分区内排序→逐行按帧求值。
// 输出保持输入行序
func (ex *Executor) execWindow(x *plan.PhysicalWindow) (*metadata.Table, error) {
	in, err := ex.Execute(x.Input)
	if err != nil {
		return nil, err
	}
	cols := append([]*metadata.Column{}, in.Columns()...)
	for _, item := range x.Windows {
		col, err := ex.evalWindowExpr(item.Expr, in)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return metadata.NewTable(x.OutputSchema, cols), nil
}

// evalWindowExpr 单个窗口表达式→与输入等长的列
func (ex *Executor) evalWindowExpr(w *plan.WindowExpr, in *metadata.Table) (*metadata.Column, error) {
	n := in.RowCount()
	ev := ex.newEvaluator()

	partCols := make([]*metadata.Column, len(w.PartitionBy))
	for i, p := range w.PartitionBy {
		col, err := ev.EvalColumn(p, in)
		if err != nil {
			return nil, err
		}
		partCols[i] = col
	}
	var orderCmp *rowComparator
	if len(w.OrderBy) > 0 {
		var err error
		orderCmp, err = ex.makeComparator(w.OrderBy, in)
		if err != nil {
			return nil, err
		}
	}
	argCols := make([]*metadata.Column, len(w.Args))
	for i, a := range w.Args {
		col, err := ev.EvalColumn(a, in)
		if err != nil {
			return nil, err
		}
		argCols[i] = col
	}

	// 分区：键哈希→partList下标
	buckets := map[uint64][]int{}
	keyOf := func(row int) uint64 {
		h := util.NewRowHasher()
		for _, col := range partCols {
			col.HashRow(h, row)
		}
		return h.Sum64()
	}
	sameKey := func(a, b int) bool {
		for _, col := range partCols {
			if !basic.EqualsNullSafe(col.GetValue(a), col.GetValue(b)) {
				return false
			}
		}
		return true
	}
	var partList [][]int
	for i := 0; i < n; i++ {
		h := keyOf(i)
		found := -1
		for _, pi := range buckets[h] {
			if sameKey(partList[pi][0], i) {
				found = pi
				break
			}
		}
		if found < 0 {
			partList = append(partList, []int{i})
			buckets[h] = append(buckets[h], len(partList)-1)
			continue
		}
		partList[found] = append(partList[found], i)
	}

	results := make([]basic.Value, n)
	for _, rows := range partList {
		if rows == nil {
			continue
		}
		ordered := append([]int{}, rows...)
		if orderCmp != nil {
			sort.SliceStable(ordered, func(i, j int) bool { return orderCmp.less(ordered[i], ordered[j]) })
		}
		if err := ex.evalPartition(w, ordered, argCols, orderCmp, results); err != nil {
			return nil, err
		}
	}

	outType := plan.InferType(w)
	out := metadata.NewColumn(outType)
	for i := 0; i < n; i++ {
		if err := out.Append(results[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// frameRange 行row在分区ordered中的帧边界[lo, hi)（按位置）
func frameRange(w *plan.WindowExpr, pos int, ordered []int, orderCmp *rowComparator) (int, int) {
	n := len(ordered)
	frame := w.Frame
	if frame == nil {
		// 默认帧：有ORDER BY为UNBOUNDED PRECEDING..CURRENT ROW，
		// 否则整个分区
		if len(w.OrderBy) > 0 {
			return 0, peerEnd(pos, ordered, orderCmp)
		}
		return 0, n
	}
	resolve := func(b plan.FrameBound, isLo bool) int {
		switch b.Kind {
		case "UNBOUNDED_PRECEDING":
			return 0
		case "UNBOUNDED_FOLLOWING":
			return n
		case "CURRENT":
			if frame.Unit == "ROWS" {
				if isLo {
					return pos
				}
				return pos + 1
			}
			// RANGE/GROUPS按同序值组
			if isLo {
				return peerStart(pos, ordered, orderCmp)
			}
			return peerEnd(pos, ordered, orderCmp)
		case "PRECEDING":
			off := int(b.Offset)
			if frame.Unit == "ROWS" {
				v := pos - off
				if !isLo {
					v = pos - off + 1
				}
				if v < 0 {
					v = 0
				}
				return v
			}
			return groupShift(pos, -off, ordered, orderCmp, isLo)
		case "FOLLOWING":
			off := int(b.Offset)
			if frame.Unit == "ROWS" {
				v := pos + off
				if !isLo {
					v = pos + off + 1
				}
				if v > n {
					v = n
				}
				return v
			}
			return groupShift(pos, off, ordered, orderCmp, isLo)
		}
		return pos
	}
	lo := resolve(frame.Lo, true)
	hi := resolve(frame.Hi, false)
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// peerStart/peerEnd 同序值组边界
func peerStart(pos int, ordered []int, cmp *rowComparator) int {
	if cmp == nil {
		return 0
	}
	i := pos
	for i > 0 && cmp.compare(ordered[i-1], ordered[pos]) == 0 {
		i--
	}
	return i
}

func peerEnd(pos int, ordered []int, cmp *rowComparator) int {
	if cmp == nil {
		return len(ordered)
	}
	i := pos + 1
	for i < len(ordered) && cmp.compare(ordered[i], ordered[pos]) == 0 {
		i++
	}
	return i
}

// groupShift GROUPS/RANGE帧按组平移
func groupShift(pos, delta int, ordered []int, cmp *rowComparator, isLo bool) int {
	cur := pos
	step := 1
	if delta < 0 {
		step = -1
		delta = -delta
	}
	for i := 0; i < delta; i++ {
		if step < 0 {
			ps := peerStart(cur, ordered, cmp)
			if ps == 0 {
				cur = 0
				break
			}
			cur = ps - 1
		} else {
			pe := peerEnd(cur, ordered, cmp)
			if pe >= len(ordered) {
				cur = len(ordered) - 1
				break
			}
			cur = pe
		}
	}
	if isLo {
		return peerStart(cur, ordered, cmp)
	}
	return peerEnd(cur, ordered, cmp)
}

// evalPartition 对已排序分区计算窗口函数
func (ex *Executor) evalPartition(w *plan.WindowExpr, ordered []int, argCols []*metadata.Column,
	orderCmp *rowComparator, results []basic.Value) error {

	n := len(ordered)
	fn := strings.ToUpper(w.Func)
	switch fn {
	case "ROW_NUMBER":
		for pos, row := range ordered {
			results[row] = basic.NewInt64(int64(pos + 1))
		}
	case "RANK":
		rank := int64(1)
		for pos, row := range ordered {
			if pos > 0 && orderCmp != nil && orderCmp.compare(ordered[pos-1], row) != 0 {
				rank = int64(pos + 1)
			}
			results[row] = basic.NewInt64(rank)
		}
	case "DENSE_RANK":
		rank := int64(0)
		for pos, row := range ordered {
			if pos == 0 || orderCmp == nil || orderCmp.compare(ordered[pos-1], row) != 0 {
				rank++
			}
			results[row] = basic.NewInt64(rank)
		}
	case "PERCENT_RANK":
		ranks := make([]int64, n)
		rank := int64(1)
		for pos, row := range ordered {
			if pos > 0 && orderCmp != nil && orderCmp.compare(ordered[pos-1], row) != 0 {
				rank = int64(pos + 1)
			}
			ranks[pos] = rank
			_ = row
		}
		for pos, row := range ordered {
			if n == 1 {
				results[row] = basic.NewFloat64(0)
			} else {
				results[row] = basic.NewFloat64(float64(ranks[pos]-1) / float64(n-1))
			}
		}
	case "CUME_DIST":
		for pos, row := range ordered {
			end := peerEnd(pos, ordered, orderCmp)
			results[row] = basic.NewFloat64(float64(end) / float64(n))
		}
	case "NTILE":
		buckets := int64(1)
		if len(argCols) > 0 && argCols[0].Len() > 0 {
			if b, ok := argCols[0].GetValue(ordered[0]).AsInt64(); ok && b > 0 {
				buckets = b
			}
		}
		for pos, row := range ordered {
			results[row] = basic.NewInt64(int64(pos)*buckets/int64(n) + 1)
		}
	case "LAG", "LEAD":
		offset := int64(1)
		if len(argCols) >= 2 {
			if o, ok := argCols[1].GetValue(ordered[0]).AsInt64(); ok {
				offset = o
			}
		}
		for pos, row := range ordered {
			var src int
			if fn == "LAG" {
				src = pos - int(offset)
			} else {
				src = pos + int(offset)
			}
			if src < 0 || src >= n {
				if len(argCols) >= 3 {
					results[row] = argCols[2].GetValue(row)
				} else {
					results[row] = basic.NullValue()
				}
				continue
			}
			results[row] = argCols[0].GetValue(ordered[src])
		}
	case "FIRST_VALUE", "LAST_VALUE", "NTH_VALUE":
		for pos, row := range ordered {
			lo, hi := frameRange(w, pos, ordered, orderCmp)
			if lo >= hi {
				results[row] = basic.NullValue()
				continue
			}
			pick := func(idx int) basic.Value {
				return argCols[0].GetValue(ordered[idx])
			}
			switch fn {
			case "FIRST_VALUE":
				results[row] = firstNonNullInFrame(w, pick, lo, hi, false)
			case "LAST_VALUE":
				results[row] = firstNonNullInFrame(w, pick, lo, hi, true)
			default:
				nth := int64(1)
				if len(argCols) >= 2 {
					if v, ok := argCols[1].GetValue(row).AsInt64(); ok {
						nth = v
					}
				}
				idx := lo + int(nth) - 1
				if idx >= hi || idx < lo {
					results[row] = basic.NullValue()
				} else {
					results[row] = pick(idx)
				}
			}
		}
	default:
		// 聚合+OVER：逐行对帧运行累加器
		for pos, row := range ordered {
			lo, hi := frameRange(w, pos, ordered, orderCmp)
			acc, err := expression.NewAccumulator(fn, expression.AccumulatorOptions{IgnoreNulls: w.IgnoreNulls})
			if err != nil {
				return errors.Trace(err)
			}
			for i := lo; i < hi; i++ {
				args := make([]basic.Value, len(argCols))
				for c, col := range argCols {
					args[c] = col.GetValue(ordered[i])
				}
				if len(args) == 0 {
					args = []basic.Value{basic.NewBool(true)}
				}
				if w.IgnoreNulls && len(args) > 0 && args[0].IsNull() {
					continue
				}
				if err := acc.Accumulate(args); err != nil {
					return errors.Trace(err)
				}
			}
			v, err := acc.Finalize()
			if err != nil {
				return errors.Trace(err)
			}
			results[row] = v
		}
	}
	return nil
}

func firstNonNullInFrame(w *plan.WindowExpr, pick func(int) basic.Value, lo, hi int, fromEnd bool) basic.Value {
	if !w.IgnoreNulls {
		if fromEnd {
			return pick(hi - 1)
		}
		return pick(lo)
	}
	if fromEnd {
		for i := hi - 1; i >= lo; i-- {
			if v := pick(i); !v.IsNull() {
				return v
			}
		}
	} else {
		for i := lo; i < hi; i++ {
			if v := pick(i); !v.IsNull() {
				return v
			}
		}
	}
	return basic.NullValue()
}

// execQualify 窗口谓词过滤：谓词内每个唯一窗口表达式按结构键
// 缓存，替换为预计算的逐行值后做掩码评估
func (ex *Executor) execQualify(x *plan.PhysicalQualify) (*metadata.Table, error) {
	in, err := ex.Execute(x.Input)
	if err != nil {
		return nil, err
	}

	cache := map[string]*metadata.Column{}
	var evalErr error
	rewritten := plan.TransformExpr(x.Predicate, func(e plan.Expression) plan.Expression {
		w, ok := e.(*plan.WindowExpr)
		if !ok || evalErr != nil {
			return e
		}
		key := w.String()
		col, hit := cache[key]
		if !hit {
			col, evalErr = ex.evalWindowExpr(w, in)
			if evalErr != nil {
				return e
			}
			cache[key] = col
		}
		return &precomputedExpr{col: col, key: key}
	})
	if evalErr != nil {
		return nil, evalErr
	}

	mask, err := ex.evalWithPrecomputed(rewritten, in)
	if err != nil {
		return nil, err
	}
	return in.FilterMask(mask), nil
}

// precomputedExpr 预计算列的表达式占位
type precomputedExpr struct {
	col *metadata.Column
	key string
}

func (e *precomputedExpr) String() string               { return "$pre:" + e.key }
func (e *precomputedExpr) Children() []plan.Expression  { return nil }

// evalWithPrecomputed 含precomputedExpr的谓词求值：
// 临时把预计算列拼到表尾并以列引用替换
func (ex *Executor) evalWithPrecomputed(pred plan.Expression, in *metadata.Table) (*metadata.Column, error) {
	extCols := append([]*metadata.Column{}, in.Columns()...)
	extFields := append([]metadata.Field{}, in.Schema().Fields...)
	final := plan.TransformExpr(pred, func(e plan.Expression) plan.Expression {
		if pre, ok := e.(*precomputedExpr); ok {
			idx := len(extCols)
			extCols = append(extCols, pre.col)
			extFields = append(extFields, metadata.Field{Name: "_win", Type: pre.col.Type(), Nullable: true})
			return &plan.ColumnRef{Name: "_win", Index: idx, Type: pre.col.Type()}
		}
		return e
	})
	ext := metadata.NewTable(metadata.NewSchema(extFields...), extCols)
	return ex.evalPredicate(final, ext)
}
