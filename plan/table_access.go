package plan

import (
	"sort"
	"strings"

	"github.com/zhukovaskychina/yachtsql/sqlparser"
)

// TableAccessSet 计划触及的表集合（大写名）
type TableAccessSet struct {
	Reads         map[string]bool
	Writes        map[string]bool
	WriteOptional map[string]bool // IF EXISTS类写目标，容忍缺失
}

// NewTableAccessSet 空集合
func NewTableAccessSet() *TableAccessSet {
	return &TableAccessSet{
		Reads:         map[string]bool{},
		Writes:        map[string]bool{},
		WriteOptional: map[string]bool{},
	}
}

// Intersects 读∪写与给定对象集是否相交
func (s *TableAccessSet) Intersects(objects map[string]bool) bool {
	for name := range objects {
		if s.Reads[name] || s.Writes[name] || s.WriteOptional[name] {
			return true
		}
	}
	return false
}

// AllNames 排序用：读∪写∪可选写的全部名称
func (s *TableAccessSet) AllNames() []string {
	seen := map[string]bool{}
	var out []string
	add := func(m map[string]bool) {
		for n := range m {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	add(s.Reads)
	add(s.Writes)
	add(s.WriteOptional)
	// 大写名排序建立全局锁序
	sort.Strings(out)
	return out
}

// ExtractTableAccesses 遍历逻辑计划收集读写集。
// WITH体内CTE名遮蔽同名表，仅在该体范围内从读集剔除；
// 递归进入脚本体与CreateView/Insert源/Merge源可达的子查询
func ExtractTableAccesses(p LogicalPlan) *TableAccessSet {
	s := NewTableAccessSet()
	extractAccesses(p, s, map[string]bool{})
	return s
}

func extractAccesses(p LogicalPlan, s *TableAccessSet, shadowed map[string]bool) {
	if p == nil {
		return
	}
	switch x := p.(type) {
	case *LogicalScan:
		name := strings.ToUpper(x.Table)
		if !shadowed[name] {
			s.Reads[name] = true
		}
	case *LogicalCteRef:
		// CTE引用不触目录
	case *LogicalWithCte:
		// CTE名仅在WITH体范围内遮蔽
		inner := map[string]bool{}
		for k := range shadowed {
			inner[k] = true
		}
		for _, c := range x.CTEs {
			extractAccesses(c.Plan, s, inner)
			inner[strings.ToUpper(c.Name)] = true
		}
		extractAccesses(x.Body, s, inner)
	case *LogicalInsert:
		s.Writes[strings.ToUpper(x.Table)] = true
		extractAccesses(x.Source, s, shadowed)
	case *LogicalUpdate:
		s.Writes[strings.ToUpper(x.Table)] = true
		if x.From != nil {
			extractAccesses(x.From, s, shadowed)
		}
		extractExprAccesses(x.Filter, s, shadowed)
	case *LogicalDelete:
		s.Writes[strings.ToUpper(x.Table)] = true
		extractExprAccesses(x.Filter, s, shadowed)
	case *LogicalTruncate:
		s.Writes[strings.ToUpper(x.Table)] = true
	case *LogicalMerge:
		s.Writes[strings.ToUpper(x.Table)] = true
		extractAccesses(x.Source, s, shadowed)
	case *LogicalCreateTable:
		s.Writes[strings.ToUpper(x.Table)] = true
		if x.AsSelect != nil {
			extractAccesses(x.AsSelect, s, shadowed)
		}
	case *LogicalDropTable:
		if x.IfExists {
			s.WriteOptional[strings.ToUpper(x.Table)] = true
		} else {
			s.Writes[strings.ToUpper(x.Table)] = true
		}
	case *LogicalCreateView:
		extractAccesses(x.Query, s, shadowed)
	case *LogicalCreateSnapshot:
		s.Reads[strings.ToUpper(x.Source)] = true
	case *LogicalScript:
		extractScriptAccesses(x.Stmt, s, shadowed)
	case *LogicalExplain:
		extractAccesses(x.Inner, s, shadowed)
	default:
		for _, c := range p.Children() {
			extractAccesses(c, s, shadowed)
		}
	}
	// 表达式内子查询
	switch x := p.(type) {
	case *LogicalFilter:
		extractExprAccesses(x.Predicate, s, shadowed)
	case *LogicalProject:
		for _, e := range x.Exprs {
			extractExprAccesses(e, s, shadowed)
		}
	case *LogicalJoin:
		extractExprAccesses(x.Condition, s, shadowed)
	case *LogicalQualify:
		extractExprAccesses(x.Predicate, s, shadowed)
	}
}

func extractExprAccesses(e Expression, s *TableAccessSet, shadowed map[string]bool) {
	if e == nil {
		return
	}
	WalkExpr(e, func(x Expression) bool {
		if sub, ok := x.(*SubqueryExpr); ok {
			extractAccesses(sub.Plan, s, shadowed)
		}
		return true
	})
}

// extractScriptAccesses 脚本语句保守收集：遍历AST中的表名。
// 脚本内语句在执行期逐条规划，此处的集合用于预加锁
func extractScriptAccesses(stmt sqlparser.Statement, s *TableAccessSet, shadowed map[string]bool) {
	switch x := stmt.(type) {
	case *sqlparser.BlockStmt:
		for _, st := range x.Body {
			extractScriptAccesses(st, s, shadowed)
		}
		for _, st := range x.Handler {
			extractScriptAccesses(st, s, shadowed)
		}
	case *sqlparser.IfStmt:
		for _, st := range x.Then {
			extractScriptAccesses(st, s, shadowed)
		}
		for _, arm := range x.Elifs {
			for _, st := range arm.Then {
				extractScriptAccesses(st, s, shadowed)
			}
		}
		for _, st := range x.Else {
			extractScriptAccesses(st, s, shadowed)
		}
	case *sqlparser.WhileStmt:
		for _, st := range x.Body {
			extractScriptAccesses(st, s, shadowed)
		}
	case *sqlparser.LoopStmt:
		for _, st := range x.Body {
			extractScriptAccesses(st, s, shadowed)
		}
	case *sqlparser.RepeatStmt:
		for _, st := range x.Body {
			extractScriptAccesses(st, s, shadowed)
		}
	case *sqlparser.ForStmt:
		collectQueryTables(x.Query.Body, s)
		for _, st := range x.Body {
			extractScriptAccesses(st, s, shadowed)
		}
	case *sqlparser.QueryStmt:
		collectQueryTables(x.Body, s)
	case *sqlparser.InsertStmt:
		s.Writes[strings.ToUpper(x.Table)] = true
		if x.Query != nil {
			collectQueryTables(x.Query.Body, s)
		}
	case *sqlparser.UpdateStmt:
		s.Writes[strings.ToUpper(x.Table)] = true
	case *sqlparser.DeleteStmt:
		s.Writes[strings.ToUpper(x.Table)] = true
	case *sqlparser.MergeStmt:
		s.Writes[strings.ToUpper(x.Target)] = true
	case *sqlparser.TruncateStmt:
		s.Writes[strings.ToUpper(x.Table)] = true
	}
}

// collectQueryTables AST查询体中的表名（脚本保守加锁路径）
func collectQueryTables(body sqlparser.QueryBody, s *TableAccessSet) {
	var walkRef func(ref sqlparser.TableRef)
	var walkBody func(qb sqlparser.QueryBody)
	walkRef = func(ref sqlparser.TableRef) {
		switch r := ref.(type) {
		case *sqlparser.TableName:
			s.Reads[strings.ToUpper(r.Name)] = true
		case *sqlparser.JoinRef:
			walkRef(r.Left)
			walkRef(r.Right)
		case *sqlparser.SubqueryRef:
			walkBody(r.Query.Body)
		}
	}
	walkBody = func(qb sqlparser.QueryBody) {
		switch x := qb.(type) {
		case *sqlparser.SelectCore:
			if x.From != nil {
				walkRef(x.From)
			}
		case *sqlparser.SetOpBody:
			walkBody(x.Left)
			walkBody(x.Right)
		case *sqlparser.SubqueryBody:
			walkBody(x.Query.Body)
		}
	}
	walkBody(body)
}
