package plan

import (
	"container/list"
	"strings"
	"sync"

	"github.com/zhukovaskychina/yachtsql/util"
)

// PlanCacheCapacity 计划缓存容量
const PlanCacheCapacity = 10000

// CacheInvalidation 缓存失效范围
type CacheInvalidation struct {
	// All DDL或脚本节点可能改名，整体失效
	All bool
	// Objects DML触及的写对象集（大写）
	Objects map[string]bool
}

// PlanCache 规范化SQL→逻辑计划的LRU缓存。
// 单读写锁保护条目与LRU序；解析与构建在缓存之外进行，
// 并发的同语句未命中不去重
type PlanCache struct {
	mu       sync.RWMutex
	capacity int
	entries  map[uint64]*list.Element
	lru      *list.List
}

type cacheEntry struct {
	key  uint64
	sql  string
	plan LogicalPlan
	// accesses 插入时预计算的读写集，失效判定用
	accesses *TableAccessSet
}

// NewPlanCache 创建缓存
func NewPlanCache(capacity int) *PlanCache {
	if capacity <= 0 {
		capacity = PlanCacheCapacity
	}
	return &PlanCache{
		capacity: capacity,
		entries:  make(map[uint64]*list.Element),
		lru:      list.New(),
	}
}

func cacheKey(sql string) uint64 {
	return util.HashString(sql)
}

// Get 命中时原子刷新LRU序
func (c *PlanCache) Get(sql string) (LogicalPlan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[cacheKey(sql)]
	if !ok {
		return nil, false
	}
	e := el.Value.(*cacheEntry)
	if e.sql != sql {
		// 指纹碰撞按未命中处理
		return nil, false
	}
	c.lru.MoveToFront(el)
	return e.plan, true
}

// Insert 仅根为只读算子的计划可插入；满时严格LRU逐出
func (c *PlanCache) Insert(sql string, plan LogicalPlan) {
	if !IsReadOnlyPlan(plan) {
		return
	}
	key := cacheKey(sql)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).plan = plan
		c.lru.MoveToFront(el)
		return
	}
	for c.lru.Len() >= c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
	e := &cacheEntry{key: key, sql: sql, plan: plan, accesses: ExtractTableAccesses(plan)}
	c.entries[key] = c.lru.PushFront(e)
}

// Invalidate 应用失效：All清空；Objects相交（读∪写）则丢弃
func (c *PlanCache) Invalidate(inv CacheInvalidation) {
	if !inv.All && len(inv.Objects) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if inv.All {
		c.entries = make(map[uint64]*list.Element)
		c.lru.Init()
		return
	}
	for el := c.lru.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*cacheEntry)
		if e.accesses.Intersects(inv.Objects) {
			c.lru.Remove(el)
			delete(c.entries, e.key)
		}
		el = next
	}
}

// Len 当前条目数
func (c *PlanCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}

// ComputeInvalidation 执行后的失效计算。
// DDL/脚本→All；DML/Merge→写对象集；只读→空
func ComputeInvalidation(p LogicalPlan) CacheInvalidation {
	switch x := p.(type) {
	case *LogicalInsert:
		return CacheInvalidation{Objects: map[string]bool{strings.ToUpper(x.Table): true}}
	case *LogicalUpdate:
		return CacheInvalidation{Objects: map[string]bool{strings.ToUpper(x.Table): true}}
	case *LogicalDelete:
		return CacheInvalidation{Objects: map[string]bool{strings.ToUpper(x.Table): true}}
	case *LogicalTruncate:
		return CacheInvalidation{Objects: map[string]bool{strings.ToUpper(x.Table): true}}
	case *LogicalMerge:
		return CacheInvalidation{Objects: map[string]bool{strings.ToUpper(x.Table): true}}
	case *LogicalCreateTable, *LogicalDropTable, *LogicalCreateView, *LogicalDropView,
		*LogicalCreateFunction, *LogicalDropFunction, *LogicalCreateProcedure,
		*LogicalDropProcedure, *LogicalCreateSchema, *LogicalDropSchema,
		*LogicalCreateSnapshot, *LogicalDropSnapshot, *LogicalScript:
		return CacheInvalidation{All: true}
	case *LogicalExplain:
		return ComputeInvalidation(x.Inner)
	}
	return CacheInvalidation{}
}

// NormalizeSQL 解析前的词法预处理：RANGE<T>改写为RANGE_T，
// 这是唯一的预解析改写
func NormalizeSQL(sql string) string {
	var sb strings.Builder
	i := 0
	for i < len(sql) {
		if matchRangeType(sql[i:], "DATE") {
			sb.WriteString("RANGE_DATE")
			i += len("RANGE<DATE>")
			continue
		}
		if matchRangeType(sql[i:], "DATETIME") {
			sb.WriteString("RANGE_DATETIME")
			i += len("RANGE<DATETIME>")
			continue
		}
		if matchRangeType(sql[i:], "TIMESTAMP") {
			sb.WriteString("RANGE_TIMESTAMP")
			i += len("RANGE<TIMESTAMP>")
			continue
		}
		sb.WriteByte(sql[i])
		i++
	}
	return sb.String()
}

func matchRangeType(s, elem string) bool {
	want := "RANGE<" + elem + ">"
	if len(s) < len(want) {
		return false
	}
	return strings.EqualFold(s[:len(want)], want)
}
