package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	gxsync "github.com/dubbogo/gost/sync"
	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/conf"
	"github.com/zhukovaskychina/yachtsql/logger"
	"github.com/zhukovaskychina/yachtsql/metadata"
	"github.com/zhukovaskychina/yachtsql/plan"
	"github.com/zhukovaskychina/yachtsql/sqlparser"
	"github.com/zhukovaskychina/yachtsql/statistics"
)

// LanguageInvoker 语言函数桥接：按语言标签执行函数体
type LanguageInvoker func(language, code string, args []basic.Value) (basic.Value, error)

// Metrics 会话级计数器快照
type Metrics struct {
	QueriesRun      uint64
	CacheHits       uint64
	CacheMisses     uint64
	RowsReturned    uint64
	WritesCommitted uint64
}

// metricsCollector 锁保护的计数器
type metricsCollector struct {
	mu sync.Mutex
	m  Metrics
}

func (c *metricsCollector) add(fn func(*Metrics)) {
	c.mu.Lock()
	fn(&c.m)
	c.mu.Unlock()
}

func (c *metricsCollector) snapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m
}

// Session 会话：目录、计划缓存、变量、统计与执行入口。
// 核心不持有进程级全局可变状态，一切归会话所有
type Session struct {
	catalog   *Catalog
	planCache *plan.PlanCache
	metrics   *metricsCollector

	varMu sync.RWMutex
	// sessionVars 会话变量（SET @name），大写键
	sessionVars map[string]basic.Value
	// systemVars 系统变量
	systemVars map[string]basic.Value
	// scriptScopes 脚本变量作用域栈
	scriptScopes []map[string]basic.Value

	// defaultsMu 表默认值表达式（CREATE TABLE DEFAULT子句）
	defaultsMu    sync.RWMutex
	columnDefault map[string][]plan.Expression

	// stats 优化器统计
	statsMu sync.RWMutex
	stats   map[string]*statistics.TableStats

	pool      gxsync.GenericTaskPool
	seed      int64
	languageInvoker LanguageInvoker

	cfg *conf.Cfg
}

// NewSession 默认配置会话
func NewSession() *Session {
	return NewSessionWithConfig(conf.Default())
}

// NewSessionWithConfig 指定配置
func NewSessionWithConfig(cfg *conf.Cfg) *Session {
	s := &Session{
		catalog:       NewCatalogWithCodec(CodecByName(cfg.SnapshotCodec)),
		planCache:     plan.NewPlanCache(cfg.PlanCacheCapacity),
		metrics:       &metricsCollector{},
		sessionVars:   map[string]basic.Value{},
		systemVars:    map[string]basic.Value{},
		columnDefault: map[string][]plan.Expression{},
		stats:         map[string]*statistics.TableStats{},
		seed:          time.Now().UnixNano(),
		cfg:           cfg,
	}
	if cfg.WorkerPoolSize > 0 {
		s.pool = gxsync.NewTaskPoolSimple(cfg.WorkerPoolSize)
	}
	return s
}

// Close 释放工作线程池
func (s *Session) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Catalog 目录访问
func (s *Session) Catalog() *Catalog { return s.catalog }

// Metrics 指标快照
func (s *Session) Metrics() Metrics { return s.metrics.snapshot() }

// SessionVariables 当前会话变量副本
func (s *Session) SessionVariables() map[string]basic.Value {
	s.varMu.RLock()
	defer s.varMu.RUnlock()
	out := make(map[string]basic.Value, len(s.sessionVars))
	for k, v := range s.sessionVars {
		out[k] = v
	}
	return out
}

// SetSessionVariable 设置会话变量；未知名接受存储但不解释
func (s *Session) SetSessionVariable(name string, v basic.Value) {
	s.varMu.Lock()
	defer s.varMu.Unlock()
	s.sessionVars[strings.ToUpper(name)] = v
}

// SetLanguageInvoker 注册JS/Python等函数桥
func (s *Session) SetLanguageInvoker(inv LanguageInvoker) { s.languageInvoker = inv }

// RegisterTable 批量装载测试数据
func (s *Session) RegisterTable(name string, t *metadata.Table) {
	s.catalog.RegisterTable(name, t)
	s.planCache.Invalidate(plan.CacheInvalidation{Objects: map[string]bool{strings.ToUpper(name): true}})
}

// SetTableStats 注入优化器统计
func (s *Session) SetTableStats(name string, ts *statistics.TableStats) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats[strings.ToUpper(name)] = ts
}

// ---- 变量解析 ----

// GetVariable 会话变量（plan.VariableSource）
func (s *Session) GetVariable(name string) (interface{}, bool) {
	s.varMu.RLock()
	defer s.varMu.RUnlock()
	v, ok := s.sessionVars[strings.ToUpper(name)]
	if !ok {
		return nil, false
	}
	return variableRaw(v), true
}

// GetSystemVariable 系统变量（plan.VariableSource）
func (s *Session) GetSystemVariable(name string) (interface{}, bool) {
	s.varMu.RLock()
	defer s.varMu.RUnlock()
	v, ok := s.systemVars[strings.ToUpper(name)]
	if !ok {
		return nil, false
	}
	return variableRaw(v), true
}

func variableRaw(v basic.Value) interface{} {
	if b, ok := v.AsBool(); ok {
		return b
	}
	if i, ok := v.AsInt64(); ok {
		return i
	}
	return v.Raw()
}

// lookupVariable 脚本作用域自顶向下，再查会话变量
func (s *Session) lookupVariable(name string) (basic.Value, bool) {
	s.varMu.RLock()
	defer s.varMu.RUnlock()
	key := strings.ToUpper(name)
	for i := len(s.scriptScopes) - 1; i >= 0; i-- {
		if v, ok := s.scriptScopes[i][key]; ok {
			return v, true
		}
	}
	v, ok := s.sessionVars[key]
	return v, ok
}

func (s *Session) knownVariable(name string) bool {
	_, ok := s.lookupVariable(name)
	return ok
}

func (s *Session) pushVariableScope() {
	s.varMu.Lock()
	defer s.varMu.Unlock()
	s.scriptScopes = append(s.scriptScopes, map[string]basic.Value{})
}

func (s *Session) popVariableScope() {
	s.varMu.Lock()
	defer s.varMu.Unlock()
	if len(s.scriptScopes) > 0 {
		s.scriptScopes = s.scriptScopes[:len(s.scriptScopes)-1]
	}
}

func (s *Session) declareVariable(name string, v basic.Value) {
	s.varMu.Lock()
	defer s.varMu.Unlock()
	if len(s.scriptScopes) == 0 {
		s.scriptScopes = append(s.scriptScopes, map[string]basic.Value{})
	}
	s.scriptScopes[len(s.scriptScopes)-1][strings.ToUpper(name)] = v
}

// setVariable SET：已声明脚本变量就地更新，否则落会话变量。
// 识别名（PARALLEL_EXECUTION等）照常存储并被物理规划器解释
func (s *Session) setVariable(name string, v basic.Value) {
	s.varMu.Lock()
	defer s.varMu.Unlock()
	key := strings.ToUpper(name)
	for i := len(s.scriptScopes) - 1; i >= 0; i-- {
		if _, ok := s.scriptScopes[i][key]; ok {
			s.scriptScopes[i][key] = v
			return
		}
	}
	s.sessionVars[key] = v
}

// ---- 配套访问 ----

func (s *Session) taskPool() gxsync.GenericTaskPool { return s.pool }

func (s *Session) sampleSeed() int64 {
	if v, ok := s.lookupVariable("SAMPLE_SEED"); ok {
		if n, ok := v.AsInt64(); ok {
			return n
		}
	}
	return s.seed
}

func (s *Session) tableDefaults(name string) []plan.Expression {
	s.defaultsMu.RLock()
	defer s.defaultsMu.RUnlock()
	return s.columnDefault[strings.ToUpper(name)]
}

func (s *Session) setTableDefaults(name string, defaults []plan.Expression) {
	if defaults == nil {
		return
	}
	s.defaultsMu.Lock()
	defer s.defaultsMu.Unlock()
	s.columnDefault[strings.ToUpper(name)] = defaults
}

// optimizerSettings 会话变量驱动的优化器开关
func (s *Session) optimizerSettings() plan.OptimizerSettings {
	settings := plan.DefaultOptimizerSettings()
	boolVar := func(name string, def bool) bool {
		if v, ok := s.lookupVariable(name); ok {
			if b, ok := v.AsBool(); ok {
				return b
			}
		}
		return def
	}
	settings.JoinReorder = boolVar("OPTIMIZER_JOIN_REORDER", true)
	settings.FilterPushdown = boolVar("OPTIMIZER_FILTER_PUSHDOWN", true)
	settings.ProjectionPushdown = boolVar("OPTIMIZER_PROJECTION_PUSHDOWN", true)
	s.statsMu.RLock()
	if len(s.stats) > 0 {
		settings.TableStats = make(map[string]*statistics.TableStats, len(s.stats))
		for k, v := range s.stats {
			settings.TableStats[k] = v
		}
	}
	s.statsMu.RUnlock()
	return settings
}

func (s *Session) newBuilder() *plan.Builder {
	b := plan.NewBuilder(s.catalog)
	b.Variables = s.knownVariable
	return b
}

// ---- 执行入口 ----

// ExecuteSQL 主入口。预处理→缓存→规划→优化→物理提示→
// 抽取读写集→加锁→工作goroutine同步执行→提交→缓存失效。
// 取消经context在悬挂点生效；提交仅在成功结束时发生一次
func (s *Session) ExecuteSQL(ctx context.Context, sql string) (*metadata.Table, error) {
	jobID := uuid.New().String()
	logger.Debugf("job %s: %s", jobID, sql)
	s.metrics.add(func(m *Metrics) { m.QueriesRun++ })

	normalized := plan.NormalizeSQL(sql)

	// 缓存查找；未命中时在缓存锁外解析+构建再插入，并发的同语句
	// 未命中各自构建一次
	logical, hit := s.planCache.Get(normalized)
	if hit {
		s.metrics.add(func(m *Metrics) { m.CacheHits++ })
	} else {
		s.metrics.add(func(m *Metrics) { m.CacheMisses++ })
		stmt, err := sqlparser.ParseOne(normalized)
		if err != nil {
			return nil, err
		}
		logical, err = s.newBuilder().BuildStatement(stmt)
		if err != nil {
			return nil, err
		}
		s.planCache.Insert(normalized, logical)
	}

	// 优化改写就地变更节点，缓存树须先克隆
	working := plan.ClonePlan(logical)
	phys, err := plan.NewOptimizer(s.optimizerSettings()).Optimize(working)
	if err != nil {
		return nil, err
	}
	plan.NewPhysicalPlanner(s.catalog, s).Plan(phys)

	accesses := plan.ExtractTableAccesses(logical)
	guard, err := s.catalog.AcquireTableLocks(accesses)
	if err != nil {
		return nil, err
	}

	// CPU密集执行落在工作goroutine，调用方在此悬挂等待完成
	type outcome struct {
		table *metadata.Table
		err   error
	}
	done := make(chan outcome, 1)
	run := func() {
		exec := newExecutor(ctx, s.catalog, s, guard)
		t, err := exec.Execute(phys)
		done <- outcome{table: t, err: err}
	}
	if s.pool != nil {
		s.pool.AddTaskAlways(run)
	} else {
		go run()
	}

	var result outcome
	select {
	case result = <-done:
	case <-ctx.Done():
		// 取消：等待工作者观察ctx后退出，丢弃暂存写
		result = <-done
		if result.err == nil {
			result.err = ctx.Err()
		}
	}

	if result.err != nil {
		guard.Release()
		if basic.KindOf(result.err) == basic.ErrInternal {
			// Internal错误防御性失效
			s.planCache.Invalidate(plan.CacheInvalidation{All: true})
		}
		return nil, result.err
	}

	// 成功路径：恰好一次提交
	guard.CommitWrites()
	guard.Release()

	inv := plan.ComputeInvalidation(logical)
	s.planCache.Invalidate(inv)
	if inv.All || len(inv.Objects) > 0 {
		s.metrics.add(func(m *Metrics) { m.WritesCommitted++ })
	}

	s.metrics.add(func(m *Metrics) { m.RowsReturned += uint64(result.table.RowCount()) })
	logger.Debugf("job %s done: %d rows", jobID, result.table.RowCount())
	return result.table, nil
}

// MustExecute 测试便捷：出错panic
func (s *Session) MustExecute(sql string) *metadata.Table {
	t, err := s.ExecuteSQL(context.Background(), sql)
	if err != nil {
		panic(errors.ErrorStack(err))
	}
	return t
}
