package engine

import (
	"strings"
	"sync"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/logger"
	"github.com/zhukovaskychina/yachtsql/metadata"
	"github.com/zhukovaskychina/yachtsql/plan"
	"github.com/zhukovaskychina/yachtsql/sqlparser"
)

// TableHandle 单表读写锁封装
type TableHandle struct {
	mu    sync.RWMutex
	table *metadata.Table
}

// NewTableHandle 创建句柄
func NewTableHandle(t *metadata.Table) *TableHandle {
	return &TableHandle{table: t}
}

// snapshotLocked 调用方须持有读或写锁
func (h *TableHandle) snapshotLocked() *metadata.Table { return h.table }

// ViewDefinition 视图定义，创建后不可变
type ViewDefinition struct {
	QueryText     string
	ColumnAliases []string
}

// FunctionKind 函数体种类
type FunctionKind int

const (
	FuncSQL FunctionKind = iota
	FuncSQLQuery
	FuncJavaScript
	FuncLanguage
)

// FunctionDefinition 函数定义，创建后不可变
type FunctionDefinition struct {
	Name        string
	Parameters  []sqlparser.FunctionParam
	ReturnType  basic.DataType
	Kind        FunctionKind
	SQLExpr     sqlparser.Expr
	SQLQuery    *sqlparser.QueryStmt
	Language    string
	Code        string
	IsAggregate bool
}

// ProcedureDefinition 存储过程定义
type ProcedureDefinition struct {
	Name   string
	Params []sqlparser.FunctionParam
	Body   *sqlparser.BlockStmt
}

// snapshotEntry 快照：源名 + 压缩保存的表
type snapshotEntry struct {
	sourceName string
	data       []byte // 压缩序列化表
	schema     *metadata.Schema
}

// Catalog 并发目录：表/视图/函数/过程/快照/模式注册表。
// 名称大小写不敏感，统一大写存储；元映射读写锁保护，
// 表句柄各自持锁
type Catalog struct {
	mu         sync.RWMutex
	tables     map[string]*TableHandle
	views      map[string]*ViewDefinition
	functions  map[string]*FunctionDefinition
	procedures map[string]*ProcedureDefinition
	snapshots  map[string]*snapshotEntry
	schemas    map[string]bool

	codec SnapshotCodec
}

// NewCatalog 创建目录
func NewCatalog() *Catalog {
	return NewCatalogWithCodec(SnappyCodec{})
}

// NewCatalogWithCodec 指定快照压缩编解码器
func NewCatalogWithCodec(codec SnapshotCodec) *Catalog {
	return &Catalog{
		tables:     map[string]*TableHandle{},
		views:      map[string]*ViewDefinition{},
		functions:  map[string]*FunctionDefinition{},
		procedures: map[string]*ProcedureDefinition{},
		snapshots:  map[string]*snapshotEntry{},
		schemas:    map[string]bool{},
		codec:      codec,
	}
}

func upper(name string) string { return strings.ToUpper(name) }

// RegisterTable 注册（或替换）一张表
func (c *Catalog) RegisterTable(name string, t *metadata.Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[upper(name)] = NewTableHandle(t)
}

// DropTable 删除表
func (c *Catalog) DropTable(name string, ifExists bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := upper(name)
	if _, ok := c.tables[key]; !ok {
		if ifExists {
			return nil
		}
		return basic.TableNotFound(name)
	}
	delete(c.tables, key)
	return nil
}

// HasTable 表存在性
func (c *Catalog) HasTable(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tables[upper(name)]
	return ok
}

// handle 取句柄
func (c *Catalog) handle(name string) (*TableHandle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.tables[upper(name)]
	return h, ok
}

// ResolveTable 表/快照模式解析（plan.SchemaResolver）
func (c *Catalog) ResolveTable(name string) (*metadata.Schema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if h, ok := c.tables[upper(name)]; ok {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return h.table.Schema().Clone(), nil
	}
	if snap, ok := c.snapshots[upper(name)]; ok {
		return snap.schema.Clone(), nil
	}
	return nil, basic.TableNotFound(name)
}

// ResolveView 视图文本解析（plan.SchemaResolver）
func (c *Catalog) ResolveView(name string) (string, []string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.views[upper(name)]
	if !ok {
		return "", nil, false
	}
	return v.QueryText, v.ColumnAliases, true
}

// HasUserFunction 用户函数存在性（plan.SchemaResolver）
func (c *Catalog) HasUserFunction(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.functions[upper(name)]
	return ok
}

// TableRowCount 行数统计（plan.CatalogStats）
func (c *Catalog) TableRowCount(name string) (uint64, bool) {
	h, ok := c.handle(name)
	if !ok {
		return 0, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return uint64(h.table.RowCount()), true
}

// CreateView 创建视图；视图不可变，替换须OR REPLACE
func (c *Catalog) CreateView(name string, def *ViewDefinition, orReplace bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := upper(name)
	if _, ok := c.views[key]; ok && !orReplace {
		return basic.InvalidQuery("view %q already exists", name)
	}
	c.views[key] = def
	return nil
}

// DropView 删除视图
func (c *Catalog) DropView(name string, ifExists bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := upper(name)
	if _, ok := c.views[key]; !ok {
		if ifExists {
			return nil
		}
		return basic.TableNotFound(name)
	}
	delete(c.views, key)
	return nil
}

// CreateFunction 注册函数
func (c *Catalog) CreateFunction(def *FunctionDefinition, orReplace bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := upper(def.Name)
	if _, ok := c.functions[key]; ok && !orReplace {
		return basic.InvalidQuery("function %q already exists", def.Name)
	}
	c.functions[key] = def
	return nil
}

// DropFunction 删除函数
func (c *Catalog) DropFunction(name string, ifExists bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := upper(name)
	if _, ok := c.functions[key]; !ok {
		if ifExists {
			return nil
		}
		return basic.FunctionNotFound(name)
	}
	delete(c.functions, key)
	return nil
}

// Function 查函数
func (c *Catalog) Function(name string) (*FunctionDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.functions[upper(name)]
	return f, ok
}

// CreateProcedure / DropProcedure / Procedure 存储过程注册
func (c *Catalog) CreateProcedure(def *ProcedureDefinition, orReplace bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := upper(def.Name)
	if _, ok := c.procedures[key]; ok && !orReplace {
		return basic.InvalidQuery("procedure %q already exists", def.Name)
	}
	c.procedures[key] = def
	return nil
}

func (c *Catalog) DropProcedure(name string, ifExists bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := upper(name)
	if _, ok := c.procedures[key]; !ok {
		if ifExists {
			return nil
		}
		return basic.FunctionNotFound(name)
	}
	delete(c.procedures, key)
	return nil
}

func (c *Catalog) Procedure(name string) (*ProcedureDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.procedures[upper(name)]
	return p, ok
}

// CreateSchema / DropSchema 模式名集合
func (c *Catalog) CreateSchema(name string, ifNotExists bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := upper(name)
	if c.schemas[key] && !ifNotExists {
		return basic.InvalidQuery("schema %q already exists", name)
	}
	c.schemas[key] = true
	return nil
}

func (c *Catalog) DropSchema(name string, ifExists bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := upper(name)
	if !c.schemas[key] {
		if ifExists {
			return nil
		}
		return basic.InvalidQuery("schema %q does not exist", name)
	}
	delete(c.schemas, key)
	return nil
}

// CreateSnapshot 捕获源表的压缩副本
func (c *Catalog) CreateSnapshot(name, source string) error {
	h, ok := c.handle(source)
	if !ok {
		return basic.TableNotFound(source)
	}
	h.mu.RLock()
	captured := h.table
	h.mu.RUnlock()
	return c.CreateSnapshotFrom(name, source, captured)
}

// CreateSnapshotFrom 以已读取的表创建快照（执行器经守卫快照调用，
// 避免对自身已持有的句柄锁再加锁）
func (c *Catalog) CreateSnapshotFrom(name, source string, captured *metadata.Table) error {
	data, err := encodeTable(c.codec, captured)
	if err != nil {
		return errors.Trace(err)
	}
	logger.Debugf("snapshot %s of %s: %d rows, %d bytes compressed",
		name, source, captured.RowCount(), len(data))

	c.mu.Lock()
	defer c.mu.Unlock()
	key := upper(name)
	if _, ok := c.snapshots[key]; ok {
		return basic.InvalidQuery("snapshot %q already exists", name)
	}
	c.snapshots[key] = &snapshotEntry{
		sourceName: source,
		data:       data,
		schema:     captured.Schema().Clone(),
	}
	return nil
}

// DropSnapshot 删除快照
func (c *Catalog) DropSnapshot(name string, ifExists bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := upper(name)
	if _, ok := c.snapshots[key]; !ok {
		if ifExists {
			return nil
		}
		return basic.TableNotFound(name)
	}
	delete(c.snapshots, key)
	return nil
}

// snapshotTable 解压还原快照表
func (c *Catalog) snapshotTable(name string) (*metadata.Table, bool, error) {
	c.mu.RLock()
	entry, ok := c.snapshots[upper(name)]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	t, err := decodeTable(c.codec, entry.data, entry.schema)
	if err != nil {
		return nil, true, errors.Trace(err)
	}
	return t, true, nil
}

// ---- 锁获取与写暂存 ----

// guardEntry 单表的已获取锁状态
type guardEntry struct {
	name     string
	handle   *TableHandle
	write    bool
	staged   *metadata.Table // 写暂存，commit时原子替换
	snapshot *metadata.Table
}

// TableAccessGuard 持锁句柄集 + 写暂存区。执行成功时
// CommitWrites原子发布，失败时Release丢弃暂存
type TableAccessGuard struct {
	catalog  *Catalog
	entries  []*guardEntry
	byName   map[string]*guardEntry
	released bool
}

// AcquireTableLocks 唯一的锁获取入口。
// 读∪写集按大写名排序建立全局锁序消除死锁；写集取写锁，
// 读集取读锁；write_optional容忍缺失
func (c *Catalog) AcquireTableLocks(accesses *plan.TableAccessSet) (*TableAccessGuard, error) {
	g := &TableAccessGuard{catalog: c, byName: map[string]*guardEntry{}}
	for _, name := range accesses.AllNames() {
		isWrite := accesses.Writes[name] || accesses.WriteOptional[name]
		h, ok := c.handle(name)
		if !ok {
			// 缺失目标此时不报错：读目标可能是快照或视图；
			// 写目标可能由本次执行内的CREATE TABLE产生（脚本），
			// 真正缺表由执行期解析报TableNotFound
			continue
		}
		if isWrite {
			h.mu.Lock()
		} else {
			h.mu.RLock()
		}
		e := &guardEntry{name: name, handle: h, write: isWrite, snapshot: h.snapshotLocked()}
		g.entries = append(g.entries, e)
		g.byName[name] = e
	}
	return g, nil
}

// Snapshot 执行期读取：整个执行观察单一一致快照
func (g *TableAccessGuard) Snapshot(name string) (*metadata.Table, error) {
	if e, ok := g.byName[upper(name)]; ok {
		if e.staged != nil {
			return e.staged, nil
		}
		return e.snapshot, nil
	}
	// 快照表只读路径
	if t, ok, err := g.catalog.snapshotTable(name); ok || err != nil {
		return t, err
	}
	// 本次执行内新建的表：补充获取写锁。全局排序锁序只覆盖
	// 加锁时已存在的名字，这里仅服务执行内CREATE出的新名
	if e, err := g.lateAcquire(name); err == nil {
		return e.snapshot, nil
	}
	return nil, basic.TableNotFound(name)
}

// Stage 暂存整表替换
func (g *TableAccessGuard) Stage(name string, t *metadata.Table) error {
	e, ok := g.byName[upper(name)]
	if !ok {
		var err error
		e, err = g.lateAcquire(name)
		if err != nil {
			return err
		}
	}
	if !e.write {
		return basic.Internal("table %q is not write-locked", name)
	}
	e.staged = t
	return nil
}

func (g *TableAccessGuard) lateAcquire(name string) (*guardEntry, error) {
	h, ok := g.catalog.handle(name)
	if !ok {
		return nil, basic.TableNotFound(name)
	}
	h.mu.Lock()
	e := &guardEntry{name: upper(name), handle: h, write: true, snapshot: h.snapshotLocked()}
	g.entries = append(g.entries, e)
	g.byName[e.name] = e
	return e, nil
}

// StagedOrSnapshot 写目标的当前可见表（链式DML语句内可见自身写入）
func (g *TableAccessGuard) StagedOrSnapshot(name string) (*metadata.Table, error) {
	return g.Snapshot(name)
}

// CommitWrites 在各句柄写锁保护下按排序序原子发布全部暂存表
func (g *TableAccessGuard) CommitWrites() {
	for _, e := range g.entries {
		if e.write && e.staged != nil {
			e.handle.table = e.staged
		}
	}
}

// Release 释放全部锁；未提交的暂存随守卫丢弃
func (g *TableAccessGuard) Release() {
	if g.released {
		return
	}
	g.released = true
	// 按获取序的逆序释放
	for i := len(g.entries) - 1; i >= 0; i-- {
		e := g.entries[i]
		if e.write {
			e.handle.mu.Unlock()
		} else {
			e.handle.mu.RUnlock()
		}
	}
}
