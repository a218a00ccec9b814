package engine

import (
	"github.com/zhukovaskychina/yachtsql/metadata"
)

// guardResolver 执行期名称解析：已持锁的表走守卫快照，
// 避免对自身持有的句柄锁再次加锁
type guardResolver struct {
	catalog *Catalog
	guard   *TableAccessGuard
}

func (r *guardResolver) ResolveTable(name string) (*metadata.Schema, error) {
	if e, ok := r.guard.byName[upper(name)]; ok {
		if e.staged != nil {
			return e.staged.Schema().Clone(), nil
		}
		return e.snapshot.Schema().Clone(), nil
	}
	return r.catalog.ResolveTable(name)
}

func (r *guardResolver) ResolveView(name string) (string, []string, bool) {
	return r.catalog.ResolveView(name)
}

func (r *guardResolver) HasUserFunction(name string) bool {
	return r.catalog.HasUserFunction(name)
}

// TableRowCount 物理规划统计（plan.CatalogStats）
func (r *guardResolver) TableRowCount(name string) (uint64, bool) {
	if e, ok := r.guard.byName[upper(name)]; ok {
		if e.staged != nil {
			return uint64(e.staged.RowCount()), true
		}
		return uint64(e.snapshot.RowCount()), true
	}
	return r.catalog.TableRowCount(name)
}
