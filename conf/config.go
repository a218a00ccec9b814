package conf

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// Cfg 引擎配置。无数据文件，纯行为开关
type Cfg struct {
	Raw *ini.File

	// LogLevel debug/info/warn/error
	LogLevel string
	// WorkerPoolSize 并行执行工作池大小；0关闭池化
	WorkerPoolSize int
	// PlanCacheCapacity 计划缓存容量；0取默认10000
	PlanCacheCapacity int
	// SnapshotCodec 快照压缩：snappy或lz4
	SnapshotCodec string
}

// Default 默认配置
func Default() *Cfg {
	return &Cfg{
		LogLevel:          "info",
		WorkerPoolSize:    8,
		PlanCacheCapacity: 0,
		SnapshotCodec:     "snappy",
	}
}

// Load 从ini文件加载配置
func Load(path string) (*Cfg, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "config file %s", path)
	}
	f, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "parse config file %s", path)
	}
	cfg := Default()
	cfg.Raw = f
	sec := f.Section("yachtsql")
	if v := sec.Key("log_level").String(); v != "" {
		cfg.LogLevel = v
	}
	if v, err := sec.Key("worker_pool_size").Int(); err == nil {
		cfg.WorkerPoolSize = v
	}
	if v, err := sec.Key("plan_cache_capacity").Int(); err == nil {
		cfg.PlanCacheCapacity = v
	}
	if v := sec.Key("snapshot_codec").String(); v != "" {
		cfg.SnapshotCodec = v
	}
	return cfg, nil
}
