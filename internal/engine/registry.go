package engine

import (
	"sync"
	"time"
)

// Record 每个 (market, asset) 的小额簿记。
// 评估期间会读改写，因此同一 key 的评估必须由调用方串行化；
// 不同 key 之间完全独立。
type Record struct {
	ProjectedCppAtEntryPips int           // 入场时的 maker 口径投影 CPP（复盘用）
	LastState               ActivityState // 上一次观测到的形态状态（变化检测）
	LastSignalAt            time.Time     // 最近一次放出信号的时间（冷却）
	OpenedThisCycle         bool          // 本周期是否已有入场（单次入场策略）
}

// Registry 显式的 per-market 簿记注册表，由调用方持有。
// 替代源模式里的模块级全局 map：市场到期/结算时调用方负责 Clear，
// 不依赖进程生命周期的隐式状态。
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// GetOrCreate 取 key 的记录，不存在则创建
func (r *Registry) GetOrCreate(key string) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		rec = &Record{}
		r.records[key] = rec
	}
	return rec
}

// Clear 移除 key 的记录（市场到期/结算时调用）
func (r *Registry) Clear(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, key)
}

// Len 当前跟踪的市场数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
