package throttle

import (
	"sync"
	"time"
)

// Limiter 按 key 的轻量限频器：避免同类日志/事件在高频评估下刷屏。
//
// 时间由调用方注入（决策路径不读墙钟），因此同样适用于回放/测试。
type Limiter struct {
	mu        sync.Mutex
	lastAt    map[string]time.Time
	lastMsg   map[string]string
	minPeriod time.Duration
}

// New 创建限频器；minPeriod<=0 时默认 5s（与 gate 日志同口径）。
func New(minPeriod time.Duration) *Limiter {
	if minPeriod <= 0 {
		minPeriod = 5 * time.Second
	}
	return &Limiter{
		lastAt:    make(map[string]time.Time),
		lastMsg:   make(map[string]string),
		minPeriod: minPeriod,
	}
}

// Allow key 在 now 是否允许放行。消息内容变化时立即放行（便于看到原因切换）。
func (l *Limiter) Allow(key, msg string, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.lastAt[key]
	if ok && l.lastMsg[key] == msg && now.Sub(last) < l.minPeriod {
		return false
	}
	l.lastAt[key] = now
	l.lastMsg[key] = msg
	return true
}

// Forget 清理 key（市场周期结束时调用，防止 map 无界增长）
func (l *Limiter) Forget(prefix string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.lastAt {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(l.lastAt, k)
			delete(l.lastMsg, k)
		}
	}
}
