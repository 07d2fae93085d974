// Package sink 提供决策事件的落地实现：
// 结构化日志（运行观察）与 badger 日记（离线复盘）。
//
// 所有实现都遵守 events.Sink 的约定：不阻塞决策路径，
// 投递失败只损失可观测性。
package sink

import (
	"github.com/sirupsen/logrus"

	"github.com/betbot/pairlock/internal/events"
)

var log = logrus.WithField("module", "pairlock.sink")

// LogSink 把事件写进结构化日志。信号 Info，拒绝 Debug（高频评估下拒绝是常态）。
type LogSink struct{}

// NewLogSink 创建日志 sink
func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) EmitDecision(e *events.DecisionEvent) {
	entry := log.WithFields(logrus.Fields{
		"id":     e.ID,
		"market": e.MarketKey,
		"state":  e.State,
		"band":   e.Band,
		"reason": e.Reason,
		"cpp":    e.PairedCppCents,
		"skew":   e.Skew,
	})
	if e.Signal != nil {
		entry.Infof("📤 %s | %s", e.Signal, e.Detail)
		return
	}
	entry.Debugf("⛔ %s", e.Detail)
}

func (s *LogSink) EmitStateChange(e *events.StateChangedEvent) {
	log.WithField("market", e.MarketKey).Infof("🔀 %s -> %s", e.From, e.To)
}
