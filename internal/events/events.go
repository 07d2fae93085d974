package events

import (
	"time"

	"github.com/betbot/pairlock/internal/domain"
)

// Reason 决策/拒绝原因码（机器可读，事件与复盘用）
type Reason string

const (
	ReasonSignalEmitted Reason = "SIGNAL_EMITTED"

	// 常规策略性拒绝（预期内，不是错误）
	ReasonQuoteStale              Reason = "QUOTE_STALE"
	ReasonQuoteInvalid            Reason = "QUOTE_INVALID"
	ReasonCooldownActive          Reason = "COOLDOWN_ACTIVE"
	ReasonStopNewTrades           Reason = "STOP_NEW_TRADES"
	ReasonProjectedCppTooHigh     Reason = "PROJECTED_CPP_TOO_HIGH"
	ReasonCombinationSoftMicro    Reason = "COMBINATION_SOFT_MICRO"
	ReasonCombinationHardBlock    Reason = "COMBINATION_HARD_BLOCK"
	ReasonHedgeBlockedHoldOnly    Reason = "HEDGE_BLOCKED_HOLD_ONLY"
	ReasonHedgeDeferredExpensive  Reason = "HEDGE_DEFERRED_EXPENSIVE"
	ReasonAccumulateBlockedWorse  Reason = "ACCUMULATE_BLOCKED_CPP_WORSE"
	ReasonAccumulateBlockedDom    Reason = "ACCUMULATE_BLOCKED_DOMINANT"
	ReasonExpensiveMinorityBlock  Reason = "EXPENSIVE_MINORITY_BUY_BLOCKED"
	ReasonSkewCapExceeded         Reason = "SKEW_CAP_EXCEEDED"
	ReasonEdgeBelowThreshold      Reason = "EDGE_BELOW_THRESHOLD"
	ReasonFairValueTooLow         Reason = "FAIR_VALUE_TOO_LOW"
	ReasonEntryAlreadyOpened      Reason = "ENTRY_ALREADY_OPENED"
	ReasonNoLiquidity             Reason = "NO_LIQUIDITY"
	ReasonHoldToSettlement        Reason = "HOLD_TO_SETTLEMENT"
	ReasonUnwindNoAction          Reason = "UNWIND_NO_ACTION"
	ReasonNothingToDo             Reason = "NOTHING_TO_DO"
)

// DecisionEvent 单次评估的结构化记录（allow 或 block 都会发）。
//
// 事件投递是 best-effort：Sink 不允许阻塞决策路径，
// 投递失败只损失可观测性，不影响正确性。
type DecisionEvent struct {
	ID        string    // 本次评估 ID
	MarketKey string    // market:asset
	At        time.Time // 注入的评估时间（非墙钟）
	State     string    // 形态状态（flat/one_sided/...）
	Band      string    // CPP 合法性带（normal/hedge_only/hold_only）
	Reason    Reason
	Detail    string // 人类可读说明
	Signal    *domain.TradeSignal

	// 可观测性字段（不参与决策）
	PairedCppCents         int     // 当前配对 CPP（分；未定义时 0）
	ProjectedCppMakerCents int     // maker 口径预估 CPP（分）
	ProjectedCppTakerCents int     // taker 口径预估 CPP（分，仅观测）
	ProfitIfUpWins         float64 // 若 UP 获胜的即时利润（USDC）
	ProfitIfDownWins       float64 // 若 DOWN 获胜的即时利润（USDC）
	MinProfit              float64
	Skew                   float64
}

// IsBlock 是否为拒绝类事件
func (e *DecisionEvent) IsBlock() bool {
	return e.Signal == nil && e.Reason != ReasonSignalEmitted
}

// StateChangedEvent 形态状态变化事件（变化检测用，引擎只保留"上一次状态"）
type StateChangedEvent struct {
	MarketKey string
	From      string
	To        string
	At        time.Time
}

// Sink 事件接收方。实现必须是非阻塞的（内部缓冲/丢弃均可）。
type Sink interface {
	EmitDecision(e *DecisionEvent)
	EmitStateChange(e *StateChangedEvent)
}

// NopSink 丢弃一切事件
type NopSink struct{}

func (NopSink) EmitDecision(*DecisionEvent)        {}
func (NopSink) EmitStateChange(*StateChangedEvent) {}

// MultiSink 扇出到多个 Sink
type MultiSink []Sink

func (m MultiSink) EmitDecision(e *DecisionEvent) {
	for _, s := range m {
		if s != nil {
			s.EmitDecision(e)
		}
	}
}

func (m MultiSink) EmitStateChange(e *StateChangedEvent) {
	for _, s := range m {
		if s != nil {
			s.EmitStateChange(e)
		}
	}
}
