package domain

import "fmt"

// SignalKind 交易信号类型
type SignalKind string

const (
	SignalKindOpening    SignalKind = "opening"    // 首次入场
	SignalKindHedge      SignalKind = "hedge"      // 对冲少数侧
	SignalKindAccumulate SignalKind = "accumulate" // 少数侧加仓（必须改善 CPP）
	SignalKindRebalance  SignalKind = "rebalance"  // 偏斜修正（买入轻仓侧趋近 1:1）
	SignalKindUnwind     SignalKind = "unwind"     // 收尾强制对冲
)

// TradeSignal 交易信号（引擎每次评估最多产出一个，产出后不再变更）。
//
// 引擎只产出意图，不下单：执行网关负责实际挂撤单，
// 成交通过账本的 OnFill 回流。
type TradeSignal struct {
	Token        TokenType
	Price        Price
	Shares       float64
	Kind         SignalKind
	IsMarketable bool   // 是否穿越价差立即成交（对冲单必须）
	Reason       string // 人类可读说明（日志/复盘用）
}

func (s *TradeSignal) String() string {
	return fmt.Sprintf("%s %s %.2f@%.4f marketable=%v", s.Kind, s.Token, s.Shares, s.Price.ToDecimal(), s.IsMarketable)
}
