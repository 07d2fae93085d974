package domain

import "time"

// SideQuote 单侧一档盘口。bid/ask 允许单边缺失（Pips=0 表示缺失）。
type SideQuote struct {
	Bid Price
	Ask Price
}

// HasAsk 是否有有效 ask
func (s SideQuote) HasAsk() bool {
	return s.Ask.IsValid()
}

// HasBid 是否有有效 bid
func (s SideQuote) HasBid() bool {
	return s.Bid.IsValid()
}

// Crossed bid > ask（两边都存在时不应发生，视为坏数据）
func (s SideQuote) Crossed() bool {
	return s.HasBid() && s.HasAsk() && s.Bid.Pips > s.Ask.Pips
}

// Quote 双侧盘口快照（决策输入的最小必要信息）。
//
// 与订单簿全量数据不同，这里只承载 UP/DOWN 的一档 bid/ask 和更新时间；
// 过期判断以调用方注入的 now 为准，引擎内部不读墙钟。
type Quote struct {
	Up        SideQuote
	Down      SideQuote
	UpdatedAt time.Time
}

// Side 取指定 token 的盘口
func (q Quote) Side(token TokenType) SideQuote {
	if token == TokenTypeUp {
		return q.Up
	}
	return q.Down
}

// IsStale 以调用方提供的 now 判断是否过期
func (q Quote) IsStale(now time.Time, maxAge time.Duration) bool {
	if q.UpdatedAt.IsZero() {
		return true
	}
	return now.Sub(q.UpdatedAt) > maxAge
}

// CombinedAsk 双侧 ask 之和（两边都有 ask 时有效，否则返回 ok=false）
func (q Quote) CombinedAsk() (Price, bool) {
	if !q.Up.HasAsk() || !q.Down.HasAsk() {
		return Price{}, false
	}
	return q.Up.Ask.Add(q.Down.Ask), true
}
