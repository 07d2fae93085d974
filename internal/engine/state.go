package engine

import (
	"github.com/betbot/pairlock/internal/domain"
	"github.com/betbot/pairlock/pkg/marketmath"
)

// ActivityState 形态状态（由持仓形状 + 盘口派生，每次评估重算）
type ActivityState string

const (
	StateFlat            ActivityState = "flat"
	StateOneSided        ActivityState = "one_sided"
	StateHedged          ActivityState = "hedged"
	StateSkewed          ActivityState = "skewed"
	StateDeepDislocation ActivityState = "deep_dislocation" // 双侧 ask 之和深度低于 1：允许激进加仓
	StateUnwind          ActivityState = "unwind"           // 收尾：只做最后的 best-effort 对冲
)

// CppBand 配对 CPP 的合法性带（与形态状态正交）
type CppBand string

const (
	BandNormal    CppBand = "normal"     // 入场/对冲/加仓都合法
	BandHedgeOnly CppBand = "hedge_only" // 只允许少数侧对冲
	BandHoldOnly  CppBand = "hold_only"  // 不再交易，持有到结算
)

// classifyShape 按优先级归类形态状态。UNWIND 由收尾监控先行判定并压过一切。
func classifyShape(cfg *Config, inv *domain.Inventory, quote domain.Quote, unwind bool) ActivityState {
	if unwind {
		return StateUnwind
	}
	if inv.IsFlat() {
		return StateFlat
	}
	if _, ok := inv.OneSided(); ok {
		return StateOneSided
	}
	// 双侧持仓
	if combined, ok := quote.CombinedAsk(); ok {
		if combined.Pips < cfg.DeepDislocationCents*marketmath.PipsPerCent {
			return StateDeepDislocation
		}
	}
	if inv.Skew() > cfg.SkewRebalanceThreshold {
		return StateSkewed
	}
	return StateHedged
}

// classifyBand 按配对 CPP 归类合法性带。非双侧持仓时 CPP 未定义，视为 normal。
func classifyBand(cfg *Config, inv *domain.Inventory) (CppBand, int) {
	cpp, ok := inv.PairedCpp()
	if !ok {
		return BandNormal, 0
	}
	normalPips := cfg.CppNormalMaxCents * marketmath.PipsPerCent
	hedgeOnlyPips := cfg.CppHedgeOnlyMaxCents * marketmath.PipsPerCent

	switch {
	case cpp.Pips < normalPips:
		return BandNormal, cpp.Pips
	case cpp.Pips < hedgeOnlyPips:
		return BandHedgeOnly, cpp.Pips
	default:
		return BandHoldOnly, cpp.Pips
	}
}
