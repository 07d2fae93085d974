package engine

import (
	"github.com/betbot/pairlock/internal/domain"
	"github.com/betbot/pairlock/pkg/marketmath"
)

// Feasibility 入场/对冲可行性检查结果。
// taker 口径只用于可观测性，永远不参与拦截。
type Feasibility struct {
	MakerHedgePips     int
	TakerHedgePips     int
	ProjectedMakerPips int
	ProjectedTakerPips int
	Allowed            bool
}

// cppGate CPP 可行性硬闸（不变量：不允许放出无法在上限内配对的买入）。
type cppGate struct {
	cfg *Config
}

// CheckEntry 给定入场价与对侧最优 ask，按 maker 口径投影 CPP 并与硬上限比较。
// 只有 projectedMaker < entryCppMax 才放行。
func (g *cppGate) CheckEntry(entryPrice domain.Price, oppositeAsk domain.Price) Feasibility {
	offsetPips := g.cfg.MakerSpreadOffsetCents * marketmath.PipsPerCent
	maker := marketmath.MakerHedgePips(oppositeAsk.Pips, offsetPips, g.cfg.MinTickPips)
	taker := marketmath.TakerHedgePips(oppositeAsk.Pips)

	f := Feasibility{
		MakerHedgePips:     maker,
		TakerHedgePips:     taker,
		ProjectedMakerPips: marketmath.ProjectedCppPips(entryPrice.Pips, maker),
		ProjectedTakerPips: marketmath.ProjectedCppPips(entryPrice.Pips, taker),
	}
	if maker <= 0 {
		// 对侧无 ask：无法估计对冲价，视为不可行
		return f
	}
	f.Allowed = f.ProjectedMakerPips < g.cfg.EntryCppMaxCents*marketmath.PipsPerCent
	return f
}

// ComboVerdict 组合价守卫结论
type ComboVerdict int

const (
	ComboAllow ComboVerdict = iota // 正常 sizing
	ComboMicro                     // soft 带内：只许最小单
	ComboBlock                     // hard 带外：拒绝
)

// comboGuard 组合价守卫：均价 + 对冲估价的二级防线。
// soft 带只收缩数量，hard 带直接拒绝。
type comboGuard struct {
	cfg *Config
}

// Check sideAvg 为加仓侧当前均价（无持仓时用拟入价本身），hedgeEst 为对侧对冲估价。
func (g *comboGuard) Check(sideAvg domain.Price, hedgeEst domain.Price) (ComboVerdict, int) {
	combinedPips := sideAvg.Pips + hedgeEst.Pips
	hardPips := g.cfg.CombinationHardCents * marketmath.PipsPerCent
	softPips := g.cfg.CombinationSoftCents * marketmath.PipsPerCent

	switch {
	case combinedPips > hardPips:
		return ComboBlock, combinedPips
	case combinedPips > softPips:
		return ComboMicro, combinedPips
	default:
		return ComboAllow, combinedPips
	}
}
