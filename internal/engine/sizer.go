package engine

import (
	"fmt"
	"math"

	"github.com/betbot/pairlock/internal/domain"
	"github.com/betbot/pairlock/internal/events"
	"github.com/betbot/pairlock/pkg/marketmath"
)

// Rand 注入式随机源：相同种子可复现相同决策（测试/回放）。
// 生产接线用 math/rand 包装即可。
type Rand interface {
	Float64() float64
}

// sizer 把"允许交易"变成具体的数量和限价。
// rebalance 与 accumulate 历史上是两套重叠的买入轻仓侧逻辑，
// 这里合并为一个 sizing 策略的两种模式。
type sizer struct {
	cfg *Config
	rng Rand
}

// Entry 入场单：调用方已选好侧，按随机名义金额换算数量。
func (s *sizer) Entry(token domain.TokenType, ask domain.Price) (*domain.TradeSignal, events.Reason, string) {
	notional := s.cfg.EntryNotionalMinUSDC
	if span := s.cfg.EntryNotionalMaxUSDC - s.cfg.EntryNotionalMinUSDC; span > 0 && s.rng != nil {
		notional += s.rng.Float64() * span
	}
	shares := math.Floor(notional / ask.ToDecimal())
	if shares < s.cfg.MinOrderShares {
		shares = s.cfg.MinOrderShares
	}
	return &domain.TradeSignal{
		Token:        token,
		Price:        ask,
		Shares:       shares,
		Kind:         domain.SignalKindOpening,
		IsMarketable: true,
		Reason:       fmt.Sprintf("入场：买入较便宜侧 %s @%.4f", token, ask.ToDecimal()),
	}, events.ReasonSignalEmitted, ""
}

// hedgePrice 对冲限价：ask + cushion tick，向上对齐 tick，压在上限内。
// 上限低于 ask 时无法穿价成交，返回 ok=false。
func (s *sizer) hedgePrice(ask domain.Price) (domain.Price, bool) {
	cushion := domain.Price{Pips: s.cfg.HedgeCushionTicks * s.cfg.MinTickPips}
	price := ask.Add(cushion).CeilToTick(s.cfg.MinTickPips)
	capPips := s.cfg.MaxHedgePriceCents * marketmath.PipsPerCent
	if ask.Pips > capPips {
		return domain.Price{}, false
	}
	if price.Pips > capPips {
		price = domain.Price{Pips: capPips}
	}
	return price, true
}

// Hedge 对冲单：只买当前少数侧，穿价保证成交。
// 贵侧（ask 超过阈值）只有三种例外才买：
//   a) 仍能锁定非负 combined
//   b) ask 本身已显示近乎确定（市场把该侧定价为几乎必赢）
//   c) 时间紧迫且 combined 不算灾难
// 否则递延，宁可裸着也不锁亏。AlwaysHedge 策略下只剩价格上限能递延。
func (s *sizer) Hedge(
	inv *domain.Inventory,
	minority domain.TokenType,
	ask domain.Price,
	secondsRemaining float64,
) (*domain.TradeSignal, events.Reason, string) {
	if !ask.IsValid() {
		return nil, events.ReasonNoLiquidity, "对冲侧无 ask"
	}

	price, ok := s.hedgePrice(ask)
	if !ok {
		return nil, events.ReasonHedgeDeferredExpensive,
			fmt.Sprintf("对冲价超上限: ask=%dc max=%dc", ask.ToCents(), s.cfg.MaxHedgePriceCents)
	}

	if !s.cfg.AlwaysHedge && ask.ToCents() > s.cfg.ExpensiveSideThresholdCents {
		dominant := minority.Opposite()
		domAvg, hasAvg := inv.AvgPrice(dominant)
		combinedPips := price.Pips
		if hasAvg {
			combinedPips += domAvg.Pips
		}

		locksProfit := marketmath.PairLocked(combinedPips, s.cfg.LockBoundaryInclusive)
		highCertainty := ask.ToCents() >= s.cfg.HighCertaintyCents
		timeCritical := secondsRemaining < float64(s.cfg.CriticalSecondsRemaining) &&
			combinedPips <= s.cfg.CatastrophicCombinedCents*marketmath.PipsPerCent

		if !locksProfit && !highCertainty && !timeCritical {
			return nil, events.ReasonHedgeDeferredExpensive,
				fmt.Sprintf("贵侧对冲递延: ask=%dc combined=%dc（有意保持未对冲，不锁亏）",
					ask.ToCents(), combinedPips/marketmath.PipsPerCent)
		}
	}

	shares := inv.Shares(minority.Opposite()) - inv.Shares(minority)
	if shares < s.cfg.MinOrderShares {
		shares = s.cfg.MinOrderShares
	}
	return &domain.TradeSignal{
		Token:        minority,
		Price:        price,
		Shares:       shares,
		Kind:         domain.SignalKindHedge,
		IsMarketable: true,
		Reason:       fmt.Sprintf("对冲少数侧 %s @%.4f", minority, price.ToDecimal()),
	}, events.ReasonSignalEmitted, ""
}

// Accumulate 加仓：绝不买多数侧，且必须严格改善配对 CPP。
// 配平账本没有多数侧，两侧都是合法目标；多数侧加仓或无改善加仓是硬拒绝。
func (s *sizer) Accumulate(
	inv *domain.Inventory,
	token domain.TokenType,
	ask domain.Price,
	boost bool,
	micro bool,
) (*domain.TradeSignal, events.Reason, string) {
	minority, hasMinority := inv.Minority()
	if !inv.BothSides() || (hasMinority && token != minority) {
		return nil, events.ReasonAccumulateBlockedDom,
			fmt.Sprintf("加仓目标 %s 不是少数侧", token)
	}
	if ask.ToCents() > s.cfg.ExpensiveSideThresholdCents {
		return nil, events.ReasonExpensiveMinorityBlock,
			fmt.Sprintf("少数侧太贵: ask=%dc > %dc（允许偏斜存在，不花钱修）",
				ask.ToCents(), s.cfg.ExpensiveSideThresholdCents)
	}

	notional := s.cfg.AccumulateNotionalUSDC
	if boost {
		notional *= s.cfg.DeepDislocationBoost
	}
	shares := math.Floor(notional / ask.ToDecimal())
	if micro || shares < s.cfg.MinOrderShares {
		shares = s.cfg.MicroOrderShares
	}

	currentCpp, _ := inv.PairedCpp()
	newCpp, ok := inv.CppAfter(token, shares, ask)
	if !ok || !newCpp.LessThan(currentCpp) {
		return nil, events.ReasonAccumulateBlockedWorse,
			fmt.Sprintf("加仓不改善 CPP: current=%dp new=%dp", currentCpp.Pips, newCpp.Pips)
	}

	return &domain.TradeSignal{
		Token:        token,
		Price:        ask,
		Shares:       shares,
		Kind:         domain.SignalKindAccumulate,
		IsMarketable: true,
		Reason:       fmt.Sprintf("加仓少数侧 %s @%.4f（CPP %dp→%dp）", token, ask.ToDecimal(), currentCpp.Pips, newCpp.Pips),
	}, events.ReasonSignalEmitted, ""
}

// Rebalance 偏斜修正：买入轻仓侧趋近 1:1，交易后偏斜不得突破硬上限。
// 全量修正会突破时递减重试；轻仓侧极便宜时放宽 sizing（非对称收益）。
func (s *sizer) Rebalance(
	inv *domain.Inventory,
	ask domain.Price,
	micro bool,
) (*domain.TradeSignal, events.Reason, string) {
	minority, ok := inv.Minority()
	if !ok {
		return nil, events.ReasonNothingToDo, "无少数侧可修正"
	}
	if !ask.IsValid() {
		return nil, events.ReasonNoLiquidity, "轻仓侧无 ask"
	}
	if ask.ToCents() > s.cfg.ExpensiveSideThresholdCents {
		return nil, events.ReasonExpensiveMinorityBlock,
			fmt.Sprintf("少数侧太贵: ask=%dc > %dc（允许偏斜存在，不花钱修）",
				ask.ToCents(), s.cfg.ExpensiveSideThresholdCents)
	}

	corrective := inv.Shares(minority.Opposite()) - inv.Shares(minority)
	shares := corrective
	if ask.ToCents() <= s.cfg.CheapSideCents {
		// 极便宜的轻仓侧：收益不对称，允许超量修正
		shares = corrective * s.cfg.DeepDislocationBoost
	}
	if micro {
		shares = s.cfg.MicroOrderShares
	}

	// 交易后偏斜必须在硬上限内；不行就减半重试，减到最小单还不行就放弃本轮
	for shares >= s.cfg.MinOrderShares {
		if postSkew(inv, minority, shares) <= s.cfg.SkewHardCap {
			break
		}
		shares = math.Floor(shares / 2)
	}
	if shares < s.cfg.MinOrderShares {
		return nil, events.ReasonSkewCapExceeded,
			fmt.Sprintf("修正数量无法满足硬偏斜上限 %.2f", s.cfg.SkewHardCap)
	}

	return &domain.TradeSignal{
		Token:        minority,
		Price:        ask,
		Shares:       shares,
		Kind:         domain.SignalKindRebalance,
		IsMarketable: true,
		Reason:       fmt.Sprintf("偏斜修正：买入轻仓侧 %s %.0f 股", minority, shares),
	}, events.ReasonSignalEmitted, ""
}

// UnwindHedge 收尾强制对冲：单侧持仓的 best-effort 最终配对。
// 不做贵侧递延——时间已经用完了；只受价格上限约束，
// 数量至少为最小可成交单。
func (s *sizer) UnwindHedge(inv *domain.Inventory, held domain.TokenType, ask domain.Price) (*domain.TradeSignal, events.Reason, string) {
	if !ask.IsValid() {
		return nil, events.ReasonNoLiquidity, "收尾对冲侧无 ask"
	}
	price, ok := s.hedgePrice(ask)
	if !ok {
		return nil, events.ReasonUnwindNoAction,
			fmt.Sprintf("收尾对冲价超上限: ask=%dc max=%dc", ask.ToCents(), s.cfg.MaxHedgePriceCents)
	}
	shares := inv.Shares(held)
	if shares < s.cfg.MinOrderShares {
		shares = s.cfg.MinOrderShares
	}
	return &domain.TradeSignal{
		Token:        held.Opposite(),
		Price:        price,
		Shares:       shares,
		Kind:         domain.SignalKindUnwind,
		IsMarketable: true,
		Reason:       fmt.Sprintf("收尾强制对冲 %s @%.4f", held.Opposite(), price.ToDecimal()),
	}, events.ReasonSignalEmitted, ""
}

// postSkew 假设买入 qty 股少数侧后的归一化偏斜
func postSkew(inv *domain.Inventory, minority domain.TokenType, qty float64) float64 {
	up, down := inv.UpShares, inv.DownShares
	if minority == domain.TokenTypeUp {
		up += qty
	} else {
		down += qty
	}
	total := up + down
	if total <= 0 {
		return 0
	}
	return math.Abs(up-down) / total
}
