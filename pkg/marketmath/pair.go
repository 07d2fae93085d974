package marketmath

import "fmt"

// 本包做 complete-set（UP+DOWN 配对）的 pips 口径数学。
//
// 核心关系：恰好一侧结算 $1/share，因此一对（UP avg + DOWN avg）的
// 成本 < 1.0 就锁定了非负收益。pips = price * 10000。

const (
	// OnePips 1.0 的 pips 表达
	OnePips = 10000
	// PipsPerCent 1 cent = 100 pips
	PipsPerCent = 100
)

// MakerHedgePips 乐观（挂单）口径的对冲价估计：
// max(minTick, oppositeAsk - makerOffset)。
// 对侧 ask 缺失（<=0）时返回 0。
func MakerHedgePips(oppositeAskPips, makerOffsetPips, minTickPips int) int {
	if oppositeAskPips <= 0 {
		return 0
	}
	if minTickPips <= 0 {
		minTickPips = 1
	}
	est := oppositeAskPips - makerOffsetPips
	if est < minTickPips {
		est = minTickPips
	}
	return est
}

// TakerHedgePips 悲观（立即穿价）口径的对冲价估计：直接取对侧 ask。
func TakerHedgePips(oppositeAskPips int) int {
	if oppositeAskPips <= 0 {
		return 0
	}
	return oppositeAskPips
}

// ProjectedCppPips 入场价 + 对冲价估计
func ProjectedCppPips(entryPips, hedgePips int) int {
	return entryPips + hedgePips
}

// Mirror 镜像换算：Buy YES @ P ≡ Sell NO @ (1-P)
func Mirror(pips int) int {
	if pips <= 0 {
		return 0
	}
	return OnePips - pips
}

// EffectiveBuyPips 买入某侧的有效成本：min(该侧 ask, 1 - 对侧 bid)。
// 缺失的一路（<=0）忽略；两路都缺时返回 0。
func EffectiveBuyPips(askPips, oppositeBidPips int) int {
	mirror := Mirror(oppositeBidPips)
	if askPips <= 0 {
		return mirror
	}
	if mirror <= 0 {
		return askPips
	}
	if askPips < mirror {
		return askPips
	}
	return mirror
}

// PairLocked 一对的成本是否锁定非负收益。
// inclusive 控制 cpp == 1.0 的边界归属（历史版本在 < 与 <= 间摇摆，
// 这里作为策略选择暴露出去）。
func PairLocked(cppPips int, inclusive bool) bool {
	if inclusive {
		return cppPips <= OnePips
	}
	return cppPips < OnePips
}

// ValidatePips 基本范围校验（允许 0 表示缺失）
func ValidatePips(name string, pips int) error {
	if pips == 0 {
		return nil
	}
	if pips < 0 || pips > OnePips {
		return fmt.Errorf("%s out of range: %d", name, pips)
	}
	return nil
}
