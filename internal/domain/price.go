package domain

import "math"

// Price 价格值对象（固定精度：1e-4）
//
// Polymarket 的 tick size 可能为 0.1 / 0.01 / 0.001 / 0.0001。
// 为了让决策层不丢精度，这里使用 1e-4 作为内部最小单位（pips）：
//   - 1 pip  = 0.0001
//   - 100 pips = 0.01（旧阈值口径中的 1 cent）
//   - 10000 pips = 1.0
type Price struct {
	// Pips: 价格 * 10000（有效报价通常 1..9999）
	Pips int
}

// ToDecimal 转换为小数（例如 6000 pips = 0.6000）
func (p Price) ToDecimal() float64 {
	return float64(p.Pips) / 10000.0
}

// ToCents 返回"分（0.01）口径"的整数（用于兼容旧策略阈值/日志）。
// 注意：这不是内部精度，只是展示/阈值换算用。
func (p Price) ToCents() int {
	// 100 pips = 1 cent
	return int(math.Round(float64(p.Pips) / 100.0))
}

// PriceFromDecimal 从小数创建价格（四舍五入到 1e-4）
func PriceFromDecimal(decimal float64) Price {
	return Price{Pips: int(math.Round(decimal * 10000))}
}

// PriceFromCents 从分创建价格（1 cent = 100 pips）
func PriceFromCents(cents int) Price {
	return Price{Pips: cents * 100}
}

// IsValid 有效报价：位于 (0, 1) 开区间内
func (p Price) IsValid() bool {
	return p.Pips > 0 && p.Pips < 10000
}

// Add 价格相加
func (p Price) Add(other Price) Price {
	return Price{Pips: p.Pips + other.Pips}
}

// Subtract 价格相减
func (p Price) Subtract(other Price) Price {
	return Price{Pips: p.Pips - other.Pips}
}

// GreaterThan 检查是否大于
func (p Price) GreaterThan(other Price) bool {
	return p.Pips > other.Pips
}

// LessThan 检查是否小于
func (p Price) LessThan(other Price) bool {
	return p.Pips < other.Pips
}

// GreaterThanOrEqual 检查是否大于等于
func (p Price) GreaterThanOrEqual(other Price) bool {
	return p.Pips >= other.Pips
}

// LessThanOrEqual 检查是否小于等于
func (p Price) LessThanOrEqual(other Price) bool {
	return p.Pips <= other.Pips
}

// CeilToTick 向上对齐到 tick（tickPips <= 0 时原样返回）
func (p Price) CeilToTick(tickPips int) Price {
	if tickPips <= 0 {
		return p
	}
	rem := p.Pips % tickPips
	if rem == 0 {
		return p
	}
	return Price{Pips: p.Pips + tickPips - rem}
}

// Clamp 将价格限制在 [lo, hi] 区间内
func (p Price) Clamp(lo, hi Price) Price {
	if p.Pips < lo.Pips {
		return lo
	}
	if p.Pips > hi.Pips {
		return hi
	}
	return p
}
