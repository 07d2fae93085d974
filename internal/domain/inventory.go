package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Inventory 单市场双侧持仓账本。
//
// 只有买入路径（本系统不卖出，持有到结算），因此成本单调不减。
// 成本用 decimal 精确累加：大量小额成交下 float64 累加会漂移，
// 而 CPP 判定对 1c 级别的边界敏感。
type Inventory struct {
	UpShares   float64         // UP 持仓数量
	DownShares float64         // DOWN 持仓数量
	UpCost     decimal.Decimal // UP 总成本（USDC）
	DownCost   decimal.Decimal // DOWN 总成本（USDC）

	FirstFillAt *time.Time // 首次成交时间（对冲时滞计算基准）
	LastFillAt  *time.Time // 最近成交时间
}

// NewInventory 创建空账本
func NewInventory() *Inventory {
	return &Inventory{
		UpCost:   decimal.Zero,
		DownCost: decimal.Zero,
	}
}

// OnFill 记录一笔已确认成交（由账本持有方在执行网关确认后调用）。
// qty<=0 或非法价格属于调用方违约，直接 panic。
func (inv *Inventory) OnFill(token TokenType, qty float64, price Price, at time.Time) {
	if qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		panic(fmt.Sprintf("inventory: invalid fill qty %v", qty))
	}
	if !price.IsValid() {
		panic(fmt.Sprintf("inventory: invalid fill price %d pips", price.Pips))
	}

	cost := decimal.NewFromFloat(price.ToDecimal()).Mul(decimal.NewFromFloat(qty))
	if token == TokenTypeUp {
		inv.UpShares += qty
		inv.UpCost = inv.UpCost.Add(cost)
	} else {
		inv.DownShares += qty
		inv.DownCost = inv.DownCost.Add(cost)
	}

	t := at
	if inv.FirstFillAt == nil {
		inv.FirstFillAt = &t
	}
	inv.LastFillAt = &t
}

// Shares 取指定侧持仓数量
func (inv *Inventory) Shares(token TokenType) float64 {
	if token == TokenTypeUp {
		return inv.UpShares
	}
	return inv.DownShares
}

// Cost 取指定侧累计成本（USDC）
func (inv *Inventory) Cost(token TokenType) decimal.Decimal {
	if token == TokenTypeUp {
		return inv.UpCost
	}
	return inv.DownCost
}

// AvgPrice 指定侧平均价格；shares=0 时未定义（ok=false）
func (inv *Inventory) AvgPrice(token TokenType) (Price, bool) {
	shares := inv.Shares(token)
	if shares <= 0 {
		return Price{}, false
	}
	avg := inv.Cost(token).Div(decimal.NewFromFloat(shares))
	f, _ := avg.Float64()
	return PriceFromDecimal(f), true
}

// IsFlat 两侧都无持仓
func (inv *Inventory) IsFlat() bool {
	return inv.UpShares <= 0 && inv.DownShares <= 0
}

// OneSided 恰好单侧持仓时返回该侧
func (inv *Inventory) OneSided() (TokenType, bool) {
	if inv.UpShares > 0 && inv.DownShares <= 0 {
		return TokenTypeUp, true
	}
	if inv.DownShares > 0 && inv.UpShares <= 0 {
		return TokenTypeDown, true
	}
	return "", false
}

// BothSides 两侧都有持仓
func (inv *Inventory) BothSides() bool {
	return inv.UpShares > 0 && inv.DownShares > 0
}

// Minority 少数侧（持仓更少的一侧）。两侧相等或非双侧持仓时 ok=false。
func (inv *Inventory) Minority() (TokenType, bool) {
	if !inv.BothSides() {
		return "", false
	}
	if inv.UpShares < inv.DownShares {
		return TokenTypeUp, true
	}
	if inv.DownShares < inv.UpShares {
		return TokenTypeDown, true
	}
	return "", false
}

// Dominant 多数侧。两侧相等或非双侧持仓时 ok=false。
func (inv *Inventory) Dominant() (TokenType, bool) {
	minority, ok := inv.Minority()
	if !ok {
		return "", false
	}
	return minority.Opposite(), true
}

// Skew 归一化持仓不平衡：|up-down| / (up+down)，无持仓时为 0
func (inv *Inventory) Skew() float64 {
	total := inv.UpShares + inv.DownShares
	if total <= 0 {
		return 0
	}
	return math.Abs(inv.UpShares-inv.DownShares) / total
}

// NetExposureUSDC 未配对敞口（双侧成本差的绝对值，USDC）
func (inv *Inventory) NetExposureUSDC() float64 {
	diff := inv.UpCost.Sub(inv.DownCost).Abs()
	f, _ := diff.Float64()
	return f
}

// TotalCostUSDC 双侧总成本（USDC）
func (inv *Inventory) TotalCostUSDC() float64 {
	f, _ := inv.UpCost.Add(inv.DownCost).Float64()
	return f
}

// PairedCpp 配对 CPP：两侧平均价之和。仅双侧持仓时有定义。
func (inv *Inventory) PairedCpp() (Price, bool) {
	upAvg, okUp := inv.AvgPrice(TokenTypeUp)
	downAvg, okDown := inv.AvgPrice(TokenTypeDown)
	if !okUp || !okDown {
		return Price{}, false
	}
	return upAvg.Add(downAvg), true
}

// CppAfter 假设在指定侧以 price 加仓 qty 后的配对 CPP。
// 加仓后仍非双侧持仓时 ok=false。
func (inv *Inventory) CppAfter(token TokenType, qty float64, price Price) (Price, bool) {
	next := inv.Clone()
	// 假想成交不更新时间戳
	cost := decimal.NewFromFloat(price.ToDecimal()).Mul(decimal.NewFromFloat(qty))
	if token == TokenTypeUp {
		next.UpShares += qty
		next.UpCost = next.UpCost.Add(cost)
	} else {
		next.DownShares += qty
		next.DownCost = next.DownCost.Add(cost)
	}
	return next.PairedCpp()
}

// Clone 返回账本副本（引擎内部做假想成交用）
func (inv *Inventory) Clone() *Inventory {
	out := &Inventory{
		UpShares:   inv.UpShares,
		DownShares: inv.DownShares,
		UpCost:     inv.UpCost,
		DownCost:   inv.DownCost,
	}
	if inv.FirstFillAt != nil {
		t := *inv.FirstFillAt
		out.FirstFillAt = &t
	}
	if inv.LastFillAt != nil {
		t := *inv.LastFillAt
		out.LastFillAt = &t
	}
	return out
}

// AssertValid 账本不变量检查：负持仓/负成本属于调用方违约，直接 panic。
func (inv *Inventory) AssertValid() {
	if inv.UpShares < 0 || inv.DownShares < 0 {
		panic(fmt.Sprintf("inventory: negative shares up=%.4f down=%.4f", inv.UpShares, inv.DownShares))
	}
	if math.IsNaN(inv.UpShares) || math.IsNaN(inv.DownShares) ||
		math.IsInf(inv.UpShares, 0) || math.IsInf(inv.DownShares, 0) {
		panic("inventory: non-finite shares")
	}
	if inv.UpCost.IsNegative() || inv.DownCost.IsNegative() {
		panic("inventory: negative cost")
	}
}

// ProfitIfUpWins 若 UP 获胜的即时利润（USDC）：UP 每股付 1。
func (inv *Inventory) ProfitIfUpWins() float64 {
	return inv.UpShares*1.0 - inv.TotalCostUSDC()
}

// ProfitIfDownWins 若 DOWN 获胜的即时利润（USDC）
func (inv *Inventory) ProfitIfDownWins() float64 {
	return inv.DownShares*1.0 - inv.TotalCostUSDC()
}

// MinProfit 两种结算结果下的最差利润
func (inv *Inventory) MinProfit() float64 {
	return math.Min(inv.ProfitIfUpWins(), inv.ProfitIfDownWins())
}
