package engine

import (
	"math"

	"github.com/betbot/pairlock/internal/domain"
	"github.com/betbot/pairlock/pkg/marketmath"
)

// Confidence 公允价值估计的置信级别
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// FairValue 单侧公允价值估计（置信标注）
type FairValue struct {
	Value      domain.Price
	Confidence Confidence
}

// FairValues 双侧公允价值估计。调用方可以不提供（nil 侧不做 edge 过滤）。
type FairValues struct {
	Up   *FairValue
	Down *FairValue
}

// Side 取指定侧估计
func (f *FairValues) Side(token domain.TokenType) *FairValue {
	if f == nil {
		return nil
	}
	if token == domain.TokenTypeUp {
		return f.Up
	}
	return f.Down
}

// edgeCalculator 错价（edge）与动态阈值计算。
//
// edge = ask - fairValue，负值表示该侧被低估。
// 阈值随库存压力加宽、随临近到期收窄（下限 30%），
// 避免在周期尾部错过本来合意的入场。
type edgeCalculator struct {
	cfg *Config
}

// ThetaCents 动态阈值（分）。
// elapsed/window 为周期内已过时间与周期总长（秒）。
func (e *edgeCalculator) ThetaCents(elapsedSec, windowSec float64, inv *domain.Inventory) float64 {
	timeMult := 1.0
	if windowSec > 0 {
		timeMult = 1.0 - e.cfg.TimeDecayFactor*(elapsedSec/windowSec)
	}
	if timeMult < e.cfg.TimeMultiplierFloor {
		timeMult = e.cfg.TimeMultiplierFloor
	}

	invMult := 1.0
	if e.cfg.MaxExposureUSDC > 0 {
		ratio := inv.NetExposureUSDC() / e.cfg.MaxExposureUSDC
		invMult = 1.0 + e.cfg.InventoryFactor*ratio
	}

	return e.cfg.BaseThetaCents * timeMult * invMult
}

// EdgeCents 指定侧的 edge（分）。无公允价值估计时 ok=false。
func (e *edgeCalculator) EdgeCents(ask domain.Price, fv *FairValue) (float64, bool) {
	if fv == nil || !fv.Value.IsValid() {
		return 0, false
	}
	return float64(ask.Pips-fv.Value.Pips) / float64(marketmath.PipsPerCent), true
}

// Tradeable 指定侧是否可交易：edge < -theta 且公允价值高于置信相关下限。
// 无估计时不做 edge 过滤（ok=true, 由调用方按价格择优）。
func (e *edgeCalculator) Tradeable(ask domain.Price, fv *FairValue, thetaCents float64) (bool, blockDetail) {
	if fv == nil {
		return true, blockDetail{}
	}

	// 公允价值下限：防止买入"名义便宜"但真实胜率近零的一侧。
	// 低置信估计用更严的下限。
	floorCents := e.cfg.MinFairValueHighConfCents
	if fv.Confidence == ConfidenceLow {
		floorCents = e.cfg.MinFairValueLowConfCents
	}
	if fv.Value.ToCents() < floorCents {
		return false, blockDetail{reason: "fair_value_too_low"}
	}

	edge, _ := e.EdgeCents(ask, fv)
	if edge >= -thetaCents {
		return false, blockDetail{reason: "edge_below_threshold"}
	}
	return true, blockDetail{}
}

// ForceCounterEligible 是否触发强制反向（减敞口）买入。
// 所有条件同时成立才触发；便宜且小敞口的偏斜放着不管——
// 下行本来就封顶，强行反向只会抬高成本。
func (e *edgeCalculator) ForceCounterEligible(
	inv *domain.Inventory,
	quote domain.Quote,
	fvs *FairValues,
	thetaCents float64,
) bool {
	dominant, ok := inv.Dominant()
	if !ok {
		return false
	}

	// 1) 敞口比例超过配置阈值
	if e.cfg.MaxExposureUSDC <= 0 {
		return false
	}
	exposure := inv.NetExposureUSDC()
	if exposure/e.cfg.MaxExposureUSDC <= e.cfg.ForceCounterExposureRatio {
		return false
	}

	// 2) 多数侧 edge 并非强烈有利（edge >= -2θ）；无估计时视为中性
	if domEdge, ok := e.EdgeCents(quote.Side(dominant).Ask, fvs.Side(dominant)); ok {
		if domEdge < -2*thetaCents {
			return false
		}
	}

	// 3) 反向侧自身没有被高估（edge <= θ）
	counter := dominant.Opposite()
	if ctrEdge, ok := e.EdgeCents(quote.Side(counter).Ask, fvs.Side(counter)); ok {
		if ctrEdge > thetaCents {
			return false
		}
	}

	// 4) 多数侧均价足够贵且美元敞口有意义
	domAvg, ok := inv.AvgPrice(dominant)
	if !ok || domAvg.ToCents() <= e.cfg.ExpensiveAvgFloorCents {
		return false
	}
	if exposure < e.cfg.MeaningfulExposureUSDC {
		return false
	}

	return true
}

// blockDetail gate/计算器内部的拒绝细节
type blockDetail struct {
	reason string
}

// cheaperSide 双侧都有 ask 时返回更便宜的一侧；平价时固定选 UP（确定性）。
func cheaperSide(q domain.Quote) (domain.TokenType, bool) {
	if !q.Up.HasAsk() || !q.Down.HasAsk() {
		if q.Up.HasAsk() {
			return domain.TokenTypeUp, true
		}
		if q.Down.HasAsk() {
			return domain.TokenTypeDown, true
		}
		return "", false
	}
	if q.Down.Ask.LessThan(q.Up.Ask) {
		return domain.TokenTypeDown, true
	}
	return domain.TokenTypeUp, true
}

// assertFinite 非有限价格输入属于调用方违约
func assertFinite(vals ...float64) {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			panic("engine: non-finite numeric input")
		}
	}
}
