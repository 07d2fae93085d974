package engine

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/pairlock/internal/domain"
	"github.com/betbot/pairlock/internal/events"
	"github.com/betbot/pairlock/pkg/marketmath"
	"github.com/betbot/pairlock/pkg/throttle"
)

var log = logrus.WithField("module", "pairlock.engine")

// Engine 决策引擎：每次评估是一个同步、无 I/O 的纯计算，
// 输入盘口 + 账本 + 注入的 now，最多产出一个交易信号。
//
// 除 Registry 里按 (market, asset) 键的小额簿记外无共享可变状态；
// 同一 key 的评估由调用方串行化，不同 key 可并行。
type Engine struct {
	cfg      Config
	registry *Registry
	sink     events.Sink
	limiter  *throttle.Limiter

	edge   edgeCalculator
	gate   cppGate
	combo  comboGuard
	sizer  sizer
	unwind unwindMonitor
}

// Option 引擎构造选项
type Option func(*Engine)

// WithSink 事件接收方（默认丢弃）
func WithSink(s events.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithRand 注入随机源（sizing 的名义金额区间；相同种子复现相同决策）
func WithRand(r Rand) Option {
	return func(e *Engine) { e.sizer.rng = r }
}

// WithRegistry 共享注册表（调用方负责市场到期时 Clear）
func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// New 创建引擎。配置不一致是加载期错误，立即失败。
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		registry: NewRegistry(),
		sink:     events.NopSink{},
		limiter:  throttle.New(5 * time.Second),
	}
	e.edge = edgeCalculator{cfg: &e.cfg}
	e.gate = cppGate{cfg: &e.cfg}
	e.combo = comboGuard{cfg: &e.cfg}
	e.sizer = sizer{cfg: &e.cfg}
	e.unwind = unwindMonitor{cfg: &e.cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.sizer.rng == nil {
		e.sizer.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return e, nil
}

// Registry 引擎持有的注册表（调用方做到期清理用）
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Input 单次评估输入。Now 必须由调用方注入，引擎内部不读墙钟。
type Input struct {
	Market            *domain.Market
	Quote             domain.Quote
	Inventory         *domain.Inventory
	FairValues        *FairValues // 可选：nil 时不做 edge 过滤
	Now               time.Time
	NoLiquidityStreak int // 调用方维护的连续无流动性观测计数
}

// Evaluate 评估一次，返回交易信号或 nil。
// 策略性拒绝不是错误：nil + 原因码事件。调用方违约（非法账本等）直接 panic。
func (e *Engine) Evaluate(in Input) *domain.TradeSignal {
	if in.Market == nil || !in.Market.IsValid() {
		panic("engine: invalid market")
	}
	if in.Inventory == nil {
		panic("engine: nil inventory")
	}
	in.Inventory.AssertValid()
	assertFinite(in.Inventory.UpShares, in.Inventory.DownShares)

	key := in.Market.Key()
	rec := e.registry.GetOrCreate(key)
	evalID := uuid.NewString()
	secondsRemaining := float64(in.Market.CycleEndAt - in.Now.Unix())

	// 收尾监控先行判定形态：触发即压过一切（含冷却）
	uw := e.unwind.Check(in.Inventory, secondsRemaining, in.NoLiquidityStreak, in.Now)
	shape := classifyShape(&e.cfg, in.Inventory, in.Quote, uw.Triggered)
	band, cppPips := classifyBand(&e.cfg, in.Inventory)

	// 盘口基本校验
	if in.Quote.Up.Crossed() || in.Quote.Down.Crossed() {
		return e.block(evalID, key, in, rec, shape, events.ReasonQuoteInvalid, "bid>ask，坏数据")
	}
	staleness := time.Duration(e.cfg.QuoteStalenessMs) * time.Millisecond
	if in.Quote.IsStale(in.Now, staleness) {
		return e.block(evalID, key, in, rec, shape, events.ReasonQuoteStale,
			fmt.Sprintf("盘口过期: age=%s", in.Now.Sub(in.Quote.UpdatedAt)))
	}

	// 状态变化检测（只保留"上一次状态"）
	if rec.LastState != shape {
		e.sink.EmitStateChange(&events.StateChangedEvent{
			MarketKey: key, From: string(rec.LastState), To: string(shape), At: in.Now,
		})
		if e.limiter.Allow(key+":state", string(shape), in.Now) {
			log.Infof("🔀 [%s] 状态切换: %s -> %s (cpp=%dp band=%s)", key, rec.LastState, shape, cppPips, band)
		}
		rec.LastState = shape
	}

	// 收尾强制动作不受冷却约束
	if shape == StateUnwind {
		return e.evalUnwind(evalID, key, in, rec, shape, uw)
	}

	// 冷却
	if e.cfg.CooldownMs > 0 && !rec.LastSignalAt.IsZero() {
		cooldown := time.Duration(e.cfg.CooldownMs) * time.Millisecond
		if in.Now.Sub(rec.LastSignalAt) < cooldown {
			return e.block(evalID, key, in, rec, shape, events.ReasonCooldownActive,
				fmt.Sprintf("冷却中: %s 剩余", cooldown-in.Now.Sub(rec.LastSignalAt)))
		}
	}

	// hold-only 带：不再交易
	if band == BandHoldOnly {
		return e.block(evalID, key, in, rec, shape, events.ReasonHedgeBlockedHoldOnly,
			fmt.Sprintf("cpp=%dp >= %dc：持有到结算", cppPips, e.cfg.CppHedgeOnlyMaxCents))
	}

	switch shape {
	case StateFlat:
		return e.evalEntry(evalID, key, in, rec, shape, secondsRemaining)
	case StateOneSided:
		return e.evalHedge(evalID, key, in, rec, shape, secondsRemaining)
	default:
		// 双侧持仓：hedge_only 带只许少数侧对冲
		if band == BandHedgeOnly {
			return e.evalMinorityHedge(evalID, key, in, rec, shape, secondsRemaining)
		}
		return e.evalPaired(evalID, key, in, rec, shape, secondsRemaining)
	}
}

// evalEntry FLAT：入场路径
func (e *Engine) evalEntry(evalID, key string, in Input, rec *Record, shape ActivityState, secondsRemaining float64) *domain.TradeSignal {
	if secondsRemaining < float64(e.cfg.StopNewTradesSeconds) {
		return e.block(evalID, key, in, rec, shape, events.ReasonStopNewTrades,
			fmt.Sprintf("剩余 %.0fs < %ds：不再开新仓", secondsRemaining, e.cfg.StopNewTradesSeconds))
	}
	if rec.OpenedThisCycle && !e.cfg.AllowMultipleOpenings {
		return e.block(evalID, key, in, rec, shape, events.ReasonEntryAlreadyOpened, "本周期已入场")
	}

	first, ok := cheaperSide(in.Quote)
	if !ok {
		return e.block(evalID, key, in, rec, shape, events.ReasonNoLiquidity, "双侧都无 ask")
	}

	elapsed := float64(in.Now.Unix() - in.Market.CycleStart)
	window := float64(in.Market.CycleEndAt - in.Market.CycleStart)
	theta := e.edge.ThetaCents(elapsed, window, in.Inventory)

	// 先试便宜侧，不行再试对侧；两侧都要有对侧 ask 才能投影 CPP
	var lastBlock blockDetail
	for _, token := range []domain.TokenType{first, first.Opposite()} {
		ask := in.Quote.Side(token).Ask
		oppAsk := in.Quote.Side(token.Opposite()).Ask
		if !ask.IsValid() || !oppAsk.IsValid() {
			lastBlock = blockDetail{reason: "no_liquidity"}
			continue
		}

		tradeable, bd := e.edge.Tradeable(ask, in.FairValues.Side(token), theta)
		if !tradeable {
			lastBlock = bd
			continue
		}

		f := e.gate.CheckEntry(ask, oppAsk)
		if !f.Allowed {
			return e.blockWithProjection(evalID, key, in, rec, shape, events.ReasonProjectedCppTooHigh,
				fmt.Sprintf("投影 CPP 超上限: maker=%dp taker=%dp max=%dc",
					f.ProjectedMakerPips, f.ProjectedTakerPips, e.cfg.EntryCppMaxCents), f)
		}

		verdict, combined := e.combo.Check(domain.Price{Pips: f.MakerHedgePips}, ask)
		if verdict == ComboBlock {
			return e.block(evalID, key, in, rec, shape, events.ReasonCombinationHardBlock,
				fmt.Sprintf("组合价硬拒绝: combined=%dp > %dc", combined, e.cfg.CombinationHardCents))
		}

		sig, reason, detail := e.sizer.Entry(token, ask)
		if sig == nil {
			return e.block(evalID, key, in, rec, shape, reason, detail)
		}
		if verdict == ComboMicro {
			sig.Shares = e.cfg.MicroOrderShares
			e.emitBlockOnly(evalID, key, in, shape, events.ReasonCombinationSoftMicro,
				fmt.Sprintf("组合价 soft 带: combined=%dp，收缩为微型单", combined))
		}
		rec.OpenedThisCycle = true
		rec.ProjectedCppAtEntryPips = f.ProjectedMakerPips
		return e.allowWithProjection(evalID, key, in, rec, shape, sig, f)
	}

	reason := events.ReasonNoLiquidity
	switch lastBlock.reason {
	case "fair_value_too_low":
		reason = events.ReasonFairValueTooLow
	case "edge_below_threshold":
		reason = events.ReasonEdgeBelowThreshold
	}
	return e.block(evalID, key, in, rec, shape, reason, "无可入场侧")
}

// evalHedge ONE_SIDED：对冲缺失侧
func (e *Engine) evalHedge(evalID, key string, in Input, rec *Record, shape ActivityState, secondsRemaining float64) *domain.TradeSignal {
	held, _ := in.Inventory.OneSided()
	minority := held.Opposite()
	ask := in.Quote.Side(minority).Ask
	if !ask.IsValid() {
		return e.block(evalID, key, in, rec, shape, events.ReasonNoLiquidity, "对冲侧无 ask")
	}

	sig, reason, detail := e.sizer.Hedge(in.Inventory, minority, ask, secondsRemaining)
	if sig == nil {
		return e.block(evalID, key, in, rec, shape, reason, detail)
	}

	// AlwaysHedge 策略：配对是强制的，组合价守卫不适用（只剩价格上限在 sizer 里兜底）
	if !e.cfg.AlwaysHedge {
		heldAvg, _ := in.Inventory.AvgPrice(held)
		combinedPips := heldAvg.Pips + sig.Price.Pips

		// 非贵侧对冲仍受入场可行性口径约束；贵侧例外已在 sizer 里显式放行
		if ask.ToCents() <= e.cfg.ExpensiveSideThresholdCents {
			if combinedPips >= e.cfg.EntryCppMaxCents*marketmath.PipsPerCent {
				return e.block(evalID, key, in, rec, shape, events.ReasonProjectedCppTooHigh,
					fmt.Sprintf("对冲后 CPP 超上限: combined=%dp max=%dc", combinedPips, e.cfg.EntryCppMaxCents))
			}
		}

		verdict, combined := e.combo.Check(heldAvg, sig.Price)
		if verdict == ComboBlock {
			return e.block(evalID, key, in, rec, shape, events.ReasonCombinationHardBlock,
				fmt.Sprintf("组合价硬拒绝: combined=%dp > %dc", combined, e.cfg.CombinationHardCents))
		}
		if verdict == ComboMicro {
			sig.Shares = e.cfg.MicroOrderShares
			e.emitBlockOnly(evalID, key, in, shape, events.ReasonCombinationSoftMicro,
				fmt.Sprintf("组合价 soft 带: combined=%dp，收缩为微型单", combined))
		}
	}
	return e.allow(evalID, key, in, rec, shape, sig)
}

// evalMinorityHedge hedge_only 带：双侧持仓但 CPP 偏高，只许买少数侧拉平
func (e *Engine) evalMinorityHedge(evalID, key string, in Input, rec *Record, shape ActivityState, secondsRemaining float64) *domain.TradeSignal {
	minority, ok := in.Inventory.Minority()
	if !ok {
		return e.block(evalID, key, in, rec, shape, events.ReasonNothingToDo, "hedge_only 带且无少数侧")
	}
	ask := in.Quote.Side(minority).Ask
	if !ask.IsValid() {
		return e.block(evalID, key, in, rec, shape, events.ReasonNoLiquidity, "少数侧无 ask")
	}

	sig, reason, detail := e.sizer.Hedge(in.Inventory, minority, ask, secondsRemaining)
	if sig == nil {
		return e.block(evalID, key, in, rec, shape, reason, detail)
	}

	domAvg, _ := in.Inventory.AvgPrice(minority.Opposite())
	verdict, combined := e.combo.Check(domAvg, sig.Price)
	if verdict == ComboBlock {
		return e.block(evalID, key, in, rec, shape, events.ReasonCombinationHardBlock,
			fmt.Sprintf("组合价硬拒绝: combined=%dp > %dc", combined, e.cfg.CombinationHardCents))
	}
	if verdict == ComboMicro {
		sig.Shares = e.cfg.MicroOrderShares
	}
	return e.allow(evalID, key, in, rec, shape, sig)
}

// evalPaired HEDGED / SKEWED / DEEP_DISLOCATION：加仓或修偏
func (e *Engine) evalPaired(evalID, key string, in Input, rec *Record, shape ActivityState, secondsRemaining float64) *domain.TradeSignal {
	if secondsRemaining < float64(e.cfg.StopNewTradesSeconds) {
		return e.block(evalID, key, in, rec, shape, events.ReasonStopNewTrades,
			fmt.Sprintf("剩余 %.0fs < %ds：不再加风险", secondsRemaining, e.cfg.StopNewTradesSeconds))
	}

	minority, hasMinority := in.Inventory.Minority()

	// 强制反向：敞口过重且 edge 不反对时，走修偏路径
	elapsed := float64(in.Now.Unix() - in.Market.CycleStart)
	window := float64(in.Market.CycleEndAt - in.Market.CycleStart)
	theta := e.edge.ThetaCents(elapsed, window, in.Inventory)
	forceCounter := e.edge.ForceCounterEligible(in.Inventory, in.Quote, in.FairValues, theta)

	if shape == StateSkewed || forceCounter {
		if !hasMinority {
			return e.block(evalID, key, in, rec, shape, events.ReasonNothingToDo, "无少数侧")
		}
		ask := in.Quote.Side(minority).Ask
		micro, blocked, sig2 := e.comboForAdd(evalID, key, in, rec, shape, minority, ask)
		if blocked {
			return sig2
		}
		sig, reason, detail := e.sizer.Rebalance(in.Inventory, ask, micro)
		if sig == nil {
			return e.block(evalID, key, in, rec, shape, reason, detail)
		}
		return e.allow(evalID, key, in, rec, shape, sig)
	}

	// 加仓路径（HEDGED / DEEP_DISLOCATION）。
	// 配平账本没有少数侧，此时两侧都是合法加仓目标：确定性取较便宜 ask。
	target := minority
	if !hasMinority {
		t, ok := cheaperSide(in.Quote)
		if !ok {
			return e.block(evalID, key, in, rec, shape, events.ReasonNoLiquidity, "双侧都无 ask")
		}
		target = t
	}
	ask := in.Quote.Side(target).Ask
	if !ask.IsValid() {
		return e.block(evalID, key, in, rec, shape, events.ReasonNoLiquidity, "加仓侧无 ask")
	}
	micro, blocked, sig2 := e.comboForAdd(evalID, key, in, rec, shape, target, ask)
	if blocked {
		return sig2
	}
	boost := shape == StateDeepDislocation
	sig, reason, detail := e.sizer.Accumulate(in.Inventory, target, ask, boost, micro)
	if sig == nil {
		return e.block(evalID, key, in, rec, shape, reason, detail)
	}
	return e.allow(evalID, key, in, rec, shape, sig)
}

// comboForAdd 对双侧持仓下的加仓跑组合价守卫。
// 返回 (micro, blocked, blockSignal)。
func (e *Engine) comboForAdd(evalID, key string, in Input, rec *Record, shape ActivityState, target domain.TokenType, ask domain.Price) (bool, bool, *domain.TradeSignal) {
	if !ask.IsValid() {
		return false, true, e.block(evalID, key, in, rec, shape, events.ReasonNoLiquidity, "加仓侧无 ask")
	}
	otherAvg, _ := in.Inventory.AvgPrice(target.Opposite())
	verdict, combined := e.combo.Check(otherAvg, ask)
	switch verdict {
	case ComboBlock:
		return false, true, e.block(evalID, key, in, rec, shape, events.ReasonCombinationHardBlock,
			fmt.Sprintf("组合价硬拒绝: combined=%dp > %dc", combined, e.cfg.CombinationHardCents))
	case ComboMicro:
		return true, false, nil
	default:
		return false, false, nil
	}
}

// evalUnwind UNWIND：只做单侧持仓的最后 best-effort 对冲
func (e *Engine) evalUnwind(evalID, key string, in Input, rec *Record, shape ActivityState, uw unwindCheck) *domain.TradeSignal {
	held, oneSided := in.Inventory.OneSided()
	if !oneSided {
		return e.block(evalID, key, in, rec, shape, events.ReasonUnwindNoAction,
			fmt.Sprintf("收尾(%s)：无单侧持仓需要处理", uw.Why))
	}
	ask := in.Quote.Side(held.Opposite()).Ask
	sig, reason, detail := e.sizer.UnwindHedge(in.Inventory, held, ask)
	if sig == nil {
		return e.block(evalID, key, in, rec, shape, reason, detail)
	}
	sig.Reason = fmt.Sprintf("%s（触发:%s）", sig.Reason, uw.Why)
	return e.allow(evalID, key, in, rec, shape, sig)
}

// ===== 事件发射 =====

func (e *Engine) newEvent(evalID, key string, in Input, shape ActivityState, reason events.Reason, detail string, sig *domain.TradeSignal) *events.DecisionEvent {
	ev := &events.DecisionEvent{
		ID:        evalID,
		MarketKey: key,
		At:        in.Now,
		State:     string(shape),
		Reason:    reason,
		Detail:    detail,
		Signal:    sig,
		Skew:      in.Inventory.Skew(),
	}
	band, cppPips := classifyBand(&e.cfg, in.Inventory)
	ev.Band = string(band)
	ev.PairedCppCents = cppPips / marketmath.PipsPerCent
	ev.ProfitIfUpWins = in.Inventory.ProfitIfUpWins()
	ev.ProfitIfDownWins = in.Inventory.ProfitIfDownWins()
	ev.MinProfit = in.Inventory.MinProfit()
	return ev
}

func (e *Engine) block(evalID, key string, in Input, rec *Record, shape ActivityState, reason events.Reason, detail string) *domain.TradeSignal {
	e.sink.EmitDecision(e.newEvent(evalID, key, in, shape, reason, detail, nil))
	if e.limiter.Allow(key+":block", string(reason), in.Now) {
		log.Debugf("🚫 [%s] %s: %s", key, reason, detail)
	}
	return nil
}

func (e *Engine) blockWithProjection(evalID, key string, in Input, rec *Record, shape ActivityState, reason events.Reason, detail string, f Feasibility) *domain.TradeSignal {
	ev := e.newEvent(evalID, key, in, shape, reason, detail, nil)
	ev.ProjectedCppMakerCents = f.ProjectedMakerPips / marketmath.PipsPerCent
	ev.ProjectedCppTakerCents = f.ProjectedTakerPips / marketmath.PipsPerCent
	e.sink.EmitDecision(ev)
	if e.limiter.Allow(key+":block", string(reason), in.Now) {
		log.Debugf("🚫 [%s] %s: %s", key, reason, detail)
	}
	return nil
}

// emitBlockOnly 只发事件不改变决策结果（soft 带收缩等附注）
func (e *Engine) emitBlockOnly(evalID, key string, in Input, shape ActivityState, reason events.Reason, detail string) {
	e.sink.EmitDecision(e.newEvent(evalID, key, in, shape, reason, detail, nil))
}

func (e *Engine) allow(evalID, key string, in Input, rec *Record, shape ActivityState, sig *domain.TradeSignal) *domain.TradeSignal {
	rec.LastSignalAt = in.Now
	e.sink.EmitDecision(e.newEvent(evalID, key, in, shape, events.ReasonSignalEmitted, sig.Reason, sig))
	log.Infof("✅ [%s] 信号: %s", key, sig)
	return sig
}

func (e *Engine) allowWithProjection(evalID, key string, in Input, rec *Record, shape ActivityState, sig *domain.TradeSignal, f Feasibility) *domain.TradeSignal {
	rec.LastSignalAt = in.Now
	ev := e.newEvent(evalID, key, in, shape, events.ReasonSignalEmitted, sig.Reason, sig)
	ev.ProjectedCppMakerCents = f.ProjectedMakerPips / marketmath.PipsPerCent
	ev.ProjectedCppTakerCents = f.ProjectedTakerPips / marketmath.PipsPerCent
	e.sink.EmitDecision(ev)
	log.Infof("✅ [%s] 信号: %s (maker=%dp taker=%dp)", key, sig, f.ProjectedMakerPips, f.ProjectedTakerPips)
	return sig
}
