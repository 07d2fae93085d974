package engine

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/pairlock/internal/domain"
	"github.com/betbot/pairlock/internal/events"
)

// ===== 测试夹具 =====

var testNow = time.Unix(1_766_000_000, 0)

func testMarket() *domain.Market {
	return &domain.Market{
		Slug:        "btc-updown-15m-1765985400",
		Asset:       "btc",
		UpAssetID:   "up-token",
		DownAssetID: "down-token",
		ConditionID: "0xcond",
		CycleStart:  testNow.Unix() - 300,
		CycleEndAt:  testNow.Unix() + 600,
	}
}

func quoteAt(upAsk, downAsk float64, at time.Time) domain.Quote {
	q := domain.Quote{UpdatedAt: at}
	if upAsk > 0 {
		q.Up.Ask = domain.PriceFromDecimal(upAsk)
	}
	if downAsk > 0 {
		q.Down.Ask = domain.PriceFromDecimal(downAsk)
	}
	return q
}

func invWith(upQty, upPx, downQty, downPx float64, at time.Time) *domain.Inventory {
	inv := &domain.Inventory{}
	if upQty > 0 {
		inv.OnFill(domain.TokenTypeUp, upQty, domain.PriceFromDecimal(upPx), at)
	}
	if downQty > 0 {
		inv.OnFill(domain.TokenTypeDown, downQty, domain.PriceFromDecimal(downPx), at)
	}
	return inv
}

// captureSink 收集事件供断言
type captureSink struct {
	mu        sync.Mutex
	decisions []*events.DecisionEvent
	states    []*events.StateChangedEvent
}

func (s *captureSink) EmitDecision(e *events.DecisionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, e)
}

func (s *captureSink) EmitStateChange(e *events.StateChangedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, e)
}

func (s *captureSink) lastReason() events.Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.decisions) == 0 {
		return ""
	}
	return s.decisions[len(s.decisions)-1].Reason
}

func (s *captureSink) hasReason(r events.Reason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.decisions {
		if e.Reason == r {
			return true
		}
	}
	return false
}

func newTestEngine(t *testing.T, mutate func(*Config)) (*Engine, *captureSink) {
	t.Helper()
	cfg, err := Preset("D.2")
	require.NoError(t, err)
	cfg.CooldownMs = 0
	if mutate != nil {
		mutate(&cfg)
	}
	sink := &captureSink{}
	eng, err := New(cfg,
		WithSink(sink),
		WithRand(rand.New(rand.NewSource(42))),
	)
	require.NoError(t, err)
	return eng, sink
}

// ===== 入场 =====

func TestEvaluate_FlatEntry(t *testing.T) {
	eng, sink := newTestEngine(t, nil)

	// 双侧 0.46：较便宜侧（平价固定 UP），maker 投影 0.46+0.44=0.90 < 0.99
	sig := eng.Evaluate(Input{
		Market:    testMarket(),
		Quote:     quoteAt(0.46, 0.46, testNow),
		Inventory: &domain.Inventory{},
		Now:       testNow,
	})

	require.NotNil(t, sig)
	assert.Equal(t, domain.SignalKindOpening, sig.Kind)
	assert.Equal(t, domain.TokenTypeUp, sig.Token)
	assert.Equal(t, domain.PriceFromDecimal(0.46), sig.Price)
	assert.True(t, sig.IsMarketable)
	assert.GreaterOrEqual(t, sig.Shares, 5.0)
	assert.Equal(t, events.ReasonSignalEmitted, sink.lastReason())

	last := sink.decisions[len(sink.decisions)-1]
	assert.Equal(t, 90, last.ProjectedCppMakerCents)
	assert.Equal(t, 92, last.ProjectedCppTakerCents)
}

func TestEvaluate_EntryProjectionTooHigh(t *testing.T) {
	eng, sink := newTestEngine(t, nil)

	// 0.52+maker(0.50)=1.02 >= 0.99：硬拒绝
	sig := eng.Evaluate(Input{
		Market:    testMarket(),
		Quote:     quoteAt(0.52, 0.52, testNow),
		Inventory: &domain.Inventory{},
		Now:       testNow,
	})

	assert.Nil(t, sig)
	assert.Equal(t, events.ReasonProjectedCppTooHigh, sink.lastReason())
}

func TestEvaluate_EntrySoftBandShrinksToMicro(t *testing.T) {
	eng, sink := newTestEngine(t, nil)

	// 便宜侧 DOWN 0.50，maker(0.505)=0.485 → combined 0.985：soft 带（>0.98），微型单
	sig := eng.Evaluate(Input{
		Market:    testMarket(),
		Quote:     quoteAt(0.505, 0.50, testNow),
		Inventory: &domain.Inventory{},
		Now:       testNow,
	})

	require.NotNil(t, sig)
	assert.Equal(t, domain.TokenTypeDown, sig.Token)
	assert.Equal(t, 5.0, sig.Shares)
	assert.True(t, sink.hasReason(events.ReasonCombinationSoftMicro))
}

func TestEvaluate_EntryEdgeFallsBackToOtherSide(t *testing.T) {
	eng, _ := newTestEngine(t, nil)

	// UP 有公允价值估计且 edge 不利；DOWN 无估计 → 回落到 DOWN
	fvs := &FairValues{
		Up: &FairValue{Value: domain.PriceFromDecimal(0.30), Confidence: ConfidenceHigh},
	}
	sig := eng.Evaluate(Input{
		Market:     testMarket(),
		Quote:      quoteAt(0.46, 0.46, testNow),
		Inventory:  &domain.Inventory{},
		FairValues: fvs,
		Now:        testNow,
	})

	require.NotNil(t, sig)
	assert.Equal(t, domain.TokenTypeDown, sig.Token)
}

func TestEvaluate_EntryBlockedByFairValueFloor(t *testing.T) {
	eng, sink := newTestEngine(t, nil)

	fvs := &FairValues{
		Up:   &FairValue{Value: domain.PriceFromDecimal(0.05), Confidence: ConfidenceHigh},
		Down: &FairValue{Value: domain.PriceFromDecimal(0.08), Confidence: ConfidenceLow},
	}
	sig := eng.Evaluate(Input{
		Market:     testMarket(),
		Quote:      quoteAt(0.46, 0.46, testNow),
		Inventory:  &domain.Inventory{},
		FairValues: fvs,
		Now:        testNow,
	})

	assert.Nil(t, sig)
	assert.Equal(t, events.ReasonFairValueTooLow, sink.lastReason())
}

func TestEvaluate_SecondEntryBlockedSameCycle(t *testing.T) {
	eng, sink := newTestEngine(t, nil)
	in := Input{
		Market:    testMarket(),
		Quote:     quoteAt(0.46, 0.46, testNow),
		Inventory: &domain.Inventory{},
		Now:       testNow,
	}

	require.NotNil(t, eng.Evaluate(in))

	in.Now = testNow.Add(3 * time.Second)
	in.Quote.UpdatedAt = in.Now
	assert.Nil(t, eng.Evaluate(in))
	assert.Equal(t, events.ReasonEntryAlreadyOpened, sink.lastReason())
}

// ===== 对冲 =====

func TestEvaluate_OneSidedHedge(t *testing.T) {
	eng, _ := newTestEngine(t, nil)

	inv := invWith(30, 0.40, 0, 0, testNow)
	sig := eng.Evaluate(Input{
		Market:    testMarket(),
		Quote:     quoteAt(0.58, 0.44, testNow),
		Inventory: inv,
		Now:       testNow,
	})

	require.NotNil(t, sig)
	assert.Equal(t, domain.SignalKindHedge, sig.Kind)
	assert.Equal(t, domain.TokenTypeDown, sig.Token)
	// ask + 1 tick 穿价
	assert.Equal(t, domain.PriceFromDecimal(0.45), sig.Price)
	assert.Equal(t, 30.0, sig.Shares)
	assert.True(t, sig.IsMarketable)
}

func TestEvaluate_ExpensiveHedgeDeferred(t *testing.T) {
	eng, sink := newTestEngine(t, nil)

	// DOWN ask 0.66 > 55c，combined 0.40+0.67=1.07：宁可裸着
	inv := invWith(30, 0.40, 0, 0, testNow)
	sig := eng.Evaluate(Input{
		Market:    testMarket(),
		Quote:     quoteAt(0.36, 0.66, testNow),
		Inventory: inv,
		Now:       testNow,
	})

	assert.Nil(t, sig)
	assert.Equal(t, events.ReasonHedgeDeferredExpensive, sink.lastReason())
}

func TestEvaluate_ExpensiveHedgeAllowedWhenLocksProfit(t *testing.T) {
	eng, _ := newTestEngine(t, nil)

	// 均价够低：0.30+0.61=0.91 < 1.00 仍锁定收益，贵侧也对冲
	inv := invWith(30, 0.30, 0, 0, testNow)
	sig := eng.Evaluate(Input{
		Market:    testMarket(),
		Quote:     quoteAt(0.40, 0.60, testNow),
		Inventory: inv,
		Now:       testNow,
	})

	require.NotNil(t, sig)
	assert.Equal(t, domain.SignalKindHedge, sig.Kind)
	assert.Equal(t, domain.TokenTypeDown, sig.Token)
}

func TestEvaluate_AlwaysHedgePaysUp(t *testing.T) {
	eng, _ := newTestEngine(t, func(c *Config) { c.AlwaysHedge = true })

	// v6.0 口径：贵侧递延规则整体关闭，只剩价格上限
	inv := invWith(30, 0.40, 0, 0, testNow)
	sig := eng.Evaluate(Input{
		Market:    testMarket(),
		Quote:     quoteAt(0.36, 0.66, testNow),
		Inventory: inv,
		Now:       testNow,
	})

	require.NotNil(t, sig)
	assert.Equal(t, domain.SignalKindHedge, sig.Kind)
}

// ===== CPP 带 =====

func TestEvaluate_HedgeOnlyBandAllowsMinorityHedge(t *testing.T) {
	eng, _ := newTestEngine(t, nil)

	// cpp = 0.50+0.495 = 0.995 ∈ [0.99, 1.01)：hedge_only
	inv := invWith(100, 0.50, 60, 0.495, testNow)
	sig := eng.Evaluate(Input{
		Market:    testMarket(),
		Quote:     quoteAt(0.54, 0.48, testNow),
		Inventory: inv,
		Now:       testNow,
	})

	require.NotNil(t, sig)
	assert.Equal(t, domain.SignalKindHedge, sig.Kind)
	assert.Equal(t, domain.TokenTypeDown, sig.Token, "hedge_only 带只许买少数侧")
}

func TestEvaluate_HoldOnlyBandBlocksEverything(t *testing.T) {
	eng, sink := newTestEngine(t, nil)

	// cpp = 0.55+0.50 = 1.05 >= 1.01：持有到结算
	inv := invWith(100, 0.55, 50, 0.50, testNow)
	sig := eng.Evaluate(Input{
		Market:    testMarket(),
		Quote:     quoteAt(0.54, 0.48, testNow),
		Inventory: inv,
		Now:       testNow,
	})

	assert.Nil(t, sig)
	assert.Equal(t, events.ReasonHedgeBlockedHoldOnly, sink.lastReason())
}

// ===== 加仓 / 修偏 =====

func TestEvaluate_AccumulateImprovesCpp(t *testing.T) {
	eng, _ := newTestEngine(t, nil)

	// 少数侧 DOWN 均价 0.32，ask 0.28：加仓拉低 CPP
	inv := invWith(100, 0.31, 60, 0.32, testNow)
	sig := eng.Evaluate(Input{
		Market:    testMarket(),
		Quote:     quoteAt(0.64, 0.28, testNow),
		Inventory: inv,
		Now:       testNow,
	})

	require.NotNil(t, sig)
	assert.Equal(t, domain.SignalKindAccumulate, sig.Kind)
	assert.Equal(t, domain.TokenTypeDown, sig.Token)

	newCpp, ok := inv.CppAfter(sig.Token, sig.Shares, sig.Price)
	require.True(t, ok)
	cpp, _ := inv.PairedCpp()
	assert.True(t, newCpp.LessThan(cpp), "加仓必须严格改善 CPP")
}

func TestEvaluate_AccumulateAtAvgPriceBlocked(t *testing.T) {
	eng, sink := newTestEngine(t, nil)

	// ask == 少数侧均价：CPP 无改善，拒绝
	inv := invWith(100, 0.31, 60, 0.29, testNow)
	sig := eng.Evaluate(Input{
		Market:    testMarket(),
		Quote:     quoteAt(0.64, 0.29, testNow),
		Inventory: inv,
		Now:       testNow,
	})

	assert.Nil(t, sig)
	assert.Equal(t, events.ReasonAccumulateBlockedWorse, sink.lastReason())
}

func TestEvaluate_BalancedDeepDislocationAccumulates(t *testing.T) {
	eng, _ := newTestEngine(t, nil)

	// 10/10 @0.30 完全配平，双侧 ask 0.29（合计 0.58：深度错价）。
	// 配平不挡加仓：平价 ask 确定性取 UP，加仓仍须严格改善 CPP。
	inv := invWith(10, 0.30, 10, 0.30, testNow)
	sig := eng.Evaluate(Input{
		Market:    testMarket(),
		Quote:     quoteAt(0.29, 0.29, testNow),
		Inventory: inv,
		Now:       testNow,
	})

	require.NotNil(t, sig)
	assert.Equal(t, domain.SignalKindAccumulate, sig.Kind)
	assert.Equal(t, domain.TokenTypeUp, sig.Token)
	assert.Equal(t, domain.PriceFromDecimal(0.29), sig.Price)

	newCpp, ok := inv.CppAfter(sig.Token, sig.Shares, sig.Price)
	require.True(t, ok)
	cpp, _ := inv.PairedCpp()
	assert.True(t, newCpp.LessThan(cpp), "配平加仓同样必须严格改善 CPP")
}

func TestEvaluate_BalancedAccumulateTakesCheaperAsk(t *testing.T) {
	eng, _ := newTestEngine(t, nil)

	inv := invWith(10, 0.30, 10, 0.30, testNow)
	sig := eng.Evaluate(Input{
		Market:    testMarket(),
		Quote:     quoteAt(0.33, 0.27, testNow),
		Inventory: inv,
		Now:       testNow,
	})

	require.NotNil(t, sig)
	assert.Equal(t, domain.SignalKindAccumulate, sig.Kind)
	assert.Equal(t, domain.TokenTypeDown, sig.Token)
}

func TestEvaluate_SkewedRebalance(t *testing.T) {
	eng, _ := newTestEngine(t, nil)

	// skew = 60/140 ≈ 0.43 > 0.25：修偏买轻仓侧
	inv := invWith(100, 0.30, 40, 0.35, testNow)
	sig := eng.Evaluate(Input{
		Market:    testMarket(),
		Quote:     quoteAt(0.62, 0.33, testNow),
		Inventory: inv,
		Now:       testNow,
	})

	require.NotNil(t, sig)
	assert.Equal(t, domain.SignalKindRebalance, sig.Kind)
	assert.Equal(t, domain.TokenTypeDown, sig.Token)
}

func TestEvaluate_ExpensiveMinorityNeverBought(t *testing.T) {
	eng, sink := newTestEngine(t, nil)

	// 少数侧 ask 0.60 > 55c：允许偏斜存在，不买贵侧修
	inv := invWith(100, 0.30, 20, 0.55, testNow)
	sig := eng.Evaluate(Input{
		Market:    testMarket(),
		Quote:     quoteAt(0.42, 0.60, testNow),
		Inventory: inv,
		Now:       testNow,
	})

	assert.Nil(t, sig)
	assert.Equal(t, events.ReasonExpensiveMinorityBlock, sink.lastReason())
}

// ===== 收尾 =====

func TestEvaluate_UnwindForcesHedge(t *testing.T) {
	eng, sink := newTestEngine(t, nil)

	m := testMarket()
	m.CycleEndAt = testNow.Unix() + 30 // < unwindStartSeconds(45)
	inv := invWith(50, 0.40, 0, 0, testNow.Add(-10*time.Second))

	sig := eng.Evaluate(Input{
		Market:    m,
		Quote:     quoteAt(0.28, 0.70, testNow),
		Inventory: inv,
		Now:       testNow,
	})

	require.NotNil(t, sig)
	assert.Equal(t, domain.SignalKindUnwind, sig.Kind)
	assert.Equal(t, domain.TokenTypeDown, sig.Token)
	// 收尾不做贵侧递延
	assert.Equal(t, domain.PriceFromDecimal(0.71), sig.Price)
	assert.Equal(t, 50.0, sig.Shares)

	// 决策事件与状态流一致：收尾路径发出的事件带 unwind 形态
	last := sink.decisions[len(sink.decisions)-1]
	assert.Equal(t, string(StateUnwind), last.State)
	require.NotEmpty(t, sink.states)
	assert.Equal(t, string(StateUnwind), sink.states[len(sink.states)-1].To)
}

func TestEvaluate_UnwindPreemptsCooldown(t *testing.T) {
	eng, _ := newTestEngine(t, func(c *Config) { c.CooldownMs = 600_000 })

	m := testMarket()
	inv := invWith(50, 0.40, 0, 0, testNow)

	// 先产一个对冲信号进入冷却
	first := eng.Evaluate(Input{
		Market:    m,
		Quote:     quoteAt(0.58, 0.44, testNow),
		Inventory: inv,
		Now:       testNow,
	})
	require.NotNil(t, first)

	// 冷却远未结束，但已进入收尾窗口：强制对冲不受冷却约束
	later := time.Unix(m.CycleEndAt-30, 0)
	sig := eng.Evaluate(Input{
		Market:    m,
		Quote:     quoteAt(0.28, 0.70, later),
		Inventory: inv,
		Now:       later,
	})

	require.NotNil(t, sig)
	assert.Equal(t, domain.SignalKindUnwind, sig.Kind)
}

func TestEvaluate_UnwindNoActionWhenPaired(t *testing.T) {
	eng, sink := newTestEngine(t, nil)

	m := testMarket()
	m.CycleEndAt = testNow.Unix() + 30
	inv := invWith(50, 0.40, 50, 0.45, testNow.Add(-10*time.Second))

	sig := eng.Evaluate(Input{
		Market:    m,
		Quote:     quoteAt(0.42, 0.48, testNow),
		Inventory: inv,
		Now:       testNow,
	})

	assert.Nil(t, sig)
	assert.Equal(t, events.ReasonUnwindNoAction, sink.lastReason())
}

func TestEvaluate_HedgeTimeoutTriggersUnwind(t *testing.T) {
	eng, _ := newTestEngine(t, nil)

	// 首次成交 90s 前（> hedgeTimeoutSeconds=60）仍单侧：强制收尾对冲
	inv := invWith(50, 0.40, 0, 0, testNow.Add(-90*time.Second))
	sig := eng.Evaluate(Input{
		Market:    testMarket(),
		Quote:     quoteAt(0.42, 0.48, testNow),
		Inventory: inv,
		Now:       testNow,
	})

	require.NotNil(t, sig)
	assert.Equal(t, domain.SignalKindUnwind, sig.Kind)
}

// ===== 时间/盘口守卫 =====

func TestEvaluate_StopNewTrades(t *testing.T) {
	eng, sink := newTestEngine(t, nil)

	m := testMarket()
	m.CycleEndAt = testNow.Unix() + 100 // < stopNewTradesSeconds(120)，> unwindStart(45)
	sig := eng.Evaluate(Input{
		Market:    m,
		Quote:     quoteAt(0.46, 0.46, testNow),
		Inventory: &domain.Inventory{},
		Now:       testNow,
	})

	assert.Nil(t, sig)
	assert.Equal(t, events.ReasonStopNewTrades, sink.lastReason())
}

func TestEvaluate_StaleQuote(t *testing.T) {
	eng, sink := newTestEngine(t, nil)

	sig := eng.Evaluate(Input{
		Market:    testMarket(),
		Quote:     quoteAt(0.46, 0.46, testNow.Add(-10*time.Second)),
		Inventory: &domain.Inventory{},
		Now:       testNow,
	})

	assert.Nil(t, sig)
	assert.Equal(t, events.ReasonQuoteStale, sink.lastReason())
}

func TestEvaluate_CrossedQuote(t *testing.T) {
	eng, sink := newTestEngine(t, nil)

	q := quoteAt(0.46, 0.46, testNow)
	q.Up.Bid = domain.PriceFromDecimal(0.50) // bid > ask
	sig := eng.Evaluate(Input{
		Market:    testMarket(),
		Quote:     q,
		Inventory: &domain.Inventory{},
		Now:       testNow,
	})

	assert.Nil(t, sig)
	assert.Equal(t, events.ReasonQuoteInvalid, sink.lastReason())
}

func TestEvaluate_Cooldown(t *testing.T) {
	eng, sink := newTestEngine(t, func(c *Config) {
		c.CooldownMs = 1500
		c.AllowMultipleOpenings = true
	})
	in := Input{
		Market:    testMarket(),
		Quote:     quoteAt(0.46, 0.46, testNow),
		Inventory: &domain.Inventory{},
		Now:       testNow,
	}

	require.NotNil(t, eng.Evaluate(in))

	in.Now = testNow.Add(500 * time.Millisecond)
	in.Quote.UpdatedAt = in.Now
	assert.Nil(t, eng.Evaluate(in))
	assert.Equal(t, events.ReasonCooldownActive, sink.lastReason())

	in.Now = testNow.Add(2 * time.Second)
	in.Quote.UpdatedAt = in.Now
	assert.NotNil(t, eng.Evaluate(in))
}

// ===== 确定性 =====

func TestEvaluate_DeterministicWithSameSeed(t *testing.T) {
	run := func() *domain.TradeSignal {
		cfg, err := Preset("D.2")
		require.NoError(t, err)
		cfg.CooldownMs = 0
		eng, err := New(cfg, WithRand(rand.New(rand.NewSource(7))))
		require.NoError(t, err)
		return eng.Evaluate(Input{
			Market:    testMarket(),
			Quote:     quoteAt(0.46, 0.44, testNow),
			Inventory: &domain.Inventory{},
			Now:       testNow,
		})
	}

	a := run()
	b := run()
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, a.Token, b.Token)
	assert.Equal(t, a.Price, b.Price)
	assert.Equal(t, a.Shares, b.Shares)
	assert.Equal(t, a.Kind, b.Kind)
}

func TestEvaluate_EmitsStateChangeOnce(t *testing.T) {
	eng, sink := newTestEngine(t, func(c *Config) { c.AllowMultipleOpenings = true })
	in := Input{
		Market:    testMarket(),
		Quote:     quoteAt(0.52, 0.52, testNow), // 投影超限，不产信号但会评估
		Inventory: &domain.Inventory{},
		Now:       testNow,
	}

	eng.Evaluate(in)
	in.Now = testNow.Add(time.Second)
	in.Quote.UpdatedAt = in.Now
	eng.Evaluate(in)

	require.Len(t, sink.states, 1)
	assert.Equal(t, string(StateFlat), sink.states[0].To)
}
