package engine

import (
	"fmt"
	"time"

	"github.com/betbot/pairlock/internal/domain"
)

// unwindCheck 收尾监控结论
type unwindCheck struct {
	Triggered bool
	Why       string
}

// unwindMonitor 收尾/超时监控：引擎内部对"时间风险"的替代物
// （引擎没有 I/O，也就没有可取消的东西——超时在这里转化为行为切换）。
type unwindMonitor struct {
	cfg *Config
}

// Check 任一条件触发即强制进入 UNWIND：
// - 距结算时间低于收尾下限
// - 首次成交后对冲时滞超限（仍未双侧持仓时才有意义）
// - 连续无流动性观测达到上限
func (m *unwindMonitor) Check(inv *domain.Inventory, secondsRemaining float64, noLiquidityStreak int, now time.Time) unwindCheck {
	if secondsRemaining < float64(m.cfg.UnwindStartSeconds) {
		return unwindCheck{Triggered: true, Why: fmt.Sprintf("time_floor(%.0fs<%ds)", secondsRemaining, m.cfg.UnwindStartSeconds)}
	}

	if inv.FirstFillAt != nil && !inv.BothSides() && !inv.IsFlat() {
		lag := now.Sub(*inv.FirstFillAt)
		if lag > time.Duration(m.cfg.HedgeTimeoutSeconds)*time.Second {
			return unwindCheck{Triggered: true, Why: fmt.Sprintf("hedge_timeout(%.0fs>%ds)", lag.Seconds(), m.cfg.HedgeTimeoutSeconds)}
		}
	}

	if noLiquidityStreak >= m.cfg.NoLiquidityStreakLimit {
		return unwindCheck{Triggered: true, Why: fmt.Sprintf("no_liquidity_streak(%d>=%d)", noLiquidityStreak, m.cfg.NoLiquidityStreakLimit)}
	}

	return unwindCheck{}
}
