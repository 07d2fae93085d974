package feed

import (
	"sync"
	"time"

	"github.com/betbot/pairlock/internal/domain"
)

// Assembler 把逐资产的一档行情拼成市场级的双侧 Quote。
// 每个市场一个实例；并发安全。
type Assembler struct {
	mu     sync.Mutex
	market *domain.Market
	quote  domain.Quote
}

// NewAssembler 创建指定市场的拼装器
func NewAssembler(market *domain.Market) *Assembler {
	return &Assembler{market: market}
}

// Apply 应用一条一档行情。属于本市场时返回最新 Quote 和 true；
// 无关资产返回 false。
func (a *Assembler) Apply(tob TopOfBook) (domain.Quote, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	side := domain.SideQuote{Bid: tob.Bid, Ask: tob.Ask}
	switch tob.AssetID {
	case a.market.UpAssetID:
		a.quote.Up = side
	case a.market.DownAssetID:
		a.quote.Down = side
	default:
		return domain.Quote{}, false
	}
	a.quote.UpdatedAt = tob.At
	return a.quote, true
}

// Snapshot 当前累积的 Quote
func (a *Assembler) Snapshot() domain.Quote {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.quote
}

// Seed 用 REST 快照初始化双侧（WebSocket 首帧到达前的底仓）
func (a *Assembler) Seed(up, down TopOfBook, at time.Time) domain.Quote {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.quote.Up = domain.SideQuote{Bid: up.Bid, Ask: up.Ask}
	a.quote.Down = domain.SideQuote{Bid: down.Bid, Ask: down.Ask}
	a.quote.UpdatedAt = at
	return a.quote
}
