// Package feed 提供决策引擎的盘口数据源：
// WebSocket 实时一档行情 + REST 启动快照。
//
// 引擎只消费 domain.Quote；本包负责把交易所的逐资产订单簿消息
// 压缩成 (UP, DOWN) 双侧一档快照。
package feed

import (
	"strconv"
	"time"

	"github.com/betbot/pairlock/internal/domain"
)

// TopOfBook 单个资产的一档行情
type TopOfBook struct {
	AssetID string
	Bid     domain.Price
	Ask     domain.Price
	At      time.Time
}

// level 订单簿价格档（交易所以字符串传输）
type level struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// bookMessage 订单簿快照消息
type bookMessage struct {
	EventType string  `json:"event_type"`
	AssetID   string  `json:"asset_id"`
	Market    string  `json:"market"`
	Bids      []level `json:"bids"`
	Asks      []level `json:"asks"`
	Timestamp string  `json:"timestamp"`
}

// topOfBook 从快照消息提取一档。bids 升序、asks 降序排列，
// 最优价在各自末尾。
func (m *bookMessage) topOfBook(now time.Time) TopOfBook {
	tob := TopOfBook{AssetID: m.AssetID, At: now}
	if len(m.Bids) > 0 {
		tob.Bid = parsePrice(m.Bids[len(m.Bids)-1].Price)
	}
	if len(m.Asks) > 0 {
		tob.Ask = parsePrice(m.Asks[len(m.Asks)-1].Price)
	}
	return tob
}

// parsePrice 字符串价格转 Price；坏数据返回零值（上层按缺失处理）
func parsePrice(s string) domain.Price {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 || v >= 1 {
		return domain.Price{}
	}
	return domain.PriceFromDecimal(v)
}
