package domain

import "fmt"

// Market 市场领域模型（一个二元 Up/Down 周期市场）
type Market struct {
	Slug        string // 市场 slug（例如 btc-updown-15m-1765985400）
	Asset       string // 标的资产（btc/eth/...）
	UpAssetID   string // UP token 资产 ID
	DownAssetID string // DOWN token 资产 ID
	ConditionID string // 条件 ID
	CycleStart  int64  // 周期开始 Unix 时间戳（秒）
	CycleEndAt  int64  // 周期结束 Unix 时间戳（秒）
}

// IsValid 验证市场是否有效
func (m *Market) IsValid() bool {
	return m.Slug != "" && m.UpAssetID != "" && m.DownAssetID != "" && m.CycleEndAt > 0
}

// Key 返回引擎侧的唯一键（market + asset）
func (m *Market) Key() string {
	return fmt.Sprintf("%s:%s", m.Slug, m.Asset)
}

// GetAssetID 根据 token 类型获取资产 ID
func (m *Market) GetAssetID(tokenType TokenType) string {
	if tokenType == TokenTypeUp {
		return m.UpAssetID
	}
	return m.DownAssetID
}

// TokenType token 类型
type TokenType string

const (
	TokenTypeUp   TokenType = "up"
	TokenTypeDown TokenType = "down"
)

// Opposite 返回对侧 token
func (t TokenType) Opposite() TokenType {
	if t == TokenTypeUp {
		return TokenTypeDown
	}
	return TokenTypeUp
}
