package feed

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/pairlock/internal/domain"
)

func TestBookMessageTopOfBook(t *testing.T) {
	raw := `{
		"event_type": "book",
		"asset_id": "up-token",
		"bids": [{"price":"0.10","size":"500"},{"price":"0.45","size":"120"}],
		"asks": [{"price":"0.90","size":"300"},{"price":"0.47","size":"80"}]
	}`
	var msg bookMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	now := time.Now()
	tob := msg.topOfBook(now)
	// 最优价在数组末尾
	assert.Equal(t, domain.PriceFromDecimal(0.45), tob.Bid)
	assert.Equal(t, domain.PriceFromDecimal(0.47), tob.Ask)
	assert.Equal(t, "up-token", tob.AssetID)
	assert.Equal(t, now, tob.At)
}

func TestBookMessageEmptySides(t *testing.T) {
	msg := bookMessage{AssetID: "x", Asks: []level{{Price: "0.30", Size: "10"}}}
	tob := msg.topOfBook(time.Now())

	assert.False(t, tob.Bid.IsValid())
	assert.Equal(t, domain.PriceFromDecimal(0.30), tob.Ask)
}

func TestParsePriceRejectsBadData(t *testing.T) {
	assert.False(t, parsePrice("abc").IsValid())
	assert.False(t, parsePrice("0").IsValid())
	assert.False(t, parsePrice("1.00").IsValid())
	assert.True(t, parsePrice("0.4600").IsValid())
}

func TestAssemblerBuildsQuote(t *testing.T) {
	m := &domain.Market{
		Slug: "btc-updown-15m-1", Asset: "btc",
		UpAssetID: "up-token", DownAssetID: "down-token", CycleEndAt: 100,
	}
	a := NewAssembler(m)
	now := time.Now()

	q, ok := a.Apply(TopOfBook{AssetID: "up-token", Ask: domain.PriceFromDecimal(0.46), At: now})
	require.True(t, ok)
	assert.True(t, q.Up.HasAsk())
	assert.False(t, q.Down.HasAsk())

	q, ok = a.Apply(TopOfBook{AssetID: "down-token", Ask: domain.PriceFromDecimal(0.52), At: now.Add(time.Second)})
	require.True(t, ok)
	assert.True(t, q.Up.HasAsk())
	assert.True(t, q.Down.HasAsk())
	assert.Equal(t, now.Add(time.Second), q.UpdatedAt)

	// 无关资产不影响快照
	_, ok = a.Apply(TopOfBook{AssetID: "other", Ask: domain.PriceFromDecimal(0.50), At: now})
	assert.False(t, ok)
}
