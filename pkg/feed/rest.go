package feed

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

const defaultRESTHost = "https://clob.polymarket.com"

// RESTClient CLOB REST 客户端，只承担启动快照和兜底查询。
// resty 自动读取 HTTP_PROXY/HTTPS_PROXY 环境变量。
type RESTClient struct {
	client *resty.Client
}

// NewRESTClient 创建 REST 客户端；host 为空用官方地址
func NewRESTClient(host string) *RESTClient {
	if host == "" {
		host = defaultRESTHost
	}
	host = strings.TrimSuffix(host, "/")

	client := resty.New().
		SetBaseURL(host).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			if resp.StatusCode() == 429 {
				return 10 * time.Second, nil
			}
			return 0, nil
		})

	return &RESTClient{client: client}
}

// bookResponse /book 接口返回体
type bookResponse struct {
	AssetID string  `json:"asset_id"`
	Bids    []level `json:"bids"`
	Asks    []level `json:"asks"`
}

// TopOfBook 拉取单个资产的一档行情
func (c *RESTClient) TopOfBook(ctx context.Context, assetID string) (TopOfBook, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("token_id", assetID).
		Get("/book")
	if err != nil {
		return TopOfBook{}, errors.Wrapf(err, "拉取订单簿失败: %s", assetID)
	}
	if resp.StatusCode() != 200 {
		return TopOfBook{}, errors.Errorf("拉取订单簿失败: %s (HTTP %d)", assetID, resp.StatusCode())
	}

	var book bookResponse
	if err := json.Unmarshal(resp.Body(), &book); err != nil {
		return TopOfBook{}, errors.Wrap(err, "解析订单簿失败")
	}

	msg := bookMessage{AssetID: assetID, Bids: book.Bids, Asks: book.Asks}
	return msg.topOfBook(time.Now()), nil
}

// marketResponse /markets/{condition_id} 里用到的字段
type marketResponse struct {
	ConditionID string `json:"condition_id"`
	MarketSlug  string `json:"market_slug"`
	EndDateISO  string `json:"end_date_iso"`
	Tokens      []struct {
		TokenID string `json:"token_id"`
		Outcome string `json:"outcome"`
	} `json:"tokens"`
}

// MarketTokens 查询市场的 UP/DOWN token ID（按 outcome 名匹配）
func (c *RESTClient) MarketTokens(ctx context.Context, conditionID string) (upID, downID string, err error) {
	resp, err := c.client.R().
		SetContext(ctx).
		Get("/markets/" + conditionID)
	if err != nil {
		return "", "", errors.Wrapf(err, "查询市场失败: %s", conditionID)
	}
	if resp.StatusCode() != 200 {
		return "", "", errors.Errorf("查询市场失败: %s (HTTP %d)", conditionID, resp.StatusCode())
	}

	var m marketResponse
	if err := json.Unmarshal(resp.Body(), &m); err != nil {
		return "", "", errors.Wrap(err, "解析市场失败")
	}
	for _, tok := range m.Tokens {
		switch strings.ToLower(tok.Outcome) {
		case "up", "yes":
			upID = tok.TokenID
		case "down", "no":
			downID = tok.TokenID
		}
	}
	if upID == "" || downID == "" {
		return "", "", errors.Errorf("市场 %s 缺少 UP/DOWN token", conditionID)
	}
	return upID, downID, nil
}
