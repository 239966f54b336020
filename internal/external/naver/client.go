package naver

import (
	"context"
	"time"

	"github.com/wonny/aegis-etl/internal/external"
	"github.com/wonny/aegis-etl/pkg/config"
	"github.com/wonny/aegis-etl/pkg/httputil"
	"github.com/wonny/aegis-etl/pkg/logger"
	"github.com/wonny/aegis-etl/pkg/redis"
)

// Source is the name used in errors and logs
const Source = "naver"

// Client handles communication with Naver Finance
// ⭐ SSOT: Naver Finance API 호출은 이 클라이언트에서만
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	chartURL   string
	rankingURL string
	cache      *redis.Cache // nil = 캐시 없음
	now        func() time.Time
}

// NewClient creates a new Naver Finance client
func NewClient(httpClient *httputil.Client, cfg config.NaverConfig, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient.WithHeader("Referer", "https://finance.naver.com/"),
		logger:     log.WithField("module", "naver"),
		chartURL:   cfg.ChartURL,
		rankingURL: cfg.RankingURL,
		now:        time.Now,
	}
}

// WithCache caches ranking pages (시총 랭킹은 하루 단위로 변함)
func (c *Client) WithCache(cache *redis.Cache) *Client {
	c.cache = cache
	return c
}

// get fetches url and maps failures onto the error taxonomy
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	body, err := c.httpClient.GetBody(ctx, url)
	if err != nil {
		return nil, external.MapHTTPError(Source, err)
	}
	return body, nil
}

// MarketCapData represents market capitalization of one stock on one date
type MarketCapData struct {
	StockCode         string
	StockName         string
	Market            string
	TradeDate         time.Time
	ClosePrice        int64
	MarketCap         int64
	SharesOutstanding int64
}
