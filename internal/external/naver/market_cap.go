package naver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/pkg/redis"
)

const (
	rankingPageSize = 100
	// KOSPI/KOSDAQ 각각 ~1000 종목
	rankingMaxPages = 20
)

// RankingStockItem represents a stock item from Naver ranking API
type RankingStockItem struct {
	ItemCode       string `json:"itemcode"`
	ItemName       string `json:"itemname"`
	NowVal         string `json:"nowVal"`         // 현재가
	MarketSum      string `json:"marketSum"`      // 시가총액 (원)
	ListedStockCnt string `json:"listedStockCnt"` // 상장주식수
}

// FetchAllMarketCaps fetches the market-cap ranking of a market (KOSPI, KOSDAQ).
// Results are in ranking order. Pages are cached for the day when a cache is set.
// ⭐ SSOT: 전체 종목 시가총액 호출은 이 함수에서만
func (c *Client) FetchAllMarketCaps(ctx context.Context, market string) ([]MarketCapData, error) {
	today := contracts.DateOnly(c.now())
	var all []MarketCapData

	for page := 1; page <= rankingMaxPages; page++ {
		items, err := c.rankingPage(ctx, market, today, page)
		if err != nil {
			return nil, fmt.Errorf("market cap page %d of %s: %w", page, market, err)
		}
		if len(items) == 0 {
			break
		}

		for _, item := range items {
			data, err := parseMarketCapData(item, market, today)
			if err != nil {
				c.logger.WithError(err).WithField("stock_code", item.ItemCode).Debug("Failed to parse market cap")
				continue
			}
			all = append(all, *data)
		}

		c.logger.WithFields(map[string]interface{}{
			"market": market,
			"page":   page,
			"count":  len(items),
		}).Debug("Fetched market cap page")

		if len(items) < rankingPageSize {
			break
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"market": market,
		"count":  len(all),
	}).Info("Fetched market caps")
	return all, nil
}

func (c *Client) rankingPage(ctx context.Context, market string, day time.Time, page int) ([]RankingStockItem, error) {
	load := func(ctx context.Context) ([]RankingStockItem, error) {
		params := url.Values{}
		params.Set("orderType", "marketSum")
		params.Set("marketType", market)
		params.Set("page", strconv.Itoa(page))
		params.Set("pageSize", strconv.Itoa(rankingPageSize))

		body, err := c.get(ctx, c.rankingURL+"?"+params.Encode())
		if err != nil {
			return nil, err
		}
		var items []RankingStockItem
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return items, nil
	}

	if c.cache == nil {
		return load(ctx)
	}
	items, _, err := redis.GetOrLoad(ctx, c.cache, redis.RankingKey(market, day.Format("20060102"), page), redis.TTLDaily, load)
	return items, err
}

// parseMarketCapData parses RankingStockItem into MarketCapData
func parseMarketCapData(item RankingStockItem, market string, day time.Time) (*MarketCapData, error) {
	if item.ItemCode == "" {
		return nil, fmt.Errorf("missing item code")
	}

	marketCap, err := parseNumber(item.MarketSum)
	if err != nil {
		return nil, fmt.Errorf("parse market cap: %w", err)
	}
	shares, err := parseNumber(item.ListedStockCnt)
	if err != nil {
		return nil, fmt.Errorf("parse shares outstanding: %w", err)
	}
	price, _ := parseNumber(item.NowVal)

	return &MarketCapData{
		StockCode:         item.ItemCode,
		StockName:         item.ItemName,
		Market:            market,
		TradeDate:         day,
		ClosePrice:        price,
		MarketCap:         marketCap,
		SharesOutstanding: shares,
	}, nil
}

// parseNumber handles "1,234" and "1234.0"
func parseNumber(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}
