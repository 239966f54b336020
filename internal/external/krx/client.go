package krx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"

	"github.com/wonny/aegis-etl/internal/external"
	"github.com/wonny/aegis-etl/pkg/config"
	"github.com/wonny/aegis-etl/pkg/httputil"
	"github.com/wonny/aegis-etl/pkg/logger"
)

// Source is the name used in errors and logs
const Source = "krx"

// KIND 시장 구분 파라미터
var marketTypes = map[string]string{
	"KOSPI":  "stockMkt",
	"KOSDAQ": "kosdaqMkt",
	"KONEX":  "konexMkt",
}

// Client downloads the listed-company directory from KRX KIND
// ⭐ SSOT: KRX 상장법인 목록 호출은 이 클라이언트에서만
type Client struct {
	httpClient  *httputil.Client
	logger      *logger.Logger
	corpListURL string
}

// NewClient creates a new KRX KIND client
func NewClient(httpClient *httputil.Client, cfg config.KRXConfig, log *logger.Logger) *Client {
	return &Client{
		httpClient:  httpClient,
		logger:      log.WithField("module", "krx"),
		corpListURL: cfg.CorpListURL,
	}
}

// Company is one listed company
type Company struct {
	Code     string
	Name     string
	Market   string
	Industry string    // 업종
	Products string    // 주요제품
	ListDate time.Time // zero = 알 수 없음
}

// FetchCorpList downloads the company directory of one market
func (c *Client) FetchCorpList(ctx context.Context, market string) ([]Company, error) {
	mt, ok := marketTypes[strings.ToUpper(market)]
	if !ok {
		return nil, fmt.Errorf("unsupported market: %s", market)
	}

	params := url.Values{}
	params.Set("method", "download")
	params.Set("searchType", "13")
	params.Set("marketType", mt)

	body, err := c.httpClient.GetBody(ctx, c.corpListURL+"?"+params.Encode())
	if err != nil {
		return nil, external.MapHTTPError(Source, err)
	}

	companies, err := parseCorpList(body, strings.ToUpper(market))
	if err != nil {
		return nil, fmt.Errorf("parse %s corp list: %w", market, err)
	}

	c.logger.WithFields(map[string]interface{}{
		"market": market,
		"count":  len(companies),
	}).Info("Fetched corp list")
	return companies, nil
}

// parseCorpList parses the KIND download (an EUC-KR HTML table).
// Columns are located by header text so column order changes do not matter.
func parseCorpList(body []byte, market string) ([]Company, error) {
	doc, err := goquery.NewDocumentFromReader(decode(body))
	if err != nil {
		return nil, err
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("no table in response")
	}

	col := make(map[string]int)
	table.Find("tr").First().Find("th, td").Each(func(i int, cell *goquery.Selection) {
		col[strings.TrimSpace(cell.Text())] = i
	})
	codeIdx, okCode := col["종목코드"]
	nameIdx, okName := col["회사명"]
	if !okCode || !okName {
		return nil, fmt.Errorf("missing 종목코드/회사명 header")
	}

	cellText := func(cells *goquery.Selection, name string) string {
		i, ok := col[name]
		if !ok || i >= cells.Length() {
			return ""
		}
		return strings.TrimSpace(cells.Eq(i).Text())
	}

	var companies []Company
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() <= codeIdx || cells.Length() <= nameIdx {
			return // 헤더 행 (th)
		}

		code := normalizeCode(strings.TrimSpace(cells.Eq(codeIdx).Text()))
		if code == "" {
			return
		}

		company := Company{
			Code:     code,
			Name:     strings.TrimSpace(cells.Eq(nameIdx).Text()),
			Market:   market,
			Industry: cellText(cells, "업종"),
			Products: cellText(cells, "주요제품"),
		}
		if d, err := time.Parse("2006-01-02", cellText(cells, "상장일")); err == nil {
			company.ListDate = d
		}
		companies = append(companies, company)
	})
	return companies, nil
}

// decode converts EUC-KR to UTF-8 unless the body is already UTF-8
func decode(body []byte) io.Reader {
	if utf8.Valid(body) {
		return bytes.NewReader(body)
	}
	return transform.NewReader(bytes.NewReader(body), korean.EUCKR.NewDecoder())
}

// normalizeCode left-pads numeric codes to 6 digits (엑셀 다운로드는 앞자리 0이 빠짐)
func normalizeCode(code string) string {
	if code == "" || len(code) >= 6 {
		return code
	}
	return strings.Repeat("0", 6-len(code)) + code
}
