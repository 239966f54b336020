package krx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/korean"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/pkg/config"
	"github.com/wonny/aegis-etl/pkg/httputil"
	"github.com/wonny/aegis-etl/pkg/logger"
)

const corpListHTML = `<html><head><meta http-equiv="Content-Type" content="text/html; charset=euc-kr"></head>
<body><table>
<tr><th>회사명</th><th>시장구분</th><th>종목코드</th><th>업종</th><th>주요제품</th><th>상장일</th></tr>
<tr><td>삼성전자</td><td>유가</td><td>5930</td><td>통신 및 방송 장비 제조업</td><td>IMT2000 서비스용 동기식 기지국</td><td>1975-06-11</td></tr>
<tr><td>SK하이닉스</td><td>유가</td><td>000660</td><td>반도체 제조업</td><td>DRAM</td><td>1996-12-26</td></tr>
<tr><td>상장예정</td><td>유가</td><td>123456</td><td>기타 금융업</td><td></td><td>-</td></tr>
</table></body></html>`

func eucKR(t *testing.T, s string) []byte {
	t.Helper()
	b, err := korean.EUCKR.NewEncoder().Bytes([]byte(s))
	require.NoError(t, err)
	return b
}

func TestFetchCorpList(t *testing.T) {
	body := eucKR(t, corpListHTML)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "download", r.URL.Query().Get("method"))
		assert.Equal(t, "stockMkt", r.URL.Query().Get("marketType"))
		w.Write(body)
	}))
	defer srv.Close()

	log := logger.Nop()
	c := NewClient(httputil.New(log), config.KRXConfig{CorpListURL: srv.URL + "/corpList.do"}, log)

	companies, err := c.FetchCorpList(context.Background(), "kospi")
	require.NoError(t, err)
	require.Len(t, companies, 3)

	assert.Equal(t, Company{
		Code:     "005930",
		Name:     "삼성전자",
		Market:   "KOSPI",
		Industry: "통신 및 방송 장비 제조업",
		Products: "IMT2000 서비스용 동기식 기지국",
		ListDate: time.Date(1975, 6, 11, 0, 0, 0, 0, time.UTC),
	}, companies[0])
	assert.Equal(t, "000660", companies[1].Code)
	assert.True(t, companies[2].ListDate.IsZero(), "unparseable list date is unknown")
}

func TestFetchCorpList_Errors(t *testing.T) {
	log := logger.Nop()
	c := NewClient(httputil.New(log), config.KRXConfig{CorpListURL: "http://127.0.0.1:0"}, log)

	_, err := c.FetchCorpList(context.Background(), "NYSE")
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c = NewClient(httputil.New(log), config.KRXConfig{CorpListURL: srv.URL}, log)

	_, err = c.FetchCorpList(context.Background(), "KOSDAQ")
	var su *contracts.SourceUnavailableError
	assert.ErrorAs(t, err, &su)
}

func TestParseCorpList_UTF8(t *testing.T) {
	html := `<meta charset="utf-8"><table><tr><th>종목코드</th><th>회사명</th></tr><tr><td>035420</td><td>NAVER</td></tr></table>`
	companies, err := parseCorpList([]byte(html), "KOSPI")
	require.NoError(t, err)
	require.Len(t, companies, 1)
	assert.Equal(t, "NAVER", companies[0].Name)

	_, err = parseCorpList([]byte(`<meta charset="utf-8"><table><tr><th>x</th></tr></table>`), "KOSPI")
	assert.Error(t, err)
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "005930", normalizeCode("5930"))
	assert.Equal(t, "000660", normalizeCode("000660"))
	assert.Equal(t, "", normalizeCode(""))
}
