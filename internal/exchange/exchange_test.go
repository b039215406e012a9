package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/OnlineSolution24/trading-dashboard-sub000/internal/errors"
	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/models"
)

func bybitAccount() models.Account {
	return models.Account{
		Name:     "main-bybit",
		Exchange: models.ExchangeBybit,
		Key:      "test-api-key",
		Secret:   "test-api-secret",
	}
}

func blofinAccount() models.Account {
	return models.Account{
		Name:       "sub-blofin",
		Exchange:   models.ExchangeBlofin,
		Key:        "test-api-key",
		Secret:     "test-api-secret",
		Passphrase: "test-passphrase",
	}
}

func newBybitTestAdapter(t *testing.T, handler http.HandlerFunc) *BybitAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	adapter := NewBybitAdapter(bybitAccount(), nil)
	adapter.baseURL = server.URL
	return adapter
}

func newBlofinTestAdapter(t *testing.T, handler http.HandlerFunc) *BlofinAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	adapter := NewBlofinAdapter(blofinAccount(), nil)
	adapter.baseURL = server.URL
	return adapter
}

func bybitListResponse(cursor string, execs ...map[string]string) string {
	body := map[string]any{
		"retCode": 0,
		"retMsg":  "OK",
		"result": map[string]any{
			"list":           execs,
			"nextPageCursor": cursor,
		},
	}
	data, _ := json.Marshal(body)
	return string(data)
}

func bybitExec(id string, execTime int64) map[string]string {
	return map[string]string{
		"execId":    id,
		"orderId":   "order-" + id,
		"symbol":    "BTCUSDT",
		"side":      "Buy",
		"execPrice": "50000",
		"execQty":   "0.01",
		"execFee":   "0.005",
		"execTime":  fmt.Sprintf("%d", execTime),
	}
}

func TestBybitAdapter_FetchTrades(t *testing.T) {
	execTime := time.Now().UTC().Add(-time.Hour).UnixMilli()
	adapter := newBybitTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/execution/list", r.URL.Path)
		assert.Equal(t, "linear", r.URL.Query().Get("category"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "prev-cursor", r.URL.Query().Get("cursor"))
		assert.NotEmpty(t, r.URL.Query().Get("startTime"))

		assert.Equal(t, "test-api-key", r.Header.Get("X-BAPI-API-KEY"))
		assert.NotEmpty(t, r.Header.Get("X-BAPI-SIGN"))
		assert.NotEmpty(t, r.Header.Get("X-BAPI-TIMESTAMP"))

		fmt.Fprint(w, bybitListResponse("next-cursor", bybitExec("e1", execTime), bybitExec("e2", execTime+1000)))
	})

	resp, err := adapter.FetchTrades(context.Background(), FetchRequest{
		StartTime: time.Now().UTC().AddDate(0, 0, -90),
		Cursor:    "prev-cursor",
		Limit:     50,
	})
	require.NoError(t, err)

	assert.Equal(t, "next-cursor", resp.NextCursor)
	require.Len(t, resp.Trades, 2)

	trade := resp.Trades[0]
	assert.Equal(t, "main-bybit", trade.Account)
	assert.Equal(t, models.ExchangeBybit, trade.Exchange)
	assert.Equal(t, "e1", trade.ExecID)
	assert.Equal(t, "BTCUSDT", trade.Symbol)
	assert.Equal(t, "50000", trade.Price)
	assert.Equal(t, time.UnixMilli(execTime).UTC(), trade.ExecutedAt)
	assert.NotEmpty(t, trade.Raw)
}

func TestBybitAdapter_SignatureScheme(t *testing.T) {
	// The signature is HMAC-SHA256 over timestamp+key+recvWindow+query.
	var gotSign, gotTimestamp, gotQuery string
	adapter := newBybitTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotSign = r.Header.Get("X-BAPI-SIGN")
		gotTimestamp = r.Header.Get("X-BAPI-TIMESTAMP")
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, bybitListResponse(""))
	})

	_, err := adapter.FetchTrades(context.Background(), FetchRequest{Limit: 10})
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte("test-api-secret"))
	mac.Write([]byte(gotTimestamp + "test-api-key" + bybitRecvWindow + gotQuery))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSign)
}

func TestBybitAdapter_RateLimitRetCode(t *testing.T) {
	adapter := newBybitTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"retCode": 10006, "retMsg": "too many visits"}`)
	})

	_, err := adapter.FetchTrades(context.Background(), FetchRequest{})
	require.Error(t, err)
	assert.True(t, apperrors.IsRateLimit(err))
}

func TestBybitAdapter_RateLimitHTTP429(t *testing.T) {
	adapter := newBybitTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := adapter.FetchTrades(context.Background(), FetchRequest{})
	require.Error(t, err)
	assert.True(t, apperrors.IsRateLimit(err))
	assert.Equal(t, 7*time.Second, apperrors.RetryAfter(err))
}

func TestBybitAdapter_CredentialErrorsAreFatal(t *testing.T) {
	for _, code := range []int{10003, 10004, 33004} {
		t.Run(fmt.Sprintf("retCode %d", code), func(t *testing.T) {
			adapter := newBybitTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"retCode": %d, "retMsg": "invalid api key"}`, code)
			})
			_, err := adapter.FetchTrades(context.Background(), FetchRequest{})
			require.Error(t, err)
			assert.True(t, apperrors.IsAccountFatal(err))
		})
	}
}

func TestBybitAdapter_SkipsMalformedExecutions(t *testing.T) {
	execTime := time.Now().UTC().UnixMilli()
	bad := bybitExec("bad", execTime)
	bad["execTime"] = "not-a-number"
	adapter := newBybitTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, bybitListResponse("", bad, bybitExec("good", execTime)))
	})

	resp, err := adapter.FetchTrades(context.Background(), FetchRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Trades, 1)
	assert.Equal(t, "good", resp.Trades[0].ExecID)
}

func blofinFillJSON(id string, ts int64) map[string]string {
	return map[string]string{
		"fillId":    id,
		"orderId":   "order-" + id,
		"instId":    "BTC-USDT",
		"side":      "buy",
		"fillPrice": "50000",
		"fillSize":  "0.01",
		"fee":       "-0.005",
		"fillTime":  fmt.Sprintf("%d", ts),
	}
}

func blofinFillsBody(fills ...map[string]string) string {
	data, _ := json.Marshal(map[string]any{"code": "0", "msg": "", "data": fills})
	return string(data)
}

func TestBlofinAdapter_FetchTrades(t *testing.T) {
	ts := time.Now().UTC().Add(-time.Hour).UnixMilli()
	adapter := newBlofinTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/trade/fills", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		assert.Equal(t, "fill-99", r.URL.Query().Get("after"))

		assert.Equal(t, "test-api-key", r.Header.Get("ACCESS-KEY"))
		assert.Equal(t, "test-passphrase", r.Header.Get("ACCESS-PASSPHRASE"))
		assert.NotEmpty(t, r.Header.Get("ACCESS-NONCE"))

		// Recompute the signature from the request the server saw.
		message := r.URL.RequestURI() + http.MethodGet + r.Header.Get("ACCESS-TIMESTAMP") + r.Header.Get("ACCESS-NONCE")
		mac := hmac.New(sha256.New, []byte("test-api-secret"))
		mac.Write([]byte(message))
		expected := base64.StdEncoding.EncodeToString([]byte(hex.EncodeToString(mac.Sum(nil))))
		assert.Equal(t, expected, r.Header.Get("ACCESS-SIGN"))

		fmt.Fprint(w, blofinFillsBody(blofinFillJSON("f1", ts)))
	})

	resp, err := adapter.FetchTrades(context.Background(), FetchRequest{Cursor: "fill-99", Limit: 25})
	require.NoError(t, err)

	// Short page: the listing is exhausted, no continuation cursor.
	assert.Empty(t, resp.NextCursor)
	require.Len(t, resp.Trades, 1)

	trade := resp.Trades[0]
	assert.Equal(t, "sub-blofin", trade.Account)
	assert.Equal(t, models.ExchangeBlofin, trade.Exchange)
	assert.Equal(t, "f1", trade.ExecID)
	assert.Equal(t, "BTC-USDT", trade.Symbol)
	assert.Equal(t, "-0.005", trade.Fee)
}

func TestBlofinAdapter_FullPageContinuesFromLastFill(t *testing.T) {
	ts := time.Now().UTC().UnixMilli()
	adapter := newBlofinTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, blofinFillsBody(blofinFillJSON("f1", ts), blofinFillJSON("f2", ts+1)))
	})

	resp, err := adapter.FetchTrades(context.Background(), FetchRequest{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, "f2", resp.NextCursor)
}

func TestBlofinAdapter_CredentialRejectionIsFatal(t *testing.T) {
	adapter := newBlofinTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"code": "401", "msg": "invalid signature"}`)
	})

	_, err := adapter.FetchTrades(context.Background(), FetchRequest{})
	require.Error(t, err)
	assert.True(t, apperrors.IsAccountFatal(err))
}

func TestBlofinAdapter_AlternateFieldNames(t *testing.T) {
	ts := time.Now().UTC().UnixMilli()
	adapter := newBlofinTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fill := map[string]string{
			"fillId": "f1",
			"instId": "ETH-USDT",
			"side":   "sell",
			"px":     "3000",
			"sz":     "0.5",
			"ts":     fmt.Sprintf("%d", ts),
		}
		fmt.Fprint(w, blofinFillsBody(fill))
	})

	resp, err := adapter.FetchTrades(context.Background(), FetchRequest{Limit: 10})
	require.NoError(t, err)
	require.Len(t, resp.Trades, 1)
	assert.Equal(t, "3000", resp.Trades[0].Price)
	assert.Equal(t, "0.5", resp.Trades[0].Size)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 30*time.Second, parseRetryAfter("30"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage"))
}

func TestNewFetcher(t *testing.T) {
	f, err := NewFetcher(bybitAccount(), nil)
	require.NoError(t, err)
	assert.IsType(t, &BybitAdapter{}, f)

	f, err = NewFetcher(blofinAccount(), nil)
	require.NoError(t, err)
	assert.IsType(t, &BlofinAdapter{}, f)

	_, err = NewFetcher(models.Account{Name: "x", Exchange: "kraken"}, nil)
	assert.Error(t, err)
}

func TestAdapterRegistry_CachesPerAccount(t *testing.T) {
	registry := NewAdapterRegistry(nil)

	first, err := registry.FetcherFor(bybitAccount())
	require.NoError(t, err)
	second, err := registry.FetcherFor(bybitAccount())
	require.NoError(t, err)

	// Same adapter instance so the rate limiter persists across pages.
	assert.Same(t, first, second)

	other, err := registry.FetcherFor(blofinAccount())
	require.NoError(t, err)
	assert.NotSame(t, first, other)
}
