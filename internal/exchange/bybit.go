// Bybit v5 adapter for trade-history (execution) import.
//
// Uses GET /v5/execution/list with cursor pagination: each response carries a
// nextPageCursor that resumes the listing exactly where the previous page
// ended. Bybit retains roughly the last two years of executions but the
// importer only asks for the configured lookback window.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	apperrors "github.com/OnlineSolution24/trading-dashboard-sub000/internal/errors"
	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/models"
)

const (
	bybitBaseURL        = "https://api.bybit.com"
	bybitExecutionsPath = "/v5/execution/list"
	bybitRecvWindow     = "5000"
	bybitMaxPageSize    = 100

	// Bybit allows 10 req/s for the execution endpoint per UID.
	bybitRequestsPerSecond = 10

	bybitRequestTimeout = 30 * time.Second
)

// Bybit v5 retCode values the adapter must distinguish.
const (
	bybitCodeOK          = 0
	bybitCodeRateLimit   = 10006
	bybitCodeInvalidKey  = 10003
	bybitCodeInvalidSign = 10004
	bybitCodeKeyExpired  = 33004
)

// BybitAdapter implements TradeFetcher for Bybit unified trading accounts.
type BybitAdapter struct {
	account     models.Account
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	logger      *slog.Logger
}

// NewBybitAdapter creates a Bybit adapter for one account.
func NewBybitAdapter(account models.Account, logger *slog.Logger) *BybitAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &BybitAdapter{
		account: account,
		httpClient: &http.Client{
			Timeout: bybitRequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(rate.Limit(bybitRequestsPerSecond), 1),
		baseURL:     bybitBaseURL,
		logger:      logger.With("exchange", "bybit", "account", account.Name),
	}
}

// FetchTrades implements TradeFetcher.
func (b *BybitAdapter) FetchTrades(ctx context.Context, req FetchRequest) (*FetchResponse, error) {
	if err := b.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 || limit > bybitMaxPageSize {
		limit = bybitMaxPageSize
	}

	params := url.Values{}
	params.Set("category", "linear")
	params.Set("limit", strconv.Itoa(limit))
	if !req.StartTime.IsZero() {
		params.Set("startTime", strconv.FormatInt(req.StartTime.UnixMilli(), 10))
	}
	if req.Cursor != "" {
		params.Set("cursor", req.Cursor)
	}

	body, err := b.signedGet(ctx, bybitExecutionsPath, params)
	if err != nil {
		return nil, err
	}

	var resp bybitExecutionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("bybit: parse executions response: %w", err)
	}

	switch resp.RetCode {
	case bybitCodeOK:
	case bybitCodeRateLimit:
		return nil, apperrors.NewRateLimitError("bybit", 0)
	case bybitCodeInvalidKey, bybitCodeInvalidSign, bybitCodeKeyExpired:
		return nil, apperrors.NewAccountFatal(b.account.Name, "credentials rejected",
			fmt.Errorf("bybit retCode %d: %s", resp.RetCode, resp.RetMsg))
	default:
		return nil, fmt.Errorf("bybit retCode %d: %s", resp.RetCode, resp.RetMsg)
	}

	trades := make([]models.TradeRecord, 0, len(resp.Result.List))
	for _, exec := range resp.Result.List {
		record, err := b.toTradeRecord(exec)
		if err != nil {
			b.logger.Warn("skipping malformed execution", "exec_id", exec.ExecID, "error", err)
			continue
		}
		trades = append(trades, *record)
	}

	return &FetchResponse{
		Trades:     trades,
		NextCursor: resp.Result.NextPageCursor,
	}, nil
}

// signedGet performs an authenticated GET with retry on transient failures.
// HTTP 429 and 5xx are surfaced as typed errors so the engine controls the
// page-level retry policy; only network-level hiccups are retried here.
func (b *BybitAdapter) signedGet(ctx context.Context, path string, params url.Values) ([]byte, error) {
	query := params.Encode()

	var result []byte
	operation := func() error {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		sign := b.sign(timestamp + b.account.Key + bybitRecvWindow + query)

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path+"?"+query, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("X-BAPI-API-KEY", b.account.Key)
		httpReq.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		httpReq.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
		httpReq.Header.Set("X-BAPI-SIGN", sign)
		httpReq.Header.Set("Accept", "application/json")

		resp, err := b.httpClient.Do(httpReq)
		if err != nil {
			return err // retryable
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			return backoff.Permanent(apperrors.NewRateLimitError("bybit", retryAfter))
		case resp.StatusCode >= 500:
			return fmt.Errorf("bybit server error %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(apperrors.NewAccountFatal(b.account.Name, "request rejected",
				fmt.Errorf("bybit status %d: %s", resp.StatusCode, string(payload))))
		}

		result = payload
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = time.Minute

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

func (b *BybitAdapter) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(b.account.Secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (b *BybitAdapter) toTradeRecord(exec bybitExecution) (*models.TradeRecord, error) {
	execTime, err := strconv.ParseInt(exec.ExecTime, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid execTime %q: %w", exec.ExecTime, err)
	}

	raw, _ := json.Marshal(exec)

	record := &models.TradeRecord{
		Account:    b.account.Name,
		Exchange:   models.ExchangeBybit,
		ExecID:     exec.ExecID,
		OrderID:    exec.OrderID,
		Symbol:     exec.Symbol,
		Side:       exec.Side,
		Price:      exec.ExecPrice,
		Size:       exec.ExecQty,
		Fee:        exec.ExecFee,
		ExecutedAt: time.UnixMilli(execTime).UTC(),
		Raw:        string(raw),
	}

	if err := record.Validate(); err != nil {
		return nil, err
	}
	return record, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		return time.Until(t)
	}
	return 0
}

// Bybit API response structures.

type bybitExecutionResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List           []bybitExecution `json:"list"`
		NextPageCursor string           `json:"nextPageCursor"`
	} `json:"result"`
}

type bybitExecution struct {
	ExecID    string `json:"execId"`
	OrderID   string `json:"orderId"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	ExecPrice string `json:"execPrice"`
	ExecQty   string `json:"execQty"`
	ExecFee   string `json:"execFee"`
	ExecTime  string `json:"execTime"`
}
