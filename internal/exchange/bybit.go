package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"signalbot/pkg/ratelimit"
)

// bybit.go - клиент Bybit API v5 (category=linear, USDT-перпетуалы)
//
// Подпись запроса: HMAC-SHA256(secret, timestamp + apiKey + recvWindow + payload),
// где payload - отсортированная query-строка для GET или сырое JSON-тело для POST.
// Подпись и ключ уходят в заголовки X-BAPI-*.

const (
	defaultBaseURL    = "https://api.bybit.com"
	defaultRecvWindow = "5000"
	categoryLinear    = "linear"
)

// Client - подписывающий HTTP-клиент Bybit v5
type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow string

	httpClient *http.Client
	limiter    *ratelimit.RateLimiter
	logger     *zap.Logger
}

// Options - настройки клиента; нулевые значения заменяются дефолтами
type Options struct {
	BaseURL    string
	RecvWindow string
	Timeout    time.Duration
	RateLimit  float64 // запросов в секунду
	RateBurst  float64
	Logger     *zap.Logger
}

// NewClient создает клиента Bybit для пары ключей
func NewClient(apiKey, apiSecret string, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.RecvWindow == "" {
		opts.RecvWindow = defaultRecvWindow
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Client{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		recvWindow: opts.RecvWindow,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: ratelimit.New(opts.RateLimit, opts.RateBurst),
		logger:  opts.Logger,
	}
}

// sign считает подпись запроса
func (c *Client) sign(timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(timestamp + c.apiKey + c.recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// apiResponse - общий конверт ответов Bybit v5
type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// doRequest выполняет подписанный запрос и декодирует result
//
// Порядок: rate limiter -> подпись -> HTTP -> проверка статуса -> проверка retCode.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	var payload string
	var reqBody io.Reader
	fullURL := c.baseURL + path

	if method == http.MethodGet {
		// url.Values.Encode() сортирует ключи - ровно то, что ждет подпись
		payload = query.Encode()
		if payload != "" {
			fullURL += "?" + payload
		}
	} else {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		payload = string(raw)
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-SIGN", c.sign(timestamp, payload))
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", c.recvWindow)
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("bybit request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	var envelope apiResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if envelope.RetCode != 0 {
		return &APIError{Status: resp.StatusCode, Code: envelope.RetCode, Message: envelope.RetMsg}
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}

	return nil
}

// GetInstrumentRule возвращает торговые правила инструмента
func (c *Client) GetInstrumentRule(ctx context.Context, symbol string) (*InstrumentRule, error) {
	query := url.Values{}
	query.Set("category", categoryLinear)
	query.Set("symbol", symbol)

	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			LotSizeFilter struct {
				MinOrderQty string `json:"minOrderQty"`
				QtyStep     string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}

	if err := c.doRequest(ctx, http.MethodGet, "/v5/market/instruments-info", query, nil, &result); err != nil {
		return nil, err
	}

	if len(result.List) == 0 {
		return nil, &APIError{Status: http.StatusOK, Message: fmt.Sprintf("instrument %s not found", symbol)}
	}

	info := result.List[0]
	return &InstrumentRule{
		Symbol:      info.Symbol,
		MinOrderQty: parseFloat(info.LotSizeFilter.MinOrderQty),
		QtyStep:     parseFloat(info.LotSizeFilter.QtyStep),
		Decimals:    stepDecimals(info.LotSizeFilter.QtyStep),
	}, nil
}

// PlaceOrder выставляет ордер (/v5/order/create)
//
// Количество сериализуется строкой с Decimals знаками: Bybit отклоняет
// qty с лишними знаками после запятой.
func (c *Client) PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error) {
	body := map[string]string{
		"category":  categoryLinear,
		"symbol":    req.Symbol,
		"side":      req.Side,
		"orderType": req.OrderType,
		"qty":       formatQty(req.Qty, req.QtyDecimals),
	}

	if req.OrderType == "Limit" && req.Price > 0 {
		body["price"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}
	if req.StopLoss > 0 {
		body["stopLoss"] = strconv.FormatFloat(req.StopLoss, 'f', -1, 64)
	}
	if req.TakeProfit > 0 {
		body["takeProfit"] = strconv.FormatFloat(req.TakeProfit, 'f', -1, 64)
	}

	var result struct {
		OrderID string `json:"orderId"`
	}

	if err := c.doRequest(ctx, http.MethodPost, "/v5/order/create", nil, body, &result); err != nil {
		return nil, err
	}

	c.logger.Info("order placed",
		zap.String("symbol", req.Symbol),
		zap.String("side", req.Side),
		zap.String("order_id", result.OrderID))

	return &OrderResult{OrderID: result.OrderID, Status: OrderStatusNew}, nil
}

// GetOrderFillPrice возвращает среднюю цену исполнения ордера
// (/v5/order/realtime); 0 если ордер еще не исполнен
func (c *Client) GetOrderFillPrice(ctx context.Context, symbol, orderID string) (float64, error) {
	query := url.Values{}
	query.Set("category", categoryLinear)
	query.Set("symbol", symbol)
	query.Set("orderId", orderID)

	var result struct {
		List []struct {
			AvgPrice string `json:"avgPrice"`
		} `json:"list"`
	}

	if err := c.doRequest(ctx, http.MethodGet, "/v5/order/realtime", query, nil, &result); err != nil {
		return 0, err
	}

	if len(result.List) == 0 {
		return 0, nil
	}
	return parseFloat(result.List[0].AvgPrice), nil
}

// GetClosedPnl возвращает последние записи закрытого PnL по символу
// (/v5/position/closed-pnl)
func (c *Client) GetClosedPnl(ctx context.Context, symbol string, limit int) ([]ClosedPnlRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := url.Values{}
	query.Set("category", categoryLinear)
	query.Set("symbol", symbol)
	query.Set("limit", strconv.Itoa(limit))

	var result struct {
		List []struct {
			OrderID       string `json:"orderId"`
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Qty           string `json:"qty"`
			ClosedPnl     string `json:"closedPnl"`
			AvgEntryPrice string `json:"avgEntryPrice"`
			AvgExitPrice  string `json:"avgExitPrice"`
			CreatedTime   string `json:"createdTime"`
		} `json:"list"`
	}

	if err := c.doRequest(ctx, http.MethodGet, "/v5/position/closed-pnl", query, nil, &result); err != nil {
		return nil, err
	}

	records := make([]ClosedPnlRecord, 0, len(result.List))
	for _, item := range result.List {
		records = append(records, ClosedPnlRecord{
			OrderID:       item.OrderID,
			Symbol:        item.Symbol,
			Side:          item.Side,
			Qty:           parseFloat(item.Qty),
			ClosedPnl:     parseFloat(item.ClosedPnl),
			AvgEntryPrice: parseFloat(item.AvgEntryPrice),
			AvgExitPrice:  parseFloat(item.AvgExitPrice),
			CreatedTime:   time.UnixMilli(int64(parseFloat(item.CreatedTime))),
		})
	}

	return records, nil
}

// parseFloat парсит числовую строку Bybit; пустая или кривая строка = 0
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// stepDecimals выводит количество знаков после запятой из строки шага:
// "0.001" -> 3, "1" -> 0, "0.10" -> 1 (хвостовые нули не считаются)
func stepDecimals(step string) int {
	idx := strings.IndexByte(step, '.')
	if idx < 0 {
		return 0
	}
	frac := strings.TrimRight(step[idx+1:], "0")
	return len(frac)
}

// formatQty сериализует количество строкой с фиксированным числом знаков
func formatQty(qty float64, decimals int) string {
	if decimals < 0 {
		return strconv.FormatFloat(qty, 'f', -1, 64)
	}
	return strconv.FormatFloat(qty, 'f', decimals, 64)
}
