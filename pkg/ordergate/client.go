// Package ordergate is the Go SDK for the ordergate HTTP API.
//
// The types in this package mirror the API's JSON wire format so that
// consumers outside the server module can name every request and response.
package ordergate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Order sides accepted by SubmitOrder.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order statuses reported by the API. PENDING is the only non-terminal
// status.
const (
	StatusPending  = "PENDING"
	StatusExecuted = "EXECUTED"
	StatusCanceled = "CANCELED"
)

// Order is an order record as returned by the API. ExecutedPrice and
// Commission are zero until the order reaches EXECUTED.
type Order struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	Status        string          `json:"status"`
	StrategyID    string          `json:"strategy_id,omitempty"`
	Exchange      string          `json:"exchange,omitempty"`
	ExecutedPrice decimal.Decimal `json:"executed_price"`
	Commission    decimal.Decimal `json:"commission"`
	CancelReason  string          `json:"cancel_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Position is the aggregate signed position for one instrument. Quantity is
// positive for a net long and negative for a net short.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RiskSummary is the portfolio-wide risk snapshot. Violations counts
// rejections per rule since the server started.
type RiskSummary struct {
	PortfolioValue decimal.Decimal  `json:"portfolio_value"`
	GrossValue     decimal.Decimal  `json:"gross_value"`
	PeakValue      decimal.Decimal  `json:"peak_value"`
	DrawdownPct    decimal.Decimal  `json:"drawdown_pct"`
	DailyRealized  decimal.Decimal  `json:"daily_realized_pnl"`
	Violations     map[string]int64 `json:"violations"`
}

// APIError is the decoded error payload of a non-2xx response. RetryAfter is
// non-zero on 429 responses that carried a Retry-After header.
type APIError struct {
	StatusCode int
	Reason     string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("ordergate: %s (%d %s)", e.Message, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("ordergate: %s (%d)", e.Message, e.StatusCode)
}

// Client talks to an ordergate server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL, e.g.
// "http://localhost:8080".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SubmitOrderRequest is the payload for SubmitOrder.
type SubmitOrderRequest struct {
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	StrategyID string          `json:"strategy_id,omitempty"`
	Exchange   string          `json:"exchange,omitempty"`
}

// SubmitOrder submits a new order for admission.
func (c *Client) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodPost, "/api/v1/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrder fetches one order by ID.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodGet, "/api/v1/orders/"+orderID, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders fetches orders in the given status; empty status means all.
func (c *Client) ListOrders(ctx context.Context, status string) ([]Order, error) {
	path := "/api/v1/orders"
	if status != "" {
		path += "?status=" + status
	}
	var orders []Order
	if err := c.do(ctx, http.MethodGet, path, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// ExecuteOrder fills a pending order at the given price.
func (c *Client) ExecuteOrder(ctx context.Context, orderID string, fillPrice decimal.Decimal) (*Order, error) {
	body := map[string]decimal.Decimal{"fill_price": fillPrice}
	var order Order
	if err := c.do(ctx, http.MethodPost, "/api/v1/orders/"+orderID+"/execute", body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelOrder cancels a pending order.
func (c *Client) CancelOrder(ctx context.Context, orderID, reason string) (*Order, error) {
	body := map[string]string{"reason": reason}
	var order Order
	if err := c.do(ctx, http.MethodPost, "/api/v1/orders/"+orderID+"/cancel", body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// Positions fetches every non-empty position.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	var positions []Position
	if err := c.do(ctx, http.MethodGet, "/api/v1/positions", nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// Position fetches the position for one symbol.
func (c *Client) Position(ctx context.Context, symbol string) (*Position, error) {
	var pos Position
	if err := c.do(ctx, http.MethodGet, "/api/v1/positions/"+symbol, nil, &pos); err != nil {
		return nil, err
	}
	return &pos, nil
}

// RiskSummary fetches the portfolio-wide risk snapshot.
func (c *Client) RiskSummary(ctx context.Context) (*RiskSummary, error) {
	var summary RiskSummary
	if err := c.do(ctx, http.MethodGet, "/api/v1/risk/summary", nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// UpdateMark feeds a mark price into the server's risk book.
func (c *Client) UpdateMark(ctx context.Context, symbol string, price decimal.Decimal) error {
	body := map[string]any{"symbol": symbol, "price": price}
	return c.do(ctx, http.MethodPost, "/api/v1/marks", body, nil)
}

// RecordPnL folds an externally settled P&L amount (funding, fees, manual
// adjustments) into the server's realized accumulators. Negative amounts
// count toward the daily-loss circuit breaker.
func (c *Client) RecordPnL(ctx context.Context, amount decimal.Decimal) error {
	body := map[string]decimal.Decimal{"amount": amount}
	return c.do(ctx, http.MethodPost, "/api/v1/pnl", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error  string `json:"error"`
			Reason string `json:"reason"`
		}
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Message = payload.Error
			apiErr.Reason = payload.Reason
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				apiErr.RetryAfter = time.Duration(seconds) * time.Second
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
