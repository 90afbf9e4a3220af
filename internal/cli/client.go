package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marketsim/internal/market"
)

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   strings.TrimSpace(token),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

func (c *Client) ListStocks(ctx context.Context, sector string) ([]market.Stock, error) {
	path := "/v1/stocks"
	if s := strings.TrimSpace(sector); s != "" {
		path += "?sector=" + url.QueryEscape(s)
	}
	var out struct {
		Stocks []market.Stock `json:"stocks"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out)
	return out.Stocks, err
}

func (c *Client) Stock(ctx context.Context, ref string) (market.Stock, error) {
	var out market.Stock
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/stocks/"+url.PathEscape(ref), nil, &out)
	return out, err
}

func (c *Client) History(ctx context.Context, ref string, tf market.Timeframe) (market.HistorySeries, error) {
	var out market.HistorySeries
	path := fmt.Sprintf("/v1/stocks/%s/history?timeframe=%s", url.PathEscape(ref), url.QueryEscape(string(tf)))
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) Compare(ctx context.Context, refs []string, tf market.Timeframe) (market.Comparison, error) {
	var out market.Comparison
	q := url.Values{}
	q.Set("stocks", strings.Join(refs, ","))
	q.Set("timeframe", string(tf))
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/compare?"+q.Encode(), nil, &out)
	return out, err
}

func (c *Client) Trade(ctx context.Context, ref string, side market.Side, quantity int64) (market.TradeResult, error) {
	var out market.TradeResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/trades", map[string]any{
		"stock":    ref,
		"side":     string(side),
		"quantity": quantity,
	}, &out)
	return out, err
}

func (c *Client) ListStock(ctx context.Context, in market.NewStock) (market.Stock, error) {
	var out market.Stock
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/stocks", in, &out)
	return out, err
}

func (c *Client) Tick(ctx context.Context) (market.TickReport, error) {
	var out market.TickReport
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/market/tick", nil, &out)
	return out, err
}

func (c *Client) Reset(ctx context.Context) (market.ResetReport, error) {
	var out market.ResetReport
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/market/reset", nil, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorMessage(raw []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}
