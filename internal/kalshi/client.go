package kalshi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultBaseURL = "https://api.elections.kalshi.com/trade-api/v2"

var centsPerDollar = decimal.NewFromInt(100)

// APIError is a non-2xx response from the exchange, typically an order
// rejection. Transport-level failures are returned as wrapped errors instead.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("kalshi api error (%d): %s", e.StatusCode, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("kalshi api error (%d): %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("kalshi api error (%d)", e.StatusCode)
}

// Options parameterise the exchange client.
type Options struct {
	BaseURL string
	KeyID   string
	Timeout time.Duration
}

// Client is the authenticated exchange API client. The private key is held only
// by the signer and never logged or serialised.
type Client struct {
	opts    Options
	signer  *Signer
	client  *http.Client
	baseURL *url.URL
	logger  zerolog.Logger
}

// NewClient wires a signer into an exchange client.
func NewClient(opts Options, signer *Signer, logger zerolog.Logger) (*Client, error) {
	raw := strings.TrimRight(opts.BaseURL, "/")
	if raw == "" {
		raw = defaultBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse exchange base url: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		opts:    opts,
		signer:  signer,
		client:  &http.Client{Timeout: timeout},
		baseURL: base,
		logger:  logger.With().Str("component", "kalshi_client").Logger(),
	}, nil
}

// Balance returns the available cash balance in dollars.
func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	var res balanceResponse
	if err := c.do(ctx, http.MethodGet, "/portfolio/balance", nil, &res); err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromInt(res.BalanceCents).Div(centsPerDollar), nil
}

// EventMarkets lists the open strikes for a settlement event, sorted ascending
// by floor strike.
func (c *Client) EventMarkets(ctx context.Context, eventTicker string) ([]Market, error) {
	var res eventResponse
	if err := c.do(ctx, http.MethodGet, "/events/"+url.PathEscape(eventTicker), nil, &res); err != nil {
		return nil, err
	}
	markets := res.Markets
	sort.Slice(markets, func(i, j int) bool { return markets[i].FloorStrike < markets[j].FloorStrike })
	return markets, nil
}

// CreateOrder submits a limit order. The returned signature timestamp makes
// timed-out submissions reconcilable by the caller.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (Order, Signature, error) {
	req.Action = "buy"
	req.Type = "limit"

	var res orderResponse
	sig, err := c.doSigned(ctx, http.MethodPost, "/portfolio/orders", req, &res)
	if err != nil {
		return Order{}, sig, err
	}
	return res.Order, sig, nil
}

// GetOrder fetches the current status of a submitted order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var res orderResponse
	if err := c.do(ctx, http.MethodGet, "/portfolio/orders/"+url.PathEscape(orderID), nil, &res); err != nil {
		return Order{}, err
	}
	return res.Order, nil
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, "/portfolio/orders/"+url.PathEscape(orderID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	_, err := c.doSigned(ctx, method, path, body, out)
	return err
}

// doSigned builds, signs, and executes one request. The signature covers the
// full request path as sent, query string included.
func (c *Client) doSigned(ctx context.Context, method, path string, body, out interface{}) (Signature, error) {
	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return Signature{}, fmt.Errorf("marshal request body: %w", err)
		}
		payload = bytes.NewReader(buf)
	}

	endpoint := c.baseURL.String() + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return Signature{}, fmt.Errorf("create request: %w", err)
	}

	signedPath := req.URL.Path
	if req.URL.RawQuery != "" {
		signedPath += "?" + req.URL.RawQuery
	}
	sig, err := c.signer.Sign(method, signedPath)
	if err != nil {
		return Signature{}, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("KALSHI-ACCESS-KEY", c.opts.KeyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", sig.Value)
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", sig.Timestamp)

	resp, err := c.client.Do(req)
	if err != nil {
		return sig, fmt.Errorf("exchange request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return sig, fmt.Errorf("read exchange response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return sig, parseAPIError(resp.StatusCode, raw)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return sig, fmt.Errorf("decode exchange response: %w", err)
		}
	}
	return sig, nil
}

func parseAPIError(status int, payload []byte) error {
	apiErr := &APIError{StatusCode: status}

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
		if apiErr.Code == "" {
			apiErr.Code = body.Code
		}
		if apiErr.Message == "" {
			apiErr.Message = body.Message
		}
	}
	if apiErr.Message == "" && len(payload) > 0 {
		apiErr.Message = strings.TrimSpace(string(payload))
	}
	return apiErr
}
