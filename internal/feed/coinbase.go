package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultCoinbaseBaseURL = "https://api.coinbase.com"

// CoinbaseOptions parameterise the spot price fetcher.
type CoinbaseOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Coinbase fetches spot prices from the Coinbase public API.
type Coinbase struct {
	opts    CoinbaseOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCoinbase constructs a Coinbase spot fetcher.
func NewCoinbase(opts CoinbaseOptions, logger zerolog.Logger) *Coinbase {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultCoinbaseBaseURL
	}

	return &Coinbase{
		opts:    opts,
		logger:  logger.With().Str("component", "coinbase_feed").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type spotResponse struct {
	Data struct {
		Amount   string `json:"amount"`
		Base     string `json:"base"`
		Currency string `json:"currency"`
	} `json:"data"`
}

// FetchSpot retrieves the current spot price for a pair such as "BTC-USD".
// A non-positive or unparseable price is an error, never a trading signal.
func (c *Coinbase) FetchSpot(ctx context.Context, pair string) (Spot, error) {
	endpoint := fmt.Sprintf("%s/v2/prices/%s/spot", c.baseURL, pair)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Spot{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Spot{}, fmt.Errorf("fetch spot %s: %w", pair, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Spot{}, fmt.Errorf("read spot response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Spot{}, fmt.Errorf("coinbase spot %s: status %d: %s", pair, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var res spotResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return Spot{}, fmt.Errorf("decode spot response: %w", err)
	}

	price, err := strconv.ParseFloat(res.Data.Amount, 64)
	if err != nil {
		return Spot{}, fmt.Errorf("parse spot amount %q: %w", res.Data.Amount, err)
	}
	if price <= 0 {
		return Spot{}, errors.New("coinbase spot returned non-positive price")
	}

	return Spot{Price: price, AsOf: time.Now().UTC()}, nil
}

var _ Fetcher = (*Coinbase)(nil)

// Static returns a fixed price; used by simulation paths.
type Static struct {
	Price float64
}

// FetchSpot returns the configured price stamped with the current time.
func (s Static) FetchSpot(ctx context.Context, pair string) (Spot, error) {
	if s.Price <= 0 {
		return Spot{}, errors.New("static feed price must be positive")
	}
	return Spot{Price: s.Price, AsOf: time.Now().UTC()}, nil
}

var _ Fetcher = Static{}
