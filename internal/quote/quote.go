// Package quote fetches stock prices and values the stored holdings.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"lifeos/internal/config"
	"lifeos/internal/model"
)

// ErrMissingAPIKey marks a configuration problem. It is a distinct, named
// condition: "the key is not set" must never be confused with "the symbol
// has no price data" (which is a nil price and no error).
var ErrMissingAPIKey = errors.New("missing API key")

const defaultBaseURL = "https://finnhub.io/api/v1/quote"

const maxConcurrentQuotes = 4

// Client fetches quotes for single symbols.
type Client struct {
	cfg  config.QuoteConfig
	http *http.Client
}

// NewClient creates a quote client from the widget configuration.
func NewClient(cfg config.QuoteConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// quotePayload is the provider response; C is the current price, zero when
// the symbol has no price data.
type quotePayload struct {
	C float64 `json:"c"`
}

// Price returns the current price for symbol, or nil when the provider has
// no data for it.
func (c *Client) Price(ctx context.Context, symbol string) (*float64, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("quote: %w: set quote.api_key or LIFEOS_QUOTE_KEY", ErrMissingAPIKey)
	}
	if symbol == "" {
		return nil, errors.New("quote: empty symbol")
	}

	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("token", c.cfg.APIKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote %s: unexpected status %s", symbol, resp.Status)
	}

	var p quotePayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("quote %s: decode: %w", symbol, err)
	}

	if p.C == 0 {
		// The provider reports a flat zero for unknown symbols.
		return nil, nil
	}
	price := p.C
	return &price, nil
}

// Quote fetches one symbol as a Quote value.
func (c *Client) Quote(ctx context.Context, symbol string) (model.Quote, error) {
	price, err := c.Price(ctx, symbol)
	if err != nil {
		return model.Quote{}, err
	}
	return model.Quote{
		Symbol:    symbol,
		Price:     price,
		FetchedAt: time.Now(),
	}, nil
}

// Valuations prices every holding concurrently. Failures are isolated per
// symbol; a bad symbol carries its error in the result instead of failing
// the whole portfolio. A missing API key fails everything at once since no
// symbol could succeed.
func (c *Client) Valuations(ctx context.Context, holdings []model.Holding) ([]model.HoldingValue, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("quote: %w: set quote.api_key or LIFEOS_QUOTE_KEY", ErrMissingAPIKey)
	}

	out := make([]model.HoldingValue, len(holdings))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQuotes)
	for i, h := range holdings {
		i, h := i, h
		g.Go(func() error {
			hv := model.HoldingValue{Holding: h}
			price, err := c.Price(ctx, h.Symbol)
			if err != nil {
				hv.Err = err.Error()
			} else if price != nil {
				hv.Price = price
				value := *price * h.Quantity
				hv.Value = &value
			}
			out[i] = hv
			return nil
		})
	}
	_ = g.Wait()

	return out, nil
}
