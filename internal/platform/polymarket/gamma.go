package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/quarterlab/updown-tracker/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, used to
// confirm candidate market slugs and read resolution state.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetMarketBySlug looks a market up by its URL slug. A 404 or empty list
// response maps to domain.ErrNotFound: for future-dated slots that is the
// expected steady state, not a failure.
func (g *GammaClient) GetMarketBySlug(ctx context.Context, slug string) (APIMarket, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: get market by slug %s: %w", slug, err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}

	if len(apiMarkets) == 0 {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: slug=%s: %w", slug, domain.ErrNotFound)
	}

	return apiMarkets[0], nil
}

// GetWinningOutcome fetches the market and returns the outcome whose resolved
// price equals 1.0. It returns domain.ErrUnresolved while the market has not
// settled upstream.
func (g *GammaClient) GetWinningOutcome(ctx context.Context, slug string) (string, error) {
	m, err := g.GetMarketBySlug(ctx, slug)
	if err != nil {
		return "", err
	}
	w := m.WinningOutcome()
	if w == "" {
		return "", fmt.Errorf("polymarket/gamma: slug=%s: %w", slug, domain.ErrUnresolved)
	}
	return w, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
