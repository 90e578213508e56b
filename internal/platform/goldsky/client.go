// Package goldsky is a GraphQL client for the Goldsky subgraph that indexes
// OrderFilled events from the Polymarket CTF Exchange contract.
package goldsky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quarterlab/updown-tracker/internal/domain"
)

// MaxPageSize is the subgraph's hard cap on the 'first' parameter.
const MaxPageSize = 1000

// Role selects which side of the fill must equal the tracked wallet.
type Role string

// AssetField selects which asset column must equal the outcome token.
type AssetField string

const (
	RoleMaker Role = "maker"
	RoleTaker Role = "taker"

	FieldMakerAsset AssetField = "makerAssetId"
	FieldTakerAsset AssetField = "takerAssetId"
)

// FillQuery is one filter combination against the fill-event index. The
// subgraph has no wallet+side+outcome view, so callers enumerate the
// combinations they need and paginate each with AfterID.
type FillQuery struct {
	Role    Role
	Wallet  string
	Field   AssetField
	TokenID string

	// FromTime/ToTime bound the fill timestamps (inclusive), Unix seconds.
	FromTime int64
	ToTime   int64

	// AfterID is the exclusive id_gt cursor; "" starts from the beginning.
	AfterID string

	// First caps the page size; clamped to MaxPageSize.
	First int
}

// Client is a GraphQL client for the Goldsky fill-event subgraph.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Goldsky GraphQL client.
//
// graphqlURL is the subgraph endpoint, e.g.
// "https://api.goldsky.com/api/public/.../subgraphs/polymarket-orderbook/gn".
func NewClient(graphqlURL, apiKey string) *Client {
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchFills returns one page of fills matching q, ordered by ascending
// event id. A page shorter than q.First signals exhaustion to the caller.
func (c *Client) FetchFills(ctx context.Context, q FillQuery) ([]domain.RawFill, error) {
	if q.Role != RoleMaker && q.Role != RoleTaker {
		return nil, fmt.Errorf("goldsky: invalid role %q", q.Role)
	}
	if q.Field != FieldMakerAsset && q.Field != FieldTakerAsset {
		return nil, fmt.Errorf("goldsky: invalid asset field %q", q.Field)
	}
	first := q.First
	if first <= 0 || first > MaxPageSize {
		first = MaxPageSize
	}

	// The where clause is assembled from validated enum values; only the
	// scalar filters travel as variables.
	query := fmt.Sprintf(`
		query WalletFills($wallet: String!, $token: BigInt!, $from: BigInt!, $to: BigInt!, $after: ID!, $first: Int!) {
			orderFilledEvents(
				first: $first
				orderBy: id
				orderDirection: asc
				where: {
					%s: $wallet
					%s: $token
					timestamp_gte: $from
					timestamp_lte: $to
					id_gt: $after
				}
			) {
				id
				transactionHash
				timestamp
				maker
				makerAssetId
				makerAmountFilled
				taker
				takerAssetId
				takerAmountFilled
				fee
			}
		}
	`, q.Role, q.Field)

	variables := map[string]any{
		"wallet": strings.ToLower(q.Wallet),
		"token":  q.TokenID,
		"from":   strconv.FormatInt(q.FromTime, 10),
		"to":     strconv.FormatInt(q.ToTime, 10),
		"after":  q.AfterID,
		"first":  first,
	}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("goldsky: fetch fills: %w", err)
	}

	var result struct {
		OrderFilledEvents []struct {
			ID                string `json:"id"`
			TransactionHash   string `json:"transactionHash"`
			Timestamp         string `json:"timestamp"`
			Maker             string `json:"maker"`
			MakerAssetID      string `json:"makerAssetId"`
			MakerAmountFilled string `json:"makerAmountFilled"`
			Taker             string `json:"taker"`
			TakerAssetID      string `json:"takerAssetId"`
			TakerAmountFilled string `json:"takerAmountFilled"`
			Fee               string `json:"fee"`
		} `json:"orderFilledEvents"`
	}

	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("goldsky: decode fills: %w", err)
	}

	fills := make([]domain.RawFill, 0, len(result.OrderFilledEvents))
	for _, e := range result.OrderFilledEvents {
		ts, _ := strconv.ParseInt(e.Timestamp, 10, 64)
		makerAmt, _ := strconv.ParseInt(e.MakerAmountFilled, 10, 64)
		takerAmt, _ := strconv.ParseInt(e.TakerAmountFilled, 10, 64)
		fee, _ := strconv.ParseInt(e.Fee, 10, 64)

		fills = append(fills, domain.RawFill{
			ID:                e.ID,
			TransactionHash:   e.TransactionHash,
			Timestamp:         ts,
			Maker:             e.Maker,
			MakerAssetID:      e.MakerAssetID,
			MakerAmountFilled: makerAmt,
			Taker:             e.Taker,
			TakerAssetID:      e.TakerAssetID,
			TakerAmountFilled: takerAmt,
			Fee:               fee,
		})
	}

	return fills, nil
}

// FetchLatestBlock returns the latest block number indexed by the subgraph,
// useful for monitoring indexing lag before a fetch pass.
func (c *Client) FetchLatestBlock(ctx context.Context) (int64, error) {
	query := `
		query LatestBlock {
			_meta {
				block {
					number
				}
			}
		}
	`

	respData, err := c.doQuery(ctx, query, nil)
	if err != nil {
		return 0, fmt.Errorf("goldsky: fetch latest block: %w", err)
	}

	var result struct {
		Meta struct {
			Block struct {
				Number int64 `json:"number"`
			} `json:"block"`
		} `json:"_meta"`
	}

	if err := json.Unmarshal(respData, &result); err != nil {
		return 0, fmt.Errorf("goldsky: decode latest block: %w", err)
	}

	return result.Meta.Block.Number, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doQuery executes a GraphQL query against the endpoint and returns the raw
// "data" field from the response.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	reqBody := graphqlRequest{
		Query:     query,
		Variables: variables,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}

	return gqlResp.Data, nil
}
