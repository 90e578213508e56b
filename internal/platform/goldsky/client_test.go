package goldsky

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fillQueryFixture is a valid maker-side query against token 101.
func fillQueryFixture() FillQuery {
	return FillQuery{
		Role:     RoleMaker,
		Wallet:   "0xAbCd000000000000000000000000000000000001",
		Field:    FieldMakerAsset,
		TokenID:  "101",
		FromTime: 1700000000,
		ToTime:   1700000900,
		AfterID:  "",
		First:    500,
	}
}

func TestFetchFillsRequestShape(t *testing.T) {
	var got graphqlRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("authorization header = %q", auth)
		}
		fmt.Fprint(w, `{"data":{"orderFilledEvents":[]}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	if _, err := c.FetchFills(context.Background(), fillQueryFixture()); err != nil {
		t.Fatalf("FetchFills: %v", err)
	}

	// The role and asset field are baked into the where clause; the scalar
	// filters travel as variables.
	if !strings.Contains(got.Query, "maker: $wallet") {
		t.Errorf("query missing maker filter:\n%s", got.Query)
	}
	if !strings.Contains(got.Query, "makerAssetId: $token") {
		t.Errorf("query missing asset filter:\n%s", got.Query)
	}
	if !strings.Contains(got.Query, "id_gt: $after") {
		t.Errorf("query missing cursor filter:\n%s", got.Query)
	}
	if !strings.Contains(got.Query, "orderDirection: asc") {
		t.Errorf("query not ordered ascending:\n%s", got.Query)
	}

	if got.Variables["wallet"] != "0xabcd000000000000000000000000000000000001" {
		t.Errorf("wallet variable = %v, want lowercased address", got.Variables["wallet"])
	}
	if got.Variables["from"] != "1700000000" || got.Variables["to"] != "1700000900" {
		t.Errorf("time bounds = %v / %v", got.Variables["from"], got.Variables["to"])
	}
	if got.Variables["first"] != float64(500) {
		t.Errorf("first = %v, want 500", got.Variables["first"])
	}
}

func TestFetchFillsClampsPageSize(t *testing.T) {
	var got graphqlRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"data":{"orderFilledEvents":[]}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	q := fillQueryFixture()
	q.First = 5000
	if _, err := c.FetchFills(context.Background(), q); err != nil {
		t.Fatalf("FetchFills: %v", err)
	}
	if got.Variables["first"] != float64(MaxPageSize) {
		t.Errorf("first = %v, want clamped to %d", got.Variables["first"], MaxPageSize)
	}
}

func TestFetchFillsDecodesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"orderFilledEvents":[{
			"id": "0xtx-5",
			"transactionHash": "0xtx",
			"timestamp": "1700000100",
			"maker": "0xabcd000000000000000000000000000000000001",
			"makerAssetId": "0",
			"makerAmountFilled": "6000000",
			"taker": "0xother",
			"takerAssetId": "101",
			"takerAmountFilled": "10000000",
			"fee": "0"
		}]}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	fills, err := c.FetchFills(context.Background(), fillQueryFixture())
	if err != nil {
		t.Fatalf("FetchFills: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(fills))
	}

	f := fills[0]
	if f.ID != "0xtx-5" || f.Timestamp != 1700000100 {
		t.Errorf("fill identity = %q / %d", f.ID, f.Timestamp)
	}
	if f.MakerAssetID != "0" || f.MakerAmountFilled != 6_000_000 || f.TakerAmountFilled != 10_000_000 {
		t.Errorf("amounts = %q / %d / %d", f.MakerAssetID, f.MakerAmountFilled, f.TakerAmountFilled)
	}
}

func TestFetchFillsRejectsInvalidCombination(t *testing.T) {
	c := NewClient("http://unused.invalid", "")

	q := fillQueryFixture()
	q.Role = "owner"
	if _, err := c.FetchFills(context.Background(), q); err == nil {
		t.Error("invalid role accepted")
	}

	q = fillQueryFixture()
	q.Field = "assetId"
	if _, err := c.FetchFills(context.Background(), q); err == nil {
		t.Error("invalid asset field accepted")
	}
}

func TestFetchFillsGraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors":[{"message":"indexing in progress"}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.FetchFills(context.Background(), fillQueryFixture())
	if err == nil {
		t.Fatal("graphql error not surfaced")
	}
	if !strings.Contains(err.Error(), "indexing in progress") {
		t.Errorf("error = %v", err)
	}
}

func TestFetchFillsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	if _, err := c.FetchFills(context.Background(), fillQueryFixture()); err == nil {
		t.Fatal("HTTP error not surfaced")
	}
}

func TestFetchLatestBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"_meta":{"block":{"number":65000123}}}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	n, err := c.FetchLatestBlock(context.Background())
	if err != nil {
		t.Fatalf("FetchLatestBlock: %v", err)
	}
	if n != 65000123 {
		t.Errorf("block = %d, want 65000123", n)
	}
}
