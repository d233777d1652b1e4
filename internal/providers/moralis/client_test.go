package moralis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
	"github.com/ggonzalez94/ethpilot/internal/httpx"
)

func newClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(httpx.New(time.Second, 0), "mk")
	c.baseURL = srv.URL
	return c
}

func TestTopHolders(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/erc20/0xabc/owners" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "mk" {
			t.Errorf("missing api key header")
		}
		if r.URL.Query().Get("limit") != "10" || r.URL.Query().Get("chain") != "eth" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"cursor":null,"result":[
			{"owner_address":"0xpool","owner_address_label":"Uniswap V2: SCAM","balance":"500","is_contract":true,"percentage_relative_to_total_supply":50.0},
			{"owner_address":"0xwhale","owner_address_label":null,"balance":"120","is_contract":false,"percentage_relative_to_total_supply":12.0}
		]}`))
	})
	holders, err := c.TopHolders(context.Background(), "0xabc", 10)
	if err != nil {
		t.Fatalf("TopHolders failed: %v", err)
	}
	if len(holders) != 2 {
		t.Fatalf("expected 2 holders, got %d", len(holders))
	}
	if holders[0].Label != "Uniswap V2: SCAM" || !holders[0].IsContract || holders[0].Percent != 50 {
		t.Fatalf("unexpected first holder %+v", holders[0])
	}
	if holders[1].Label != "" || holders[1].BaseUnits != "120" {
		t.Fatalf("unexpected second holder %+v", holders[1])
	}
}

func TestTokenPrice(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/erc20/0xabc/price" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"tokenName":"Scam","tokenSymbol":"SCAM","usdPrice":0.5}`))
	})
	price, err := c.TokenPriceUSD(context.Background(), "0xabc")
	if err != nil || price != 0.5 {
		t.Fatalf("unexpected price %v err=%v", price, err)
	}
}

func TestTokenPriceZeroIsNotFound(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"usdPrice":0}`))
	})
	_, err := c.TokenPriceUSD(context.Background(), "0xabc")
	if clierr.CodeOf(err) != clierr.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMissingKey(t *testing.T) {
	c := New(httpx.New(time.Second, 0), "")
	_, err := c.TopHolders(context.Background(), "0xabc", 10)
	if clierr.CodeOf(err) != clierr.CodeAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
}
