package chainbase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
	"github.com/ggonzalez94/ethpilot/internal/httpx"
	"github.com/ggonzalez94/ethpilot/internal/model"
	"github.com/ggonzalez94/ethpilot/internal/registry"
)

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

func New(httpClient *httpx.Client, apiKey string) *Client {
	return &Client{http: httpClient, baseURL: registry.ChainbaseBaseURL, apiKey: apiKey}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "chainbase",
		Type:          "market",
		RequiresKey:   true,
		KeyEnvVarName: "ETHPILOT_CHAINBASE_API_KEY",
		Capabilities:  []string{"token.holders"},
	}
}

type topHoldersResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    []struct {
		WalletAddress  string `json:"wallet_address"`
		OriginalAmount string `json:"original_amount"`
		Amount         string `json:"amount"`
		USDValue       string `json:"usd_value"`
	} `json:"data"`
}

// TopHolders returns holders with raw balances only. Chainbase does not
// report supply share, so Percent is left for the caller to derive.
func (c *Client) TopHolders(ctx context.Context, contract string, limit int) ([]model.Holder, error) {
	if c.apiKey == "" {
		return nil, clierr.New(clierr.CodeAuth, "missing required API key for chainbase (ETHPILOT_CHAINBASE_API_KEY)")
	}
	vals := url.Values{}
	vals.Set("chain_id", "1")
	vals.Set("contract_address", contract)
	vals.Set("limit", strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/token/top-holders?"+vals.Encode(), nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build chainbase request", err)
	}
	req.Header.Set("x-api-key", c.apiKey)

	var resp topHoldersResponse
	if _, err := c.http.DoJSON(ctx, req, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("chainbase error %d: %s", resp.Code, resp.Message))
	}
	out := make([]model.Holder, 0, len(resp.Data))
	for _, item := range resp.Data {
		out = append(out, model.Holder{Address: item.WalletAddress, BaseUnits: item.OriginalAmount})
	}
	return out, nil
}
