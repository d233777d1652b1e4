package moralis

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
	return &Client{http: httpClient, baseURL: registry.MoralisBaseURL, apiKey: apiKey}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "moralis",
		Type:          "market",
		RequiresKey:   true,
		KeyEnvVarName: "ETHPILOT_MORALIS_API_KEY",
		Capabilities: []string{
			"token.holders",
			"token.price",
		},
	}
}

type ownersResponse struct {
	Result []struct {
		OwnerAddress      string  `json:"owner_address"`
		OwnerAddressLabel *string `json:"owner_address_label"`
		Balance           string  `json:"balance"`
		IsContract        bool    `json:"is_contract"`
		PercentOfSupply   float64 `json:"percentage_relative_to_total_supply"`
	} `json:"result"`
}

func (c *Client) TopHolders(ctx context.Context, contract string, limit int) ([]model.Holder, error) {
	vals := url.Values{}
	vals.Set("chain", "eth")
	vals.Set("order", "DESC")
	vals.Set("limit", strconv.Itoa(limit))

	var resp ownersResponse
	if err := c.get(ctx, fmt.Sprintf("/erc20/%s/owners?%s", contract, vals.Encode()), &resp); err != nil {
		return nil, err
	}
	out := make([]model.Holder, 0, len(resp.Result))
	for _, item := range resp.Result {
		h := model.Holder{
			Address:    item.OwnerAddress,
			Percent:    item.PercentOfSupply,
			IsContract: item.IsContract,
			BaseUnits:  item.Balance,
		}
		if item.OwnerAddressLabel != nil {
			h.Label = *item.OwnerAddressLabel
		}
		out = append(out, h)
	}
	return out, nil
}

type priceResponse struct {
	USDPrice float64 `json:"usdPrice"`
}

func (c *Client) TokenPriceUSD(ctx context.Context, contract string) (float64, error) {
	var resp priceResponse
	if err := c.get(ctx, fmt.Sprintf("/erc20/%s/price?chain=eth", contract), &resp); err != nil {
		return 0, err
	}
	if resp.USDPrice <= 0 {
		return 0, clierr.New(clierr.CodeNotFound, "moralis has no usd price for token")
	}
	return resp.USDPrice, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if c.apiKey == "" {
		return clierr.New(clierr.CodeAuth, "missing required API key for moralis (ETHPILOT_MORALIS_API_KEY)")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "build moralis request", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	_, err = c.http.DoJSON(ctx, req, out)
	return err
}
