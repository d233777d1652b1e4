package honeypot

import (
	"context"
	"net/http"
	"net/url"

	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
	"github.com/ggonzalez94/ethpilot/internal/httpx"
	"github.com/ggonzalez94/ethpilot/internal/model"
	"github.com/ggonzalez94/ethpilot/internal/providers"
	"github.com/ggonzalez94/ethpilot/internal/registry"
)

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

func New(httpClient *httpx.Client, apiKey string) *Client {
	return &Client{http: httpClient, baseURL: registry.HoneypotBaseURL, apiKey: apiKey}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "honeypot",
		Type:          "simulation",
		RequiresKey:   false,
		KeyEnvVarName: "ETHPILOT_HONEYPOT_API_KEY",
		Capabilities: []string{
			"token.simulation",
			"token.liquidity",
			"contract.open_source",
		},
	}
}

type isHoneypotResponse struct {
	Token struct {
		Name     string `json:"name"`
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
		Address  string `json:"address"`
	} `json:"token"`
	SimulationSuccess bool   `json:"simulationSuccess"`
	SimulationError   string `json:"simulationError"`
	HoneypotResult    *struct {
		IsHoneypot     bool   `json:"isHoneypot"`
		HoneypotReason string `json:"honeypotReason"`
	} `json:"honeypotResult"`
	SimulationResult *struct {
		BuyTax  float64 `json:"buyTax"`
		SellTax float64 `json:"sellTax"`
	} `json:"simulationResult"`
	ContractCode *struct {
		OpenSource    bool `json:"openSource"`
		IsProxy       bool `json:"isProxy"`
		HasProxyCalls bool `json:"hasProxyCalls"`
	} `json:"contractCode"`
	Pair *struct {
		Pair struct {
			Address string `json:"address"`
			Type    string `json:"type"`
		} `json:"pair"`
		Liquidity float64 `json:"liquidity"`
	} `json:"pair"`
	PairAddress string `json:"pairAddress"`
}

// Simulate reports the honeypot.is buy/sell simulation. A simulation that
// could not run yields a nil Simulation rather than a failed one.
func (c *Client) Simulate(ctx context.Context, contract string) (providers.SimulationReport, error) {
	vals := url.Values{}
	vals.Set("address", contract)
	vals.Set("chainID", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/IsHoneypot?"+vals.Encode(), nil)
	if err != nil {
		return providers.SimulationReport{}, clierr.Wrap(clierr.CodeInternal, "build honeypot request", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}

	var resp isHoneypotResponse
	if _, err := c.http.DoJSON(ctx, req, &resp); err != nil {
		return providers.SimulationReport{}, err
	}

	report := providers.SimulationReport{
		Name:        resp.Token.Name,
		Symbol:      resp.Token.Symbol,
		Decimals:    resp.Token.Decimals,
		PairAddress: resp.PairAddress,
	}
	if resp.SimulationSuccess && resp.HoneypotResult != nil {
		sim := &model.SimulationResult{
			Success:    !resp.HoneypotResult.IsHoneypot,
			IsHoneypot: resp.HoneypotResult.IsHoneypot,
			Reason:     resp.HoneypotResult.HoneypotReason,
		}
		if resp.SimulationResult != nil {
			sim.BuyTaxPct = resp.SimulationResult.BuyTax
			sim.SellTaxPct = resp.SimulationResult.SellTax
		}
		report.Simulation = sim
	}
	if resp.Pair != nil {
		liquidity := resp.Pair.Liquidity
		report.LiquidityUSD = &liquidity
		if report.PairAddress == "" {
			report.PairAddress = resp.Pair.Pair.Address
		}
	}
	if resp.ContractCode != nil {
		open := resp.ContractCode.OpenSource
		report.OpenSource = &open
	}
	return report, nil
}
