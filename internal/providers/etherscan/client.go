package etherscan

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
	"github.com/ggonzalez94/ethpilot/internal/httpx"
	"github.com/ggonzalez94/ethpilot/internal/id"
	"github.com/ggonzalez94/ethpilot/internal/model"
	"github.com/ggonzalez94/ethpilot/internal/registry"
)

const (
	mainnetChainID = "1"
	pageSize       = 25
)

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

func New(httpClient *httpx.Client, apiKey string) *Client {
	return &Client{http: httpClient, baseURL: registry.EtherscanBaseURL, apiKey: apiKey}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "etherscan",
		Type:          "history",
		RequiresKey:   true,
		KeyEnvVarName: "ETHPILOT_ETHERSCAN_API_KEY",
		Capabilities: []string{
			"account.transactions",
			"price.eth",
			"contract.verification",
		},
	}
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type ethPriceResult struct {
	EthUSD string `json:"ethusd"`
}

func (c *Client) ETHPriceUSD(ctx context.Context) (float64, error) {
	var res ethPriceResult
	if err := c.get(ctx, url.Values{"module": {"stats"}, "action": {"ethprice"}}, &res); err != nil {
		return 0, err
	}
	price, err := strconv.ParseFloat(res.EthUSD, 64)
	if err != nil || price <= 0 {
		return 0, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("etherscan returned invalid eth price %q", res.EthUSD))
	}
	return price, nil
}

type accountTx struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	ContractAddress string `json:"contractAddress"`
	TokenName       string `json:"tokenName"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
	IsError         string `json:"isError"`
}

// Transactions returns at most one event per hash from sinceBlock onward
// (inclusive), preferring the token transfer view of a hash when both exist.
// The returned cursor is the highest block observed, or sinceBlock. When a
// list fills its page the cursor is held at that page's last block.
func (c *Client) Transactions(ctx context.Context, address string, sinceBlock uint64) ([]model.TransactionEvent, uint64, error) {
	native, err := c.accountList(ctx, "txlist", address, sinceBlock)
	if err != nil {
		return nil, sinceBlock, err
	}
	tokens, err := c.accountList(ctx, "tokentx", address, sinceBlock)
	if err != nil {
		return nil, sinceBlock, err
	}

	byHash := make(map[string]int)
	events := make([]model.TransactionEvent, 0, len(native)+len(tokens))
	add := func(tx accountTx, token bool) {
		if tx.IsError == "1" || tx.Hash == "" {
			return
		}
		ev := toEvent(tx, token)
		key := strings.ToLower(tx.Hash)
		if idx, ok := byHash[key]; ok {
			if token && events[idx].IsNative() {
				events[idx] = ev
			}
			return
		}
		byHash[key] = len(events)
		events = append(events, ev)
	}
	for _, tx := range native {
		add(tx, false)
	}
	for _, tx := range tokens {
		add(tx, true)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].BlockNumber < events[j].BlockNumber })

	next := sinceBlock
	for _, ev := range events {
		if ev.BlockNumber > next {
			next = ev.BlockNumber
		}
	}

	// A full page may have more rows behind it. The cursor stops at the
	// lowest last block of any full page so the next query resumes there,
	// and later events wait for that query to keep notifications ordered.
	limit, full := pageLimit(native, tokens)
	if !full {
		return events, next, nil
	}
	kept := events[:0]
	for _, ev := range events {
		if ev.BlockNumber <= limit {
			kept = append(kept, ev)
		}
	}
	if limit <= sinceBlock {
		// One block holds more than a page. Step past it rather than
		// re-reading the same page forever.
		return kept, sinceBlock + 1, nil
	}
	return kept, limit, nil
}

// pageLimit returns the smallest last block among full pages.
func pageLimit(lists ...[]accountTx) (uint64, bool) {
	var (
		limit uint64
		full  bool
	)
	for _, list := range lists {
		if len(list) < pageSize {
			continue
		}
		last, err := strconv.ParseUint(list[len(list)-1].BlockNumber, 10, 64)
		if err != nil {
			continue
		}
		if !full || last < limit {
			limit = last
		}
		full = true
	}
	return limit, full
}

type sourceCodeResult struct {
	SourceCode   string `json:"SourceCode"`
	ABI          string `json:"ABI"`
	ContractName string `json:"ContractName"`
}

func (c *Client) IsVerified(ctx context.Context, contract string) (bool, error) {
	var res []sourceCodeResult
	if err := c.get(ctx, url.Values{"module": {"contract"}, "action": {"getsourcecode"}, "address": {contract}}, &res); err != nil {
		return false, err
	}
	if len(res) == 0 {
		return false, clierr.New(clierr.CodeNotFound, "etherscan has no record of contract")
	}
	return strings.TrimSpace(res[0].SourceCode) != "", nil
}

func (c *Client) accountList(ctx context.Context, action, address string, sinceBlock uint64) ([]accountTx, error) {
	vals := url.Values{
		"module":     {"account"},
		"action":     {action},
		"address":    {address},
		"startblock": {strconv.FormatUint(sinceBlock, 10)},
		"endblock":   {"99999999"},
		"page":       {"1"},
		"offset":     {strconv.Itoa(pageSize)},
		"sort":       {"asc"},
	}
	var out []accountTx
	if err := c.get(ctx, vals, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, vals url.Values, out any) error {
	if c.apiKey == "" {
		return clierr.New(clierr.CodeAuth, "missing required API key for etherscan (ETHPILOT_ETHERSCAN_API_KEY)")
	}
	vals.Set("chainid", mainnetChainID)
	vals.Set("apikey", c.apiKey)
	reqURL := c.baseURL + "?" + vals.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "build etherscan request", err)
	}

	var env envelope
	if _, err := c.http.DoJSON(ctx, req, &env); err != nil {
		return err
	}
	if env.Status != "1" {
		return classify(env)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "decode etherscan result", err)
	}
	return nil
}

// classify maps a status "0" response. Empty result lists are success.
func classify(env envelope) error {
	var detail string
	_ = json.Unmarshal(env.Result, &detail)
	msg := strings.ToLower(env.Message + " " + detail)
	switch {
	case strings.Contains(msg, "no transactions found") || strings.Contains(msg, "no records found"):
		return nil
	case strings.Contains(msg, "rate limit"):
		return clierr.New(clierr.CodeRateLimited, "etherscan rate limited request")
	case strings.Contains(msg, "api key"):
		return clierr.New(clierr.CodeAuth, "etherscan rejected API key")
	case strings.Contains(msg, "invalid address") || strings.Contains(msg, "invalid"):
		return clierr.New(clierr.CodeUnsupported, "etherscan rejected request: "+strings.TrimSpace(detail))
	default:
		return clierr.New(clierr.CodeUnavailable, "etherscan error: "+strings.TrimSpace(env.Message+" "+detail))
	}
}

func toEvent(tx accountTx, token bool) model.TransactionEvent {
	block, _ := strconv.ParseUint(tx.BlockNumber, 10, 64)
	ts, _ := strconv.ParseInt(tx.TimeStamp, 10, 64)
	value, ok := new(big.Int).SetString(tx.Value, 10)
	if !ok {
		value = new(big.Int)
	}
	ev := model.TransactionEvent{
		Hash:        tx.Hash,
		From:        tx.From,
		To:          tx.To,
		BlockNumber: block,
		Timestamp:   time.Unix(ts, 0).UTC(),
		Amount:      id.FormatUnits(value, 18),
	}
	if token {
		decimals, err := strconv.Atoi(tx.TokenDecimal)
		if err != nil {
			decimals = 18
		}
		ev.TokenContract = strings.ToLower(tx.ContractAddress)
		ev.TokenSymbol = tx.TokenSymbol
		ev.TokenName = tx.TokenName
		ev.Amount = id.FormatUnits(value, decimals)
	}
	return ev
}
