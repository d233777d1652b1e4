package alchemy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
	"github.com/ggonzalez94/ethpilot/internal/httpx"
	"github.com/ggonzalez94/ethpilot/internal/id"
	"github.com/ggonzalez94/ethpilot/internal/model"
	"github.com/ggonzalez94/ethpilot/internal/providers"
	"github.com/ggonzalez94/ethpilot/internal/registry"
)

const (
	opPush4          = 0x63
	maxPortfolioSize = 25
)

var (
	erc20ABI   = mustABI(registry.ERC20MetadataABI)
	ownableABI = mustABI(registry.OwnableABI)

	mintSelectors      = pushSelectors(registry.MintSignatures)
	blacklistSelectors = pushSelectors(registry.BlacklistSignatures)
)

type Client struct {
	rpc    *rpc.Client
	eth    *ethclient.Client
	policy httpx.Policy
	budget *Budget
}

// Dial connects to a JSON-RPC endpoint. HTTP endpoints are dialled lazily,
// so a reachable node is not required here.
func Dial(ctx context.Context, rpcURL string, policy httpx.Policy, budget *Budget) (*Client, error) {
	rc, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeConfig, "dial ethereum rpc", err)
	}
	return &Client{rpc: rc, eth: ethclient.NewClient(rc), policy: policy, budget: budget}, nil
}

func (c *Client) Close() {
	if c != nil && c.rpc != nil {
		c.rpc.Close()
	}
}

func (c *Client) Budget() *Budget { return c.budget }

// BudgetUsage reports compute-unit usage when a budget is attached.
func (c *Client) BudgetUsage() (model.BudgetUsage, bool) {
	if c.budget == nil {
		return model.BudgetUsage{}, false
	}
	return c.budget.Usage(), true
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "alchemy",
		Type:          "node",
		RequiresKey:   false,
		KeyEnvVarName: "ETHPILOT_ALCHEMY_API_KEY",
		Capabilities: []string{
			"eth.balance",
			"eth.gas_price",
			"eth.block_number",
			"token.balances",
			"contract.signals",
			"token.total_supply",
		},
	}
}

func (c *Client) EthBalance(ctx context.Context, address string) (*big.Int, error) {
	addr := common.HexToAddress(address)
	var out *big.Int
	err := c.do(ctx, "eth_getBalance", cuGetBalance, func(ctx context.Context) error {
		v, err := c.eth.BalanceAt(ctx, addr, nil)
		out = v
		return err
	})
	return out, err
}

func (c *Client) GasPriceWei(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := c.do(ctx, "eth_gasPrice", cuGasPrice, func(ctx context.Context) error {
		v, err := c.eth.SuggestGasPrice(ctx)
		out = v
		return err
	})
	return out, err
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var out uint64
	err := c.do(ctx, "eth_blockNumber", cuBlockNumber, func(ctx context.Context) error {
		v, err := c.eth.BlockNumber(ctx)
		out = v
		return err
	})
	return out, err
}

type tokenBalancesResponse struct {
	Address       string `json:"address"`
	TokenBalances []struct {
		ContractAddress string  `json:"contractAddress"`
		TokenBalance    string  `json:"tokenBalance"`
		Error           *string `json:"error"`
	} `json:"tokenBalances"`
}

// TokenBalances lists non-zero ERC-20 balances. It needs an Alchemy endpoint.
func (c *Client) TokenBalances(ctx context.Context, address string) ([]model.TokenBalance, error) {
	var resp tokenBalancesResponse
	err := c.do(ctx, "alchemy_getTokenBalances", cuTokenBalances, func(ctx context.Context) error {
		return c.rpc.CallContext(ctx, &resp, "alchemy_getTokenBalances", common.HexToAddress(address), "erc20")
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.TokenBalance, 0, len(resp.TokenBalances))
	for _, entry := range resp.TokenBalances {
		if entry.Error != nil {
			continue
		}
		amount, err := id.ParseHexQuantity(entry.TokenBalance)
		if err != nil || amount.Sign() == 0 {
			continue
		}
		if len(out) == maxPortfolioSize {
			break
		}
		meta, err := c.erc20Metadata(ctx, entry.ContractAddress)
		if err != nil && mustStop(err) {
			return nil, err
		}
		symbol := meta.Symbol
		if symbol == "" {
			symbol = "UNKNOWN"
		}
		out = append(out, model.TokenBalance{
			Contract:         strings.ToLower(entry.ContractAddress),
			Symbol:           symbol,
			Name:             meta.Name,
			Decimals:         meta.Decimals,
			BalanceBaseUnits: amount.String(),
			Balance:          id.FormatUnits(amount, meta.Decimals),
		})
	}
	return out, nil
}

// ContractSignals reads metadata, ownership and bytecode hints from the
// contract. An address without code is reported as not found.
func (c *Client) ContractSignals(ctx context.Context, contract string) (providers.ContractSignals, error) {
	addr := common.HexToAddress(contract)
	var code []byte
	err := c.do(ctx, "eth_getCode", cuGetCode, func(ctx context.Context) error {
		v, err := c.eth.CodeAt(ctx, addr, nil)
		code = v
		return err
	})
	if err != nil {
		return providers.ContractSignals{}, err
	}
	if len(code) == 0 {
		return providers.ContractSignals{}, clierr.New(clierr.CodeNotFound, fmt.Sprintf("no contract deployed at %s", addr.Hex()))
	}

	meta, err := c.erc20Metadata(ctx, contract)
	if err != nil && mustStop(err) {
		return providers.ContractSignals{}, err
	}
	signals := providers.ContractSignals{
		Name:                 meta.Name,
		Symbol:               meta.Symbol,
		Decimals:             meta.Decimals,
		HasMintFunction:      containsAny(code, mintSelectors),
		HasBlacklistFunction: containsAny(code, blacklistSelectors),
	}

	values, err := c.callView(ctx, addr, ownableABI, "owner")
	switch {
	case err == nil && len(values) == 1:
		if owner, ok := values[0].(common.Address); ok {
			signals.HasOwner = true
			signals.Owner = owner.Hex()
		}
	case err != nil && mustStop(err):
		return providers.ContractSignals{}, err
	}
	return signals, nil
}

func (c *Client) TotalSupply(ctx context.Context, contract string) (*big.Int, error) {
	values, err := c.callView(ctx, common.HexToAddress(contract), erc20ABI, "totalSupply")
	if err != nil {
		return nil, err
	}
	supply, ok := values[0].(*big.Int)
	if !ok {
		return nil, clierr.New(clierr.CodeUnsupported, "totalSupply() returned unexpected type")
	}
	return supply, nil
}

type tokenMeta struct {
	Name     string
	Symbol   string
	Decimals int
}

// erc20Metadata is best effort: fields a contract does not expose stay empty
// and the first non-transient error is returned alongside what was read.
func (c *Client) erc20Metadata(ctx context.Context, contract string) (tokenMeta, error) {
	addr := common.HexToAddress(contract)
	var meta tokenMeta
	var firstErr error
	keep := func(err error) bool {
		if err == nil {
			return true
		}
		if firstErr == nil || mustStop(err) {
			firstErr = err
		}
		return false
	}

	if values, err := c.callView(ctx, addr, erc20ABI, "name"); keep(err) {
		meta.Name, _ = values[0].(string)
	}
	if firstErr != nil && mustStop(firstErr) {
		return meta, firstErr
	}
	if values, err := c.callView(ctx, addr, erc20ABI, "symbol"); keep(err) {
		meta.Symbol, _ = values[0].(string)
	}
	if values, err := c.callView(ctx, addr, erc20ABI, "decimals"); keep(err) {
		if d, ok := values[0].(uint8); ok {
			meta.Decimals = int(d)
		}
	}
	return meta, firstErr
}

func (c *Client) callView(ctx context.Context, to common.Address, parsed abi.ABI, method string) ([]any, error) {
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack "+method+" call", err)
	}
	var out []byte
	err = c.do(ctx, "eth_call", cuCall, func(ctx context.Context) error {
		v, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		out = v
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, clierr.New(clierr.CodeNotFound, method+"() returned no data")
	}
	values, err := parsed.Unpack(method, out)
	if err != nil || len(values) == 0 {
		return nil, clierr.Wrap(clierr.CodeUnsupported, "decode "+method+" result", err)
	}
	return values, nil
}

func (c *Client) do(ctx context.Context, method string, units uint64, fn func(ctx context.Context) error) error {
	if err := c.budget.Charge(units); err != nil {
		return err
	}
	return httpx.Retry(ctx, c.policy, func(ctx context.Context) error {
		return mapRPCError(method, fn(ctx))
	})
}

func mapRPCError(method string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return clierr.Wrap(clierr.CodeRateLimited, method+" rate limited", err)
		case httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden:
			return clierr.Wrap(clierr.CodeAuth, method+" authentication failed", err)
		case httpErr.StatusCode >= http.StatusInternalServerError:
			return clierr.Wrap(clierr.CodeUnavailable, method+" node unavailable", err)
		default:
			return clierr.Wrap(clierr.CodeUnsupported, method+" rejected", err)
		}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		msg := strings.ToLower(rpcErr.Error())
		switch {
		case rpcErr.ErrorCode() == 429 || rpcErr.ErrorCode() == -32005 || strings.Contains(msg, "rate limit") || strings.Contains(msg, "compute units"):
			return clierr.Wrap(clierr.CodeRateLimited, method+" rate limited", err)
		case rpcErr.ErrorCode() == 3 || strings.Contains(msg, "execution reverted"):
			return clierr.Wrap(clierr.CodeNotFound, method+" reverted", err)
		case rpcErr.ErrorCode() == -32601 || rpcErr.ErrorCode() == -32602:
			return clierr.Wrap(clierr.CodeUnsupported, method+" not supported by node", err)
		}
	}

	if errors.Is(err, context.Canceled) {
		return clierr.Wrap(clierr.CodeUnavailable, method+" cancelled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return clierr.Wrap(clierr.CodeUnavailable, method+" timed out", err)
	}
	return clierr.Wrap(clierr.CodeUnavailable, method+" failed", err)
}

func pushSelectors(signatures []string) [][]byte {
	out := make([][]byte, 0, len(signatures))
	for _, sig := range signatures {
		sel := crypto.Keccak256([]byte(sig))[:4]
		out = append(out, append([]byte{opPush4}, sel...))
	}
	return out
}

func containsAny(code []byte, needles [][]byte) bool {
	for _, n := range needles {
		if bytes.Contains(code, n) {
			return true
		}
	}
	return false
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// mustStop reports errors that later calls would hit too, so best-effort
// reads give up instead of skipping fields.
func mustStop(err error) bool {
	return clierr.IsTransient(err) || clierr.CodeOf(err) == clierr.CodeQuotaExhausted
}
